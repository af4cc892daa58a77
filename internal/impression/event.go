// Package impression records view events for rendered slots and stamps their
// HTML with instrumentation attributes.
package impression

import (
	"html"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/conduit-lang/composer/internal/segments"
)

// EventView is the only event type emitted by the renderer.
const EventView = "view"

// Payload carries the variant context of an impression.
type Payload struct {
	Source  string `json:"source"`
	QA      bool   `json:"qa"`
	Variant string `json:"variant"`
}

// Event is one impression record.
type Event struct {
	EventUUID      uuid.UUID `json:"event_uuid"`
	EventType      string    `json:"event_type"`
	PageID         string    `json:"page_id"`
	SlotID         string    `json:"slot_id"`
	ComponentAlias string    `json:"component_alias"`
	SiteVersion    string    `json:"site_version"`
	Lang           string    `json:"lang"`
	Device         string    `json:"device"`
	RequestID      string    `json:"request_id"`
	Consent        string    `json:"consent"`
	Path           string    `json:"path"`
	Referer        string    `json:"referer"`
	Payload        Payload   `json:"payload"`
	TS             time.Time `json:"ts"`
}

// Slot identifies what was rendered.
type Slot struct {
	PageID     string
	SlotID     string
	Alias      string
	Variant    string
	CacheKey   string
	ContentRev string
	QA         bool
}

// NewEvent builds a view event for slot under req.
func NewEvent(slot Slot, req *segments.Request, now time.Time) Event {
	seg := req.Segments
	return Event{
		EventUUID:      uuid.New(),
		EventType:      EventView,
		PageID:         slot.PageID,
		SlotID:         slot.SlotID,
		ComponentAlias: slot.Alias,
		SiteVersion:    req.Namespace,
		Lang:           seg.Lang,
		Device:         seg.Device,
		RequestID:      req.RequestID,
		Consent:        segments.ConsentYes,
		Path:           req.Path,
		Referer:        req.Referer,
		Payload: Payload{
			Source:  seg.Source,
			QA:      slot.QA || seg.QA,
			Variant: slot.Variant,
		},
		TS: now.UTC(),
	}
}

// Wrap puts fragment inside one root div carrying the slot attributes.
func Wrap(fragment string, slot Slot, requestID string, keyPrefix string) string {
	attrs := [][2]string{
		{"data-page", slot.PageID},
		{"data-slot", slot.SlotID},
		{"data-alias", slot.Alias},
		{"data-variant", slot.Variant},
		{"data-cache-key", keyPrefix},
		{"data-content-rev", slot.ContentRev},
		{"data-request-id", requestID},
	}
	var b strings.Builder
	b.Grow(len(fragment) + 256)
	b.WriteString(`<div class="composer-slot"`)
	for _, a := range attrs {
		b.WriteByte(' ')
		b.WriteString(a[0])
		b.WriteString(`="`)
		b.WriteString(html.EscapeString(a[1]))
		b.WriteByte('"')
	}
	b.WriteByte('>')
	b.WriteString(fragment)
	b.WriteString("</div>")
	return b.String()
}
