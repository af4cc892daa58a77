package impression

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/composer/internal/segments"
)

// Enqueuer accepts events for delivery.
type Enqueuer interface {
	Enqueue(ev Event) bool
}

// Seen deduplicates impressions within one request by (slot, alias, variant).
type Seen struct {
	mu   sync.Mutex
	keys map[[3]string]bool
}

// NewSeen creates an empty per-request set.
func NewSeen() *Seen {
	return &Seen{keys: make(map[[3]string]bool)}
}

// First reports whether (slot, alias, variant) had not been seen before and marks it.
func (s *Seen) First(slot, alias, variant string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := [3]string{slot, alias, variant}
	if s.keys[k] {
		return false
	}
	s.keys[k] = true
	return true
}

// Recorder wraps consented fragments and enqueues their view events.
type Recorder struct {
	queue   Enqueuer
	enabled bool
	now     func() time.Time
	logger  *zap.Logger
}

// NewRecorder creates a recorder. A nil queue or enabled=false still wraps
// fragments but records nothing.
func NewRecorder(queue Enqueuer, enabled bool, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{queue: queue, enabled: enabled, now: time.Now, logger: logger.Named("impression")}
}

// Instrument wraps fragment and records one view per (slot, alias, variant)
// per request. Without consent the fragment is returned unchanged.
func (r *Recorder) Instrument(ctx context.Context, fragment string, slot Slot, req *segments.Request, seen *Seen, keyPrefix string) string {
	if req == nil || !req.Segments.Consented() {
		return fragment
	}
	wrapped := Wrap(fragment, slot, req.RequestID, keyPrefix)
	if !r.enabled || r.queue == nil || ctx.Err() != nil {
		return wrapped
	}
	if seen != nil && !seen.First(slot.SlotID, slot.Alias, slot.Variant) {
		return wrapped
	}
	if !r.queue.Enqueue(NewEvent(slot, req, r.now())) {
		r.logger.Warn("impression dropped",
			zap.String("page_id", slot.PageID),
			zap.String("slot_id", slot.SlotID),
			zap.String("request_id", req.RequestID))
	}
	return wrapped
}
