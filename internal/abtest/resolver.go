// Package abtest assigns requests to experiment variants by stable bucket.
package abtest

import (
	"crypto/sha1"
	"encoding/binary"
	"net/url"

	"github.com/conduit-lang/composer/internal/component"
)

// Identity carries the candidate bucket seeds of a request.
type Identity struct {
	UserID     string
	ABCookie   string
	RemoteAddr string
}

// Seed picks the first non-empty of user id, A/B cookie, remote address.
func (id Identity) Seed() string {
	switch {
	case id.UserID != "":
		return id.UserID
	case id.ABCookie != "":
		return id.ABCookie
	}
	return id.RemoteAddr
}

// Bucket maps a seed into [0, 99]: the first 16 bits of its SHA-1, modulo 100.
func Bucket(seed string) int {
	sum := sha1.Sum([]byte(seed))
	return int(binary.BigEndian.Uint16(sum[:2])) % 100
}

// BucketFor buckets an identity for one experiment. Experiments hash
// independently so one request does not land in the same bucket everywhere.
func BucketFor(experimentID string, id Identity) int {
	return Bucket(experimentID + ":" + id.Seed())
}

// Choice is a resolved variant.
type Choice struct {
	Key    string
	Alias  string
	Bucket int
}

// Resolve picks the variant for a request. B wins when it exists and the
// bucket falls under the rollout; otherwise A, otherwise the first declared
// variant. An empty variant map yields ("A", "").
func Resolve(experimentID string, variants component.Variants, rollout int, id Identity) Choice {
	if len(variants) == 0 {
		return Choice{Key: "A"}
	}
	bucket := BucketFor(experimentID, id)
	if alias, ok := variants.Get("B"); ok && rollout > 0 && bucket < rollout {
		return Choice{Key: "B", Alias: alias, Bucket: bucket}
	}
	if alias, ok := variants.Get("A"); ok {
		return Choice{Key: "A", Alias: alias, Bucket: bucket}
	}
	first := variants[0]
	return Choice{Key: first.Key, Alias: first.Alias, Bucket: bucket}
}

// QAPreview reports whether the query carries <prefix><experimentID>=1.
func QAPreview(query url.Values, prefix, experimentID string) bool {
	return query.Get(prefix+experimentID) == "1"
}
