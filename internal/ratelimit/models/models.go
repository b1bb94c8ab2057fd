package models

import (
	"strings"
	"time"

	id "lifetag/pkg/domain"
)

// Result is the outcome of one sliding-window check.
type Result struct {
	Allowed   bool
	Remaining int
	Limit     int
	ResetAt   time.Time
	// Degraded is set when the primary store failed and the decision came
	// from the in-process fallback.
	Degraded bool
}

// TagKey is the bucket key for per-tag resolution attempts.
func TagKey(tagID id.TagID) string {
	return "rl:tag:" + SanitizeKeySegment(tagID.String())
}

// SanitizeKeySegment escapes the key delimiter so an identifier cannot
// address a neighbouring bucket.
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}
