package models

import (
	"time"
)

// ISOTimestamp matches the millisecond-precision UTC layout produced by
// JavaScript's Date.toISOString, which existing clients parse.
const ISOTimestamp = "2006-01-02T15:04:05.000Z"

// MaxExpiresAt is 9999-12-31T23:59:59.999Z, the last instant ISOTimestamp
// can render with a four-digit year.
const MaxExpiresAt int64 = 253402300799999

// MaxViews keeps view counts exact as IEEE-754 doubles, which is how
// JavaScript clients and Redis scripts see them.
const MaxViews int64 = 1<<53 - 1

// Paste is the stored record. ExpiresAt is milliseconds since the epoch;
// a nil ExpiresAt never expires and a nil RemainingViews is unlimited.
type Paste struct {
	Content        string `json:"content" bson:"content"`
	ExpiresAt      *int64 `json:"expires_at" bson:"expires_at"`
	RemainingViews *int64 `json:"remaining_views" bson:"remaining_views"`
}

// IsExpiredAt reports whether the time limit has passed at now.
// The boundary instant itself is still valid.
func (p *Paste) IsExpiredAt(now time.Time) bool {
	if p.ExpiresAt == nil {
		return false
	}
	return now.UnixMilli() > *p.ExpiresAt
}

// IsExhausted reports whether the view budget is used up.
func (p *Paste) IsExhausted() bool {
	return p.RemainingViews != nil && *p.RemainingViews <= 0
}

// IsAvailableAt reports whether the paste may be served at now
func (p *Paste) IsAvailableAt(now time.Time) bool {
	return !p.IsExpiredAt(now) && !p.IsExhausted()
}

// Expiry returns ExpiresAt as a time, or nil when the paste has no time limit.
func (p *Paste) Expiry() *time.Time {
	if p.ExpiresAt == nil {
		return nil
	}
	t := time.UnixMilli(*p.ExpiresAt).UTC()
	return &t
}

// FormatExpiry renders ExpiresAt as an ISO-8601 string, or nil when unset.
func (p *Paste) FormatExpiry() *string {
	t := p.Expiry()
	if t == nil {
		return nil
	}
	s := t.Format(ISOTimestamp)
	return &s
}

// Clone returns a deep copy so callers can mutate the counters safely.
func (p *Paste) Clone() *Paste {
	if p == nil {
		return nil
	}
	out := &Paste{Content: p.Content}
	if p.ExpiresAt != nil {
		v := *p.ExpiresAt
		out.ExpiresAt = &v
	}
	if p.RemainingViews != nil {
		v := *p.RemainingViews
		out.RemainingViews = &v
	}
	return out
}

// Int64 returns a pointer to v
func Int64(v int64) *int64 {
	return &v
}
