package models

import "time"

// Ban restricts an actor from posting and reading. A ban matches when either
// the user ID or the IP address equals the actor's; expired or inactive rows
// never match.
type Ban struct {
	ID     uint64 `json:"id"`
	UserID uint64 `json:"user_id,omitempty"`
	// DisplayName snapshots the banned sender's name at ban time for the
	// audit trail; the live name may change or disappear.
	DisplayName string    `json:"display_name,omitempty"`
	IPAddress   string    `json:"ip_address,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	BannedBy    uint64    `json:"banned_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	// ExpiresAt zero means permanent.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	Active    bool      `json:"active"`
}

// Expired reports whether the ban has a deadline in the past.
func (b Ban) Expired(now time.Time) bool {
	return !b.ExpiresAt.IsZero() && !b.ExpiresAt.After(now)
}

// Matches reports whether the ban applies to the given user/IP pair at now.
func (b Ban) Matches(userID uint64, ip string, now time.Time) bool {
	if !b.Active || b.Expired(now) {
		return false
	}
	if b.UserID != 0 && userID != 0 && b.UserID == userID {
		return true
	}
	return b.IPAddress != "" && ip != "" && b.IPAddress == ip
}
