package models

import "time"

// Message is a persisted chat message. IDs are assigned by the store and
// strictly increase with insertion order.
type Message struct {
	ID          uint64    `json:"id"`
	UserID      uint64    `json:"user_id,omitempty"`
	DisplayName string    `json:"display_name"`
	Body        string    `json:"message"`
	CreatedAt   time.Time `json:"created_at"`
	// Deleted marks a soft-deleted row. Soft-deleted rows are excluded from
	// every read path and removed physically only by the cleanup scheduler.
	Deleted   bool   `json:"deleted,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// Registered reports whether the message was posted by a logged-in user.
func (m Message) Registered() bool { return m.UserID > 0 }
