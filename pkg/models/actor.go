package models

// Actor identifies the caller of a chat operation. A zero UserID means a
// guest; guests are identified by IP only.
type Actor struct {
	UserID      uint64
	DisplayName string
	IP          string
	UserAgent   string
	Roles       []string
	Admin       bool
}

// Guest reports whether the actor is not logged in.
func (a Actor) Guest() bool { return a.UserID == 0 }

// HasRole reports whether the actor carries the named role.
func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}
