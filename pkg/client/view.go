package client

import "sync"

// Message is the wire row as the server serves it.
type Message struct {
	ID               uint64 `json:"id"`
	UserID           uint64 `json:"user_id"`
	DisplayName      string `json:"display_name"`
	DisplayNameHTML  string `json:"display_name_html"`
	Message          string `json:"message"`
	CreatedAt        string `json:"created_at"`
	CreatedAtHuman   string `json:"created_at_human"`
	CreatedAtISO     string `json:"created_at_iso"`
	CreatedTimestamp int64  `json:"created_timestamp"`
	AvatarURL        string `json:"avatar_url"`
	ProfileURL       string `json:"profile_url"`
	UserType         string `json:"user_type"`
	IsCurrentUser    bool   `json:"is_current_user"`
}

// View is the deduplicated, ordered message window the UI renders from.
type View struct {
	mu    sync.Mutex
	byID  map[uint64]Message
	order []uint64

	firstID uint64
	lastID  uint64
	hasMore bool
}

// NewView returns an empty view. HasMore starts true so the first
// backward page is attempted.
func NewView() *View {
	return &View{byID: map[uint64]Message{}, hasMore: true}
}

// Append adds newer rows to the tail, skipping IDs already present, and
// returns the genuinely new rows in order.
func (v *View) Append(msgs []Message) []Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	var added []Message
	for _, m := range msgs {
		if _, ok := v.byID[m.ID]; ok {
			continue
		}
		v.byID[m.ID] = m
		v.order = append(v.order, m.ID)
		if m.ID > v.lastID {
			v.lastID = m.ID
		}
		if v.firstID == 0 || m.ID < v.firstID {
			v.firstID = m.ID
		}
		added = append(added, m)
	}
	return added
}

// Prepend inserts an older history page (ascending rows) before the
// current window and returns how many rows were new.
func (v *View) Prepend(msgs []Message) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	var fresh []uint64
	for _, m := range msgs {
		if _, ok := v.byID[m.ID]; ok {
			continue
		}
		v.byID[m.ID] = m
		fresh = append(fresh, m.ID)
		if v.firstID == 0 || m.ID < v.firstID {
			v.firstID = m.ID
		}
		if m.ID > v.lastID {
			v.lastID = m.ID
		}
	}
	if len(fresh) > 0 {
		v.order = append(fresh, v.order...)
	}
	return len(fresh)
}

// RefreshTimestamps overwrites cached rows with server-refreshed copies
// and returns how many rows actually changed.
func (v *View) RefreshTimestamps(updated []Message) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	changed := 0
	for _, m := range updated {
		cur, ok := v.byID[m.ID]
		if !ok {
			continue
		}
		if cur.CreatedAtHuman != m.CreatedAtHuman || cur.Message != m.Message {
			v.byID[m.ID] = m
			changed++
		}
	}
	return changed
}

// Messages returns the window in display order.
func (v *View) Messages() []Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Message, 0, len(v.order))
	for _, id := range v.order {
		out = append(out, v.byID[id])
	}
	return out
}

// LastID returns the newest row ID seen, the cursor for forward polls.
func (v *View) LastID() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastID
}

// FirstID returns the oldest row ID seen, the cursor for history pages.
func (v *View) FirstID() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.firstID
}

// HasMore reports whether older history may remain.
func (v *View) HasMore() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.hasMore
}

func (v *View) setHasMore(b bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.hasMore = b
}

// Len returns the number of cached rows.
func (v *View) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.order)
}
