// Package client is the embeddable poll engine for the chat API: adaptive
// polling, history pagination, send with cooldown, and a deduplicated
// message view.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Request kinds; starting a request supersedes any pending request of the
// same kind.
const (
	reqFetch    = "fetch"
	reqLoadMore = "load_more"
	reqSend     = "send"
)

const (
	defaultPageLimit = 20
	sendCooldown     = 500 * time.Millisecond
	maxRetries       = 3
	retryDelay       = time.Second
	// errorNoticeAfter is how many consecutive failures count as a lost
	// connection.
	errorNoticeAfter = 3
)

var (
	// ErrSendCooldown is returned when Send is called again within the
	// local cooldown window.
	ErrSendCooldown = errors.New("sending too fast")
	// ErrRateLimited is returned when the server denied the post for
	// rate limiting.
	ErrRateLimited = errors.New("rate limited by server")
)

// BannedError is returned when the server refuses the actor entirely.
type BannedError struct {
	Reason    string
	ExpiresAt string
}

func (e *BannedError) Error() string { return "banned from chat" }

// RejectedError carries the server's reason for refusing a message.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string { return e.Reason }

// Events are the engine's callbacks. All are optional and are invoked
// from the engine's goroutine or the caller's, never concurrently with
// themselves.
type Events struct {
	// OnMessages fires with newly appended rows; initial marks the first
	// full page.
	OnMessages func(added []Message, initial bool)
	// OnOlder fires after a history page was prepended.
	OnOlder func(added int)
	// OnTimestamps fires when refreshed rows changed.
	OnTimestamps func(changed int)
	// OnConnection fires on lost/restored transitions.
	OnConnection func(connected bool)
	// OnError fires for poll failures.
	OnError func(err error)
}

// Engine polls the chat API and maintains a View.
type Engine struct {
	base    string
	http    *http.Client
	cfg     PollConfig
	events  Events
	headers map[string]string
	limit   int

	view *View

	mu             sync.Mutex
	pending        map[string]pendingReq
	poll           PollState
	retryCount     int
	lastSend       time.Time
	connectionLost bool
	loadingOlder   bool

	wake chan struct{}
	done chan struct{}
}

type pendingReq struct {
	kind   string
	cancel context.CancelFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithHTTPClient swaps the transport.
func WithHTTPClient(c *http.Client) Option { return func(e *Engine) { e.http = c } }

// WithEvents sets the callbacks.
func WithEvents(ev Events) Option { return func(e *Engine) { e.events = ev } }

// WithPollConfig overrides the adaptive interval bounds.
func WithPollConfig(cfg PollConfig) Option { return func(e *Engine) { e.cfg = cfg } }

// WithPageLimit sets the page size for initial and history loads.
func WithPageLimit(n int) Option { return func(e *Engine) { e.limit = n } }

// WithHeader adds a header to every request, e.g. the signed identity
// headers or an API key.
func WithHeader(key, value string) Option {
	return func(e *Engine) { e.headers[key] = value }
}

// New builds an engine for the chat API at baseURL (e.g.
// "https://example.com"). Call Start to begin polling.
func New(baseURL string, opts ...Option) *Engine {
	now := time.Now()
	e := &Engine{
		base:    strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		cfg:     DefaultPollConfig(),
		headers: map[string]string{},
		limit:   defaultPageLimit,
		view:    NewView(),
		pending: map[string]pendingReq{},
		poll: PollState{
			WindowFocused: true,
			Online:        true,
			LastActivity:  now,
			LastMessage:   now,
		},
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// View returns the engine's message view.
func (e *Engine) View() *View { return e.view }

// Start loads the initial page and begins the poll loop. It returns after
// the initial load attempt; polling continues until ctx is canceled.
func (e *Engine) Start(ctx context.Context) error {
	err := e.loadInitial(ctx)
	go e.run(ctx)
	return err
}

// Done is closed when the poll loop exits.
func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)
	for {
		timer := time.NewTimer(e.nextWait())
		select {
		case <-ctx.Done():
			timer.Stop()
			e.abortAll()
			return
		case <-e.wake:
			timer.Stop()
			e.fetchNew(ctx)
		case <-timer.C:
			e.fetchNew(ctx)
		}
	}
}

func (e *Engine) nextWait() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.retryCount > 0 && e.poll.ConsecutiveErrors > 0 {
		d := retryDelay
		for i := 1; i < e.retryCount; i++ {
			d *= 2
		}
		if d > e.cfg.normalized().MaxInterval {
			d = e.cfg.normalized().MaxInterval
		}
		return d
	}
	return NextInterval(e.cfg, e.poll, time.Now())
}

// Poke schedules an immediate poll.
func (e *Engine) Poke() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// beginRequest registers a cancellable request, superseding any pending
// request of the same kind.
func (e *Engine) beginRequest(ctx context.Context, kind string) (context.Context, func()) {
	rctx, cancel := context.WithCancel(ctx)
	id := uuid.NewString()
	e.mu.Lock()
	for rid, p := range e.pending {
		if p.kind == kind {
			p.cancel()
			delete(e.pending, rid)
		}
	}
	e.pending[id] = pendingReq{kind: kind, cancel: cancel}
	e.mu.Unlock()
	return rctx, func() {
		cancel()
		e.mu.Lock()
		delete(e.pending, id)
		e.mu.Unlock()
	}
}

func (e *Engine) abortAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, p := range e.pending {
		p.cancel()
		delete(e.pending, id)
	}
}

type listResponse struct {
	Success  bool      `json:"success"`
	Messages []Message `json:"messages"`
	Count    int       `json:"count"`
	HasMore  bool      `json:"has_more"`
	Updated  []Message `json:"updated_messages"`
}

func (e *Engine) getList(ctx context.Context, kind, query string) (*listResponse, error) {
	rctx, finish := e.beginRequest(ctx, kind)
	defer finish()
	req, err := http.NewRequestWithContext(rctx, http.MethodGet, e.base+"/v1/messages?"+query, nil)
	if err != nil {
		return nil, err
	}
	e.applyHeaders(req)
	resp, err := e.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("list failed: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out listResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (e *Engine) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	for k, v := range e.headers {
		req.Header.Set(k, v)
	}
}

// loadInitial fetches the newest page. The server returns it newest-first;
// the view stores ascending.
func (e *Engine) loadInitial(ctx context.Context) error {
	resp, err := e.getList(ctx, reqFetch, fmt.Sprintf("limit=%d", e.limit))
	if err != nil {
		e.noteError(err)
		return err
	}
	e.noteSuccess()
	asc := make([]Message, len(resp.Messages))
	for i, m := range resp.Messages {
		asc[len(resp.Messages)-1-i] = m
	}
	added := e.view.Append(asc)
	e.view.setHasMore(resp.HasMore)
	if e.events.OnMessages != nil {
		e.events.OnMessages(added, true)
	}
	return nil
}

// fetchNew polls for rows after the view's cursor.
func (e *Engine) fetchNew(ctx context.Context) {
	resp, err := e.getList(ctx, reqFetch, fmt.Sprintf("after_id=%d&limit=%d", e.view.LastID(), e.limit))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		e.noteError(err)
		if e.events.OnError != nil {
			e.events.OnError(err)
		}
		return
	}
	e.noteSuccess()

	if len(resp.Updated) > 0 {
		if changed := e.view.RefreshTimestamps(resp.Updated); changed > 0 && e.events.OnTimestamps != nil {
			e.events.OnTimestamps(changed)
		}
	}
	if len(resp.Messages) > 0 {
		added := e.view.Append(resp.Messages)
		e.mu.Lock()
		e.poll.ConsecutiveEmpty = 0
		e.poll.LastMessage = time.Now()
		e.mu.Unlock()
		if len(added) > 0 && e.events.OnMessages != nil {
			e.events.OnMessages(added, false)
		}
		return
	}
	e.mu.Lock()
	e.poll.ConsecutiveEmpty++
	e.mu.Unlock()
}

// LoadOlder fetches one history page before the oldest cached row and
// prepends it. It returns how many rows were added.
func (e *Engine) LoadOlder(ctx context.Context) (int, error) {
	e.mu.Lock()
	if e.loadingOlder || !e.view.HasMore() || e.view.FirstID() == 0 {
		e.mu.Unlock()
		return 0, nil
	}
	e.loadingOlder = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.loadingOlder = false
		e.mu.Unlock()
	}()

	resp, err := e.getList(ctx, reqLoadMore, fmt.Sprintf("before_id=%d&limit=%d", e.view.FirstID(), e.limit))
	if err != nil {
		return 0, err
	}
	added := e.view.Prepend(resp.Messages)
	e.view.setHasMore(resp.HasMore)
	if added > 0 && e.events.OnOlder != nil {
		e.events.OnOlder(added)
	}
	return added, nil
}

type sendResponse struct {
	Success   bool    `json:"success"`
	Message   Message `json:"message"`
	Error     string  `json:"error"`
	Reason    string  `json:"reason"`
	ExpiresAt string  `json:"expires_at"`
	MaxLength int     `json:"max_length"`
}

// Send posts a message. Guests pass displayName; signed identities leave
// it empty. A local cooldown rejects rapid double-sends before any
// request is made.
func (e *Engine) Send(ctx context.Context, text, displayName string) (Message, error) {
	var zero Message
	e.mu.Lock()
	if since := time.Since(e.lastSend); since < sendCooldown {
		e.mu.Unlock()
		return zero, ErrSendCooldown
	}
	e.lastSend = time.Now()
	e.mu.Unlock()

	payload, err := json.Marshal(map[string]string{
		"message":      text,
		"display_name": displayName,
	})
	if err != nil {
		return zero, err
	}
	rctx, finish := e.beginRequest(ctx, reqSend)
	defer finish()
	req, err := http.NewRequestWithContext(rctx, http.MethodPost, e.base+"/v1/send", bytes.NewReader(payload))
	if err != nil {
		return zero, err
	}
	e.applyHeaders(req)
	resp, err := e.http.Do(req)
	if err != nil {
		return zero, err
	}
	defer resp.Body.Close()

	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && resp.StatusCode == http.StatusOK {
		return zero, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		e.view.Append([]Message{out.Message})
		e.mu.Lock()
		e.poll.LastMessage = time.Now()
		e.poll.LastActivity = time.Now()
		e.mu.Unlock()
		e.Poke()
		return out.Message, nil
	case http.StatusTooManyRequests:
		return zero, ErrRateLimited
	case http.StatusForbidden:
		return zero, &BannedError{Reason: out.Reason, ExpiresAt: out.ExpiresAt}
	default:
		reason := out.Error
		if reason == "" {
			reason = fmt.Sprintf("send failed: http %d", resp.StatusCode)
		}
		return zero, &RejectedError{Reason: reason}
	}
}

func (e *Engine) noteSuccess() {
	e.mu.Lock()
	restored := e.connectionLost
	e.connectionLost = false
	e.poll.ConsecutiveErrors = 0
	e.retryCount = 0
	e.mu.Unlock()
	if restored && e.events.OnConnection != nil {
		e.events.OnConnection(true)
	}
}

func (e *Engine) noteError(err error) {
	e.mu.Lock()
	e.poll.ConsecutiveErrors++
	e.poll.ConsecutiveEmpty++
	if e.retryCount < maxRetries {
		e.retryCount++
	}
	lost := !e.connectionLost && e.poll.ConsecutiveErrors >= errorNoticeAfter
	if lost {
		e.connectionLost = true
	}
	e.mu.Unlock()
	if lost && e.events.OnConnection != nil {
		e.events.OnConnection(false)
	}
}

// SetWindowFocused records focus changes. Regaining focus counts as
// activity, forgives one error and polls immediately.
func (e *Engine) SetWindowFocused(focused bool) {
	e.mu.Lock()
	e.poll.WindowFocused = focused
	if focused {
		e.poll.LastActivity = time.Now()
		e.poll.ConsecutiveEmpty = 0
		if e.poll.ConsecutiveErrors > 0 {
			e.poll.ConsecutiveErrors--
		}
	}
	e.mu.Unlock()
	if focused {
		e.Poke()
	}
}

// SetInputFocused records composer focus, which pins polling to the
// minimum interval.
func (e *Engine) SetInputFocused(focused bool) {
	e.mu.Lock()
	e.poll.InputFocused = focused
	if focused {
		e.poll.LastActivity = time.Now()
	}
	e.mu.Unlock()
}

// RecordActivity marks user interaction (mouse, scroll, keys).
func (e *Engine) RecordActivity() {
	e.mu.Lock()
	e.poll.LastActivity = time.Now()
	e.mu.Unlock()
}

// SetOnline records network availability; coming back online forgives one
// error and polls immediately.
func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	e.poll.Online = online
	if online {
		e.poll.ConsecutiveEmpty = 0
		if e.poll.ConsecutiveErrors > 0 {
			e.poll.ConsecutiveErrors--
		}
	}
	e.mu.Unlock()
	if online {
		e.Poke()
	}
}
