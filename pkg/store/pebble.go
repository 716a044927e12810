package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"pollchat/pkg/logger"
	"pollchat/pkg/models"

	"github.com/cockroachdb/pebble"
)

var (
	db *pebble.DB

	// mu serializes all writes so that sequence assignment, the active
	// counter and capacity trimming observe a consistent view.
	mu          sync.Mutex
	msgSeq      uint64
	banSeq      uint64
	activeCount int64
)

// ErrNotFound is returned when a message or ban ID does not exist.
var ErrNotFound = errors.New("store: not found")

var (
	msgPrefix = []byte("msg/")
	banPrefix = []byte("ban/")
	// msgUpper sorts after every message key.
	msgUpper = []byte("msg/\xff")
)

func msgKey(id uint64) []byte { return []byte(fmt.Sprintf("msg/%020d", id)) }
func banKey(id uint64) []byte { return []byte(fmt.Sprintf("ban/%020d", id)) }

// Open opens (or creates) a Pebble database at the given path and keeps a
// global handle for simple usage in this package. cacheBytes, when
// positive, sizes the block cache.
func Open(path string, cacheBytes int64) error {
	opts := &pebble.Options{}
	if cacheBytes > 0 {
		opts.Cache = pebble.NewCache(cacheBytes)
		defer opts.Cache.Unref()
	}
	logger.Info("opening_pebble_db", "path", path)
	var err error
	db, err = pebble.Open(path, opts)
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	if err := loadState(); err != nil {
		_ = db.Close()
		db = nil
		return err
	}
	logger.Info("pebble_opened", "path", path, "messages", activeCount)
	return nil
}

// loadState recovers the ID sequences and the active message counter from
// the persisted rows.
func loadState() error {
	msgSeq = readSeq("seq/msg")
	banSeq = readSeq("seq/ban")
	activeCount = 0
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.SeekGE(msgPrefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), msgPrefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			logger.Warn("skipping_corrupt_message_row", "key", string(iter.Key()), "error", err)
			continue
		}
		if !m.Deleted {
			activeCount++
		}
		if m.ID > msgSeq {
			msgSeq = m.ID
		}
	}
	return nil
}

func readSeq(key string) uint64 {
	v, closer, err := db.Get([]byte(key))
	if err != nil {
		return 0
	}
	defer closer.Close()
	var n uint64
	_, _ = fmt.Sscanf(string(v), "%d", &n)
	return n
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

// AppendMessage assigns the next ID to m and persists it. The ID and seq
// row are written in one synced batch so IDs never repeat after a restart.
func AppendMessage(m models.Message) (models.Message, error) {
	if db == nil {
		return m, fmt.Errorf("pebble not opened; call store.Open first")
	}
	mu.Lock()
	defer mu.Unlock()
	msgSeq++
	m.ID = msgSeq
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(m)
	if err != nil {
		return m, fmt.Errorf("failed to marshal message: %w", err)
	}
	b := db.NewBatch()
	_ = b.Set(msgKey(m.ID), data, nil)
	_ = b.Set([]byte("seq/msg"), []byte(fmt.Sprintf("%d", msgSeq)), nil)
	if err := b.Commit(pebble.Sync); err != nil {
		msgSeq--
		logger.Error("append_message_failed", "id", m.ID, "error", err)
		return m, err
	}
	activeCount++
	logger.Debug("message_saved", "id", m.ID, "user_id", m.UserID)
	return m, nil
}

// GetMessage returns the message with the given ID, deleted or not.
func GetMessage(id uint64) (models.Message, error) {
	var m models.Message
	if db == nil {
		return m, fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get(msgKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return m, ErrNotFound
		}
		return m, err
	}
	defer closer.Close()
	if err := json.Unmarshal(v, &m); err != nil {
		return m, fmt.Errorf("corrupt message row %d: %w", id, err)
	}
	return m, nil
}

// RangeAfter returns up to limit non-deleted messages with ID > afterID in
// ascending ID order.
func RangeAfter(afterID uint64, limit int) ([]models.Message, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	out := []models.Message{}
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	for iter.SeekGE(msgKey(afterID + 1)); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), msgPrefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		if m.Deleted {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// RangeBefore returns up to limit non-deleted messages with ID < beforeID,
// in ascending ID order (the newest rows older than beforeID).
func RangeBefore(beforeID uint64, limit int) ([]models.Message, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	rev := []models.Message{}
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	for valid := iter.SeekLT(msgKey(beforeID)); valid; valid = iter.Prev() {
		if !bytes.HasPrefix(iter.Key(), msgPrefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		if m.Deleted {
			continue
		}
		rev = append(rev, m)
		if limit > 0 && len(rev) >= limit {
			break
		}
	}
	// collected newest-first; flip to ascending
	for i, j := 0, len(rev)-1; i < j; i, j = i+1, j-1 {
		rev[i], rev[j] = rev[j], rev[i]
	}
	return rev, nil
}

// RangeLatest returns up to limit non-deleted messages in descending ID
// order (newest first).
func RangeLatest(limit int) ([]models.Message, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	out := []models.Message{}
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	for valid := iter.SeekLT(msgUpper); valid; valid = iter.Prev() {
		if !bytes.HasPrefix(iter.Key(), msgPrefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		if m.Deleted {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// SoftDeleteMessage marks the message deleted. Idempotent: deleting an
// already-deleted row is not an error.
func SoftDeleteMessage(id uint64) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	mu.Lock()
	defer mu.Unlock()
	m, err := GetMessage(id)
	if err != nil {
		return err
	}
	if m.Deleted {
		return nil
	}
	m.Deleted = true
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := db.Set(msgKey(id), data, pebble.Sync); err != nil {
		return err
	}
	activeCount--
	logger.Info("message_soft_deleted", "id", id)
	return nil
}

// ActiveCount returns the number of non-deleted messages.
func ActiveCount() int64 {
	mu.Lock()
	defer mu.Unlock()
	return activeCount
}

// TrimToCapacity soft-deletes the oldest active messages until at most max
// remain. It returns the number of rows trimmed. The whole operation runs
// under the store write lock so a concurrent append cannot race the count.
func TrimToCapacity(max int) (int, error) {
	if db == nil {
		return 0, fmt.Errorf("pebble not opened; call store.Open first")
	}
	if max <= 0 {
		return 0, nil
	}
	mu.Lock()
	defer mu.Unlock()
	excess := activeCount - int64(max)
	if excess <= 0 {
		return 0, nil
	}
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	b := db.NewBatch()
	trimmed := 0
	for iter.SeekGE(msgPrefix); iter.Valid() && int64(trimmed) < excess; iter.Next() {
		if !bytes.HasPrefix(iter.Key(), msgPrefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		if m.Deleted {
			continue
		}
		m.Deleted = true
		data, err := json.Marshal(m)
		if err != nil {
			continue
		}
		_ = b.Set(msgKey(m.ID), data, nil)
		trimmed++
	}
	if trimmed == 0 {
		_ = b.Close()
		return 0, nil
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return 0, err
	}
	activeCount -= int64(trimmed)
	logger.Info("messages_trimmed", "count", trimmed, "max", max)
	return trimmed, nil
}

// PurgeDeletedBefore physically removes soft-deleted rows created before
// cutoff and returns the number of rows removed.
func PurgeDeletedBefore(cutoff time.Time) (int, error) {
	if db == nil {
		return 0, fmt.Errorf("pebble not opened; call store.Open first")
	}
	mu.Lock()
	defer mu.Unlock()
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	b := db.NewBatch()
	purged := 0
	for iter.SeekGE(msgPrefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), msgPrefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		if !m.Deleted || !m.CreatedAt.Before(cutoff) {
			continue
		}
		_ = b.Delete(msgKey(m.ID), nil)
		purged++
	}
	if purged == 0 {
		_ = b.Close()
		return 0, nil
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return 0, err
	}
	logger.Info("messages_purged", "count", purged, "cutoff", cutoff)
	return purged, nil
}
