package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pollchat/pkg/logger"
	"pollchat/pkg/models"

	"github.com/cockroachdb/pebble"
)

// AddBan assigns the next ban ID and persists the row.
func AddBan(b models.Ban) (models.Ban, error) {
	if db == nil {
		return b, fmt.Errorf("pebble not opened; call store.Open first")
	}
	mu.Lock()
	defer mu.Unlock()
	banSeq++
	b.ID = banSeq
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	b.Active = true
	data, err := json.Marshal(b)
	if err != nil {
		return b, fmt.Errorf("failed to marshal ban: %w", err)
	}
	batch := db.NewBatch()
	_ = batch.Set(banKey(b.ID), data, nil)
	_ = batch.Set([]byte("seq/ban"), []byte(fmt.Sprintf("%d", banSeq)), nil)
	if err := batch.Commit(pebble.Sync); err != nil {
		banSeq--
		return b, err
	}
	logger.Info("ban_added", "id", b.ID, "user_id", b.UserID, "ip", b.IPAddress)
	return b, nil
}

// GetBan returns the ban with the given ID.
func GetBan(id uint64) (models.Ban, error) {
	var b models.Ban
	if db == nil {
		return b, fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get(banKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return b, ErrNotFound
		}
		return b, err
	}
	defer closer.Close()
	if err := json.Unmarshal(v, &b); err != nil {
		return b, fmt.Errorf("corrupt ban row %d: %w", id, err)
	}
	return b, nil
}

// ListBans returns all bans in ascending ID order. When activeOnly is set,
// inactive and expired rows are skipped.
func ListBans(activeOnly bool, now time.Time) ([]models.Ban, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	out := []models.Ban{}
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	for iter.SeekGE(banPrefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), banPrefix) {
			break
		}
		var b models.Ban
		if err := json.Unmarshal(iter.Value(), &b); err != nil {
			continue
		}
		if activeOnly && (!b.Active || b.Expired(now)) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// FindBan returns the first active, unexpired ban matching the user ID or
// the IP. The second return reports whether a match was found.
func FindBan(userID uint64, ip string, now time.Time) (models.Ban, bool, error) {
	bans, err := ListBans(true, now)
	if err != nil {
		return models.Ban{}, false, err
	}
	for _, b := range bans {
		if b.Matches(userID, ip, now) {
			return b, true, nil
		}
	}
	return models.Ban{}, false, nil
}

// LiftBan deactivates the ban with the given ID. Lifting an already
// inactive ban is not an error.
func LiftBan(id uint64) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	mu.Lock()
	defer mu.Unlock()
	b, err := GetBan(id)
	if err != nil {
		return err
	}
	if !b.Active {
		return nil
	}
	b.Active = false
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	if err := db.Set(banKey(id), data, pebble.Sync); err != nil {
		return err
	}
	logger.Info("ban_lifted", "id", id)
	return nil
}

// LiftBansFor deactivates every active ban whose subject matches the user
// ID or the IP and returns how many were lifted. Expiry is ignored: an
// expired but not yet swept row is deactivated too.
func LiftBansFor(userID uint64, ip string) (int, error) {
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
	batch := db.NewBatch()
	lifted := 0
	for iter.SeekGE(banPrefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), banPrefix) {
			break
		}
		var b models.Ban
		if err := json.Unmarshal(iter.Value(), &b); err != nil {
			continue
		}
		if !b.Active {
			continue
		}
		userMatch := b.UserID != 0 && userID != 0 && b.UserID == userID
		ipMatch := b.IPAddress != "" && ip != "" && b.IPAddress == ip
		if !userMatch && !ipMatch {
			continue
		}
		b.Active = false
		data, err := json.Marshal(b)
		if err != nil {
			continue
		}
		_ = batch.Set(banKey(b.ID), data, nil)
		lifted++
	}
	if lifted == 0 {
		_ = batch.Close()
		return 0, nil
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, err
	}
	logger.Info("bans_lifted_for_subject", "user_id", userID, "ip", ip, "count", lifted)
	return lifted, nil
}

// SweepExpiredBans deactivates active bans whose deadline has passed and
// returns how many were swept.
func SweepExpiredBans(now time.Time) (int, error) {
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
	batch := db.NewBatch()
	swept := 0
	for iter.SeekGE(banPrefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), banPrefix) {
			break
		}
		var b models.Ban
		if err := json.Unmarshal(iter.Value(), &b); err != nil {
			continue
		}
		if !b.Active || !b.Expired(now) {
			continue
		}
		b.Active = false
		data, err := json.Marshal(b)
		if err != nil {
			continue
		}
		_ = batch.Set(banKey(b.ID), data, nil)
		swept++
	}
	if swept == 0 {
		_ = batch.Close()
		return 0, nil
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, err
	}
	logger.Info("bans_expired", "count", swept)
	return swept, nil
}
