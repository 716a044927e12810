package store

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/cockroachdb/pebble"
)

func statKey(name string) []byte { return []byte("stat/" + name) }

// GetStat returns the integer stat value, or 0 when unset.
func GetStat(name string) (int64, error) {
	if db == nil {
		return 0, fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get(statKey(name))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	defer closer.Close()
	n, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt stat %s: %w", name, err)
	}
	return n, nil
}

// SetStat overwrites the stat value.
func SetStat(name string, v int64) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	mu.Lock()
	defer mu.Unlock()
	return db.Set(statKey(name), []byte(strconv.FormatInt(v, 10)), pebble.Sync)
}

// IncrStat adds delta to the stat under the store write lock and returns
// the new value.
func IncrStat(name string, delta int64) (int64, error) {
	if db == nil {
		return 0, fmt.Errorf("pebble not opened; call store.Open first")
	}
	mu.Lock()
	defer mu.Unlock()
	cur, err := GetStat(name)
	if err != nil {
		return 0, err
	}
	next := cur + delta
	if err := db.Set(statKey(name), []byte(strconv.FormatInt(next, 10)), pebble.Sync); err != nil {
		return 0, err
	}
	return next, nil
}
