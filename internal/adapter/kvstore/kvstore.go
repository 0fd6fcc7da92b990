// Package kvstore keeps each user's calorie history as one JSON array in a
// key-value slot, newest entry first.
package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"calorielog/internal/domain"
)

// KeyPrefix is the slot key prefix; the user id is appended.
const KeyPrefix = "calorie_history"

// Slot is a string key-value store. Get reports ok=false for a missing key.
type Slot interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Updater is implemented by slots that can run a read-modify-write
// atomically across processes. fn receives the current value and returns the
// new one.
type Updater interface {
	Update(ctx context.Context, key string, fn func(value string, ok bool) (string, error)) error
}

// Store implements domain.HistoryRepository on top of a Slot.
type Store struct {
	slot Slot
	mu   sync.Mutex
}

var _ domain.HistoryRepository = (*Store)(nil)

// New creates a Store over slot.
func New(slot Slot) *Store {
	return &Store{slot: slot}
}

// Key returns the slot key for userID.
func Key(userID int64) string {
	return KeyPrefix + ":" + strconv.FormatInt(userID, 10)
}

// SaveEntry prepends entry to the user's history.
func (s *Store) SaveEntry(ctx context.Context, userID int64, entry domain.CalorieHistory) error {
	return s.update(ctx, userID, func(history []domain.CalorieHistory) []domain.CalorieHistory {
		return append([]domain.CalorieHistory{entry}, history...)
	})
}

// ListHistory returns the stored history. A missing or empty slot yields an
// empty slice.
func (s *Store) ListHistory(ctx context.Context, userID int64) ([]domain.CalorieHistory, error) {
	v, ok, err := s.slot.Get(ctx, Key(userID))
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return decode(v, ok)
}

// DeleteEntry removes the first entry with the given id. A missing id is not
// an error.
func (s *Store) DeleteEntry(ctx context.Context, userID int64, id string) error {
	return s.update(ctx, userID, func(history []domain.CalorieHistory) []domain.CalorieHistory {
		for i, e := range history {
			if e.ID == id {
				return append(history[:i], history[i+1:]...)
			}
		}
		return history
	})
}

// ClearHistory removes the user's slot.
func (s *Store) ClearHistory(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.slot.Remove(ctx, Key(userID)); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

func (s *Store) update(ctx context.Context, userID int64, fn func([]domain.CalorieHistory) []domain.CalorieHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	apply := func(v string, ok bool) (string, error) {
		history, err := decode(v, ok)
		if err != nil {
			return "", err
		}
		b, err := json.Marshal(fn(history))
		if err != nil {
			return "", fmt.Errorf("encode history: %w", err)
		}
		return string(b), nil
	}

	key := Key(userID)
	if u, ok := s.slot.(Updater); ok {
		if err := u.Update(ctx, key, apply); err != nil {
			return fmt.Errorf("update history: %w", err)
		}
		return nil
	}

	v, ok, err := s.slot.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	next, err := apply(v, ok)
	if err != nil {
		return err
	}
	if err := s.slot.Set(ctx, key, next); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}

func decode(v string, ok bool) ([]domain.CalorieHistory, error) {
	history := []domain.CalorieHistory{}
	if !ok || v == "" {
		return history, nil
	}
	if err := json.Unmarshal([]byte(v), &history); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	if history == nil {
		history = []domain.CalorieHistory{}
	}
	return history, nil
}
