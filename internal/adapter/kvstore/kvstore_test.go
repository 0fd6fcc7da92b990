package kvstore_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"calorielog/internal/adapter/kvstore"
	"calorielog/internal/adapter/memory"
	"calorielog/internal/adapter/storetest"
	"calorielog/internal/domain"
)

func TestStore_MemorySlot(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.HistoryRepository {
		return kvstore.New(memory.NewSlot())
	})
}

// updaterSlot records whether the atomic path was taken.
type updaterSlot struct {
	*memory.Slot
	updates int
}

func (u *updaterSlot) Update(ctx context.Context, key string, fn func(string, bool) (string, error)) error {
	u.updates++
	v, ok, err := u.Get(ctx, key)
	if err != nil {
		return err
	}
	next, err := fn(v, ok)
	if err != nil {
		return err
	}
	return u.Set(ctx, key, next)
}

func TestStore_UsesUpdater(t *testing.T) {
	slot := &updaterSlot{Slot: memory.NewSlot()}
	s := kvstore.New(slot)
	ctx := context.Background()

	_ = s.SaveEntry(ctx, 1, storetest.Entry("a"))
	_ = s.DeleteEntry(ctx, 1, "a")
	if slot.updates != 2 {
		t.Fatalf("expected 2 atomic updates, got %d", slot.updates)
	}
}

func TestStore_SlotLayout(t *testing.T) {
	slot := memory.NewSlot()
	s := kvstore.New(slot)
	ctx := context.Background()

	_ = s.SaveEntry(ctx, 7, storetest.Entry("a"))
	_ = s.SaveEntry(ctx, 7, storetest.Entry("b"))

	v, ok, _ := slot.Get(ctx, "calorie_history:7")
	if !ok {
		t.Fatal("expected history under calorie_history:7")
	}
	var raw []map[string]any
	if err := json.Unmarshal([]byte(v), &raw); err != nil {
		t.Fatalf("slot does not hold a JSON array: %v", err)
	}
	if len(raw) != 2 || raw[0]["id"] != "b" || raw[0]["totalCalories"] != 380.0 {
		t.Fatalf("unexpected slot contents %s", v)
	}

	_ = s.ClearHistory(ctx, 7)
	if _, ok, _ := slot.Get(ctx, "calorie_history:7"); ok {
		t.Fatal("expected clear to remove the slot")
	}
}

func TestStore_ExistingBlob(t *testing.T) {
	slot := memory.NewSlot()
	ctx := context.Background()
	_ = slot.Set(ctx, kvstore.Key(1), `[{"id":"old","date":"2025-01-01T00:00:00.000Z","totalCalories":95,"items":[{"name":"Apple","calories":95}]}]`)

	s := kvstore.New(slot)
	items, err := s.ListHistory(ctx, 1)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(items) != 1 || items[0].Items[0].Protein != nil {
		t.Fatalf("unexpected items %+v", items)
	}

	_ = slot.Set(ctx, kvstore.Key(2), "null")
	if items, err := s.ListHistory(ctx, 2); err != nil || len(items) != 0 || items == nil {
		t.Fatalf("null blob: items=%v err=%v", items, err)
	}
}

func TestStore_CorruptBlob(t *testing.T) {
	slot := memory.NewSlot()
	ctx := context.Background()
	_ = slot.Set(ctx, kvstore.Key(1), "{not json")
	s := kvstore.New(slot)

	if _, err := s.ListHistory(ctx, 1); err == nil {
		t.Fatal("expected decode error from ListHistory")
	}
	if err := s.SaveEntry(ctx, 1, storetest.Entry("a")); err == nil {
		t.Fatal("expected SaveEntry to refuse overwriting a corrupt blob")
	}
	v, _, _ := slot.Get(ctx, kvstore.Key(1))
	if v != "{not json" {
		t.Fatal("corrupt blob was overwritten")
	}
}

type failingSlot struct {
	getErr, setErr, removeErr error
}

func (f *failingSlot) Get(context.Context, string) (string, bool, error) { return "", false, f.getErr }
func (f *failingSlot) Set(context.Context, string, string) error         { return f.setErr }
func (f *failingSlot) Remove(context.Context, string) error              { return f.removeErr }

func TestStore_PropagatesErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("disk full")

	s := kvstore.New(&failingSlot{getErr: boom})
	if err := s.SaveEntry(ctx, 1, storetest.Entry("a")); !errors.Is(err, boom) || !strings.Contains(err.Error(), "read history") {
		t.Fatalf("expected read error, got %v", err)
	}
	if _, err := s.ListHistory(ctx, 1); !errors.Is(err, boom) {
		t.Fatalf("expected read error, got %v", err)
	}

	s = kvstore.New(&failingSlot{setErr: boom})
	if err := s.SaveEntry(ctx, 1, storetest.Entry("a")); !errors.Is(err, boom) || !strings.Contains(err.Error(), "write history") {
		t.Fatalf("expected write error, got %v", err)
	}
	if err := s.DeleteEntry(ctx, 1, "a"); !errors.Is(err, boom) {
		t.Fatalf("expected write error, got %v", err)
	}

	s = kvstore.New(&failingSlot{removeErr: boom})
	if err := s.ClearHistory(ctx, 1); !errors.Is(err, boom) {
		t.Fatalf("expected remove error, got %v", err)
	}
}
