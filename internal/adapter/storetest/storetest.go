// Package storetest is a conformance suite for domain.HistoryRepository
// implementations.
package storetest

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"calorielog/internal/domain"
)

// Factory returns an empty repository. It is called once per subtest.
type Factory func(t *testing.T) domain.HistoryRepository

func f(v float64) *float64 { return &v }

// Entry builds a populated history record with the given id.
func Entry(id string) domain.CalorieHistory {
	return domain.CalorieHistory{
		ID:            id,
		Date:          "2026-10-19T08:15:00.000Z",
		TotalCalories: 380,
		Items: []domain.FoodItem{
			{Name: "Hamburger", Calories: 354, Protein: f(20), Carbs: f(40), Fat: f(17)},
			{Name: "Pickle", Calories: 26, Quantity: f(2), Unit: "spears"},
		},
		ImageURI: "file:///photos/" + id + ".jpg",
	}
}

// Run exercises every repository contract.
func Run(t *testing.T, newRepo Factory) {
	t.Run("EmptyList", func(t *testing.T) { testEmptyList(t, newRepo(t)) })
	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, newRepo(t)) })
	t.Run("NewestFirst", func(t *testing.T) { testNewestFirst(t, newRepo(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newRepo(t)) })
	t.Run("DeleteMissing", func(t *testing.T) { testDeleteMissing(t, newRepo(t)) })
	t.Run("Clear", func(t *testing.T) { testClear(t, newRepo(t)) })
	t.Run("UserIsolation", func(t *testing.T) { testUserIsolation(t, newRepo(t)) })
	t.Run("ConcurrentSaves", func(t *testing.T) { testConcurrentSaves(t, newRepo(t)) })
}

func list(t *testing.T, repo domain.HistoryRepository, userID int64) []domain.CalorieHistory {
	t.Helper()
	items, err := repo.ListHistory(context.Background(), userID)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if items == nil {
		t.Fatal("ListHistory returned nil; want empty slice")
	}
	return items
}

func save(t *testing.T, repo domain.HistoryRepository, userID int64, e domain.CalorieHistory) {
	t.Helper()
	if err := repo.SaveEntry(context.Background(), userID, e); err != nil {
		t.Fatalf("SaveEntry(%s): %v", e.ID, err)
	}
}

func ids(items []domain.CalorieHistory) []string {
	out := make([]string, len(items))
	for i, e := range items {
		out[i] = e.ID
	}
	return out
}

func testEmptyList(t *testing.T, repo domain.HistoryRepository) {
	if items := list(t, repo, 1); len(items) != 0 {
		t.Fatalf("expected empty history, got %d entries", len(items))
	}
}

func testRoundTrip(t *testing.T, repo domain.HistoryRepository) {
	e := Entry("round-trip")
	save(t, repo, 1, e)
	items := list(t, repo, 1)
	if len(items) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(items))
	}
	if !reflect.DeepEqual(items[0], e) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", items[0], e)
	}

	bare := domain.CalorieHistory{ID: "bare", Date: "2026-10-19T09:00:00.000Z", Items: []domain.FoodItem{}}
	save(t, repo, 1, bare)
	items = list(t, repo, 1)
	if !reflect.DeepEqual(items[0], bare) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", items[0], bare)
	}
}

func testNewestFirst(t *testing.T, repo domain.HistoryRepository) {
	for _, id := range []string{"A", "B", "C"} {
		save(t, repo, 1, Entry(id))
	}
	got := ids(list(t, repo, 1))
	if !reflect.DeepEqual(got, []string{"C", "B", "A"}) {
		t.Fatalf("expected [C B A], got %v", got)
	}
}

func testDelete(t *testing.T, repo domain.HistoryRepository) {
	e1, e2 := Entry("e1"), Entry("e2")
	save(t, repo, 1, e1)
	save(t, repo, 1, e2)
	if err := repo.DeleteEntry(context.Background(), 1, e1.ID); err != nil {
		t.Fatalf("DeleteEntry: %v", err)
	}
	items := list(t, repo, 1)
	if len(items) != 1 || !reflect.DeepEqual(items[0], e2) {
		t.Fatalf("expected only e2, got %v", ids(items))
	}
}

func testDeleteMissing(t *testing.T, repo domain.HistoryRepository) {
	if err := repo.DeleteEntry(context.Background(), 1, "nope"); err != nil {
		t.Fatalf("DeleteEntry on empty history: %v", err)
	}
	save(t, repo, 1, Entry("keep"))
	if err := repo.DeleteEntry(context.Background(), 1, "nope"); err != nil {
		t.Fatalf("DeleteEntry of unknown id: %v", err)
	}
	if got := ids(list(t, repo, 1)); !reflect.DeepEqual(got, []string{"keep"}) {
		t.Fatalf("expected [keep], got %v", got)
	}
}

func testClear(t *testing.T, repo domain.HistoryRepository) {
	ctx := context.Background()
	save(t, repo, 1, Entry("x"))
	save(t, repo, 1, Entry("y"))
	if err := repo.ClearHistory(ctx, 1); err != nil {
		t.Fatalf("ClearHistory: %v", err)
	}
	if items := list(t, repo, 1); len(items) != 0 {
		t.Fatalf("expected empty history after clear, got %v", ids(items))
	}
	if err := repo.ClearHistory(ctx, 1); err != nil {
		t.Fatalf("second ClearHistory: %v", err)
	}
	save(t, repo, 1, Entry("z"))
	if got := ids(list(t, repo, 1)); !reflect.DeepEqual(got, []string{"z"}) {
		t.Fatalf("expected [z] after clear and save, got %v", got)
	}
}

func testUserIsolation(t *testing.T, repo domain.HistoryRepository) {
	ctx := context.Background()
	save(t, repo, 1, Entry("mine"))
	save(t, repo, 2, Entry("theirs"))

	if got := ids(list(t, repo, 1)); !reflect.DeepEqual(got, []string{"mine"}) {
		t.Fatalf("user 1 sees %v", got)
	}
	if err := repo.DeleteEntry(ctx, 2, "mine"); err != nil {
		t.Fatalf("DeleteEntry: %v", err)
	}
	if err := repo.ClearHistory(ctx, 2); err != nil {
		t.Fatalf("ClearHistory: %v", err)
	}
	if got := ids(list(t, repo, 1)); !reflect.DeepEqual(got, []string{"mine"}) {
		t.Fatalf("user 2 operations leaked into user 1: %v", got)
	}
}

func testConcurrentSaves(t *testing.T, repo domain.HistoryRepository) {
	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- repo.SaveEntry(context.Background(), 1, Entry(fmt.Sprintf("c%02d", i)))
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("SaveEntry: %v", err)
		}
	}
	if items := list(t, repo, 1); len(items) != n {
		t.Fatalf("expected %d entries after concurrent saves, got %d", n, len(items))
	}
}
