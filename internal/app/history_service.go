package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"calorielog/internal/domain"
)

// MaxChartDays caps the DailyTotals window.
const MaxChartDays = 366

var (
	// ErrEntryNotFound is returned when a history id is unknown.
	ErrEntryNotFound = errors.New("history entry not found")
	// ErrInvalidAnalysis is returned when an analysis cannot be saved.
	ErrInvalidAnalysis = errors.New("invalid analysis")
)

// HistoryService encapsulates calorie history use cases.
type HistoryService struct {
	repo  domain.HistoryRepository
	newID func() string
	now   func() time.Time
	loc   *time.Location
}

// NewHistoryService creates a HistoryService backed by the given repository.
func NewHistoryService(repo domain.HistoryRepository) *HistoryService {
	return &HistoryService{
		repo:  repo,
		newID: uuid.NewString,
		now:   time.Now,
		loc:   time.Local,
	}
}

// Save validates a and stores it as a new history entry.
func (s *HistoryService) Save(ctx context.Context, userID int64, a domain.FoodAnalysis) (*domain.CalorieHistory, error) {
	if err := validateAnalysis(a); err != nil {
		return nil, err
	}
	if a.Items == nil {
		a.Items = []domain.FoodItem{}
	}
	entry := domain.NewCalorieHistory(s.newID(), a)
	if err := s.repo.SaveEntry(ctx, userID, entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func validateAnalysis(a domain.FoodAnalysis) error {
	if _, err := time.Parse(time.RFC3339Nano, a.Date); err != nil {
		return fmt.Errorf("%w: date %q is not RFC 3339", ErrInvalidAnalysis, a.Date)
	}
	if !validCalories(a.TotalCalories) {
		return fmt.Errorf("%w: totalCalories must be a non-negative number", ErrInvalidAnalysis)
	}
	for i, it := range a.Items {
		if it.Name == "" {
			return fmt.Errorf("%w: item %d has no name", ErrInvalidAnalysis, i)
		}
		if !validCalories(it.Calories) {
			return fmt.Errorf("%w: item %d calories must be a non-negative number", ErrInvalidAnalysis, i)
		}
	}
	return nil
}

func validCalories(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// List returns the user's history, newest first.
func (s *HistoryService) List(ctx context.Context, userID int64) ([]domain.CalorieHistory, error) {
	return s.repo.ListHistory(ctx, userID)
}

// Get returns the display form of one history entry.
func (s *HistoryService) Get(ctx context.Context, userID int64, id string) (*domain.FoodAnalysis, error) {
	items, err := s.repo.ListHistory(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, e := range items {
		if e.ID == id {
			a := e.Analysis()
			return &a, nil
		}
	}
	return nil, ErrEntryNotFound
}

// Delete removes one entry. Unknown ids are ignored.
func (s *HistoryService) Delete(ctx context.Context, userID int64, id string) error {
	return s.repo.DeleteEntry(ctx, userID, id)
}

// Clear removes the user's whole history.
func (s *HistoryService) Clear(ctx context.Context, userID int64) error {
	return s.repo.ClearHistory(ctx, userID)
}

// DayTotal is a single data point returned by DailyTotals.
type DayTotal struct {
	Day           string  `json:"day"`
	TotalCalories float64 `json:"totalCalories"`
	Entries       int     `json:"entries"`
}

// DailyTotals returns per local day calorie sums for the last days days,
// oldest first. Entries whose date does not parse are skipped.
func (s *HistoryService) DailyTotals(ctx context.Context, userID int64, days int) ([]DayTotal, error) {
	if days < 1 {
		days = 1
	}
	if days > MaxChartDays {
		days = MaxChartDays
	}

	items, err := s.repo.ListHistory(ctx, userID)
	if err != nil {
		return nil, err
	}

	byDay := make(map[string]*DayTotal, days)
	today := s.now().In(s.loc)
	points := make([]DayTotal, days)
	for i := range points {
		d := today.AddDate(0, 0, i-(days-1))
		points[i].Day = d.Format(time.DateOnly)
		byDay[points[i].Day] = &points[i]
	}

	for _, e := range items {
		t, err := e.Time()
		if err != nil {
			continue
		}
		if p, ok := byDay[t.In(s.loc).Format(time.DateOnly)]; ok {
			p.TotalCalories += e.TotalCalories
			p.Entries++
		}
	}
	return points, nil
}

// Today returns the current local day in the service's time zone.
func (s *HistoryService) Today() string {
	return s.now().In(s.loc).Format(time.DateOnly)
}
