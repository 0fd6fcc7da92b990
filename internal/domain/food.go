package domain

import (
	"context"
	"time"
)

// DateLayout is the ISO 8601 layout used for analysis and history dates.
const DateLayout = "2006-01-02T15:04:05.000Z07:00"

// FoodItem is a single recognised food with its nutrition estimate.
type FoodItem struct {
	Name     string   `json:"name"`
	Calories float64  `json:"calories"`
	Protein  *float64 `json:"protein,omitempty"`
	Carbs    *float64 `json:"carbs,omitempty"`
	Fat      *float64 `json:"fat,omitempty"`
	Quantity *float64 `json:"quantity,omitempty"`
	Unit     string   `json:"unit,omitempty"`
}

// FoodAnalysis is the normalized result of analysing one food photo.
type FoodAnalysis struct {
	Items         []FoodItem `json:"items"`
	TotalCalories float64    `json:"totalCalories"`
	Date          string     `json:"date"`
	ImageURI      string     `json:"imageUri,omitempty"`
}

// CalorieHistory is a persisted, identified snapshot of a FoodAnalysis.
type CalorieHistory struct {
	ID            string     `json:"id"`
	Date          string     `json:"date"`
	TotalCalories float64    `json:"totalCalories"`
	Items         []FoodItem `json:"items"`
	ImageURI      string     `json:"imageUri,omitempty"`
}

// NewCalorieHistory builds a history record for a with the given id.
func NewCalorieHistory(id string, a FoodAnalysis) CalorieHistory {
	return CalorieHistory{
		ID:            id,
		Date:          a.Date,
		TotalCalories: a.TotalCalories,
		Items:         a.Items,
		ImageURI:      a.ImageURI,
	}
}

// Analysis converts a stored record back into the display shape by dropping
// its identity.
func (h CalorieHistory) Analysis() FoodAnalysis {
	return FoodAnalysis{
		Items:         h.Items,
		TotalCalories: h.TotalCalories,
		Date:          h.Date,
		ImageURI:      h.ImageURI,
	}
}

// Time parses the record date. Records written by older clients may carry
// any RFC 3339 variant.
func (h CalorieHistory) Time() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, h.Date)
}

// FormatDate renders t the way analysis dates are stored.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// SumCalories adds up the calories of items.
func SumCalories(items []FoodItem) float64 {
	var total float64
	for _, it := range items {
		total += it.Calories
	}
	return total
}

// RawFoodItem is a food item as reported by an analysis provider. Every field
// may be missing.
type RawFoodItem struct {
	Name     *string  `json:"name"`
	Calories *float64 `json:"calories"`
	Protein  *float64 `json:"protein"`
	Carbs    *float64 `json:"carbs"`
	Fat      *float64 `json:"fat"`
	Quantity *float64 `json:"quantity"`
	Unit     *string  `json:"unit"`
}

// RawAnalysis is the loosely-typed output of an analysis provider.
type RawAnalysis struct {
	Items         []RawFoodItem `json:"items"`
	TotalCalories *float64      `json:"totalCalories"`
}

// HistoryRepository is the port for calorie history persistence. Records are
// returned newest first.
type HistoryRepository interface {
	SaveEntry(ctx context.Context, userID int64, entry CalorieHistory) error
	ListHistory(ctx context.Context, userID int64) ([]CalorieHistory, error)
	DeleteEntry(ctx context.Context, userID int64, id string) error
	ClearHistory(ctx context.Context, userID int64) error
}

// ImageStore is the port for durable storage of uploaded food photos.
type ImageStore interface {
	PutImage(ctx context.Context, data []byte, contentType string) (uri string, err error)
}
