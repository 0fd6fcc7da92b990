package analysis

import (
	"context"
	"errors"
	"math/rand/v2"

	"calorielog/internal/domain"
	"calorielog/internal/nutrition"
)

var errEmptyResult = errors.New("strategy returned no result")

// SampleStrategy picks one to three foods from the nutrition table at random.
// It stands in for real inference and never fails.
type SampleStrategy struct {
	table *nutrition.Table
	intN  func(n int) int
}

// NewSampleStrategy creates a sample generator over table. intN may be nil to
// use the global random source; it must be safe for concurrent use.
func NewSampleStrategy(table *nutrition.Table, intN func(n int) int) *SampleStrategy {
	if intN == nil {
		intN = rand.IntN
	}
	return &SampleStrategy{table: table, intN: intN}
}

func (s *SampleStrategy) Name() string { return "sample" }

// Analyze ignores the image.
func (s *SampleStrategy) Analyze(_ context.Context, _ []byte) (*domain.RawAnalysis, error) {
	return s.Sample(), nil
}

// Sample draws 1-3 entries with replacement and totals their calories.
func (s *SampleStrategy) Sample() *domain.RawAnalysis {
	n := s.intN(3) + 1
	raw := &domain.RawAnalysis{Items: make([]domain.RawFoodItem, 0, n)}
	var total float64
	for range n {
		f := s.table.At(s.intN(s.table.Len()))
		raw.Items = append(raw.Items, rawFromFood(f))
		total += f.Calories
	}
	raw.TotalCalories = &total
	return raw
}

func rawFromFood(f nutrition.Food) domain.RawFoodItem {
	name, cal, protein, carbs, fat := f.Name, f.Calories, f.Protein, f.Carbs, f.Fat
	return domain.RawFoodItem{
		Name:     &name,
		Calories: &cal,
		Protein:  &protein,
		Carbs:    &carbs,
		Fat:      &fat,
	}
}
