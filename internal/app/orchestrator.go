package app

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"calorielog/internal/domain"
	"calorielog/internal/logger"
)

// UnknownFood names items the provider did not name.
const UnknownFood = "Unknown Food"

// Acquisition errors.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrCancelled        = errors.New("cancelled")
	ErrNoImageData      = errors.New("no image data")
)

// Capture is an acquired image: a reference to where it came from and its
// base64-encoded bytes.
type Capture struct {
	URI         string
	Base64      string
	ContentType string
}

// ImageSource acquires one image, typically from a camera or a file picker.
type ImageSource interface {
	Acquire(ctx context.Context) (*Capture, error)
}

// ImageSourceFunc adapts a function to ImageSource.
type ImageSourceFunc func(ctx context.Context) (*Capture, error)

func (f ImageSourceFunc) Acquire(ctx context.Context) (*Capture, error) { return f(ctx) }

// Notifier shows a message to the user.
type Notifier interface {
	Notify(ctx context.Context, title, message string)
}

// Analyzer produces a raw analysis for an image. It never fails.
type Analyzer interface {
	Analyze(ctx context.Context, image []byte) *domain.RawAnalysis
}

// State is the orchestrator's position in Idle -> Loading -> {Ready, Idle}.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
)

// Status is a snapshot of the orchestrator.
type Status struct {
	State    State                `json:"state"`
	ImageURI string               `json:"imageUri,omitempty"`
	Analysis *domain.FoodAnalysis `json:"analysis,omitempty"`
}

// Notice returns the user-facing title and message for an error returned by
// Run. ok is false for errors the user should not be told about.
func Notice(err error) (title, message string, ok bool) {
	switch {
	case err == nil, errors.Is(err, ErrCancelled):
		return "", "", false
	case errors.Is(err, ErrPermissionDenied):
		return "Permission Required", "Please grant photo access to use this feature", true
	case errors.Is(err, ErrNoImageData):
		return "Error", "Could not get image data", true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Analysis Error", "Failed to analyze the food image. Please try again.", true
	default:
		return "Error", "Failed to get image", true
	}
}

// Orchestrator sequences image acquisition, analysis and delivery of the
// normalized result.
type Orchestrator struct {
	analyzer Analyzer
	notifier Notifier
	images   domain.ImageStore
	now      func() time.Time

	mu       sync.Mutex
	gen      uint64
	state    State
	imageURI string
	last     *domain.FoodAnalysis
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithImageStore uploads every acquired image before analysis.
func WithImageStore(s domain.ImageStore) OrchestratorOption {
	return func(o *Orchestrator) { o.images = s }
}

// WithClock overrides the clock used to date analyses.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates an idle Orchestrator. A nil notifier logs notices.
func NewOrchestrator(a Analyzer, n Notifier, opts ...OrchestratorOption) *Orchestrator {
	if n == nil {
		n = LogNotifier{}
	}
	o := &Orchestrator{analyzer: a, notifier: n, now: time.Now, state: StateIdle}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Status returns the current state.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := Status{State: o.state, ImageURI: o.imageURI}
	if o.last != nil {
		a := *o.last
		s.Analysis = &a
	}
	return s
}

// Run acquires an image from src, analyses it and returns the normalized
// result. Only the most recent Run moves the orchestrator to Ready and calls
// onComplete; an older Run that finishes later still returns its result.
func (o *Orchestrator) Run(ctx context.Context, src ImageSource, onComplete func(domain.FoodAnalysis)) (*domain.FoodAnalysis, error) {
	o.mu.Lock()
	o.gen++
	gen := o.gen
	o.mu.Unlock()

	capture, err := src.Acquire(ctx)
	if err != nil {
		return nil, o.fail(ctx, gen, err)
	}
	if capture == nil || capture.Base64 == "" {
		return nil, o.fail(ctx, gen, ErrNoImageData)
	}
	data, err := decodeImage(capture.Base64)
	if err != nil {
		return nil, o.fail(ctx, gen, fmt.Errorf("%w: %v", ErrNoImageData, err))
	}

	uri := capture.URI
	o.transition(gen, func() {
		o.state = StateLoading
		o.imageURI = uri
	})

	if o.images != nil {
		stored, err := o.images.PutImage(ctx, data, capture.ContentType)
		if err != nil {
			logger.Warn("image upload failed, keeping capture uri", zap.String("uri", uri), zap.Error(err))
		} else {
			uri = stored
		}
	}

	raw := o.analyzer.Analyze(ctx, data)
	if err := ctx.Err(); err != nil {
		return nil, o.fail(ctx, gen, err)
	}

	a := NormalizeAnalysis(raw, o.now(), uri)
	current := o.transition(gen, func() {
		o.state = StateReady
		o.imageURI = uri
		o.last = &a
	})
	logger.Debug("analysis complete",
		zap.Int("items", len(a.Items)),
		zap.Float64("totalCalories", a.TotalCalories),
		zap.Bool("current", current),
	)
	if current && onComplete != nil {
		onComplete(a)
	}
	return &a, nil
}

// transition applies fn if gen is still the newest run.
func (o *Orchestrator) transition(gen uint64, fn func()) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen {
		return false
	}
	fn()
	return true
}

func (o *Orchestrator) fail(ctx context.Context, gen uint64, err error) error {
	o.transition(gen, func() { o.state = StateIdle })
	if title, msg, ok := Notice(err); ok {
		o.notifier.Notify(ctx, title, msg)
	}
	return err
}

// decodeImage accepts plain base64 or a data URI.
func decodeImage(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if _, payload, ok := strings.Cut(s, ","); ok {
			s = payload
		}
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty image")
	}
	return data, nil
}

// NormalizeAnalysis shapes a provider result into a FoodAnalysis dated at.
func NormalizeAnalysis(raw *domain.RawAnalysis, at time.Time, imageURI string) domain.FoodAnalysis {
	a := domain.FoodAnalysis{
		Items:    []domain.FoodItem{},
		Date:     domain.FormatDate(at),
		ImageURI: imageURI,
	}
	if raw == nil {
		return a
	}
	for _, r := range raw.Items {
		a.Items = append(a.Items, normalizeItem(r))
	}
	if t := raw.TotalCalories; t != nil && finite(*t) && *t > 0 {
		a.TotalCalories = *t
	} else {
		a.TotalCalories = domain.SumCalories(a.Items)
	}
	return a
}

func normalizeItem(r domain.RawFoodItem) domain.FoodItem {
	it := domain.FoodItem{Name: UnknownFood}
	if r.Name != nil && *r.Name != "" {
		it.Name = *r.Name
	}
	if r.Calories != nil && finite(*r.Calories) && *r.Calories > 0 {
		it.Calories = *r.Calories
	}
	it.Protein = nonNegative(r.Protein)
	it.Carbs = nonNegative(r.Carbs)
	it.Fat = nonNegative(r.Fat)
	if r.Quantity != nil && finite(*r.Quantity) && *r.Quantity > 0 {
		q := *r.Quantity
		it.Quantity = &q
	}
	if r.Unit != nil {
		it.Unit = *r.Unit
	}
	return it
}

func nonNegative(v *float64) *float64 {
	if v == nil || !finite(*v) || *v < 0 {
		return nil
	}
	c := *v
	return &c
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// LogNotifier writes notices to the process log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, title, message string) {
	logger.Info("user notice", zap.String("title", title), zap.String("message", message))
}
