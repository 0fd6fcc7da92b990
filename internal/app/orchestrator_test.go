package app

import (
	"context"
	"encoding/base64"
	"errors"
	"math"
	"reflect"
	"sync"
	"testing"
	"time"

	"calorielog/internal/domain"
)

type mockAnalyzer struct {
	analyzeFn func(ctx context.Context, image []byte) *domain.RawAnalysis
}

func (m *mockAnalyzer) Analyze(ctx context.Context, image []byte) *domain.RawAnalysis {
	if m.analyzeFn != nil {
		return m.analyzeFn(ctx, image)
	}
	return &domain.RawAnalysis{}
}

type notice struct{ title, message string }

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notice
}

func (r *recordingNotifier) Notify(_ context.Context, title, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, notice{title, message})
}

func (r *recordingNotifier) all() []notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notice(nil), r.notices...)
}

type mockImageStore struct {
	putFn func(ctx context.Context, data []byte, contentType string) (string, error)
}

func (m *mockImageStore) PutImage(ctx context.Context, data []byte, contentType string) (string, error) {
	return m.putFn(ctx, data, contentType)
}

func ptr[T any](v T) *T { return &v }

var fixedNow = time.Date(2026, 10, 19, 8, 15, 0, 0, time.UTC)

func staticSource(c *Capture, err error) ImageSource {
	return ImageSourceFunc(func(context.Context) (*Capture, error) { return c, err })
}

func photo(uri string) *Capture {
	return &Capture{URI: uri, Base64: base64.StdEncoding.EncodeToString([]byte("jpeg")), ContentType: "image/jpeg"}
}

func TestNormalizeAnalysis_Defaults(t *testing.T) {
	raw := &domain.RawAnalysis{Items: []domain.RawFoodItem{
		{},
		{Name: ptr(""), Calories: ptr(-10.0)},
		{Name: ptr("Soup"), Calories: ptr(math.Inf(1)), Protein: ptr(-1.0), Carbs: ptr(12.0), Quantity: ptr(0.0), Unit: ptr("bowl")},
	}}
	a := NormalizeAnalysis(raw, fixedNow, "file:///x.jpg")

	want := []domain.FoodItem{
		{Name: UnknownFood},
		{Name: UnknownFood},
		{Name: "Soup", Carbs: ptr(12.0), Unit: "bowl"},
	}
	if !reflect.DeepEqual(a.Items, want) {
		t.Fatalf("items:\n got %+v\nwant %+v", a.Items, want)
	}
	if a.TotalCalories != 0 {
		t.Errorf("expected total 0, got %v", a.TotalCalories)
	}
	if a.Date != "2026-10-19T08:15:00.000Z" || a.ImageURI != "file:///x.jpg" {
		t.Errorf("unexpected date/uri %q %q", a.Date, a.ImageURI)
	}
}

func TestNormalizeAnalysis_Total(t *testing.T) {
	items := []domain.RawFoodItem{{Name: ptr("A"), Calories: ptr(100.0)}, {Name: ptr("B"), Calories: ptr(50.0)}}
	tests := []struct {
		name  string
		total *float64
		want  float64
	}{
		{"declared total wins", ptr(999.0), 999},
		{"missing total sums items", nil, 150},
		{"zero total sums items", ptr(0.0), 150},
		{"negative total sums items", ptr(-3.0), 150},
		{"NaN total sums items", ptr(math.NaN()), 150},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := NormalizeAnalysis(&domain.RawAnalysis{Items: items, TotalCalories: tc.total}, fixedNow, "")
			if a.TotalCalories != tc.want {
				t.Errorf("got %v, want %v", a.TotalCalories, tc.want)
			}
		})
	}
}

func TestNormalizeAnalysis_NilAndEmpty(t *testing.T) {
	for _, raw := range []*domain.RawAnalysis{nil, {}} {
		a := NormalizeAnalysis(raw, fixedNow, "")
		if a.Items == nil || len(a.Items) != 0 || a.TotalCalories != 0 {
			t.Errorf("unexpected analysis %+v", a)
		}
	}
}

func TestNormalizeAnalysis_CopiesPointers(t *testing.T) {
	p := 10.0
	a := NormalizeAnalysis(&domain.RawAnalysis{Items: []domain.RawFoodItem{{Protein: &p}}}, fixedNow, "")
	p = 99
	if *a.Items[0].Protein != 10 {
		t.Errorf("normalized item aliases raw input")
	}
}

func TestOrchestrator_Run_Success(t *testing.T) {
	var gotImage []byte
	analyzer := &mockAnalyzer{analyzeFn: func(_ context.Context, image []byte) *domain.RawAnalysis {
		gotImage = image
		return &domain.RawAnalysis{Items: []domain.RawFoodItem{{Name: ptr("Pizza"), Calories: ptr(285.0)}}}
	}}
	notifier := &recordingNotifier{}
	o := NewOrchestrator(analyzer, notifier, WithClock(func() time.Time { return fixedNow }))

	if s := o.Status(); s.State != StateIdle {
		t.Fatalf("expected idle, got %s", s.State)
	}

	var delivered []domain.FoodAnalysis
	a, err := o.Run(context.Background(), staticSource(photo("file:///pizza.jpg"), nil), func(a domain.FoodAnalysis) {
		if o.Status().State != StateReady {
			t.Error("callback should run after Ready")
		}
		delivered = append(delivered, a)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(gotImage) != "jpeg" {
		t.Errorf("analyzer got %q", gotImage)
	}
	if a.TotalCalories != 285 || a.ImageURI != "file:///pizza.jpg" || a.Date != "2026-10-19T08:15:00.000Z" {
		t.Errorf("unexpected analysis %+v", a)
	}
	if len(delivered) != 1 || !reflect.DeepEqual(delivered[0], *a) {
		t.Errorf("callback got %+v", delivered)
	}
	s := o.Status()
	if s.State != StateReady || s.ImageURI != "file:///pizza.jpg" || s.Analysis == nil {
		t.Errorf("unexpected status %+v", s)
	}
	if n := notifier.all(); len(n) != 0 {
		t.Errorf("unexpected notices %v", n)
	}
}

func TestOrchestrator_Run_DataURI(t *testing.T) {
	o := NewOrchestrator(&mockAnalyzer{}, &recordingNotifier{})
	c := &Capture{URI: "u", Base64: "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte{1, 2})}
	if _, err := o.Run(context.Background(), staticSource(c, nil), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOrchestrator_Run_AcquisitionErrors(t *testing.T) {
	tests := []struct {
		name       string
		capture    *Capture
		err        error
		wantErr    error
		wantNotice string
	}{
		{"permission denied", nil, ErrPermissionDenied, ErrPermissionDenied, "Permission Required"},
		{"cancelled", nil, ErrCancelled, ErrCancelled, ""},
		{"nil capture", nil, nil, ErrNoImageData, "Error"},
		{"no base64", &Capture{URI: "file:///x.jpg"}, nil, ErrNoImageData, "Error"},
		{"bad base64", &Capture{URI: "file:///x.jpg", Base64: "!!!"}, nil, ErrNoImageData, "Error"},
		{"picker failure", nil, errors.New("camera busy"), nil, "Error"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			called := false
			notifier := &recordingNotifier{}
			o := NewOrchestrator(&mockAnalyzer{analyzeFn: func(context.Context, []byte) *domain.RawAnalysis {
				called = true
				return nil
			}}, notifier)

			a, err := o.Run(context.Background(), staticSource(tc.capture, tc.err), func(domain.FoodAnalysis) {
				t.Error("callback must not run")
			})
			if err == nil || a != nil {
				t.Fatalf("expected error, got %v, %v", a, err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Errorf("expected %v, got %v", tc.wantErr, err)
			}
			if called {
				t.Error("analyzer must not run")
			}
			if s := o.Status(); s.State != StateIdle {
				t.Errorf("expected idle, got %s", s.State)
			}
			n := notifier.all()
			if tc.wantNotice == "" {
				if len(n) != 0 {
					t.Errorf("expected no notice, got %v", n)
				}
			} else if len(n) != 1 || n[0].title != tc.wantNotice {
				t.Errorf("expected %q notice, got %v", tc.wantNotice, n)
			}
		})
	}
}

func TestOrchestrator_Run_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	notifier := &recordingNotifier{}
	o := NewOrchestrator(&mockAnalyzer{analyzeFn: func(context.Context, []byte) *domain.RawAnalysis {
		cancel()
		return &domain.RawAnalysis{}
	}}, notifier)

	_, err := o.Run(ctx, staticSource(photo("u"), nil), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if s := o.Status(); s.State != StateIdle {
		t.Errorf("expected idle, got %s", s.State)
	}
	if n := notifier.all(); len(n) != 1 || n[0].title != "Analysis Error" {
		t.Errorf("expected analysis error notice, got %v", n)
	}
}

func TestOrchestrator_Run_ImageStore(t *testing.T) {
	store := &mockImageStore{putFn: func(_ context.Context, data []byte, ct string) (string, error) {
		if string(data) != "jpeg" || ct != "image/jpeg" {
			t.Errorf("unexpected upload %q %q", data, ct)
		}
		return "https://cdn.example.com/photos/1.jpg", nil
	}}
	o := NewOrchestrator(&mockAnalyzer{}, &recordingNotifier{}, WithImageStore(store))

	a, err := o.Run(context.Background(), staticSource(photo("file:///local.jpg"), nil), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.ImageURI != "https://cdn.example.com/photos/1.jpg" {
		t.Errorf("expected stored uri, got %q", a.ImageURI)
	}
}

func TestOrchestrator_Run_ImageStoreFailureKeepsURI(t *testing.T) {
	store := &mockImageStore{putFn: func(context.Context, []byte, string) (string, error) {
		return "", errors.New("bucket gone")
	}}
	o := NewOrchestrator(&mockAnalyzer{}, &recordingNotifier{}, WithImageStore(store))

	a, err := o.Run(context.Background(), staticSource(photo("file:///local.jpg"), nil), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.ImageURI != "file:///local.jpg" {
		t.Errorf("expected capture uri, got %q", a.ImageURI)
	}
}

func TestOrchestrator_Run_StaleRunIsFenced(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	analyzer := &mockAnalyzer{analyzeFn: func(_ context.Context, image []byte) *domain.RawAnalysis {
		if string(image) == "slow" {
			close(started)
			<-release
			return &domain.RawAnalysis{TotalCalories: ptr(111.0)}
		}
		return &domain.RawAnalysis{TotalCalories: ptr(222.0)}
	}}
	o := NewOrchestrator(analyzer, &recordingNotifier{})

	var mu sync.Mutex
	var delivered []float64
	onComplete := func(a domain.FoodAnalysis) {
		mu.Lock()
		defer mu.Unlock()
		delivered = append(delivered, a.TotalCalories)
	}

	slow := &Capture{URI: "slow", Base64: base64.StdEncoding.EncodeToString([]byte("slow"))}
	done := make(chan *domain.FoodAnalysis)
	go func() {
		a, _ := o.Run(context.Background(), staticSource(slow, nil), onComplete)
		done <- a
	}()
	<-started

	if s := o.Status(); s.State != StateLoading || s.ImageURI != "slow" {
		t.Errorf("expected loading slow, got %+v", s)
	}

	fast, err := o.Run(context.Background(), staticSource(photo("fast"), nil), onComplete)
	if err != nil || fast.TotalCalories != 222 {
		t.Fatalf("fast run: %v, %v", fast, err)
	}

	close(release)
	stale := <-done
	if stale == nil || stale.TotalCalories != 111 {
		t.Fatalf("stale run should still return its own result, got %+v", stale)
	}

	s := o.Status()
	if s.State != StateReady || s.ImageURI != "fast" || s.Analysis.TotalCalories != 222 {
		t.Errorf("stale run overwrote status: %+v", s)
	}
	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(delivered, []float64{222}) {
		t.Errorf("expected only the newest result delivered, got %v", delivered)
	}
}

func TestNotice(t *testing.T) {
	if _, _, ok := Notice(nil); ok {
		t.Error("nil error should not notify")
	}
	if _, _, ok := Notice(ErrCancelled); ok {
		t.Error("cancellation should be silent")
	}
	if title, msg, ok := Notice(ErrNoImageData); !ok || title != "Error" || msg != "Could not get image data" {
		t.Errorf("unexpected notice %q %q %v", title, msg, ok)
	}
}
