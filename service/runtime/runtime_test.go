package runtime

import (
	"context"
	"errors"
	"math"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/khaledhikmat/vs-liveness/model"
)

type fakeSession struct {
	closed atomic.Bool
}

func (s *fakeSession) Close() error {
	s.closed.Store(true)
	return nil
}

func completeRegistry() *Registry {
	load := func(context.Context) (Session, error) { return &fakeSession{}, nil }
	return NewRegistry().
		Register(NameLoadDetectionModel, load).
		Register(NameDetectFace, func(context.Context, Session, string) (model.Detection, error) { return model.Detection{}, nil }).
		Register(NameDetectFaceBase64, DetectFaceBase64Func(func(context.Context, Session, string) (model.Detection, error) { return model.Detection{}, nil })).
		Register(NameLoadLivenessModel, LoadModelFunc(load)).
		Register(NamePredictLiveness, func(context.Context, Session, string, []model.BBox) ([]model.LivenessScore, error) { return nil, nil }).
		Register(NameLoadLandmarkModel, load).
		Register(NamePredictLandmarkBase64, func(context.Context, Session, string, []model.BBox) ([]model.Landmarks, error) { return nil, nil }).
		Register(NameLoadFeatureModel, load).
		Register(NameExtractFeatureBase64, func(context.Context, Session, string, []model.Landmarks) ([]model.TensorMap, error) { return nil, nil }).
		Register(NameMatchFeature, CosineSimilarity).
		Register(NameLoadImageLibrary, func(done func(error)) { done(nil) })
}

func TestGatewayResolvesCompleteRegistry(t *testing.T) {
	g := NewGateway(completeRegistry())

	sdk, err := g.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if sdk.MatchFeature == nil || sdk.LoadImageLibrary == nil {
		t.Fatal("expected every capability to be bound")
	}

	again, err := g.Get()
	if err != nil {
		t.Fatalf("second Get failed: %v", err)
	}
	if again != sdk {
		t.Error("expected memoized SDK on the second call")
	}
}

func TestGatewayReportsMissingInOrder(t *testing.T) {
	reg := completeRegistry()
	reg.Register(NameMatchFeature, nil)
	reg.Register(NameDetectFace, nil)
	// wrong signature counts as missing
	reg.Register(NameLoadImageLibrary, "not a function")

	_, err := NewGateway(reg).Get()
	if !errors.Is(err, ErrRuntimeNotReady) {
		t.Fatalf("expected ErrRuntimeNotReady, got %v", err)
	}

	var notReady *NotReadyError
	if !errors.As(err, &notReady) {
		t.Fatalf("expected *NotReadyError, got %T", err)
	}

	want := []string{NameDetectFace, NameMatchFeature, NameLoadImageLibrary}
	if !reflect.DeepEqual(notReady.Missing, want) {
		t.Errorf("missing = %v, want %v", notReady.Missing, want)
	}
}

func TestGatewayNilFuncIsMissing(t *testing.T) {
	reg := completeRegistry()
	reg.Register(NameMatchFeature, MatchFeatureFunc(nil))

	_, err := NewGateway(reg).Get()
	var notReady *NotReadyError
	if !errors.As(err, &notReady) {
		t.Fatalf("expected *NotReadyError, got %v", err)
	}
	if len(notReady.Missing) != 1 || notReady.Missing[0] != NameMatchFeature {
		t.Errorf("unexpected missing list %v", notReady.Missing)
	}
}

func TestGatewayRetriesAfterFailure(t *testing.T) {
	reg := completeRegistry()
	reg.Register(NameLoadFeatureModel, nil)
	g := NewGateway(reg)

	if _, err := g.Get(); err == nil {
		t.Fatal("expected failure while a capability is missing")
	}

	reg.Register(NameLoadFeatureModel, func(context.Context) (Session, error) { return &fakeSession{}, nil })
	if _, err := g.Get(); err != nil {
		t.Fatalf("expected success after registering, got %v", err)
	}
}

func TestGatewayNilSource(t *testing.T) {
	_, err := NewGateway(nil).Get()
	var notReady *NotReadyError
	if !errors.As(err, &notReady) {
		t.Fatalf("expected *NotReadyError, got %v", err)
	}
	if !reflect.DeepEqual(notReady.Missing, RequiredNames) {
		t.Errorf("expected every name missing, got %v", notReady.Missing)
	}
}

func TestSessionCacheSharesInFlightLoad(t *testing.T) {
	cache := NewSessionCache()

	var calls atomic.Int32
	release := make(chan struct{})
	load := func(context.Context) (Session, error) {
		calls.Add(1)
		<-release
		return &fakeSession{}, nil
	}

	const n = 8
	results := make([]Session, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := cache.Get(context.Background(), "detection", load)
			if err != nil {
				t.Errorf("Get failed: %v", err)
			}
			results[i] = s
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected exactly one load, got %d", got)
	}
	for i := 1; i < n; i++ {
		if results[i] != results[0] {
			t.Fatal("expected every caller to receive the same session")
		}
	}
	if !cache.Loaded("detection") {
		t.Error("expected detection to be cached")
	}
}

func TestSessionCacheDoesNotCacheFailures(t *testing.T) {
	cache := NewSessionCache()
	boom := errors.New("boom")

	var calls int
	load := func(context.Context) (Session, error) {
		calls++
		if calls == 1 {
			return nil, boom
		}
		return &fakeSession{}, nil
	}

	if _, err := cache.Get(context.Background(), "liveness", load); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if cache.Loaded("liveness") {
		t.Fatal("failed load must not be cached")
	}
	if _, err := cache.Get(context.Background(), "liveness", load); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 load calls, got %d", calls)
	}
}

func TestSessionCacheRecoversPanickingLoader(t *testing.T) {
	cache := NewSessionCache()
	_, err := cache.Get(context.Background(), "feature", func(context.Context) (Session, error) {
		panic("bad model file")
	})
	if err == nil {
		t.Fatal("expected an error from a panicking loader")
	}
}

func TestSessionCacheClose(t *testing.T) {
	cache := NewSessionCache()
	s := &fakeSession{}
	if _, err := cache.Get(context.Background(), "landmark", func(context.Context) (Session, error) { return s, nil }); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if err := cache.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !s.closed.Load() {
		t.Error("expected the session to be closed")
	}
	if cache.Loaded("landmark") {
		t.Error("expected the cache to be empty after Close")
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b model.FeatureVector
		want float64
	}{
		{"identical", model.FeatureVector{1, 2, 3}, model.FeatureVector{1, 2, 3}, 1},
		{"orthogonal", model.FeatureVector{1, 0}, model.FeatureVector{0, 1}, 0},
		{"opposite", model.FeatureVector{1, 0}, model.FeatureVector{-1, 0}, -1},
		{"length mismatch", model.FeatureVector{1}, model.FeatureVector{1, 2}, 0},
		{"zero vector", model.FeatureVector{0, 0}, model.FeatureVector{1, 1}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("got %f, want %f", got, tt.want)
			}
		})
	}
}
