package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/khaledhikmat/vs-liveness/model"
	"github.com/khaledhikmat/vs-liveness/service/camera"
	"github.com/khaledhikmat/vs-liveness/service/canvas"
	"github.com/khaledhikmat/vs-liveness/service/comparison"
	"github.com/khaledhikmat/vs-liveness/service/config"
	"github.com/khaledhikmat/vs-liveness/service/data"
	"github.com/khaledhikmat/vs-liveness/service/display"
	"github.com/khaledhikmat/vs-liveness/service/runtime"
)

type testSession struct {
	kind string
}

func (s *testSession) Close() error {
	return nil
}

// scriptedRuntime answers every capability from fields the test controls.
type scriptedRuntime struct {
	mu            sync.Mutex
	faces         int
	scores        []float64
	match         float64
	noLandmarks   bool
	emptyFeature  int
	featureCalls  int
	detectErrs    int
	detectPanics  int
	detectCalls   int
	livenessCalls int
	loads         map[string]int
}

func newScriptedRuntime() *scriptedRuntime {
	return &scriptedRuntime{
		faces:  1,
		scores: []float64{0.9},
		match:  0.9,
		loads:  map[string]int{},
	}
}

func (s *scriptedRuntime) set(fn func(s *scriptedRuntime)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *scriptedRuntime) get(fn func(s *scriptedRuntime) int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s)
}

func (s *scriptedRuntime) loader(kind string) runtime.LoadModelFunc {
	return func(context.Context) (runtime.Session, error) {
		s.mu.Lock()
		s.loads[kind]++
		s.mu.Unlock()
		return &testSession{kind: kind}, nil
	}
}

func (s *scriptedRuntime) detection() (model.Detection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.detectCalls++
	if s.detectPanics > 0 {
		s.detectPanics--
		panic("detector crashed")
	}
	if s.detectErrs > 0 {
		s.detectErrs--
		return model.Detection{}, errors.New("detector unavailable")
	}

	det := model.Detection{Size: s.faces}
	for i := 0; i < s.faces; i++ {
		det.BBox = append(det.BBox, model.BBox{X1: 5, Y1: 5, X2: 25, Y2: 25})
	}
	return det, nil
}

func (s *scriptedRuntime) registry() *runtime.Registry {
	return runtime.NewRegistry().
		Register(runtime.NameLoadDetectionModel, s.loader(config.ModelDetection)).
		Register(runtime.NameDetectFace, runtime.DetectFaceFunc(func(context.Context, runtime.Session, string) (model.Detection, error) {
			return s.detection()
		})).
		Register(runtime.NameDetectFaceBase64, runtime.DetectFaceBase64Func(func(context.Context, runtime.Session, string) (model.Detection, error) {
			return s.detection()
		})).
		Register(runtime.NameLoadLivenessModel, s.loader(config.ModelLiveness)).
		Register(runtime.NamePredictLiveness, runtime.PredictLivenessFunc(func(_ context.Context, _ runtime.Session, _ string, boxes []model.BBox) ([]model.LivenessScore, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.livenessCalls++
			out := []model.LivenessScore{}
			for i, b := range boxes {
				if i < len(s.scores) {
					out = append(out, model.LivenessScore{X1: b.X1, Y1: b.Y1, X2: b.X2, Y2: b.Y2, Score: s.scores[i]})
				}
			}
			return out, nil
		})).
		Register(runtime.NameLoadLandmarkModel, s.loader(config.ModelLandmark)).
		Register(runtime.NamePredictLandmarkBase64, runtime.PredictLandmarkBase64Func(func(_ context.Context, _ runtime.Session, _ string, boxes []model.BBox) ([]model.Landmarks, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.noLandmarks {
				return nil, nil
			}
			out := []model.Landmarks{}
			for _, b := range boxes {
				out = append(out, model.Landmarks{BBox: b, Points: make([]model.Point, 5)})
			}
			return out, nil
		})).
		Register(runtime.NameLoadFeatureModel, s.loader(config.ModelFeature)).
		Register(runtime.NameExtractFeatureBase64, runtime.ExtractFeatureBase64Func(func(context.Context, runtime.Session, string, []model.Landmarks) ([]model.TensorMap, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			// emptyFeature picks the 1-based extraction call that yields no tensors
			s.featureCalls++
			if s.featureCalls == s.emptyFeature {
				return []model.TensorMap{}, nil
			}
			return []model.TensorMap{{"output": {Dims: []int{1, 2}, Data: []float32{1, 0}}}}, nil
		})).
		Register(runtime.NameMatchFeature, runtime.MatchFeatureFunc(func(model.FeatureVector, model.FeatureVector) float64 {
			s.mu.Lock()
			defer s.mu.Unlock()
			return s.match
		})).
		Register(runtime.NameLoadImageLibrary, runtime.LoadImageLibraryFunc(func(done func(error)) {
			go done(nil)
		}))
}

type testFeed struct {
	mu     sync.Mutex
	frame  image.Image
	closed int
}

func (f *testFeed) ReadFrame() (image.Image, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frame, f.frame != nil
}

func (f *testFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *testFeed) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type testDevice struct {
	feed *testFeed
}

func (d *testDevice) Open(context.Context, model.CameraConstraints) (camera.Feed, error) {
	return d.feed, nil
}

func testFrame() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	img.SetRGBA(0, 0, color.RGBA{R: 255, A: 255})
	return img
}

type harness struct {
	svcs  ServicesFactory
	doc   display.IService
	feed  *testFeed
	rt    *scriptedRuntime
	store *comparison.Store
	data  data.IService
}

func newHarness(t *testing.T, rt *scriptedRuntime, device camera.Device) *harness {
	t.Helper()

	settings := config.NewHardCoded().Settings()
	settings.InferenceInterval = 5 * time.Millisecond
	settings.ImageLibraryLoadTimeout = time.Second
	cfgSvc := config.NewFromSettings(settings)

	doc := display.NewMemory()
	RegisterElements(doc, cfgSvc)

	feed := &testFeed{frame: testFrame()}
	if device == nil {
		device = &testDevice{feed: feed}
	}

	gw := runtime.NewGateway(rt.registry())
	store := comparison.New()
	dataSvc := data.NewMemory()

	return &harness{
		svcs: ServicesFactory{
			CfgSvc:     cfgSvc,
			DataSvc:    dataSvc,
			DisplaySvc: doc,
			CameraSvc:  camera.New(doc, device),
			CanvasSvc:  canvas.New(doc),
			Runtime:    gw,
			Sessions:   runtime.NewSessionCache(),
			Gate:       NewImageLibraryGate(gw),
			Store:      store,
		},
		doc:   doc,
		feed:  feed,
		rt:    rt,
		store: store,
		data:  dataSvc,
	}
}

func (h *harness) text(t *testing.T, id string) string {
	t.Helper()
	text, err := h.doc.Text(id)
	if err != nil {
		t.Fatalf("Text(%s) failed: %v", id, err)
	}
	return text
}

func (h *harness) waitForText(t *testing.T, id, want string) {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		if h.text(t, id) == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for #%s = %q, last %q", id, want, h.text(t, id))
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func (h *harness) pngDataURL(t *testing.T) string {
	t.Helper()
	dataURL, err := display.EncodeDataURL(testFrame())
	if err != nil {
		t.Fatal(err)
	}
	return dataURL
}
