package mode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/khaledhikmat/vs-liveness/pipeline"
	"github.com/khaledhikmat/vs-liveness/service/camera"
	"github.com/khaledhikmat/vs-liveness/service/canvas"
	"github.com/khaledhikmat/vs-liveness/service/comparison"
	"github.com/khaledhikmat/vs-liveness/service/config"
	"github.com/khaledhikmat/vs-liveness/service/data"
	"github.com/khaledhikmat/vs-liveness/service/display"
	"github.com/khaledhikmat/vs-liveness/service/inference"
	"github.com/khaledhikmat/vs-liveness/service/readiness"
	"github.com/khaledhikmat/vs-liveness/service/runtime"
)

func testServices(t *testing.T, mutate func(s *config.Settings)) pipeline.ServicesFactory {
	t.Helper()

	settings := config.NewHardCoded().Settings()
	settings.InferenceInterval = 10 * time.Millisecond
	settings.ImageLibraryLoadTimeout = time.Second
	settings.CameraConstraints.Video.Width = 64
	settings.CameraConstraints.Video.Height = 48
	settings.CameraConstraints.Video.FPS = 50
	if mutate != nil {
		mutate(&settings)
	}
	cfgSvc := config.NewFromSettings(settings)

	doc := display.NewMemory()
	gw := runtime.NewGateway(inference.NewFake(doc).Install(runtime.NewRegistry()))

	return pipeline.ServicesFactory{
		CfgSvc:     cfgSvc,
		DataSvc:    data.NewMemory(),
		DisplaySvc: doc,
		CameraSvc:  camera.New(doc, camera.NewRandom()),
		CanvasSvc:  canvas.New(doc),
		Runtime:    gw,
		Sessions:   runtime.NewSessionCache(),
		Gate:       pipeline.NewImageLibraryGate(gw),
		Store:      comparison.New(),
	}
}

func testApp(t *testing.T, mutate func(s *config.Settings)) (*App, *httptest.Server) {
	t.Helper()

	app, err := NewApp(testServices(t, mutate))
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := newHub()
	go h.run(ctx)
	unsubscribe := app.Svcs.DisplaySvc.Subscribe(h.publish)

	srv := httptest.NewServer(NewRouter(ctx, app, h))
	t.Cleanup(func() {
		srv.Close()
		unsubscribe()
		cancel()
		app.Close()
	})
	return app, srv
}

func documentPNG(t *testing.T) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 60, 80))
	for y := 0; y < 80; y++ {
		for x := 0; x < 60; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 3), B: 90, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func post(t *testing.T, url string) (int, statusResponse) {
	t.Helper()

	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding %s: %v", url, err)
	}
	return resp.StatusCode, body
}

func upload(t *testing.T, url, name string, data []byte) (int, statusResponse) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write(data)
	_ = mw.Close()

	resp, err := http.Post(url, mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body statusResponse
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp.StatusCode, body
}

type healthResponse struct {
	Status            string `json:"status"`
	ImageLibraryReady bool   `json:"imageLibraryReady"`
}

func getHealth(t *testing.T, url string) healthResponse {
	t.Helper()

	resp, err := http.Get(url + "/api/v1/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	return body
}

func TestHealthAndDisplay(t *testing.T) {
	_, srv := testApp(t, nil)

	if health := getHealth(t, srv.URL); health.Status != "ok" || health.ImageLibraryReady {
		t.Errorf("unexpected cold health %+v", health)
	}

	resp, err := http.Get(srv.URL + "/api/v1/display")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var states []display.ElementState
	if err := json.NewDecoder(resp.Body).Decode(&states); err != nil {
		t.Fatal(err)
	}
	found := map[string]bool{}
	for _, s := range states {
		found[s.ID] = true
	}
	for _, id := range []string{"live-status", "document-preview", "compare-button", "capture-button"} {
		if !found[id] {
			t.Errorf("expected element %s in display", id)
		}
	}
}

func TestLivenessStartStop(t *testing.T) {
	app, srv := testApp(t, nil)

	code, body := post(t, srv.URL+"/api/v1/liveness/start")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", code, body.Status)
	}
	if body.State != "running" {
		t.Errorf("expected running, got %q", body.State)
	}
	if !getHealth(t, srv.URL).ImageLibraryReady {
		t.Error("expected image library ready after start")
	}

	deadline := time.After(2 * time.Second)
	for app.Controller.Stats().Cycles == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for a cycle")
		case <-time.After(5 * time.Millisecond):
		}
	}

	resp, err := http.Get(srv.URL + "/api/v1/canvas/live-canvas")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
		t.Errorf("expected png canvas, got %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	code, body = post(t, srv.URL+"/api/v1/liveness/stop")
	if code != http.StatusOK || body.Status != "Liveness demo stopped." || body.State != "idle" {
		t.Errorf("unexpected stop response %d %+v", code, body)
	}
}

func TestCanvasUnknown(t *testing.T) {
	_, srv := testApp(t, nil)

	resp, err := http.Get(srv.URL + "/api/v1/canvas/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestDocumentUploadAndAnalyze(t *testing.T) {
	app, srv := testApp(t, nil)

	code, body := upload(t, srv.URL+"/api/v1/document", "notes.txt", []byte("not an image"))
	if code != http.StatusUnprocessableEntity || body.Status != "Unable to load document preview." {
		t.Errorf("unexpected response %d %+v", code, body)
	}

	code, body = upload(t, srv.URL+"/api/v1/document", "id.png", documentPNG(t))
	if code != http.StatusOK || body.Status != "Document ready. Click Analyze Document." {
		t.Fatalf("unexpected response %d %+v", code, body)
	}

	code, body = post(t, srv.URL+"/api/v1/document/analyze")
	if code != http.StatusOK || body.Status != "Detected 1 face(s) in document." {
		t.Fatalf("unexpected response %d %+v", code, body)
	}
	if app.Svcs.Store.State().DocumentDetection == nil {
		t.Error("expected document detection in store")
	}

	code, body = post(t, srv.URL+"/api/v1/compare")
	if code != http.StatusOK || body.Status != "Capture a live photo to continue." {
		t.Errorf("unexpected compare response %d %+v", code, body)
	}
}

func TestDocumentUploadMissingFile(t *testing.T) {
	_, srv := testApp(t, nil)

	resp, err := http.Post(srv.URL+"/api/v1/document", "text/plain", strings.NewReader("x"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestDisabledFeaturesAreNotRouted(t *testing.T) {
	app, srv := testApp(t, func(s *config.Settings) {
		s.EnableDocumentFlow = false
		s.EnableFaceComparison = false
	})

	if app.Document != nil || app.Compare != nil {
		t.Fatal("expected disabled features to be absent")
	}

	for _, path := range []string{"/api/v1/document/analyze", "/api/v1/compare"} {
		resp, err := http.Post(srv.URL+path, "application/json", nil)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound && resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("%s: expected not routed, got %d", path, resp.StatusCode)
		}
	}
}

func TestEventsStreamDisplayChanges(t *testing.T) {
	app, srv := testApp(t, nil)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	var first map[string]json.RawMessage
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatal(err)
	}
	if _, ok := first["snapshot"]; !ok {
		t.Fatalf("expected snapshot first, got %v", first)
	}

	// Registration is asynchronous; keep updating until the event arrives.
	want := "hello from the test"
	done := make(chan display.Event, 1)
	go func() {
		for {
			var e display.Event
			if err := conn.ReadJSON(&e); err != nil {
				return
			}
			if e.ID == "live-status" && e.Value == want {
				done <- e
				return
			}
		}
	}()

	deadline := time.After(2 * time.Second)
	for {
		app.Svcs.DisplaySvc.SetText("live-status", want)
		select {
		case <-done:
			return
		case <-deadline:
			t.Fatal("timed out waiting for display event")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&runtime.NotReadyError{Missing: []string{runtime.NameMatchFeature}}, http.StatusServiceUnavailable},
		{fmt.Errorf("opening: %w", camera.ErrUnavailable), http.StatusServiceUnavailable},
		{readiness.ErrTimeout, http.StatusGatewayTimeout},
		{fmt.Errorf("%w: #x", display.ErrMissingElement), http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := errorStatus(tt.err); got != tt.want {
			t.Errorf("errorStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
