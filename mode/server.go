package mode

import (
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-liveness/model"
	"github.com/khaledhikmat/vs-liveness/pipeline"
	"github.com/khaledhikmat/vs-liveness/service/camera"
	"github.com/khaledhikmat/vs-liveness/service/display"
	"github.com/khaledhikmat/vs-liveness/service/lgr"
	"github.com/khaledhikmat/vs-liveness/service/readiness"
	"github.com/khaledhikmat/vs-liveness/service/runtime"
)

const (
	maxUploadSize = 20 << 20
	statsPeriod   = time.Minute
)

// Server exposes the app over HTTP and pushes display changes to websocket
// clients until canxCtx is cancelled.
func Server(canxCtx context.Context, svcs pipeline.ServicesFactory, _ []string) error {
	app, err := NewApp(svcs)
	if err != nil {
		return err
	}
	defer app.Close()

	h := newHub()
	go h.run(canxCtx)
	unsubscribe := svcs.DisplaySvc.Subscribe(h.publish)
	defer unsubscribe()

	httpServer := &http.Server{
		Addr:         svcs.CfgSvc.GetServerAddress(),
		Handler:      NewRouter(canxCtx, app, h),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		lgr.Logger.Info("server listening", slog.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	for {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info(
				"server mode context cancelled",
			)
			goto resume

		case err := <-serverErr:
			procError(svcs.DataSvc, model.GenError("server_mode",
				err,
				map[string]interface{}{"address": httpServer.Addr},
				"http server failed"))
			return err

		case <-time.After(statsPeriod):
			if app.Controller.State() == model.ControllerRunning {
				procStats(svcs.DataSvc, app.Controller.Stats())
			}
		}
	}

resume:
	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(svcs.CfgSvc.GetModeMaxShutdownTime())*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		lgr.Logger.Error("server shutdown", slog.Any("error", xerrors.New(err.Error())))
		return err
	}
	return nil
}

// NewRouter wires the HTTP surface of app. h may be nil, in which case the
// events endpoint is not served.
func NewRouter(canxCtx context.Context, app *App, h *hub) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)

	hd := &handlers{app: app}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", hd.health)
		r.Get("/display", hd.display)
		r.Get("/stats", hd.stats)
		r.Get("/canvas/{id}", hd.canvas)

		if h != nil {
			r.Get("/events", func(w http.ResponseWriter, req *http.Request) {
				h.serve(canxCtx, app.Svcs.DisplaySvc, w, req)
			})
		}

		r.Post("/liveness/start", hd.livenessStart)
		r.Post("/liveness/stop", hd.livenessStop)
		r.Get("/liveness/stats", hd.livenessStats)
		r.Post("/photo/capture", hd.photoCapture)

		if app.Document != nil {
			r.Post("/document", hd.documentUpload)
			r.Post("/document/analyze", hd.documentAnalyze)
		}
		if app.Compare != nil {
			r.Post("/compare", hd.compare)
		}
	})

	return r
}

type handlers struct {
	app *App
}

type statusResponse struct {
	Status string `json:"status"`
	State  string `json:"state,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// errorStatus maps availability errors to 503 and the readiness timeout to 504.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, runtime.ErrRuntimeNotReady), errors.Is(err, camera.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, readiness.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, display.ErrMissingElement):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (hd *handlers) text(id string) string {
	text, _ := hd.app.Svcs.DisplaySvc.Text(id)
	return text
}

// health also reports whether the image library has loaded, so a monitor
// can tell a cold process from a warm one.
func (hd *handlers) health(w http.ResponseWriter, _ *http.Request) {
	ready := hd.app.Svcs.Gate != nil && hd.app.Svcs.Gate.IsReady()
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "imageLibraryReady": ready})
}

func (hd *handlers) display(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, hd.app.Svcs.DisplaySvc.Snapshot())
}

func (hd *handlers) stats(w http.ResponseWriter, _ *http.Request) {
	dataSvc := hd.app.Svcs.DataSvc

	errs, err := dataSvc.RetrieveErrors()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	controllers, err := dataSvc.RetrieveControllerStats()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	features, err := dataSvc.RetrieveFeatureStats()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"errors":      errs,
		"controllers": controllers,
		"features":    features,
	})
}

func (hd *handlers) canvas(w http.ResponseWriter, r *http.Request) {
	cnv, err := hd.app.Svcs.DisplaySvc.Canvas(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	img := cnv.Image()
	if img.Bounds().Empty() {
		respondError(w, http.StatusNotFound, "canvas is empty")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := png.Encode(w, img); err != nil {
		lgr.Logger.Warn("canvas encode", slog.String("canvas", cnv.ID()), lgr.Err(err))
	}
}

func (hd *handlers) livenessStart(w http.ResponseWriter, r *http.Request) {
	ctrl := hd.app.Controller
	statusID := hd.app.Svcs.CfgSvc.GetLivenessElements().StatusID

	if err := ctrl.StartFromButton(r.Context()); err != nil {
		respondJSON(w, errorStatus(err), statusResponse{Status: hd.text(statusID), State: string(ctrl.State())})
		return
	}
	respondJSON(w, http.StatusOK, statusResponse{Status: hd.text(statusID), State: string(ctrl.State())})
}

func (hd *handlers) livenessStop(w http.ResponseWriter, _ *http.Request) {
	ctrl := hd.app.Controller
	ctrl.Stop()
	respondJSON(w, http.StatusOK, statusResponse{
		Status: hd.text(hd.app.Svcs.CfgSvc.GetLivenessElements().StatusID),
		State:  string(ctrl.State()),
	})
}

func (hd *handlers) livenessStats(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, hd.app.Controller.Stats())
}

func (hd *handlers) photoCapture(w http.ResponseWriter, _ *http.Request) {
	statusID := hd.app.Svcs.CfgSvc.GetPhotoCaptureElements().StatusID
	if err := hd.app.Capture.Capture(); err != nil {
		respondJSON(w, errorStatus(err), statusResponse{Status: hd.text(statusID)})
		return
	}
	respondJSON(w, http.StatusOK, statusResponse{Status: hd.text(statusID)})
}

func (hd *handlers) documentUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "unable to read file")
		return
	}

	doc := hd.app.Document
	doc.SelectFile(header.Filename, data)

	status := http.StatusOK
	if !doc.PreviewReady() {
		status = http.StatusUnprocessableEntity
	}
	respondJSON(w, status, statusResponse{Status: hd.text(hd.app.Svcs.CfgSvc.GetDocumentElements().StatusID)})
}

func (hd *handlers) documentAnalyze(w http.ResponseWriter, r *http.Request) {
	statusID := hd.app.Svcs.CfgSvc.GetDocumentElements().StatusID
	if err := hd.app.Document.Analyze(r.Context()); err != nil {
		respondJSON(w, errorStatus(err), statusResponse{Status: hd.text(statusID)})
		return
	}
	respondJSON(w, http.StatusOK, statusResponse{Status: hd.text(statusID)})
}

func (hd *handlers) compare(w http.ResponseWriter, r *http.Request) {
	statusID := hd.app.Svcs.CfgSvc.GetComparisonElements().StatusID
	if err := hd.app.Compare.Compare(r.Context()); err != nil {
		respondJSON(w, errorStatus(err), statusResponse{Status: hd.text(statusID)})
		return
	}
	respondJSON(w, http.StatusOK, statusResponse{Status: hd.text(statusID)})
}
