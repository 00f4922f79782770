package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/khaledhikmat/vs-liveness/service/camera"
	"github.com/khaledhikmat/vs-liveness/service/canvas"
	"github.com/khaledhikmat/vs-liveness/service/comparison"
	"github.com/khaledhikmat/vs-liveness/service/config"
	"github.com/khaledhikmat/vs-liveness/service/data"
	"github.com/khaledhikmat/vs-liveness/service/display"
	"github.com/khaledhikmat/vs-liveness/service/readiness"
	"github.com/khaledhikmat/vs-liveness/service/runtime"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/khaledhikmat/vs-liveness/pipeline")

// ServicesFactory carries the services shared by the controller and the
// features. Sessions and Gate are shared so models and the image library
// load once per process.
type ServicesFactory struct {
	CfgSvc     config.IService
	DataSvc    data.IService
	DisplaySvc display.IService
	CameraSvc  camera.IService
	CanvasSvc  canvas.IService
	Runtime    *runtime.Gateway
	Sessions   *runtime.SessionCache
	Gate       *readiness.Gate
	Store      *comparison.Store
}

// NewImageLibraryGate returns a readiness gate whose loader is the
// runtime's image library capability.
func NewImageLibraryGate(gw *runtime.Gateway) *readiness.Gate {
	return readiness.New(func(done func(error)) {
		sdk, err := gw.Get()
		if err != nil {
			done(err)
			return
		}
		sdk.LoadImageLibrary(done)
	})
}

// RegisterElements registers every display element the controller and the
// features look up.
func RegisterElements(doc display.IService, cfgSvc config.IService) {
	live := cfgSvc.GetLivenessElements()
	doc.Register(display.KindVideo, live.VideoID)
	doc.Register(display.KindCanvas, live.CanvasID)
	doc.Register(display.KindText, live.StatusID)
	doc.Register(display.KindButton, live.ButtonID)

	capture := cfgSvc.GetPhotoCaptureElements()
	doc.Register(display.KindButton, capture.ButtonID)
	doc.Register(display.KindImage, capture.PreviewImageID)
	doc.Register(display.KindText, capture.StatusID)

	if cfgSvc.IsDocumentFlowEnabled() {
		document := cfgSvc.GetDocumentElements()
		doc.Register(display.KindImage, document.PreviewImageID)
		doc.Register(display.KindText, document.StatusID)
		doc.Register(display.KindCanvas, document.CanvasID)
		doc.Register(display.KindButton, document.AnalyzeButtonID)
	}

	if cfgSvc.IsFaceComparisonEnabled() {
		cmp := cfgSvc.GetComparisonElements()
		doc.Register(display.KindButton, cmp.CompareButtonID)
		doc.Register(display.KindText, cmp.StatusID)
	}
}

type sessionRequest struct {
	kind string
	load runtime.LoadModelFunc
}

// loadSessions loads every requested session in parallel through the cache.
func loadSessions(ctx context.Context, cache *runtime.SessionCache, reqs ...sessionRequest) ([]runtime.Session, error) {
	sessions := make([]runtime.Session, len(reqs))
	errs := make([]error, len(reqs))

	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req sessionRequest) {
			defer wg.Done()
			sessions[i], errs[i] = cache.Get(ctx, req.kind, req.load)
		}(i, req)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return sessions, nil
}
