package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/khaledhikmat/vs-liveness/model"
	"github.com/khaledhikmat/vs-liveness/service/config"
	"github.com/khaledhikmat/vs-liveness/service/display"
	"github.com/khaledhikmat/vs-liveness/service/lgr"
	"github.com/khaledhikmat/vs-liveness/service/status"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DocumentFeature loads an uploaded document into the preview, then finds
// the document face and publishes its landmarks for comparison.
type DocumentFeature struct {
	svcs     ServicesFactory
	elements config.DocumentElements
	status   status.IService
	preview  *display.Image
	analyze  *display.Button

	mu           sync.Mutex
	previewReady bool
	stats        model.FeatureStats
}

func NewDocumentFeature(svcs ServicesFactory) (*DocumentFeature, error) {
	elements := svcs.CfgSvc.GetDocumentElements()

	preview, err := svcs.DisplaySvc.Image(elements.PreviewImageID)
	if err != nil {
		return nil, err
	}
	analyze, err := svcs.DisplaySvc.Button(elements.AnalyzeButtonID)
	if err != nil {
		return nil, err
	}

	analyze.SetDisabled(true)

	return &DocumentFeature{
		svcs:     svcs,
		elements: elements,
		status:   status.NewChannel(svcs.DisplaySvc, elements.StatusID),
		preview:  preview,
		analyze:  analyze,
		stats:    model.FeatureStats{Name: "document"},
	}, nil
}

// SelectFile replaces the preview with the given file. Analysis is enabled
// once the preview decodes.
func (f *DocumentFeature) SelectFile(name string, data []byte) {
	f.setPreviewReady(false)
	f.analyze.SetDisabled(true)
	f.svcs.Store.ClearDocumentDetection()
	f.status.Update(fmt.Sprintf("Loading %s...", name))

	if len(data) == 0 {
		f.status.Update("Unable to load selected document.")
		return
	}

	if err := f.preview.SetSource(display.BytesToDataURL(data)); err != nil {
		lgr.Logger.Warn("document.preview", slog.String("file", name), lgr.Err(err))
		f.setPreviewReady(false)
		f.analyze.SetDisabled(true)
		f.status.Update("Unable to load document preview.")
		return
	}

	f.setPreviewReady(true)
	f.analyze.SetDisabled(false)
	f.status.Update("Document ready. Click Analyze Document.")
}

func (f *DocumentFeature) PreviewReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.previewReady
}

func (f *DocumentFeature) setPreviewReady(ready bool) {
	f.mu.Lock()
	f.previewReady = ready
	f.mu.Unlock()
}

// Analyze detects faces in the previewed document. Failures are reported
// through the status element and returned.
func (f *DocumentFeature) Analyze(ctx context.Context) error {
	size := f.preview.NaturalSize()
	if !f.PreviewReady() || size.X == 0 || size.Y == 0 {
		f.status.Update("Select a document before analyzing.")
		return nil
	}

	ctx, span := tracer.Start(ctx, "document.analyze")
	defer span.End()

	f.analyze.SetDisabled(true)
	defer func() {
		if f.PreviewReady() {
			f.analyze.SetDisabled(false)
		}
	}()

	err := f.run(ctx)

	f.mu.Lock()
	f.stats.Runs++
	if err != nil {
		f.stats.Errors++
	}
	f.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		lgr.Logger.Error("document.analyze", lgr.Err(err))
		f.status.Update("Unable to analyze document.")
	}
	return err
}

func (f *DocumentFeature) run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("document analysis panicked: %v", r)
		}
	}()

	sdk, err := f.svcs.Runtime.Get()
	if err != nil {
		return err
	}

	f.status.Update("Preparing document...")
	img, ok := f.preview.Decoded()
	if !ok {
		return errors.New("document preview has no decoded image")
	}
	if _, err := f.svcs.CanvasSvc.DrawImage(f.elements.CanvasID, img); err != nil {
		return err
	}

	f.status.Update("Loading OpenCV...")
	if err := f.svcs.Gate.Ready(ctx, f.svcs.CfgSvc.GetImageLibraryLoadTimeout()); err != nil {
		return err
	}

	f.status.Update("Loading detection model...")
	sessions, err := loadSessions(ctx, f.svcs.Sessions,
		sessionRequest{kind: config.ModelDetection, load: sdk.LoadDetectionModel},
	)
	if err != nil {
		return err
	}

	f.status.Update("Analyzing document...")
	snapshot, err := f.svcs.CanvasSvc.Snapshot(f.elements.CanvasID)
	if err != nil {
		return err
	}

	det, err := sdk.DetectFaceBase64(ctx, sessions[0], snapshot)
	if err != nil {
		return err
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("faces", det.Size))
	if det.Size == 0 {
		f.svcs.Store.ClearDocumentDetection()
		f.status.Update("No face detected in document.")
		return nil
	}

	landmarkSessions, err := loadSessions(ctx, f.svcs.Sessions,
		sessionRequest{kind: config.ModelLandmark, load: sdk.LoadLandmarkModel},
	)
	if err != nil {
		return err
	}
	landmarks, err := sdk.PredictLandmarkBase64(ctx, landmarkSessions[0], snapshot, det.BBox)
	if err != nil {
		return err
	}

	f.svcs.Store.SetDocumentDetection(&model.DocumentDetection{
		Snapshot:  snapshot,
		Landmarks: landmarks,
		Size:      det.Size,
	})

	f.status.Update(fmt.Sprintf("Detected %d face(s) in document.", det.Size))
	return nil
}

// Close records the feature stats.
func (f *DocumentFeature) Close() {
	f.mu.Lock()
	stats := f.stats
	f.mu.Unlock()

	if f.svcs.DataSvc != nil {
		_ = f.svcs.DataSvc.NewFeatureStats(stats)
	}
}
