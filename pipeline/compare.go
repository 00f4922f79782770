package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/khaledhikmat/vs-liveness/model"
	"github.com/khaledhikmat/vs-liveness/service/config"
	"github.com/khaledhikmat/vs-liveness/service/display"
	"github.com/khaledhikmat/vs-liveness/service/lgr"
	"github.com/khaledhikmat/vs-liveness/service/status"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// CompareFeature compares the captured photo with the document face. The
// compare button is enabled only while both are available.
type CompareFeature struct {
	svcs     ServicesFactory
	elements config.ComparisonElements
	status   status.IService
	button   *display.Button

	comparing atomic.Bool
	disposers []func()

	mu    sync.Mutex
	stats model.FeatureStats
}

func NewCompareFeature(svcs ServicesFactory) (*CompareFeature, error) {
	elements := svcs.CfgSvc.GetComparisonElements()

	button, err := svcs.DisplaySvc.Button(elements.CompareButtonID)
	if err != nil {
		return nil, err
	}

	f := &CompareFeature{
		svcs:     svcs,
		elements: elements,
		status:   status.NewChannel(svcs.DisplaySvc, elements.StatusID),
		button:   button,
		stats:    model.FeatureStats{Name: "compare"},
	}

	f.disposers = append(f.disposers,
		svcs.Store.OnCapturedPhotoChange(func(string) { f.refresh() }),
		svcs.Store.OnDocumentDetectionChange(func(*model.DocumentDetection) { f.refresh() }),
	)
	f.refresh()
	return f, nil
}

func (f *CompareFeature) refresh() {
	f.updateButtonState()
	f.updateStatusMessage()
}

func (f *CompareFeature) updateButtonState() {
	f.button.SetDisabled(!f.svcs.Store.State().CanCompare())
}

func (f *CompareFeature) updateStatusMessage() {
	if f.comparing.Load() {
		return
	}

	state := f.svcs.Store.State()
	switch {
	case state.CanCompare():
		f.status.Update("Captured photo and document ready. Click compare.")
	case state.CapturedPhoto == "" && state.DocumentDetection == nil:
		f.status.Update("Capture your photo, then analyze a document.")
	case state.CapturedPhoto == "":
		f.status.Update("Capture a live photo to continue.")
	default:
		f.status.Update("Analyze the document to continue.")
	}
}

// Compare runs the comparison and publishes the verdict. Missing
// intermediate results produce a specific status; anything else reports a
// generic failure and is returned.
func (f *CompareFeature) Compare(ctx context.Context) error {
	state := f.svcs.Store.State()
	if !state.CanCompare() {
		f.refresh()
		return nil
	}

	ctx, span := tracer.Start(ctx, "compare.run")
	defer span.End()

	f.comparing.Store(true)
	defer func() {
		f.comparing.Store(false)
		f.updateButtonState()
	}()

	f.status.Update("Comparing captured photo with document face...")

	msg, score, err := f.run(ctx, state)

	f.mu.Lock()
	f.stats.Runs++
	if err != nil {
		f.stats.Errors++
	}
	f.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		lgr.Logger.Error("compare.run", lgr.Err(err))
		if f.svcs.DataSvc != nil {
			_ = f.svcs.DataSvc.NewError(model.GenError("face_comparison", err, nil, "comparison failed"))
		}
		f.status.Update("Comparison failed. Please retry.")
		return err
	}

	span.SetAttributes(attribute.Float64("similarity", score))
	f.status.Update(msg)
	return nil
}

func (f *CompareFeature) run(ctx context.Context, state model.ComparisonState) (msg string, score float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("comparison panicked: %v", r)
		}
	}()

	sdk, err := f.svcs.Runtime.Get()
	if err != nil {
		return "", 0, err
	}

	if err := f.svcs.Gate.Ready(ctx, f.svcs.CfgSvc.GetImageLibraryLoadTimeout()); err != nil {
		return "", 0, err
	}

	sessions, err := loadSessions(ctx, f.svcs.Sessions,
		sessionRequest{kind: config.ModelFeature, load: sdk.LoadFeatureModel},
		sessionRequest{kind: config.ModelDetection, load: sdk.LoadDetectionModel},
		sessionRequest{kind: config.ModelLandmark, load: sdk.LoadLandmarkModel},
	)
	if err != nil {
		return "", 0, err
	}
	featureSession, detectionSession, landmarkSession := sessions[0], sessions[1], sessions[2]

	document := state.DocumentDetection
	docFeatures, err := sdk.ExtractFeatureBase64(ctx, featureSession, document.Snapshot, document.Landmarks[:1])
	if err != nil {
		return "", 0, err
	}
	docVector, ok := model.ExtractFeatureVector(docFeatures)
	if !ok {
		return "Unable to extract document features.", 0, nil
	}

	photo := state.CapturedPhoto
	liveDetection, err := sdk.DetectFaceBase64(ctx, detectionSession, photo)
	if err != nil {
		return "", 0, err
	}
	if liveDetection.Size == 0 {
		return "No face detected in captured photo.", 0, nil
	}

	liveLandmarks, err := sdk.PredictLandmarkBase64(ctx, landmarkSession, photo, liveDetection.BBox)
	if err != nil {
		return "", 0, err
	}
	if len(liveLandmarks) == 0 {
		return "Unable to detect landmarks in captured photo.", 0, nil
	}

	liveFeatures, err := sdk.ExtractFeatureBase64(ctx, featureSession, photo, liveLandmarks[:1])
	if err != nil {
		return "", 0, err
	}
	liveVector, ok := model.ExtractFeatureVector(liveFeatures)
	if !ok {
		return "Unable to extract captured photo features.", 0, nil
	}

	score = sdk.MatchFeature(docVector, liveVector)
	return MatchMessage(score, f.svcs.CfgSvc.GetMatchThreshold()), score, nil
}

// MatchMessage formats a similarity score against the match threshold.
// Only scores strictly above the threshold match.
func MatchMessage(score, threshold float64) string {
	if score > threshold {
		return fmt.Sprintf("Match OK ✔️ Similarity score = %.3f", score)
	}
	return fmt.Sprintf("Faces do not match ❌ score = %.3f", score)
}

// Close disposes the store subscriptions and records the feature stats.
func (f *CompareFeature) Close() {
	for _, dispose := range f.disposers {
		dispose()
	}
	f.disposers = nil

	f.mu.Lock()
	stats := f.stats
	f.mu.Unlock()

	if f.svcs.DataSvc != nil {
		_ = f.svcs.DataSvc.NewFeatureStats(stats)
	}
}
