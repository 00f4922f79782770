package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/khaledhikmat/vs-liveness/model"
)

// Required capability names, in the order they are reported when missing.
const (
	NameLoadDetectionModel    = "loadDetectionModel"
	NameDetectFace            = "detectFace"
	NameDetectFaceBase64      = "detectFaceBase64"
	NameLoadLivenessModel     = "loadLivenessModel"
	NamePredictLiveness       = "predictLiveness"
	NameLoadLandmarkModel     = "loadLandmarkModel"
	NamePredictLandmarkBase64 = "predictLandmarkBase64"
	NameLoadFeatureModel      = "loadFeatureModel"
	NameExtractFeatureBase64  = "extractFeatureBase64"
	NameMatchFeature          = "matchFeature"
	NameLoadImageLibrary      = "load_opencv"
)

var RequiredNames = []string{
	NameLoadDetectionModel,
	NameDetectFace,
	NameDetectFaceBase64,
	NameLoadLivenessModel,
	NamePredictLiveness,
	NameLoadLandmarkModel,
	NamePredictLandmarkBase64,
	NameLoadFeatureModel,
	NameExtractFeatureBase64,
	NameMatchFeature,
	NameLoadImageLibrary,
}

// Session is an opaque handle to a loaded model.
type Session interface {
	Close() error
}

type LoadModelFunc func(ctx context.Context) (Session, error)

// DetectFaceFunc runs detection on the display canvas identified by surfaceID.
type DetectFaceFunc func(ctx context.Context, s Session, surfaceID string) (model.Detection, error)

// DetectFaceBase64Func runs detection on an image data URI.
type DetectFaceBase64Func func(ctx context.Context, s Session, imageData string) (model.Detection, error)

type PredictLivenessFunc func(ctx context.Context, s Session, surfaceID string, bbox []model.BBox) ([]model.LivenessScore, error)

type PredictLandmarkBase64Func func(ctx context.Context, s Session, imageData string, bbox []model.BBox) ([]model.Landmarks, error)

type ExtractFeatureBase64Func func(ctx context.Context, s Session, imageData string, landmarks []model.Landmarks) ([]model.TensorMap, error)

// MatchFeatureFunc returns the similarity of two feature vectors.
type MatchFeatureFunc func(a, b model.FeatureVector) float64

// LoadImageLibraryFunc triggers the image library load and returns at once.
// done is called exactly once when the library is usable or failed to load.
type LoadImageLibraryFunc func(done func(error))

// SDK is the fully resolved capability set.
type SDK struct {
	LoadDetectionModel    LoadModelFunc
	DetectFace            DetectFaceFunc
	DetectFaceBase64      DetectFaceBase64Func
	LoadLivenessModel     LoadModelFunc
	PredictLiveness       PredictLivenessFunc
	LoadLandmarkModel     LoadModelFunc
	PredictLandmarkBase64 PredictLandmarkBase64Func
	LoadFeatureModel      LoadModelFunc
	ExtractFeatureBase64  ExtractFeatureBase64Func
	MatchFeature          MatchFeatureFunc
	LoadImageLibrary      LoadImageLibraryFunc
}

// Source resolves capability handles by name.
type Source interface {
	Lookup(name string) (any, bool)
}

var ErrRuntimeNotReady = errors.New("model runtime is not ready")

// NotReadyError lists the required capabilities that are absent or not
// callable with the expected signature.
type NotReadyError struct {
	Missing []string
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("%s. Load the face SDK before starting the app. Missing: %s",
		ErrRuntimeNotReady.Error(), strings.Join(e.Missing, ", "))
}

func (e *NotReadyError) Is(target error) bool {
	return target == ErrRuntimeNotReady
}
