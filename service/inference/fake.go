package inference

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/khaledhikmat/vs-liveness/model"
	"github.com/khaledhikmat/vs-liveness/service/display"
	"github.com/khaledhikmat/vs-liveness/service/runtime"
)

const (
	histogramBins = 32
	// frames whose luminance spread is below this are treated as empty
	minContrast = 8.0
)

type fakeRuntime struct {
	doc display.IService
}

// NewFake returns a deterministic pixel-statistics runtime. It finds one
// face in any frame with contrast, scores liveness by colour saturation and
// builds features from a luminance histogram of the face region.
func NewFake(doc display.IService) Runtime {
	return &fakeRuntime{
		doc: doc,
	}
}

func (rt *fakeRuntime) Install(reg *runtime.Registry) *runtime.Registry {
	return reg.
		Register(runtime.NameLoadDetectionModel, rt.loader(runtime.NameLoadDetectionModel)).
		Register(runtime.NameDetectFace, runtime.DetectFaceFunc(rt.detectFace)).
		Register(runtime.NameDetectFaceBase64, runtime.DetectFaceBase64Func(rt.detectFaceBase64)).
		Register(runtime.NameLoadLivenessModel, rt.loader(runtime.NameLoadLivenessModel)).
		Register(runtime.NamePredictLiveness, runtime.PredictLivenessFunc(rt.predictLiveness)).
		Register(runtime.NameLoadLandmarkModel, rt.loader(runtime.NameLoadLandmarkModel)).
		Register(runtime.NamePredictLandmarkBase64, runtime.PredictLandmarkBase64Func(rt.predictLandmarkBase64)).
		Register(runtime.NameLoadFeatureModel, rt.loader(runtime.NameLoadFeatureModel)).
		Register(runtime.NameExtractFeatureBase64, runtime.ExtractFeatureBase64Func(rt.extractFeatureBase64)).
		Register(runtime.NameMatchFeature, runtime.MatchFeatureFunc(runtime.CosineSimilarity)).
		Register(runtime.NameLoadImageLibrary, runtime.LoadImageLibraryFunc(func(done func(error)) {
			go done(nil)
		}))
}

func (rt *fakeRuntime) loader(kind string) runtime.LoadModelFunc {
	return func(ctx context.Context) (runtime.Session, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &session{kind: kind}, nil
	}
}

func (rt *fakeRuntime) surface(surfaceID string) (image.Image, error) {
	cnv, err := rt.doc.Canvas(surfaceID)
	if err != nil {
		return nil, err
	}
	return cnv.Image(), nil
}

func (rt *fakeRuntime) detectFace(_ context.Context, _ runtime.Session, surfaceID string) (model.Detection, error) {
	img, err := rt.surface(surfaceID)
	if err != nil {
		return model.Detection{}, err
	}
	return detect(img), nil
}

func (rt *fakeRuntime) detectFaceBase64(_ context.Context, _ runtime.Session, imageData string) (model.Detection, error) {
	img, err := display.DecodeDataURL(imageData)
	if err != nil {
		return model.Detection{}, err
	}
	return detect(img), nil
}

func (rt *fakeRuntime) predictLiveness(_ context.Context, _ runtime.Session, surfaceID string, boxes []model.BBox) ([]model.LivenessScore, error) {
	img, err := rt.surface(surfaceID)
	if err != nil {
		return nil, err
	}

	results := make([]model.LivenessScore, 0, len(boxes))
	for _, b := range boxes {
		results = append(results, model.LivenessScore{
			X1: b.X1, Y1: b.Y1, X2: b.X2, Y2: b.Y2,
			Score: saturation(img, b),
		})
	}
	return results, nil
}

func (rt *fakeRuntime) predictLandmarkBase64(_ context.Context, _ runtime.Session, imageData string, boxes []model.BBox) ([]model.Landmarks, error) {
	if _, err := display.DecodeDataURL(imageData); err != nil {
		return nil, err
	}

	out := make([]model.Landmarks, 0, len(boxes))
	for _, b := range boxes {
		w, h := b.Width(), b.Height()
		out = append(out, model.Landmarks{
			BBox: b,
			Points: []model.Point{
				{X: b.X1 + 0.30*w, Y: b.Y1 + 0.40*h},
				{X: b.X1 + 0.70*w, Y: b.Y1 + 0.40*h},
				{X: b.X1 + 0.50*w, Y: b.Y1 + 0.58*h},
				{X: b.X1 + 0.35*w, Y: b.Y1 + 0.78*h},
				{X: b.X1 + 0.65*w, Y: b.Y1 + 0.78*h},
			},
		})
	}
	return out, nil
}

func (rt *fakeRuntime) extractFeatureBase64(_ context.Context, _ runtime.Session, imageData string, landmarks []model.Landmarks) ([]model.TensorMap, error) {
	img, err := display.DecodeDataURL(imageData)
	if err != nil {
		return nil, err
	}
	if len(landmarks) == 0 {
		return nil, fmt.Errorf("no landmarks to align")
	}

	out := make([]model.TensorMap, 0, len(landmarks))
	for _, lm := range landmarks {
		hist := histogram(img, lm.BBox)
		out = append(out, model.TensorMap{
			"output": model.Tensor{Dims: []int{1, len(hist)}, Data: hist},
		})
	}
	return out, nil
}

func luminance(r, g, b uint32) float64 {
	return (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 257
}

func detect(img image.Image) model.Detection {
	bounds := img.Bounds()
	if bounds.Empty() {
		return model.Detection{}
	}

	var sum, sumSq, n float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y += 2 {
		for x := bounds.Min.X; x < bounds.Max.X; x += 2 {
			r, g, b, _ := img.At(x, y).RGBA()
			l := luminance(r, g, b)
			sum += l
			sumSq += l * l
			n++
		}
	}

	mean := sum / n
	if math.Sqrt(math.Max(sumSq/n-mean*mean, 0)) < minContrast {
		return model.Detection{}
	}

	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	box := model.BBox{
		X1: float64(bounds.Min.X) + w/3,
		Y1: float64(bounds.Min.Y) + h/4,
		X2: float64(bounds.Min.X) + 2*w/3,
		Y2: float64(bounds.Min.Y) + 3*h/4,
	}
	return model.Detection{Size: 1, BBox: []model.BBox{box}}
}

func clip(img image.Image, b model.BBox) image.Rectangle {
	r := image.Rect(int(b.X1), int(b.Y1), int(math.Ceil(b.X2)), int(math.Ceil(b.Y2)))
	return r.Intersect(img.Bounds())
}

// saturation is the mean HSV saturation of the box, in [0,1].
func saturation(img image.Image, b model.BBox) float64 {
	r := clip(img, b)
	if r.Empty() {
		return 0
	}

	var sum, n float64
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			cr, cg, cb, _ := img.At(x, y).RGBA()
			hi := math.Max(float64(cr), math.Max(float64(cg), float64(cb)))
			lo := math.Min(float64(cr), math.Min(float64(cg), float64(cb)))
			if hi > 0 {
				sum += (hi - lo) / hi
			}
			n++
		}
	}
	return sum / n
}

func histogram(img image.Image, b model.BBox) []float32 {
	hist := make([]float32, histogramBins)
	r := clip(img, b)
	if r.Empty() {
		r = img.Bounds()
	}

	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			cr, cg, cb, _ := img.At(x, y).RGBA()
			bin := int(luminance(cr, cg, cb)) * histogramBins / 256
			hist[min(bin, histogramBins-1)]++
		}
	}

	total := float32(r.Dx() * r.Dy())
	if total > 0 {
		for i := range hist {
			hist[i] /= total
		}
	}
	return hist
}
