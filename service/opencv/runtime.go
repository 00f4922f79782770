package opencv

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"sync"

	"github.com/khaledhikmat/vs-liveness/model"
	"github.com/khaledhikmat/vs-liveness/service/config"
	"github.com/khaledhikmat/vs-liveness/service/display"
	"github.com/khaledhikmat/vs-liveness/service/inference"
	"github.com/khaledhikmat/vs-liveness/service/runtime"
	"gocv.io/x/gocv"
)

// YuNet rows are x, y, w, h, five landmark pairs and a score.
const yunetCols = 15

type opencvRuntime struct {
	cfgSvc config.IService
	doc    display.IService
}

// NewRuntime returns the gocv reference runtime: YuNet for detection and
// landmarks, a MiniFASNet style classifier for liveness and SFace for
// features.
func NewRuntime(cfgSvc config.IService, doc display.IService) inference.Runtime {
	return &opencvRuntime{
		cfgSvc: cfgSvc,
		doc:    doc,
	}
}

func (rt *opencvRuntime) Install(reg *runtime.Registry) *runtime.Registry {
	return reg.
		Register(runtime.NameLoadDetectionModel, runtime.LoadModelFunc(rt.loadDetector(config.ModelDetection))).
		Register(runtime.NameDetectFace, runtime.DetectFaceFunc(rt.detectFace)).
		Register(runtime.NameDetectFaceBase64, runtime.DetectFaceBase64Func(rt.detectFaceBase64)).
		Register(runtime.NameLoadLivenessModel, runtime.LoadModelFunc(rt.loadLiveness)).
		Register(runtime.NamePredictLiveness, runtime.PredictLivenessFunc(rt.predictLiveness)).
		Register(runtime.NameLoadLandmarkModel, runtime.LoadModelFunc(rt.loadDetector(config.ModelLandmark))).
		Register(runtime.NamePredictLandmarkBase64, runtime.PredictLandmarkBase64Func(rt.predictLandmarkBase64)).
		Register(runtime.NameLoadFeatureModel, runtime.LoadModelFunc(rt.loadFeature)).
		Register(runtime.NameExtractFeatureBase64, runtime.ExtractFeatureBase64Func(rt.extractFeatureBase64)).
		Register(runtime.NameMatchFeature, runtime.MatchFeatureFunc(runtime.CosineSimilarity)).
		Register(runtime.NameLoadImageLibrary, runtime.LoadImageLibraryFunc(loadImageLibrary))
}

// WARNING: gocv nets are not thread-safe, so every session serializes use.
type detectorSession struct {
	mu       sync.Mutex
	detector gocv.FaceDetectorYN
}

func (s *detectorSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detector.Close()
	return nil
}

type livenessSession struct {
	mu     sync.Mutex
	net    gocv.Net
	params config.ModelParameters
}

func (s *livenessSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.net.Close()
}

type featureSession struct {
	mu         sync.Mutex
	recognizer gocv.FaceRecognizerSF
}

func (s *featureSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recognizer.Close()
	return nil
}

func (rt *opencvRuntime) loadDetector(kind string) func(ctx context.Context) (runtime.Session, error) {
	return func(ctx context.Context) (runtime.Session, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		params := rt.cfgSvc.GetModelParameters(kind)
		if params.ModelPath == "" {
			return nil, fmt.Errorf("no %s model configured", kind)
		}

		detector := gocv.NewFaceDetectorYN(params.ModelPath, "", image.Pt(params.InputWidth, params.InputHeight))
		if params.ScoreThreshold > 0 {
			detector.SetScoreThreshold(float32(params.ScoreThreshold))
		}
		return &detectorSession{detector: detector}, nil
	}
}

func (rt *opencvRuntime) loadLiveness(ctx context.Context) (runtime.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	params := rt.cfgSvc.GetModelParameters(config.ModelLiveness)
	net := gocv.ReadNet(params.ModelPath, "")
	if net.Empty() {
		return nil, fmt.Errorf("error reading liveness model %s", params.ModelPath)
	}

	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, fmt.Errorf("error setting backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, fmt.Errorf("error setting target: %w", err)
	}

	return &livenessSession{net: net, params: params}, nil
}

func (rt *opencvRuntime) loadFeature(ctx context.Context) (runtime.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	params := rt.cfgSvc.GetModelParameters(config.ModelFeature)
	if params.ModelPath == "" {
		return nil, fmt.Errorf("no %s model configured", config.ModelFeature)
	}

	return &featureSession{recognizer: gocv.NewFaceRecognizerSF(params.ModelPath, "")}, nil
}

func (rt *opencvRuntime) surfaceMat(surfaceID string) (gocv.Mat, error) {
	cnv, err := rt.doc.Canvas(surfaceID)
	if err != nil {
		return gocv.NewMat(), err
	}
	return gocv.ImageToMatRGB(cnv.Image())
}

func dataURLMat(imageData string) (gocv.Mat, error) {
	data, err := display.DataURLBytes(imageData)
	if err != nil {
		return gocv.NewMat(), err
	}

	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return mat, fmt.Errorf("decoding image: %w", err)
	}
	if mat.Empty() {
		return mat, fmt.Errorf("decoding image: empty result")
	}
	return mat, nil
}

func detectorOf(s runtime.Session) (*detectorSession, error) {
	ds, ok := s.(*detectorSession)
	if !ok {
		return nil, fmt.Errorf("session %T is not a detection session", s)
	}
	return ds, nil
}

func (rt *opencvRuntime) detectFace(_ context.Context, s runtime.Session, surfaceID string) (model.Detection, error) {
	ds, err := detectorOf(s)
	if err != nil {
		return model.Detection{}, err
	}

	img, err := rt.surfaceMat(surfaceID)
	defer img.Close()
	if err != nil {
		return model.Detection{}, err
	}

	faces := ds.detect(img)
	return toDetection(faces), nil
}

func (rt *opencvRuntime) detectFaceBase64(_ context.Context, s runtime.Session, imageData string) (model.Detection, error) {
	ds, err := detectorOf(s)
	if err != nil {
		return model.Detection{}, err
	}

	img, err := dataURLMat(imageData)
	defer img.Close()
	if err != nil {
		return model.Detection{}, err
	}

	return toDetection(ds.detect(img)), nil
}

func (rt *opencvRuntime) predictLandmarkBase64(_ context.Context, s runtime.Session, imageData string, boxes []model.BBox) ([]model.Landmarks, error) {
	ds, err := detectorOf(s)
	if err != nil {
		return nil, err
	}

	img, err := dataURLMat(imageData)
	defer img.Close()
	if err != nil {
		return nil, err
	}

	faces := ds.detect(img)
	out := []model.Landmarks{}
	for _, b := range boxes {
		best, bestIoU := -1, 0.0
		for i, f := range faces {
			if v := iou(b, f.box); v > bestIoU {
				best, bestIoU = i, v
			}
		}
		if best < 0 {
			continue
		}
		out = append(out, model.Landmarks{BBox: b, Points: faces[best].points})
	}
	return out, nil
}

func (rt *opencvRuntime) predictLiveness(_ context.Context, s runtime.Session, surfaceID string, boxes []model.BBox) ([]model.LivenessScore, error) {
	ls, ok := s.(*livenessSession)
	if !ok {
		return nil, fmt.Errorf("session %T is not a liveness session", s)
	}

	img, err := rt.surfaceMat(surfaceID)
	defer img.Close()
	if err != nil {
		return nil, err
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	results := make([]model.LivenessScore, 0, len(boxes))
	for _, b := range boxes {
		score, err := ls.score(img, b)
		if err != nil {
			return nil, err
		}
		results = append(results, model.LivenessScore{X1: b.X1, Y1: b.Y1, X2: b.X2, Y2: b.Y2, Score: score})
	}
	return results, nil
}

func (rt *opencvRuntime) extractFeatureBase64(_ context.Context, s runtime.Session, imageData string, landmarks []model.Landmarks) ([]model.TensorMap, error) {
	fs, ok := s.(*featureSession)
	if !ok {
		return nil, fmt.Errorf("session %T is not a feature session", s)
	}

	img, err := dataURLMat(imageData)
	defer img.Close()
	if err != nil {
		return nil, err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	out := make([]model.TensorMap, 0, len(landmarks))
	for _, lm := range landmarks {
		vec, err := fs.feature(img, lm)
		if err != nil {
			return nil, err
		}
		out = append(out, model.TensorMap{
			"output": model.Tensor{Dims: []int{1, len(vec)}, Data: vec},
		})
	}
	return out, nil
}

type yunetFace struct {
	box    model.BBox
	points []model.Point
	score  float32
}

func (ds *detectorSession) detect(img gocv.Mat) []yunetFace {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	ds.detector.SetInputSize(image.Pt(img.Cols(), img.Rows()))

	faces := gocv.NewMat()
	defer faces.Close()
	ds.detector.Detect(img, &faces)

	out := make([]yunetFace, 0, faces.Rows())
	for r := 0; r < faces.Rows(); r++ {
		x, y := float64(faces.GetFloatAt(r, 0)), float64(faces.GetFloatAt(r, 1))
		w, h := float64(faces.GetFloatAt(r, 2)), float64(faces.GetFloatAt(r, 3))

		points := make([]model.Point, 0, 5)
		for p := 0; p < 5; p++ {
			points = append(points, model.Point{
				X: float64(faces.GetFloatAt(r, 4+2*p)),
				Y: float64(faces.GetFloatAt(r, 5+2*p)),
			})
		}

		out = append(out, yunetFace{
			box:    model.BBox{X1: x, Y1: y, X2: x + w, Y2: y + h},
			points: points,
			score:  faces.GetFloatAt(r, 14),
		})
	}
	return out
}

func toDetection(faces []yunetFace) model.Detection {
	det := model.Detection{Size: len(faces), BBox: make([]model.BBox, 0, len(faces))}
	for _, f := range faces {
		det.BBox = append(det.BBox, f.box)
	}
	return det
}

// score crops the box enlarged by the crop scale, classifies it and
// returns the softmax probability of the live class.
func (ls *livenessSession) score(img gocv.Mat, b model.BBox) (float64, error) {
	crop := scaledRect(b, ls.params.CropScale, img.Cols(), img.Rows())
	if crop.Empty() {
		return 0, nil
	}

	region := img.Region(crop)
	defer region.Close()

	blob := gocv.BlobFromImage(region, 1.0, image.Pt(ls.params.InputWidth, ls.params.InputHeight), gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	ls.net.SetInput(blob, "")
	prob := ls.net.Forward("")
	defer prob.Close()

	logits, err := prob.DataPtrFloat32()
	if err != nil {
		return 0, fmt.Errorf("reading liveness output: %w", err)
	}
	if len(logits) < 2 {
		return 0, fmt.Errorf("unexpected liveness output size %d", len(logits))
	}

	probs := softmax(logits)
	// class 1 is the live class
	return float64(probs[1]), nil
}

func (fs *featureSession) feature(img gocv.Mat, lm model.Landmarks) ([]float32, error) {
	if len(lm.Points) != 5 {
		return nil, fmt.Errorf("expected 5 landmarks, got %d", len(lm.Points))
	}

	row := gocv.NewMatWithSize(1, yunetCols, gocv.MatTypeCV32F)
	defer row.Close()

	row.SetFloatAt(0, 0, float32(lm.BBox.X1))
	row.SetFloatAt(0, 1, float32(lm.BBox.Y1))
	row.SetFloatAt(0, 2, float32(lm.BBox.Width()))
	row.SetFloatAt(0, 3, float32(lm.BBox.Height()))
	for i, p := range lm.Points {
		row.SetFloatAt(0, 4+2*i, float32(p.X))
		row.SetFloatAt(0, 5+2*i, float32(p.Y))
	}
	row.SetFloatAt(0, 14, 1)

	aligned := fs.recognizer.AlignCrop(img, row)
	defer aligned.Close()

	feat := fs.recognizer.Feature(aligned)
	defer feat.Close()

	data, err := feat.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("reading feature output: %w", err)
	}
	return append([]float32(nil), data...), nil
}

func scaledRect(b model.BBox, scale float64, cols, rows int) image.Rectangle {
	if scale <= 0 {
		scale = 1
	}
	cx, cy := (b.X1+b.X2)/2, (b.Y1+b.Y2)/2
	w, h := b.Width()*scale, b.Height()*scale
	r := image.Rect(int(cx-w/2), int(cy-h/2), int(math.Ceil(cx+w/2)), int(math.Ceil(cy+h/2)))
	return r.Intersect(image.Rect(0, 0, cols, rows))
}

func softmax(logits []float32) []float32 {
	hi := logits[0]
	for _, v := range logits[1:] {
		hi = float32(math.Max(float64(hi), float64(v)))
	}

	out := make([]float32, len(logits))
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - hi))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}

func iou(a, b model.BBox) float64 {
	x1, y1 := math.Max(a.X1, b.X1), math.Max(a.Y1, b.Y1)
	x2, y2 := math.Min(a.X2, b.X2), math.Min(a.Y2, b.Y2)
	inter := math.Max(0, x2-x1) * math.Max(0, y2-y1)
	union := a.Width()*a.Height() + b.Width()*b.Height() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// loadImageLibrary confirms the codec layer works by decoding a tiny PNG.
func loadImageLibrary(done func(error)) {
	go func() {
		probe := image.NewRGBA(image.Rect(0, 0, 2, 2))
		probe.SetRGBA(0, 0, color.RGBA{R: 255, A: 255})

		var buf bytes.Buffer
		if err := png.Encode(&buf, probe); err != nil {
			done(err)
			return
		}

		mat, err := gocv.IMDecode(buf.Bytes(), gocv.IMReadColor)
		if err != nil {
			done(fmt.Errorf("image library unavailable: %w", err))
			return
		}
		defer mat.Close()

		if mat.Empty() {
			done(fmt.Errorf("image library unavailable: decode returned empty image"))
			return
		}
		done(nil)
	}()
}
