package model

import (
	"fmt"
	"runtime/debug"
	"sort"
)

type CustomError struct {
	Processor  string                 `json:"processor"`
	Inner      error                  `json:"innerError"`
	Message    string                 `json:"message"`
	StackTrace string                 `json:"stackTrace"`
	Misc       map[string]interface{} `json:"misc"`
}

func (e CustomError) Error() string {
	if e.Inner == nil {
		return fmt.Sprintf("%s: %s", e.Processor, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Processor, e.Message, e.Inner)
}

func (e CustomError) Unwrap() error {
	return e.Inner
}

func GenError(proc string, err error, misc map[string]interface{}, messagef string, args ...interface{}) CustomError {
	return CustomError{
		Processor:  proc,
		Inner:      err,
		Message:    fmt.Sprintf(messagef, args...),
		StackTrace: string(debug.Stack()),
		Misc:       misc,
	}
}

// BBox is a face bounding box in pixel coordinates of the analyzed image.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

func (b BBox) Width() float64 {
	return b.X2 - b.X1
}

func (b BBox) Height() float64 {
	return b.Y2 - b.Y1
}

// Detection is the output of a face detection call.
type Detection struct {
	Size int    `json:"size"`
	BBox []BBox `json:"bbox"`
}

// LivenessScore is one (x1,y1,x2,y2,score) tuple. Score is the probability
// in [0,1] that the region is a live subject.
type LivenessScore struct {
	X1    float64 `json:"x1"`
	Y1    float64 `json:"y1"`
	X2    float64 `json:"x2"`
	Y2    float64 `json:"y2"`
	Score float64 `json:"score"`
}

// MaxScore returns the highest score across results, 0 when empty.
func MaxScore(results []LivenessScore) float64 {
	best := 0.0
	for _, r := range results {
		if r.Score > best {
			best = r.Score
		}
	}
	return best
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Landmarks is the 5-point landmark set of one face
// (right eye, left eye, nose tip, right mouth corner, left mouth corner).
type Landmarks struct {
	BBox   BBox    `json:"bbox"`
	Points []Point `json:"points"`
}

type Tensor struct {
	Dims []int     `json:"dims"`
	Data []float32 `json:"data"`
}

// TensorMap maps model output names to tensors.
type TensorMap map[string]Tensor

type FeatureVector []float32

// ExtractFeatureVector pulls the embedding out of a feature extraction result.
// The "output" tensor wins, otherwise the first tensor by name is used.
func ExtractFeatureVector(results []TensorMap) (FeatureVector, bool) {
	if len(results) == 0 || results[0] == nil {
		return nil, false
	}

	tensors := results[0]
	tensor, ok := tensors["output"]
	if !ok {
		names := make([]string, 0, len(tensors))
		for name := range tensors {
			names = append(names, name)
		}
		if len(names) == 0 {
			return nil, false
		}
		sort.Strings(names)
		tensor = tensors[names[0]]
	}

	if len(tensor.Data) == 0 {
		return nil, false
	}

	vec := make(FeatureVector, len(tensor.Data))
	copy(vec, tensor.Data)
	return vec, true
}

// DocumentDetection is the result of analyzing an uploaded document.
type DocumentDetection struct {
	Snapshot  string      `json:"snapshot"` // PNG data URI of the analyzed document
	Landmarks []Landmarks `json:"landmarks"`
	Size      int         `json:"size"`
}

type ComparisonState struct {
	CapturedPhoto     string             `json:"capturedPhoto"`
	DocumentDetection *DocumentDetection `json:"documentDetection"`
}

// CanCompare reports whether both a captured photo and a document landmark set exist.
func (s ComparisonState) CanCompare() bool {
	return s.CapturedPhoto != "" &&
		s.DocumentDetection != nil &&
		len(s.DocumentDetection.Landmarks) > 0
}

type ControllerState string

const (
	ControllerIdle    ControllerState = "idle"
	ControllerLoading ControllerState = "loading"
	ControllerRunning ControllerState = "running"
)

type ControllerStats struct {
	Name      string  `json:"name"`
	Cycles    int     `json:"cycles"`
	Faces     int     `json:"faces"`
	Errors    int     `json:"errors"`
	LastScore float64 `json:"lastScore"`
	Uptime    int64   `json:"uptime"`
	Timestamp int64   `json:"timestamp"`
}

type FeatureStats struct {
	Name      string `json:"name"`
	Runs      int    `json:"runs"`
	Errors    int    `json:"errors"`
	Timestamp int64  `json:"timestamp"`
}

type VideoConstraints struct {
	FacingMode string `json:"facingMode" yaml:"facingMode"`
	DeviceID   string `json:"deviceId" yaml:"deviceId"` // device index ("0") or stream URL
	Width      int    `json:"width" yaml:"width"`
	Height     int    `json:"height" yaml:"height"`
	FPS        int    `json:"fps" yaml:"fps"`
}

// CameraConstraints describes the stream requested from a capture device.
type CameraConstraints struct {
	Audio bool             `json:"audio" yaml:"audio"`
	Video VideoConstraints `json:"video" yaml:"video"`
}
