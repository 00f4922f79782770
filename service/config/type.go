package config

import (
	"time"

	"github.com/khaledhikmat/vs-liveness/model"
)

type ModelParameters struct {
	ModelPath      string  `yaml:"modelPath"`
	InputWidth     int     `yaml:"inputWidth"`
	InputHeight    int     `yaml:"inputHeight"`
	ScoreThreshold float64 `yaml:"scoreThreshold"`
	CropScale      float64 `yaml:"cropScale"`
}

type LivenessElements struct {
	VideoID  string `yaml:"videoId"`
	CanvasID string `yaml:"canvasId"`
	StatusID string `yaml:"statusId"`
	ButtonID string `yaml:"buttonId"`
}

type DocumentElements struct {
	PreviewImageID  string `yaml:"previewImageId"`
	StatusID        string `yaml:"statusId"`
	CanvasID        string `yaml:"canvasId"`
	AnalyzeButtonID string `yaml:"analyzeButtonId"`
}

type ComparisonElements struct {
	CompareButtonID string `yaml:"compareButtonId"`
	StatusID        string `yaml:"statusId"`
}

type PhotoCaptureElements struct {
	ButtonID       string `yaml:"buttonId"`
	PreviewImageID string `yaml:"previewImageId"`
	StatusID       string `yaml:"statusId"`
}

type IService interface {
	GetModeMaxShutdownTime() int
	GetServerAddress() string
	GetLivenessElements() LivenessElements
	GetDocumentElements() DocumentElements
	GetComparisonElements() ComparisonElements
	GetPhotoCaptureElements() PhotoCaptureElements
	GetLiveScoreThreshold() float64
	GetMatchThreshold() float64
	GetInferenceInterval() time.Duration
	GetImageLibraryLoadTimeout() time.Duration
	GetCameraType() string
	GetCameraConstraints() model.CameraConstraints
	GetRuntimeType() string
	GetModelParameters(kind string) ModelParameters
	IsDocumentFlowEnabled() bool
	IsFaceComparisonEnabled() bool
	Settings() Settings
}
