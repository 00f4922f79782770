package config

import (
	"time"

	"github.com/khaledhikmat/vs-liveness/model"
)

// Model kinds used as keys for GetModelParameters.
const (
	ModelDetection = "detection"
	ModelLiveness  = "liveness"
	ModelLandmark  = "landmark"
	ModelFeature   = "feature"
)

// Settings is the flat view of every configurable value. The env and yaml
// services overlay a base Settings.
type Settings struct {
	ModeMaxShutdownTime     int                        `yaml:"modeMaxShutdownTime"`
	ServerAddress           string                     `yaml:"serverAddress"`
	Liveness                LivenessElements           `yaml:"liveness"`
	Document                DocumentElements           `yaml:"document"`
	Comparison              ComparisonElements         `yaml:"comparison"`
	PhotoCapture            PhotoCaptureElements       `yaml:"photoCapture"`
	LiveScoreThreshold      float64                    `yaml:"liveScoreThreshold"`
	MatchThreshold          float64                    `yaml:"matchThreshold"`
	InferenceInterval       time.Duration              `yaml:"inferenceInterval"`
	ImageLibraryLoadTimeout time.Duration              `yaml:"imageLibraryLoadTimeout"`
	CameraType              string                     `yaml:"cameraType"`
	CameraConstraints       model.CameraConstraints    `yaml:"cameraConstraints"`
	RuntimeType             string                     `yaml:"runtimeType"`
	Models                  map[string]ModelParameters `yaml:"models"`
	EnableDocumentFlow      bool                       `yaml:"enableDocumentFlow"`
	EnableFaceComparison    bool                       `yaml:"enableFaceComparison"`
}

type hardcodedService struct {
	settings Settings
}

func NewHardCoded() IService {
	return &hardcodedService{
		settings: defaultSettings(),
	}
}

// NewFromSettings serves the given settings as they are.
func NewFromSettings(s Settings) IService {
	return &hardcodedService{
		settings: s,
	}
}

func defaultSettings() Settings {
	return Settings{
		ModeMaxShutdownTime: 5,
		ServerAddress:       "0.0.0.0:8080",
		Liveness: LivenessElements{
			VideoID:  "live-video",
			CanvasID: "live-canvas",
			StatusID: "live-status",
			ButtonID: "live-start",
		},
		Document: DocumentElements{
			PreviewImageID:  "document-preview",
			StatusID:        "document-status",
			CanvasID:        "document-canvas",
			AnalyzeButtonID: "document-analyze",
		},
		Comparison: ComparisonElements{
			CompareButtonID: "compare-button",
			StatusID:        "compare-status",
		},
		PhotoCapture: PhotoCaptureElements{
			ButtonID:       "capture-button",
			PreviewImageID: "capture-preview",
			StatusID:       "capture-status",
		},
		LiveScoreThreshold:      0.5,
		MatchThreshold:          0.4,
		InferenceInterval:       1500 * time.Millisecond,
		ImageLibraryLoadTimeout: 20 * time.Second,
		CameraType:              "opencv",
		CameraConstraints: model.CameraConstraints{
			Audio: false,
			Video: model.VideoConstraints{
				FacingMode: "user",
				DeviceID:   "0",
			},
		},
		RuntimeType: "opencv",
		Models: map[string]ModelParameters{
			ModelDetection: {
				ModelPath:      "./models/face_detection_yunet_2023mar.onnx",
				InputWidth:     320,
				InputHeight:    320,
				ScoreThreshold: 0.9,
			},
			ModelLiveness: {
				ModelPath:   "./models/minifasnet_v2.onnx",
				InputWidth:  80,
				InputHeight: 80,
				CropScale:   2.7,
			},
			ModelLandmark: {
				ModelPath:      "./models/face_detection_yunet_2023mar.onnx",
				InputWidth:     320,
				InputHeight:    320,
				ScoreThreshold: 0.6,
			},
			ModelFeature: {
				ModelPath: "./models/face_recognition_sface_2021dec.onnx",
			},
		},
		EnableDocumentFlow:   true,
		EnableFaceComparison: true,
	}
}

func (svc *hardcodedService) GetModeMaxShutdownTime() int {
	return svc.settings.ModeMaxShutdownTime
}

func (svc *hardcodedService) GetServerAddress() string {
	return svc.settings.ServerAddress
}

func (svc *hardcodedService) GetLivenessElements() LivenessElements {
	return svc.settings.Liveness
}

func (svc *hardcodedService) GetDocumentElements() DocumentElements {
	return svc.settings.Document
}

func (svc *hardcodedService) GetComparisonElements() ComparisonElements {
	return svc.settings.Comparison
}

func (svc *hardcodedService) GetPhotoCaptureElements() PhotoCaptureElements {
	return svc.settings.PhotoCapture
}

func (svc *hardcodedService) GetLiveScoreThreshold() float64 {
	return svc.settings.LiveScoreThreshold
}

func (svc *hardcodedService) GetMatchThreshold() float64 {
	return svc.settings.MatchThreshold
}

func (svc *hardcodedService) GetInferenceInterval() time.Duration {
	return svc.settings.InferenceInterval
}

func (svc *hardcodedService) GetImageLibraryLoadTimeout() time.Duration {
	return svc.settings.ImageLibraryLoadTimeout
}

func (svc *hardcodedService) GetCameraType() string {
	return svc.settings.CameraType
}

func (svc *hardcodedService) GetCameraConstraints() model.CameraConstraints {
	return svc.settings.CameraConstraints
}

func (svc *hardcodedService) GetRuntimeType() string {
	return svc.settings.RuntimeType
}

func (svc *hardcodedService) GetModelParameters(kind string) ModelParameters {
	return svc.settings.Models[kind]
}

func (svc *hardcodedService) IsDocumentFlowEnabled() bool {
	return svc.settings.EnableDocumentFlow
}

func (svc *hardcodedService) IsFaceComparisonEnabled() bool {
	return svc.settings.EnableFaceComparison
}

func (svc *hardcodedService) Settings() Settings {
	s := svc.settings
	s.Models = make(map[string]ModelParameters, len(svc.settings.Models))
	for k, v := range svc.settings.Models {
		s.Models[k] = v
	}
	return s
}
