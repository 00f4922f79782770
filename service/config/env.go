package config

import (
	"os"
	"strconv"
	"time"
)

// NewEnv overlays environment variables on top of the base service settings.
// Unset or unparsable variables keep the base value.
func NewEnv(base IService) IService {
	s := base.Settings()

	s.ModeMaxShutdownTime = envInt("MODE_MAX_SHUTDOWN_TIME", s.ModeMaxShutdownTime)
	s.ServerAddress = envString("SERVER_ADDRESS", s.ServerAddress)
	s.LiveScoreThreshold = envFloat("LIVENESS_SCORE_THRESHOLD", s.LiveScoreThreshold)
	s.MatchThreshold = envFloat("MATCH_THRESHOLD", s.MatchThreshold)
	s.InferenceInterval = envMillis("LIVENESS_INFERENCE_INTERVAL_MS", s.InferenceInterval)
	s.ImageLibraryLoadTimeout = envMillis("IMAGE_LIBRARY_LOAD_TIMEOUT_MS", s.ImageLibraryLoadTimeout)
	s.CameraType = envString("CAMERA_TYPE", s.CameraType)
	s.CameraConstraints.Video.DeviceID = envString("CAMERA_DEVICE", s.CameraConstraints.Video.DeviceID)
	s.CameraConstraints.Video.FacingMode = envString("CAMERA_FACING_MODE", s.CameraConstraints.Video.FacingMode)
	s.CameraConstraints.Video.Width = envInt("CAMERA_WIDTH", s.CameraConstraints.Video.Width)
	s.CameraConstraints.Video.Height = envInt("CAMERA_HEIGHT", s.CameraConstraints.Video.Height)
	s.CameraConstraints.Video.FPS = envInt("CAMERA_FPS", s.CameraConstraints.Video.FPS)
	s.RuntimeType = envString("RUNTIME_TYPE", s.RuntimeType)
	s.EnableDocumentFlow = envBool("FEATURE_DOCUMENT_FLOW", s.EnableDocumentFlow)
	s.EnableFaceComparison = envBool("FEATURE_FACE_COMPARISON", s.EnableFaceComparison)

	for kind, env := range map[string]string{
		ModelDetection: "MODEL_DETECTION_PATH",
		ModelLiveness:  "MODEL_LIVENESS_PATH",
		ModelLandmark:  "MODEL_LANDMARK_PATH",
		ModelFeature:   "MODEL_FEATURE_PATH",
	} {
		params := s.Models[kind]
		params.ModelPath = envString(env, params.ModelPath)
		s.Models[kind] = params
	}

	return NewFromSettings(s)
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	f, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || f < 0 {
		return fallback
	}
	return f
}

func envMillis(key string, fallback time.Duration) time.Duration {
	n := envInt(key, 0)
	if n == 0 {
		return fallback
	}
	return time.Duration(n) * time.Millisecond
}

func envBool(key string, fallback bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return b
}
