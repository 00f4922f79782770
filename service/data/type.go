package data

import "github.com/khaledhikmat/vs-liveness/model"

// ErrorRecord is the stored form of a reported error.
type ErrorRecord struct {
	Timestamp  int64                  `json:"timestamp"`
	Processor  string                 `json:"processor"`
	Inner      string                 `json:"innerError"`
	Message    string                 `json:"message"`
	StackTrace string                 `json:"stackTrace"`
	Misc       map[string]interface{} `json:"misc"`
}

type IService interface {
	NewError(err interface{}) error
	NewControllerStats(stats model.ControllerStats) error
	NewFeatureStats(stats model.FeatureStats) error

	RetrieveErrors() ([]ErrorRecord, error)
	RetrieveControllerStats() ([]model.ControllerStats, error)
	RetrieveFeatureStats() ([]model.FeatureStats, error)
}
