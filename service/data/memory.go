package data

import (
	"fmt"
	"sync"
	"time"

	"github.com/khaledhikmat/vs-liveness/model"
)

// Each journal keeps at most this many entries, oldest dropped first.
const maxEntries = 200

type memoryService struct {
	mu              sync.RWMutex
	errors          []ErrorRecord
	controllerStats []model.ControllerStats
	featureStats    []model.FeatureStats
}

// NewMemory returns a process-local journal of errors and stats.
func NewMemory() IService {
	return &memoryService{}
}

func (svc *memoryService) NewError(err interface{}) error {
	if err == nil {
		return fmt.Errorf("nil error reported")
	}

	// Determine if the error is custom
	var customErr model.CustomError
	switch e := err.(type) {
	case model.CustomError:
		customErr = e
	case *model.CustomError:
		customErr = *e
	case error:
		customErr.Processor = "N/A"
		customErr.Inner = e
		customErr.Message = e.Error()
		customErr.StackTrace = "N/A"
	default:
		customErr.Processor = "N/A"
		customErr.Message = fmt.Sprintf("%v", e)
		customErr.StackTrace = "N/A"
	}

	inner := ""
	if customErr.Inner != nil {
		inner = customErr.Inner.Error()
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.errors = newEntity(svc.errors, ErrorRecord{
		Timestamp:  time.Now().Unix(),
		Processor:  customErr.Processor,
		Inner:      inner,
		Message:    customErr.Message,
		StackTrace: customErr.StackTrace,
		Misc:       customErr.Misc,
	})
	return nil
}

func (svc *memoryService) NewControllerStats(stats model.ControllerStats) error {
	stats.Timestamp = time.Now().Unix()

	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.controllerStats = newEntity(svc.controllerStats, stats)
	return nil
}

func (svc *memoryService) NewFeatureStats(stats model.FeatureStats) error {
	stats.Timestamp = time.Now().Unix()

	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.featureStats = newEntity(svc.featureStats, stats)
	return nil
}

func (svc *memoryService) RetrieveErrors() ([]ErrorRecord, error) {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	return retrieveEntities(svc.errors), nil
}

func (svc *memoryService) RetrieveControllerStats() ([]model.ControllerStats, error) {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	return retrieveEntities(svc.controllerStats), nil
}

func (svc *memoryService) RetrieveFeatureStats() ([]model.FeatureStats, error) {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	return retrieveEntities(svc.featureStats), nil
}

func newEntity[T any](entities []T, entity T) []T {
	entities = append(entities, entity)
	if len(entities) > maxEntries {
		entities = append([]T(nil), entities[len(entities)-maxEntries:]...)
	}
	return entities
}

func retrieveEntities[T any](entities []T) []T {
	out := make([]T, len(entities))
	copy(out, entities)
	return out
}
