package pipeline

import (
	"sync"

	"github.com/khaledhikmat/vs-liveness/model"
	"github.com/khaledhikmat/vs-liveness/service/config"
	"github.com/khaledhikmat/vs-liveness/service/display"
	"github.com/khaledhikmat/vs-liveness/service/lgr"
	"github.com/khaledhikmat/vs-liveness/service/status"
)

// PhotoCaptureFeature grabs the current live video frame as the photo to
// compare against the document.
type PhotoCaptureFeature struct {
	svcs     ServicesFactory
	elements config.PhotoCaptureElements
	videoID  string
	status   status.IService
	preview  *display.Image

	mu    sync.Mutex
	stats model.FeatureStats
}

func NewPhotoCaptureFeature(svcs ServicesFactory) (*PhotoCaptureFeature, error) {
	elements := svcs.CfgSvc.GetPhotoCaptureElements()

	if _, err := svcs.DisplaySvc.Button(elements.ButtonID); err != nil {
		return nil, err
	}
	preview, err := svcs.DisplaySvc.Image(elements.PreviewImageID)
	if err != nil {
		return nil, err
	}

	return &PhotoCaptureFeature{
		svcs:     svcs,
		elements: elements,
		videoID:  svcs.CfgSvc.GetLivenessElements().VideoID,
		status:   status.NewChannel(svcs.DisplaySvc, elements.StatusID),
		preview:  preview,
		stats:    model.FeatureStats{Name: "capture"},
	}, nil
}

func (f *PhotoCaptureFeature) Capture() error {
	img, ok, err := f.svcs.CanvasSvc.Grab(f.videoID)
	if err != nil || !ok {
		f.status.Update("Start liveness and wait for the camera before capturing.")
		return nil
	}

	dataURL, err := display.EncodeDataURL(img)
	if err == nil {
		err = f.preview.SetSource(dataURL)
	}

	f.mu.Lock()
	f.stats.Runs++
	if err != nil {
		f.stats.Errors++
	}
	f.mu.Unlock()

	if err != nil {
		lgr.Logger.Error("capture.photo", lgr.Err(err))
		f.status.Update("Unable to capture photo.")
		return err
	}

	f.svcs.Store.SetCapturedPhoto(dataURL)
	f.status.Update("Captured photo ready. Analyze the document next.")
	return nil
}

// Close records the feature stats.
func (f *PhotoCaptureFeature) Close() {
	f.mu.Lock()
	stats := f.stats
	f.mu.Unlock()

	if f.svcs.DataSvc != nil {
		_ = f.svcs.DataSvc.NewFeatureStats(stats)
	}
}
