package camera

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/khaledhikmat/vs-liveness/model"
	"github.com/khaledhikmat/vs-liveness/service/display"
	"github.com/khaledhikmat/vs-liveness/service/lgr"
)

type cameraService struct {
	doc    display.IService
	device Device
}

// New returns a camera service over dev. A nil dev makes every Start fail
// with ErrUnavailable.
func New(doc display.IService, dev Device) IService {
	return &cameraService{
		doc:    doc,
		device: dev,
	}
}

func (svc *cameraService) Start(ctx context.Context, videoID string, constraints model.CameraConstraints) (*Stream, error) {
	if svc.device == nil {
		return nil, ErrUnavailable
	}

	video, err := svc.doc.Video(videoID)
	if err != nil {
		return nil, err
	}

	feed, err := svc.device.Open(ctx, constraints)
	if err != nil {
		return nil, fmt.Errorf("opening camera: %w", err)
	}

	label := constraints.Video.DeviceID
	if label == "" {
		label = constraints.Video.FacingMode
	}

	stream := newStream(feed, label)
	video.SetSource(stream)
	video.Play()

	lgr.Logger.Info("camera.start",
		slog.String("stream", stream.ID),
		slog.String("video", videoID),
		slog.String("device", label),
	)
	return stream, nil
}

func (svc *cameraService) Stop(stream *Stream) {
	if stream == nil {
		return
	}

	stream.stop()
	lgr.Logger.Info("camera.stop", slog.String("stream", stream.ID))
}
