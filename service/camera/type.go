package camera

import (
	"context"
	"errors"
	"image"

	"github.com/khaledhikmat/vs-liveness/model"
)

var ErrUnavailable = errors.New("camera API not available in this environment")

// Feed is an open capture stream. ReadFrame returns the most recent decoded
// frame, false until the first one arrives.
type Feed interface {
	ReadFrame() (image.Image, bool)
	Close() error
}

// Device opens capture feeds. The feed outlives ctx; it ends on Close.
type Device interface {
	Open(ctx context.Context, constraints model.CameraConstraints) (Feed, error)
}

type IService interface {
	// Start opens a stream, binds it to the video element and starts playback.
	Start(ctx context.Context, videoID string, constraints model.CameraConstraints) (*Stream, error)
	// Stop stops every track of the stream. Nil streams are ignored.
	Stop(stream *Stream)
}
