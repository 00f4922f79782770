package canvas

import (
	"image"

	"github.com/khaledhikmat/vs-liveness/model"
	"github.com/khaledhikmat/vs-liveness/service/display"
)

// Surface is a canvas holding a captured frame.
type Surface struct {
	CanvasID string
	Size     image.Point

	canvas *display.Canvas
}

type IService interface {
	// Capture copies the current video frame into the canvas. It returns a nil
	// surface and no error while the video has no decoded frame.
	Capture(videoID string, canvasID string) (*Surface, error)
	// Grab returns a copy of the current video frame, false while none exists.
	Grab(videoID string) (image.Image, bool, error)
	DrawImage(canvasID string, img image.Image) (*Surface, error)
	DrawLivenessBoxes(s *Surface, results []model.LivenessScore, threshold float64)
	// Snapshot encodes the canvas as a PNG data URI.
	Snapshot(canvasID string) (string, error)
}
