package opencv

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/khaledhikmat/vs-liveness/model"
	"github.com/khaledhikmat/vs-liveness/service/camera"
	"github.com/khaledhikmat/vs-liveness/service/lgr"
	"gocv.io/x/gocv"
)

const readRetryDelay = 10 * time.Millisecond

type captureDevice struct{}

// NewDevice returns a camera device backed by gocv VideoCapture. The
// constraint DeviceID is either a device index or a stream URL.
func NewDevice() camera.Device {
	return &captureDevice{}
}

func (d *captureDevice) Open(_ context.Context, constraints model.CameraConstraints) (camera.Feed, error) {
	var source interface{} = constraints.Video.DeviceID
	if idx, err := strconv.Atoi(constraints.Video.DeviceID); err == nil {
		source = idx
	} else if constraints.Video.DeviceID == "" {
		source = 0
	}

	webcam, err := gocv.OpenVideoCapture(source)
	if err != nil {
		return nil, fmt.Errorf("opening video capture %v: %w", source, err)
	}

	if constraints.Video.Width > 0 {
		webcam.Set(gocv.VideoCaptureFrameWidth, float64(constraints.Video.Width))
	}
	if constraints.Video.Height > 0 {
		webcam.Set(gocv.VideoCaptureFrameHeight, float64(constraints.Video.Height))
	}
	if constraints.Video.FPS > 0 {
		webcam.Set(gocv.VideoCaptureFPS, float64(constraints.Video.FPS))
	}

	canxCtx, cancel := context.WithCancel(context.Background())
	f := &captureFeed{
		webcam: webcam,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go f.run(canxCtx)
	return f, nil
}

// captureFeed reads frames in the background and keeps only the latest.
type captureFeed struct {
	webcam *gocv.VideoCapture
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.RWMutex
	latest image.Image
}

func (f *captureFeed) run(canxCtx context.Context) {
	defer close(f.done)
	defer f.webcam.Close()

	frames := 0
	errors := 0
	defer func() {
		lgr.Logger.Info("captureFeed stopped",
			slog.Int("frames", frames),
			slog.Int("errors", errors),
		)
	}()

	img := gocv.NewMat()
	defer img.Close() // Crucial to close the image to avoid memory leaks

	for {
		select {
		case <-canxCtx.Done():
			return
		default:
			if ok := f.webcam.Read(&img); !ok || img.Empty() {
				errors++
				time.Sleep(readRetryDelay)
				continue
			}

			frame, err := img.ToImage()
			if err != nil {
				errors++
				continue
			}

			frames++
			f.mu.Lock()
			f.latest = frame
			f.mu.Unlock()
		}
	}
}

func (f *captureFeed) ReadFrame() (image.Image, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.latest, f.latest != nil
}

func (f *captureFeed) Close() error {
	f.cancel()
	<-f.done
	return nil
}
