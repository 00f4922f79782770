package camera

import (
	"context"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/khaledhikmat/vs-liveness/model"
	"github.com/khaledhikmat/vs-liveness/service/lgr"
)

const (
	randomWidth  = 640
	randomHeight = 480
	randomFPS    = 15
)

type randomDevice struct{}

// NewRandom returns a device producing synthetic frames: a moving gradient
// with a bright ellipse in the middle.
func NewRandom() Device {
	return &randomDevice{}
}

func (d *randomDevice) Open(_ context.Context, constraints model.CameraConstraints) (Feed, error) {
	w, h, fps := constraints.Video.Width, constraints.Video.Height, constraints.Video.FPS
	if w <= 0 || h <= 0 {
		w, h = randomWidth, randomHeight
	}
	if fps <= 0 {
		fps = randomFPS
	}

	canxCtx, cancel := context.WithCancel(context.Background())
	f := &randomFeed{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go f.run(canxCtx, w, h, fps)
	return f, nil
}

type randomFeed struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.RWMutex
	latest image.Image
	frames int
}

func (f *randomFeed) run(canxCtx context.Context, w, h, fps int) {
	defer close(f.done)

	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	for {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info("randomFeed context cancelled", "frames", f.frameCount())
			return
		case <-ticker.C:
			f.mu.Lock()
			f.frames++
			f.latest = syntheticFrame(w, h, f.frames)
			f.mu.Unlock()
		}
	}
}

func (f *randomFeed) frameCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.frames
}

func (f *randomFeed) ReadFrame() (image.Image, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.latest, f.latest != nil
}

func (f *randomFeed) Close() error {
	f.cancel()
	<-f.done
	return nil
}

func syntheticFrame(w, h, tick int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	cx, cy := float64(w)/2, float64(h)/2
	rx, ry := float64(w)/6, float64(h)/4

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := (float64(x)-cx)/rx, (float64(y)-cy)/ry
			if dx*dx+dy*dy <= 1 {
				img.SetRGBA(x, y, color.RGBA{R: 224, G: 172, B: 105, A: 255})
				continue
			}
			v := uint8((x + y + tick*4) % 256)
			img.SetRGBA(x, y, color.RGBA{R: v / 4, G: v / 3, B: v / 2, A: 255})
		}
	}
	return img
}
