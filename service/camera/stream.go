package camera

import (
	"image"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/khaledhikmat/vs-liveness/service/lgr"
)

type Track struct {
	ID    string
	Kind  string
	Label string

	mu      sync.Mutex
	stopped bool
}

func (t *Track) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func (t *Track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Stream is a started camera stream. It feeds a display video element.
type Stream struct {
	ID     string
	Tracks []*Track

	feed      Feed
	closeOnce sync.Once
}

func newStream(feed Feed, label string) *Stream {
	return &Stream{
		ID: uuid.NewString(),
		Tracks: []*Track{
			{ID: uuid.NewString(), Kind: "video", Label: label},
		},
		feed: feed,
	}
}

// ReadFrame returns the latest frame while any track is live.
func (s *Stream) ReadFrame() (image.Image, bool) {
	if !s.Active() {
		return nil, false
	}
	return s.feed.ReadFrame()
}

func (s *Stream) Active() bool {
	for _, t := range s.Tracks {
		if !t.Stopped() {
			return true
		}
	}
	return false
}

func (s *Stream) stop() {
	for _, t := range s.Tracks {
		t.Stop()
	}

	s.closeOnce.Do(func() {
		if err := s.feed.Close(); err != nil {
			lgr.Logger.Error("camera.stream.close",
				slog.String("stream", s.ID),
				lgr.Err(err),
			)
		}
	})
}
