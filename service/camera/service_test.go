package camera

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/khaledhikmat/vs-liveness/model"
	"github.com/khaledhikmat/vs-liveness/service/display"
)

type stubFeed struct {
	frame  image.Image
	closed int
}

func (f *stubFeed) ReadFrame() (image.Image, bool) {
	return f.frame, f.frame != nil
}

func (f *stubFeed) Close() error {
	f.closed++
	return nil
}

type stubDevice struct {
	feed *stubFeed
	err  error
}

func (d *stubDevice) Open(context.Context, model.CameraConstraints) (Feed, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.feed, nil
}

func newDoc() display.IService {
	doc := display.NewMemory()
	doc.Register(display.KindVideo, "video")
	return doc
}

func TestStartWithoutDevice(t *testing.T) {
	svc := New(newDoc(), nil)

	_, err := svc.Start(context.Background(), "video", model.CameraConstraints{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestStartMissingVideoElement(t *testing.T) {
	svc := New(display.NewMemory(), &stubDevice{feed: &stubFeed{}})

	_, err := svc.Start(context.Background(), "video", model.CameraConstraints{})
	if !errors.Is(err, display.ErrMissingElement) {
		t.Fatalf("expected ErrMissingElement, got %v", err)
	}
}

func TestStartDeviceError(t *testing.T) {
	denied := errors.New("permission denied")
	svc := New(newDoc(), &stubDevice{err: denied})

	_, err := svc.Start(context.Background(), "video", model.CameraConstraints{})
	if !errors.Is(err, denied) {
		t.Fatalf("expected wrapped device error, got %v", err)
	}
}

func TestStartBindsAndStopReleases(t *testing.T) {
	doc := newDoc()
	feed := &stubFeed{frame: image.NewRGBA(image.Rect(0, 0, 32, 24))}
	svc := New(doc, &stubDevice{feed: feed})

	stream, err := svc.Start(context.Background(), "video", model.CameraConstraints{
		Video: model.VideoConstraints{FacingMode: "user"},
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if stream.ID == "" || len(stream.Tracks) != 1 {
		t.Fatalf("unexpected stream %+v", stream)
	}

	video, _ := doc.Video("video")
	if !video.Playing() {
		t.Error("expected video to be playing")
	}
	if _, ok := video.CurrentFrame(); !ok {
		t.Fatal("expected the video to receive frames")
	}

	svc.Stop(stream)
	svc.Stop(stream)
	svc.Stop(nil)

	for _, track := range stream.Tracks {
		if !track.Stopped() {
			t.Errorf("track %s still live", track.ID)
		}
	}
	if feed.closed != 1 {
		t.Errorf("expected feed closed once, got %d", feed.closed)
	}
	if _, ok := stream.ReadFrame(); ok {
		t.Error("stopped stream must not deliver frames")
	}
}

func TestRandomDeviceProducesFrames(t *testing.T) {
	feed, err := NewRandom().Open(context.Background(), model.CameraConstraints{
		Video: model.VideoConstraints{Width: 64, Height: 48, FPS: 100},
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer feed.Close()

	deadline := time.After(2 * time.Second)
	for {
		if frame, ok := feed.ReadFrame(); ok {
			if sz := frame.Bounds().Size(); sz != image.Pt(64, 48) {
				t.Fatalf("expected 64x48, got %v", sz)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("no frame produced")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
