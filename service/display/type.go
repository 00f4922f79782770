package display

import (
	"errors"
	"fmt"
	"image"
)

var ErrMissingElement = errors.New("missing required element")

type Kind string

const (
	KindText   Kind = "text"
	KindButton Kind = "button"
	KindImage  Kind = "image"
	KindVideo  Kind = "video"
	KindCanvas Kind = "canvas"
)

// Event is emitted whenever an element property changes.
type Event struct {
	ID       string `json:"id"`
	Kind     Kind   `json:"kind"`
	Property string `json:"property"`
	Value    any    `json:"value"`
}

// ElementState is the serializable view of one element.
type ElementState struct {
	ID       string `json:"id"`
	Kind     Kind   `json:"kind"`
	Text     string `json:"text,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Playing  bool   `json:"playing,omitempty"`
}

// FrameSource feeds a video element with decoded frames.
type FrameSource interface {
	ReadFrame() (image.Image, bool)
}

// IService is the display document. Elements are registered up front and
// looked up by id; lookups of unknown ids fail with ErrMissingElement.
type IService interface {
	Register(kind Kind, ids ...string)
	SetText(id string, text string)
	Text(id string) (string, error)
	Button(id string) (*Button, error)
	Image(id string) (*Image, error)
	Video(id string) (*Video, error)
	Canvas(id string) (*Canvas, error)
	Subscribe(fn func(Event)) func()
	Snapshot() []ElementState
}

func missing(id string) error {
	return fmt.Errorf("%w: #%s", ErrMissingElement, id)
}
