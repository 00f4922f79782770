package display

import (
	"image"
	"image/draw"
	"log/slog"
	"sort"
	"sync"

	"github.com/khaledhikmat/vs-liveness/service/lgr"
)

type memoryService struct {
	mu          sync.RWMutex
	texts       map[string]*textElement
	buttons     map[string]*Button
	images      map[string]*Image
	videos      map[string]*Video
	canvases    map[string]*Canvas
	subscribers map[int]func(Event)
	nextSubID   int
}

func NewMemory() IService {
	return &memoryService{
		texts:       map[string]*textElement{},
		buttons:     map[string]*Button{},
		images:      map[string]*Image{},
		videos:      map[string]*Video{},
		canvases:    map[string]*Canvas{},
		subscribers: map[int]func(Event){},
	}
}

func (svc *memoryService) Register(kind Kind, ids ...string) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	for _, id := range ids {
		if id == "" {
			continue
		}
		switch kind {
		case KindText:
			if _, ok := svc.texts[id]; !ok {
				svc.texts[id] = &textElement{}
			}
		case KindButton:
			if _, ok := svc.buttons[id]; !ok {
				svc.buttons[id] = &Button{id: id, emit: svc.emit}
			}
		case KindImage:
			if _, ok := svc.images[id]; !ok {
				svc.images[id] = &Image{id: id, emit: svc.emit}
			}
		case KindVideo:
			if _, ok := svc.videos[id]; !ok {
				svc.videos[id] = &Video{id: id, emit: svc.emit}
			}
		case KindCanvas:
			if _, ok := svc.canvases[id]; !ok {
				svc.canvases[id] = &Canvas{id: id, emit: svc.emit, pix: image.NewRGBA(image.Rect(0, 0, 0, 0))}
			}
		default:
			lgr.Logger.Warn("unknown display element kind", slog.String("kind", string(kind)), slog.String("id", id))
		}
	}
}

// SetText updates a text element. Unknown ids are ignored.
func (svc *memoryService) SetText(id string, text string) {
	svc.mu.RLock()
	el, ok := svc.texts[id]
	svc.mu.RUnlock()
	if !ok {
		return
	}

	el.mu.Lock()
	el.text = text
	el.mu.Unlock()

	svc.emit(Event{ID: id, Kind: KindText, Property: "text", Value: text})
}

func (svc *memoryService) Text(id string) (string, error) {
	svc.mu.RLock()
	el, ok := svc.texts[id]
	svc.mu.RUnlock()
	if !ok {
		return "", missing(id)
	}

	el.mu.Lock()
	defer el.mu.Unlock()
	return el.text, nil
}

func (svc *memoryService) Button(id string) (*Button, error) {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	if b, ok := svc.buttons[id]; ok {
		return b, nil
	}
	return nil, missing(id)
}

func (svc *memoryService) Image(id string) (*Image, error) {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	if img, ok := svc.images[id]; ok {
		return img, nil
	}
	return nil, missing(id)
}

func (svc *memoryService) Video(id string) (*Video, error) {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	if v, ok := svc.videos[id]; ok {
		return v, nil
	}
	return nil, missing(id)
}

func (svc *memoryService) Canvas(id string) (*Canvas, error) {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	if c, ok := svc.canvases[id]; ok {
		return c, nil
	}
	return nil, missing(id)
}

// Subscribe registers fn for every element change. The returned func
// unregisters it and may be called more than once.
func (svc *memoryService) Subscribe(fn func(Event)) func() {
	svc.mu.Lock()
	id := svc.nextSubID
	svc.nextSubID++
	svc.subscribers[id] = fn
	svc.mu.Unlock()

	return func() {
		svc.mu.Lock()
		delete(svc.subscribers, id)
		svc.mu.Unlock()
	}
}

func (svc *memoryService) Snapshot() []ElementState {
	svc.mu.RLock()
	defer svc.mu.RUnlock()

	states := []ElementState{}
	for id, el := range svc.texts {
		el.mu.Lock()
		states = append(states, ElementState{ID: id, Kind: KindText, Text: el.text})
		el.mu.Unlock()
	}
	for id, b := range svc.buttons {
		states = append(states, ElementState{ID: id, Kind: KindButton, Text: b.Label(), Disabled: b.Disabled()})
	}
	for id, img := range svc.images {
		sz := img.NaturalSize()
		states = append(states, ElementState{ID: id, Kind: KindImage, Width: sz.X, Height: sz.Y})
	}
	for id, v := range svc.videos {
		sz := v.Size()
		states = append(states, ElementState{ID: id, Kind: KindVideo, Width: sz.X, Height: sz.Y, Playing: v.Playing()})
	}
	for id, c := range svc.canvases {
		sz := c.Size()
		states = append(states, ElementState{ID: id, Kind: KindCanvas, Width: sz.X, Height: sz.Y})
	}

	sort.Slice(states, func(i, j int) bool {
		return states[i].ID < states[j].ID
	})
	return states
}

func (svc *memoryService) emit(e Event) {
	svc.mu.RLock()
	subs := make([]func(Event), 0, len(svc.subscribers))
	for _, fn := range svc.subscribers {
		subs = append(subs, fn)
	}
	svc.mu.RUnlock()

	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					lgr.Logger.Error("display subscriber panicked", slog.Any("panic", r), slog.String("element", e.ID))
				}
			}()
			fn(e)
		}()
	}
}

type textElement struct {
	mu   sync.Mutex
	text string
}

type Button struct {
	mu       sync.Mutex
	id       string
	disabled bool
	label    string
	emit     func(Event)
}

func (b *Button) SetDisabled(disabled bool) {
	b.mu.Lock()
	changed := b.disabled != disabled
	b.disabled = disabled
	b.mu.Unlock()

	if changed {
		b.emit(Event{ID: b.id, Kind: KindButton, Property: "disabled", Value: disabled})
	}
}

func (b *Button) Disabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disabled
}

func (b *Button) SetLabel(label string) {
	b.mu.Lock()
	b.label = label
	b.mu.Unlock()

	b.emit(Event{ID: b.id, Kind: KindButton, Property: "label", Value: label})
}

func (b *Button) Label() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.label
}

// Image is a preview element holding a data URI source and its decoded pixels.
type Image struct {
	mu      sync.Mutex
	id      string
	src     string
	decoded image.Image
	emit    func(Event)
}

// SetSource decodes the data URI. On failure the element is left without
// decoded pixels and the error is returned.
func (img *Image) SetSource(dataURL string) error {
	decoded, err := DecodeDataURL(dataURL)

	img.mu.Lock()
	img.src = dataURL
	img.decoded = decoded
	img.mu.Unlock()

	if err != nil {
		img.emit(Event{ID: img.id, Kind: KindImage, Property: "error", Value: err.Error()})
		return err
	}

	b := decoded.Bounds()
	img.emit(Event{ID: img.id, Kind: KindImage, Property: "load", Value: []int{b.Dx(), b.Dy()}})
	return nil
}

func (img *Image) Source() string {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.src
}

// Decoded returns the decoded pixels, false when the source did not decode.
func (img *Image) Decoded() (image.Image, bool) {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.decoded, img.decoded != nil
}

func (img *Image) NaturalSize() image.Point {
	img.mu.Lock()
	defer img.mu.Unlock()
	if img.decoded == nil {
		return image.Point{}
	}
	return img.decoded.Bounds().Size()
}

// Video plays a FrameSource. Size is zero until the first frame is decoded.
type Video struct {
	mu      sync.Mutex
	id      string
	src     FrameSource
	playing bool
	last    image.Image
	emit    func(Event)
}

func (v *Video) SetSource(src FrameSource) {
	v.mu.Lock()
	v.src = src
	v.last = nil
	v.playing = false
	v.mu.Unlock()

	v.emit(Event{ID: v.id, Kind: KindVideo, Property: "srcObject", Value: src != nil})
}

func (v *Video) Source() FrameSource {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.src
}

func (v *Video) Play() {
	v.mu.Lock()
	v.playing = v.src != nil
	playing := v.playing
	v.mu.Unlock()

	v.emit(Event{ID: v.id, Kind: KindVideo, Property: "playing", Value: playing})
}

func (v *Video) Playing() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.playing
}

// CurrentFrame returns the latest decoded frame of the playing source.
func (v *Video) CurrentFrame() (image.Image, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.playing || v.src == nil {
		return nil, false
	}

	if frame, ok := v.src.ReadFrame(); ok && frame != nil {
		v.last = frame
	}

	return v.last, v.last != nil
}

// Size returns the native resolution of the last decoded frame.
func (v *Video) Size() image.Point {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.playing || v.last == nil {
		return image.Point{}
	}
	return v.last.Bounds().Size()
}

// Canvas is a drawable RGBA surface.
type Canvas struct {
	mu   sync.Mutex
	id   string
	pix  *image.RGBA
	emit func(Event)
}

func (c *Canvas) ID() string {
	return c.id
}

func (c *Canvas) Size() image.Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pix.Bounds().Size()
}

// Resize reallocates the pixel buffer, clearing its content.
func (c *Canvas) Resize(width, height int) {
	c.mu.Lock()
	c.pix = image.NewRGBA(image.Rect(0, 0, width, height))
	c.mu.Unlock()

	c.emit(Event{ID: c.id, Kind: KindCanvas, Property: "size", Value: []int{width, height}})
}

// Update runs fn with exclusive access to the pixel buffer.
func (c *Canvas) Update(fn func(pix *image.RGBA)) {
	c.mu.Lock()
	fn(c.pix)
	c.mu.Unlock()

	c.emit(Event{ID: c.id, Kind: KindCanvas, Property: "pixels", Value: nil})
}

// Image returns a copy of the current pixels.
func (c *Canvas) Image() *image.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := image.NewRGBA(c.pix.Bounds())
	draw.Draw(out, out.Bounds(), c.pix, c.pix.Bounds().Min, draw.Src)
	return out
}

func (c *Canvas) ToDataURL() (string, error) {
	return EncodeDataURL(c.Image())
}
