package comparison

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/khaledhikmat/vs-liveness/model"
	"github.com/khaledhikmat/vs-liveness/service/lgr"
)

type PhotoListener func(photo string)

type DocumentListener func(detection *model.DocumentDetection)

// Store holds the captured photo and the document detection. Each slot has
// its own listeners; setters notify them synchronously with the new value.
type Store struct {
	mu        sync.RWMutex
	state     model.ComparisonState
	photos    *listeners[string]
	documents *listeners[*model.DocumentDetection]
}

func New() *Store {
	return &Store{
		photos:    newListeners[string]("capturedPhoto"),
		documents: newListeners[*model.DocumentDetection]("documentDetection"),
	}
}

// State returns a copy of the current state.
func (s *Store) State() model.ComparisonState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := s.state
	if state.DocumentDetection != nil {
		state.DocumentDetection = cloneDetection(state.DocumentDetection)
	}
	return state
}

func (s *Store) SetCapturedPhoto(photo string) {
	s.mu.Lock()
	s.state.CapturedPhoto = photo
	s.mu.Unlock()

	s.photos.notify(photo)
}

func (s *Store) ClearCapturedPhoto() {
	s.SetCapturedPhoto("")
}

func (s *Store) SetDocumentDetection(detection *model.DocumentDetection) {
	if detection != nil {
		detection = cloneDetection(detection)
	}

	s.mu.Lock()
	s.state.DocumentDetection = detection
	s.mu.Unlock()

	s.documents.notify(detection)
}

func (s *Store) ClearDocumentDetection() {
	s.SetDocumentDetection(nil)
}

// OnCapturedPhotoChange registers fn and returns its disposer.
func (s *Store) OnCapturedPhotoChange(fn PhotoListener) func() {
	return s.photos.add(fn)
}

// OnDocumentDetectionChange registers fn and returns its disposer.
func (s *Store) OnDocumentDetectionChange(fn DocumentListener) func() {
	return s.documents.add(fn)
}

type listeners[T any] struct {
	name string

	mu     sync.Mutex
	nextID int
	order  []int
	fns    map[int]func(T)
}

func newListeners[T any](name string) *listeners[T] {
	return &listeners[T]{
		name: name,
		fns:  map[int]func(T){},
	}
}

func (l *listeners[T]) add(fn func(T)) func() {
	if fn == nil {
		return func() {}
	}

	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.fns[id] = fn
	l.order = append(l.order, id)
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.fns, id)
			for i, v := range l.order {
				if v == id {
					l.order = append(l.order[:i], l.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (l *listeners[T]) notify(value T) {
	l.mu.Lock()
	fns := make([]func(T), 0, len(l.order))
	for _, id := range l.order {
		fns = append(fns, l.fns[id])
	}
	l.mu.Unlock()

	for _, fn := range fns {
		l.call(fn, value)
	}
}

func (l *listeners[T]) call(fn func(T), value T) {
	defer func() {
		if r := recover(); r != nil {
			lgr.Logger.Error("comparison.notify",
				slog.String("slot", l.name),
				lgr.Err(fmt.Errorf("listener panicked: %v", r)),
			)
		}
	}()

	fn(value)
}

func cloneDetection(d *model.DocumentDetection) *model.DocumentDetection {
	out := *d
	out.Landmarks = make([]model.Landmarks, len(d.Landmarks))
	for i, lm := range d.Landmarks {
		out.Landmarks[i] = model.Landmarks{
			BBox:   lm.BBox,
			Points: append([]model.Point(nil), lm.Points...),
		}
	}
	return &out
}
