package comparison

import (
	"testing"

	"github.com/khaledhikmat/vs-liveness/model"
)

func TestSetCapturedPhotoNotifiesOnlyPhotoListeners(t *testing.T) {
	store := New()

	var photos []string
	documentCalls := 0
	store.OnCapturedPhotoChange(func(p string) { photos = append(photos, p) })
	store.OnDocumentDetectionChange(func(*model.DocumentDetection) { documentCalls++ })

	store.SetCapturedPhoto("data:image/png;base64,AAAA")

	if len(photos) != 1 || photos[0] != "data:image/png;base64,AAAA" {
		t.Fatalf("unexpected photo notifications %v", photos)
	}
	if documentCalls != 0 {
		t.Errorf("document listener called %d times", documentCalls)
	}
	if store.State().CapturedPhoto != "data:image/png;base64,AAAA" {
		t.Error("state not updated")
	}
}

func TestDisposerStopsNotifications(t *testing.T) {
	store := New()

	calls := 0
	dispose := store.OnDocumentDetectionChange(func(*model.DocumentDetection) { calls++ })

	store.SetDocumentDetection(&model.DocumentDetection{Size: 1})
	dispose()
	dispose()
	store.ClearDocumentDetection()

	if calls != 1 {
		t.Errorf("expected 1 notification, got %d", calls)
	}
}

func TestPanickingListenerDoesNotBlockOthers(t *testing.T) {
	store := New()

	store.OnCapturedPhotoChange(func(string) { panic("listener bug") })
	got := ""
	store.OnCapturedPhotoChange(func(p string) { got = p })

	store.SetCapturedPhoto("photo")

	if got != "photo" {
		t.Errorf("second listener got %q", got)
	}
}

func TestCanCompare(t *testing.T) {
	detection := &model.DocumentDetection{
		Snapshot:  "doc",
		Landmarks: []model.Landmarks{{Points: []model.Point{{X: 1, Y: 2}}}},
		Size:      1,
	}

	tests := []struct {
		name      string
		photo     string
		detection *model.DocumentDetection
		want      bool
	}{
		{"empty", "", nil, false},
		{"photo only", "photo", nil, false},
		{"document only", "", detection, false},
		{"no landmarks", "photo", &model.DocumentDetection{Size: 1}, false},
		{"both", "photo", detection, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := New()
			store.SetCapturedPhoto(tt.photo)
			store.SetDocumentDetection(tt.detection)
			if got := store.State().CanCompare(); got != tt.want {
				t.Errorf("CanCompare() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStateIsACopy(t *testing.T) {
	store := New()
	store.SetDocumentDetection(&model.DocumentDetection{
		Landmarks: []model.Landmarks{{Points: []model.Point{{X: 1}}}},
	})

	state := store.State()
	state.DocumentDetection.Landmarks[0].Points[0].X = 99

	if store.State().DocumentDetection.Landmarks[0].Points[0].X != 1 {
		t.Error("mutating a returned state leaked into the store")
	}
}
