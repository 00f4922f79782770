package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/khaledhikmat/vs-liveness/model"
	"github.com/khaledhikmat/vs-liveness/service/camera"
	"github.com/khaledhikmat/vs-liveness/service/config"
	"github.com/khaledhikmat/vs-liveness/service/lgr"
	"github.com/khaledhikmat/vs-liveness/service/runtime"
	"github.com/khaledhikmat/vs-liveness/service/status"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	buttonStarting = "Starting..."
	buttonRunning  = "Liveness Running"
	buttonRetry    = "Retry Liveness Detection"
	buttonStart    = "Start Liveness Detection"
)

var errStartCancelled = errors.New("liveness start cancelled")

// LivenessController runs the live liveness loop: capture a frame, detect
// faces, score liveness, annotate and publish status, until stopped.
type LivenessController struct {
	svcs     ServicesFactory
	elements config.LivenessElements
	status   status.IService

	mu          sync.Mutex
	state       model.ControllerState
	running     bool
	startCancel context.CancelFunc
	stopped     bool
	stream      *camera.Stream
	sdk         *runtime.SDK
	detection   runtime.Session
	liveness    runtime.Session
	wake        chan struct{}
	loopDone    chan struct{}
	stats       model.ControllerStats
	startedAt   time.Time
}

func NewLivenessController(svcs ServicesFactory) *LivenessController {
	elements := svcs.CfgSvc.GetLivenessElements()
	return &LivenessController{
		svcs:     svcs,
		elements: elements,
		status:   status.NewChannel(svcs.DisplaySvc, elements.StatusID),
		state:    model.ControllerIdle,
	}
}

func (c *LivenessController) State() model.ControllerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *LivenessController) Stats() model.ControllerStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.stats
	if c.state == model.ControllerRunning {
		stats.Uptime = int64(time.Since(c.startedAt).Seconds())
	}
	return stats
}

// Start acquires the image library, the models and the camera, then
// launches the inference loop. It does nothing unless the controller is idle.
func (c *LivenessController) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != model.ControllerIdle {
		c.mu.Unlock()
		return nil
	}
	startCtx, cancel := context.WithCancel(ctx)
	c.state = model.ControllerLoading
	c.startCancel = cancel
	c.stopped = false
	c.mu.Unlock()

	defer cancel()

	stream, err := c.acquire(startCtx)
	if err == nil {
		c.mu.Lock()
		if c.stopped {
			err = errStartCancelled
		} else {
			c.launch(stream)
		}
		c.mu.Unlock()
	}

	if err != nil {
		if stream != nil {
			c.svcs.CameraSvc.Stop(stream)
		}

		c.mu.Lock()
		c.state = model.ControllerIdle
		c.startCancel = nil
		stopped := c.stopped
		c.mu.Unlock()

		if stopped {
			c.status.Update("Liveness demo stopped.")
			return errStartCancelled
		}

		lgr.Logger.Error("liveness.start", lgr.Err(err))
		c.status.Update(err.Error())
		return err
	}

	return nil
}

func (c *LivenessController) acquire(ctx context.Context) (*camera.Stream, error) {
	sdk, err := c.svcs.Runtime.Get()
	if err != nil {
		return nil, err
	}

	c.status.Update("Loading OpenCV...")
	if err := c.svcs.Gate.Ready(ctx, c.svcs.CfgSvc.GetImageLibraryLoadTimeout()); err != nil {
		return nil, err
	}

	c.mu.Lock()
	loaded := c.detection != nil && c.liveness != nil
	c.mu.Unlock()

	if !loaded {
		c.status.Update("Loading detection and liveness models...")
		sessions, err := loadSessions(ctx, c.svcs.Sessions,
			sessionRequest{kind: config.ModelDetection, load: sdk.LoadDetectionModel},
			sessionRequest{kind: config.ModelLiveness, load: sdk.LoadLivenessModel},
		)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.detection, c.liveness = sessions[0], sessions[1]
		c.mu.Unlock()
	}

	c.status.Update("Starting camera...")
	stream, err := c.svcs.CameraSvc.Start(ctx, c.elements.VideoID, c.svcs.CfgSvc.GetCameraConstraints())
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.sdk = sdk
	c.mu.Unlock()
	return stream, nil
}

// launch flips to running, publishes it and starts the loop. Callers hold
// c.mu, so a Stop waiting on it always reports after the running status.
func (c *LivenessController) launch(stream *camera.Stream) {
	c.stream = stream
	c.state = model.ControllerRunning
	c.running = true
	c.startCancel = nil
	c.wake = make(chan struct{})
	c.loopDone = make(chan struct{})
	c.startedAt = time.Now()
	c.stats = model.ControllerStats{Name: "liveness"}

	if button, err := c.svcs.DisplaySvc.Button(c.elements.ButtonID); err == nil {
		button.SetLabel(buttonRunning)
		button.SetDisabled(true)
	}
	c.status.Update("Running liveness detection.")

	go c.loop(c.wake, c.loopDone)
}

// Stop ends the loop after the in-flight cycle, releases the camera and
// reports the run. Stopping an idle controller does nothing.
func (c *LivenessController) Stop() {
	c.mu.Lock()
	switch {
	case c.state == model.ControllerLoading:
		c.stopped = true
		if c.startCancel != nil {
			c.startCancel()
		}
		c.mu.Unlock()
		return

	case c.state != model.ControllerRunning || !c.running:
		c.mu.Unlock()
		return
	}

	c.running = false
	close(c.wake)
	done := c.loopDone
	c.mu.Unlock()

	<-done

	c.mu.Lock()
	stream := c.stream
	c.stream = nil
	c.state = model.ControllerIdle
	c.stats.Uptime = int64(time.Since(c.startedAt).Seconds())
	stats := c.stats
	c.mu.Unlock()

	c.svcs.CameraSvc.Stop(stream)

	if c.svcs.DataSvc != nil {
		if err := c.svcs.DataSvc.NewControllerStats(stats); err != nil {
			lgr.Logger.Error("failed to store controller stats", slog.Any("stats", stats), lgr.Err(err))
		}
	}

	if button, err := c.svcs.DisplaySvc.Button(c.elements.ButtonID); err == nil {
		button.SetLabel(buttonStart)
		button.SetDisabled(false)
	}

	c.status.Update("Liveness demo stopped.")
}

// StartFromButton wraps Start with the start button's feedback.
func (c *LivenessController) StartFromButton(ctx context.Context) error {
	if c.State() != model.ControllerIdle {
		return nil
	}

	button, _ := c.svcs.DisplaySvc.Button(c.elements.ButtonID)
	if button != nil {
		button.SetDisabled(true)
		button.SetLabel(buttonStarting)
	}

	err := c.Start(ctx)
	if err != nil && button != nil {
		label := buttonRetry
		if errors.Is(err, errStartCancelled) {
			label = buttonStart
		}
		button.SetLabel(label)
		button.SetDisabled(false)
	}
	return err
}

func (c *LivenessController) isRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *LivenessController) loop(wake <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := c.svcs.CfgSvc.GetInferenceInterval()
	lgr.Logger.Info("liveness.loop starting", slog.Duration("interval", interval))

	for c.isRunning() {
		c.runCycle(context.Background())

		timer := time.NewTimer(interval)
		select {
		case <-wake:
		case <-timer.C:
		}
		timer.Stop()
	}

	lgr.Logger.Info("liveness.loop exited")
}

func (c *LivenessController) runCycle(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "liveness.cycle")
	defer span.End()

	err := c.safeCycle(ctx, span)

	c.mu.Lock()
	c.stats.Cycles++
	if err != nil {
		c.stats.Errors++
	}
	c.mu.Unlock()

	if err == nil {
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	lgr.Logger.Error("liveness.cycle", lgr.Err(err))
	if c.svcs.DataSvc != nil {
		_ = c.svcs.DataSvc.NewError(model.GenError("liveness_controller", err, nil, "inference cycle failed"))
	}
	c.status.Update(err.Error())
}

func (c *LivenessController) safeCycle(ctx context.Context, span trace.Span) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("inference panicked: %v", r)
		}
	}()
	return c.cycle(ctx, span)
}

func (c *LivenessController) cycle(ctx context.Context, span trace.Span) error {
	c.mu.Lock()
	sdk, detection, liveness := c.sdk, c.detection, c.liveness
	c.mu.Unlock()

	surface, err := c.svcs.CanvasSvc.Capture(c.elements.VideoID, c.elements.CanvasID)
	if err != nil {
		return err
	}
	if surface == nil {
		c.status.Update("Waiting for video feed...")
		return nil
	}

	det, err := sdk.DetectFace(ctx, detection, c.elements.CanvasID)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.Int("faces", det.Size))
	if det.Size == 0 {
		c.status.Update("No face detected.")
		return nil
	}

	scores, err := sdk.PredictLiveness(ctx, liveness, c.elements.CanvasID, det.BBox)
	if err != nil {
		return err
	}
	if len(scores) == 0 {
		c.status.Update("Unable to compute liveness.")
		return nil
	}

	threshold := c.svcs.CfgSvc.GetLiveScoreThreshold()
	c.svcs.CanvasSvc.DrawLivenessBoxes(surface, scores, threshold)

	best := model.MaxScore(scores)
	label := "Spoof"
	if best >= threshold {
		label = "Live"
	}
	span.SetAttributes(attribute.Float64("score", best))

	c.mu.Lock()
	c.stats.Faces += det.Size
	c.stats.LastScore = best
	c.mu.Unlock()

	c.status.Update(fmt.Sprintf("%s face detected (score: %.2f)", label, best))
	return nil
}
