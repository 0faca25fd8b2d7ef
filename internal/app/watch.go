package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/ayusman/seatwatch/internal/capture"
	"github.com/ayusman/seatwatch/internal/seat"
)

// WatchConfig configures the camera watch job.
type WatchConfig struct {
	// Schedule is a standard cron spec or descriptor such as "@every 5s".
	Schedule string
	// MotionThreshold is the minimum percentage of changed pixels for a
	// frame to be evaluated. Zero evaluates every frame.
	MotionThreshold float64
	Seats           []seat.Region
	SessionID       string
}

// Watcher samples a camera on a cron schedule and runs each frame through
// the pipeline, carrying seat attendance between ticks.
type Watcher struct {
	pipeline *Pipeline
	camera   capture.Camera
	scene    *capture.SceneMonitor
	cron     *cron.Cron
	config   WatchConfig
	log      logrus.FieldLogger

	mu     sync.Mutex
	seats  []seat.Region
	last   gocv.Mat
	result FrameResult
	seen   bool
}

// NewWatcher creates a watcher. The schedule is validated here; the camera
// is opened by Start.
func NewWatcher(pipeline *Pipeline, camera capture.Camera, config WatchConfig, log logrus.FieldLogger) (*Watcher, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	schedule, err := cron.ParseStandard(config.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parse watch schedule %q: %w", config.Schedule, err)
	}

	w := &Watcher{
		pipeline: pipeline,
		camera:   camera,
		config:   config,
		log:      log.WithField("component", "watch"),
		seats:    append([]seat.Region(nil), config.Seats...),
	}
	if config.MotionThreshold > 0 {
		w.scene = capture.NewSceneMonitor(config.MotionThreshold)
	}

	w.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(w.log))))
	w.cron.Schedule(schedule, cron.FuncJob(func() {
		w.Tick(context.Background())
	}))
	return w, nil
}

// Start opens the camera and starts the schedule.
func (w *Watcher) Start() error {
	if err := w.camera.Open(); err != nil {
		return fmt.Errorf("open camera: %w", err)
	}
	w.cron.Start()
	w.log.WithFields(logrus.Fields{
		"schedule": w.config.Schedule,
		"seats":    len(w.config.Seats),
	}).Info("watch started")
	return nil
}

// Stop stops the schedule, waits for a running tick up to ctx, then closes
// the camera.
func (w *Watcher) Stop(ctx context.Context) error {
	done := w.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		w.log.Warn("watch tick still running at shutdown")
	}

	if w.scene != nil {
		w.scene.Close()
	}

	w.mu.Lock()
	if w.seen {
		w.last.Close()
		w.seen = false
	}
	w.mu.Unlock()

	return w.camera.Close()
}

// Seats returns the current seat state.
func (w *Watcher) Seats() []seat.Region {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]seat.Region(nil), w.seats...)
}

// Snapshot returns a copy of the last evaluated frame and its result. ok is
// false until a tick has run. The caller must close the frame.
func (w *Watcher) Snapshot() (frame gocv.Mat, result FrameResult, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.seen {
		return gocv.Mat{}, FrameResult{}, false
	}
	return w.last.Clone(), w.result, true
}

// Tick reads one frame and evaluates it. It reports false when the tick was
// skipped: no active detector, a camera error, or too little scene change.
func (w *Watcher) Tick(ctx context.Context) (FrameResult, bool) {
	if w.pipeline.manager.Status().Status != StatusActive {
		w.log.Debug("no active detector, skipping tick")
		return FrameResult{}, false
	}

	frame, err := w.camera.ReadFrame()
	if err != nil {
		w.log.WithError(err).Warn("camera read failed")
		return FrameResult{}, false
	}
	defer frame.Close()

	if w.scene != nil {
		if changed, pct := w.scene.Changed(frame); !changed {
			w.log.WithField("changed_pct", pct).Debug("scene unchanged, skipping tick")
			return FrameResult{}, false
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	result, err := w.pipeline.ProcessFrame(ctx, frame, w.seats, w.config.SessionID, time.Now())
	if err != nil {
		w.log.WithError(err).Warn("watch frame failed")
		return FrameResult{}, false
	}
	w.seats = result.Seats
	if w.seen {
		w.last.Close()
	}
	w.last = frame.Clone()
	w.result = result
	w.seen = true

	w.log.WithFields(logrus.Fields{
		"total":     result.Summary.TotalSeats,
		"occupied":  result.Summary.OccupiedSeats,
		"focused":   result.Summary.FocusedCount,
		"focus_pct": result.Summary.FocusPercentage,
		"backend":   result.BackendKind,
	}).Info("watch summary")
	return result, true
}
