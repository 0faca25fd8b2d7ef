package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/ayusman/seatwatch/internal/capture"
	"github.com/ayusman/seatwatch/internal/detector"
	"github.com/ayusman/seatwatch/internal/seat"
)

// FrameRequest is one detect-frame call. FrameData may be empty, in which
// case a blank frame is evaluated.
type FrameRequest struct {
	FrameData     string        `json:"frame_data"`
	SeatPositions []seat.Region `json:"seat_positions"`
	SessionID     string        `json:"session_id"`
	Timestamp     *time.Time    `json:"timestamp"`
}

// FrameResult is the outcome of one detect-frame call. Seats holds the seat
// list with updated attendance fields, in request order.
type FrameResult struct {
	Detections      []seat.Detection    `json:"detections"`
	Summary         seat.Summary        `json:"summary"`
	GestureAnalysis []seat.GestureCount `json:"gesture_analysis"`
	SessionID       string              `json:"session_id"`
	Seats           []seat.Region       `json:"seat_positions"`
	BackendKind     detector.Kind       `json:"backend_kind"`
	Degraded        bool                `json:"degraded"`
}

// Pipeline runs frames through the active detector and publishes results to
// live subscribers.
type Pipeline struct {
	manager *Manager
	log     logrus.FieldLogger
	now     func() time.Time

	mu          sync.RWMutex
	subscribers map[int]func(FrameResult)
	nextID      int
}

// NewPipeline creates a pipeline over manager.
func NewPipeline(manager *Manager, log logrus.FieldLogger) *Pipeline {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Pipeline{
		manager:     manager,
		log:         log.WithField("component", "pipeline"),
		now:         time.Now,
		subscribers: make(map[int]func(FrameResult)),
	}
}

// Process decodes the request frame and evaluates it. A frame that fails to
// decode is replaced by a blank frame. Only ErrNotInitialized is returned.
func (p *Pipeline) Process(ctx context.Context, req FrameRequest) (FrameResult, error) {
	if p.manager.Status().Status != StatusActive {
		return FrameResult{}, ErrNotInitialized
	}

	frame := p.decode(req.FrameData, req.SessionID)
	defer frame.Close()

	at := p.now()
	if req.Timestamp != nil {
		at = *req.Timestamp
	}

	return p.ProcessFrame(ctx, frame, req.SeatPositions, req.SessionID, at)
}

// ProcessFrame evaluates an already decoded frame.
func (p *Pipeline) ProcessFrame(ctx context.Context, frame gocv.Mat, seats []seat.Region, sessionID string, at time.Time) (FrameResult, error) {
	regions := make([]seat.Region, len(seats))
	copy(regions, seats)

	detections, cfg, err := p.manager.Detect(ctx, frame, regions)
	if err != nil {
		return FrameResult{}, err
	}

	for i := range detections {
		regions[i] = seat.Track(regions[i], detections[i].FaceDetected, at)
		detections[i] = seat.Annotate(detections[i], regions[i])
	}

	result := FrameResult{
		Detections:      detections,
		Summary:         seat.Summarize(detections, at),
		GestureAnalysis: seat.Histogram(detections),
		SessionID:       sessionID,
		Seats:           regions,
		BackendKind:     cfg.BackendKind,
		Degraded:        cfg.Degraded,
	}

	p.publish(result)
	return result, nil
}

// Subscribe registers fn to receive every frame result. The returned
// function removes the subscription.
func (p *Pipeline) Subscribe(fn func(FrameResult)) (cancel func()) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subscribers[id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subscribers, id)
			p.mu.Unlock()
		})
	}
}

func (p *Pipeline) publish(result FrameResult) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, fn := range p.subscribers {
		fn(result)
	}
}

func (p *Pipeline) decode(payload, sessionID string) gocv.Mat {
	frame, err := capture.DecodeOrPlaceholder(payload)
	if err != nil && !errors.Is(err, capture.ErrNoFrame) {
		p.log.WithError(err).WithField("session_id", sessionID).Warn("frame decode failed, using blank frame")
	}
	return frame
}
