package detector

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
	"golang.org/x/sync/errgroup"

	"github.com/ayusman/seatwatch/internal/seat"
)

// Engine evaluates seat regions with one backend and normalizes the results.
// An Engine is safe for concurrent use as long as its backend is.
type Engine struct {
	backend    Backend
	normalizer *Normalizer
	workers    int
	log        logrus.FieldLogger
}

// NewEngine creates an Engine around backend.
func NewEngine(backend Backend, config Config, log logrus.FieldLogger) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	workers := config.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Engine{
		backend:    backend,
		normalizer: NewNormalizer(config),
		workers:    workers,
		log:        log,
	}
}

// Kind returns the kind of the backend.
func (e *Engine) Kind() Kind {
	return e.backend.Kind()
}

// Close releases the backend.
func (e *Engine) Close() error {
	return e.backend.Close()
}

// DetectInSeats evaluates every region of frame. The result has one entry per
// region in the same order. Seats that cannot be evaluated get the empty
// detection; no failure aborts the batch. Seats not yet started when ctx is
// cancelled are reported empty.
func (e *Engine) DetectInSeats(ctx context.Context, frame gocv.Mat, regions []seat.Region) []seat.Detection {
	results := make([]seat.Detection, len(regions))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, r := range regions {
		if ctx.Err() != nil {
			results[i] = seat.Empty(r.SeatID)
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i] = seat.Empty(r.SeatID)
				return nil
			}
			results[i] = e.detectSeat(frame, r)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// detectSeat runs one region through the backend. Panics raised by the
// backend are reported as errors for that seat only.
func (e *Engine) detectSeat(frame gocv.Mat, r seat.Region) (d seat.Detection) {
	log := e.log.WithField("seat_id", r.SeatID)

	roi, ok := Extract(frame, r)
	if !ok {
		log.WithFields(logrus.Fields{
			"x": r.X, "y": r.Y, "width": r.Width, "height": r.Height,
		}).Debug("seat region empty or invalid")
		return seat.Empty(r.SeatID)
	}
	defer roi.Close()

	defer func() {
		if p := recover(); p != nil {
			log.WithError(fmt.Errorf("backend panic: %v", p)).Warn("seat detection failed")
			d = seat.Empty(r.SeatID)
		}
	}()

	raw, err := e.backend.Detect(roi)
	if err != nil {
		log.WithError(err).Warn("seat detection failed")
		return seat.Empty(r.SeatID)
	}
	return e.normalizer.Normalize(r.SeatID, raw)
}
