package detector

import (
	"math/rand/v2"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/seatwatch/internal/seat"
)

// Simulation parameters.
const (
	// OccupancyRate is the probability that a simulated seat is occupied.
	OccupancyRate = 0.75
	// MinSimulatedConfidence and MaxSimulatedConfidence bound sampled scores.
	MinSimulatedConfidence = 0.65
	MaxSimulatedConfidence = 0.95
)

// simulatedGestures is the categorical distribution for occupied seats.
var simulatedGestures = []struct {
	gesture seat.GestureType
	weight  float64
}{
	{seat.GestureFocused, 0.45},
	{seat.GestureLookingAway, 0.25},
	{seat.GestureSleeping, 0.08},
	{seat.GestureUsingPhone, 0.08},
	{seat.GestureChatting, 0.06},
	{seat.GestureWriting, 0.06},
	{seat.GestureYawning, 0.02},
}

// Simulated is a Backend that samples plausible detections instead of
// running a model. It ignores the region pixels.
type Simulated struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulated creates a simulated backend. A zero seed seeds from the clock.
func NewSimulated(seed uint64) *Simulated {
	return &Simulated{rng: newRand(seed)}
}

// Kind returns KindMock.
func (s *Simulated) Kind() Kind {
	return KindMock
}

// Detect samples occupancy, then a gesture, confidence and box for occupied seats.
func (s *Simulated) Detect(region gocv.Mat) (Raw, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw := Raw{Format: FormatSimulated}
	if s.rng.Float64() >= OccupancyRate {
		return raw, nil
	}

	raw.Candidates = []Candidate{{
		Confidence: MinSimulatedConfidence + s.rng.Float64()*(MaxSimulatedConfidence-MinSimulatedConfidence),
		ClassID:    -1,
		ClassName:  string(s.sampleGesture()),
		Box: &seat.BBox{
			X:      s.rng.IntN(51),
			Y:      s.rng.IntN(51),
			Width:  30 + s.rng.IntN(51),
			Height: 40 + s.rng.IntN(61),
		},
	}}
	return raw, nil
}

// Close is a no-op for the simulated backend.
func (s *Simulated) Close() error {
	return nil
}

func (s *Simulated) sampleGesture() seat.GestureType {
	total := 0.0
	for _, g := range simulatedGestures {
		total += g.weight
	}
	x := s.rng.Float64() * total
	for _, g := range simulatedGestures {
		if x < g.weight {
			return g.gesture
		}
		x -= g.weight
	}
	return simulatedGestures[len(simulatedGestures)-1].gesture
}
