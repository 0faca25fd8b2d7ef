package detector

import (
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/ayusman/seatwatch/internal/seat"
)

// Format identifies the native output schema a Raw was decoded from.
type Format int

const (
	// FormatUltralytics is a YOLOv8-style box list labelled by class id.
	FormatUltralytics Format = iota
	// FormatYOLOv5 is a YOLOv5 pandas-style table labelled by class name.
	FormatYOLOv5
	// FormatTorch is a generic script or raw torch model output.
	FormatTorch
	// FormatDNN is an OpenCV DNN forward pass labelled by class id.
	FormatDNN
	// FormatSimulated is produced by the simulated backend.
	FormatSimulated
)

// Candidate is one detection reported by a backend for a region.
type Candidate struct {
	Confidence float64
	ClassID    int // -1 when the backend reports no id
	ClassName  string
	Box        *seat.BBox
}

// Raw is a backend's native output for one region.
type Raw struct {
	Format     Format
	Candidates []Candidate
}

// best returns the highest-confidence candidate, keeping the first one on ties.
func (r Raw) best() (Candidate, bool) {
	if len(r.Candidates) == 0 {
		return Candidate{}, false
	}
	top := r.Candidates[0]
	for _, c := range r.Candidates[1:] {
		if c.Confidence > top.Confidence {
			top = c
		}
	}
	return top, true
}

// keywordGroups are evaluated in order; the first group with a keyword
// contained in the class name wins.
var keywordGroups = []struct {
	keywords []string
	gesture  seat.GestureType
}{
	{[]string{"focused", "attention"}, seat.GestureFocused},
	{[]string{"sleep", "drowsy"}, seat.GestureSleeping},
	{[]string{"phone", "mobile"}, seat.GestureUsingPhone},
	{[]string{"talk", "chat"}, seat.GestureChatting},
	{[]string{"write", "writing"}, seat.GestureWriting},
	{[]string{"yawn"}, seat.GestureYawning},
	{[]string{"away", "distract"}, seat.GestureLookingAway},
}

var presenceKeywords = []string{"face", "head", "person"}

var classIDGestures = map[int]seat.GestureType{
	0: seat.GestureFocused,
	1: seat.GestureLookingAway,
	2: seat.GestureSleeping,
	3: seat.GestureUsingPhone,
	4: seat.GestureChatting,
	5: seat.GestureWriting,
	6: seat.GestureYawning,
}

var bandedChoices = []seat.GestureType{
	seat.GestureFocused,
	seat.GestureLookingAway,
	seat.GestureWriting,
}

// Normalizer maps backend output to canonical seat detections.
type Normalizer struct {
	tieBreak TieBreak
	mu       sync.Mutex
	rng      *rand.Rand
}

// NewNormalizer creates a Normalizer using the tie-break mode and seed in cfg.
func NewNormalizer(cfg Config) *Normalizer {
	tb := cfg.TieBreak
	if tb == "" {
		tb = TieBreakDeterministic
	}
	return &Normalizer{
		tieBreak: tb,
		rng:      newRand(cfg.Seed),
	}
}

// Normalize converts the best candidate in raw into a Detection for seatID.
// A Raw without candidates yields the canonical empty detection.
//
// FaceDetected is always set for class-id formats. For class names it is set
// whenever the name maps to a gesture, so "using_phone" counts as present;
// only names that map to unknown leave it false.
func (n *Normalizer) Normalize(seatID string, raw Raw) seat.Detection {
	c, ok := raw.best()
	if !ok {
		return seat.Empty(seatID)
	}

	conf := clamp01(c.Confidence)
	d := seat.Detection{
		SeatID:       seatID,
		BodyDetected: true,
		Confidence:   conf,
		BBox:         c.Box,
	}

	switch raw.Format {
	case FormatUltralytics, FormatDNN:
		d.GestureType = n.ClassifyID(c.ClassID, conf)
		d.FaceDetected = true
	case FormatYOLOv5:
		d.GestureType = n.ClassifyName(c.ClassName, conf)
		d.FaceDetected = d.GestureType != seat.GestureUnknown
	case FormatTorch:
		if c.ClassName == "" && c.ClassID >= 0 {
			d.GestureType = n.ClassifyID(c.ClassID, conf)
			d.FaceDetected = true
		} else {
			d.GestureType = n.ClassifyName(c.ClassName, conf)
			d.FaceDetected = d.GestureType != seat.GestureUnknown
		}
	case FormatSimulated:
		g, known := seat.ParseGesture(c.ClassName)
		if !known {
			g = n.banded(conf)
		}
		d.GestureType = g
		d.FaceDetected = true
	default:
		return seat.Empty(seatID)
	}

	return d
}

// ClassifyName maps a class label to a gesture by keyword. Labels that only
// name a face, head or person fall back to the confidence band.
func (n *Normalizer) ClassifyName(name string, confidence float64) seat.GestureType {
	name = strings.ToLower(name)
	for _, group := range keywordGroups {
		for _, kw := range group.keywords {
			if strings.Contains(name, kw) {
				return group.gesture
			}
		}
	}
	for _, kw := range presenceKeywords {
		if strings.Contains(name, kw) {
			return n.banded(confidence)
		}
	}
	return seat.GestureUnknown
}

// ClassifyID maps a class id through the fixed behaviour table, falling back
// to the confidence band for ids outside it.
func (n *Normalizer) ClassifyID(id int, confidence float64) seat.GestureType {
	if g, ok := classIDGestures[id]; ok {
		return g
	}
	return n.banded(confidence)
}

func (n *Normalizer) banded(confidence float64) seat.GestureType {
	switch {
	case confidence > 0.8:
		return seat.GestureFocused
	case confidence > 0.6:
		if n.tieBreak != TieBreakRandom {
			return seat.GestureLookingAway
		}
		n.mu.Lock()
		i := n.rng.IntN(len(bandedChoices))
		n.mu.Unlock()
		return bandedChoices[i]
	default:
		return seat.GestureLookingAway
	}
}

func clamp01(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func newRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
