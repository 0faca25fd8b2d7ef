package detector

import (
	"fmt"
	"path/filepath"
	"strings"

	"gocv.io/x/gocv"
)

// Kind identifies the model technology behind a backend.
type Kind string

const (
	// KindPyTorch is a framework-native object detection model (.pt, .pth).
	KindPyTorch Kind = "pytorch"
	// KindONNX is a graph-inference runtime model (.onnx).
	KindONNX Kind = "onnx"
	// KindTensorFlow is an alternate-framework model (.pb, .h5, .keras).
	KindTensorFlow Kind = "tensorflow"
	// KindCustom is a script or unrecognised model format.
	KindCustom Kind = "custom"
	// KindMock is the simulated backend used when no model could be loaded.
	KindMock Kind = "mock"
)

// ParseKind parses a declared model format. An empty string or "auto"
// returns ok=false so the caller infers the kind from the file name.
func ParseKind(s string) (kind Kind, ok bool, err error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return "", false, nil
	case string(KindPyTorch):
		return KindPyTorch, true, nil
	case string(KindONNX):
		return KindONNX, true, nil
	case string(KindTensorFlow):
		return KindTensorFlow, true, nil
	case string(KindCustom):
		return KindCustom, true, nil
	default:
		return "", false, fmt.Errorf("unsupported model format %q", s)
	}
}

// InferKind maps a model file extension to a kind. known is false for
// extensions that fall through to KindCustom.
func InferKind(path string) (kind Kind, known bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".py":
		return KindCustom, true
	case ".pt", ".pth":
		return KindPyTorch, true
	case ".onnx":
		return KindONNX, true
	case ".pb", ".h5", ".keras":
		return KindTensorFlow, true
	default:
		return KindCustom, false
	}
}

// Backend runs a model over one seat region.
type Backend interface {
	// Kind reports the model technology serving detections.
	Kind() Kind

	// Detect runs the model on a region image and returns its native output.
	// A region with nothing in it yields a Raw with no candidates.
	Detect(region gocv.Mat) (Raw, error)

	// Close releases any resources held by the backend.
	Close() error
}

// TieBreak selects how mid-confidence detections without a usable class
// are assigned a gesture.
type TieBreak string

const (
	// TieBreakDeterministic assigns looking_away to the 0.6-0.8 band.
	TieBreakDeterministic TieBreak = "deterministic"
	// TieBreakRandom picks uniformly among focused, looking_away and writing.
	TieBreakRandom TieBreak = "random"
)

// Config holds detection thresholds and classification options.
type Config struct {
	// ConfidenceThreshold drops candidates scoring below it (0.0-1.0).
	ConfidenceThreshold float64

	// IOUThreshold is the overlap threshold for non-maximum suppression (0.0-1.0).
	IOUThreshold float64

	// TieBreak controls the confidence-banded default classification.
	TieBreak TieBreak

	// Seed seeds the simulated backend and the random tie-break. Zero seeds
	// from the clock.
	Seed uint64

	// Workers bounds how many seats are evaluated concurrently.
	Workers int
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.5,
		IOUThreshold:        0.4,
		TieBreak:            TieBreakDeterministic,
		Workers:             4,
	}
}
