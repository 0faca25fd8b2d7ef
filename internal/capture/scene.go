package capture

import (
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// Scene change detection constants.
const (
	// sceneBlurSize is the Gaussian kernel applied before differencing.
	sceneBlurSize = 21
	// sceneDiffThreshold is the per-pixel intensity change counted as motion.
	sceneDiffThreshold = 25
	// sceneWidth is the width frames are scaled to before comparison.
	sceneWidth = 320
)

// SceneMonitor reports whether consecutive camera frames differ enough to be
// worth re-evaluating. The first frame always counts as changed.
type SceneMonitor struct {
	threshold float64
	prev      gocv.Mat
	hasPrev   bool
	mu        sync.Mutex
}

// NewSceneMonitor creates a SceneMonitor. threshold is the percentage of
// pixels that must change, e.g. 1.0 for 1%.
func NewSceneMonitor(threshold float64) *SceneMonitor {
	return &SceneMonitor{
		threshold: threshold,
		prev:      gocv.NewMat(),
	}
}

// Changed compares frame with the previous frame passed in and returns
// whether the scene changed and the percentage of changed pixels.
func (m *SceneMonitor) Changed(frame gocv.Mat) (bool, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if frame.Empty() {
		return false, 0
	}

	small := gocv.NewMat()
	defer small.Close()
	if frame.Cols() > sceneWidth {
		h := frame.Rows() * sceneWidth / frame.Cols()
		gocv.Resize(frame, &small, image.Pt(sceneWidth, h), 0, 0, gocv.InterpolationArea)
	} else {
		frame.CopyTo(&small)
	}

	gray := gocv.NewMat()
	defer gray.Close()
	if small.Channels() > 1 {
		gocv.CvtColor(small, &gray, gocv.ColorBGRToGray)
	} else {
		small.CopyTo(&gray)
	}
	gocv.GaussianBlur(gray, &gray, image.Pt(sceneBlurSize, sceneBlurSize), 0, 0, gocv.BorderDefault)

	if !m.hasPrev || m.prev.Rows() != gray.Rows() || m.prev.Cols() != gray.Cols() {
		gray.CopyTo(&m.prev)
		m.hasPrev = true
		return true, 100
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(gray, m.prev, &diff)
	gocv.Threshold(diff, &diff, sceneDiffThreshold, 255, gocv.ThresholdBinary)

	changed := float64(gocv.CountNonZero(diff)) / float64(diff.Rows()*diff.Cols()) * 100
	gray.CopyTo(&m.prev)

	return changed > m.threshold, changed
}

// Reset forgets the previous frame.
func (m *SceneMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hasPrev = false
}

// Close releases the stored frame.
func (m *SceneMonitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prev.Close()
	m.hasPrev = false
}
