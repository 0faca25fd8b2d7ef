package detector

import (
	"fmt"
	"image"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/seatwatch/internal/seat"
)

// Network input sizes.
const (
	yoloInputSize = 640
	ssdInputSize  = 300
)

// DNN implements Backend with an OpenCV DNN network. ONNX models are read as
// YOLO heads; TensorFlow graphs are read as SSD detection heads.
type DNN struct {
	kind       Kind
	net        gocv.Net
	inputSize  int
	confidence float32
	iou        float32
	mu         sync.Mutex
}

// LoadDNN reads a network for kind from path.
func LoadDNN(kind Kind, path string, config Config) (*DNN, error) {
	var net gocv.Net
	var inputSize int

	switch kind {
	case KindONNX:
		net = gocv.ReadNetFromONNX(path)
		inputSize = yoloInputSize
	case KindTensorFlow:
		if ext := strings.ToLower(filepath.Ext(path)); ext != ".pb" {
			return nil, fmt.Errorf("tensorflow %s models are not supported by the DNN runtime", ext)
		}
		net = gocv.ReadNetFromTensorflow(path)
		inputSize = ssdInputSize
	default:
		return nil, fmt.Errorf("DNN runtime cannot load %s models", kind)
	}

	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("failed to read %s network from %s", kind, path)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &DNN{
		kind:       kind,
		net:        net,
		inputSize:  inputSize,
		confidence: float32(config.ConfidenceThreshold),
		iou:        float32(config.IOUThreshold),
	}, nil
}

// Kind returns the model kind the network was read as.
func (d *DNN) Kind() Kind {
	return d.kind
}

// Detect runs a forward pass over the region.
func (d *DNN) Detect(region gocv.Mat) (Raw, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	size := image.Pt(d.inputSize, d.inputSize)
	var blob gocv.Mat
	if d.kind == KindONNX {
		blob = gocv.BlobFromImage(region, 1.0/255.0, size, gocv.NewScalar(0, 0, 0, 0), true, false)
	} else {
		blob = gocv.BlobFromImage(region, 1.0, size, gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	}
	defer blob.Close()

	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()

	data, err := out.DataPtrFloat32()
	if err != nil {
		return Raw{}, fmt.Errorf("read network output: %w", err)
	}
	dims := out.Size()

	var candidates []Candidate
	if d.kind == KindONNX {
		sx := float64(region.Cols()) / float64(d.inputSize)
		sy := float64(region.Rows()) / float64(d.inputSize)
		candidates, err = parseYOLO(data, dims, sx, sy, float64(d.confidence))
	} else {
		candidates, err = parseSSD(data, dims, region.Cols(), region.Rows(), float64(d.confidence))
	}
	if err != nil {
		return Raw{}, err
	}

	return Raw{Format: FormatDNN, Candidates: d.suppress(candidates)}, nil
}

// Close releases the network.
func (d *DNN) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

// suppress applies non-maximum suppression, keeping survivors in output order.
func (d *DNN) suppress(candidates []Candidate) []Candidate {
	if len(candidates) < 2 {
		return candidates
	}

	boxes := make([]image.Rectangle, len(candidates))
	scores := make([]float32, len(candidates))
	for i, c := range candidates {
		boxes[i] = image.Rect(c.Box.X, c.Box.Y, c.Box.X+c.Box.Width, c.Box.Y+c.Box.Height)
		scores[i] = float32(c.Confidence)
	}

	keep := gocv.NMSBoxes(boxes, scores, d.confidence, d.iou)
	sort.Ints(keep)

	kept := make([]Candidate, 0, len(keep))
	for _, i := range keep {
		kept = append(kept, candidates[i])
	}
	return kept
}

// parseYOLO reads a YOLO detection head. Two layouts are accepted:
// [1, 4+classes, boxes] (v8, no objectness) and [1, boxes, 5+classes] (v5).
// Box centres and sizes are in network input pixels and are scaled by sx, sy.
func parseYOLO(data []float32, dims []int, sx, sy, threshold float64) ([]Candidate, error) {
	if len(dims) != 3 || dims[0] != 1 {
		return nil, fmt.Errorf("unexpected YOLO output shape %v", dims)
	}
	a, b := dims[1], dims[2]
	if len(data) < a*b {
		return nil, fmt.Errorf("YOLO output has %d values, want %d", len(data), a*b)
	}

	transposed := a < b
	boxes, attrs := a, b
	if transposed {
		boxes, attrs = b, a
	}
	at := func(box, attr int) float64 {
		if transposed {
			return float64(data[attr*b+box])
		}
		return float64(data[box*b+attr])
	}

	firstClass := 5
	if transposed {
		firstClass = 4
	}
	if attrs <= firstClass {
		return nil, fmt.Errorf("YOLO output has no class scores (shape %v)", dims)
	}

	var out []Candidate
	for i := 0; i < boxes; i++ {
		classID, best := -1, 0.0
		for j := firstClass; j < attrs; j++ {
			if s := at(i, j); classID < 0 || s > best {
				classID, best = j-firstClass, s
			}
		}
		score := best
		if !transposed {
			score *= at(i, 4)
		}
		if score < threshold {
			continue
		}

		cx, cy, w, h := at(i, 0)*sx, at(i, 1)*sy, at(i, 2)*sx, at(i, 3)*sy
		out = append(out, Candidate{
			Confidence: score,
			ClassID:    classID,
			Box: &seat.BBox{
				X:      int(cx - w/2),
				Y:      int(cy - h/2),
				Width:  int(w),
				Height: int(h),
			},
		})
	}
	return out, nil
}

// parseSSD reads rows of [image, class, confidence, x1, y1, x2, y2] with
// corners normalised to the region size.
func parseSSD(data []float32, dims []int, cols, rows int, threshold float64) ([]Candidate, error) {
	if len(dims) == 0 || dims[len(dims)-1] != 7 {
		return nil, fmt.Errorf("unexpected SSD output shape %v", dims)
	}

	var out []Candidate
	for i := 0; i+7 <= len(data); i += 7 {
		score := float64(data[i+2])
		if score < threshold {
			continue
		}
		x1 := float64(data[i+3]) * float64(cols)
		y1 := float64(data[i+4]) * float64(rows)
		x2 := float64(data[i+5]) * float64(cols)
		y2 := float64(data[i+6]) * float64(rows)
		out = append(out, Candidate{
			Confidence: score,
			ClassID:    int(data[i+1]),
			Box:        cornersToBox(x1, y1, x2, y2),
		})
	}
	return out, nil
}
