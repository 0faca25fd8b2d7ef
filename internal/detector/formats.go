package detector

import (
	"encoding/json"
	"fmt"

	"github.com/ayusman/seatwatch/internal/seat"
)

// Runner loaders. Each one answers with its own JSON shape.
const (
	LoaderUltralytics = "ultralytics"
	LoaderYOLOv5      = "yolov5"
	LoaderTorch       = "torch"
	LoaderCustom      = "custom"
)

// ultralyticsOutput mirrors a YOLOv8 Results.boxes dump.
type ultralyticsOutput struct {
	Boxes *struct {
		Conf []float64    `json:"conf"`
		Cls  []float64    `json:"cls"`
		XYXY [][4]float64 `json:"xyxy"`
	} `json:"boxes"`
}

// yolov5Output mirrors results.pandas().xyxy[0] as records.
type yolov5Output struct {
	XYXY []struct {
		XMin       float64 `json:"xmin"`
		YMin       float64 `json:"ymin"`
		XMax       float64 `json:"xmax"`
		YMax       float64 `json:"ymax"`
		Confidence float64 `json:"confidence"`
		Class      int     `json:"class"`
		Name       string  `json:"name"`
	} `json:"xyxy"`
}

// torchOutput is the generic shape written for raw torch and script models.
type torchOutput struct {
	Detections []struct {
		Label   string    `json:"label"`
		Score   float64   `json:"score"`
		ClassID *int      `json:"class_id"`
		Box     []float64 `json:"box"` // x, y, width, height
	} `json:"detections"`
}

// runnerError is written instead of a result when inference fails.
type runnerError struct {
	Error string `json:"error"`
}

// decodeRunnerOutput decodes one runner response line for the given loader.
func decodeRunnerOutput(loader string, line []byte) (Raw, error) {
	var failure runnerError
	if err := json.Unmarshal(line, &failure); err == nil && failure.Error != "" {
		return Raw{}, fmt.Errorf("runner: %s", failure.Error)
	}

	switch loader {
	case LoaderUltralytics:
		return decodeUltralytics(line)
	case LoaderYOLOv5:
		return decodeYOLOv5(line)
	case LoaderTorch, LoaderCustom:
		return decodeTorch(line)
	default:
		return Raw{}, fmt.Errorf("unknown loader %q", loader)
	}
}

func decodeUltralytics(line []byte) (Raw, error) {
	var out ultralyticsOutput
	if err := json.Unmarshal(line, &out); err != nil {
		return Raw{}, fmt.Errorf("parse ultralytics output: %w", err)
	}

	raw := Raw{Format: FormatUltralytics}
	if out.Boxes == nil {
		return raw, nil
	}
	n := len(out.Boxes.Conf)
	if len(out.Boxes.Cls) != n || len(out.Boxes.XYXY) != n {
		return Raw{}, fmt.Errorf("ultralytics output has mismatched lengths: conf=%d cls=%d xyxy=%d",
			n, len(out.Boxes.Cls), len(out.Boxes.XYXY))
	}
	for i := 0; i < n; i++ {
		b := out.Boxes.XYXY[i]
		raw.Candidates = append(raw.Candidates, Candidate{
			Confidence: out.Boxes.Conf[i],
			ClassID:    int(out.Boxes.Cls[i]),
			Box:        cornersToBox(b[0], b[1], b[2], b[3]),
		})
	}
	return raw, nil
}

func decodeYOLOv5(line []byte) (Raw, error) {
	var out yolov5Output
	if err := json.Unmarshal(line, &out); err != nil {
		return Raw{}, fmt.Errorf("parse yolov5 output: %w", err)
	}

	raw := Raw{Format: FormatYOLOv5}
	for _, r := range out.XYXY {
		raw.Candidates = append(raw.Candidates, Candidate{
			Confidence: r.Confidence,
			ClassID:    r.Class,
			ClassName:  r.Name,
			Box:        cornersToBox(r.XMin, r.YMin, r.XMax, r.YMax),
		})
	}
	return raw, nil
}

func decodeTorch(line []byte) (Raw, error) {
	var out torchOutput
	if err := json.Unmarshal(line, &out); err != nil {
		return Raw{}, fmt.Errorf("parse torch output: %w", err)
	}

	raw := Raw{Format: FormatTorch}
	for _, d := range out.Detections {
		c := Candidate{
			Confidence: d.Score,
			ClassID:    -1,
			ClassName:  d.Label,
		}
		if d.ClassID != nil {
			c.ClassID = *d.ClassID
		}
		if len(d.Box) == 4 {
			c.Box = &seat.BBox{X: int(d.Box[0]), Y: int(d.Box[1]), Width: int(d.Box[2]), Height: int(d.Box[3])}
		}
		raw.Candidates = append(raw.Candidates, c)
	}
	return raw, nil
}

func cornersToBox(x1, y1, x2, y2 float64) *seat.BBox {
	return &seat.BBox{
		X:      int(x1),
		Y:      int(y1),
		Width:  int(x2 - x1),
		Height: int(y2 - y1),
	}
}
