package seat

import "time"

// Summary holds aggregate occupancy and attention counts for one frame.
type Summary struct {
	TotalSeats      int       `json:"total_seats"`
	OccupiedSeats   int       `json:"occupied_seats"`
	FocusedCount    int       `json:"focused_count"`
	FocusPercentage float64   `json:"focus_percentage"`
	Timestamp       time.Time `json:"timestamp"`
}

// GestureCount is one histogram row.
type GestureCount struct {
	GestureType GestureType `json:"gesture_type"`
	Count       int         `json:"count"`
	Percentage  float64     `json:"percentage"`
}

// Summarize reduces a batch of detections to occupancy and focus counts.
func Summarize(detections []Detection, at time.Time) Summary {
	s := Summary{
		TotalSeats: len(detections),
		Timestamp:  at,
	}
	for _, d := range detections {
		if d.FaceDetected {
			s.OccupiedSeats++
		}
		if d.GestureType == GestureFocused {
			s.FocusedCount++
		}
	}
	if s.TotalSeats > 0 {
		s.FocusPercentage = float64(s.FocusedCount) / float64(s.TotalSeats) * 100
	}
	return s
}

// Histogram counts gesture types in first-seen order.
func Histogram(detections []Detection) []GestureCount {
	rows := make([]GestureCount, 0)
	index := make(map[GestureType]int)

	for _, d := range detections {
		i, ok := index[d.GestureType]
		if !ok {
			i = len(rows)
			index[d.GestureType] = i
			rows = append(rows, GestureCount{GestureType: d.GestureType})
		}
		rows[i].Count++
	}

	total := len(detections)
	for i := range rows {
		if total > 0 {
			rows[i].Percentage = float64(rows[i].Count) / float64(total) * 100
		}
	}
	return rows
}
