package seat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// TimeLayouts are the accepted timestamp formats. Layouts without a zone
// are read as local time.
var TimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseTime parses s with the first matching layout in TimeLayouts.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range TimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

type regionJSON struct {
	SeatID         json.RawMessage `json:"seat_id"`
	X              json.RawMessage `json:"x"`
	Y              json.RawMessage `json:"y"`
	Width          json.RawMessage `json:"width"`
	Height         json.RawMessage `json:"height"`
	StudentID      json.RawMessage `json:"student_id"`
	StudentName    json.RawMessage `json:"student_name"`
	AttendanceTime json.RawMessage `json:"attendance_time"`
	DepartureTime  json.RawMessage `json:"departure_time"`
}

// UnmarshalJSON accepts the seat shapes clients send: ids as strings or
// numbers, fractional coordinates (truncated), and timestamps in any of
// TimeLayouts. Missing, null and empty values leave a field unset.
func (r *Region) UnmarshalJSON(data []byte) error {
	var in regionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	var out Region
	var err error
	if out.SeatID, err = looseString(in.SeatID); err != nil {
		return fmt.Errorf("seat_id: %w", err)
	}
	if out.StudentID, err = looseString(in.StudentID); err != nil {
		return fmt.Errorf("student_id: %w", err)
	}
	if out.StudentName, err = looseString(in.StudentName); err != nil {
		return fmt.Errorf("student_name: %w", err)
	}

	coords := []struct {
		name  string
		raw   json.RawMessage
		field *int
	}{
		{"x", in.X, &out.X},
		{"y", in.Y, &out.Y},
		{"width", in.Width, &out.Width},
		{"height", in.Height, &out.Height},
	}
	for _, c := range coords {
		if *c.field, err = looseInt(c.raw); err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
	}

	if out.AttendanceTime, err = looseTime(in.AttendanceTime); err != nil {
		return fmt.Errorf("attendance_time: %w", err)
	}
	if out.DepartureTime, err = looseTime(in.DepartureTime); err != nil {
		return fmt.Errorf("departure_time: %w", err)
	}

	*r = out
	return nil
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func looseString(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("want string or number, got %s", raw)
	}
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10), nil
	}
	f, err := n.Float64()
	if err != nil {
		return "", err
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}

func looseInt(raw json.RawMessage) (int, error) {
	if isNull(raw) {
		return 0, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return 0, fmt.Errorf("want number, got %s", raw)
		}
		if f, err = strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
			return 0, fmt.Errorf("want number, got %q", s)
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt32 {
		return 0, fmt.Errorf("%v out of range", f)
	}
	return int(f), nil
}

func looseTime(raw json.RawMessage) (*time.Time, error) {
	if isNull(raw) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("want timestamp string, got %s", raw)
	}
	if s = strings.TrimSpace(s); s == "" {
		return nil, nil
	}
	t, err := ParseTime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
