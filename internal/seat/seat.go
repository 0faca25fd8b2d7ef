// Package seat holds the classroom seat model: seat regions, per-seat
// detections, attendance tracking and session aggregates.
package seat

import "time"

// GestureType is the classified behavioural state of a seat occupant.
type GestureType string

const (
	GestureFocused     GestureType = "focused"
	GestureLookingAway GestureType = "looking_away"
	GestureSleeping    GestureType = "sleeping"
	GestureUsingPhone  GestureType = "using_phone"
	GestureChatting    GestureType = "chatting"
	GestureWriting     GestureType = "writing"
	GestureYawning     GestureType = "yawning"
	GestureAbsent      GestureType = "absent"
	GestureUnknown     GestureType = "unknown"
)

// Gestures lists every gesture type in declaration order.
var Gestures = []GestureType{
	GestureFocused,
	GestureLookingAway,
	GestureSleeping,
	GestureUsingPhone,
	GestureChatting,
	GestureWriting,
	GestureYawning,
	GestureAbsent,
	GestureUnknown,
}

// ParseGesture returns the gesture type named by s, or false if s is not one.
func ParseGesture(s string) (GestureType, bool) {
	for _, g := range Gestures {
		if string(g) == s {
			return g, true
		}
	}
	return GestureUnknown, false
}

// BBox is a rectangle in region-local pixel coordinates.
type BBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Region is one tracked seat: its rectangle in the frame plus the student
// tracking fields carried between requests by the caller.
type Region struct {
	SeatID         string     `json:"seat_id"`
	X              int        `json:"x"`
	Y              int        `json:"y"`
	Width          int        `json:"width"`
	Height         int        `json:"height"`
	StudentID      string     `json:"student_id"`
	StudentName    string     `json:"student_name"`
	AttendanceTime *time.Time `json:"attendance_time"`
	DepartureTime  *time.Time `json:"departure_time"`
}

// Valid reports whether the rectangle has a non-negative origin and a
// positive size.
func (r Region) Valid() bool {
	return r.X >= 0 && r.Y >= 0 && r.Width > 0 && r.Height > 0
}

// Detection is the canonical per-seat result for one frame.
type Detection struct {
	SeatID         string      `json:"seat_id"`
	FaceDetected   bool        `json:"face_detected"`
	BodyDetected   bool        `json:"body_detected"`
	GestureType    GestureType `json:"gesture_type"`
	Confidence     float64     `json:"confidence"`
	BBox           *BBox       `json:"bbox"`
	StudentID      string      `json:"student_id"`
	StudentName    string      `json:"student_name"`
	AttendanceTime *time.Time  `json:"attendance_time"`
	DepartureTime  *time.Time  `json:"departure_time"`
}

// Empty returns the canonical empty detection for a seat that could not be
// evaluated or has no occupant.
func Empty(seatID string) Detection {
	return Detection{
		SeatID:       seatID,
		FaceDetected: false,
		BodyDetected: false,
		GestureType:  GestureAbsent,
		Confidence:   0,
		BBox:         nil,
	}
}

// IsEmpty reports whether d carries no occupant information.
func (d Detection) IsEmpty() bool {
	return !d.FaceDetected && !d.BodyDetected && d.GestureType == GestureAbsent &&
		d.Confidence == 0 && d.BBox == nil
}
