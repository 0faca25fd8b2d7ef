package seat

import "time"

// AttendanceState is the per-seat attendance state derived from the
// attendance and departure timestamps.
type AttendanceState int

const (
	StateUnseen AttendanceState = iota
	StatePresent
	StateDeparted
)

func (s AttendanceState) String() string {
	switch s {
	case StatePresent:
		return "present"
	case StateDeparted:
		return "departed"
	default:
		return "unseen"
	}
}

// State returns the attendance state recorded on the region.
func (r Region) State() AttendanceState {
	switch {
	case r.AttendanceTime == nil:
		return StateUnseen
	case r.DepartureTime == nil:
		return StatePresent
	default:
		return StateDeparted
	}
}

// Track applies one observation to the region's attendance fields and returns
// the updated region. Only one arrival and one departure are ever recorded:
//
//	unseen  --occupied--> present   (sets AttendanceTime)
//	present --vacant-->   departed  (sets DepartureTime)
//
// Every other combination leaves the region unchanged. A departure stamped
// earlier than the arrival is clamped to the arrival time.
func Track(r Region, occupied bool, at time.Time) Region {
	switch r.State() {
	case StateUnseen:
		if occupied {
			t := at
			r.AttendanceTime = &t
		}
	case StatePresent:
		if !occupied {
			t := at
			if t.Before(*r.AttendanceTime) {
				t = *r.AttendanceTime
			}
			r.DepartureTime = &t
		}
	}
	return r
}

// Annotate copies the region's student and attendance fields onto d.
func Annotate(d Detection, r Region) Detection {
	d.StudentID = r.StudentID
	d.StudentName = r.StudentName
	d.AttendanceTime = r.AttendanceTime
	d.DepartureTime = r.DepartureTime
	return d
}
