package detector

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/ayusman/seatwatch/internal/seat"
)

// Extract returns the part of frame covered by the seat rectangle.
// ok is false when the rectangle is invalid or does not overlap the frame;
// this is a normal outcome, not an error. Parts of the rectangle outside the
// frame are cut off. The returned Mat shares memory with frame and must be
// closed by the caller.
func Extract(frame gocv.Mat, r seat.Region) (roi gocv.Mat, ok bool) {
	if !r.Valid() || frame.Empty() {
		return gocv.Mat{}, false
	}

	rect := image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
	rect = rect.Intersect(image.Rect(0, 0, frame.Cols(), frame.Rows()))
	if rect.Empty() {
		return gocv.Mat{}, false
	}

	roi = frame.Region(rect)
	if roi.Empty() {
		roi.Close()
		return gocv.Mat{}, false
	}
	return roi, true
}
