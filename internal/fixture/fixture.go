// Package fixture builds frames, seats and model files shared by tests.
package fixture

import (
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"

	"github.com/ayusman/seatwatch/internal/seat"
)

// Frame dimensions used by fixtures.
const (
	FrameWidth  = 640
	FrameHeight = 480
)

// Seats returns a 2x3 grid of seats covering a FrameWidth x FrameHeight frame.
func Seats() []seat.Region {
	var seats []seat.Region
	for row := 0; row < 2; row++ {
		for col := 0; col < 3; col++ {
			seats = append(seats, seat.Region{
				SeatID:    fmt.Sprintf("r%dc%d", row+1, col+1),
				X:         20 + col*200,
				Y:         20 + row*220,
				Width:     180,
				Height:    200,
				StudentID: fmt.Sprintf("s%d", row*3+col+1),
			})
		}
	}
	return seats
}

// Classroom draws a frame with a filled block inside every seat of Seats.
// shade varies the block intensity so consecutive frames differ. The caller
// must close the frame.
func Classroom(shade uint8) gocv.Mat {
	frame := gocv.Zeros(FrameHeight, FrameWidth, gocv.MatTypeCV8UC3)
	fill := color.RGBA{R: shade, G: shade / 2, B: 255 - shade, A: 255}
	for _, s := range Seats() {
		r := image.Rect(s.X+40, s.Y+40, s.X+s.Width-40, s.Y+s.Height-40)
		gocv.Rectangle(&frame, r, fill, -1)
	}
	return frame
}

// Sequence returns n classroom frames with increasing shade. The caller
// must close every frame.
func Sequence(n int) []gocv.Mat {
	frames := make([]gocv.Mat, n)
	for i := range frames {
		frames[i] = Classroom(uint8(40 + i*60%200))
	}
	return frames
}

// EncodedFrame returns a classroom frame as a JPEG data URL, the way
// browsers send it.
func EncodedFrame(shade uint8) (string, error) {
	frame := Classroom(shade)
	defer frame.Close()

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, frame)
	if err != nil {
		return "", fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.GetBytes()), nil
}

// WriteModel creates an empty model file named file in dir and returns its
// path.
func WriteModel(dir, file string) (string, error) {
	path := filepath.Join(dir, file)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte("weights"), 0644); err != nil {
		return "", err
	}
	return path, nil
}
