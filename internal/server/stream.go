package server

import (
	"fmt"
	"image"
	"image/color"
	"net/http"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/seatwatch/internal/app"
	"github.com/ayusman/seatwatch/internal/seat"
)

// streamInterval paces the MJPEG stream.
const streamInterval = 500 * time.Millisecond

var (
	colorFocused = color.RGBA{G: 200, A: 255}
	colorAbsent  = color.RGBA{R: 120, G: 120, B: 120, A: 255}
	colorOther   = color.RGBA{R: 230, G: 160, A: 255}
)

// SnapshotSource provides the last evaluated camera frame.
type SnapshotSource interface {
	Snapshot() (gocv.Mat, app.FrameResult, bool)
}

// StreamHandler serves the watch camera with seat overlays, as an MJPEG
// stream or a single JPEG.
type StreamHandler struct {
	source SnapshotSource
}

// NewStreamHandler creates a new StreamHandler over source.
func NewStreamHandler(source SnapshotSource) *StreamHandler {
	return &StreamHandler{source: source}
}

// ServeHTTP streams annotated MJPEG frames to connected clients.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	for {
		if data, ok := h.encode(); ok {
			fmt.Fprintf(w, "--frame\r\n")
			fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
			fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(data))
			if _, err := w.Write(data); err != nil {
				return
			}
			fmt.Fprintf(w, "\r\n")

			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

// ServeSnapshot writes the last annotated frame as a JPEG.
func (h *StreamHandler) ServeSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, ok := h.encode()
	if !ok {
		http.Error(w, "No frame captured yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(data)
}

func (h *StreamHandler) encode() ([]byte, bool) {
	frame, result, ok := h.source.Snapshot()
	if !ok {
		return nil, false
	}
	defer frame.Close()

	drawSeats(&frame, result)

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, frame)
	if err != nil {
		return nil, false
	}
	defer buf.Close()

	data := buf.GetBytes()
	out := make([]byte, len(data))
	copy(out, data)
	return out, true
}

// drawSeats outlines every seat and labels it with its gesture.
func drawSeats(frame *gocv.Mat, result app.FrameResult) {
	for i, s := range result.Seats {
		if i >= len(result.Detections) || !s.Valid() {
			continue
		}
		d := result.Detections[i]

		c := colorOther
		switch d.GestureType {
		case seat.GestureFocused:
			c = colorFocused
		case seat.GestureAbsent:
			c = colorAbsent
		}

		rect := image.Rect(s.X, s.Y, s.X+s.Width, s.Y+s.Height)
		gocv.Rectangle(frame, rect, c, 2)

		label := fmt.Sprintf("%s %s", s.SeatID, d.GestureType)
		gocv.PutText(frame, label, image.Pt(s.X+4, s.Y+16), gocv.FontHersheySimplex, 0.45, c, 1)
	}
}
