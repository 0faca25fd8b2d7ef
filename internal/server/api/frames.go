package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/ayusman/seatwatch/internal/app"
	"github.com/ayusman/seatwatch/internal/seat"
)

// FrameHandler serves POST /api/detect-frame.
type FrameHandler struct {
	pipeline *app.Pipeline
	log      logrus.FieldLogger
}

// NewFrameHandler creates a FrameHandler over pipeline.
func NewFrameHandler(pipeline *app.Pipeline, log logrus.FieldLogger) *FrameHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &FrameHandler{pipeline: pipeline, log: log}
}

type detectFrameRequest struct {
	FrameData     string        `json:"frame_data"`
	SeatPositions []json.RawMessage `json:"seat_positions"`
	SessionID     string        `json:"session_id"`
	Timestamp     string        `json:"timestamp"`
}

type detectFrameResponse struct {
	Success bool `json:"success"`
	app.FrameResult
}

// ServeHTTP runs one frame through the pipeline.
func (h *FrameHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}

	var req detectFrameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	frameReq := app.FrameRequest{
		FrameData:     req.FrameData,
		SeatPositions: h.decodeSeats(req.SeatPositions),
		SessionID:     req.SessionID,
	}
	if req.Timestamp != "" {
		at, err := seat.ParseTime(req.Timestamp)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		frameReq.Timestamp = &at
	}

	h.log.WithFields(logrus.Fields{
		"session_id": req.SessionID,
		"seats":      len(req.SeatPositions),
	}).Debug("processing frame")

	result, err := h.pipeline.Process(r.Context(), frameReq)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, detectFrameResponse{Success: true, FrameResult: result})
}

// decodeSeats decodes each seat entry on its own. An entry that cannot be
// decoded keeps its position with an empty rectangle, so only that seat
// comes back as an empty detection.
func (h *FrameHandler) decodeSeats(raws []json.RawMessage) []seat.Region {
	seats := make([]seat.Region, len(raws))
	for i, raw := range raws {
		if err := json.Unmarshal(raw, &seats[i]); err != nil {
			seats[i] = seat.Region{SeatID: seatIDOf(raw)}
			h.log.WithError(err).WithFields(logrus.Fields{
				"index":   i,
				"seat_id": seats[i].SeatID,
			}).Warn("invalid seat entry")
		}
	}
	return seats
}

// seatIDOf recovers the seat id from an entry that failed to decode.
func seatIDOf(raw json.RawMessage) string {
	var entry struct {
		SeatID interface{} `json:"seat_id"`
	}
	if err := json.Unmarshal(raw, &entry); err != nil || entry.SeatID == nil {
		return ""
	}
	switch id := entry.SeatID.(type) {
	case string:
		return id
	case float64:
		return fmt.Sprint(id)
	default:
		return ""
	}
}
