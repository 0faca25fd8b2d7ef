package capture

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"gocv.io/x/gocv"
)

// ErrNoFrame is returned when a request carries no frame payload.
var ErrNoFrame = errors.New("no frame data")

// Placeholder returns the zero-filled frame used when a request has no
// usable image. The caller must close it.
func Placeholder() gocv.Mat {
	return gocv.Zeros(DefaultHeight, DefaultWidth, gocv.MatTypeCV8UC3)
}

// DecodeFrame decodes a base64 image payload. Data URLs such as
// "data:image/jpeg;base64,..." are accepted. The caller must close the
// returned frame.
func DecodeFrame(payload string) (gocv.Mat, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return gocv.Mat{}, ErrNoFrame
	}
	if strings.HasPrefix(payload, "data:") {
		i := strings.IndexByte(payload, ',')
		if i < 0 {
			return gocv.Mat{}, errors.New("malformed data URL")
		}
		payload = payload[i+1:]
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("decode base64 frame: %w", err)
	}
	return DecodeImage(data)
}

// DecodeImage decodes an encoded image (JPEG, PNG, ...) into a BGR frame.
func DecodeImage(data []byte) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.Mat{}, ErrNoFrame
	}
	frame, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("decode image: %w", err)
	}
	if frame.Empty() {
		frame.Close()
		return gocv.Mat{}, errors.New("decode image: unrecognised image data")
	}
	return frame, nil
}

// DecodeOrPlaceholder decodes payload and substitutes the placeholder frame
// when decoding fails. err reports why the placeholder was used and is nil
// when the payload decoded.
func DecodeOrPlaceholder(payload string) (frame gocv.Mat, err error) {
	frame, err = DecodeFrame(payload)
	if err != nil {
		return Placeholder(), err
	}
	return frame, nil
}
