// Package capture turns encoded frame payloads and camera devices into
// frames for seat detection.
package capture

import (
	"errors"
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// Default capture resolution.
const (
	DefaultWidth  = 640
	DefaultHeight = 480
)

// bufferedFrames is how many queued frames are dropped before a read, so a
// camera polled on a schedule returns the current scene.
const bufferedFrames = 4

// ErrCameraNotOpen is returned when trying to read from a camera that is not open.
var ErrCameraNotOpen = errors.New("camera is not open")

// Camera is a source of single frames.
type Camera interface {
	Open() error
	Close() error
	// ReadFrame returns the current frame. The caller must close it.
	ReadFrame() (gocv.Mat, error)
	IsOpen() bool
}

// deviceCamera reads frames from a local device, file or stream URL using GoCV.
type deviceCamera struct {
	device  string
	width   int
	height  int
	capture *gocv.VideoCapture
	mu      sync.Mutex
	open    bool
}

// NewCamera creates a Camera for device, which is either a device index
// such as "0" or a file path or stream URL. A zero width or height uses the
// default resolution.
func NewCamera(device string, width, height int) Camera {
	if width <= 0 || height <= 0 {
		width, height = DefaultWidth, DefaultHeight
	}
	return &deviceCamera{
		device: device,
		width:  width,
		height: height,
	}
}

// Open opens the device for capturing frames.
func (c *deviceCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open {
		return nil
	}

	capture, err := gocv.OpenVideoCapture(c.device)
	if err != nil {
		return fmt.Errorf("open camera %q: %w", c.device, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return fmt.Errorf("open camera %q: device not available", c.device)
	}

	capture.Set(gocv.VideoCaptureFrameWidth, float64(c.width))
	capture.Set(gocv.VideoCaptureFrameHeight, float64(c.height))

	c.capture = capture
	c.open = true

	return nil
}

// Close closes the device and releases resources.
func (c *deviceCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open || c.capture == nil {
		c.open = false
		return nil
	}

	err := c.capture.Close()
	c.capture = nil
	c.open = false

	return err
}

// ReadFrame drops buffered frames and reads the current one.
func (c *deviceCamera) ReadFrame() (gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open || c.capture == nil {
		return gocv.Mat{}, ErrCameraNotOpen
	}

	c.capture.Grab(bufferedFrames)

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok {
		mat.Close()
		return gocv.Mat{}, fmt.Errorf("failed to read frame from camera %q", c.device)
	}
	if mat.Empty() {
		mat.Close()
		return gocv.Mat{}, errors.New("captured frame is empty")
	}

	return mat, nil
}

// IsOpen returns true if the device is currently open.
func (c *deviceCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.open
}
