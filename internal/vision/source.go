package vision

import (
	"fmt"

	"gocv.io/x/gocv"
)

// FrameSource is a pull-based supply of frames. Next returns false when the
// source is exhausted or stopped; callers own the returned Mat and must
// Close it.
type FrameSource interface {
	Next() (gocv.Mat, bool)
	Close() error
}

// CameraSource reads frames from a capture device.
type CameraSource struct {
	capture *gocv.VideoCapture
}

// OpenCamera opens the capture device. An unavailable camera is a fatal
// environment failure.
func OpenCamera(deviceID int) (*CameraSource, error) {
	capture, err := gocv.VideoCaptureDevice(deviceID)
	if err != nil {
		return nil, fmt.Errorf("camera %d unavailable: %w", deviceID, err)
	}
	return &CameraSource{capture: capture}, nil
}

// Next reads one frame. Empty reads (camera warming up) report no frame
// rather than ending the stream.
func (c *CameraSource) Next() (gocv.Mat, bool) {
	frame := gocv.NewMat()
	if ok := c.capture.Read(&frame); !ok {
		frame.Close()
		return gocv.Mat{}, false
	}
	if frame.Empty() {
		frame.Close()
		return gocv.Mat{}, false
	}
	return frame, true
}

// Close releases the device.
func (c *CameraSource) Close() error {
	return c.capture.Close()
}

// ScriptedSource replays a fixed sequence of frames, for tests and for
// reprocessing recorded sessions.
type ScriptedSource struct {
	frames []gocv.Mat
	pos    int
}

// NewScriptedSource wraps the given frames; the source takes ownership.
func NewScriptedSource(frames []gocv.Mat) *ScriptedSource {
	return &ScriptedSource{frames: frames}
}

// Next hands out the next frame in sequence.
func (s *ScriptedSource) Next() (gocv.Mat, bool) {
	if s.pos >= len(s.frames) {
		return gocv.Mat{}, false
	}
	frame := s.frames[s.pos]
	s.pos++
	return frame, true
}

// Close releases any frames not yet handed out.
func (s *ScriptedSource) Close() error {
	for ; s.pos < len(s.frames); s.pos++ {
		s.frames[s.pos].Close()
	}
	return nil
}
