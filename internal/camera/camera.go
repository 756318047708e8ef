// Package camera wraps a local capture device.
package camera

import (
	"errors"
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// ErrOpen is returned when the capture device cannot be opened.
var ErrOpen = errors.New("camera: cannot open device")

// Device is an opened capture device. Read is meant to be called from a
// single goroutine; Close may be called from any.
type Device struct {
	mu     sync.Mutex
	cap    *gocv.VideoCapture
	index  int
	width  int
	height int
}

// Open opens the device at index and requests the given resolution. The
// driver may pick a different size; Size reports what was negotiated.
func Open(index, width, height int) (*Device, error) {
	vc, err := gocv.VideoCaptureDevice(index)
	if err != nil {
		return nil, fmt.Errorf("%w %d: %v", ErrOpen, index, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w %d", ErrOpen, index)
	}

	vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(height))

	return &Device{
		cap:    vc,
		index:  index,
		width:  int(vc.Get(gocv.VideoCaptureFrameWidth)),
		height: int(vc.Get(gocv.VideoCaptureFrameHeight)),
	}, nil
}

// Read grabs the next frame into dst. It reports false when the device is
// closed, the read fails or the frame is empty.
func (d *Device) Read(dst *gocv.Mat) bool {
	d.mu.Lock()
	vc := d.cap
	d.mu.Unlock()
	if vc == nil {
		return false
	}
	if ok := vc.Read(dst); !ok {
		return false
	}
	return !dst.Empty()
}

// Size returns the negotiated frame size.
func (d *Device) Size() (width, height int) {
	return d.width, d.height
}

func (d *Device) Index() int { return d.index }

// Close releases the device. Calling it more than once is a no-op.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cap == nil {
		return nil
	}
	err := d.cap.Close()
	d.cap = nil
	if err != nil {
		return fmt.Errorf("close camera %d: %w", d.index, err)
	}
	return nil
}
