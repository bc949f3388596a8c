package camera

import (
	"context"
	"fmt"
)

// Resolution is the capture size in pixels.
type Resolution struct {
	Width  int
	Height int
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Driver is the high-level interface used by the rest of the application.
// It represents an abstract camera regardless of how frames are produced
// (libcamera, legacy raspistill, a mock for development, ...).
type Driver interface {
	// Open acquires the camera for a scoped session. The session must be
	// closed to release it.
	Open(ctx context.Context, res Resolution) (Session, error)
}

// Session is an acquired camera.
type Session interface {
	// Capture writes one JPEG frame to dst.
	Capture(ctx context.Context, dst string) error
	Close() error
}
