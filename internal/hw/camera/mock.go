package camera

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
)

// Mock writes a small generated JPEG for every capture. It backs
// "camera.type: mock" and the tests.
type Mock struct {
	mu       sync.Mutex
	open     bool
	captures []string
	opens    int
	// OpenErr and CaptureErr, when set, are returned by Open and Capture.
	OpenErr    error
	CaptureErr error
	// FailAfter makes Capture fail once this many captures succeeded (0 = never).
	FailAfter int
}

// NewMock returns a working mock camera.
func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) Open(ctx context.Context, res Resolution) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	if m.open {
		return nil, fmt.Errorf("camera already in use")
	}
	m.open = true
	m.opens++
	return &mockSession{m: m, res: res}, nil
}

// Captures returns the destinations written so far.
func (m *Mock) Captures() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.captures))
	copy(out, m.captures)
	return out
}

// Opens returns how many sessions were opened.
func (m *Mock) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

// IsOpen reports whether a session is currently held.
func (m *Mock) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

type mockSession struct {
	m      *Mock
	res    Resolution
	closed bool
}

func (s *mockSession) Capture(ctx context.Context, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.m.mu.Lock()
	if s.closed {
		s.m.mu.Unlock()
		return ErrSessionClosed
	}
	if s.m.CaptureErr != nil {
		err := s.m.CaptureErr
		s.m.mu.Unlock()
		return err
	}
	if s.m.FailAfter > 0 && len(s.m.captures) >= s.m.FailAfter {
		s.m.mu.Unlock()
		return fmt.Errorf("mock camera failure after %d captures", s.m.FailAfter)
	}
	n := len(s.m.captures)
	s.m.mu.Unlock()

	if err := writeTestPattern(dst, s.res, n); err != nil {
		return err
	}

	s.m.mu.Lock()
	s.m.captures = append(s.m.captures, dst)
	s.m.mu.Unlock()
	return nil
}

func (s *mockSession) Close() error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.m.open = false
	}
	return nil
}

// writeTestPattern encodes a gradient at res (64x36 when unset) whose
// colours shift with n.
func writeTestPattern(dst string, res Resolution, n int) error {
	w, h := res.Width, res.Height
	if w <= 0 || h <= 0 {
		w, h = 64, 36
	}
	if dir := filepath.Dir(dst); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory %s: %w", dir, err)
		}
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x*255/w + n*16), G: uint8(y * 255 / h), B: uint8(n * 40), A: 255})
		}
	}
	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 80}); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", dst, err)
	}
	return f.Close()
}
