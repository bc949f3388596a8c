package led

import "sync"

// Mock is an in-memory Strip. It backs "led.type: mock" for development
// off the Pi and keeps only the last shown frame and a count, unless
// created with NewRecordingMock.
type Mock struct {
	mu     sync.Mutex
	pixels []Pixel
	last   []Pixel
	shown  int
	record bool
	frames [][]Pixel
	err    error
}

// NewMock returns a mock strip of n pixels.
func NewMock(n int) *Mock {
	if n <= 0 {
		n = DefaultNumPixels
	}
	return &Mock{pixels: make([]Pixel, n)}
}

// NewRecordingMock returns a mock strip that also keeps every shown frame
// for Frames. Memory grows with each Show; use it in tests only.
func NewRecordingMock(n int) *Mock {
	m := NewMock(n)
	m.record = true
	return m
}

func (m *Mock) NumPixels() int { return len(m.pixels) }

func (m *Mock) SetPixel(index, r, g, b int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.pixels) {
		return
	}
	m.pixels[index].R, m.pixels[index].G, m.pixels[index].B = clampByte(r), clampByte(g), clampByte(b)
}

func (m *Mock) SetAll(r, g, b int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.pixels {
		m.pixels[i].R, m.pixels[i].G, m.pixels[i].B = clampByte(r), clampByte(g), clampByte(b)
	}
}

func (m *Mock) SetBrightness(value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.pixels {
		m.pixels[i].Brightness = clampUnit(value)
	}
}

func (m *Mock) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.pixels {
		m.pixels[i].R, m.pixels[i].G, m.pixels[i].B = 0, 0, 0
	}
}

func (m *Mock) Show() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	frame := make([]Pixel, len(m.pixels))
	copy(frame, m.pixels)
	m.last = frame
	m.shown++
	if m.record {
		m.frames = append(m.frames, frame)
	}
	return nil
}

// FailShow makes subsequent Show calls return err (nil restores success).
func (m *Mock) FailShow(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Shown returns how many frames were shown.
func (m *Mock) Shown() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shown
}

// Frames returns every shown frame of a recording mock, none otherwise.
func (m *Mock) Frames() [][]Pixel {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]Pixel, len(m.frames))
	copy(out, m.frames)
	return out
}

// Last returns the last shown frame, or nil.
func (m *Mock) Last() []Pixel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}
