package led

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/PiLapse/internal/debug"
	"github.com/cjeanneret/PiLapse/internal/hw/gpio"
)

// Blinkt wiring defaults (BCM numbering).
const (
	DefaultDataPin   = 23
	DefaultClockPin  = 24
	DefaultNumPixels = 8
)

// Blinkt drives a Pimoroni Blinkt! (APA102 pixels) by bit-banging its data
// and clock lines:
// - start frame: 32 clocks with DATA low
// - per pixel: 0b111xxxxx (5-bit brightness), blue, green, red, MSB first
// - end frame: 36 clocks with DATA low
type Blinkt struct {
	gpio     gpio.Driver
	dataPin  int
	clockPin int

	mu     sync.Mutex
	pixels []Pixel
}

// NewBlinkt sets up the data and clock pins as outputs driven low.
func NewBlinkt(g gpio.Driver, dataPin, clockPin, numPixels int) (*Blinkt, error) {
	if numPixels <= 0 {
		numPixels = DefaultNumPixels
	}
	for _, pin := range []int{dataPin, clockPin} {
		if err := g.SetupPin(pin, gpio.Output); err != nil {
			return nil, fmt.Errorf("setup pin %d: %w", pin, err)
		}
		if err := g.WritePin(pin, gpio.Low); err != nil {
			return nil, fmt.Errorf("reset pin %d: %w", pin, err)
		}
	}

	pixels := make([]Pixel, numPixels)
	for i := range pixels {
		pixels[i].Brightness = 0.2 // Blinkt default brightness
	}
	debug.Verbose("Blinkt ready: %d pixels, data=%d clock=%d", numPixels, dataPin, clockPin)

	return &Blinkt{
		gpio:     g,
		dataPin:  dataPin,
		clockPin: clockPin,
		pixels:   pixels,
	}, nil
}

func (b *Blinkt) NumPixels() int { return len(b.pixels) }

func (b *Blinkt) SetPixel(index, r, g, bl int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if index < 0 || index >= len(b.pixels) {
		return
	}
	b.pixels[index].R = clampByte(r)
	b.pixels[index].G = clampByte(g)
	b.pixels[index].B = clampByte(bl)
}

func (b *Blinkt) SetAll(r, g, bl int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.pixels {
		b.pixels[i].R = clampByte(r)
		b.pixels[i].G = clampByte(g)
		b.pixels[i].B = clampByte(bl)
	}
}

func (b *Blinkt) SetBrightness(value float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v := clampUnit(value)
	for i := range b.pixels {
		b.pixels[i].Brightness = v
	}
}

func (b *Blinkt) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.pixels {
		b.pixels[i].R, b.pixels[i].G, b.pixels[i].B = 0, 0, 0
	}
}

// Show clocks the buffered frame out to the strip.
func (b *Blinkt) Show() error {
	b.mu.Lock()
	frame := make([]Pixel, len(b.pixels))
	copy(frame, b.pixels)
	b.mu.Unlock()

	if err := b.latch(32); err != nil {
		return fmt.Errorf("start frame: %w", err)
	}
	for i, p := range frame {
		for _, v := range EncodePixel(p) {
			if err := b.writeByte(v); err != nil {
				return fmt.Errorf("pixel %d: %w", i, err)
			}
		}
	}
	if err := b.latch(36); err != nil {
		return fmt.Errorf("end frame: %w", err)
	}
	return nil
}

// EncodePixel returns the four APA102 bytes for p.
func EncodePixel(p Pixel) [4]byte {
	level := byte(31.0*clampUnit(p.Brightness)) & 0x1f
	return [4]byte{0xe0 | level, byte(clampByte(p.B)), byte(clampByte(p.G)), byte(clampByte(p.R))}
}

func (b *Blinkt) latch(clocks int) error {
	if err := b.gpio.WritePin(b.dataPin, gpio.Low); err != nil {
		return err
	}
	for i := 0; i < clocks; i++ {
		if err := b.pulse(); err != nil {
			return err
		}
	}
	return nil
}

func (b *Blinkt) writeByte(v byte) error {
	for bit := 7; bit >= 0; bit-- {
		level := gpio.Low
		if v&(1<<uint(bit)) != 0 {
			level = gpio.High
		}
		if err := b.gpio.WritePin(b.dataPin, level); err != nil {
			return err
		}
		if err := b.pulse(); err != nil {
			return err
		}
	}
	return nil
}

func (b *Blinkt) pulse() error {
	if err := b.gpio.WritePin(b.clockPin, gpio.High); err != nil {
		return err
	}
	return b.gpio.WritePin(b.clockPin, gpio.Low)
}
