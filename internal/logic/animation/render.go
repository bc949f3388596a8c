package animation

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Mode selects the color pattern of an animation.
type Mode int

const (
	// Rainbow spreads the hue wheel evenly across the strip.
	Rainbow Mode = iota
	// ColorRotate shows the same hue on every pixel.
	ColorRotate
)

func (m Mode) String() string {
	switch m {
	case Rainbow:
		return "rainbow"
	case ColorRotate:
		return "colorrotate"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode accepts "rainbow" and "colorrotate" (case-insensitive, with
// optional "-" or "_" separators).
func ParseMode(s string) (Mode, error) {
	n := strings.ToLower(strings.TrimSpace(s))
	n = strings.NewReplacer("-", "", "_", "", " ", "").Replace(n)
	switch n {
	case "rainbow":
		return Rainbow, nil
	case "colorrotate":
		return ColorRotate, nil
	}
	return 0, fmt.Errorf("unknown animation mode %q", s)
}

// Pixel is an RGB color, 0-255 per channel.
type Pixel struct {
	R, G, B int
}

// Frame is what one tick pushes to the strip.
type Frame struct {
	Hue        int
	Pixels     []Pixel
	Brightness float64
}

// Hue returns the wall-clock hue: hundredths of a second modulo 360.
func Hue(now time.Time) int {
	return int((now.UnixMilli() / 10) % 360)
}

// Brightness ramps in tenths from 0 to 1 over the run, or from 1 to 0 when
// decrease is set.
func Brightness(elapsed, duration time.Duration, decrease bool) float64 {
	if duration <= 0 {
		return 0
	}
	b := math.Ceil(elapsed.Seconds()/duration.Seconds()*10) / 10
	if decrease {
		b = 1 - b
	}
	return math.Max(0, math.Min(1, b))
}

// HSVToRGB converts h, s, v in [0,1] to r, g, b in [0,1].
func HSVToRGB(h, s, v float64) (float64, float64, float64) {
	if s == 0 {
		return v, v, v
	}
	i := int(h * 6)
	f := h*6 - float64(i)
	p := v * (1 - s)
	q := v * (1 - s*f)
	t := v * (1 - s*(1-f))
	switch i % 6 {
	case 0:
		return v, t, p
	case 1:
		return q, v, p
	case 2:
		return p, v, t
	case 3:
		return p, q, v
	case 4:
		return t, p, v
	default:
		return v, p, q
	}
}

func hueToPixel(hue float64) Pixel {
	r, g, b := HSVToRGB(math.Mod(hue, 360)/360, 1, 1)
	return Pixel{R: int(r * 255), G: int(g * 255), B: int(b * 255)}
}

// RenderTick computes the frame shown at now, elapsed into a run of the
// given duration, on a strip of n pixels.
func RenderTick(mode Mode, now time.Time, elapsed, duration time.Duration, decrease bool, n int) Frame {
	hue := Hue(now)
	f := Frame{
		Hue:        hue,
		Pixels:     make([]Pixel, n),
		Brightness: Brightness(elapsed, duration, decrease),
	}
	spacing := 0.0
	if mode == Rainbow && n > 0 {
		spacing = 360.0 / float64(n)
	}
	for x := range f.Pixels {
		f.Pixels[x] = hueToPixel(float64(hue) + float64(x)*spacing)
	}
	return f
}
