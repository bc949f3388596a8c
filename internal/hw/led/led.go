package led

// Strip is the capability the animation engine drives. It mirrors the
// Blinkt API: pixels are buffered by SetPixel/SetAll/SetBrightness and only
// reach the hardware on Show.
type Strip interface {
	// NumPixels returns the fixed pixel count of the strip.
	NumPixels() int
	// SetPixel buffers one pixel color (0-255 per channel).
	SetPixel(index, r, g, b int)
	// SetAll buffers the same color on every pixel.
	SetAll(r, g, b int)
	// SetBrightness buffers a global brightness in [0,1].
	SetBrightness(value float64)
	// Clear buffers an all-off frame. Brightness is kept.
	Clear()
	// Show pushes the buffered frame to the hardware.
	Show() error
}

// Pixel is one buffered pixel.
type Pixel struct {
	R, G, B    int
	Brightness float64
}

func clampByte(v int) int {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
