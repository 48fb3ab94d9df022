package pollen

import (
	"fmt"
	"math"
)

// RGB is an 8-bit color normalized from the upstream wire format.
type RGB struct {
	R, G, B uint8
}

// Hex returns the color as an uppercase "#RRGGBB" string.
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

// Slice returns the color as a [r, g, b] slice, the shape used for list
// attributes on projected entities.
func (c RGB) Slice() []int {
	return []int{int(c.R), int(c.G), int(c.B)}
}

// ParseColor normalizes an upstream color block to an [RGB] value.
//
// Channels in the 0..1 range are treated as floats and scaled to 0..255;
// anything else is treated as an already-scaled 8-bit value. Results are
// rounded and clamped to 0..255.
//
// A block with no channels at all yields nil: the upstream provided no
// usable color and callers must not invent one. When at least one channel is
// present, missing channels default to 0 so partial colors survive.
func ParseColor(c *RawColor) *RGB {
	if c == nil {
		return nil
	}
	if c.Red == nil && c.Green == nil && c.Blue == nil {
		return nil
	}
	return &RGB{
		R: normalizeChannel(c.Red),
		G: normalizeChannel(c.Green),
		B: normalizeChannel(c.Blue),
	}
}

// normalizeChannel scales a single channel to 0..255. Absent channels map
// to 0; the caller has already established that at least one channel exists.
func normalizeChannel(v *float64) uint8 {
	if v == nil {
		return 0
	}
	f := *v
	if f >= 0 && f <= 1 {
		f *= 255
	}
	f = math.Round(f)
	if f < 0 {
		return 0
	}
	if f > 255 {
		return 255
	}
	return uint8(f)
}
