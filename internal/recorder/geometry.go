package recorder

import (
	"math"

	"github.com/bryanchriswhite/CaptureExpress/internal/host"
)

// OutputSize fits width x height inside the optional caps, preserving the
// aspect ratio. The width cap is applied first, then the height cap, so the
// result always satisfies both. A cap of zero means unbounded.
func OutputSize(width, height, maxWidth, maxHeight int) Size {
	w, h := float64(width), float64(height)
	if maxWidth > 0 && w > float64(maxWidth) {
		h = h * float64(maxWidth) / w
		w = float64(maxWidth)
	}
	if maxHeight > 0 && h > float64(maxHeight) {
		w = w * float64(maxHeight) / h
		h = float64(maxHeight)
	}
	return Size{Width: atLeastOne(w), Height: atLeastOne(h)}
}

// Reduction is the percentage of pixels removed by scaling from to to
func Reduction(from, to Size) float64 {
	area := float64(from.Width) * float64(from.Height)
	if area == 0 {
		return 0
	}
	return 100 * (1 - float64(to.Width)*float64(to.Height)/area)
}

// IntersectingDisplays returns the displays overlapping region in host order
func IntersectingDisplays(displays []host.Display, region host.Rect) []host.Display {
	var out []host.Display
	for _, d := range displays {
		if d.Bounds.Intersects(region) {
			out = append(out, d)
		}
	}
	return out
}

// exceedsHD decides between BT.709 and BT.601 colorimetry
func exceedsHD(s Size) bool {
	return s.Width > 1280 || s.Height > 720
}

func atLeastOne(v float64) int {
	n := int(math.Round(v))
	if n < 1 {
		return 1
	}
	return n
}
