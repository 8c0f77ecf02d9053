// Package host reports the displays and pointer state of the machine being
// recorded.
package host

import (
	"errors"
	"sync"
)

// DefaultDPI is the logical DPI of an unscaled display
const DefaultDPI = 96.0

// Rect is a rectangle in virtual desktop coordinates
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Intersects uses half-open edges: rectangles that only touch do not intersect
func (r Rect) Intersects(o Rect) bool {
	return r.X < o.X+o.Width && o.X < r.X+r.Width &&
		r.Y < o.Y+o.Height && o.Y < r.Y+r.Height
}

// Contains reports whether the point lies inside r
func (r Rect) Contains(x, y int) bool {
	return x >= r.X && x < r.X+r.Width && y >= r.Y && y < r.Y+r.Height
}

// Display is one monitor
type Display struct {
	Index  int     `json:"index"`
	Bounds Rect    `json:"bounds"`
	DPI    float64 `json:"dpi"`
}

// ScaleFactor is DPI relative to an unscaled display
func (d Display) ScaleFactor() float64 {
	if d.DPI <= 0 {
		return 1
	}
	return d.DPI / DefaultDPI
}

// MouseState is a pointer sample
type MouseState struct {
	X          int  `json:"x"`
	Y          int  `json:"y"`
	LeftDown   bool `json:"leftDown"`
	RightDown  bool `json:"rightDown"`
	MiddleDown bool `json:"middleDown"`
}

// Pressed reports whether any button is held
func (m MouseState) Pressed() bool {
	return m.LeftDown || m.RightDown || m.MiddleDown
}

// Host supplies display layout and mouse state
type Host interface {
	Displays() ([]Display, error)
	Mouse() (MouseState, error)
}

// ErrNoDisplay is returned when the host reports no monitors
var ErrNoDisplay = errors.New("host reports no displays")

// DisplayAt returns the display containing the point, or the first display
func DisplayAt(displays []Display, x, y int) (Display, bool) {
	for _, d := range displays {
		if d.Bounds.Contains(x, y) {
			return d, true
		}
	}
	if len(displays) > 0 {
		return displays[0], false
	}
	return Display{}, false
}

// Static is a fixed host used for dry runs and tests
type Static struct {
	mu       sync.Mutex
	displays []Display
	mouse    MouseState
}

// NewStatic creates a host with the given displays
func NewStatic(displays ...Display) *Static {
	return &Static{displays: displays}
}

// Displays returns the configured displays
func (s *Static) Displays() ([]Display, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.displays) == 0 {
		return nil, ErrNoDisplay
	}
	return append([]Display(nil), s.displays...), nil
}

// Mouse returns the last state passed to SetMouse
func (s *Static) Mouse() (MouseState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mouse, nil
}

// SetMouse replaces the reported pointer state
func (s *Static) SetMouse(m MouseState) {
	s.mu.Lock()
	s.mouse = m
	s.mu.Unlock()
}
