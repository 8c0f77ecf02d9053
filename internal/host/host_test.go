package host

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntersectsHalfOpen(t *testing.T) {
	region := Rect{X: 0, Y: 0, Width: 100, Height: 100}

	cases := []struct {
		name    string
		display Rect
		want    bool
	}{
		{"touching right edge", Rect{X: 100, Y: 0, Width: 100, Height: 100}, false},
		{"one pixel overlap right", Rect{X: 99, Y: 0, Width: 100, Height: 100}, true},
		{"touching bottom edge", Rect{X: 0, Y: 100, Width: 100, Height: 100}, false},
		{"one pixel overlap bottom", Rect{X: 0, Y: 99, Width: 100, Height: 100}, true},
		{"touching left edge", Rect{X: -100, Y: 0, Width: 100, Height: 100}, false},
		{"negative origin overlap", Rect{X: -50, Y: -50, Width: 100, Height: 100}, true},
		{"contained", Rect{X: 10, Y: 10, Width: 10, Height: 10}, true},
		{"disjoint", Rect{X: 500, Y: 500, Width: 10, Height: 10}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, region.Intersects(tc.display))
			assert.Equal(t, tc.want, tc.display.Intersects(region))
		})
	}
}

func TestDisplayAt(t *testing.T) {
	displays := []Display{
		{Index: 0, Bounds: Rect{Width: 1920, Height: 1080}, DPI: 96},
		{Index: 1, Bounds: Rect{X: 1920, Width: 2560, Height: 1440}, DPI: 192},
	}

	d, ok := DisplayAt(displays, 2000, 100)
	require.True(t, ok)
	assert.Equal(t, 1, d.Index)
	assert.InDelta(t, 2.0, d.ScaleFactor(), 1e-9)

	d, ok = DisplayAt(displays, -5, -5)
	assert.False(t, ok)
	assert.Equal(t, 0, d.Index)

	_, ok = DisplayAt(nil, 0, 0)
	assert.False(t, ok)
}

func TestStatic(t *testing.T) {
	_, err := NewStatic().Displays()
	assert.ErrorIs(t, err, ErrNoDisplay)

	s := NewStatic(Display{Index: 0, Bounds: Rect{Width: 800, Height: 600}})
	displays, err := s.Displays()
	require.NoError(t, err)
	assert.Len(t, displays, 1)

	s.SetMouse(MouseState{X: 5, Y: 6, LeftDown: true})
	m, err := s.Mouse()
	require.NoError(t, err)
	assert.True(t, m.Pressed())
	assert.Equal(t, 5, m.X)

	assert.Equal(t, 1.0, Display{}.ScaleFactor())
}
