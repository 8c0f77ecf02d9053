// Package marker renders the ring image drawn where the mouse is clicked.
package marker

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"golang.org/x/image/vector"
)

const (
	// DefaultSize is the marker edge length in pixels at 96 DPI
	DefaultSize = 64
	// FileName is the default marker file inside the data directory
	FileName = "click-marker.png"
)

// DefaultColor is a warm yellow
var DefaultColor = color.NRGBA{R: 0xff, G: 0xc1, B: 0x07, A: 0xff}

// kappa places cubic control points so four curves approximate a circle
const kappa = 0.5522847498

// Render draws a ring of the given edge length; the ring is size/8 thick
func Render(size int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	z := vector.NewRasterizer(size, size)

	center := float32(size) / 2
	outer := center - 1
	inner := outer - float32(size)/8

	circle(z, center, center, outer, false)
	circle(z, center, center, inner, true)
	z.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{})
	return img
}

// circle adds a closed circle path; reverse winding punches a hole
func circle(z *vector.Rasterizer, cx, cy, r float32, reverse bool) {
	k := r * kappa
	if !reverse {
		z.MoveTo(cx+r, cy)
		z.CubeTo(cx+r, cy+k, cx+k, cy+r, cx, cy+r)
		z.CubeTo(cx-k, cy+r, cx-r, cy+k, cx-r, cy)
		z.CubeTo(cx-r, cy-k, cx-k, cy-r, cx, cy-r)
		z.CubeTo(cx+k, cy-r, cx+r, cy-k, cx+r, cy)
	} else {
		z.MoveTo(cx+r, cy)
		z.CubeTo(cx+r, cy-k, cx+k, cy-r, cx, cy-r)
		z.CubeTo(cx-k, cy-r, cx-r, cy-k, cx-r, cy)
		z.CubeTo(cx-r, cy+k, cx-k, cy+r, cx, cy+r)
		z.CubeTo(cx+k, cy+r, cx+r, cy+k, cx+r, cy)
	}
	z.ClosePath()
}

// Write renders a marker and atomically writes it as PNG
func Write(path string, size int, c color.Color) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, Render(size, c)); err != nil {
		return fmt.Errorf("encode marker: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create marker directory: %w", err)
	}
	if err := renameio.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	return nil
}

// EnsureDefault returns the default marker path in dataDir, rendering the
// image on first use
func EnsureDefault(dataDir string) (string, error) {
	path := filepath.Join(dataDir, FileName)
	_, err := os.Stat(path)
	if err == nil {
		return path, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	if err := Write(path, DefaultSize, DefaultColor); err != nil {
		return "", err
	}
	return path, nil
}
