package recorder

import (
	"context"
	"fmt"
	"image"
	_ "image/png"
	"math"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/CaptureExpress/internal/engine"
	"github.com/bryanchriswhite/CaptureExpress/internal/host"
	"github.com/bryanchriswhite/CaptureExpress/internal/logger"
)

const (
	defaultClickAnimation = 400 * time.Millisecond
	maxClickInterval      = 16 * time.Millisecond

	markerSourceName = "click_marker"
	markerFilterName = "click_marker_opacity"
	markerItemName   = "click_marker_item"

	// markerStartScale is the marker size at the moment of the click; it
	// grows to full size over the animation
	markerStartScale = 0.5
)

// clickInterval polls at least every 16ms and at least once per frame
func clickInterval(fps int) time.Duration {
	if fps <= 0 {
		return maxClickInterval
	}
	return min(maxClickInterval, time.Second/time.Duration(fps))
}

// markerSize reads the pixel dimensions of the marker image
func markerSize(path string) (Size, error) {
	f, err := os.Open(path)
	if err != nil {
		return Size{}, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return Size{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return Size{Width: cfg.Width, Height: cfg.Height}, nil
}

// prepareClickMarker adds the hidden marker image and its opacity filter to
// the scene. A missing marker asset disables click tracking without failing
// the session.
func (r *Recorder) prepareClickMarker(scene engine.Scene, req Request, displays []host.Display, log zerolog.Logger) (*clickTracker, error) {
	path := r.opts.MarkerPath
	if path == "" {
		log.Warn().Msg("Click tracking requested but no marker image is configured")
		return nil, nil
	}
	size, err := markerSize(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Click marker image unavailable, not tracking clicks")
		return nil, nil
	}

	src, err := r.eng.CreateSource(engine.SourceImage, markerSourceName, engine.Settings{engine.PropFile: path})
	if err != nil {
		return nil, fmt.Errorf("create click marker source: %w", err)
	}
	r.resources.Track(src)

	filter, err := r.eng.CreateFilter(engine.FilterColor, markerFilterName, engine.Settings{engine.PropOpacity: 0})
	if err != nil {
		return nil, fmt.Errorf("create click marker filter: %w", err)
	}
	r.resources.Track(filter)
	if err := src.AddFilter(filter); err != nil {
		return nil, fmt.Errorf("attach click marker filter: %w", err)
	}

	item, err := scene.Add(src, engine.SceneItemInfo{Name: markerItemName, ScaleX: 1, ScaleY: 1})
	if err != nil {
		return nil, fmt.Errorf("place click marker: %w", err)
	}
	r.resources.Track(item)

	return &clickTracker{
		host:      r.host,
		item:      item,
		filter:    filter,
		region:    req.Region,
		displays:  displays,
		marker:    size,
		interval:  clickInterval(req.FPS),
		animation: r.opts.ClickAnimation,
	}, nil
}

// clickTracker polls the mouse and animates a ring where it was clicked
type clickTracker struct {
	host      host.Host
	item      engine.SceneItem
	filter    engine.Filter
	region    host.Rect
	displays  []host.Display
	marker    Size
	interval  time.Duration
	animation time.Duration

	cancel context.CancelFunc
	done   chan struct{}

	// owned by the polling goroutine
	pressed bool
	clickAt time.Time
	clickX  int
	clickY  int
	scale   float64
	visible bool
	opacity int
}

func (c *clickTracker) start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx)
}

// stop cancels the polling loop and waits for it to exit. A stopped tracker
// can be started again.
func (c *clickTracker) stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.cancel, c.done = nil, nil
}

func (c *clickTracker) run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.tick(now)
		}
	}
}

func (c *clickTracker) tick(now time.Time) {
	m, err := c.host.Mouse()
	if err != nil {
		logger.WithComponent("click-tracker").Debug().Err(err).Msg("Mouse sample failed")
		return
	}

	if m.Pressed() && !c.pressed {
		c.clickAt = now
		c.clickX, c.clickY = m.X, m.Y
		d, _ := host.DisplayAt(c.displays, m.X, m.Y)
		c.scale = d.ScaleFactor()
	}
	c.pressed = m.Pressed()

	elapsed := now.Sub(c.clickAt)
	if c.clickAt.IsZero() || elapsed >= c.animation {
		if c.visible {
			c.item.SetVisible(false)
			c.visible = false
		}
		return
	}

	progress := float64(elapsed) / float64(c.animation)
	scale := c.scale * (markerStartScale + (1-markerStartScale)*progress)
	w := float64(c.marker.Width) * scale
	h := float64(c.marker.Height) * scale
	c.item.SetScale(scale, scale)
	c.item.SetPosition(float64(c.clickX-c.region.X)-w/2, float64(c.clickY-c.region.Y)-h/2)

	opacity := int(math.Round(100 * (1 - progress)))
	if opacity != c.opacity {
		if err := c.filter.Update(engine.Settings{engine.PropOpacity: opacity}); err != nil {
			logger.WithComponent("click-tracker").Debug().Err(err).Msg("Marker opacity update failed")
		}
		c.opacity = opacity
	}
	if !c.visible {
		c.item.SetVisible(true)
		c.visible = true
	}
}
