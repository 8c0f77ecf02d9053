package gst

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/png"
	"math"
	"os"
	"sync"

	"github.com/bryanchriswhite/CaptureExpress/internal/engine"
	"github.com/bryanchriswhite/CaptureExpress/internal/engine/gst/launch"
	"github.com/bryanchriswhite/CaptureExpress/internal/host"
)

// fallbackImageSize is used when an image source cannot be decoded yet
const fallbackImageSize = 64

var errDisposed = errors.New("object already released")

func imageSize(path string) (int, int) {
	f, err := os.Open(path)
	if err != nil {
		return fallbackImageSize, fallbackImageSize
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
		return fallbackImageSize, fallbackImageSize
	}
	return cfg.Width, cfg.Height
}

// Source is a screen, image or pulse audio input
type Source struct {
	eng  *Engine
	name string
	kind engine.SourceKind

	// image dimensions, zero for other kinds
	width, height int

	mu       sync.Mutex
	settings engine.Settings
	mixers   uint32
	filters  []*Filter
	disposed bool
}

// Name returns the source name
func (s *Source) Name() string { return s.name }

// Kind returns the source kind
func (s *Source) Kind() engine.SourceKind { return s.kind }

func (s *Source) audio() bool {
	return s.kind == engine.SourceOutputAudioCapture || s.kind == engine.SourceInputAudioCapture
}

func (s *Source) str(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, _ := s.settings[key].(string)
	return v
}

func (s *Source) flag(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, _ := s.settings[key].(bool)
	return v
}

func (s *Source) number(key string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := engine.IntValue(s.settings[key])
	return int(n), ok
}

// Property enumerates the pulse sources for device_id on audio sources
func (s *Source) Property(name string) (engine.Property, error) {
	if name != engine.PropDeviceID || !s.audio() {
		return engine.Property{}, fmt.Errorf("%w: %s", engine.ErrUnknownProperty, name)
	}
	opts, err := s.eng.AudioDevices(context.Background(), s.kind == engine.SourceOutputAudioCapture)
	if err != nil {
		return engine.Property{}, err
	}
	return engine.Property{Name: name, Options: opts}, nil
}

// Update merges settings
func (s *Source) Update(settings engine.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return errDisposed
	}
	for k, v := range settings {
		s.settings[k] = v
	}
	return nil
}

// Settings returns a copy of the current settings
func (s *Source) Settings() engine.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copySettings(s.settings)
}

// SetAudioMixers sets the track bitmask
func (s *Source) SetAudioMixers(mask uint32) {
	s.mu.Lock()
	s.mixers = mask
	s.mu.Unlock()
}

// AudioMixers returns the track bitmask
func (s *Source) AudioMixers() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mixers
}

// AddFilter attaches a filter
func (s *Source) AddFilter(filter engine.Filter) error {
	f, ok := filter.(*Filter)
	if !ok {
		return fmt.Errorf("filter %q does not belong to this engine", filter.Name())
	}
	s.mu.Lock()
	s.filters = append(s.filters, f)
	s.mu.Unlock()
	s.eng.refreshPads()
	return nil
}

// RemoveFilter detaches a filter
func (s *Source) RemoveFilter(filter engine.Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, f := range s.filters {
		if engine.Filter(f) == filter {
			s.filters = append(s.filters[:i], s.filters[i+1:]...)
			return nil
		}
	}
	return errors.New("filter not attached")
}

// opacity is the product of every attached color filter, 0..1
func (s *Source) opacity() float64 {
	s.mu.Lock()
	filters := append([]*Filter(nil), s.filters...)
	s.mu.Unlock()
	alpha := 1.0
	for _, f := range filters {
		alpha *= f.opacity()
	}
	return alpha
}

// Dispose releases the source and unbinds it from any output channel
func (s *Source) Dispose() error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return errDisposed
	}
	s.disposed = true
	s.mu.Unlock()
	s.eng.unbind(s)
	s.eng.release()
	return nil
}

// Scene is an ordered list of compositor layers
type Scene struct {
	eng  *Engine
	name string

	mu       sync.Mutex
	list     []*SceneItem
	disposed bool
}

// Name returns the scene name
func (s *Scene) Name() string { return s.name }

// Add places a source on the scene
func (s *Scene) Add(source engine.Source, info engine.SceneItemInfo) (engine.SceneItem, error) {
	src, ok := source.(*Source)
	if !ok || src == nil {
		return nil, errors.New("source does not belong to this engine")
	}
	if src.audio() {
		return nil, fmt.Errorf("audio source %s cannot be placed on a scene", src.name)
	}
	item := &SceneItem{eng: s.eng, scene: s, source: src, info: info}
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil, errDisposed
	}
	s.list = append(s.list, item)
	s.mu.Unlock()
	s.eng.retain()
	return item, nil
}

// Items returns the scene items
func (s *Scene) Items() []engine.SceneItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]engine.SceneItem, len(s.list))
	for i, it := range s.list {
		out[i] = it
	}
	return out
}

func (s *Scene) items() []*SceneItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*SceneItem(nil), s.list...)
}

func (s *Scene) remove(item *SceneItem) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, it := range s.list {
		if it == item {
			s.list = append(s.list[:i], s.list[i+1:]...)
			return true
		}
	}
	return false
}

// Dispose releases the scene
func (s *Scene) Dispose() error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return errDisposed
	}
	s.disposed = true
	s.mu.Unlock()
	s.eng.unbind(s)
	s.eng.release()
	return nil
}

// SceneItem is a placed source. Changes made while recording are pushed to
// the compositor pad of the layer.
type SceneItem struct {
	eng    *Engine
	scene  *Scene
	source *Source

	mu   sync.Mutex
	info engine.SceneItemInfo
	// unscaled layer size, known once the item is planned
	baseW, baseH int
}

// Source returns the placed source
func (i *SceneItem) Source() engine.Source { return i.source }

// Info returns the current placement
func (i *SceneItem) Info() engine.SceneItemInfo {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.info
}

// SetPosition moves the item
func (i *SceneItem) SetPosition(x, y float64) {
	i.mu.Lock()
	i.info.X, i.info.Y = x, y
	i.mu.Unlock()
	i.refresh()
}

// SetScale scales the item
func (i *SceneItem) SetScale(x, y float64) {
	i.mu.Lock()
	i.info.ScaleX, i.info.ScaleY = x, y
	i.mu.Unlock()
	i.refresh()
}

// SetVisible toggles visibility
func (i *SceneItem) SetVisible(visible bool) {
	i.mu.Lock()
	i.info.Visible = visible
	i.mu.Unlock()
	i.refresh()
}

// Dispose removes the item from its scene
func (i *SceneItem) Dispose() error {
	if !i.scene.remove(i) {
		return errDisposed
	}
	i.eng.release()
	return nil
}

func (i *SceneItem) placement() launch.Rect {
	i.mu.Lock()
	defer i.mu.Unlock()
	sx, sy := i.info.ScaleX, i.info.ScaleY
	if sx <= 0 {
		sx = 1
	}
	if sy <= 0 {
		sy = 1
	}
	return launch.Rect{
		X:      int(math.Round(i.info.X)),
		Y:      int(math.Round(i.info.Y)),
		Width:  int(math.Round(float64(i.baseW) * sx)),
		Height: int(math.Round(float64(i.baseH) * sy)),
	}
}

func (i *SceneItem) alpha() float64 {
	i.mu.Lock()
	visible := i.info.Visible
	i.mu.Unlock()
	if !visible {
		return 0
	}
	return i.source.opacity()
}

// input describes the item as compositor layer pad
func (i *SceneItem) input(pad int, displays map[int]host.Display) (launch.Input, error) {
	s := i.source
	in := launch.Input{Pad: pad}

	switch s.kind {
	case engine.SourceMonitorCapture:
		idx, _ := s.number(engine.PropMonitor)
		d, ok := displays[idx]
		if !ok {
			return launch.Input{}, fmt.Errorf("display %d not found for %s", idx, s.name)
		}
		in.Kind = launch.InputScreen
		in.Capture = launch.Rect{X: d.Bounds.X, Y: d.Bounds.Y, Width: d.Bounds.Width, Height: d.Bounds.Height}
		in.ShowPointer = s.flag(engine.PropCaptureCursor)
		i.mu.Lock()
		i.baseW, i.baseH = d.Bounds.Width, d.Bounds.Height
		i.mu.Unlock()
	case engine.SourceImage:
		in.Kind = launch.InputImage
		in.File = s.str(engine.PropFile)
		i.mu.Lock()
		i.baseW, i.baseH = s.width, s.height
		i.mu.Unlock()
	default:
		return launch.Input{}, fmt.Errorf("source %s of kind %s cannot be composed", s.name, s.kind)
	}

	in.Placement = i.placement()
	in.Alpha = i.alpha()
	return in, nil
}

func (i *SceneItem) refresh() {
	if rec := i.eng.active(); rec != nil {
		rec.update(i)
	}
}

func (e *Engine) refreshPads() {
	if rec := e.active(); rec != nil {
		for item := range rec.items {
			rec.update(item)
		}
	}
}

// Filter adjusts a source; the color filter's opacity (0..100) scales the
// layer alpha
type Filter struct {
	eng  *Engine
	name string
	kind engine.FilterKind

	mu       sync.Mutex
	settings engine.Settings
	disposed bool
}

// Name returns the filter name
func (f *Filter) Name() string { return f.name }

// Kind returns the filter kind
func (f *Filter) Kind() engine.FilterKind { return f.kind }

// Update merges settings
func (f *Filter) Update(settings engine.Settings) error {
	f.mu.Lock()
	if f.disposed {
		f.mu.Unlock()
		return errDisposed
	}
	for k, v := range settings {
		f.settings[k] = v
	}
	f.mu.Unlock()
	f.eng.refreshPads()
	return nil
}

// Settings returns a copy of the current settings
func (f *Filter) Settings() engine.Settings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copySettings(f.settings)
}

func (f *Filter) opacity() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := engine.IntValue(f.settings[engine.PropOpacity])
	if !ok {
		return 1
	}
	return math.Max(0, math.Min(1, float64(n)/100))
}

// Dispose releases the filter
func (f *Filter) Dispose() error {
	f.mu.Lock()
	if f.disposed {
		f.mu.Unlock()
		return errDisposed
	}
	f.disposed = true
	f.mu.Unlock()
	f.eng.release()
	return nil
}
