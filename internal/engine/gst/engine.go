// Package gst is the GStreamer engine backend. Recordings are described as
// gst-launch pipelines by the launch package and driven through go-gst.
package gst

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/bryanchriswhite/CaptureExpress/internal/engine"
	"github.com/bryanchriswhite/CaptureExpress/internal/engine/gst/launch"
	"github.com/bryanchriswhite/CaptureExpress/internal/host"
	"github.com/bryanchriswhite/CaptureExpress/internal/logger"
	"github.com/tinyzimmer/go-gst/gst"
)

// Output channel layout
const (
	sceneChannel      = 1
	firstAudioChannel = 2
	maxChannel        = 63
)

// signalErrorCode marks a failed output signal
const signalErrorCode = -4

// Options configures the GStreamer engine
type Options struct {
	Host host.Host
	// DisplayName is the X display captured by ximagesrc, empty uses $DISPLAY
	DisplayName string
	// ListSources returns `pactl list short sources` output
	ListSources func(ctx context.Context) (string, error)
	// StopTimeout bounds the wait for EOS before the pipeline is torn down
	StopTimeout time.Duration
	// MeterInterval is the level element reporting interval
	MeterInterval time.Duration
}

// DefaultOptions returns options capturing the local X display
func DefaultOptions(h host.Host) Options {
	return Options{
		Host:          h,
		DisplayName:   os.Getenv("DISPLAY"),
		ListSources:   pactlSources,
		StopTimeout:   5 * time.Second,
		MeterInterval: 50 * time.Millisecond,
	}
}

func pactlSources(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, "pactl", "list", "short", "sources").Output()
	if err != nil {
		return "", fmt.Errorf("pactl list sources: %w", err)
	}
	return string(out), nil
}

var initOnce sync.Once

// requiredElements must be installed for any recording to work
var requiredElements = []string{"compositor", "ximagesrc", "videoconvert", "videoscale", "audiomixer", "pulsesrc", "avenc_aac"}

// Engine records through GStreamer
type Engine struct {
	opts Options

	mu           sync.Mutex
	initialized  bool
	handler      func(engine.Signal)
	settingsPath string
	settings     map[string][]engine.SubCategory
	outputs      map[int]engine.OutputSource
	live         int
	rec          *recording
}

// New creates an uninitialized engine
func New(opts Options) *Engine {
	if opts.ListSources == nil {
		opts.ListSources = pactlSources
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 5 * time.Second
	}
	if opts.MeterInterval <= 0 {
		opts.MeterInterval = 50 * time.Millisecond
	}
	return &Engine{opts: opts, outputs: make(map[int]engine.OutputSource)}
}

var _ engine.Engine = (*Engine)(nil)

// Init loads GStreamer, detects encoders and restores saved settings
func (e *Engine) Init(opts engine.InitOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return &engine.InitError{Code: engine.InitCurrentlyActive}
	}
	if e.opts.Host == nil {
		return &engine.InitError{Code: engine.InitFail, Err: errors.New("no display host")}
	}

	initOnce.Do(func() { gst.Init(nil) })

	for _, name := range requiredElements {
		if gst.Find(name) == nil {
			return &engine.InitError{Code: engine.InitModuleNotFound, Err: fmt.Errorf("element %s not installed", name)}
		}
	}

	var encoders []string
	for _, name := range []string{engine.EncoderX264, engine.EncoderNVENC} {
		if gst.Find(launch.EncoderElements[name]) != nil {
			encoders = append(encoders, name)
		}
	}
	if len(encoders) == 0 {
		return &engine.InitError{Code: engine.InitModuleNotFound, Err: errors.New("no H.264 encoder installed")}
	}

	path := engine.SettingsFile(opts.DataDir)
	tree := engine.DefaultSettings(encoders, opts.DataDir)
	if err := engine.LoadSettingsFile(path, tree); err != nil {
		return &engine.InitError{Code: engine.InitInvalidParam, ConfigPath: path, Err: err}
	}

	e.settingsPath = path
	e.settings = tree
	e.initialized = true

	logger.WithComponent("engine-gst").Info().
		Str("server", opts.ServerName).
		Str("display", e.opts.DisplayName).
		Strs("encoders", encoders).
		Str("settings", path).
		Msg("GStreamer engine initialized")
	return nil
}

// Shutdown tears down any running pipeline and marks the engine unusable
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	rec := e.rec
	e.rec = nil
	e.initialized = false
	e.mu.Unlock()

	if rec != nil {
		rec.teardown()
	}
	return nil
}

// ConnectOutputSignals registers the signal handler
func (e *Engine) ConnectOutputSignals(handler func(engine.Signal)) {
	e.mu.Lock()
	e.handler = handler
	e.mu.Unlock()
}

// RemoveCallback detaches the signal handler
func (e *Engine) RemoveCallback() {
	e.mu.Lock()
	e.handler = nil
	e.mu.Unlock()
}

func (e *Engine) emit(sig engine.Signal) {
	e.mu.Lock()
	handler := e.handler
	e.mu.Unlock()
	if handler != nil {
		handler(sig)
	}
}

func (e *Engine) retain() {
	e.mu.Lock()
	e.live++
	e.mu.Unlock()
}

func (e *Engine) release() {
	e.mu.Lock()
	e.live--
	e.mu.Unlock()
}

// CreateSource creates an input source
func (e *Engine) CreateSource(kind engine.SourceKind, name string, settings engine.Settings) (engine.Source, error) {
	e.mu.Lock()
	ok := e.initialized
	e.mu.Unlock()
	if !ok {
		return nil, engine.ErrNotInitialized
	}

	s := &Source{eng: e, name: name, kind: kind, settings: copySettings(settings)}
	switch kind {
	case engine.SourceMonitorCapture, engine.SourceOutputAudioCapture, engine.SourceInputAudioCapture:
	case engine.SourceImage:
		s.width, s.height = imageSize(s.str(engine.PropFile))
	default:
		return nil, fmt.Errorf("unknown source kind %q", kind)
	}
	e.retain()
	return s, nil
}

// CreateScene creates an empty scene
func (e *Engine) CreateScene(name string) (engine.Scene, error) {
	e.mu.Lock()
	ok := e.initialized
	e.mu.Unlock()
	if !ok {
		return nil, engine.ErrNotInitialized
	}
	e.retain()
	return &Scene{eng: e, name: name}, nil
}

// CreateFilter creates a filter; only the color filter's opacity is honoured
func (e *Engine) CreateFilter(kind engine.FilterKind, name string, settings engine.Settings) (engine.Filter, error) {
	e.mu.Lock()
	ok := e.initialized
	e.mu.Unlock()
	if !ok {
		return nil, engine.ErrNotInitialized
	}
	if kind != engine.FilterColor {
		return nil, fmt.Errorf("unknown filter kind %q", kind)
	}
	e.retain()
	return &Filter{eng: e, name: name, kind: kind, settings: copySettings(settings)}, nil
}

// CreateVolmeter creates a level meter backed by its own pipeline
func (e *Engine) CreateVolmeter(fader engine.FaderType) (engine.Volmeter, error) {
	e.mu.Lock()
	ok := e.initialized
	e.mu.Unlock()
	if !ok {
		return nil, engine.ErrNotInitialized
	}
	return &Volmeter{eng: e, fader: fader, callbacks: make(map[engine.CallbackID]engine.VolmeterCallback)}, nil
}

// SetOutputSource binds a source to an output channel; nil clears it
func (e *Engine) SetOutputSource(channel int, source engine.OutputSource) error {
	if channel < 0 || channel > maxChannel {
		return fmt.Errorf("output channel %d out of range", channel)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if source == nil {
		delete(e.outputs, channel)
		return nil
	}
	e.outputs[channel] = source
	return nil
}

func (e *Engine) unbind(source engine.OutputSource) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for ch, out := range e.outputs {
		if out == source {
			delete(e.outputs, ch)
		}
	}
}

// GetSettings returns a copy of a settings category
func (e *Engine) GetSettings(category string) ([]engine.SubCategory, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return nil, engine.ErrNotInitialized
	}
	data, ok := e.settings[category]
	if !ok || len(data) == 0 {
		return nil, nil
	}
	return engine.CloneSubCategories(data), nil
}

// SaveSettings replaces a settings category and persists the tree
func (e *Engine) SaveSettings(category string, data []engine.SubCategory) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return engine.ErrNotInitialized
	}
	if _, ok := e.settings[category]; !ok {
		return engine.ErrCategoryNotFound
	}
	e.settings[category] = engine.CloneSubCategories(data)
	if err := engine.WriteSettingsFile(e.settingsPath, e.settings); err != nil {
		return fmt.Errorf("persist settings: %w", err)
	}
	return nil
}

// values projects a category for the launch package; callers hold e.mu
func (e *Engine) values(category string) launch.Values {
	out := launch.Values{}
	for _, sub := range e.settings[category] {
		params := make(map[string]any, len(sub.Parameters))
		for _, p := range sub.Parameters {
			params[p.Name] = p.CurrentValue
		}
		out[sub.NameSubCategory] = params
	}
	return out
}

// StartRecording builds the pipeline from the current settings and the
// scene on channel 1. The start signal follows once the pipeline plays.
func (e *Engine) StartRecording() error {
	log := logger.WithComponent("engine-gst")

	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return engine.ErrNotInitialized
	}
	if e.rec != nil {
		e.mu.Unlock()
		return errors.New("a recording is already active")
	}
	plan, items, err := e.plan()
	e.mu.Unlock()
	if err != nil {
		return err
	}

	desc := plan.String()
	log.Debug().Str("pipeline", desc).Msg("Creating recording pipeline")

	pipeline, err := gst.NewPipelineFromString(desc)
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}
	compositor, err := pipeline.GetElementByName(launch.CompositorName)
	if err != nil {
		pipeline.Unref()
		return fmt.Errorf("find compositor: %w", err)
	}

	rec := &recording{
		eng:        e,
		pipeline:   pipeline,
		compositor: compositor,
		location:   plan.Location,
		items:      items,
		stop:       make(chan struct{}),
	}

	e.mu.Lock()
	e.rec = rec
	e.mu.Unlock()

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		e.mu.Lock()
		e.rec = nil
		e.mu.Unlock()
		rec.teardown()
		return fmt.Errorf("start pipeline: %w", err)
	}
	go rec.watch()

	log.Info().Str("location", plan.Location).Int("inputs", len(plan.Inputs)).Int("audio", len(plan.Audio)).Msg("Recording pipeline started")
	return nil
}

// plan assembles the recording plan; callers hold e.mu
func (e *Engine) plan() (launch.Plan, map[*SceneItem]int, error) {
	output := e.values(engine.CategoryOutput)
	video, err := launch.VideoFor(e.values(engine.CategoryVideo), e.values(engine.CategoryAdvanced))
	if err != nil {
		return launch.Plan{}, nil, err
	}
	fps := (video.FPSNum + video.FPSDen/2) / video.FPSDen
	enc, err := launch.EncoderFor(output, video.Format, fps)
	if err != nil {
		return launch.Plan{}, nil, err
	}

	format, _ := output["Recording"]["RecFormat"].(string)
	muxer, ok := launch.Muxers[format]
	if !ok {
		return launch.Plan{}, nil, fmt.Errorf("unsupported recording format %q", format)
	}
	dir, _ := output["Recording"]["RecFilePath"].(string)
	if dir == "" {
		return launch.Plan{}, nil, errors.New("recording path is not set")
	}

	scene, ok := e.outputs[sceneChannel].(*Scene)
	if !ok {
		return launch.Plan{}, nil, fmt.Errorf("no scene bound to channel %d", sceneChannel)
	}
	displays, err := e.opts.Host.Displays()
	if err != nil {
		return launch.Plan{}, nil, fmt.Errorf("list displays: %w", err)
	}
	byIndex := make(map[int]host.Display, len(displays))
	for _, d := range displays {
		byIndex[d.Index] = d
	}

	plan := launch.Plan{
		DisplayName: e.opts.DisplayName,
		Video:       video,
		Tracks:      launch.TracksFor(output, engine.MaxAudioTracks),
		Encoder:     enc,
		Muxer:       muxer,
		Location:    filepath.Join(dir, time.Now().Format("2006-01-02 15-04-05")+"."+format),
	}

	pads := make(map[*SceneItem]int)
	for i, item := range scene.items() {
		in, err := item.input(i, byIndex)
		if err != nil {
			return launch.Plan{}, nil, err
		}
		plan.Inputs = append(plan.Inputs, in)
		pads[item] = i
	}
	if len(plan.Inputs) == 0 {
		return launch.Plan{}, nil, errors.New("scene has no sources")
	}

	channels := make([]int, 0, len(e.outputs))
	for ch := range e.outputs {
		if ch >= firstAudioChannel {
			channels = append(channels, ch)
		}
	}
	sort.Ints(channels)
	for _, ch := range channels {
		src, ok := e.outputs[ch].(*Source)
		if !ok || !src.audio() {
			continue
		}
		plan.Audio = append(plan.Audio, launch.AudioInput{
			Name:   src.name,
			Device: launch.PulseDevice(src.kind == engine.SourceOutputAudioCapture, src.str(engine.PropDeviceID)),
			Mixers: src.AudioMixers(),
		})
	}
	return plan, pads, nil
}

// StopRecording sends EOS so the muxer can finalize the file. The stop
// signal follows once EOS reaches the sink or the stop timeout expires.
func (e *Engine) StopRecording() error {
	e.mu.Lock()
	rec := e.rec
	e.mu.Unlock()
	if rec == nil {
		go e.emit(engine.Signal{Type: "recording", Signal: engine.SignalStop})
		return nil
	}
	rec.requestStop(e.opts.StopTimeout)
	return nil
}

func (e *Engine) finished(rec *recording) {
	e.mu.Lock()
	if e.rec == rec {
		e.rec = nil
	}
	e.mu.Unlock()
}

func (e *Engine) active() *recording {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec
}

// Statistics reports process memory, live objects and the file size
func (e *Engine) Statistics() engine.Statistics {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	e.mu.Lock()
	stats := engine.Statistics{
		MemoryUsage:   float64(ms.Sys) / (1 << 20),
		ActiveSources: e.live,
	}
	rec := e.rec
	e.mu.Unlock()

	if rec != nil {
		if info, err := os.Stat(rec.location); err == nil {
			stats.RecordingBytes = info.Size()
		}
	}
	return stats
}

// AudioDevices lists pulse sources usable by speaker or microphone capture
func (e *Engine) AudioDevices(ctx context.Context, speakers bool) ([]engine.PropertyOption, error) {
	out, err := e.opts.ListSources(ctx)
	if err != nil {
		return nil, err
	}
	names := launch.DeviceNames(launch.ParseShortSources(out), speakers)
	opts := make([]engine.PropertyOption, len(names))
	for i, n := range names {
		opts[i] = engine.PropertyOption{Name: n, Value: n}
	}
	opts[0].Name = "Default"
	return opts, nil
}

func copySettings(s engine.Settings) engine.Settings {
	out := make(engine.Settings, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
