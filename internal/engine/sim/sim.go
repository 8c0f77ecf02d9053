// Package sim is an in-memory engine backend. It honours the full engine
// contract without touching hardware, which makes it useful for dry runs and
// for exercising the recorder.
package sim

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/bryanchriswhite/CaptureExpress/internal/engine"
	"github.com/bryanchriswhite/CaptureExpress/internal/logger"
)

// Options tunes the simulated engine
type Options struct {
	// Encoders available for RecEncoder, software first
	Encoders []string
	// Speakers and Microphones populate the device_id property options
	Speakers    []engine.PropertyOption
	Microphones []engine.PropertyOption
	// InitCode is returned from Init when non-zero
	InitCode int
	// SignalDelay is the delay before start/stop signals are emitted
	SignalDelay time.Duration
	// MeterInterval drives synthetic volmeter levels, zero disables them
	MeterInterval time.Duration
}

// DefaultOptions describes a typical machine with one speaker and one microphone
func DefaultOptions() Options {
	return Options{
		Encoders: []string{engine.EncoderX264},
		Speakers: []engine.PropertyOption{
			{Name: "Default", Value: "default"},
			{Name: "Simulated Speakers", Value: "sim_speakers_0"},
		},
		Microphones: []engine.PropertyOption{
			{Name: "Default", Value: "default"},
			{Name: "Simulated Microphone", Value: "sim_microphone_0"},
		},
		SignalDelay:   10 * time.Millisecond,
		MeterInterval: 50 * time.Millisecond,
	}
}

// Engine is the simulated engine
type Engine struct {
	opts Options

	mu          sync.Mutex
	initialized bool
	handler     func(engine.Signal)
	settings    map[string][]engine.SubCategory
	outputs     map[int]engine.OutputSource
	live        map[string]struct{}
	recording   bool
	nextID      int
	meters      []*Volmeter

	// Hooks for failure injection
	startSignal     *engine.Signal
	stopSignal      *engine.Signal
	suppressSignals bool
	createErrors    map[engine.SourceKind]error
	disposeErrors   map[string]error
	startErr        error
	shutdownErr     error
	startCalls      int
	stopCalls       int
}

// New creates a simulated engine
func New(opts Options) *Engine {
	return &Engine{
		opts:          opts,
		outputs:       make(map[int]engine.OutputSource),
		live:          make(map[string]struct{}),
		createErrors:  make(map[engine.SourceKind]error),
		disposeErrors: make(map[string]error),
	}
}

var _ engine.Engine = (*Engine)(nil)

// Init prepares the settings tree
func (e *Engine) Init(opts engine.InitOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.opts.InitCode != engine.InitOK {
		return &engine.InitError{Code: e.opts.InitCode, ConfigPath: engine.SettingsFile(opts.DataDir)}
	}
	if e.initialized {
		return &engine.InitError{Code: engine.InitCurrentlyActive}
	}
	e.settings = engine.DefaultSettings(e.opts.Encoders, opts.DataDir)
	e.initialized = true

	logger.WithComponent("engine-sim").Info().
		Str("server", opts.ServerName).
		Strs("encoders", e.opts.Encoders).
		Msg("Simulated engine initialized")
	return nil
}

// Shutdown marks the engine unusable
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.shutdownErr != nil {
		return e.shutdownErr
	}
	e.initialized = false
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

func (e *Engine) register(prefix string) string {
	e.nextID++
	id := fmt.Sprintf("%s#%d", prefix, e.nextID)
	e.live[id] = struct{}{}
	return id
}

func (e *Engine) dispose(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err, ok := e.disposeErrors[id]; ok {
		delete(e.live, id)
		return err
	}
	if _, ok := e.live[id]; !ok {
		return fmt.Errorf("%s already released", id)
	}
	delete(e.live, id)
	for ch, out := range e.outputs {
		if obj, ok := out.(interface{ objectID() string }); ok && obj.objectID() == id {
			delete(e.outputs, ch)
		}
	}
	return nil
}

// CreateSource creates an input source
func (e *Engine) CreateSource(kind engine.SourceKind, name string, settings engine.Settings) (engine.Source, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return nil, engine.ErrNotInitialized
	}
	if err := e.createErrors[kind]; err != nil {
		return nil, err
	}
	switch kind {
	case engine.SourceMonitorCapture, engine.SourceOutputAudioCapture, engine.SourceInputAudioCapture, engine.SourceImage:
	default:
		return nil, fmt.Errorf("unknown source kind %q", kind)
	}
	s := &Source{
		eng:      e,
		id:       e.register(name),
		name:     name,
		kind:     kind,
		settings: copySettings(settings),
	}
	return s, nil
}

// CreateScene creates an empty scene
func (e *Engine) CreateScene(name string) (engine.Scene, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return nil, engine.ErrNotInitialized
	}
	return &Scene{eng: e, id: e.register(name), name: name}, nil
}

// CreateFilter creates a filter
func (e *Engine) CreateFilter(kind engine.FilterKind, name string, settings engine.Settings) (engine.Filter, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return nil, engine.ErrNotInitialized
	}
	if kind != engine.FilterColor {
		return nil, fmt.Errorf("unknown filter kind %q", kind)
	}
	return &Filter{eng: e, id: e.register(name), name: name, kind: kind, settings: copySettings(settings)}, nil
}

// CreateVolmeter creates a volume meter
func (e *Engine) CreateVolmeter(fader engine.FaderType) (engine.Volmeter, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return nil, engine.ErrNotInitialized
	}
	v := &Volmeter{eng: e, fader: fader, callbacks: make(map[engine.CallbackID]engine.VolmeterCallback)}
	e.meters = append(e.meters, v)
	return v, nil
}

// SetOutputSource binds a source to an output channel; nil clears it
func (e *Engine) SetOutputSource(channel int, source engine.OutputSource) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if channel < 0 || channel > 63 {
		return fmt.Errorf("output channel %d out of range", channel)
	}
	if source == nil {
		delete(e.outputs, channel)
		return nil
	}
	e.outputs[channel] = source
	return nil
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

// SaveSettings replaces a settings category
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
	return nil
}

// StartRecording begins a recording and emits a start signal asynchronously
func (e *Engine) StartRecording() error {
	e.mu.Lock()
	e.startCalls++
	if e.startErr != nil {
		err := e.startErr
		e.mu.Unlock()
		return err
	}
	sig := engine.Signal{Type: "recording", Signal: engine.SignalStart}
	if e.startSignal != nil {
		sig = *e.startSignal
	}
	if !sig.Failed() {
		e.recording = true
	}
	e.mu.Unlock()

	e.emit(sig)
	return nil
}

// StopRecording ends a recording and emits a stop signal asynchronously
func (e *Engine) StopRecording() error {
	e.mu.Lock()
	e.stopCalls++
	e.recording = false
	sig := engine.Signal{Type: "recording", Signal: engine.SignalStop}
	if e.stopSignal != nil {
		sig = *e.stopSignal
	}
	e.mu.Unlock()

	e.emit(sig)
	return nil
}

func (e *Engine) emit(sig engine.Signal) {
	e.mu.Lock()
	suppress := e.suppressSignals
	e.mu.Unlock()
	if suppress {
		return
	}
	go func() {
		if e.opts.SignalDelay > 0 {
			time.Sleep(e.opts.SignalDelay)
		}
		e.mu.Lock()
		handler := e.handler
		e.mu.Unlock()
		if handler != nil {
			handler(sig)
		}
	}()
}

// Statistics reports synthetic performance data
func (e *Engine) Statistics() engine.Statistics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return engine.Statistics{
		CPU:           0.5,
		MemoryUsage:   64,
		ActiveSources: len(e.live),
	}
}

// Live returns the number of engine objects that have not been disposed
func (e *Engine) Live() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.live)
}

// IsRecording reports whether StartRecording succeeded without a stop since
func (e *Engine) IsRecording() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recording
}

// Output returns the source bound to a channel
func (e *Engine) Output(channel int) engine.OutputSource {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outputs[channel]
}

// Calls returns how many times recording was started and stopped
func (e *Engine) Calls() (start, stop int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startCalls, e.stopCalls
}

// SetStartSignal overrides the next start signals
func (e *Engine) SetStartSignal(sig engine.Signal) {
	e.mu.Lock()
	e.startSignal = &sig
	e.mu.Unlock()
}

// SetStopSignal overrides the next stop signals
func (e *Engine) SetStopSignal(sig engine.Signal) {
	e.mu.Lock()
	e.stopSignal = &sig
	e.mu.Unlock()
}

// SuppressSignals stops the engine from emitting lifecycle signals
func (e *Engine) SuppressSignals(suppress bool) {
	e.mu.Lock()
	e.suppressSignals = suppress
	e.mu.Unlock()
}

// FailCreate makes CreateSource fail for a kind
func (e *Engine) FailCreate(kind engine.SourceKind, err error) {
	e.mu.Lock()
	e.createErrors[kind] = err
	e.mu.Unlock()
}

// FailStart makes StartRecording return err
func (e *Engine) FailStart(err error) {
	e.mu.Lock()
	e.startErr = err
	e.mu.Unlock()
}

// FailShutdown makes Shutdown return err
func (e *Engine) FailShutdown(err error) {
	e.mu.Lock()
	e.shutdownErr = err
	e.mu.Unlock()
}

// FailDispose makes disposing the named object return err; the object is
// still released
func (e *Engine) FailDispose(name string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id := range e.live {
		if id == name || idName(id) == name {
			e.disposeErrors[id] = err
		}
	}
}

// Volmeters returns every volmeter created so far
func (e *Engine) Volmeters() []*Volmeter {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Volmeter(nil), e.meters...)
}

func idName(id string) string {
	for i := len(id) - 1; i >= 0; i-- {
		if id[i] == '#' {
			return id[:i]
		}
	}
	return id
}

func copySettings(s engine.Settings) engine.Settings {
	out := make(engine.Settings, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Source is a simulated input source
type Source struct {
	eng      *Engine
	id       string
	name     string
	kind     engine.SourceKind
	mu       sync.Mutex
	settings engine.Settings
	mixers   uint32
	filters  []engine.Filter
}

func (s *Source) objectID() string { return s.id }

// Name returns the source name
func (s *Source) Name() string { return s.name }

// Kind returns the source kind
func (s *Source) Kind() engine.SourceKind { return s.kind }

// Property returns enumerated options for device_id on audio sources
func (s *Source) Property(name string) (engine.Property, error) {
	if name != engine.PropDeviceID {
		return engine.Property{}, fmt.Errorf("%w: %s", engine.ErrUnknownProperty, name)
	}
	var opts []engine.PropertyOption
	switch s.kind {
	case engine.SourceOutputAudioCapture:
		opts = s.eng.opts.Speakers
	case engine.SourceInputAudioCapture:
		opts = s.eng.opts.Microphones
	default:
		return engine.Property{}, fmt.Errorf("%w: %s", engine.ErrUnknownProperty, name)
	}
	return engine.Property{Name: name, Options: append([]engine.PropertyOption(nil), opts...)}, nil
}

// Update merges settings
func (s *Source) Update(settings engine.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
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
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = append(s.filters, filter)
	return nil
}

// RemoveFilter detaches a filter
func (s *Source) RemoveFilter(filter engine.Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, f := range s.filters {
		if f == filter {
			s.filters = append(s.filters[:i], s.filters[i+1:]...)
			return nil
		}
	}
	return errors.New("filter not attached")
}

// Dispose releases the source
func (s *Source) Dispose() error { return s.eng.dispose(s.id) }

// Scene is a simulated scene
type Scene struct {
	eng   *Engine
	id    string
	name  string
	mu    sync.Mutex
	items []engine.SceneItem
}

func (s *Scene) objectID() string { return s.id }

// Name returns the scene name
func (s *Scene) Name() string { return s.name }

// Add places a source on the scene
func (s *Scene) Add(source engine.Source, info engine.SceneItemInfo) (engine.SceneItem, error) {
	if source == nil {
		return nil, errors.New("nil source")
	}
	s.eng.mu.Lock()
	id := s.eng.register(info.Name)
	s.eng.mu.Unlock()

	item := &SceneItem{eng: s.eng, scene: s, id: id, source: source, info: info}
	s.mu.Lock()
	s.items = append(s.items, item)
	s.mu.Unlock()
	return item, nil
}

// Items returns the scene items
func (s *Scene) Items() []engine.SceneItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]engine.SceneItem(nil), s.items...)
}

func (s *Scene) remove(item *SceneItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, it := range s.items {
		if it == item {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return
		}
	}
}

// Dispose releases the scene
func (s *Scene) Dispose() error { return s.eng.dispose(s.id) }

// SceneItem is a simulated scene item
type SceneItem struct {
	eng    *Engine
	scene  *Scene
	id     string
	source engine.Source
	mu     sync.Mutex
	info   engine.SceneItemInfo
}

// Source returns the wrapped source
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
}

// SetScale scales the item
func (i *SceneItem) SetScale(x, y float64) {
	i.mu.Lock()
	i.info.ScaleX, i.info.ScaleY = x, y
	i.mu.Unlock()
}

// SetVisible toggles visibility
func (i *SceneItem) SetVisible(visible bool) {
	i.mu.Lock()
	i.info.Visible = visible
	i.mu.Unlock()
}

// Dispose removes the item from its scene
func (i *SceneItem) Dispose() error {
	i.scene.remove(i)
	return i.eng.dispose(i.id)
}

// Filter is a simulated filter
type Filter struct {
	eng      *Engine
	id       string
	name     string
	kind     engine.FilterKind
	mu       sync.Mutex
	settings engine.Settings
}

// Name returns the filter name
func (f *Filter) Name() string { return f.name }

// Kind returns the filter kind
func (f *Filter) Kind() engine.FilterKind { return f.kind }

// Update merges settings
func (f *Filter) Update(settings engine.Settings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, v := range settings {
		f.settings[k] = v
	}
	return nil
}

// Settings returns a copy of the current settings
func (f *Filter) Settings() engine.Settings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copySettings(f.settings)
}

// Dispose releases the filter
func (f *Filter) Dispose() error { return f.eng.dispose(f.id) }

// Volmeter is a simulated volume meter
type Volmeter struct {
	eng       *Engine
	fader     engine.FaderType
	mu        sync.Mutex
	source    engine.Source
	callbacks map[engine.CallbackID]engine.VolmeterCallback
	nextID    engine.CallbackID
	destroyed bool
	stop      chan struct{}
}

// Attach binds the meter to a source
func (v *Volmeter) Attach(source engine.Source) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.destroyed {
		return errors.New("volmeter destroyed")
	}
	if source == nil {
		return errors.New("nil source")
	}
	v.source = source
	if v.eng.opts.MeterInterval > 0 && v.stop == nil {
		v.stop = make(chan struct{})
		go v.run(v.eng.opts.MeterInterval, v.stop)
	}
	return nil
}

// Detach unbinds the meter
func (v *Volmeter) Detach() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.source = nil
	if v.stop != nil {
		close(v.stop)
		v.stop = nil
	}
	return nil
}

// AddCallback registers a level callback
func (v *Volmeter) AddCallback(cb engine.VolmeterCallback) (engine.CallbackID, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.destroyed {
		return 0, errors.New("volmeter destroyed")
	}
	v.nextID++
	v.callbacks[v.nextID] = cb
	return v.nextID, nil
}

// RemoveCallback unregisters a level callback
func (v *Volmeter) RemoveCallback(id engine.CallbackID) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.callbacks[id]; !ok {
		return fmt.Errorf("callback %d not registered", id)
	}
	delete(v.callbacks, id)
	return nil
}

// Destroy frees the meter
func (v *Volmeter) Destroy() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stop != nil {
		close(v.stop)
		v.stop = nil
	}
	v.destroyed = true
	v.callbacks = map[engine.CallbackID]engine.VolmeterCallback{}
	return nil
}

// Callbacks returns the number of registered callbacks
func (v *Volmeter) Callbacks() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.callbacks)
}

// Destroyed reports whether Destroy was called
func (v *Volmeter) Destroyed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.destroyed
}

// Emit delivers levels to every registered callback
func (v *Volmeter) Emit(magnitude, peak, inputPeak []float64) {
	v.mu.Lock()
	cbs := make([]engine.VolmeterCallback, 0, len(v.callbacks))
	for _, cb := range v.callbacks {
		cbs = append(cbs, cb)
	}
	v.mu.Unlock()
	for _, cb := range cbs {
		cb(magnitude, peak, inputPeak)
	}
}

func (v *Volmeter) run(interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	phase := 0.0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			phase += 0.3
			db := -30 + 20*math.Sin(phase) + rand.Float64()*3
			level := v.fader.Deflection(db)
			v.Emit([]float64{level * 0.8, level * 0.75}, []float64{level, level * 0.95}, []float64{level, level})
		}
	}
}
