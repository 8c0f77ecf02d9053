// Package recorder drives a single recording session on the capture engine:
// it validates capture requests, configures the encoder and audio tracks,
// builds the scene graph, confirms start and stop through engine signals and
// releases every engine object when the session ends or fails to start.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/CaptureExpress/internal/engine"
	"github.com/bryanchriswhite/CaptureExpress/internal/host"
	"github.com/bryanchriswhite/CaptureExpress/internal/logger"
	"github.com/bryanchriswhite/CaptureExpress/internal/metrics"
	"github.com/bryanchriswhite/CaptureExpress/internal/settings"
	"github.com/bryanchriswhite/CaptureExpress/internal/signalbus"
	"github.com/bryanchriswhite/CaptureExpress/internal/tracker"
)

// State is the session lifecycle state
type State int

const (
	Idle State = iota
	Starting
	Recording
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Recording:
		return "recording"
	case Stopping:
		return "stopping"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

const (
	sceneName = "clscene"
	// sceneChannel is the output channel carrying the composed video
	sceneChannel = 1
	// firstDeviceTrack follows the mixed track
	firstDeviceTrack = 2
	// MaxAudioDevices is how many speakers and microphones fit in the tracks
	// left after the mixed track
	MaxAudioDevices = engine.MaxAudioTracks - firstDeviceTrack
)

// Session describes one recording
type Session struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"startedAt"`
	StoppedAt time.Time `json:"stoppedAt"`
	Encoder   string    `json:"encoder"`
	Output    Size      `json:"output"`
	Request   Request   `json:"request"`
}

// EventKind tells listeners what happened to a session
type EventKind string

const (
	EventStarted EventKind = "started"
	EventStopped EventKind = "stopped"
	EventFailed  EventKind = "failed"
)

// Event is delivered to listeners after every session transition
type Event struct {
	Kind    EventKind
	Session Session
	Err     error
}

// Listener observes session transitions. Calls are synchronous and must not
// call back into the recorder.
type Listener interface {
	SessionEvent(Event)
}

// ListenerFunc adapts a function to Listener
type ListenerFunc func(Event)

// SessionEvent calls f
func (f ListenerFunc) SessionEvent(e Event) { f(e) }

// Options tunes a Recorder
type Options struct {
	// SignalTimeout bounds the wait for start and stop signals
	SignalTimeout time.Duration
	// MarkerPath is the image shown where the mouse is clicked
	MarkerPath string
	// ClickAnimation is how long a click stays highlighted
	ClickAnimation time.Duration
	Listeners      []Listener
}

// Status is a point-in-time view of the recorder
type Status struct {
	Initialized   bool               `json:"initialized"`
	Recording     bool               `json:"recording"`
	State         string             `json:"state"`
	RecordingTime float64            `json:"recordingTime"`
	SessionID     string             `json:"sessionId,omitempty"`
	Statistics    *engine.Statistics `json:"statistics,omitempty"`
}

// Recorder owns the engine's single recording session
type Recorder struct {
	eng       engine.Engine
	host      host.Host
	settings  *settings.Adapter
	bus       *signalbus.Bus
	resources *tracker.Tracker
	opts      Options

	mu          sync.Mutex
	initialized bool
	state       State
	session     *Session
	clicks      *clickTracker
	cancelStart context.CancelFunc
	startDone   chan struct{}
	stopDone    chan struct{}
}

// New creates a recorder; call Init before anything else
func New(eng engine.Engine, h host.Host, opts Options) *Recorder {
	if opts.SignalTimeout <= 0 {
		opts.SignalTimeout = engine.DefaultSignalTimeout
	}
	if opts.ClickAnimation <= 0 {
		opts.ClickAnimation = defaultClickAnimation
	}
	return &Recorder{
		eng:       eng,
		host:      h,
		settings:  settings.NewAdapter(eng),
		bus:       signalbus.New(opts.SignalTimeout),
		resources: tracker.New(),
		opts:      opts,
	}
}

// Init subscribes to engine signals, initializes the engine and applies the
// settings every session relies on.
func (r *Recorder) Init(opts engine.InitOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	log := logger.WithComponent("recorder")
	if r.initialized {
		return nil
	}

	r.eng.ConnectOutputSignals(r.bus.Publish)
	if err := r.eng.Init(opts); err != nil {
		r.eng.RemoveCallback()
		return err
	}

	log.Debug().Msg("Reconfiguring static settings")
	static := []struct{ category, sub, param, value string }{
		{engine.CategoryOutput, subUntitled, "Mode", "Advanced"},
		{engine.CategoryVideo, subUntitled, "FPSType", "Fractional FPS Value"},
	}
	for _, s := range static {
		if err := r.settings.SetOne(s.category, s.sub, s.param, s.value); err != nil {
			r.eng.RemoveCallback()
			if serr := r.eng.Shutdown(); serr != nil {
				log.Warn().Err(serr).Msg("Engine shutdown after failed init")
			}
			return fmt.Errorf("apply static settings: %w", err)
		}
	}

	r.initialized = true
	log.Info().
		Str("data_dir", opts.DataDir).
		Str("locale", opts.Locale).
		Msg("Engine initialized")
	return nil
}

// Settings exposes the settings adapter bound to the engine
func (r *Recorder) Settings() *settings.Adapter {
	return r.settings
}

// Initialized reports whether Init succeeded and Release has not run
func (r *Recorder) Initialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initialized
}

// State returns the current lifecycle state
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Resources returns the number of engine objects held by the session
func (r *Recorder) Resources() int {
	return r.resources.Len()
}

// Session returns a copy of the active session
func (r *Recorder) Session() (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return Session{}, false
	}
	return *r.session, true
}

// Status reports lifecycle state and engine statistics
func (r *Recorder) Status() Status {
	r.mu.Lock()
	st := Status{
		Initialized: r.initialized,
		Recording:   r.state == Recording,
		State:       r.state.String(),
	}
	if r.session != nil && r.state == Recording {
		st.RecordingTime = time.Since(r.session.StartedAt).Seconds()
		st.SessionID = r.session.ID
	}
	initialized := r.initialized
	r.mu.Unlock()

	if initialized {
		stats := r.eng.Statistics()
		st.Statistics = &stats
	}
	return st
}

// Start begins a recording session and returns once the engine confirms it.
// It is a no-op while a session is starting, recording or stopping.
func (r *Recorder) Start(ctx context.Context, req Request) error {
	log := logger.WithComponent("recorder")

	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		return ErrNotInitialized
	}
	if r.state != Idle {
		state := r.state
		r.mu.Unlock()
		log.Debug().Str("state", state.String()).Msg("Session already active, ignoring start")
		return nil
	}
	if err := req.Validate(); err != nil {
		r.mu.Unlock()
		metrics.IncRecording("invalid_request")
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.state = Starting
	r.cancelStart, r.startDone = cancel, done
	r.mu.Unlock()

	sess := Session{ID: uuid.NewString(), Request: req}
	clicks, err := r.start(ctx, &sess)

	r.mu.Lock()
	r.cancelStart, r.startDone = nil, nil
	if err != nil {
		r.state = Idle
	} else {
		r.state = Recording
		r.session = &sess
		r.clicks = clicks
		if clicks != nil {
			clicks.start()
		}
	}
	r.mu.Unlock()
	cancel()
	close(done)

	if err != nil {
		metrics.IncRecording("failed")
		log.Error().Err(err).Str("session", sess.ID).Msg("Recording start failed")
		r.notify(Event{Kind: EventFailed, Session: sess, Err: err})
		return err
	}

	metrics.IncRecording("started")
	metrics.SetRecordingActive(true)
	log.Info().
		Str("session", sess.ID).
		Str("encoder", sess.Encoder).
		Str("output", resolution(sess.Output)).
		Str("directory", req.OutputDirectory).
		Msg("Recording started")
	r.notify(Event{Kind: EventStarted, Session: sess})
	return nil
}

// start configures the engine and builds the scene. Any failure releases
// everything tracked so far before returning.
func (r *Recorder) start(ctx context.Context, sess *Session) (clicks *clickTracker, err error) {
	req := sess.Request
	log := logger.WithComponent("recorder").With().Str("session", sess.ID).Logger()

	defer func() {
		if err == nil {
			return
		}
		if rerr := r.resources.ReleaseAll(); rerr != nil {
			log.Warn().Err(rerr).Msg("Rollback finished with release errors")
		}
	}()

	var available []string
	if req.HardwareAccelerated {
		available, err = r.settings.AvailableValues(engine.CategoryOutput, subRecording, "RecEncoder")
		if err != nil {
			log.Warn().Err(err).Msg("Could not list encoders, using software encoding")
			available, err = nil, nil
		}
	}
	p := planSettings(req, available)
	sess.Encoder, sess.Output = p.encoder, p.output
	if req.HardwareAccelerated && p.encoder != engine.EncoderNVENC {
		log.Info().Strs("available", available).Msg("No hardware encoder available, using software encoding")
	}

	for _, category := range []string{engine.CategoryOutput, engine.CategoryVideo, engine.CategoryAdvanced} {
		if err := r.settings.SetMany(category, p.writes[category]); err != nil {
			return nil, fmt.Errorf("configure %s settings: %w", category, err)
		}
	}

	scene, err := r.eng.CreateScene(sceneName)
	if err != nil {
		return nil, fmt.Errorf("create scene: %w", err)
	}
	r.resources.Track(scene)
	if err := r.eng.SetOutputSource(sceneChannel, scene); err != nil {
		return nil, fmt.Errorf("bind scene to output: %w", err)
	}

	regionSize := Size{Width: req.Region.Width, Height: req.Region.Height}
	if p.output != regionSize {
		log.Info().
			Str("region", resolution(regionSize)).
			Str("output", resolution(p.output)).
			Float64("reduction_pct", Reduction(regionSize, p.output)).
			Msg("Downscaling output")
	}

	displays, err := r.placeDisplays(scene, req.Region, log)
	if err != nil {
		return nil, err
	}

	if err := r.attachAudio(req); err != nil {
		return nil, err
	}

	if req.TrackMouseClicks {
		clicks, err = r.prepareClickMarker(scene, req, displays, log)
		if err != nil {
			return nil, err
		}
	}

	log.Info().Int("resources", r.resources.Len()).Msg("Starting recording")
	waiter := r.bus.Expect(signalbus.Named(engine.SignalStart))
	if err := r.eng.StartRecording(); err != nil {
		waiter.Cancel()
		return nil, &Error{Kind: EngineStartFailed, Message: "engine refused to start", Err: err}
	}

	sig, err := waiter.Wait(ctx)
	if err != nil {
		if serr := r.eng.StopRecording(); serr != nil {
			log.Warn().Err(serr).Msg("Stop after unconfirmed start failed")
		}
		if errors.Is(err, signalbus.ErrTimeout) {
			return nil, &Error{Kind: SignalTimeout, Message: "engine did not confirm start", Err: err}
		}
		return nil, fmt.Errorf("wait for start signal: %w", err)
	}
	if sig.Failed() {
		return nil, &Error{Kind: EngineStartFailed, Message: signalMessage(sig)}
	}

	sess.StartedAt = time.Now()
	return clicks, nil
}

// placeDisplays adds one capture source per display intersecting region
func (r *Recorder) placeDisplays(scene engine.Scene, region host.Rect, log zerolog.Logger) ([]host.Display, error) {
	displays, err := r.host.Displays()
	if err != nil && !errors.Is(err, host.ErrNoDisplay) {
		return nil, fmt.Errorf("list displays: %w", err)
	}
	noDisplay := &Error{
		Kind: NoDisplayInRegion,
		Message: fmt.Sprintf("no display in capture bounds %dx%d at %d,%d",
			region.Width, region.Height, region.X, region.Y),
		Err: err,
	}
	if len(displays) == 0 {
		return nil, noDisplay
	}

	log.Debug().
		Int("x", region.X).Int("y", region.Y).
		Int("width", region.Width).Int("height", region.Height).
		Msg("Capture region")

	for _, d := range displays {
		log.Debug().
			Int("display", d.Index).
			Float64("dpi", d.DPI).
			Int("x", d.Bounds.X).Int("y", d.Bounds.Y).
			Int("width", d.Bounds.Width).Int("height", d.Bounds.Height).
			Msg("Host display")
	}

	placed := IntersectingDisplays(displays, region)
	if len(placed) == 0 {
		return nil, noDisplay
	}
	for _, d := range placed {
		src, err := r.eng.CreateSource(engine.SourceMonitorCapture, fmt.Sprintf("display_%d", d.Index), engine.Settings{
			engine.PropMonitor:       d.Index,
			engine.PropCaptureCursor: true,
		})
		if err != nil {
			return nil, fmt.Errorf("create capture source for display %d: %w", d.Index, err)
		}
		r.resources.Track(src)

		info := engine.SceneItemInfo{
			Name:    fmt.Sprintf("display_%d_item", d.Index),
			X:       float64(d.Bounds.X - region.X),
			Y:       float64(d.Bounds.Y - region.Y),
			ScaleX:  1,
			ScaleY:  1,
			Visible: true,
		}
		item, err := scene.Add(src, info)
		if err != nil {
			return nil, fmt.Errorf("place display %d: %w", d.Index, err)
		}
		r.resources.Track(item)

		log.Debug().
			Int("display", d.Index).
			Float64("x", info.X).Float64("y", info.Y).
			Msg("Display intersects capture region")
	}

	return displays, nil
}

// attachAudio gives every requested device its own track, mixed into track 1
func (r *Recorder) attachAudio(req Request) error {
	names := settings.Updates{
		trackSubCategory(1): {trackNameParameter(1): mixedTrackName},
	}
	next := firstDeviceTrack

	attach := func(kind engine.SourceKind, id string) error {
		name := fmt.Sprintf("audio_%s", id)
		src, err := r.eng.CreateSource(kind, name, engine.Settings{engine.PropDeviceID: id})
		if err != nil {
			return fmt.Errorf("create audio source %s: %w", id, err)
		}
		r.resources.Track(src)
		src.SetAudioMixers(trackMixers(next))
		if err := r.eng.SetOutputSource(next, src); err != nil {
			return fmt.Errorf("bind audio source %s to track %d: %w", id, next, err)
		}
		names[trackSubCategory(next)] = map[string]any{trackNameParameter(next): name}
		next++
		return nil
	}

	for _, id := range req.Speakers {
		if err := attach(engine.SourceOutputAudioCapture, id); err != nil {
			return err
		}
	}
	for _, id := range req.Microphones {
		if err := attach(engine.SourceInputAudioCapture, id); err != nil {
			return err
		}
	}

	if next > engine.MaxAudioTracks {
		return &Error{
			Kind:    TooManyAudioDevices,
			Message: fmt.Sprintf("only %d simultaneous audio devices are supported, got %d", MaxAudioDevices, req.AudioDevices()),
		}
	}

	names[subRecording] = map[string]any{"RecTracks": recordingTracks(next - 1)}
	if err := r.settings.SetMany(engine.CategoryOutput, names); err != nil {
		return fmt.Errorf("configure audio tracks: %w", err)
	}
	return nil
}

// Stop ends the active recording. It is a no-op unless recording. When the
// engine refuses to stop, reports a failed stop or never confirms it, the
// session stays Recording with its resources and the error is returned.
func (r *Recorder) Stop(ctx context.Context) error {
	log := logger.WithComponent("recorder")

	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		return ErrNotInitialized
	}
	if r.state != Recording {
		state := r.state
		r.mu.Unlock()
		log.Debug().Str("state", state.String()).Msg("No active recording, ignoring stop")
		return nil
	}
	r.state = Stopping
	sess := *r.session
	clicks := r.clicks
	r.clicks = nil
	done := make(chan struct{})
	r.stopDone = done
	r.mu.Unlock()

	if clicks != nil {
		clicks.stop()
	}
	err := r.stop(ctx)

	r.mu.Lock()
	r.stopDone = nil
	if err != nil {
		r.state = Recording
		r.clicks = clicks
		if clicks != nil {
			clicks.start()
		}
		r.mu.Unlock()
		close(done)
		log.Error().Err(err).Str("session", sess.ID).Msg("Recording stop failed, session still active")
		return err
	}
	r.state = Idle
	r.session = nil
	r.mu.Unlock()
	close(done)

	r.releaseResources(log)
	sess.StoppedAt = time.Now()
	metrics.SetRecordingActive(false)
	log.Info().
		Str("session", sess.ID).
		Dur("duration", sess.StoppedAt.Sub(sess.StartedAt)).
		Msg("Recording stopped")
	r.notify(Event{Kind: EventStopped, Session: sess})
	return nil
}

// stop asks the engine to stop and waits for its confirmation
func (r *Recorder) stop(ctx context.Context) error {
	waiter := r.bus.Expect(signalbus.Named(engine.SignalStop))
	if err := r.eng.StopRecording(); err != nil {
		waiter.Cancel()
		return &Error{Kind: EngineStopFailed, Message: "engine refused to stop", Err: err}
	}
	sig, err := waiter.Wait(ctx)
	if err != nil {
		if errors.Is(err, signalbus.ErrTimeout) {
			return &Error{Kind: SignalTimeout, Message: "engine did not confirm stop", Err: err}
		}
		return fmt.Errorf("wait for stop signal: %w", err)
	}
	if sig.Failed() {
		return &Error{Kind: EngineStopFailed, Message: signalMessage(sig)}
	}
	return nil
}

func (r *Recorder) releaseResources(log *zerolog.Logger) {
	if err := r.resources.ReleaseAll(); err != nil {
		log.Warn().Err(err).Msg("Session resources released with errors")
	}
}

// abandon ends a session the engine would not stop; used on shutdown
func (r *Recorder) abandon(cause error, log *zerolog.Logger) {
	r.mu.Lock()
	if r.state != Recording {
		r.mu.Unlock()
		return
	}
	sess := *r.session
	clicks := r.clicks
	r.state, r.session, r.clicks = Idle, nil, nil
	r.mu.Unlock()

	if clicks != nil {
		clicks.stop()
	}
	r.releaseResources(log)
	sess.StoppedAt = time.Now()
	metrics.SetRecordingActive(false)
	log.Warn().Err(cause).Str("session", sess.ID).Msg("Abandoned unconfirmed recording")
	r.notify(Event{Kind: EventStopped, Session: sess, Err: cause})
}

// Release stops any active recording, detaches from engine signals and shuts
// the engine down. A session whose stop fails is abandoned and its resources
// released; a shutdown failure is returned.
func (r *Recorder) Release(ctx context.Context) error {
	log := logger.WithComponent("recorder")

	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		return ErrNotInitialized
	}
	state, cancel, startDone, stopDone := r.state, r.cancelStart, r.startDone, r.stopDone
	r.mu.Unlock()

	log.Info().Str("state", state.String()).Msg("Shutting down engine")

	switch state {
	case Starting:
		if cancel != nil {
			cancel()
			<-startDone
		}
	case Stopping:
		if stopDone != nil {
			<-stopDone
		}
	}

	if err := r.Stop(ctx); err != nil {
		log.Warn().Err(err).Msg("Stop during shutdown failed")
		r.abandon(err, log)
	}

	r.eng.RemoveCallback()
	err := r.eng.Shutdown()

	r.mu.Lock()
	r.initialized = false
	r.mu.Unlock()

	if err != nil {
		return fmt.Errorf("shut down engine: %w", err)
	}
	log.Info().Msg("Engine shutdown complete")
	return nil
}

func (r *Recorder) notify(e Event) {
	for _, l := range r.opts.Listeners {
		l.SessionEvent(e)
	}
}

func signalMessage(sig engine.Signal) string {
	return fmt.Sprintf("received signal error '%s' code %d: %s", sig.Signal, sig.Code, sig.Error)
}
