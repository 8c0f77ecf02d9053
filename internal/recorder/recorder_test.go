package recorder

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/bryanchriswhite/CaptureExpress/internal/engine"
	"github.com/bryanchriswhite/CaptureExpress/internal/engine/sim"
	"github.com/bryanchriswhite/CaptureExpress/internal/host"
)

var testDisplays = []host.Display{
	{Index: 0, Bounds: host.Rect{X: 0, Y: 0, Width: 1920, Height: 1080}, DPI: 96},
	{Index: 1, Bounds: host.Rect{X: 1920, Y: 0, Width: 2560, Height: 1440}, DPI: 144},
}

type fixture struct {
	rec  *Recorder
	eng  *sim.Engine
	host *host.Static
}

func newFixture(t *testing.T, configure ...func(*sim.Options, *Options)) *fixture {
	t.Helper()

	simOpts := sim.DefaultOptions()
	simOpts.SignalDelay = time.Millisecond
	simOpts.MeterInterval = 0
	opts := Options{SignalTimeout: 2 * time.Second}
	for _, c := range configure {
		c(&simOpts, &opts)
	}

	eng := sim.New(simOpts)
	h := host.NewStatic(testDisplays...)
	rec := New(eng, h, opts)
	require.NoError(t, rec.Init(engine.InitOptions{DataDir: t.TempDir(), Locale: "en-US"}))
	return &fixture{rec: rec, eng: eng, host: h}
}

func validRequest(t *testing.T) Request {
	t.Helper()
	return NewRequest(host.Rect{X: 0, Y: 0, Width: 1920, Height: 1080}, t.TempDir())
}

func (f *fixture) scene(t *testing.T) engine.Scene {
	t.Helper()
	out := f.eng.Output(sceneChannel)
	require.NotNil(t, out, "no scene bound to the output")
	scene, ok := out.(engine.Scene)
	require.True(t, ok)
	return scene
}

func (f *fixture) compact(t *testing.T, category string) map[string]map[string]any {
	t.Helper()
	c, err := f.rec.Settings().GetCompact(category)
	require.NoError(t, err)
	return c
}

func itemNames(scene engine.Scene) []string {
	var names []string
	for _, item := range scene.Items() {
		names = append(names, item.Info().Name)
	}
	return names
}

func TestStartAndStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.rec.Start(ctx, validRequest(t)))
	assert.Equal(t, Recording, f.rec.State())
	assert.Positive(t, f.rec.Resources())
	assert.True(t, f.eng.IsRecording())

	scene := f.scene(t)
	assert.Equal(t, sceneName, scene.Name())
	assert.Equal(t, []string{"display_0_item"}, itemNames(scene))

	st := f.rec.Status()
	assert.True(t, st.Recording)
	assert.NotEmpty(t, st.SessionID)
	require.NotNil(t, st.Statistics)

	require.NoError(t, f.rec.Stop(ctx))
	assert.Equal(t, Idle, f.rec.State())
	assert.Zero(t, f.rec.Resources())
	assert.Zero(t, f.eng.Live(), "engine objects leaked")
	assert.False(t, f.eng.IsRecording())
	assert.Nil(t, f.eng.Output(sceneChannel))

	_, ok := f.rec.Session()
	assert.False(t, ok)
}

func TestStartIsNoOpWhileRecording(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.rec.Start(ctx, validRequest(t)))
	resources := f.rec.Resources()

	require.NoError(t, f.rec.Start(ctx, validRequest(t)))
	starts, _ := f.eng.Calls()
	assert.Equal(t, 1, starts)
	assert.Equal(t, resources, f.rec.Resources())
	assert.Equal(t, Recording, f.rec.State())
}

func TestStopIsNoOpWhenIdle(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.rec.Stop(context.Background()))
	_, stops := f.eng.Calls()
	assert.Zero(t, stops)
	assert.Equal(t, Idle, f.rec.State())
}

func TestConcurrentStartsRunOnce(t *testing.T) {
	f := newFixture(t)
	req := validRequest(t)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.rec.Start(context.Background(), req))
		}()
	}
	wg.Wait()

	starts, _ := f.eng.Calls()
	assert.Equal(t, 1, starts)
	assert.Equal(t, Recording, f.rec.State())
}

func TestNotInitialized(t *testing.T) {
	rec := New(sim.New(sim.DefaultOptions()), host.NewStatic(testDisplays...), Options{})

	assert.ErrorIs(t, rec.Start(context.Background(), validRequest(t)), ErrNotInitialized)
	assert.ErrorIs(t, rec.Stop(context.Background()), ErrNotInitialized)
	assert.ErrorIs(t, rec.Release(context.Background()), ErrNotInitialized)
	assert.False(t, rec.Status().Initialized)
	assert.Nil(t, rec.Status().Statistics)
}

func TestInitFailure(t *testing.T) {
	eng := sim.New(sim.Options{InitCode: engine.InitModuleNotFound})
	rec := New(eng, host.NewStatic(testDisplays...), Options{})

	err := rec.Init(engine.InitOptions{DataDir: t.TempDir()})
	var initErr *engine.InitError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, engine.InitModuleNotFound, initErr.Code)
	assert.False(t, rec.Initialized())
}

func TestInitAppliesStaticSettings(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, "Advanced", f.compact(t, engine.CategoryOutput)[subUntitled]["Mode"])
	assert.Equal(t, "Fractional FPS Value", f.compact(t, engine.CategoryVideo)[subUntitled]["FPSType"])
}

func TestInvalidRequestLeavesEngineUntouched(t *testing.T) {
	f := newFixture(t)
	before := f.compact(t, engine.CategoryOutput)

	req := validRequest(t)
	req.FPS = 0
	err := f.rec.Start(context.Background(), req)
	require.ErrorIs(t, err, ErrInvalidRequest)

	assert.Equal(t, Idle, f.rec.State())
	assert.Zero(t, f.eng.Live())
	starts, _ := f.eng.Calls()
	assert.Zero(t, starts)
	assert.Equal(t, before, f.compact(t, engine.CategoryOutput))
}

func TestGeneralAndEncoderSettings(t *testing.T) {
	f := newFixture(t)
	req := validRequest(t)
	req.FPS = 60
	req.CQ = 18
	req.ContainerFormat = ContainerMKV
	req.PerformanceMode = PerformanceSlow

	require.NoError(t, f.rec.Start(context.Background(), req))

	rec := f.compact(t, engine.CategoryOutput)[subRecording]
	assert.Equal(t, "mkv", rec["RecFormat"])
	assert.Equal(t, req.OutputDirectory, rec["RecFilePath"])
	assert.Equal(t, engine.EncoderX264, rec["RecEncoder"])
	assert.Equal(t, "CRF", rec["Recrate_control"])
	assert.EqualValues(t, 18, rec["Reccrf"])
	assert.Equal(t, "high", rec["Recprofile"])
	assert.Equal(t, "slow", rec["Recpreset"])
	assert.Equal(t, "psnr", rec["Rectune"])

	video := f.compact(t, engine.CategoryVideo)[subUntitled]
	assert.Equal(t, "Fractional FPS Value", video["FPSType"])
	assert.EqualValues(t, 60, video["FPSNum"])
	assert.EqualValues(t, 1, video["FPSDen"])
}

func TestHardwareEncoderSelection(t *testing.T) {
	t.Run("falls back to software when unavailable", func(t *testing.T) {
		f := newFixture(t)
		req := validRequest(t)
		req.HardwareAccelerated = true

		require.NoError(t, f.rec.Start(context.Background(), req))
		rec := f.compact(t, engine.CategoryOutput)[subRecording]
		assert.Equal(t, engine.EncoderX264, rec["RecEncoder"])
		assert.Equal(t, "CRF", rec["Recrate_control"])

		sess, ok := f.rec.Session()
		require.True(t, ok)
		assert.Equal(t, engine.EncoderX264, sess.Encoder)
	})

	t.Run("uses nvenc when installed", func(t *testing.T) {
		f := newFixture(t, func(o *sim.Options, _ *Options) {
			o.Encoders = []string{engine.EncoderX264, engine.EncoderNVENC}
		})
		req := validRequest(t)
		req.HardwareAccelerated = true
		req.PerformanceMode = PerformanceFast
		req.CQ = 30

		require.NoError(t, f.rec.Start(context.Background(), req))
		rec := f.compact(t, engine.CategoryOutput)[subRecording]
		assert.Equal(t, engine.EncoderNVENC, rec["RecEncoder"])
		assert.Equal(t, "CQP", rec["Recrate_control"])
		assert.EqualValues(t, 30, rec["Reccqp"])
		assert.Equal(t, "llhq", rec["Recpreset"])
		assert.Equal(t, false, rec["Reclookahead"])
	})

	t.Run("software unless requested", func(t *testing.T) {
		f := newFixture(t, func(o *sim.Options, _ *Options) {
			o.Encoders = []string{engine.EncoderX264, engine.EncoderNVENC}
		})
		require.NoError(t, f.rec.Start(context.Background(), validRequest(t)))
		assert.Equal(t, engine.EncoderX264, f.compact(t, engine.CategoryOutput)[subRecording]["RecEncoder"])
	})
}

func TestColorAndResolutionSettings(t *testing.T) {
	cases := []struct {
		name       string
		region     host.Rect
		maxW, maxH int
		mode       SubsamplingMode
		base, out  string
		format     string
		space      string
		colorRange string
	}{
		{"hd 420", host.Rect{Width: 1920, Height: 1080}, 0, 0, Subsampling420, "1920x1080", "1920x1080", "NV12", "709", "Partial"},
		{"sd 420", host.Rect{Width: 1280, Height: 720}, 0, 0, Subsampling420, "1280x720", "1280x720", "NV12", "601", "Partial"},
		{"downscaled to sd", host.Rect{Width: 1920, Height: 1080}, 1280, 0, Subsampling420, "1920x1080", "1280x720", "NV12", "601", "Partial"},
		{"444", host.Rect{Width: 800, Height: 600}, 0, 0, Subsampling444, "800x600", "800x600", "I444", "709", "Full"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			req := validRequest(t)
			req.Region = tc.region
			req.MaxOutputWidth, req.MaxOutputHeight = tc.maxW, tc.maxH
			req.SubsamplingMode = tc.mode

			require.NoError(t, f.rec.Start(context.Background(), req))

			video := f.compact(t, engine.CategoryVideo)[subUntitled]
			assert.Equal(t, tc.base, video["Base"])
			assert.Equal(t, tc.out, video["Output"])

			adv := f.compact(t, engine.CategoryAdvanced)[subVideo]
			assert.Equal(t, tc.format, adv["ColorFormat"])
			assert.Equal(t, tc.space, adv["ColorSpace"])
			assert.Equal(t, tc.colorRange, adv["ColorRange"])
		})
	}
}

func TestDisplayPlacement(t *testing.T) {
	t.Run("spanning two displays", func(t *testing.T) {
		f := newFixture(t)
		req := validRequest(t)
		req.Region = host.Rect{X: 1900, Y: 100, Width: 200, Height: 200}

		require.NoError(t, f.rec.Start(context.Background(), req))

		items := f.scene(t).Items()
		require.Len(t, items, 2)
		first, second := items[0].Info(), items[1].Info()
		assert.Equal(t, "display_0_item", first.Name)
		assert.Equal(t, -1900.0, first.X)
		assert.Equal(t, -100.0, first.Y)
		assert.Equal(t, "display_1_item", second.Name)
		assert.Equal(t, 20.0, second.X)
		assert.Equal(t, -100.0, second.Y)
		for _, info := range []engine.SceneItemInfo{first, second} {
			assert.Equal(t, 1.0, info.ScaleX)
			assert.Equal(t, 1.0, info.ScaleY)
			assert.Zero(t, info.Rotation)
			assert.Equal(t, engine.Crop{}, info.Crop)
			assert.True(t, info.Visible)
		}

		src := items[1].Source()
		assert.Equal(t, engine.SourceMonitorCapture, src.Kind())
		assert.Equal(t, 1, src.Settings()[engine.PropMonitor])
		assert.Equal(t, true, src.Settings()[engine.PropCaptureCursor])
	})

	t.Run("touching edge does not count", func(t *testing.T) {
		f := newFixture(t)
		req := validRequest(t)
		req.Region = host.Rect{X: 1920, Y: 0, Width: 100, Height: 100}

		require.NoError(t, f.rec.Start(context.Background(), req))
		assert.Equal(t, []string{"display_1_item"}, itemNames(f.scene(t)))
	})
}

func TestNoDisplayInRegionRollsBack(t *testing.T) {
	f := newFixture(t)
	req := validRequest(t)
	req.Region = host.Rect{X: 10000, Y: 10000, Width: 100, Height: 100}

	err := f.rec.Start(context.Background(), req)
	require.ErrorIs(t, err, ErrNoDisplayInRegion)
	assert.Equal(t, Idle, f.rec.State())
	assert.Zero(t, f.rec.Resources())
	assert.Zero(t, f.eng.Live())
	starts, _ := f.eng.Calls()
	assert.Zero(t, starts)
}

func TestHostWithoutDisplays(t *testing.T) {
	eng := sim.New(sim.DefaultOptions())
	rec := New(eng, host.NewStatic(), Options{SignalTimeout: time.Second})
	require.NoError(t, rec.Init(engine.InitOptions{DataDir: t.TempDir()}))

	err := rec.Start(context.Background(), validRequest(t))
	require.ErrorIs(t, err, ErrNoDisplayInRegion)
	assert.Equal(t, NoDisplayInRegion, KindOf(err))
	assert.ErrorIs(t, err, host.ErrNoDisplay)
	assert.Equal(t, Idle, rec.State())
	assert.Zero(t, rec.Resources())
	assert.Zero(t, eng.Live())
}

func TestAudioTracks(t *testing.T) {
	f := newFixture(t)
	req := validRequest(t)
	req.Speakers = []string{"spk_a", "spk_b"}
	req.Microphones = []string{"mic_a", "mic_b"}

	require.NoError(t, f.rec.Start(context.Background(), req))

	out := f.compact(t, engine.CategoryOutput)
	assert.Equal(t, mixedTrackName, out["Audio - Track 1"]["Track1Name"])
	assert.Equal(t, "audio_spk_a", out["Audio - Track 2"]["Track2Name"])
	assert.Equal(t, "audio_spk_b", out["Audio - Track 3"]["Track3Name"])
	assert.Equal(t, "audio_mic_a", out["Audio - Track 4"]["Track4Name"])
	assert.Equal(t, "audio_mic_b", out["Audio - Track 5"]["Track5Name"])
	assert.EqualValues(t, 0b11111, out[subRecording]["RecTracks"])

	for track, kind := range map[int]engine.SourceKind{
		2: engine.SourceOutputAudioCapture,
		3: engine.SourceOutputAudioCapture,
		4: engine.SourceInputAudioCapture,
		5: engine.SourceInputAudioCapture,
	} {
		src, ok := f.eng.Output(track).(engine.Source)
		require.True(t, ok, "track %d has no source", track)
		assert.Equal(t, kind, src.Kind())
		assert.Equal(t, uint32(1|1<<(track-1)), src.AudioMixers(), "track %d mixers", track)
	}
}

func TestNoAudioRecordsMixedTrackOnly(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.rec.Start(context.Background(), validRequest(t)))
	assert.EqualValues(t, 1, f.compact(t, engine.CategoryOutput)[subRecording]["RecTracks"])
}

func TestTooManyAudioDevicesRollsBack(t *testing.T) {
	f := newFixture(t)
	req := validRequest(t)
	req.Speakers = []string{"s1", "s2", "s3"}
	req.Microphones = []string{"m1", "m2"}

	err := f.rec.Start(context.Background(), req)
	require.ErrorIs(t, err, ErrTooManyAudioDevices)
	assert.Equal(t, Idle, f.rec.State())
	assert.Zero(t, f.rec.Resources())
	assert.Zero(t, f.eng.Live(), "scene or sources leaked")
	starts, _ := f.eng.Calls()
	assert.Zero(t, starts)
}

func TestSourceCreationFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("device busy")
	f.eng.FailCreate(engine.SourceInputAudioCapture, boom)

	req := validRequest(t)
	req.Speakers = []string{"s1"}
	req.Microphones = []string{"m1"}

	err := f.rec.Start(context.Background(), req)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, Idle, f.rec.State())
	assert.Zero(t, f.eng.Live())
}

func TestStartSignalFailure(t *testing.T) {
	f := newFixture(t)
	f.eng.SetStartSignal(engine.Signal{Type: "recording", Signal: engine.SignalStart, Code: -4, Error: "encoder busy"})

	err := f.rec.Start(context.Background(), validRequest(t))
	require.ErrorIs(t, err, ErrEngineStartFailed)
	assert.Contains(t, err.Error(), "encoder busy")
	assert.Contains(t, err.Error(), "-4")
	assert.Equal(t, Idle, f.rec.State())
	assert.Zero(t, f.eng.Live())
}

func TestStartRefusedByEngine(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("output busy")
	f.eng.FailStart(boom)

	err := f.rec.Start(context.Background(), validRequest(t))
	require.ErrorIs(t, err, ErrEngineStartFailed)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, Idle, f.rec.State())
	assert.Zero(t, f.eng.Live())
}

func TestStartSignalTimeout(t *testing.T) {
	f := newFixture(t, func(_ *sim.Options, o *Options) {
		o.SignalTimeout = 100 * time.Millisecond
	})
	f.eng.SuppressSignals(true)

	err := f.rec.Start(context.Background(), validRequest(t))
	require.ErrorIs(t, err, ErrSignalTimeout)
	assert.Equal(t, Idle, f.rec.State(), "state must revert after a timed out start")
	assert.Zero(t, f.eng.Live())
	_, stops := f.eng.Calls()
	assert.Equal(t, 1, stops, "unconfirmed start should be stopped")
	assert.False(t, f.eng.IsRecording())

	f.eng.SuppressSignals(false)
	require.NoError(t, f.rec.Start(context.Background(), validRequest(t)))
	assert.Equal(t, Recording, f.rec.State())
}

func TestStopSignalFailureKeepsRecording(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.rec.Start(ctx, validRequest(t)))
	held := f.rec.Resources()

	f.eng.SetStopSignal(engine.Signal{Type: "recording", Signal: engine.SignalStop, Code: 3, Error: "disk full"})
	err := f.rec.Stop(ctx)
	require.ErrorIs(t, err, ErrEngineStopFailed)
	assert.Equal(t, Recording, f.rec.State())
	assert.Equal(t, held, f.rec.Resources())
	assert.NotZero(t, f.eng.Live())
	_, ok := f.rec.Session()
	assert.True(t, ok)

	// a confirmed retry ends the session
	f.eng.SetStopSignal(engine.Signal{Type: "recording", Signal: engine.SignalStop})
	require.NoError(t, f.rec.Stop(ctx))
	assert.Equal(t, Idle, f.rec.State())
	assert.Zero(t, f.rec.Resources())
	assert.Zero(t, f.eng.Live())
}

func TestStopSignalTimeoutKeepsRecording(t *testing.T) {
	f := newFixture(t, func(_ *sim.Options, o *Options) {
		o.SignalTimeout = 100 * time.Millisecond
	})
	ctx := context.Background()
	require.NoError(t, f.rec.Start(ctx, validRequest(t)))
	sess, _ := f.rec.Session()

	f.eng.SuppressSignals(true)
	require.ErrorIs(t, f.rec.Stop(ctx), ErrSignalTimeout)
	assert.Equal(t, Recording, f.rec.State())
	assert.Positive(t, f.rec.Resources())

	// no second session while the first stop is unconfirmed
	starts, _ := f.eng.Calls()
	require.NoError(t, f.rec.Start(ctx, validRequest(t)))
	again, _ := f.eng.Calls()
	assert.Equal(t, starts, again)
	current, ok := f.rec.Session()
	require.True(t, ok)
	assert.Equal(t, sess.ID, current.ID)
}

func TestStopFailureKeepsClickTracking(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	marker := writeMarker(t, 64)
	f := newFixture(t, func(_ *sim.Options, o *Options) {
		o.MarkerPath = marker
	})
	ctx := context.Background()
	req := validRequest(t)
	req.TrackMouseClicks = true
	require.NoError(t, f.rec.Start(ctx, req))

	f.eng.SetStopSignal(engine.Signal{Type: "recording", Signal: engine.SignalStop, Code: 1})
	require.ErrorIs(t, f.rec.Stop(ctx), ErrEngineStopFailed)

	var markerItem engine.SceneItem
	for _, item := range f.scene(t).Items() {
		if item.Info().Name == markerItemName {
			markerItem = item
		}
	}
	require.NotNil(t, markerItem)
	f.host.SetMouse(host.MouseState{X: 100, Y: 100, LeftDown: true})
	require.Eventually(t, func() bool { return markerItem.Info().Visible }, time.Second, time.Millisecond)

	f.eng.SetStopSignal(engine.Signal{Type: "recording", Signal: engine.SignalStop})
	require.NoError(t, f.rec.Stop(ctx))
	assert.Zero(t, f.eng.Live())
}

func TestReleaseStopsRecording(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.rec.Start(ctx, validRequest(t)))

	require.NoError(t, f.rec.Release(ctx))
	assert.False(t, f.rec.Initialized())
	assert.Equal(t, Idle, f.rec.State())
	assert.False(t, f.eng.IsRecording())
	assert.Zero(t, f.eng.Live())

	assert.ErrorIs(t, f.rec.Release(ctx), ErrNotInitialized)
}

func TestReleaseSwallowsStopErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.rec.Start(ctx, validRequest(t)))

	f.eng.SetStopSignal(engine.Signal{Signal: engine.SignalStop, Code: 1})
	require.NoError(t, f.rec.Release(ctx))
	assert.Equal(t, Idle, f.rec.State())
	assert.Zero(t, f.rec.Resources())
	assert.Zero(t, f.eng.Live())
}

func TestReleaseReturnsShutdownFailure(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("transport closed")
	f.eng.FailShutdown(boom)

	err := f.rec.Release(context.Background())
	require.ErrorIs(t, err, boom)
	assert.False(t, f.rec.Initialized())
}

func TestReleaseCancelsPendingStart(t *testing.T) {
	f := newFixture(t, func(_ *sim.Options, o *Options) {
		o.SignalTimeout = time.Minute
	})
	f.eng.SuppressSignals(true)

	errc := make(chan error, 1)
	go func() { errc <- f.rec.Start(context.Background(), validRequest(t)) }()

	require.Eventually(t, func() bool { return f.rec.State() == Starting }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { starts, _ := f.eng.Calls(); return starts == 1 }, time.Second, time.Millisecond)

	require.NoError(t, f.rec.Release(context.Background()))

	select {
	case err := <-errc:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("start did not return after release")
	}
	assert.Equal(t, Idle, f.rec.State())
	assert.Zero(t, f.eng.Live())
}

func TestListenersSeeSessionLifecycle(t *testing.T) {
	var (
		mu     sync.Mutex
		events []Event
	)
	f := newFixture(t, func(_ *sim.Options, o *Options) {
		o.Listeners = []Listener{ListenerFunc(func(e Event) {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
		})}
	})
	ctx := context.Background()

	require.NoError(t, f.rec.Start(ctx, validRequest(t)))
	require.NoError(t, f.rec.Stop(ctx))

	bad := validRequest(t)
	bad.Region = host.Rect{X: -5000, Y: 0, Width: 10, Height: 10}
	require.Error(t, f.rec.Start(ctx, bad))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 3)
	assert.Equal(t, EventStarted, events[0].Kind)
	assert.Equal(t, EventStopped, events[1].Kind)
	assert.Equal(t, events[0].Session.ID, events[1].Session.ID)
	assert.False(t, events[1].Session.StoppedAt.Before(events[1].Session.StartedAt))
	assert.NoError(t, events[1].Err)
	assert.Equal(t, EventFailed, events[2].Kind)
	assert.ErrorIs(t, events[2].Err, ErrNoDisplayInRegion)
	assert.NotEqual(t, events[0].Session.ID, events[2].Session.ID)
}

func writeMarker(t *testing.T, size int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	img.Set(size/2, size/2, color.White)
	path := filepath.Join(t.TempDir(), "marker.png")
	out, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(out, img))
	require.NoError(t, out.Close())
	return path
}

func TestClickMarkerLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	marker := writeMarker(t, 64)
	f := newFixture(t, func(_ *sim.Options, o *Options) {
		o.MarkerPath = marker
	})
	ctx := context.Background()
	req := validRequest(t)
	req.TrackMouseClicks = true

	require.NoError(t, f.rec.Start(ctx, req))

	var markerItem engine.SceneItem
	for _, item := range f.scene(t).Items() {
		if item.Info().Name == markerItemName {
			markerItem = item
		}
	}
	require.NotNil(t, markerItem, "marker item not placed")
	assert.False(t, markerItem.Info().Visible)
	assert.Equal(t, engine.SourceImage, markerItem.Source().Kind())
	assert.Equal(t, marker, markerItem.Source().Settings()[engine.PropFile])

	f.host.SetMouse(host.MouseState{X: 100, Y: 100, LeftDown: true})
	require.Eventually(t, func() bool { return markerItem.Info().Visible }, time.Second, time.Millisecond)

	require.NoError(t, f.rec.Stop(ctx))
	assert.Zero(t, f.eng.Live())
}

func TestClickMarkerMissingAssetIsNotFatal(t *testing.T) {
	f := newFixture(t, func(_ *sim.Options, o *Options) {
		o.MarkerPath = filepath.Join(t.TempDir(), "missing.png")
	})
	req := validRequest(t)
	req.TrackMouseClicks = true

	require.NoError(t, f.rec.Start(context.Background(), req))
	assert.NotContains(t, itemNames(f.scene(t)), markerItemName)
}
