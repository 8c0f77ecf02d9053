package volmeter

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/bryanchriswhite/CaptureExpress/internal/engine"
	"github.com/bryanchriswhite/CaptureExpress/internal/engine/sim"
)

func setup(t *testing.T, opts Options) (*sim.Engine, *Relay, *httptest.Server) {
	t.Helper()
	simOpts := sim.DefaultOptions()
	simOpts.MeterInterval = 0
	eng := sim.New(simOpts)
	require.NoError(t, eng.Init(engine.InitOptions{DataDir: t.TempDir()}))

	relay := New(eng, opts)
	srv := httptest.NewServer(relay)
	t.Cleanup(func() {
		relay.Close()
		srv.Close()
	})
	return eng, relay, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/volmeter?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

// waitForMeter returns the meter once its callback is registered
func waitForMeter(t *testing.T, eng *sim.Engine) *sim.Volmeter {
	t.Helper()
	var vm *sim.Volmeter
	require.Eventually(t, func() bool {
		meters := eng.Volmeters()
		if len(meters) == 0 {
			return false
		}
		vm = meters[len(meters)-1]
		return vm.Callbacks() == 1
	}, time.Second, time.Millisecond)
	return vm
}

func TestRelayForwardsMaxLevels(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	eng, relay, srv := setup(t, Options{PingInterval: time.Second})
	conn := dial(t, srv, "device_type=speaker&device_id=default&algorithm=iec")

	vm := waitForMeter(t, eng)
	assert.Equal(t, 1, relay.Connections())

	vm.Emit([]float64{0.1, 0.4}, []float64{0.3, 0.9}, []float64{1, 1})

	var f Frame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, Frame{Peak: 0.9, Magnitude: 0.4}, f)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return relay.Connections() == 0 }, time.Second, time.Millisecond)
	assert.True(t, vm.Destroyed())
	assert.Zero(t, vm.Callbacks())
	assert.Zero(t, eng.Live(), "probe source leaked")
}

func TestRelayAcceptsLegacyQueryNames(t *testing.T) {
	eng, _, srv := setup(t, Options{PingInterval: time.Second})
	conn := dial(t, srv, "deviceType=microphone&deviceId=sim_microphone_0")
	defer conn.Close()

	vm := waitForMeter(t, eng)
	vm.Emit([]float64{0.2}, []float64{0.5}, nil)

	var f Frame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, 0.5, f.Peak)
}

func TestRelayReportsCreationErrors(t *testing.T) {
	cases := map[string]string{
		"missing params":   "algorithm=log",
		"unknown type":     "device_type=camera&device_id=x",
		"missing identity": "device_type=speaker",
	}
	for name, query := range cases {
		t.Run(name, func(t *testing.T) {
			eng, relay, srv := setup(t, Options{PingInterval: time.Second})
			conn := dial(t, srv, query)
			defer conn.Close()

			var msg map[string]string
			require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
			require.NoError(t, conn.ReadJSON(&msg))
			assert.Equal(t, "error", msg["status"])
			assert.NotEmpty(t, msg["message"])

			_, _, err := conn.ReadMessage()
			assert.Error(t, err, "connection should be closed after the error")
			assert.Zero(t, relay.Connections())
			assert.Zero(t, eng.Live())
		})
	}
}

func TestRelayReportsSourceFailure(t *testing.T) {
	eng, _, srv := setup(t, Options{PingInterval: time.Second})
	eng.FailCreate(engine.SourceOutputAudioCapture, assert.AnError)

	conn := dial(t, srv, "device_type=speaker&device_id=default")
	defer conn.Close()

	var msg map[string]string
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Contains(t, msg["message"], assert.AnError.Error())
	assert.Empty(t, eng.Volmeters())
}

func TestRelayDropsUnresponsiveClients(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	eng, relay, srv := setup(t, Options{PingInterval: 20 * time.Millisecond})
	// This client never reads, so it never answers pings
	conn := dial(t, srv, "device_type=speaker&device_id=default")
	defer conn.Close()

	vm := waitForMeter(t, eng)
	require.Eventually(t, func() bool { return relay.Connections() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, vm.Destroyed())
	assert.Zero(t, eng.Live())
}

func TestRelayKeepsResponsiveClients(t *testing.T) {
	eng, relay, srv := setup(t, Options{PingInterval: 20 * time.Millisecond})
	conn := dial(t, srv, "device_type=speaker&device_id=default")
	defer conn.Close()

	// Reading processes pings and answers them with pongs
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	waitForMeter(t, eng)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, relay.Connections())
}

func TestRelayThrottlesFrames(t *testing.T) {
	eng, _, srv := setup(t, Options{PingInterval: time.Second, MaxFrameRate: 1})
	conn := dial(t, srv, "device_type=speaker&device_id=default")
	defer conn.Close()

	vm := waitForMeter(t, eng)
	for range 5 {
		vm.Emit([]float64{0.1}, []float64{0.2}, nil)
	}

	var f Frame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, conn.ReadJSON(&f))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	assert.Error(t, conn.ReadJSON(&f), "throttled frames must be dropped")
}

func TestRelayCloseTearsDownConnections(t *testing.T) {
	eng, relay, srv := setup(t, Options{PingInterval: time.Second})
	conn := dial(t, srv, "device_type=speaker&device_id=default")
	defer conn.Close()

	vm := waitForMeter(t, eng)
	relay.Close()

	assert.Zero(t, relay.Connections())
	assert.True(t, vm.Destroyed())
	assert.Zero(t, eng.Live())
}

func TestMeterCloseIsIdempotent(t *testing.T) {
	eng := sim.New(sim.Options{})
	require.NoError(t, eng.Init(engine.InitOptions{DataDir: t.TempDir()}))

	m, err := openMeter(eng, "speaker", "default", engine.FaderLog, func(Frame) {})
	require.NoError(t, err)
	m.close()
	m.close()
	assert.Zero(t, eng.Live())
}

func TestMaxOf(t *testing.T) {
	assert.Zero(t, maxOf(nil))
	assert.Equal(t, -1.0, maxOf([]float64{-3, -1, -2}))
}
