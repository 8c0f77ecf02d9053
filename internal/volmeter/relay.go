// Package volmeter streams live audio levels of one device per websocket
// connection.
package volmeter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/bryanchriswhite/CaptureExpress/internal/devices"
	"github.com/bryanchriswhite/CaptureExpress/internal/engine"
	"github.com/bryanchriswhite/CaptureExpress/internal/logger"
	"github.com/bryanchriswhite/CaptureExpress/internal/metrics"
)

const (
	DefaultPingInterval = 4 * time.Second
	writeWait           = 2 * time.Second
	frameBuffer         = 8
)

// Options tunes the relay
type Options struct {
	// PingInterval is both the keepalive period and the pong deadline
	PingInterval time.Duration
	// MaxFrameRate caps frames per second per connection, zero is unlimited
	MaxFrameRate float64
}

// Relay is an http.Handler upgrading requests to meter streams
type Relay struct {
	eng      engine.Engine
	opts     Options
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	active atomic.Int64
}

// New creates a relay over eng
func New(eng engine.Engine, opts Options) *Relay {
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{
		eng:  eng,
		opts: opts,
		upgrader: websocket.Upgrader{
			// Local control surface, any page may read levels
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Connections returns the number of open meter streams
func (r *Relay) Connections() int {
	return int(r.active.Load())
}

// Close tears down every connection and waits for their teardown
func (r *Relay) Close() {
	r.cancel()
	r.wg.Wait()
}

func queryValue(req *http.Request, names ...string) string {
	q := req.URL.Query()
	for _, name := range names {
		if v := q.Get(name); v != "" {
			return v
		}
	}
	return ""
}

// ServeHTTP handles one meter stream
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	log := logger.WithComponent("volmeter")

	if r.ctx.Err() != nil {
		http.Error(w, "volmeter relay closed", http.StatusServiceUnavailable)
		return
	}
	r.wg.Add(1)
	defer r.wg.Done()

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	deviceType := queryValue(req, "device_type", "deviceType")
	deviceID := queryValue(req, "device_id", "deviceId")
	fader := engine.ParseFaderType(req.URL.Query().Get("algorithm"))

	c := newStream(conn, r.opts)
	m, err := r.open(deviceType, deviceID, fader, c.offer)
	if err != nil {
		log.Warn().Err(err).Str("device_type", deviceType).Str("device_id", deviceID).Msg("Volmeter creation failed")
		c.fail(err)
		return
	}

	r.active.Add(1)
	metrics.VolmeterConnected(1)
	defer func() {
		m.close()
		r.active.Add(-1)
		metrics.VolmeterConnected(-1)
	}()

	if err := c.run(r.ctx); err != nil {
		log.Debug().Err(err).Str("device_id", deviceID).Msg("Volmeter connection closed")
	}
}

func (r *Relay) open(deviceType, deviceID string, fader engine.FaderType, onFrame func(Frame)) (*meter, error) {
	if deviceType == "" || deviceID == "" {
		return nil, errors.New("device_type and device_id are required query parameters")
	}
	var kind devices.Kind
	switch deviceType {
	case string(devices.Speaker):
		kind = devices.Speaker
	case string(devices.Microphone):
		kind = devices.Microphone
	default:
		return nil, fmt.Errorf("unknown device_type: '%s', supported is: 'speaker' or 'microphone'", deviceType)
	}
	return openMeter(r.eng, kind, deviceID, fader, onFrame)
}

// stream is the write side of one connection
type stream struct {
	conn    *websocket.Conn
	frames  chan Frame
	limiter *rate.Limiter
	ping    time.Duration
	alive   atomic.Bool
}

func newStream(conn *websocket.Conn, opts Options) *stream {
	limit := rate.Inf
	if opts.MaxFrameRate > 0 {
		limit = rate.Limit(opts.MaxFrameRate)
	}
	s := &stream{
		conn:    conn,
		frames:  make(chan Frame, frameBuffer),
		limiter: rate.NewLimiter(limit, 1),
		ping:    opts.PingInterval,
	}
	s.alive.Store(true)
	return s
}

// offer queues a frame without blocking the engine callback
func (s *stream) offer(f Frame) {
	if !s.limiter.Allow() {
		metrics.IncVolmeterDropped()
		return
	}
	select {
	case s.frames <- f:
	default:
		metrics.IncVolmeterDropped()
	}
}

func (s *stream) fail(err error) {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = s.conn.WriteJSON(map[string]string{"status": "error", "message": err.Error()})
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "volmeter unavailable"))
	s.conn.Close()
}

// run pumps frames and pings until the client goes away, stops answering
// pings or ctx is cancelled
func (s *stream) run(ctx context.Context) error {
	readDone := make(chan error, 1)
	s.conn.SetPongHandler(func(string) error {
		s.alive.Store(true)
		return nil
	})
	go func() {
		for {
			if _, _, err := s.conn.ReadMessage(); err != nil {
				readDone <- err
				return
			}
		}
	}()
	// The reader exits once the connection is closed
	defer func() {
		s.conn.Close()
		<-readDone
	}()

	ticker := time.NewTicker(s.ping)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return ctx.Err()

		case err := <-readDone:
			// put it back for the deferred drain
			readDone <- err
			return err

		case f := <-s.frames:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(f); err != nil {
				return fmt.Errorf("write frame: %w", err)
			}

		case <-ticker.C:
			if !s.alive.Swap(false) {
				return errors.New("client did not answer ping")
			}
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return fmt.Errorf("write ping: %w", err)
			}
		}
	}
}
