// Package inhibit keeps the screensaver off while a recording is running.
package inhibit

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/bryanchriswhite/CaptureExpress/internal/logger"
	"github.com/bryanchriswhite/CaptureExpress/internal/recorder"
)

const (
	screenSaverService = "org.freedesktop.ScreenSaver"
	screenSaverPath    = dbus.ObjectPath("/org/freedesktop/ScreenSaver")
	screenSaverIface   = "org.freedesktop.ScreenSaver"

	appName = "CaptureExpress"
	reason  = "Recording in progress"
)

// Bus is the screensaver interface on the session bus
type Bus interface {
	Inhibit(app, reason string) (uint32, error)
	UnInhibit(cookie uint32) error
	Close() error
}

// SessionBus talks to org.freedesktop.ScreenSaver
type SessionBus struct {
	conn *dbus.Conn
}

// Connect opens the session bus
func Connect() (*SessionBus, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return &SessionBus{conn: conn}, nil
}

// Inhibit returns the cookie that lifts the inhibition
func (b *SessionBus) Inhibit(app, reason string) (uint32, error) {
	var cookie uint32
	obj := b.conn.Object(screenSaverService, screenSaverPath)
	if err := obj.Call(screenSaverIface+".Inhibit", 0, app, reason).Store(&cookie); err != nil {
		return 0, fmt.Errorf("inhibit screensaver: %w", err)
	}
	return cookie, nil
}

// UnInhibit lifts a previous inhibition
func (b *SessionBus) UnInhibit(cookie uint32) error {
	obj := b.conn.Object(screenSaverService, screenSaverPath)
	if call := obj.Call(screenSaverIface+".UnInhibit", 0, cookie); call.Err != nil {
		return fmt.Errorf("uninhibit screensaver: %w", call.Err)
	}
	return nil
}

// Close closes the bus connection
func (b *SessionBus) Close() error {
	return b.conn.Close()
}

// Inhibitor follows recorder sessions. Bus failures are logged only.
type Inhibitor struct {
	bus Bus

	mu     sync.Mutex
	cookie uint32
	held   bool
}

// New creates an inhibitor on bus
func New(bus Bus) *Inhibitor {
	return &Inhibitor{bus: bus}
}

// Held reports whether the screensaver is currently inhibited
func (i *Inhibitor) Held() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.held
}

// SessionEvent inhibits on start and releases on stop
func (i *Inhibitor) SessionEvent(e recorder.Event) {
	switch e.Kind {
	case recorder.EventStarted:
		i.acquire(e.Session.ID)
	case recorder.EventStopped:
		i.release()
	}
}

func (i *Inhibitor) acquire(session string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	log := logger.WithComponent("inhibit")
	if i.held {
		return
	}
	cookie, err := i.bus.Inhibit(appName, reason)
	if err != nil {
		log.Warn().Err(err).Str("session", session).Msg("Could not inhibit screensaver")
		return
	}
	i.cookie, i.held = cookie, true
	log.Debug().Uint32("cookie", cookie).Msg("Screensaver inhibited")
}

func (i *Inhibitor) release() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.held {
		return
	}
	if err := i.bus.UnInhibit(i.cookie); err != nil {
		logger.WithComponent("inhibit").Warn().Err(err).Msg("Could not release screensaver inhibition")
	}
	i.cookie, i.held = 0, false
}

// Close lifts any inhibition and closes the bus
func (i *Inhibitor) Close() error {
	i.release()
	return i.bus.Close()
}
