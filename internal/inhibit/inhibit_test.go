package inhibit

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/CaptureExpress/internal/recorder"
)

type fakeBus struct {
	inhibitErr error
	next       uint32
	active     map[uint32]bool
	closed     bool
}

func (b *fakeBus) Inhibit(app, reason string) (uint32, error) {
	if b.inhibitErr != nil {
		return 0, b.inhibitErr
	}
	b.next++
	if b.active == nil {
		b.active = map[uint32]bool{}
	}
	b.active[b.next] = true
	return b.next, nil
}

func (b *fakeBus) UnInhibit(cookie uint32) error {
	if !b.active[cookie] {
		return errors.New("unknown cookie")
	}
	delete(b.active, cookie)
	return nil
}

func (b *fakeBus) Close() error {
	b.closed = true
	return nil
}

func TestInhibitFollowsSession(t *testing.T) {
	bus := &fakeBus{}
	inh := New(bus)

	inh.SessionEvent(recorder.Event{Kind: recorder.EventStarted})
	assert.True(t, inh.Held())
	assert.Len(t, bus.active, 1)

	// a second start does not stack inhibitions
	inh.SessionEvent(recorder.Event{Kind: recorder.EventStarted})
	assert.Len(t, bus.active, 1)

	inh.SessionEvent(recorder.Event{Kind: recorder.EventStopped})
	assert.False(t, inh.Held())
	assert.Empty(t, bus.active)
}

func TestFailedStartDoesNotInhibit(t *testing.T) {
	bus := &fakeBus{}
	inh := New(bus)

	inh.SessionEvent(recorder.Event{Kind: recorder.EventFailed, Err: errors.New("boom")})
	assert.False(t, inh.Held())
	assert.Empty(t, bus.active)
}

func TestBusFailureIsNotFatal(t *testing.T) {
	bus := &fakeBus{inhibitErr: errors.New("no screensaver service")}
	inh := New(bus)

	inh.SessionEvent(recorder.Event{Kind: recorder.EventStarted})
	assert.False(t, inh.Held())
	inh.SessionEvent(recorder.Event{Kind: recorder.EventStopped})
}

func TestCloseReleases(t *testing.T) {
	bus := &fakeBus{}
	inh := New(bus)
	inh.SessionEvent(recorder.Event{Kind: recorder.EventStarted})

	require.NoError(t, inh.Close())
	assert.Empty(t, bus.active)
	assert.True(t, bus.closed)
}
