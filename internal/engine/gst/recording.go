package gst

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bryanchriswhite/CaptureExpress/internal/engine"
	"github.com/bryanchriswhite/CaptureExpress/internal/logger"
	"github.com/tinyzimmer/go-gst/gst"
)

// busPollInterval bounds each bus pop so the watcher notices teardown
const busPollInterval = 100 * time.Millisecond

// recording is one running pipeline
type recording struct {
	eng        *Engine
	pipeline   *gst.Pipeline
	compositor *gst.Element
	location   string
	// compositor pad index per scene item
	items map[*SceneItem]int

	stop         chan struct{}
	stopOnce     sync.Once
	endOnce      sync.Once
	teardownOnce sync.Once

	mu      sync.Mutex
	started bool
	closed  bool
}

// watch polls the pipeline bus rather than installing a cgo bus watch
func (r *recording) watch() {
	log := logger.WithComponent("engine-gst")
	bus := r.pipeline.GetPipelineBus()
	name := r.pipeline.GetName()

	for {
		select {
		case <-r.stop:
			return
		default:
		}

		msg := bus.TimedPop(busPollInterval)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageStateChanged:
			if msg.Source() != name {
				continue
			}
			_, state := msg.ParseStateChanged()
			if state == gst.StatePlaying {
				r.markStarted()
			}
		case gst.MessageEOS:
			log.Debug().Str("location", r.location).Msg("End of stream reached")
			r.end(nil)
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			log.Error().
				Str("element", msg.Source()).
				Str("debug", gerr.DebugString()).
				Msg(gerr.Error())
			r.end(fmt.Errorf("%s: %s", msg.Source(), gerr.Error()))
			return
		}
	}
}

func (r *recording) markStarted() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()
	r.eng.emit(engine.Signal{Type: "recording", Signal: engine.SignalStart})
}

// requestStop sends EOS once and arms the stop watchdog
func (r *recording) requestStop(timeout time.Duration) {
	r.stopOnce.Do(func() {
		if !r.pipeline.SendEvent(gst.NewEOSEvent()) {
			r.end(errors.New("pipeline rejected end of stream"))
			return
		}
		go func() {
			timer := time.NewTimer(timeout)
			defer timer.Stop()
			select {
			case <-timer.C:
				logger.WithComponent("engine-gst").Warn().
					Dur("timeout", timeout).
					Str("location", r.location).
					Msg("End of stream did not arrive, forcing pipeline down")
				r.end(fmt.Errorf("end of stream not reached within %s, the file may be truncated", timeout))
			case <-r.stop:
			}
		}()
	})
}

// end tears the pipeline down and reports the outcome exactly once. A
// pipeline that never reached PLAYING reports a failed start.
func (r *recording) end(err error) {
	r.endOnce.Do(func() {
		r.mu.Lock()
		started := r.started
		r.mu.Unlock()

		r.teardown()
		r.eng.finished(r)

		sig := engine.Signal{Type: "recording", Signal: engine.SignalStop}
		if !started {
			sig.Signal = engine.SignalStart
			if err == nil {
				err = errors.New("pipeline ended before recording started")
			}
		}
		if err != nil {
			sig.Code = signalErrorCode
			sig.Error = err.Error()
		}
		r.eng.emit(sig)
	})
}

func (r *recording) teardown() {
	r.teardownOnce.Do(func() {
		close(r.stop)
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		if err := r.pipeline.SetState(gst.StateNull); err != nil {
			logger.WithComponent("engine-gst").Warn().Err(err).Msg("Pipeline did not reach NULL state")
		}
		r.compositor.Unref()
		r.pipeline.Unref()
	})
}

// update pushes an item's placement and alpha to its compositor pad
func (r *recording) update(item *SceneItem) {
	pad, ok := r.items[item]
	if !ok {
		return
	}
	rect := item.placement()
	alpha := item.alpha()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	sink := r.compositor.GetStaticPad(fmt.Sprintf("sink_%d", pad))
	if sink == nil {
		return
	}
	defer sink.Unref()

	for _, p := range []struct {
		name  string
		value any
	}{
		{"xpos", rect.X},
		{"ypos", rect.Y},
		{"width", rect.Width},
		{"height", rect.Height},
		{"alpha", alpha},
	} {
		if err := sink.SetProperty(p.name, p.value); err != nil {
			logger.WithComponent("engine-gst").Debug().Err(err).Str("property", p.name).Int("pad", pad).Msg("Compositor pad update failed")
		}
	}
}
