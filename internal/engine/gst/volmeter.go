package gst

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bryanchriswhite/CaptureExpress/internal/engine"
	"github.com/bryanchriswhite/CaptureExpress/internal/engine/gst/launch"
	"github.com/bryanchriswhite/CaptureExpress/internal/logger"
	"github.com/tinyzimmer/go-gst/gst"
)

// Volmeter runs a pulsesrc ! level pipeline for the attached audio source
type Volmeter struct {
	eng   *Engine
	fader engine.FaderType

	mu        sync.Mutex
	callbacks map[engine.CallbackID]engine.VolmeterCallback
	nextID    engine.CallbackID
	pipeline  *gst.Pipeline
	stop      chan struct{}
	done      chan struct{}
	destroyed bool
}

// Attach starts metering source, replacing any previous attachment
func (v *Volmeter) Attach(source engine.Source) error {
	src, ok := source.(*Source)
	if !ok || src == nil || !src.audio() {
		return errors.New("volmeter needs an audio source of this engine")
	}
	if err := v.Detach(); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.destroyed {
		return errors.New("volmeter destroyed")
	}

	device := launch.PulseDevice(src.kind == engine.SourceOutputAudioCapture, src.str(engine.PropDeviceID))
	desc := launch.VolmeterString(device, v.eng.opts.MeterInterval.Nanoseconds())
	pipeline, err := gst.NewPipelineFromString(desc)
	if err != nil {
		return fmt.Errorf("create level pipeline: %w", err)
	}
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.Unref()
		return fmt.Errorf("start level pipeline: %w", err)
	}

	v.pipeline = pipeline
	v.stop = make(chan struct{})
	v.done = make(chan struct{})
	go v.poll(pipeline, v.stop, v.done)

	logger.WithComponent("engine-gst").Debug().Str("source", src.name).Str("device", device).Msg("Volmeter attached")
	return nil
}

func (v *Volmeter) poll(pipeline *gst.Pipeline, stop, done chan struct{}) {
	defer close(done)
	bus := pipeline.GetPipelineBus()
	for {
		select {
		case <-stop:
			return
		default:
		}

		msg := bus.TimedPop(busPollInterval)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageElement:
			st := msg.GetStructure()
			if st == nil || st.Name() != "level" {
				continue
			}
			levels := launch.ParseLevel(st.String())
			peak := v.deflect(levels["peak"])
			v.emit(v.deflect(levels["rms"]), peak, peak)
		case gst.MessageError:
			gerr := msg.ParseError()
			logger.WithComponent("engine-gst").Warn().Str("element", msg.Source()).Msg("Level pipeline failed: " + gerr.Error())
			return
		}
	}
}

func (v *Volmeter) deflect(db []float64) []float64 {
	out := make([]float64, len(db))
	for i, d := range db {
		out[i] = v.fader.Deflection(d)
	}
	return out
}

func (v *Volmeter) emit(magnitude, peak, inputPeak []float64) {
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

// Detach stops metering
func (v *Volmeter) Detach() error {
	v.mu.Lock()
	pipeline, stop, done := v.pipeline, v.stop, v.done
	v.pipeline, v.stop, v.done = nil, nil, nil
	v.mu.Unlock()

	if pipeline == nil {
		return nil
	}
	close(stop)
	<-done
	err := pipeline.SetState(gst.StateNull)
	pipeline.Unref()
	if err != nil {
		return fmt.Errorf("stop level pipeline: %w", err)
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

// Destroy stops metering and drops every callback
func (v *Volmeter) Destroy() error {
	err := v.Detach()
	v.mu.Lock()
	v.destroyed = true
	v.callbacks = map[engine.CallbackID]engine.VolmeterCallback{}
	v.mu.Unlock()
	return err
}
