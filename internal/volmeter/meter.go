package volmeter

import (
	"fmt"
	"sync"

	"github.com/bryanchriswhite/CaptureExpress/internal/devices"
	"github.com/bryanchriswhite/CaptureExpress/internal/engine"
	"github.com/bryanchriswhite/CaptureExpress/internal/logger"
)

// Frame is one level sample sent to clients
type Frame struct {
	Peak      float64 `json:"peak"`
	Magnitude float64 `json:"magnitude"`
}

// meter owns the probe source, volume meter and callback of one connection
type meter struct {
	kind     devices.Kind
	deviceID string

	input    engine.Source
	vm       engine.Volmeter
	callback engine.CallbackID
	attached bool
	hasCB    bool

	closeOnce sync.Once
}

// openMeter attaches a volume meter to a fresh source for the device. On
// failure everything created so far is released.
func openMeter(eng engine.Engine, kind devices.Kind, deviceID string, fader engine.FaderType, onFrame func(Frame)) (*meter, error) {
	m := &meter{kind: kind, deviceID: deviceID}

	input, err := eng.CreateSource(kind.SourceKind(), fmt.Sprintf("volmeter_%s_%s", kind, deviceID), engine.Settings{
		engine.PropDeviceID: deviceID,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s source: %w", kind, err)
	}
	m.input = input

	vm, err := eng.CreateVolmeter(fader)
	if err != nil {
		m.close()
		return nil, fmt.Errorf("create volmeter: %w", err)
	}
	m.vm = vm

	if err := vm.Attach(input); err != nil {
		m.close()
		return nil, fmt.Errorf("attach volmeter: %w", err)
	}
	m.attached = true

	id, err := vm.AddCallback(func(magnitude, peak, _ []float64) {
		onFrame(Frame{Peak: maxOf(peak), Magnitude: maxOf(magnitude)})
	})
	if err != nil {
		m.close()
		return nil, fmt.Errorf("failed to create callback: %w", err)
	}
	m.callback, m.hasCB = id, true

	logger.WithComponent("volmeter").Info().
		Str("device_type", string(kind)).
		Str("device_id", deviceID).
		Str("fader", fader.String()).
		Msg("Created volmeter")
	return m, nil
}

// close removes the callback, detaches and destroys the meter and releases
// the source, in that order. Every step is attempted; it is safe to call
// more than once and never panics.
func (m *meter) close() {
	m.closeOnce.Do(func() {
		log := logger.WithComponent("volmeter").With().
			Str("device_type", string(m.kind)).
			Str("device_id", m.deviceID).
			Logger()

		step := func(name string, fn func() error) {
			defer func() {
				if r := recover(); r != nil {
					log.Warn().Interface("panic", r).Str("step", name).Msg("Volmeter teardown panicked")
				}
			}()
			if err := fn(); err != nil {
				log.Warn().Err(err).Str("step", name).Msg("Volmeter teardown step failed")
			}
		}

		if m.hasCB {
			step("remove_callback", func() error { return m.vm.RemoveCallback(m.callback) })
		}
		if m.vm != nil {
			if m.attached {
				step("detach", m.vm.Detach)
			}
			step("destroy", m.vm.Destroy)
		}
		if m.input != nil {
			step("release_source", m.input.Dispose)
		}
		log.Debug().Msg("Disposed volmeter")
	})
}

func maxOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	out := values[0]
	for _, v := range values[1:] {
		if v > out {
			out = v
		}
	}
	return out
}
