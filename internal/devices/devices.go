// Package devices enumerates audio capture devices through the engine.
package devices

import (
	"fmt"

	"github.com/bryanchriswhite/CaptureExpress/internal/engine"
	"github.com/bryanchriswhite/CaptureExpress/internal/logger"
)

// Kind selects speakers (output capture) or microphones (input capture)
type Kind string

const (
	Speaker    Kind = "speaker"
	Microphone Kind = "microphone"
)

// probeDeviceID never names a real device, so the probe captures nothing
const probeDeviceID = "does_not_exist"

// Device is one selectable audio device
type Device struct {
	ID   string `json:"device_id"`
	Name string `json:"name"`
}

// ParseKind accepts "speaker(s)" and "microphone(s)"
func ParseKind(s string) (Kind, error) {
	switch s {
	case "speaker", "speakers":
		return Speaker, nil
	case "microphone", "microphones":
		return Microphone, nil
	}
	return "", fmt.Errorf("unknown device type %q (expected speaker or microphone)", s)
}

// SourceKind maps a device kind to the engine's audio capture source kind
func (k Kind) SourceKind() engine.SourceKind {
	if k == Microphone {
		return engine.SourceInputAudioCapture
	}
	return engine.SourceOutputAudioCapture
}

// Enumerator lists devices by probing the engine
type Enumerator struct {
	eng engine.Engine
}

// NewEnumerator creates an enumerator over eng
func NewEnumerator(eng engine.Engine) *Enumerator {
	return &Enumerator{eng: eng}
}

// ListAudioDevices creates a throwaway probe source, reads the options of its
// device_id property and releases the probe again, whatever happens.
func (e *Enumerator) ListAudioDevices(kind Kind) (devices []Device, err error) {
	log := logger.WithComponent("devices")

	name := fmt.Sprintf("%s_probe", kind)
	probe, err := e.eng.CreateSource(kind.SourceKind(), name, engine.Settings{
		engine.PropDeviceID: probeDeviceID,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s probe: %w", kind, err)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("enumerate %s devices: %v", kind, r)
		}
		if derr := probe.Dispose(); derr != nil {
			log.Warn().Err(derr).Str("kind", string(kind)).Msg("Failed to release device probe")
		}
	}()

	prop, err := probe.Property(engine.PropDeviceID)
	if err != nil {
		return nil, fmt.Errorf("read %s device list: %w", kind, err)
	}

	devices = make([]Device, 0, len(prop.Options))
	for _, opt := range prop.Options {
		devices = append(devices, Device{ID: opt.Value, Name: opt.Name})
	}

	log.Debug().
		Str("kind", string(kind)).
		Int("count", len(devices)).
		Msg("Enumerated audio devices")
	return devices, nil
}
