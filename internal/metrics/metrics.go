// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recordingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "captureexpress",
		Name:      "recordings_total",
		Help:      "Recording start attempts by result",
	}, []string{"result"})

	recordingActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "captureexpress",
		Name:      "recording_active",
		Help:      "1 while a recording session is active",
	})

	releasedResources = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "captureexpress",
		Name:      "session_resources_released_total",
		Help:      "Engine objects released on session teardown by outcome",
	}, []string{"outcome"})

	settingsWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "captureexpress",
		Name:      "settings_writes_total",
		Help:      "Settings category writes by category and result",
	}, []string{"category", "result"})

	volmeterConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "captureexpress",
		Name:      "volmeter_connections",
		Help:      "Open volume meter websocket connections",
	})

	volmeterFramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "captureexpress",
		Name:      "volmeter_frames_dropped_total",
		Help:      "Meter frames dropped because a client was slow or throttled",
	})
)

// IncRecording records a start attempt. result is one of
// started, invalid_request, failed.
func IncRecording(result string) {
	switch result {
	case "started", "invalid_request", "failed":
	default:
		result = "failed"
	}
	recordingsTotal.WithLabelValues(result).Inc()
}

// SetRecordingActive flips the active gauge
func SetRecordingActive(active bool) {
	if active {
		recordingActive.Set(1)
		return
	}
	recordingActive.Set(0)
}

// AddReleased counts released and failed disposals
func AddReleased(released, failed int) {
	releasedResources.WithLabelValues("released").Add(float64(released))
	releasedResources.WithLabelValues("failed").Add(float64(failed))
}

// IncSettingsWrite records a settings commit
func IncSettingsWrite(category string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	settingsWrites.WithLabelValues(normalizeCategory(category), result).Inc()
}

// VolmeterConnected adjusts the open connection gauge
func VolmeterConnected(delta int) {
	volmeterConnections.Add(float64(delta))
}

// IncVolmeterDropped counts a dropped meter frame
func IncVolmeterDropped() {
	volmeterFramesDropped.Inc()
}

func normalizeCategory(category string) string {
	switch strings.ToLower(strings.TrimSpace(category)) {
	case "general", "output", "video", "audio", "advanced":
		return strings.ToLower(strings.TrimSpace(category))
	default:
		return "other"
	}
}
