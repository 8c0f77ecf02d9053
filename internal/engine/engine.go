// Package engine describes the capture-and-encode engine the recorder drives.
//
// The engine is a black box: it creates scenes, sources, filters and volume
// meters, exposes a category keyed settings tree, starts and stops recording
// and reports lifecycle signals asynchronously. Backends live in sub-packages.
package engine

import "time"

// SourceKind identifies the type of an input source
type SourceKind string

const (
	SourceMonitorCapture     SourceKind = "monitor_capture"
	SourceOutputAudioCapture SourceKind = "output_audio_capture"
	SourceInputAudioCapture  SourceKind = "input_audio_capture"
	SourceImage              SourceKind = "image_source"
)

// FilterKind identifies the type of a source filter
type FilterKind string

const (
	FilterColor FilterKind = "color_filter"
)

// Encoder identifiers exposed through Output/Recording/RecEncoder
const (
	EncoderNone  = "none"
	EncoderX264  = "x264"
	EncoderNVENC = "nvenc"
)

// Property keys understood by sources and filters
const (
	PropDeviceID      = "device_id"
	PropMonitor       = "monitor"
	PropCaptureCursor = "capture_cursor"
	PropFile          = "file"
	PropOpacity       = "opacity"
)

// Settings is a loosely typed key/value bag passed to sources and filters
type Settings map[string]any

// Disposable is implemented by every engine object that must be released
type Disposable interface {
	Dispose() error
}

// PropertyOption is one entry of an enumerated property
type PropertyOption struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Property describes a source property and its enumerated options
type Property struct {
	Name    string           `json:"name"`
	Options []PropertyOption `json:"options"`
}

// OutputSource can be bound to one of the engine's output channels
type OutputSource interface {
	Name() string
}

// Source is an input source (display, audio device, image)
type Source interface {
	Disposable
	OutputSource
	Kind() SourceKind
	// Property returns the named property with its enumerated options
	Property(name string) (Property, error)
	Update(settings Settings) error
	Settings() Settings
	SetAudioMixers(mask uint32)
	AudioMixers() uint32
	AddFilter(filter Filter) error
	RemoveFilter(filter Filter) error
}

// Filter processes the output of a source
type Filter interface {
	Disposable
	Name() string
	Kind() FilterKind
	Update(settings Settings) error
	Settings() Settings
}

// Crop in pixels on each edge
type Crop struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// SceneItemInfo places a source on a scene
type SceneItemInfo struct {
	Name     string  `json:"name"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	ScaleX   float64 `json:"scaleX"`
	ScaleY   float64 `json:"scaleY"`
	Rotation float64 `json:"rotation"`
	Visible  bool    `json:"visible"`
	Crop     Crop    `json:"crop"`
}

// SceneItem is a positioned source within a scene
type SceneItem interface {
	Disposable
	Source() Source
	Info() SceneItemInfo
	SetPosition(x, y float64)
	SetScale(x, y float64)
	SetVisible(visible bool)
}

// Scene composes scene items
type Scene interface {
	Disposable
	OutputSource
	Add(source Source, info SceneItemInfo) (SceneItem, error)
	Items() []SceneItem
}

// FaderType selects the curve used to turn dB into meter deflection
type FaderType int

const (
	FaderCubic FaderType = 0
	FaderIEC   FaderType = 1
	FaderLog   FaderType = 2
)

// VolmeterCallback receives per-channel levels
type VolmeterCallback func(magnitude, peak, inputPeak []float64)

// CallbackID identifies a registered volmeter callback
type CallbackID uint64

// Volmeter measures the level of an attached source
type Volmeter interface {
	Attach(source Source) error
	Detach() error
	AddCallback(cb VolmeterCallback) (CallbackID, error)
	RemoveCallback(id CallbackID) error
	Destroy() error
}

// Signal is an asynchronous output lifecycle notification
type Signal struct {
	Type   string `json:"type"`
	Signal string `json:"signal"`
	Code   int    `json:"code"`
	Error  string `json:"error,omitempty"`
}

// Failed reports whether the engine flagged this signal as an error
func (s Signal) Failed() bool {
	return s.Code != 0 || s.Error != ""
}

// Signal names
const (
	SignalStart = "start"
	SignalStop  = "stop"
)

// Statistics is a point-in-time performance snapshot
type Statistics struct {
	CPU                 float64 `json:"CPU"`
	MemoryUsage         float64 `json:"memoryUsage"`
	ActiveSources       int     `json:"activeSources"`
	NumberDroppedFrames int     `json:"numberDroppedFrames"`
	PercentageDropped   float64 `json:"percentageDroppedFrames"`
	RecordingBytes      int64   `json:"recordingBytes"`
}

// InitOptions configures engine initialization
type InitOptions struct {
	Locale  string
	DataDir string
	Version string
	// ServerName names the engine host session, unique per process
	ServerName string
}

// Engine is the capture engine contract
type Engine interface {
	Init(opts InitOptions) error
	// Shutdown disconnects from the engine; the engine is unusable afterwards
	Shutdown() error

	ConnectOutputSignals(handler func(Signal))
	RemoveCallback()

	CreateSource(kind SourceKind, name string, settings Settings) (Source, error)
	CreateScene(name string) (Scene, error)
	CreateFilter(kind FilterKind, name string, settings Settings) (Filter, error)
	CreateVolmeter(fader FaderType) (Volmeter, error)
	SetOutputSource(channel int, source OutputSource) error

	GetSettings(category string) ([]SubCategory, error)
	SaveSettings(category string, data []SubCategory) error

	StartRecording() error
	StopRecording() error

	Statistics() Statistics
}

// DefaultSignalTimeout bounds how long callers wait for a lifecycle signal
const DefaultSignalTimeout = 10 * time.Second
