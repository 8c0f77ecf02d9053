package recorder

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/bryanchriswhite/CaptureExpress/internal/host"
	"github.com/bryanchriswhite/CaptureExpress/internal/logger"
)

// PerformanceMode trades encoder speed against quality
type PerformanceMode string

const (
	PerformanceSlow   PerformanceMode = "slow"
	PerformanceMedium PerformanceMode = "medium"
	PerformanceFast   PerformanceMode = "fast"
)

// SubsamplingMode selects chroma subsampling
type SubsamplingMode string

const (
	Subsampling420 SubsamplingMode = "yuv420"
	Subsampling444 SubsamplingMode = "yuv444"
)

// ContainerFormat is the recording file container
type ContainerFormat string

const (
	ContainerMKV ContainerFormat = "mkv"
	ContainerMP4 ContainerFormat = "mp4"
)

// Request defaults
const (
	DefaultFPS = 30
	DefaultCQ  = 24
	MinFPS     = 1
	MaxFPS     = 120
	MinCQ      = 1
	MaxCQ      = 51
)

// Size is a width/height pair
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Request describes one recording session
type Request struct {
	Region              host.Rect       `json:"captureRegion"`
	Speakers            []string        `json:"speakers"`
	Microphones         []string        `json:"microphones"`
	FPS                 int             `json:"fps"`
	CQ                  int             `json:"cq"`
	HardwareAccelerated bool            `json:"hardwareAccelerated"`
	OutputDirectory     string          `json:"outputDirectory"`
	PerformanceMode     PerformanceMode `json:"performanceMode"`
	SubsamplingMode     SubsamplingMode `json:"subsamplingMode"`
	ContainerFormat     ContainerFormat `json:"containerFormat"`
	MaxOutputWidth      int             `json:"maxOutputWidth,omitempty"`
	MaxOutputHeight     int             `json:"maxOutputHeight,omitempty"`
	TrackMouseClicks    bool            `json:"trackMouseClicks,omitempty"`
}

// NewRequest returns a request for region with every optional field at its default
func NewRequest(region host.Rect, outputDirectory string) Request {
	return Request{
		Region:          region,
		Speakers:        []string{},
		Microphones:     []string{},
		FPS:             DefaultFPS,
		CQ:              DefaultCQ,
		OutputDirectory: outputDirectory,
		PerformanceMode: PerformanceMedium,
		SubsamplingMode: Subsampling420,
		ContainerFormat: ContainerMP4,
	}
}

var knownFields = map[string]struct{}{
	"captureRegion": {}, "speakers": {}, "microphones": {}, "fps": {}, "cq": {},
	"hardwareAccelerated": {}, "outputDirectory": {}, "performanceMode": {},
	"subsamplingMode": {}, "containerFormat": {}, "maxOutputWidth": {},
	"maxOutputHeight": {}, "maxOutputSize": {}, "trackMouseClicks": {},
}

// ParseRequest decodes and validates a JSON capture request. Missing optional
// fields take their defaults and unknown fields are logged and ignored.
func ParseRequest(body []byte) (Request, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return Request{}, invalid("request body must be a JSON object")
	}

	var unknown []string
	for name := range fields {
		if _, ok := knownFields[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		logger.WithComponent("recorder").Warn().
			Strs("fields", unknown).
			Msg("Ignored unknown capture request fields")
	}

	req := NewRequest(host.Rect{}, "")

	raw, ok := field(fields, "captureRegion")
	if !ok {
		return Request{}, invalid("captureRegion must be specified and in format { x, y, width, height }")
	}
	region, err := decodeRect(raw)
	if err != nil {
		return Request{}, err
	}
	req.Region = region

	if raw, ok := field(fields, "maxOutputSize"); ok {
		var size map[string]json.RawMessage
		if json.Unmarshal(raw, &size) != nil || size == nil {
			return Request{}, invalid("maxOutputSize must be in format { width, height }")
		}
		if w, ok := field(size, "width"); ok {
			if req.MaxOutputWidth, ok = decodeInt(w); !ok {
				return Request{}, invalid("maxOutputSize.width must be an integer")
			}
		}
		if h, ok := field(size, "height"); ok {
			if req.MaxOutputHeight, ok = decodeInt(h); !ok {
				return Request{}, invalid("maxOutputSize.height must be an integer")
			}
		}
	}
	if raw, ok := field(fields, "maxOutputWidth"); ok {
		if req.MaxOutputWidth, ok = decodeInt(raw); !ok {
			return Request{}, invalid("maxOutputWidth must be an integer")
		}
	}
	if raw, ok := field(fields, "maxOutputHeight"); ok {
		if req.MaxOutputHeight, ok = decodeInt(raw); !ok {
			return Request{}, invalid("maxOutputHeight must be an integer")
		}
	}

	if raw, ok := field(fields, "speakers"); ok {
		if json.Unmarshal(raw, &req.Speakers) != nil {
			return Request{}, invalid("speakers must be an array of strings")
		}
	}
	if raw, ok := field(fields, "microphones"); ok {
		if json.Unmarshal(raw, &req.Microphones) != nil {
			return Request{}, invalid("microphones must be an array of strings")
		}
	}
	if raw, ok := field(fields, "fps"); ok {
		if req.FPS, ok = decodeInt(raw); !ok {
			return Request{}, invalid("fps must be an integer between %d-%d inclusive", MinFPS, MaxFPS)
		}
	}
	if raw, ok := field(fields, "cq"); ok {
		if req.CQ, ok = decodeInt(raw); !ok {
			return Request{}, invalid("cq must be an integer between %d-%d inclusive", MinCQ, MaxCQ)
		}
	}
	if raw, ok := field(fields, "hardwareAccelerated"); ok {
		if json.Unmarshal(raw, &req.HardwareAccelerated) != nil {
			return Request{}, invalid("hardwareAccelerated must be a boolean")
		}
	}
	raw, ok = field(fields, "outputDirectory")
	if !ok || json.Unmarshal(raw, &req.OutputDirectory) != nil {
		return Request{}, invalid("outputDirectory must be a path")
	}
	if raw, ok := field(fields, "performanceMode"); ok {
		s, ok := decodeString(raw)
		if !ok {
			return Request{}, invalid("performanceMode must be a string")
		}
		req.PerformanceMode = PerformanceMode(s)
	}
	if raw, ok := field(fields, "subsamplingMode"); ok {
		s, ok := decodeString(raw)
		if !ok {
			return Request{}, invalid("subsamplingMode must be a string")
		}
		req.SubsamplingMode = SubsamplingMode(s)
	}
	if raw, ok := field(fields, "containerFormat"); ok {
		s, ok := decodeString(raw)
		if !ok {
			return Request{}, invalid("containerFormat must be a string")
		}
		req.ContainerFormat = ContainerFormat(s)
	}
	if raw, ok := field(fields, "trackMouseClicks"); ok {
		if json.Unmarshal(raw, &req.TrackMouseClicks) != nil {
			return Request{}, invalid("trackMouseClicks must be a boolean")
		}
	}

	if err := req.Validate(); err != nil {
		return Request{}, err
	}
	return req, nil
}

// Validate checks domain constraints and normalizes enum casing in place.
// It touches nothing but the filesystem (to check outputDirectory).
func (r *Request) Validate() error {
	if r.Region.Width <= 0 || r.Region.Height <= 0 {
		return invalid("captureRegion width and height must be greater than 0")
	}
	if r.MaxOutputWidth < 0 || r.MaxOutputHeight < 0 {
		return invalid("maxOutputWidth and maxOutputHeight must not be negative")
	}
	for _, id := range r.Speakers {
		if id == "" {
			return invalid("speakers must not contain empty device ids")
		}
	}
	for _, id := range r.Microphones {
		if id == "" {
			return invalid("microphones must not contain empty device ids")
		}
	}
	if r.FPS < MinFPS || r.FPS > MaxFPS {
		return invalid("fps must be an integer between %d-%d inclusive", MinFPS, MaxFPS)
	}
	if r.CQ < MinCQ || r.CQ > MaxCQ {
		return invalid("cq must be an integer between %d-%d inclusive", MinCQ, MaxCQ)
	}

	r.PerformanceMode = PerformanceMode(strings.ToLower(string(r.PerformanceMode)))
	r.SubsamplingMode = SubsamplingMode(strings.ToLower(string(r.SubsamplingMode)))
	r.ContainerFormat = ContainerFormat(strings.ToLower(string(r.ContainerFormat)))

	switch r.PerformanceMode {
	case PerformanceSlow, PerformanceMedium, PerformanceFast:
	default:
		return invalid("performanceMode must be one of [slow, medium, fast]")
	}
	switch r.SubsamplingMode {
	case Subsampling420, Subsampling444:
	default:
		return invalid("subsamplingMode must be one of [yuv420, yuv444]")
	}
	switch r.ContainerFormat {
	case ContainerMKV, ContainerMP4:
	default:
		return invalid("containerFormat must be one of [mkv, mp4]")
	}

	if r.OutputDirectory == "" {
		return invalid("outputDirectory must be a path")
	}
	info, err := os.Stat(r.OutputDirectory)
	if err != nil || !info.IsDir() {
		return invalid("outputDirectory directory must exist")
	}
	return nil
}

// AudioDevices is the number of speakers plus microphones
func (r *Request) AudioDevices() int {
	return len(r.Speakers) + len(r.Microphones)
}

// field returns a present, non-null field
func field(fields map[string]json.RawMessage, name string) (json.RawMessage, bool) {
	raw, ok := fields[name]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, false
	}
	return raw, true
}

func decodeRect(raw json.RawMessage) (host.Rect, error) {
	const help = "captureRegion must be specified and in format { x, y, width, height }"
	var parts map[string]json.RawMessage
	if json.Unmarshal(raw, &parts) != nil || parts == nil {
		return host.Rect{}, invalid(help)
	}
	var r host.Rect
	for _, f := range []struct {
		name string
		dst  *int
	}{{"x", &r.X}, {"y", &r.Y}, {"width", &r.Width}, {"height", &r.Height}} {
		v, ok := field(parts, f.name)
		if !ok {
			return host.Rect{}, invalid(help)
		}
		if *f.dst, ok = decodeInt(v); !ok {
			return host.Rect{}, invalid("captureRegion.%s must be an integer", f.name)
		}
	}
	return r, nil
}

func decodeInt(raw json.RawMessage) (int, bool) {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

func decodeString(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}
