package engine

import (
	"encoding/json"
	"fmt"
)

// ParameterType is the declared type of a settings parameter
type ParameterType string

const (
	ParamList    ParameterType = "OBS_PROPERTY_LIST"
	ParamInt     ParameterType = "OBS_PROPERTY_INT"
	ParamUInt    ParameterType = "OBS_PROPERTY_UINT"
	ParamBitmask ParameterType = "OBS_PROPERTY_BITMASK"
	ParamBool    ParameterType = "OBS_PROPERTY_BOOL"
	ParamPath    ParameterType = "OBS_PROPERTY_PATH"
	ParamText    ParameterType = "OBS_PROPERTY_TEXT"
)

// ListOption is an allowed value of a list parameter
type ListOption struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// Parameter is a named, typed setting
type Parameter struct {
	Name         string        `json:"name" yaml:"name"`
	Type         ParameterType `json:"type" yaml:"type"`
	Description  string        `json:"description,omitempty" yaml:"description,omitempty"`
	CurrentValue any           `json:"currentValue" yaml:"currentValue"`
	Values       []ListOption  `json:"values,omitempty" yaml:"values,omitempty"`
	Visible      bool          `json:"visible" yaml:"visible"`
	Enabled      bool          `json:"enabled" yaml:"enabled"`
}

// SubCategory groups parameters within a settings category
type SubCategory struct {
	NameSubCategory string      `json:"nameSubCategory" yaml:"nameSubCategory"`
	Parameters      []Parameter `json:"parameters" yaml:"parameters"`
}

// CloneSubCategories deep copies a category snapshot
func CloneSubCategories(data []SubCategory) []SubCategory {
	out := make([]SubCategory, len(data))
	for i, sub := range data {
		params := make([]Parameter, len(sub.Parameters))
		for j, p := range sub.Parameters {
			if p.Values != nil {
				p.Values = append([]ListOption(nil), p.Values...)
			}
			params[j] = p
		}
		out[i] = SubCategory{NameSubCategory: sub.NameSubCategory, Parameters: params}
	}
	return out
}

// Settings category names
const (
	CategoryGeneral  = "General"
	CategoryOutput   = "Output"
	CategoryVideo    = "Video"
	CategoryAudio    = "Audio"
	CategoryAdvanced = "Advanced"
)

func list(name string, current string, options ...string) Parameter {
	values := make([]ListOption, len(options))
	for i, o := range options {
		values[i] = ListOption{Name: o, Value: o}
	}
	return Parameter{Name: name, Type: ParamList, CurrentValue: current, Values: values, Visible: true, Enabled: true}
}

func param(name string, typ ParameterType, current any) Parameter {
	return Parameter{Name: name, Type: typ, CurrentValue: current, Visible: true, Enabled: true}
}

// MaxAudioTracks is the number of audio tracks a recording can carry
const MaxAudioTracks = 6

// DefaultSettings returns a fresh settings tree. encoders lists the
// recording encoders the backend can instantiate.
func DefaultSettings(encoders []string, recordingPath string) map[string][]SubCategory {
	encoderOptions := append([]string{EncoderNone}, encoders...)
	defaultEncoder := EncoderNone
	if len(encoders) > 0 {
		defaultEncoder = encoders[0]
	}

	tracks := make([]SubCategory, 0, MaxAudioTracks)
	for i := 1; i <= MaxAudioTracks; i++ {
		tracks = append(tracks, SubCategory{
			NameSubCategory: fmt.Sprintf("Audio - Track %d", i),
			Parameters: []Parameter{
				param(fmt.Sprintf("Track%dName", i), ParamText, ""),
				list(fmt.Sprintf("Track%dBitrate", i), "160", "96", "128", "160", "192", "256", "320"),
			},
		})
	}

	output := []SubCategory{
		{
			NameSubCategory: "Untitled",
			Parameters: []Parameter{
				list("Mode", "Simple", "Simple", "Advanced"),
			},
		},
		{
			NameSubCategory: "Recording",
			Parameters: []Parameter{
				list("RecType", "Standard", "Standard"),
				param("RecFilePath", ParamPath, recordingPath),
				list("RecFormat", "mkv", "flv", "mp4", "mov", "mkv", "ts"),
				param("RecTracks", ParamBitmask, int64(1)),
				list("RecEncoder", defaultEncoder, encoderOptions...),
				list("Recrate_control", "CRF", "CBR", "VBR", "CRF", "CQP", "ABR"),
				param("Reccrf", ParamInt, int64(23)),
				param("Reccqp", ParamInt, int64(20)),
				list("Recprofile", "high", "baseline", "main", "high"),
				list("Recpreset", "veryfast",
					"ultrafast", "superfast", "veryfast", "faster", "fast", "medium", "slow", "slower", "veryslow",
					"default", "mq", "hq", "hp", "llhq", "llhp", "ll", "lossless"),
				list("Rectune", "none", "none", "film", "animation", "grain", "stillimage", "psnr", "ssim", "fastdecode", "zerolatency"),
				param("Reclookahead", ParamBool, false),
			},
		},
	}
	output = append(output, tracks...)

	return map[string][]SubCategory{
		CategoryGeneral: {
			{
				NameSubCategory: "General",
				Parameters: []Parameter{
					list("Language", "en-US", "en-US"),
				},
			},
		},
		CategoryOutput: output,
		CategoryVideo: {
			{
				NameSubCategory: "Untitled",
				Parameters: []Parameter{
					param("Base", ParamText, "1920x1080"),
					param("Output", ParamText, "1920x1080"),
					list("ScaleType", "bicubic", "bilinear", "bicubic", "lanczos"),
					list("FPSType", "Common FPS Values", "Common FPS Values", "Integer FPS Value", "Fractional FPS Value"),
					list("FPSCommon", "30", "10", "20", "24 NTSC", "29.97", "30", "48", "59.94", "60"),
					param("FPSInt", ParamUInt, int64(30)),
					param("FPSNum", ParamUInt, int64(30)),
					param("FPSDen", ParamUInt, int64(1)),
				},
			},
		},
		CategoryAudio: {
			{
				NameSubCategory: "Untitled",
				Parameters: []Parameter{
					list("SampleRate", "48khz", "44.1khz", "48khz"),
					list("ChannelSetup", "Stereo", "Mono", "Stereo"),
				},
			},
		},
		CategoryAdvanced: {
			{
				NameSubCategory: "Video",
				Parameters: []Parameter{
					list("ColorFormat", "NV12", "NV12", "I420", "I444", "RGB"),
					list("ColorSpace", "709", "601", "709", "sRGB"),
					list("ColorRange", "Partial", "Partial", "Full"),
				},
			},
		},
	}
}

// LookupParameter finds a parameter by exact names in a category snapshot
func LookupParameter(data []SubCategory, subCategory, parameter string) (Parameter, bool) {
	for _, sub := range data {
		if sub.NameSubCategory != subCategory {
			continue
		}
		for _, p := range sub.Parameters {
			if p.Name == parameter {
				return p, true
			}
		}
	}
	return Parameter{}, false
}

// IntValue converts a stored parameter value to int64
func IntValue(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float32:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}
