package launch

import (
	"fmt"
	"strconv"
	"strings"
)

// Values is a settings category projected to subcategory -> parameter -> value
type Values map[string]map[string]any

func (v Values) str(sub, param, def string) string {
	if s, ok := v[sub][param].(string); ok && s != "" {
		return s
	}
	return def
}

func (v Values) int(sub, param string, def int) int {
	switch n := v[sub][param].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i
		}
	}
	return def
}

func (v Values) bool(sub, param string) bool {
	b, _ := v[sub][param].(bool)
	return b
}

// Muxers maps RecFormat to a muxer element
var Muxers = map[string]string{
	"mp4": "mp4mux",
	"mkv": "matroskamux",
	"mov": "qtmux",
	"flv": "flvmux",
	"ts":  "mpegtsmux",
}

// EncoderElements maps RecEncoder to the element that must be installed
var EncoderElements = map[string]string{
	"x264":  "x264enc",
	"nvenc": "nvh264enc",
}

var nvencPresets = map[string]string{
	"default":  "default",
	"mq":       "hq",
	"hq":       "hq",
	"hp":       "hp",
	"ll":       "low-latency",
	"llhq":     "low-latency-hq",
	"llhp":     "low-latency-hp",
	"lossless": "lossless",
}

// EncoderFor maps Output/Recording settings to an encoder. format is the
// raw video format fed to the encoder.
func EncoderFor(output Values, format string, fps int) (Encoder, error) {
	const sub = "Recording"
	name := output.str(sub, "RecEncoder", "x264")
	profile := output.str(sub, "Recprofile", "high")
	if format == "Y444" {
		profile = "high-4:4:4"
	}
	caps := "video/x-h264,profile=" + profile

	switch name {
	case "x264":
		enc := Encoder{Element: "x264enc", Caps: caps, Parser: "h264parse"}
		if output.str(sub, "Recrate_control", "CRF") == "CRF" {
			enc.Props = append(enc.Props,
				Prop{"pass", "qual"},
				Prop{"quantizer", fmt.Sprint(output.int(sub, "Reccrf", 23))})
		}
		enc.Props = append(enc.Props, Prop{"speed-preset", output.str(sub, "Recpreset", "veryfast")})
		switch tune := output.str(sub, "Rectune", "none"); tune {
		case "zerolatency", "fastdecode", "stillimage":
			enc.Props = append(enc.Props, Prop{"tune", tune})
		case "film", "animation", "grain", "psnr", "ssim":
			enc.Props = append(enc.Props, Prop{"psy-tune", tune})
		}
		if fps > 0 {
			enc.Props = append(enc.Props, Prop{"key-int-max", fmt.Sprint(fps * 2)})
		}
		return enc, nil
	case "nvenc":
		preset, ok := nvencPresets[output.str(sub, "Recpreset", "default")]
		if !ok {
			preset = "default"
		}
		enc := Encoder{Element: "nvh264enc", Caps: caps, Parser: "h264parse"}
		if output.str(sub, "Recrate_control", "CQP") == "CQP" {
			enc.Props = append(enc.Props,
				Prop{"rc-mode", "constqp"},
				Prop{"qp-const", fmt.Sprint(output.int(sub, "Reccqp", 20))})
		}
		enc.Props = append(enc.Props, Prop{"preset", preset})
		if output.bool(sub, "Reclookahead") {
			enc.Props = append(enc.Props, Prop{"rc-lookahead", "32"})
		}
		return enc, nil
	default:
		return Encoder{}, fmt.Errorf("unsupported recording encoder %q", name)
	}
}

// RawFormat maps Advanced/Video/ColorFormat to a GStreamer format
func RawFormat(colorFormat string) string {
	switch strings.ToUpper(colorFormat) {
	case "I420":
		return "I420"
	case "I444":
		return "Y444"
	case "RGB":
		return "BGRx"
	default:
		return "NV12"
	}
}

// Colorimetry maps ColorSpace and ColorRange to a caps colorimetry string
func Colorimetry(space, rng string) string {
	full := strings.EqualFold(rng, "Full")
	switch space {
	case "601":
		if full {
			return "1:4:5:4"
		}
		return "bt601"
	case "sRGB":
		return "sRGB"
	default:
		if full {
			return "1:3:5:1"
		}
		return "bt709"
	}
}

// ParseResolution reads "WxH"
func ParseResolution(s string) (int, int, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid resolution %q", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return 0, 0, fmt.Errorf("invalid resolution %q", s)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return 0, 0, fmt.Errorf("invalid resolution %q", s)
	}
	return width, height, nil
}

// VideoFor maps Video and Advanced settings to the canvas description
func VideoFor(video, advanced Values) (Video, error) {
	const sub = "Untitled"
	bw, bh, err := ParseResolution(video.str(sub, "Base", "1920x1080"))
	if err != nil {
		return Video{}, fmt.Errorf("base resolution: %w", err)
	}
	ow, oh, err := ParseResolution(video.str(sub, "Output", "1920x1080"))
	if err != nil {
		return Video{}, fmt.Errorf("output resolution: %w", err)
	}

	num, den := 30, 1
	switch video.str(sub, "FPSType", "") {
	case "Fractional FPS Value":
		num, den = video.int(sub, "FPSNum", 30), video.int(sub, "FPSDen", 1)
	case "Integer FPS Value":
		num = video.int(sub, "FPSInt", 30)
	default:
		num, den = commonFPS(video.str(sub, "FPSCommon", "30"))
	}
	if num <= 0 || den <= 0 {
		return Video{}, fmt.Errorf("invalid frame rate %d/%d", num, den)
	}

	format := RawFormat(advanced.str("Video", "ColorFormat", "NV12"))
	return Video{
		BaseWidth: bw, BaseHeight: bh,
		OutputWidth: ow, OutputHeight: oh,
		FPSNum: num, FPSDen: den,
		Format:      format,
		Colorimetry: Colorimetry(advanced.str("Video", "ColorSpace", "709"), advanced.str("Video", "ColorRange", "Partial")),
	}, nil
}

func commonFPS(s string) (int, int) {
	switch s {
	case "24 NTSC":
		return 24000, 1001
	case "29.97":
		return 30000, 1001
	case "59.94":
		return 60000, 1001
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, 1
	}
	return 30, 1
}

// TracksFor returns the tracks enabled by RecTracks with their bitrates
func TracksFor(output Values, maxTracks int) []Track {
	mask := output.int("Recording", "RecTracks", 1)
	var tracks []Track
	for i := 1; i <= maxTracks; i++ {
		if mask&(1<<(i-1)) == 0 {
			continue
		}
		sub := fmt.Sprintf("Audio - Track %d", i)
		bitrate := output.int(sub, fmt.Sprintf("Track%dBitrate", i), 160)
		tracks = append(tracks, Track{Index: i, Bitrate: bitrate})
	}
	return tracks
}
