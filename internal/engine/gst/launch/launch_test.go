package launch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func samplePlan() Plan {
	return Plan{
		DisplayName: ":0",
		Video: Video{
			BaseWidth: 3840, BaseHeight: 1080,
			OutputWidth: 1920, OutputHeight: 540,
			FPSNum: 30, FPSDen: 1,
			Format: "NV12", Colorimetry: "bt709",
		},
		Inputs: []Input{
			{Kind: InputScreen, Pad: 1, Capture: Rect{1920, 0, 1920, 1080}, ShowPointer: true,
				Placement: Rect{1920, 0, 1920, 1080}, Alpha: 1},
			{Kind: InputScreen, Pad: 0, Capture: Rect{0, 0, 1920, 1080}, ShowPointer: true,
				Placement: Rect{0, 0, 1920, 1080}, Alpha: 1},
			{Kind: InputImage, Pad: 2, File: "/data/click marker.png", Placement: Rect{10, 20, 32, 32}},
		},
		Audio: []AudioInput{
			{Name: "audio_spk", Device: "out.monitor", Mixers: 1 | 1<<1},
			{Name: "audio_mic", Mixers: 1 | 1<<2},
		},
		Tracks:   []Track{{Index: 1, Bitrate: 160}, {Index: 2, Bitrate: 128}, {Index: 3, Bitrate: 96}},
		Encoder:  Encoder{Element: "x264enc", Props: []Prop{{"speed-preset", "veryfast"}}, Caps: "video/x-h264,profile=high", Parser: "h264parse"},
		Muxer:    "mp4mux",
		Location: "/videos/2026-01-01 10-00-00.mp4",
	}
}

func TestPlanString(t *testing.T) {
	s := samplePlan().String()

	for _, want := range []string{
		"compositor name=vmix background=black",
		"sink_0::xpos=0 sink_0::ypos=0 sink_0::width=1920 sink_0::height=1080 sink_0::alpha=1",
		"sink_1::xpos=1920",
		"sink_2::alpha=0",
		"! video/x-raw,width=3840,height=1080,framerate=30/1",
		"! videoscale ! video/x-raw,width=1920,height=540",
		"! videoconvert ! video/x-raw,format=NV12,colorimetry=bt709",
		"! x264enc speed-preset=veryfast ! video/x-h264,profile=high ! h264parse ! queue ! mux.",
		`mp4mux name=mux ! filesink location="/videos/2026-01-01 10-00-00.mp4"`,
		`ximagesrc display-name=":0" startx=1920 starty=0 endx=3839 endy=1079 use-damage=false show-pointer=true`,
		`filesrc location="/data/click marker.png" ! decodebin ! imagefreeze is-live=true`,
		"queue ! vmix.sink_2",
		"audiomixer name=amix_1 ! audioconvert ! audioresample ! avenc_aac bitrate=160000 ! queue ! mux.",
		"avenc_aac bitrate=96000",
		`pulsesrc device="out.monitor" ! audioconvert ! audioresample ! tee name=atee_0`,
		"atee_0. ! queue ! amix_1.",
		"atee_0. ! queue ! amix_2.",
		"pulsesrc ! audioconvert ! audioresample ! tee name=atee_1",
		"atee_1. ! queue ! amix_3.",
	} {
		assert.Contains(t, s, want)
	}
	assert.NotContains(t, s, "audiotestsrc", "every track has a device")
	assert.Less(t, strings.Index(s, "sink_0::"), strings.Index(s, "sink_1::"), "pads are ordered")
}

func TestSilentMixedTrackWithoutDevices(t *testing.T) {
	p := samplePlan()
	p.Audio = nil
	p.Tracks = []Track{{Index: 1, Bitrate: 160}}

	s := p.String()
	assert.Contains(t, s, "audiotestsrc wave=silence is-live=true ! amix_1.")
	assert.NotContains(t, s, "pulsesrc")
}

func TestVolmeterString(t *testing.T) {
	assert.Equal(t,
		`pulsesrc device="mic" ! audioconvert ! level name=level interval=50000000 post-messages=true ! fakesink sync=false`,
		VolmeterString("mic", 50_000_000))
	assert.True(t, strings.HasPrefix(VolmeterString("", 1), "pulsesrc ! "))
}

func TestQuoteEscapes(t *testing.T) {
	assert.Equal(t, `"a \"b\" \\c"`, quote(`a "b" \c`))
}
