// Package launch renders recording plans into gst-launch pipeline
// descriptions and parses the text GStreamer hands back. It has no cgo
// dependency so it can be tested without GStreamer installed.
package launch

import (
	"fmt"
	"sort"
	"strings"
)

// Rect is a region in virtual-desktop pixels
type Rect struct {
	X, Y, Width, Height int
}

// InputKind selects how a compositor input is produced
type InputKind int

const (
	InputScreen InputKind = iota
	InputImage
)

// Input is one compositor layer
type Input struct {
	Kind InputKind
	// Pad is the compositor sink pad index, unique per plan
	Pad int
	// Capture is the screen area grabbed by a screen input
	Capture     Rect
	ShowPointer bool
	// File is the image shown by an image input
	File string
	// Placement is the layer position and size on the canvas
	Placement Rect
	Alpha     float64
}

// AudioInput is one capture device
type AudioInput struct {
	Name string
	// Device is the pulse source name; empty uses the server default
	Device string
	// Mixers is the track bitmask, bit 0 is track 1
	Mixers uint32
}

// Track is an encoded audio stream in the container
type Track struct {
	Index int
	// Bitrate in kbit/s
	Bitrate int
}

// Video describes the composed canvas and the encoded frames
type Video struct {
	BaseWidth, BaseHeight     int
	OutputWidth, OutputHeight int
	FPSNum, FPSDen            int
	// Format is a GStreamer raw video format such as NV12 or Y444
	Format      string
	Colorimetry string
}

// Prop is an element property in launch syntax
type Prop struct {
	Name  string
	Value string
}

// Encoder is the video encoder element and its downstream caps
type Encoder struct {
	Element string
	Props   []Prop
	Caps    string
	Parser  string
}

// Plan is everything needed to describe a recording pipeline
type Plan struct {
	DisplayName string
	Video       Video
	Inputs      []Input
	Audio       []AudioInput
	Tracks      []Track
	Encoder     Encoder
	Muxer       string
	Location    string
}

// Element names the engine looks up at runtime
const (
	CompositorName = "vmix"
	MuxerName      = "mux"
)

// String renders the plan as a gst-launch description
func (p Plan) String() string {
	var b strings.Builder
	w := func(format string, args ...any) {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, format, args...)
	}

	v := p.Video
	framerate := fmt.Sprintf("%d/%d", v.FPSNum, v.FPSDen)

	// compositor and encode chain
	w("compositor name=%s background=black", CompositorName)
	for _, in := range sortedInputs(p.Inputs) {
		prefix := fmt.Sprintf("sink_%d::", in.Pad)
		w("%sxpos=%d %sypos=%d %swidth=%d %sheight=%d %salpha=%s",
			prefix, in.Placement.X, prefix, in.Placement.Y,
			prefix, in.Placement.Width, prefix, in.Placement.Height,
			prefix, formatFloat(in.Alpha))
	}
	w("! video/x-raw,width=%d,height=%d,framerate=%s", v.BaseWidth, v.BaseHeight, framerate)
	w("! videoscale ! video/x-raw,width=%d,height=%d", v.OutputWidth, v.OutputHeight)
	caps := "video/x-raw,format=" + v.Format
	if v.Colorimetry != "" {
		caps += ",colorimetry=" + v.Colorimetry
	}
	w("! videoconvert ! %s", caps)
	w("! %s", element(p.Encoder.Element, p.Encoder.Props))
	if p.Encoder.Caps != "" {
		w("! %s", p.Encoder.Caps)
	}
	if p.Encoder.Parser != "" {
		w("! %s", p.Encoder.Parser)
	}
	w("! queue ! %s.", MuxerName)

	w("%s name=%s ! filesink location=%s", p.Muxer, MuxerName, quote(p.Location))

	// layers
	for _, in := range sortedInputs(p.Inputs) {
		switch in.Kind {
		case InputScreen:
			c := in.Capture
			src := []Prop{
				{"startx", fmt.Sprint(c.X)},
				{"starty", fmt.Sprint(c.Y)},
				{"endx", fmt.Sprint(c.X + c.Width - 1)},
				{"endy", fmt.Sprint(c.Y + c.Height - 1)},
				{"use-damage", "false"},
				{"show-pointer", fmt.Sprint(in.ShowPointer)},
			}
			if p.DisplayName != "" {
				src = append([]Prop{{"display-name", quote(p.DisplayName)}}, src...)
			}
			w("%s ! video/x-raw,framerate=%s", element("ximagesrc", src), framerate)
		case InputImage:
			w("filesrc location=%s ! decodebin ! imagefreeze is-live=true ! video/x-raw,framerate=%s", quote(in.File), framerate)
		}
		w("! videoconvert ! queue ! %s.sink_%d", CompositorName, in.Pad)
	}

	// audio tracks, each with its own mixer
	tracks := append([]Track(nil), p.Tracks...)
	sort.Slice(tracks, func(i, j int) bool { return tracks[i].Index < tracks[j].Index })
	for _, t := range tracks {
		w("audiomixer name=amix_%d ! audioconvert ! audioresample ! avenc_aac bitrate=%d ! queue ! %s.", t.Index, t.Bitrate*1000, MuxerName)
		if !anyFeeds(p.Audio, t.Index) {
			w("audiotestsrc wave=silence is-live=true ! amix_%d.", t.Index)
		}
	}
	for i, a := range p.Audio {
		feeds := feedsOf(a, tracks)
		if len(feeds) == 0 {
			continue
		}
		var src []Prop
		if a.Device != "" {
			src = append(src, Prop{"device", quote(a.Device)})
		}
		w("%s ! audioconvert ! audioresample ! tee name=atee_%d", element("pulsesrc", src), i)
		for _, t := range feeds {
			w("atee_%d. ! queue ! amix_%d.", i, t)
		}
	}
	return b.String()
}

// VolmeterString describes a level-metering pipeline for one device
func VolmeterString(device string, intervalNS int64) string {
	var src []Prop
	if device != "" {
		src = append(src, Prop{"device", quote(device)})
	}
	return fmt.Sprintf("%s ! audioconvert ! level name=level interval=%d post-messages=true ! fakesink sync=false",
		element("pulsesrc", src), intervalNS)
}

func sortedInputs(inputs []Input) []Input {
	out := append([]Input(nil), inputs...)
	sort.Slice(out, func(i, j int) bool { return out[i].Pad < out[j].Pad })
	return out
}

func anyFeeds(audio []AudioInput, track int) bool {
	for _, a := range audio {
		if a.Mixers&(1<<(track-1)) != 0 {
			return true
		}
	}
	return false
}

func feedsOf(a AudioInput, tracks []Track) []int {
	var out []int
	for _, t := range tracks {
		if a.Mixers&(1<<(t.Index-1)) != 0 {
			out = append(out, t.Index)
		}
	}
	return out
}

func element(name string, props []Prop) string {
	var b strings.Builder
	b.WriteString(name)
	for _, p := range props {
		fmt.Fprintf(&b, " %s=%s", p.Name, p.Value)
	}
	return b.String()
}

func formatFloat(f float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.3f", f), "0"), ".")
}

// quote wraps a value for the launch parser
func quote(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}
