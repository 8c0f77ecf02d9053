package recorder

import (
	"fmt"
	"slices"

	"github.com/bryanchriswhite/CaptureExpress/internal/engine"
	"github.com/bryanchriswhite/CaptureExpress/internal/settings"
)

// Settings locations written while configuring a session
const (
	subUntitled  = "Untitled"
	subRecording = "Recording"
	subVideo     = "Video"

	mixedTrackName = "Mixed: all sources"
)

// selectEncoder picks the hardware encoder only when asked for and installed
func selectEncoder(hardware bool, available []string) string {
	if hardware && slices.Contains(available, engine.EncoderNVENC) {
		return engine.EncoderNVENC
	}
	return engine.EncoderX264
}

// encoderSettings maps a performance mode and quality onto the encoder's own
// rate control and preset vocabulary.
func encoderSettings(encoder string, mode PerformanceMode, cq int) map[string]any {
	s := map[string]any{
		"RecEncoder": encoder,
		"Recprofile": "high",
	}
	switch encoder {
	case engine.EncoderNVENC:
		s["Recrate_control"] = "CQP"
		s["Reccqp"] = cq
		switch mode {
		case PerformanceSlow:
			s["Recpreset"], s["Reclookahead"] = "mq", true
		case PerformanceFast:
			s["Recpreset"], s["Reclookahead"] = "llhq", false
		default:
			s["Recpreset"], s["Reclookahead"] = "default", false
		}
	default:
		s["Recrate_control"] = "CRF"
		s["Reccrf"] = cq
		switch mode {
		case PerformanceSlow:
			s["Recpreset"], s["Rectune"] = "slow", "psnr"
		case PerformanceFast:
			s["Recpreset"], s["Rectune"] = "veryfast", "zerolatency"
		default:
			s["Recpreset"], s["Rectune"] = "medium", "zerolatency"
		}
	}
	return s
}

// colorSettings selects pixel format, color space and range
func colorSettings(mode SubsamplingMode, output Size) map[string]any {
	if mode == Subsampling444 {
		return map[string]any{"ColorFormat": "I444", "ColorSpace": "709", "ColorRange": "Full"}
	}
	space := "601"
	if exceedsHD(output) {
		space = "709"
	}
	return map[string]any{"ColorFormat": "NV12", "ColorSpace": space, "ColorRange": "Partial"}
}

// plan is every settings write a session needs before its scene is built
type plan struct {
	encoder string
	output  Size
	writes  map[string]settings.Updates
}

// planSettings computes the settings writes for req without touching the engine
func planSettings(req Request, availableEncoders []string) plan {
	encoder := selectEncoder(req.HardwareAccelerated, availableEncoders)
	output := OutputSize(req.Region.Width, req.Region.Height, req.MaxOutputWidth, req.MaxOutputHeight)

	recording := encoderSettings(encoder, req.PerformanceMode, req.CQ)
	recording["RecFormat"] = string(req.ContainerFormat)
	recording["RecFilePath"] = req.OutputDirectory

	return plan{
		encoder: encoder,
		output:  output,
		writes: map[string]settings.Updates{
			engine.CategoryOutput: {
				subUntitled:  {"Mode": "Advanced"},
				subRecording: recording,
			},
			engine.CategoryVideo: {
				subUntitled: {
					"FPSType": "Fractional FPS Value",
					"FPSNum":  req.FPS,
					"FPSDen":  1,
					"Base":    resolution(Size{Width: req.Region.Width, Height: req.Region.Height}),
					"Output":  resolution(output),
				},
			},
			engine.CategoryAdvanced: {
				subVideo: colorSettings(req.SubsamplingMode, output),
			},
		},
	}
}

// trackSubCategory names the settings subcategory of an audio track
func trackSubCategory(track int) string {
	return fmt.Sprintf("Audio - Track %d", track)
}

func trackNameParameter(track int) string {
	return fmt.Sprintf("Track%dName", track)
}

// trackMixers routes a source to the mixed track and its own track
func trackMixers(track int) uint32 {
	return 1 | 1<<(track-1)
}

// recordingTracks enables tracks 1 through lastTrack
func recordingTracks(lastTrack int) int {
	return 1<<lastTrack - 1
}

func resolution(s Size) string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}
