package commands

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bryanchriswhite/CaptureExpress/internal/host"
	"github.com/bryanchriswhite/CaptureExpress/internal/recorder"
	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Start or stop a recording",
}

var recordStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start recording a region",
	Long: `Start recording a desktop region. The command returns once the engine
has confirmed the recording started.`,
	Example: `  # Record the left 1920x1080 display into ~/Videos
  captureexpress record start --region 0,0,1920,1080 --output ~/Videos

  # Record with default speakers and a specific microphone, highlight clicks
  captureexpress record start --region 0,0,2560,1440 --output /tmp \
    --speaker default --microphone alsa_input.usb-mic --clicks`,
	Args: cobra.NoArgs,
	RunE: runRecordStart,
}

var recordStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the active recording",
	Args:  cobra.NoArgs,
	RunE:  runRecordStop,
}

var (
	recRegion      string
	recOutput      string
	recSpeakers    []string
	recMicrophones []string
	recFPS         int
	recCQ          int
	recHardware    bool
	recPerformance string
	recSubsampling string
	recContainer   string
	recMaxWidth    int
	recMaxHeight   int
	recClicks      bool
)

func init() {
	rootCmd.AddCommand(recordCmd)
	recordCmd.AddCommand(recordStartCmd)
	recordCmd.AddCommand(recordStopCmd)

	f := recordStartCmd.Flags()
	f.StringVarP(&recRegion, "region", "r", "", "capture region as x,y,width,height (required)")
	f.StringVarP(&recOutput, "output", "o", "", "existing output directory (required)")
	f.StringSliceVar(&recSpeakers, "speaker", nil, "speaker device id, repeatable")
	f.StringSliceVar(&recMicrophones, "microphone", nil, "microphone device id, repeatable")
	f.IntVar(&recFPS, "fps", recorder.DefaultFPS, "frames per second")
	f.IntVar(&recCQ, "cq", recorder.DefaultCQ, "constant quality, lower is better")
	f.BoolVar(&recHardware, "hw", false, "use the hardware encoder")
	f.StringVar(&recPerformance, "performance", string(recorder.PerformanceMedium), "slow, medium or fast")
	f.StringVar(&recSubsampling, "subsampling", string(recorder.Subsampling420), "yuv420 or yuv444")
	f.StringVar(&recContainer, "container", string(recorder.ContainerMP4), "mp4 or mkv")
	f.IntVar(&recMaxWidth, "max-width", 0, "maximum output width, 0 keeps the region width")
	f.IntVar(&recMaxHeight, "max-height", 0, "maximum output height, 0 keeps the region height")
	f.BoolVar(&recClicks, "clicks", false, "highlight mouse clicks")
	_ = recordStartCmd.MarkFlagRequired("region")
	_ = recordStartCmd.MarkFlagRequired("output")
}

func parseRegion(s string) (host.Rect, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return host.Rect{}, fmt.Errorf("invalid region %q (use x,y,width,height)", s)
	}
	var n [4]int
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return host.Rect{}, fmt.Errorf("invalid region %q: %w", s, err)
		}
		n[i] = v
	}
	return host.Rect{X: n[0], Y: n[1], Width: n[2], Height: n[3]}, nil
}

func runRecordStart(cmd *cobra.Command, args []string) error {
	region, err := parseRegion(recRegion)
	if err != nil {
		return err
	}
	// the server resolves the directory, so send it absolute
	output, err := filepath.Abs(recOutput)
	if err != nil {
		return err
	}

	req := recorder.NewRequest(region, output)
	req.Speakers = append(req.Speakers, recSpeakers...)
	req.Microphones = append(req.Microphones, recMicrophones...)
	req.FPS = recFPS
	req.CQ = recCQ
	req.HardwareAccelerated = recHardware
	req.PerformanceMode = recorder.PerformanceMode(recPerformance)
	req.SubsamplingMode = recorder.SubsamplingMode(recSubsampling)
	req.ContainerFormat = recorder.ContainerFormat(recContainer)
	req.MaxOutputWidth = recMaxWidth
	req.MaxOutputHeight = recMaxHeight
	req.TrackMouseClicks = recClicks

	c, err := newClient()
	if err != nil {
		return err
	}
	if err := c.StartRecording(cmd.Context(), req); err != nil {
		return err
	}
	fmt.Printf("Recording %dx%d at %d,%d into %s\n", region.Width, region.Height, region.X, region.Y, output)
	return nil
}

func runRecordStop(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	if err := c.StopRecording(cmd.Context()); err != nil {
		return err
	}
	fmt.Println("Recording stopped")
	return nil
}
