package host

import (
	"fmt"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xinerama"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/CaptureExpress/internal/logger"
)

// X11 reads displays through Xinerama and the pointer through QueryPointer
type X11 struct {
	conn     *xgb.Conn
	screen   *xproto.ScreenInfo
	root     xproto.Window
	xinerama bool
	mu       sync.Mutex
}

// NewX11 connects to the X server named by $DISPLAY
func NewX11() (*X11, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	h := &X11{
		conn:   conn,
		screen: screen,
		root:   screen.Root,
	}

	if err := xinerama.Init(conn); err != nil {
		logger.WithComponent("host").Warn().
			Err(err).
			Msg("Xinerama unavailable, treating the root window as a single display")
	} else if reply, err := xinerama.IsActive(conn).Reply(); err == nil && reply.State != 0 {
		h.xinerama = true
	}

	logger.WithComponent("host").Info().
		Int("width", int(screen.WidthInPixels)).
		Int("height", int(screen.HeightInPixels)).
		Bool("xinerama", h.xinerama).
		Msg("Connected to X server")
	return h, nil
}

// Close closes the X connection
func (h *X11) Close() error {
	h.conn.Close()
	return nil
}

// dpi derives the physical DPI of the root screen
func (h *X11) dpi() float64 {
	if h.screen.WidthInMillimeters == 0 {
		return DefaultDPI
	}
	return float64(h.screen.WidthInPixels) * 25.4 / float64(h.screen.WidthInMillimeters)
}

// Displays lists the Xinerama heads in server order
func (h *X11) Displays() ([]Display, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	dpi := h.dpi()
	if !h.xinerama {
		return []Display{{
			Index:  0,
			Bounds: Rect{Width: int(h.screen.WidthInPixels), Height: int(h.screen.HeightInPixels)},
			DPI:    dpi,
		}}, nil
	}

	reply, err := xinerama.QueryScreens(h.conn).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to query xinerama screens: %w", err)
	}
	if len(reply.ScreenInfo) == 0 {
		return nil, ErrNoDisplay
	}

	displays := make([]Display, len(reply.ScreenInfo))
	for i, s := range reply.ScreenInfo {
		displays[i] = Display{
			Index: i,
			Bounds: Rect{
				X:      int(s.XOrg),
				Y:      int(s.YOrg),
				Width:  int(s.Width),
				Height: int(s.Height),
			},
			DPI: dpi,
		}
	}
	return displays, nil
}

// Mouse samples the pointer position and button mask
func (h *X11) Mouse() (MouseState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	reply, err := xproto.QueryPointer(h.conn, h.root).Reply()
	if err != nil {
		return MouseState{}, fmt.Errorf("failed to query pointer: %w", err)
	}
	return MouseState{
		X:          int(reply.RootX),
		Y:          int(reply.RootY),
		LeftDown:   reply.Mask&xproto.KeyButMaskButton1 != 0,
		MiddleDown: reply.Mask&xproto.KeyButMaskButton2 != 0,
		RightDown:  reply.Mask&xproto.KeyButMaskButton3 != 0,
	}, nil
}
