// Package api exposes the recorder over a local HTTP control surface.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bryanchriswhite/CaptureExpress/internal/devices"
	"github.com/bryanchriswhite/CaptureExpress/internal/engine"
	"github.com/bryanchriswhite/CaptureExpress/internal/history"
	"github.com/bryanchriswhite/CaptureExpress/internal/logger"
	"github.com/bryanchriswhite/CaptureExpress/internal/recorder"
	"github.com/bryanchriswhite/CaptureExpress/internal/settings"
)

const maxBodyBytes = 1 << 20

// DeviceLister enumerates audio devices
type DeviceLister interface {
	ListAudioDevices(kind devices.Kind) ([]devices.Device, error)
}

// HistoryLister reads the session journal
type HistoryLister interface {
	List(ctx context.Context, limit int) ([]history.Entry, error)
}

// Deps wires the server to the rest of the service
type Deps struct {
	Recorder *recorder.Recorder
	Devices  DeviceLister
	// Volmeter serves the live meter websocket
	Volmeter http.Handler
	// History may be nil when the journal is disabled
	History HistoryLister
	// Shutdown is called once after /shutdown has been answered
	Shutdown func()
}

// Server represents the HTTP API server
type Server struct {
	router  *mux.Router
	handler http.Handler
	deps    Deps
}

// Route describes a registered endpoint
type Route struct {
	Route   string   `json:"route"`
	Methods []string `json:"methods"`
}

type statusResponse struct {
	Result string `json:"status"`
	recorder.Status
}

// NewServer creates a new API server
func NewServer(deps Deps) *Server {
	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
	}
	s.setupRoutes()
	s.handler = s.logRequests(s.enableCORS(s.router))
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/", s.handleRoutes).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	s.router.HandleFunc("/audio/{kind}", s.handleAudioDevices).Methods(http.MethodGet)

	s.router.HandleFunc("/settings/{category}", s.handleGetSettings).Methods(http.MethodGet)
	s.router.HandleFunc("/settings/{category}", s.handleUpdateSettings).Methods(http.MethodPost)

	s.router.HandleFunc("/recording/start", s.handleRecordingStart).Methods(http.MethodPost)
	s.router.HandleFunc("/recording/stop", s.handleRecordingStop).Methods(http.MethodPost)
	s.router.HandleFunc("/recordings", s.handleRecordings).Methods(http.MethodGet)

	s.router.HandleFunc("/shutdown", s.handleShutdown).Methods(http.MethodPost)

	if s.deps.Volmeter != nil {
		s.router.Handle("/volmeter", s.deps.Volmeter).Methods(http.MethodGet)
	}
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path))
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed on %s", r.Method, r.URL.Path))
	})
}

// ServeHTTP makes Server an http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusWriter records the response code. Hijack is passed through for the
// volmeter websocket.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.code = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// logRequests logs every request at debug level once it completes
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)
		logger.WithComponent("api").Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("code", sw.code).
			Dur("elapsed", time.Since(start)).
			Msg("Request handled")
	})
}

// Routes lists the registered endpoints
func (s *Server) Routes() []Route {
	byPath := map[string][]string{}
	order := []string{}
	_ = s.router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		path, err := route.GetPathTemplate()
		if err != nil {
			return nil
		}
		methods, _ := route.GetMethods()
		if _, seen := byPath[path]; !seen {
			order = append(order, path)
		}
		byPath[path] = append(byPath[path], methods...)
		return nil
	})

	routes := make([]Route, 0, len(order))
	for _, path := range order {
		methods := byPath[path]
		sort.Strings(methods)
		routes = append(routes, Route{Route: path, Methods: methods})
	}
	return routes
}

// NewHTTPServer wraps the handler with listen timeouts
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "routes": s.Routes()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Result: "ok", Status: s.deps.Recorder.Status()})
}

func (s *Server) handleAudioDevices(w http.ResponseWriter, r *http.Request) {
	kind, err := devices.ParseKind(mux.Vars(r)["kind"])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if !s.deps.Recorder.Initialized() {
		writeFailure(w, recorder.ErrNotInitialized)
		return
	}

	list, err := s.deps.Devices.ListAudioDevices(kind)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if list == nil {
		list = []devices.Device{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	category := mux.Vars(r)["category"]
	detailed := strings.EqualFold(r.URL.Query().Get("detailed"), "true")
	if !s.deps.Recorder.Initialized() {
		writeFailure(w, recorder.ErrNotInitialized)
		return
	}

	adapter := s.deps.Recorder.Settings()
	var (
		body any
		err  error
	)
	if detailed {
		body, err = adapter.Get(category)
	} else {
		body, err = adapter.GetCompact(category)
	}
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "category": category, "settings": body})
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	category := mux.Vars(r)["category"]
	if !s.deps.Recorder.Initialized() {
		writeFailure(w, recorder.ErrNotInitialized)
		return
	}

	var updates settings.Updates
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&updates); err != nil {
		writeError(w, http.StatusBadRequest, "settings body must map subcategory -> parameter -> value: "+err.Error())
		return
	}
	if len(updates) == 0 {
		writeError(w, http.StatusBadRequest, "settings body is empty")
		return
	}

	if err := s.deps.Recorder.Settings().SetMany(category, updates); err != nil {
		writeFailure(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read request body: "+err.Error())
		return
	}
	req, err := recorder.ParseRequest(body)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if err := s.deps.Recorder.Start(r.Context(), req); err != nil {
		writeFailure(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Recorder.Stop(r.Context()); err != nil {
		writeFailure(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, http.StatusNotFound, "recording history is disabled")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := s.deps.History.List(r.Context(), limit)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "recordings": entries})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	logger.WithComponent("api").Info().Msg("Shutdown requested")
	writeOK(w)
	if s.deps.Shutdown != nil {
		go s.deps.Shutdown()
	}
}

// StatusCode maps a service error to its HTTP status
func StatusCode(err error) int {
	switch {
	case errors.Is(err, recorder.ErrInvalidRequest), settings.IsSettingsError(err):
		return http.StatusBadRequest
	case errors.Is(err, recorder.ErrNotInitialized), errors.Is(err, engine.ErrNotInitialized):
		return http.StatusConflict
	case errors.Is(err, recorder.ErrSignalTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeFailure(w http.ResponseWriter, err error) {
	code := StatusCode(err)
	ev := logger.WithComponent("api").Warn()
	if code >= http.StatusInternalServerError {
		ev = logger.WithComponent("api").Error()
	}
	ev.Err(err).Int("code", code).Msg("Request failed")
	writeError(w, code, err.Error())
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"status": "error", "message": message})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.WithComponent("api").Warn().Err(err).Msg("Failed to write response")
	}
}
