package statusbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/paritytech/contract-dependency-manager-sub000/internal/pipeline"
)

// ServerStatus reports runtime lifecycle states for the HTTP server.
type ServerStatus string

const (
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusDraining ServerStatus = "draining"
)

// ErrDisabled is returned by Start when the bridge is switched off.
var ErrDisabled = errors.New("statusbridge: server disabled")

// Source is the live view served by the bridge.
type Source interface {
	Snapshot() pipeline.Snapshot
	Subscribe() pipeline.Subscription
}

// Frame is one websocket message on /stream.
type Frame struct {
	Type     string             `json:"type"`
	Snapshot *pipeline.Snapshot `json:"snapshot,omitempty"`
	Event    *pipeline.Event    `json:"event,omitempty"`
}

const (
	FrameSnapshot = "snapshot"
	FrameEvent    = "event"
)

type healthResponse struct {
	Status        string `json:"status"`
	RunID         string `json:"run_id,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// Server wraps the HTTP listener and handlers backing the status bridge.
type Server struct {
	settings Settings
	source   Source
	runID    string
	logger   *slog.Logger
	clock    func() time.Time
	upgrader websocket.Upgrader
	router   chi.Router

	mu        sync.RWMutex
	server    *http.Server
	listener  net.Listener
	status    ServerStatus
	startTime time.Time
}

// Option customizes server construction.
type Option func(*Server)

// WithLogger overrides the default discarding logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithRunID tags /health responses with the run being served.
func WithRunID(runID string) Option {
	return func(s *Server) {
		s.runID = runID
	}
}

// NewServer prepares a bridge server over source.
func NewServer(settings Settings, source Source, opts ...Option) *Server {
	s := &Server{
		settings: settings,
		source:   source,
		logger:   slog.New(slog.DiscardHandler),
		clock:    func() time.Time { return time.Now().UTC() },
		status:   StatusStarting,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.requestLogger)
	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/status/{name}", s.handleArtifact)
	r.Get("/stream", s.handleStream)
	return r
}

// Handler exposes the routes without binding a listener.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the TCP listener and begins serving HTTP traffic.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("statusbridge: server is nil")
	}
	if !s.settings.Enabled {
		return ErrDisabled
	}
	if s.source == nil {
		return fmt.Errorf("statusbridge: source is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("statusbridge: server already started")
	}
	addr := s.settings.Address()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("statusbridge: listen %s: %w", addr, err)
	}
	s.listener = listener
	s.startTime = s.clock()
	server := &http.Server{
		Handler:     s.router,
		ReadTimeout: s.settings.ReadTimeout,
		IdleTimeout: s.settings.IdleTimeout,
	}
	if ctx != nil {
		server.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.server = server
	s.status = StatusReady
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("statusbridge: serve error", "error", err)
		}
	}()
	s.logger.Info("statusbridge: listening", "addr", listener.Addr().String())
	return nil
}

// Shutdown stops accepting new connections and waits for in-flight requests
// to exit. Open streams end when the source closes its subscriptions.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil || s.server == nil {
		return nil
	}
	s.status = StatusDraining
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	s.listener = nil
	s.server = nil
	return nil
}

// Addr returns the bound TCP address once the server has started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// BaseURL returns the HTTP base URL for the running server.
func (s *Server) BaseURL() string {
	addr := s.Addr()
	if addr == "" {
		addr = s.settings.Address()
	}
	return "http://" + addr
}

// Status reports the server's lifecycle state.
func (s *Server) Status() ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Server) uptimeSeconds() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startTime.IsZero() {
		return 0
	}
	return int64(s.clock().Sub(s.startTime).Seconds())
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			s.logger.Debug("statusbridge: request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start).String(),
				"request_id", chimiddleware.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        string(s.Status()),
		RunID:         s.runID,
		UptimeSeconds: s.uptimeSeconds(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.source == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no run attached"})
		return
	}
	writeJSON(w, http.StatusOK, s.source.Snapshot())
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	if s.source == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no run attached"})
		return
	}
	name := chi.URLParam(r, "name")
	status, ok := s.source.Snapshot().Statuses[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown contract " + name})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleStream subscribes before taking the snapshot so no change falls
// between the two; clients drop events whose sequence is not newer than the
// snapshot.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.source == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no run attached"})
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("statusbridge: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := s.source.Subscribe()
	defer sub.Close()
	snapshot := s.source.Snapshot()
	if err := s.writeFrame(conn, Frame{Type: FrameSnapshot, Snapshot: &snapshot}); err != nil {
		return
	}

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case event, ok := <-sub.Events:
			if !ok {
				deadline := time.Now().Add(s.settings.WriteTimeout)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"), deadline)
				return
			}
			if event.Sequence <= snapshot.Sequence {
				continue
			}
			if err := s.writeFrame(conn, Frame{Type: FrameEvent, Event: &event}); err != nil {
				s.logger.Debug("statusbridge: stream write failed", "error", err)
				return
			}
		}
	}
}

func (s *Server) writeFrame(conn *websocket.Conn, frame Frame) error {
	if s.settings.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(s.settings.WriteTimeout)); err != nil {
			return err
		}
	}
	return conn.WriteJSON(frame)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
