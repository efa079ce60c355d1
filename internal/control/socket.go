// Package control serves the plugin host's management API over a Unix socket.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/pluginhost/internal/plugin"
	"github.com/holomush/pluginhost/internal/xdg"
	"github.com/holomush/pluginhost/pkg/errutil"
)

// HealthResponse is returned by the /health endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// StatusResponse is returned by the /status endpoint.
type StatusResponse struct {
	Running       bool  `json:"running"`
	PID           int   `json:"pid"`
	UptimeSeconds int64 `json:"uptime_seconds"`
	Plugins       int   `json:"plugins"`
}

// ShutdownResponse is returned by the /shutdown endpoint.
type ShutdownResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// ShutdownFunc is called when shutdown is requested.
type ShutdownFunc func()

// Plugins is the fleet surface the control API drives.
type Plugins interface {
	Snapshot(ctx context.Context) []plugin.Status
	LoadPlugin(ctx context.Context, name string) (plugin.Status, error)
	UnloadPlugin(ctx context.Context, name string) (plugin.Status, error)
}

var _ Plugins = (*plugin.Fleet)(nil)

// Server runs HTTP over a Unix socket for plugin management.
type Server struct {
	socketPath   string
	plugins      Plugins
	shutdownFunc ShutdownFunc
	logger       *slog.Logger
	startTime    time.Time
	listener     net.Listener
	httpServer   *http.Server
	running      atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithShutdown sets the function run when POST /shutdown is received.
func WithShutdown(fn ShutdownFunc) Option {
	return func(s *Server) {
		s.shutdownFunc = fn
	}
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a control server that will listen on socketPath.
func NewServer(socketPath string, plugins Plugins, opts ...Option) *Server {
	s := &Server{
		socketPath: socketPath,
		plugins:    plugins,
		logger:     slog.Default(),
		startTime:  time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.running.Store(true)
	return s
}

// SocketPath returns the default control socket path.
func SocketPath() (string, error) {
	path, err := xdg.ControlSocket()
	if err != nil {
		return "", oops.Wrapf(err, "resolve control socket path")
	}
	return path, nil
}

// Path returns the socket path the server listens on.
func (s *Server) Path() string {
	return s.socketPath
}

// Handler returns the control API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /plugins", s.handlePlugins)
	mux.HandleFunc("POST /plugins/{name}/load", s.handleLoad)
	mux.HandleFunc("POST /plugins/{name}/unload", s.handleUnload)
	mux.HandleFunc("POST /shutdown", s.handleShutdown)
	return mux
}

// Start begins listening on the Unix socket.
func (s *Server) Start() error {
	errb := oops.With("path", s.socketPath)

	if err := xdg.EnsureDir(filepath.Dir(s.socketPath)); err != nil {
		return errb.Wrapf(err, "create socket directory")
	}

	// A stale socket from a crashed host would make Listen fail.
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return errb.Wrapf(err, "remove existing socket")
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return errb.Wrapf(err, "listen on socket")
	}
	s.listener = listener

	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		_ = listener.Close()
		return errb.Wrapf(err, "set socket permissions")
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("control socket server error", "error", err)
		}
	}()

	s.logger.Info("control socket listening", "path", s.socketPath)
	return nil
}

// Stop gracefully shuts down the control socket server.
func (s *Server) Stop(ctx context.Context) error {
	s.running.Store(false)

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return oops.Wrapf(err, "shutdown control server")
		}
	}

	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Warn("failed to close control socket listener", "error", err)
		}
	}

	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove control socket file",
			"path", s.socketPath,
			"error", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, StatusResponse{
		Running:       s.running.Load(),
		PID:           os.Getpid(),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Plugins:       len(s.plugins.Snapshot(r.Context())),
	})
}

func (s *Server) handlePlugins(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.plugins.Snapshot(r.Context()))
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, "load", s.plugins.LoadPlugin)
}

func (s *Server) handleUnload(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, "unload", s.plugins.UnloadPlugin)
}

func (s *Server) lifecycle(w http.ResponseWriter, r *http.Request, op string,
	call func(context.Context, string) (plugin.Status, error),
) {
	name := r.PathValue("name")
	s.logger.InfoContext(r.Context(), "plugin "+op+" requested", "plugin", name)

	// The request context ends with the connection; the transition must not.
	st, err := call(context.WithoutCancel(r.Context()), name)
	if err != nil {
		code := http.StatusInternalServerError
		if errutil.Code(err) == plugin.CodePluginNotFound {
			code = http.StatusNotFound
		}
		s.writeJSON(w, code, ErrorResponse{Error: err.Error(), Code: errutil.Code(err)})
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleShutdown(w http.ResponseWriter, _ *http.Request) {
	if s.shutdownFunc == nil {
		s.writeJSON(w, http.StatusNotImplemented, ErrorResponse{Error: "shutdown is not supported"})
		return
	}
	s.writeJSON(w, http.StatusOK, ShutdownResponse{Message: "shutdown initiated"})
	go s.shutdownFunc()
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to write control response", "error", err)
	}
}
