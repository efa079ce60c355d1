package control

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/pluginhost/internal/plugin"
)

type fakePlugins struct {
	mu       sync.Mutex
	statuses map[string]plugin.Status
	calls    []string
}

func newFakePlugins() *fakePlugins {
	return &fakePlugins{statuses: map[string]plugin.Status{
		"echo": {Name: "echo", Version: "1.0.0", State: plugin.StateUnloaded, MemoryBytes: plugin.UnknownMemoryUsage},
	}}
}

func (f *fakePlugins) Snapshot(context.Context) []plugin.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]plugin.Status, 0, len(f.statuses))
	for _, st := range f.statuses {
		out = append(out, st)
	}
	return out
}

func (f *fakePlugins) set(ctx context.Context, op, name string, to plugin.State) (plugin.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return plugin.Status{}, err
	}
	f.calls = append(f.calls, op+" "+name)
	st, ok := f.statuses[name]
	if !ok {
		return plugin.Status{}, oops.Code(plugin.CodePluginNotFound).Errorf("plugin %s not found", name)
	}
	st.State = to
	f.statuses[name] = st
	return st, nil
}

func (f *fakePlugins) LoadPlugin(ctx context.Context, name string) (plugin.Status, error) {
	return f.set(ctx, "load", name, plugin.StateLoaded)
}

func (f *fakePlugins) UnloadPlugin(ctx context.Context, name string) (plugin.Status, error) {
	return f.set(ctx, "unload", name, plugin.StateUnloaded)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func serve(t *testing.T, s *Server, method, path string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	resp := w.Result()
	t.Cleanup(func() { _ = resp.Body.Close() })

	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
	return v
}

func TestHandleHealth_ReturnsCorrectJSON(t *testing.T) {
	s := NewServer("unused.sock", newFakePlugins(), WithLogger(quietLogger()))

	resp := serve(t, s, http.MethodGet, "/health")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	health := decode[HealthResponse](t, resp)
	if health.Status != "healthy" {
		t.Errorf("status = %q, want %q", health.Status, "healthy")
	}
	if _, err := time.Parse(time.RFC3339, health.Timestamp); err != nil {
		t.Errorf("timestamp %q is not valid RFC3339: %v", health.Timestamp, err)
	}
}

func TestHandleStatus_ReturnsRequiredFields(t *testing.T) {
	s := NewServer("unused.sock", newFakePlugins(), WithLogger(quietLogger()))

	status := decode[StatusResponse](t, serve(t, s, http.MethodGet, "/status"))
	if !status.Running {
		t.Error("running should be true")
	}
	if status.PID != os.Getpid() {
		t.Errorf("pid = %d, want %d", status.PID, os.Getpid())
	}
	if status.Plugins != 1 {
		t.Errorf("plugins = %d, want 1", status.Plugins)
	}
}

func TestHandleLoadAndUnload(t *testing.T) {
	plugins := newFakePlugins()
	s := NewServer("unused.sock", plugins, WithLogger(quietLogger()))

	st := decode[plugin.Status](t, serve(t, s, http.MethodPost, "/plugins/echo/load"))
	if st.State != plugin.StateLoaded {
		t.Errorf("state after load = %s, want loaded", st.State)
	}

	st = decode[plugin.Status](t, serve(t, s, http.MethodPost, "/plugins/echo/unload"))
	if st.State != plugin.StateUnloaded {
		t.Errorf("state after unload = %s, want unloaded", st.State)
	}

	want := []string{"load echo", "unload echo"}
	if len(plugins.calls) != 2 || plugins.calls[0] != want[0] || plugins.calls[1] != want[1] {
		t.Errorf("calls = %v, want %v", plugins.calls, want)
	}
}

func TestHandleLoad_UnknownPlugin(t *testing.T) {
	s := NewServer("unused.sock", newFakePlugins(), WithLogger(quietLogger()))

	resp := serve(t, s, http.MethodPost, "/plugins/ghost/load")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
	e := decode[ErrorResponse](t, resp)
	if e.Code != plugin.CodePluginNotFound {
		t.Errorf("code = %q, want %q", e.Code, plugin.CodePluginNotFound)
	}
}

func TestHandleLoad_WrongMethod(t *testing.T) {
	s := NewServer("unused.sock", newFakePlugins(), WithLogger(quietLogger()))

	req := httptest.NewRequest(http.MethodGet, "/plugins/echo/load", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandleShutdown_TriggersCallback(t *testing.T) {
	called := make(chan struct{})
	var once atomic.Bool
	s := NewServer("unused.sock", newFakePlugins(),
		WithLogger(quietLogger()),
		WithShutdown(func() {
			if once.CompareAndSwap(false, true) {
				close(called)
			}
		}))

	msg := decode[ShutdownResponse](t, serve(t, s, http.MethodPost, "/shutdown"))
	if msg.Message != "shutdown initiated" {
		t.Errorf("message = %q, want %q", msg.Message, "shutdown initiated")
	}

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Error("shutdown callback was not called")
	}
}

func TestHandleShutdown_NotConfigured(t *testing.T) {
	s := NewServer("unused.sock", newFakePlugins(), WithLogger(quietLogger()))

	resp := serve(t, s, http.MethodPost, "/shutdown")
	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotImplemented)
	}
}

func TestSocketPath_ReturnsExpectedPath(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")

	path, err := SocketPath()
	if err != nil {
		t.Fatalf("SocketPath() error = %v", err)
	}
	if want := "/run/user/1000/pluginhost/pluginhost.sock"; path != want {
		t.Errorf("SocketPath() = %q, want %q", path, want)
	}
}

func TestServerAndClient_OverSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctl.sock")
	plugins := newFakePlugins()
	s := NewServer(path, plugins, WithLogger(quietLogger()))
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = s.Stop(context.Background()) }()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat socket: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("socket perm = %o, want 600", perm)
	}

	ctx := context.Background()
	c := NewClient(path)

	if h, err := c.Health(ctx); err != nil || h.Status != "healthy" {
		t.Fatalf("Health() = %+v, %v", h, err)
	}

	st, err := c.Load(ctx, "echo")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if st.State != plugin.StateLoaded {
		t.Errorf("Load() state = %s, want loaded", st.State)
	}

	list, err := c.Plugins(ctx)
	if err != nil || len(list) != 1 || list[0].State != plugin.StateLoaded {
		t.Errorf("Plugins() = %+v, %v", list, err)
	}

	_, err = c.Unload(ctx, "ghost")
	if err == nil {
		t.Fatal("Unload(ghost) should fail")
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok || oopsErr.Code() != CodeControlRequest {
		t.Errorf("error code = %v, want %s", err, CodeControlRequest)
	}
	if got := oopsErr.Context()["remote_code"]; got != plugin.CodePluginNotFound {
		t.Errorf("remote_code = %v, want %s", got, plugin.CodePluginNotFound)
	}
}

func TestServer_StopRemovesSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctl.sock")
	s := NewServer(path, newFakePlugins(), WithLogger(quietLogger()))
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("socket still present after Stop: %v", err)
	}
	if _, err := NewClient(path).Health(context.Background()); err == nil {
		t.Error("Health() should fail after Stop")
	}
}

func TestServer_StartReplacesStaleSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctl.sock")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	s := NewServer(path, newFakePlugins(), WithLogger(quietLogger()))
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	_ = s.Stop(context.Background())
}
