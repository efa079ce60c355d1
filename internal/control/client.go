package control

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/pluginhost/internal/plugin"
)

// CodeControlRequest marks a failed call to the control socket.
const CodeControlRequest = "CONTROL_REQUEST_FAILED"

// DefaultClientTimeout bounds one control call. Loads run under the host's
// own deadline, so this only needs to exceed it.
const DefaultClientTimeout = 2 * time.Minute

// Client talks to a host's control socket.
type Client struct {
	http       *http.Client
	socketPath string
}

// NewClient returns a client for the socket at socketPath.
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
			Timeout: DefaultClientTimeout,
		},
	}
}

// Health reports whether the host answers on its socket.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var out HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", &out)
	return out, err
}

// Status returns process information about the host.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var out StatusResponse
	err := c.do(ctx, http.MethodGet, "/status", &out)
	return out, err
}

// Plugins returns the status of every managed plugin.
func (c *Client) Plugins(ctx context.Context) ([]plugin.Status, error) {
	var out []plugin.Status
	err := c.do(ctx, http.MethodGet, "/plugins", &out)
	return out, err
}

// Load asks the host to load the named plugin.
func (c *Client) Load(ctx context.Context, name string) (plugin.Status, error) {
	var out plugin.Status
	err := c.do(ctx, http.MethodPost, "/plugins/"+url.PathEscape(name)+"/load", &out)
	return out, err
}

// Unload asks the host to unload the named plugin.
func (c *Client) Unload(ctx context.Context, name string) (plugin.Status, error) {
	var out plugin.Status
	err := c.do(ctx, http.MethodPost, "/plugins/"+url.PathEscape(name)+"/unload", &out)
	return out, err
}

// Shutdown asks the host to unload everything and exit.
func (c *Client) Shutdown(ctx context.Context) error {
	var out ShutdownResponse
	return c.do(ctx, http.MethodPost, "/shutdown", &out)
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	errb := oops.Code(CodeControlRequest).With("socket", c.socketPath).With("path", path)

	req, err := http.NewRequestWithContext(ctx, method, "http://pluginhost"+path, http.NoBody)
	if err != nil {
		return errb.Wrap(err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errb.Hint("is the host running?").Wrapf(err, "connect to control socket")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var e ErrorResponse
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(body, &e) != nil || e.Error == "" {
			e.Error = string(body)
		}
		b := errb.With("status", resp.StatusCode)
		if e.Code != "" {
			b = b.With("remote_code", e.Code)
		}
		return b.Errorf("%s", e.Error)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errb.Wrapf(err, "decode response")
	}
	return nil
}
