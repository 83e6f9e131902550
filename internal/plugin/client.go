package plugin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/opentalon/aspri/internal/capability"
	"github.com/opentalon/aspri/internal/provider"
	pkg "github.com/opentalon/aspri/pkg/plugin"
)

var ErrClientClosed = errors.New("plugin: connection closed")

// Client talks to a running plugin over a Unix socket or TCP. Calls are
// serialized on the one connection.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	caps   pkg.CapabilitiesMsg
	closed bool
}

// Dial connects to a plugin and fetches its capabilities.
func Dial(network, address string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout(network, address, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial plugin at %s://%s: %w", network, address, err)
	}

	c := &Client{conn: conn}
	_ = conn.SetDeadline(time.Now().Add(timeout))
	if err := c.fetchCapabilities(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return c, nil
}

// DialFromHandshake connects using information from a handshake.
func DialFromHandshake(hs pkg.Handshake, timeout time.Duration) (*Client, error) {
	return Dial(hs.Network, hs.Address, timeout)
}

func (c *Client) fetchCapabilities() error {
	if err := pkg.WriteMessage(c.conn, &pkg.Request{Method: pkg.MethodCapabilities}); err != nil {
		return fmt.Errorf("request capabilities: %w", err)
	}

	var resp pkg.Response
	if err := pkg.ReadMessage(c.conn, &resp); err != nil {
		return fmt.Errorf("read capabilities: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("capabilities error: %s", resp.Error)
	}
	if resp.Caps == nil {
		return fmt.Errorf("plugin returned empty capabilities")
	}
	c.caps = *resp.Caps
	return nil
}

// Capabilities returns what the plugin declared when the client connected.
func (c *Client) Capabilities() pkg.CapabilitiesMsg { return c.caps }

// Intents converts the declared actions into plugin intents using the
// "type|null" entity convention.
func (c *Client) Intents() []capability.PluginIntent {
	out := make([]capability.PluginIntent, 0, len(c.caps.Actions))
	for _, a := range c.caps.Actions {
		ents := make(map[string]string, len(a.Parameters))
		for _, p := range a.Parameters {
			t := p.Type
			if t == "" {
				t = string(provider.ParamString)
			}
			if !p.Required {
				t += "|null"
			}
			ents[p.Name] = t
		}
		out = append(out, capability.PluginIntent{
			Action:      a.Name,
			Description: a.Description,
			Entities:    ents,
			Examples:    a.Examples,
		})
	}
	return out
}

// ExecuteContext runs one action. The context deadline bounds the whole
// round trip; when ctx ends first the connection is closed, since a late
// reply would desynchronize the stream.
func (c *Client) ExecuteContext(ctx context.Context, req pkg.Request) (pkg.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return pkg.Response{}, ErrClientClosed
	}

	req.Method = pkg.MethodExecute
	if req.ID == "" {
		req.ID = ulid.Make().String()
	}
	// The deadline is only forced once ctx is done, so ctx.Err() explains
	// any read or write that fails because of it.
	stop := context.AfterFunc(ctx, func() { _ = c.conn.SetDeadline(time.Now()) })

	resp, err := c.roundTrip(req)
	if !stop() && err == nil {
		// ctx ended right after the reply; the forced deadline spoils the
		// connection for later calls.
		c.closed = true
		_ = c.conn.Close()
	}
	if err != nil {
		c.closed = true
		_ = c.conn.Close()
		if ctx.Err() != nil {
			return pkg.Response{}, ctx.Err()
		}
		return pkg.Response{}, err
	}
	if resp.CallID != "" && resp.CallID != req.ID {
		return pkg.Response{}, fmt.Errorf("plugin answered call %q, want %q", resp.CallID, req.ID)
	}
	return resp, nil
}

func (c *Client) roundTrip(req pkg.Request) (pkg.Response, error) {
	if err := pkg.WriteMessage(c.conn, &req); err != nil {
		return pkg.Response{}, err
	}
	var resp pkg.Response
	if err := pkg.ReadMessage(c.conn, &resp); err != nil {
		return pkg.Response{}, err
	}
	return resp, nil
}

// Close terminates the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
