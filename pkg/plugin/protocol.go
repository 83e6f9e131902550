// Package plugin is the wire protocol for out-of-process ASPRI plugins.
// A plugin binary prints a handshake line on stdout, then answers
// length-prefixed JSON requests on the socket it announced.
package plugin

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

const (
	// HandshakeVersion is the protocol version in the handshake line.
	HandshakeVersion = 1
	// MaxMessageSize is the maximum length of a single protocol message (4 MB).
	MaxMessageSize = 4 * 1024 * 1024
)

const (
	MethodCapabilities = "capabilities"
	MethodExecute      = "execute"
)

// Request is the wire format sent from the host to the plugin.
type Request struct {
	Method string         `json:"method"`
	ID     string         `json:"id,omitempty"`
	Plugin string         `json:"plugin,omitempty"`
	UserID string         `json:"user_id,omitempty"`
	Action string         `json:"action,omitempty"`
	Args   map[string]any `json:"args,omitempty"`
}

// Response is the wire format sent from the plugin back to the host.
// Error reports a protocol or plugin fault; a handled action that did not
// succeed sets Success=false with a user-facing Message instead.
type Response struct {
	CallID  string           `json:"call_id,omitempty"`
	Success bool             `json:"success"`
	Message string           `json:"message,omitempty"`
	Data    map[string]any   `json:"data,omitempty"`
	Error   string           `json:"error,omitempty"`
	Caps    *CapabilitiesMsg `json:"caps,omitempty"`
}

// CapabilitiesMsg carries the plugin's self-description.
type CapabilitiesMsg struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Actions     []ActionMsg `json:"actions"`
}

// ActionMsg describes one action a plugin supports.
type ActionMsg struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  []ParameterMsg `json:"parameters,omitempty"`
	Examples    []string       `json:"examples,omitempty"`
}

// ParameterMsg describes one parameter of an action. Type is one of
// string, number, integer, boolean or string[].
type ParameterMsg struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
}

// Handshake is the first line a plugin binary writes to stdout.
// Format: "<version>|<network>|<address>\n"
// Example: "1|unix|/tmp/aspri-plugin-kurs/plugin.sock"
type Handshake struct {
	Version int
	Network string // "unix" or "tcp"
	Address string // socket path or host:port
}

func (h Handshake) String() string {
	return fmt.Sprintf("%d|%s|%s", h.Version, h.Network, h.Address)
}

// ParseHandshake parses a handshake line from a plugin.
func ParseHandshake(line string) (Handshake, error) {
	parts := strings.SplitN(strings.TrimSpace(line), "|", 3)
	if len(parts) != 3 {
		return Handshake{}, fmt.Errorf("invalid handshake %q: expected version|network|address", line)
	}

	var h Handshake
	if _, err := fmt.Sscan(parts[0], &h.Version); err != nil {
		return Handshake{}, fmt.Errorf("invalid handshake version %q: %w", parts[0], err)
	}
	h.Network = parts[1]
	h.Address = parts[2]

	if h.Version != HandshakeVersion {
		return Handshake{}, fmt.Errorf("unsupported handshake version %d (want %d)", h.Version, HandshakeVersion)
	}
	if err := checkNetwork(h.Network); err != nil {
		return Handshake{}, err
	}
	if h.Address == "" {
		return Handshake{}, fmt.Errorf("invalid handshake %q: empty address", line)
	}
	return h, nil
}

// ParseAddress splits "unix:///path.sock" or "tcp://host:port".
func ParseAddress(addr string) (network, address string, err error) {
	network, address, ok := strings.Cut(addr, "://")
	if !ok || address == "" {
		return "", "", fmt.Errorf("invalid plugin address %q: expected unix://path or tcp://host:port", addr)
	}
	if err := checkNetwork(network); err != nil {
		return "", "", err
	}
	return network, address, nil
}

func checkNetwork(n string) error {
	if n != "unix" && n != "tcp" {
		return fmt.Errorf("unsupported network %q (want unix or tcp)", n)
	}
	return nil
}

// WriteMessage sends a length-prefixed JSON message.
func WriteMessage(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("message too large: %d bytes (max %d)", len(data), MaxMessageSize)
	}
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// ReadMessage reads a length-prefixed JSON message.
func ReadMessage(r io.Reader, v any) error {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	size := binary.BigEndian.Uint32(header)
	if size > MaxMessageSize {
		return fmt.Errorf("message too large: %d bytes (max %d)", size, MaxMessageSize)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	return json.Unmarshal(body, v)
}
