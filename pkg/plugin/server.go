package plugin

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
)

// Handler is what plugin authors implement. The host calls Execute for
// each confirmed action.
type Handler interface {
	Capabilities() CapabilitiesMsg
	Execute(req Request) Response
}

// Serve listens on a fresh Unix socket, prints the handshake line to stdout
// and serves the host until the listener fails.
func Serve(handler Handler) error {
	sockDir, err := os.MkdirTemp("", "aspri-plugin-*")
	if err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(sockDir) }()
	sockPath := filepath.Join(sockDir, "plugin.sock")

	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer func() { _ = ln.Close() }()

	hs := Handshake{Version: HandshakeVersion, Network: "unix", Address: sockPath}
	if _, err := fmt.Fprintln(os.Stdout, hs.String()); err != nil {
		return fmt.Errorf("write handshake: %w", err)
	}
	return ServeListener(handler, ln)
}

// ServeListener accepts connections on ln until it is closed.
func ServeListener(handler Handler, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("accept: %w", err)
		}
		go ServeConn(handler, conn)
	}
}

// ServeConn answers requests on one connection until it breaks.
func ServeConn(handler Handler, conn net.Conn) {
	defer func() { _ = conn.Close() }()
	for {
		var req Request
		if err := ReadMessage(conn, &req); err != nil {
			return
		}

		var resp Response
		switch req.Method {
		case MethodCapabilities:
			caps := handler.Capabilities()
			resp.Caps = &caps
		case MethodExecute:
			resp = handler.Execute(req)
			resp.CallID = req.ID
		default:
			resp.Error = fmt.Sprintf("unknown method %q", req.Method)
		}

		if err := WriteMessage(conn, &resp); err != nil {
			return
		}
	}
}
