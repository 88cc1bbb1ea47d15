package mcp

import (
	"context"
	"fmt"
)

// Transport delivers JSON-RPC messages to one MCP server.
type Transport interface {
	// Send delivers req and returns the matching response.
	Send(ctx context.Context, req *Request) (*Response, error)

	// Notify delivers a notification; no response is expected.
	Notify(ctx context.Context, notif *Notification) error

	// Close releases the transport. For stdio this stops the
	// subprocess.
	Close() error
}

// NewTransport builds a transport by kind: "stdio" (the default) needs
// a command, "http" needs a URL.
func NewTransport(kind string, stdio StdioConfig, http HTTPConfig) (Transport, error) {
	switch kind {
	case "", "stdio":
		if stdio.Command == "" {
			return nil, fmt.Errorf("stdio transport requires a command")
		}
		return NewStdioTransport(stdio), nil
	case "http":
		if http.URL == "" {
			return nil, fmt.Errorf("http transport requires a url")
		}
		return NewHTTPTransport(http), nil
	default:
		return nil, fmt.Errorf("unsupported MCP transport %q", kind)
	}
}
