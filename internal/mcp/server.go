package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/tools"
)

// Server exposes a tool registry to MCP hosts over newline-delimited
// JSON-RPC. It answers initialize, ping, tools/list and tools/call;
// notifications are accepted and ignored.
type Server struct {
	name     string
	version  string
	registry *tools.Registry
	logger   *slog.Logger
}

// NewServer creates a server that reports itself as name/version.
func NewServer(name, version string, registry *tools.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		name:     name,
		version:  version,
		registry: registry,
		logger:   logger.With("component", "mcp_server"),
	}
}

// Serve reads requests from r and writes responses to w until r is
// exhausted or ctx is cancelled. Requests are handled one at a time in
// arrival order.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10<<20)

	var mu sync.Mutex
	enc := json.NewEncoder(w)
	write := func(out *outgoing) error {
		mu.Lock()
		defer mu.Unlock()
		return enc.Encode(out)
	}

	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	s.logger.Info("MCP server ready", "tools", s.registry.Len())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if len(line) == 0 {
				continue
			}
			if out := s.handle(ctx, line); out != nil {
				if err := write(out); err != nil {
					return fmt.Errorf("write response: %w", err)
				}
			}
		}
	}
}

// handle processes one message and returns the response to send, or
// nil for notifications.
func (s *Server) handle(ctx context.Context, line []byte) *outgoing {
	var msg incoming
	if err := json.Unmarshal(line, &msg); err != nil {
		return errorResponse(nil, codeParseError, "parse error: "+err.Error())
	}
	if msg.isNotification() {
		s.logger.Debug("MCP notification", "method", msg.Method)
		return nil
	}
	if msg.JSONRPC != jsonrpcVersion || msg.Method == "" {
		return errorResponse(msg.ID, codeInvalidRequest, "invalid request")
	}

	s.logger.Debug("MCP request", "method", msg.Method)
	switch msg.Method {
	case "initialize":
		return result(msg.ID, initializeResult{
			ProtocolVersion: protocolVersion,
			ServerInfo:      serverInfo{Name: s.name, Version: s.version},
			Capabilities:    serverCapabilities{Tools: &struct{}{}},
		})
	case "ping":
		return result(msg.ID, struct{}{})
	case "tools/list":
		return result(msg.ID, s.listTools())
	case "tools/call":
		return s.callTool(ctx, msg)
	default:
		return errorResponse(msg.ID, codeMethodNotFound, "method not found: "+msg.Method)
	}
}

func (s *Server) listTools() toolsListResult {
	descs := s.registry.List()
	out := toolsListResult{Tools: make([]ToolDefinition, 0, len(descs))}
	for _, d := range descs {
		out.Tools = append(out.Tools, ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.Parameters,
		})
	}
	return out
}

func (s *Server) callTool(ctx context.Context, msg incoming) *outgoing {
	var params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(msg.Params, &params); err != nil || params.Name == "" {
		return errorResponse(msg.ID, codeInvalidParams, "tools/call requires a tool name")
	}

	if !s.registry.Has(params.Name) {
		err := &tools.ErrToolUnavailable{ToolName: params.Name, Suggestions: s.registry.Suggest(params.Name, 3, 3)}
		return errorResponse(msg.ID, codeInvalidParams, err.Error())
	}

	res := s.registry.Invoke(ctx, params.Name, params.Arguments)
	s.logger.Info("MCP tool call", "tool", params.Name, "status", res.Status)
	return result(msg.ID, toCallResult(res))
}

// toCallResult converts a registry result into MCP content blocks.
// Image payloads become an image block alongside the JSON text.
func toCallResult(res tools.Result) callToolResult {
	if !res.OK() {
		return callToolResult{
			Content: []ContentBlock{{Type: "text", Text: res.Message}},
			IsError: true,
		}
	}
	out := callToolResult{}
	fields := res.Fields()
	if b64, _ := fields["image_base64"].(string); b64 != "" {
		mime, _ := fields["mime_type"].(string)
		if mime == "" {
			mime = "image/jpeg"
		}
		out.Content = append(out.Content, ContentBlock{Type: "image", Data: b64, MimeType: mime})
	}
	out.Content = append(out.Content, ContentBlock{Type: "text", Text: res.RawText})
	return out
}

func result(id json.RawMessage, v any) *outgoing {
	return &outgoing{JSONRPC: jsonrpcVersion, ID: id, Result: v}
}

func errorResponse(id json.RawMessage, code int, msg string) *outgoing {
	return &outgoing{JSONRPC: jsonrpcVersion, ID: id, Error: &RPCError{Code: code, Message: msg}}
}
