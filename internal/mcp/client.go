package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/buildinfo"
)

// protocolVersion is the MCP revision spoken by both client and server.
const protocolVersion = "2024-11-05"

// ToolDefinition describes one remote tool: its MCP name, a
// description, and the JSON Schema of its arguments.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ContentBlock is one item of a tools/call result. Text blocks carry
// Text; image blocks carry base64 Data and a MimeType.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

type callToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

type toolsListResult struct {
	Tools []ToolDefinition `json:"tools"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type serverCapabilities struct {
	Tools *struct{} `json:"tools,omitempty"`
}

type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ServerInfo      serverInfo         `json:"serverInfo"`
	Capabilities    serverCapabilities `json:"capabilities"`
}

// Client talks to a single MCP server.
type Client struct {
	name      string
	transport Transport
	logger    *slog.Logger
	nextID    atomic.Int64

	mu         sync.RWMutex
	serverName string
	serverVer  string
	tools      []ToolDefinition
}

// NewClient creates a client for the named server over transport.
func NewClient(name string, transport Transport, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		name:      name,
		transport: transport,
		logger:    logger.With("mcp_server", name),
	}
}

// Name returns the configured server name.
func (c *Client) Name() string {
	return c.name
}

// ServerInfo returns the name and version the server reported during
// Initialize.
func (c *Client) ServerInfo() (name, version string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverName, c.serverVer
}

// Initialize performs the handshake: an initialize request followed by
// the notifications/initialized notification.
func (c *Client) Initialize(ctx context.Context) error {
	result, err := call[initializeResult](ctx, c, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "weekend-wizard",
			"version": buildinfo.Version,
		},
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.serverName, c.serverVer = result.ServerInfo.Name, result.ServerInfo.Version
	c.mu.Unlock()
	c.logger.Info("MCP server initialized",
		"server_name", result.ServerInfo.Name,
		"server_version", result.ServerInfo.Version,
		"protocol_version", result.ProtocolVersion,
	)

	if err := c.transport.Notify(ctx, NewNotification("notifications/initialized", nil)); err != nil {
		return fmt.Errorf("send initialized notification: %w", err)
	}
	return nil
}

// ListTools returns the server's tools. The first successful result is
// cached for the life of the client.
func (c *Client) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	c.mu.RLock()
	cached := c.tools
	c.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	result, err := call[toolsListResult](ctx, c, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	tools := result.Tools
	if tools == nil {
		tools = []ToolDefinition{}
	}

	c.mu.Lock()
	c.tools = tools
	c.mu.Unlock()
	c.logger.Info("discovered MCP tools", "count", len(tools))
	return tools, nil
}

// CallTool invokes a tool by its MCP name. A result carrying an image
// block comes back as a map with image_base64, mime_type and any text;
// otherwise the joined text is returned. A result flagged isError
// becomes an error.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	result, err := call[callToolResult](ctx, c, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	text := extractText(result.Content)
	if result.IsError {
		return nil, fmt.Errorf("MCP tool %s failed: %s", name, text)
	}
	img, ok := firstImage(result.Content)
	if !ok {
		return text, nil
	}
	payload := map[string]any{"image_base64": img.Data, "mime_type": img.MimeType}
	if text != "" {
		payload["text"] = text
	}
	return payload, nil
}

// Ping sends an MCP ping and reports any transport or RPC error.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.send(ctx, "ping", nil)
	return err
}

// Close shuts down the transport.
func (c *Client) Close() error {
	c.logger.Info("closing MCP client")
	return c.transport.Close()
}

func (c *Client) send(ctx context.Context, method string, params any) (*Response, error) {
	resp, err := c.transport.Send(ctx, NewRequest(c.nextID.Add(1), method, params))
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp, nil
}

// call sends method and decodes its result into T. Errors are prefixed
// with the method name.
func call[T any](ctx context.Context, c *Client, method string, params any) (T, error) {
	var result T
	resp, err := c.send(ctx, method, params)
	if err != nil {
		return result, fmt.Errorf("%s: %w", method, err)
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return result, fmt.Errorf("decode %s result: %w", method, err)
	}
	return result, nil
}

// extractText joins text blocks. Image blocks are omitted; other
// block types are shown as inline markers.
func extractText(blocks []ContentBlock) string {
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, b.Text)
		case "image":
		default:
			parts = append(parts, fmt.Sprintf("[%s]", b.Type))
		}
	}
	return strings.Join(parts, "\n")
}

func firstImage(blocks []ContentBlock) (ContentBlock, bool) {
	for _, b := range blocks {
		if b.Type == "image" && b.Data != "" {
			return b, true
		}
	}
	return ContentBlock{}, false
}
