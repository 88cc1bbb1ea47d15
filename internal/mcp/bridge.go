package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/tools"
)

var sanitizeRe = regexp.MustCompile(`[^a-z0-9_]`)

// BridgeOptions selects which server tools join the registry and how
// they are named.
type BridgeOptions struct {
	// Prefix is prepended as "<prefix>_<tool>". Empty keeps the
	// server's names (sanitized).
	Prefix string

	// Include, when non-empty, bridges only these MCP tool names.
	// Otherwise Exclude names are skipped.
	Include []string
	Exclude []string
}

// BridgeTools lists the client's tools and registers a proxy for each
// selected one. Names that collide with an already registered tool are
// logged and skipped. It returns the number of tools registered.
func BridgeTools(ctx context.Context, client *Client, registry *tools.Registry, opts BridgeOptions, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	defs, err := client.ListTools(ctx)
	if err != nil {
		return 0, fmt.Errorf("list tools from %s: %w", client.Name(), err)
	}

	include := toSet(opts.Include)
	exclude := toSet(opts.Exclude)

	count := 0
	for _, td := range defs {
		if len(include) > 0 {
			if !include[td.Name] {
				continue
			}
		} else if exclude[td.Name] {
			continue
		}

		name := ToolName(opts.Prefix, td.Name)
		if err := registry.Register(proxyTool(client, name, td)); err != nil {
			if errors.Is(err, tools.ErrDuplicateTool) {
				logger.Warn("MCP tool name already registered, skipping",
					"mcp_name", td.Name,
					"tool", name,
					"server", client.Name(),
				)
				continue
			}
			logger.Warn("MCP tool rejected", "mcp_name", td.Name, "server", client.Name(), "error", err)
			continue
		}
		count++

		logger.Debug("bridged MCP tool",
			"mcp_name", td.Name,
			"tool", name,
			"server", client.Name(),
		)
	}
	return count, nil
}

// ToolName builds a registry name from an optional prefix and an MCP
// tool name, both reduced to lowercase letters, digits and underscores.
func ToolName(prefix, mcpToolName string) string {
	tool := sanitize(mcpToolName)
	if p := sanitize(prefix); p != "" {
		return p + "_" + tool
	}
	return tool
}

func proxyTool(client *Client, name string, td ToolDefinition) tools.Tool {
	mcpName := td.Name
	return tools.Tool{
		Name:        name,
		Description: td.Description,
		Parameters:  inputSchema(td.InputSchema),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return client.CallTool(ctx, mcpName, args)
		},
	}
}

// inputSchema drops JSON Schema meta keywords that openapi3 schemas
// do not accept.
func inputSchema(s map[string]any) map[string]any {
	if s == nil {
		return nil
	}
	out := make(map[string]any, len(s))
	for k, v := range s {
		if k == "$schema" || k == "$id" {
			continue
		}
		out[k] = v
	}
	return out
}

// sanitize lowercases name, turns other characters into underscores,
// collapses runs of underscores and trims them from both ends.
func sanitize(name string) string {
	s := sanitizeRe.ReplaceAllString(strings.ToLower(name), "_")
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return strings.Trim(s, "_")
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	m := make(map[string]bool, len(items))
	for _, item := range items {
		m[item] = true
	}
	return m
}
