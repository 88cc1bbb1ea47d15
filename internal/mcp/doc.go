// Package mcp speaks the Model Context Protocol in both directions.
//
// As a client it connects to external MCP servers over stdio
// (subprocess) or streamable HTTP, discovers their tools with
// tools/list, and bridges them into the tool registry so the agent can
// call them like builtin tools. As a server it exposes a registry over
// stdio so other MCP hosts can use the builtin weekend tools.
//
// Both sides use newline-delimited JSON-RPC 2.0.
package mcp
