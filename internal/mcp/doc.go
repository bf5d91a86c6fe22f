// Package mcp implements MCP (Model Context Protocol) client support,
// allowing Veris to connect to external MCP servers over streamable
// HTTP and expose their tools to the conversation loop.
//
// MCP uses JSON-RPC 2.0. The client discovers tools via tools/list and
// invokes them via tools/call. Discovered tools are bridged into the
// tool registry so they appear as native tools to the model.
//
// This implementation covers the client/host side only — Veris does not
// act as an MCP server.
package mcp
