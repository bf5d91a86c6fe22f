package mcp

import "context"

// Transport delivers JSON-RPC messages to an MCP server. The only
// implementation today is HTTP; the seam exists so stdio servers can be
// added without touching the client.
type Transport interface {
	// Send sends a JSON-RPC request and returns the response.
	Send(ctx context.Context, req *Request) (*Response, error)

	// Notify sends a JSON-RPC notification (no response expected).
	Notify(ctx context.Context, notif *Notification) error

	// Close shuts down the transport and releases resources.
	Close() error
}
