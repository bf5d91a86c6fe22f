package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/veris-ai/veris/internal/tools"
)

// mcpServer is a minimal scripted MCP server for transport tests.
func mcpServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Mcp-Session", "sess-1")

		switch req.Method {
		case "initialize":
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"protocolVersion":"2024-11-05","serverInfo":{"name":"test-server","version":"1.0"}}}`, req.ID)
		case "notifications/initialized":
			w.WriteHeader(http.StatusAccepted)
		case "tools/list":
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"tools":[{"name":"search-docs","description":"Search documentation","inputSchema":{"type":"object"}}]}}`, req.ID)
		case "tools/call":
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"content":[{"type":"text","text":"found it"}]}}`, req.ID)
		default:
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"error":{"code":-32601,"message":"method not found"}}`, req.ID)
		}
	}))
}

func TestClientHandshakeAndCall(t *testing.T) {
	srv := mcpServer(t)
	defer srv.Close()

	c := NewClient("test", NewHTTPTransport(HTTPConfig{URL: srv.URL}), nil)
	ctx := context.Background()

	if err := c.Initialize(ctx); err != nil {
		t.Fatal(err)
	}

	defs, err := c.ListTools(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(defs) != 1 || defs[0].Name != "search-docs" {
		t.Fatalf("unexpected tools: %+v", defs)
	}

	out, err := c.CallTool(ctx, "search-docs", map[string]any{"q": "x"})
	if err != nil {
		t.Fatal(err)
	}
	if out != "found it" {
		t.Errorf("got %q", out)
	}
}

func TestClientRPCError(t *testing.T) {
	srv := mcpServer(t)
	defer srv.Close()

	c := NewClient("test", NewHTTPTransport(HTTPConfig{URL: srv.URL}), nil)
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("expected rpc error for unscripted method")
	}
}

func TestBridgeTools(t *testing.T) {
	srv := mcpServer(t)
	defer srv.Close()

	c := NewClient("docs", NewHTTPTransport(HTTPConfig{URL: srv.URL}), nil)
	reg := tools.NewRegistry()

	n, err := BridgeTools(context.Background(), c, "docs", reg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("bridged %d tools, want 1", n)
	}

	out, err := reg.Execute(context.Background(), "mcp_docs_search_docs", `{"q":"x"}`)
	if err != nil {
		t.Fatal(err)
	}
	if out != "found it" {
		t.Errorf("got %q", out)
	}
}

func TestToolName(t *testing.T) {
	tests := []struct {
		server, tool, want string
	}{
		{"docs", "search", "mcp_docs_search"},
		{"My-Server", "Do Thing!", "mcp_my_server_do_thing"},
		{"a--b", "__x__", "mcp_a_b_x"},
	}
	for _, tc := range tests {
		if got := ToolName(tc.server, tc.tool); got != tc.want {
			t.Errorf("ToolName(%q,%q) = %q, want %q", tc.server, tc.tool, got, tc.want)
		}
	}
}
