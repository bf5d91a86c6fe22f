package tools

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func testRegistry() *Registry {
	r := NewRegistry()
	r.Register(&Tool{
		Name:        "echo",
		Description: "echoes its input",
		Parameters:  map[string]any{"type": "object"},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			msg, _ := args["msg"].(string)
			return msg, nil
		},
	})
	r.Register(&Tool{
		Name:        "fail",
		Description: "always fails",
		Parameters:  map[string]any{"type": "object"},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return "", fmt.Errorf("boom")
		},
	})
	return r
}

func TestExecute(t *testing.T) {
	r := testRegistry()
	got, err := r.Execute(context.Background(), "echo", `{"msg":"hi"}`)
	if err != nil {
		t.Fatal(err)
	}
	if got != "hi" {
		t.Errorf("got %q, want hi", got)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	r := testRegistry()
	_, err := r.Execute(context.Background(), "nope", "{}")
	var unavail *ErrToolUnavailable
	if !errors.As(err, &unavail) {
		t.Fatalf("expected ErrToolUnavailable, got %v", err)
	}
	if unavail.ToolName != "nope" {
		t.Errorf("ToolName = %q", unavail.ToolName)
	}
}

func TestExecuteBadArguments(t *testing.T) {
	r := testRegistry()
	if _, err := r.Execute(context.Background(), "echo", `{broken`); err == nil {
		t.Fatal("expected error for invalid JSON arguments")
	}
}

func TestDefinitionsFilter(t *testing.T) {
	r := testRegistry()

	all := r.Definitions(nil)
	if len(all) != 2 {
		t.Fatalf("expected 2 definitions, got %d", len(all))
	}

	only := r.Definitions([]string{"echo", "missing"})
	if len(only) != 1 {
		t.Fatalf("expected 1 definition, got %d", len(only))
	}
	fn := only[0]["function"].(map[string]any)
	if fn["name"] != "echo" {
		t.Errorf("filtered definition = %v", fn["name"])
	}
}

func TestNamesSorted(t *testing.T) {
	r := testRegistry()
	names := r.Names()
	if len(names) != 2 || names[0] != "echo" || names[1] != "fail" {
		t.Errorf("Names = %v", names)
	}
}
