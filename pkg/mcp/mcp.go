// Package mcp implements the opaque tool-call surface described in
// spec.md §6: the core only ever sees a tool's name, its arguments, and
// a string result, forwarding everything else to an external MCP
// executor.
package mcp

import "context"

// ToolCall is what a backend adapter signals when it wants to invoke a
// tool mid-generation.
type ToolCall struct {
	Name      string
	Arguments map[string]interface{}
}

// Executor runs a ToolCall against whatever backs the tool (an MCP
// server, a builtin Go function, anything) and returns its textual
// result. A non-nil error means the call itself failed (transport,
// protocol, unknown tool); an application-level failure should still
// come back as a successful string result describing the failure, so
// the orchestrator can feed it back to the generating voice as a
// synthetic message.
type Executor interface {
	Execute(ctx context.Context, call ToolCall) (string, error)
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, call ToolCall) (string, error)

func (f ExecutorFunc) Execute(ctx context.Context, call ToolCall) (string, error) {
	return f(ctx, call)
}

// Unavailable is the Executor used when no MCP servers are configured;
// every call fails closed rather than silently no-op'ing.
var Unavailable Executor = ExecutorFunc(func(_ context.Context, call ToolCall) (string, error) {
	return "", &UnavailableError{Tool: call.Name}
})

// UnavailableError reports that no executor is wired up to run a tool.
type UnavailableError struct {
	Tool string
}

func (e *UnavailableError) Error() string {
	return "mcp: no executor configured for tool " + e.Tool
}
