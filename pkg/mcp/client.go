package mcp

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Transport selects how a ServerConfig connects to its MCP server.
type Transport string

const (
	TransportStdio           Transport = "stdio"
	TransportStreamableHTTP  Transport = "streamable-http"
)

// ServerConfig describes one external MCP server to connect to.
type ServerConfig struct {
	Name      string
	Transport Transport
	Command   string // stdio: executable plus space-separated arguments
	URL       string // streamable-http: endpoint address
	Env       map[string]string
}

type serverConn struct {
	session *mcpsdk.ClientSession
}

// SDKClient is an Executor backed by the official MCP Go SDK. It
// connects to one or more servers, discovers their tool catalogs, and
// routes each ToolCall to whichever server advertised that tool name.
type SDKClient struct {
	mu      sync.RWMutex
	client  *mcpsdk.Client
	servers map[string]serverConn
	owner   map[string]string // tool name -> server name
}

// NewSDKClient builds a client identifying itself as name/version to
// every server it connects to.
func NewSDKClient(name, version string) *SDKClient {
	return &SDKClient{
		client:  mcpsdk.NewClient(&mcpsdk.Implementation{Name: name, Version: version}, nil),
		servers: make(map[string]serverConn),
		owner:   make(map[string]string),
	}
}

// RegisterServer connects to cfg and imports its tool catalog. A
// second call with the same cfg.Name replaces the prior connection.
func (c *SDKClient) RegisterServer(ctx context.Context, cfg ServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("mcp: server config must have a non-empty name")
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case TransportStdio:
		executable, args := splitCommand(cfg.Command)
		if executable == "" {
			return fmt.Errorf("mcp: stdio server %q requires a non-empty command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, executable, args...)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}
	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("mcp: streamable-http server %q requires a non-empty URL", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	default:
		return fmt.Errorf("mcp: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	session, err := c.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("mcp: failed to connect to server %q: %w", cfg.Name, err)
	}

	var names []string
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("mcp: failed to list tools for server %q: %w", cfg.Name, err)
		}
		names = append(names, tool.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.servers[cfg.Name]; ok {
		_ = old.session.Close()
		for tool, owner := range c.owner {
			if owner == cfg.Name {
				delete(c.owner, tool)
			}
		}
	}

	c.servers[cfg.Name] = serverConn{session: session}
	for _, toolName := range names {
		c.owner[toolName] = cfg.Name
	}
	return nil
}

// Execute routes call to the server that advertised it and flattens
// the result's text content into a single string.
func (c *SDKClient) Execute(ctx context.Context, call ToolCall) (string, error) {
	c.mu.RLock()
	serverName, ok := c.owner[call.Name]
	var conn serverConn
	if ok {
		conn = c.servers[serverName]
	}
	c.mu.RUnlock()

	if !ok {
		return "", &UnavailableError{Tool: call.Name}
	}

	result, err := conn.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      call.Name,
		Arguments: call.Arguments,
	})
	if err != nil {
		return "", fmt.Errorf("mcp: call to tool %q failed: %w", call.Name, err)
	}

	var sb strings.Builder
	for _, content := range result.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	if result.IsError {
		return fmt.Sprintf("tool %q reported an error: %s", call.Name, sb.String()), nil
	}
	return sb.String(), nil
}

// Close releases every server connection.
func (c *SDKClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, conn := range c.servers {
		_ = conn.session.Close()
	}
	return nil
}

func splitCommand(command string) (executable string, args []string) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}
