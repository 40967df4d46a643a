package resources

import (
	"context"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/aios-systems/aios/core"
)

// ToolDescriptor is one entry returned by an MCP server's GetTools,
// matching spec §6's "get_tools() → [{name, …}]" contract.
type ToolDescriptor struct {
	Name        string
	Description string
}

// MCPServer is the narrow contract spec §6 requires of a tool-server
// handle: execute a named tool with arguments, and list what it exposes.
// The core performs no schema validation on arguments beyond the
// tool-name check, per spec.
type MCPServer interface {
	Name() string
	GetTools(ctx context.Context) ([]ToolDescriptor, error)
	ExecuteTool(ctx context.Context, toolName string, args map[string]interface{}) (map[string]interface{}, error)
	Close() error
}

// StdioMCPServer wraps an mcp-go client talking to a subprocess over
// stdio: connect, start, initialize, then list/call tools, narrowed to
// the manager's ExecuteTool/GetTools contract.
type StdioMCPServer struct {
	name   string
	client *client.Client

	mu        sync.Mutex
	connected bool
}

// NewStdioMCPServer creates the stdio MCP client for command (with
// args/env). Connect spawns the process and performs the MCP handshake.
func NewStdioMCPServer(name, command string, args []string, env map[string]string) (*StdioMCPServer, error) {
	envList := make([]string, 0, len(env))
	for k, v := range env {
		envList = append(envList, k+"="+v)
	}
	c, err := client.NewStdioMCPClient(command, envList, args...)
	if err != nil {
		return nil, core.NewCoreError(core.LayerResources, core.KindResource, "mcp_client_create_failed",
			"failed to create mcp client", false, err)
	}
	return &StdioMCPServer{name: name, client: c}, nil
}

// Connect starts the subprocess and performs the MCP initialize handshake.
func (s *StdioMCPServer) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}
	if err := s.client.Start(ctx); err != nil {
		return core.NewCoreError(core.LayerResources, core.KindResource, "mcp_start_failed",
			"failed to start mcp server process", true, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "aios", Version: "0.1.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"

	if _, err := s.client.Initialize(ctx, initReq); err != nil {
		s.client.Close()
		return core.NewCoreError(core.LayerResources, core.KindResource, "mcp_init_failed",
			"failed to initialize mcp handshake", true, err)
	}
	s.connected = true
	return nil
}

func (s *StdioMCPServer) Name() string { return s.name }

// GetTools lists the tools the server declares, per spec §6.
func (s *StdioMCPServer) GetTools(ctx context.Context) ([]ToolDescriptor, error) {
	resp, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, core.NewCoreError(core.LayerResources, core.KindResource, "mcp_list_tools_failed",
			"failed to list mcp tools", true, err)
	}
	tools := make([]ToolDescriptor, 0, len(resp.Tools))
	for _, t := range resp.Tools {
		tools = append(tools, ToolDescriptor{Name: t.Name, Description: t.Description})
	}
	return tools, nil
}

// ExecuteTool calls toolName with args and flattens the MCP text-content
// response into a plain map, per spec §6's execute_tool contract.
func (s *StdioMCPServer) ExecuteTool(ctx context.Context, toolName string, args map[string]interface{}) (map[string]interface{}, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = args

	resp, err := s.client.CallTool(ctx, req)
	if err != nil {
		return nil, core.NewCoreError(core.LayerResources, core.KindResource, "mcp_call_failed",
			"mcp tool call failed", true, err)
	}

	out := map[string]interface{}{}
	var texts []string
	for _, c := range resp.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	if len(texts) > 0 {
		out["text"] = texts
	}
	out["is_error"] = resp.IsError
	return out, nil
}

// Close shuts down the subprocess.
func (s *StdioMCPServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	s.connected = false
	return s.client.Close()
}

// Manager registers MCP server handles by name and dispatches
// ExecuteTool/GetTools calls to them, returning core.ErrMCPServerUnknown
// or core.ErrMCPToolUnknown when the caller names something unregistered.
type Manager struct {
	mu      sync.RWMutex
	servers map[string]MCPServer
}

// NewManager builds an empty Manager.
func NewManager() *Manager {
	return &Manager{servers: map[string]MCPServer{}}
}

// Register adds or replaces a server handle under name.
func (m *Manager) Register(name string, server MCPServer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.servers[name] = server
}

// Unregister removes and closes the named server, if present.
func (m *Manager) Unregister(name string) error {
	m.mu.Lock()
	server, ok := m.servers[name]
	if ok {
		delete(m.servers, name)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return server.Close()
}

// Execute dispatches toolName on the named server after checking the
// server declares it, satisfying spec §6's "no schema validation beyond
// the tool-name check" rule.
func (m *Manager) Execute(ctx context.Context, serverName, toolName string, args map[string]interface{}) (map[string]interface{}, error) {
	m.mu.RLock()
	server, ok := m.servers[serverName]
	m.mu.RUnlock()
	if !ok {
		return nil, core.NewCoreError(core.LayerResources, core.KindResource, "mcp_server_unknown",
			"mcp server not registered", false, core.ErrMCPServerUnknown).WithDetail("server", serverName)
	}

	tools, err := server.GetTools(ctx)
	if err != nil {
		return nil, err
	}
	found := false
	for _, t := range tools {
		if t.Name == toolName {
			found = true
			break
		}
	}
	if !found {
		return nil, core.NewCoreError(core.LayerResources, core.KindResource, "mcp_tool_unknown",
			"tool not declared by mcp server", false, core.ErrMCPToolUnknown).
			WithDetail("server", serverName).WithDetail("tool", toolName)
	}

	return server.ExecuteTool(ctx, toolName, args)
}

// Shutdown closes every registered server.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for name, server := range m.servers {
		if err := server.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.servers, name)
	}
	return firstErr
}
