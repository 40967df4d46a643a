package resources

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aios-systems/aios/core"
)

type fakeMCPServer struct {
	name  string
	tools []ToolDescriptor
	calls []string
}

func (f *fakeMCPServer) Name() string { return f.name }
func (f *fakeMCPServer) GetTools(ctx context.Context) ([]ToolDescriptor, error) {
	return f.tools, nil
}
func (f *fakeMCPServer) ExecuteTool(ctx context.Context, toolName string, args map[string]interface{}) (map[string]interface{}, error) {
	f.calls = append(f.calls, toolName)
	return map[string]interface{}{"ok": true}, nil
}
func (f *fakeMCPServer) Close() error { return nil }

func TestManagerExecuteUnknownServer(t *testing.T) {
	m := NewManager()
	_, err := m.Execute(context.Background(), "missing", "tool", nil)
	require.Error(t, err)
	assert.True(t, core.IsNotFound(err))
}

func TestManagerExecuteUnknownTool(t *testing.T) {
	m := NewManager()
	m.Register("fs", &fakeMCPServer{name: "fs", tools: []ToolDescriptor{{Name: "read_file"}}})

	_, err := m.Execute(context.Background(), "fs", "write_file", nil)
	require.Error(t, err)
	assert.True(t, core.IsNotFound(err))
}

func TestManagerExecuteDispatchesToServer(t *testing.T) {
	m := NewManager()
	server := &fakeMCPServer{name: "fs", tools: []ToolDescriptor{{Name: "read_file"}}}
	m.Register("fs", server)

	result, err := m.Execute(context.Background(), "fs", "read_file", map[string]interface{}{"path": "a.txt"})
	require.NoError(t, err)
	assert.Equal(t, true, result["ok"])
	assert.Equal(t, []string{"read_file"}, server.calls)
}

func TestNoOpVectorStoreAlwaysUnavailable(t *testing.T) {
	vs := NoOpVectorStore{}
	assert.False(t, vs.Available())
	matches, err := vs.Search(context.Background(), "c", []float32{1}, 5)
	require.NoError(t, err)
	assert.Nil(t, matches)
}
