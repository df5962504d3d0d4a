package server

// ContextToolServer defines the interface for the MCP adapter that serves
// shared-context tool calls and resource reads from MCP clients.
type ContextToolServer interface {
	// Initialize registers tools and resources.
	Initialize() error

	// Start starts the MCP server on the stdio transport.
	Start() error

	// Stop gracefully shuts down the MCP server.
	Stop() error
}

var _ ContextToolServer = (*MCPContextToolServer)(nil)
