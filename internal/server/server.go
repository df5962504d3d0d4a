// Package server provides the MCP adapter that exposes SharedContext
// operations as tools and resources.
package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/localrivet/gomcp/server"

	"github.com/localrivet/sharedcontext/internal/contextstore"
	"github.com/localrivet/sharedcontext/internal/errortypes"
	"github.com/localrivet/sharedcontext/internal/service"
	"github.com/localrivet/sharedcontext/internal/tools"
)

// DefaultRequestTimeout bounds each call to the REST server.
const DefaultRequestTimeout = 30 * time.Second

// Transports the adapter can serve on.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// ContextClient is the subset of the REST client the adapter uses.
type ContextClient interface {
	CreateContext(ctx context.Context, entries []string, readme *string) (*service.CreateResult, error)
	AddEntry(ctx context.Context, contextID, content string) (*service.EntryView, error)
	UpdateReadme(ctx context.Context, contextID, readme string) (bool, error)
	ListContexts(ctx context.Context, limit, offset int) (*service.ContextsPage, error)
	GetReadme(ctx context.Context, contextID string) (*string, error)
	GetContext(ctx context.Context, contextID string, order contextstore.Order, limit, offset int) (*service.EntriesPage, error)
}

// MCPContextToolServer implements the ContextToolServer interface
// by forwarding MCP tool calls to the SharedContext REST server.
type MCPContextToolServer struct {
	client    ContextClient
	logger    *slog.Logger
	timeout   time.Duration
	transport string
	httpAddr  string
	mcpServer server.Server
}

// Option configures an MCPContextToolServer.
type Option func(*MCPContextToolServer)

// WithTransport selects stdio or http. addr is the listen address for http.
func WithTransport(transport, addr string) Option {
	return func(s *MCPContextToolServer) {
		s.transport = transport
		s.httpAddr = addr
	}
}

// NewContextToolServer creates a new MCPContextToolServer instance.
// It serves on stdio unless WithTransport says otherwise.
func NewContextToolServer(client ContextClient, logger *slog.Logger, opts ...Option) *MCPContextToolServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &MCPContextToolServer{
		client:    client,
		logger:    logger,
		timeout:   DefaultRequestTimeout,
		transport: TransportStdio,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MCPContextToolServer) validateTransport() error {
	switch s.transport {
	case TransportStdio, "":
		return nil
	case TransportHTTP:
		if s.httpAddr == "" {
			return errortypes.ConfigError(errors.New("http transport needs a listen address"), "invalid MCP transport")
		}
		return nil
	default:
		return errortypes.ConfigError(errors.New("unknown transport "+s.transport), "invalid MCP transport").
			WithField("transport", s.transport)
	}
}

// Initialize registers the tools and the context resource.
func (s *MCPContextToolServer) Initialize() error {
	s.logger.Info("Initializing MCP Context Tool Server")

	if s.client == nil {
		return errortypes.ConfigError(errors.New("missing REST client"), "server initialization failed")
	}
	if err := s.validateTransport(); err != nil {
		return err
	}

	s.mcpServer = s.Register(server.NewServer("sharedcontext"))
	s.logger.Info("MCP Context Tool Server initialized successfully", "tool_count", 5, "resource_count", 1)
	return nil
}

// Register adds the SharedContext tools and the context resource to srv.
// It lets another gomcp server expose them next to its own tools.
func (s *MCPContextToolServer) Register(srv server.Server) server.Server {
	srv = srv.Tool(tools.ToolCreateContext, "Create a new shared context with optional initial entries and README",
		s.handleCreateContext)
	srv = srv.Tool(tools.ToolAddEntry, "Append an entry to a shared context",
		s.handleAddEntry)
	srv = srv.Tool(tools.ToolUpdateReadme, "Replace the README of a shared context",
		s.handleUpdateReadme)
	srv = srv.Tool(tools.ToolListContexts, "List shared contexts, newest first",
		s.handleListContexts)
	srv = srv.Tool(tools.ToolGetReadme, "Read the README of a shared context",
		s.handleGetReadme)

	return srv.Resource(tools.ResourceContext, "A shared context with its README and latest entries",
		s.handleContextResource)
}

// Start runs the MCP server on the configured transport. On stdio it
// returns when stdin closes.
func (s *MCPContextToolServer) Start() error {
	if s.mcpServer == nil {
		return errortypes.ConfigError(errors.New("server not initialized"), "cannot start server")
	}

	if s.transport == TransportHTTP {
		s.logger.Info("Starting MCP Context Tool Server", "transport", TransportHTTP, "addr", s.httpAddr)
		return s.mcpServer.AsHTTP(s.httpAddr).Run()
	}

	s.logger.Info("Starting MCP Context Tool Server", "transport", TransportStdio)
	return s.mcpServer.AsStdio().Run()
}

// Stop gracefully shuts down the MCP server.
func (s *MCPContextToolServer) Stop() error {
	s.logger.Info("Stopping MCP Context Tool Server")
	// The stdio server exits when stdin closes, the http server when the process does
	return nil
}

func (s *MCPContextToolServer) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *MCPContextToolServer) fail(action string, err error) string {
	errortypes.LogError(s.logger, err)
	return formatToolError(action, err)
}

func (s *MCPContextToolServer) handleCreateContext(ctx *server.Context, req tools.CreateContextRequest) (tools.CreateContextResponse, error) {
	s.logger.Info("Processing create_context request", "entries", len(req.Entries))
	response := tools.CreateContextResponse{Status: tools.StatusSuccess}

	entries := make([]string, 0, len(req.Entries))
	for _, e := range req.Entries {
		entries = append(entries, e.Content)
	}

	rctx, cancel := s.requestContext()
	defer cancel()

	res, err := s.client.CreateContext(rctx, entries, req.Readme)
	if err != nil {
		response.Status = tools.StatusError
		response.Error = s.fail("creating context", err)
		return response, nil
	}

	response.ContextID = res.ContextID
	response.URI = res.URI
	response.Message = formatCreated(res.ContextID)
	return response, nil
}

func (s *MCPContextToolServer) handleAddEntry(ctx *server.Context, req tools.AddEntryRequest) (tools.AddEntryResponse, error) {
	s.logger.Info("Processing add_entry request", "context_id", req.ContextID, "content_length", len(req.Content))
	response := tools.AddEntryResponse{Status: tools.StatusSuccess}

	if err := req.Validate(); err != nil {
		response.Status = tools.StatusError
		response.Error = s.fail("adding entry", err)
		return response, nil
	}

	rctx, cancel := s.requestContext()
	defer cancel()

	entry, err := s.client.AddEntry(rctx, req.ContextID, req.Content)
	if err != nil {
		response.Status = tools.StatusError
		response.Error = s.fail("adding entry", err)
		return response, nil
	}

	response.ID = entry.ID
	response.Timestamp = entry.Timestamp
	response.Message = formatAdded(entry)
	return response, nil
}

func (s *MCPContextToolServer) handleUpdateReadme(ctx *server.Context, req tools.UpdateReadmeRequest) (tools.UpdateReadmeResponse, error) {
	s.logger.Info("Processing update_readme request", "context_id", req.ContextID)
	response := tools.UpdateReadmeResponse{Status: tools.StatusSuccess}

	if err := req.Validate(); err != nil {
		response.Status = tools.StatusError
		response.Error = s.fail("updating README", err)
		return response, nil
	}

	rctx, cancel := s.requestContext()
	defer cancel()

	if _, err := s.client.UpdateReadme(rctx, req.ContextID, req.Readme); err != nil {
		response.Status = tools.StatusError
		response.Error = s.fail("updating README", err)
		return response, nil
	}

	response.Message = formatReadmeUpdated(req.ContextID)
	return response, nil
}

func (s *MCPContextToolServer) handleListContexts(ctx *server.Context, req tools.ListContextsRequest) (tools.ListContextsResponse, error) {
	response := tools.ListContextsResponse{Status: tools.StatusSuccess}

	limit, offset, err := req.Page()
	if err != nil {
		response.Status = tools.StatusError
		response.Error = s.fail("listing contexts", err)
		return response, nil
	}
	s.logger.Info("Processing list_contexts request", "limit", limit, "offset", offset)

	rctx, cancel := s.requestContext()
	defer cancel()

	page, err := s.client.ListContexts(rctx, limit, offset)
	if err != nil {
		response.Status = tools.StatusError
		response.Error = s.fail("listing contexts", err)
		return response, nil
	}

	response.Total = page.Total
	for _, c := range page.Contexts {
		response.Contexts = append(response.Contexts, tools.ContextSummary{ID: c.ID, URI: c.URI, Readme: c.Readme})
	}
	response.Message = formatContextList(page)
	return response, nil
}

func (s *MCPContextToolServer) handleGetReadme(ctx *server.Context, req tools.GetReadmeRequest) (tools.GetReadmeResponse, error) {
	response := tools.GetReadmeResponse{Status: tools.StatusSuccess}

	if err := req.Validate(); err != nil {
		response.Status = tools.StatusError
		response.Error = s.fail("getting README", err)
		return response, nil
	}

	rctx, cancel := s.requestContext()
	defer cancel()

	readme, err := s.client.GetReadme(rctx, req.ContextID)
	if err != nil {
		response.Status = tools.StatusError
		response.Error = s.fail("getting README", err)
		return response, nil
	}

	response.Readme = readme
	return response, nil
}

// handleContextResource renders context://{contextId}. A README that cannot
// be fetched is left out rather than failing the read.
func (s *MCPContextToolServer) handleContextResource(ctx *server.Context, args tools.ContextResourceArgs) (string, error) {
	if err := tools.ValidateContextID(args.ContextID); err != nil {
		return "", err
	}

	order, limit, offset, err := args.Page()
	if err != nil {
		return "", err
	}

	rctx, cancel := s.requestContext()
	defer cancel()

	readme, err := s.client.GetReadme(rctx, args.ContextID)
	if err != nil {
		s.logger.Warn("README unavailable for context resource", "context_id", args.ContextID, "error", err)
		readme = nil
	}

	page, err := s.client.GetContext(rctx, args.ContextID, order, limit, offset)
	if err != nil {
		errortypes.LogError(s.logger, err)
		return "", err
	}

	return formatContextResource(args.ContextID, readme, order, page), nil
}
