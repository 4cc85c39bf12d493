// Package mcpserver exposes the orchestrator's operations as tools over a
// stdio tool-call transport. Stdout carries protocol frames only; logs go
// to the configured logger.
package mcpserver

import (
	"context"
	"io"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/applab-nl/flux-capacitor/internal/logging"
	"github.com/applab-nl/flux-capacitor/internal/orchestrator"
)

// Config identifies the server to connecting clients.
type Config struct {
	Name    string
	Version string
}

// Server registers the tools and serves them.
type Server struct {
	orch      *orchestrator.Orchestrator
	logger    *logging.Logger
	mcpServer *mcpserver.MCPServer
	newCallID func() string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithCallIDs overrides call id generation, for tests.
func WithCallIDs(next func() string) Option {
	return func(s *Server) { s.newCallID = next }
}

// New creates a Server with every tool registered.
func New(cfg Config, orch *orchestrator.Orchestrator, opts ...Option) *Server {
	s := &Server{
		orch:      orch,
		logger:    logging.NopLogger(),
		newCallID: newCallID,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mcpServer = mcpserver.NewMCPServer(cfg.Name, cfg.Version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
	)
	s.registerTools()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Serve handles requests from in and writes responses to out until ctx is
// cancelled or in is closed.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info("tool server listening on stdio", "tools", len(s.mcpServer.ListTools()))
	stdio := mcpserver.NewStdioServer(s.mcpServer)
	err := stdio.Listen(ctx, in, out)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
