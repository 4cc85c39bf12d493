package mcpserver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/applab-nl/flux-capacitor/internal/orchestrator"
)

// Tool names.
const (
	ToolCreateWorktree   = "create_worktree"
	ToolListWorktrees    = "list_worktrees"
	ToolCleanupWorktree  = "cleanup_worktree"
	ToolLaunchSession    = "launch_session"
	ToolGetSessionStatus = "get_session_status"
	ToolStats            = "stats"
)

func newCallID() string {
	return uuid.NewString()
}

func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.createWorktreeTool(),
		s.listWorktreesTool(),
		s.cleanupWorktreeTool(),
		s.launchSessionTool(),
		s.getSessionStatusTool(),
		s.statsTool(),
	)
}

// handlerFunc runs one orchestrator operation for a tool call.
type handlerFunc func(ctx context.Context, req mcplib.CallToolRequest) (any, error)

// wrap logs the call under a fresh call id and renders its outcome. A
// failed operation becomes an error result carrying {"error": {code, message}}.
func (s *Server) wrap(name string, fn handlerFunc) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
		log := s.logger.WithTool(name, s.newCallID())
		start := time.Now()
		log.Debug("tool call started")

		out, err := fn(ctx, req)
		if err != nil {
			f := orchestrator.NewFailure(err)
			log.Warn("tool call failed",
				"code", string(f.Error.Code),
				"error", f.Error.Message,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return failureResult(f), nil
		}

		b, err := json.Marshal(out)
		if err != nil {
			log.Error("marshal tool result", "error", err.Error())
			return mcplib.NewToolResultErrorFromErr("marshal result", err), nil
		}
		log.Info("tool call finished", "duration_ms", time.Since(start).Milliseconds())
		return mcplib.NewToolResultText(string(b)), nil
	}
}

func failureResult(f orchestrator.Failure) *mcplib.CallToolResult {
	b, err := json.Marshal(f)
	if err != nil {
		return mcplib.NewToolResultError(f.Error.Message)
	}
	return mcplib.NewToolResultError(string(b))
}

func (s *Server) createWorktreeTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: mcplib.NewTool(ToolCreateWorktree,
			mcplib.WithDescription("Create a git worktree for a branch, or return the existing one"),
			mcplib.WithString("repository", mcplib.Required(), mcplib.Description("Path to the repository")),
			mcplib.WithString("branch", mcplib.Required(), mcplib.Description("Branch to check out, created when missing")),
			mcplib.WithString("name", mcplib.Description("Worktree directory name; defaults to <repo>-<branch>")),
			mcplib.WithString("baseBranch", mcplib.Description("Start point for a new branch")),
		),
		Handler: s.wrap(ToolCreateWorktree, s.handleCreateWorktree),
	}
}

func (s *Server) handleCreateWorktree(ctx context.Context, req mcplib.CallToolRequest) (any, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	return s.orch.CreateWorktree(ctx, orchestrator.CreateWorktreeParams{
		Repository: req.GetString("repository", ""),
		Branch:     req.GetString("branch", ""),
		Name:       req.GetString("name", ""),
		BaseBranch: req.GetString("baseBranch", ""),
	})
}

func (s *Server) listWorktreesTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: mcplib.NewTool(ToolListWorktrees,
			mcplib.WithDescription("List worktrees of a repository, or of repositories found near the working directory"),
			mcplib.WithString("repository", mcplib.Description("Path to the repository; omit to discover")),
		),
		Handler: s.wrap(ToolListWorktrees, s.handleListWorktrees),
	}
}

func (s *Server) handleListWorktrees(ctx context.Context, req mcplib.CallToolRequest) (any, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	return s.orch.ListWorktrees(ctx, orchestrator.ListWorktreesParams{
		Repository: req.GetString("repository", ""),
	})
}

func (s *Server) cleanupWorktreeTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: mcplib.NewTool(ToolCleanupWorktree,
			mcplib.WithDescription("Terminate sessions in a worktree and remove it"),
			mcplib.WithString("worktreePath", mcplib.Required(), mcplib.Description("Path of the worktree to remove")),
			mcplib.WithBoolean("force", mcplib.Description("Remove even with modified or untracked files")),
			mcplib.WithBoolean("removeBranch", mcplib.Description("Also delete the worktree's branch")),
		),
		Handler: s.wrap(ToolCleanupWorktree, s.handleCleanupWorktree),
	}
}

func (s *Server) handleCleanupWorktree(ctx context.Context, req mcplib.CallToolRequest) (any, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	return s.orch.CleanupWorktree(ctx, orchestrator.CleanupWorktreeParams{
		WorktreePath: req.GetString("worktreePath", ""),
		Force:        req.GetBool("force", false),
		RemoveBranch: req.GetBool("removeBranch", false),
	})
}

func (s *Server) launchSessionTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: mcplib.NewTool(ToolLaunchSession,
			mcplib.WithDescription("Launch an agent session in a worktree"),
			mcplib.WithString("worktreePath", mcplib.Required(), mcplib.Description("Worktree the agent works in")),
			mcplib.WithString("prompt", mcplib.Required(), mcplib.Description("Task for the agent")),
			mcplib.WithArray("contextFiles", mcplib.WithStringItems(), mcplib.Description("Files the agent should read first")),
			mcplib.WithString("agentName", mcplib.Description("Agent to run")),
		),
		Handler: s.wrap(ToolLaunchSession, s.handleLaunchSession),
	}
}

func (s *Server) handleLaunchSession(ctx context.Context, req mcplib.CallToolRequest) (any, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	return s.orch.LaunchSession(ctx, orchestrator.LaunchSessionParams{
		WorktreePath: req.GetString("worktreePath", ""),
		Prompt:       req.GetString("prompt", ""),
		ContextFiles: req.GetStringSlice("contextFiles", nil),
		AgentName:    req.GetString("agentName", ""),
	})
}

func (s *Server) getSessionStatusTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: mcplib.NewTool(ToolGetSessionStatus,
			mcplib.WithDescription("Report a session's status and recent terminal output"),
			mcplib.WithString("sessionId", mcplib.Required(), mcplib.Description("Session id returned by launch_session")),
		),
		Handler: s.wrap(ToolGetSessionStatus, s.handleGetSessionStatus),
	}
}

func (s *Server) handleGetSessionStatus(ctx context.Context, req mcplib.CallToolRequest) (any, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	return s.orch.GetSessionStatus(ctx, req.GetString("sessionId", ""))
}

func (s *Server) statsTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: mcplib.NewTool(ToolStats,
			mcplib.WithDescription("Count tracked worktrees, sessions and active sessions"),
		),
		Handler: s.wrap(ToolStats, s.handleStats),
	}
}

func (s *Server) handleStats(ctx context.Context, _ mcplib.CallToolRequest) (any, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	return s.orch.Stats(ctx)
}
