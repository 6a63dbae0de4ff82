// Package mcpserver exposes the Strava API as MCP tools. Each tool is a
// thin shim: parse arguments, call upstream, return the JSON response as
// tool text.
package mcpserver

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Stealinglight/StravaMCP/internal/strava"
)

// ServerName and ServerVersion identify the MCP server to clients.
const (
	ServerName    = "strava-mcp"
	ServerVersion = "1.0.0"
)

// StravaAPI is the upstream surface the tools call. Satisfied by
// *strava.Client.
type StravaAPI interface {
	GetAthlete(ctx context.Context) (*strava.Athlete, error)
	GetAthleteStats(ctx context.Context, athleteID int64) (*strava.AthleteStats, error)
	ListActivities(ctx context.Context, opts strava.ListActivitiesOptions) ([]strava.Activity, error)
	GetActivity(ctx context.Context, activityID int64) (*strava.Activity, error)
	ListStarredSegments(ctx context.Context, opts strava.ListOptions) ([]strava.Segment, error)
	GetSegment(ctx context.Context, segmentID int64) (*strava.Segment, error)
}

// Server wires the Strava tools into an mcp-go server.
type Server struct {
	mcpServer *server.MCPServer
	strava    StravaAPI
	logger    *slog.Logger
}

// New creates the MCP server with all Strava tools registered.
func New(api StravaAPI, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcpServer: server.NewMCPServer(
			ServerName,
			ServerVersion,
			server.WithToolCapabilities(false),
			server.WithInstructions("Tools for querying the connected athlete's Strava profile, activities, and segments."),
		),
		strava: api,
		logger: logger,
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server for transport wiring.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// HandleMessage processes one JSON-RPC message.
func (s *Server) HandleMessage(ctx context.Context, message json.RawMessage) mcp.JSONRPCMessage {
	return s.mcpServer.HandleMessage(ctx, message)
}

// requireAPI rejects tool calls when the gateway was started without
// upstream Strava credentials.
func (s *Server) requireAPI(handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if s.strava == nil {
			return mcp.NewToolResultError("Strava credentials are not configured on this server"), nil
		}
		return handler(ctx, request)
	}
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("get_athlete_profile",
		mcp.WithDescription("Get the connected athlete's Strava profile."),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.requireAPI(s.handleGetAthleteProfile))

	s.mcpServer.AddTool(mcp.NewTool("get_athlete_stats",
		mcp.WithDescription("Get rolled-up activity statistics (recent, year-to-date, all-time) for the connected athlete."),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.requireAPI(s.handleGetAthleteStats))

	s.mcpServer.AddTool(mcp.NewTool("list_activities",
		mcp.WithDescription("List the connected athlete's activities, newest first."),
		mcp.WithNumber("page",
			mcp.Description("Page number, starting at 1.")),
		mcp.WithNumber("per_page",
			mcp.Description("Activities per page, up to 200. Defaults to 30.")),
		mcp.WithNumber("before",
			mcp.Description("Only activities started before this Unix timestamp.")),
		mcp.WithNumber("after",
			mcp.Description("Only activities started after this Unix timestamp.")),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.requireAPI(s.handleListActivities))

	s.mcpServer.AddTool(mcp.NewTool("get_activity",
		mcp.WithDescription("Get one activity in full detail, including description and calories."),
		mcp.WithNumber("activity_id",
			mcp.Required(),
			mcp.Description("The Strava activity ID.")),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.requireAPI(s.handleGetActivity))

	s.mcpServer.AddTool(mcp.NewTool("list_starred_segments",
		mcp.WithDescription("List the segments the connected athlete has starred."),
		mcp.WithNumber("page",
			mcp.Description("Page number, starting at 1.")),
		mcp.WithNumber("per_page",
			mcp.Description("Segments per page. Defaults to 30.")),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.requireAPI(s.handleListStarredSegments))

	s.mcpServer.AddTool(mcp.NewTool("get_segment",
		mcp.WithDescription("Get one segment in full detail, including effort and athlete counts."),
		mcp.WithNumber("segment_id",
			mcp.Required(),
			mcp.Description("The Strava segment ID.")),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.requireAPI(s.handleGetSegment))
}
