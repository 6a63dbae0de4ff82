package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Stealinglight/StravaMCP/internal/strava"
)

func (s *Server) handleGetAthleteProfile(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	athlete, err := s.strava.GetAthlete(ctx)
	if err != nil {
		return s.upstreamError("get_athlete_profile", err), nil
	}
	return s.jsonResult(athlete)
}

func (s *Server) handleGetAthleteStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	athlete, err := s.strava.GetAthlete(ctx)
	if err != nil {
		return s.upstreamError("get_athlete_stats", err), nil
	}

	stats, err := s.strava.GetAthleteStats(ctx, athlete.ID)
	if err != nil {
		return s.upstreamError("get_athlete_stats", err), nil
	}
	return s.jsonResult(stats)
}

func (s *Server) handleListActivities(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	opts := strava.ListActivitiesOptions{
		Page:    int(intArg(args, "page")),
		PerPage: int(intArg(args, "per_page")),
	}
	if before := intArg(args, "before"); before > 0 {
		opts.Before = time.Unix(before, 0)
	}
	if after := intArg(args, "after"); after > 0 {
		opts.After = time.Unix(after, 0)
	}

	activities, err := s.strava.ListActivities(ctx, opts)
	if err != nil {
		return s.upstreamError("list_activities", err), nil
	}
	return s.jsonResult(activities)
}

func (s *Server) handleGetActivity(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := intArg(request.GetArguments(), "activity_id")
	if id <= 0 {
		return mcp.NewToolResultError("activity_id is required and must be a positive number"), nil
	}

	activity, err := s.strava.GetActivity(ctx, id)
	if err != nil {
		return s.upstreamError("get_activity", err), nil
	}
	return s.jsonResult(activity)
}

func (s *Server) handleListStarredSegments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	segments, err := s.strava.ListStarredSegments(ctx, strava.ListOptions{
		Page:    int(intArg(args, "page")),
		PerPage: int(intArg(args, "per_page")),
	})
	if err != nil {
		return s.upstreamError("list_starred_segments", err), nil
	}
	return s.jsonResult(segments)
}

func (s *Server) handleGetSegment(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := intArg(request.GetArguments(), "segment_id")
	if id <= 0 {
		return mcp.NewToolResultError("segment_id is required and must be a positive number"), nil
	}

	segment, err := s.strava.GetSegment(ctx, id)
	if err != nil {
		return s.upstreamError("get_segment", err), nil
	}
	return s.jsonResult(segment)
}

// jsonResult marshals an upstream response into tool text.
func (s *Server) jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to format response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// upstreamError converts a Strava failure into a tool error, keeping the
// rate-limit detail when present.
func (s *Server) upstreamError(tool string, err error) *mcp.CallToolResult {
	s.logger.Warn("tool call failed", "tool", tool, "error", err)
	return mcp.NewToolResultError(fmt.Sprintf("Strava request failed: %v", err))
}

// intArg reads a numeric argument. JSON numbers arrive as float64; string
// digits are not accepted.
func intArg(args map[string]any, key string) int64 {
	if v, ok := args[key].(float64); ok {
		return int64(v)
	}
	return 0
}
