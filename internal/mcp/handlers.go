package mcp

import (
	"context"
	"encoding/json"
	"net/http"

	mcp_sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/HyphaGroup/iris/internal/iriserr"
	"github.com/HyphaGroup/iris/internal/metrics"
	"github.com/HyphaGroup/iris/internal/orchestrator"
	"github.com/HyphaGroup/iris/internal/validation"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// recordCall bumps the tool call counter with the outcome.
func recordCall(tool string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ToolCalls.WithLabelValues(tool, status).Inc()
}

type tellParams struct {
	Team            string `json:"team" jsonschema:"team to deliver the message to"`
	Message         string `json:"message" jsonschema:"message text"`
	FromTeam        string `json:"fromTeam,omitempty" jsonschema:"calling team, defaults to external"`
	TimeoutMs       int64  `json:"timeoutMs,omitempty" jsonschema:"response wait in ms; 0 unbounded, -1 async"`
	WaitForResponse *bool  `json:"waitForResponse,omitempty" jsonschema:"false queues the tell and returns a task ID"`
	ClearCache      *bool  `json:"clearCache,omitempty" jsonschema:"drop finished reply history first, default true"`
}

func (s *Server) handleTell(ctx context.Context, _ *mcp_sdk.CallToolRequest, params tellParams) (*mcp_sdk.CallToolResult, *orchestrator.TellResult, error) {
	wait := params.WaitForResponse == nil || *params.WaitForResponse
	res, err := s.orch.Tell(ctx, params.FromTeam, params.Team, params.Message, orchestrator.TellOptions{
		TimeoutMs:       params.TimeoutMs,
		WaitForResponse: wait,
		ClearCache:      params.ClearCache,
	})
	recordCall("tell", err)
	if err != nil {
		return nil, nil, sanitizeError(err, "tell")
	}
	return nil, res, nil
}

type wakeParams struct {
	Teams    []string `json:"teams" jsonschema:"teams to wake"`
	Parallel bool     `json:"parallel,omitempty" jsonschema:"wake all teams concurrently"`
}

type wakeReply struct {
	Results []orchestrator.WakeResult `json:"results"`
}

func (s *Server) handleWake(ctx context.Context, _ *mcp_sdk.CallToolRequest, params wakeParams) (*mcp_sdk.CallToolResult, *wakeReply, error) {
	if len(params.Teams) == 0 {
		err := iriserr.Validation("teams", "at least one team is required")
		recordCall("wake", err)
		return nil, nil, sanitizeError(err, "wake")
	}
	results := s.orch.Wake(ctx, params.Teams, params.Parallel)
	recordCall("wake", nil)
	return nil, &wakeReply{Results: results}, nil
}

type sleepParams struct {
	Team       string `json:"team" jsonschema:"team to put to sleep"`
	Force      bool   `json:"force,omitempty" jsonschema:"cut off a busy agent"`
	ClearCache bool   `json:"clearCache,omitempty" jsonschema:"drop the reply history too"`
}

func (s *Server) handleSleep(_ context.Context, _ *mcp_sdk.CallToolRequest, params sleepParams) (*mcp_sdk.CallToolResult, *orchestrator.SleepResult, error) {
	res, err := s.orch.Sleep(params.Team, params.Force, params.ClearCache)
	recordCall("sleep", err)
	if err != nil {
		return nil, nil, sanitizeError(err, "sleep")
	}
	return nil, res, nil
}

type pairParams struct {
	Team     string `json:"team" jsonschema:"target team"`
	FromTeam string `json:"fromTeam,omitempty" jsonschema:"calling team, defaults to external"`
}

type rebootReply struct {
	Team      string `json:"team"`
	SessionID string `json:"session_id"`
}

func (s *Server) handleReboot(ctx context.Context, _ *mcp_sdk.CallToolRequest, params pairParams) (*mcp_sdk.CallToolResult, *rebootReply, error) {
	sess, err := s.orch.Reboot(ctx, params.FromTeam, params.Team)
	recordCall("reboot", err)
	if err != nil {
		return nil, nil, sanitizeError(err, "reboot")
	}
	return nil, &rebootReply{Team: params.Team, SessionID: sess.SessionID}, nil
}

type compactParams struct {
	Team      string `json:"team" jsonschema:"target team"`
	FromTeam  string `json:"fromTeam,omitempty" jsonschema:"calling team, defaults to external"`
	TimeoutMs int64  `json:"timeoutMs,omitempty" jsonschema:"per-attempt timeout in ms"`
	Retries   int    `json:"retries,omitempty" jsonschema:"extra attempts after the first failure"`
}

type compactReply struct {
	Team   string `json:"team"`
	Status string `json:"status"`
}

func (s *Server) handleCompact(ctx context.Context, _ *mcp_sdk.CallToolRequest, params compactParams) (*mcp_sdk.CallToolResult, *compactReply, error) {
	err := s.orch.Compact(ctx, params.FromTeam, params.Team, orchestrator.CompactOptions{
		TimeoutMs: params.TimeoutMs,
		Retries:   params.Retries,
	})
	recordCall("compact", err)
	if err != nil {
		return nil, nil, sanitizeError(err, "compact")
	}
	return nil, &compactReply{Team: params.Team, Status: "compacted"}, nil
}

type cancelReply struct {
	Team  string `json:"team"`
	Found bool   `json:"found"`
}

func (s *Server) handleCancel(_ context.Context, _ *mcp_sdk.CallToolRequest, params pairParams) (*mcp_sdk.CallToolResult, *cancelReply, error) {
	found, err := s.orch.Cancel(params.FromTeam, params.Team)
	recordCall("cancel", err)
	if err != nil {
		return nil, nil, sanitizeError(err, "cancel")
	}
	return nil, &cancelReply{Team: params.Team, Found: found}, nil
}

func (s *Server) handleIsAwake(_ context.Context, _ *mcp_sdk.CallToolRequest, params pairParams) (*mcp_sdk.CallToolResult, *orchestrator.AwakeStatus, error) {
	if err := validation.ValidateTeamName(params.Team); err != nil {
		recordCall("isAwake", err)
		return nil, nil, sanitizeError(err, "isAwake")
	}
	status := s.orch.IsAwake(params.FromTeam, params.Team)
	recordCall("isAwake", nil)
	return nil, &status, nil
}

type emptyParams struct{}

type teamsReply struct {
	Teams []orchestrator.TeamInfo `json:"teams"`
}

func (s *Server) handleTeams(_ context.Context, _ *mcp_sdk.CallToolRequest, _ emptyParams) (*mcp_sdk.CallToolResult, *teamsReply, error) {
	recordCall("teams", nil)
	return nil, &teamsReply{Teams: s.orch.Teams()}, nil
}

func (s *Server) handleReportTool(_ context.Context, _ *mcp_sdk.CallToolRequest, _ emptyParams) (*mcp_sdk.CallToolResult, *orchestrator.Report, error) {
	recordCall("report", nil)
	return nil, s.orch.GetReport(), nil
}
