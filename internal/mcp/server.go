// Package mcp exposes the orchestrator as an MCP tool surface.
//
// The server speaks stdio by default; with defaultTransport=http it
// serves the streamable HTTP transport alongside /health and /metrics.
package mcp

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/jsonschema-go/jsonschema"
	mcp_sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/HyphaGroup/iris/internal/config"
	"github.com/HyphaGroup/iris/internal/logger"
	"github.com/HyphaGroup/iris/internal/metrics"
	"github.com/HyphaGroup/iris/internal/orchestrator"
)

const serverVersion = "0.1.0"

// Server wraps the MCP server around the orchestrator.
type Server struct {
	cfg       *config.Config
	orch      *orchestrator.Orchestrator
	mcpServer *mcp_sdk.Server
}

// NewServer builds the MCP server and registers every tool.
func NewServer(cfg *config.Config, orch *orchestrator.Orchestrator) *Server {
	s := &Server{
		cfg:  cfg,
		orch: orch,
		mcpServer: mcp_sdk.NewServer(&mcp_sdk.Implementation{
			Name:    "iris",
			Version: serverVersion,
		}, nil),
	}
	s.registerTools()
	return s
}

// ServeStdio runs the server over stdin/stdout until the client hangs
// up or ctx is canceled.
func (s *Server) ServeStdio(ctx context.Context) error {
	logger.Info("iris MCP server on stdio")
	return s.mcpServer.Run(ctx, &mcp_sdk.StdioTransport{})
}

// ServeHTTP runs the streamable HTTP transport on addr, with health and
// metrics endpoints next to it.
func (s *Server) ServeHTTP(addr string) error {
	mcpHandler := mcp_sdk.NewStreamableHTTPHandler(func(*http.Request) *mcp_sdk.Server {
		return s.mcpServer
	}, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/report", s.handleReport)
	mux.Handle("/mcp", mcpHandler)
	mux.Handle("/mcp/", mcpHandler)

	logger.Info("iris MCP server listening", "addr", addr)
	return http.ListenAndServe(addr, mux)
}

// DashboardHandler returns the status surface served when the dashboard
// is enabled: /health, /metrics and a JSON /report snapshot.
func (s *Server) DashboardHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/report", s.handleReport)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleReport(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.orch.GetReport())
}

// registerTools wires every orchestrator operation up as an MCP tool.
func (s *Server) registerTools() {
	mcp_sdk.AddTool(s.mcpServer, &mcp_sdk.Tool{
		Name: "tell",
		Description: `Send a message to a team and wait for its reply.

Set waitForResponse=false (or timeoutMs=-1) to queue the message and get a task ID back
instead of waiting. timeoutMs=0 waits without bound. A busy team answers with
status "busy" and keeps working on its current request.`,
	}, s.handleTell)

	mcp_sdk.AddTool(s.mcpServer, &mcp_sdk.Tool{
		Name: "wake",
		Description: `Start agent processes for one or more teams so later tells hit a warm agent.

Idempotent: already-running teams report "already_awake". Set parallel=true to wake
all teams at once instead of one after another.`,
	}, s.handleWake)

	mcp_sdk.AddTool(s.mcpServer, &mcp_sdk.Tool{
		Name: "sleep",
		Description: `Stop a team's agent process.

A team mid-request refuses unless force=true; forcing reports how many in-flight
requests were lost. clearCache additionally drops the finished reply history.`,
	}, s.handleSleep)

	mcp_sdk.AddTool(s.mcpServer, &mcp_sdk.Tool{
		Name: "reboot",
		Description: `Tear a team's conversation down completely and start fresh.

Terminates the process, deletes the session (including the agent's session file)
and returns the new session ID. The team loses all conversation history.`,
	}, s.handleReboot)

	mcp_sdk.AddTool(s.mcpServer, &mcp_sdk.Tool{
		Name: "compact",
		Description: `Shrink a team's conversation context in place.

Runs the agent's /compact against the stored session, retrying on failure.
History survives in compacted form; use reboot to wipe it instead.`,
	}, s.handleCompact)

	mcp_sdk.AddTool(s.mcpServer, &mcp_sdk.Tool{
		Name: "cancel",
		Description: `Send a best-effort interrupt to a team's agent.

Reports whether a live process was found. The agent may ignore the interrupt;
this is not a guaranteed cancellation.`,
	}, s.handleCancel)

	mcp_sdk.AddTool(s.mcpServer, &mcp_sdk.Tool{
		Name:        "isAwake",
		Description: `Check whether a team's agent process is running and what it is doing.`,
	}, s.handleIsAwake)

	// The no-argument tools get an explicit empty object schema instead of
	// one generated from their empty param struct.
	mcp_sdk.AddTool(s.mcpServer, &mcp_sdk.Tool{
		Name:        "teams",
		Description: `List the configured teams with their descriptions and awake state.`,
		InputSchema: &jsonschema.Schema{Type: "object"},
	}, s.handleTeams)

	mcp_sdk.AddTool(s.mcpServer, &mcp_sdk.Tool{
		Name:        "report",
		Description: `Full status snapshot: teams, pooled processes, session stats and queue depth.`,
		InputSchema: &jsonschema.Schema{Type: "object"},
	}, s.handleReportTool)
}

// Addr returns the HTTP listen address from config.
func (s *Server) Addr() string {
	port := s.cfg.Settings.HTTPPort
	if port == 0 {
		port = config.DefaultHTTPPort
	}
	return fmt.Sprintf(":%d", port)
}
