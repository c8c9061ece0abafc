// Package server assembles the MCP server: the tool catalog, the dispatch
// handlers bridging tool calls onto the Doppler client, and the optional
// doppler:// resource surface.
//
// Error containment: no handler ever returns a Go error to the MCP layer.
// Every failure, validation or remote, becomes a normal tool result whose
// text starts with "Error:", so the host distinguishes success from failure
// by content, never by a protocol-level fault.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/doppler-mcp/internal/doppler"
	"github.com/jkaninda/doppler-mcp/internal/observability"
)

// Config configures the MCP server assembly.
type Config struct {
	Version   string // Server version reported in the MCP handshake.
	ReadWrite bool   // Advertise the write/promote/token/audit tool set.
	Resources bool   // Advertise the doppler:// resource surface.

	// Observability. Both may be nil.
	Metrics *observability.MetricsCollector
	Tracer  trace.Tracer
}

// Server dispatches MCP tool calls onto one Doppler client.
// Stateless per call: nothing is held between dispatches.
type Server struct {
	cfg     Config
	client  *doppler.Client
	logger  *slog.Logger
	mcp     *mcpserver.MCPServer
	entries []toolEntry
}

// New wires the tool catalog and handlers into an MCP server. The Doppler
// client is injected; the server owns no hidden shared state.
func New(client *doppler.Client, cfg Config, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		client: client,
		logger: logger,
	}

	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s.mcp = mcpserver.NewMCPServer(
		"doppler-mcp",
		version,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithResourceCapabilities(false, false),
		mcpserver.WithRecovery(),
		mcpserver.WithInstructions(serverInstructions(cfg.ReadWrite)),
	)

	s.entries = s.toolset(cfg.ReadWrite)
	for _, e := range s.entries {
		s.mcp.AddTool(e.tool, s.instrument(e.tool.Name, e.handler))
	}

	if cfg.Resources {
		s.registerResources()
	}

	return s
}

// Catalog returns the advertised tool descriptors, in registration order.
func (s *Server) Catalog() []mcp.Tool {
	tools := make([]mcp.Tool, 0, len(s.entries))
	for _, e := range s.entries {
		tools = append(tools, e.tool)
	}
	return tools
}

// MCP exposes the underlying MCP server for transport mounting.
func (s *Server) MCP() *mcpserver.MCPServer {
	return s.mcp
}

// ServeStdio runs the server on stdin/stdout until the stream closes or
// ctx is canceled. Logs must go to stderr in this mode.
func (s *Server) ServeStdio(ctx context.Context) error {
	s.logger.Info("mcp server starting on stdio",
		slog.Int("tools", len(s.entries)),
		slog.Bool("read_write", s.cfg.ReadWrite),
	)
	return mcpserver.NewStdioServer(s.mcp).Listen(ctx, os.Stdin, os.Stdout)
}

// instrument wraps a tool handler with per-call logging, metrics, an
// optional span, and a last-resort error-to-text conversion.
func (s *Server) instrument(name string, h mcpserver.ToolHandlerFunc) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callID := uuid.NewString()
		start := time.Now()

		if s.cfg.Tracer != nil {
			var span trace.Span
			ctx, span = s.cfg.Tracer.Start(ctx, "tool."+name,
				trace.WithAttributes(attribute.String("tool.name", name)),
			)
			defer span.End()
		}

		res, err := h(ctx, req)
		if err != nil || res == nil {
			// Handlers convert their own failures to textual results; this
			// path only fires on a bug, and still must not surface a
			// protocol fault to the host.
			if err == nil {
				err = fmt.Errorf("handler returned no result")
			}
			res = errorResult(name, err)
		}

		status := "ok"
		if res.IsError {
			status = "error"
		}
		duration := time.Since(start)
		s.cfg.Metrics.RecordToolCall(name, status, duration)
		s.logger.Info("tool call",
			slog.String("tool", name),
			slog.String("call_id", callID),
			slog.String("status", status),
			slog.Duration("duration", duration),
		)

		return res, nil
	}
}

// jsonResult serializes v as the tool result text. The payload is always
// structured data, never a raw object.
func jsonResult(v any) *mcp.CallToolResult {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error: encoding result: %v", err))
	}
	return mcp.NewToolResultText(string(b))
}

// errorResult converts any failure into a textual error result naming the
// tool. The full remote body stays in the logs, not in the text.
func errorResult(tool string, err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("Error: %s: %v", tool, err))
}

// validationError reports a caller-side parameter problem. No remote call
// has been made when this fires.
func validationError(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("Error: invalid arguments: %v", err))
}

// --- Tool handlers: one per catalog entry ---

func (s *Server) handleListProjects(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projects, err := s.client.ListProjects(ctx)
	if err != nil {
		return errorResult("doppler_list_projects", err), nil
	}
	return jsonResult(projects), nil
}

func (s *Server) handleListConfigs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := req.RequireString("project")
	if err != nil {
		return validationError(err), nil
	}
	configs, err := s.client.ListConfigs(ctx, project)
	if err != nil {
		return errorResult("doppler_list_configs", err), nil
	}
	return jsonResult(configs), nil
}

func (s *Server) handleListSecretNames(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := req.RequireString("project")
	if err != nil {
		return validationError(err), nil
	}
	config, err := req.RequireString("config")
	if err != nil {
		return validationError(err), nil
	}
	names, err := s.client.ListSecretNames(ctx, project, config)
	if err != nil {
		return errorResult("doppler_list_secret_names", err), nil
	}
	return jsonResult(names), nil
}

func (s *Server) handleGetSecret(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := req.RequireString("project")
	if err != nil {
		return validationError(err), nil
	}
	config, err := req.RequireString("config")
	if err != nil {
		return validationError(err), nil
	}
	name, err := req.RequireString("name")
	if err != nil {
		return validationError(err), nil
	}
	secret, err := s.client.GetSecret(ctx, project, config, name)
	if err != nil {
		return errorResult("doppler_get_secret", err), nil
	}
	return jsonResult(secret), nil
}

func (s *Server) handleValidateConnection(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	valid := s.client.ValidateConnection(ctx)
	return jsonResult(map[string]bool{"valid": valid}), nil
}

func (s *Server) handleSetSecret(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := req.RequireString("project")
	if err != nil {
		return validationError(err), nil
	}
	config, err := req.RequireString("config")
	if err != nil {
		return validationError(err), nil
	}
	name, err := req.RequireString("name")
	if err != nil {
		return validationError(err), nil
	}
	value, err := req.RequireString("value")
	if err != nil {
		return validationError(err), nil
	}
	created, err := s.client.SetSecret(ctx, project, config, name, value)
	if err != nil {
		return errorResult("doppler_set_secret", err), nil
	}
	return jsonResult(map[string]any{"name": name, "created": created}), nil
}

func (s *Server) handleDeleteSecrets(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := req.RequireString("project")
	if err != nil {
		return validationError(err), nil
	}
	config, err := req.RequireString("config")
	if err != nil {
		return validationError(err), nil
	}
	names := req.GetStringSlice("secrets", nil)
	if len(names) == 0 {
		return validationError(fmt.Errorf("secrets must be a non-empty array of names")), nil
	}
	if err := s.client.DeleteSecrets(ctx, project, config, names); err != nil {
		return errorResult("doppler_delete_secrets", err), nil
	}
	return jsonResult(map[string]any{"deleted": names, "count": len(names)}), nil
}

func (s *Server) handlePromoteSecrets(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := req.RequireString("project")
	if err != nil {
		return validationError(err), nil
	}
	source, err := req.RequireString("source_config")
	if err != nil {
		return validationError(err), nil
	}
	target, err := req.RequireString("target_config")
	if err != nil {
		return validationError(err), nil
	}
	if source == target {
		return validationError(fmt.Errorf("source_config and target_config must differ")), nil
	}
	exclude := req.GetStringSlice("exclude_keys", nil)
	result, err := s.client.PromoteSecrets(ctx, project, source, target, exclude)
	if err != nil {
		return errorResult("doppler_promote_secrets", err), nil
	}
	return jsonResult(result), nil
}

func (s *Server) handleCreateServiceToken(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := req.RequireString("project")
	if err != nil {
		return validationError(err), nil
	}
	config, err := req.RequireString("config")
	if err != nil {
		return validationError(err), nil
	}
	name, err := req.RequireString("name")
	if err != nil {
		return validationError(err), nil
	}
	access := doppler.Access(req.GetString("access", ""))
	if access != "" && !access.Valid() {
		return validationError(fmt.Errorf("access must be %q or %q", doppler.AccessRead, doppler.AccessReadWrite)), nil
	}
	token, err := s.client.CreateServiceToken(ctx, project, config, name, access)
	if err != nil {
		return errorResult("doppler_create_service_token", err), nil
	}
	return jsonResult(token), nil
}

func (s *Server) handleActivityLogs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project := req.GetString("project", "")
	page := req.GetInt("page", 1)
	perPage := req.GetInt("per_page", 20)
	logs, err := s.client.ActivityLogs(ctx, project, page, perPage)
	if err != nil {
		return errorResult("doppler_get_activity_logs", err), nil
	}
	return jsonResult(logs), nil
}

// serverInstructions tells the host how to use the server.
func serverInstructions(readWrite bool) string {
	base := `This server exposes Doppler secret management.

Start with doppler_list_projects to discover project slugs, then
doppler_list_configs for the environments of a project. Use
doppler_list_secret_names before doppler_get_secret; only fetch a
secret's value when you actually need it.`
	if !readWrite {
		return base + `

This instance is read-only: secrets cannot be created, changed, or deleted.`
	}
	return base + `

Write operations are enabled. doppler_set_secret upserts a single key;
doppler_promote_secrets copies a whole config's secrets to another config
(use exclude_keys for environment-specific values). Treat service tokens
from doppler_create_service_token as sensitive: the key is shown once and
cannot be retrieved again.`
}
