package server

import (
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/jkaninda/doppler-mcp/internal/doppler"
)

// toolEntry pairs one catalog descriptor with its handler. The catalog and
// the dispatcher stay in lock-step because both are derived from this one
// table; there is no separate switch to drift out of sync.
type toolEntry struct {
	tool    mcp.Tool
	handler mcpserver.ToolHandlerFunc
}

// toolset builds the advertised tool table. The baseline set is read-only;
// the write/promote/token/audit set is additive and only included when
// readWrite is on.
func (s *Server) toolset(readWrite bool) []toolEntry {
	entries := []toolEntry{
		{
			tool: mcp.NewTool("doppler_list_projects",
				mcp.WithDescription("List all projects in the Doppler workplace."),
			),
			handler: s.handleListProjects,
		},
		{
			tool: mcp.NewTool("doppler_list_configs",
				mcp.WithDescription("List the configs (environments) of a Doppler project."),
				mcp.WithString("project",
					mcp.Required(),
					mcp.Description("Project slug."),
				),
			),
			handler: s.handleListConfigs,
		},
		{
			tool: mcp.NewTool("doppler_list_secret_names",
				mcp.WithDescription("List secret names in a config. Names only — values are never returned."),
				mcp.WithString("project",
					mcp.Required(),
					mcp.Description("Project slug."),
				),
				mcp.WithString("config",
					mcp.Required(),
					mcp.Description("Config name, e.g. dev or prd."),
				),
			),
			handler: s.handleListSecretNames,
		},
		{
			tool: mcp.NewTool("doppler_get_secret",
				mcp.WithDescription("Fetch one secret's raw and computed value from a config."),
				mcp.WithString("project",
					mcp.Required(),
					mcp.Description("Project slug."),
				),
				mcp.WithString("config",
					mcp.Required(),
					mcp.Description("Config name."),
				),
				mcp.WithString("name",
					mcp.Required(),
					mcp.Description("Secret name, e.g. DATABASE_URL."),
				),
			),
			handler: s.handleGetSecret,
		},
		{
			tool: mcp.NewTool("doppler_validate_connection",
				mcp.WithDescription("Check that the configured Doppler token can reach the API."),
			),
			handler: s.handleValidateConnection,
		},
	}

	if !readWrite {
		return entries
	}

	return append(entries,
		toolEntry{
			tool: mcp.NewTool("doppler_set_secret",
				mcp.WithDescription("Create or update one secret in a config."),
				mcp.WithString("project",
					mcp.Required(),
					mcp.Description("Project slug."),
				),
				mcp.WithString("config",
					mcp.Required(),
					mcp.Description("Config name."),
				),
				mcp.WithString("name",
					mcp.Required(),
					mcp.Description("Secret name."),
				),
				mcp.WithString("value",
					mcp.Required(),
					mcp.Description("Secret value to store."),
				),
			),
			handler: s.handleSetSecret,
		},
		toolEntry{
			tool: mcp.NewTool("doppler_delete_secrets",
				mcp.WithDescription("Delete one or more secrets from a config in a single atomic call."),
				mcp.WithString("project",
					mcp.Required(),
					mcp.Description("Project slug."),
				),
				mcp.WithString("config",
					mcp.Required(),
					mcp.Description("Config name."),
				),
				mcp.WithArray("secrets",
					mcp.Required(),
					mcp.Description("Secret names to delete."),
					mcp.Items(map[string]any{"type": "string"}),
				),
			),
			handler: s.handleDeleteSecrets,
		},
		toolEntry{
			tool: mcp.NewTool("doppler_promote_secrets",
				mcp.WithDescription("Copy all secrets from one config to another, optionally excluding keys by exact name."),
				mcp.WithString("project",
					mcp.Required(),
					mcp.Description("Project slug."),
				),
				mcp.WithString("source_config",
					mcp.Required(),
					mcp.Description("Config to read secrets from."),
				),
				mcp.WithString("target_config",
					mcp.Required(),
					mcp.Description("Config to write secrets to."),
				),
				mcp.WithArray("exclude_keys",
					mcp.Description("Secret names to skip (exact match, no patterns)."),
					mcp.Items(map[string]any{"type": "string"}),
				),
			),
			handler: s.handlePromoteSecrets,
		},
		toolEntry{
			tool: mcp.NewTool("doppler_create_service_token",
				mcp.WithDescription("Create a config-scoped service token. The token material is returned exactly once."),
				mcp.WithString("project",
					mcp.Required(),
					mcp.Description("Project slug."),
				),
				mcp.WithString("config",
					mcp.Required(),
					mcp.Description("Config name."),
				),
				mcp.WithString("name",
					mcp.Required(),
					mcp.Description("Human-readable token name."),
				),
				mcp.WithString("access",
					mcp.Description("Access level. Defaults to read-only."),
					mcp.Enum(string(doppler.AccessRead), string(doppler.AccessReadWrite)),
				),
			),
			handler: s.handleCreateServiceToken,
		},
		toolEntry{
			tool: mcp.NewTool("doppler_get_activity_logs",
				mcp.WithDescription("Fetch workplace activity logs, optionally filtered to a project."),
				mcp.WithString("project",
					mcp.Description("Project slug filter."),
				),
				mcp.WithNumber("page",
					mcp.Description("Page number, starting at 1."),
				),
				mcp.WithNumber("per_page",
					mcp.Description("Entries per page. Default: 20."),
				),
			),
			handler: s.handleActivityLogs,
		},
	)
}
