package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Resource URIs mirror the Doppler hierarchy:
//
//	doppler://project/{slug}                 -> config listing
//	doppler://project/{slug}/config/{name}   -> secret name listing
//
// Secret values are never exposed through resources; reading a value
// always goes through the doppler_get_secret tool.
const resourceScheme = "doppler://"

func (s *Server) registerResources() {
	s.mcp.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"doppler://project/{slug}",
			"Doppler project",
			mcp.WithTemplateDescription("Configs of a Doppler project, as JSON."),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.readProjectResource,
	)
	s.mcp.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"doppler://project/{slug}/config/{name}",
			"Doppler config",
			mcp.WithTemplateDescription("Secret names of a Doppler config, as JSON. Names only, never values."),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.readConfigResource,
	)
}

func (s *Server) readProjectResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	project, config, err := parseResourceURI(req.Params.URI)
	if err != nil {
		return nil, err
	}
	if config != "" {
		return s.readConfigResource(ctx, req)
	}

	configs, err := s.client.ListConfigs(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("reading project %q: %w", project, err)
	}
	return jsonResourceContents(req.Params.URI, configs)
}

func (s *Server) readConfigResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	project, config, err := parseResourceURI(req.Params.URI)
	if err != nil {
		return nil, err
	}
	if config == "" {
		return nil, fmt.Errorf("resource URI %q: missing config name", req.Params.URI)
	}

	names, err := s.client.ListSecretNames(ctx, project, config)
	if err != nil {
		return nil, fmt.Errorf("reading config %q/%q: %w", project, config, err)
	}
	return jsonResourceContents(req.Params.URI, names)
}

// parseResourceURI splits a doppler:// URI into project slug and optional
// config name. Structural problems are the caller's fault and reported
// verbatim.
func parseResourceURI(uri string) (project, config string, err error) {
	rest, ok := strings.CutPrefix(uri, resourceScheme)
	if !ok {
		return "", "", fmt.Errorf("resource URI %q: expected %s scheme", uri, resourceScheme)
	}
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 2 && parts[0] == "project" && parts[1] != "":
		return parts[1], "", nil
	case len(parts) == 4 && parts[0] == "project" && parts[1] != "" && parts[2] == "config" && parts[3] != "":
		return parts[1], parts[3], nil
	default:
		return "", "", fmt.Errorf("resource URI %q: expected doppler://project/{slug} or doppler://project/{slug}/config/{name}", uri)
	}
}

func jsonResourceContents(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding resource %q: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
