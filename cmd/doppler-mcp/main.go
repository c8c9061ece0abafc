// Doppler MCP — secret management over the Model Context Protocol.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "doppler-mcp",
	Short: "MCP server exposing Doppler secret management as tool calls.",
	Long: `doppler-mcp bridges MCP hosts to the Doppler REST API. Each tool call
maps to exactly one upstream request: list projects and configs, read and
write secrets, promote a config's secrets to another environment, mint
service tokens, and query activity logs.

By default the server speaks MCP over stdio and advertises only the
read-only tool set. Write tools are opt-in via configuration.`,
	RunE:          runServe, // Default to stdio mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, httpCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
