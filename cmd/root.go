package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd is the base command for the stravamcp gateway.
var rootCmd = &cobra.Command{
	Use:   "stravamcp",
	Short: "OAuth-protected MCP gateway for the Strava API",
	Long: `stravamcp runs an MCP server exposing Strava athlete, activity, and
segment tools over an SSE transport, fronted by an embedded OAuth 2.1
authorization server with PKCE and dynamic client registration.`,
	// SilenceUsage keeps runtime failures from dumping the usage text.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command. Called from main with
// the build-time version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "stravamcp version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newServeCmd())
}
