// Package cmd provides the CLI commands for ActionBridge.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/actionbridge/actionbridge/internal/config"
)

var cfgFile string
var stateFilePath string

var rootCmd = &cobra.Command{
	Use:   "actionbridge",
	Short: "ActionBridge - multi-tenant MCP gateway",
	Long: `ActionBridge turns declarative system catalogs into MCP tools and
serves them to AI agents over streamable HTTP or stdio.

Each tenant's catalog of systems, actions, projects and API keys is
materialized into a per-session tool registry; tool calls are permission
checked, audited and executed against the upstream HTTP APIs.

Quick start:
  1. Create a config file: actionbridge.yaml
  2. Seed a catalog (a "seed" section in the config, or seed_file)
  3. Run: actionbridge start

Configuration:
  Config is loaded from actionbridge.yaml in the current directory,
  $HOME/.actionbridge/, or /etc/actionbridge/.

  Environment variables override config values with the ACTIONBRIDGE_
  prefix. Example: ACTIONBRIDGE_SERVER_ADDR=:9090

Commands:
  start       Start the gateway (HTTP or stdio transport)
  stop        Stop the running gateway
  keygen      Mint a new API key secret
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./actionbridge.yaml)")
	rootCmd.PersistentFlags().StringVar(&stateFilePath, "state", "", "path to runtime.json file (default: ./runtime.json)")
}

func initConfig() {
	config.InitViper(cfgFile)
}

// resolveStatePath picks the runtime state file: CLI flag, env, default.
func resolveStatePath() string {
	if stateFilePath != "" {
		return stateFilePath
	}
	if env := os.Getenv("ACTIONBRIDGE_STATE_PATH"); env != "" {
		return env
	}
	return "./runtime.json"
}
