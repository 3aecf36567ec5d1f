// ABOUTME: Entry point for the toolshed registry server and its maintenance commands
// ABOUTME: Cobra root command, config resolution and process exit handling

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/2389/toolshed/internal/config"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  _              _     _              _
 | |_ ___   ___ | |___| |__   ___  __| |
 | __/ _ \ / _ \| / __| '_ \ / _ \/ _' |
 | || (_) | (_) | \__ \ | | |  __/ (_| |
  \__\___/ \___/|_|___/_| |_|\___|\__,_|
`

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

// loadConfig resolves and loads the config file. With no file anywhere the
// defaults are used and the returned path is empty.
func (o *rootOptions) loadConfig() (*config.Config, string, error) {
	path := config.ResolvePath(o.configPath)
	if path == "" {
		return config.Default(), "", nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "toolshed",
		Short: "toolshed - registry of npm packages exposed as agent tools",
		Long: `toolshed indexes npm packages that export agent tools, keeps their
health current by loading and executing them in a sandbox, scores their
quality and serves curated collections over MCP.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "",
		"Path to config file (default: $"+config.EnvConfigPath+", ./toolshed.yaml or the user config dir)")

	cmd.AddCommand(
		newServeCmd(opts),
		newSweepCmd(opts),
		newRescoreCmd(opts),
		newSyncCmd(opts),
		newVerifyCmd(opts),
		newHealthCmd(opts),
		newTokenCmd(opts),
	)
	return cmd
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}
