// ABOUTME: Subcommands: serve, sweep, rescore, sync, verify, health and token
// ABOUTME: One-shot commands reuse the gateway wiring and print JSON reports

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/toolshed/internal/auth"
	"github.com/2389/toolshed/internal/executor"
	"github.com/2389/toolshed/internal/gateway"
	"github.com/2389/toolshed/internal/verify"
)

// defaultTokenTTL matches the lifetime of bootstrap tokens.
const defaultTokenTTL = 30 * 24 * time.Hour

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the registry server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := opts.loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			logger := setupLogger(cfg.Logging, cmd.ErrOrStderr())

			cyan := color.New(color.FgCyan)
			gray := color.New(color.FgHiBlack)
			green := color.New(color.FgGreen)
			yellow := color.New(color.FgYellow)

			cyan.Fprint(out, banner)
			gray.Fprintf(out, "    version: %s\n\n", version)

			if path == "" {
				path = "(defaults)"
			}
			green.Fprint(out, "    ▶ ")
			fmt.Fprintf(out, "Config:   %s\n", path)
			green.Fprint(out, "    ▶ ")
			fmt.Fprintf(out, "HTTP:     %s\n", cfg.Server.HTTPAddr)
			green.Fprint(out, "    ▶ ")
			fmt.Fprintf(out, "Sandbox:  %s\n", cfg.Executor.DefaultURL)
			green.Fprint(out, "    ▶ ")
			if cfg.Health.Enabled {
				fmt.Fprintf(out, "Sweeps:   every %s, %d at a time\n", cfg.Health.Interval, cfg.Health.Concurrency)
			} else {
				fmt.Fprint(out, "Sweeps:   ")
				yellow.Fprintln(out, "disabled")
			}
			if cfg.Auth.JWTSecret == "" {
				yellow.Fprintln(out, "    ! admin API is unauthenticated (auth.jwt_secret not set)")
			}
			fmt.Fprintln(out)

			logger.Info("starting toolshed",
				"config", path,
				"http_addr", cfg.Server.HTTPAddr,
				"sandbox", cfg.Executor.DefaultURL,
			)

			gw, err := gateway.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("creating gateway: %w", err)
			}
			return gw.Run(cmd.Context())
		},
	}
}

func newSweepCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one health sweep over every tool and print the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			gw, err := gateway.New(cfg, setupLogger(cfg.Logging, cmd.ErrOrStderr()))
			if err != nil {
				return fmt.Errorf("creating gateway: %w", err)
			}
			defer func() { err = errors.Join(err, gw.Close()) }()

			report, err := gw.Sweep(cmd.Context())
			if err != nil {
				return fmt.Errorf("running sweep: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}

func newRescoreCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rescore",
		Short: "Recompute quality scores for every tool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			gw, err := gateway.New(cfg, setupLogger(cfg.Logging, cmd.ErrOrStderr()))
			if err != nil {
				return fmt.Errorf("creating gateway: %w", err)
			}
			defer func() { err = errors.Join(err, gw.Close()) }()

			report, err := gw.Rescore(cmd.Context())
			if err != nil {
				return fmt.Errorf("rescoring: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}

func newSyncCmd(opts *rootOptions) *cobra.Command {
	var metadataDir string
	cmd := &cobra.Command{
		Use:   "sync <package>...",
		Short: "Re-index packages from the metadata directory and rescore",
		Long: `Read <metadata_dir>/<package>.json for each package, re-extract every
export's schema on the sandbox and store the result. A stored schema is kept
when the sandbox cannot produce one.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if metadataDir != "" {
				cfg.Catalog.MetadataDir = metadataDir
			}
			gw, err := gateway.New(cfg, setupLogger(cfg.Logging, cmd.ErrOrStderr()))
			if err != nil {
				return fmt.Errorf("creating gateway: %w", err)
			}
			defer func() { err = errors.Join(err, gw.Close()) }()

			reports, syncErr := gw.Sync(cmd.Context(), args)
			if err := printJSON(cmd.OutOrStdout(), reports); err != nil {
				return err
			}
			return syncErr
		},
	}
	cmd.Flags().StringVar(&metadataDir, "from", "", "Metadata directory (default: catalog.metadata_dir)")
	return cmd
}

// errVerificationFailed is returned after the report is printed so the
// process exits non-zero.
var errVerificationFailed = errors.New("executor failed verification")

func newVerifyCmd(opts *rootOptions) *cobra.Command {
	var apiKey string
	cmd := &cobra.Command{
		Use:   "verify <url>",
		Short: "Run the verification handshake against a custom executor",
		Long: `Probe GET <url>/health and execute the sample tool through
POST <url>/execute. Both checks always run; the executor is valid only when
both succeed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.Logging, cmd.ErrOrStderr())
			client := executor.NewClient(executor.ClientConfig{
				HealthTimeout:  cfg.Executor.HealthTimeout,
				ExecuteTimeout: cfg.Executor.VerifyTimeout,
				Logger:         logger,
			})
			verifier := verify.New(verify.Config{
				Prober:        client,
				Logger:        logger,
				HealthTimeout: cfg.Executor.HealthTimeout,
				TestTimeout:   cfg.Executor.VerifyTimeout,
			})

			result := verifier.Verify(cmd.Context(), args[0], apiKey)
			if err := printJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if !result.Valid {
				return errVerificationFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Bearer token the executor expects")
	return cmd
}

func newHealthCmd(opts *rootOptions) *cobra.Command {
	var (
		ready   bool
		baseURL string
	)
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check a running server's health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if baseURL == "" {
				cfg, _, err := opts.loadConfig()
				if err != nil {
					return err
				}
				baseURL = "http://" + cfg.Server.HTTPAddr
			}
			path := "/health"
			if ready {
				path = "/health/ready"
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, strings.TrimRight(baseURL, "/")+path, nil)
			if err != nil {
				return fmt.Errorf("creating request: %w", err)
			}
			client := &http.Client{Timeout: 10 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "healthy")
			return nil
		},
	}
	cmd.Flags().BoolVar(&ready, "ready", false, "Check readiness (store and sandbox) instead of liveness")
	cmd.Flags().StringVar(&baseURL, "url", "", "Server base URL (default: http://<server.http_addr>)")
	return cmd
}

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				if path == "" {
					path = "the default config"
				}
				return fmt.Errorf("auth.jwt_secret not configured in %s", path)
			}
			verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
			if err != nil {
				return fmt.Errorf("creating JWT verifier: %w", err)
			}
			token, err := verifier.Generate(subject, ttl)
			if err != nil {
				return fmt.Errorf("generating token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "sub", "", "Subject the token identifies (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", defaultTokenTTL, "Token lifetime")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}
