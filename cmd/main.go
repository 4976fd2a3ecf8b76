package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"finmesh/internal/adapters/config"
	"finmesh/internal/adapters/fixtures"
	"finmesh/internal/adapters/transport"
	"finmesh/internal/bootstrap"
	"finmesh/internal/services/integration"
	"finmesh/pkg/errors"
	"finmesh/pkg/logger"
)

func main() {
	root := &cobra.Command{
		Use:   "finmesh",
		Short: "finmesh: agent-to-agent messaging for investment, risk and portfolio agents",
		Long: `finmesh runs three financial analysis agents that talk to each other over a
pluggable transport (websocket, http polling, local, kafka or nats) and merges
their answers into one collaborative recommendation.`,
		SilenceUsage: true,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(analyzeCmd())
	root.AddCommand(statusCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var (
		register     bool
		externalFile string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agents, the workers and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := &bootstrap.Container{}
			c.MustInit()

			if err := c.Start(); err != nil {
				c.Log.Errorw("Startup failed", "error", err)
				c.Shutdown()
				return err
			}

			if register {
				ids := c.Manager.ConnectToRegistry(c.Context)
				c.Log.Infow("Registry registration finished",
					"endpoint", c.Config.A2A.RegistryEndpoint,
					"registered", ids,
				)
			}

			if externalFile != "" {
				agents, err := loadExternalAgents(externalFile)
				if err != nil {
					c.Log.Errorw("External agents not loaded", "file", externalFile, "error", err)
				} else {
					connected := c.Manager.RegisterWithExternalAgents(c.Context, agents)
					c.Log.Infow("External agents connected", "connected", connected, "total", len(agents))
				}
			}

			waitForShutdown(c.Context, c.Log)
			c.Shutdown()
			return nil
		},
	}

	cmd.Flags().BoolVar(&register, "register", false, "Announce the agents to the configured registry after start")
	cmd.Flags().StringVar(&externalFile, "external", "", "YAML list of external agents (agent_id, endpoint, role) to connect to")

	return cmd
}

func analyzeCmd() *cobra.Command {
	var (
		userID       string
		analysisType string
		timeout      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "analyze [TICKER]",
		Short: "Run one collaborative analysis in-process and print the result",
		Long: `Run a collaborative analysis across the three agents connected through an
in-process hub. Collaborators are served from FIXTURES_FILE or the built-in fixtures.
Example: finmesh analyze AAPL --user demo_user`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
				return errors.Wrap(err, "init logger")
			}
			defer func() { _ = logger.Sync() }()

			fx, err := fixtures.Load(cfg.Fixtures.File)
			if err != nil {
				return err
			}

			cfg.A2A.Transport = transport.KindLocal
			manager := integration.NewManager(cfg.A2A, integration.Deps{
				Investment:       fx,
				Risk:             fx,
				Portfolio:        fx,
				Profiles:         fx,
				TransportOptions: transport.Options{Hub: transport.NewLocalHub()},
			})

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			defer func() { _ = manager.Shutdown(context.Background()) }()

			result := manager.StartCollaborativeAnalysis(ctx, args[0], userID, analysisType)
			return printJSON(cmd, result)
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User whose profile and portfolio feed the portfolio branch")
	cmd.Flags().StringVar(&analysisType, "type", "comprehensive", "Analysis type recorded in the result")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "Overall deadline for the analysis")

	return cmd
}

func statusCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the agent status reported by a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := resty.New().
				SetTimeout(5 * time.Second).
				R().
				SetContext(cmd.Context()).
				Get(addr + "/a2a/status")
			if err != nil {
				return errors.Wrapf(errors.ErrUnavailable, "%s: %v", addr, err)
			}
			if resp.IsError() {
				return errors.Newf("status request failed: %s", resp.Status())
			}

			var status map[string]any
			if err := json.Unmarshal(resp.Body(), &status); err != nil {
				return errors.Wrap(err, "decode status")
			}
			return printJSON(cmd, status)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "Base URL of the finmesh HTTP API")

	return cmd
}

func loadExternalAgents(path string) ([]integration.ExternalAgent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	var agents []integration.ExternalAgent
	if err := yaml.Unmarshal(data, &agents); err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "parse %s: %v", path, err)
	}
	return agents, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode result")
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

// waitForShutdown blocks until SIGINT/SIGTERM or until ctx is cancelled
func waitForShutdown(ctx context.Context, log *logger.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		log.Info("Context cancelled, shutting down")
	}
}
