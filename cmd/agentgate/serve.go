package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agentmesh/agentgate/pkg/agent"
	"github.com/agentmesh/agentgate/pkg/config"
	"github.com/agentmesh/agentgate/pkg/llm"
	"github.com/agentmesh/agentgate/pkg/logger"
	"github.com/agentmesh/agentgate/pkg/presenter"
	"github.com/agentmesh/agentgate/pkg/server"
)

// ServeConfig holds configuration for the serve command
type ServeConfig struct {
	Host string
	Port int
}

// NewServeConfig creates a new ServeConfig with default values
func NewServeConfig() *ServeConfig {
	return &ServeConfig{
		Host: "0.0.0.0",
		Port: 8000,
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agent gateway HTTP server",
	Long: `Start the HTTP server that exposes the gateway's chat completion endpoint.
The server loads the agent config, the skill store, and the tool registry at
startup and handles each request with a bounded planning loop.

The server will be available at http://0.0.0.0:8000 by default.`,
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		serveConfig := getServeConfigFromFlags(cmd)
		runServeCommand(ctx, serveConfig)
	},
}

func init() {
	defaults := NewServeConfig()
	serveCmd.Flags().String("host", defaults.Host, "Host to bind the server to")
	serveCmd.Flags().Int("port", defaults.Port, "Port to bind the server to")
}

// getServeConfigFromFlags extracts serve configuration from command flags
func getServeConfigFromFlags(cmd *cobra.Command) *ServeConfig {
	serveConfig := NewServeConfig()

	if host, err := cmd.Flags().GetString("host"); err == nil {
		serveConfig.Host = host
	}
	if port, err := cmd.Flags().GetInt("port"); err == nil {
		serveConfig.Port = port
	}

	return serveConfig
}

// validateServeConfig validates the serve configuration
func validateServeConfig(serveConfig *ServeConfig) error {
	if serveConfig.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}

	if serveConfig.Host != "localhost" && serveConfig.Host != "0.0.0.0" {
		if ip := net.ParseIP(serveConfig.Host); ip == nil {
			if strings.Contains(serveConfig.Host, " ") || strings.Contains(serveConfig.Host, ":") {
				return fmt.Errorf("invalid host: %s", serveConfig.Host)
			}
		}
	}

	if serveConfig.Port < 1 || serveConfig.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", serveConfig.Port)
	}

	if serveConfig.Port < 1024 {
		logger.G(context.Background()).WithField("port", serveConfig.Port).Warn("using privileged port (< 1024) may require elevated permissions")
	}

	return nil
}

// runServeCommand builds the runtime and starts the HTTP server
func runServeCommand(ctx context.Context, serveConfig *ServeConfig) {
	if err := validateServeConfig(serveConfig); err != nil {
		fatal(err, "invalid server configuration")
	}

	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		fatal(err, "failed to load agent config")
	}

	client := llm.NewClient(config.LLMSettingsFromViper())

	runtime, err := agent.NewRuntime(cfg, client)
	if err != nil {
		fatal(err, "failed to build agent runtime")
	}

	logger.G(ctx).WithFields(map[string]any{
		"host":       serveConfig.Host,
		"port":       serveConfig.Port,
		"skills_dir": cfg.Settings.SkillsDir,
		"skills":     len(runtime.Skills().Names()),
		"tools":      runtime.Tools().Names(),
	}).Info("Starting agent gateway")

	srv, err := server.NewServer(&server.Config{
		Host: serveConfig.Host,
		Port: serveConfig.Port,
	}, runtime)
	if err != nil {
		fatal(err, "failed to create server")
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	presenter.Success(fmt.Sprintf("Agent gateway starting on http://%s:%d", serveConfig.Host, serveConfig.Port))
	presenter.Info("Press Ctrl+C to stop the server")

	if err := srv.Start(ctx); err != nil {
		logger.G(ctx).WithError(err).Error("server error")
		fatal(err, "server failed")
	}

	presenter.Info("Server stopped")
}
