package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agentmesh/agentgate/pkg/logger"
	"github.com/agentmesh/agentgate/pkg/presenter"
)

const defaultConfigFile = "agent.config.yaml"

func init() {
	viper.SetEnvPrefix("AGENTGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("config", defaultConfigFile)
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "fmt")
}

var rootCmd = &cobra.Command{
	Use:   "agentgate",
	Short: "HTTP gateway that plans and executes agent skills over an LLM backend",
	Long: `Agentgate exposes an OpenAI-compatible chat completion endpoint backed by a
planning loop: the gateway decides per request whether to run a tool, request
a skill, or answer directly, then augments the upstream conversation with the
selected skill content and the execution history.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		if err := logger.SetLogLevel(viper.GetString("log_level")); err != nil {
			return err
		}
		logger.SetLogFormat(viper.GetString("log_format"))
		return nil
	},
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

func main() {
	rootCmd.PersistentFlags().String("config", defaultConfigFile, "Path to the agent config file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "fmt", "Log format (fmt, json)")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(skillCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func fatal(err error, context string) {
	presenter.Error(err, context)
	os.Exit(1)
}
