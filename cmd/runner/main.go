package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/oracle/coherence-sub061/internal/cache"
	"github.com/oracle/coherence-sub061/internal/config"
	"github.com/oracle/coherence-sub061/internal/logging"
	"github.com/oracle/coherence-sub061/internal/runner"
)

var (
	configPath string
	logLevel   string
	name       string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "runner [console-address]",
	Short:        "Load test worker",
	Long:         "Connects to a console, executes the jobs it receives against the cache service and reports results.",
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&name, "name", "", "runner name reported to the console")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if name != "" {
		cfg.Runner.Name = name
	}
	if len(args) == 1 {
		cfg.Runner.Console = args[0]
	}
	if cfg.Runner.Name == "" {
		cfg.Runner.Name = uuid.New().String()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := logging.Configure(cfg.Logging); err != nil {
		return err
	}

	svc, err := cache.Open(cfg.Cache.Options(), logging.For("cache"))
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	r := runner.New(cfg.Runner.Name, svc, logging.For("runner"))
	return r.Run(ctx, cfg.Runner.Console, cfg.Runner.DialTimeout)
}
