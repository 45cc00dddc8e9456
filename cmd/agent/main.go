package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/oracle/coherence-sub061/internal/agent"
	"github.com/oracle/coherence-sub061/internal/cache"
	"github.com/oracle/coherence-sub061/internal/config"
	"github.com/oracle/coherence-sub061/internal/logging"
)

var (
	configPath  string
	logLevel    string
	name        string
	listen      string
	advertise   string
	command     string
	consoleAddr string
	logDir      string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "agent",
	Short:        "Starts and stops runner processes on this host",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&name, "name", "", "agent name (default: random)")
	rootCmd.Flags().StringVar(&listen, "listen", "", "control API listen address")
	rootCmd.Flags().StringVar(&advertise, "advertise", "", "control API address registered for the console (default: hostname and listen port)")
	rootCmd.Flags().StringVar(&command, "command", "", "runner command line")
	rootCmd.Flags().StringVar(&consoleAddr, "console", "", "console address passed to runners")
	rootCmd.Flags().StringVar(&logDir, "log-dir", "", "directory for runner log files")
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if flags.Changed("listen") {
		cfg.Agent.Listen = listen
	}
	if flags.Changed("advertise") {
		cfg.Agent.Advertise = advertise
	}
	if flags.Changed("command") {
		cfg.Agent.Command = command
	}
	if flags.Changed("console") {
		cfg.Runner.Console = consoleAddr
	}
	if flags.Changed("log-dir") {
		cfg.Agent.LogDir = logDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := logging.Configure(cfg.Logging); err != nil {
		return err
	}
	log := logging.For("agent")

	address, err := advertised(cfg.Agent)
	if err != nil {
		return err
	}
	registry, err := cache.Open(cfg.Cache.Options(), logging.For("cache"))
	if err != nil {
		return err
	}
	defer registry.Close()

	a, err := agent.New(agent.Options{
		Name:         name,
		Address:      address,
		Command:      cfg.Agent.Command,
		ConsoleAddr:  cfg.Runner.Console,
		LogDir:       cfg.Agent.LogDir,
		PollInterval: cfg.Agent.PollInterval,
	}, registry, log)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := a.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{Addr: cfg.Agent.Listen, Handler: a.Handler()}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()
	log.WithField("addr", cfg.Agent.Listen).Info("control API listening")

	select {
	case err = <-serveErr:
		err = errors.Wrap(err, "serving control API")
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	_ = srv.Shutdown(shutdownCtx)
	if serr := a.Shutdown(shutdownCtx); serr != nil && err == nil {
		err = serr
	}
	return err
}

// advertised returns the address the console uses to reach this agent.
func advertised(cfg config.AgentConfig) (string, error) {
	if cfg.Advertise != "" {
		return cfg.Advertise, nil
	}
	host, port, err := net.SplitHostPort(cfg.Listen)
	if err != nil {
		return "", errors.Wrapf(err, "agent listen address %q", cfg.Listen)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		if host, err = os.Hostname(); err != nil {
			return "", errors.Wrap(err, "resolving hostname")
		}
	}
	return net.JoinHostPort(host, port), nil
}
