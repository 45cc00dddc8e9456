package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/oracle/coherence-sub061/internal/cache"
	"github.com/oracle/coherence-sub061/internal/config"
	"github.com/oracle/coherence-sub061/internal/console"
	"github.com/oracle/coherence-sub061/internal/logging"
)

var (
	configPath   string
	logLevel     string
	listen       string
	script       string
	samplePeriod time.Duration
	jobTimeout   time.Duration
	quiet        bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "console",
	Short:        "Operator console for distributed cache load tests",
	Long:         "Accepts runner connections, reads commands from stdin and reports live and final statistics.",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&listen, "listen", "", "address runners connect to")
	rootCmd.Flags().StringVar(&script, "script", "", "run the commands in this file, then exit")
	rootCmd.Flags().DurationVar(&samplePeriod, "sample-period", 0, "time between live samples")
	rootCmd.Flags().DurationVar(&jobTimeout, "job-timeout", 0, "give up waiting for a job after this long (0 = forever)")
	rootCmd.Flags().BoolVar(&quiet, "quiet", false, "suppress live samples")
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
		cfg.Console.Listen = listen
	}
	if flags.Changed("sample-period") {
		cfg.Console.SamplePeriod = samplePeriod
	}
	if flags.Changed("job-timeout") {
		cfg.Console.JobTimeout = jobTimeout
	}
	if flags.Changed("quiet") {
		cfg.Console.Quiet = quiet
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := logging.Configure(cfg.Logging); err != nil {
		return err
	}
	log := logging.For("console")

	registry, err := cache.Open(cfg.Cache.Options(), logging.For("cache"))
	if err != nil {
		return err
	}
	defer registry.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c := console.New(cfg.Console, registry, os.Stdout, log)
	serveErr := make(chan error, 1)
	go func() { serveErr <- c.Serve(ctx, cfg.Console.Listen) }()

	if script != "" {
		err = c.Script(ctx, script)
	} else {
		err = c.Run(ctx, os.Stdin)
	}
	cancel()
	if serr := <-serveErr; serr != nil && err == nil {
		err = serr
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
