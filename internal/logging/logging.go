// Package logging configures the process-wide logrus logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/oracle/coherence-sub061/internal/config"
)

// Configure applies cfg to the standard logger. Logs go to stderr so operator
// output on stdout stays clean.
func Configure(cfg config.LoggingConfig) error {
	return ConfigureOutput(cfg, os.Stderr)
}

// ConfigureOutput is Configure with an explicit destination.
func ConfigureOutput(cfg config.LoggingConfig, w io.Writer) error {
	level := log.InfoLevel
	if cfg.Level != "" {
		parsed, err := log.ParseLevel(cfg.Level)
		if err != nil {
			return errors.Wrap(err, "configuring logging")
		}
		level = parsed
	}
	log.SetLevel(level)
	log.SetOutput(w)
	if strings.EqualFold(cfg.Format, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// For returns the logger of a named component.
func For(component string) *log.Entry {
	return log.WithField("component", component)
}
