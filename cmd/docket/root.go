package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
)

// cli carries the configuration shared by every subcommand.
type cli struct {
	cfg    config
	logger *slog.Logger

	storeURL  string
	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	cmd := &cobra.Command{
		Use:           "docket",
		Short:         "Asynchronous document-generation job queue",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd.ErrOrStderr())
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&c.storeURL, "store", "", "store URL (memory://, sqlite://path, postgres://..., redis://...); overrides DOCKET_STORE_URL")
	pf.StringVar(&c.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides DOCKET_LOG_LEVEL")
	pf.StringVar(&c.logFormat, "log-format", "", "log format (text, json); overrides DOCKET_LOG_FORMAT")

	cmd.AddCommand(
		newServeCmd(c),
		newWorkCmd(c),
		newEnqueueCmd(c),
		newStatusCmd(c),
		newCancelCmd(c),
		newListCmd(c),
		newStatsCmd(c),
		newMigrateCmd(c),
	)
	return cmd
}

func (c *cli) load(logOut io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if c.storeURL != "" {
		cfg.StoreURL = c.storeURL
	}
	if c.logFormat != "" {
		if c.logFormat != "text" && c.logFormat != "json" {
			return fmt.Errorf("--log-format: want text or json, got %q", c.logFormat)
		}
		cfg.LogFormat = c.logFormat
	}
	if c.logLevel != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(c.logLevel)); err != nil {
			return err
		}
	}
	c.cfg = cfg
	c.logger = cfg.newLogger(logOut)
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
