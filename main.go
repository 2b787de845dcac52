// emr-tools bundles the NextScript EMR support jobs: the Health Canada drug
// data compiler and lookup API, database and document backups, and
// integration settings management.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/nextscript/emr-tools/config"
	"github.com/nextscript/emr-tools/logging"
	"github.com/urfave/cli/v2"
)

var (
	version = "dev"
	commit  = "none"
)

// app carries state shared by every command
type app struct {
	cfg *config.Config
}

func main() {
	a := &app{}

	cliApp := &cli.App{
		Name:    "emr-tools",
		Usage:   "NextScript EMR drug data, backup and integration tools",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Load environment variables from this file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error), overrides LOG_LEVEL",
			},
		},

		Before: a.setup,
		After: func(c *cli.Context) error {
			return logging.Close()
		},

		Commands: []*cli.Command{
			a.compileCommand(),
			a.serveCommand(),
			a.backupCommand(),
			a.exportCommand(),
			a.encryptCommand(),
			a.decryptCommand(),
			a.integrationsCommand(),
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads .env and configuration, then initializes logging
func (a *app) setup(c *cli.Context) error {
	if path := c.String("env-file"); path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	if level := c.String("log-level"); level != "" {
		os.Setenv("LOG_LEVEL", level)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg

	logging.InitLogger(logging.Options{
		Dir:            cfg.LogDir,
		Prefix:         "emr-tools",
		Level:          cfg.LogLevel,
		RetentionWeeks: cfg.LogRetentionWeeks,
		MaxFileSize:    cfg.MaxLogFileSize,
	})
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
