package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/nextscript/emr-tools/backup"
	"github.com/nextscript/emr-tools/config"
	"github.com/nextscript/emr-tools/cryptoutil"
	"github.com/nextscript/emr-tools/data"
	"github.com/nextscript/emr-tools/drugdata"
	"github.com/nextscript/emr-tools/export"
	"github.com/nextscript/emr-tools/handlers"
	"github.com/nextscript/emr-tools/health"
	"github.com/nextscript/emr-tools/integrations"
	"github.com/nextscript/emr-tools/logging"
	"github.com/nextscript/emr-tools/scheduler"
	"github.com/nextscript/emr-tools/server"
	"github.com/nextscript/emr-tools/validation"
	"github.com/urfave/cli/v2"
)

// =============================================================================
// COMPILE COMMAND
// =============================================================================

func (a *app) compileCommand() *cli.Command {
	return &cli.Command{
		Name:  "compile",
		Usage: "Download the drug product database and write the compiled dataset",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "output-dir", Aliases: []string{"o"}, Usage: "Directory for compiled files, overrides OUTPUT_DIR"},
			&cli.StringFlag{Name: "restricted-file", Aliases: []string{"r"}, Usage: "Restricted drug list, overrides RESTRICTED_FILE"},
			&cli.StringFlag{Name: "match", Usage: "Schedule match mode (prefix, contains), overrides RESTRICTION_MATCH"},
			&cli.BoolFlag{Name: "no-compress", Usage: "Skip the gzip copy"},
			&cli.StringFlag{Name: "xlsx", Usage: "Also write an XLSX export to this path"},
		},
		Action: func(c *cli.Context) error {
			cfg := *a.cfg
			if v := c.String("output-dir"); v != "" {
				cfg.OutputDir = v
			}
			if v := c.String("restricted-file"); v != "" {
				cfg.RestrictedFile = v
			}
			if v := c.String("match"); v != "" {
				if v != config.MatchPrefix && v != config.MatchContains {
					return cli.Exit(fmt.Sprintf("invalid --match %q: must be prefix or contains", v), 2)
				}
				cfg.RestrictionMatch = v
			}
			if c.Bool("no-compress") {
				cfg.CompressOutput = false
			}

			ctx, cancel := signalContext(c.Context)
			defer cancel()

			result, err := drugdata.NewPipeline(&cfg).Run(ctx)
			if err != nil {
				return cli.Exit(fmt.Sprintf("compile failed: %v", err), 1)
			}

			if path := c.String("xlsx"); path != "" {
				if err := export.SaveXLSX(path, result.Entries); err != nil {
					return cli.Exit(fmt.Sprintf("xlsx export failed: %v", err), 1)
				}
				result.Outputs = append(result.Outputs, path)
			}

			fmt.Printf("Compiled %d entries (%d restricted) in %s\n",
				result.Stats.Entries, result.Stats.Restricted, result.Duration.Round(time.Millisecond))
			if len(result.FailedDatasets) > 0 {
				fmt.Printf("Warning: incomplete datasets: %s\n", strings.Join(result.FailedDatasets, ", "))
			}
			for _, out := range result.Outputs {
				fmt.Printf("  wrote %s\n", out)
			}
			return nil
		},
	}
}

// =============================================================================
// SERVE COMMAND
// =============================================================================

func (a *app) serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the drug lookup API and recompile on a schedule",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "port", Usage: "Listen port, overrides PORT"},
			&cli.BoolFlag{Name: "backups", Usage: "Also run backups on BACKUP_SCHEDULE"},
		},
		Action: func(c *cli.Context) error {
			cfg := *a.cfg
			if v := c.String("port"); v != "" {
				cfg.Port = v
			}

			store := data.NewDataContainer()
			store.SetServerStartTime(time.Now())

			opts := scheduler.Options{
				CompileTimes:  cfg.CompileTimes,
				WarmStartPath: cfg.OutputPath(),
			}
			if c.Bool("backups") {
				runner, err := newBackupRunner(&cfg)
				if err != nil {
					return err
				}
				opts.Backup = func(ctx context.Context) error {
					_, err := runner.Run(ctx)
					return err
				}
				opts.BackupSchedule = cfg.BackupSchedule
			}

			sched := scheduler.NewScheduler(store, drugdata.NewPipeline(&cfg), opts)
			if err := sched.Start(); err != nil {
				return cli.Exit(err.Error(), 1)
			}
			defer sched.Stop()

			handler := handlers.NewHTTPHandler(store, validation.NewDataValidator(),
				health.NewHealthChecker(store, cfg.CompileTimes), cfg.OutputPath())
			srv := server.NewServer(&cfg, handler)

			ctx, cancel := signalContext(c.Context)
			defer cancel()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				if err != nil {
					return cli.Exit(fmt.Sprintf("server failed: %v", err), 1)
				}
				return nil
			case <-ctx.Done():
			}

			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancelShutdown()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

// =============================================================================
// BACKUP COMMAND
// =============================================================================

func newBackupRunner(cfg *config.Config) (*backup.Runner, error) {
	uploader, err := backup.UploaderFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return backup.NewRunner(backup.OptionsFromConfig(cfg), backup.ExecRunner{}, uploader), nil
}

func (a *app) backupCommand() *cli.Command {
	return &cli.Command{
		Name:  "backup",
		Usage: "Back up the EMR database and documents once",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "prune-only", Usage: "Only remove expired backups"},
		},
		Action: func(c *cli.Context) error {
			runner, err := newBackupRunner(a.cfg)
			if err != nil {
				return err
			}

			if c.Bool("prune-only") {
				removed, err := runner.Prune()
				if err != nil {
					return cli.Exit(err.Error(), 1)
				}
				fmt.Printf("Removed %d expired backup(s)\n", len(removed))
				return nil
			}

			ctx, cancel := signalContext(c.Context)
			defer cancel()

			report, err := runner.Run(ctx)
			if err != nil {
				return cli.Exit(fmt.Sprintf("backup failed: %v", err), 1)
			}
			return printJSON(report)
		},
	}
}

// =============================================================================
// EXPORT COMMAND
// =============================================================================

func (a *app) exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Convert the compiled dataset to an XLSX workbook",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "Compiled dataset (.json or .json.gz), defaults to the configured output"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Value: "compiled_drug_data.xlsx", Usage: "Workbook path"},
		},
		Action: func(c *cli.Context) error {
			input := c.String("input")
			if input == "" {
				input = a.cfg.OutputPath()
			}

			entries, err := drugdata.ReadCompiled(input)
			if err != nil {
				return cli.Exit(fmt.Sprintf("read %s: %v", input, err), 1)
			}

			output := c.String("output")
			if err := export.SaveXLSX(output, entries); err != nil {
				return cli.Exit(fmt.Sprintf("export failed: %v", err), 1)
			}
			fmt.Printf("Exported %d entries to %s\n", len(entries), filepath.Clean(output))
			return nil
		},
	}
}

// =============================================================================
// ENCRYPTION COMMANDS
// =============================================================================

func (a *app) cipher() (*cryptoutil.Cipher, error) {
	if a.cfg.UsesDefaultEncryptionKey() {
		logging.Warn("Using default encryption key! Set ENCRYPTION_KEY for production")
	}
	return cryptoutil.NewCipher(a.cfg.EncryptionKey)
}

// valueArg returns the first argument, or a line from stdin when absent
// so secrets stay out of shell history
func valueArg(c *cli.Context) (string, error) {
	if c.NArg() > 0 {
		return c.Args().First(), nil
	}
	return readLine()
}

func readLine() (string, error) {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read value from stdin: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (a *app) encryptCommand() *cli.Command {
	return &cli.Command{
		Name:      "encrypt",
		Usage:     "Encrypt a value with ENCRYPTION_KEY",
		ArgsUsage: "[value]",
		Action: func(c *cli.Context) error {
			cipher, err := a.cipher()
			if err != nil {
				return err
			}
			value, err := valueArg(c)
			if err != nil {
				return err
			}
			token, err := cipher.Encrypt(value)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}

func (a *app) decryptCommand() *cli.Command {
	return &cli.Command{
		Name:      "decrypt",
		Usage:     "Decrypt a value encrypted with ENCRYPTION_KEY",
		ArgsUsage: "[token]",
		Action: func(c *cli.Context) error {
			cipher, err := a.cipher()
			if err != nil {
				return err
			}
			token, err := valueArg(c)
			if err != nil {
				return err
			}
			plaintext, err := cipher.Decrypt(token)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			fmt.Println(plaintext)
			return nil
		},
	}
}

// =============================================================================
// INTEGRATIONS COMMAND
// =============================================================================

func (a *app) openIntegrations(ctx context.Context) (*integrations.Store, error) {
	cipher, err := a.cipher()
	if err != nil {
		return nil, err
	}
	return integrations.Open(ctx, a.cfg.IntegrationDriver, a.cfg.IntegrationDSN, cipher)
}

func (a *app) integrationsCommand() *cli.Command {
	return &cli.Command{
		Name:  "integrations",
		Usage: "Read and write integration settings",
		Subcommands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "Print the enabled settings of an integration",
				ArgsUsage: "<integration>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "show-secrets", Usage: "Print values instead of masking them"},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("usage: integrations get <integration>", 2)
					}
					store, err := a.openIntegrations(c.Context)
					if err != nil {
						return err
					}
					defer store.Close()

					settings, err := store.Load(c.Context, c.Args().First())
					if err != nil {
						return err
					}

					keys := make([]string, 0, len(settings))
					for k := range settings {
						keys = append(keys, k)
					}
					sort.Strings(keys)

					fmt.Printf("enabled: %v\n", integrations.Enabled(settings))
					for _, k := range keys {
						v := settings[k]
						if !c.Bool("show-secrets") && v != "" {
							v = "********"
						}
						fmt.Printf("%s = %s\n", k, v)
					}
					return nil
				},
			},
			{
				Name:      "set",
				Usage:     "Store one setting of an integration",
				ArgsUsage: "<integration> <key> [value]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "encrypt", Aliases: []string{"e"}, Usage: "Store the value encrypted"},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() < 2 || c.NArg() > 3 {
						return cli.Exit("usage: integrations set <integration> <key> [value]", 2)
					}
					name, key := c.Args().Get(0), c.Args().Get(1)

					value := c.Args().Get(2)
					if c.NArg() == 2 {
						line, err := readLine()
						if err != nil {
							return err
						}
						value = line
					}

					store, err := a.openIntegrations(c.Context)
					if err != nil {
						return err
					}
					defer store.Close()

					if err := store.Set(c.Context, name, key, value, c.Bool("encrypt")); err != nil {
						return err
					}
					logging.Info("Integration setting saved", "integration", name, "key", key, "encrypted", c.Bool("encrypt"))
					return nil
				},
			},
			{
				Name:      "delete",
				Usage:     "Remove every setting of an integration",
				ArgsUsage: "<integration>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("usage: integrations delete <integration>", 2)
					}
					store, err := a.openIntegrations(c.Context)
					if err != nil {
						return err
					}
					defer store.Close()
					return store.Delete(c.Context, c.Args().First())
				},
			},
		},
	}
}
