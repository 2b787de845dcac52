// Package backup produces compressed database dumps and document archives,
// copies them to object storage and prunes old files.
package backup

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/nextscript/emr-tools/config"
	"github.com/nextscript/emr-tools/interfaces"
	"github.com/nextscript/emr-tools/logging"
	"github.com/nextscript/emr-tools/metrics"
)

const (
	timestampLayout = "20060102_150405"
	archiveRoot     = "OscarDocument"
	objectPrefix    = "backups/"
)

// CommandRunner runs an external command with stdout sent to w
type CommandRunner interface {
	Run(ctx context.Context, w io.Writer, env []string, name string, args ...string) error
}

// ExecRunner runs commands with os/exec
type ExecRunner struct{}

// Run implements CommandRunner. Stderr is folded into the returned error.
func (ExecRunner) Run(ctx context.Context, w io.Writer, env []string, name string, args ...string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = w
	cmd.Stderr = &stderr
	cmd.Env = append(os.Environ(), env...)

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Options configures a Runner
type Options struct {
	DBHost        string
	DBUser        string
	DBPassword    string
	DBName        string
	DumpCommand   string
	BackupDir     string
	DocumentDir   string
	RetentionDays int
}

// OptionsFromConfig copies the backup settings out of cfg
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		DBHost:        cfg.DBHost,
		DBUser:        cfg.DBUser,
		DBPassword:    cfg.DBPassword,
		DBName:        cfg.DBName,
		DumpCommand:   cfg.DumpCommand,
		BackupDir:     cfg.BackupDir,
		DocumentDir:   cfg.DocumentDir,
		RetentionDays: cfg.BackupRetentionDays,
	}
}

// Report describes one backup run
type Report struct {
	Database  string   `json:"database"`
	Documents string   `json:"documents,omitempty"`
	Uploaded  []string `json:"uploaded,omitempty"`
	// Upload failures are logged and counted but do not fail the run
	UploadErrors int           `json:"upload_errors"`
	Pruned       []string      `json:"pruned,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// Runner performs backups
type Runner struct {
	opts     Options
	cmd      CommandRunner
	uploader interfaces.Uploader
	now      func() time.Time
}

// NewRunner creates a runner. uploader may be nil to keep backups local.
func NewRunner(opts Options, cmd CommandRunner, uploader interfaces.Uploader) *Runner {
	if cmd == nil {
		cmd = ExecRunner{}
	}
	if opts.DumpCommand == "" {
		opts.DumpCommand = "mysqldump"
	}
	return &Runner{opts: opts, cmd: cmd, uploader: uploader, now: time.Now}
}

// Run dumps the database, archives documents, uploads both and prunes
// expired files. A failed dump or archive aborts the run.
func (r *Runner) Run(ctx context.Context) (report *Report, err error) {
	start := r.now()
	report = &Report{}

	defer func() {
		report.Duration = time.Since(start)
		if err != nil {
			metrics.BackupRunsTotal.WithLabelValues("failure").Inc()
			logging.Error("Backup failed", "error", err)
			return
		}
		metrics.BackupRunsTotal.WithLabelValues("success").Inc()
		metrics.BackupLastSuccess.SetToCurrentTime()
		logging.Info("Backup completed",
			"database", filepath.Base(report.Database),
			"documents", filepath.Base(report.Documents),
			"uploaded", len(report.Uploaded),
			"pruned", len(report.Pruned),
			"duration", report.Duration.String())
	}()

	if err := os.MkdirAll(r.opts.BackupDir, 0o755); err != nil {
		return report, fmt.Errorf("create backup directory: %w", err)
	}

	stamp := start.Format(timestampLayout)

	report.Database, err = r.dumpDatabase(ctx, stamp)
	if err != nil {
		return report, err
	}
	r.upload(ctx, report, report.Database)

	report.Documents, err = r.archiveDocuments(stamp)
	if err != nil {
		return report, err
	}
	if report.Documents != "" {
		r.upload(ctx, report, report.Documents)
	}

	report.Pruned, err = r.Prune()
	if err != nil {
		return report, err
	}
	return report, nil
}

func (r *Runner) dumpDatabase(ctx context.Context, stamp string) (string, error) {
	path := filepath.Join(r.opts.BackupDir, "database_"+stamp+".sql.gz")
	logging.Info("Starting database backup", "database", r.opts.DBName)

	args := []string{
		"--host=" + r.opts.DBHost,
		"--user=" + r.opts.DBUser,
		"--single-transaction",
		"--routines",
		"--triggers",
		"--events",
		"--quick",
		"--lock-tables=false",
		r.opts.DBName,
	}
	// The password goes through the environment so it never shows in ps
	env := []string{"MYSQL_PWD=" + r.opts.DBPassword}

	err := writeGzipFile(path, func(w io.Writer) error {
		return r.cmd.Run(ctx, w, env, r.opts.DumpCommand, args...)
	})
	if err != nil {
		return "", fmt.Errorf("database backup: %w", err)
	}
	return path, nil
}

// archiveDocuments returns "" when the document directory does not exist
func (r *Runner) archiveDocuments(stamp string) (string, error) {
	info, err := os.Stat(r.opts.DocumentDir)
	if errors.Is(err, fs.ErrNotExist) {
		logging.Warn("Document directory does not exist, skipping", "dir", r.opts.DocumentDir)
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("document backup: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("document backup: %s is not a directory", r.opts.DocumentDir)
	}

	path := filepath.Join(r.opts.BackupDir, "documents_"+stamp+".tar.gz")
	logging.Info("Starting document backup", "dir", r.opts.DocumentDir)

	err = writeGzipFile(path, func(w io.Writer) error {
		return writeTar(w, r.opts.DocumentDir, archiveRoot)
	})
	if err != nil {
		return "", fmt.Errorf("document backup: %w", err)
	}
	return path, nil
}

func (r *Runner) upload(ctx context.Context, report *Report, path string) {
	if r.uploader == nil {
		return
	}
	key := objectPrefix + filepath.Base(path)
	if err := r.uploader.Upload(ctx, path, key); err != nil {
		report.UploadErrors++
		logging.Error("Backup upload failed", "file", filepath.Base(path), "error", err)
		return
	}
	report.Uploaded = append(report.Uploaded, key)
	logging.Info("Backup uploaded", "key", key)
}

// Prune removes regular files in the backup directory whose modification
// time is older than the retention period. Zero retention keeps everything.
func (r *Runner) Prune() ([]string, error) {
	if r.opts.RetentionDays <= 0 {
		return nil, nil
	}

	entries, err := os.ReadDir(r.opts.BackupDir)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}

	cutoff := r.now().Add(-time.Duration(r.opts.RetentionDays) * 24 * time.Hour)
	var removed []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		path := filepath.Join(r.opts.BackupDir, entry.Name())
		if err := os.Remove(path); err != nil {
			logging.Error("Failed to remove old backup", "file", entry.Name(), "error", err)
			continue
		}
		removed = append(removed, entry.Name())
		logging.Info("Removed old backup", "file", entry.Name())
	}
	return removed, nil
}

// writeGzipFile streams write through gzip into path. A partial file is
// removed on failure.
func writeGzipFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(path)
		}
	}()

	gz := gzip.NewWriter(f)
	if err = write(gz); err != nil {
		return err
	}
	if err = gz.Close(); err != nil {
		return err
	}
	return f.Close()
}

// writeTar archives dir with entry names rooted at root
func writeTar(w io.Writer, dir, root string) error {
	tw := tar.NewWriter(w)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(filepath.Join(root, rel))
		if d.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return err
	}
	return tw.Close()
}
