// Package scheduler runs the periodic jobs of the serve command: drug data
// recompilation at fixed daily times, optional backups on a cron expression,
// and a staleness monitor over the data store.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/nextscript/emr-tools/drugdata"
	"github.com/nextscript/emr-tools/interfaces"
	"github.com/nextscript/emr-tools/logging"
)

// Compile-time check to ensure Scheduler implements Scheduler interface
var _ interfaces.Scheduler = (*Scheduler)(nil)

// staleAfter is how old data may get before the monitor complains
const staleAfter = 25 * time.Hour

// BackupFunc performs one backup run
type BackupFunc func(ctx context.Context) error

// Options configures the scheduler jobs
type Options struct {
	CompileTimes   string // gocron At() syntax, e.g. "03:00;15:00"
	WarmStartPath  string // compiled artifact to load before the first compile
	Backup         BackupFunc
	BackupSchedule string // cron expression, used only when Backup is set
	MonitorEvery   time.Duration
}

// Scheduler handles data updates and health monitoring using dependency injection
type Scheduler struct {
	dataStore interfaces.DataStore
	compiler  interfaces.Compiler
	opts      Options
	scheduler *gocron.Scheduler

	backupRunning atomic.Bool
	ctx           context.Context
	cancel        context.CancelFunc
	stopOnce      sync.Once
	monitorDone   chan struct{}
}

// NewScheduler creates a new scheduler instance with injected dependencies
func NewScheduler(dataStore interfaces.DataStore, compiler interfaces.Compiler, opts Options) *Scheduler {
	if opts.CompileTimes == "" {
		opts.CompileTimes = "03:00"
	}
	if opts.MonitorEvery <= 0 {
		opts.MonitorEvery = time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		dataStore:   dataStore,
		compiler:    compiler,
		opts:        opts,
		scheduler:   gocron.NewScheduler(time.Local),
		ctx:         ctx,
		cancel:      cancel,
		monitorDone: make(chan struct{}),
	}
}

// Start loads the last compiled artifact when present, then schedules the
// jobs. Without a usable artifact the first compile runs synchronously and
// its failure is returned. With one, the first compile runs in background.
func (s *Scheduler) Start() error {
	warm := s.warmStart()

	if !warm {
		if err := s.updateData(); err != nil {
			logging.Error("Failed to perform initial data load", "error", err)
			return fmt.Errorf("initial data load failed: %w", err)
		}
	}

	_, err := s.scheduler.Every(1).Days().At(s.opts.CompileTimes).Do(func() {
		if err := s.updateData(); err != nil {
			logging.Error("Failed to update data", "error", err)
		}
	})
	if err != nil {
		logging.Error("Failed to schedule updates", "error", err)
		return fmt.Errorf("failed to schedule updates: %w", err)
	}

	if s.opts.Backup != nil {
		_, err := s.scheduler.Cron(s.opts.BackupSchedule).Do(func() {
			if err := s.runBackup(); err != nil {
				logging.Error("Scheduled backup failed", "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("failed to schedule backups: %w", err)
		}
		logging.Info("Backups scheduled", "cron", s.opts.BackupSchedule)
	}

	s.scheduler.StartAsync()

	if warm {
		go func() {
			if err := s.updateData(); err != nil {
				logging.Error("Failed to refresh warm-started data", "error", err)
			}
		}()
	}

	s.startHealthMonitoring()

	logging.Info("Scheduler started", "compile_times", s.opts.CompileTimes)
	return nil
}

// Stop stops the scheduler and cancels running jobs
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		s.scheduler.Stop()
	})
}

// warmStart serves the previous artifact while the first compile runs
func (s *Scheduler) warmStart() bool {
	if s.opts.WarmStartPath == "" {
		return false
	}

	entries, err := drugdata.ReadCompiled(s.opts.WarmStartPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logging.Warn("Ignoring unreadable compiled data", "path", s.opts.WarmStartPath, "error", err)
		}
		return false
	}
	if len(entries) == 0 {
		return false
	}

	s.dataStore.UpdateData(entries)
	if info, err := os.Stat(s.opts.WarmStartPath); err == nil {
		s.dataStore.SetLastUpdated(info.ModTime())
	}
	logging.Info("Loaded previously compiled data", "path", s.opts.WarmStartPath, "entries", len(entries))
	return true
}

// updateData performs a complete data update using injected dependencies
func (s *Scheduler) updateData() error {
	// Prevent concurrent updates
	if !s.dataStore.BeginUpdate() {
		logging.Info("Update already in progress, skipping...")
		return nil
	}
	defer s.dataStore.EndUpdate()

	start := time.Now()
	entries, err := s.compiler.Compile(s.ctx)
	if err != nil {
		return fmt.Errorf("failed to compile drug data: %w", err)
	}

	s.dataStore.UpdateData(entries)

	logging.Info("Drug data update completed", "duration", time.Since(start).String(), "entry_count", len(entries))
	return nil
}

// runBackup skips a run while the previous one is still going
func (s *Scheduler) runBackup() error {
	if !s.backupRunning.CompareAndSwap(false, true) {
		logging.Info("Backup already in progress, skipping...")
		return nil
	}
	defer s.backupRunning.Store(false)

	return s.opts.Backup(s.ctx)
}

// startHealthMonitoring monitors the health of the data updates
func (s *Scheduler) startHealthMonitoring() {
	go func() {
		defer close(s.monitorDone)
		ticker := time.NewTicker(s.opts.MonitorEvery)
		defer ticker.Stop()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.checkStaleness()
			}
		}
	}()
}

func (s *Scheduler) checkStaleness() bool {
	lastUpdate := s.dataStore.GetLastUpdated()
	if time.Since(lastUpdate) > staleAfter {
		logging.Warn("Drug data hasn't been updated in over 25 hours", "last_update", lastUpdate)
		return true
	}
	return false
}
