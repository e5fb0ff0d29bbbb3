package watcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"mmloader/internal/config"
	"mmloader/internal/ledger"
	"mmloader/internal/logging"
	"mmloader/internal/metrics"
)

const idleNoticeAfter = time.Hour

// Processor runs one processing pass.
type Processor interface {
	ProcessFiles(ctx context.Context) bool
}

// Ledger persists processed files and pass history; *ledger.Store satisfies it.
type Ledger interface {
	StartRun(ctx context.Context, kind ledger.Kind) (*ledger.Run, error)
	FinishRun(ctx context.Context, run *ledger.Run, state ledger.State, code int, detail string) error
	MarkProcessed(ctx context.Context, path string, kind ledger.FileKind) error
	ProcessedPaths(ctx context.Context) (map[string]struct{}, error)
}

// Dir is one watched directory.
type Dir struct {
	Kind ledger.FileKind
	Path string
	// Exts lists accepted lowercase extensions including the dot.
	Exts []string
}

func (d Dir) accepts(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range d.Exts {
		if ext == allowed {
			return true
		}
	}
	return false
}

// DirsFromConfig returns the clinical, genomic and trial directories.
func DirsFromConfig(cfg *config.Config) []Dir {
	return []Dir{
		{Kind: ledger.FileClinical, Path: cfg.PatientClinicalDir(), Exts: []string{".json"}},
		{Kind: ledger.FileGenomic, Path: cfg.PatientGenomicDir(), Exts: []string{".json"}},
		{Kind: ledger.FileTrial, Path: cfg.Trial.DataDir, Exts: []string{".json", ".yaml", ".yml"}},
	}
}

// Stats summarizes watcher activity.
type Stats struct {
	FilesDetected  int
	FilesProcessed int
	ProcessingRuns int
	LastActivity   time.Time
}

// Watcher polls Dirs every Interval.
type Watcher struct {
	Dirs      []Dir
	Processor Processor
	Interval  time.Duration
	Out       io.Writer
	Logger    *slog.Logger
	Ledger    Ledger
	Metrics   *metrics.Watcher
	Now       func() time.Time

	mu        sync.Mutex
	processed map[string]ledger.FileKind
	stats     Stats
}

// New builds a Watcher over the configured directories.
func New(cfg *config.Config, proc Processor, out io.Writer, logger *slog.Logger) *Watcher {
	return &Watcher{
		Dirs:      DirsFromConfig(cfg),
		Processor: proc,
		Interval:  time.Duration(cfg.Watcher.IntervalMinutes) * time.Minute,
		Out:       out,
		Logger:    logging.NewComponentLogger(logger, "watcher"),
	}
}

func (w *Watcher) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w *Watcher) logger() *slog.Logger {
	if w.Logger == nil {
		return logging.NewNop()
	}
	return w.Logger
}

func (w *Watcher) printf(format string, args ...any) {
	if w.Out != nil {
		fmt.Fprintf(w.Out, format, args...)
	}
}

// Stats returns a snapshot of the counters.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Scan lists document files currently in the watched directories. Missing
// directories are skipped.
func (w *Watcher) Scan() (map[string]ledger.FileKind, error) {
	files := make(map[string]ledger.FileKind)
	for _, dir := range w.Dirs {
		entries, err := os.ReadDir(dir.Path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("scan %s: %w", dir.Path, err)
		}
		for _, entry := range entries {
			if !entry.Type().IsRegular() || !dir.accepts(entry.Name()) {
				continue
			}
			files[filepath.Join(dir.Path, entry.Name())] = dir.Kind
		}
	}
	return files, nil
}

// Prime loads the ledger's processed set and adds every file present now.
// It returns the number of files found on disk.
func (w *Watcher) Prime(ctx context.Context) (int, error) {
	w.mu.Lock()
	w.processed = make(map[string]ledger.FileKind)
	w.mu.Unlock()

	if w.Ledger != nil {
		known, err := w.Ledger.ProcessedPaths(ctx)
		if err != nil {
			return 0, err
		}
		w.mu.Lock()
		for path := range known {
			w.processed[path] = ""
		}
		w.mu.Unlock()
	}

	current, err := w.Scan()
	if err != nil {
		return 0, err
	}
	w.markProcessed(ctx, current)
	return len(current), nil
}

// NewFiles returns files not yet marked processed, sorted.
func (w *Watcher) NewFiles() ([]string, error) {
	current, err := w.Scan()
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	var fresh []string
	for path := range current {
		if _, ok := w.processed[path]; !ok {
			fresh = append(fresh, path)
		}
	}
	sort.Strings(fresh)
	return fresh, nil
}

// ProcessOnce runs the processor and, on success, marks every file now in
// the watched directories as processed.
func (w *Watcher) ProcessOnce(ctx context.Context) bool {
	var run *ledger.Run
	if w.Ledger != nil {
		var err error
		if run, err = w.Ledger.StartRun(ctx, ledger.KindProcess); err != nil {
			logging.WarnWithContext(w.logger(), "run ledger unavailable", "ledger_start_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "this pass is not recorded in history"),
			)
		} else {
			ctx = logging.WithRunID(ctx, run.ID)
		}
	}

	success := w.Processor.ProcessFiles(ctx)
	at := w.now()

	if success {
		if current, err := w.Scan(); err != nil {
			logging.WarnWithContext(w.logger(), "rescan after processing failed", "watcher_scan_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "remaining files may be reported as new next tick"),
			)
		} else {
			w.markProcessed(ctx, current)
		}
		w.mu.Lock()
		w.stats.FilesProcessed = len(w.processed)
		w.stats.ProcessingRuns++
		w.stats.LastActivity = at
		w.mu.Unlock()
	}
	w.Metrics.ObserveRun(success, at)

	if run != nil {
		state, code, detail := ledger.StateSucceeded, 0, "processing completed successfully"
		if !success {
			state, code, detail = ledger.StateFailed, 1, "processing completed with errors"
		}
		if err := w.Ledger.FinishRun(context.WithoutCancel(ctx), run, state, code, detail); err != nil {
			logging.WarnWithContext(w.logger(), "run ledger update failed", "ledger_finish_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "history shows this pass as still running"),
			)
		}
	}
	return success
}

func (w *Watcher) markProcessed(ctx context.Context, files map[string]ledger.FileKind) {
	w.mu.Lock()
	var added []string
	if w.processed == nil {
		w.processed = make(map[string]ledger.FileKind)
	}
	for path, kind := range files {
		if _, ok := w.processed[path]; !ok {
			added = append(added, path)
		}
		w.processed[path] = kind
	}
	tracked := len(w.processed)
	w.mu.Unlock()

	w.Metrics.SetTracked(tracked)
	if w.Ledger == nil {
		return
	}
	sort.Strings(added)
	for _, path := range added {
		if err := w.Ledger.MarkProcessed(ctx, path, files[path]); err != nil {
			logging.WarnWithContext(w.logger(), "failed to persist processed file", "ledger_mark_failed",
				logging.String(logging.FieldPath, path),
				logging.Error(err),
				logging.String(logging.FieldImpact, "file may be reported as new after a restart"),
			)
		}
	}
}

// Tick checks for new files once and processes them, or prints an idle
// notice when nothing arrived for over an hour.
func (w *Watcher) Tick(ctx context.Context) {
	fresh, err := w.NewFiles()
	if err != nil {
		logging.ErrorWithContext(w.logger(), "directory scan failed", "watcher_scan_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check directory permissions"),
		)
		w.printf("Unexpected error: %v\n", err)
		return
	}

	if len(fresh) == 0 {
		w.mu.Lock()
		last := w.stats.LastActivity
		idle := !last.IsZero() && w.now().Sub(last) > idleNoticeAfter
		if idle {
			w.stats.LastActivity = w.now()
		}
		w.mu.Unlock()
		if idle {
			w.printf("No new files. Last activity: %.1f hours ago\n", w.now().Sub(last).Hours())
		}
		return
	}

	w.printf("New files detected: %d\n", len(fresh))
	for _, path := range fresh {
		w.printf("  + %s\n", filepath.Base(path))
	}
	w.mu.Lock()
	w.stats.FilesDetected += len(fresh)
	w.mu.Unlock()
	w.Metrics.ObserveDetected(len(fresh))
	w.logger().Info("new files detected", logging.Int("count", len(fresh)))

	if w.ProcessOnce(ctx) {
		w.printf("Processing completed successfully\n")
	} else {
		w.printf("Processing completed with errors\n")
	}
}

// Run primes the processed set and polls until ctx is cancelled, then
// prints final statistics.
func (w *Watcher) Run(ctx context.Context) error {
	interval := w.Interval
	if interval <= 0 {
		interval = time.Duration(config.DefaultWatcherIntervalMinutes) * time.Minute
	}
	hours := int(interval / time.Hour)
	minutes := int((interval % time.Hour) / time.Minute)

	w.printf("File watcher started\n")
	w.printf("Checking every %d hours %d minutes (%d seconds)\n", hours, minutes, int(interval/time.Second))
	w.printf("Press Ctrl+C to stop\n")
	w.printf("%s\n", strings.Repeat("=", 50))

	count, err := w.Prime(ctx)
	if err != nil {
		return fmt.Errorf("initial scan: %w", err)
	}
	w.printf("Initial scan: %d existing files\n", count)
	w.logger().Info("watcher started",
		logging.Duration("interval", interval),
		logging.Int("existing_files", count),
	)

	defer w.printFinalStats()

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			w.printf("\nShutting down gracefully...\n")
			return nil
		case <-timer.C:
		}
		w.Tick(ctx)
		timer.Reset(interval)
	}
}

func (w *Watcher) printFinalStats() {
	stats := w.Stats()
	last := "never"
	if !stats.LastActivity.IsZero() {
		last = stats.LastActivity.Format(time.DateTime)
	}
	w.printf("\n%s\n", strings.Repeat("=", 50))
	w.printf("Final Statistics:\n")
	w.printf("  Files detected: %d\n", stats.FilesDetected)
	w.printf("  Files processed: %d\n", stats.FilesProcessed)
	w.printf("  Processing runs: %d\n", stats.ProcessingRuns)
	w.printf("  Last activity: %s\n", last)
	w.printf("File watcher stopped\n")
	w.logger().Info("watcher stopped",
		logging.Int("files_detected", stats.FilesDetected),
		logging.Int("files_processed", stats.FilesProcessed),
		logging.Int("processing_runs", stats.ProcessingRuns),
	)
}
