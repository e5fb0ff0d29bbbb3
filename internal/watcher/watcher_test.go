package watcher

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"mmloader/internal/ledger"
)

type stubProcessor struct {
	mu     sync.Mutex
	calls  int
	result bool
	// consume removes these files on each call, as a successful load would.
	consume []string
}

func (p *stubProcessor) ProcessFiles(context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	for _, path := range p.consume {
		_ = os.Remove(path)
	}
	return p.result
}

func (p *stubProcessor) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func setupDirs(t *testing.T) (string, []Dir) {
	t.Helper()
	root := t.TempDir()
	dirs := []Dir{
		{Kind: ledger.FileClinical, Path: filepath.Join(root, "clinical"), Exts: []string{".json"}},
		{Kind: ledger.FileGenomic, Path: filepath.Join(root, "genomic"), Exts: []string{".json"}},
		{Kind: ledger.FileTrial, Path: filepath.Join(root, "trial"), Exts: []string{".json", ".yaml", ".yml"}},
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d.Path, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return root, dirs
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestScanFiltersExtensions(t *testing.T) {
	_, dirs := setupDirs(t)
	touch(t, filepath.Join(dirs[0].Path, "p.json"))
	touch(t, filepath.Join(dirs[0].Path, "p.yaml"))
	touch(t, filepath.Join(dirs[2].Path, "t.yml"))
	touch(t, filepath.Join(dirs[2].Path, "t.txt"))

	w := &Watcher{Dirs: append(dirs, Dir{Kind: ledger.FileTrial, Path: "/nonexistent/dir", Exts: []string{".json"}})}
	files, err := w.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %v", files)
	}
	if files[filepath.Join(dirs[2].Path, "t.yml")] != ledger.FileTrial {
		t.Fatalf("unexpected kinds %v", files)
	}
}

func TestPrimeThenTickProcessesOnlyNewFiles(t *testing.T) {
	_, dirs := setupDirs(t)
	touch(t, filepath.Join(dirs[0].Path, "existing.json"))

	fresh := filepath.Join(dirs[2].Path, "new.json")
	proc := &stubProcessor{result: true, consume: []string{fresh}}
	var out bytes.Buffer
	w := &Watcher{Dirs: dirs, Processor: proc, Out: &out}

	n, err := w.Prime(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("Prime = %d, %v", n, err)
	}

	w.Tick(context.Background())
	if proc.Calls() != 0 {
		t.Fatal("processor should not run without new files")
	}

	touch(t, fresh)
	w.Tick(context.Background())
	if proc.Calls() != 1 {
		t.Fatalf("expected one processing run, got %d", proc.Calls())
	}
	stats := w.Stats()
	if stats.FilesDetected != 1 || stats.ProcessingRuns != 1 || stats.LastActivity.IsZero() {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if !strings.Contains(out.String(), "  + new.json") || !strings.Contains(out.String(), "Processing completed successfully") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
}

func TestFailedPassLeavesFilesNew(t *testing.T) {
	_, dirs := setupDirs(t)
	proc := &stubProcessor{result: false}
	var out bytes.Buffer
	w := &Watcher{Dirs: dirs, Processor: proc, Out: &out}
	if _, err := w.Prime(context.Background()); err != nil {
		t.Fatal(err)
	}

	touch(t, filepath.Join(dirs[1].Path, "g.json"))
	w.Tick(context.Background())
	w.Tick(context.Background())
	if proc.Calls() != 2 {
		t.Fatalf("failed files should be retried, calls=%d", proc.Calls())
	}
	if w.Stats().ProcessingRuns != 0 {
		t.Fatalf("failed passes are not counted: %+v", w.Stats())
	}
	if !strings.Contains(out.String(), "Processing completed with errors") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
}

func TestIdleNotice(t *testing.T) {
	_, dirs := setupDirs(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.Local)
	var out bytes.Buffer
	w := &Watcher{Dirs: dirs, Processor: &stubProcessor{}, Out: &out, Now: func() time.Time { return now }}
	if _, err := w.Prime(context.Background()); err != nil {
		t.Fatal(err)
	}
	w.stats.LastActivity = now.Add(-90 * time.Minute)

	w.Tick(context.Background())
	if !strings.Contains(out.String(), "No new files. Last activity: 1.5 hours ago") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
	out.Reset()
	w.Tick(context.Background())
	if out.Len() != 0 {
		t.Fatalf("notice should not repeat within the hour:\n%s", out.String())
	}
}

func TestLedgerSurvivesRestart(t *testing.T) {
	root, dirs := setupDirs(t)
	store, err := ledger.Open(filepath.Join(root, "ledger.db"))
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	defer store.Close()

	proc := &stubProcessor{result: true}
	first := &Watcher{Dirs: dirs, Processor: proc, Ledger: store}
	if _, err := first.Prime(context.Background()); err != nil {
		t.Fatal(err)
	}
	touch(t, filepath.Join(dirs[0].Path, "kept.json"))
	if !first.ProcessOnce(context.Background()) {
		t.Fatal("expected success")
	}

	second := &Watcher{Dirs: dirs, Processor: proc, Ledger: store}
	known, err := store.ProcessedPaths(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := known[filepath.Join(dirs[0].Path, "kept.json")]; !ok {
		t.Fatalf("expected kept.json in ledger, got %v", known)
	}
	if _, err := second.Prime(context.Background()); err != nil {
		t.Fatal(err)
	}
	fresh, err := second.NewFiles()
	if err != nil || len(fresh) != 0 {
		t.Fatalf("expected no new files after restart, got %v err=%v", fresh, err)
	}

	runs, err := store.ListRuns(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Kind != ledger.KindProcess || runs[0].State != ledger.StateSucceeded {
		t.Fatalf("unexpected runs %+v", runs)
	}
}

func TestRunStopsOnCancelAndPrintsStats(t *testing.T) {
	_, dirs := setupDirs(t)
	var out syncBuffer
	w := &Watcher{Dirs: dirs, Processor: &stubProcessor{result: true}, Out: &out, Interval: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(out.String(), "Initial scan") {
		if time.Now().After(deadline) {
			t.Fatal("watcher did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
	text := out.String()
	for _, want := range []string{"Checking every 1 hours 0 minutes (3600 seconds)", "Final Statistics:", "Last activity: never", "File watcher stopped"} {
		if !strings.Contains(text, want) {
			t.Fatalf("missing %q in output:\n%s", want, text)
		}
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
