package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"mmloader/internal/config"
	"mmloader/internal/exitcode"
	"mmloader/internal/ledger"
	"mmloader/internal/testsupport"
)

func TestConfigInitWritesSample(t *testing.T) {
	env := setupCLITestEnv(t, nil)
	target := filepath.Join(env.baseDir, "fresh", "config.toml")

	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration to "+target)
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected sample config: %v", err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected error when config already exists")
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, ""); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestConfigShowMasksToken(t *testing.T) {
	env := setupCLITestEnv(t, func(cfg *config.Config) {
		cfg.MatchMiner.Server = "http://matchminer.local"
		cfg.MatchMiner.Token = "c2VjcmV0"
	})

	out, _, err := runCLI(t, []string{"config", "show"}, env.configPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "# "+env.configPath)
	requireContains(t, out, "********")
	if strings.Contains(out, "c2VjcmV0") {
		t.Fatalf("token leaked in output:\n%s", out)
	}
}

func TestInvalidConfigExitsWithConfigCode(t *testing.T) {
	base := t.TempDir()
	t.Setenv("HOME", base)
	path := filepath.Join(base, "config.toml")
	testsupport.WriteFile(t, path, "[watcher]\ninterval_minutes = \"often\"\n")

	_, _, err := runCLI(t, []string{"history"}, path)
	if err == nil {
		t.Fatal("expected error for invalid config")
	}
	if code := exitcode.From(err); code != exitcode.Config {
		t.Fatalf("expected exit code %d, got %d (%v)", exitcode.Config, code, err)
	}
}

func TestPreflightMissingMarkerFails(t *testing.T) {
	var sentinel string
	env := setupCLITestEnv(t, func(cfg *config.Config) {
		base := testsupport.BaseDir(cfg)
		sentinel = filepath.Join(base, "interpreter-ran")
		cfg.Preflight.Interpreter = testsupport.WriteScript(t, filepath.Join(base, "bin", "python3"), "touch "+sentinel)
	})

	out, _, err := runCLI(t, []string{"preflight"}, env.configPath)
	if err == nil {
		t.Fatal("expected preflight failure without the marker file")
	}
	if code := exitcode.From(err); code != exitcode.WrongWorkingDirectory {
		t.Fatalf("expected exit code %d, got %d", exitcode.WrongWorkingDirectory, code)
	}
	requireContains(t, out, "working_directory")
	if strings.Contains(out, "All dependencies satisfied") {
		t.Fatalf("unexpected success line:\n%s", out)
	}
	if _, statErr := os.Stat(sentinel); !os.IsNotExist(statErr) {
		t.Fatal("interpreter or import check ran without the marker file")
	}
	logs, globErr := filepath.Glob(filepath.Join(env.cfg.Paths.LogDir, "*.log"))
	if globErr != nil || len(logs) != 0 {
		t.Fatalf("expected no log files, got %v (%v)", logs, globErr)
	}

	testsupport.WriteFile(t, filepath.Join(env.cfg.Paths.WorkDir, env.cfg.Preflight.MarkerFile), "")
	if out, _, err := runCLI(t, []string{"preflight"}, env.configPath); err != nil {
		t.Fatalf("preflight with marker: %v\n%s", err, out)
	}
	if _, statErr := os.Stat(sentinel); statErr != nil {
		t.Fatalf("expected the import check to run once the marker exists: %v", statErr)
	}
}

func TestPreflightPassesWithStubbedInterpreter(t *testing.T) {
	env := setupCLITestEnv(t, func(cfg *config.Config) {
		testsupport.WriteFile(t, filepath.Join(cfg.Paths.WorkDir, cfg.Preflight.MarkerFile), "")
	}, testsupport.WithStubbedBinaries())

	out, _, err := runCLI(t, []string{"preflight"}, env.configPath)
	if err != nil {
		t.Fatalf("preflight: %v\n%s", err, out)
	}
	requireContains(t, out, "All dependencies satisfied")
}

func TestChainStopsAfterSyncFailure(t *testing.T) {
	var marker string
	env := setupCLITestEnv(t, func(cfg *config.Config) {
		base := testsupport.BaseDir(cfg)
		marker = filepath.Join(base, "processor-ran")
		testsupport.WriteScript(t, filepath.Join(cfg.Sync.Dir, cfg.Sync.Script), "echo syncing\nexit 3")
		cfg.Processor.Command = []string{testsupport.WriteScript(t, filepath.Join(base, "bin", "proc.sh"), "touch "+marker)}
	})

	out, _, err := runCLI(t, []string{"chain"}, env.configPath)
	if err == nil {
		t.Fatal("expected chain failure")
	}
	if code := exitcode.From(err); code != 3 {
		t.Fatalf("expected forwarded exit code 3, got %d", code)
	}
	if !exitcode.Silent(err) {
		t.Fatalf("expected a silent forwarded status, got %v", err)
	}
	requireContains(t, out, "syncing")
	requireContains(t, out, "sync failed with exit code 3")
	requireContains(t, out, "Chain finished: Sync Failed")
	if _, statErr := os.Stat(marker); !os.IsNotExist(statErr) {
		t.Fatal("processor ran after sync failed")
	}
}

func TestChainRunsSyncThenProcessing(t *testing.T) {
	env := setupCLITestEnv(t, func(cfg *config.Config) {
		base := testsupport.BaseDir(cfg)
		testsupport.WriteScript(t, filepath.Join(cfg.Sync.Dir, cfg.Sync.Script), "echo syncing")
		cfg.Processor.Command = []string{testsupport.WriteScript(t, filepath.Join(base, "bin", "proc.sh"), "echo processing")}
	})

	out, _, err := runCLI(t, []string{"chain"}, env.configPath)
	if err != nil {
		t.Fatalf("chain: %v\n%s", err, out)
	}
	syncAt := strings.Index(out, "sync completed successfully")
	procAt := strings.Index(out, "processing completed successfully")
	if syncAt < 0 || procAt < 0 || syncAt > procAt {
		t.Fatalf("unexpected chain output:\n%s", out)
	}
	requireContains(t, out, "Chain finished: Completed")

	history, _, err := runCLI(t, []string{"history"}, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, history, "chain")
	requireContains(t, history, "Succeeded")
	requireContains(t, lastRunLine(context.Background(), env.cfg.LedgerPath(), false), "chain: Succeeded at")

	runs, err := testsupport.MustOpenLedger(t, env.cfg).ListRuns(context.Background(), 5)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Kind != ledger.KindChain || runs[0].ExitCode != 0 {
		t.Fatalf("unexpected ledger runs: %+v", runs)
	}
}

func TestChainMissingSyncScript(t *testing.T) {
	env := setupCLITestEnv(t, func(cfg *config.Config) {
		cfg.Processor.Command = []string{"/bin/true"}
	})

	out, _, err := runCLI(t, []string{"chain"}, env.configPath)
	if code := exitcode.From(err); code != exitcode.MissingSiblingScript {
		t.Fatalf("expected exit code %d, got %d (%v)", exitcode.MissingSiblingScript, code, err)
	}
	requireContains(t, out, "Chain finished: Error")
}

func TestLaunchProcessorForwardsExitCode(t *testing.T) {
	env := setupCLITestEnv(t, func(cfg *config.Config) {
		base := testsupport.BaseDir(cfg)
		cfg.Processor.Command = []string{testsupport.WriteScript(t, filepath.Join(base, "bin", "proc.sh"), "echo working\nexit 42")}
	})

	out, _, err := runCLI(t, []string{"launch", "processor"}, env.configPath)
	if code := exitcode.From(err); code != 42 {
		t.Fatalf("expected exit code 42, got %d (%v)", code, err)
	}
	requireContains(t, out, "Running processor:")
	requireContains(t, out, "Processing completed with errors (exit code: 42)")

	logData, readErr := os.ReadFile(filepath.Join(env.cfg.Paths.LogDir, env.cfg.Processor.LogFile))
	if readErr != nil {
		t.Fatalf("read processor log: %v", readErr)
	}
	requireContains(t, string(logData), "working")
	requireContains(t, string(logData), "exit code: 42")
}

func TestLaunchProcessorRelativeCommandUsesWorkDir(t *testing.T) {
	env := setupCLITestEnv(t, func(cfg *config.Config) {
		testsupport.WriteScript(t, filepath.Join(cfg.Paths.WorkDir, "run_processor.sh"), "echo from work dir")
		cfg.Processor.Command = []string{"./run_processor.sh"}
	})
	t.Chdir(t.TempDir())

	out, _, err := runCLI(t, []string{"launch", "processor"}, env.configPath)
	if err != nil {
		t.Fatalf("launch processor: %v\n%s", err, out)
	}
	requireContains(t, out, "Processing completed successfully")
}

func TestProcessRequiresServer(t *testing.T) {
	env := setupCLITestEnv(t, nil)

	_, _, err := runCLI(t, []string{"process"}, env.configPath)
	if code := exitcode.From(err); code != exitcode.Config {
		t.Fatalf("expected exit code %d, got %d (%v)", exitcode.Config, code, err)
	}
}

type fakeMatchMiner struct {
	mu        sync.Mutex
	clinical  []map[string]any
	genomic   []map[string]any
	trials    []map[string]any
	engineRun int
}

func (f *fakeMatchMiner) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/clinical":
			var doc map[string]any
			if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
				t.Errorf("decode clinical: %v", err)
			}
			f.clinical = append(f.clinical, doc)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"_id":"clin-1","_status":"OK"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/api/genomic":
			var docs []map[string]any
			if err := json.NewDecoder(r.Body).Decode(&docs); err != nil {
				t.Errorf("decode genomic: %v", err)
			}
			f.genomic = append(f.genomic, docs...)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"_status":"OK"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/api/trial":
			var doc map[string]any
			if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
				t.Errorf("decode trial: %v", err)
			}
			f.trials = append(f.trials, doc)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"_id":"trial-1","_status":"OK"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/api/run_matchengine":
			f.engineRun++
			_, _ = w.Write([]byte(`{}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/clinical":
			_, _ = w.Write([]byte(`{"_items":[{"_id":"clin-1","SAMPLE_ID":"S1"},{"_id":"clin-2","SAMPLE_ID":"S2"}]}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/genomic":
			_, _ = w.Write([]byte(`{"_items":[{"CLINICAL_ID":"clin-1","TRUE_HUGO_SYMBOL":"EGFR"}]}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/trial_match":
			_, _ = w.Write([]byte(`{"_items":[` +
				`{"clinical_id":"clin-1","protocol_no":"P1","match_type":"gene"},` +
				`{"clinical_id":"clin-1","protocol_no":"P2","match_type":"generic_clinical"},` +
				`{"clinical_id":"clin-2","protocol_no":"P1","match_type":"gene"}]}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func newFakeServer(t *testing.T) (*fakeMatchMiner, string) {
	t.Helper()
	fake := &fakeMatchMiner{}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)
	return fake, srv.URL
}

func TestProcessLoadsPatientsAndTrials(t *testing.T) {
	fake, url := newFakeServer(t)
	env := setupCLITestEnv(t, nil, testsupport.WithServer(url, "dG9rZW4="))
	cfg := env.cfg
	testsupport.WriteFile(t, filepath.Join(cfg.Patient.DataDir, cfg.Patient.ClinicalSubdir, "p1.json"), `{"SAMPLE_ID":"S1"}`)
	testsupport.WriteFile(t, filepath.Join(cfg.Patient.DataDir, cfg.Patient.GenomicSubdir, "p1.json"), `[{"TRUE_HUGO_SYMBOL":"EGFR"}]`)
	testsupport.WriteFile(t, filepath.Join(cfg.Trial.DataDir, "t1.yaml"), "nct_id: NCT0001\ntitle: Example\nprotocol_id: 0\nprotocol_no: \"\"\n")
	testsupport.WriteFile(t, filepath.Join(cfg.Trial.DataDir, "all_nct_ids.json"), `["NCT0001"]`)
	testsupport.WriteFile(t, cfg.Trial.EnvConfigPath, `{"current_date":null,"protocol_no_counter":"00","protocol_id_counter":7}`)

	out, _, err := runCLI(t, []string{"process"}, env.configPath)
	if err != nil {
		t.Fatalf("process: %v\n%s", err, out)
	}
	requireContains(t, out, "Processing files at")
	requireContains(t, out, "Patient files processed successfully")

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.clinical) != 1 || len(fake.genomic) != 1 || len(fake.trials) != 1 {
		t.Fatalf("unexpected inserts: clinical=%d genomic=%d trials=%d", len(fake.clinical), len(fake.genomic), len(fake.trials))
	}
	if fake.genomic[0]["CLINICAL_ID"] != "clin-1" || fake.genomic[0]["SAMPLE_ID"] != "S1" {
		t.Fatalf("genomic record not linked: %v", fake.genomic[0])
	}
	if fake.trials[0]["protocol_id"] != float64(8) {
		t.Fatalf("unexpected protocol_id %v", fake.trials[0]["protocol_id"])
	}
	if fake.engineRun != 1 {
		t.Fatalf("expected one matchengine run, got %d", fake.engineRun)
	}

	for _, path := range []string{
		filepath.Join(cfg.Patient.ProcessedDir, "clinical", "p1.json"),
		filepath.Join(cfg.Patient.ProcessedDir, "genomic", "p1.json"),
		filepath.Join(cfg.Trial.ProcessedDir, "t1.yaml"),
		filepath.Join(cfg.Trial.DataDir, "all_nct_ids.json"),
	} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s: %v", path, err)
		}
	}
}

func TestStatsSummarizesMatches(t *testing.T) {
	_, url := newFakeServer(t)
	env := setupCLITestEnv(t, nil, testsupport.WithServer(url, "dG9rZW4="))

	out, _, err := runCLI(t, []string{"stats", "--patients"}, env.configPath)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	requireContains(t, out, "Total patients")
	requireContains(t, out, "Skipped patients (no genomic records)")
	requireContains(t, out, "clin-1")
	if strings.Contains(out, "clin-2") {
		t.Fatalf("patient without genomic records listed:\n%s", out)
	}
}

func TestWatchStatusNotRunning(t *testing.T) {
	env := setupCLITestEnv(t, nil)

	out, _, err := runCLI(t, []string{"watch", "status"}, env.configPath)
	if err != nil {
		t.Fatalf("watch status: %v", err)
	}
	requireContains(t, out, "not running")
}

func TestWatchStatusAndStopIgnoreReusedPID(t *testing.T) {
	env := setupCLITestEnv(t, nil)
	pidFile := env.cfg.WatcherPIDPath()
	writePID := func() {
		t.Helper()
		testsupport.WriteFile(t, pidFile, strconv.Itoa(os.Getpid())+"\n")
	}

	writePID()
	out, _, err := runCLI(t, []string{"watch", "status"}, env.configPath)
	if err != nil {
		t.Fatalf("watch status: %v", err)
	}
	requireContains(t, out, "removed stale pid")
	if _, statErr := os.Stat(pidFile); !os.IsNotExist(statErr) {
		t.Fatalf("expected stale pid file removed, got %v", statErr)
	}

	writePID()
	out, _, err = runCLI(t, []string{"watch", "stop"}, env.configPath)
	if err != nil {
		t.Fatalf("watch stop: %v", err)
	}
	requireContains(t, out, "Watcher is not running (removed stale pid")
	if _, statErr := os.Stat(pidFile); !os.IsNotExist(statErr) {
		t.Fatalf("expected stale pid file removed, got %v", statErr)
	}
}

func TestWatchRunOnceWithEmptyDirectories(t *testing.T) {
	_, url := newFakeServer(t)
	env := setupCLITestEnv(t, nil, testsupport.WithServer(url, "dG9rZW4="))

	if _, _, err := runCLI(t, []string{"watch", "run", "--once"}, env.configPath); err != nil {
		t.Fatalf("watch run --once: %v", err)
	}
}

func TestHistoryEmpty(t *testing.T) {
	env := setupCLITestEnv(t, nil)

	out, _, err := runCLI(t, []string{"history"}, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "No runs recorded")
}

func TestLogsShowsProcessorTail(t *testing.T) {
	env := setupCLITestEnv(t, nil)
	testsupport.WriteFile(t, env.cfg.ProcessorLogPath(), "first\nsecond\nthird\n")

	out, _, err := runCLI(t, []string{"logs", "processor", "-n", "2"}, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if out != "second\nthird\n" {
		t.Fatalf("unexpected logs output %q", out)
	}

	out, _, err = runCLI(t, []string{"logs"}, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "No log entries available")
}

func TestConfigValidateWarnsWithoutServer(t *testing.T) {
	env := setupCLITestEnv(t, nil)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid: "+env.configPath)
	requireContains(t, out, "[WARN] matchminer.server is required")
}
