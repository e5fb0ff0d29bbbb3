package preflight

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mmloader/internal/exitcode"
)

func writeInterpreter(t *testing.T, dir string, importable ...string) string {
	t.Helper()
	var cases strings.Builder
	for _, mod := range importable {
		cases.WriteString("  \"import " + mod + "\") exit 0 ;;\n")
	}
	script := "#!/bin/sh\ncase \"$2\" in\n" + cases.String() +
		"esac\necho \"ModuleNotFoundError: No module named '${2#import }'\" >&2\nexit 1\n"
	path := filepath.Join(dir, "python3")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write interpreter stub: %v", err)
	}
	return path
}

func TestRunMissingMarkerSkipsLaterChecks(t *testing.T) {
	work := t.TempDir()
	marker := filepath.Join(t.TempDir(), "probe-ran")
	// The stub would leave a trace if it were ever invoked.
	interpreter := filepath.Join(t.TempDir(), "python3")
	if err := os.WriteFile(interpreter, []byte("#!/bin/sh\ntouch "+marker+"\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	report := Run(context.Background(), Options{
		WorkDir:     work,
		MarkerFile:  "config.py",
		Interpreter: interpreter,
		Libraries:   []string{"requests"},
	})

	if report.Passed() {
		t.Fatal("expected failure without marker file")
	}
	failure, _ := report.FirstFailure()
	if failure.Category != CategoryWorkingDirectory {
		t.Fatalf("expected working directory failure, got %s", failure.Category)
	}
	for _, check := range report.Checks[1:] {
		if !check.Skipped {
			t.Fatalf("expected later checks skipped, got %#v", check)
		}
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Fatal("interpreter must not run after a working directory failure")
	}
	if code := exitcode.From(report.Err()); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if entries, _ := os.ReadDir(work); len(entries) != 0 {
		t.Fatalf("preflight must not create files, found %d", len(entries))
	}
}

func TestRunMissingInterpreter(t *testing.T) {
	work := t.TempDir()
	if err := os.WriteFile(filepath.Join(work, "config.py"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	report := Run(context.Background(), Options{
		WorkDir:     work,
		MarkerFile:  "config.py",
		Interpreter: "clearly-not-a-python",
		Libraries:   []string{"requests"},
	})
	failure, ok := report.FirstFailure()
	if !ok || failure.Category != CategoryInterpreter {
		t.Fatalf("expected interpreter failure, got %#v", report.Checks)
	}
	var coded *exitcode.Error
	if err := report.Err(); !errors.As(err, &coded) || coded.Code != exitcode.MissingInterpreter {
		t.Fatalf("expected MissingInterpreter error, got %v", err)
	}
}

func TestRunMissingLibraryMentionsRemedy(t *testing.T) {
	work := t.TempDir()
	if err := os.WriteFile(filepath.Join(work, "config.py"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	interpreter := writeInterpreter(t, t.TempDir(), "requests")

	report := Run(context.Background(), Options{
		WorkDir:     work,
		MarkerFile:  "config.py",
		Interpreter: interpreter,
		Libraries:   []string{"requests", "loguru"},
		Manifest:    filepath.Join(work, "requirements.txt"),
	})
	failure, ok := report.FirstFailure()
	if !ok || failure.Category != CategoryLibrary || failure.Name != "loguru" {
		t.Fatalf("expected loguru failure, got %#v", report.Checks)
	}
	err := report.Err()
	if err == nil || !strings.Contains(err.Error(), "pip install -r requirements.txt") {
		t.Fatalf("expected remedy in error, got %v", err)
	}
	if exitcode.From(err) != exitcode.MissingDependency {
		t.Fatalf("unexpected exit code %d", exitcode.From(err))
	}
}

func TestRunAllPass(t *testing.T) {
	work := t.TempDir()
	if err := os.WriteFile(filepath.Join(work, "config.py"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	interpreter := writeInterpreter(t, t.TempDir(), "requests", "loguru")
	report := Run(context.Background(), Options{
		WorkDir:     work,
		MarkerFile:  "config.py",
		Interpreter: interpreter,
		Libraries:   []string{"requests", "loguru"},
	})
	if !report.Passed() || report.Err() != nil {
		t.Fatalf("expected all checks to pass, got %#v", report.Checks)
	}
	if len(report.Checks) != 4 {
		t.Fatalf("expected 4 checks, got %d", len(report.Checks))
	}
}

func TestCheckDirectoryAccess_OK(t *testing.T) {
	result := CheckDirectoryAccess("test", t.TempDir())
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed || result.Detail == "" {
		t.Fatalf("expected failure with detail for missing dir, got %#v", result)
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if CheckDirectoryAccess("test", f).Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckServer_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Basic good-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/api/trial" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"_items":[]}`))
	}))
	defer srv.Close()

	if result := CheckServer(context.Background(), srv.URL+"/", "good-token", false); !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckServer_BadToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	result := CheckServer(context.Background(), srv.URL, "bad", false)
	if result.Passed || !strings.Contains(result.Detail, "auth failed") {
		t.Fatalf("expected auth failure, got %#v", result)
	}
}

func TestCheckServer_MissingSettings(t *testing.T) {
	if CheckServer(context.Background(), "", "token", false).Passed {
		t.Fatal("expected failure for missing url")
	}
	if CheckServer(context.Background(), "http://localhost", "", false).Passed {
		t.Fatal("expected failure for missing token")
	}
}
