package deps

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	if err := os.WriteFile(present, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Blank", Command: "  "},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Path != present {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[0].Detail != "" {
		t.Fatalf("unexpected detail for available dependency: %s", results[0].Detail)
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary with detail, got %#v", results[1])
	}
	if results[2].Detail != "command not configured" {
		t.Fatalf("unexpected detail for blank command: %q", results[2].Detail)
	}
}

func TestCheckModules(t *testing.T) {
	interpreter := filepath.Join(t.TempDir(), "python3")
	script := `#!/bin/sh
if [ "$2" = "import requests" ]; then
  exit 0
fi
echo "Traceback (most recent call last):" >&2
echo "ModuleNotFoundError: No module named '${2#import }'" >&2
exit 1
`
	if err := os.WriteFile(interpreter, []byte(script), 0o755); err != nil {
		t.Fatalf("write interpreter stub: %v", err)
	}

	results := CheckModules(context.Background(), interpreter, []string{"requests", " ", "loguru"})
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if !results[0].Available {
		t.Fatalf("expected requests available, got %#v", results[0])
	}
	if results[1].Available {
		t.Fatal("expected loguru unavailable")
	}
	if !strings.Contains(results[1].Detail, "No module named 'loguru'") {
		t.Fatalf("expected import error detail, got %q", results[1].Detail)
	}
}
