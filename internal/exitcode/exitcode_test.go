package exitcode

import (
	"errors"
	"fmt"
	"testing"
)

func TestFromNil(t *testing.T) {
	if got := From(nil); got != Success {
		t.Fatalf("expected success, got %d", got)
	}
}

func TestFromWrappedError(t *testing.T) {
	err := fmt.Errorf("chain: %w", New(EnvironmentInstallFailed, errors.New("pip failed")))
	if got := From(err); got != EnvironmentInstallFailed {
		t.Fatalf("expected %d, got %d", EnvironmentInstallFailed, got)
	}
	if err.Error() != "chain: pip failed" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestFromPlainError(t *testing.T) {
	if got := From(errors.New("boom")); got != General {
		t.Fatalf("expected general status, got %d", got)
	}
}

func TestForwardIsSilent(t *testing.T) {
	err := Forward(42)
	if From(err) != 42 {
		t.Fatalf("expected forwarded status 42, got %d", From(err))
	}
	if !Silent(err) {
		t.Fatal("expected forwarded error to be silent")
	}
	if Silent(New(3, errors.New("conda missing"))) {
		t.Fatal("expected regular coded error to be printed")
	}
}
