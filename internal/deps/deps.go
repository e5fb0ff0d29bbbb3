package deps

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Requirement defines an external executable mmloader relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	// Path is the resolved executable location when Available.
	Path   string
	Detail string
}

// CheckBinaries evaluates the provided requirements against PATH.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		switch path, err := exec.LookPath(cmd); {
		case cmd == "":
			status.Detail = "command not configured"
		case err != nil:
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
		default:
			status.Available = true
			status.Path = path
		}
		results = append(results, status)
	}
	return results
}

// CheckModules asks interpreter to import each module in turn and reports
// which ones resolve. The interpreter is invoked as `<interpreter> -c "import
// <module>"`, so any Python-compatible executable works.
func CheckModules(ctx context.Context, interpreter string, modules []string) []Status {
	results := make([]Status, 0, len(modules))
	for _, module := range modules {
		module = strings.TrimSpace(module)
		if module == "" {
			continue
		}
		status := Status{
			Name:    module,
			Command: interpreter,
		}
		var stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, interpreter, "-c", "import "+module)
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			status.Detail = importFailure(module, stderr.String(), err)
		} else {
			status.Available = true
		}
		results = append(results, status)
	}
	return results
}

func importFailure(module, stderr string, err error) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	if last := strings.TrimSpace(lines[len(lines)-1]); last != "" {
		return last
	}
	return fmt.Sprintf("import %s failed: %v", module, err)
}
