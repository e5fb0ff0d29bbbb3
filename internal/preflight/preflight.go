package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mmloader/internal/config"
	"mmloader/internal/deps"
	"mmloader/internal/exitcode"
)

// Category groups checks by the kind of prerequisite they verify.
type Category string

const (
	CategoryWorkingDirectory Category = "working_directory"
	CategoryInterpreter      Category = "interpreter"
	CategoryLibrary          Category = "library"
)

// Check is the outcome of a single prerequisite.
type Check struct {
	Category Category
	Name     string
	Passed   bool
	Skipped  bool
	Detail   string
	Remedy   string
}

// Options lists the prerequisites to verify.
type Options struct {
	WorkDir     string
	MarkerFile  string
	Interpreter string
	Libraries   []string
	Manifest    string
}

// OptionsFromConfig derives preflight options from the [preflight] section.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		WorkDir:     cfg.Paths.WorkDir,
		MarkerFile:  cfg.Preflight.MarkerFile,
		Interpreter: cfg.Preflight.Interpreter,
		Libraries:   cfg.Preflight.Libraries,
		Manifest:    cfg.Conda.Manifest,
	}
}

// Report aggregates every check in evaluation order.
type Report struct {
	Checks []Check
}

// Passed reports whether no check failed.
func (r Report) Passed() bool {
	_, failed := r.FirstFailure()
	return !failed
}

// FirstFailure returns the check that stopped evaluation.
func (r Report) FirstFailure() (Check, bool) {
	for _, check := range r.Checks {
		if !check.Passed && !check.Skipped {
			return check, true
		}
	}
	return Check{}, false
}

// Err converts the first failure into an *exitcode.Error, or nil.
func (r Report) Err() error {
	check, failed := r.FirstFailure()
	if !failed {
		return nil
	}
	code := exitcode.MissingDependency
	switch check.Category {
	case CategoryWorkingDirectory:
		code = exitcode.WrongWorkingDirectory
	case CategoryInterpreter:
		code = exitcode.MissingInterpreter
	}
	if check.Remedy != "" {
		return exitcode.Newf(code, "preflight %s check failed: %s; %s", check.Category, check.Detail, check.Remedy)
	}
	return exitcode.Newf(code, "preflight %s check failed: %s", check.Category, check.Detail)
}

// Run evaluates the working directory marker, the interpreter and the
// libraries. It never launches anything beyond the import probes.
func Run(ctx context.Context, opts Options) Report {
	var report Report
	failed := false
	add := func(check Check) {
		if failed {
			check.Passed = false
			check.Skipped = true
			check.Detail = "skipped"
			check.Remedy = ""
		} else if !check.Passed {
			failed = true
		}
		report.Checks = append(report.Checks, check)
	}

	add(checkMarker(opts))

	interpreterPath := ""
	if failed {
		add(Check{Category: CategoryInterpreter, Name: opts.Interpreter})
	} else {
		check := checkInterpreter(opts.Interpreter)
		interpreterPath = check.Detail
		add(check)
	}

	for _, lib := range opts.Libraries {
		if strings.TrimSpace(lib) == "" {
			continue
		}
		if failed {
			add(Check{Category: CategoryLibrary, Name: lib})
			continue
		}
		add(checkLibrary(ctx, interpreterPath, lib, opts.Manifest))
	}
	return report
}

func checkMarker(opts Options) Check {
	check := Check{Category: CategoryWorkingDirectory, Name: "working directory"}
	if strings.TrimSpace(opts.MarkerFile) == "" {
		check.Passed = true
		check.Detail = opts.WorkDir
		return check
	}
	marker := filepath.Join(opts.WorkDir, opts.MarkerFile)
	if info, err := os.Stat(marker); err != nil || info.IsDir() {
		check.Detail = fmt.Sprintf("%s not found in %s", opts.MarkerFile, opts.WorkDir)
		check.Remedy = "run from the uploader directory or set paths.work_dir"
		return check
	}
	check.Passed = true
	check.Detail = opts.WorkDir
	return check
}

func checkInterpreter(interpreter string) Check {
	check := Check{Category: CategoryInterpreter, Name: interpreter}
	status := deps.CheckBinaries([]deps.Requirement{{Name: interpreter, Command: interpreter}})[0]
	if !status.Available {
		check.Detail = status.Detail
		check.Remedy = fmt.Sprintf("install %s or activate the environment with 'mmloader env ensure'", interpreter)
		return check
	}
	check.Passed = true
	check.Detail = status.Path
	return check
}

func checkLibrary(ctx context.Context, interpreter, lib, manifest string) Check {
	check := Check{Category: CategoryLibrary, Name: lib}
	status := deps.CheckModules(ctx, interpreter, []string{lib})[0]
	if !status.Available {
		check.Detail = status.Detail
		check.Remedy = "install dependencies via: pip install -r " + manifestName(manifest)
		return check
	}
	check.Passed = true
	check.Detail = "importable"
	return check
}

func manifestName(manifest string) string {
	if strings.TrimSpace(manifest) == "" {
		return "requirements.txt"
	}
	return filepath.Base(manifest)
}
