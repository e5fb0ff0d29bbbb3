// Package processor runs one pass of patient then trial loading.
package processor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"mmloader/internal/logging"
	"mmloader/internal/patient"
	"mmloader/internal/trial"
)

// PatientLoader loads reviewed patient documents.
type PatientLoader interface {
	InsertAll(ctx context.Context) (patient.Summary, error)
}

// TrialLoader loads reviewed trial documents.
type TrialLoader interface {
	InsertAll(ctx context.Context) (trial.Summary, error)
}

// Processor runs both loaders and reports progress on Out.
type Processor struct {
	Patients PatientLoader
	Trials   TrialLoader
	Out      io.Writer
	Logger   *slog.Logger
	Now      func() time.Time
}

// New builds a Processor.
func New(patients PatientLoader, trials TrialLoader, out io.Writer, logger *slog.Logger) *Processor {
	return &Processor{
		Patients: patients,
		Trials:   trials,
		Out:      out,
		Logger:   logging.NewComponentLogger(logger, "processor"),
	}
}

// ProcessFiles loads patients, then trials. An error in one section marks
// the pass failed without skipping the other. Finding nothing to load is
// not a failure.
func (p *Processor) ProcessFiles(ctx context.Context) bool {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	p.printf("\nProcessing files at %s\n", now().Format(time.DateTime))

	success := true
	if !p.section(ctx, "patient", func(ctx context.Context) (bool, error) {
		summary, err := p.Patients.InsertAll(ctx)
		return summary.Success(), err
	}) {
		success = false
	}
	if !p.section(ctx, "trial", func(ctx context.Context) (bool, error) {
		summary, err := p.Trials.InsertAll(ctx)
		return summary.Success(), err
	}) {
		success = false
	}
	return success
}

func (p *Processor) section(ctx context.Context, name string, run func(context.Context) (bool, error)) bool {
	p.printf("  Processing %s files...\n", name)
	loaded, err := run(ctx)
	if err != nil {
		p.printf("  %s files failed: %v\n", capitalize(name), err)
		logging.ErrorWithContext(p.logger(), "document section failed", "processor_section_failed",
			logging.String("section", name),
			logging.Error(err),
		)
		return false
	}
	if loaded {
		p.printf("  %s files processed successfully\n", capitalize(name))
	} else {
		p.printf("  No %s files to process or processing failed\n", name)
	}
	return true
}

func (p *Processor) printf(format string, args ...any) {
	if p.Out == nil {
		return
	}
	fmt.Fprintf(p.Out, format, args...)
}

func (p *Processor) logger() *slog.Logger {
	if p.Logger == nil {
		return logging.NewNop()
	}
	return p.Logger
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
