// Package patient loads reviewed clinical and genomic documents into MatchMiner.
//
// A clinical document and its genomic records share a file name across the
// clinical and genomic subdirectories. The clinical document is inserted
// first; the server-assigned _id is then written into every genomic record
// as CLINICAL_ID before the records are posted as one batch.
package patient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mmloader/internal/config"
	"mmloader/internal/fileutil"
	"mmloader/internal/logging"
	"mmloader/internal/matchminer"
)

// API is the subset of the MatchMiner client used by Loader.
type API interface {
	InsertClinical(ctx context.Context, clinical matchminer.Document) (string, error)
	InsertGenomic(ctx context.Context, records []matchminer.Document) error
}

// Summary describes one InsertAll pass.
type Summary struct {
	Processed []string
	Failed    []string
}

// Success reports whether at least one patient was loaded.
func (s Summary) Success() bool { return len(s.Processed) > 0 }

// Loader inserts patient documents.
type Loader struct {
	API          API
	ClinicalDir  string
	GenomicDir   string
	ProcessedDir string
	Logger       *slog.Logger

	MoveAttempts int
	MoveDelay    time.Duration
}

// NewLoader wires a Loader from the [patient] section.
func NewLoader(cfg *config.Config, api API, logger *slog.Logger) *Loader {
	return &Loader{
		API:          api,
		ClinicalDir:  cfg.PatientClinicalDir(),
		GenomicDir:   cfg.PatientGenomicDir(),
		ProcessedDir: cfg.Patient.ProcessedDir,
		Logger:       logging.NewComponentLogger(logger, "patient"),
		MoveAttempts: 3,
		MoveDelay:    time.Second,
	}
}

func (l *Loader) logger() *slog.Logger {
	if l.Logger == nil {
		return logging.NewNop()
	}
	return l.Logger
}

// InsertAll loads every clinical JSON file and its genomic companion.
func (l *Loader) InsertAll(ctx context.Context) (Summary, error) {
	var summary Summary
	entries, err := os.ReadDir(l.ClinicalDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logging.ErrorWithContext(l.logger(), "clinical folder does not exist", "patient_dir_missing",
				logging.String(logging.FieldPath, l.ClinicalDir),
				logging.String(logging.FieldErrorHint, "create the directory or fix patient.data_dir"),
			)
			return summary, nil
		}
		return summary, fmt.Errorf("list clinical dir: %w", err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		name := entry.Name()
		if !entry.Type().IsRegular() || !strings.EqualFold(filepath.Ext(name), ".json") {
			continue
		}
		if err := l.insertPatient(ctx, name); err != nil {
			logging.ErrorWithContext(l.logger(), "patient insert failed", "patient_insert_failed",
				logging.String("file", name),
				logging.Error(err),
				logging.String(logging.FieldImpact, "file left in place for the next run"),
			)
			summary.Failed = append(summary.Failed, name)
			continue
		}
		summary.Processed = append(summary.Processed, name)
	}
	return summary, nil
}

func (l *Loader) insertPatient(ctx context.Context, name string) error {
	clinicalPath := filepath.Join(l.ClinicalDir, name)
	var clinical matchminer.Document
	if err := readJSON(clinicalPath, &clinical); err != nil {
		return err
	}

	clinicalID, err := l.API.InsertClinical(ctx, clinical)
	if err != nil {
		return fmt.Errorf("insert clinical: %w", err)
	}
	if clinicalID == "" {
		return errors.New("server response carried no clinical _id; genomic data skipped")
	}
	l.logger().Info("clinical document inserted", logging.String("file", name), logging.String("clinical_id", clinicalID))

	genomicPath := filepath.Join(l.GenomicDir, name)
	hasGenomic := false
	if info, err := os.Stat(genomicPath); err == nil && info.Mode().IsRegular() {
		hasGenomic = true
		var records []matchminer.Document
		if err := readJSON(genomicPath, &records); err != nil {
			return err
		}
		sampleID := clinical["SAMPLE_ID"]
		for _, record := range records {
			if record == nil {
				continue
			}
			record["CLINICAL_ID"] = clinicalID
			record["SAMPLE_ID"] = sampleID
		}
		if err := l.API.InsertGenomic(ctx, records); err != nil {
			return fmt.Errorf("insert genomic: %w", err)
		}
		l.logger().Info("genomic records inserted", logging.String("file", name), logging.Int("records", len(records)))
	}

	if l.ProcessedDir == "" {
		return nil
	}
	if err := l.move(clinicalPath, fileutil.UniqueDestination(filepath.Join(l.ProcessedDir, "clinical"), name)); err != nil {
		return err
	}
	if hasGenomic {
		return l.move(genomicPath, fileutil.UniqueDestination(filepath.Join(l.ProcessedDir, "genomic"), name))
	}
	return nil
}

func (l *Loader) move(src, dst string) error {
	attempts := l.MoveAttempts
	if attempts < 1 {
		attempts = 1
	}
	return fileutil.MoveWithRetry(src, dst, attempts, l.MoveDelay)
}

func readJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}
