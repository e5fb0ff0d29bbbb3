// Package matchstats summarizes how many trials MatchMiner matched per patient.
package matchstats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"mmloader/internal/logging"
	"mmloader/internal/matchminer"
)

// Match type values counted by Organize.
const (
	MatchTypeGene            = "gene"
	MatchTypeGenericClinical = "generic_clinical"
)

// ProtocolCounts tallies one patient's matches against one trial.
type ProtocolCounts struct {
	GeneMatches            int
	GenericClinicalMatches int
}

// Organized maps clinical_id to protocol_no to counts.
type Organized map[string]map[string]*ProtocolCounts

// PatientStats is the per-patient summary.
type PatientStats struct {
	ClinicalID                          string
	TotalTrialsMatched                  int
	TrialsMatchedByGeneType             int
	TotalGeneTypeMatchesAcrossAllTrials int
}

// Summary is the cohort-level result.
type Summary struct {
	TotalPatients            int
	PatientsWithGenomic      int
	PatientsWithMatches      int
	SkippedPatients          int
	AverageTrialsMatched     float64
	AverageGeneTrialsMatched float64
	Patients                 []PatientStats
}

// Organize groups matches by patient and protocol. Records missing
// clinical_id, protocol_no or match_type are ignored, as are patients absent
// from withGenomic. The second result counts the distinct skipped patients.
func Organize(matches []matchminer.Document, withGenomic map[string]struct{}) (Organized, int) {
	organized := make(Organized)
	skipped := make(map[string]struct{})
	for _, match := range matches {
		clinicalID := match.String("clinical_id")
		protocolNo := match.String("protocol_no")
		matchType := match.String("match_type")
		if clinicalID == "" || protocolNo == "" || matchType == "" {
			continue
		}
		if _, ok := withGenomic[clinicalID]; !ok {
			skipped[clinicalID] = struct{}{}
			continue
		}
		protocols, ok := organized[clinicalID]
		if !ok {
			protocols = make(map[string]*ProtocolCounts)
			organized[clinicalID] = protocols
		}
		counts, ok := protocols[protocolNo]
		if !ok {
			counts = &ProtocolCounts{}
			protocols[protocolNo] = counts
		}
		switch matchType {
		case MatchTypeGene:
			counts.GeneMatches++
		case MatchTypeGenericClinical:
			counts.GenericClinicalMatches++
		}
	}
	return organized, len(skipped)
}

// Compute derives per-patient statistics, sorted by clinical_id.
func Compute(organized Organized) []PatientStats {
	stats := make([]PatientStats, 0, len(organized))
	for clinicalID, protocols := range organized {
		s := PatientStats{ClinicalID: clinicalID, TotalTrialsMatched: len(protocols)}
		for _, counts := range protocols {
			if counts.GeneMatches > 0 {
				s.TrialsMatchedByGeneType++
			}
			s.TotalGeneTypeMatchesAcrossAllTrials += counts.GeneMatches
		}
		stats = append(stats, s)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].ClinicalID < stats[j].ClinicalID })
	return stats
}

// Summarize averages trials matched per patient. Both averages are zero
// when no patient has matches.
func Summarize(stats []PatientStats) (avgTrials, avgGeneTrials float64) {
	if len(stats) == 0 {
		return 0, 0
	}
	var trials, geneTrials int
	for _, s := range stats {
		trials += s.TotalTrialsMatched
		geneTrials += s.TrialsMatchedByGeneType
	}
	n := float64(len(stats))
	return float64(trials) / n, float64(geneTrials) / n
}

// API is the subset of the MatchMiner client read by Collect.
type API interface {
	ListClinical(ctx context.Context) ([]matchminer.Document, error)
	ListGenomic(ctx context.Context, q matchminer.Query) ([]matchminer.Document, error)
	ListTrialMatches(ctx context.Context, q matchminer.Query) ([]matchminer.Document, error)
}

// ErrNoClinical reports that the server holds no clinical documents.
var ErrNoClinical = errors.New("no clinical data found")

// VisibleMatches selects enabled matches shown in the UI.
func VisibleMatches() matchminer.Query {
	return matchminer.Query{
		Where: map[string]any{"show_in_ui": true, "is_disabled": false},
		Projection: map[string]int{
			"sample_id":                       1,
			"oncotree_primary_diagnosis_name": 1,
			"match_type":                      1,
			"sort_order":                      1,
			"protocol_no":                     1,
			"clinical_id":                     1,
		},
	}
}

// Collect fetches patients, genomic records and visible matches and
// summarizes them.
func Collect(ctx context.Context, api API, logger *slog.Logger) (Summary, error) {
	logger = logging.NewComponentLogger(logger, "matchstats")
	var summary Summary

	clinical, err := api.ListClinical(ctx)
	if err != nil {
		return summary, fmt.Errorf("list clinical: %w", err)
	}
	if len(clinical) == 0 {
		return summary, ErrNoClinical
	}
	summary.TotalPatients = len(clinical)

	genomic, err := api.ListGenomic(ctx, matchminer.Query{Projection: map[string]int{"CLINICAL_ID": 1}})
	if err != nil {
		return summary, fmt.Errorf("list genomic: %w", err)
	}
	withGenomic := make(map[string]struct{})
	for _, record := range genomic {
		if id := record.String("CLINICAL_ID"); id != "" {
			withGenomic[id] = struct{}{}
		}
	}
	summary.PatientsWithGenomic = len(withGenomic)

	matches, err := api.ListTrialMatches(ctx, VisibleMatches())
	if err != nil {
		return summary, fmt.Errorf("list trial matches: %w", err)
	}
	if len(matches) == 0 {
		logging.WarnWithContext(logger, "no trial matches found", "matchstats_empty",
			logging.String(logging.FieldErrorHint, "run `mmloader matchengine run` and retry"),
			logging.String(logging.FieldImpact, "averages reported as zero"),
		)
	}

	organized, skipped := Organize(matches, withGenomic)
	summary.SkippedPatients = skipped
	summary.Patients = Compute(organized)
	summary.PatientsWithMatches = len(summary.Patients)
	summary.AverageTrialsMatched, summary.AverageGeneTrialsMatched = Summarize(summary.Patients)

	logger.Info("match statistics computed",
		logging.Int("patients", summary.TotalPatients),
		logging.Int("patients_with_genomic", summary.PatientsWithGenomic),
		logging.Int("patients_with_matches", summary.PatientsWithMatches),
		logging.Int("skipped_patients", skipped),
	)
	return summary, nil
}
