package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"mmloader/internal/matchstats"
)

func newStatsCommand(ctx *commandContext) *cobra.Command {
	var perPatient bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize trial matches per patient",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			summary, err := matchstats.Collect(cmd.Context(), client, ctx.appLogger())
			if errors.Is(err, matchstats.ErrNoClinical) {
				fmt.Fprintln(cmd.OutOrStdout(), "No clinical data found")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderMatchStats(summary, perPatient))
			return nil
		},
	}
	cmd.Flags().BoolVar(&perPatient, "patients", false, "Include a per-patient table")
	return cmd
}

func renderMatchStats(summary matchstats.Summary, perPatient bool) string {
	rows := [][]string{
		{"Total patients", strconv.Itoa(summary.TotalPatients)},
		{"Patients with genomic records", strconv.Itoa(summary.PatientsWithGenomic)},
		{"Patients with trial matches", strconv.Itoa(summary.PatientsWithMatches)},
		{"Skipped patients (no genomic records)", strconv.Itoa(summary.SkippedPatients)},
		{"Average trials matched per patient", fmt.Sprintf("%.2f", summary.AverageTrialsMatched)},
		{"Average gene-level trials matched per patient", fmt.Sprintf("%.2f", summary.AverageGeneTrialsMatched)},
	}
	out := renderTable([]string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight}) + "\n"
	if !perPatient || len(summary.Patients) == 0 {
		return out
	}

	patientRows := make([][]string, 0, len(summary.Patients))
	for _, p := range summary.Patients {
		patientRows = append(patientRows, []string{
			p.ClinicalID,
			strconv.Itoa(p.TotalTrialsMatched),
			strconv.Itoa(p.TrialsMatchedByGeneType),
			strconv.Itoa(p.TotalGeneTypeMatchesAcrossAllTrials),
		})
	}
	out += renderTable(
		[]string{"Clinical ID", "Trials", "Gene Trials", "Gene Matches"},
		patientRows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight},
	) + "\n"
	return out
}
