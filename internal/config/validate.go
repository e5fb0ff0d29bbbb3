package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateMatchMiner(); err != nil {
		return err
	}
	if err := c.validateDocuments(); err != nil {
		return err
	}
	if err := c.validateWatcher(); err != nil {
		return err
	}
	if err := c.validateConda(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateMatchMiner() error {
	if c.MatchMiner.Server == "" {
		return nil
	}
	parsed, err := url.Parse(c.MatchMiner.Server)
	if err != nil {
		return fmt.Errorf("matchminer.server: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("matchminer.server must use http or https, got %q", c.MatchMiner.Server)
	}
	if parsed.Host == "" {
		return fmt.Errorf("matchminer.server must include a host, got %q", c.MatchMiner.Server)
	}
	return nil
}

func (c *Config) validateDocuments() error {
	if strings.TrimSpace(c.Patient.ClinicalSubdir) == strings.TrimSpace(c.Patient.GenomicSubdir) {
		return errors.New("patient.clinical_subdir and patient.genomic_subdir must differ")
	}
	if c.Trial.DataDir == c.Trial.ProcessedDir {
		return errors.New("trial.processed_dir must differ from trial.data_dir")
	}
	if c.Patient.ProcessedDir == c.PatientClinicalDir() {
		return errors.New("patient.processed_dir must differ from the clinical document directory")
	}
	return nil
}

func (c *Config) validateWatcher() error {
	if c.Watcher.IntervalMinutes <= 0 {
		return errors.New("watcher.interval_minutes must be positive")
	}
	return nil
}

func (c *Config) validateConda() error {
	if strings.ContainsAny(c.Conda.EnvName, " /\\") {
		return fmt.Errorf("conda.env_name must not contain spaces or path separators, got %q", c.Conda.EnvName)
	}
	return nil
}
