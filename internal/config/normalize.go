package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	c.normalizeEnvironment()
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeMatchMiner()
	if err := c.normalizeDocuments(); err != nil {
		return err
	}
	if err := c.normalizeLaunchers(); err != nil {
		return err
	}
	c.normalizePreflight()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizeEnvironment() {
	c.Environment = strings.TrimSpace(c.Environment)
	if c.Environment == "" {
		if value, ok := os.LookupEnv("ENVIRONMENT"); ok {
			c.Environment = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		c.Paths.WorkDir = defaultWorkDir
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeMatchMiner() {
	c.MatchMiner.Server = strings.TrimSpace(c.MatchMiner.Server)
	if c.MatchMiner.Server == "" {
		if value, ok := os.LookupEnv("MATCHMINER_SERVER"); ok {
			c.MatchMiner.Server = strings.TrimSpace(value)
		}
	}
	c.MatchMiner.Server = strings.TrimRight(c.MatchMiner.Server, "/")
	c.MatchMiner.Token = strings.TrimSpace(c.MatchMiner.Token)
	if c.MatchMiner.Token == "" {
		if value, ok := os.LookupEnv("MATCHMINER_TOKEN"); ok {
			c.MatchMiner.Token = strings.TrimSpace(value)
		}
	}
	if c.MatchMiner.TimeoutSeconds <= 0 {
		c.MatchMiner.TimeoutSeconds = defaultMatchMinerTimeout
	}
}

func (c *Config) normalizeDocuments() error {
	var err error
	if c.Patient.DataDir, err = c.workPath(c.Patient.DataDir, defaultPatientDataDir); err != nil {
		return fmt.Errorf("patient.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Patient.ClinicalSubdir) == "" {
		c.Patient.ClinicalSubdir = defaultClinicalSubdir
	}
	if strings.TrimSpace(c.Patient.GenomicSubdir) == "" {
		c.Patient.GenomicSubdir = defaultGenomicSubdir
	}
	if c.Patient.ProcessedDir, err = c.workPath(c.Patient.ProcessedDir, defaultPatientProcessedDir); err != nil {
		return fmt.Errorf("patient.processed_dir: %w", err)
	}
	if c.Trial.DataDir, err = c.workPath(c.Trial.DataDir, defaultTrialDataDir); err != nil {
		return fmt.Errorf("trial.data_dir: %w", err)
	}
	if c.Trial.ProcessedDir, err = c.workPath(c.Trial.ProcessedDir, defaultTrialProcessedDir); err != nil {
		return fmt.Errorf("trial.processed_dir: %w", err)
	}
	if c.Trial.EnvConfigPath, err = c.workPath(c.Trial.EnvConfigPath, defaultTrialEnvConfigPath); err != nil {
		return fmt.Errorf("trial.env_config_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeLaunchers() error {
	var err error
	if c.Watcher.IntervalMinutes <= 0 {
		c.Watcher.IntervalMinutes = DefaultWatcherIntervalMinutes
	}
	if strings.TrimSpace(c.Watcher.LogFile) == "" {
		c.Watcher.LogFile = defaultWatcherLogFile
	}
	c.Watcher.Command = trimArgs(c.Watcher.Command)
	c.Watcher.MetricsBind = strings.TrimSpace(c.Watcher.MetricsBind)
	if strings.TrimSpace(c.Processor.LogFile) == "" {
		c.Processor.LogFile = defaultProcessorLogFile
	}
	c.Processor.Command = trimArgs(c.Processor.Command)
	if c.Sync.Dir, err = c.workPath(c.Sync.Dir, defaultSyncDir); err != nil {
		return fmt.Errorf("sync.dir: %w", err)
	}
	c.Sync.Script = strings.TrimSpace(c.Sync.Script)
	if c.Sync.Script == "" {
		c.Sync.Script = defaultSyncScript
	}
	return nil
}

func (c *Config) normalizePreflight() {
	c.Preflight.Interpreter = strings.TrimSpace(c.Preflight.Interpreter)
	if c.Preflight.Interpreter == "" {
		c.Preflight.Interpreter = defaultInterpreter
	}
	c.Preflight.MarkerFile = strings.TrimSpace(c.Preflight.MarkerFile)
	libs := make([]string, 0, len(c.Preflight.Libraries))
	seen := make(map[string]struct{}, len(c.Preflight.Libraries))
	for _, lib := range c.Preflight.Libraries {
		lib = strings.TrimSpace(lib)
		if lib == "" {
			continue
		}
		if _, exists := seen[lib]; exists {
			continue
		}
		seen[lib] = struct{}{}
		libs = append(libs, lib)
	}
	c.Preflight.Libraries = libs

	c.Conda.Binary = strings.TrimSpace(c.Conda.Binary)
	if c.Conda.Binary == "" {
		c.Conda.Binary = defaultCondaBinary
	}
	c.Conda.EnvName = strings.TrimSpace(c.Conda.EnvName)
	if c.Conda.EnvName == "" {
		c.Conda.EnvName = defaultCondaEnvName
	}
	c.Conda.PythonVersion = strings.TrimSpace(c.Conda.PythonVersion)
	if c.Conda.PythonVersion == "" {
		c.Conda.PythonVersion = defaultPythonVersion
	}
	if manifest := strings.TrimSpace(c.Conda.Manifest); manifest != "" && !filepath.IsAbs(manifest) {
		c.Conda.Manifest = filepath.Join(c.Paths.WorkDir, manifest)
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

// workPath expands value (or fallback when empty). Relative paths are
// anchored at the configured working directory rather than the process cwd.
func (c *Config) workPath(value, fallback string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		value = fallback
	}
	if !strings.HasPrefix(value, "~") && !filepath.IsAbs(value) {
		value = filepath.Join(c.Paths.WorkDir, value)
	}
	return expandPath(value)
}

func trimArgs(args []string) []string {
	if len(args) == 0 {
		return nil
	}
	out := make([]string, 0, len(args))
	for _, arg := range args {
		if trimmed := strings.TrimSpace(arg); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
