package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains working, log and state directories.
type Paths struct {
	WorkDir  string `toml:"work_dir"`
	LogDir   string `toml:"log_dir"`
	StateDir string `toml:"state_dir"`
}

// MatchMiner contains connection settings for the MatchMiner REST API.
type MatchMiner struct {
	Server             string `toml:"server"`
	Token              string `toml:"token"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
}

// Patient contains the locations of reviewed patient documents.
type Patient struct {
	DataDir        string `toml:"data_dir"`
	ClinicalSubdir string `toml:"clinical_subdir"`
	GenomicSubdir  string `toml:"genomic_subdir"`
	ProcessedDir   string `toml:"processed_dir"`
}

// Trial contains the locations of reviewed trial documents and the counter
// file used to allocate protocol identifiers.
type Trial struct {
	DataDir       string `toml:"data_dir"`
	ProcessedDir  string `toml:"processed_dir"`
	EnvConfigPath string `toml:"env_config_path"`
}

// Watcher contains configuration for the polling file watcher.
type Watcher struct {
	IntervalMinutes int      `toml:"interval_minutes"`
	LogFile         string   `toml:"log_file"`
	Command         []string `toml:"command"`
	MetricsBind     string   `toml:"metrics_bind"`
}

// Processor contains configuration for the synchronous processor launch.
type Processor struct {
	Command        []string `toml:"command"`
	LogFile        string   `toml:"log_file"`
	UseEnvironment bool     `toml:"use_environment"`
}

// Sync describes the sibling project's sync script run first in the chain.
type Sync struct {
	Dir    string   `toml:"dir"`
	Script string   `toml:"script"`
	Args   []string `toml:"args"`
}

// Preflight lists the prerequisites verified before launching anything.
type Preflight struct {
	Interpreter string   `toml:"interpreter"`
	MarkerFile  string   `toml:"marker_file"`
	Libraries   []string `toml:"libraries"`
}

// Conda contains configuration for the managed execution environment.
type Conda struct {
	Binary        string `toml:"binary"`
	EnvName       string `toml:"env_name"`
	PythonVersion string `toml:"python_version"`
	Manifest      string `toml:"manifest"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for mmloader.
//
// Configuration sections by subsystem:
//   - Environment: value exported as ENVIRONMENT to launched programs
//   - Paths: working, log and state directories
//   - MatchMiner: REST endpoint and credentials
//   - Patient / Trial: document directories and the protocol counter file
//   - Watcher / Processor: launch commands and log files
//   - Sync: sibling sync script run at the head of the chain
//   - Preflight / Conda: prerequisite checks and environment bootstrap
//   - Logging: log format, level, and retention
type Config struct {
	Environment string     `toml:"environment"`
	Paths       Paths      `toml:"paths"`
	MatchMiner  MatchMiner `toml:"matchminer"`
	Patient     Patient    `toml:"patient"`
	Trial       Trial      `toml:"trial"`
	Watcher     Watcher    `toml:"watcher"`
	Processor   Processor  `toml:"processor"`
	Sync        Sync       `toml:"sync"`
	Preflight   Preflight  `toml:"preflight"`
	Conda       Conda      `toml:"conda"`
	Logging     Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/mmloader/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("mmloader.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the log and state directories. Document
// directories belong to sibling projects and are never created here.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.LogDir, c.Paths.StateDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// RequireServer reports an error when MatchMiner credentials are missing.
// Commands that talk to the server call this; supervision commands do not.
func (c *Config) RequireServer() error {
	if strings.TrimSpace(c.MatchMiner.Server) == "" {
		return fmt.Errorf("matchminer.server is required. Set MATCHMINER_SERVER or edit %s (create with 'mmloader config init')", c.displayPath())
	}
	if strings.TrimSpace(c.MatchMiner.Token) == "" {
		return fmt.Errorf("matchminer.token is required. Set MATCHMINER_TOKEN or edit %s", c.displayPath())
	}
	return nil
}

func (c *Config) displayPath() string {
	path, err := DefaultConfigPath()
	if err != nil {
		return "~/.config/mmloader/config.toml"
	}
	return path
}

// PatientClinicalDir returns the directory holding clinical JSON documents.
func (c *Config) PatientClinicalDir() string {
	return filepath.Join(c.Patient.DataDir, c.Patient.ClinicalSubdir)
}

// PatientGenomicDir returns the directory holding genomic JSON documents.
func (c *Config) PatientGenomicDir() string {
	return filepath.Join(c.Patient.DataDir, c.Patient.GenomicSubdir)
}

// WatcherLogPath returns the log file receiving detached watcher output.
func (c *Config) WatcherLogPath() string {
	return c.resolveLogFile(c.Watcher.LogFile)
}

// ProcessorLogPath returns the log file receiving synchronous processor output.
func (c *Config) ProcessorLogPath() string {
	return c.resolveLogFile(c.Processor.LogFile)
}

// WatcherPIDPath returns the PID file written for the detached watcher.
func (c *Config) WatcherPIDPath() string {
	return filepath.Join(c.Paths.StateDir, "watcher.pid")
}

// WatcherLockPath returns the lock file guarding single watcher instances.
func (c *Config) WatcherLockPath() string {
	return filepath.Join(c.Paths.StateDir, "watcher.lock")
}

// LedgerPath returns the SQLite database recording runs and processed files.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.Paths.StateDir, "ledger.db")
}

// SyncScriptPath returns the absolute path of the sibling sync script.
func (c *Config) SyncScriptPath() string {
	if filepath.IsAbs(c.Sync.Script) {
		return c.Sync.Script
	}
	return filepath.Join(c.Sync.Dir, c.Sync.Script)
}

// EnvironmentVars returns the variables exported to every launched program.
func (c *Config) EnvironmentVars() []string {
	if strings.TrimSpace(c.Environment) == "" {
		return nil
	}
	return []string{"ENVIRONMENT=" + c.Environment}
}

func (c *Config) resolveLogFile(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Paths.LogDir, name)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
