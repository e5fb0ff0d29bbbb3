package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"mmloader/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Document directories and the working directory are created; the log and
// state directories are left for EnsureDirectories.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Environment = "test"
	cfgVal.Paths.WorkDir = filepath.Join(base, "work")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Patient.DataDir = filepath.Join(base, "patient_data_reviewed")
	cfgVal.Patient.ProcessedDir = filepath.Join(base, "patient_data_processed")
	cfgVal.Trial.DataDir = filepath.Join(base, "trial_data_reviewed")
	cfgVal.Trial.ProcessedDir = filepath.Join(base, "trial_data_processed")
	cfgVal.Trial.EnvConfigPath = filepath.Join(base, "work", "trial_env.json")
	cfgVal.Sync.Dir = filepath.Join(base, "sync")
	cfgVal.Sync.Script = "sync.sh"
	cfgVal.Conda.Manifest = filepath.Join(base, "work", "requirements.txt")

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	for _, dir := range []string{
		cfgVal.Paths.WorkDir,
		cfgVal.PatientClinicalDir(),
		cfgVal.PatientGenomicDir(),
		cfgVal.Trial.DataDir,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	return builder.cfg
}

// WithServer points the config at a MatchMiner endpoint.
func WithServer(url, token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.MatchMiner.Server = url
		b.cfg.MatchMiner.Token = token
	}
}

// WithMutation applies fn to the config before directories are created.
func WithMutation(fn func(cfg *config.Config)) ConfigOption {
	return func(b *configBuilder) {
		fn(b.cfg)
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, the default interpreter and
// environment manager are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{b.cfg.Preflight.Interpreter, b.cfg.Conda.Binary}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		for _, name := range names {
			WriteScript(b.t, filepath.Join(binDir, name), "exit 0")
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.WorkDir)
}

// WriteConfig encodes cfg as TOML under BaseDir and returns the path.
func WriteConfig(t testing.TB, cfg *config.Config) string {
	t.Helper()

	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(BaseDir(cfg), "config.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
