package config

const (
	defaultWorkDir             = "."
	defaultLogDir              = "~/.local/share/mmloader/logs"
	defaultStateDir            = "~/.local/share/mmloader/state"
	defaultLogRetentionDays    = 30
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultMatchMinerTimeout   = 30
	defaultPatientDataDir      = "~/matchminer-patient/patient_data_reviewed"
	defaultClinicalSubdir      = "clinical"
	defaultGenomicSubdir       = "genomic"
	defaultPatientProcessedDir = "patient_data_processed"
	defaultTrialDataDir        = "~/nct2ctml/trial_data_reviewed"
	defaultTrialProcessedDir   = "trial_data_processed"
	defaultTrialEnvConfigPath  = "matchminer_trial_data_env_config.json"
	defaultWatcherLogFile      = "watcher.log"
	defaultProcessorLogFile    = "processor.log"
	defaultSyncDir             = "../nct2ctml"
	defaultSyncScript          = "sync_trials.sh"
	defaultInterpreter         = "python3"
	defaultMarkerFile          = "config.py"
	defaultCondaBinary         = "conda"
	defaultCondaEnvName        = "matchminer"
	defaultPythonVersion       = "3.11"
	defaultCondaManifest       = "requirements.txt"
)

// DefaultWatcherIntervalMinutes is the polling interval used when none is configured.
const DefaultWatcherIntervalMinutes = 120

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir:  defaultWorkDir,
			LogDir:   defaultLogDir,
			StateDir: defaultStateDir,
		},
		MatchMiner: MatchMiner{
			TimeoutSeconds: defaultMatchMinerTimeout,
		},
		Patient: Patient{
			DataDir:        defaultPatientDataDir,
			ClinicalSubdir: defaultClinicalSubdir,
			GenomicSubdir:  defaultGenomicSubdir,
			ProcessedDir:   defaultPatientProcessedDir,
		},
		Trial: Trial{
			DataDir:       defaultTrialDataDir,
			ProcessedDir:  defaultTrialProcessedDir,
			EnvConfigPath: defaultTrialEnvConfigPath,
		},
		Watcher: Watcher{
			IntervalMinutes: DefaultWatcherIntervalMinutes,
			LogFile:         defaultWatcherLogFile,
		},
		Processor: Processor{
			LogFile: defaultProcessorLogFile,
		},
		Sync: Sync{
			Dir:    defaultSyncDir,
			Script: defaultSyncScript,
		},
		Preflight: Preflight{
			Interpreter: defaultInterpreter,
			MarkerFile:  defaultMarkerFile,
			Libraries:   []string{"requests", "loguru"},
		},
		Conda: Conda{
			Binary:        defaultCondaBinary,
			EnvName:       defaultCondaEnvName,
			PythonVersion: defaultPythonVersion,
			Manifest:      defaultCondaManifest,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
