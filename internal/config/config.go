package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all console configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Interlock InterlockConfig `mapstructure:"interlock"`
	Dose      DoseConfig      `mapstructure:"dose"`
	Retake    RetakeConfig    `mapstructure:"retake"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	Pacs      PacsConfig      `mapstructure:"pacs"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// DatabaseConfig holds the dose-archive database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// JournalConfig holds crash-recovery journal configuration
type JournalConfig struct {
	Dir           string        `mapstructure:"dir"`
	AppendTimeout time.Duration `mapstructure:"append_timeout"`
}

// InterlockConfig holds safety interlock timing configuration
type InterlockConfig struct {
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	WatchdogInterval time.Duration `mapstructure:"watchdog_interval"`
	AbortBudget      time.Duration `mapstructure:"abort_budget"`
}

// DoseConfig holds cumulative dose limit configuration
type DoseConfig struct {
	StudyLimitMAs   float64 `mapstructure:"study_limit_mas"`
	PatientLimitMAs float64 `mapstructure:"patient_limit_mas"`
	WarningFraction float64 `mapstructure:"warning_fraction"`
}

// RetakeConfig holds reject/retake limit configuration
type RetakeConfig struct {
	MaxPerStudy       int  `mapstructure:"max_per_study"`
	MaxPerExposure    int  `mapstructure:"max_per_exposure"`
	RequireSupervisor bool `mapstructure:"require_supervisor"`
}

// WorkflowConfig holds transition timing budgets
type WorkflowConfig struct {
	GuardTimeout      time.Duration `mapstructure:"guard_timeout"`
	TransitionTimeout time.Duration `mapstructure:"transition_timeout"`
}

// PacsConfig holds image export configuration
type PacsConfig struct {
	ExportDir string `mapstructure:"export_dir"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", 8090)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	// Logger defaults
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.output_path", "stdout")
	viper.SetDefault("logger.format", "json")

	// Database defaults
	viper.SetDefault("database.path", "data/console.db")
	viper.SetDefault("database.max_open_conns", 10)
	viper.SetDefault("database.max_idle_conns", 2)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	// Journal defaults
	viper.SetDefault("journal.dir", "data/journal")
	viper.SetDefault("journal.append_timeout", 50*time.Millisecond)

	// Interlock timing defaults
	viper.SetDefault("interlock.poll_interval", 10*time.Millisecond)
	viper.SetDefault("interlock.watchdog_interval", 1*time.Millisecond)
	viper.SetDefault("interlock.abort_budget", 10*time.Millisecond)

	// Dose limit defaults (mAs)
	viper.SetDefault("dose.study_limit_mas", 1000.0)
	viper.SetDefault("dose.patient_limit_mas", 5000.0)
	viper.SetDefault("dose.warning_fraction", 0.8)

	// Retake defaults
	viper.SetDefault("retake.max_per_study", 3)
	viper.SetDefault("retake.max_per_exposure", 2)
	viper.SetDefault("retake.require_supervisor", false)

	// Workflow timing defaults
	viper.SetDefault("workflow.guard_timeout", 10*time.Millisecond)
	viper.SetDefault("workflow.transition_timeout", 100*time.Millisecond)

	// PACS export defaults
	viper.SetDefault("pacs.export_dir", "data/export")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars() {
	viper.BindEnv("server.port", "CONSOLE_PORT")
	viper.BindEnv("database.path", "CONSOLE_DB_PATH")
	viper.BindEnv("journal.dir", "CONSOLE_JOURNAL_DIR")
	viper.BindEnv("pacs.export_dir", "CONSOLE_EXPORT_DIR")
	viper.BindEnv("logger.level", "CONSOLE_LOG_LEVEL")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Journal.Dir == "" {
		return fmt.Errorf("journal.dir is required")
	}
	if c.Dose.StudyLimitMAs <= 0 {
		return fmt.Errorf("dose.study_limit_mas must be positive")
	}
	if c.Dose.PatientLimitMAs > 0 && c.Dose.PatientLimitMAs < c.Dose.StudyLimitMAs {
		return fmt.Errorf("dose.patient_limit_mas must be at least dose.study_limit_mas")
	}
	if c.Dose.WarningFraction <= 0 || c.Dose.WarningFraction >= 1 {
		return fmt.Errorf("dose.warning_fraction must be between 0 and 1")
	}
	if c.Retake.MaxPerStudy < 0 || c.Retake.MaxPerExposure < 0 {
		return fmt.Errorf("retake limits must not be negative")
	}
	if c.Interlock.WatchdogInterval <= 0 {
		return fmt.Errorf("interlock.watchdog_interval must be positive")
	}
	if c.Interlock.AbortBudget < c.Interlock.WatchdogInterval {
		return fmt.Errorf("interlock.abort_budget must be at least the watchdog interval")
	}
	return nil
}
