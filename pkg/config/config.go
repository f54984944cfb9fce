package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/corralhq/corral/pkg/types"
)

// Environment variables recognized by every corral process
const (
	EnvCoordinationDir  = "COORDINATION_DIR"
	EnvAgentID          = "AGENT_ID"
	EnvAgentRole        = "AGENT_ROLE"
	EnvAgentTeam        = "AGENT_TEAM"
	EnvOutputFormat     = "OUTPUT_FORMAT"
	EnvCoordinationMode = "COORDINATION_MODE"
	EnvHeartbeatTimeout = "HEARTBEAT_TIMEOUT_SEC"
	EnvLockWait         = "LOCK_WAIT_SEC"
	EnvSpanLogMaxBytes  = "SPAN_LOG_MAX_BYTES"
	EnvRetentionDays    = "COMPLETED_RETENTION_DAYS"
)

// ConfigFileName is the optional per-directory config file
const ConfigFileName = "corral.yaml"

// Config holds every tunable of the coordinator. Precedence:
// CLI flags > environment > corral.yaml > defaults.
type Config struct {
	CoordinationDir string `yaml:"coordination_dir"`
	AgentID         string `yaml:"agent_id"`
	AgentRole       string `yaml:"agent_role"`
	AgentTeam       string `yaml:"agent_team"`
	OutputFormat    string `yaml:"output_format"`     // text|json
	Mode            string `yaml:"coordination_mode"` // fast|safe|auto

	LockWait         time.Duration `yaml:"lock_wait"`
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
	SpanLogMaxBytes  int64         `yaml:"span_log_max_bytes"`
	RetentionDays    int           `yaml:"retention_days"`

	// Claim engine BUSY retry budget
	RetryAttempts int `yaml:"retry_attempts"`

	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

// MaintenanceConfig holds job cadences and policy knobs
type MaintenanceConfig struct {
	HealthCheckInterval   time.Duration `yaml:"health_check_interval"`
	ArchiveInterval       time.Duration `yaml:"archive_interval"`
	RotateInterval        time.Duration `yaml:"rotate_interval"`
	VerifyInterval        time.Duration `yaml:"verify_interval"`
	SweepInterval         time.Duration `yaml:"sweep_interval"`
	RebalanceInterval     time.Duration `yaml:"rebalance_interval"`
	OptimizeInterval      time.Duration `yaml:"optimize_interval"`
	ReportInterval        time.Duration `yaml:"report_interval"`
	DegradedCadenceFactor float64       `yaml:"degraded_cadence_factor"`
	HealthThreshold       float64       `yaml:"health_threshold"`
	RebalanceRatio        float64       `yaml:"rebalance_ratio"`
	RebalanceApply        bool          `yaml:"rebalance_apply"`
	AutoRepair            bool          `yaml:"auto_repair"`
	TokenTTL              time.Duration `yaml:"token_ttl"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		CoordinationDir:  "./coordination",
		OutputFormat:     "text",
		Mode:             "auto",
		LockWait:         5 * time.Second,
		HeartbeatTimeout: 10 * time.Minute,
		SpanLogMaxBytes:  64 * 1024 * 1024,
		RetentionDays:    14,
		RetryAttempts:    3,
		Maintenance: MaintenanceConfig{
			HealthCheckInterval:   15 * time.Minute,
			ArchiveInterval:       24 * time.Hour,
			RotateInterval:        24 * time.Hour,
			VerifyInterval:        time.Hour,
			SweepInterval:         15 * time.Minute,
			RebalanceInterval:     time.Hour,
			OptimizeInterval:      4 * time.Hour,
			ReportInterval:        24 * time.Hour,
			DegradedCadenceFactor: 2.0,
			HealthThreshold:       60.0,
			RebalanceRatio:        3.0,
			RebalanceApply:        false,
			AutoRepair:            false,
			TokenTTL:              10 * time.Minute,
		},
	}
}

// Load assembles the effective configuration: defaults, then the
// corral.yaml in the coordination directory if present, then
// environment variables. The coordination directory itself resolves
// from COORDINATION_DIR before the file is looked up.
func Load() (Config, error) {
	cfg := Default()

	if dir := os.Getenv(EnvCoordinationDir); dir != "" {
		cfg.CoordinationDir = dir
	}

	if err := loadFile(&cfg); err != nil {
		return cfg, err
	}
	loadEnv(&cfg)
	return cfg, nil
}

func loadFile(cfg *Config) error {
	path := filepath.Join(cfg.CoordinationDir, ConfigFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return types.WrapError(types.ErrIO, err, "reading %s", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return types.WrapError(types.ErrInvalidArg, err, "parsing %s", path)
	}
	return nil
}

func loadEnv(cfg *Config) {
	if v := os.Getenv(EnvCoordinationDir); v != "" {
		cfg.CoordinationDir = v
	}
	if v := os.Getenv(EnvAgentID); v != "" {
		cfg.AgentID = v
	}
	if v := os.Getenv(EnvAgentRole); v != "" {
		cfg.AgentRole = v
	}
	if v := os.Getenv(EnvAgentTeam); v != "" {
		cfg.AgentTeam = v
	}
	if v := os.Getenv(EnvOutputFormat); v != "" {
		cfg.OutputFormat = v
	}
	if v := os.Getenv(EnvCoordinationMode); v != "" {
		cfg.Mode = v
	}
	if v, ok := envSeconds(EnvHeartbeatTimeout); ok {
		cfg.HeartbeatTimeout = v
	}
	if v, ok := envSeconds(EnvLockWait); ok {
		cfg.LockWait = v
	}
	if v := os.Getenv(EnvSpanLogMaxBytes); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.SpanLogMaxBytes = n
		}
	}
	if v := os.Getenv(EnvRetentionDays); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RetentionDays = n
		}
	}
}

func envSeconds(name string) (time.Duration, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}
