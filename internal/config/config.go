package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/lyndonlyu/ripcord/internal/redact"
)

type RepoConfig struct {
	Path   string `yaml:"path"`   // working tree; defaults to cwd
	Remote string `yaml:"remote"` // remote to publish to; empty = local only
	Branch string `yaml:"branch"` // branch to roll back; empty = current
}

type BackupConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

type RetentionConfig struct {
	KeepReports int `yaml:"keep_reports"`
	KeepBackups int `yaml:"keep_backups"`
}

type ApprovalConfig struct {
	// AutoExecute lists severity tiers that execute without an operator
	// approval. Manual and emergency sessions always execute.
	AutoExecute []string `yaml:"auto_execute"`
}

type CheckConfig struct {
	Name           string `yaml:"name"`
	Command        string `yaml:"command"` // empty = built-in check of the same name
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type QueueConfig struct {
	MaxPending int `yaml:"max_pending"`
}

type Config struct {
	Repo      RepoConfig             `yaml:"repo"`
	Backup    BackupConfig           `yaml:"backup"`
	Retention RetentionConfig        `yaml:"retention"`
	Approval  ApprovalConfig         `yaml:"approval"`
	Checks    []CheckConfig          `yaml:"checks"`
	Queue     QueueConfig            `yaml:"queue"`
	Redaction redact.RedactionConfig `yaml:"redaction"`
	BaseDir   string                 `yaml:"-"`
}

func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Backup:    BackupConfig{TimeoutSeconds: 120},
		Retention: RetentionConfig{KeepReports: 10, KeepBackups: 10},
		Approval:  ApprovalConfig{AutoExecute: []string{"HIGH", "CRITICAL"}},
		Checks: []CheckConfig{
			{Name: "core_service", TimeoutSeconds: 30},
			{Name: "configuration_system", TimeoutSeconds: 10},
			{Name: "worktree_clean", TimeoutSeconds: 10},
		},
		Queue:     QueueConfig{MaxPending: 16},
		Redaction: redact.DefaultConfig(),
		BaseDir:   filepath.Join(home, ".ripcord"),
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Ensure defaults for zero values
	if cfg.Backup.TimeoutSeconds == 0 {
		cfg.Backup.TimeoutSeconds = 120
	}
	if cfg.Retention.KeepReports == 0 {
		cfg.Retention.KeepReports = 10
	}
	if cfg.Retention.KeepBackups == 0 {
		cfg.Retention.KeepBackups = 10
	}
	if len(cfg.Approval.AutoExecute) == 0 {
		cfg.Approval.AutoExecute = []string{"HIGH", "CRITICAL"}
	}
	if cfg.Queue.MaxPending == 0 {
		cfg.Queue.MaxPending = 16
	}
	if cfg.BaseDir == "" {
		home, _ := os.UserHomeDir()
		cfg.BaseDir = filepath.Join(home, ".ripcord")
	}

	return cfg, nil
}

func (c *Config) ReportsDir() string {
	return filepath.Join(c.BaseDir, "reports")
}

func (c *Config) BackupsDir() string {
	return filepath.Join(c.BaseDir, "backups")
}

func (c *Config) AuditDir() string {
	return filepath.Join(c.BaseDir, "audit")
}

func (c *Config) StateDBPath() string {
	return filepath.Join(c.BaseDir, "state.db")
}

func (c *Config) KillSwitchPath() string {
	return filepath.Join(c.BaseDir, "KILL_SWITCH")
}

func (c *Config) EnsureDirs() error {
	dirs := []string{
		c.ReportsDir(),
		c.BackupsDir(),
		c.AuditDir(),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return err
		}
	}
	return nil
}
