// Package config loads and validates the agentcore configuration from
// <home>/config.yaml, applying defaults and environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stancsz/agentcore/internal/otel"
	"github.com/stancsz/agentcore/internal/tenant"
)

// RemoteWorkerConfig points the pool at a remote execution endpoint. When the
// URL is empty, workers run tasks as local subprocesses.
type RemoteWorkerConfig struct {
	URL string `yaml:"url"`
}

// RemoteMemoryConfig points the context manager at a remote memory service
// used as a mirror of the local context files. Optional; unreachable remotes
// degrade to local-only operation.
type RemoteMemoryConfig struct {
	URL string `yaml:"url"`
}

// SchedulerConfig tunes the cron evaluation loop.
type SchedulerConfig struct {
	IntervalSeconds int    `yaml:"interval_seconds"`
	TasksFile       string `yaml:"tasks_file"`
}

// WorkerConfig bounds the execution pool.
type WorkerConfig struct {
	PoolSize           int      `yaml:"pool_size"`
	TaskTimeoutSeconds int      `yaml:"task_timeout_seconds"`
	Command            string   `yaml:"command"`
	Args               []string `yaml:"args"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	// DataDir holds per-tenant context and episode files plus scheduler state.
	// Relative paths are resolved against HomeDir.
	DataDir  string `yaml:"data_dir"`
	LogLevel string `yaml:"log_level"`

	// Company selects the default tenant for CLI invocations.
	Company string `yaml:"company"`

	Workers      WorkerConfig       `yaml:"workers"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	RemoteWorker RemoteWorkerConfig `yaml:"remote_worker"`
	RemoteMemory RemoteMemoryConfig `yaml:"remote_memory"`
	OTel         otel.Config        `yaml:"otel"`
}

func defaultConfig() Config {
	return Config{
		DataDir:  "data",
		LogLevel: "info",
		Company:  "default",
		Workers: WorkerConfig{
			PoolSize:           4,
			TaskTimeoutSeconds: int((10 * time.Minute).Seconds()),
			Command:            "agent-exec",
		},
		Scheduler: SchedulerConfig{
			IntervalSeconds: 60,
			TasksFile:       "tasks.yaml",
		},
	}
}

// HomeDir resolves the agentcore home directory. AGENTCORE_HOME overrides the
// default of ~/.agentcore.
func HomeDir() string {
	if v := os.Getenv("AGENTCORE_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentcore"
	}
	return filepath.Join(home, ".agentcore")
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Load reads config.yaml from the agentcore home, creating the home directory
// if needed. A missing config file yields the defaults.
func Load() (Config, error) {
	return LoadFrom(HomeDir())
}

// LoadFrom reads configuration rooted at an explicit home directory.
func LoadFrom(homeDir string) (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = homeDir

	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		return Config{}, fmt.Errorf("create home dir: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(homeDir))
	if err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Workers.PoolSize <= 0 {
		c.Workers.PoolSize = defaultConfig().Workers.PoolSize
	}
	if c.Workers.TaskTimeoutSeconds <= 0 {
		c.Workers.TaskTimeoutSeconds = defaultConfig().Workers.TaskTimeoutSeconds
	}
	if c.Scheduler.IntervalSeconds <= 0 {
		c.Scheduler.IntervalSeconds = defaultConfig().Scheduler.IntervalSeconds
	}
	if c.Scheduler.TasksFile == "" {
		c.Scheduler.TasksFile = defaultConfig().Scheduler.TasksFile
	}
	if c.Company == "" {
		c.Company = "default"
	}
	if err := tenant.ValidateID(c.Company); err != nil {
		return fmt.Errorf("config company: %w", err)
	}
	return nil
}

// DataPath resolves DataDir against HomeDir.
func (c Config) DataPath() string {
	if filepath.IsAbs(c.DataDir) {
		return c.DataDir
	}
	return filepath.Join(c.HomeDir, c.DataDir)
}

// TasksPath resolves the declarative task list location against HomeDir.
func (c Config) TasksPath() string {
	if filepath.IsAbs(c.Scheduler.TasksFile) {
		return c.Scheduler.TasksFile
	}
	return filepath.Join(c.HomeDir, c.Scheduler.TasksFile)
}

// TaskTimeout returns the per-task execution budget.
func (c Config) TaskTimeout() time.Duration {
	return time.Duration(c.Workers.TaskTimeoutSeconds) * time.Second
}

// SchedulerInterval returns the cron evaluation resolution.
func (c Config) SchedulerInterval() time.Duration {
	return time.Duration(c.Scheduler.IntervalSeconds) * time.Second
}
