package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DirName is the per-workspace directory holding config and the journal.
const DirName = ".scenes"

// Config holds all nbscenes configuration.
type Config struct {
	// Scene naming and display projection
	Scenes ScenesConfig `yaml:"scenes"`

	// Cell execution through a local interpreter
	Execution ExecutionConfig `yaml:"execution"`

	// SQLite operation/execution history
	Journal JournalConfig `yaml:"journal"`

	// Notebook file watching
	Watch WatchConfig `yaml:"watch"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ScenesConfig configures scene names and the visual projection.
type ScenesConfig struct {
	DefaultScene string `yaml:"default_scene"` // bootstrapped into fresh notebooks
	LegacyScene  string `yaml:"legacy_scene"`  // target of init_cell migration
	MarkerClass  string `yaml:"marker_class"`  // CSS class on active-scene cells
	ActiveTag    string `yaml:"active_tag"`    // entry in the cell "tags" list
}

// JournalConfig configures the history database.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // relative paths resolve against the workspace
}

// WatchConfig configures the notebook watcher.
type WatchConfig struct {
	Debounce string `yaml:"debounce"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Scenes: ScenesConfig{
			DefaultScene: "Default Scene",
			LegacyScene:  "Legacy Init",
			MarkerClass:  "scene-cell",
			ActiveTag:    "ActiveScene",
		},
		Execution: ExecutionConfig{
			Interpreter:  []string{"python3", "-"},
			Timeout:      "60s",
			RecordTiming: true,
			QueueSize:    64,
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    filepath.Join(DirName, "journal.db"),
		},
		Watch: WatchConfig{
			Debounce: "300ms",
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "console",
		},
	}
}

// DefaultPath returns the config location for a workspace.
func DefaultPath(workspace string) string {
	return filepath.Join(workspace, DirName, "config.yaml")
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv("SCENES_INTERPRETER")); v != "" {
		c.Execution.Interpreter = strings.Fields(v)
	}
	if v := os.Getenv("SCENES_JOURNAL"); v != "" {
		c.Journal.Path = v
	}
	if v := os.Getenv("SCENES_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SCENES_RECORD_TIMING"); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			c.Execution.RecordTiming = true
		case "0", "false", "no", "off":
			c.Execution.RecordTiming = false
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if len(c.Execution.Interpreter) == 0 || strings.TrimSpace(c.Execution.Interpreter[0]) == "" {
		return fmt.Errorf("execution.interpreter must name a binary")
	}
	if strings.TrimSpace(c.Scenes.DefaultScene) == "" {
		return fmt.Errorf("scenes.default_scene must not be empty")
	}
	if strings.TrimSpace(c.Scenes.LegacyScene) == "" {
		return fmt.Errorf("scenes.legacy_scene must not be empty")
	}
	if c.Scenes.MarkerClass == "" || c.Scenes.ActiveTag == "" {
		return fmt.Errorf("scenes.marker_class and scenes.active_tag must not be empty")
	}
	if _, err := time.ParseDuration(c.Execution.Timeout); err != nil {
		return fmt.Errorf("invalid execution.timeout %q: %w", c.Execution.Timeout, err)
	}
	if _, err := time.ParseDuration(c.Watch.Debounce); err != nil {
		return fmt.Errorf("invalid watch.debounce %q: %w", c.Watch.Debounce, err)
	}
	return nil
}

// GetWatchDebounce returns the watcher debounce window as a duration.
func (c *Config) GetWatchDebounce() time.Duration {
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil {
		return 300 * time.Millisecond
	}
	return d
}

// JournalPath resolves the journal location against workspace.
func (c *Config) JournalPath(workspace string) string {
	if filepath.IsAbs(c.Journal.Path) {
		return c.Journal.Path
	}
	return filepath.Join(workspace, c.Journal.Path)
}

