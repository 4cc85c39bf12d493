package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for flux-capacitor
type Config struct {
	State    StateConfig    `mapstructure:"state" yaml:"state"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Git      GitConfig      `mapstructure:"git" yaml:"git"`
	Worktree WorktreeConfig `mapstructure:"worktree" yaml:"worktree"`
	Session  SessionConfig  `mapstructure:"session" yaml:"session"`
	Tmux     TmuxConfig     `mapstructure:"tmux" yaml:"tmux"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
}

// StateConfig controls where worktree and session records are persisted
type StateConfig struct {
	// Dir is the directory holding one JSON document per key.
	// A leading "~" is expanded to the user's home directory.
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// LogConfig controls structured logging
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `mapstructure:"level" yaml:"level"`
	// Dir is the directory for the log file; empty logs to stderr
	Dir string `mapstructure:"dir" yaml:"dir"`
	// MaxSizeMB is the size at which the log file is rotated (0 disables rotation)
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of rotated files to keep
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
}

// GitConfig controls how the git CLI is driven
type GitConfig struct {
	// MaxConcurrent caps simultaneous git subprocesses across all repositories
	MaxConcurrent int `mapstructure:"max_concurrent" yaml:"max_concurrent"`
}

// WorktreeConfig controls worktree creation
type WorktreeConfig struct {
	// InitDir is the worktree-relative directory of init scripts
	InitDir string `mapstructure:"init_dir" yaml:"init_dir"`
	// MaxWorktrees limits worktrees per repository (0 = unlimited)
	MaxWorktrees int `mapstructure:"max_worktrees" yaml:"max_worktrees"`
	// DefaultBranch is the branch name reported for bare entries
	DefaultBranch string `mapstructure:"default_branch" yaml:"default_branch"`
}

// SessionConfig controls agent session launch and monitoring
type SessionConfig struct {
	// LaunchScript is the executable that creates the tmux pane and starts the agent
	LaunchScript string `mapstructure:"launch_script" yaml:"launch_script"`
	// LaunchTimeout bounds a single launch script invocation
	LaunchTimeout time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	// PromptDir is the worktree-relative directory holding the prompt file
	PromptDir string `mapstructure:"prompt_dir" yaml:"prompt_dir"`
	// PromptFile is the prompt file name inside PromptDir
	PromptFile string `mapstructure:"prompt_file" yaml:"prompt_file"`
	// OutputLines is how many trailing pane lines get_session_status returns
	OutputLines int `mapstructure:"output_lines" yaml:"output_lines"`
	// IDPrefix is the first segment of generated session IDs
	IDPrefix string `mapstructure:"id_prefix" yaml:"id_prefix"`
	// RetentionDays is the age after which finished sessions are pruned
	RetentionDays int `mapstructure:"retention_days" yaml:"retention_days"`
}

// TmuxConfig controls the multiplexer client
type TmuxConfig struct {
	// Socket selects a tmux server via -L; empty uses the default server
	Socket string `mapstructure:"socket" yaml:"socket"`
	// Binary is the tmux executable name or path
	Binary string `mapstructure:"binary" yaml:"binary"`
}

// ServerConfig identifies the tool server to connecting clients
type ServerConfig struct {
	Name    string `mapstructure:"name" yaml:"name"`
	Version string `mapstructure:"version" yaml:"version"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		State: StateConfig{
			Dir: "~/.claude/flux-capacitor/state",
		},
		Log: LogConfig{
			Level:      "info",
			Dir:        "",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Git: GitConfig{
			MaxConcurrent: 4,
		},
		Worktree: WorktreeConfig{
			InitDir:       ".worktree-init",
			MaxWorktrees:  0,
			DefaultBranch: "main",
		},
		Session: SessionConfig{
			LaunchScript:  "launch-claude-session.sh",
			LaunchTimeout: 30 * time.Second,
			PromptDir:     ".claude",
			PromptFile:    "session-prompt.md",
			OutputLines:   50,
			IDPrefix:      "sess",
			RetentionDays: 30,
		},
		Tmux: TmuxConfig{
			Socket: "",
			Binary: "tmux",
		},
		Server: ServerConfig{
			Name:    "flux-capacitor",
			Version: "1.0.0",
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// State defaults
	viper.SetDefault("state.dir", defaults.State.Dir)

	// Log defaults
	viper.SetDefault("log.level", defaults.Log.Level)
	viper.SetDefault("log.dir", defaults.Log.Dir)
	viper.SetDefault("log.max_size_mb", defaults.Log.MaxSizeMB)
	viper.SetDefault("log.max_backups", defaults.Log.MaxBackups)

	// Git defaults
	viper.SetDefault("git.max_concurrent", defaults.Git.MaxConcurrent)

	// Worktree defaults
	viper.SetDefault("worktree.init_dir", defaults.Worktree.InitDir)
	viper.SetDefault("worktree.max_worktrees", defaults.Worktree.MaxWorktrees)
	viper.SetDefault("worktree.default_branch", defaults.Worktree.DefaultBranch)

	// Session defaults
	viper.SetDefault("session.launch_script", defaults.Session.LaunchScript)
	viper.SetDefault("session.launch_timeout", defaults.Session.LaunchTimeout)
	viper.SetDefault("session.prompt_dir", defaults.Session.PromptDir)
	viper.SetDefault("session.prompt_file", defaults.Session.PromptFile)
	viper.SetDefault("session.output_lines", defaults.Session.OutputLines)
	viper.SetDefault("session.id_prefix", defaults.Session.IDPrefix)
	viper.SetDefault("session.retention_days", defaults.Session.RetentionDays)

	// Tmux defaults
	viper.SetDefault("tmux.socket", defaults.Tmux.Socket)
	viper.SetDefault("tmux.binary", defaults.Tmux.Binary)

	// Server defaults
	viper.SetDefault("server.name", defaults.Server.Name)
	viper.SetDefault("server.version", defaults.Server.Version)
}

// BindLegacyEnv binds the unprefixed environment variables older launchers set.
// The prefixed FLUX_* form still takes precedence because it is listed first.
func BindLegacyEnv() {
	_ = viper.BindEnv("state.dir", "FLUX_STATE_DIR", "STATE_DIR")
	_ = viper.BindEnv("log.level", "FLUX_LOG_LEVEL", "LOG_LEVEL")
}

// Load reads the configuration from viper into a Config struct
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.State.Dir = ExpandPath(cfg.State.Dir)
	cfg.Log.Dir = ExpandPath(cfg.Log.Dir)

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults on error
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		cfg = Default()
		cfg.State.Dir = ExpandPath(cfg.State.Dir)
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "flux-capacitor")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flux-capacitor"
	}
	return filepath.Join(home, ".config", "flux-capacitor")
}

// ConfigFile returns the default config file path
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ExpandPath expands a leading "~" to the user's home directory.
// Other paths are returned unchanged.
func ExpandPath(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}
