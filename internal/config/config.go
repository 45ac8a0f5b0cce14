package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Server   Server   `yaml:"server"`
	Database Database `yaml:"database"`
	Storage  Storage  `yaml:"storage"`
	LLM      LLM      `yaml:"llm"`
	Analysis Analysis `yaml:"analysis"`
	Jobs     Jobs     `yaml:"jobs"`
	Logging  Logging  `yaml:"logging"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Database struct {
	Path string `yaml:"path"`
}

type Storage struct {
	Backend  string   `yaml:"backend"` // "local" or "s3"
	LocalDir string   `yaml:"local_dir"`
	S3       S3Config `yaml:"s3"`
}

type S3Config struct {
	Endpoint     string `yaml:"endpoint"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	AccessKeyEnv string `yaml:"access_key_env"`
	SecretKeyEnv string `yaml:"secret_key_env"`
	UseSSL       bool   `yaml:"use_ssl"`
}

type LLM struct {
	Provider       string            `yaml:"provider"` // "mock", "generic", or "openai"
	BaseURL        string            `yaml:"base_url"`
	Model          string            `yaml:"model"`
	APIKeyEnv      string            `yaml:"api_key_env"`
	TimeoutSeconds float64           `yaml:"timeout_seconds"`
	ExtraHeaders   map[string]string `yaml:"extra_headers"`
}

type Analysis struct {
	NGWords        []string `yaml:"ng_words"`
	NPSScale       int      `yaml:"nps_scale"` // 10 or 5
	OptionalPrefix string   `yaml:"optional_prefix"`
	RequiredPrefix string   `yaml:"required_prefix"`
}

type Jobs struct {
	Workers           int     `yaml:"workers"`
	MaxRetries        int     `yaml:"max_retries"`
	RetryDelaySeconds float64 `yaml:"retry_delay_seconds"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for lecfeed.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "lecfeed")
}

// DataDir returns the XDG data directory for lecfeed.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "lecfeed")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/lecfeed/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'lecfeed init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Server: Server{Port: 8000},
		Storage: Storage{
			Backend: "local",
			S3: S3Config{
				Region:       "us-east-1",
				Prefix:       "uploads",
				AccessKeyEnv: "LECFEED_S3_ACCESS_KEY",
				SecretKeyEnv: "LECFEED_S3_SECRET_KEY",
				UseSSL:       true,
			},
		},
		LLM: LLM{
			Provider:       "mock",
			Model:          "gpt-4o-mini",
			APIKeyEnv:      "LECFEED_LLM_API_KEY",
			TimeoutSeconds: 15,
		},
		Analysis: Analysis{
			NGWords:        []string{"不適切", "誹謗中傷", "差別"},
			NPSScale:       10,
			OptionalPrefix: "（任意）",
			RequiredPrefix: "【必須】",
		},
		Jobs: Jobs{
			Workers:           2,
			MaxRetries:        3,
			RetryDelaySeconds: 5,
		},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Analysis.NPSScale != 10 && cfg.Analysis.NPSScale != 5 {
		return nil, fmt.Errorf("analysis.nps_scale must be 10 or 5, got %d", cfg.Analysis.NPSScale)
	}
	if cfg.Storage.Backend != "local" && cfg.Storage.Backend != "s3" {
		return nil, fmt.Errorf("storage.backend must be \"local\" or \"s3\", got %q", cfg.Storage.Backend)
	}
	if cfg.LLM.TimeoutSeconds <= 0 {
		return nil, fmt.Errorf("llm.timeout_seconds must be greater than zero")
	}
	if cfg.Jobs.Workers < 1 {
		cfg.Jobs.Workers = 1
	}

	return cfg, nil
}

// DatabasePath returns the sqlite file path from config or the XDG default.
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(DataDir(), "lecfeed.db")
}

// UploadDir returns the local storage root from config or the XDG default.
func (c *Config) UploadDir() string {
	if c.Storage.LocalDir != "" {
		return c.Storage.LocalDir
	}
	return filepath.Join(DataDir(), "uploads")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
