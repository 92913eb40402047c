// Package config loads the moodmash CLI configuration.
//
// Values come from, in increasing priority: built-in defaults, a YAML file,
// a .env file, and the process environment. The YAML file is named by the
// --config flag or MOODMASH_CONFIG; a missing file is not an error.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables read by Load.
const (
	EnvConfig       = "MOODMASH_CONFIG"
	EnvBaseURL      = "MOODMASH_URL"
	EnvUserID       = "MOODMASH_USER"
	EnvToken        = "MOODMASH_TOKEN"
	EnvKeyStore     = "MOODMASH_KEYSTORE"
	EnvSessionStore = "MOODMASH_SESSION_STORE"
	EnvTimeout      = "MOODMASH_TIMEOUT"
	EnvRetries      = "MOODMASH_RETRIES"
	EnvLogLevel     = "MOODMASH_LOG_LEVEL"
)

// Config is the CLI configuration.
type Config struct {
	// BaseURL is the MoodMash API base URL.
	BaseURL string `yaml:"base_url"`

	// UserID is the signed-in user.
	UserID string `yaml:"user_id"`

	// Token is the session bearer token. Prefer MOODMASH_TOKEN over writing
	// it to the file.
	Token string `yaml:"token"`

	// KeyStorePath is the SQLite file holding key material and cached peer
	// keys.
	KeyStorePath string `yaml:"keystore_path"`

	// SessionStorePath is the SQLite file holding the session encryption
	// key. It should live on storage that is wiped on logout or reboot.
	SessionStorePath string `yaml:"session_store_path"`

	// Timeout is the HTTP request timeout.
	Timeout time.Duration `yaml:"timeout"`

	// Retries is the number of retries for failed requests. Negative uses
	// the SDK default.
	Retries int `yaml:"retries"`

	// LogLevel is a zerolog level name.
	LogLevel string `yaml:"log_level"`

	// Polling configures `messages watch`.
	Polling PollingConfig `yaml:"polling"`
}

// PollingConfig configures message polling.
type PollingConfig struct {
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxBackoff      time.Duration `yaml:"max_backoff"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		BaseURL:          "https://moodmash.app/api",
		KeyStorePath:     defaultDataPath("keys.db"),
		SessionStorePath: defaultSessionPath(),
		Timeout:          30 * time.Second,
		Retries:          -1,
		LogLevel:         "warn",
		Polling: PollingConfig{
			InitialInterval: 2 * time.Second,
			MaxBackoff:      30 * time.Second,
		},
	}
}

func defaultDataPath(name string) string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "moodmash", name)
}

func defaultSessionPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "moodmash", "session.db")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("moodmash-%d", os.Getuid()), "session.db")
}

// Options controls Load.
type Options struct {
	// Path is the YAML file. Empty uses MOODMASH_CONFIG.
	Path string
	// DotEnv is the .env file. Empty uses ".env" in the working directory.
	DotEnv string
	// LookupEnv reads the environment. Nil uses os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Load builds the configuration.
func Load(opts Options) (*Config, error) {
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}

	dotenvPath := opts.DotEnv
	if dotenvPath == "" {
		dotenvPath = ".env"
	}
	dotenv, err := godotenv.Read(dotenvPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read %s: %w", dotenvPath, err)
	}
	// The process environment wins over .env, as with godotenv.Load.
	env := func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}

	path := opts.Path
	if path == "" {
		path, _ = env(EnvConfig)
	}

	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(env); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(env func(string) (string, bool)) error {
	strs := []struct {
		key string
		dst *string
	}{
		{EnvBaseURL, &c.BaseURL},
		{EnvUserID, &c.UserID},
		{EnvToken, &c.Token},
		{EnvKeyStore, &c.KeyStorePath},
		{EnvSessionStore, &c.SessionStorePath},
		{EnvLogLevel, &c.LogLevel},
	}
	for _, s := range strs {
		if v, ok := env(s.key); ok && v != "" {
			*s.dst = v
		}
	}

	if v, ok := env(EnvTimeout); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvTimeout, err)
		}
		c.Timeout = d
	}
	if v, ok := env(EnvRetries); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvRetries, err)
		}
		c.Retries = n
	}
	return nil
}

// Validate checks the values that do not depend on the command being run.
func (c *Config) Validate() error {
	var errs []error
	if c.BaseURL == "" {
		errs = append(errs, errors.New("base_url is required"))
	} else if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		errs = append(errs, fmt.Errorf("base_url %q must be an http(s) URL", c.BaseURL))
	}
	if c.KeyStorePath == "" {
		errs = append(errs, errors.New("keystore_path is required"))
	}
	if c.SessionStorePath == "" {
		errs = append(errs, errors.New("session_store_path is required"))
	}
	if c.Timeout < 0 {
		errs = append(errs, errors.New("timeout must not be negative"))
	}
	if c.Polling.InitialInterval < 0 || c.Polling.MaxBackoff < 0 {
		errs = append(errs, errors.New("polling intervals must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
