package ctag

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	URL              string        `mapstructure:"url"`
	Username         string        `mapstructure:"username"`
	Token            string        `mapstructure:"token"`
	PageSize         int           `mapstructure:"page_size"`
	Timeout          time.Duration `mapstructure:"timeout"`
	AbortKey         string        `mapstructure:"abort_key"`
	RefreshTags      bool          `mapstructure:"refresh_tags"`
	FailOnPageErrors bool          `mapstructure:"fail_on_page_errors"`
	Log              LogConfig     `mapstructure:"log"`
	Audit            AuditConfig   `mapstructure:"audit"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type AuditConfig struct {
	// Driver is one of none, jsonl or sqlite.
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

const DefaultEnvFile = ".env"

var configDefaults = map[string]any{
	"page_size":           100,
	"timeout":             "30s",
	"abort_key":           DefaultAbortKey,
	"refresh_tags":        true,
	"fail_on_page_errors": false,
	"log.level":           "warn",
	"log.format":          "console",
	"audit.driver":        "none",
	"audit.path":          "",
}

// Connection settings keep the variable names the Atlassian tooling uses.
var envBindings = map[string]string{
	"url":      "ATLASSIAN_URL",
	"username": "ATLASSIAN_USERNAME",
	"token":    "ATLASSIAN_TOKEN",
}

func DefaultConfig() *Config {
	return &Config{
		PageSize:    100,
		Timeout:     30 * time.Second,
		AbortKey:    DefaultAbortKey,
		RefreshTags: true,
		Log:         LogConfig{Level: "warn", Format: "console"},
		Audit:       AuditConfig{Driver: "none"},
	}
}

// LoadConfig resolves configuration from defaults, ./.env, the YAML file at
// path (optional) and the environment, later sources winning.
func LoadConfig(path string) (*Config, error) {
	return LoadConfigWithEnvFile(path, DefaultEnvFile)
}

// LoadConfigWithEnvFile is LoadConfig reading dotenv values from envFile. A
// missing envFile is ignored.
func LoadConfigWithEnvFile(path, envFile string) (*Config, error) {
	v := viper.New()
	for key, value := range configDefaults {
		v.SetDefault(key, value)
	}

	if envFile != "" {
		if err := applyEnvFile(v, envFile); err != nil {
			return nil, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("CTAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env, "CTAG_"+strings.ToUpper(key)); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.URL = strings.TrimRight(strings.TrimSpace(cfg.URL), "/")

	return cfg, nil
}

// applyEnvFile loads a dotenv file and installs its values as defaults, so
// the config file and real environment still override it.
func applyEnvFile(v *viper.Viper, envFile string) error {
	if _, err := os.Stat(envFile); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	dotenv := viper.New()
	dotenv.SetConfigFile(envFile)
	dotenv.SetConfigType("env")
	if err := dotenv.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read %s: %w", envFile, err)
	}

	for key, env := range envBindings {
		if value := dotenv.GetString(strings.ToLower(env)); value != "" {
			v.SetDefault(key, value)
		}
	}
	for key := range configDefaults {
		env := "ctag_" + strings.ReplaceAll(key, ".", "_")
		if dotenv.IsSet(env) {
			v.SetDefault(key, dotenv.Get(env))
		}
	}
	return nil
}

// Validate reports missing connection settings and unusable values.
func (c *Config) Validate() error {
	var missing []string
	if c.URL == "" {
		missing = append(missing, "ATLASSIAN_URL")
	}
	if c.Username == "" {
		missing = append(missing, "ATLASSIAN_USERNAME")
	}
	if c.Token == "" {
		missing = append(missing, "ATLASSIAN_TOKEN")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingSettings, strings.Join(missing, ", "))
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page_size must be positive, got %d", c.PageSize)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	return nil
}
