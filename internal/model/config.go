package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// LoggingConfig holds operational log settings. The persisted activity
// log is separate and always on.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `mapstructure:"level" yaml:"level"`

	// Format is "text" or "json".
	Format string `mapstructure:"format" yaml:"format"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	// DatabasePath is the SQLite database file location.
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	// MessageLimit caps how many messages one scan pass handles.
	MessageLimit int `mapstructure:"message_limit" yaml:"message_limit"`

	// LocalName is the hostname announced in EHLO.
	LocalName string `mapstructure:"local_name" yaml:"local_name"`

	// SendmailPath is the platform mail submission binary used when
	// no SMTP relay is configured.
	SendmailPath string `mapstructure:"sendmail_path" yaml:"sendmail_path"`

	// BouncePatterns are the ordered subject expressions that mark a
	// message as a bounce. Matching is case-insensitive.
	BouncePatterns []string `mapstructure:"bounce_patterns" yaml:"bounce_patterns"`

	// AutoReplyPatterns mark subjects as auto-replies (out of office
	// and the like), which are skipped without a bounce record.
	AutoReplyPatterns []string `mapstructure:"auto_reply_patterns" yaml:"auto_reply_patterns"`

	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/bouncer/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "bouncer", "config.yaml")
}

// DefaultDatabasePath returns the default SQLite database location,
// next to the configuration file.
func DefaultDatabasePath() string {
	return filepath.Join(filepath.Dir(DefaultConfigPath()), "bouncer.db")
}

// DefaultBouncePatterns covers the common non-delivery subject lines.
func DefaultBouncePatterns() []string {
	return []string{
		`mail delivery fail`,
		`delivery status notification`,
		`undeliver`,
		`returned mail`,
		`failure notice`,
		`delivery has failed`,
		`mail delivery subsystem`,
		`message could not be delivered`,
	}
}

// DefaultAutoReplyPatterns covers the common vacation responder
// subject lines.
func DefaultAutoReplyPatterns() []string {
	return []string{
		`out of office`,
		`auto.reply`,
		`automatic reply`,
		`vacation`,
		`away from office`,
	}
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		DatabasePath:      DefaultDatabasePath(),
		MessageLimit:      50,
		LocalName:         "localhost",
		SendmailPath:      "/usr/sbin/sendmail",
		BouncePatterns:    DefaultBouncePatterns(),
		AutoReplyPatterns: DefaultAutoReplyPatterns(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using
// Viper. If the file does not exist, it returns a default
// configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("database_path", DefaultDatabasePath())
	v.SetDefault("message_limit", 50)
	v.SetDefault("local_name", "localhost")
	v.SetDefault("sendmail_path", "/usr/sbin/sendmail")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if len(cfg.BouncePatterns) == 0 {
		cfg.BouncePatterns = DefaultBouncePatterns()
	}
	if len(cfg.AutoReplyPatterns) == 0 {
		cfg.AutoReplyPatterns = DefaultAutoReplyPatterns()
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("database_path", cfg.DatabasePath)
	v.Set("message_limit", cfg.MessageLimit)
	v.Set("local_name", cfg.LocalName)
	v.Set("sendmail_path", cfg.SendmailPath)
	v.Set("bounce_patterns", cfg.BouncePatterns)
	v.Set("auto_reply_patterns", cfg.AutoReplyPatterns)
	v.Set("logging", cfg.Logging)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
