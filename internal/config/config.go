package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "CORTEX"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabasePath   = "cortex.db"
	defaultLogLevel       = "info"
	defaultShareBaseURL   = "http://localhost:8080/share"
	defaultTokenTTL       = 30 * time.Minute
	defaultReaperInterval = time.Hour
)

// AppConfig captures runtime configuration for the collaboration API server.
type AppConfig struct {
	HTTPAddress    string
	DatabasePath   string
	LogLevel       string
	SigningSecret  string
	PlatformSecret string
	TokenTTL       time.Duration
	ShareBaseURL   string
	ReaperInterval time.Duration
	SMTPHost       string
	SMTPPort       string
	SMTPUsername   string
	SMTPPassword   string
	SMTPFrom       string
	SMTPFromName   string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("share.base_url", defaultShareBaseURL)
	configViper.SetDefault("token.ttl_minutes", int(defaultTokenTTL.Minutes()))
	configViper.SetDefault("presence.reaper_interval_minutes", int(defaultReaperInterval.Minutes()))
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabasePath:   configViper.GetString("database.path"),
		LogLevel:       configViper.GetString("log.level"),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		PlatformSecret: configViper.GetString("auth.platform_secret"),
		TokenTTL:       time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		ShareBaseURL:   configViper.GetString("share.base_url"),
		ReaperInterval: time.Duration(configViper.GetInt("presence.reaper_interval_minutes")) * time.Minute,
		SMTPHost:       configViper.GetString("smtp.host"),
		SMTPPort:       configViper.GetString("smtp.port"),
		SMTPUsername:   configViper.GetString("smtp.username"),
		SMTPPassword:   configViper.GetString("smtp.password"),
		SMTPFrom:       configViper.GetString("smtp.from"),
		SMTPFromName:   configViper.GetString("smtp.from_name"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.ShareBaseURL) == "" {
		return fmt.Errorf("share.base_url is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	return nil
}
