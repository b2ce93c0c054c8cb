// Package config loads engine configuration from a YAML file with
// environment overrides and sane defaults.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Database holds the Postgres connection settings.
type Database struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// Config is the full engine configuration.
type Config struct {
	HTTPPort int      `mapstructure:"http_port"`
	Database Database `mapstructure:"database"`

	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`

	JWTSecret string `mapstructure:"jwt_secret"`

	// StateFiles maps state names to their registry export paths.
	StateFiles map[string]string `mapstructure:"state_files"`
	// Snapshots lists daily snapshot files in increasing date order.
	Snapshots []string `mapstructure:"snapshots"`
	// SkipUnreadableSnapshots keeps a run going past unreadable snapshot
	// files. Stricter deployments set it false to fail fast.
	SkipUnreadableSnapshots bool `mapstructure:"skip_unreadable_snapshots"`
	// ConsolidatedExport, when set, receives the merged master table CSV.
	ConsolidatedExport string `mapstructure:"consolidated_export"`
	// ChangeLogExport, when set, receives the full detected event list,
	// as CSV or JSON depending on the file extension.
	ChangeLogExport string `mapstructure:"change_log_export"`
}

// Load reads config.yaml from configPath (falling back to the working
// directory), applies INSIGHTS_* environment overrides, and fills defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.SetEnvPrefix("INSIGHTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Nested keys need explicit bindings before flat env vars like
	// INSIGHTS_DATABASE_PASSWORD reach Unmarshal.
	for _, key := range []string{
		"database.host", "database.port", "database.user",
		"database.password", "database.dbname", "database.sslmode",
	} {
		_ = v.BindEnv(key)
	}

	v.SetDefault("http_port", 8080)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.dbname", "registry_insights")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("kafka_topic", "registry.company-changes")
	v.SetDefault("skip_unreadable_snapshots", true)
	// Registered empty so the INSIGHTS_JWT_SECRET override is visible to
	// Unmarshal; viper only binds env vars for keys it knows about.
	v.SetDefault("jwt_secret", "")

	if err := v.ReadInConfig(); err != nil {
		// Missing file is fine, defaults and env cover it; anything else
		// (malformed yaml) should surface.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}
