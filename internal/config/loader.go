package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/prodtrace/prodtrace/internal/db"
)

// Server holds the HTTP and upload settings.
type Server struct {
	Addr           string
	MigrationsPath string
	UploadLimit    int
	UploadWindow   time.Duration
}

// Config is the full application configuration.
type Config struct {
	Database db.Config
	Server   Server
}

// Load reads config.yaml from the given path, with environment overrides
// (APP_HOST, APP_PORT and so on). Missing file falls back to defaults.
func Load(configPath string) (Config, error) {
	cfg := Config{
		Database: db.DefaultConfig(),
		Server: Server{
			Addr:           ":8080",
			MigrationsPath: "migrations",
			UploadLimit:    60,
			UploadWindow:   time.Minute,
		},
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("APP")

	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("server.addr")
	v.BindEnv("server.migrations_path")
	v.BindEnv("server.upload_limit")
	v.BindEnv("server.upload_window")

	if err := v.ReadInConfig(); err != nil {
		// Missing config.yaml is fine; defaults plus env vars apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, err
		}
	}

	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("server.addr") {
		cfg.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("server.migrations_path") {
		cfg.Server.MigrationsPath = v.GetString("server.migrations_path")
	}
	if v.IsSet("server.upload_limit") {
		cfg.Server.UploadLimit = v.GetInt("server.upload_limit")
	}
	if v.IsSet("server.upload_window") {
		cfg.Server.UploadWindow = v.GetDuration("server.upload_window")
	}

	return cfg, nil
}
