package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Database  DatabaseConfig
	Metrics   MetricsConfig
	LogLevel  string `mapstructure:"logLevel"`
}

type ServerConfig struct {
	Address         string
	Auth            AuthConfig
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`

	// AllowAnyOrigin bypasses websocket origin verification. Dev only.
	AllowAnyOrigin bool `mapstructure:"allowAnyOrigin"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwtSecret"`
}

type ConnectionLimitConfig struct {
	MaxPerUser int    `mapstructure:"maxPerUser"`
	Mode       string `mapstructure:"mode"` // "reject" or "cycle"
}

type TransportConfig struct {
	WriteTimeout   time.Duration `mapstructure:"writeTimeout"`
	PingInterval   time.Duration `mapstructure:"pingInterval"`
	PingTimeout    time.Duration `mapstructure:"pingTimeout"`
	PingMissBudget int           `mapstructure:"pingMissBudget"`
	SendBuffer     int           `mapstructure:"sendBuffer"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}
