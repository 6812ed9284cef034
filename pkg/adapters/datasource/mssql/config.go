package mssql

import (
	"fmt"
	"net/url"
)

// Config contains SQL Server-specific connection options.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Encrypt  string // "true", "false", "disable"
}

// FromMap creates a Config from a generic adapter config map.
func FromMap(config map[string]any) (*Config, error) {
	cfg := &Config{
		Port:    1433,
		Encrypt: "true",
	}

	if host, ok := config["host"].(string); ok && host != "" {
		cfg.Host = host
	} else {
		return nil, fmt.Errorf("host is required")
	}

	if port, ok := config["port"].(float64); ok { // JSON numbers are float64
		cfg.Port = int(port)
	} else if port, ok := config["port"].(int); ok {
		cfg.Port = port
	}

	if user, ok := config["user"].(string); ok && user != "" {
		cfg.User = user
	} else {
		return nil, fmt.Errorf("user is required")
	}

	if password, ok := config["password"].(string); ok {
		cfg.Password = password
	}

	if database, ok := config["database"].(string); ok && database != "" {
		cfg.Database = database
	} else {
		return nil, fmt.Errorf("database is required")
	}

	if encrypt, ok := config["encrypt"].(string); ok && encrypt != "" {
		cfg.Encrypt = encrypt
	}

	return cfg, nil
}

// buildConnectionString assembles a go-mssqldb connection URL.
func buildConnectionString(cfg *Config) string {
	query := url.Values{}
	query.Set("database", cfg.Database)
	query.Set("encrypt", cfg.Encrypt)

	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		RawQuery: query.Encode(),
	}
	return u.String()
}
