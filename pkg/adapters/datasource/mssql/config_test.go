package mssql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromMap(t *testing.T) {
	cfg, err := FromMap(map[string]any{
		"host":     "sqlhost",
		"port":     1434,
		"user":     "sa",
		"password": "secret",
		"database": "finance",
		"encrypt":  "disable",
	})
	require.NoError(t, err)

	assert.Equal(t, "sqlhost", cfg.Host)
	assert.Equal(t, 1434, cfg.Port)
	assert.Equal(t, "disable", cfg.Encrypt)
}

func TestFromMap_Defaults(t *testing.T) {
	cfg, err := FromMap(map[string]any{
		"host": "sqlhost", "user": "sa", "database": "finance",
	})
	require.NoError(t, err)

	assert.Equal(t, 1433, cfg.Port)
	assert.Equal(t, "true", cfg.Encrypt)
}

func TestFromMap_MissingRequired(t *testing.T) {
	_, err := FromMap(map[string]any{"user": "sa", "database": "finance"})
	assert.ErrorContains(t, err, "host")
}

func TestBuildConnectionString(t *testing.T) {
	cfg := &Config{
		Host: "sqlhost", Port: 1433, User: "sa", Password: "p@ss",
		Database: "finance", Encrypt: "true",
	}
	got := buildConnectionString(cfg)
	assert.Contains(t, got, "sqlserver://")
	assert.Contains(t, got, "sqlhost:1433")
	assert.Contains(t, got, "database=finance")
	// Special characters in credentials must be URL-escaped.
	assert.Contains(t, got, "p%40ss")
}

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, "[orders]", quoteIdentifier("orders"))
	assert.Equal(t, "[odd]]name]", quoteIdentifier("odd]name"))
}
