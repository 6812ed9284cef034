package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromMap(t *testing.T) {
	cfg, err := FromMap(map[string]any{
		"host":     "db",
		"port":     5433,
		"user":     "lens",
		"password": "secret",
		"database": "finance",
		"ssl_mode": "disable",
	})
	require.NoError(t, err)

	assert.Equal(t, "db", cfg.Host)
	assert.Equal(t, 5433, cfg.Port)
	assert.Equal(t, "disable", cfg.SSLMode)
}

func TestFromMap_Defaults(t *testing.T) {
	cfg, err := FromMap(map[string]any{
		"host": "db", "user": "lens", "database": "finance",
	})
	require.NoError(t, err)

	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "require", cfg.SSLMode)
}

func TestFromMap_JSONNumbers(t *testing.T) {
	cfg, err := FromMap(map[string]any{
		"host": "db", "user": "lens", "database": "finance",
		"port": float64(6432),
	})
	require.NoError(t, err)
	assert.Equal(t, 6432, cfg.Port)
}

func TestFromMap_MissingRequired(t *testing.T) {
	_, err := FromMap(map[string]any{"user": "lens", "database": "finance"})
	assert.ErrorContains(t, err, "host")

	_, err = FromMap(map[string]any{"host": "db", "database": "finance"})
	assert.ErrorContains(t, err, "user")

	_, err = FromMap(map[string]any{"host": "db", "user": "lens"})
	assert.ErrorContains(t, err, "database")
}

func TestBuildConnectionString(t *testing.T) {
	cfg := &Config{
		Host: "db", Port: 5432, User: "lens", Password: "secret",
		Database: "finance", SSLMode: "disable",
	}
	assert.Equal(t,
		"postgres://lens:secret@db:5432/finance?sslmode=disable",
		buildConnectionString(cfg))
}

func TestQualifiedTableName(t *testing.T) {
	assert.Equal(t, `"public"."orders"`, qualifiedTableName("public", "orders"))
	assert.Equal(t, `"orders"`, qualifiedTableName("", "orders"))
	// Embedded quotes must be escaped, not truncated.
	assert.Equal(t, `"public"."odd""name"`, qualifiedTableName("public", `odd"name`))
}
