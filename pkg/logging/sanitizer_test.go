package logging

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeConnectionString(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "keyword dsn password",
			input: "host=db port=5432 user=lens password=hunter2 dbname=finance",
			want:  "host=db port=5432 user=lens password=[REDACTED] dbname=finance",
		},
		{
			name:  "url credentials",
			input: "postgres://lens:hunter2@db:5432/finance?sslmode=disable",
			want:  "postgres://[REDACTED]@[REDACTED]/finance?sslmode=disable",
		},
		{
			name:  "sqlserver pwd keyword",
			input: "server=db;user id=sa;pwd=hunter2;database=finance",
			want:  "server=db;user id=sa;pwd=[REDACTED];database=finance",
		},
		{
			name:  "case insensitive",
			input: "PASSWORD=hunter2",
			want:  "PASSWORD=[REDACTED]",
		},
		{
			name:  "nothing sensitive",
			input: "host=db dbname=finance",
			want:  "host=db dbname=finance",
		},
		{
			name:  "empty",
			input: "",
			want:  "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeConnectionString(tt.input))
		})
	}
}

func TestSanitizeError(t *testing.T) {
	err := errors.New(`failed to connect to "postgres://lens:hunter2@db:5432/finance": timeout`)
	got := SanitizeError(err)
	assert.NotContains(t, got, "hunter2")
	assert.Contains(t, got, RedactedText)

	assert.Empty(t, SanitizeError(nil))
}
