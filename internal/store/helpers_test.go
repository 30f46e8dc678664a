// ABOUTME: Tests for SQL LIKE escaping helper function.
// ABOUTME: Tests SQL special character escaping with edge cases.

package store

import (
	"testing"
)

func TestEscapeSQLLike(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain path",
			input:    "/api/v1/plugins",
			expected: "/api/v1/plugins",
		},
		{
			name:     "underscore in plugin name",
			input:    "/api/v1/plugins/fw_scrobbler",
			expected: "/api/v1/plugins/fw\\_scrobbler",
		},
		{
			name:     "percent wildcard",
			input:    "/api/v1/plugins/%",
			expected: "/api/v1/plugins/\\%",
		},
		{
			name:     "backslash escape character",
			input:    "path\\with\\backslash",
			expected: "path\\\\with\\\\backslash",
		},
		{
			name:     "backslash followed by percent",
			input:    "path\\%",
			expected: "path\\\\\\%",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := escapeSQLLike(tt.input)
			if result != tt.expected {
				t.Errorf("escapeSQLLike(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
