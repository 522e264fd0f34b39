package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestGetEnvStr(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue string
		want         string
	}{
		{"set value wins", "postgres://localhost/sink", "fallback", "postgres://localhost/sink"},
		{"empty value falls back", "", "fallback", "fallback"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv("DATASINK_TEST_STR", tt.envValue)
			}

			if got := GetEnvStr("DATASINK_TEST_STR", tt.defaultValue); got != tt.want {
				t.Errorf("GetEnvStr() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue int
		want         int
	}{
		{"parses integer", "25000", 50000, 25000},
		{"unset falls back", "", 50000, 50000},
		{"garbage falls back", "not-a-number", 50000, 50000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv("DATASINK_TEST_INT", tt.envValue)
			}

			if got := GetEnvInt("DATASINK_TEST_INT", tt.defaultValue); got != tt.want {
				t.Errorf("GetEnvInt() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue bool
		want         bool
	}{
		{"true", "true", false, true},
		{"yes", "yes", false, true},
		{"one", "1", false, true},
		{"false", "false", true, false},
		{"no", "NO", true, false},
		{"unrecognized falls back", "maybe", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATASINK_TEST_BOOL", tt.envValue)

			if got := GetEnvBool("DATASINK_TEST_BOOL", tt.defaultValue); got != tt.want {
				t.Errorf("GetEnvBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("DATASINK_TEST_DUR", "90s")

	if got := GetEnvDuration("DATASINK_TEST_DUR", time.Minute); got != 90*time.Second {
		t.Errorf("GetEnvDuration() = %v, want 90s", got)
	}

	if got := GetEnvDuration("DATASINK_TEST_DUR_UNSET", time.Minute); got != time.Minute {
		t.Errorf("GetEnvDuration() fallback = %v, want 1m", got)
	}
}

func TestGetEnvLogLevel(t *testing.T) {
	tests := []struct {
		value string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"loud", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("DATASINK_TEST_LEVEL", tt.value)

			if got := GetEnvLogLevel("DATASINK_TEST_LEVEL", slog.LevelInfo); got != tt.want {
				t.Errorf("GetEnvLogLevel(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}
