package config

import "testing"

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"true", true},
		{"1", true},
		{"YES", true},
		{"on", true},
		{"false", false},
		{"0", false},
		{"no", false},
		{"OFF", false},
		{"maybe", true}, // unparseable falls back to the default
	}
	for _, tt := range tests {
		t.Setenv("AFFINITY_TEST_BOOL", tt.value)
		if got := GetEnvBool("AFFINITY_TEST_BOOL", true); got != tt.want {
			t.Errorf("GetEnvBool(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestLoadRequestLogging(t *testing.T) {
	cfg := Load()
	if !cfg.LogRequests {
		t.Error("request logging should default to on")
	}

	t.Setenv("AFFINITY_REQUEST_LOG", "off")
	cfg = Load()
	if cfg.LogRequests {
		t.Error("AFFINITY_REQUEST_LOG=off should disable request logging")
	}
}
