package internal

import (
	"strings"
	"testing"
	"time"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestFullConfig_FilterValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Filter.MaxListNesting = -3
	err := cfg.Validate()
	if err == nil {
		t.Fatal("negative max_list_nesting should fail")
	}
	if !strings.HasPrefix(err.Error(), "filter:") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	if err := NewDefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestHTTPConfig_Address(t *testing.T) {
	cases := []struct {
		host string
		port int
		want string
	}{
		{"", 8080, ":8080"},
		{"127.0.0.1", 9000, "127.0.0.1:9000"},
		{"::1", 80, "[::1]:80"},
	}
	for _, c := range cases {
		cfg := HTTPConfig{Host: c.host, Port: c.port}
		if got := cfg.Address(); got != c.want {
			t.Errorf("Address(%q, %d) = %q, want %q", c.host, c.port, got, c.want)
		}
	}
}

func TestSSEConfig_Validate(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.SSE.CatalogThrottle = time.Millisecond
	err := cfg.Validate()
	if err == nil || !strings.HasPrefix(err.Error(), "sse:") {
		t.Errorf("err = %v, want sse validation error", err)
	}

	cfg = NewDefaultConfig()
	cfg.SSE.KeepAlive = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("zero keep-alive should be allowed: %v", err)
	}
}

func TestHTTPConfig_ShutdownTimeoutRequired(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.App.HTTP.ShutdownTimeout = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero shutdown timeout should fail")
	}
}
