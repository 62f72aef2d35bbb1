package internal

import (
	"strings"
	"testing"
	"time"

	"github.com/starford/waymark/internal/placement"
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

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
}

func TestWorkspaceConfig_RejectsBadDefault(t *testing.T) {
	cfg := WorkspaceConfig{Dir: "./ws", Default: "../etc"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("path-like default workspace should fail")
	}
}

func TestAnchorsConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     AnchorsConfig
		wantErr bool
	}{
		{"empty policy", AnchorsConfig{}, false},
		{"single lock", AnchorsConfig{Policy: "single-lock", MaxRebindDistance: 1.5}, false},
		{"unknown policy", AnchorsConfig{Policy: "sticky"}, true},
		{"negative distance", AnchorsConfig{MaxRebindDistance: -1}, true},
		{"negative duration", AnchorsConfig{StatusDuration: -time.Second}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAnchorsConfig_Settings(t *testing.T) {
	cfg := AnchorsConfig{Policy: "single-lock", MaxRebindDistance: 2, StatusDuration: time.Second, AsyncSave: true}
	st, err := cfg.Settings()
	if err != nil {
		t.Fatal(err)
	}
	if st.Policy != placement.PolicySingleLock || st.MaxRebindDistance != 2 || !st.AsyncSave {
		t.Errorf("settings = %+v", st)
	}
}
