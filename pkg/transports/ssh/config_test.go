package ssh

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempKey(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "id_test")
	if err := os.WriteFile(path, []byte("not a real key"), 0600); err != nil {
		t.Fatalf("Failed to write key file: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("deploy")

	if cfg.User != "deploy" {
		t.Errorf("Expected user deploy, got %s", cfg.User)
	}
	if cfg.Port != 22 {
		t.Errorf("Expected port 22, got %d", cfg.Port)
	}
	if cfg.AuthMethod != AuthMethodKey {
		t.Errorf("Expected key auth, got %s", cfg.AuthMethod)
	}
	if !cfg.StrictHostKeyChecking {
		t.Error("Expected strict host key checking by default")
	}
	if cfg.ConnectTimeout != 30*time.Second {
		t.Errorf("Expected 30s connect timeout, got %s", cfg.ConnectTimeout)
	}
}

func TestValidate_KeyAuthWithExplicitKey(t *testing.T) {
	cfg := DefaultConfig("deploy")
	cfg.PrivateKeyPath = writeTempKey(t)

	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
}

func TestValidate_KeyAuthMissingKeyFile(t *testing.T) {
	cfg := DefaultConfig("deploy")
	cfg.PrivateKeyPath = filepath.Join(t.TempDir(), "missing")

	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for missing key file, got nil")
	}
}

func TestValidate_PasswordAuth(t *testing.T) {
	cfg := DefaultConfig("deploy")
	cfg.AuthMethod = AuthMethodPassword

	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for password auth without a password, got nil")
	}

	cfg.Password = "secret"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
}

func TestValidate_RejectsInvalidConfigs(t *testing.T) {
	keyPath := writeTempKey(t)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty user", func(c *Config) { c.User = "" }},
		{"port too low", func(c *Config) { c.Port = 0 }},
		{"port too high", func(c *Config) { c.Port = 70000 }},
		{"unsupported auth", func(c *Config) { c.AuthMethod = "kerberos" }},
		{"non-positive timeout", func(c *Config) { c.ConnectTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("deploy")
			cfg.PrivateKeyPath = keyPath
			tt.mutate(cfg)

			if err := cfg.Validate(); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}
