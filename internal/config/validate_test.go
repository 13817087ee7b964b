package config

import (
	"strings"
	"testing"
)

func TestValidateDefault(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Errorf("Validate(Default()) error = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "empty version file",
			mutate:  func(c *Config) { c.VersionFile = " " },
			wantErr: "version_file",
		},
		{
			name:    "relative metadata url",
			mutate:  func(c *Config) { c.Release.MetadataURL = "/releases/latest" },
			wantErr: "release.metadata_url",
		},
		{
			name:    "ftp fallback url",
			mutate:  func(c *Config) { c.Release.FallbackURL = "ftp://example.com/a.zip" },
			wantErr: "unsupported scheme",
		},
		{
			name:    "zero check timeout",
			mutate:  func(c *Config) { c.Release.CheckTimeout = 0 },
			wantErr: "release.check_timeout",
		},
		{
			name:    "negative keep",
			mutate:  func(c *Config) { c.Backup.Keep = -1 },
			wantErr: "backup.keep",
		},
		{
			name:    "bad glob",
			mutate:  func(c *Config) { c.Protected = append(c.Protected, "[abc") },
			wantErr: "invalid glob",
		},
		{
			name:    "reversed class range",
			mutate:  func(c *Config) { c.Protected = append(c.Protected, "log[z-a].txt") },
			wantErr: "invalid glob",
		},
		{
			name:    "absolute rule",
			mutate:  func(c *Config) { c.Protected = []string{"/etc/passwd"} },
			wantErr: "must be relative",
		},
		{
			name:    "critical escapes install dir",
			mutate:  func(c *Config) { c.Critical = []string{"../secrets"} },
			wantErr: "inside the install dir",
		},
		{
			name:    "critical glob",
			mutate:  func(c *Config) { c.Critical = []string{"*.py"} },
			wantErr: "literal path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("Validate() expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateGlobRules(t *testing.T) {
	for _, rule := range []string{"backup_*/", "cache_*/", "log[^0-9].txt", "log[!0-9].txt", "*.db"} {
		t.Run(rule, func(t *testing.T) {
			cfg := Default()
			cfg.Protected = append(cfg.Protected, rule)
			if err := Validate(cfg); err != nil {
				t.Errorf("Validate() with rule %q error = %v", rule, err)
			}
		})
	}
}

func TestValidateAggregates(t *testing.T) {
	cfg := Default()
	cfg.VersionFile = ""
	cfg.Backup.Keep = -3

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate() expected error")
	}
	msg := err.Error()
	if !strings.HasPrefix(msg, "validation errors:") {
		t.Errorf("error = %q, want aggregated prefix", msg)
	}
	if strings.Count(msg, "\n  - ") != 2 {
		t.Errorf("error = %q, want two entries", msg)
	}
}

func TestValidationErrorFormat(t *testing.T) {
	err := ValidationError{Field: "backup.keep", Message: "must not be negative"}
	if err.Error() != "backup.keep: must not be negative" {
		t.Errorf("Error() = %q", err.Error())
	}
}
