package config

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/cl4nyz/elevadores-updater/internal/glob"
)

// ValidationError represents a config validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the config for required fields and valid values.
func Validate(c *Config) error {
	var errors []string

	if strings.TrimSpace(c.VersionFile) == "" {
		errors = append(errors, ValidationError{Field: "version_file", Message: "must not be empty"}.Error())
	}
	if strings.TrimSpace(c.DefaultVersion) == "" {
		errors = append(errors, ValidationError{Field: "default_version", Message: "must not be empty"}.Error())
	}

	if err := validateURL("release.metadata_url", c.Release.MetadataURL); err != nil {
		errors = append(errors, err.Error())
	}
	if err := validateURL("release.fallback_url", c.Release.FallbackURL); err != nil {
		errors = append(errors, err.Error())
	}

	if c.Release.CheckTimeout <= 0 {
		errors = append(errors, ValidationError{Field: "release.check_timeout", Message: "must be positive"}.Error())
	}
	if c.Download.Timeout <= 0 {
		errors = append(errors, ValidationError{Field: "download.timeout", Message: "must be positive"}.Error())
	}
	if c.LockStaleAfter <= 0 {
		errors = append(errors, ValidationError{Field: "lock_stale_after", Message: "must be positive"}.Error())
	}
	if c.Backup.Keep < 0 {
		errors = append(errors, ValidationError{Field: "backup.keep", Message: "must not be negative"}.Error())
	}

	for i, rule := range c.Protected {
		if err := validateRule(fmt.Sprintf("protected[%d]", i), rule); err != nil {
			errors = append(errors, err.Error())
		}
	}
	for i, entry := range c.Critical {
		if err := validateCritical(fmt.Sprintf("critical[%d]", i), entry); err != nil {
			errors = append(errors, err.Error())
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

func validateURL(field, raw string) error {
	if raw == "" {
		return ValidationError{Field: field, Message: "is required"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ValidationError{Field: field, Message: fmt.Sprintf("invalid URL: %v", err)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ValidationError{Field: field, Message: fmt.Sprintf("unsupported scheme '%s' (must be http or https)", u.Scheme)}
	}
	if u.Host == "" {
		return ValidationError{Field: field, Message: "missing host"}
	}
	return nil
}

func validateRule(field, rule string) error {
	if strings.TrimSpace(rule) == "" {
		return ValidationError{Field: field, Message: "rule must not be empty"}
	}
	if strings.HasPrefix(rule, "/") {
		return ValidationError{Field: field, Message: fmt.Sprintf("rule '%s' must be relative", rule)}
	}
	if strings.ContainsAny(rule, "*?[") {
		if _, err := glob.Compile(strings.ReplaceAll(rule, `\`, "/")); err != nil {
			return ValidationError{Field: field, Message: err.Error()}
		}
	}
	return nil
}

func validateCritical(field, entry string) error {
	if strings.TrimSpace(entry) == "" {
		return ValidationError{Field: field, Message: "entry must not be empty"}
	}
	clean := path.Clean(strings.TrimSuffix(entry, "/"))
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return ValidationError{Field: field, Message: fmt.Sprintf("entry '%s' must stay inside the install dir", entry)}
	}
	if strings.ContainsAny(entry, "*?[") {
		return ValidationError{Field: field, Message: fmt.Sprintf("entry '%s' must be a literal path", entry)}
	}
	return nil
}
