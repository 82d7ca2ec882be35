package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Has reports whether a validation error was recorded for field.
func (e ValidationErrors) Has(field string) bool {
	for _, err := range e {
		if err.Field == field {
			return true
		}
	}
	return false
}

// ValidateConfig performs comprehensive validation of the configuration.
func ValidateConfig(c *Config) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateServer(&c.Server)...)
	errs = append(errs, validateApp(&c.App)...)
	errs = append(errs, validateStorage(&c.Storage)...)
	errs = append(errs, validateIntegrity(&c.Integrity)...)
	errs = append(errs, validateLogging(&c.Logging)...)

	switch c.Locale {
	case "auto", "en", "ko":
	default:
		errs = append(errs, ValidationError{
			Field:   "locale",
			Message: fmt.Sprintf("unsupported locale: %s (valid: auto, en, ko)", c.Locale),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateServer(s *ServerConfig) ValidationErrors {
	var errs ValidationErrors

	if !isValidURL(s.URL) {
		errs = append(errs, ValidationError{
			Field:   "server.url",
			Message: fmt.Sprintf("invalid URL: %q", s.URL),
		})
	}
	if s.TimeoutSec < 1 || s.TimeoutSec > 120 {
		errs = append(errs, *RangeError("server.timeout_sec", 1, 120))
	}
	if s.TokenTTLSec < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.token_ttl_sec",
			Message: "token lifetime cannot be negative",
		})
	}
	return errs
}

func validateApp(a *AppConfig) ValidationErrors {
	if strings.TrimSpace(a.Version) == "" {
		return ValidationErrors{*RequiredFieldError("app.version")}
	}
	return nil
}

func validateStorage(s *StorageConfig) ValidationErrors {
	var errs ValidationErrors

	if s.AuditPath == "" {
		errs = append(errs, *RequiredFieldError("storage.audit_path"))
	}

	switch s.SecureStoreType {
	case "memory":
	case "file":
		if s.SecureStorePath == "" {
			errs = append(errs, *RequiredFieldError("storage.secure_store_path"))
		}
		if s.MasterKeyPath == "" {
			errs = append(errs, *RequiredFieldError("storage.master_key_path"))
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "storage.secure_store_type",
			Message: fmt.Sprintf("invalid secure store type: %s (valid: file, memory)", s.SecureStoreType),
		})
	}

	if s.BusyTimeoutMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "storage.busy_timeout_ms",
			Message: "busy timeout cannot be negative",
		})
	}
	return errs
}

func validateIntegrity(i *IntegrityConfig) ValidationErrors {
	var errs ValidationErrors

	lists := map[string][]string{
		"integrity.root_packages":      i.RootPackages,
		"integrity.emulator_packages":  i.EmulatorPackages,
		"integrity.carrier_signatures": i.CarrierSignatures,
		"integrity.arch_markers":       i.ArchMarkers,
		"integrity.model_prefixes":     i.ModelPrefixes,
		"integrity.serial_prefixes":    i.SerialPrefixes,
		"integrity.emulator_ips":       i.EmulatorIPs,
	}
	for field, values := range lists {
		for _, v := range values {
			if strings.TrimSpace(v) == "" {
				errs = append(errs, ValidationError{
					Field:   field,
					Message: "entries cannot be empty",
				})
				break
			}
		}
	}
	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr", "discard":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: fmt.Sprintf("file path is required when output is '%s'", l.Output),
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %q", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}
	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}
	if l.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_age_days",
			Message: "max age cannot be negative",
		})
	}
	return errs
}

func isValidURL(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// RequiredFieldError creates a validation error for a missing required field.
func RequiredFieldError(field string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: "required field is missing",
	}
}

// RangeError creates a validation error for an out-of-range value.
func RangeError(field string, min, max interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("value must be between %v and %v", min, max),
	}
}
