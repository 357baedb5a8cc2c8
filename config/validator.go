package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// validate is the global validator instance.
var validate *validator.Validate

func init() {
	validate = validator.New()

	// Register custom validators
	_ = validate.RegisterValidation("env", validateEnvironment)
	_ = validate.RegisterValidation("host", validateHost)
}

// ConfigError represents a validation error for a specific field.
type ConfigError struct {
	Field   string
	Message string
	Value   interface{}
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of config errors.
type ValidationErrors []ConfigError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}

	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// ValidateWithDetails performs struct tag validation followed by the checks
// that span several sections, and returns every failure found.
func ValidateWithDetails(cfg *Config) error {
	var details ValidationErrors

	if err := validate.Struct(cfg); err != nil {
		validationErrors, ok := err.(validator.ValidationErrors)
		if !ok {
			return err
		}
		for _, fe := range validationErrors {
			details = append(details, ConfigError{
				Field:   fe.Namespace(),
				Message: formatValidationError(fe),
				Value:   fe.Value(),
			})
		}
	}

	details = append(details, validateSemantics(cfg)...)
	if len(details) > 0 {
		return details
	}
	return nil
}

// validateSemantics checks rules that struct tags cannot express. It also
// normalizes the legacy tracing type onto the exporter field.
func validateSemantics(cfg *Config) ValidationErrors {
	var errs ValidationErrors

	if b := cfg.Executor.Backoff; b.Max > 0 && b.Max < b.Initial {
		errs = append(errs, ConfigError{
			Field:   "Config.Executor.Backoff.Max",
			Message: "must be greater than or equal to initial",
			Value:   b.Max,
		})
	}

	if rl := cfg.Executor.RateLimit; rl.Enabled && (rl.PerSecond <= 0 || rl.Burst < 1) {
		errs = append(errs, ConfigError{
			Field:   "Config.Executor.RateLimit",
			Message: "per_second must be > 0 and burst >= 1 when enabled",
			Value:   fmt.Sprintf("per_second=%v burst=%d", rl.PerSecond, rl.Burst),
		})
	}

	usesRedis := cfg.Storage.Type == "redis" || cfg.EventBus.Type == "redis"
	if usesRedis && strings.TrimSpace(cfg.Storage.Redis.Address) == "" {
		errs = append(errs, ConfigError{
			Field:   "Config.Storage.Redis.Address",
			Message: "is required when storage or eventbus uses redis",
			Value:   cfg.Storage.Redis.Address,
		})
	}

	if cfg.Storage.Type == "badger" && strings.TrimSpace(cfg.Storage.Badger.Path) == "" {
		errs = append(errs, ConfigError{
			Field:   "Config.Storage.Badger.Path",
			Message: "is required when storage uses badger",
			Value:   cfg.Storage.Badger.Path,
		})
	}

	if g := cfg.Server.GRPC; g.Enabled {
		if g.Port == cfg.Server.Port {
			errs = append(errs, ConfigError{
				Field:   "Config.Server.GRPC.Port",
				Message: "must differ from the HTTP port",
				Value:   g.Port,
			})
		}
		if ka := g.Keepalive; ka.Time > 0 && ka.Timeout >= ka.Time {
			errs = append(errs, ConfigError{
				Field:   "Config.Server.GRPC.Keepalive.Timeout",
				Message: "must be less than the ping interval",
				Value:   ka.Timeout,
			})
		}
	}

	errs = append(errs, validateTracing(&cfg.Tracing)...)
	return errs
}

func validateTracing(tc *TracingConfig) ValidationErrors {
	if !tc.Enabled {
		return nil
	}

	var errs ValidationErrors
	exporter := strings.ToLower(strings.TrimSpace(tc.Exporter))
	if exporter == "" {
		switch strings.ToLower(strings.TrimSpace(tc.Type)) {
		case "jaeger", "zipkin", "otlp", "":
			exporter = "otlpgrpc"
		}
	}
	if exporter != "otlpgrpc" {
		errs = append(errs, ConfigError{
			Field:   "Config.Tracing.Exporter",
			Message: "must be one of [otlpgrpc]",
			Value:   tc.Exporter,
		})
	} else {
		tc.Exporter = exporter
	}

	if strings.TrimSpace(tc.Endpoint) == "" {
		errs = append(errs, ConfigError{
			Field:   "Config.Tracing.Endpoint",
			Message: "is required when tracing is enabled",
			Value:   tc.Endpoint,
		})
	}
	if tc.Timeout <= 0 {
		errs = append(errs, ConfigError{
			Field:   "Config.Tracing.Timeout",
			Message: "must be greater than 0",
			Value:   tc.Timeout,
		})
	}

	switch strings.ToLower(strings.TrimSpace(tc.Sampler)) {
	case "", "always_on", "always_off", "parentbased_traceidratio":
	default:
		errs = append(errs, ConfigError{
			Field:   "Config.Tracing.Sampler",
			Message: "must be one of [always_on always_off parentbased_traceidratio]",
			Value:   tc.Sampler,
		})
	}
	return errs
}

// formatValidationError converts validator.FieldError to a human-readable message.
func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "startswith":
		return fmt.Sprintf("must start with %q", fe.Param())
	case "env":
		return "must be one of [development staging production]"
	case "host":
		return "must be a valid host name or address"
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}

// validateEnvironment is a custom validator for environment values.
func validateEnvironment(fl validator.FieldLevel) bool {
	env := fl.Field().String()
	validEnvs := []string{"development", "staging", "production"}
	for _, valid := range validEnvs {
		if env == valid {
			return true
		}
	}
	return false
}

// validateHost accepts host names, IPv4 and IPv6 addresses, with an optional port.
// An empty value is valid.
func validateHost(fl validator.FieldLevel) bool {
	host := fl.Field().String()
	for _, c := range host {
		if !isValidHostChar(c) {
			return false
		}
	}
	return true
}

func isValidHostChar(c rune) bool {
	return (c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') ||
		c == '-' || c == '.' || c == ':' || c == '_'
}

// durationOrDefault returns d, or fallback when d is not positive.
func durationOrDefault(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
