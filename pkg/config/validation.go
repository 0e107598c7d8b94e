package config

import (
	"fmt"
	"net/url"
	"slices"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("endpoint", validateEndpoint)
}

// validateEndpoint accepts a URI whose scheme names a known driver.
func validateEndpoint(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil {
		return false
	}
	return slices.Contains(Schemes, u.Scheme)
}

// Validate validates the configuration using struct tags and custom rules.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if cfg.RateLimit.Enabled && cfg.RateLimit.BytesPerSecond == 0 {
		return fmt.Errorf("rate_limit: enabled but bytes_per_second is 0")
	}

	u, err := cfg.EndpointURL()
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "nfs", "s3":
		if u.Host == "" {
			return fmt.Errorf("endpoint %q: %s endpoints need a host", cfg.Endpoint, u.Scheme)
		}
	case "badger", "file":
		if u.Path == "" {
			return fmt.Errorf("endpoint %q: %s endpoints need a path", cfg.Endpoint, u.Scheme)
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		// Return the first validation error with context
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
