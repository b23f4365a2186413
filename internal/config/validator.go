package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// registerCustomValidators adds the gateway's extra validation rules.
func registerCustomValidators(v *validator.Validate) error {
	// duration: a non-empty time.ParseDuration string ("30s", "5m", ...).
	if err := v.RegisterValidation("duration", validateDuration); err != nil {
		return fmt.Errorf("registering duration validator: %w", err)
	}
	return nil
}

func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d > 0
}

// Validate runs struct-tag validation plus cross-field rules.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := registerCustomValidators(v); err != nil {
		return err
	}
	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return errors.New("server: tls_cert and tls_key must be set together")
	}
	if c.RateLimit.Burst < c.RateLimit.Rate {
		return fmt.Errorf("rate_limit: burst (%d) must be >= rate (%d)",
			c.RateLimit.Burst, c.RateLimit.Rate)
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors into one
// actionable message per failing field.
func formatValidationErrors(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	messages := make([]string, 0, len(verrs))
	for _, e := range verrs {
		messages = append(messages, formatFieldError(e))
	}
	return errors.New(strings.Join(messages, "; "))
}

func formatFieldError(e validator.FieldError) string {
	field := e.Namespace()
	switch e.Tag() {
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, e.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "required_if":
		return fmt.Sprintf("%s is required (%s)", field, e.Param())
	case "duration":
		return fmt.Sprintf("%s must be a positive duration such as \"30s\"", field)
	case "file":
		return fmt.Sprintf("%s must be an existing file", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
