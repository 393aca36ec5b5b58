package config

import (
	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks struct tags and the rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	if cfg.Has("auth") && len(cfg.Auth.Tokens) == 0 {
		return errors.New("auth: middleware enabled but no tokens configured")
	}
	seen := map[string]bool{}
	for _, m := range cfg.Middleware {
		if seen[m] {
			return errors.Newf("middleware: %q listed twice", m)
		}
		seen[m] = true
	}
	return nil
}

// formatValidationError reports the first failing field.
func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		e := verrs[0]
		return errors.Newf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
