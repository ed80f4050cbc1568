package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks struct tags, then the cross-field rules tags cannot
// express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	repos := make(map[string]bool, len(cfg.Repositories))
	for i, r := range cfg.Repositories {
		if repos[r.Name] {
			return fmt.Errorf("repositories[%d]: duplicate repository name %q", i, r.Name)
		}
		repos[r.Name] = true
	}

	ids := make(map[string]bool, len(cfg.Providers))
	for i, p := range cfg.Providers {
		if ids[p.ID] {
			return fmt.Errorf("providers[%d]: duplicate provider id %q", i, p.ID)
		}
		ids[p.ID] = true
		for _, name := range p.Repositories {
			if !repos[name] {
				return fmt.Errorf("providers[%d]: unknown repository %q", i, name)
			}
		}
		if _, err := p.Strategy(); err != nil {
			return fmt.Errorf("providers[%d]: %w", i, err)
		}
		if err := p.Store.check(); err != nil {
			return fmt.Errorf("providers[%d].store: %w", i, err)
		}
	}

	for _, name := range cfg.GC.Repositories {
		if !repos[name] {
			return fmt.Errorf("gc: unknown repository %q", name)
		}
	}

	if err := cfg.Status.check(); err != nil {
		return fmt.Errorf("status: %w", err)
	}
	return nil
}

// formatValidationError reports the first failing field.
func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		e := verrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
