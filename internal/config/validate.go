package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateMatching(); err != nil {
		return err
	}
	if err := c.validateApply(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.DataDir == "" {
		return errors.New("paths.data_dir must be set")
	}
	return nil
}

func (c *Config) validateMatching() error {
	if err := ensureUnitInterval(map[string]float64{
		"matching.confidence_threshold": c.Matching.ConfidenceThreshold,
		"matching.fuzzy_threshold":      c.Matching.FuzzyThreshold,
	}); err != nil {
		return err
	}
	if c.Matching.FuzzyThreshold == 0 {
		return errors.New("matching.fuzzy_threshold must be greater than 0")
	}
	if c.Matching.TransformPrecision < 0 || c.Matching.TransformPrecision > 9 {
		return fmt.Errorf("matching.transform_precision must be between 0 and 9, got %d", c.Matching.TransformPrecision)
	}
	return nil
}

func (c *Config) validateApply() error {
	switch c.Apply.DefaultPolicy {
	case PolicyPreserve, PolicyRebind:
	default:
		return fmt.Errorf("apply.default_policy must be %q or %q, got %q", PolicyPreserve, PolicyRebind, c.Apply.DefaultPolicy)
	}
	return nil
}

func ensureUnitInterval(values map[string]float64) error {
	for key, value := range values {
		if value < 0 || value > 1 {
			return fmt.Errorf("%s must be between 0 and 1", key)
		}
	}
	return nil
}
