package keel

import (
	"fmt"
	"os"

	"github.com/xraph/go-utils/errs"
	"gopkg.in/yaml.v3"
)

// OverridePolicy controls what happens when a definition is registered under a
// name that is already bound.
type OverridePolicy string

const (
	// OverrideError rejects the new definition.
	OverrideError OverridePolicy = "error"
	// OverrideReplace silently replaces the existing definition.
	OverrideReplace OverridePolicy = "replace"
	// OverrideWarn replaces the existing definition and logs a warning.
	OverrideWarn OverridePolicy = "warn"
)

// Config holds container behaviour switches.
type Config struct {
	OverridePolicy OverridePolicy `yaml:"override_policy"`

	// AllowCircularReferences enables early exposure of singletons so that
	// field and setter cycles resolve.
	AllowCircularReferences bool `yaml:"allow_circular_references"`

	// AllowRawInjectionDespiteWrapping tolerates a component whose early
	// reference was injected elsewhere and was later replaced by an
	// after-initialization processor.
	AllowRawInjectionDespiteWrapping bool `yaml:"allow_raw_injection_despite_wrapping"`

	// LenientConstructorResolution picks the first of several equally
	// weighted constructors instead of failing.
	LenientConstructorResolution bool `yaml:"lenient_constructor_resolution"`

	// NonPublicAccess allows constructors registered with Hidden.
	NonPublicAccess bool `yaml:"non_public_access"`

	// SuppressedErrorLimit caps the related causes attached to a creation error.
	SuppressedErrorLimit int `yaml:"suppressed_error_limit"`
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		OverridePolicy:                   OverrideWarn,
		AllowCircularReferences:          true,
		AllowRawInjectionDespiteWrapping: false,
		LenientConstructorResolution:     false,
		NonPublicAccess:                  true,
		SuppressedErrorLimit:             100,
	}
}

// ParseConfig decodes YAML on top of DefaultConfig.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errs.NewError(CodeInvalidDefinition, "failed to parse container config", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read container config %s: %w", path, err)
	}

	return ParseConfig(data)
}

// Validate checks the configuration for unsupported values.
func (c Config) Validate() error {
	switch c.OverridePolicy {
	case OverrideError, OverrideReplace, OverrideWarn:
	default:
		return errs.NewError(
			CodeInvalidDefinition,
			fmt.Sprintf("unknown override policy '%s'", c.OverridePolicy),
			nil,
		)
	}

	if c.SuppressedErrorLimit < 0 {
		return errs.NewError(CodeInvalidDefinition, "suppressed_error_limit must not be negative", nil)
	}

	return nil
}
