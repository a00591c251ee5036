package job

import (
	"fmt"
	"maps"
	"strings"

	"github.com/xraph/docket"
)

// Config describes what the renderer should produce. It is immutable once
// the job is created.
type Config struct {
	Sections []string       `json:"sections"`
	Options  map[string]any `json:"options,omitempty"`
	Title    string         `json:"title,omitempty"`
}

// Validate checks the kind-independent rules: at least one section and no
// blank section names. Errors wrap docket.ErrInvalidConfig.
func (c Config) Validate() error {
	if len(c.Sections) == 0 {
		return fmt.Errorf("%w: at least one section is required", docket.ErrInvalidConfig)
	}
	for i, s := range c.Sections {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%w: section %d is blank", docket.ErrInvalidConfig, i)
		}
	}
	return nil
}

// Clone returns a deep copy of the section list and a shallow copy of the
// options map.
func (c Config) Clone() Config {
	cp := Config{Title: c.Title}
	if c.Sections != nil {
		cp.Sections = append([]string(nil), c.Sections...)
	}
	if c.Options != nil {
		cp.Options = maps.Clone(c.Options)
	}
	return cp
}

// Validator applies kind-specific rules to a config. Returned errors that do
// not already wrap docket.ErrInvalidConfig are wrapped by the caller.
type Validator func(kind Kind, cfg Config) error

// RequireSections returns a Validator that demands every named section be
// present.
func RequireSections(names ...string) Validator {
	return func(kind Kind, cfg Config) error {
		have := make(map[string]bool, len(cfg.Sections))
		for _, s := range cfg.Sections {
			have[s] = true
		}
		for _, n := range names {
			if !have[n] {
				return fmt.Errorf("%w: %s requires section %q", docket.ErrInvalidConfig, kind, n)
			}
		}
		return nil
	}
}

// Validate checks that j is a well-formed new job.
func (j *Job) Validate() error {
	switch {
	case strings.TrimSpace(j.TenantID) == "":
		return fmt.Errorf("%w: tenant id is required", docket.ErrInvalidConfig)
	case strings.TrimSpace(j.SubjectID) == "":
		return fmt.Errorf("%w: subject id is required", docket.ErrInvalidConfig)
	case strings.TrimSpace(string(j.Kind)) == "":
		return fmt.Errorf("%w: kind is required", docket.ErrInvalidConfig)
	case j.MaxAttempts <= 0:
		return fmt.Errorf("%w: max attempts must be positive, got %d", docket.ErrInvalidConfig, j.MaxAttempts)
	}
	return j.Config.Validate()
}
