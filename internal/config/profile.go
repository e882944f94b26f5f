package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/noah-isme/gema-grading-api/internal/essay"
	"github.com/noah-isme/gema-grading-api/internal/exam"
)

// ScoringProfile bundles the essay rubric and the exam banding policy.
type ScoringProfile struct {
	Rubric essay.Rubric
	Policy exam.Policy
}

// DefaultScoringProfile returns the built-in rubric and policy.
func DefaultScoringProfile() ScoringProfile {
	return ScoringProfile{
		Rubric: essay.DefaultRubric(),
		Policy: exam.DefaultPolicy(),
	}
}

// LoadScoringProfile reads a YAML or JSON profile from path. Sections absent from the file
// keep their defaults; a table present in the file replaces the default table entirely.
// An empty path returns the defaults.
func LoadScoringProfile(path string) (ScoringProfile, error) {
	profile := DefaultScoringProfile()
	if path == "" {
		return profile, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return ScoringProfile{}, fmt.Errorf("read scoring profile: %w", err)
	}

	replaceSlices := viper.DecoderConfigOption(func(dc *mapstructure.DecoderConfig) {
		dc.ZeroFields = true
	})

	if v.IsSet("essay") {
		if err := v.UnmarshalKey("essay", &profile.Rubric, replaceSlices); err != nil {
			return ScoringProfile{}, fmt.Errorf("decode essay rubric: %w", err)
		}
	}
	if v.IsSet("exam") {
		if err := v.UnmarshalKey("exam", &profile.Policy, replaceSlices); err != nil {
			return ScoringProfile{}, fmt.Errorf("decode exam policy: %w", err)
		}
	}

	if err := profile.Rubric.Validate(); err != nil {
		return ScoringProfile{}, err
	}
	if err := profile.Policy.Validate(); err != nil {
		return ScoringProfile{}, err
	}

	return profile, nil
}
