// Package config implements the configuration validator (component L):
// schema validation for the Configuration document, combining struct-tag
// checks with the semantic invariants the tags can't express (every
// TransformId must be one of the eleven named ones, sources non-empty).
/*
 * Copyright (c) 2024, blockforge authors. All rights reserved.
 */
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/blockforge/compiler/internal/pipeline"
)

// SourceConfig describes one filter-list source (§3).
type SourceConfig struct {
	Source            string                  `yaml:"source" validate:"required"`
	Name              string                  `yaml:"name,omitempty"`
	Type              string                  `yaml:"type,omitempty" validate:"omitempty,oneof=adblock hosts"`
	Optional          bool                    `yaml:"optional,omitempty"`
	Transformations   []pipeline.TransformID  `yaml:"transformations,omitempty"`
	Exclusions        []string                `yaml:"exclusions,omitempty"`
	ExclusionsSources []string                `yaml:"exclusions_sources,omitempty"`
	Inclusions        []string                `yaml:"inclusions,omitempty"`
	InclusionsSources []string                `yaml:"inclusions_sources,omitempty"`
}

// Configuration is the top-level compile request document (§3).
type Configuration struct {
	Name              string                 `yaml:"name" validate:"required"`
	Description       string                 `yaml:"description,omitempty"`
	Homepage          string                 `yaml:"homepage,omitempty" validate:"omitempty,url"`
	License           string                 `yaml:"license,omitempty"`
	Version           string                 `yaml:"version,omitempty"`
	Sources           []SourceConfig         `yaml:"sources" validate:"required,min=1,dive"`
	Transformations   []pipeline.TransformID `yaml:"transformations,omitempty"`
	Exclusions        []string               `yaml:"exclusions,omitempty"`
	ExclusionsSources []string               `yaml:"exclusions_sources,omitempty"`
	Inclusions        []string               `yaml:"inclusions,omitempty"`
	InclusionsSources []string               `yaml:"inclusions_sources,omitempty"`
}

// ValidationError carries a line-by-line (field-by-field) error list, per
// §4.5 step 1's "fail with ConfigurationError and a line-by-line error list".
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration invalid: %s", strings.Join(e.Messages, "; "))
}

var structValidator = validator.New()

// Decode parses a YAML configuration document.
func Decode(doc []byte) (Configuration, error) {
	var cfg Configuration
	if err := yaml.Unmarshal(doc, &cfg); err != nil {
		return Configuration{}, &ValidationError{Messages: []string{"yaml: " + err.Error()}}
	}
	return cfg, nil
}

// Validate runs struct-tag validation plus the semantic checks the tags
// can't express. It returns a *ValidationError (never a bare error) on
// failure so callers can always access Messages.
func Validate(cfg Configuration) error {
	var messages []string

	if err := structValidator.Struct(cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				messages = append(messages, fmt.Sprintf("%s: %s", fe.Namespace(), fe.Tag()))
			}
		} else {
			messages = append(messages, err.Error())
		}
	}

	for i, sc := range cfg.Sources {
		for _, t := range sc.Transformations {
			if !pipeline.Valid(t) {
				messages = append(messages, fmt.Sprintf("sources[%d].transformations: unknown transform %q", i, t))
			}
		}
	}
	for _, t := range cfg.Transformations {
		if !pipeline.Valid(t) {
			messages = append(messages, fmt.Sprintf("transformations: unknown transform %q", t))
		}
	}

	if len(messages) > 0 {
		return &ValidationError{Messages: messages}
	}
	return nil
}
