// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// defaultTrainerYAML is the built-in curriculum, baked into the binary so
// the trainer works with no external config files.
//
//go:embed trainer.yaml
var defaultTrainerYAML []byte

// TrainerConfig is the curriculum the trainer runs: the interview
// questions, the selectable mode descriptions, and the hint library.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after
// creation.
type TrainerConfig struct {
	// Version is shown in the finish packet header.
	Version string `yaml:"version" validate:"required"`

	// Questions are the interview prompts, one per step, in order.
	Questions []string `yaml:"questions" validate:"required,min=1,dive,required"`

	// Modes maps mode identifier to its menu description. Every
	// selectable mode must have an entry.
	Modes map[string]string `yaml:"modes" validate:"required,min=1"`

	// Hints is the rotating hint library.
	Hints []string `yaml:"hints" validate:"required,min=1,dive,max=240"`

	// StruggleHint is returned when the user signals difficulty.
	StruggleHint string `yaml:"struggle_hint" validate:"required,max=240"`
}

// InterviewSteps returns the number of interview questions.
func (c *TrainerConfig) InterviewSteps() int {
	return len(c.Questions)
}

// Question returns the prompt for step, or an error when step is out of
// range.
func (c *TrainerConfig) Question(step int) (string, error) {
	if step < 0 || step >= len(c.Questions) {
		return "", fmt.Errorf("no interview question for step %d", step)
	}
	return c.Questions[step], nil
}

// DefaultTrainerConfig parses the embedded curriculum.
func DefaultTrainerConfig() (*TrainerConfig, error) {
	return parseTrainerConfig(defaultTrainerYAML)
}

// LoadTrainerConfig reads a curriculum from path, falling back to the
// embedded default when path is empty.
func LoadTrainerConfig(path string) (*TrainerConfig, error) {
	if path == "" {
		return DefaultTrainerConfig()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trainer config %s: %w", path, err)
	}
	cfg, err := parseTrainerConfig(data)
	if err != nil {
		return nil, fmt.Errorf("invalid trainer config %s: %w", path, err)
	}
	return cfg, nil
}

func parseTrainerConfig(data []byte) (*TrainerConfig, error) {
	var cfg TrainerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse trainer config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("trainer config validation failed: %w", err)
	}
	for _, m := range Modes() {
		if _, ok := cfg.Modes[string(m)]; !ok {
			return nil, fmt.Errorf("trainer config missing description for mode %q", m)
		}
	}
	return &cfg, nil
}
