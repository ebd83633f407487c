package models

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SaveDir is where playthroughs are written; cmd/game overrides it from config.
var SaveDir = ".saves"

type saveLog struct {
	Activity []ActivityLogEntry `yaml:"activity"`
	Messages []AgentMessage     `yaml:"messages"`
}

type saveState struct {
	ID      string       `yaml:"id"`
	State   FarmSession  `yaml:"state"`
	Outcome *GameOutcome `yaml:"outcome,omitempty"`
}

func (s *GameSave) Save(name string) error {
	dir := filepath.Join(SaveDir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	// Save setup.yaml
	if err := writeYAML(filepath.Join(dir, "setup.yaml"), s.Setup); err != nil {
		return err
	}

	// Save state.yaml
	if err := writeYAML(filepath.Join(dir, "state.yaml"), saveState{ID: s.ID, State: s.State, Outcome: s.Outcome}); err != nil {
		return err
	}

	// Save log.yaml
	return writeYAML(filepath.Join(dir, "log.yaml"), saveLog{Activity: s.Activity, Messages: s.Messages})
}

func LoadSave(name string) (*GameSave, error) {
	dir := filepath.Join(SaveDir, name)

	var setup Setup
	if err := readYAML(filepath.Join(dir, "setup.yaml"), &setup); err != nil {
		return nil, err
	}

	var state saveState
	if err := readYAML(filepath.Join(dir, "state.yaml"), &state); err != nil {
		return nil, err
	}

	var log saveLog
	if err := readYAML(filepath.Join(dir, "log.yaml"), &log); err != nil {
		return nil, err
	}

	return &GameSave{
		ID:       state.ID,
		Setup:    setup,
		State:    state.State,
		Activity: log.Activity,
		Messages: log.Messages,
		Outcome:  state.Outcome,
	}, nil
}

func ListSaves() ([]string, error) {
	if _, err := os.Stat(SaveDir); os.IsNotExist(err) {
		return []string{}, nil
	}

	entries, err := os.ReadDir(SaveDir)
	if err != nil {
		return nil, err
	}

	var saves []string
	for _, entry := range entries {
		if entry.IsDir() {
			// setup.yaml marks a valid save
			setupPath := filepath.Join(SaveDir, entry.Name(), "setup.yaml")
			if _, err := os.Stat(setupPath); err == nil {
				saves = append(saves, entry.Name())
			}
		}
	}
	return saves, nil
}

func writeYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, data, 0644)
}

func readYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}
