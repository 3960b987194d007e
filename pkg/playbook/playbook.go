// Package playbook loads playbooks from YAML and ships a small library of
// built-in playbooks embedded in the binary.
package playbook

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/convergeops/converge/pkg/engine"
)

// checkEntry is the YAML form of an operation guard.
type checkEntry struct {
	Kind    string `yaml:"kind" validate:"required,oneof=path command service"`
	Path    string `yaml:"path"`
	Command string `yaml:"command"`
	Service string `yaml:"service"`
	Sudo    bool   `yaml:"sudo"`
}

// actionEntry is the YAML form of an operation action.
type actionEntry struct {
	Kind        string `yaml:"kind" validate:"required,oneof=command copy template"`
	Command     string `yaml:"command"`
	Sudo        bool   `yaml:"sudo"`
	Source      string `yaml:"source"`
	Content     string `yaml:"content"`
	Destination string `yaml:"destination"`
	Mode        string `yaml:"mode"`
	Owner       string `yaml:"owner"`
	Group       string `yaml:"group"`
}

// operationEntry is the YAML form of one operation.
type operationEntry struct {
	Name      string      `yaml:"name" validate:"required"`
	Check     *checkEntry `yaml:"check"`
	Action    actionEntry `yaml:"action" validate:"required"`
	OnFailure string      `yaml:"on_failure" validate:"omitempty,oneof=halt continue"`
	Timeout   string      `yaml:"timeout"`
}

// File is the top-level structure of a playbook YAML file.
type File struct {
	Name       string           `yaml:"name" validate:"required"`
	Group      string           `yaml:"group"`
	Operations []operationEntry `yaml:"operations" validate:"required,min=1,dive"`
}

// Load reads, validates, and converts a playbook from a YAML file.
func Load(path string) (*engine.Playbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read playbook file: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates playbook YAML.
func Parse(data []byte) (*engine.Playbook, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse playbook YAML: %w", err)
	}

	if err := validator.New().Struct(&file); err != nil {
		return nil, fmt.Errorf("invalid playbook: %w", err)
	}

	pb := &engine.Playbook{
		Name:       file.Name,
		Group:      file.Group,
		Operations: make([]engine.Operation, 0, len(file.Operations)),
	}

	for i, entry := range file.Operations {
		op, err := convertOperation(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid playbook: operation %d (%s): %w", i, entry.Name, err)
		}
		pb.Operations = append(pb.Operations, op)
	}

	return pb, nil
}

func convertOperation(entry operationEntry) (engine.Operation, error) {
	op := engine.Operation{
		Name:      entry.Name,
		OnFailure: engine.FailurePolicy(entry.OnFailure),
	}

	if entry.Check != nil {
		check := engine.Check{
			Kind:    engine.CheckKind(entry.Check.Kind),
			Path:    entry.Check.Path,
			Command: entry.Check.Command,
			Service: entry.Check.Service,
			Sudo:    entry.Check.Sudo,
		}
		switch check.Kind {
		case engine.CheckPath:
			if check.Path == "" {
				return op, fmt.Errorf("path check requires a path")
			}
		case engine.CheckCommand:
			if check.Command == "" {
				return op, fmt.Errorf("command check requires a command")
			}
		case engine.CheckService:
			if check.Service == "" {
				return op, fmt.Errorf("service check requires a unit name")
			}
		}
		op.Check = &check
	}

	op.Action = engine.Action{
		Kind:        engine.ActionKind(entry.Action.Kind),
		Command:     entry.Action.Command,
		Sudo:        entry.Action.Sudo,
		Source:      entry.Action.Source,
		Content:     entry.Action.Content,
		Destination: entry.Action.Destination,
		Mode:        entry.Action.Mode,
		Owner:       entry.Action.Owner,
		Group:       entry.Action.Group,
	}
	switch op.Action.Kind {
	case engine.ActionCommand:
		if op.Action.Command == "" {
			return op, fmt.Errorf("command action requires a command")
		}
	case engine.ActionCopy:
		if op.Action.Source == "" || op.Action.Destination == "" {
			return op, fmt.Errorf("copy action requires a source and a destination")
		}
	case engine.ActionTemplate:
		if op.Action.Content == "" || op.Action.Destination == "" {
			return op, fmt.Errorf("template action requires content and a destination")
		}
	}

	if entry.Timeout != "" {
		timeout, err := time.ParseDuration(entry.Timeout)
		if err != nil {
			return op, fmt.Errorf("invalid timeout %q: %w", entry.Timeout, err)
		}
		if timeout <= 0 {
			return op, fmt.Errorf("timeout must be positive, got %q", entry.Timeout)
		}
		op.Timeout = timeout
	}

	return op, nil
}
