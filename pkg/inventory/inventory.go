// Package inventory loads host inventories from YAML files. An inventory
// groups hosts into environments (staging, production) and carries the
// variable bindings attached to each environment and group.
package inventory

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/convergeops/converge/pkg/engine"
)

// HostEntry is a single host in the inventory file.
type HostEntry struct {
	ID      string            `yaml:"id" validate:"required"`
	Address string            `yaml:"address" validate:"required"`
	Port    int               `yaml:"port" validate:"gte=0,lte=65535"`
	User    string            `yaml:"user"`
	Groups  []string          `yaml:"groups"`
	Vars    map[string]string `yaml:"vars"`
}

// GroupEntry carries the variable bindings shared by a host group.
type GroupEntry struct {
	Vars map[string]string `yaml:"vars"`
}

// Environment is a named set of hosts with environment-wide and per-group
// bindings.
type Environment struct {
	Hosts  []HostEntry           `yaml:"hosts" validate:"required,min=1,dive"`
	Groups map[string]GroupEntry `yaml:"groups"`
	Vars   map[string]string     `yaml:"vars"`
}

// File is the top-level structure of an inventory YAML file.
type File struct {
	Environments map[string]Environment `yaml:"environments" validate:"required,min=1"`
}

// Inventory implements engine.Inventory over a parsed inventory file.
type Inventory struct {
	file *File
}

// Load reads and validates an inventory from a YAML file.
func Load(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory file: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates inventory YAML.
func Parse(data []byte) (*Inventory, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse inventory YAML: %w", err)
	}

	if err := validator.New().Struct(&file); err != nil {
		return nil, fmt.Errorf("invalid inventory: %w", err)
	}

	// Hosts must be unique per environment, and every group a host names
	// should resolve against the environment's group table or stay a plain
	// label with no bindings.
	for envName, env := range file.Environments {
		seen := make(map[string]bool, len(env.Hosts))
		for _, h := range env.Hosts {
			if seen[h.ID] {
				return nil, fmt.Errorf("invalid inventory: duplicate host %q in environment %q", h.ID, envName)
			}
			seen[h.ID] = true
		}
	}

	return &Inventory{file: &file}, nil
}

// Environments returns the environment names in the inventory.
func (inv *Inventory) Environments() []string {
	names := make([]string, 0, len(inv.file.Environments))
	for name := range inv.file.Environments {
		names = append(names, name)
	}
	return names
}

// Hosts returns the hosts of an environment, optionally filtered to a group.
// An empty group selects every host in the environment.
func (inv *Inventory) Hosts(environment, group string) ([]engine.Host, error) {
	env, ok := inv.file.Environments[environment]
	if !ok {
		return nil, fmt.Errorf("environment %q not found in inventory", environment)
	}

	hosts := make([]engine.Host, 0, len(env.Hosts))
	for _, entry := range env.Hosts {
		host := engine.Host{
			ID:      entry.ID,
			Address: entry.Address,
			Port:    entry.Port,
			User:    entry.User,
			Groups:  entry.Groups,
			Vars:    entry.Vars,
		}
		if host.Port == 0 {
			host.Port = 22
		}
		if group == "" || host.InGroup(group) {
			hosts = append(hosts, host)
		}
	}
	return hosts, nil
}

// GroupBindings resolves the variable bindings for a group within an
// environment. Environment-wide vars come first, the group's vars override
// them. Host vars are layered on top later by the runner.
func (inv *Inventory) GroupBindings(environment, group string) (engine.Bindings, error) {
	env, ok := inv.file.Environments[environment]
	if !ok {
		return nil, fmt.Errorf("environment %q not found in inventory", environment)
	}

	bindings := make(engine.Bindings, len(env.Vars))
	for k, v := range env.Vars {
		bindings[k] = v
	}
	if group != "" {
		if grp, ok := env.Groups[group]; ok {
			for k, v := range grp.Vars {
				bindings[k] = v
			}
		}
	}
	return bindings, nil
}
