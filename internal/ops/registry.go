/*
Copyright © 2025 3 Leaps <info@3leaps.net>
*/
package ops

import (
	"fmt"
	"sort"
	"sync"

	"github.com/spf13/cobra"
)

// CommandGroup represents the operational classification of commands
type CommandGroup string

const (
	GroupOverride CommandGroup = "override" // ovrd, cbup, view
	GroupSupport  CommandGroup = "support"  // config, version
)

// CommandCategory refines a group
type CommandCategory string

const (
	CategoryManifest       CommandCategory = "manifest"
	CategoryReconciliation CommandCategory = "reconciliation"
	CategoryReview         CommandCategory = "review"
	CategoryConfiguration  CommandCategory = "configuration"
	CategoryInformation    CommandCategory = "information"
)

// CommandRegistration represents a registered command with its classification
type CommandRegistration struct {
	Name        string
	Group       CommandGroup
	Category    CommandCategory
	Command     *cobra.Command
	Description string
	// Mutates reports whether the command may change the workspace.
	Mutates bool
}

// Registry manages command classifications and registrations
type Registry struct {
	mu         sync.RWMutex
	commands   map[string]*CommandRegistration
	groupIndex map[CommandGroup][]*CommandRegistration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		commands:   make(map[string]*CommandRegistration),
		groupIndex: make(map[CommandGroup][]*CommandRegistration),
	}
}

// Global registry instance
var globalRegistry = NewRegistry()

// GetRegistry returns the global command registry
func GetRegistry() *Registry {
	return globalRegistry
}

// RegisterCommand registers a command with the global registry
func RegisterCommand(reg CommandRegistration) error {
	return GetRegistry().Register(reg)
}

// RegisterCommandWithTaxonomy registers cmd under name with its group,
// category and mutation flag.
func RegisterCommandWithTaxonomy(name string, group CommandGroup, category CommandCategory, mutates bool, cmd *cobra.Command, description string) error {
	return RegisterCommand(CommandRegistration{
		Name:        name,
		Group:       group,
		Category:    category,
		Command:     cmd,
		Description: description,
		Mutates:     mutates,
	})
}

// Register adds a command to the registry
func (r *Registry) Register(reg CommandRegistration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if reg.Name == "" {
		return fmt.Errorf("command registration without a name")
	}
	if _, exists := r.commands[reg.Name]; exists {
		return fmt.Errorf("command %s already registered", reg.Name)
	}

	registration := reg
	r.commands[reg.Name] = &registration
	r.groupIndex[reg.Group] = append(r.groupIndex[reg.Group], &registration)
	return nil
}

// GetCommand returns a registered command by name
func (r *Registry) GetCommand(name string) (*CommandRegistration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, exists := r.commands[name]
	return cmd, exists
}

// GetCommandsByGroup returns the commands of a group sorted by name
func (r *Registry) GetCommandsByGroup(group CommandGroup) []*CommandRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := append([]*CommandRegistration(nil), r.groupIndex[group]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetAllCommands returns all registered commands
func (r *Registry) GetAllCommands() map[string]*CommandRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*CommandRegistration, len(r.commands))
	for k, v := range r.commands {
		result[k] = v
	}
	return result
}

// ListGroups returns all command groups and their command counts
func (r *Registry) ListGroups() map[CommandGroup]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[CommandGroup]int)
	for group, commands := range r.groupIndex {
		result[group] = len(commands)
	}
	return result
}
