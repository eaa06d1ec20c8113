/*
Copyright © 2025 3 Leaps <info@3leaps.net>
*/
package ops

import (
	"fmt"
	"sort"
	"strings"
)

// TaxonomyValidator validates command taxonomy consistency and correctness
type TaxonomyValidator struct {
	coreCommands      map[string]CommandClassification
	allowedCategories map[CommandGroup][]CommandCategory
}

// CommandClassification represents the expected classification for a command
type CommandClassification struct {
	Group    CommandGroup
	Category CommandCategory
	Mutates  bool
}

// ErrorType represents different types of validation errors
type ErrorType int

const (
	ErrorTypeCoreCommand ErrorType = iota
	ErrorTypeExtensionWarning
	ErrorTypeTaxonomyConsistency
)

// ErrorSeverity represents the severity of validation errors
type ErrorSeverity int

const (
	SeverityError ErrorSeverity = iota
	SeverityWarning
)

// ValidationError represents a taxonomy validation error
type ValidationError struct {
	Type     ErrorType
	Severity ErrorSeverity
	Command  string
	Message  string
}

// Error implements the error interface
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.severityString(), e.Command, e.Message)
}

func (e ValidationError) severityString() string {
	switch e.Severity {
	case SeverityError:
		return "ERROR"
	case SeverityWarning:
		return "WARNING"
	default:
		return "UNKNOWN"
	}
}

// NewTaxonomyValidator creates a validator for the fwto command set
func NewTaxonomyValidator() *TaxonomyValidator {
	return &TaxonomyValidator{
		coreCommands:      getDefaultCoreCommands(),
		allowedCategories: getAllowedCategories(),
	}
}

// Validate checks core commands, group/category pairs and extensions.
// Results are ordered by command name.
func (v *TaxonomyValidator) Validate(registry *Registry) []ValidationError {
	var errors []ValidationError
	errors = append(errors, v.validateCoreCommands(registry)...)
	errors = append(errors, v.validateTaxonomyConsistency(registry)...)
	errors = append(errors, v.validateExtensionCommands(registry)...)
	sort.SliceStable(errors, func(i, j int) bool { return errors[i].Command < errors[j].Command })
	return errors
}

func (v *TaxonomyValidator) validateCoreCommands(registry *Registry) []ValidationError {
	var errors []ValidationError

	for commandName, expected := range v.coreCommands {
		cmd, exists := registry.GetCommand(commandName)
		if !exists {
			errors = append(errors, ValidationError{
				Type:     ErrorTypeCoreCommand,
				Severity: SeverityError,
				Command:  commandName,
				Message:  "Core command is not registered",
			})
			continue
		}

		if cmd.Group != expected.Group {
			errors = append(errors, ValidationError{
				Type:     ErrorTypeCoreCommand,
				Severity: SeverityError,
				Command:  commandName,
				Message:  fmt.Sprintf("Incorrect group: expected %s, got %s", expected.Group, cmd.Group),
			})
		}
		if cmd.Category != expected.Category {
			errors = append(errors, ValidationError{
				Type:     ErrorTypeCoreCommand,
				Severity: SeverityError,
				Command:  commandName,
				Message:  fmt.Sprintf("Incorrect category: expected %s, got %s", expected.Category, cmd.Category),
			})
		}
		if cmd.Mutates != expected.Mutates {
			errors = append(errors, ValidationError{
				Type:     ErrorTypeCoreCommand,
				Severity: SeverityError,
				Command:  commandName,
				Message:  fmt.Sprintf("Incorrect mutation flag: expected %t", expected.Mutates),
			})
		}
	}

	return errors
}

func (v *TaxonomyValidator) validateTaxonomyConsistency(registry *Registry) []ValidationError {
	var errors []ValidationError

	for name, cmd := range registry.GetAllCommands() {
		allowed, exists := v.allowedCategories[cmd.Group]
		if !exists {
			errors = append(errors, ValidationError{
				Type:     ErrorTypeTaxonomyConsistency,
				Severity: SeverityError,
				Command:  name,
				Message:  fmt.Sprintf("Uses invalid group: %s", cmd.Group),
			})
			continue
		}
		if !containsCategory(allowed, cmd.Category) {
			errors = append(errors, ValidationError{
				Type:     ErrorTypeTaxonomyConsistency,
				Severity: SeverityError,
				Command:  name,
				Message:  fmt.Sprintf("Category %s not allowed for group %s", cmd.Category, cmd.Group),
			})
		}
	}

	return errors
}

// validateExtensionCommands checks for unexpected commands (warnings only)
func (v *TaxonomyValidator) validateExtensionCommands(registry *Registry) []ValidationError {
	var errors []ValidationError

	for name := range registry.GetAllCommands() {
		if _, isCore := v.coreCommands[name]; !isCore {
			errors = append(errors, ValidationError{
				Type:     ErrorTypeExtensionWarning,
				Severity: SeverityWarning,
				Command:  name,
				Message:  "Extension command detected - ensure proper documentation",
			})
		}
	}

	return errors
}

func containsCategory(list []CommandCategory, c CommandCategory) bool {
	for _, allowed := range list {
		if allowed == c {
			return true
		}
	}
	return false
}

// Default configuration

func getDefaultCoreCommands() map[string]CommandClassification {
	return map[string]CommandClassification{
		"ovrd":    {Group: GroupOverride, Category: CategoryManifest, Mutates: true},
		"cbup":    {Group: GroupOverride, Category: CategoryReconciliation, Mutates: true},
		"view":    {Group: GroupOverride, Category: CategoryReview},
		"config":  {Group: GroupSupport, Category: CategoryConfiguration},
		"version": {Group: GroupSupport, Category: CategoryInformation},
	}
}

func getAllowedCategories() map[CommandGroup][]CommandCategory {
	return map[CommandGroup][]CommandCategory{
		GroupOverride: {CategoryManifest, CategoryReconciliation, CategoryReview},
		GroupSupport:  {CategoryConfiguration, CategoryInformation},
	}
}

// FilterErrorsBySeverity returns errors of a specific severity
func FilterErrorsBySeverity(errors []ValidationError, severity ErrorSeverity) []ValidationError {
	var filtered []ValidationError
	for _, err := range errors {
		if err.Severity == severity {
			filtered = append(filtered, err)
		}
	}
	return filtered
}

// FormatErrors formats validation errors for display
func FormatErrors(errors []ValidationError) string {
	if len(errors) == 0 {
		return "No validation errors found"
	}

	var builder strings.Builder
	fmt.Fprintf(&builder, "Found %d validation errors:\n", len(errors))
	for i, err := range errors {
		fmt.Fprintf(&builder, "%d. %s\n", i+1, err.Error())
	}
	return builder.String()
}
