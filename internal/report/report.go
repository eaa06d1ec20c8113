// Package report summarizes what a reconciliation run did.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Action names recorded for each handled change.
const (
	ActionOverride = "override"
	ActionRefresh  = "refresh"
	ActionRemove   = "remove"
	ActionReplace  = "replace"
	ActionSnapshot = "snapshot"
	ActionSkip     = "skip"
)

// Action is one decision taken for one change event.
type Action struct {
	Layer      string `json:"layer" yaml:"layer" toml:"layer"`
	Status     string `json:"status" yaml:"status" toml:"status"`
	Path       string `json:"path" yaml:"path" toml:"path"`
	NewPath    string `json:"new_path,omitempty" yaml:"new_path,omitempty" toml:"new_path,omitempty"`
	Similarity int    `json:"similarity,omitempty" yaml:"similarity,omitempty" toml:"similarity,omitempty"`
	Action     string `json:"action" yaml:"action" toml:"action"`
	Detail     string `json:"detail,omitempty" yaml:"detail,omitempty" toml:"detail,omitempty"`
}

// Summary is the record of one run.
type Summary struct {
	Range     string   `json:"range" yaml:"range" toml:"range"`
	Pure      bool     `json:"pure" yaml:"pure" toml:"pure"`
	Threshold int      `json:"threshold" yaml:"threshold" toml:"threshold"`
	Actions   []Action `json:"actions" yaml:"actions" toml:"actions"`
	// Skipped lists buckets whose classification failed.
	Skipped  []string `json:"skipped,omitempty" yaml:"skipped,omitempty" toml:"skipped,omitempty"`
	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty" toml:"warnings,omitempty"`
}

// Add appends an action.
func (s *Summary) Add(a Action) {
	s.Actions = append(s.Actions, a)
}

// Count returns how many actions of the given kind were recorded.
func (s *Summary) Count(action string) int {
	n := 0
	for _, a := range s.Actions {
		if a.Action == action {
			n++
		}
	}
	return n
}

// FormatFromPath picks a format from a file extension, defaulting to text.
func FormatFromPath(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	case ".toml":
		return "toml"
	default:
		return "text"
	}
}

// Write renders the summary as text, yaml, json or toml.
func (s *Summary) Write(w io.Writer, format string) error {
	switch strings.ToLower(format) {
	case "", "text":
		return s.writeText(w)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case "toml":
		return toml.NewEncoder(w).Encode(s)
	default:
		return fmt.Errorf("unsupported report format %q (use text, yaml, json or toml)", format)
	}
}

func (s *Summary) writeText(w io.Writer) error {
	mode := "normal"
	if s.Pure {
		mode = "pure"
	}
	if _, err := fmt.Fprintf(w, "Range: %s  Mode: %s  Threshold: %d%%\n\n", s.Range, mode, s.Threshold); err != nil {
		return err
	}

	header := []string{"LAYER", "STATUS", "PATH", "ACTION"}
	rows := [][]string{header}
	for _, a := range s.Actions {
		p := a.Path
		if a.NewPath != "" && a.NewPath != a.Path {
			p = a.Path + " -> " + a.NewPath
		}
		status := a.Status
		if a.Similarity > 0 {
			status += " " + strconv.Itoa(a.Similarity) + "%"
		}
		action := a.Action
		if a.Detail != "" {
			action += " (" + a.Detail + ")"
		}
		rows = append(rows, []string{a.Layer, status, p, action})
	}

	widths := make([]int, len(header))
	for _, row := range rows {
		for i, cell := range row {
			if cw := runewidth.StringWidth(cell); cw > widths[i] {
				widths[i] = cw
			}
		}
	}
	for _, row := range rows {
		var b strings.Builder
		for i, cell := range row {
			if i == len(row)-1 {
				b.WriteString(cell)
				break
			}
			b.WriteString(runewidth.FillRight(cell, widths[i]+2))
		}
		if _, err := fmt.Fprintln(w, strings.TrimRight(b.String(), " ")); err != nil {
			return err
		}
	}

	if len(s.Actions) == 0 {
		if _, err := fmt.Fprintln(w, "(no changes touched overrides)"); err != nil {
			return err
		}
	}
	for _, sk := range s.Skipped {
		if _, err := fmt.Fprintf(w, "skipped bucket: %s\n", sk); err != nil {
			return err
		}
	}
	for _, warn := range s.Warnings {
		if _, err := fmt.Fprintf(w, "warning: %s\n", warn); err != nil {
			return err
		}
	}
	return nil
}
