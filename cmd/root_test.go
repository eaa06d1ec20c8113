package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/fulmenhq/fwto/internal/manifest"
	"github.com/fulmenhq/fwto/internal/ops"
	"github.com/fulmenhq/fwto/internal/override"
	"github.com/fulmenhq/fwto/internal/vcs"
	"github.com/fulmenhq/fwto/pkg/config"
	"github.com/fulmenhq/fwto/pkg/exitcode"
	"github.com/spf13/cobra"
)

func loggerCommand(level string, json bool) *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Flags().String("log-level", level, "")
	cmd.Flags().Bool("json", json, "")
	cmd.Flags().Bool("no-color", true, "")
	cmd.SetErr(&bytes.Buffer{})
	return cmd
}

func TestInitializeLogger(t *testing.T) {
	for _, level := range []string{"trace", "debug", "info", "warn", "error"} {
		if err := initializeLogger(loggerCommand(level, false)); err != nil {
			t.Errorf("initializeLogger(%s) failed: %v", level, err)
		}
	}
}

func TestInitializeLogger_InvalidLevel(t *testing.T) {
	cmd := loggerCommand("loud", false)
	var buf bytes.Buffer
	cmd.SetErr(&buf)

	// Should default to info level and say so
	if err := initializeLogger(cmd); err != nil {
		t.Fatalf("initializeLogger() failed: %v", err)
	}
	if !strings.Contains(buf.String(), "falling back to info level") {
		t.Errorf("expected a fallback warning, got %q", buf.String())
	}
}

func TestInitializeLogger_JSONOutput(t *testing.T) {
	if err := initializeLogger(loggerCommand("info", true)); err != nil {
		t.Fatalf("initializeLogger() failed: %v", err)
	}
}

func TestRootCmd_Help(t *testing.T) {
	cmd := newRootCommand()
	registerSubcommands(cmd)

	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs([]string{"--help"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("--help failed: %v", err)
	}

	output := buf.String()
	for _, want := range []string{"fwto keeps file overrides", "Override Commands:", "cbup", "Support Commands:", "version"} {
		if !strings.Contains(output, want) {
			t.Errorf("help output should contain %q", want)
		}
	}
}

func TestRootCmd_VersionFlag(t *testing.T) {
	cmd := newRootCommand()
	registerSubcommands(cmd)

	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs([]string{"--version"})
	if err := cmd.Execute(); err != nil {
		t.Errorf("--version failed: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "fwto ") {
		t.Errorf("version output should start with 'fwto', got %q", buf.String())
	}
}

func TestRootCmd_InvalidFlag(t *testing.T) {
	cmd := newRootCommand()
	registerSubcommands(cmd)

	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs([]string{"--invalid-flag"})
	if err := cmd.Execute(); err == nil {
		t.Error("Invalid flag should return an error")
	}
}

func TestRegisteredTaxonomyIsValid(t *testing.T) {
	errs := ops.NewTaxonomyValidator().Validate(ops.GetRegistry())
	if len(errs) != 0 {
		t.Fatalf("command taxonomy:\n%s", ops.FormatErrors(errs))
	}
}

func TestEveryCommandIsRegistered(t *testing.T) {
	registry := ops.GetRegistry()
	for _, c := range rootCmd.Commands() {
		if c.Name() == "help" || c.Name() == "completion" {
			continue
		}
		reg, ok := registry.GetCommand(c.Name())
		if !ok {
			t.Errorf("command %s has no taxonomy registration", c.Name())
			continue
		}
		if reg.Command != c {
			t.Errorf("registration of %s points at a different command", c.Name())
		}
	}
	if got := len(registry.GetAllCommands()); got != len(rootCmd.Commands()) {
		t.Errorf("registry holds %d commands, root has %d", got, len(rootCmd.Commands()))
	}
}

func TestExitCodeFor(t *testing.T) {
	var exitErr *exec.ExitError
	_ = errors.As(exec.Command("false").Run(), &exitErr)

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitcode.Success},
		{"usage", fmt.Errorf("%w: bad", errUsage), exitcode.UsageError},
		{"config", fmt.Errorf("%w: dst is not set", config.ErrInvalid), exitcode.ConfigError},
		{"no terminator", fmt.Errorf("Oem.cif: %w", manifest.ErrNoTerminator), exitcode.ValidationError},
		{"unsupported", fmt.Errorf("x.sdl: %w", override.ErrUnsupported), exitcode.ValidationError},
		{"not a file", fmt.Errorf("x.c: %w", override.ErrNotRegularFile), exitcode.ValidationError},
		{"revision", fmt.Errorf("HEAD~1: %w", vcs.ErrNotFound), exitcode.VCSError},
		{"filesystem", fmt.Errorf("copy: %w", &os.PathError{Op: "open", Path: "x", Err: os.ErrPermission}), exitcode.FileSystemError},
		{"other", errors.New("boom"), exitcode.GeneralError},
	}
	if exitErr != nil {
		tests = append(tests, struct {
			name string
			err  error
			want int
		}{"git exit", fmt.Errorf("git show: %w", exitErr), exitcode.VCSError})
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCodeFor(tt.err); got != tt.want {
				t.Errorf("exitCodeFor(%v) = %d, expected %d", tt.err, got, tt.want)
			}
		})
	}
}
