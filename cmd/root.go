/*
Copyright © 2025 3 Leaps <info@3leaps.net>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"os/signal"

	"github.com/fulmenhq/fwto/internal/manifest"
	"github.com/fulmenhq/fwto/internal/ops"
	"github.com/fulmenhq/fwto/internal/override"
	"github.com/fulmenhq/fwto/internal/vcs"
	"github.com/fulmenhq/fwto/pkg/buildinfo"
	"github.com/fulmenhq/fwto/pkg/config"
	"github.com/fulmenhq/fwto/pkg/exitcode"
	"github.com/fulmenhq/fwto/pkg/logger"
	git "github.com/go-git/go-git/v5"
	"github.com/spf13/cobra"
)

// errUsage marks invalid command-line input detected after flag parsing.
var errUsage = errors.New("invalid usage")

// newRootCommand creates a fresh root command instance.
// This factory pattern allows tests to create isolated command trees without shared state.
func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fwto",
		Short: "Firmware override toolkit",
		Long: `fwto keeps file overrides of a vendor firmware tree consistent with upstream.

Overrides are declared in a component manifest and copied into an override
directory. When upstream moves on, cbup migrates every override touched by the
change and leaves an audit trail under the output directory.

Examples:
   fwto ovrd --src Pkg/Board/Board.c     # Override a file
   fwto ovrd --src Pkg/Board/Board.c --clean
   fwto cbup --commit HEAD               # Reconcile overrides with the last commit
   fwto view --old v1.2 --new v1.3       # Lay out old/new trees for review
   fwto config use board-x               # Remember a configuration`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initializeLogger(cmd)
		},
	}

	pf := cmd.PersistentFlags()
	pf.String("config", "", "Configuration name in the fwto home or path to a config file")
	pf.String("workspace", "", "Workspace root (default current directory)")
	pf.String("manifest", "", "Component manifest that declares overrides")
	pf.String("dst", "", "Override directory consumed by the build")
	pf.String("org", "", "Directory keeping original-baseline copies")
	pf.String("secondary", "", "Vendor override layer directory")
	pf.String("output-dir", "", "Audit and review output directory (default 0.fwto)")
	pf.String("log-level", "info", "Set log level (trace|debug|info|warn|error)")
	pf.Bool("json", false, "Output logs in JSON format")
	pf.Bool("no-color", false, "Disable colored output")

	cmd.Version = buildinfo.Version()
	cmd.SetVersionTemplate("fwto {{.Version}}\n")

	cmd.SetHelpFunc(func(cmd *cobra.Command, _ []string) {
		if cmd.HasParent() {
			cmd.Print(cmd.UsageString())
			return
		}
		reg := ops.GetRegistry()
		cmd.Println(cmd.Long)
		cmd.Println()
		cmd.Println("Override Commands:")
		for _, c := range reg.GetCommandsByGroup(ops.GroupOverride) {
			cmd.Printf("  %-12s %s\n", c.Name, c.Description)
		}
		cmd.Println()
		cmd.Println("Support Commands:")
		for _, c := range reg.GetCommandsByGroup(ops.GroupSupport) {
			cmd.Printf("  %-12s %s\n", c.Name, c.Description)
		}
		cmd.Println()
		cmd.Println("Flags:")
		cmd.Print(cmd.UsageString())
	})

	return cmd
}

// registerSubcommands adds a fresh instance of every subcommand to cmd.
// Production wiring happens in each command's init(); tests call this to build
// isolated command trees.
func registerSubcommands(cmd *cobra.Command) {
	cmd.AddCommand(newOvrdCommand())
	cmd.AddCommand(newCbupCommand())
	cmd.AddCommand(newViewCommand())
	cmd.AddCommand(newConfigCommand())
	cmd.AddCommand(newVersionCommand())
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = newRootCommand()

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Error("Command execution failed", logger.Err(err))
		stop()
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps an error returned by a command to a process exit code.
func exitCodeFor(err error) int {
	var exitErr *exec.ExitError
	var pathErr *fs.PathError
	switch {
	case err == nil:
		return exitcode.Success
	case errors.Is(err, errUsage):
		return exitcode.UsageError
	case errors.Is(err, config.ErrInvalid):
		return exitcode.ConfigError
	case errors.Is(err, manifest.ErrNoTerminator),
		errors.Is(err, override.ErrUnsupported),
		errors.Is(err, override.ErrNotRegularFile):
		return exitcode.ValidationError
	case errors.Is(err, vcs.ErrNotFound),
		errors.Is(err, git.ErrRepositoryNotExists),
		errors.As(err, &exitErr):
		return exitcode.VCSError
	case errors.As(err, &pathErr):
		return exitcode.FileSystemError
	default:
		return exitcode.GeneralError
	}
}

// initializeLogger sets up the logger based on command flags
func initializeLogger(cmd *cobra.Command) error {
	logLevelStr, _ := cmd.Flags().GetString("log-level")
	jsonLogs, _ := cmd.Flags().GetBool("json")
	noColor, _ := cmd.Flags().GetBool("no-color")

	level, levelErr := logger.ParseLevel(logLevelStr)

	cfg := logger.Config{
		Level:     level,
		UseColor:  !noColor,
		JSON:      jsonLogs,
		Component: "fwto",
		Output:    cmd.ErrOrStderr(),
	}
	if err := logger.Initialize(cfg); err != nil {
		return fmt.Errorf("%w: failed to initialize logger: %v", config.ErrInvalid, err)
	}
	if levelErr != nil {
		logger.Warn("falling back to info level", logger.Err(levelErr))
	}
	return nil
}

// contextOf returns the command context, which is unset when a handler is
// called directly.
func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
