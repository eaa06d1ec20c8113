/*
Copyright © 2025 3 Leaps <info@3leaps.net>
*/
package cmd

import (
	"fmt"

	"github.com/fulmenhq/fwto/internal/ops"
	"github.com/fulmenhq/fwto/internal/override"
	"github.com/fulmenhq/fwto/pkg/safeio"
	"github.com/spf13/cobra"
)

var ovrdCmd = newOvrdCommand()

func init() {
	rootCmd.AddCommand(ovrdCmd)

	// Register command in ops registry with taxonomy
	if err := ops.RegisterCommandWithTaxonomy("ovrd", ops.GroupOverride, ops.CategoryManifest, true, ovrdCmd, "Create, refresh or remove the override of a file"); err != nil {
		panic(fmt.Sprintf("Failed to register ovrd command: %v", err))
	}
}

func newOvrdCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ovrd",
		Short: "Create, refresh or remove the override of a file",
		Long: `Override a source file: copy it into the override directory, keep an
original-baseline copy and declare it in the manifest. Running it again on an
overridden file only refreshes the baseline. With --clean the declaration and
both copies are removed.

Manifests and build description files (*.cif, *.sdl by default) cannot be
overridden.`,
		Args: cobra.NoArgs,
		RunE: runOvrd,
	}
	cmd.Flags().String("src", "", "Source file to override, relative to the workspace")
	cmd.Flags().Bool("clean", false, "Remove the override instead of creating it")
	cmd.Flags().Bool("skip-org", false, "Do not keep an original-baseline copy")
	_ = cmd.MarkFlagRequired("src")
	return cmd
}

func runOvrd(cmd *cobra.Command, _ []string) error {
	src, _ := cmd.Flags().GetString("src")
	clean, _ := cmd.Flags().GetBool("clean")
	skipOrg, _ := cmd.Flags().GetBool("skip-org")

	ws, err := openWorkspace(cmd, true)
	if err != nil {
		return err
	}

	rel, err := safeio.RelativeTo(ws.cfg.Workspace, src)
	if err != nil || rel == "." {
		return fmt.Errorf("%w: source %q must be a file inside the workspace", errUsage, src)
	}
	if !ws.editor.Supported(rel) {
		return fmt.Errorf("%s: %w", rel, override.ErrUnsupported)
	}

	rec := override.Record{Src: rel, SkipOriginal: skipOrg}
	out := cmd.OutOrStdout()

	if clean {
		removed, err := ws.editor.Remove(rec)
		if err != nil {
			return err
		}
		if removed {
			_, _ = fmt.Fprintf(out, "override removed: %s\n", rel)
		} else {
			_, _ = fmt.Fprintf(out, "no override declared for %s\n", rel)
		}
		return nil
	}

	created, err := ws.editor.Override(rec)
	if err != nil {
		return err
	}
	if created {
		_, _ = fmt.Fprintf(out, "override created: %s\n", rel)
	} else {
		_, _ = fmt.Fprintf(out, "override refreshed: %s\n", rel)
	}
	return nil
}
