/*
Copyright © 2025 3 Leaps <info@3leaps.net>
*/
package cmd

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/fulmenhq/fwto/internal/ops"
	"github.com/fulmenhq/fwto/internal/reconcile"
	"github.com/fulmenhq/fwto/internal/report"
	"github.com/fulmenhq/fwto/internal/vcs"
	"github.com/fulmenhq/fwto/pkg/safeio"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"
)

var cbupCmd = newCbupCommand()

func init() {
	rootCmd.AddCommand(cbupCmd)

	// Register command in ops registry with taxonomy
	if err := ops.RegisterCommandWithTaxonomy("cbup", ops.GroupOverride, ops.CategoryReconciliation, true, cbupCmd, "Migrate overrides across an upstream change"); err != nil {
		panic(fmt.Sprintf("Failed to register cbup command: %v", err))
	}
}

func newCbupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cbup",
		Short: "Migrate overrides across an upstream change",
		Long: `Classify what an upstream commit (or range) changed and migrate every
override it touches: deleted sources retire their override, modified sources
refresh the baseline, renamed sources move the override. Audit copies are
written below <output-dir>/cbup.

By default the working copy is first hard-reset to --commit and cleaned.
With --pure every touched file without an override becomes a light override
and the commit is reverted afterwards, which extracts the change as overrides.`,
		Args: cobra.NoArgs,
		RunE: runCbup,
	}
	cmd.Flags().String("commit", "", "Upstream commit to reconcile against its parent")
	cmd.Flags().String("old", "", "Compare --commit against this revision instead of its parent")
	cmd.Flags().Bool("pure", false, "Turn every touched file into a light override")
	cmd.Flags().Int("threshold", reconcile.DefaultThreshold, "Rename similarity threshold in percent")
	cmd.Flags().Bool("no-reset", false, "Keep the working copy as it is")
	cmd.Flags().String("report", "", "Write a run report to this file")
	cmd.Flags().String("report-format", "", "Report format: text, yaml, json or toml (default from extension)")
	_ = cmd.MarkFlagRequired("commit")
	return cmd
}

func runCbup(cmd *cobra.Command, _ []string) error {
	commit, _ := cmd.Flags().GetString("commit")
	old, _ := cmd.Flags().GetString("old")
	pure, _ := cmd.Flags().GetBool("pure")
	noReset, _ := cmd.Flags().GetBool("no-reset")
	reportPath, _ := cmd.Flags().GetString("report")
	reportFormat, _ := cmd.Flags().GetString("report-format")

	ws, err := openWorkspace(cmd, true)
	if err != nil {
		return err
	}
	g, err := vcs.OpenGit(ws.cfg.Workspace)
	if err != nil {
		return err
	}

	driver := &reconcile.Driver{
		VCS:       g,
		FS:        ws.fs,
		Editor:    ws.editor,
		OutputDir: ws.cfg.OutputDir,
	}
	summary, runErr := driver.Run(contextOf(cmd), reconcile.Options{
		Range:     vcs.Range{Old: old, New: commit},
		Pure:      pure,
		Threshold: ws.cfg.RenameThreshold,
		Reset:     !noReset,
	})
	if summary != nil {
		if err := summary.Write(cmd.OutOrStdout(), "text"); err != nil {
			return err
		}
		if reportPath != "" {
			if err := writeReport(summary, reportPath, reportFormat); err != nil {
				return err
			}
		}
	}
	return runErr
}

func writeReport(summary *report.Summary, path, format string) error {
	if format == "" {
		format = report.FormatFromPath(path)
	}
	var buf bytes.Buffer
	if err := summary.Write(&buf, format); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve report path %s: %w", path, err)
	}
	fs := osfs.New(filepath.Dir(abs), osfs.WithBoundOS())
	return safeio.WriteFile(fs, filepath.Base(abs), buf.Bytes())
}
