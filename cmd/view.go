/*
Copyright © 2025 3 Leaps <info@3leaps.net>
*/
package cmd

import (
	"fmt"
	"path"

	"github.com/fulmenhq/fwto/internal/ops"
	"github.com/fulmenhq/fwto/internal/review"
	"github.com/fulmenhq/fwto/internal/vcs"
	"github.com/spf13/cobra"
)

var viewCmd = newViewCommand()

func init() {
	rootCmd.AddCommand(viewCmd)

	// Register command in ops registry with taxonomy
	if err := ops.RegisterCommandWithTaxonomy("view", ops.GroupOverride, ops.CategoryReview, false, viewCmd, "Extract old/new trees of an upstream change"); err != nil {
		panic(fmt.Sprintf("Failed to register view command: %v", err))
	}
}

func newViewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view",
		Short: "Extract old/new trees of an upstream change",
		Long: `Write the before and after version of every file a change touched to
<output-dir>/view/old and <output-dir>/view/new, keyed by source path, so the
change can be reviewed with any directory diff tool. Override copies and
vendor layer files are paired with the source they replace.

Use --commit for a single commit or --old and --new for a range.`,
		Args: cobra.NoArgs,
		RunE: runView,
	}
	cmd.Flags().String("commit", "", "Commit to review against its parent")
	cmd.Flags().String("old", "", "Old end of a range")
	cmd.Flags().String("new", "", "New end of a range")
	cmd.MarkFlagsMutuallyExclusive("commit", "new")
	cmd.MarkFlagsRequiredTogether("old", "new")
	return cmd
}

func runView(cmd *cobra.Command, _ []string) error {
	commit, _ := cmd.Flags().GetString("commit")
	old, _ := cmd.Flags().GetString("old")
	newRev, _ := cmd.Flags().GetString("new")

	rng := vcs.Range{Old: old, New: newRev}
	if commit != "" {
		rng = vcs.Range{New: commit}
	}
	if rng.New == "" || (commit != "" && old != "") {
		return fmt.Errorf("%w: use either --commit or --old with --new", errUsage)
	}

	ws, err := openWorkspace(cmd, true)
	if err != nil {
		return err
	}
	g, err := vcs.OpenGit(ws.cfg.Workspace)
	if err != nil {
		return err
	}

	x := &review.Extractor{
		VCS:       g,
		FS:        ws.fs,
		Dst:       ws.cfg.Dst,
		Org:       ws.cfg.Org,
		Secondary: ws.cfg.Secondary,
		OutputDir: ws.cfg.OutputDir,
	}
	res, err := x.Review(contextOf(cmd), rng)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "%d files extracted to %s (%d not present at their revision)\n",
		res.Extracted, path.Join(ws.cfg.OutputDir, "view"), res.Missing)
	for _, w := range res.Warnings {
		_, _ = fmt.Fprintf(out, "warning: %s\n", w)
	}
	return nil
}
