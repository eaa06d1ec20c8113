/*
Copyright © 2025 3 Leaps <info@3leaps.net>
*/
package cmd

import (
	"fmt"

	"github.com/fulmenhq/fwto/internal/ops"
	"github.com/fulmenhq/fwto/pkg/config"
	"github.com/spf13/cobra"
)

var configCmd = newConfigCommand()

func init() {
	rootCmd.AddCommand(configCmd)

	// Register command in ops registry with taxonomy
	if err := ops.RegisterCommandWithTaxonomy("config", ops.GroupSupport, ops.CategoryConfiguration, false, configCmd, "Show or select the active configuration"); err != nil {
		panic(fmt.Sprintf("Failed to register config command: %v", err))
	}
}

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or select the active configuration",
		Long: `Configurations live in $FWTO_HOME/config (default ~/.fwto/config) as
YAML, JSON or TOML files. 'config use' remembers one of them so later commands
pick it up without --config.`,
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}
	show.Flags().String("format", "yaml", "Output format: yaml, json or toml")

	use := &cobra.Command{
		Use:   "use <name|path>",
		Short: "Select the configuration used when --config is absent",
		Args:  cobra.ExactArgs(1),
		RunE:  runConfigUse,
	}

	cmd.AddCommand(show, use)
	return cmd
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")
	name, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(config.LoadOptions{ConfigFile: name, Flags: cmd.Flags()})
	if err != nil {
		return err
	}
	data, err := cfg.Marshal(format)
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	out := cmd.OutOrStdout()
	if cfg.Source != "" && format != "json" {
		_, _ = fmt.Fprintf(out, "# source: %s\n", cfg.Source)
	}
	_, err = out.Write(data)
	return err
}

func runConfigUse(cmd *cobra.Command, args []string) error {
	path, err := config.SetDefaultSelection(args[0])
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "using configuration %s\n", path)
	return nil
}
