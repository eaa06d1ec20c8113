/*
Copyright © 2025 3 Leaps <info@3leaps.net>
*/
package cmd

import (
	"github.com/fulmenhq/fwto/internal/manifest"
	"github.com/fulmenhq/fwto/internal/override"
	"github.com/fulmenhq/fwto/pkg/config"
	"github.com/fulmenhq/fwto/pkg/logger"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"
)

// workspace bundles the resolved configuration with the filesystem and
// editor every override command works through.
type workspace struct {
	cfg    *config.Config
	fs     billy.Filesystem
	editor *override.Editor
}

// openWorkspace loads and resolves the configuration for cmd. requireOverride
// demands a manifest and an override directory.
func openWorkspace(cmd *cobra.Command, requireOverride bool) (*workspace, error) {
	name, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(config.LoadOptions{ConfigFile: name, Flags: cmd.Flags()})
	if err != nil {
		return nil, err
	}
	if err := cfg.Resolve(requireOverride); err != nil {
		return nil, err
	}
	if cfg.Source != "" {
		logger.Debug("configuration loaded", logger.Path("source", cfg.Source))
	}

	fs := osfs.New(cfg.Workspace, osfs.WithBoundOS())
	return &workspace{
		cfg: cfg,
		fs:  fs,
		editor: &override.Editor{
			Manifest: &manifest.File{FS: fs, Path: cfg.Manifest, Terminator: cfg.Terminator},
			Materializer: &override.Materializer{
				FS:        fs,
				Dst:       cfg.Dst,
				Org:       cfg.Org,
				Secondary: cfg.Secondary,
			},
			Unsupported: cfg.Unsupported,
		},
	}, nil
}
