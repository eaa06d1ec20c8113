package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fulmenhq/fwto/pkg/safeio"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ErrInvalid marks configuration problems. Commands map it to the config exit code.
var ErrInvalid = errors.New("invalid configuration")

// Config holds the settings shared by every fwto command. Path fields are
// workspace-relative with forward slashes once Resolve has run.
type Config struct {
	Workspace       string   `mapstructure:"workspace" json:"workspace" yaml:"workspace" toml:"workspace"`
	Manifest        string   `mapstructure:"manifest" json:"manifest" yaml:"manifest" toml:"manifest"`
	Dst             string   `mapstructure:"dst" json:"dst" yaml:"dst" toml:"dst"`
	Org             string   `mapstructure:"org" json:"org,omitempty" yaml:"org,omitempty" toml:"org,omitempty"`
	Secondary       string   `mapstructure:"secondary" json:"secondary,omitempty" yaml:"secondary,omitempty" toml:"secondary,omitempty"`
	Terminator      string   `mapstructure:"terminator" json:"terminator" yaml:"terminator" toml:"terminator"`
	RenameThreshold int      `mapstructure:"rename_threshold" json:"rename_threshold" yaml:"rename_threshold" toml:"rename_threshold"`
	OutputDir       string   `mapstructure:"output_dir" json:"output_dir" yaml:"output_dir" toml:"output_dir"`
	WorkspaceMarker string   `mapstructure:"workspace_marker" json:"workspace_marker" yaml:"workspace_marker" toml:"workspace_marker"`
	Unsupported     []string `mapstructure:"unsupported" json:"unsupported" yaml:"unsupported" toml:"unsupported"`

	// Source is the config file the values came from, empty for defaults only.
	Source string `mapstructure:"-" json:"-" yaml:"-" toml:"-"`
}

var defaultConfig = Config{
	Workspace:       ".",
	Terminator:      "<endComponent>",
	RenameThreshold: 75,
	OutputDir:       "0.fwto",
	WorkspaceMarker: "MdePkg",
	Unsupported:     []string{"**/*.cif", "**/*.sdl"},
}

// Default returns a copy of the built-in configuration.
func Default() Config {
	c := defaultConfig
	c.Unsupported = append([]string(nil), defaultConfig.Unsupported...)
	return c
}

// flagKeys maps persistent flag names to config keys.
var flagKeys = map[string]string{
	"workspace":  "workspace",
	"manifest":   "manifest",
	"dst":        "dst",
	"org":        "org",
	"secondary":  "secondary",
	"threshold":  "rename_threshold",
	"output-dir": "output_dir",
}

// LoadOptions selects where configuration comes from.
type LoadOptions struct {
	// ConfigFile is a config name stored under the fwto config directory or a
	// path to a file. Empty means the persisted default selection, if any.
	ConfigFile string
	// Flags are bound on top of file and environment values when changed.
	Flags *pflag.FlagSet
}

// Load builds the configuration from defaults, the selected config file,
// FWTO_* environment variables and changed flags, in increasing precedence.
// The result is not yet resolved against the workspace.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()

	v.SetDefault("workspace", defaultConfig.Workspace)
	v.SetDefault("manifest", "")
	v.SetDefault("dst", "")
	v.SetDefault("org", "")
	v.SetDefault("secondary", "")
	v.SetDefault("terminator", defaultConfig.Terminator)
	v.SetDefault("rename_threshold", defaultConfig.RenameThreshold)
	v.SetDefault("output_dir", defaultConfig.OutputDir)
	v.SetDefault("workspace_marker", defaultConfig.WorkspaceMarker)
	v.SetDefault("unsupported", defaultConfig.Unsupported)

	v.SetEnvPrefix("FWTO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	name := opts.ConfigFile
	if name == "" {
		selected, err := DefaultSelection()
		if err != nil {
			return nil, err
		}
		name = selected
	}

	var source string
	if name != "" {
		path, err := ResolveConfigFile(name)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path) // #nosec G304 -- path chosen by the operator
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := ValidateDocument(data, formatOf(path)); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		v.SetConfigFile(path)
		v.SetConfigType(formatOf(path))
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
		}
		source = path
	}

	if opts.Flags != nil {
		for flagName, key := range flagKeys {
			if f := opts.Flags.Lookup(flagName); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", flagName, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	cfg.Source = source
	return &cfg, nil
}

// Resolve makes the workspace absolute, checks it and rewrites every
// configured path relative to it. requireOverride demands manifest and dst.
func (c *Config) Resolve(requireOverride bool) error {
	ws := c.Workspace
	if ws == "" {
		ws = "."
	}
	abs, err := filepath.Abs(ws)
	if err != nil {
		return fmt.Errorf("%w: workspace %s: %v", ErrInvalid, ws, err)
	}
	st, err := os.Stat(abs)
	if err != nil || !st.IsDir() {
		return fmt.Errorf("%w: workspace %s is not a directory", ErrInvalid, abs)
	}
	if c.WorkspaceMarker != "" {
		if _, err := os.Stat(filepath.Join(abs, c.WorkspaceMarker)); err != nil {
			return fmt.Errorf("%w: workspace %s does not contain %s", ErrInvalid, abs, c.WorkspaceMarker)
		}
	}
	c.Workspace = abs

	if c.Terminator == "" {
		return fmt.Errorf("%w: terminator must not be empty", ErrInvalid)
	}
	if c.RenameThreshold < 1 || c.RenameThreshold > 100 {
		return fmt.Errorf("%w: rename_threshold %d is outside 1..100", ErrInvalid, c.RenameThreshold)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("%w: output_dir must not be empty", ErrInvalid)
	}

	fields := []struct {
		name     string
		value    *string
		required bool
		isDir    bool
	}{
		{"manifest", &c.Manifest, requireOverride, false},
		{"dst", &c.Dst, requireOverride, true},
		{"org", &c.Org, false, false},
		{"secondary", &c.Secondary, false, false},
		{"output_dir", &c.OutputDir, true, false},
	}
	for _, f := range fields {
		if *f.value == "" {
			if f.required {
				return fmt.Errorf("%w: %s is not set", ErrInvalid, f.name)
			}
			continue
		}
		rel, err := safeio.RelativeTo(abs, *f.value)
		if err != nil || rel == "." {
			return fmt.Errorf("%w: %s %q must be inside workspace %s", ErrInvalid, f.name, *f.value, abs)
		}
		*f.value = rel
		if f.isDir {
			if st, err := os.Stat(filepath.Join(abs, filepath.FromSlash(rel))); err != nil || !st.IsDir() {
				return fmt.Errorf("%w: %s %s is not a directory", ErrInvalid, f.name, rel)
			}
		}
	}

	if requireOverride {
		if st, err := os.Stat(filepath.Join(abs, filepath.FromSlash(c.Manifest))); err != nil || !st.Mode().IsRegular() {
			return fmt.Errorf("%w: manifest %s does not exist", ErrInvalid, c.Manifest)
		}
	}
	return nil
}

// Marshal renders the configuration as yaml, json or toml.
func (c *Config) Marshal(format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "", "yaml", "yml":
		return yaml.Marshal(c)
	case "json":
		data, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case "toml":
		return toml.Marshal(c)
	default:
		return nil, fmt.Errorf("unsupported format %q (use yaml, json or toml)", format)
	}
}

// ResolveConfigFile turns a config name or path into a readable file path.
// Bare names are looked up in the fwto config directory with any supported
// extension.
func ResolveConfigFile(name string) (string, error) {
	if st, err := os.Stat(name); err == nil && st.Mode().IsRegular() {
		return filepath.Abs(name)
	}
	if strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: config file %s not found", ErrInvalid, name)
	}

	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	candidates := []string{name}
	if filepath.Ext(name) == "" {
		candidates = []string{name + ".yaml", name + ".yml", name + ".json", name + ".toml"}
	}
	for _, c := range candidates {
		p := filepath.Join(dir, c)
		if st, err := os.Stat(p); err == nil && st.Mode().IsRegular() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: no config named %s in %s", ErrInvalid, name, dir)
}

const defaultSelectionFile = ".default"

// DefaultSelection returns the config name recorded by SetDefaultSelection,
// or an empty string when none is recorded.
func DefaultSelection() (string, error) {
	home, err := GetFwtoHome()
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(home, "config", defaultSelectionFile)) // #nosec G304 -- inside fwto home
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read default config selection: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// SetDefaultSelection records name as the config used when --config is absent.
// The name must resolve to an existing, valid config file.
func SetDefaultSelection(name string) (string, error) {
	path, err := ResolveConfigFile(name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path resolved above
	if err != nil {
		return "", fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := ValidateDocument(data, formatOf(path)); err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}

	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	fs := osfs.New(dir, osfs.WithBoundOS())
	if err := safeio.WriteFile(fs, defaultSelectionFile, []byte(path+"\n")); err != nil {
		return "", err
	}
	return path, nil
}

func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	case ".toml":
		return "toml"
	default:
		return "yaml"
	}
}

// GetFwtoHome returns the fwto home directory
func GetFwtoHome() (string, error) {
	if home := os.Getenv("FWTO_HOME"); home != "" {
		return home, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".fwto"), nil
}

// EnsureFwtoHome creates the fwto home directory if it doesn't exist
func EnsureFwtoHome() (string, error) {
	homeDir, err := GetFwtoHome()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(homeDir, 0750); err != nil {
		return "", fmt.Errorf("failed to create fwto home directory: %w", err)
	}

	return homeDir, nil
}

// GetConfigDir returns the config directory
func GetConfigDir() (string, error) {
	homeDir, err := EnsureFwtoHome()
	if err != nil {
		return "", err
	}
	configDir := filepath.Join(homeDir, "config")
	if err := os.MkdirAll(configDir, 0750); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return configDir, nil
}
