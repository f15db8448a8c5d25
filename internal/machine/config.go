// Package machine loads, validates, and writes machine configuration files.
//
// A configuration file declares one or more machines with their network
// rules and usable port range, plus an optional collision block with the
// resolver options. Three formats are accepted, chosen by file extension:
//
//   - YAML (.yaml, .yml), parsed with gopkg.in/yaml.v3
//   - JSON with comments (.json, .jsonc), stripped with github.com/tidwall/jsonc
//     and parsed with encoding/json
//   - TOML (.toml), parsed with github.com/BurntSushi/toml
package machine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/shinji-kodama/fwdport/internal/collision"
	"github.com/shinji-kodama/fwdport/internal/model"
)

// Format is a configuration file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
)

// Config is the top-level structure of a configuration file.
type Config struct {
	// Collision holds the resolver options stored in the file.
	Collision FileOptions `yaml:"collision,omitempty" json:"collision,omitempty" toml:"collision,omitempty"`

	// Machines lists the machines in resolution order.
	Machines []model.Machine `yaml:"machines" json:"machines" toml:"machines"`
}

// FileOptions is the on-disk form of collision.Options. Remap keys are
// strings because neither JSON nor TOML allow integer keys.
type FileOptions struct {
	Repair          bool           `yaml:"repair,omitempty" json:"repair,omitempty" toml:"repair,omitempty"`
	ExtraInUse      []int          `yaml:"extra_in_use,omitempty" json:"extra_in_use,omitempty" toml:"extra_in_use,omitempty"`
	Remap           map[string]int `yaml:"remap,omitempty" json:"remap,omitempty" toml:"remap,omitempty"`
	ProbeCandidates bool           `yaml:"probe_candidates,omitempty" json:"probe_candidates,omitempty" toml:"probe_candidates,omitempty"`
}

// Options converts the file block into resolver options. It fails on remap
// keys that are not port numbers.
func (o FileOptions) Options() (collision.Options, error) {
	opts := collision.Options{
		Repair:          o.Repair,
		ExtraInUse:      append([]int(nil), o.ExtraInUse...),
		ProbeCandidates: o.ProbeCandidates,
	}
	if len(o.Remap) > 0 {
		opts.Remap = make(map[int]int, len(o.Remap))
		for key, to := range o.Remap {
			from, err := strconv.Atoi(strings.TrimSpace(key))
			if err != nil {
				return collision.Options{}, fmt.Errorf("invalid remap key %q: %w", key, err)
			}
			opts.Remap[from] = to
		}
	}
	return opts, nil
}

// Machine returns the machine with the given name, or nil.
func (c *Config) Machine(name string) *model.Machine {
	for i := range c.Machines {
		if c.Machines[i].Name == name {
			return &c.Machines[i]
		}
	}
	return nil
}

// MachinePointers returns pointers to every machine in declaration order.
func (c *Config) MachinePointers() []*model.Machine {
	ms := make([]*model.Machine, len(c.Machines))
	for i := range c.Machines {
		ms[i] = &c.Machines[i]
	}
	return ms
}

// configCandidates are searched by FindConfig, in priority order.
var configCandidates = []string{
	"fwdport.yaml",
	"fwdport.yml",
	"fwdport.json",
	"fwdport.jsonc",
	"fwdport.toml",
	filepath.Join(".fwdport", "config.yaml"),
}

// FindConfig searches projectDir for a configuration file and returns the
// path of the first one found. A CLIError with ExitConfigNotFound is
// returned when none exists.
func FindConfig(projectDir string) (string, error) {
	for _, name := range configCandidates {
		path := filepath.Join(projectDir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}

	return "", model.NewCLIError(
		model.ExitConfigNotFound,
		fmt.Sprintf("no configuration file found in %s (searched %s)", projectDir, strings.Join(configCandidates, ", ")),
	)
}

// ResolvePath turns a user-supplied config path into an absolute one.
// Relative paths are joined to projectDir and cannot escape it through ".."
// or symlinks. Absolute paths are used as given.
func ResolvePath(projectDir, path string) (string, error) {
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	resolved, err := securejoin.SecureJoin(projectDir, path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %s: %w", path, err)
	}
	return resolved, nil
}

// FormatFromPath picks the encoding for path from its extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json", ".jsonc":
		return FormatJSON, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("unsupported configuration format %q (use .yaml, .yml, .json, .jsonc, or .toml)", filepath.Ext(path))
	}
}

// LoadConfig reads and decodes the configuration file at path, then fills
// in defaults. Missing files yield a CLIError with ExitConfigNotFound and
// undecodable ones a CLIError with ExitConfigInvalid.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, model.WrapCLIError(
				model.ExitConfigNotFound,
				fmt.Sprintf("configuration file not found: %s", path),
				err,
			)
		}
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	format, err := FormatFromPath(path)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitConfigInvalid, err.Error(), err)
	}

	cfg, err := Parse(data, format)
	if err != nil {
		return nil, model.WrapCLIError(
			model.ExitConfigInvalid,
			fmt.Sprintf("failed to parse configuration file %s", path),
			err,
		)
	}
	return cfg, nil
}

// Parse decodes data in the given format and applies defaults.
func Parse(data []byte, format Format) (*Config, error) {
	var cfg Config

	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
	case FormatJSON:
		// Comments and trailing commas are stripped before decoding.
		if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
	case FormatTOML:
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("invalid TOML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported configuration format %q", format)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// applyDefaults normalizes rule types and fills in the default protocol and
// usable port range. Rules with a guest or host port but no type are
// forwarded ports. Unknown types are left for Validate to report.
func applyDefaults(cfg *Config) {
	for i := range cfg.Machines {
		m := &cfg.Machines[i]
		if m.UsablePortRange.IsZero() {
			m.UsablePortRange = model.DefaultPortRange
		}
		for j := range m.Networks {
			rule := &m.Networks[j]
			if rule.Type == "" && (rule.GuestPort != 0 || rule.HostPort != 0) {
				rule.Type = model.NetworkForwardedPort
			}
			if t, err := model.ParseNetworkType(string(rule.Type)); err == nil {
				rule.Type = t
			}
			if rule.IsForwardedPort() {
				rule.Protocol = strings.ToLower(rule.Protocol)
				if rule.Protocol == "" {
					rule.Protocol = model.ProtocolTCP
				}
			}
		}
	}
}

// Marshal encodes cfg in the given format.
func Marshal(cfg *Config, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return nil, fmt.Errorf("failed to encode YAML: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("failed to encode YAML: %w", err)
		}
		return buf.Bytes(), nil
	case FormatJSON:
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode JSON: %w", err)
		}
		return append(data, '\n'), nil
	case FormatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, fmt.Errorf("failed to encode TOML: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported configuration format %q", format)
	}
}

// WriteConfig encodes cfg in the format implied by path and writes it,
// creating parent directories as needed.
func WriteConfig(path string, cfg *Config) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	data, err := Marshal(cfg, format)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write configuration to %s: %w", path, err)
	}
	return nil
}
