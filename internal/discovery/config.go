package discovery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/mitchellh/go-homedir"

	"github.com/rendis/dccmcp/pkg/schema"
)

// ConfigFileName is the file that persists registered paths.
const ConfigFileName = "action_paths.json"

// PathsConfig is the on-disk layout of ConfigFileName. Both maps are keyed
// by scope.
type PathsConfig struct {
	ActionPaths        map[string][]string `json:"action_paths"`
	DefaultActionPaths map[string][]string `json:"default_action_paths"`
}

// DefaultConfigPath returns ~/.dccmcp/action_paths.json.
func DefaultConfigPath() string {
	p, err := homedir.Expand(filepath.Join("~", ".dccmcp", ConfigFileName))
	if err != nil {
		return filepath.Join(".dccmcp", ConfigFileName)
	}
	return p
}

func (d *Discovery) configKey() string {
	if d.scope == "" {
		return schema.AnyScope
	}
	return d.scope
}

// SaveConfig writes this discovery's registered and default paths into the
// file at path, keeping the entries of other scopes already stored there.
func (d *Discovery) SaveConfig(path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	cfg, err := readConfig(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	d.mu.RLock()
	key := d.configKey()
	cfg.ActionPaths[key] = slices.Clone(d.registered)
	cfg.DefaultActionPaths[key] = slices.Clone(d.defaults)
	d.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "    ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// LoadConfig merges the paths stored for this scope (and the wildcard
// scope) into the registered and default paths. Existing entries keep
// their position.
func (d *Discovery) LoadConfig(path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	cfg, err := readConfig(path)
	if err != nil {
		return err
	}

	keys := []string{d.configKey()}
	if keys[0] != schema.AnyScope {
		keys = append(keys, schema.AnyScope)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, k := range keys {
		d.registered = mergePaths(d.registered, cfg.ActionPaths[k])
		d.defaults = mergePaths(d.defaults, cfg.DefaultActionPaths[k])
	}
	return nil
}

func readConfig(path string) (PathsConfig, error) {
	cfg := PathsConfig{
		ActionPaths:        map[string][]string{},
		DefaultActionPaths: map[string][]string{},
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.ActionPaths == nil {
		cfg.ActionPaths = map[string][]string{}
	}
	if cfg.DefaultActionPaths == nil {
		cfg.DefaultActionPaths = map[string][]string{}
	}
	return cfg, nil
}

func mergePaths(dst, src []string) []string {
	for _, p := range src {
		if n := normalize(p); n != "" && !slices.Contains(dst, n) {
			dst = append(dst, n)
		}
	}
	return dst
}
