// Package config handles configuration loading and management
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/stagehand/stagehand/pkg/types"
	"gopkg.in/yaml.v3"
)

// Manager handles configuration operations
type Manager struct{}

// NewManager creates a new configuration manager
func NewManager() *Manager {
	return &Manager{}
}

// LoadConfig loads configuration from a file
func (m *Manager) LoadConfig(path string) (*types.StagehandConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg types.StagehandConfig

	// Try JSON first
	if err := json.Unmarshal(data, &cfg); err == nil {
		return m.validateConfig(&cfg)
	}

	// Try YAML - converted to JSON so custom unmarshalers apply
	var yamlData map[string]interface{}
	if err := yaml.Unmarshal(data, &yamlData); err == nil {
		jsonData, err := json.Marshal(yamlData)
		if err == nil {
			if err := json.Unmarshal(jsonData, &cfg); err == nil {
				return m.validateConfig(&cfg)
			}
		}
	}

	return nil, fmt.Errorf("failed to parse config as JSON or YAML")
}

// ValidateConfig validates a configuration
func (m *Manager) ValidateConfig(config *types.StagehandConfig) error {
	if config.Version != "1.0" {
		return fmt.Errorf("unsupported config version: %s", config.Version)
	}

	if !config.Runtime.IsKnown() {
		return fmt.Errorf("invalid runtime: %s", config.Runtime)
	}

	if config.Runtime == types.RuntimeCustom {
		if config.Provisioner == nil || config.Provisioner.Tool == "" {
			return fmt.Errorf("custom runtime requires provisioner.tool")
		}
	}

	if err := m.validateWorkspace(&config.Workspace); err != nil {
		return fmt.Errorf("workspace: %w", err)
	}

	if config.SDK != nil {
		if err := m.validateReference("sdk", config.SDK.Path, config.SDK.GetMarker()); err != nil {
			return err
		}
	}

	if config.DevLib != nil {
		if err := m.validateReference("devlib", config.DevLib.Path, config.DevLib.GetMarker()); err != nil {
			return err
		}
	}

	packageNames := make(map[string]bool)
	for i, pkg := range config.Packages {
		if err := m.validatePackage(pkg); err != nil {
			return fmt.Errorf("package %d: %w", i, err)
		}

		if packageNames[pkg.Name] {
			return fmt.Errorf("duplicate package name: %s", pkg.Name)
		}
		packageNames[pkg.Name] = true

		if pkg.From == types.PackageSourceDevLib && config.DevLib == nil {
			return fmt.Errorf("package '%s' pins devlib but no devlib is configured", pkg.Name)
		}
	}

	return nil
}

// GetDefaultConfig returns a default configuration for a runtime
func (m *Manager) GetDefaultConfig(runtime types.Runtime) *types.StagehandConfig {
	enabled := true
	parallelism := 1

	return &types.StagehandConfig{
		Version: "1.0",
		Runtime: runtime,
		Workspace: types.WorkspaceConfig{
			SrcDir:   "src",
			EnvDir:   "venv",
			LibDir:   "lib",
			Manifest: "requirements.txt",
		},
		Packages: []types.PackageSpec{},
		Vendoring: &types.VendoringConfig{
			Parallelism: &parallelism,
		},
		Notifications: &types.NotificationConfig{
			Enabled: &enabled,
		},
		Logging: &types.LoggingConfig{
			Level: types.LogLevelInfo,
		},
	}
}

// Private methods

func (m *Manager) validateConfig(cfg *types.StagehandConfig) (*types.StagehandConfig, error) {
	if err := m.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (m *Manager) validateWorkspace(ws *types.WorkspaceConfig) error {
	for name, dir := range map[string]string{
		"srcDir": ws.GetSrcDir(),
		"envDir": ws.GetEnvDir(),
		"libDir": ws.GetLibDir(),
	} {
		if filepath.IsAbs(dir) {
			return fmt.Errorf("%s must be relative to the project root: %s", name, dir)
		}
		if dir == ".." || strings.HasPrefix(dir, ".."+string(filepath.Separator)) {
			return fmt.Errorf("%s must not escape the project root: %s", name, dir)
		}
	}

	if filepath.IsAbs(ws.GetManifest()) {
		return fmt.Errorf("manifest must be relative to the project root: %s", ws.GetManifest())
	}

	return nil
}

func (m *Manager) validateReference(kind, path, marker string) error {
	if path == "" {
		return fmt.Errorf("%s: missing path", kind)
	}
	if !filepath.IsAbs(path) {
		return fmt.Errorf("%s: path must be absolute: %s", kind, path)
	}
	if marker == "" || marker == "." || marker == ".." || strings.ContainsRune(marker, filepath.Separator) {
		return fmt.Errorf("%s: invalid marker name: %s", kind, marker)
	}
	return nil
}

func (m *Manager) validatePackage(pkg types.PackageSpec) error {
	if pkg.Name == "" {
		return fmt.Errorf("missing name")
	}

	if strings.ContainsAny(pkg.Name, `/\`) {
		return fmt.Errorf("name must not contain path separators: %s", pkg.Name)
	}

	switch pkg.From {
	case types.PackageSourceAny, types.PackageSourceEnv, types.PackageSourceDevLib:
	default:
		return fmt.Errorf("invalid source: %s", pkg.From)
	}

	return nil
}
