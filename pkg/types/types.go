// Package types provides core types and configurations for Stagehand
package types

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"
)

// Runtime represents supported workspace runtimes
type Runtime string

const (
	RuntimePython2 Runtime = "python2"
	RuntimePython3 Runtime = "python3"
	RuntimeNode    Runtime = "node"
	RuntimeCustom  Runtime = "custom"
)

// StepStatus represents the current state of a provisioning step
type StepStatus string

const (
	StepStatusIdle      StepStatus = "idle"
	StepStatusRunning   StepStatus = "running"
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
	StepStatusFresh     StepStatus = "fresh"
	StepStatusBlocked   StepStatus = "blocked"
)

// PackageSource restricts where a vendored package may be resolved from
type PackageSource string

const (
	PackageSourceAny    PackageSource = ""
	PackageSourceEnv    PackageSource = "env"
	PackageSourceDevLib PackageSource = "devlib"
)

// LogLevel represents logging verbosity levels
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// WorkspaceConfig describes the on-disk layout of a project workspace
type WorkspaceConfig struct {
	SrcDir      string `json:"srcDir,omitempty" yaml:"srcDir,omitempty"`
	EnvDir      string `json:"envDir,omitempty" yaml:"envDir,omitempty"`
	LibDir      string `json:"libDir,omitempty" yaml:"libDir,omitempty"`
	Manifest    string `json:"manifest,omitempty" yaml:"manifest,omitempty"`
	PackagesDir string `json:"packagesDir,omitempty" yaml:"packagesDir,omitempty"`
}

// SDKConfig points the environment at an external SDK installation
type SDKConfig struct {
	Path   string `json:"path" yaml:"path"`
	Marker string `json:"marker,omitempty" yaml:"marker,omitempty"`
}

// DevLibConfig points the environment at a shared development library
type DevLibConfig struct {
	Path   string `json:"path" yaml:"path"`
	Marker string `json:"marker,omitempty" yaml:"marker,omitempty"`
}

// PackageSpec names a library to vendor into the source tree
type PackageSpec struct {
	Name string        `json:"name" yaml:"name"`
	From PackageSource `json:"from,omitempty" yaml:"from,omitempty"`
}

// ProvisionerConfig overrides how the runtime environment is created
type ProvisionerConfig struct {
	Tool        string   `json:"tool,omitempty" yaml:"tool,omitempty"`
	Args        []string `json:"args,omitempty" yaml:"args,omitempty"`
	InstallArgs []string `json:"installArgs,omitempty" yaml:"installArgs,omitempty"`
}

// VendoringConfig tunes how packages are copied into the source tree
type VendoringConfig struct {
	Parallelism  *int  `json:"parallelism,omitempty" yaml:"parallelism,omitempty"`
	PreserveMode *bool `json:"preserveMode,omitempty" yaml:"preserveMode,omitempty"`
}

// WatchConfig tunes watch mode
type WatchConfig struct {
	UseDefaultExclusions *bool    `json:"useDefaultExclusions,omitempty" yaml:"useDefaultExclusions,omitempty"`
	ExcludeDirs          []string `json:"excludeDirs,omitempty" yaml:"excludeDirs,omitempty"`
	SettlingDelayMs      int      `json:"settlingDelayMs,omitempty" yaml:"settlingDelayMs,omitempty"`
}

// NotificationConfig represents notification preferences
type NotificationConfig struct {
	Enabled      *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	SuccessSound string `json:"successSound,omitempty" yaml:"successSound,omitempty"`
	FailureSound string `json:"failureSound,omitempty" yaml:"failureSound,omitempty"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	File       string   `json:"file,omitempty" yaml:"file,omitempty"`
	Level      LogLevel `json:"level,omitempty" yaml:"level,omitempty"`
	MaxSizeMB  int      `json:"maxSizeMb,omitempty" yaml:"maxSizeMb,omitempty"`
	MaxBackups int      `json:"maxBackups,omitempty" yaml:"maxBackups,omitempty"`
	MaxAgeDays int      `json:"maxAgeDays,omitempty" yaml:"maxAgeDays,omitempty"`
}

// DocsConfig names the reference documents printed by a bare invocation
type DocsConfig struct {
	Files []string `json:"files,omitempty" yaml:"files,omitempty"`
}

// StagehandConfig represents the main configuration
type StagehandConfig struct {
	Version       string              `json:"version" yaml:"version"`
	Runtime       Runtime             `json:"runtime" yaml:"runtime"`
	Workspace     WorkspaceConfig     `json:"workspace,omitempty" yaml:"workspace,omitempty"`
	SDK           *SDKConfig          `json:"sdk,omitempty" yaml:"sdk,omitempty"`
	DevLib        *DevLibConfig       `json:"devlib,omitempty" yaml:"devlib,omitempty"`
	Packages      []PackageSpec       `json:"packages" yaml:"packages"`
	Provisioner   *ProvisionerConfig  `json:"provisioner,omitempty" yaml:"provisioner,omitempty"`
	Vendoring     *VendoringConfig    `json:"vendoring,omitempty" yaml:"vendoring,omitempty"`
	Watch         *WatchConfig        `json:"watch,omitempty" yaml:"watch,omitempty"`
	Notifications *NotificationConfig `json:"notifications,omitempty" yaml:"notifications,omitempty"`
	Logging       *LoggingConfig      `json:"logging,omitempty" yaml:"logging,omitempty"`
	Docs          *DocsConfig         `json:"docs,omitempty" yaml:"docs,omitempty"`
}

// ParseRuntime validates and converts a runtime name
func ParseRuntime(s string) (Runtime, error) {
	r := Runtime(s)
	if !r.IsKnown() {
		return "", fmt.Errorf("unknown runtime: %s", s)
	}
	return r, nil
}

// IsKnown reports whether the runtime is supported
func (r Runtime) IsKnown() bool {
	switch r {
	case RuntimePython2, RuntimePython3, RuntimeNode, RuntimeCustom:
		return true
	}
	return false
}

// DefaultTool returns the provisioning binary used to create environments
// for this runtime. Custom runtimes must configure one explicitly.
func (r Runtime) DefaultTool() string {
	switch r {
	case RuntimePython2:
		return "virtualenv"
	case RuntimePython3:
		return "python3"
	case RuntimeNode:
		return "npm"
	default:
		return ""
	}
}

// ModuleSuffix returns the file suffix of a single-file module for this
// runtime, used when a vendored package resolves to a file instead of a
// directory tree.
func (r Runtime) ModuleSuffix() string {
	switch r {
	case RuntimePython2, RuntimePython3:
		return ".py"
	case RuntimeNode:
		return ".js"
	default:
		return ""
	}
}

// PackagesDir returns the environment's package directory beneath envDir.
// For python3 the minor version is part of the path, so an existing
// environment is globbed first.
func (r Runtime) PackagesDir(envDir string) string {
	switch r {
	case RuntimePython2:
		return filepath.Join(envDir, "lib", "python2.7", "site-packages")
	case RuntimePython3:
		matches, err := filepath.Glob(filepath.Join(envDir, "lib", "python3.*", "site-packages"))
		if err == nil && len(matches) > 0 {
			return matches[0]
		}
		return filepath.Join(envDir, "lib", "python3", "site-packages")
	case RuntimeNode:
		return filepath.Join(envDir, "node_modules")
	default:
		return envDir
	}
}

// UnmarshalJSON accepts either a bare package name or the full object form.
func (p *PackageSpec) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		p.Name = name
		p.From = PackageSourceAny
		return nil
	}

	type packageSpec PackageSpec
	var spec packageSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return fmt.Errorf("failed to parse package spec: %w", err)
	}
	*p = PackageSpec(spec)
	return nil
}

// Workspace accessors with layout defaults

func (w *WorkspaceConfig) GetSrcDir() string {
	if w.SrcDir != "" {
		return w.SrcDir
	}
	return "src"
}

func (w *WorkspaceConfig) GetEnvDir() string {
	if w.EnvDir != "" {
		return w.EnvDir
	}
	return "venv"
}

func (w *WorkspaceConfig) GetLibDir() string {
	if w.LibDir != "" {
		return w.LibDir
	}
	return "lib"
}

func (w *WorkspaceConfig) GetManifest() string {
	if w.Manifest != "" {
		return w.Manifest
	}
	return "requirements.txt"
}

// GetMarker falls back to the base name of the referenced path, so an SDK at
// /opt/google_appengine produces google_appengine.pth.
func (s *SDKConfig) GetMarker() string {
	if s.Marker != "" {
		return s.Marker
	}
	return filepath.Base(s.Path)
}

func (d *DevLibConfig) GetMarker() string {
	if d.Marker != "" {
		return d.Marker
	}
	return filepath.Base(d.Path)
}

func (v *VendoringConfig) GetParallelism() int {
	if v != nil && v.Parallelism != nil && *v.Parallelism > 0 {
		return *v.Parallelism
	}
	return 1
}

func (v *VendoringConfig) IsPreserveMode() bool {
	return v == nil || v.PreserveMode == nil || *v.PreserveMode
}

func (w *WatchConfig) UseDefaults() bool {
	return w == nil || w.UseDefaultExclusions == nil || *w.UseDefaultExclusions
}

func (w *WatchConfig) GetExcludeDirs() []string {
	if w == nil {
		return nil
	}
	return w.ExcludeDirs
}

func (w *WatchConfig) GetSettlingDelay() time.Duration {
	if w != nil && w.SettlingDelayMs > 0 {
		return time.Duration(w.SettlingDelayMs) * time.Millisecond
	}
	return 0
}

func (n *NotificationConfig) IsEnabled() bool {
	return n == nil || n.Enabled == nil || *n.Enabled
}

func (d *DocsConfig) GetFiles() []string {
	if d != nil && len(d.Files) > 0 {
		return d.Files
	}
	return []string{"README.md", "TASKS.md"}
}
