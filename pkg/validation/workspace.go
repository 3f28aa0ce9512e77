// Package validation provides workspace validation functionality
package validation

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/stagehand/stagehand/pkg/analyzers"
	"github.com/stagehand/stagehand/pkg/fsutil"
	"github.com/stagehand/stagehand/pkg/toolchain"
	"github.com/stagehand/stagehand/pkg/types"
)

// WorkspaceValidator checks a configuration against the project on disk
type WorkspaceValidator struct {
	projectRoot string
}

// NewWorkspaceValidator creates a new workspace validator
func NewWorkspaceValidator(projectRoot string) *WorkspaceValidator {
	return &WorkspaceValidator{
		projectRoot: projectRoot,
	}
}

// ValidationError represents a validation finding
type ValidationError struct {
	Subject string
	Field   string
	Message string
	Level   ValidationLevel
}

// ValidationLevel represents finding severity
type ValidationLevel string

const (
	ValidationLevelError   ValidationLevel = "error"
	ValidationLevelWarning ValidationLevel = "warning"
	ValidationLevelInfo    ValidationLevel = "info"
)

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s.%s: %s", e.Level, e.Subject, e.Field, e.Message)
}

// ValidationResult contains validation findings
type ValidationResult struct {
	Valid  bool
	Errors []ValidationError
}

// AddError adds a finding to the validation result
func (r *ValidationResult) AddError(subject, field, message string, level ValidationLevel) {
	r.Errors = append(r.Errors, ValidationError{
		Subject: subject,
		Field:   field,
		Message: message,
		Level:   level,
	})
	if level == ValidationLevelError {
		r.Valid = false
	}
}

// Validate checks the configuration and the workspace it describes
func (v *WorkspaceValidator) Validate(config *types.StagehandConfig) *ValidationResult {
	result := &ValidationResult{Valid: true}

	if config == nil {
		result.AddError("config", "", "no configuration loaded", ValidationLevelError)
		return result
	}

	v.validateConfig(config, result)
	v.validateWorkspace(config, result)

	return result
}

func (v *WorkspaceValidator) validateConfig(config *types.StagehandConfig, result *ValidationResult) {
	if config.Version != "1.0" {
		result.AddError("config", "version", fmt.Sprintf("unsupported version: %s", config.Version), ValidationLevelError)
	}

	if !config.Runtime.IsKnown() {
		result.AddError("config", "runtime", fmt.Sprintf("unknown runtime: %s", config.Runtime), ValidationLevelError)
	}

	if config.Runtime == types.RuntimeCustom {
		if config.Provisioner == nil || config.Provisioner.Tool == "" {
			result.AddError("config", "provisioner.tool", "custom runtime requires an explicit provisioning tool", ValidationLevelError)
		}
		if config.Provisioner == nil || len(config.Provisioner.InstallArgs) == 0 {
			result.AddError("config", "provisioner.installArgs", "custom runtime cannot install without installArgs", ValidationLevelWarning)
		}
	}

	if config.SDK != nil && config.DevLib != nil &&
		config.SDK.GetMarker() == config.DevLib.GetMarker() {
		result.AddError("config", "sdk.marker", fmt.Sprintf("marker name collides with devlib: %s", config.SDK.GetMarker()), ValidationLevelError)
	}

	if len(config.Packages) == 0 {
		result.AddError("config", "packages", "no packages configured; vendoring is a no-op", ValidationLevelInfo)
	}

	if config.Vendoring != nil && config.Vendoring.Parallelism != nil && *config.Vendoring.Parallelism < 1 {
		result.AddError("config", "vendoring.parallelism", "parallelism below 1; copies run sequentially", ValidationLevelWarning)
	}
}

func (v *WorkspaceValidator) validateWorkspace(config *types.StagehandConfig, result *ValidationResult) {
	tc := toolchain.New(v.projectRoot, config)

	if !fsutil.DirectoryExists(tc.SrcDir()) {
		result.AddError("workspace", "srcDir", fmt.Sprintf("source directory does not exist: %s", tc.SrcDir()), ValidationLevelWarning)
	}

	manifest := tc.ManifestPath()
	if !fsutil.FileExists(manifest) {
		result.AddError("workspace", "manifest", fmt.Sprintf("manifest not found: %s", manifest), ValidationLevelError)
	} else {
		v.validatePins(config, manifest, result)
	}

	if config.SDK != nil && !fsutil.DirectoryExists(config.SDK.Path) {
		result.AddError("sdk", "path", fmt.Sprintf("sdk path does not exist: %s", config.SDK.Path), ValidationLevelWarning)
	}

	if config.DevLib != nil && !fsutil.DirectoryExists(config.DevLib.Path) {
		result.AddError("devlib", "path", fmt.Sprintf("devlib path does not exist: %s", config.DevLib.Path), ValidationLevelWarning)
	}

	for _, doc := range config.Docs.GetFiles() {
		path := doc
		if !filepath.IsAbs(path) {
			path = filepath.Join(v.projectRoot, doc)
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			result.AddError("docs", "files", fmt.Sprintf("reference document missing: %s", doc), ValidationLevelInfo)
		}
	}

	if fsutil.DirectoryExists(tc.EnvDir()) && !fsutil.DirectoryExists(tc.PackagesDir()) {
		result.AddError("workspace", "envDir", "environment directory exists but has no package directory; run env.create", ValidationLevelInfo)
	}
}

// validatePins warns about vendored packages that the manifest does not
// pin. Custom runtimes have no known manifest format and are skipped.
func (v *WorkspaceValidator) validatePins(config *types.StagehandConfig, manifest string, result *ValidationResult) {
	analyzer := analyzers.NewManifestAnalyzer(v.projectRoot)

	var analysis *analyzers.ManifestAnalysis
	var err error

	switch config.Runtime {
	case types.RuntimePython2, types.RuntimePython3:
		analysis, err = analyzer.AnalyzeManifest(manifest)
	case types.RuntimeNode:
		analysis, err = analyzer.AnalyzeNodeManifest(manifest)
	default:
		return
	}

	if err != nil {
		result.AddError("workspace", "manifest", fmt.Sprintf("failed to parse manifest: %v", err), ValidationLevelWarning)
		return
	}

	for _, pkg := range config.Packages {
		// Devlib packages are not expected in the manifest
		if pkg.From == types.PackageSourceDevLib {
			continue
		}
		if !analysis.Contains(pkg.Name) {
			result.AddError(pkg.Name, "packages", "vendored package is not pinned in the manifest", ValidationLevelWarning)
		}
	}
}
