package validation_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stagehand/stagehand/pkg/types"
	"github.com/stagehand/stagehand/pkg/validation"
)

// validWorkspace lays out a project that validates cleanly: sources,
// a manifest pinning every vendored package, sdk and devlib paths, and
// the reference documents.
func validWorkspace(t *testing.T) (string, *types.StagehandConfig) {
	t.Helper()
	root := t.TempDir()

	for _, dir := range []string{"src", "sdk-home", "devlib"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0755); err != nil {
			t.Fatalf("failed to create %s: %v", dir, err)
		}
	}

	files := map[string]string{
		"requirements.txt": "webob==1.1.1\nsimplejson==2.1.6\n",
		"README.md":        "# Test project\n",
		"TASKS.md":         "# Tasks\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(root, name), []byte(content), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}

	config := &types.StagehandConfig{
		Version: "1.0",
		Runtime: types.RuntimePython2,
		SDK:     &types.SDKConfig{Path: filepath.Join(root, "sdk-home")},
		DevLib:  &types.DevLibConfig{Path: filepath.Join(root, "devlib"), Marker: "devlib"},
		Packages: []types.PackageSpec{
			{Name: "webob"},
			{Name: "simplejson"},
		},
	}
	return root, config
}

func hasFinding(result *validation.ValidationResult, field string, level validation.ValidationLevel) bool {
	for _, finding := range result.Errors {
		if finding.Field == field && finding.Level == level {
			return true
		}
	}
	return false
}

func TestValidate_CleanWorkspace(t *testing.T) {
	root, config := validWorkspace(t)
	validator := validation.NewWorkspaceValidator(root)

	result := validator.Validate(config)

	if !result.Valid {
		t.Errorf("expected valid workspace, got findings: %v", result.Errors)
	}
	if len(result.Errors) != 0 {
		t.Errorf("expected no findings, got %v", result.Errors)
	}
}

func TestValidate_NilConfig(t *testing.T) {
	validator := validation.NewWorkspaceValidator(t.TempDir())

	result := validator.Validate(nil)

	if result.Valid {
		t.Error("expected invalid result for nil config")
	}
}

func TestValidate_MissingManifest(t *testing.T) {
	root, config := validWorkspace(t)
	if err := os.Remove(filepath.Join(root, "requirements.txt")); err != nil {
		t.Fatalf("failed to remove manifest: %v", err)
	}

	validator := validation.NewWorkspaceValidator(root)
	result := validator.Validate(config)

	if result.Valid {
		t.Error("expected invalid result without manifest")
	}
	if !hasFinding(result, "manifest", validation.ValidationLevelError) {
		t.Errorf("expected manifest error, got %v", result.Errors)
	}
}

func TestValidate_UnpinnedPackage(t *testing.T) {
	root, config := validWorkspace(t)
	config.Packages = append(config.Packages, types.PackageSpec{Name: "ghost"})

	validator := validation.NewWorkspaceValidator(root)
	result := validator.Validate(config)

	// Warnings do not invalidate the workspace
	if !result.Valid {
		t.Errorf("expected warnings only, got %v", result.Errors)
	}

	found := false
	for _, finding := range result.Errors {
		if finding.Subject == "ghost" && finding.Level == validation.ValidationLevelWarning {
			found = true
		}
	}
	if !found {
		t.Errorf("expected unpinned warning for ghost, got %v", result.Errors)
	}
}

func TestValidate_DevlibPackagesSkipPinCheck(t *testing.T) {
	root, config := validWorkspace(t)
	config.Packages = append(config.Packages,
		types.PackageSpec{Name: "internal-tools", From: types.PackageSourceDevLib})

	validator := validation.NewWorkspaceValidator(root)
	result := validator.Validate(config)

	for _, finding := range result.Errors {
		if finding.Subject == "internal-tools" {
			t.Errorf("expected no pin check for devlib package, got %v", finding)
		}
	}
}

func TestValidate_NodeManifest(t *testing.T) {
	root, config := validWorkspace(t)

	manifest := `{"dependencies": {"express": "4.18.2"}}`
	if err := os.WriteFile(filepath.Join(root, "package.json"), []byte(manifest), 0644); err != nil {
		t.Fatalf("failed to write package.json: %v", err)
	}

	config.Runtime = types.RuntimeNode
	config.Workspace.Manifest = "package.json"
	config.Packages = []types.PackageSpec{
		{Name: "express"},
		{Name: "leftpad"},
	}

	validator := validation.NewWorkspaceValidator(root)
	result := validator.Validate(config)

	found := false
	for _, finding := range result.Errors {
		if finding.Subject == "leftpad" && finding.Level == validation.ValidationLevelWarning {
			found = true
		}
		if finding.Subject == "express" {
			t.Errorf("expected express to be pinned, got %v", finding)
		}
	}
	if !found {
		t.Errorf("expected unpinned warning for leftpad, got %v", result.Errors)
	}
}

func TestValidate_UnknownRuntime(t *testing.T) {
	root, config := validWorkspace(t)
	config.Runtime = types.Runtime("ruby")

	validator := validation.NewWorkspaceValidator(root)
	result := validator.Validate(config)

	if result.Valid {
		t.Error("expected invalid result for unknown runtime")
	}
	if !hasFinding(result, "runtime", validation.ValidationLevelError) {
		t.Errorf("expected runtime error, got %v", result.Errors)
	}
}

func TestValidate_CustomRuntimeNeedsTool(t *testing.T) {
	root, config := validWorkspace(t)
	config.Runtime = types.RuntimeCustom
	config.Provisioner = nil

	validator := validation.NewWorkspaceValidator(root)
	result := validator.Validate(config)

	if result.Valid {
		t.Error("expected invalid result for custom runtime without tool")
	}
	if !hasFinding(result, "provisioner.tool", validation.ValidationLevelError) {
		t.Errorf("expected provisioner.tool error, got %v", result.Errors)
	}
	if !hasFinding(result, "provisioner.installArgs", validation.ValidationLevelWarning) {
		t.Errorf("expected installArgs warning, got %v", result.Errors)
	}
}

func TestValidate_MarkerCollision(t *testing.T) {
	root, config := validWorkspace(t)
	config.SDK.Marker = "shared"
	config.DevLib.Marker = "shared"

	validator := validation.NewWorkspaceValidator(root)
	result := validator.Validate(config)

	if result.Valid {
		t.Error("expected invalid result for colliding markers")
	}
	if !hasFinding(result, "sdk.marker", validation.ValidationLevelError) {
		t.Errorf("expected marker collision error, got %v", result.Errors)
	}
}

func TestValidate_MissingReferencePaths(t *testing.T) {
	root, config := validWorkspace(t)
	config.SDK.Path = filepath.Join(root, "no-such-sdk")

	validator := validation.NewWorkspaceValidator(root)
	result := validator.Validate(config)

	if !result.Valid {
		t.Errorf("expected warnings only, got %v", result.Errors)
	}
	if !hasFinding(result, "path", validation.ValidationLevelWarning) {
		t.Errorf("expected sdk path warning, got %v", result.Errors)
	}
}

func TestValidate_MissingDocs(t *testing.T) {
	root, config := validWorkspace(t)
	if err := os.Remove(filepath.Join(root, "TASKS.md")); err != nil {
		t.Fatalf("failed to remove doc: %v", err)
	}

	validator := validation.NewWorkspaceValidator(root)
	result := validator.Validate(config)

	if !hasFinding(result, "files", validation.ValidationLevelInfo) {
		t.Errorf("expected docs info finding, got %v", result.Errors)
	}
}

func TestValidationError_Format(t *testing.T) {
	err := &validation.ValidationError{
		Subject: "config",
		Field:   "runtime",
		Message: "unknown runtime: ruby",
		Level:   validation.ValidationLevelError,
	}

	formatted := err.Error()
	if !strings.Contains(formatted, "[error]") || !strings.Contains(formatted, "config.runtime") {
		t.Errorf("unexpected format: %s", formatted)
	}
}
