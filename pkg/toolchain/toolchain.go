// Package toolchain resolves the external provisioning tool for a workspace
package toolchain

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/stagehand/stagehand/pkg/types"
)

// ErrToolNotFound indicates the provisioning tool is not installed. Callers
// must not mutate the file system once this is returned.
var ErrToolNotFound = errors.New("provisioning tool not found")

// Toolchain builds provisioning commands for a configured workspace
type Toolchain struct {
	projectRoot string
	config      *types.StagehandConfig
}

// New creates a toolchain for a project
func New(projectRoot string, config *types.StagehandConfig) *Toolchain {
	return &Toolchain{
		projectRoot: projectRoot,
		config:      config,
	}
}

// ToolName returns the provisioning binary to resolve: the configured
// override if present, otherwise the runtime default.
func (tc *Toolchain) ToolName() string {
	if tc.config.Provisioner != nil && tc.config.Provisioner.Tool != "" {
		return tc.config.Provisioner.Tool
	}
	return tc.config.Runtime.DefaultTool()
}

// Lookup resolves the provisioning tool on PATH. Provisioning runs this
// before any step touches the file system, so a missing tool aborts the
// whole run with nothing half-done.
func (tc *Toolchain) Lookup() (string, error) {
	tool := tc.ToolName()
	if tool == "" {
		return "", fmt.Errorf("%w: runtime %q has no default tool, set provisioner.tool in the config",
			ErrToolNotFound, tc.config.Runtime)
	}

	path, err := exec.LookPath(tool)
	if err != nil {
		return "", fmt.Errorf("%w: %q is not on PATH, install it or point provisioner.tool at an existing binary",
			ErrToolNotFound, tool)
	}

	return path, nil
}

// IsAvailable reports whether the provisioning tool can be resolved
func (tc *Toolchain) IsAvailable() bool {
	_, err := tc.Lookup()
	return err == nil
}

// Version runs the resolved tool with --version and extracts a version number
func (tc *Toolchain) Version(ctx context.Context, toolPath string) (string, error) {
	cmd := exec.CommandContext(ctx, toolPath, "--version")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("failed to query tool version: %w", err)
	}

	re := regexp.MustCompile(`([0-9]+(?:\.[0-9]+)+)`)
	matches := re.FindStringSubmatch(string(output))
	if len(matches) > 1 {
		return matches[1], nil
	}

	return strings.TrimSpace(string(output)), nil
}

// EnvDir returns the absolute environment directory
func (tc *Toolchain) EnvDir() string {
	return filepath.Join(tc.projectRoot, tc.config.Workspace.GetEnvDir())
}

// SrcDir returns the absolute source directory
func (tc *Toolchain) SrcDir() string {
	return filepath.Join(tc.projectRoot, tc.config.Workspace.GetSrcDir())
}

// LibDir returns the absolute vendoring directory inside the source tree
func (tc *Toolchain) LibDir() string {
	return filepath.Join(tc.SrcDir(), tc.config.Workspace.GetLibDir())
}

// ManifestPath returns the absolute path of the dependency manifest
func (tc *Toolchain) ManifestPath() string {
	manifest := tc.config.Workspace.GetManifest()
	if filepath.IsAbs(manifest) {
		return manifest
	}
	return filepath.Join(tc.projectRoot, manifest)
}

// SnapshotPath returns where the installed manifest copy is recorded. The
// copy doubles as the staleness marker for the install step.
func (tc *Toolchain) SnapshotPath() string {
	return filepath.Join(tc.EnvDir(), filepath.Base(tc.config.Workspace.GetManifest()))
}

// PackagesDir returns the environment's package directory, honoring the
// workspace override when one is configured.
func (tc *Toolchain) PackagesDir() string {
	if tc.config.Workspace.PackagesDir != "" {
		return filepath.Join(tc.projectRoot, tc.config.Workspace.PackagesDir)
	}
	return tc.config.Runtime.PackagesDir(tc.EnvDir())
}

// BinDir returns the environment's executable directory, used when running
// commands inside the provisioned environment.
func (tc *Toolchain) BinDir() string {
	if tc.config.Runtime == types.RuntimeNode {
		return filepath.Join(tc.PackagesDir(), ".bin")
	}
	return filepath.Join(tc.EnvDir(), "bin")
}

// CreateCommand builds the command that creates the environment. A nil
// command with nil error means the runtime needs no creation step beyond
// the directory itself (node environments materialize on install).
func (tc *Toolchain) CreateCommand(ctx context.Context, toolPath string) (*exec.Cmd, error) {
	args := tc.provisionerArgs()

	var cmd *exec.Cmd
	switch tc.config.Runtime {
	case types.RuntimePython2:
		cmd = exec.CommandContext(ctx, toolPath, append(args, tc.EnvDir())...)
	case types.RuntimePython3:
		cmd = exec.CommandContext(ctx, toolPath, append(append([]string{"-m", "venv"}, args...), tc.EnvDir())...)
	case types.RuntimeNode:
		return nil, nil
	case types.RuntimeCustom:
		cmd = exec.CommandContext(ctx, toolPath, append(args, tc.EnvDir())...)
	default:
		return nil, fmt.Errorf("no creation command for runtime %q", tc.config.Runtime)
	}

	cmd.Dir = tc.projectRoot
	return cmd, nil
}

// InstallCommand builds the command that installs the manifest into the
// environment.
func (tc *Toolchain) InstallCommand(ctx context.Context, toolPath string) (*exec.Cmd, error) {
	installArgs := tc.installArgs()

	var cmd *exec.Cmd
	switch tc.config.Runtime {
	case types.RuntimePython2, types.RuntimePython3:
		pip := filepath.Join(tc.EnvDir(), "bin", "pip")
		args := append([]string{"install", "-r", tc.ManifestPath()}, installArgs...)
		cmd = exec.CommandContext(ctx, pip, args...)
	case types.RuntimeNode:
		args := append([]string{"install", "--prefix", tc.EnvDir()}, installArgs...)
		cmd = exec.CommandContext(ctx, toolPath, args...)
	case types.RuntimeCustom:
		if len(installArgs) == 0 {
			return nil, fmt.Errorf("custom runtime requires provisioner.installArgs")
		}
		cmd = exec.CommandContext(ctx, toolPath, installArgs...)
	default:
		return nil, fmt.Errorf("no install command for runtime %q", tc.config.Runtime)
	}

	cmd.Dir = tc.projectRoot
	return cmd, nil
}

func (tc *Toolchain) provisionerArgs() []string {
	if tc.config.Provisioner == nil {
		return nil
	}
	return tc.config.Provisioner.Args
}

func (tc *Toolchain) installArgs() []string {
	if tc.config.Provisioner == nil {
		return nil
	}
	return tc.config.Provisioner.InstallArgs
}
