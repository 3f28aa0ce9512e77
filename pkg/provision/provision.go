// Package provision implements the environment provisioning steps
package provision

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/stagehand/stagehand/pkg/fsutil"
	"github.com/stagehand/stagehand/pkg/logger"
	"github.com/stagehand/stagehand/pkg/tasks"
	"github.com/stagehand/stagehand/pkg/toolchain"
	"github.com/stagehand/stagehand/pkg/types"
)

// Provisioner owns the environment provisioning steps. Each exported
// step method matches the tasks.RunFunc signature and is registered
// under its task name at wiring time.
type Provisioner struct {
	projectRoot string
	config      *types.StagehandConfig
	toolchain   *toolchain.Toolchain

	mu       sync.Mutex
	toolPath string
}

// New creates a provisioner for a project
func New(projectRoot string, config *types.StagehandConfig) *Provisioner {
	return &Provisioner{
		projectRoot: projectRoot,
		config:      config,
		toolchain:   toolchain.New(projectRoot, config),
	}
}

// Toolchain exposes the underlying toolchain for status and exec surfaces
func (p *Provisioner) Toolchain() *toolchain.Toolchain {
	return p.toolchain
}

// LookupTools resolves the provisioning tool. It runs first in the chain
// so a missing tool aborts provisioning before anything touches the file
// system.
func (p *Provisioner) LookupTools(ctx context.Context, step *tasks.StepContext) error {
	toolPath, err := p.resolveTool()
	if err != nil {
		return err
	}

	if step.Logger != nil {
		fields := []logger.Field{logger.WithField("tool", toolPath)}
		if version, err := p.toolchain.Version(ctx, toolPath); err == nil {
			fields = append(fields, logger.WithField("version", version))
		}
		step.Logger.Info("Provisioning tool resolved", fields...)
	}
	if step.Log != nil {
		fmt.Fprintf(step.Log, "Resolved provisioning tool: %s\n", toolPath)
	}

	return nil
}

// CreateDirectories ensures the workspace skeleton exists. Idempotent.
func (p *Provisioner) CreateDirectories(ctx context.Context, step *tasks.StepContext) error {
	dirs := []string{
		filepath.Dir(p.toolchain.EnvDir()),
		p.toolchain.LibDir(),
	}

	for _, dir := range dirs {
		if err := fsutil.CreateDirectory(dir); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	if step.Logger != nil {
		step.Logger.Debug("Workspace directories ready",
			logger.WithField("lib", p.toolchain.LibDir()))
	}

	return nil
}

// CreateEnvironment runs the provisioning tool to create the environment.
// An existing package directory means there is nothing to do.
func (p *Provisioner) CreateEnvironment(ctx context.Context, step *tasks.StepContext) error {
	packagesDir := p.toolchain.PackagesDir()
	if fsutil.DirectoryExists(packagesDir) {
		return fmt.Errorf("environment exists at %s: %w", p.toolchain.EnvDir(), tasks.ErrUpToDate)
	}

	toolPath, err := p.resolveTool()
	if err != nil {
		return err
	}

	cmd, err := p.toolchain.CreateCommand(ctx, toolPath)
	if err != nil {
		return err
	}

	if cmd == nil {
		// Runtime materializes its environment on install
		if err := fsutil.CreateDirectory(packagesDir); err != nil {
			return fmt.Errorf("failed to create package directory: %w", err)
		}
		return nil
	}

	if step.Logger != nil {
		step.Logger.Info("Creating environment",
			logger.WithField("envDir", p.toolchain.EnvDir()))
	}

	if err := runCommand(cmd, step); err != nil {
		return fmt.Errorf("environment creation failed: %w", err)
	}

	return nil
}

// InstallManifest installs the pinned manifest into the environment. The
// recorded snapshot under envDir doubles as the staleness marker: when the
// manifest is not newer than the snapshot the step reports fresh and the
// package manager never runs.
func (p *Provisioner) InstallManifest(ctx context.Context, step *tasks.StepContext) error {
	manifest := p.toolchain.ManifestPath()
	if !fsutil.FileExists(manifest) {
		return fmt.Errorf("manifest not found: %s", manifest)
	}

	snapshot := p.toolchain.SnapshotPath()
	stale, err := fsutil.NewerThan(manifest, snapshot)
	if err != nil {
		return fmt.Errorf("failed to compare manifest against snapshot: %w", err)
	}
	if !stale {
		return fmt.Errorf("%s unchanged since last install: %w",
			filepath.Base(manifest), tasks.ErrUpToDate)
	}

	toolPath, err := p.resolveTool()
	if err != nil {
		return err
	}

	cmd, err := p.toolchain.InstallCommand(ctx, toolPath)
	if err != nil {
		return err
	}

	if step.Logger != nil {
		step.Logger.Info("Installing manifest",
			logger.WithField("manifest", filepath.Base(manifest)))
	}

	if err := runCommand(cmd, step); err != nil {
		// No snapshot is written, so the next run retries the install
		return fmt.Errorf("manifest install failed: %w", err)
	}

	// Record the installed manifest; its mod time marks the install
	if err := fsutil.CopyFile(manifest, snapshot); err != nil {
		return fmt.Errorf("failed to record manifest snapshot: %w", err)
	}

	return nil
}

// WriteMarkers writes the path-reference marker files into the
// environment's package directory. Content is the referenced absolute
// path plus a trailing newline; a marker is rewritten only when its
// content differs.
func (p *Provisioner) WriteMarkers(ctx context.Context, step *tasks.StepContext) error {
	packagesDir := p.toolchain.PackagesDir()
	if !fsutil.DirectoryExists(packagesDir) {
		return fmt.Errorf("package directory not found: %s", packagesDir)
	}

	type marker struct {
		name string
		path string
	}

	var markers []marker
	if p.config.SDK != nil && p.config.SDK.Path != "" {
		markers = append(markers, marker{name: p.config.SDK.GetMarker(), path: p.config.SDK.Path})
	}
	if p.config.DevLib != nil && p.config.DevLib.Path != "" {
		markers = append(markers, marker{name: p.config.DevLib.GetMarker(), path: p.config.DevLib.Path})
	}

	wrote := 0
	for _, m := range markers {
		markerPath := filepath.Join(packagesDir, m.name+".pth")
		content := []byte(m.path + "\n")

		if existing, err := fsutil.ReadFile(markerPath); err == nil && bytes.Equal(existing, content) {
			continue
		}

		if err := fsutil.WriteFileAtomic(markerPath, content); err != nil {
			return fmt.Errorf("failed to write marker %s: %w", m.name, err)
		}

		if step.Logger != nil {
			step.Logger.Info("Wrote path marker",
				logger.WithField("marker", m.name+".pth"),
				logger.WithField("path", m.path))
		}
		if step.Log != nil {
			fmt.Fprintf(step.Log, "Wrote %s -> %s\n", markerPath, m.path)
		}
		wrote++
	}

	if wrote == 0 {
		return fmt.Errorf("markers current: %w", tasks.ErrUpToDate)
	}

	return nil
}

func (p *Provisioner) resolveTool() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.toolPath != "" {
		return p.toolPath, nil
	}

	toolPath, err := p.toolchain.Lookup()
	if err != nil {
		return "", err
	}

	p.toolPath = toolPath
	return toolPath, nil
}

// runCommand executes a provisioning command with output teed to the
// step log.
func runCommand(cmd *exec.Cmd, step *tasks.StepContext) error {
	var outputBuffer bytes.Buffer
	var out io.Writer = &outputBuffer
	if step.Log != nil {
		out = io.MultiWriter(&outputBuffer, step.Log)
		fmt.Fprintf(step.Log, "Executing: %s\n", strings.Join(cmd.Args, " "))
	}

	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w\n%s", err, outputBuffer.Bytes())
	}

	return nil
}
