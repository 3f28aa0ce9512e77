// Package bootstrap wires the task registry and its dependencies
package bootstrap

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/stagehand/stagehand/pkg/fsutil"
	"github.com/stagehand/stagehand/pkg/interfaces"
	"github.com/stagehand/stagehand/pkg/logger"
	"github.com/stagehand/stagehand/pkg/notifier"
	"github.com/stagehand/stagehand/pkg/provision"
	"github.com/stagehand/stagehand/pkg/state"
	"github.com/stagehand/stagehand/pkg/tasks"
	"github.com/stagehand/stagehand/pkg/toolchain"
	"github.com/stagehand/stagehand/pkg/types"
	"github.com/stagehand/stagehand/pkg/vendoring"
)

// Default task names
const (
	TaskEnvTools   = "env.tools"
	TaskEnvDirs    = "env.dirs"
	TaskEnvCreate  = "env.create"
	TaskEnvInstall = "env.install"
	TaskEnvMarkers = "env.markers"
	TaskEnvDefault = "env.default"
	TaskLibVendor  = "lib.vendor"
	TaskLibDefault = "lib.default"
	TaskSetup      = "setup"
)

// Dependencies are injectable overrides. Nil fields fall back to the
// default implementations.
type Dependencies struct {
	StateManager interfaces.StateManager
	Notifier     interfaces.ProvisionNotifier
}

// Stagehand owns the wired task registry for a project
type Stagehand struct {
	config      *types.StagehandConfig
	projectRoot string
	logger      logger.Logger

	registry     *tasks.Registry
	runner       *tasks.Runner
	provisioner  *provision.Provisioner
	vendorer     *vendoring.Vendorer
	stateManager interfaces.StateManager
	notifier     interfaces.ProvisionNotifier
}

// New wires a Stagehand engine for a project
func New(config *types.StagehandConfig, projectRoot string, log logger.Logger, deps Dependencies) *Stagehand {
	if absRoot, err := filepath.Abs(projectRoot); err == nil {
		projectRoot = absRoot
	}

	s := &Stagehand{
		config:      config,
		projectRoot: projectRoot,
		logger:      log,
	}

	s.stateManager = deps.StateManager
	if s.stateManager == nil {
		s.stateManager = state.NewStateManager(projectRoot, log)
	}

	s.notifier = deps.Notifier
	if s.notifier == nil && config.Notifications.IsEnabled() {
		notifierConfig := notifier.Config{Enabled: true}
		if config.Notifications != nil {
			notifierConfig.SuccessSound = config.Notifications.SuccessSound
			notifierConfig.FailureSound = config.Notifications.FailureSound
		}
		s.notifier = notifier.New(notifierConfig, log)
	}

	s.provisioner = provision.New(projectRoot, config)
	s.vendorer = vendoring.New(projectRoot, config, log)

	s.registry = tasks.NewRegistry()
	s.registerTasks()

	s.runner = tasks.NewRunner(s.registry, projectRoot, log, s.stateManager)

	return s
}

// registerTasks builds the default registry: the environment chain, the
// vendoring chain, and the combined setup task.
func (s *Stagehand) registerTasks() {
	p := s.provisioner

	s.registry.MustRegister(&tasks.Task{
		Name:    TaskEnvTools,
		Summary: "Resolve the provisioning tool",
		Run:     p.LookupTools,
	})
	s.registry.MustRegister(&tasks.Task{
		Name:    TaskEnvDirs,
		Summary: "Create the workspace directory skeleton",
		Needs:   []string{TaskEnvTools},
		Mutates: true,
		Run:     p.CreateDirectories,
	})
	s.registry.MustRegister(&tasks.Task{
		Name:    TaskEnvCreate,
		Summary: "Create the runtime environment",
		Needs:   []string{TaskEnvTools, TaskEnvDirs},
		Mutates: true,
		Run:     p.CreateEnvironment,
	})
	s.registry.MustRegister(&tasks.Task{
		Name:    TaskEnvInstall,
		Summary: "Install the pinned manifest into the environment",
		Needs:   []string{TaskEnvCreate},
		Mutates: true,
		Run:     p.InstallManifest,
	})
	s.registry.MustRegister(&tasks.Task{
		Name:    TaskEnvMarkers,
		Summary: "Write path-reference markers into the environment",
		Needs:   []string{TaskEnvInstall},
		Mutates: true,
		Run:     p.WriteMarkers,
	})
	s.registry.MustRegister(&tasks.Task{
		Name:    TaskEnvDefault,
		Summary: "Provision the workspace environment",
		Needs: []string{
			TaskEnvTools, TaskEnvDirs, TaskEnvCreate, TaskEnvInstall, TaskEnvMarkers,
		},
		Run: func(ctx context.Context, step *tasks.StepContext) error {
			if step.Logger != nil {
				step.Logger.Success("Environment ready")
			}
			return nil
		},
	})

	s.registry.MustRegister(&tasks.Task{
		Name:    TaskLibVendor,
		Summary: "Vendor packages into the source tree",
		Needs:   []string{TaskEnvInstall},
		Mutates: true,
		Run:     s.vendorLibraries,
	})
	s.registry.MustRegister(&tasks.Task{
		Name:    TaskLibDefault,
		Summary: "Vendor the configured library set",
		Needs:   []string{TaskLibVendor},
		Run: func(ctx context.Context, step *tasks.StepContext) error {
			if step.Logger != nil {
				step.Logger.Success("Libraries vendored")
			}
			return nil
		},
	})

	s.registry.MustRegister(&tasks.Task{
		Name:    TaskSetup,
		Summary: "Provision the environment and vendor libraries",
		Needs:   []string{TaskEnvDefault, TaskLibDefault},
		Run: func(ctx context.Context, step *tasks.StepContext) error {
			if step.Logger != nil {
				step.Logger.Success("Workspace ready")
			}
			return nil
		},
	})
}

// vendorLibraries is the lib.vendor task body
func (s *Stagehand) vendorLibraries(ctx context.Context, step *tasks.StepContext) error {
	vendored, err := s.vendorer.VendorAll(ctx)
	if err != nil {
		return err
	}

	if len(vendored) == 0 {
		if step.Logger != nil {
			step.Logger.Info("No packages configured; nothing to vendor")
		}
		return nil
	}

	if step.Log != nil {
		for _, pkg := range vendored {
			fmt.Fprintf(step.Log, "Vendored %s (%s, %d files, %s)\n",
				pkg.Name, pkg.Kind, pkg.Files, fsutil.FormatBytes(pkg.SizeBytes))
		}
	}

	return nil
}

// Run resolves the named tasks and executes the plan
func (s *Stagehand) Run(ctx context.Context, names ...string) (*tasks.Report, error) {
	display := strings.Join(names, ", ")

	if s.notifier != nil {
		s.notifier.NotifyRunStart(display)
	}

	start := time.Now()
	report, err := s.runner.Run(ctx, names...)

	if s.notifier != nil {
		if err != nil {
			s.notifier.NotifyRunFailure(display, err)
		} else {
			s.notifier.NotifyRunSuccess(display, time.Since(start))
		}
	}

	return report, err
}

// Registry exposes the wired task registry
func (s *Stagehand) Registry() *tasks.Registry {
	return s.registry
}

// Provisioner exposes the provisioning steps
func (s *Stagehand) Provisioner() *provision.Provisioner {
	return s.provisioner
}

// Toolchain exposes the resolved workspace layout
func (s *Stagehand) Toolchain() *toolchain.Toolchain {
	return s.provisioner.Toolchain()
}

// Vendorer exposes the package vendorer
func (s *Stagehand) Vendorer() *vendoring.Vendorer {
	return s.vendorer
}

// StateManager exposes the persistent step state
func (s *Stagehand) StateManager() interfaces.StateManager {
	return s.stateManager
}

// ProjectRoot returns the absolute project root
func (s *Stagehand) ProjectRoot() string {
	return s.projectRoot
}

// InputPaths returns the provisioning inputs watch mode observes: the
// config file, the manifest, and the devlib tree when configured.
func (s *Stagehand) InputPaths(configPath string) []string {
	paths := make([]string, 0, 3)
	if configPath != "" {
		paths = append(paths, configPath)
	}

	tc := s.Toolchain()
	if fsutil.FileExists(tc.ManifestPath()) {
		paths = append(paths, tc.ManifestPath())
	}

	if s.config.DevLib != nil && fsutil.DirectoryExists(s.config.DevLib.Path) {
		paths = append(paths, s.config.DevLib.Path)
	}

	return paths
}
