package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stagehand/stagehand/internal/bootstrap"
	"github.com/stagehand/stagehand/internal/watch"
	"github.com/stagehand/stagehand/pkg/config"
	"github.com/stagehand/stagehand/pkg/interfaces"
	"github.com/stagehand/stagehand/pkg/logger"
	"github.com/stagehand/stagehand/pkg/process"
	"github.com/stagehand/stagehand/pkg/types"
	"github.com/stagehand/stagehand/pkg/utils"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Re-provision automatically when inputs change",
		Long: `Start Stagehand in watch mode. It runs a full setup, then monitors the
config file, the manifest, and the devlib for changes and re-provisions
whenever one of them changes. Steps that are still fresh are skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch()
		},
	}
}

func runWatch() error {
	// Root context for the entire watch session
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	configPath := getConfigPath()
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := buildLogger(cfg)
	s := bootstrap.New(cfg, projectRoot, log, bootstrap.Dependencies{})

	printInfo(fmt.Sprintf("Starting Stagehand v%s", version))

	// Bring the workspace up before watching
	report, err := s.Run(ctx, bootstrap.TaskSetup)
	if err != nil {
		return fmt.Errorf("initial setup failed: %w", err)
	}
	printReport(report)
	if !report.Succeeded() {
		printWarning("Initial setup failed; watching for fixes")
	}

	watcher, err := watch.New(log)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	exclusions, err := watchExclusions(cfg)
	if err != nil {
		return err
	}
	watcher.SetExclusions(exclusions)
	if delay := cfg.Watch.GetSettlingDelay(); delay > 0 {
		watcher.SetSettlingDelay(delay)
	}

	inputs := s.InputPaths(configPath)
	if len(inputs) == 0 {
		return fmt.Errorf("nothing to watch: no config, manifest, or devlib found")
	}
	for _, input := range inputs {
		if err := watcher.Add(input); err != nil {
			return fmt.Errorf("failed to watch %s: %w", input, err)
		}
		printInfo(fmt.Sprintf("Watching %s", input))
	}

	// Settled batches arrive on a channel so re-provisioning stays on this
	// goroutine. A batch delivered mid-run is dropped; the run it would
	// trigger is already covered by the next staleness check.
	batches := make(chan []interfaces.FileChange, 1)
	if err := watcher.Start(ctx, func(changes []interfaces.FileChange) {
		select {
		case batches <- changes:
		default:
		}
	}); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	// Signals go through the process manager so shutdown handlers run in
	// a single place
	procManager := process.NewManager(log)
	procManager.RegisterShutdownHandler(cancel)
	procManager.Start(ctx)
	defer procManager.Stop()

	reloader := config.NewReloader(configPath, cfg, log)

	for {
		select {
		case <-ctx.Done():
			printSuccess("Stagehand stopped gracefully")
			return nil
		case changes := <-batches:
			s = refreshWorkspace(ctx, s, changes, reloader, log)
		}
	}
}

// watchExclusions builds the exclusion matcher from the watch config
func watchExclusions(cfg *types.StagehandConfig) (*utils.ExclusionMatcher, error) {
	var patterns []string
	if cfg.Watch.UseDefaults() {
		patterns = utils.DefaultExclusions()
	}
	patterns = append(patterns, cfg.Watch.GetExcludeDirs()...)

	matcher, err := utils.NewExclusionMatcher(patterns)
	if err != nil {
		return nil, fmt.Errorf("invalid watch exclusions: %w", err)
	}
	return matcher, nil
}

// refreshWorkspace handles one settled batch of input changes. A config
// change rebuilds the task wiring; everything else just re-runs setup.
func refreshWorkspace(ctx context.Context, s *bootstrap.Stagehand, changes []interfaces.FileChange, reloader *config.Reloader, log logger.Logger) *bootstrap.Stagehand {
	configChanged := false
	for _, change := range changes {
		printInfo(fmt.Sprintf("Detected %s: %s", change.Op, change.Path))
		if change.Path == reloader.Path() {
			configChanged = true
		}
	}

	if configChanged {
		cfg, changed, err := reloader.Reload()
		if err != nil {
			printError(fmt.Sprintf("Config reload failed: %v; keeping previous configuration", err))
			return s
		}
		if changed {
			s = bootstrap.New(cfg, projectRoot, log, bootstrap.Dependencies{})
			printInfo("Configuration reloaded")
		}
	}

	report, err := s.Run(ctx, bootstrap.TaskSetup)
	if err != nil {
		printError(fmt.Sprintf("Refresh failed: %v", err))
		return s
	}

	if report.Succeeded() {
		printSuccess("Workspace refreshed")
	} else if err := report.FirstError(); err != nil {
		printError(fmt.Sprintf("Refresh failed: %v", err))
	}

	return s
}
