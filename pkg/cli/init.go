package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/stagehand/stagehand/pkg/analyzers"
	"github.com/stagehand/stagehand/pkg/config"
	"github.com/stagehand/stagehand/pkg/types"
)

func newInitCmd() *cobra.Command {
	var runtimeName string
	var force bool
	var fromManifest string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new Stagehand configuration",
		Long: `Initialize a new Stagehand configuration file in the project root.
This command will detect your runtime and create a suitable configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(runtimeName, force, fromManifest)
		},
	}

	cmd.Flags().StringVarP(&runtimeName, "runtime", "r", "", "runtime (python2, python3, node, custom)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite existing configuration")
	cmd.Flags().StringVar(&fromManifest, "from-manifest", "", "seed the package list from a manifest's pins")

	return cmd
}

func runInit(runtimeName string, force bool, fromManifest string) error {
	// Refuse to clobber an existing config, whatever its format
	if existing := findConfig(); existing != "" && !force {
		return fmt.Errorf("configuration already exists at %s. Use --force to overwrite", existing)
	}

	// Detect the runtime if not specified
	if runtimeName == "" {
		detected := detectRuntime()
		if detected != "" {
			runtimeName = detected
			printInfo(fmt.Sprintf("Detected runtime: %s", runtimeName))
		} else {
			runtimeName = string(types.RuntimePython2)
			printInfo("Could not detect runtime, using 'python2'")
		}
	}

	runtime, err := types.ParseRuntime(runtimeName)
	if err != nil {
		return err
	}

	cfg := config.NewManager().GetDefaultConfig(runtime)

	if fromManifest != "" {
		if err := seedPackages(cfg, runtime, fromManifest); err != nil {
			return err
		}
	}

	configPath := cfgFile
	if configPath == "" {
		configPath = filepath.Join(projectRoot, "stagehand.config.json")
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	printSuccess(fmt.Sprintf("Created configuration at %s", configPath))
	printInfo("Edit the configuration to declare the packages to vendor, then run 'stagehand setup'")

	return nil
}

// detectRuntime probes the project root for well-known manifests. A bare
// requirements.txt means python2: that is the lineage this tool grew up
// with, and python3 projects carry a pyproject.toml.
func detectRuntime() string {
	checks := []struct {
		file    string
		runtime types.Runtime
	}{
		{"package.json", types.RuntimeNode},
		{"pyproject.toml", types.RuntimePython3},
		{"requirements.txt", types.RuntimePython2},
	}

	for _, check := range checks {
		if _, err := os.Stat(filepath.Join(projectRoot, check.file)); err == nil {
			return string(check.runtime)
		}
	}

	return ""
}

// seedPackages fills the config's package list from a manifest's pinned
// requirements, so a fresh config starts with something to vendor.
func seedPackages(cfg *types.StagehandConfig, runtime types.Runtime, manifest string) error {
	analyzer := analyzers.NewManifestAnalyzer(projectRoot)

	var analysis *analyzers.ManifestAnalysis
	var err error
	if runtime == types.RuntimeNode {
		analysis, err = analyzer.AnalyzeNodeManifest(manifest)
	} else {
		analysis, err = analyzer.AnalyzeManifest(manifest)
	}
	if err != nil {
		return fmt.Errorf("failed to analyze manifest: %w", err)
	}

	pinned := analysis.PinnedNames()
	for _, name := range pinned {
		cfg.Packages = append(cfg.Packages, types.PackageSpec{Name: name})
	}

	if manifest != cfg.Workspace.GetManifest() {
		cfg.Workspace.Manifest = manifest
	}

	printInfo(fmt.Sprintf("Seeded %d package(s) from %s", len(pinned), manifest))
	return nil
}
