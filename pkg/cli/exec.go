// Package cli provides the exec command for gated command execution
package cli

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/stagehand/stagehand/internal/bootstrap"
	"github.com/stagehand/stagehand/pkg/fsutil"
	"github.com/stagehand/stagehand/pkg/logger"
	"github.com/stagehand/stagehand/pkg/process"
	"github.com/stagehand/stagehand/pkg/state"
	"github.com/stagehand/stagehand/pkg/toolchain"
	"github.com/stagehand/stagehand/pkg/types"
)

var (
	execTimeout int
	execForce   bool
	execNoWait  bool
	execVerbose bool
)

// newExecCmd creates the exec command
func newExecCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec [command] [args...]",
		Short: "Run a command inside the provisioned environment",
		Long: `Smart wrapper that ensures you never run against a broken workspace by:
  - Checking provisioning status before execution
  - Waiting for in-progress provisioning to complete
  - Refusing stale or failed environments with clear messages
  - Putting the environment's binaries first on PATH`,
		Args:                  cobra.MinimumNArgs(1),
		DisableFlagsInUseLine: true,
		RunE:                  runExec,
	}

	cmd.Flags().IntVarP(&execTimeout, "timeout", "t", 300000, "Provision wait timeout in milliseconds")
	cmd.Flags().BoolVarP(&execForce, "force", "f", false, "Run even if the environment is stale or failed")
	cmd.Flags().BoolVarP(&execNoWait, "no-wait", "n", false, "Don't wait for provisioning, fail if running")
	cmd.Flags().BoolVar(&execVerbose, "verbose", false, "Show detailed status information")

	return cmd
}

func runExec(cmd *cobra.Command, args []string) error {
	// Set up colors
	errorStyle := color.New(color.FgRed)
	warningStyle := color.New(color.FgYellow)
	successStyle := color.New(color.FgGreen)
	infoStyle := color.New(color.FgCyan)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := loadConfig(configPath)
	if err != nil {
		errorStyle.Println("❌ Failed to load configuration:", err)
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	tc := toolchain.New(projectRoot, cfg)
	sm := state.NewStateManager(projectRoot, logger.CreateLogger("", verbosity))

	if execVerbose {
		infoStyle.Printf("📍 Project root: %s\n", projectRoot)
		infoStyle.Printf("🐚 Environment: %s\n", tc.EnvDir())
	}

	// Check environment status
	status := environmentStatus(sm, tc)

	if execVerbose {
		infoStyle.Printf("📊 Environment status: %s\n", status)
	}

	// Handle different environment states
	switch status {
	case "provisioning":
		if execNoWait {
			errorStyle.Println("❌ Provisioning in progress and --no-wait specified")
			return fmt.Errorf("provisioning in progress")
		}

		result := waitForProvision(sm, tc, time.Duration(execTimeout)*time.Millisecond, successStyle, errorStyle)

		if result == "timeout" {
			errorStyle.Printf("❌ Provision timeout after %dms\n", execTimeout)
			warningStyle.Println("💡 Solutions:")
			fmt.Printf("   • Increase timeout: stagehand exec --timeout %d %s\n", execTimeout*2, strings.Join(args, " "))
			fmt.Println("   • Check provision logs: stagehand logs")
			fmt.Println("   • Check progress: stagehand status")
			return fmt.Errorf("provision timeout")
		}

		if result == "failed" && !execForce {
			errorStyle.Println("❌ Provisioning failed")
			warningStyle.Println("💡 Options:")
			fmt.Println("   • Check provision logs: stagehand logs")
			fmt.Printf("   • Force execution anyway: stagehand exec --force %s\n", strings.Join(args, " "))
			fmt.Println("   • Fix the failure and run stagehand setup again")
			return fmt.Errorf("provisioning failed")
		}

		if result == "failed" && execForce {
			warningStyle.Println("⚠️  Running despite provisioning failure (--force specified)")
		}

	case "failed":
		if !execForce {
			errorStyle.Println("❌ Last provisioning run failed")
			warningStyle.Println("🔧 Run `stagehand logs` for details or use --force to run anyway")
			return fmt.Errorf("last provisioning run failed")
		}
		warningStyle.Println("⚠️  Running despite provisioning failure (--force specified)")

	case "missing":
		errorStyle.Printf("❌ Environment not provisioned: %s\n", tc.EnvDir())
		warningStyle.Println("🔧 Run `stagehand setup` first")
		return fmt.Errorf("environment not provisioned")

	case "stale":
		if !execForce {
			errorStyle.Printf("❌ %s changed since the last install\n", cfg.Workspace.GetManifest())
			warningStyle.Println("🔧 Run `stagehand env` to refresh or use --force to run anyway")
			return fmt.Errorf("environment is stale")
		}
		warningStyle.Println("⚠️  Running against a stale environment (--force specified)")

	case "ready":
		if execVerbose {
			successStyle.Println("✅ Environment ready")
		}
	}

	// Execute the command
	exitCode := executeInEnv(tc, args, errorStyle, successStyle)
	if exitCode != 0 {
		return fmt.Errorf("command exited with code %d", exitCode)
	}
	return nil
}

// environmentStatus classifies the environment by the recorded task states
// and the on-disk artifacts. A live provisioning run wins over everything;
// a recorded failure wins over disk checks.
func environmentStatus(sm *state.StateManager, tc *toolchain.Toolchain) string {
	gated := []string{
		bootstrap.TaskEnvCreate,
		bootstrap.TaskEnvInstall,
		bootstrap.TaskEnvMarkers,
		bootstrap.TaskLibVendor,
	}

	failed := false
	for _, taskName := range gated {
		st, err := sm.ReadState(taskName)
		if err != nil || st == nil {
			continue
		}

		if st.Status == types.StepStatusRunning {
			// Only trust running states whose holder is still alive
			if info, err := process.GetProcessInfo(st.ProcessID); err == nil && info.IsRunning {
				return "provisioning"
			}
		}

		if st.Status == types.StepStatusFailed {
			failed = true
		}
	}

	if failed {
		return "failed"
	}

	if !fsutil.DirectoryExists(tc.PackagesDir()) {
		return "missing"
	}

	if stale, err := fsutil.NewerThan(tc.ManifestPath(), tc.SnapshotPath()); err == nil && stale {
		return "stale"
	}

	return "ready"
}

func waitForProvision(sm *state.StateManager, tc *toolchain.Toolchain, timeout time.Duration, successStyle, errorStyle *color.Color) string {
	startTime := time.Now()
	fmt.Print("Provisioning in progress")

	for time.Since(startTime) < timeout {
		status := environmentStatus(sm, tc)

		elapsed := time.Since(startTime)
		fmt.Printf("\rProvisioning in progress... %.1fs", elapsed.Seconds())

		switch status {
		case "provisioning":
			// Keep waiting
		case "failed":
			fmt.Println()
			errorStyle.Println("❌ Provisioning failed")
			return "failed"
		default:
			fmt.Println()
			if status == "ready" {
				successStyle.Println("✅ Provisioning completed")
			}
			return status
		}

		time.Sleep(250 * time.Millisecond)
	}

	fmt.Println()
	return "timeout"
}

// executeInEnv runs the command with the environment's bin directory first
// on PATH, so tools installed into the environment shadow system ones.
func executeInEnv(tc *toolchain.Toolchain, args []string, errorStyle, successStyle *color.Color) int {
	binary := args[0]

	// Prefer the environment's own binaries
	if resolved := filepath.Join(tc.BinDir(), binary); fsutil.FileExists(resolved) {
		binary = resolved
	}

	if execVerbose {
		successStyle.Printf("✅ Running: %s\n", binary)
	}

	cmd := exec.Command(binary, args[1:]...)
	cmd.Dir = projectRoot
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(),
		"VIRTUAL_ENV="+tc.EnvDir(),
		"PATH="+tc.BinDir()+string(os.PathListSeparator)+os.Getenv("PATH"),
	)

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode()
		}
		errorStyle.Printf("❌ Failed to execute %s: %v\n", args[0], err)

		if strings.Contains(err.Error(), "permission denied") {
			fmt.Printf("   • Run: chmod +x %s\n", binary)
		} else if strings.Contains(err.Error(), "executable file not found") {
			fmt.Println("   • Check that the command is installed in the environment")
			fmt.Println("   • Try running: stagehand setup")
		}

		return 1
	}

	return 0
}
