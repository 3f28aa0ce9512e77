package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/stagehand/stagehand/internal/bootstrap"
	"github.com/stagehand/stagehand/pkg/fsutil"
	"github.com/stagehand/stagehand/pkg/process"
	"github.com/stagehand/stagehand/pkg/state"
	"github.com/stagehand/stagehand/pkg/tasks"
	"github.com/stagehand/stagehand/pkg/toolchain"
	"github.com/stagehand/stagehand/pkg/types"
	"github.com/stagehand/stagehand/pkg/validation"
	"github.com/stagehand/stagehand/pkg/vendoring"
)

func newSetupCmd() *cobra.Command {
	var notify bool

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Provision the environment and vendor libraries",
		Long: `Run the full setup plan: verify the provisioning tool, create the runtime
environment, install the pinned manifest, write the path markers, and vendor
the configured packages. Steps that are already up to date are skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTasks([]string{bootstrap.TaskSetup}, notify)
		},
	}

	cmd.Flags().BoolVar(&notify, "notify", false, "send a desktop notification when the run finishes")

	return cmd
}

func newEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Provision the runtime environment",
		Long: `Create the isolated runtime environment, install the pinned manifest into
it, and write the path markers. Vendoring is left alone; use setup for the
full plan.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTasks([]string{"env"}, false)
		},
	}
}

func newVendorCmd() *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "vendor",
		Short: "Copy configured packages into the source tree",
		Long: `Vendor the configured packages from the environment and devlib into the
library directory under the source tree. The environment is provisioned
first if it is missing or stale.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if list {
				return runVendorList()
			}
			return runTasks([]string{"lib"}, false)
		},
	}

	cmd.Flags().BoolVarP(&list, "list", "l", false, "resolve and list packages without copying")

	return cmd
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [task]...",
		Short: "Run specific tasks and their dependencies",
		Long: `Run one or more registered tasks. Dependencies run first and every task
runs at most once. A bare group name like "env" resolves to its default
task. Use the tasks command to see what is registered.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTasks(args, false)
		},
	}
}

func newTasksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List all registered tasks",
		Long:  `List every registered task with its dependencies and summary.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList()
		},
	}
}

func newStatusCmd() *cobra.Command {
	var verify bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show status of all tasks",
		Long:  `Display the recorded state of every task, including last run time and results.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(verify)
		},
	}

	cmd.Flags().BoolVar(&verify, "verify", false, "also verify vendored libraries against their sources")

	return cmd
}

func newCleanCmd() *cobra.Command {
	var cleanEnv bool
	var cleanLib bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Clean state, logs, and provisioned artifacts",
		Long: `Remove the state and log directory. With --env the runtime environment is
removed too, with --lib the vendored libraries. Sources and the manifest
are never touched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClean(cleanEnv, cleanLib)
		},
	}

	cmd.Flags().BoolVar(&cleanEnv, "env", false, "also remove the runtime environment")
	cmd.Flags().BoolVar(&cleanLib, "lib", false, "also remove the vendored libraries")

	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and workspace",
		Long: `Check that the configuration file is valid and that the workspace it
describes is in a provisionable shape.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate()
		},
	}
}

func newLogsCmd() *cobra.Command {
	var follow bool
	var lines int

	cmd := &cobra.Command{
		Use:   "logs [task]",
		Short: "Show task logs",
		Long:  `Display logs for all tasks or a specific task.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskName := ""
			if len(args) > 0 {
				taskName = args[0]
			}
			return runLogs(taskName, follow, lines)
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "follow log output")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of lines to show")

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of Stagehand",
		Long:  `Print the version number of Stagehand`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("🎭 Stagehand v%s\n", version)
		},
	}
}

// Implementation functions

// runTasks loads the config, wires the registry, and executes the named
// tasks. This is the shared path behind setup, env, vendor, and run.
func runTasks(names []string, notify bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig(getConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if notify {
		enabled := true
		if cfg.Notifications == nil {
			cfg.Notifications = &types.NotificationConfig{}
		}
		cfg.Notifications.Enabled = &enabled
	}

	log := buildLogger(cfg)
	s := bootstrap.New(cfg, projectRoot, log, bootstrap.Dependencies{})

	report, err := s.Run(ctx, names...)
	if err != nil {
		return err
	}

	printReport(report)

	if !report.Succeeded() {
		if err := report.FirstError(); err != nil {
			return err
		}
		return fmt.Errorf("run %s did not complete", report.RunID)
	}
	return nil
}

func printReport(report *tasks.Report) {
	fresh := 0
	for _, result := range report.Results {
		switch result.Status {
		case types.StepStatusFresh:
			fresh++
		case types.StepStatusFailed:
			printError(fmt.Sprintf("%s failed after %.1fs: %v", result.Task, result.Duration.Seconds(), result.Err))
		case types.StepStatusBlocked:
			printWarning(fmt.Sprintf("%s blocked by an earlier failure", result.Task))
		}
	}

	if report.Succeeded() {
		message := fmt.Sprintf("Completed %d step(s) in %.1fs", len(report.Results), report.Duration.Seconds())
		if fresh > 0 {
			message += fmt.Sprintf(", %d already fresh", fresh)
		}
		printSuccess(message)
	}
}

func runList() error {
	cfg, err := loadConfig(getConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	s := bootstrap.New(cfg, projectRoot, buildLogger(cfg), bootstrap.Dependencies{})
	registry := s.Registry()

	printInfo(fmt.Sprintf("Runtime: %s", cfg.Runtime))
	fmt.Println()

	// Print task table in registration order
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tNEEDS\tSUMMARY")
	fmt.Fprintln(w, "----\t-----\t-------")

	for _, name := range registry.Names() {
		task, ok := registry.Get(name)
		if !ok {
			continue
		}

		needs := strings.Join(task.Needs, ", ")
		if needs == "" {
			needs = "-"
		}

		fmt.Fprintf(w, "%s\t%s\t%s\n", task.Name, needs, task.Summary)
	}

	w.Flush()
	return nil
}

func runStatus(verify bool) error {
	cfg, err := loadConfig(getConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	s := bootstrap.New(cfg, projectRoot, buildLogger(cfg), bootstrap.Dependencies{})

	states, err := s.StateManager().DiscoverStates()
	if err != nil {
		return fmt.Errorf("failed to discover states: %w", err)
	}

	// Print status table
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tSTATUS\tLAST RUN\tRUNS\tFAILURES")
	fmt.Fprintln(w, "----\t------\t--------\t----\t--------")

	for _, name := range s.Registry().Names() {
		status := "idle"
		lastRun := "-"
		runs := 0
		failures := 0

		if st, ok := states[name]; ok {
			status = string(st.Status)
			if !st.LastRunTime.IsZero() {
				lastRun = st.LastRunTime.Format("15:04:05")
			}
			runs = st.RunCount
			failures = st.FailureCount

			if st.Status == types.StepStatusRunning {
				if info, err := process.GetProcessInfo(st.ProcessID); err == nil && info.IsRunning {
					status = fmt.Sprintf("running (pid %d)", st.ProcessID)
				} else {
					status = "interrupted"
				}
			}
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n",
			name,
			colorStatus(status),
			lastRun,
			runs,
			failures,
		)
	}

	w.Flush()

	if verify {
		fmt.Println()
		return runVerify(s)
	}
	return nil
}

func colorStatus(status string) string {
	switch {
	case status == "succeeded":
		return color.GreenString(status)
	case status == "failed" || status == "interrupted":
		return color.RedString(status)
	case strings.HasPrefix(status, "running") || status == "blocked":
		return color.YellowString(status)
	case status == "fresh":
		return color.CyanString(status)
	}
	return color.WhiteString(status)
}

func runVendorList() error {
	cfg, err := loadConfig(getConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if len(cfg.Packages) == 0 {
		printWarning("No packages configured")
		return nil
	}

	s := bootstrap.New(cfg, projectRoot, buildLogger(cfg), bootstrap.Dependencies{})

	inventory, err := s.Vendorer().Inventory()
	if err != nil {
		return fmt.Errorf("failed to build inventory: %w", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Package", "From", "Kind", "Files", "Size", "Source"})

	for _, entry := range inventory {
		from := string(entry.From)
		if from == "" {
			from = "any"
		}

		// An empty kind means the package is not vendored yet
		kind := string(entry.Kind)
		files := "-"
		size := "-"
		if kind == "" {
			kind = "-"
		} else {
			files = strconv.Itoa(entry.Files)
			size = fsutil.FormatBytes(entry.SizeBytes)
		}

		source := entry.Source
		if source == "" {
			source = color.RedString("not found")
		}

		table.Append([]string{entry.Name, from, kind, files, size, source})
	}

	table.Render()
	return nil
}

func runVerify(s *bootstrap.Stagehand) error {
	results, err := s.Vendorer().Verify(context.Background())
	if err != nil {
		return fmt.Errorf("verify failed: %w", err)
	}

	if len(results) == 0 {
		printInfo("No packages configured")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PACKAGE\tVENDORED\tDETAIL")
	fmt.Fprintln(w, "-------\t--------\t------")

	issues := 0
	for _, result := range results {
		status := color.GreenString(string(result.Status))
		if result.Status != vendoring.VerifyOK {
			status = color.RedString(string(result.Status))
			issues++
		}

		detail := result.Detail
		if detail == "" {
			detail = "-"
		}

		fmt.Fprintf(w, "%s\t%s\t%s\n", result.Name, status, detail)
	}

	w.Flush()

	if issues > 0 {
		return fmt.Errorf("%d vendored package(s) out of sync", issues)
	}
	printSuccess("Vendored libraries match their sources")
	return nil
}

func runClean(cleanEnv, cleanLib bool) error {
	// Remove state and log directory
	stateDir := state.RootDir(projectRoot)
	if err := os.RemoveAll(stateDir); err != nil {
		return fmt.Errorf("failed to remove state directory: %w", err)
	}
	removed := []string{filepath.Base(stateDir)}

	if cleanEnv || cleanLib {
		cfg, err := loadConfig(getConfigPath())
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		tc := toolchain.New(projectRoot, cfg)

		if cleanEnv {
			if err := os.RemoveAll(tc.EnvDir()); err != nil {
				return fmt.Errorf("failed to remove environment: %w", err)
			}
			removed = append(removed, cfg.Workspace.GetEnvDir())
		}

		if cleanLib {
			if err := os.RemoveAll(tc.LibDir()); err != nil {
				return fmt.Errorf("failed to remove vendored libraries: %w", err)
			}
			removed = append(removed, filepath.Join(cfg.Workspace.GetSrcDir(), cfg.Workspace.GetLibDir()))
		}
	}

	printSuccess(fmt.Sprintf("Cleaned %s", strings.Join(removed, ", ")))
	return nil
}

func runValidate() error {
	configPath := getConfigPath()

	cfg, err := loadConfig(configPath)
	if err != nil {
		printError(fmt.Sprintf("Configuration is invalid: %v", err))
		return err
	}

	result := validation.NewWorkspaceValidator(projectRoot).Validate(cfg)

	errors := 0
	warnings := 0
	for _, finding := range result.Errors {
		switch finding.Level {
		case validation.ValidationLevelError:
			errors++
			fmt.Printf("  %s %s\n", color.RedString("✗"), finding.Error())
		case validation.ValidationLevelWarning:
			warnings++
			fmt.Printf("  %s %s\n", color.YellowString("⚠"), finding.Error())
		default:
			fmt.Printf("  %s %s\n", color.CyanString("ℹ"), finding.Error())
		}
	}

	if errors > 0 {
		printError(fmt.Sprintf("Configuration has %d error(s)", errors))
		return fmt.Errorf("configuration has %d error(s)", errors)
	}

	if warnings > 0 {
		printWarning(fmt.Sprintf("Configuration is usable with %d warning(s)", warnings))
		return nil
	}

	printSuccess("Configuration is valid")
	return nil
}

func runLogs(taskName string, follow bool, lines int) error {
	logDir := tasks.LogDir(projectRoot)

	// Check if log directory exists
	if _, err := os.Stat(logDir); os.IsNotExist(err) {
		printWarning("No logs found. Run 'stagehand setup' to start logging.")
		return nil
	}

	// Get log files to display
	var logFiles []string
	if taskName != "" {
		taskLogFile := filepath.Join(logDir, fmt.Sprintf("%s.log", taskName))
		if _, err := os.Stat(taskLogFile); os.IsNotExist(err) {
			return fmt.Errorf("no logs found for task: %s", taskName)
		}
		logFiles = []string{taskLogFile}
		printInfo(fmt.Sprintf("Showing logs for task: %s", taskName))
	} else {
		entries, err := os.ReadDir(logDir)
		if err != nil {
			return fmt.Errorf("failed to read log directory: %w", err)
		}

		for _, entry := range entries {
			if !entry.IsDir() && filepath.Ext(entry.Name()) == ".log" {
				logFiles = append(logFiles, filepath.Join(logDir, entry.Name()))
			}
		}

		if len(logFiles) == 0 {
			printWarning("No log files found")
			return nil
		}
		printInfo("Showing all logs")
	}

	// Display logs
	for _, logFile := range logFiles {
		if err := displayLogFile(logFile, lines, follow); err != nil {
			printError(fmt.Sprintf("Failed to display %s: %v", filepath.Base(logFile), err))
		}
	}

	return nil
}

func displayLogFile(logFile string, lines int, follow bool) error {
	if follow {
		// Use tail -f for following logs
		cmd := exec.Command("tail", "-f", "-n", fmt.Sprintf("%d", lines), logFile)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		// Handle interrupt gracefully
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt)
		go func() {
			<-sigChan
			if cmd.Process != nil {
				cmd.Process.Kill()
			}
		}()

		return cmd.Run()
	}

	// Read last N lines
	content, err := readLastNLines(logFile, lines)
	if err != nil {
		return err
	}

	// Print header if multiple files
	taskName := strings.TrimSuffix(filepath.Base(logFile), ".log")
	fmt.Printf("\n=== %s ===\n", taskName)
	fmt.Print(content)

	return nil
}

func readLastNLines(filename string, n int) (string, error) {
	file, err := os.Open(filename)
	if err != nil {
		return "", err
	}
	defer file.Close()

	// Read all lines
	var allLines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		allLines = append(allLines, scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		return "", err
	}

	// Get last N lines
	start := 0
	if len(allLines) > n {
		start = len(allLines) - n
	}

	lastLines := allLines[start:]
	return strings.Join(lastLines, "\n") + "\n", nil
}
