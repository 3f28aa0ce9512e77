// Package cli provides the command-line interface for Stagehand
package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stagehand/stagehand/pkg/config"
	"github.com/stagehand/stagehand/pkg/fsutil"
	"github.com/stagehand/stagehand/pkg/logger"
	"github.com/stagehand/stagehand/pkg/types"
)

var (
	cfgFile     string
	projectRoot string
	verbosity   string
	version     string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "stagehand",
	Short: "The stage crew for your project workspace",
	Long: `🎭 Stagehand - Reproducible workspace provisioning

Stagehand sets the stage before you work: it provisions an isolated runtime
environment, installs your pinned dependencies, and vendors the libraries
your sources import. Run it bare to read the house notes; run a task to
change the set.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		// Check if version flag is set
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("🎭 Stagehand v%s\n", version)
			return nil
		}
		// A bare invocation prints the reference documents and mutates
		// nothing. A missing config or missing document is not an error.
		return runDocs(cmd.OutOrStdout())
	},
}

// Execute runs the CLI
func Execute(v string) error {
	version = v

	// Initialize the root command explicitly (avoiding init())
	initializeRootCommand()

	return rootCmd.Execute()
}

// initializeRootCommand sets up the root command and its flags.
// This replaces the init() function to make initialization explicit and testable.
func initializeRootCommand() {
	// Set up config initialization
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: stagehand.config.json)")
	rootCmd.PersistentFlags().StringVar(&projectRoot, "root", ".", "project root directory")
	rootCmd.PersistentFlags().StringVarP(&verbosity, "verbosity", "v", "info", "log level (debug, info, warn, error)")

	// Add version flag
	rootCmd.Flags().Bool("version", false, "Print version information and quit")

	// Add subcommands
	rootCmd.AddCommand(newSetupCmd())
	rootCmd.AddCommand(newEnvCmd())
	rootCmd.AddCommand(newVendorCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newTasksCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newExecCmd())
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newCleanCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newLogsCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func initConfig() {
	if cfgFile != "" {
		// Use config file from flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in project root
		viper.AddConfigPath(projectRoot)
		viper.SetConfigName("stagehand.config")
		viper.SetConfigType("json")

		// Also try YAML
		viper.SetConfigName("stagehand.config")
		viper.SetConfigType("yaml")
	}

	// Read in environment variables
	viper.SetEnvPrefix("STAGEHAND")
	viper.AutomaticEnv()

	// Read config file
	if err := viper.ReadInConfig(); err == nil {
		if verbosity == "debug" {
			fmt.Println("Using config file:", viper.ConfigFileUsed())
		}
	}
}

// runDocs prints the configured reference documents. This is the default
// action: a newcomer typing the bare command gets the project's own notes
// on what the workspace is and which tasks exist.
func runDocs(w io.Writer) error {
	var docs *types.DocsConfig
	if cfg, err := loadConfig(getConfigPath()); err == nil {
		docs = cfg.Docs
	}

	for _, doc := range docs.GetFiles() {
		path := doc
		if !filepath.IsAbs(path) {
			path = filepath.Join(projectRoot, path)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			printWarning(fmt.Sprintf("Reference document missing: %s", doc))
			continue
		}

		fmt.Fprintf(w, "=== %s ===\n\n", doc)
		w.Write(data)
		fmt.Fprintln(w)
	}

	return nil
}

// Helper functions

func printSuccess(message string) {
	masks := "🎭"
	fmt.Printf("%s %s %s\n", masks, color.GreenString("[Stagehand]"), message)
}

func printError(message string) {
	masks := "🎭"
	fmt.Fprintf(os.Stderr, "%s %s %s\n", masks, color.RedString("[Stagehand]"), message)
}

func printInfo(message string) {
	masks := "🎭"
	fmt.Printf("%s %s %s\n", masks, color.CyanString("[Stagehand]"), message)
}

func printWarning(message string) {
	masks := "🎭"
	fmt.Printf("%s %s %s\n", masks, color.YellowString("[Stagehand]"), message)
}

// findConfig returns the path of an existing config file in the project
// root, or empty if none exists.
func findConfig() string {
	for _, name := range []string{"stagehand.config.json", "stagehand.config.yaml"} {
		path := filepath.Join(projectRoot, name)
		if fsutil.FileExists(path) {
			return path
		}
	}
	return ""
}

func getConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if existing := findConfig(); existing != "" {
		return existing
	}
	return filepath.Join(projectRoot, "stagehand.config.json")
}

func loadConfig(path string) (*types.StagehandConfig, error) {
	return config.NewManager().LoadConfig(path)
}

// buildLogger creates the logger for a command invocation. The verbosity
// flag wins when set; otherwise the config's logging section applies. A
// configured log file gets a rotating sink.
func buildLogger(cfg *types.StagehandConfig) logger.Logger {
	level := verbosity
	logFile := ""
	rotation := logger.DefaultRotation()

	if cfg != nil && cfg.Logging != nil {
		if cfg.Logging.Level != "" && level == "info" {
			level = string(cfg.Logging.Level)
		}
		if cfg.Logging.File != "" {
			logFile = cfg.Logging.File
			if !filepath.IsAbs(logFile) {
				logFile = filepath.Join(projectRoot, logFile)
			}
			if cfg.Logging.MaxSizeMB > 0 {
				rotation.MaxSizeMB = cfg.Logging.MaxSizeMB
			}
			if cfg.Logging.MaxBackups > 0 {
				rotation.MaxBackups = cfg.Logging.MaxBackups
			}
			if cfg.Logging.MaxAgeDays > 0 {
				rotation.MaxAgeDays = cfg.Logging.MaxAgeDays
			}
		}
	}

	return logger.CreateLoggerWithRotation(logFile, level, rotation)
}
