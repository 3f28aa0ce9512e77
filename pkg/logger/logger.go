// Package logger provides enhanced logging with task-specific support
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger interface for abstracted logging
type Logger interface {
	Info(message string, fields ...Field)
	Error(message string, fields ...Field)
	Warn(message string, fields ...Field)
	Debug(message string, fields ...Field)
	Success(message string, fields ...Field)
	WithTask(task string) Logger
}

// Field represents a structured logging field
type Field struct {
	Key   string
	Value interface{}
}

// WithField creates a new field
func WithField(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// RotationOptions controls the rotating file sink
type RotationOptions struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DefaultRotation returns the rotation settings used when none are configured
func DefaultRotation() RotationOptions {
	return RotationOptions{
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 28,
	}
}

// TaskLogger implements Logger with task awareness
type TaskLogger struct {
	logger   *logrus.Logger
	taskName string
	mu       sync.RWMutex
}

// CustomFormatter formats logs with colors and emojis
type CustomFormatter struct {
	TimestampFormat string
	DisableColors   bool
}

// Format implements logrus.Formatter
func (f *CustomFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	mask := "🎭"
	timestamp := entry.Time.Format(f.TimestampFormat)

	// Color the level
	var levelColor *color.Color
	var levelText string

	switch entry.Level {
	case logrus.ErrorLevel:
		levelColor = color.New(color.FgRed, color.Bold)
		levelText = "ERROR"
	case logrus.WarnLevel:
		levelColor = color.New(color.FgYellow, color.Bold)
		levelText = "WARN"
	case logrus.InfoLevel:
		levelColor = color.New(color.FgCyan)
		levelText = "INFO"
	case logrus.DebugLevel:
		levelColor = color.New(color.FgWhite, color.Faint)
		levelText = "DEBUG"
	default:
		levelColor = color.New(color.FgGreen)
		levelText = "SUCCESS"
	}

	// Build task prefix
	taskPrefix := ""
	if task, ok := entry.Data["task"]; ok {
		taskPrefix = fmt.Sprintf("[%s] ", color.New(color.FgBlue).Sprint(task))
		delete(entry.Data, "task") // Remove from data to avoid duplication
	}

	// Format the message
	var output string
	if f.DisableColors {
		output = fmt.Sprintf("%s [%s] %s: %s%s", mask, timestamp, levelText, taskPrefix, entry.Message)
	} else {
		output = fmt.Sprintf("%s [%s] %s: %s%s",
			mask,
			timestamp,
			levelColor.Sprint(levelText),
			taskPrefix,
			entry.Message,
		)
	}

	// Add remaining fields
	if len(entry.Data) > 0 {
		fields := " {"
		first := true
		for k, v := range entry.Data {
			if !first {
				fields += ", "
			}
			fields += fmt.Sprintf("%s=%v", k, v)
			first = false
		}
		fields += "}"
		output += color.New(color.FgWhite, color.Faint).Sprint(fields)
	}

	return []byte(output + "\n"), nil
}

// CreateLogger creates a new logger instance
func CreateLogger(logFile string, logLevel string) Logger {
	return CreateLoggerWithRotation(logFile, logLevel, DefaultRotation())
}

// CreateLoggerWithRotation creates a logger whose file sink rotates
func CreateLoggerWithRotation(logFile string, logLevel string, rotation RotationOptions) Logger {
	log := logrus.New()

	// Set log level
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	// Set custom formatter for console
	log.SetFormatter(&CustomFormatter{
		TimestampFormat: "15:04:05",
		DisableColors:   false,
	})

	// Add rotating file output if specified
	if logFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    rotation.MaxSizeMB,
			MaxBackups: rotation.MaxBackups,
			MaxAge:     rotation.MaxAgeDays,
		}
		log.SetOutput(io.MultiWriter(os.Stdout, rotator))
	}

	return &TaskLogger{
		logger: log,
	}
}

// CreateTaskLogger creates a logger for a specific task
func CreateTaskLogger(baseLogger Logger, taskName string) Logger {
	if tl, ok := baseLogger.(*TaskLogger); ok {
		return &TaskLogger{
			logger:   tl.logger,
			taskName: taskName,
		}
	}
	return baseLogger
}

// CreateLoggerWithOutput creates a logger with custom output (for testing)
func CreateLoggerWithOutput(logFile string, logLevel string, output io.Writer) Logger {
	log := logrus.New()

	// Set log level
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	// Set custom formatter for console
	log.SetFormatter(&CustomFormatter{
		TimestampFormat: "15:04:05",
		DisableColors:   true, // Disable colors for test output
	})

	// Set custom output
	log.SetOutput(output)

	return &TaskLogger{
		logger: log,
	}
}

// WithTask creates a new logger with task context
func (l *TaskLogger) WithTask(task string) Logger {
	return &TaskLogger{
		logger:   l.logger,
		taskName: task,
	}
}

// convertFields converts Field slice to logrus.Fields
func (l *TaskLogger) convertFields(fields []Field) logrus.Fields {
	result := make(logrus.Fields)
	if l.taskName != "" {
		result["task"] = l.taskName
	}
	for _, f := range fields {
		result[f.Key] = f.Value
	}
	return result
}

// Info logs an info message
func (l *TaskLogger) Info(message string, fields ...Field) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.logger.WithFields(l.convertFields(fields)).Info(message)
}

// Error logs an error message
func (l *TaskLogger) Error(message string, fields ...Field) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.logger.WithFields(l.convertFields(fields)).Error(message)
}

// Warn logs a warning message
func (l *TaskLogger) Warn(message string, fields ...Field) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.logger.WithFields(l.convertFields(fields)).Warn(message)
}

// Debug logs a debug message
func (l *TaskLogger) Debug(message string, fields ...Field) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.logger.WithFields(l.convertFields(fields)).Debug(message)
}

// Success logs a success message (info level with special formatting)
func (l *TaskLogger) Success(message string, fields ...Field) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.logger.WithFields(l.convertFields(fields)).Info("✅ " + message)
}

// SimpleLogger provides a lightweight logger without dependencies
type SimpleLogger struct {
	taskName string
	logLevel logrus.Level
	mu       sync.RWMutex
}

// NewSimpleLogger creates a simple console logger
func NewSimpleLogger(taskName string, logLevel string) Logger {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}

	return &SimpleLogger{
		taskName: taskName,
		logLevel: level,
	}
}

// shouldLog checks if message should be logged at given level
func (l *SimpleLogger) shouldLog(level logrus.Level) bool {
	return level <= l.logLevel
}

// formatMessage formats a log message
func (l *SimpleLogger) formatMessage(level, message string) string {
	mask := "🎭"
	time := time.Now().Format("15:04:05")
	task := ""
	if l.taskName != "" {
		task = fmt.Sprintf(" [%s]", l.taskName)
	}
	return fmt.Sprintf("%s [%s] %s:%s %s", mask, time, level, task, message)
}

// WithTask creates a new logger with task context
func (l *SimpleLogger) WithTask(task string) Logger {
	return &SimpleLogger{
		taskName: task,
		logLevel: l.logLevel,
	}
}

// Info logs an info message
func (l *SimpleLogger) Info(message string, fields ...Field) {
	if l.shouldLog(logrus.InfoLevel) {
		l.mu.RLock()
		defer l.mu.RUnlock()
		fmt.Println(l.formatMessage("INFO", message))
		if len(fields) > 0 {
			l.printFields(fields)
		}
	}
}

// Error logs an error message
func (l *SimpleLogger) Error(message string, fields ...Field) {
	if l.shouldLog(logrus.ErrorLevel) {
		l.mu.RLock()
		defer l.mu.RUnlock()
		fmt.Fprintln(os.Stderr, color.RedString(l.formatMessage("ERROR", message)))
		if len(fields) > 0 {
			l.printFields(fields)
		}
	}
}

// Warn logs a warning message
func (l *SimpleLogger) Warn(message string, fields ...Field) {
	if l.shouldLog(logrus.WarnLevel) {
		l.mu.RLock()
		defer l.mu.RUnlock()
		fmt.Println(color.YellowString(l.formatMessage("WARN", message)))
		if len(fields) > 0 {
			l.printFields(fields)
		}
	}
}

// Debug logs a debug message
func (l *SimpleLogger) Debug(message string, fields ...Field) {
	if l.shouldLog(logrus.DebugLevel) {
		l.mu.RLock()
		defer l.mu.RUnlock()
		fmt.Println(color.New(color.Faint).Sprint(l.formatMessage("DEBUG", message)))
		if len(fields) > 0 {
			l.printFields(fields)
		}
	}
}

// Success logs a success message
func (l *SimpleLogger) Success(message string, fields ...Field) {
	if l.shouldLog(logrus.InfoLevel) {
		l.mu.RLock()
		defer l.mu.RUnlock()
		fmt.Println(color.GreenString(l.formatMessage("INFO", "✅ "+message)))
		if len(fields) > 0 {
			l.printFields(fields)
		}
	}
}

// printFields prints structured fields
func (l *SimpleLogger) printFields(fields []Field) {
	for _, f := range fields {
		fmt.Printf("  %s: %v\n", f.Key, f.Value)
	}
}

// ConsoleLogger provides simple console output for CLI
type ConsoleLogger struct{}

// NewConsoleLogger creates a console logger for CLI output
func NewConsoleLogger() *ConsoleLogger {
	return &ConsoleLogger{}
}

// Info prints info message
func (c *ConsoleLogger) Info(message string) {
	mask := "🎭"
	fmt.Printf("%s %s %s\n", mask, color.CyanString("[Stagehand]"), message)
}

// Error prints error message
func (c *ConsoleLogger) Error(message string) {
	mask := "🎭"
	fmt.Fprintf(os.Stderr, "%s %s %s\n", mask, color.RedString("[Stagehand]"), message)
}

// Warn prints warning message
func (c *ConsoleLogger) Warn(message string) {
	mask := "🎭"
	fmt.Printf("%s %s %s\n", mask, color.YellowString("[Stagehand]"), message)
}

// Success prints success message
func (c *ConsoleLogger) Success(message string) {
	mask := "🎭"
	fmt.Printf("%s %s ✅ %s\n", mask, color.GreenString("[Stagehand]"), message)
}
