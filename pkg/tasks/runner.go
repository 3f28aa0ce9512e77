package tasks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/stagehand/stagehand/pkg/interfaces"
	"github.com/stagehand/stagehand/pkg/logger"
	"github.com/stagehand/stagehand/pkg/state"
	"github.com/stagehand/stagehand/pkg/trace"
	"github.com/stagehand/stagehand/pkg/types"
)

// StepResult records the outcome of one task in a run
type StepResult struct {
	Task     string
	Status   types.StepStatus
	Duration time.Duration
	Err      error
}

// Report summarizes one runner invocation
type Report struct {
	RunID     string
	StartTime time.Time
	Duration  time.Duration
	Results   []StepResult
}

// Succeeded reports whether no step failed or was blocked
func (r *Report) Succeeded() bool {
	for _, result := range r.Results {
		if result.Status == types.StepStatusFailed || result.Status == types.StepStatusBlocked {
			return false
		}
	}
	return true
}

// FirstError returns the error of the first failed step
func (r *Report) FirstError() error {
	for _, result := range r.Results {
		if result.Err != nil {
			return result.Err
		}
	}
	return nil
}

// LogDir returns the directory holding per-task log files
func LogDir(projectRoot string) string {
	return filepath.Join(state.RootDir(projectRoot), "logs")
}

// Runner executes resolved task plans sequentially. The first failure
// marks every remaining task blocked and ends the run.
type Runner struct {
	registry     *Registry
	projectRoot  string
	logger       logger.Logger
	stateManager interfaces.StateManager
}

// NewRunner creates a runner over a registry
func NewRunner(
	registry *Registry,
	projectRoot string,
	log logger.Logger,
	stateManager interfaces.StateManager,
) *Runner {
	return &Runner{
		registry:     registry,
		projectRoot:  projectRoot,
		logger:       log,
		stateManager: stateManager,
	}
}

// Run resolves the requested names into a plan and executes it. The
// returned report always covers the whole plan; the error is the first
// step failure, or a resolution or locking problem.
func (r *Runner) Run(ctx context.Context, names ...string) (*Report, error) {
	plan, err := r.registry.Resolve(names...)
	if err != nil {
		return nil, err
	}

	// Refuse to race another live process over the same steps
	if r.stateManager != nil {
		for _, task := range plan {
			locked, err := r.stateManager.IsLocked(task.Name)
			if err != nil {
				return nil, fmt.Errorf("failed to check lock for %s: %w", task.Name, err)
			}
			if locked {
				return nil, fmt.Errorf("%w: %s", ErrLocked, task.Name)
			}
		}
	}

	report := &Report{
		RunID:     trace.GenerateRunID(),
		StartTime: time.Now(),
	}
	ctx = trace.WithRunID(ctx, report.RunID)
	ctx = trace.WithStartTime(ctx, report.StartTime)

	if r.stateManager != nil {
		r.stateManager.StartHeartbeat(ctx)
		defer r.stateManager.StopHeartbeat()
	}

	var firstErr error
	for _, task := range plan {
		if firstErr != nil {
			report.Results = append(report.Results, r.recordBlocked(task))
			continue
		}

		result := r.runTask(ctx, task)
		report.Results = append(report.Results, result)

		if result.Status == types.StepStatusFailed {
			firstErr = result.Err
		}
	}

	report.Duration = time.Since(report.StartTime)
	return report, firstErr
}

func (r *Runner) runTask(ctx context.Context, task *Task) StepResult {
	start := time.Now()
	taskCtx := trace.WithTask(ctx, task.Name)

	var taskLogger logger.Logger
	if r.logger != nil {
		// Context wrapping stamps run_id onto every step log line
		taskLogger = logger.WithContext(taskCtx, r.logger.WithTask(task.Name))
	}

	if r.stateManager != nil {
		if _, err := r.stateManager.InitializeState(task.Name); err != nil && taskLogger != nil {
			taskLogger.Warn("Failed to initialize task state", logger.WithField("error", err))
		}
		r.stateManager.UpdateState(task.Name, map[string]interface{}{
			"status": types.StepStatusRunning,
			"runId":  trace.GetRunID(taskCtx),
		})
	}

	logFile, err := r.prepareLogFile(task.Name)
	if err != nil && taskLogger != nil {
		taskLogger.Warn(fmt.Sprintf("Failed to create log file: %v", err))
	}
	defer func() {
		if logFile != nil {
			logFile.Close()
		}
	}()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	r.logToFile(logFile, fmt.Sprintf("\n=== Task %s started at %s ===\n", task.Name, timestamp))

	step := &StepContext{Logger: taskLogger}
	if logFile != nil {
		step.Log = logFile
	}

	err = task.Run(taskCtx, step)
	duration := time.Since(start)

	result := StepResult{
		Task:     task.Name,
		Duration: duration,
	}

	switch {
	case err == nil:
		result.Status = types.StepStatusSucceeded
		r.logToFile(logFile, fmt.Sprintf("\n=== Task SUCCEEDED after %s ===\n", duration))
		if taskLogger != nil {
			taskLogger.Success(fmt.Sprintf("Completed in %s", duration.Round(time.Millisecond)))
		}
	case errors.Is(err, ErrUpToDate):
		result.Status = types.StepStatusFresh
		r.logToFile(logFile, fmt.Sprintf("\n=== Task FRESH after %s ===\n", duration))
		if taskLogger != nil {
			taskLogger.Info("Already up to date")
		}
	default:
		result.Status = types.StepStatusFailed
		result.Err = fmt.Errorf("task %s failed: %w", task.Name, err)
		r.logToFile(logFile, fmt.Sprintf("\n=== Task FAILED after %s ===\nError: %v\n", duration, err))
		if taskLogger != nil {
			taskLogger.Error("Step failed", logger.WithField("error", err))
		}
	}

	if r.stateManager != nil {
		updates := map[string]interface{}{
			"duration": duration,
		}
		if result.Err != nil {
			updates["lastError"] = result.Err.Error()
		} else {
			updates["lastError"] = ""
		}
		r.stateManager.UpdateState(task.Name, updates)
		r.stateManager.UpdateStepStatus(task.Name, result.Status)
	}

	return result
}

func (r *Runner) recordBlocked(task *Task) StepResult {
	if r.stateManager != nil {
		if _, err := r.stateManager.InitializeState(task.Name); err == nil {
			r.stateManager.UpdateStepStatus(task.Name, types.StepStatusBlocked)
		}
	}

	if r.logger != nil {
		r.logger.WithTask(task.Name).Warn("Blocked by earlier failure")
	}

	return StepResult{
		Task:   task.Name,
		Status: types.StepStatusBlocked,
	}
}

func (r *Runner) prepareLogFile(taskName string) (*os.File, error) {
	logDir := LogDir(r.projectRoot)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// Append so successive runs of the same task share one file
	logPath := filepath.Join(logDir, fmt.Sprintf("%s.log", taskName))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return logFile, nil
}

func (r *Runner) logToFile(logFile *os.File, message string) {
	if logFile != nil {
		logFile.WriteString(message)
	}
}
