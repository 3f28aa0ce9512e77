// Package state provides persistent step state for Stagehand
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/stagehand/stagehand/pkg/logger"
	"github.com/stagehand/stagehand/pkg/types"
)

// StepState represents the persistent state of a provisioning task
type StepState struct {
	TaskName     string                 `json:"taskName"`
	Status       types.StepStatus       `json:"status"`
	LastRunTime  time.Time              `json:"lastRunTime"`
	RunCount     int                    `json:"runCount"`
	FailureCount int                    `json:"failureCount"`
	ProcessID    int                    `json:"processId"`
	Heartbeat    time.Time              `json:"heartbeat"`
	LastError    string                 `json:"lastError,omitempty"`
	Duration     time.Duration          `json:"duration,omitempty"`
	RunID        string                 `json:"runId,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// RootDir returns the stagehand metadata directory for a project
func RootDir(projectRoot string) string {
	return filepath.Join(projectRoot, ".stagehand")
}

// StateManager handles persistent state files
type StateManager struct {
	stateDir       string
	logger         logger.Logger
	mu             sync.RWMutex
	states         map[string]*StepState
	heartbeatStop  chan struct{}
	heartbeatTimer *time.Ticker
}

// NewStateManager creates a new state manager
func NewStateManager(projectRoot string, log logger.Logger) *StateManager {
	stateDir := filepath.Join(RootDir(projectRoot), "state")

	// Ensure state directory exists
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		log.Error("Failed to create state directory", logger.WithField("error", err))
	}

	return &StateManager{
		stateDir: stateDir,
		logger:   log,
		states:   make(map[string]*StepState),
	}
}

// InitializeState creates or updates state for a task
func (sm *StateManager) InitializeState(taskName string) (*StepState, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	state := &StepState{
		TaskName:  taskName,
		Status:    types.StepStatusIdle,
		ProcessID: os.Getpid(),
		Heartbeat: time.Now(),
		Metadata:  make(map[string]interface{}),
	}

	// Preserve run statistics across invocations
	existingState, err := sm.loadStateFile(taskName)
	if err == nil && existingState != nil {
		state.RunCount = existingState.RunCount
		state.FailureCount = existingState.FailureCount
		state.LastRunTime = existingState.LastRunTime
		state.Duration = existingState.Duration
	}

	if err := sm.saveStateFile(state); err != nil {
		return nil, fmt.Errorf("failed to save initial state: %w", err)
	}

	sm.states[taskName] = state
	return state, nil
}

// ReadState reads the state for a task
func (sm *StateManager) ReadState(taskName string) (*StepState, error) {
	sm.mu.RLock()

	if state, ok := sm.states[taskName]; ok {
		sm.mu.RUnlock()
		return state, nil
	}
	sm.mu.RUnlock()

	return sm.loadStateFile(taskName)
}

// UpdateState updates the state for a task
func (sm *StateManager) UpdateState(taskName string, updates map[string]interface{}) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	state, ok := sm.states[taskName]
	if !ok {
		var err error
		state, err = sm.loadStateFile(taskName)
		if err != nil {
			return fmt.Errorf("task state not found: %s", taskName)
		}
		sm.states[taskName] = state
	}

	for key, value := range updates {
		switch key {
		case "status":
			if status, ok := value.(types.StepStatus); ok {
				state.Status = status
			}
		case "lastRunTime":
			if t, ok := value.(time.Time); ok {
				state.LastRunTime = t
			}
		case "runCount":
			if count, ok := value.(int); ok {
				state.RunCount = count
			}
		case "failureCount":
			if count, ok := value.(int); ok {
				state.FailureCount = count
			}
		case "lastError":
			if err, ok := value.(string); ok {
				state.LastError = err
			}
		case "duration":
			if duration, ok := value.(time.Duration); ok {
				state.Duration = duration
			}
		case "runId":
			if id, ok := value.(string); ok {
				state.RunID = id
			}
		default:
			if state.Metadata == nil {
				state.Metadata = make(map[string]interface{})
			}
			state.Metadata[key] = value
		}
	}

	state.Heartbeat = time.Now()

	return sm.saveStateFile(state)
}

// UpdateStepStatus updates the status for a task, maintaining run counters
func (sm *StateManager) UpdateStepStatus(taskName string, status types.StepStatus) error {
	updates := map[string]interface{}{
		"status": status,
	}

	switch status {
	case types.StepStatusSucceeded, types.StepStatusFresh, types.StepStatusFailed:
		updates["lastRunTime"] = time.Now()

		sm.mu.RLock()
		state, ok := sm.states[taskName]
		sm.mu.RUnlock()

		if ok {
			if status == types.StepStatusFailed {
				updates["failureCount"] = state.FailureCount + 1
			} else {
				updates["runCount"] = state.RunCount + 1
			}
		}
	}

	return sm.UpdateState(taskName, updates)
}

// RemoveState removes the state for a task
func (sm *StateManager) RemoveState(taskName string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	delete(sm.states, taskName)

	stateFile := sm.getStateFilePath(taskName)
	if err := os.Remove(stateFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove state file: %w", err)
	}

	return nil
}

// IsLocked checks if a task is held by another live process
func (sm *StateManager) IsLocked(taskName string) (bool, error) {
	state, err := sm.loadStateFile(taskName)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	if state.ProcessID == 0 || state.ProcessID == os.Getpid() {
		return false, nil
	}

	// Consider the holder dead if the heartbeat went stale
	if time.Since(state.Heartbeat) > 30*time.Second {
		return false, nil
	}

	process, err := os.FindProcess(state.ProcessID)
	if err != nil {
		return false, nil
	}

	// Signal 0 probes for existence without touching the process
	if err := process.Signal(syscall.Signal(0)); err != nil {
		return false, nil
	}

	return true, nil
}

// DiscoverStates finds all existing state files
func (sm *StateManager) DiscoverStates() (map[string]*StepState, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	states := make(map[string]*StepState)

	files, err := os.ReadDir(sm.stateDir)
	if err != nil {
		if os.IsNotExist(err) {
			return states, nil
		}
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	for _, file := range files {
		if filepath.Ext(file.Name()) != ".json" {
			continue
		}

		taskName := file.Name()[:len(file.Name())-5] // Remove .json
		state, err := sm.loadStateFile(taskName)
		if err != nil {
			sm.logger.Warn("Failed to load state file",
				logger.WithField("task", taskName),
				logger.WithField("error", err))
			continue
		}

		states[taskName] = state
	}

	return states, nil
}

// StartHeartbeat starts the heartbeat updater
func (sm *StateManager) StartHeartbeat(ctx context.Context) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.heartbeatTimer != nil {
		return // Already running
	}

	sm.heartbeatStop = make(chan struct{})
	sm.heartbeatTimer = time.NewTicker(10 * time.Second)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sm.heartbeatStop:
				return
			case <-sm.heartbeatTimer.C:
				sm.updateHeartbeats()
			}
		}
	}()
}

// StopHeartbeat stops the heartbeat updater
func (sm *StateManager) StopHeartbeat() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.heartbeatTimer != nil {
		sm.heartbeatTimer.Stop()
		sm.heartbeatTimer = nil
	}

	if sm.heartbeatStop != nil {
		close(sm.heartbeatStop)
		sm.heartbeatStop = nil
	}
}

// Cleanup releases our hold on all task states
func (sm *StateManager) Cleanup() error {
	sm.StopHeartbeat()

	sm.mu.Lock()
	defer sm.mu.Unlock()

	for _, state := range sm.states {
		state.ProcessID = 0
		if err := sm.saveStateFile(state); err != nil {
			sm.logger.Warn("Failed to save final state",
				logger.WithField("task", state.TaskName),
				logger.WithField("error", err))
		}
	}

	return nil
}

// Private methods

func (sm *StateManager) getStateFilePath(taskName string) string {
	return filepath.Join(sm.stateDir, taskName+".json")
}

func (sm *StateManager) loadStateFile(taskName string) (*StepState, error) {
	stateFile := sm.getStateFilePath(taskName)

	data, err := os.ReadFile(stateFile)
	if err != nil {
		return nil, err
	}

	var state StepState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}

	return &state, nil
}

func (sm *StateManager) saveStateFile(state *StepState) error {
	stateFile := sm.getStateFilePath(state.TaskName)

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	// Write atomically
	tempFile := stateFile + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}

	if err := os.Rename(tempFile, stateFile); err != nil {
		os.Remove(tempFile) // Clean up
		return fmt.Errorf("failed to rename state file: %w", err)
	}

	return nil
}

func (sm *StateManager) updateHeartbeats() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := time.Now()
	for _, state := range sm.states {
		state.Heartbeat = now
		if err := sm.saveStateFile(state); err != nil {
			sm.logger.Debug("Failed to update heartbeat",
				logger.WithField("task", state.TaskName),
				logger.WithField("error", err))
		}
	}
}
