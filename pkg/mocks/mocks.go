// Package mocks provides mock implementations of interfaces for testing.
package mocks

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/stagehand/stagehand/pkg/interfaces"
	"github.com/stagehand/stagehand/pkg/state"
	"github.com/stagehand/stagehand/pkg/types"
)

// MockStateManager is a mock implementation of StateManager for testing
type MockStateManager struct {
	mu           sync.RWMutex
	states       map[string]*state.StepState
	locked       map[string]bool
	initError    error
	updateError  error
	lockError    error
	cleanupError error
	heartbeatCh  chan struct{}
}

// NewMockStateManager creates a new mock state manager
func NewMockStateManager() *MockStateManager {
	return &MockStateManager{
		states:      make(map[string]*state.StepState),
		locked:      make(map[string]bool),
		heartbeatCh: make(chan struct{}, 1),
	}
}

// InitializeState initializes state for a task
func (m *MockStateManager) InitializeState(taskName string) (*state.StepState, error) {
	if m.initError != nil {
		return nil, m.initError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stepState := &state.StepState{
		TaskName:  taskName,
		Status:    types.StepStatusIdle,
		ProcessID: os.Getpid(),
		Heartbeat: time.Now(),
	}

	if existing, ok := m.states[taskName]; ok {
		stepState.RunCount = existing.RunCount
		stepState.FailureCount = existing.FailureCount
		stepState.LastRunTime = existing.LastRunTime
	}

	m.states[taskName] = stepState
	return stepState, nil
}

// ReadState retrieves the state for a task
func (m *MockStateManager) ReadState(taskName string) (*state.StepState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stepState, ok := m.states[taskName]
	if !ok {
		return nil, os.ErrNotExist
	}

	return stepState, nil
}

// UpdateState applies keyed updates to a task's state
func (m *MockStateManager) UpdateState(taskName string, updates map[string]interface{}) error {
	if m.updateError != nil {
		return m.updateError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stepState, ok := m.states[taskName]
	if !ok {
		return nil
	}

	for key, value := range updates {
		switch key {
		case "status":
			if status, ok := value.(types.StepStatus); ok {
				stepState.Status = status
			}
		case "lastError":
			if message, ok := value.(string); ok {
				stepState.LastError = message
			}
		case "runId":
			if runID, ok := value.(string); ok {
				stepState.RunID = runID
			}
		case "duration":
			if duration, ok := value.(time.Duration); ok {
				stepState.Duration = duration
			}
		}
	}

	stepState.Heartbeat = time.Now()
	return nil
}

// UpdateStepStatus updates the status of a task
func (m *MockStateManager) UpdateStepStatus(taskName string, status types.StepStatus) error {
	if m.updateError != nil {
		return m.updateError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stepState, ok := m.states[taskName]
	if !ok {
		return nil
	}

	stepState.Status = status
	switch status {
	case types.StepStatusFailed:
		stepState.FailureCount++
		stepState.LastRunTime = time.Now()
	case types.StepStatusSucceeded, types.StepStatusFresh:
		stepState.RunCount++
		stepState.LastRunTime = time.Now()
	}

	return nil
}

// RemoveState removes the state for a task
func (m *MockStateManager) RemoveState(taskName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.states, taskName)
	return nil
}

// IsLocked reports whether another process holds the task
func (m *MockStateManager) IsLocked(taskName string) (bool, error) {
	if m.lockError != nil {
		return false, m.lockError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.locked[taskName], nil
}

// DiscoverStates returns all known task states
func (m *MockStateManager) DiscoverStates() (map[string]*state.StepState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make(map[string]*state.StepState, len(m.states))
	for name, stepState := range m.states {
		states[name] = stepState
	}

	return states, nil
}

// StartHeartbeat starts the heartbeat mechanism
func (m *MockStateManager) StartHeartbeat(ctx context.Context) {
	select {
	case m.heartbeatCh <- struct{}{}:
	default:
	}
}

// StopHeartbeat stops the heartbeat mechanism
func (m *MockStateManager) StopHeartbeat() {
	// No-op for mock
}

// Cleanup performs cleanup operations
func (m *MockStateManager) Cleanup() error {
	return m.cleanupError
}

// SetLocked marks a task as locked by another process
func (m *MockStateManager) SetLocked(taskName string, locked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked[taskName] = locked
}

// SetInitError sets the error to return from InitializeState
func (m *MockStateManager) SetInitError(err error) {
	m.initError = err
}

// SetUpdateError sets the error to return from UpdateState
func (m *MockStateManager) SetUpdateError(err error) {
	m.updateError = err
}

// SetLockError sets the error to return from IsLocked
func (m *MockStateManager) SetLockError(err error) {
	m.lockError = err
}

// SetCleanupError sets the error to return from Cleanup
func (m *MockStateManager) SetCleanupError(err error) {
	m.cleanupError = err
}

// MockNotifier is a mock implementation of ProvisionNotifier for testing
type MockNotifier struct {
	mu        sync.Mutex
	starts    []string
	successes []string
	failures  []string
}

// NewMockNotifier creates a new mock notifier
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

// NotifyRunStart records a run start notification
func (m *MockNotifier) NotifyRunStart(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts = append(m.starts, name)
}

// NotifyRunSuccess records a success notification
func (m *MockNotifier) NotifyRunSuccess(name string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successes = append(m.successes, name)
}

// NotifyRunFailure records a failure notification
func (m *MockNotifier) NotifyRunFailure(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, name)
}

// Starts returns the recorded run start notifications
func (m *MockNotifier) Starts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.starts...)
}

// Successes returns the recorded success notifications
func (m *MockNotifier) Successes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.successes...)
}

// Failures returns the recorded failure notifications
func (m *MockNotifier) Failures() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.failures...)
}

// MockConfigManager is a mock implementation of ConfigManager for testing
type MockConfigManager struct {
	config        *types.StagehandConfig
	loadError     error
	validateError error
}

// NewMockConfigManager creates a new mock config manager
func NewMockConfigManager(config *types.StagehandConfig) *MockConfigManager {
	return &MockConfigManager{config: config}
}

// LoadConfig returns the configured config or error
func (m *MockConfigManager) LoadConfig(path string) (*types.StagehandConfig, error) {
	if m.loadError != nil {
		return nil, m.loadError
	}
	return m.config, nil
}

// ValidateConfig returns the configured validation error
func (m *MockConfigManager) ValidateConfig(config *types.StagehandConfig) error {
	return m.validateError
}

// GetDefaultConfig returns a minimal config for the runtime
func (m *MockConfigManager) GetDefaultConfig(runtime types.Runtime) *types.StagehandConfig {
	return &types.StagehandConfig{
		Version: "1.0",
		Runtime: runtime,
	}
}

// SetLoadError sets the error to return from LoadConfig
func (m *MockConfigManager) SetLoadError(err error) {
	m.loadError = err
}

// SetValidateError sets the error to return from ValidateConfig
func (m *MockConfigManager) SetValidateError(err error) {
	m.validateError = err
}

// MockInputWatcher is a mock implementation of InputWatcher for testing
type MockInputWatcher struct {
	mu       sync.Mutex
	paths    []string
	callback interfaces.FileChangeCallback
	addError error
	started  bool
	closed   bool
}

// NewMockInputWatcher creates a new mock input watcher
func NewMockInputWatcher() *MockInputWatcher {
	return &MockInputWatcher{}
}

// Add records a watched path
func (m *MockInputWatcher) Add(path string) error {
	if m.addError != nil {
		return m.addError
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.paths = append(m.paths, path)
	return nil
}

// Start stores the callback for later triggering
func (m *MockInputWatcher) Start(ctx context.Context, callback interfaces.FileChangeCallback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callback = callback
	m.started = true
	return nil
}

// Close marks the watcher closed
func (m *MockInputWatcher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// TriggerChanges invokes the stored callback with a batch of changes
func (m *MockInputWatcher) TriggerChanges(changes ...interfaces.FileChange) {
	m.mu.Lock()
	callback := m.callback
	m.mu.Unlock()

	if callback != nil {
		callback(changes)
	}
}

// Paths returns the watched paths
func (m *MockInputWatcher) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.paths...)
}

// IsStarted reports whether Start was called
func (m *MockInputWatcher) IsStarted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// IsClosed reports whether Close was called
func (m *MockInputWatcher) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// SetAddError sets the error to return from Add
func (m *MockInputWatcher) SetAddError(err error) {
	m.addError = err
}

// MockProcessManager is a mock implementation of ProcessManager for testing
type MockProcessManager struct {
	mu       sync.Mutex
	handlers []func()
	running  bool
}

// NewMockProcessManager creates a new mock process manager
func NewMockProcessManager() *MockProcessManager {
	return &MockProcessManager{}
}

// RegisterShutdownHandler records a shutdown handler
func (m *MockProcessManager) RegisterShutdownHandler(handler func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

// Start marks the manager running
func (m *MockProcessManager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = true
}

// Stop runs the shutdown handlers in reverse registration order
func (m *MockProcessManager) Stop() {
	m.mu.Lock()
	handlers := append(([]func())(nil), m.handlers...)
	m.running = false
	m.mu.Unlock()

	for i := len(handlers) - 1; i >= 0; i-- {
		handlers[i]()
	}
}

// IsRunning reports whether Start was called without a matching Stop
func (m *MockProcessManager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
