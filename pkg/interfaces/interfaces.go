// Package interfaces provides abstractions for dependency injection and testability
package interfaces

import (
	"context"
	"time"

	"github.com/stagehand/stagehand/pkg/state"
	"github.com/stagehand/stagehand/pkg/types"
)

// StateManager handles persistent state for provisioning tasks
type StateManager interface {
	InitializeState(taskName string) (*state.StepState, error)
	ReadState(taskName string) (*state.StepState, error)
	UpdateState(taskName string, updates map[string]interface{}) error
	UpdateStepStatus(taskName string, status types.StepStatus) error
	RemoveState(taskName string) error
	IsLocked(taskName string) (bool, error)
	DiscoverStates() (map[string]*state.StepState, error)
	StartHeartbeat(ctx context.Context)
	StopHeartbeat()
	Cleanup() error
}

// ProvisionNotifier delivers desktop notifications for provisioning runs
type ProvisionNotifier interface {
	NotifyRunStart(name string)
	NotifyRunSuccess(name string, duration time.Duration)
	NotifyRunFailure(name string, err error)
}

// ConfigManager handles configuration loading and validation
type ConfigManager interface {
	LoadConfig(path string) (*types.StagehandConfig, error)
	ValidateConfig(config *types.StagehandConfig) error
	GetDefaultConfig(runtime types.Runtime) *types.StagehandConfig
}

// ProcessManager handles process lifecycle
type ProcessManager interface {
	RegisterShutdownHandler(handler func())
	Start(ctx context.Context)
	Stop()
	IsRunning() bool
}

// FileChange represents a changed input file
type FileChange struct {
	Path string
	Op   string
}

// FileChangeCallback is called with a settled batch of changes
type FileChangeCallback func(changes []FileChange)

// InputWatcher watches provisioning inputs for changes
type InputWatcher interface {
	Add(path string) error
	Start(ctx context.Context, callback FileChangeCallback) error
	Close() error
}

// StagehandDependencies contains all injectable dependencies
type StagehandDependencies struct {
	StateManager   StateManager
	Notifier       ProvisionNotifier
	ConfigManager  ConfigManager
	ProcessManager ProcessManager
	InputWatcher   InputWatcher
}
