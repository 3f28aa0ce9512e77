package state_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stagehand/stagehand/pkg/state"
	"github.com/stagehand/stagehand/pkg/types"
)

func TestStateManager_InitializeState(t *testing.T) {
	tmpDir := t.TempDir()
	sm := state.NewStateManager(tmpDir, nil)

	s, err := sm.InitializeState("env.install")
	if err != nil {
		t.Fatalf("failed to initialize state: %v", err)
	}

	if s.TaskName != "env.install" {
		t.Errorf("expected task name 'env.install', got %s", s.TaskName)
	}

	if s.Status != types.StepStatusIdle {
		t.Errorf("expected idle status, got %s", s.Status)
	}

	if s.ProcessID != os.Getpid() {
		t.Errorf("expected current PID, got %d", s.ProcessID)
	}

	// Check state file was created
	stateFile := filepath.Join(tmpDir, ".stagehand", "state", "env.install.json")
	if _, err := os.Stat(stateFile); os.IsNotExist(err) {
		t.Error("state file was not created")
	}
}

func TestStateManager_InitializeState_PreservesCounters(t *testing.T) {
	tmpDir := t.TempDir()
	sm := state.NewStateManager(tmpDir, nil)

	if _, err := sm.InitializeState("env.install"); err != nil {
		t.Fatalf("failed to initialize state: %v", err)
	}

	if err := sm.UpdateStepStatus("env.install", types.StepStatusSucceeded); err != nil {
		t.Fatalf("failed to update status: %v", err)
	}
	if err := sm.UpdateStepStatus("env.install", types.StepStatusFailed); err != nil {
		t.Fatalf("failed to update status: %v", err)
	}

	// New invocation of the same task keeps historical counters
	fresh := state.NewStateManager(tmpDir, nil)
	s, err := fresh.InitializeState("env.install")
	if err != nil {
		t.Fatalf("failed to re-initialize state: %v", err)
	}

	if s.RunCount != 1 {
		t.Errorf("expected run count 1 after re-init, got %d", s.RunCount)
	}
	if s.FailureCount != 1 {
		t.Errorf("expected failure count 1 after re-init, got %d", s.FailureCount)
	}
	if s.Status != types.StepStatusIdle {
		t.Errorf("expected idle status after re-init, got %s", s.Status)
	}
}

func TestStateManager_ReadState(t *testing.T) {
	tmpDir := t.TempDir()
	sm := state.NewStateManager(tmpDir, nil)

	// Initialize state
	_, err := sm.InitializeState("env.create")
	if err != nil {
		t.Fatalf("failed to initialize state: %v", err)
	}

	// Read state
	s, err := sm.ReadState("env.create")
	if err != nil {
		t.Fatalf("failed to read state: %v", err)
	}

	if s.TaskName != "env.create" {
		t.Errorf("expected task name 'env.create', got %s", s.TaskName)
	}

	// Try to read non-existent state
	_, err = sm.ReadState("nonexistent")
	if err == nil {
		t.Error("expected error reading non-existent state")
	}
}

func TestStateManager_UpdateState(t *testing.T) {
	tmpDir := t.TempDir()
	sm := state.NewStateManager(tmpDir, nil)

	// Initialize state
	_, err := sm.InitializeState("lib.vendor")
	if err != nil {
		t.Fatalf("failed to initialize state: %v", err)
	}

	// Update state
	updates := map[string]interface{}{
		"status":      types.StepStatusRunning,
		"lastRunTime": time.Now(),
		"runCount":    5,
		"lastError":   "test error",
		"customField": "custom value",
	}

	err = sm.UpdateState("lib.vendor", updates)
	if err != nil {
		t.Fatalf("failed to update state: %v", err)
	}

	// Read updated state
	s, err := sm.ReadState("lib.vendor")
	if err != nil {
		t.Fatalf("failed to read updated state: %v", err)
	}

	if s.Status != types.StepStatusRunning {
		t.Errorf("expected running status, got %s", s.Status)
	}

	if s.RunCount != 5 {
		t.Errorf("expected run count 5, got %d", s.RunCount)
	}

	if s.LastError != "test error" {
		t.Errorf("expected error 'test error', got %s", s.LastError)
	}

	if s.Metadata["customField"] != "custom value" {
		t.Error("custom field not stored in metadata")
	}
}

func TestStateManager_UpdateStepStatus(t *testing.T) {
	tmpDir := t.TempDir()
	sm := state.NewStateManager(tmpDir, nil)

	// Initialize state
	_, err := sm.InitializeState("env.install")
	if err != nil {
		t.Fatalf("failed to initialize state: %v", err)
	}

	// Update status to succeeded
	err = sm.UpdateStepStatus("env.install", types.StepStatusSucceeded)
	if err != nil {
		t.Fatalf("failed to update step status: %v", err)
	}

	s, _ := sm.ReadState("env.install")
	if s.Status != types.StepStatusSucceeded {
		t.Errorf("expected succeeded status, got %s", s.Status)
	}

	if s.RunCount != 1 {
		t.Errorf("expected run count 1, got %d", s.RunCount)
	}

	// Fresh counts as a completed run too
	err = sm.UpdateStepStatus("env.install", types.StepStatusFresh)
	if err != nil {
		t.Fatalf("failed to update step status: %v", err)
	}

	s, _ = sm.ReadState("env.install")
	if s.RunCount != 2 {
		t.Errorf("expected run count 2, got %d", s.RunCount)
	}

	// Update to failed
	err = sm.UpdateStepStatus("env.install", types.StepStatusFailed)
	if err != nil {
		t.Fatalf("failed to update step status: %v", err)
	}

	s, _ = sm.ReadState("env.install")
	if s.FailureCount != 1 {
		t.Errorf("expected failure count 1, got %d", s.FailureCount)
	}
	if s.RunCount != 2 {
		t.Errorf("expected run count unchanged on failure, got %d", s.RunCount)
	}
}

func TestStateManager_RemoveState(t *testing.T) {
	tmpDir := t.TempDir()
	sm := state.NewStateManager(tmpDir, nil)

	// Initialize state
	_, err := sm.InitializeState("env.markers")
	if err != nil {
		t.Fatalf("failed to initialize state: %v", err)
	}

	// Remove state
	err = sm.RemoveState("env.markers")
	if err != nil {
		t.Fatalf("failed to remove state: %v", err)
	}

	// Try to read removed state
	_, err = sm.ReadState("env.markers")
	if err == nil {
		t.Error("expected error reading removed state")
	}

	// Check state file was removed
	stateFile := filepath.Join(tmpDir, ".stagehand", "state", "env.markers.json")
	if _, err := os.Stat(stateFile); !os.IsNotExist(err) {
		t.Error("state file was not removed")
	}
}

func TestStateManager_IsLocked(t *testing.T) {
	tmpDir := t.TempDir()
	sm := state.NewStateManager(tmpDir, nil)

	// Initialize state
	_, err := sm.InitializeState("env.create")
	if err != nil {
		t.Fatalf("failed to initialize state: %v", err)
	}

	// Should not be locked by our own process
	locked, err := sm.IsLocked("env.create")
	if err != nil {
		t.Fatalf("failed to check lock: %v", err)
	}

	if locked {
		t.Error("state should not be locked by own process")
	}

	// Missing state is never locked
	locked, err = sm.IsLocked("nonexistent")
	if err != nil {
		t.Fatalf("failed to check lock: %v", err)
	}
	if locked {
		t.Error("missing state should not be locked")
	}

	// Simulate another process's state (old heartbeat)
	stateFile := filepath.Join(tmpDir, ".stagehand", "state", "env.create.json")
	oldState := &state.StepState{
		TaskName:  "env.create",
		ProcessID: 99999,                       // Non-existent PID
		Heartbeat: time.Now().Add(-time.Hour), // Old heartbeat
	}

	data, _ := json.Marshal(oldState)
	os.WriteFile(stateFile, data, 0644)

	// Should not be locked (old heartbeat)
	locked, err = sm.IsLocked("env.create")
	if err != nil {
		t.Fatalf("failed to check lock: %v", err)
	}

	if locked {
		t.Error("state with old heartbeat should not be locked")
	}
}

func TestStateManager_DiscoverStates(t *testing.T) {
	tmpDir := t.TempDir()
	sm := state.NewStateManager(tmpDir, nil)

	// Initialize multiple states
	tasks := []string{"env.create", "env.install", "lib.vendor"}

	for _, task := range tasks {
		_, err := sm.InitializeState(task)
		if err != nil {
			t.Fatalf("failed to initialize state for %s: %v", task, err)
		}
	}

	// Discover states
	states, err := sm.DiscoverStates()
	if err != nil {
		t.Fatalf("failed to discover states: %v", err)
	}

	if len(states) != 3 {
		t.Errorf("expected 3 states, got %d", len(states))
	}

	// Check all tasks are present
	for _, task := range tasks {
		if _, ok := states[task]; !ok {
			t.Errorf("state for %s not discovered", task)
		}
	}
}

func TestStateManager_Heartbeat(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping heartbeat test in short mode")
	}

	tmpDir := t.TempDir()
	sm := state.NewStateManager(tmpDir, nil)

	// Initialize state
	initialState, err := sm.InitializeState("env.install")
	if err != nil {
		t.Fatalf("failed to initialize state: %v", err)
	}

	initialHeartbeat := initialState.Heartbeat

	// Start heartbeat
	ctx, cancel := context.WithCancel(context.Background())
	sm.StartHeartbeat(ctx)

	// Wait for heartbeat update
	time.Sleep(11 * time.Second) // Heartbeat interval is 10 seconds

	// Read updated state
	updatedState, err := sm.ReadState("env.install")
	if err != nil {
		t.Fatalf("failed to read state: %v", err)
	}

	if !updatedState.Heartbeat.After(initialHeartbeat) {
		t.Error("heartbeat was not updated")
	}

	// Stop heartbeat
	cancel()
	sm.StopHeartbeat()
}

func TestStateManager_Cleanup(t *testing.T) {
	tmpDir := t.TempDir()
	sm := state.NewStateManager(tmpDir, nil)

	// Initialize states
	tasks := []string{"env.create", "env.install"}

	for _, task := range tasks {
		_, _ = sm.InitializeState(task)
		sm.UpdateStepStatus(task, types.StepStatusRunning)
	}

	// Cleanup
	err := sm.Cleanup()
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}

	// Check process handle was released
	for _, task := range tasks {
		s, _ := sm.ReadState(task)
		if s.ProcessID != 0 {
			t.Error("expected ProcessID to be 0 after cleanup")
		}
	}
}

func TestStateManager_Concurrency(t *testing.T) {
	tmpDir := t.TempDir()
	sm := state.NewStateManager(tmpDir, nil)

	sm.InitializeState("env.install")

	// Concurrent updates
	var wg sync.WaitGroup
	numGoroutines := 10

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			for j := 0; j < 10; j++ {
				updates := map[string]interface{}{
					"runCount": id*10 + j,
				}
				sm.UpdateState("env.install", updates)
			}
		}(i)
	}

	wg.Wait()

	// Verify state is consistent
	s, err := sm.ReadState("env.install")
	if err != nil {
		t.Fatalf("failed to read state: %v", err)
	}

	if s.TaskName != "env.install" {
		t.Error("state corrupted during concurrent updates")
	}
}

func TestStateManager_AtomicWrites(t *testing.T) {
	tmpDir := t.TempDir()
	sm := state.NewStateManager(tmpDir, nil)

	sm.InitializeState("env.install")

	// Simulate concurrent writes
	var wg sync.WaitGroup
	errors := make(chan error, 100)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			status := types.StepStatusRunning
			if id%2 == 0 {
				status = types.StepStatusSucceeded
			}
			err := sm.UpdateStepStatus("env.install", status)
			if err != nil {
				errors <- err
			}
		}(i)
	}

	wg.Wait()
	close(errors)

	// Check for errors
	for err := range errors {
		t.Errorf("concurrent update error: %v", err)
	}

	// Verify final state is valid
	_, err := sm.ReadState("env.install")
	if err != nil {
		t.Fatalf("failed to read final state: %v", err)
	}

	// Check state file is valid JSON
	stateFile := filepath.Join(tmpDir, ".stagehand", "state", "env.install.json")
	data, _ := os.ReadFile(stateFile)

	var parsedState state.StepState
	if err := json.Unmarshal(data, &parsedState); err != nil {
		t.Errorf("state file contains invalid JSON: %v", err)
	}
}

func BenchmarkStateManager_UpdateState(b *testing.B) {
	tmpDir := b.TempDir()
	sm := state.NewStateManager(tmpDir, nil)

	sm.InitializeState("bench")

	updates := map[string]interface{}{
		"runCount":  1,
		"lastError": "test",
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sm.UpdateState("bench", updates)
	}
}

func BenchmarkStateManager_ReadState(b *testing.B) {
	tmpDir := b.TempDir()
	sm := state.NewStateManager(tmpDir, nil)

	sm.InitializeState("bench")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sm.ReadState("bench")
	}
}
