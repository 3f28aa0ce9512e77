package tasks_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stagehand/stagehand/pkg/tasks"
)

func noopTask(name string, needs ...string) *tasks.Task {
	return &tasks.Task{
		Name:  name,
		Needs: needs,
		Run: func(ctx context.Context, step *tasks.StepContext) error {
			return nil
		},
	}
}

func TestRegistry_Register(t *testing.T) {
	registry := tasks.NewRegistry()

	if err := registry.Register(noopTask("env.create")); err != nil {
		t.Fatalf("failed to register task: %v", err)
	}

	if registry.Len() != 1 {
		t.Errorf("expected 1 task, got %d", registry.Len())
	}

	// Duplicate registration is rejected
	err := registry.Register(noopTask("env.create"))
	if !errors.Is(err, tasks.ErrDuplicateTask) {
		t.Errorf("expected ErrDuplicateTask, got %v", err)
	}

	// Tasks need names and run functions
	if err := registry.Register(&tasks.Task{}); err == nil {
		t.Error("expected error for nameless task")
	}
	if err := registry.Register(&tasks.Task{Name: "broken"}); err == nil {
		t.Error("expected error for task without run function")
	}
}

func TestRegistry_MustRegister(t *testing.T) {
	registry := tasks.NewRegistry()
	registry.MustRegister(noopTask("env.create"))

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate MustRegister")
		}
	}()
	registry.MustRegister(noopTask("env.create"))
}

func TestRegistry_Lookup(t *testing.T) {
	registry := tasks.NewRegistry()
	registry.MustRegister(noopTask("env.default"))
	registry.MustRegister(noopTask("env.install"))

	// Exact name
	task, err := registry.Lookup("env.install")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if task.Name != "env.install" {
		t.Errorf("expected env.install, got %s", task.Name)
	}

	// Bare group name falls back to the default task
	task, err = registry.Lookup("env")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if task.Name != "env.default" {
		t.Errorf("expected env.default, got %s", task.Name)
	}

	// Unknown name
	_, err = registry.Lookup("deploy")
	if !errors.Is(err, tasks.ErrUnknownTask) {
		t.Errorf("expected ErrUnknownTask, got %v", err)
	}
}

func TestRegistry_Names_RegistrationOrder(t *testing.T) {
	registry := tasks.NewRegistry()
	names := []string{"env.tools", "env.dirs", "env.create", "env.install"}
	for _, name := range names {
		registry.MustRegister(noopTask(name))
	}

	got := registry.Names()
	if len(got) != len(names) {
		t.Fatalf("expected %d names, got %d", len(names), len(got))
	}
	for i, name := range names {
		if got[i] != name {
			t.Errorf("position %d: expected %s, got %s", i, name, got[i])
		}
	}
}

func TestRegistry_Resolve_DependencyOrder(t *testing.T) {
	registry := tasks.NewRegistry()
	registry.MustRegister(noopTask("env.tools"))
	registry.MustRegister(noopTask("env.dirs"))
	registry.MustRegister(noopTask("env.create", "env.tools", "env.dirs"))
	registry.MustRegister(noopTask("env.install", "env.create"))
	registry.MustRegister(noopTask("env.markers", "env.install"))
	registry.MustRegister(noopTask("env.default", "env.tools", "env.dirs", "env.create", "env.install", "env.markers"))

	plan, err := registry.Resolve("env.default")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	expected := []string{"env.tools", "env.dirs", "env.create", "env.install", "env.markers", "env.default"}
	if len(plan) != len(expected) {
		t.Fatalf("expected %d tasks, got %d", len(expected), len(plan))
	}
	for i, name := range expected {
		if plan[i].Name != name {
			t.Errorf("position %d: expected %s, got %s", i, name, plan[i].Name)
		}
	}

	// Stable for equal inputs
	again, err := registry.Resolve("env.default")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	for i := range plan {
		if again[i].Name != plan[i].Name {
			t.Errorf("plan order not stable at position %d", i)
		}
	}
}

func TestRegistry_Resolve_GroupFallback(t *testing.T) {
	registry := tasks.NewRegistry()
	registry.MustRegister(noopTask("lib.vendor"))
	registry.MustRegister(noopTask("lib.default", "lib.vendor"))

	plan, err := registry.Resolve("lib")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	if len(plan) != 2 || plan[0].Name != "lib.vendor" || plan[1].Name != "lib.default" {
		t.Errorf("unexpected plan: %v", planNames(plan))
	}
}

func TestRegistry_Resolve_SharedDependencyOnce(t *testing.T) {
	registry := tasks.NewRegistry()
	registry.MustRegister(noopTask("env.create"))
	registry.MustRegister(noopTask("env.install", "env.create"))
	registry.MustRegister(noopTask("env.markers", "env.create"))

	plan, err := registry.Resolve("env.install", "env.markers")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	// env.create appears exactly once, before both dependents
	expected := []string{"env.create", "env.install", "env.markers"}
	got := planNames(plan)
	if len(got) != len(expected) {
		t.Fatalf("expected plan %v, got %v", expected, got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("expected plan %v, got %v", expected, got)
			break
		}
	}
}

func TestRegistry_Resolve_UnknownDependency(t *testing.T) {
	registry := tasks.NewRegistry()
	registry.MustRegister(noopTask("env.install", "env.create"))

	_, err := registry.Resolve("env.install")
	if !errors.Is(err, tasks.ErrUnknownTask) {
		t.Errorf("expected ErrUnknownTask, got %v", err)
	}
}

func TestRegistry_Resolve_Cycle(t *testing.T) {
	registry := tasks.NewRegistry()
	registry.MustRegister(noopTask("a", "b"))
	registry.MustRegister(noopTask("b", "c"))
	registry.MustRegister(noopTask("c", "a"))

	_, err := registry.Resolve("a")
	if !errors.Is(err, tasks.ErrTaskCycle) {
		t.Fatalf("expected ErrTaskCycle, got %v", err)
	}

	// The error names the cycle path
	for _, name := range []string{"a", "b", "c"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("cycle error should mention %s: %v", name, err)
		}
	}
}

func TestRegistry_Resolve_SelfCycle(t *testing.T) {
	registry := tasks.NewRegistry()
	registry.MustRegister(noopTask("loop", "loop"))

	_, err := registry.Resolve("loop")
	if !errors.Is(err, tasks.ErrTaskCycle) {
		t.Errorf("expected ErrTaskCycle, got %v", err)
	}
}

func planNames(plan []*tasks.Task) []string {
	names := make([]string, len(plan))
	for i, task := range plan {
		names[i] = task.Name
	}
	return names
}
