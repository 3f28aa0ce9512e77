// Package tasks provides the compile-time task registry and the runner
// that executes provisioning plans.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/stagehand/stagehand/pkg/logger"
)

var (
	// ErrUnknownTask indicates a name that resolves to no registered task
	ErrUnknownTask = errors.New("unknown task")

	// ErrDuplicateTask indicates a second registration under the same name
	ErrDuplicateTask = errors.New("task already registered")

	// ErrTaskCycle indicates a dependency cycle in the registry
	ErrTaskCycle = errors.New("task dependency cycle")

	// ErrUpToDate is returned by a task run to signal that its staleness
	// check found nothing to do. The runner records the step as fresh
	// rather than failed.
	ErrUpToDate = errors.New("already up to date")

	// ErrLocked indicates another process currently holds a task's state
	ErrLocked = errors.New("task locked by another process")
)

// DefaultSuffix is appended when a bare group name like "env" is requested
const DefaultSuffix = ".default"

// StepContext carries the per-step wiring handed to a task's Run function
type StepContext struct {
	// Logger is scoped to the running task
	Logger logger.Logger

	// Log receives raw output for the task's log file. Tasks running
	// external commands tee stdout and stderr into it. May be nil.
	Log io.Writer
}

// RunFunc is a task entry point
type RunFunc func(ctx context.Context, step *StepContext) error

// Task is one provisioning step, registered at wiring time
type Task struct {
	Name    string
	Summary string
	Needs   []string
	Mutates bool
	Run     RunFunc
}

// Registry maps task names to tasks. Registration order is preserved so
// listings and plans stay stable for equal inputs.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	order []string
}

// NewRegistry creates an empty task registry
func NewRegistry() *Registry {
	return &Registry{
		tasks: make(map[string]*Task),
	}
}

// Register adds a task to the registry
func (r *Registry) Register(task *Task) error {
	if task == nil || task.Name == "" {
		return fmt.Errorf("task requires a name")
	}
	if task.Run == nil {
		return fmt.Errorf("task %s requires a run function", task.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[task.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, task.Name)
	}

	r.tasks[task.Name] = task
	r.order = append(r.order, task.Name)
	return nil
}

// MustRegister registers a task and panics on error. The registry is
// assembled once at startup, so a bad registration is a programming error.
func (r *Registry) MustRegister(task *Task) {
	if err := r.Register(task); err != nil {
		panic(err)
	}
}

// Get returns a task by exact name
func (r *Registry) Get(name string) (*Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.tasks[name]
	return task, ok
}

// Lookup resolves a requested name to a task. A bare group name falls back
// to its default task, so "env" finds "env.default".
func (r *Registry) Lookup(name string) (*Task, error) {
	if task, ok := r.Get(name); ok {
		return task, nil
	}
	if task, ok := r.Get(name + DefaultSuffix); ok {
		return task, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTask, name)
}

// Names returns all task names in registration order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Len returns the number of registered tasks
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Resolve expands the requested names and their dependencies into an
// execution plan. Each task appears exactly once, every dependency before
// its dependents. Requested names go through Lookup; dependency names must
// be exact.
func (r *Registry) Resolve(names ...string) ([]*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		plan    []*Task
		visited = make(map[string]bool)
		onPath  = make(map[string]bool)
		path    []string
	)

	var visit func(name string) error
	visit = func(name string) error {
		if visited[name] {
			return nil
		}
		if onPath[name] {
			return fmt.Errorf("%w: %s -> %s", ErrTaskCycle, strings.Join(path, " -> "), name)
		}

		task, ok := r.tasks[name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownTask, name)
		}

		onPath[name] = true
		path = append(path, name)

		for _, dep := range task.Needs {
			if err := visit(dep); err != nil {
				return err
			}
		}

		path = path[:len(path)-1]
		onPath[name] = false
		visited[name] = true
		plan = append(plan, task)
		return nil
	}

	for _, name := range names {
		resolved := name
		if _, ok := r.tasks[resolved]; !ok {
			if _, ok := r.tasks[resolved+DefaultSuffix]; ok {
				resolved += DefaultSuffix
			}
		}
		if err := visit(resolved); err != nil {
			return nil, err
		}
	}

	return plan, nil
}
