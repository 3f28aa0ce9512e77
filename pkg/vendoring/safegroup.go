package vendoring

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"github.com/stagehand/stagehand/pkg/logger"
)

// SafeGroup wraps errgroup.Group with panic recovery so a panicking
// copy goroutine surfaces as an error instead of crashing the run.
type SafeGroup struct {
	group  *errgroup.Group
	logger logger.Logger
}

// NewSafeGroup creates a new SafeGroup bound to ctx
func NewSafeGroup(ctx context.Context, log logger.Logger) (*SafeGroup, context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	return &SafeGroup{
		group:  g,
		logger: log,
	}, ctx
}

// Go runs fn in a new goroutine. A panic is converted to an error and
// logged with its stack trace.
func (sg *SafeGroup) Go(fn func() error) {
	sg.group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				if sg.logger != nil {
					sg.logger.Error("Goroutine panic recovered",
						logger.WithField("panic", r),
						logger.WithField("stack_trace", string(debug.Stack())))
				}
				err = fmt.Errorf("goroutine panic: %v", r)
			}
		}()

		return fn()
	})
}

// SetLimit caps the number of concurrently running goroutines
func (sg *SafeGroup) SetLimit(n int) {
	sg.group.SetLimit(n)
}

// Wait blocks until all goroutines have completed and returns the
// first error encountered.
func (sg *SafeGroup) Wait() (err error) {
	defer func() {
		if r := recover(); r != nil {
			if sg.logger != nil {
				sg.logger.Error("Panic during SafeGroup.Wait()",
					logger.WithField("panic", r),
					logger.WithField("stack_trace", string(debug.Stack())))
			}
			err = fmt.Errorf("wait panic: %v", r)
		}
	}()

	return sg.group.Wait()
}
