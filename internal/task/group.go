// Package task runs fire-and-forget work whose outcome is only observed
// through logs and counters.
package task

import (
	"sync/atomic"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"
)

// Group runs tasks in the background. A failing or panicking task is
// logged and counted; the error never reaches the caller of Go.
type Group struct {
	logger *zap.Logger
	wg     conc.WaitGroup
	failed atomic.Int64
}

// NewGroup creates a task group. A nil logger discards output.
func NewGroup(logger *zap.Logger) *Group {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Group{logger: logger}
}

// Go starts fn in its own goroutine.
func (g *Group) Go(name string, fn func() error) {
	g.wg.Go(func() {
		var pc panics.Catcher
		var err error
		pc.Try(func() { err = fn() })
		if r := pc.Recovered(); r != nil {
			err = r.AsError()
		}
		if err != nil {
			g.failed.Add(1)
			g.logger.Warn("background task failed", zap.String("task", name), zap.Error(err))
		}
	})
}

// Wait blocks until every started task has returned.
func (g *Group) Wait() {
	g.wg.Wait()
}

// Failed returns the number of tasks that returned an error or panicked.
func (g *Group) Failed() int64 {
	return g.failed.Load()
}
