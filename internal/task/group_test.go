package task

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestGroupRunsTasks(t *testing.T) {
	g := NewGroup(nil)
	var n atomic.Int32
	for i := 0; i < 10; i++ {
		g.Go("count", func() error {
			n.Add(1)
			return nil
		})
	}
	g.Wait()
	assert.Equal(t, int32(10), n.Load())
	assert.Equal(t, int64(0), g.Failed())
}

func TestGroupSwallowsErrorsAndPanics(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	g := NewGroup(zap.New(core))

	g.Go("fails", func() error { return errors.New("boom") })
	g.Go("panics", func() error { panic("kaboom") })
	assert.NotPanics(t, g.Wait)

	assert.Equal(t, int64(2), g.Failed())
	assert.Equal(t, 2, logs.FilterMessage("background task failed").Len())
	assert.Equal(t, 1, logs.FilterField(zap.String("task", "panics")).Len())
}
