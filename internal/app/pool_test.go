package app

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okonek/chorus/internal/core"
	"github.com/okonek/chorus/internal/core/coretest"
)

func newTestPool(n int) (*EngineWorkerPool, []*coretest.Worker) {
	fakes := make([]*coretest.Worker, 0, n)
	workers := make([]core.EngineWorker, 0, n)
	for i := 0; i < n; i++ {
		w := coretest.NewWorker(string(rune('a' + i)))
		fakes = append(fakes, w)
		workers = append(workers, w)
	}
	return NewEngineWorkerPool(workers), fakes
}

func TestPoolRoundRobin(t *testing.T) {
	pool, fakes := newTestPool(3)
	require.Equal(t, 3, pool.Size())

	assert.Same(t, core.EngineWorker(fakes[0]), pool.Acquire())
	assert.Same(t, core.EngineWorker(fakes[1]), pool.Acquire())
	assert.Same(t, core.EngineWorker(fakes[2]), pool.Acquire())
	assert.Same(t, core.EngineWorker(fakes[0]), pool.Acquire())
}

func TestPoolRejectsNoWorkers(t *testing.T) {
	assert.Panics(t, func() { NewEngineWorkerPool(nil) })
	assert.Panics(t, func() { NewEngineWorkerPool([]core.EngineWorker{}) })
}

func TestPoolWorkerFailureIsFatal(t *testing.T) {
	pool, fakes := newTestPool(1)

	var got error
	pool.fatal = func(err error) { got = err }

	boom := errors.New("worker died")
	fakes[0].Fail(boom)
	assert.Equal(t, boom, got)
}

func TestPoolClose(t *testing.T) {
	pool, fakes := newTestPool(2)
	pool.Close()
	for _, w := range fakes {
		assert.True(t, w.Closed)
	}
}
