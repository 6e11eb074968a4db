package app

import (
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/okonek/chorus/internal/core"
)

// EngineWorkerPool owns a fixed set of relay workers and hands them out
// round-robin. The pool never shrinks or grows at runtime.
type EngineWorkerPool struct {
	workers []core.EngineWorker
	next    atomic.Uint64
	fatal   func(error)
}

// NewEngineWorkerPool wires fatal reporting for every worker. The default
// policy is to terminate the process: in-flight relay state cannot be safely
// reconstructed, so recovery is left to an external supervisor.
func NewEngineWorkerPool(workers []core.EngineWorker) *EngineWorkerPool {
	if len(workers) == 0 {
		panic("app: engine worker pool requires at least one worker")
	}
	p := &EngineWorkerPool{
		workers: workers,
		fatal: func(err error) {
			log.Fatal().Err(err).Str("module", "app.pool").Msg("relay worker died")
		},
	}
	for _, w := range workers {
		w.OnFatal(p.onFailure)
	}
	return p
}

func (p *EngineWorkerPool) Size() int { return len(p.workers) }

// Acquire returns the next worker in round-robin order.
func (p *EngineWorkerPool) Acquire() core.EngineWorker {
	n := p.next.Add(1) - 1
	return p.workers[n%uint64(len(p.workers))]
}

func (p *EngineWorkerPool) onFailure(err error) {
	p.fatal(err)
}

func (p *EngineWorkerPool) Close() {
	for _, w := range p.workers {
		w.Close()
	}
}
