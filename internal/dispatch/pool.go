// Package dispatch routes validated triggers to downstream long-running
// tasks. Fire-and-forget submissions go through a bounded-queue worker
// pool; the one synchronous task kind runs inline under a timeout.
//
// The queue bound exists so load shedding can be added later; today no
// shedding is applied and submitters block if the queue is full, which
// preserves the original fire-and-forget semantics without backpressure
// under normal load.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/forgebot/forgebot/internal/alert"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// job is one queued unit of background work.
type job struct {
	id   string
	name string
	run  func(ctx context.Context) error
}

// Pool executes submitted jobs on a fixed set of workers. Job results
// are not reported back to submitters; failures are logged and raised
// to the alert emitter.
type Pool struct {
	jobs    chan job
	alerts  *alert.Emitter
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
	workers int
}

// NewPool creates a pool with the given worker count and queue size and
// starts its workers.
func NewPool(workers, queueSize int, alerts *alert.Emitter) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	p := &Pool{
		jobs:    make(chan job, queueSize),
		alerts:  alerts,
		workers: workers,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	log.Info().Int("workers", workers).Int("queue", queueSize).Msg("Dispatch pool started")
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for j := range p.jobs {
		start := time.Now()
		err := j.run(context.Background())
		if err != nil {
			log.Error().
				Err(err).
				Str("job_id", j.id).
				Str("job", j.name).
				Dur("duration", time.Since(start)).
				Msg("Background task failed")
			if p.alerts != nil {
				p.alerts.Emit(context.Background(), fmt.Sprintf("task %s (%s) failed: %v", j.name, j.id, err), alert.PriorityMedium)
			}
			continue
		}
		log.Info().
			Str("job_id", j.id).
			Str("job", j.name).
			Dur("duration", time.Since(start)).
			Msg("Background task finished")
	}
}

// Submit enqueues a named job for asynchronous execution. It returns an
// error only when the pool is shut down; a full queue blocks instead of
// shedding.
func (p *Pool) Submit(name string, fn func(ctx context.Context) error) error {
	// The lock is held through the send so Shutdown cannot close the
	// channel underneath a blocked submitter.
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("dispatch: pool is shut down")
	}
	p.jobs <- job{id: uuid.New().String(), name: name, run: fn}
	return nil
}

// Shutdown stops accepting jobs and waits for in-flight work to drain,
// bounded by ctx.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatch: shutdown timed out: %w", ctx.Err())
	}
}
