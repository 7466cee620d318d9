// Package worker implements the Worker Pool (spec §4.M): a bounded set of
// goroutines that dequeue job IDs from the durable queue, CAS them into
// running, and drive them through the Orchestrator.
package worker

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/churchcast/reelforge/internal/orchestrator"
	"github.com/churchcast/reelforge/internal/queue"
	"github.com/churchcast/reelforge/internal/store"
)

// dequeueTimeout bounds each blocking BLPOP poll so a worker can still
// observe ctx.Done() between attempts, the same pattern the teacher's
// processQueue used for its per-queue-type Dequeue calls.
const dequeueTimeout = 5 * time.Second

// Pool drains the durable job queue with a bounded number of concurrent
// workers (spec §4.M "a bounded set of workers, default concurrency 2").
// Unlike the teacher's multi-queue Worker (one goroutine group per job
// type, each running its own handler), a render job here is a single
// opaque unit driven end to end by the Orchestrator, so Pool only needs
// one queue and one handler.
type Pool struct {
	store        *store.Store
	queue        *queue.Queue
	orchestrator *orchestrator.Orchestrator

	heartbeatInterval time.Duration
	reaperStaleAfter  time.Duration
}

// New constructs a worker Pool.
func New(s *store.Store, q *queue.Queue, orch *orchestrator.Orchestrator, heartbeatInterval, reaperStaleAfter time.Duration) *Pool {
	return &Pool{
		store:             s,
		queue:             q,
		orchestrator:      orch,
		heartbeatInterval: heartbeatInterval,
		reaperStaleAfter:  reaperStaleAfter,
	}
}

// Start launches concurrency worker goroutines plus one reaper goroutine
// and blocks until ctx is cancelled.
func (p *Pool) Start(ctx context.Context, concurrency int) {
	log.Printf("worker: starting pool with concurrency=%d", concurrency)

	for i := 0; i < concurrency; i++ {
		go p.processQueue(ctx, i)
	}
	go p.reapLoop(ctx)

	<-ctx.Done()
	log.Println("worker: shutting down")
}

// processQueue is one worker's life cycle: dequeue, CAS queued→running, run
// the Orchestrator, loop (spec §4.M). Grounded on the teacher's
// processQueue loop, generalized from per-queue-type handlers down to a
// single queue and a single Orchestrator.Run call.
func (p *Pool) processQueue(ctx context.Context, workerIndex int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		jobID, err := p.queue.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("worker %d: dequeue error: %v", workerIndex, err)
			continue
		}
		if jobID == uuid.Nil {
			continue // nothing arrived within the poll window
		}

		p.handle(ctx, workerIndex, jobID)
	}
}

// handle runs one job's CAS pickup, heartbeat, and Orchestrator run. A
// panic during the run is recovered so it only costs this job, not the
// worker's concurrency slot (spec §4.M "(4) on exit — including
// panics — release queue slot").
func (p *Pool) handle(ctx context.Context, workerIndex int, jobID uuid.UUID) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("worker %d: recovered panic processing job %s: %v", workerIndex, jobID, r)
		}
	}()

	won, err := p.store.TryPickup(ctx, jobID)
	if err != nil {
		log.Printf("worker %d: failed to CAS pickup job %s: %v", workerIndex, jobID, err)
		return
	}
	if !won {
		// Another worker, or a reaper re-enqueue racing this one, already
		// claimed it (spec §4.L "guarded by compare-and-set on status").
		return
	}

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go p.heartbeatLoop(heartbeatCtx, jobID)

	log.Printf("worker %d: running job %s", workerIndex, jobID)
	if err := p.orchestrator.Run(ctx, jobID); err != nil {
		log.Printf("worker %d: job %s ended with error: %v", workerIndex, jobID, err)
		return
	}
	log.Printf("worker %d: job %s finished", workerIndex, jobID)
}

// heartbeatLoop refreshes the job's liveness timestamp every
// heartbeatInterval (default 15s) until the job completes or the worker
// tears down the run.
func (p *Pool) heartbeatLoop(ctx context.Context, jobID uuid.UUID) {
	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.store.Heartbeat(ctx, jobID); err != nil {
				log.Printf("worker: heartbeat failed for job %s: %v", jobID, err)
			}
		}
	}
}

// reapLoop periodically promotes running jobs whose heartbeat has gone
// stale back to queued, and re-enqueues them for pickup (spec §9 "reaper
// promotes running→queued after a heartbeat timeout of 10 minutes").
func (p *Pool) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(p.heartbeatInterval * 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids, err := p.store.ReapStale(ctx, p.reaperStaleAfter)
			if err != nil {
				log.Printf("reaper: failed to reap stale jobs: %v", err)
				continue
			}
			for _, id := range ids {
				log.Printf("reaper: reaped stale job %s back to queued", id)
				if err := p.queue.Enqueue(ctx, id); err != nil {
					log.Printf("reaper: failed to re-enqueue reaped job %s: %v", id, err)
				}
			}
		}
	}
}
