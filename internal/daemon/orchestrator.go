package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/harun/tessa/pkg/msgqueue"
	"github.com/harun/tessa/pkg/relay"
	"github.com/harun/tessa/pkg/store"
	"github.com/rs/zerolog"
)

// Orchestrator owns one worker goroutine per active conversation.
// Workers are created lazily on first notify and run until shutdown.
type Orchestrator struct {
	queue     *msgqueue.Queue
	store     *store.Store
	launcher  Launcher
	sink      Sink
	relayOpts relay.Options
	logger    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	workers map[string]*worker
}

// NewOrchestrator creates an orchestrator. Workers start on demand.
func NewOrchestrator(queue *msgqueue.Queue, st *store.Store, launcher Launcher, sink Sink, relayOpts relay.Options, logger zerolog.Logger) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		queue:     queue,
		store:     st,
		launcher:  launcher,
		sink:      sink,
		relayOpts: relayOpts,
		logger:    logger.With().Str("component", "orchestrator").Logger(),
		ctx:       ctx,
		cancel:    cancel,
		workers:   make(map[string]*worker),
	}
}

// Notify ensures a worker exists for the conversation and wakes it.
func (o *Orchestrator) Notify(key string) {
	o.ensureWorker(key)
	o.queue.Wake(key)
}

// Cancel cancels the conversation's in-flight run, if any.
func (o *Orchestrator) Cancel(key string) bool {
	o.mu.Lock()
	w, ok := o.workers[key]
	o.mu.Unlock()

	if !ok {
		return false
	}
	return w.cancelActive()
}

// State returns the conversation worker's phase, StateIdle when no worker
// exists yet.
func (o *Orchestrator) State(key string) RunState {
	o.mu.Lock()
	w, ok := o.workers[key]
	o.mu.Unlock()

	if !ok {
		return StateIdle
	}
	return w.State()
}

// QueueDepth returns the number of pending messages for the conversation.
func (o *Orchestrator) QueueDepth(key string) int {
	return o.queue.Peek(key)
}

// Shutdown stops all workers and waits up to timeout for them to exit.
// In-flight runs are cancelled through their contexts.
func (o *Orchestrator) Shutdown(timeout time.Duration) {
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.logger.Info().Msg("All workers stopped")
	case <-time.After(timeout):
		o.logger.Warn().Dur("timeout", timeout).Msg("Workers did not stop in time")
	}
}

func (o *Orchestrator) ensureWorker(key string) *worker {
	o.mu.Lock()
	defer o.mu.Unlock()

	if w, ok := o.workers[key]; ok {
		return w
	}

	w := newWorker(key, o.queue, o.store, o.launcher, o.sink, o.relayOpts, o.logger)
	o.workers[key] = w

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		w.loop(o.ctx)
	}()

	o.logger.Debug().Str("session_key", key).Msg("Worker started")
	return w
}
