package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/harun/tessa/internal/observability"
	"github.com/harun/tessa/internal/tracing"
	"github.com/harun/tessa/pkg/agent"
	"github.com/harun/tessa/pkg/msgqueue"
	"github.com/harun/tessa/pkg/relay"
	"github.com/harun/tessa/pkg/store"
	"github.com/rs/zerolog"
)

// RunState is a conversation worker's current phase.
type RunState string

const (
	StateIdle       RunState = "idle"
	StateStarting   RunState = "starting"
	StateStreaming  RunState = "streaming"
	StateCancelling RunState = "cancelling"
)

// worker owns all agent activity for one conversation key. At most one
// run is in flight per conversation; messages arriving mid-run queue up
// and drain into the next run as a single batch.
type worker struct {
	key       string
	queue     *msgqueue.Queue
	store     *store.Store
	launcher  Launcher
	sink      Sink
	relayOpts relay.Options
	logger    zerolog.Logger

	mu        sync.Mutex
	state     RunState
	runCancel context.CancelFunc
	cancelled bool
}

func newWorker(key string, queue *msgqueue.Queue, st *store.Store, launcher Launcher, sink Sink, relayOpts relay.Options, logger zerolog.Logger) *worker {
	return &worker{
		key:       key,
		queue:     queue,
		store:     st,
		launcher:  launcher,
		sink:      sink,
		relayOpts: relayOpts,
		logger:    logger.With().Str("session_key", key).Logger(),
		state:     StateIdle,
	}
}

// loop runs until ctx is cancelled, starting a run whenever messages are
// pending and the conversation is not in human-only mode.
func (w *worker) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if w.queue.Peek(w.key) > 0 && !w.humanOnly() {
			w.runOnce(ctx)
			continue
		}

		if err := w.queue.Wait(ctx, w.key); err != nil {
			return
		}
	}
}

// State returns the worker's current phase.
func (w *worker) State() RunState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// cancelActive cancels the in-flight run, if any. Returns false when the
// worker is idle.
func (w *worker) cancelActive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == StateIdle || w.runCancel == nil {
		return false
	}

	w.state = StateCancelling
	w.cancelled = true
	w.runCancel()
	observability.RecordCancellation()
	return true
}

func (w *worker) humanOnly() bool {
	sess, ok := w.store.Get(w.key)
	return ok && sess.HumanOnly
}

// runOnce drains the queue, launches one agent run, and relays its stream
// to the sink until the run reaches a terminal state.
func (w *worker) runOnce(ctx context.Context) {
	batch := w.queue.DrainAll(w.key)
	if len(batch) == 0 {
		return
	}

	sess, ok := w.store.Get(w.key)
	if !ok {
		now := time.Now()
		sess = store.Session{Mode: store.ModeStandard, CreatedAt: now, LastActiveAt: now}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	runCtx = tracing.WithSessionKey(tracing.WithRunID(runCtx, tracing.NewRunID()), w.key)
	logger := tracing.LoggerFromContext(runCtx, w.logger)

	w.mu.Lock()
	w.state = StateStarting
	w.runCancel = cancel
	w.cancelled = false
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.state = StateIdle
		w.runCancel = nil
		w.mu.Unlock()
	}()

	fresh := sess.AgentSessionID == ""
	params := agent.RunParams{
		Prompt:    BuildPrompt(batch, fresh),
		SessionID: sess.AgentSessionID,
		Alternate: sess.Mode == store.ModeAlternate,
	}

	logger.Info().
		Int("batch_size", len(batch)).
		Bool("fresh", fresh).
		Str("mode", string(sess.Mode)).
		Msg("Starting agent run")

	started := time.Now()
	observability.RecordRunStart()

	run, err := w.launcher.Start(runCtx, params)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to launch agent")
		observability.RecordRunComplete("launch_error", time.Since(started))
		w.sink(Update{
			ConversationKey: w.key,
			Text:            "Failed to start the agent: " + err.Error(),
			Final:           true,
		})
		return
	}

	rl := relay.New(func(u relay.Update) {
		w.sink(Update{
			ConversationKey: w.key,
			Text:            u.Text,
			Final:           u.Final,
			Stopped:         u.Stopped,
		})
	}, w.relayOpts)

	var finalText, errText string
	streaming := false

	for ev := range run.Events() {
		// After a cancel the channel is only drained; nothing more
		// reaches the chat and the state stays Cancelling until the
		// process is confirmed down.
		w.mu.Lock()
		midCancel := w.cancelled
		if !midCancel && !streaming {
			streaming = true
			w.state = StateStreaming
		}
		w.mu.Unlock()
		if midCancel {
			continue
		}

		switch ev.Type {
		case agent.EventSessionID:
			// Field-scoped update so a concurrent mode or human-only
			// toggle is not clobbered by this worker's older copy.
			if err := w.store.Update(w.key, func(s *store.Session) {
				s.AgentSessionID = ev.SessionID
			}); err != nil {
				logger.Warn().Err(err).Msg("Session id not persisted")
			}
			logger.Info().Str("agent_session_id", ev.SessionID).Msg("Agent session established")
		case agent.EventText, agent.EventToolUse:
			rl.Handle(ev)
		case agent.EventDone:
			finalText = ev.Text
		case agent.EventError:
			errText = ev.Err
		}
	}

	duration := time.Since(started)

	w.mu.Lock()
	cancelled := w.cancelled
	w.mu.Unlock()

	switch {
	case cancelled:
		// Pending messages queued during the run die with it; the person
		// who stopped the run does not want them replayed.
		dropped := w.queue.Clear(w.key)
		rl.Stop()
		observability.RecordRunComplete("cancelled", duration)
		logger.Info().Int("dropped", dropped).Dur("duration", duration).Msg("Agent run cancelled")
	case ctx.Err() != nil:
		// Daemon shutdown interrupted the run
		rl.Stop()
		observability.RecordRunComplete("cancelled", duration)
		logger.Info().Dur("duration", duration).Msg("Agent run interrupted by shutdown")
	case errText != "":
		rl.Finish(errText)
		observability.RecordRunComplete("error", duration)
		logger.Error().Str("error", errText).Dur("duration", duration).Msg("Agent run failed")
	default:
		rl.Finish(withCompletionAck(finalText, batch))
		observability.RecordRunComplete("ok", duration)
		logger.Info().Dur("duration", duration).Msg("Agent run finished")
	}

	if err := w.store.Update(w.key, func(s *store.Session) {
		s.LastActiveAt = time.Now()
	}); err != nil {
		logger.Warn().Err(err).Msg("Session activity not persisted")
	}
}
