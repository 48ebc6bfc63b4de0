package daemon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/harun/tessa/internal/tracing"
	"github.com/harun/tessa/pkg/msgqueue"
	"github.com/harun/tessa/pkg/store"
	"github.com/rs/zerolog"
)

const commandPrefix = "!"

// Dispatcher classifies inbound messages as commands or conversation and
// routes them. Command replies are returned synchronously; conversational
// messages flow through the queue and come back via the sink.
type Dispatcher struct {
	queue  *msgqueue.Queue
	store  *store.Store
	orch   *Orchestrator
	logger zerolog.Logger
}

// NewDispatcher creates a dispatcher over the shared queue, store, and
// orchestrator.
func NewDispatcher(queue *msgqueue.Queue, st *store.Store, orch *Orchestrator, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		queue:  queue,
		store:  st,
		orch:   orch,
		logger: logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Handle processes one inbound message and returns the immediate reply,
// empty when nothing should be said right away.
func (d *Dispatcher) Handle(ctx context.Context, in Inbound) string {
	if in.Text == "" || in.ConversationKey == "" {
		return ""
	}

	logger := tracing.LoggerFromContext(ctx, d.logger).With().
		Str("session_key", in.ConversationKey).
		Logger()

	if strings.HasPrefix(in.Text, commandPrefix) {
		name, args := splitCommand(strings.TrimPrefix(in.Text, commandPrefix))
		logger.Info().Str("command", name).Msg("Command received")
		return d.runCommand(in, name, args)
	}

	return d.enqueue(in, false)
}

func splitCommand(s string) (string, string) {
	name, args, _ := strings.Cut(strings.TrimSpace(s), " ")
	return strings.ToLower(name), strings.TrimSpace(args)
}

func (d *Dispatcher) runCommand(in Inbound, name, args string) string {
	switch name {
	case "new", "reset":
		return d.cmdReset(in.ConversationKey)
	case "stop":
		return d.cmdStop(in.ConversationKey)
	case "status":
		return d.cmdStatus(in.ConversationKey)
	case "queue":
		return d.cmdQueue(in.ConversationKey)
	case "mode":
		return d.cmdMode(in.ConversationKey)
	case "human":
		return d.cmdHuman(in.ConversationKey)
	case "slash":
		return d.cmdSlash(in, args)
	case "help":
		return helpText
	default:
		return fmt.Sprintf("Unknown command %q. Try !help.", commandPrefix+name)
	}
}

// cmdReset starts a fresh backend session, keeping the conversation's
// mode and human-only settings.
func (d *Dispatcher) cmdReset(key string) string {
	err := d.store.Update(key, func(sess *store.Session) {
		sess.AgentSessionID = ""
		sess.CreatedAt = time.Now()
		sess.LastActiveAt = sess.CreatedAt
	})
	if err != nil {
		d.logger.Warn().Err(err).Str("session_key", key).Msg("Reset not persisted")
	}
	return "Started a fresh session."
}

// cmdStop cancels the in-flight run and always drops the pending queue,
// even when no run is active, so a stop issued during human-only mode
// still discards what piled up.
func (d *Dispatcher) cmdStop(key string) string {
	cancelled := d.orch.Cancel(key)
	dropped := d.queue.Clear(key)

	if cancelled {
		// The stopped confirmation arrives through the sink once the
		// process is actually down.
		return ""
	}
	if dropped > 0 {
		return fmt.Sprintf("Nothing was running. Dropped %d queued message(s).", dropped)
	}
	return "Nothing is running."
}

func (d *Dispatcher) cmdStatus(key string) string {
	sess := d.ensureSession(key)

	session := "fresh"
	if sess.AgentSessionID != "" {
		session = sess.AgentSessionID
	}
	human := "off"
	if sess.HumanOnly {
		human = "on"
	}

	return fmt.Sprintf(
		"State: %s\nQueued: %d\nSession: %s\nMode: %s\nHuman-only: %s",
		d.orch.State(key), d.orch.QueueDepth(key), session, sess.Mode, human,
	)
}

func (d *Dispatcher) cmdQueue(key string) string {
	pending := d.queue.List(key)
	if len(pending) == 0 {
		return "Queue is empty."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d message(s) queued:\n", len(pending))
	for i, msg := range pending {
		preview := msg.Text
		if len(preview) > 60 {
			preview = preview[:60] + "..."
		}
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, msg.AuthorName, preview)
	}
	return strings.TrimRight(b.String(), "\n")
}

// cmdMode toggles the agent backend. The change applies from the next
// run; an in-flight run keeps the binary it started with.
func (d *Dispatcher) cmdMode(key string) string {
	var mode store.Mode
	err := d.store.Update(key, func(sess *store.Session) {
		sess.Mode = sess.Mode.Toggled()
		mode = sess.Mode
	})
	if err != nil {
		d.logger.Warn().Err(err).Str("session_key", key).Msg("Mode change not persisted")
	}
	return fmt.Sprintf("Mode is now %s. Takes effect on the next run.", mode)
}

func (d *Dispatcher) cmdHuman(key string) string {
	var humanOnly bool
	err := d.store.Update(key, func(sess *store.Session) {
		sess.HumanOnly = !sess.HumanOnly
		humanOnly = sess.HumanOnly
	})
	if err != nil {
		d.logger.Warn().Err(err).Str("session_key", key).Msg("Human-only change not persisted")
	}

	if humanOnly {
		return "Human-only mode on. Messages will queue without starting the agent."
	}

	// Re-entering agent mode releases whatever queued while humans talked.
	if d.queue.Peek(key) > 0 {
		d.orch.Notify(key)
	}
	return "Human-only mode off."
}

// cmdSlash forwards a backend slash command verbatim, without author
// tagging.
func (d *Dispatcher) cmdSlash(in Inbound, args string) string {
	if args == "" {
		return "Usage: !slash <command>, for example !slash compact"
	}
	in.Text = "/" + strings.TrimPrefix(args, "/")
	return d.enqueue(in, true)
}

func (d *Dispatcher) enqueue(in Inbound, passthrough bool) string {
	d.ensureSession(in.ConversationKey)

	busy := d.orch.State(in.ConversationKey) != StateIdle

	depth := d.queue.Enqueue(in.ConversationKey, msgqueue.Message{
		Text:        in.Text,
		AuthorID:    in.AuthorID,
		AuthorName:  in.AuthorName,
		Passthrough: passthrough,
	})
	d.orch.Notify(in.ConversationKey)

	if busy {
		return fmt.Sprintf("Queued (#%d in line).", depth)
	}
	return ""
}

// ensureSession returns the conversation's session, creating and
// persisting a default one on first contact.
func (d *Dispatcher) ensureSession(key string) store.Session {
	if sess, ok := d.store.Get(key); ok {
		return sess
	}

	if err := d.store.Update(key, func(*store.Session) {}); err != nil {
		d.logger.Warn().Err(err).Str("session_key", key).Msg("New session not persisted")
	}
	sess, _ := d.store.Get(key)
	return sess
}

const helpText = `Commands:
!new, !reset  start a fresh session
!stop         cancel the current run and drop queued messages
!status       show run state, queue depth, and session info
!queue        list queued messages
!mode         toggle the agent backend (standard/alternate)
!human        toggle human-only mode
!slash <cmd>  forward a backend slash command
!help         this message

Anything else is sent to the agent.`
