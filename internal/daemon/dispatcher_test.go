package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/harun/tessa/pkg/agent"
	"github.com/harun/tessa/pkg/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDispatcherHarness(t *testing.T, launcher *fakeLauncher) (*Dispatcher, *harness) {
	t.Helper()
	h := newHarness(t, launcher)
	d := NewDispatcher(h.queue, h.store, h.orch, zerolog.Nop())
	return d, h
}

func idleLauncher() *fakeLauncher {
	return &fakeLauncher{script: func(params agent.RunParams, run *fakeRun) {
		run.events <- agent.Event{Type: agent.EventDone, Text: "ok"}
		close(run.events)
	}}
}

func inbound(text string) Inbound {
	return Inbound{ConversationKey: "chat", AuthorID: "1", AuthorName: "alice", Text: text}
}

func TestHandleIgnoresEmpty(t *testing.T) {
	d, _ := newDispatcherHarness(t, idleLauncher())

	assert.Empty(t, d.Handle(context.Background(), Inbound{}))
	assert.Empty(t, d.Handle(context.Background(), Inbound{ConversationKey: "chat"}))
}

func TestConversationalMessageEnqueues(t *testing.T) {
	d, h := newDispatcherHarness(t, idleLauncher())

	reply := d.Handle(context.Background(), inbound("hello there"))
	assert.Empty(t, reply, "idle conversation gets no queue ack")

	h.updates.waitFinal(t, 1)
}

func TestConversationalAckWhenBusy(t *testing.T) {
	launcher := &fakeLauncher{script: func(params agent.RunParams, run *fakeRun) {
		<-run.stopped
		close(run.events)
	}}
	d, h := newDispatcherHarness(t, launcher)

	d.Handle(context.Background(), inbound("long task"))
	require.Eventually(t, func() bool {
		return h.orch.State("chat") != StateIdle
	}, time.Second, time.Millisecond)

	reply := d.Handle(context.Background(), inbound("another"))
	assert.Contains(t, reply, "Queued (#1")

	reply = d.Handle(context.Background(), inbound("yet another"))
	assert.Contains(t, reply, "Queued (#2")
}

func TestUnknownCommand(t *testing.T) {
	d, h := newDispatcherHarness(t, idleLauncher())

	reply := d.Handle(context.Background(), inbound("!frobnicate"))
	assert.Contains(t, reply, "Unknown command")
	assert.Contains(t, reply, "!frobnicate")
	assert.Equal(t, 0, h.queue.Peek("chat"))
}

func TestResetCommand(t *testing.T) {
	d, h := newDispatcherHarness(t, idleLauncher())

	require.NoError(t, h.store.Put("chat", store.Session{
		AgentSessionID: "old-sess",
		Mode:           store.ModeAlternate,
		HumanOnly:      true,
	}))

	reply := d.Handle(context.Background(), inbound("!new"))
	assert.Contains(t, reply, "fresh session")

	sess, ok := h.store.Get("chat")
	require.True(t, ok)
	assert.Empty(t, sess.AgentSessionID)
	// Settings survive a reset
	assert.Equal(t, store.ModeAlternate, sess.Mode)
	assert.True(t, sess.HumanOnly)
}

func TestResetAlias(t *testing.T) {
	d, _ := newDispatcherHarness(t, idleLauncher())
	assert.Contains(t, d.Handle(context.Background(), inbound("!reset")), "fresh session")
}

func TestStopCommandNothingRunning(t *testing.T) {
	d, _ := newDispatcherHarness(t, idleLauncher())
	assert.Equal(t, "Nothing is running.", d.Handle(context.Background(), inbound("!stop")))
}

func TestStopCommandCancelsRun(t *testing.T) {
	launcher := &fakeLauncher{script: func(params agent.RunParams, run *fakeRun) {
		<-run.stopped
		close(run.events)
	}}
	d, h := newDispatcherHarness(t, launcher)

	d.Handle(context.Background(), inbound("work"))
	require.Eventually(t, func() bool {
		return h.orch.State("chat") != StateIdle
	}, time.Second, time.Millisecond)

	reply := d.Handle(context.Background(), inbound("!stop"))
	assert.Empty(t, reply, "stopped confirmation arrives via the sink")

	all := h.updates.waitFinal(t, 1)
	assert.True(t, all[len(all)-1].Stopped)
}

func TestStopClearsQueueWhenNothingRuns(t *testing.T) {
	d, h := newDispatcherHarness(t, idleLauncher())

	// Human-only keeps the worker from draining what we enqueue
	d.Handle(context.Background(), inbound("!human"))
	d.Handle(context.Background(), inbound("please wait"))
	require.Equal(t, 1, h.queue.Peek("chat"))

	reply := d.Handle(context.Background(), inbound("!stop"))
	assert.Contains(t, reply, "Dropped 1 queued message")
	assert.Equal(t, 0, h.queue.Peek("chat"))
	assert.Equal(t, 0, h.launcher.startCount())
}

func TestModeToggleLeavesRunningProcessAlone(t *testing.T) {
	release := make(chan struct{})
	launcher := &fakeLauncher{script: func(params agent.RunParams, run *fakeRun) {
		<-release
		run.events <- agent.Event{Type: agent.EventDone, Text: "ok"}
		close(run.events)
	}}
	d, h := newDispatcherHarness(t, launcher)

	d.Handle(context.Background(), inbound("first"))
	require.Eventually(t, func() bool {
		return h.orch.State("chat") != StateIdle
	}, time.Second, time.Millisecond)
	require.False(t, launcher.startParams(0).Alternate)

	d.Handle(context.Background(), inbound("!mode"))

	sess, _ := h.store.Get("chat")
	assert.Equal(t, store.ModeAlternate, sess.Mode)
	// The in-flight run keeps the binary it was launched with
	assert.False(t, launcher.startParams(0).Alternate)

	close(release)
	h.updates.waitFinal(t, 1)

	d.Handle(context.Background(), inbound("second"))
	h.updates.waitFinal(t, 2)

	require.Equal(t, 2, launcher.startCount())
	assert.True(t, launcher.startParams(1).Alternate)
}

func TestStatusCommand(t *testing.T) {
	d, h := newDispatcherHarness(t, idleLauncher())

	require.NoError(t, h.store.Put("chat", store.Session{
		AgentSessionID: "sess-9",
		Mode:           store.ModeStandard,
	}))

	reply := d.Handle(context.Background(), inbound("!status"))
	assert.Contains(t, reply, "State: idle")
	assert.Contains(t, reply, "Queued: 0")
	assert.Contains(t, reply, "Session: sess-9")
	assert.Contains(t, reply, "Mode: standard")
	assert.Contains(t, reply, "Human-only: off")
}

func TestStatusCommandFreshSession(t *testing.T) {
	d, _ := newDispatcherHarness(t, idleLauncher())
	assert.Contains(t, d.Handle(context.Background(), inbound("!status")), "Session: fresh")
}

func TestQueueCommand(t *testing.T) {
	launcher := &fakeLauncher{script: func(params agent.RunParams, run *fakeRun) {
		<-run.stopped
		close(run.events)
	}}
	d, h := newDispatcherHarness(t, launcher)

	assert.Equal(t, "Queue is empty.", d.Handle(context.Background(), inbound("!queue")))

	d.Handle(context.Background(), inbound("run something"))
	require.Eventually(t, func() bool {
		return h.orch.State("chat") != StateIdle
	}, time.Second, time.Millisecond)

	d.Handle(context.Background(), Inbound{ConversationKey: "chat", AuthorName: "bob", Text: "waiting message"})

	reply := d.Handle(context.Background(), inbound("!queue"))
	assert.Contains(t, reply, "1 message(s) queued")
	assert.Contains(t, reply, "[bob]")
	assert.Contains(t, reply, "waiting message")
}

func TestModeCommandToggles(t *testing.T) {
	d, h := newDispatcherHarness(t, idleLauncher())

	reply := d.Handle(context.Background(), inbound("!mode"))
	assert.Contains(t, reply, "alternate")

	sess, _ := h.store.Get("chat")
	assert.Equal(t, store.ModeAlternate, sess.Mode)

	reply = d.Handle(context.Background(), inbound("!mode"))
	assert.Contains(t, reply, "standard")

	sess, _ = h.store.Get("chat")
	assert.Equal(t, store.ModeStandard, sess.Mode)
}

func TestHumanCommandTogglesAndReleasesQueue(t *testing.T) {
	d, h := newDispatcherHarness(t, idleLauncher())

	reply := d.Handle(context.Background(), inbound("!human"))
	assert.Contains(t, reply, "on")

	// Messages queue without starting the agent
	d.Handle(context.Background(), inbound("hello?"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, h.queue.Peek("chat"))
	assert.Equal(t, 0, h.launcher.startCount())

	reply = d.Handle(context.Background(), inbound("!human"))
	assert.Contains(t, reply, "off")

	h.updates.waitFinal(t, 1)
	assert.Equal(t, 1, h.launcher.startCount())
}

func TestSlashCommandPassthrough(t *testing.T) {
	d, h := newDispatcherHarness(t, idleLauncher())

	d.Handle(context.Background(), inbound("!slash compact"))

	h.updates.waitFinal(t, 1)
	prompt := h.launcher.startParams(0).Prompt
	assert.Contains(t, prompt, "/compact")
	assert.NotContains(t, prompt, "[alice]")
}

func TestSlashCommandUsage(t *testing.T) {
	d, _ := newDispatcherHarness(t, idleLauncher())
	assert.Contains(t, d.Handle(context.Background(), inbound("!slash")), "Usage")
}

func TestHelpCommand(t *testing.T) {
	d, _ := newDispatcherHarness(t, idleLauncher())

	reply := d.Handle(context.Background(), inbound("!help"))
	for _, cmd := range []string{"!new", "!stop", "!status", "!queue", "!mode", "!human", "!slash"} {
		assert.Contains(t, reply, cmd)
	}
}

func TestCommandCaseInsensitive(t *testing.T) {
	d, _ := newDispatcherHarness(t, idleLauncher())
	assert.Contains(t, d.Handle(context.Background(), inbound("!STATUS")), "State:")
}
