package daemon

import (
	"context"

	"github.com/harun/tessa/pkg/agent"
)

// Inbound is one message arriving from the chat boundary.
type Inbound struct {
	ConversationKey string
	AuthorID        string
	AuthorName      string
	Text            string
}

// Update is one outbound message or edit for a conversation.
type Update struct {
	ConversationKey string
	Text            string
	Final           bool
	Stopped         bool
}

// Sink delivers updates back to the chat boundary.
type Sink func(Update)

// AgentRun is a live agent subprocess as seen by a worker.
type AgentRun interface {
	Events() <-chan agent.Event
	Stop()
	Err() error
}

// Launcher starts agent runs. The indirection exists so worker tests can
// substitute a fake subprocess.
type Launcher interface {
	Start(ctx context.Context, params agent.RunParams) (AgentRun, error)
}

// cliLauncher adapts *agent.Runner to the Launcher interface.
type cliLauncher struct {
	runner *agent.Runner
}

func (l *cliLauncher) Start(ctx context.Context, params agent.RunParams) (AgentRun, error) {
	run, err := l.runner.Start(ctx, params)
	if err != nil {
		return nil, err
	}
	return run, nil
}
