// Package relay turns a run's event stream into rate-paced chat updates.
// Intermediate updates are coalesced so the chat surface is edited at most
// once per interval; the final update always goes out.
package relay

import (
	"fmt"
	"strings"
	"time"

	"github.com/harun/tessa/pkg/agent"
)

// Update is one outbound chat update.
type Update struct {
	Text string
	// Final marks the last update of the run; no further updates follow.
	Final bool
	// Stopped marks a run ended by an explicit stop rather than completion.
	Stopped bool
}

// Sink receives updates in order.
type Sink func(Update)

// Options configures a relay.
type Options struct {
	// Interval is the minimum spacing between intermediate updates.
	Interval time.Duration
	// MaxStatusLines caps the tool-status window shown above the text.
	MaxStatusLines int
}

// DefaultOptions returns the standard pacing settings.
func DefaultOptions() Options {
	return Options{
		Interval:       800 * time.Millisecond,
		MaxStatusLines: 5,
	}
}

// Relay accumulates stream state for one run and emits paced updates.
// Not safe for concurrent use; a run's events are consumed by one
// goroutine.
type Relay struct {
	sink Sink
	opts Options

	status   []string
	text     string
	lastEmit time.Time
	done     bool
}

// New creates a relay for one run.
func New(sink Sink, opts Options) *Relay {
	if opts.Interval <= 0 {
		opts.Interval = DefaultOptions().Interval
	}
	if opts.MaxStatusLines <= 0 {
		opts.MaxStatusLines = DefaultOptions().MaxStatusLines
	}
	return &Relay{sink: sink, opts: opts}
}

// Handle folds one stream event into the relay state and emits an update
// if the pacing interval has elapsed. Terminal events are handled by
// Finish and Stop, not here.
func (r *Relay) Handle(ev agent.Event) {
	if r.done {
		return
	}

	switch ev.Type {
	case agent.EventToolUse:
		r.status = append(r.status, statusLine(ev))
		if len(r.status) > r.opts.MaxStatusLines {
			r.status = r.status[len(r.status)-r.opts.MaxStatusLines:]
		}
	case agent.EventText:
		r.text = ev.Text
	default:
		return
	}

	r.maybeEmit()
}

// Finish emits the final update with the run's complete text. The tool
// status window is dropped from the final message.
func (r *Relay) Finish(finalText string) {
	if r.done {
		return
	}
	r.done = true

	if strings.TrimSpace(finalText) == "" {
		finalText = "(no response)"
	}
	r.sink(Update{Text: finalText, Final: true})
}

// Stop emits the stopped terminal update and suppresses anything further.
func (r *Relay) Stop() {
	if r.done {
		return
	}
	r.done = true

	r.sink(Update{Text: "Stopped.", Final: true, Stopped: true})
}

func (r *Relay) maybeEmit() {
	now := time.Now()
	if !r.lastEmit.IsZero() && now.Sub(r.lastEmit) < r.opts.Interval {
		return
	}

	text := r.render()
	if text == "" {
		return
	}

	r.lastEmit = now
	r.sink(Update{Text: text})
}

func (r *Relay) render() string {
	if len(r.status) == 0 {
		return r.text
	}

	block := strings.Join(r.status, "\n")
	if r.text == "" {
		return block
	}
	return block + "\n\n" + r.text
}

func statusLine(ev agent.Event) string {
	if ev.Detail == "" {
		return fmt.Sprintf("⚙ %s", ev.Tool)
	}
	return fmt.Sprintf("⚙ %s: %s", ev.Tool, ev.Detail)
}
