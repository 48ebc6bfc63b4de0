package daemon

import (
	"fmt"
	"strings"

	"github.com/harun/tessa/pkg/msgqueue"
)

// multiUserPreamble is prepended to the first prompt of a fresh backend
// session so the agent understands the author tags on later messages.
const multiUserPreamble = "You are talking to multiple people in a group chat. " +
	"Each message is prefixed with [username] identifying its author. " +
	"Address people by name when it helps, and do not include a [username] " +
	"prefix in your own replies."

// BuildPrompt joins a drained batch into a single prompt. Messages carry
// an author tag unless they are passthrough commands, which are forwarded
// verbatim. On a fresh session the multi-user preamble comes first.
func BuildPrompt(batch []msgqueue.Message, fresh bool) string {
	var parts []string
	if fresh {
		parts = append(parts, multiUserPreamble)
	}

	for _, msg := range batch {
		if msg.Passthrough {
			parts = append(parts, msg.Text)
			continue
		}
		name := msg.AuthorName
		if name == "" {
			name = msg.AuthorID
		}
		if name == "" {
			parts = append(parts, msg.Text)
			continue
		}
		parts = append(parts, fmt.Sprintf("[%s]: %s", name, msg.Text))
	}

	return strings.Join(parts, "\n")
}

// withCompletionAck appends a done acknowledgement addressed to the
// batch's requesting author (the first attributable conversational
// message) to the run's final text. Batches with no attributable author,
// such as a lone forwarded slash command, get no ack.
func withCompletionAck(finalText string, batch []msgqueue.Message) string {
	var ack string
	for _, msg := range batch {
		if msg.Passthrough {
			continue
		}
		name := msg.AuthorName
		if name == "" {
			name = msg.AuthorID
		}
		if name != "" {
			ack = fmt.Sprintf("@%s ✅ Done!", name)
			break
		}
	}

	if ack == "" {
		return finalText
	}
	if strings.TrimSpace(finalText) == "" {
		return ack
	}
	return finalText + "\n\n" + ack
}
