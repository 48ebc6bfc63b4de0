package agent

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// EventType identifies the kind of stream event emitted by a run.
type EventType string

const (
	// EventText carries the accumulated assistant text so far.
	EventText EventType = "text"
	// EventToolUse reports a tool invocation with a short description.
	EventToolUse EventType = "tool_use"
	// EventSessionID carries the backend session identifier, emitted once.
	EventSessionID EventType = "session_id"
	// EventDone is the terminal event of a successful run.
	EventDone EventType = "done"
	// EventError is the terminal event of a failed run.
	EventError EventType = "error"
)

// Event is one item on a run's event stream.
type Event struct {
	Type      EventType
	Text      string
	Tool      string
	Detail    string
	SessionID string
	Err       string
}

// streamLine is the top-level shape of one stream-json output line.
type streamLine struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Result    string          `json:"result"`
	IsError   bool            `json:"is_error"`
	Message   json.RawMessage `json:"message"`
}

type assistantMessage struct {
	Content []contentItem `json:"content"`
}

type contentItem struct {
	Type  string          `json:"type"`
	Text  string          `json:"text"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// streamParser accumulates assistant text across stream lines and turns
// each line into zero or more events.
type streamParser struct {
	parts      []string
	sessionSet bool
	finalText  string
}

// parseLine decodes one line of subprocess output. Unparseable lines are
// skipped; the CLI interleaves non-JSON diagnostics in verbose mode.
func (p *streamParser) parseLine(line string) []Event {
	line = strings.TrimSpace(line)
	if line == "" || line[0] != '{' {
		return nil
	}

	var msg streamLine
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return nil
	}

	var events []Event

	if msg.SessionID != "" && !p.sessionSet {
		p.sessionSet = true
		events = append(events, Event{Type: EventSessionID, SessionID: msg.SessionID})
	}

	switch msg.Type {
	case "assistant":
		events = append(events, p.parseAssistant(msg.Message)...)
	case "result":
		if msg.Result != "" {
			p.finalText = msg.Result
			events = append(events, Event{Type: EventText, Text: msg.Result})
		}
	}

	return events
}

func (p *streamParser) parseAssistant(raw json.RawMessage) []Event {
	if len(raw) == 0 {
		return nil
	}

	var msg assistantMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil
	}

	var events []Event
	textChanged := false

	for _, item := range msg.Content {
		switch item.Type {
		case "text":
			if item.Text != "" {
				p.parts = append(p.parts, item.Text)
				textChanged = true
			}
		case "tool_use":
			events = append(events, Event{
				Type:   EventToolUse,
				Tool:   item.Name,
				Detail: formatToolInput(item.Name, item.Input),
			})
		}
	}

	if textChanged {
		p.finalText = strings.Join(p.parts, "\n")
		events = append(events, Event{Type: EventText, Text: p.finalText})
	}

	return events
}

// FinalText returns the last full assistant text seen, preferring the
// result line's text when one arrived.
func (p *streamParser) FinalText() string {
	return p.finalText
}

// formatToolInput renders a tool call's input as a short human-readable
// detail for status lines.
func formatToolInput(tool string, input json.RawMessage) string {
	var fields map[string]any
	if err := json.Unmarshal(input, &fields); err != nil {
		return ""
	}

	str := func(key string) string {
		if v, ok := fields[key].(string); ok {
			return v
		}
		return ""
	}

	switch tool {
	case "Read":
		return filepath.Base(str("file_path"))
	case "Edit", "Write":
		return str("file_path")
	case "Glob", "Grep":
		return str("pattern")
	case "Bash":
		return truncate(str("command"), 50)
	case "WebSearch":
		return str("query")
	case "WebFetch":
		return str("url")
	case "Task":
		return str("description")
	default:
		if len(fields) == 0 {
			return ""
		}
		return fmt.Sprintf("%d args", len(fields))
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
