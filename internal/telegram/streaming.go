package telegram

import (
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// maxMessageLen is Telegram's hard limit on message text.
const maxMessageLen = 4096

// streamTable tracks the in-progress outbound message per conversation.
// The first update of a run sends a new message; later updates edit it
// in place. The final update ends the stream and may split into several
// messages when the text exceeds the Telegram limit.
type streamTable struct {
	bot *Bot

	mu      sync.Mutex
	streams map[string]*outStream
}

type outStream struct {
	chatID    int64
	messageID int
	lastText  string
}

func newStreamTable(bot *Bot) *streamTable {
	return &streamTable{
		bot:     bot,
		streams: make(map[string]*outStream),
	}
}

// Deliver sends or edits the conversation's streamed message.
func (b *Bot) Deliver(conversationKey, text string, final bool) {
	chatID, err := strconv.ParseInt(conversationKey, 10, 64)
	if err != nil {
		b.logger.Error().Str("session_key", conversationKey).Msg("Bad conversation key")
		return
	}
	b.streams.deliver(chatID, conversationKey, text, final)
}

func (t *streamTable) deliver(chatID int64, key, text string, final bool) {
	t.mu.Lock()
	stream := t.streams[key]
	if final {
		delete(t.streams, key)
	}
	t.mu.Unlock()

	if final {
		t.finishStream(chatID, stream, text)
		return
	}

	if len(text) > maxMessageLen {
		text = text[:maxMessageLen-3] + "..."
	}

	if stream == nil {
		messageID, ok := t.send(chatID, text)
		if !ok {
			return
		}
		t.mu.Lock()
		t.streams[key] = &outStream{chatID: chatID, messageID: messageID, lastText: text}
		t.mu.Unlock()
		return
	}

	t.edit(stream, text)
}

// finishStream writes the final text. Short finals edit the streamed
// message in place; long finals edit the first chunk in and send the
// rest as follow-up messages.
func (t *streamTable) finishStream(chatID int64, stream *outStream, text string) {
	chunks := splitMessage(text, maxMessageLen)
	if len(chunks) == 0 {
		return
	}

	if stream != nil {
		t.edit(stream, chunks[0])
		chunks = chunks[1:]
	}

	for _, chunk := range chunks {
		t.send(chatID, chunk)
	}
}

func (t *streamTable) send(chatID int64, text string) (int, bool) {
	sent, err := t.bot.api.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		t.bot.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send message")
		return 0, false
	}
	return sent.MessageID, true
}

func (t *streamTable) edit(stream *outStream, text string) {
	if text == stream.lastText {
		return
	}
	stream.lastText = text

	edit := tgbotapi.NewEditMessageText(stream.chatID, stream.messageID, text)
	if _, err := t.bot.api.Send(edit); err != nil {
		// Racing edits with identical content are not an error worth noise.
		if strings.Contains(err.Error(), "message is not modified") {
			return
		}
		t.bot.logger.Error().Err(err).
			Int64("chat_id", stream.chatID).
			Int("message_id", stream.messageID).
			Msg("Failed to edit message")
	}
}

// splitMessage breaks text into chunks of at most limit bytes, preferring
// newline boundaries and falling back to space, then a hard cut.
func splitMessage(text string, limit int) []string {
	if text == "" {
		return nil
	}

	var chunks []string
	for len(text) > limit {
		cut := strings.LastIndexByte(text[:limit], '\n')
		if cut < limit/2 {
			cut = strings.LastIndexByte(text[:limit], ' ')
		}
		if cut < limit/2 {
			cut = limit
		}
		chunks = append(chunks, strings.TrimRight(text[:cut], "\n "))
		text = strings.TrimLeft(text[cut:], "\n ")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
