// ABOUTME: Thread title generation from the first user message
// ABOUTME: Uses an isolated model call that shares no state with the thread

package turn

import (
	"context"
	"fmt"
	"strings"

	"github.com/2389/chatbot/internal/llm"
	"github.com/2389/chatbot/internal/store"
)

// DefaultTitlePrompt is prefixed to the first user message to request a topic.
const DefaultTitlePrompt = "summarize this message as a topic in 1-5 words, msg : "

const titleQuotes = "\"'`“”‘’«»"

// Title asks the model for a short topic for a thread's first message.
// The request carries no thread history, no system prompt and no tools.
func (p *Processor) Title(ctx context.Context, firstMessage string) (string, error) {
	req := llm.Request{
		Messages: []store.Message{
			store.NewMessage(store.RoleUser, p.cfg.TitlePrompt+firstMessage),
		},
	}

	comp, err := p.model.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("generating title: %w", err)
	}

	title := CleanTitle(comp.Message.Content)
	p.logger.Debug("generated title", "title", title)
	return title, nil
}

// CleanTitle trims whitespace and surrounding quote characters from a model
// generated title, keeping only its first non-empty line.
func CleanTitle(raw string) string {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for {
			trimmed := strings.TrimSpace(strings.Trim(line, titleQuotes))
			if trimmed == line {
				break
			}
			line = trimmed
		}
		return line
	}
	return ""
}
