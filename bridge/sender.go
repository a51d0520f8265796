package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/quailyquaily/wabridge/internal/wamarkdown"
)

// SendText delivers a message to the given chat. Markdown-ish content is
// converted to the platform-safe subset first, and any active typing
// session for the chat is stopped without an extra paused update. Returns
// the platform message id when the bridge reports one.
func (e *Engine) SendText(ctx context.Context, to, content string) (string, error) {
	if strings.TrimSpace(to) == "" {
		return "", fmt.Errorf("send_text: destination is required")
	}
	e.stopTyping(ctx, to, true)

	text := wamarkdown.Render(content)
	result, err := e.call(ctx, TypeSendText, map[string]any{"to": to, "text": text}, e.opts.CommandTimeout)
	if err != nil {
		return "", err
	}
	return resultString(result, "messageId"), nil
}
