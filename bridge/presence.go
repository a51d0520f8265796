package bridge

import (
	"context"
	"time"
)

const (
	PresenceComposing = "composing"
	PresencePaused    = "paused"
)

type typingSession struct {
	chatJID string
	cancel  context.CancelFunc
	done    chan struct{}
}

// StartTyping begins a bounded typing-indicator loop for the chat. Any
// previous session for the same chat is replaced without a paused update
// in between. No-op while presence is disabled or unsupported.
func (e *Engine) StartTyping(chatJID string) {
	if chatJID == "" || !e.presenceAllowed() {
		return
	}
	ctx := e.runContext()
	if ctx == nil {
		return
	}

	e.presenceMu.Lock()
	prev := e.typing[chatJID]
	delete(e.typing, chatJID)
	e.presenceMu.Unlock()
	if prev != nil {
		prev.cancel()
		<-prev.done
	}

	sctx, cancel := context.WithCancel(ctx)
	session := &typingSession{chatJID: chatJID, cancel: cancel, done: make(chan struct{})}
	e.presenceMu.Lock()
	e.typing[chatJID] = session
	e.presenceMu.Unlock()
	go e.typingLoop(sctx, session)
}

// StopTyping cancels the chat's typing session if one is active and tells
// the bridge the sender paused.
func (e *Engine) StopTyping(ctx context.Context, chatJID string) {
	e.stopTyping(ctx, chatJID, false)
}

func (e *Engine) stopTyping(ctx context.Context, chatJID string, suppressPaused bool) {
	e.presenceMu.Lock()
	session := e.typing[chatJID]
	delete(e.typing, chatJID)
	e.presenceMu.Unlock()
	if session != nil {
		session.cancel()
		<-session.done
	}

	if suppressPaused || !e.presenceAllowed() {
		return
	}
	if err := e.sendPresence(ctx, PresencePaused, chatJID); err != nil {
		if CodeOf(err) == CodeUnsupported {
			e.disablePresence()
			return
		}
		e.log.Debug("presence_update_failed", "chat_jid", chatJID, "state", PresencePaused, "error", err)
	}
}

func (e *Engine) typingLoop(ctx context.Context, session *typingSession) {
	defer close(session.done)
	defer func() {
		e.presenceMu.Lock()
		if e.typing[session.chatJID] == session {
			delete(e.typing, session.chatJID)
		}
		e.presenceMu.Unlock()
	}()

	deadline := time.Now().Add(e.opts.Presence.MaxDuration)
	for {
		if ctx.Err() != nil || time.Now().After(deadline) {
			return
		}
		if !e.Connected() {
			return
		}
		if err := e.sendPresence(ctx, PresenceComposing, session.chatJID); err != nil {
			if CodeOf(err) == CodeUnsupported {
				e.disablePresence()
				return
			}
			e.log.Debug("presence_update_failed", "chat_jid", session.chatJID, "state", PresenceComposing, "error", err)
		}
		if err := sleepWithContext(ctx, e.opts.Presence.Interval); err != nil {
			return
		}
	}
}

func (e *Engine) sendPresence(ctx context.Context, state, chatJID string) error {
	payload := map[string]any{"state": state}
	if chatJID != "" {
		payload["chatJid"] = chatJID
	}
	_, err := e.call(ctx, TypePresence, payload, e.opts.CommandTimeout)
	return err
}

func (e *Engine) presenceAllowed() bool {
	if !e.opts.Presence.Enabled {
		return false
	}
	e.presenceMu.Lock()
	defer e.presenceMu.Unlock()
	return !e.presenceDisabled
}

// disablePresence turns presence off for the rest of the connection after
// the bridge reported the capability unsupported. Logged once.
func (e *Engine) disablePresence() {
	e.presenceMu.Lock()
	first := !e.presenceDisabled
	e.presenceDisabled = true
	e.presenceMu.Unlock()
	if first {
		e.log.Info("presence_unsupported", "detail", "typing indicators disabled for this connection")
	}
}

func (e *Engine) resetPresenceSupport() {
	e.presenceMu.Lock()
	e.presenceDisabled = false
	e.presenceMu.Unlock()
}

func (e *Engine) stopAllTyping() {
	e.presenceMu.Lock()
	sessions := make([]*typingSession, 0, len(e.typing))
	for _, s := range e.typing {
		sessions = append(sessions, s)
	}
	e.typing = make(map[string]*typingSession)
	e.presenceMu.Unlock()

	for _, s := range sessions {
		s.cancel()
		<-s.done
	}
}
