package bridge

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// MediaRef points at a media file the bridge already downloaded to local
// disk. Description is filled in during enrichment when a describer is
// configured.
type MediaRef struct {
	Kind        string `json:"kind"`
	MIMEType    string `json:"mimeType,omitempty"`
	Path        string `json:"path,omitempty"`
	Bytes       int64  `json:"bytes,omitempty"`
	Description string `json:"description,omitempty"`
}

// InboundEvent is one processed chat message ready for the host. Events
// published after debouncing may be merged from several wire messages.
type InboundEvent struct {
	MessageID      string    `json:"messageId"`
	ChatJID        string    `json:"chatJid"`
	ParticipantJID string    `json:"participantJid,omitempty"`
	SenderID       string    `json:"senderId"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
	IsGroup        bool      `json:"isGroup,omitempty"`
	MentionedJIDs  []string  `json:"mentionedJids,omitempty"`
	MentionedBot   bool      `json:"mentionedBot,omitempty"`

	ReplyToMessageID   string `json:"replyToMessageId,omitempty"`
	ReplyToParticipant string `json:"replyToParticipant,omitempty"`
	ReplyToText        string `json:"replyToText,omitempty"`
	ReplyToBot         bool   `json:"replyToBot,omitempty"`

	Media *MediaRef `json:"media,omitempty"`

	// Synthetic marks an event reconstructed from quoted reply context
	// rather than received from the bridge directly.
	Synthetic bool `json:"synthetic,omitempty"`
}

func (ev *InboundEvent) dedupeKey() string {
	return ev.ChatJID + ":" + ev.MessageID
}

func (ev *InboundEvent) bucketKey() string {
	return ev.ChatJID + ":" + ev.SenderID
}

// parseInboundEvent decodes a message payload field by field, tolerating
// unknown keys and wrong types. It fails only when one of the fields the
// pipeline cannot work without is missing or empty.
func parseInboundEvent(payload []byte, now time.Time) (*InboundEvent, error) {
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("decode message payload: %w", err)
	}

	ev := &InboundEvent{
		MessageID:      stringField(m, "messageId"),
		ChatJID:        stringField(m, "chatJid"),
		ParticipantJID: stringField(m, "participantJid"),
		SenderID:       stringField(m, "senderId"),
		Text:           stringField(m, "text"),
		Timestamp:      timeField(m, "timestamp", now),
		IsGroup:        boolField(m, "isGroup"),
		MentionedJIDs:  stringSliceField(m, "mentionedJids"),
		MentionedBot:   boolField(m, "mentionedBot"),
	}

	for _, req := range []struct {
		key   string
		value string
	}{
		{"messageId", ev.MessageID},
		{"chatJid", ev.ChatJID},
		{"senderId", ev.SenderID},
		{"text", ev.Text},
	} {
		if req.value == "" {
			return nil, fmt.Errorf("message payload missing %s", req.key)
		}
	}

	if rt, ok := m["replyTo"].(map[string]any); ok {
		ev.ReplyToMessageID = stringField(rt, "messageId")
		ev.ReplyToParticipant = stringField(rt, "participantJid")
		ev.ReplyToText = stringField(rt, "text")
		ev.ReplyToBot = boolField(rt, "bot")
	}

	if md, ok := m["media"].(map[string]any); ok {
		kind := stringField(md, "kind")
		path := stringField(md, "path")
		if kind != "" || path != "" {
			ev.Media = &MediaRef{
				Kind:     kind,
				MIMEType: stringField(md, "mimeType"),
				Path:     path,
				Bytes:    int64Field(md, "bytes"),
			}
		}
	}

	return ev, nil
}

// mergeInboundEvents collapses a debounced burst into one event. Texts
// are joined in arrival order, mention lists are unioned, the bot flags
// are OR'd, and reply context keeps the most recent non-empty value per
// field. Every other field comes from the last event of the burst.
func mergeInboundEvents(events []*InboundEvent) *InboundEvent {
	if len(events) == 0 {
		return nil
	}
	last := events[len(events)-1]
	if len(events) == 1 {
		return last
	}

	merged := *last
	if last.Media != nil {
		media := *last.Media
		merged.Media = &media
	}

	texts := make([]string, 0, len(events))
	mentions := make(map[string]struct{})
	for _, ev := range events {
		if t := strings.TrimSpace(ev.Text); t != "" {
			texts = append(texts, t)
		}
		for _, jid := range ev.MentionedJIDs {
			mentions[jid] = struct{}{}
		}
		merged.MentionedBot = merged.MentionedBot || ev.MentionedBot
		merged.ReplyToBot = merged.ReplyToBot || ev.ReplyToBot
	}
	if len(texts) > 0 {
		merged.Text = strings.Join(texts, "\n")
	}
	if len(mentions) > 0 {
		union := make([]string, 0, len(mentions))
		for jid := range mentions {
			union = append(union, jid)
		}
		sort.Strings(union)
		merged.MentionedJIDs = union
	} else {
		merged.MentionedJIDs = nil
	}

	merged.ReplyToMessageID = latestNonEmpty(events, func(ev *InboundEvent) string { return ev.ReplyToMessageID })
	merged.ReplyToParticipant = latestNonEmpty(events, func(ev *InboundEvent) string { return ev.ReplyToParticipant })
	merged.ReplyToText = latestNonEmpty(events, func(ev *InboundEvent) string { return ev.ReplyToText })

	return &merged
}

// synthesizeQuotedEvent reconstructs an archive record for a quoted
// message that was never captured itself, from the reply context ev
// carries. The reply's timestamp stands in for the unknown original one.
func synthesizeQuotedEvent(ev *InboundEvent, accountID string) *InboundEvent {
	sender := ev.ReplyToParticipant
	if sender == "" {
		if ev.ReplyToBot {
			sender = accountID
		} else {
			sender = ev.ChatJID
		}
	}
	return &InboundEvent{
		MessageID:      ev.ReplyToMessageID,
		ChatJID:        ev.ChatJID,
		ParticipantJID: ev.ReplyToParticipant,
		SenderID:       sender,
		Text:           ev.ReplyToText,
		Timestamp:      ev.Timestamp,
		IsGroup:        ev.IsGroup,
		Synthetic:      true,
	}
}

func latestNonEmpty(events []*InboundEvent, field func(*InboundEvent) string) string {
	for i := len(events) - 1; i >= 0; i-- {
		if v := field(events[i]); v != "" {
			return v
		}
	}
	return ""
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

func boolField(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

func int64Field(m map[string]any, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

func stringSliceField(m map[string]any, key string) []string {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func timeField(m map[string]any, key string, fallback time.Time) time.Time {
	switch v := m[key].(type) {
	case float64:
		if v <= 0 {
			return fallback
		}
		sec := int64(v)
		nsec := int64((v - float64(sec)) * float64(time.Second))
		return time.Unix(sec, nsec).UTC()
	case string:
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(v))
		if err != nil {
			return fallback
		}
		return t.UTC()
	default:
		return fallback
	}
}
