package bridge

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"
)

func basePayload() map[string]any {
	return map[string]any{
		"messageId": "m1",
		"chatJid":   "123@g.us",
		"senderId":  "777@s.whatsapp.net",
		"text":      "hello",
	}
}

func mustParse(t *testing.T, payload map[string]any) *InboundEvent {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	ev, err := parseInboundEvent(raw, time.Now())
	if err != nil {
		t.Fatalf("parseInboundEvent() error = %v", err)
	}
	return ev
}

func TestParseInboundEvent_RequiredFields(t *testing.T) {
	t.Parallel()

	for _, key := range []string{"messageId", "chatJid", "senderId", "text"} {
		payload := basePayload()
		delete(payload, key)
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		if _, err := parseInboundEvent(raw, time.Now()); err == nil {
			t.Fatalf("parseInboundEvent() without %s succeeded, want error", key)
		} else if !strings.Contains(err.Error(), key) {
			t.Fatalf("error %q does not name missing field %s", err, key)
		}
	}
}

func TestParseInboundEvent_FullPayload(t *testing.T) {
	t.Parallel()

	payload := basePayload()
	payload["participantJid"] = "777@s.whatsapp.net"
	payload["isGroup"] = true
	payload["mentionedJids"] = []any{"111@s.whatsapp.net", "222@s.whatsapp.net"}
	payload["mentionedBot"] = true
	payload["timestamp"] = float64(1700000000)
	payload["replyTo"] = map[string]any{
		"messageId":      "m0",
		"participantJid": "999@s.whatsapp.net",
		"text":           "earlier",
		"bot":            true,
	}
	payload["media"] = map[string]any{
		"kind":     "image",
		"mimeType": "image/jpeg",
		"path":     "inbox/a.jpg",
		"bytes":    float64(1234),
	}

	ev := mustParse(t, payload)
	if !ev.IsGroup {
		t.Fatalf("IsGroup = false, want true")
	}
	if !ev.MentionedBot {
		t.Fatalf("MentionedBot = false, want true")
	}
	if got := ev.Timestamp.Unix(); got != 1700000000 {
		t.Fatalf("Timestamp = %d, want 1700000000", got)
	}
	if !reflect.DeepEqual(ev.MentionedJIDs, []string{"111@s.whatsapp.net", "222@s.whatsapp.net"}) {
		t.Fatalf("MentionedJIDs = %v", ev.MentionedJIDs)
	}
	if ev.ReplyToMessageID != "m0" || ev.ReplyToParticipant != "999@s.whatsapp.net" || ev.ReplyToText != "earlier" || !ev.ReplyToBot {
		t.Fatalf("reply context = %q %q %q %v", ev.ReplyToMessageID, ev.ReplyToParticipant, ev.ReplyToText, ev.ReplyToBot)
	}
	if ev.Media == nil {
		t.Fatalf("Media = nil, want populated ref")
	}
	if ev.Media.Kind != MediaKindImage || ev.Media.Path != "inbox/a.jpg" || ev.Media.Bytes != 1234 {
		t.Fatalf("media = %+v", ev.Media)
	}
}

func TestParseInboundEvent_ToleratesWrongTypes(t *testing.T) {
	t.Parallel()

	payload := basePayload()
	payload["mentionedJids"] = "not-a-list"
	payload["replyTo"] = "not-a-map"
	payload["media"] = 42
	payload["isGroup"] = "yes"

	ev := mustParse(t, payload)
	if ev.MentionedJIDs != nil {
		t.Fatalf("MentionedJIDs = %v, want nil", ev.MentionedJIDs)
	}
	if ev.ReplyToMessageID != "" {
		t.Fatalf("ReplyToMessageID = %q, want empty", ev.ReplyToMessageID)
	}
	if ev.Media != nil {
		t.Fatalf("Media = %+v, want nil", ev.Media)
	}
	if ev.IsGroup {
		t.Fatalf("IsGroup = true, want false for non-bool value")
	}
}

func TestParseInboundEvent_TimestampFormats(t *testing.T) {
	t.Parallel()

	payload := basePayload()
	payload["timestamp"] = "2024-03-01T10:00:00Z"
	ev := mustParse(t, payload)
	want, _ := time.Parse(time.RFC3339, "2024-03-01T10:00:00Z")
	if !ev.Timestamp.Equal(want) {
		t.Fatalf("Timestamp = %v, want %v", ev.Timestamp, want)
	}

	payload = basePayload()
	payload["timestamp"] = "garbage"
	before := time.Now()
	raw, _ := json.Marshal(payload)
	ev2, err := parseInboundEvent(raw, before)
	if err != nil {
		t.Fatalf("parseInboundEvent() error = %v", err)
	}
	if !ev2.Timestamp.Equal(before) {
		t.Fatalf("Timestamp = %v, want fallback %v", ev2.Timestamp, before)
	}
}

func TestDedupeAndBucketKeys(t *testing.T) {
	t.Parallel()

	ev := mustParse(t, basePayload())
	if got := ev.dedupeKey(); got != "123@g.us:m1" {
		t.Fatalf("dedupeKey() = %q, want %q", got, "123@g.us:m1")
	}
	if got := ev.bucketKey(); got != "123@g.us:777@s.whatsapp.net" {
		t.Fatalf("bucketKey() = %q, want %q", got, "123@g.us:777@s.whatsapp.net")
	}
}

func TestMergeInboundEvents_JoinsTextsAndUnionsMentions(t *testing.T) {
	t.Parallel()

	now := time.Now()
	events := []*InboundEvent{
		{MessageID: "m1", ChatJID: "c", SenderID: "s", Text: "a", Timestamp: now, MentionedJIDs: []string{"x"}},
		{MessageID: "m2", ChatJID: "c", SenderID: "s", Text: "b", Timestamp: now.Add(time.Second), MentionedBot: true},
		{MessageID: "m3", ChatJID: "c", SenderID: "s", Text: "c", Timestamp: now.Add(2 * time.Second), MentionedJIDs: []string{"y", "x"}},
	}

	merged := mergeInboundEvents(events)
	if merged.Text != "a\nb\nc" {
		t.Fatalf("Text = %q, want %q", merged.Text, "a\nb\nc")
	}
	if merged.MessageID != "m3" {
		t.Fatalf("MessageID = %q, want last event's m3", merged.MessageID)
	}
	if !merged.Timestamp.Equal(now.Add(2 * time.Second)) {
		t.Fatalf("Timestamp = %v, want last event's", merged.Timestamp)
	}
	if !reflect.DeepEqual(merged.MentionedJIDs, []string{"x", "y"}) {
		t.Fatalf("MentionedJIDs = %v, want sorted union [x y]", merged.MentionedJIDs)
	}
	if !merged.MentionedBot {
		t.Fatalf("MentionedBot = false, want true when any event mentions the bot")
	}
}

func TestMergeInboundEvents_SkipsBlankTexts(t *testing.T) {
	t.Parallel()

	events := []*InboundEvent{
		{MessageID: "m1", ChatJID: "c", SenderID: "s", Text: "a"},
		{MessageID: "m2", ChatJID: "c", SenderID: "s", Text: "   "},
		{MessageID: "m3", ChatJID: "c", SenderID: "s", Text: "b"},
	}
	if merged := mergeInboundEvents(events); merged.Text != "a\nb" {
		t.Fatalf("Text = %q, want %q", merged.Text, "a\nb")
	}
}

func TestMergeInboundEvents_ReplyContextMostRecentWins(t *testing.T) {
	t.Parallel()

	events := []*InboundEvent{
		{MessageID: "m1", ChatJID: "c", SenderID: "s", Text: "a", ReplyToMessageID: "old", ReplyToText: "first quote"},
		{MessageID: "m2", ChatJID: "c", SenderID: "s", Text: "b", ReplyToText: "second quote", ReplyToBot: true},
		{MessageID: "m3", ChatJID: "c", SenderID: "s", Text: "c"},
	}

	merged := mergeInboundEvents(events)
	if merged.ReplyToMessageID != "old" {
		t.Fatalf("ReplyToMessageID = %q, want %q", merged.ReplyToMessageID, "old")
	}
	if merged.ReplyToText != "second quote" {
		t.Fatalf("ReplyToText = %q, want %q", merged.ReplyToText, "second quote")
	}
	if !merged.ReplyToBot {
		t.Fatalf("ReplyToBot = false, want true")
	}
}

func TestMergeInboundEvents_SingleEventPassesThrough(t *testing.T) {
	t.Parallel()

	ev := &InboundEvent{MessageID: "m1", ChatJID: "c", SenderID: "s", Text: "solo"}
	if merged := mergeInboundEvents([]*InboundEvent{ev}); merged != ev {
		t.Fatalf("single-event merge returned a copy, want the same event")
	}
	if mergeInboundEvents(nil) != nil {
		t.Fatalf("empty merge returned an event, want nil")
	}
}

func TestMergeInboundEvents_DoesNotAliasMedia(t *testing.T) {
	t.Parallel()

	media := &MediaRef{Kind: MediaKindImage, Path: "a.jpg"}
	events := []*InboundEvent{
		{MessageID: "m1", ChatJID: "c", SenderID: "s", Text: "a"},
		{MessageID: "m2", ChatJID: "c", SenderID: "s", Text: "b", Media: media},
	}

	merged := mergeInboundEvents(events)
	if merged.Media == nil {
		t.Fatalf("Media = nil, want a copy of the last event's ref")
	}
	merged.Media.Path = "changed"
	if media.Path != "a.jpg" {
		t.Fatalf("merge aliased the source MediaRef")
	}
}

func TestSynthesizeQuotedEvent_SenderFallbacks(t *testing.T) {
	t.Parallel()

	base := &InboundEvent{
		MessageID:        "m2",
		ChatJID:          "123@g.us",
		ReplyToMessageID: "m1",
		ReplyToText:      "quoted",
		Timestamp:        time.Now(),
	}

	withParticipant := *base
	withParticipant.ReplyToParticipant = "999@s.whatsapp.net"
	ev := synthesizeQuotedEvent(&withParticipant, "bot@s.whatsapp.net")
	if ev.SenderID != "999@s.whatsapp.net" {
		t.Fatalf("SenderID = %q, want the quoted participant", ev.SenderID)
	}
	if !ev.Synthetic {
		t.Fatalf("Synthetic = false, want true")
	}
	if ev.MessageID != "m1" || ev.Text != "quoted" {
		t.Fatalf("synthesized event = %q %q", ev.MessageID, ev.Text)
	}

	fromBot := *base
	fromBot.ReplyToBot = true
	if ev := synthesizeQuotedEvent(&fromBot, "bot@s.whatsapp.net"); ev.SenderID != "bot@s.whatsapp.net" {
		t.Fatalf("SenderID = %q, want the account id for a quoted bot message", ev.SenderID)
	}

	unknown := *base
	if ev := synthesizeQuotedEvent(&unknown, "bot@s.whatsapp.net"); ev.SenderID != "123@g.us" {
		t.Fatalf("SenderID = %q, want the chat jid fallback", ev.SenderID)
	}
}
