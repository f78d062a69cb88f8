package notify

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/iamruinous/meshcore-companion/internal/model"
)

func TestFanoutSendsToEnabledSinksOnly(t *testing.T) {
	enabled := NewFake()
	disabled := NewFake()
	disabled.enabled = false

	fo := NewFanout(enabled, disabled)
	ev := Event{
		Kind: KindDirectMessage,
		Time: time.Now(),
		Message: model.Message{
			ID:        uuid.New(),
			ContactID: uuid.New(),
			Text:      "hello",
		},
	}

	fo.Send(context.Background(), ev)

	if got := enabled.Events(); len(got) != 1 || got[0].Message.Text != "hello" {
		t.Fatalf("expected enabled sink to record event, got %+v", got)
	}
	if got := disabled.Events(); len(got) != 0 {
		t.Fatalf("expected disabled sink to receive nothing, got %+v", got)
	}
}

func TestFormatTextCoversEveryKind(t *testing.T) {
	idx := uint8(2)
	cases := []Event{
		{Kind: KindMessageDelivered, Message: model.Message{Text: "a"}},
		{Kind: KindMessageFailed, Message: model.Message{Text: "b"}},
		{Kind: KindDirectMessage, Message: model.Message{Text: "c"}},
		{Kind: KindChannelMessage, Message: model.Message{Text: "d", ChannelIndex: &idx}},
		{Kind: KindUnknownSender, Prefix: [6]byte{1, 2, 3, 4, 5, 6}},
		{Kind: KindSessionUnsynced, SessionID: "sess-1"},
	}
	for _, ev := range cases {
		if got := formatText(ev); got == "" {
			t.Errorf("formatText(%s) returned empty string", ev.Kind)
		}
	}
}

func TestNewFactoryUnknownType(t *testing.T) {
	if _, err := New(Config{Type: "carrier-pigeon"}); err == nil {
		t.Fatal("expected error for unknown notifier type")
	}
}

func TestNewStdoutDefaultsToJSON(t *testing.T) {
	n, err := NewStdout(Config{Enabled: true})
	if err != nil {
		t.Fatalf("NewStdout: %v", err)
	}
	if n.format != "json" {
		t.Fatalf("expected default format json, got %q", n.format)
	}
	if !n.Enabled() {
		t.Fatal("expected enabled notifier")
	}
	if err := n.Send(context.Background(), Event{Kind: KindDirectMessage}); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestNewWebhookRequiresURL(t *testing.T) {
	if _, err := NewWebhook(Config{Options: map[string]interface{}{}}); err == nil {
		t.Fatal("expected error for missing url")
	}
}

func TestNewAppriseRequiresURL(t *testing.T) {
	if _, err := NewApprise(Config{Options: map[string]interface{}{}}); err == nil {
		t.Fatal("expected error for missing url")
	}
}
