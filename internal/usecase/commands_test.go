package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/arlov/crypto_trade_bot/internal/domain"
	"go.uber.org/zap"
)

func TestParseCommand(t *testing.T) {
	cases := []struct {
		text string
		kind domain.CommandKind
		arg  string
		ok   bool
	}{
		{"/pause", domain.CommandPause, "", true},
		{"/resume", domain.CommandResume, "", true},
		{"/close", domain.CommandForceClose, "", true},
		{"/status", domain.CommandStatus, "", true},
		{"/switch backup", domain.CommandSwitchCredentials, "backup", true},
		{"/PAUSE", domain.CommandPause, "", true},
		{"  /pause  ", domain.CommandPause, "", true},
		{"/pause@my_bot", domain.CommandPause, "", true},
		{"/switch", "", "", false}, // missing argument
		{"/unknown", "", "", false},
		{"hello", "", "", false},
		{"", "", "", false},
	}
	for _, tc := range cases {
		cmd, ok := ParseCommand(tc.text)
		if ok != tc.ok {
			t.Errorf("ParseCommand(%q) ok = %v, want %v", tc.text, ok, tc.ok)
			continue
		}
		if ok && (cmd.Kind != tc.kind || cmd.Arg != tc.arg) {
			t.Errorf("ParseCommand(%q) = %s %q, want %s %q", tc.text, cmd.Kind, cmd.Arg, tc.kind, tc.arg)
		}
	}
}

type stubSource struct {
	msgs []domain.IncomingMessage
}

func (s *stubSource) Updates(ctx context.Context) <-chan domain.IncomingMessage {
	out := make(chan domain.IncomingMessage, len(s.msgs))
	for _, m := range s.msgs {
		out <- m
	}
	close(out)
	return out
}

func TestCommandRouter_AuthorizedCommandForwarded(t *testing.T) {
	source := &stubSource{msgs: []domain.IncomingMessage{
		{ChatID: "42", Text: "/pause"},
	}}
	notifier := &mockNotifier{}
	router := NewCommandRouter(source, notifier, "42", zap.NewNop())
	router.replyTimeout = 100 * time.Millisecond

	out := make(chan domain.Command, 1)
	go func() {
		cmd := <-out
		cmd.Reply <- "paused"
	}()

	router.Run(context.Background(), out)

	if !notifier.contains("paused") {
		t.Error("reply must reach the notifier")
	}
}

func TestCommandRouter_UnauthorizedChatIgnored(t *testing.T) {
	source := &stubSource{msgs: []domain.IncomingMessage{
		{ChatID: "999", Text: "/pause"},
	}}
	notifier := &mockNotifier{}
	router := NewCommandRouter(source, notifier, "42", zap.NewNop())

	out := make(chan domain.Command, 1)
	router.Run(context.Background(), out)

	select {
	case cmd := <-out:
		t.Errorf("unauthorized command must not be forwarded, got %s", cmd.Kind)
	default:
	}
}

func TestCommandRouter_UnknownSlashCommandGetsHelp(t *testing.T) {
	source := &stubSource{msgs: []domain.IncomingMessage{
		{ChatID: "42", Text: "/frobnicate"},
	}}
	notifier := &mockNotifier{}
	router := NewCommandRouter(source, notifier, "42", zap.NewNop())

	out := make(chan domain.Command, 1)
	router.Run(context.Background(), out)

	if !notifier.contains("Unknown command") {
		t.Error("unknown slash command must get a usage reply")
	}
}

func TestCommandRouter_DisabledWithoutChatID(t *testing.T) {
	source := &stubSource{msgs: []domain.IncomingMessage{
		{ChatID: "42", Text: "/pause"},
	}}
	router := NewCommandRouter(source, &mockNotifier{}, "", zap.NewNop())

	out := make(chan domain.Command, 1)
	router.Run(context.Background(), out)

	select {
	case <-out:
		t.Error("router without a chat id must forward nothing")
	default:
	}
}
