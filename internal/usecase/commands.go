package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/arlov/crypto_trade_bot/internal/domain"
	"go.uber.org/zap"
)

// ParseCommand turns one chat message into a Command. The bool is false for
// anything that is not a recognized command.
func ParseCommand(text string) (domain.Command, bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return domain.Command{}, false
	}
	// Telegram appends @botname in group chats.
	verb, _, _ := strings.Cut(strings.ToLower(fields[0]), "@")

	switch verb {
	case "/pause":
		return domain.Command{Kind: domain.CommandPause}, true
	case "/resume":
		return domain.Command{Kind: domain.CommandResume}, true
	case "/close":
		return domain.Command{Kind: domain.CommandForceClose}, true
	case "/status":
		return domain.Command{Kind: domain.CommandStatus}, true
	case "/switch":
		if len(fields) < 2 {
			return domain.Command{}, false
		}
		return domain.Command{Kind: domain.CommandSwitchCredentials, Arg: fields[1]}, true
	default:
		return domain.Command{}, false
	}
}

// CommandSource produces raw chat messages; implemented by the Telegram
// long-poll client.
type CommandSource interface {
	Updates(ctx context.Context) <-chan domain.IncomingMessage
}

// CommandRouter reads chat messages, drops anything from unauthorized chats,
// parses the rest and forwards commands to the execution loop. Replies go back
// through the notifier.
type CommandRouter struct {
	source   CommandSource
	notifier domain.Notifier
	logger   *zap.Logger

	// chatID of the single operator allowed to drive the bot. Empty means
	// commands are disabled.
	chatID string

	replyTimeout time.Duration
}

func NewCommandRouter(source CommandSource, notifier domain.Notifier, chatID string, logger *zap.Logger) *CommandRouter {
	return &CommandRouter{
		source:       source,
		notifier:     notifier,
		logger:       logger,
		chatID:       chatID,
		replyTimeout: 30 * time.Second,
	}
}

// Run pumps messages until the context is cancelled. Commands are sent to out;
// the loop on the other end replies through the per-command channel.
func (r *CommandRouter) Run(ctx context.Context, out chan<- domain.Command) {
	if r.chatID == "" {
		r.logger.Warn("command routing disabled, no operator chat configured")
		return
	}
	updates := r.source.Updates(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-updates:
			if !ok {
				return
			}
			r.handle(ctx, out, msg)
		}
	}
}

func (r *CommandRouter) handle(ctx context.Context, out chan<- domain.Command, msg domain.IncomingMessage) {
	if msg.ChatID != r.chatID {
		r.logger.Warn("ignoring message from unauthorized chat", zap.String("chat_id", msg.ChatID))
		return
	}
	cmd, ok := ParseCommand(msg.Text)
	if !ok {
		if strings.HasPrefix(strings.TrimSpace(msg.Text), "/") {
			r.notifier.Send("Unknown command. Available: /pause /resume /close /switch <name> /status")
		}
		return
	}
	cmd.Reply = make(chan string, 1)

	select {
	case out <- cmd:
	case <-ctx.Done():
		return
	}

	timer := time.NewTimer(r.replyTimeout)
	defer timer.Stop()
	select {
	case reply := <-cmd.Reply:
		r.notifier.Send(reply)
	case <-timer.C:
		r.logger.Error("command reply timed out", zap.String("command", string(cmd.Kind)))
		r.notifier.Send(fmt.Sprintf("Command %s accepted but no reply within %s.", cmd.Kind, r.replyTimeout))
	case <-ctx.Done():
	}
}
