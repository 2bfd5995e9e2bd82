// Package telegram delivers routed notifications through the Telegram Bot
// API using telebot.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v4"

	"github.com/tbourn/notify-router/internal/delivery"
	"github.com/tbourn/notify-router/internal/domain"
)

// botAPI is the subset of *tele.Bot used here.
type botAPI interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Sender posts delivery intents to the group's bound chat and invite links
// to users.
type Sender struct {
	bot       botAPI
	parseMode tele.ParseMode
}

// New connects a bot with token. parseMode is one of "", Markdown,
// MarkdownV2 or HTML.
func New(token, parseMode string) (*Sender, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  token,
		Client: &http.Client{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return newWithBot(b, parseMode), nil
}

func newWithBot(b botAPI, parseMode string) *Sender {
	return &Sender{bot: b, parseMode: tele.ParseMode(parseMode)}
}

// Send implements delivery.Sender. Unbound groups yield delivery.ErrUnbound.
func (s *Sender) Send(ctx context.Context, intent domain.DeliveryIntent) error {
	if !intent.Group.Bound() {
		return delivery.ErrUnbound
	}
	chat, err := chatOf(intent.Group.ChatID)
	if err != nil {
		return fmt.Errorf("group %s: %w", intent.Group.ID, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	text := FormatNotification(intent.Notification, s.parseMode)
	_, err = s.bot.Send(chat, text, &tele.SendOptions{ParseMode: s.parseMode})
	return err
}

// SendInvite messages userID the invite link of g. Groups without an
// invite link are ignored.
func (s *Sender) SendInvite(ctx context.Context, userID string, g domain.Group) error {
	if g.InviteLink == "" {
		return nil
	}
	chat, err := chatOf(userID)
	if err != nil {
		return fmt.Errorf("user %s: %w", userID, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err = s.bot.Send(chat, FormatInvite(g), &tele.SendOptions{DisableWebPagePreview: true})
	return err
}

func chatOf(id string) (*tele.Chat, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat id %q", id)
	}
	return &tele.Chat{ID: n}, nil
}

// LogSender stands in for Telegram when no bot token is configured: it logs
// what would have been sent.
type LogSender struct{}

// Send implements delivery.Sender.
func (LogSender) Send(_ context.Context, intent domain.DeliveryIntent) error {
	if !intent.Group.Bound() {
		return delivery.ErrUnbound
	}
	log.Info().
		Str("key", intent.Notification.Key).
		Str("group_id", intent.Group.ID).
		Str("chat_id", intent.Group.ChatID).
		Strs("users", intent.Users).
		Msg("delivery (no transport configured)")
	return nil
}

// SendInvite logs the invite that would have been sent.
func (LogSender) SendInvite(_ context.Context, userID string, g domain.Group) error {
	if g.InviteLink == "" {
		return nil
	}
	log.Info().
		Str("user_id", userID).
		Str("group_id", g.ID).
		Msg("invite (no transport configured)")
	return nil
}
