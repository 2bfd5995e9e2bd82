package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	"github.com/tbourn/notify-router/internal/delivery"
	"github.com/tbourn/notify-router/internal/domain"
)

type sentMsg struct {
	chatID int64
	text   string
	opts   *tele.SendOptions
}

type fakeBot struct {
	sent []sentMsg
	err  error
}

func (f *fakeBot) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	m := sentMsg{text: what.(string)}
	if c, ok := to.(*tele.Chat); ok {
		m.chatID = c.ID
	}
	for _, o := range opts {
		if so, ok := o.(*tele.SendOptions); ok {
			m.opts = so
		}
	}
	f.sent = append(f.sent, m)
	return &tele.Message{ID: len(f.sent)}, nil
}

func note(content, link string) domain.Notification {
	return domain.Notification{Key: "k", SourceID: link, Content: content}
}

func TestFormatNotification_Modes(t *testing.T) {
	n := note("rockets_launch *today* <b>", "https://x.com/p/1")
	tests := []struct {
		mode tele.ParseMode
		want string
	}{
		{tele.ModeMarkdown, "🔔 *New notification*\n\nrockets\\_launch \\*today\\* <b>\n\n🔗 [Open](https://x.com/p/1)"},
		{tele.ModeHTML, "🔔 <b>New notification</b>\n\nrockets_launch *today* &lt;b&gt;\n\n🔗 <a href=\"https://x.com/p/1\">Open</a>"},
		{tele.ModeDefault, "🔔 New notification\n\nrockets_launch *today* <b>\n\n🔗 https://x.com/p/1"},
	}
	for _, tt := range tests {
		if got := FormatNotification(n, tt.mode); got != tt.want {
			t.Errorf("mode %q:\n got %q\nwant %q", tt.mode, got, tt.want)
		}
	}

	v2 := FormatNotification(note("v1.2 (beta)!", "https://x.com/a_(b)"), tele.ModeMarkdownV2)
	if !strings.Contains(v2, `v1\.2 \(beta\)\!`) || !strings.HasSuffix(v2, `[Open](https://x.com/a_(b\))`) {
		t.Fatalf("MarkdownV2 escaping wrong: %q", v2)
	}
}

func TestFormatNotification_Broadcast(t *testing.T) {
	n := domain.Notification{Key: "broadcast-1", Content: "Maintenance at 22:00", Broadcast: true}
	tests := []struct {
		mode tele.ParseMode
		want string
	}{
		{tele.ModeMarkdown, "📢 *Announcement*\n\nMaintenance at 22:00"},
		{tele.ModeHTML, "📢 <b>Announcement</b>\n\nMaintenance at 22:00"},
		{tele.ModeDefault, "📢 Announcement\n\nMaintenance at 22:00"},
	}
	for _, tt := range tests {
		if got := FormatNotification(n, tt.mode); got != tt.want {
			t.Errorf("mode %q:\n got %q\nwant %q", tt.mode, got, tt.want)
		}
	}
}

func TestFormatNotification_ClipsToMessageLimit(t *testing.T) {
	long := strings.Repeat("é_", 3000)
	for _, mode := range []tele.ParseMode{tele.ModeDefault, tele.ModeMarkdown, tele.ModeHTML, tele.ModeMarkdownV2} {
		got := FormatNotification(note(long, "https://x.com/p/1"), mode)
		if n := utf8.RuneCountInString(got); n > messageLimit {
			t.Fatalf("mode %q: %d runes exceeds limit", mode, n)
		}
		if !strings.Contains(got, "…") {
			t.Fatalf("mode %q: clipped text should end with an ellipsis", mode)
		}
	}
}

func TestSender_Send(t *testing.T) {
	bot := &fakeBot{}
	s := newWithBot(bot, "Markdown")

	it := domain.DeliveryIntent{
		Notification: note("hello", "https://x.com/p/1"),
		Group:        domain.Group{ID: "G1", ChatID: "-100123"},
		Users:        []string{"A"},
	}
	if err := s.Send(context.Background(), it); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(bot.sent) != 1 || bot.sent[0].chatID != -100123 || bot.sent[0].opts.ParseMode != tele.ModeMarkdown {
		t.Fatalf("sent = %+v", bot.sent)
	}

	it.Group.ChatID = ""
	if err := s.Send(context.Background(), it); !errors.Is(err, delivery.ErrUnbound) {
		t.Fatalf("unbound: want ErrUnbound, got %v", err)
	}
	it.Group.ChatID = "not-a-number"
	if err := s.Send(context.Background(), it); err == nil {
		t.Fatalf("invalid chat id should fail")
	}

	it.Group.ChatID = "-1"
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Send(ctx, it); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled ctx: got %v", err)
	}

	bot.err = errors.New("telegram: Forbidden")
	if err := s.Send(context.Background(), it); err == nil {
		t.Fatalf("bot error should propagate")
	}
}

func TestSender_SendInvite(t *testing.T) {
	bot := &fakeBot{}
	s := newWithBot(bot, "")

	if err := s.SendInvite(context.Background(), "42", domain.Group{ID: "G1"}); err != nil || len(bot.sent) != 0 {
		t.Fatalf("no invite link: err=%v sent=%d", err, len(bot.sent))
	}
	g := domain.Group{ID: "G1", Title: "Space", InviteLink: "https://t.me/+abc"}
	if err := s.SendInvite(context.Background(), "42", g); err != nil {
		t.Fatalf("SendInvite: %v", err)
	}
	if len(bot.sent) != 1 || bot.sent[0].chatID != 42 || !strings.Contains(bot.sent[0].text, "https://t.me/+abc") {
		t.Fatalf("sent = %+v", bot.sent)
	}
	if err := s.SendInvite(context.Background(), "bob", g); err == nil {
		t.Fatalf("non-numeric user id should fail")
	}
}

func TestNew_EmptyToken(t *testing.T) {
	if _, err := New("  ", "Markdown"); err == nil {
		t.Fatalf("empty token should fail")
	}
}

func TestLogSender(t *testing.T) {
	var s LogSender
	it := domain.DeliveryIntent{Group: domain.Group{ID: "G1"}}
	if err := s.Send(context.Background(), it); !errors.Is(err, delivery.ErrUnbound) {
		t.Fatalf("want ErrUnbound, got %v", err)
	}
	it.Group.ChatID = "-1"
	if err := s.Send(context.Background(), it); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := s.SendInvite(context.Background(), "1", domain.Group{InviteLink: "x"}); err != nil {
		t.Fatalf("SendInvite: %v", err)
	}
}
