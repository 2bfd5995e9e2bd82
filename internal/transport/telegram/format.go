package telegram

import (
	"html"
	"strings"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	"github.com/tbourn/notify-router/internal/domain"
)

// messageLimit is the Bot API cap on message text, in characters.
const messageLimit = 4096

var (
	legacyMarkdown = strings.NewReplacer(`_`, `\_`, `*`, `\*`, "`", "\\`", `[`, `\[`)
	markdownV2     = strings.NewReplacer(
		`\`, `\\`, `_`, `\_`, `*`, `\*`, `[`, `\[`, `]`, `\]`, `(`, `\(`, `)`, `\)`,
		`~`, `\~`, "`", "\\`", `>`, `\>`, `#`, `\#`, `+`, `\+`, `-`, `\-`, `=`, `\=`,
		`|`, `\|`, `{`, `\{`, `}`, `\}`, `.`, `\.`, `!`, `\!`,
	)
	markdownV2URL = strings.NewReplacer(`\`, `\\`, `)`, `\)`)
)

// FormatNotification renders n for the given parse mode. Content is clipped
// so the whole message fits in one Telegram message. Broadcasts get an
// announcement header and no link.
func FormatNotification(n domain.Notification, mode tele.ParseMode) string {
	icon, title, link := "🔔", "New notification", n.SourceID
	if n.Broadcast {
		icon, title, link = "📢", "Announcement", ""
	}

	var head, tail string
	escape := func(s string) string { return s }

	switch mode {
	case tele.ModeMarkdown:
		head = icon + " *" + title + "*\n\n"
		if link != "" {
			tail = "\n\n🔗 [Open](" + link + ")"
		}
		escape = legacyMarkdown.Replace
	case tele.ModeMarkdownV2:
		head = icon + " *" + title + "*\n\n"
		if link != "" {
			tail = "\n\n🔗 [Open](" + markdownV2URL.Replace(link) + ")"
		}
		escape = markdownV2.Replace
	case tele.ModeHTML:
		head = icon + " <b>" + title + "</b>\n\n"
		if link != "" {
			tail = "\n\n🔗 <a href=\"" + html.EscapeString(link) + "\">Open</a>"
		}
		escape = html.EscapeString
	default:
		head = icon + " " + title + "\n\n"
		if link != "" {
			tail = "\n\n🔗 " + link
		}
	}

	budget := messageLimit - utf8.RuneCountInString(head) - utf8.RuneCountInString(tail)
	body := escape(n.Content)
	if utf8.RuneCountInString(body) > budget {
		body = clipEscaped(n.Content, budget, escape)
	}
	return head + body + tail
}

// FormatInvite renders the direct message sent when a user's group has an
// invite link.
func FormatInvite(g domain.Group) string {
	var b strings.Builder
	b.WriteString("🚀 Your notification group is ready!\n\n")
	if g.Title != "" {
		b.WriteString(g.Title)
		b.WriteString("\n")
	}
	b.WriteString(g.InviteLink)
	b.WriteString("\n\nYou will only receive notifications that match your interests.")
	return b.String()
}

// clipEscaped shortens raw until its escaped form (plus an ellipsis) fits
// in budget runes.
func clipEscaped(raw string, budget int, escape func(string) string) string {
	const ellipsis = "…"
	runes := []rune(raw)
	low, high := 0, len(runes)
	for low < high {
		mid := (low + high + 1) / 2
		if utf8.RuneCountInString(escape(string(runes[:mid])))+1 <= budget {
			low = mid
		} else {
			high = mid - 1
		}
	}
	return escape(string(runes[:low])) + ellipsis
}
