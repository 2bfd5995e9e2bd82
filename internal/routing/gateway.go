package routing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/tbourn/notify-router/internal/domain"
)

// DefaultMaxContentRunes bounds notification content when the gateway is
// built without an explicit limit.
const DefaultMaxContentRunes = 4096

// RawPayload is the loosely-typed inbound webhook body. Nothing past the
// gateway sees it.
type RawPayload struct {
	Text string `json:"text" form:"text" validate:"required"`
	Link string `json:"link" form:"link" validate:"required,max=2048"`
	ID   string `json:"id"   form:"id"   validate:"max=256"`
}

// Gateway validates and normalizes raw payloads into notifications.
type Gateway struct {
	maxRunes  int
	validator *validator.Validate
	now       func() time.Time
}

// GatewayOption customizes a Gateway.
type GatewayOption func(*Gateway)

// WithGatewayClock overrides the arrival timestamp source.
func WithGatewayClock(now func() time.Time) GatewayOption {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGateway returns a gateway rejecting content longer than maxRunes runes.
func NewGateway(maxRunes int, opts ...GatewayOption) *Gateway {
	if maxRunes <= 0 {
		maxRunes = DefaultMaxContentRunes
	}
	g := &Gateway{
		maxRunes:  maxRunes,
		validator: validator.New(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Normalize turns raw into a Notification. It fails with ErrMalformedPayload
// when content or link are blank and with ErrPayloadTooLarge when content is
// over the rune bound.
func (g *Gateway) Normalize(raw RawPayload) (domain.Notification, error) {
	p := RawPayload{
		Text: sanitizeContent(raw.Text),
		Link: strings.TrimSpace(raw.Link),
		ID:   strings.TrimSpace(raw.ID),
	}
	if err := g.validator.Struct(p); err != nil {
		return domain.Notification{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if n := utf8.RuneCountInString(p.Text); n > g.maxRunes {
		return domain.Notification{}, fmt.Errorf("%w: %d runes exceeds %d", ErrPayloadTooLarge, n, g.maxRunes)
	}

	return domain.Notification{
		Key:        DedupKey(p.ID, p.Link),
		SourceID:   p.Link,
		ExternalID: p.ID,
		Content:    p.Text,
		ReceivedAt: g.now(),
	}, nil
}

// DedupKey derives the deduplication key: hex SHA-256 of the explicit id when
// present, otherwise of the source link.
func DedupKey(id, link string) string {
	src := strings.TrimSpace(id)
	if src == "" {
		src = strings.TrimSpace(link)
	}
	sum := sha256.Sum256([]byte(src))
	return hex.EncodeToString(sum[:])
}

var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent converts CRLF/CR to LF, collapses runs of 3+ newlines to
// two and trims surrounding whitespace.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
