package routing

import "github.com/tbourn/notify-router/internal/domain"

// Interests is the read side of the interest index used for matching.
type Interests interface {
	Match(text string) []string
}

// MatchEngine computes which users a notification concerns.
type MatchEngine struct {
	interests Interests
}

// NewMatchEngine returns a MatchEngine reading from interests.
func NewMatchEngine(interests Interests) *MatchEngine {
	return &MatchEngine{interests: interests}
}

// Compute returns the users with at least one keyword occurring in the
// notification content, ordered by registration. It has no side effects.
func (m *MatchEngine) Compute(n domain.Notification) []string {
	if m == nil || m.interests == nil {
		return nil
	}
	return m.interests.Match(n.Content)
}
