package domain

import "time"

// Notification is the canonical, validated form of an inbound webhook event.
// It is built by the ingestion gateway and never mutated afterwards.
type Notification struct {
	// Key is the deduplication key (hex SHA-256 of ExternalID when present,
	// otherwise of SourceID).
	Key string `json:"key"`
	// SourceID identifies the originating post (its link).
	SourceID string `json:"source_id"`
	// ExternalID is the optional caller-supplied identifier.
	ExternalID string `json:"external_id,omitempty"`
	// Content is the sanitized free text matched against interests.
	Content    string    `json:"content"`
	ReceivedAt time.Time `json:"received_at"`
	// Broadcast marks an operator announcement. It has no source link and
	// is never deduplicated.
	Broadcast bool `json:"broadcast,omitempty"`
}

// DeliveryIntent instructs the transport to deliver one notification to one
// group on behalf of the listed matched members. Intents are ephemeral.
type DeliveryIntent struct {
	Notification Notification `json:"notification"`
	// Group is a snapshot of the target group taken while routing.
	Group Group `json:"group"`
	// Users are the matched members, ordered by registration.
	Users []string `json:"users"`
}

// RoutedNotification records that a deduplication key has been routed. It
// lets a restarted process keep rejecting replays until ExpiresAt.
type RoutedNotification struct {
	Key        string    `gorm:"type:char(64);primaryKey"`
	SourceID   string    `gorm:"type:text;not null"`
	Content    string    `gorm:"type:text;not null"`
	MatchCount int       `gorm:"not null;default:0"`
	GroupCount int       `gorm:"not null;default:0"`
	RoutedAt   time.Time `gorm:"not null"`
	ExpiresAt  time.Time `gorm:"not null;index:idx_routed_expires"`
}

// TableName implements the GORM tabler interface.
func (RoutedNotification) TableName() string { return "routed_notifications" }
