// Package domain defines the persistence models for users, their interest
// keywords, and delivery groups. These types are mapped with GORM and are
// shared by the routing core, the repository layer, and the services.
package domain

import (
	"time"
)

// UserStatus is the lifecycle state of a registered user.
type UserStatus string

const (
	UserActive  UserStatus = "active"
	UserRemoved UserStatus = "removed"
)

// GroupStatus is the assignment state of a delivery group.
type GroupStatus string

const (
	// GroupOpen groups accept new members.
	GroupOpen GroupStatus = "open"
	// GroupFull groups reached capacity; they reopen when a member is released.
	GroupFull GroupStatus = "full"
	// GroupRetired groups never receive new members but still get deliveries
	// for the members they already have.
	GroupRetired GroupStatus = "retired"
)

// User is an end user who receives notifications matching their interests.
//
// Fields:
//   - ID: chat/account identifier (primary key).
//   - Name / Email / Intention: display metadata captured at registration.
//   - GroupID: assigned delivery group; nil until the first assignment.
//   - Status: active or removed (soft delete).
//   - RegisteredAt: start of the current registration; orders users inside
//     a delivery intent.
//   - Keywords: normalized interest keywords (cascade-deleted with the user).
type User struct {
	ID           string     `json:"id"                    gorm:"type:varchar(64);primaryKey"`
	Name         string     `json:"name"                  gorm:"type:varchar(255);not null;default:''"`
	Email        string     `json:"email"                 gorm:"type:varchar(255);not null;default:''"`
	Intention    string     `json:"intention"             gorm:"type:text;not null;default:''"`
	GroupID      *string    `json:"group_id,omitempty"    gorm:"type:varchar(64);index:idx_user_group"`
	Status       UserStatus `json:"status"                gorm:"type:varchar(16);not null;default:'active';check:status IN ('active','removed')"`
	RegisteredAt time.Time  `json:"registered_at"         gorm:"not null;index:idx_user_registered"`
	RemovedAt    *time.Time `json:"removed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`

	Keywords []Keyword `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// KeywordList returns the user's keywords as plain strings.
func (u User) KeywordList() []string {
	out := make([]string, 0, len(u.Keywords))
	for _, k := range u.Keywords {
		out = append(out, k.Keyword)
	}
	return out
}

// Keyword is a single normalized interest keyword owned by a user.
// A user holds each keyword at most once.
type Keyword struct {
	ID        uint      `json:"-"       gorm:"primaryKey;autoIncrement"`
	UserID    string    `json:"user_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_keyword_user_kw,priority:1"`
	Keyword   string    `json:"keyword" gorm:"type:varchar(128);not null;uniqueIndex:ux_keyword_user_kw,priority:2;index:idx_keyword"`
	CreatedAt time.Time `json:"created_at"`

	// User owns the keyword. Keywords are cascade-deleted with their user.
	User User `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Keyword.
func (Keyword) TableName() string { return "keywords" }

// Group is a bounded-capacity delivery channel. Groups created by the
// directory start unbound (empty ChatID); an admin binds them to a chat.
//
// Seq is the creation sequence number and defines the order in which open
// groups are scanned and delivery intents are emitted.
type Group struct {
	ID          string      `json:"id"                    gorm:"type:varchar(64);primaryKey"`
	Seq         int64       `json:"seq"                   gorm:"not null;uniqueIndex:ux_group_seq"`
	ChatID      string      `json:"chat_id,omitempty"     gorm:"type:varchar(64);index:idx_group_chat"`
	Title       string      `json:"title,omitempty"       gorm:"type:varchar(255);not null;default:''"`
	InviteLink  string      `json:"invite_link,omitempty" gorm:"type:varchar(512);not null;default:''"`
	Capacity    int         `json:"capacity"              gorm:"not null;check:capacity > 0"`
	MemberCount int         `json:"member_count"          gorm:"not null;default:0"`
	Status      GroupStatus `json:"status"                gorm:"type:varchar(16);not null;default:'open';check:status IN ('open','full','retired')"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// TableName returns the database table name for Group.
func (Group) TableName() string { return "delivery_groups" }

// Bound reports whether the group is attached to a transport chat.
func (g Group) Bound() bool { return g.ChatID != "" }

// HasSpace reports whether the group can take one more member.
func (g Group) HasSpace() bool { return g.MemberCount < g.Capacity }
