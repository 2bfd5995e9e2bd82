package domain

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// Enforce FKs so cascades actually execute.
	db.Exec("PRAGMA foreign_keys=ON;")
	return db
}

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		(User{}).TableName():               "users",
		(Keyword{}).TableName():            "keywords",
		(Group{}).TableName():              "delivery_groups",
		(RoutedNotification{}).TableName(): "routed_notifications",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestGroupHelpers(t *testing.T) {
	g := Group{Capacity: 2, MemberCount: 1}
	if !g.HasSpace() {
		t.Fatalf("1/2 group should have space")
	}
	g.MemberCount = 2
	if g.HasSpace() {
		t.Fatalf("2/2 group should not have space")
	}
	if g.Bound() {
		t.Fatalf("group without chat id must not be bound")
	}
	g.ChatID = "-100123"
	if !g.Bound() {
		t.Fatalf("group with chat id must be bound")
	}
}

func TestUserKeywordList(t *testing.T) {
	u := User{Keywords: []Keyword{{Keyword: "ai"}, {Keyword: "rockets"}}}
	got := u.KeywordList()
	if len(got) != 2 || got[0] != "ai" || got[1] != "rockets" {
		t.Fatalf("KeywordList() = %v", got)
	}
}

func TestMigrations_Indexes_AndCascades(t *testing.T) {
	db := newDomainDB(t)

	if err := db.AutoMigrate(&User{}, &Keyword{}, &Group{}, &RoutedNotification{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()

	for _, tbl := range []any{&User{}, &Keyword{}, &Group{}, &RoutedNotification{}} {
		if !m.HasTable(tbl) {
			t.Fatalf("expected table for %T to exist", tbl)
		}
	}
	if !m.HasIndex(&Keyword{}, "ux_keyword_user_kw") {
		t.Fatalf("expected unique index ux_keyword_user_kw on keywords")
	}
	if !m.HasIndex(&Keyword{}, "idx_keyword") {
		t.Fatalf("expected index idx_keyword on keywords")
	}
	if !m.HasIndex(&Group{}, "ux_group_seq") {
		t.Fatalf("expected unique index ux_group_seq on delivery_groups")
	}
	if !m.HasIndex(&RoutedNotification{}, "idx_routed_expires") {
		t.Fatalf("expected index idx_routed_expires on routed_notifications")
	}

	now := time.Now().UTC()
	u := &User{ID: "u1", Name: "Ana", Status: UserActive, RegisteredAt: now}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("insert user: %v", err)
	}
	for _, kw := range []string{"ai", "ml"} {
		if err := db.Create(&Keyword{UserID: "u1", Keyword: kw, CreatedAt: now}).Error; err != nil {
			t.Fatalf("insert keyword %q: %v", kw, err)
		}
	}

	// Same keyword twice for the same user violates the unique index.
	if err := db.Create(&Keyword{UserID: "u1", Keyword: "ai", CreatedAt: now}).Error; err == nil {
		t.Fatalf("expected unique violation for duplicate keyword")
	}

	// CASCADE: deleting the user removes its keywords.
	if err := db.Delete(&User{}, "id = ?", "u1").Error; err != nil {
		t.Fatalf("delete user: %v", err)
	}
	var cnt int64
	if err := db.Model(&Keyword{}).Where("user_id = ?", "u1").Count(&cnt).Error; err != nil {
		t.Fatalf("count keywords: %v", err)
	}
	if cnt != 0 {
		t.Fatalf("expected keywords to cascade-delete, got %d", cnt)
	}

	// Status check constraint rejects unknown values.
	bad := &User{ID: "u2", Status: UserStatus("banned"), RegisteredAt: now}
	if err := db.Create(bad).Error; err == nil {
		t.Fatalf("expected check constraint failure for status=banned")
	}
}
