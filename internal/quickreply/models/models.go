// Package models defines quick replies: canned responses agents insert into
// conversations.
package models

import "time"

// QuickReply is one canned response. OwnerID is empty for shared replies
// visible to every agent. Deleted replies are kept for audit and hidden from
// listings.
type QuickReply struct {
	ID         string     `db:"id" json:"id"`
	OwnerID    string     `db:"owner_id" json:"owner_id,omitempty"`
	Category   string     `db:"category" json:"category,omitempty"`
	Title      string     `db:"title" json:"title"`
	Content    string     `db:"content" json:"content"`
	IsFavorite bool       `db:"is_favorite" json:"is_favorite"`
	UsageCount int        `db:"usage_count" json:"usage_count"`
	DeletedAt  *time.Time `db:"deleted_at" json:"-"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}
