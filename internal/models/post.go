package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PostKind string

const (
	PostKindPost    PostKind = "POST"
	PostKindComment PostKind = "COMMENT"
	PostKindThread  PostKind = "THREAD"
)

func (k PostKind) Valid() bool {
	switch k {
	case PostKindPost, PostKindComment, PostKindThread:
		return true
	}
	return false
}

type PostStatus string

const (
	PostStatusDraft     PostStatus = "DRAFT"
	PostStatusScheduled PostStatus = "SCHEDULED"
	PostStatusPublished PostStatus = "PUBLISHED"
	PostStatusArchived  PostStatus = "ARCHIVED"
	// PostStatusFailed is terminal: the post exhausted its publish attempts.
	PostStatusFailed PostStatus = "FAILED"
)

// postTransitions lists the allowed status changes. PUBLISHED never goes
// back to SCHEDULED.
var postTransitions = map[PostStatus][]PostStatus{
	PostStatusDraft:     {PostStatusScheduled, PostStatusArchived},
	PostStatusScheduled: {PostStatusScheduled, PostStatusDraft, PostStatusPublished, PostStatusFailed, PostStatusArchived},
	PostStatusPublished: {PostStatusArchived},
	PostStatusFailed:    {PostStatusScheduled, PostStatusArchived},
}

// CanTransition reports whether a post may move from one status to another.
func CanTransition(from, to PostStatus) bool {
	for _, s := range postTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// PostContent is what gets delivered to the provider.
type PostContent struct {
	Text       string `gorm:"size:1024;not null" json:"text"`
	ImageURL   string `gorm:"size:2048" json:"image_url,omitempty"`
	ReplyToURL string `gorm:"size:2048" json:"reply_to_url,omitempty"`
}

type Post struct {
	ID          string      `gorm:"primaryKey;size:36" json:"id"`
	OwnerID     string      `gorm:"not null;size:64;index" json:"owner_id"`
	Content     PostContent `gorm:"embedded" json:"content"`
	Kind        PostKind    `gorm:"size:20;not null;default:'POST'" json:"kind"`
	Status      PostStatus  `gorm:"size:20;not null;default:'DRAFT';index:idx_posts_due,priority:1" json:"status"`
	ChannelKind string      `gorm:"size:50;not null;default:'twitter'" json:"channel_kind"`
	ChannelID   *string     `gorm:"size:36;index" json:"channel_id,omitempty"`
	ScheduledAt *time.Time  `gorm:"index:idx_posts_due,priority:2" json:"scheduled_at"`
	PublishedAt *time.Time  `gorm:"index" json:"published_at"`
	ExternalURL string      `gorm:"size:2048" json:"external_url,omitempty"`
	CreatedAt   time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *Post) BeforeCreate(*gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
