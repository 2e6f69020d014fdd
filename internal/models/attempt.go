package models

import (
	"time"
)

// PublishAttempt records one call to the publish gateway for a post.
type PublishAttempt struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	PostID      string    `gorm:"not null;size:36;index" json:"post_id"`
	ChannelID   string    `gorm:"size:36;index" json:"channel_id"`
	Platform    string    `gorm:"size:50;not null" json:"platform"`
	Success     bool      `gorm:"not null;index" json:"success"`
	Error       string    `gorm:"type:text" json:"error"`
	ExternalURL string    `gorm:"size:2048" json:"external_url"`
	DurationMS  int64     `json:"duration_ms"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
