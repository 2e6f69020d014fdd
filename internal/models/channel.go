package models

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"
)

const ChannelKindTwitter = "twitter"

// Credentials is the secret bundle used to publish on behalf of the owner.
// It is never serialized to JSON and redacts itself in logs.
type Credentials struct {
	APIKey            string `gorm:"size:255" json:"-"`
	APISecret         string `gorm:"size:255" json:"-"`
	AccessToken       string `gorm:"size:255" json:"-"`
	AccessTokenSecret string `gorm:"size:255" json:"-"`
}

// Complete reports whether all four fields are set.
func (c Credentials) Complete() bool {
	return c.APIKey != "" && c.APISecret != "" && c.AccessToken != "" && c.AccessTokenSecret != ""
}

func (c Credentials) String() string {
	return "[redacted]"
}

func (c Credentials) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddBool("complete", c.Complete())
	return nil
}

// ChannelConfig holds the posting policy of a channel. Times are local
// HH:MM strings in Timezone.
type ChannelConfig struct {
	DailyStartTime         string `gorm:"size:5" json:"daily_start_time"`
	DailyEndTime           string `gorm:"size:5" json:"daily_end_time"`
	MinMinutesBetweenPosts int    `gorm:"default:0" json:"min_minutes_between_posts"`
	MaxPostsPerDay         int    `gorm:"default:0" json:"max_posts_per_day"`
	Timezone               string `gorm:"size:64" json:"timezone"`
}

type Channel struct {
	ID          string        `gorm:"primaryKey;size:36" json:"id"`
	OwnerID     string        `gorm:"not null;size:64;uniqueIndex:idx_channels_owner_kind" json:"owner_id"`
	Kind        string        `gorm:"not null;size:50;uniqueIndex:idx_channels_owner_kind" json:"kind"`
	DisplayName string        `gorm:"size:100" json:"display_name"`
	IsActive    bool          `gorm:"not null" json:"is_active"`
	Credentials Credentials   `gorm:"embedded;embeddedPrefix:cred_" json:"-"`
	Config      ChannelConfig `gorm:"embedded;embeddedPrefix:cfg_" json:"configuration"`
	CreatedAt   time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

func (c *Channel) BeforeCreate(*gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}
