package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/ifuryst/plume/internal/models"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrStatusConflict    = errors.New("post status changed concurrently")
	ErrInvalidTransition = errors.New("invalid post status transition")
)

// PostUpdate lists the columns a status change may touch. Nil fields are
// left as they are.
type PostUpdate struct {
	Status      models.PostStatus
	ScheduledAt *time.Time
	PublishedAt *time.Time
	ExternalURL *string
	ChannelID   *string
	UpdatedAt   time.Time
}

// DueCursor is the (scheduledAt, id) position after which FindDuePosts
// continues. The zero value starts from the oldest due post.
type DueCursor struct {
	ScheduledAt time.Time
	ID          string
}

type PostStore interface {
	Create(ctx context.Context, post *models.Post) error
	GetByID(ctx context.Context, id string) (*models.Post, error)
	// FindDuePosts returns SCHEDULED posts with scheduledAt <= now ordered
	// by (scheduledAt, id), starting strictly after the cursor.
	FindDuePosts(ctx context.Context, now time.Time, after DueCursor, limit int) ([]models.Post, error)
	// UpdateStatus applies fields only while the post still has the expected
	// status and returns ErrStatusConflict otherwise.
	UpdateStatus(ctx context.Context, id string, expected models.PostStatus, fields PostUpdate) (*models.Post, error)
	// PublishedBetween returns publishedAt of every post the channel
	// published in [start, end).
	PublishedBetween(ctx context.Context, channelID string, start, end time.Time) ([]time.Time, error)
}

type ChannelStore interface {
	Create(ctx context.Context, channel *models.Channel) error
	// FindActiveChannel returns ErrNotFound when the owner has no active
	// channel of that kind.
	FindActiveChannel(ctx context.Context, ownerID, kind string) (*models.Channel, error)
}

type GormPostStore struct {
	db *gorm.DB
}

func NewPostStore(db *gorm.DB) *GormPostStore {
	return &GormPostStore{db: db}
}

func (s *GormPostStore) Create(ctx context.Context, post *models.Post) error {
	post.ScheduledAt = utcPtr(post.ScheduledAt)
	post.PublishedAt = utcPtr(post.PublishedAt)
	if err := s.db.WithContext(ctx).Create(post).Error; err != nil {
		return fmt.Errorf("failed to create post: %w", err)
	}
	return nil
}

func (s *GormPostStore) GetByID(ctx context.Context, id string) (*models.Post, error) {
	var post models.Post
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&post).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return &post, nil
}

func (s *GormPostStore) FindDuePosts(ctx context.Context, now time.Time, after DueCursor, limit int) ([]models.Post, error) {
	var posts []models.Post
	q := s.db.WithContext(ctx).
		Where("status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?", models.PostStatusScheduled, now.UTC())
	if !after.ScheduledAt.IsZero() {
		at := after.ScheduledAt.UTC()
		q = q.Where("(scheduled_at > ? OR (scheduled_at = ? AND id > ?))", at, at, after.ID)
	}
	q = q.Order("scheduled_at ASC").Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("failed to find due posts: %w", err)
	}
	return posts, nil
}

func (s *GormPostStore) UpdateStatus(ctx context.Context, id string, expected models.PostStatus, fields PostUpdate) (*models.Post, error) {
	updates := map[string]interface{}{
		"status": fields.Status,
	}
	if fields.ScheduledAt != nil {
		updates["scheduled_at"] = fields.ScheduledAt.UTC()
	}
	if fields.PublishedAt != nil {
		updates["published_at"] = fields.PublishedAt.UTC()
	}
	if fields.ExternalURL != nil {
		updates["external_url"] = *fields.ExternalURL
	}
	if fields.ChannelID != nil {
		updates["channel_id"] = *fields.ChannelID
	}
	if !fields.UpdatedAt.IsZero() {
		updates["updated_at"] = fields.UpdatedAt.UTC()
	}

	result := s.db.WithContext(ctx).
		Model(&models.Post{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update post: %w", result.Error)
	}

	post, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if result.RowsAffected == 0 {
		return post, fmt.Errorf("%w: post %s is %s, expected %s", ErrStatusConflict, id, post.Status, expected)
	}
	return post, nil
}

func (s *GormPostStore) PublishedBetween(ctx context.Context, channelID string, start, end time.Time) ([]time.Time, error) {
	var posts []models.Post
	if err := s.db.WithContext(ctx).
		Select("id", "published_at").
		Where("channel_id = ? AND published_at IS NOT NULL AND published_at >= ? AND published_at < ?",
			channelID, start.UTC(), end.UTC()).
		Order("published_at ASC").
		Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("failed to list published posts: %w", err)
	}

	published := make([]time.Time, 0, len(posts))
	for _, p := range posts {
		if p.PublishedAt != nil {
			published = append(published, *p.PublishedAt)
		}
	}
	return published, nil
}

type GormChannelStore struct {
	db *gorm.DB
}

func NewChannelStore(db *gorm.DB) *GormChannelStore {
	return &GormChannelStore{db: db}
}

func (s *GormChannelStore) Create(ctx context.Context, channel *models.Channel) error {
	if err := s.db.WithContext(ctx).Create(channel).Error; err != nil {
		return fmt.Errorf("failed to create channel: %w", err)
	}
	return nil
}

func (s *GormChannelStore) FindActiveChannel(ctx context.Context, ownerID, kind string) (*models.Channel, error) {
	var channel models.Channel
	if err := s.db.WithContext(ctx).
		Where("owner_id = ? AND kind = ? AND is_active = ?", ownerID, kind, true).
		Order("created_at ASC").
		First(&channel).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find channel: %w", err)
	}
	return &channel, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
