package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/plume/internal/models"
	"github.com/ifuryst/plume/pkg/util"
)

const MaxPostLength = 280

var ErrInvalidPost = errors.New("invalid post")

type CreatePostInput struct {
	OwnerID     string             `json:"owner_id"`
	Content     models.PostContent `json:"content"`
	Kind        models.PostKind    `json:"kind"`
	ChannelKind string             `json:"channel_kind"`
	// ScheduledAt makes the post SCHEDULED instead of DRAFT.
	ScheduledAt *time.Time `json:"scheduled_at"`
}

// PostService is the authoring side: it creates posts and moves them
// between DRAFT, SCHEDULED and ARCHIVED. Publishing only happens in the
// JobRunner.
type PostService struct {
	posts    PostStore
	attempts AttemptRecorder
	logger   *zap.Logger
	now      func() time.Time
}

func NewPostService(posts PostStore, attempts AttemptRecorder, logger *zap.Logger) *PostService {
	return &PostService{
		posts:    posts,
		attempts: attempts,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *PostService) Create(ctx context.Context, in CreatePostInput) (*models.Post, error) {
	if strings.TrimSpace(in.OwnerID) == "" {
		return nil, fmt.Errorf("%w: owner_id is required", ErrInvalidPost)
	}
	if in.Kind == "" {
		in.Kind = models.PostKindPost
	}
	if in.ChannelKind == "" {
		in.ChannelKind = models.ChannelKindTwitter
	}
	if err := validateContent(in.Kind, in.Content); err != nil {
		return nil, err
	}

	post := &models.Post{
		OwnerID:     in.OwnerID,
		Content:     in.Content,
		Kind:        in.Kind,
		Status:      models.PostStatusDraft,
		ChannelKind: in.ChannelKind,
	}
	if in.ScheduledAt != nil {
		at := *in.ScheduledAt
		post.Status = models.PostStatusScheduled
		post.ScheduledAt = &at
	}

	if err := s.posts.Create(ctx, post); err != nil {
		return nil, err
	}
	if post.ScheduledAt != nil {
		s.warnIfPast(post.ID, *post.ScheduledAt)
	}
	s.logger.Info("Post created",
		zap.String("post_id", post.ID),
		zap.String("status", string(post.Status)))
	return post, nil
}

func (s *PostService) Get(ctx context.Context, id string) (*models.Post, error) {
	return s.posts.GetByID(ctx, id)
}

// Schedule sets scheduledAt and moves the post to SCHEDULED. A past instant
// is accepted and means "publish as soon as possible". Requeueing a FAILED
// post resets its attempt budget.
func (s *PostService) Schedule(ctx context.Context, id string, at time.Time) (*models.Post, error) {
	post, err := s.posts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(post.Status, models.PostStatusScheduled) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, post.Status, models.PostStatusScheduled)
	}

	if post.Status == models.PostStatusFailed {
		if err := s.attempts.ResetFailures(ctx, id); err != nil {
			return nil, err
		}
	}

	updated, err := s.posts.UpdateStatus(ctx, id, post.Status, PostUpdate{
		Status:      models.PostStatusScheduled,
		ScheduledAt: &at,
		UpdatedAt:   s.now(),
	})
	if err != nil {
		return nil, err
	}

	s.warnIfPast(id, at)
	s.logger.Info("Post scheduled",
		zap.String("post_id", id),
		zap.Time("scheduled_at", at))
	return updated, nil
}

// Archive soft-deletes a post. The scheduler never archives.
func (s *PostService) Archive(ctx context.Context, id string) (*models.Post, error) {
	post, err := s.posts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(post.Status, models.PostStatusArchived) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, post.Status, models.PostStatusArchived)
	}

	updated, err := s.posts.UpdateStatus(ctx, id, post.Status, PostUpdate{
		Status:    models.PostStatusArchived,
		UpdatedAt: s.now(),
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Post archived", zap.String("post_id", id))
	return updated, nil
}

func (s *PostService) warnIfPast(id string, at time.Time) {
	if at.Before(s.now()) {
		s.logger.Info("Post scheduled in the past, it will publish on the next tick",
			zap.String("post_id", id),
			zap.Time("scheduled_at", at))
	}
}

func validateContent(kind models.PostKind, content models.PostContent) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidPost, kind)
	}
	if strings.TrimSpace(content.Text) == "" {
		return fmt.Errorf("%w: text is required", ErrInvalidPost)
	}
	if n := util.RuneLength(content.Text); n > MaxPostLength {
		return fmt.Errorf("%w: text is %d characters, limit is %d", ErrInvalidPost, n, MaxPostLength)
	}
	if kind == models.PostKindComment && content.ReplyToURL == "" {
		return fmt.Errorf("%w: comments need a reply_to_url", ErrInvalidPost)
	}
	return nil
}
