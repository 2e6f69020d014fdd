package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifuryst/plume/internal/models"
)

func newTestPostService(h *harness) *PostService {
	svc := NewPostService(h.posts, h.attempts, h.logger)
	svc.now = h.clock.Now
	return svc
}

func TestPostService_Create(t *testing.T) {
	h := newHarness(t, ts(t, "2026-03-02T10:00:00Z"), newFakeGateway(), defaultRunnerConfig)
	svc := newTestPostService(h)
	ctx := context.Background()

	draft, err := svc.Create(ctx, CreatePostInput{OwnerID: "alice", Content: models.PostContent{Text: "draft"}})
	require.NoError(t, err)
	assert.NotEmpty(t, draft.ID)
	assert.Equal(t, models.PostStatusDraft, draft.Status)
	assert.Equal(t, models.PostKindPost, draft.Kind)
	assert.Equal(t, models.ChannelKindTwitter, draft.ChannelKind)
	assert.Nil(t, draft.ScheduledAt)

	at := ts(t, "2026-03-02T12:00:00Z")
	scheduled, err := svc.Create(ctx, CreatePostInput{OwnerID: "alice", Content: models.PostContent{Text: "later"}, ScheduledAt: &at})
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusScheduled, scheduled.Status)

	past := ts(t, "2026-03-01T12:00:00Z")
	overdue, err := svc.Create(ctx, CreatePostInput{OwnerID: "alice", Content: models.PostContent{Text: "asap"}, ScheduledAt: &past})
	require.NoError(t, err)
	items, err := h.source.DueJobs(ctx, h.clock.Now())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, overdue.ID, items[0].PostID)
}

func TestPostService_CreateValidation(t *testing.T) {
	h := newHarness(t, ts(t, "2026-03-02T10:00:00Z"), newFakeGateway(), defaultRunnerConfig)
	svc := newTestPostService(h)

	tests := []struct {
		name string
		in   CreatePostInput
	}{
		{"missing owner", CreatePostInput{Content: models.PostContent{Text: "x"}}},
		{"empty text", CreatePostInput{OwnerID: "alice", Content: models.PostContent{Text: "   "}}},
		{"too long", CreatePostInput{OwnerID: "alice", Content: models.PostContent{Text: strings.Repeat("é", MaxPostLength+1)}}},
		{"unknown kind", CreatePostInput{OwnerID: "alice", Kind: "STORY", Content: models.PostContent{Text: "x"}}},
		{"comment without target", CreatePostInput{OwnerID: "alice", Kind: models.PostKindComment, Content: models.PostContent{Text: "x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.in)
			assert.ErrorIs(t, err, ErrInvalidPost)
		})
	}

	ok, err := svc.Create(context.Background(), CreatePostInput{
		OwnerID: "alice",
		Kind:    models.PostKindComment,
		Content: models.PostContent{Text: strings.Repeat("é", MaxPostLength), ReplyToURL: "https://twitter.com/bob/status/1"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.PostKindComment, ok.Kind)
}

func TestPostService_ScheduleAndArchive(t *testing.T) {
	h := newHarness(t, ts(t, "2026-03-02T10:00:00Z"), newFakeGateway(), defaultRunnerConfig)
	svc := newTestPostService(h)
	ctx := context.Background()

	post, err := svc.Create(ctx, CreatePostInput{OwnerID: "alice", Content: models.PostContent{Text: "hi"}})
	require.NoError(t, err)

	at := ts(t, "2026-03-02T11:00:00Z")
	scheduled, err := svc.Schedule(ctx, post.ID, at)
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusScheduled, scheduled.Status)
	require.NotNil(t, scheduled.ScheduledAt)
	assert.True(t, scheduled.ScheduledAt.Equal(at))

	// Rescheduling a scheduled post moves it.
	moved := at.Add(time.Hour)
	scheduled, err = svc.Schedule(ctx, post.ID, moved)
	require.NoError(t, err)
	assert.True(t, scheduled.ScheduledAt.Equal(moved))

	archived, err := svc.Archive(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusArchived, archived.Status)

	_, err = svc.Schedule(ctx, post.ID, at)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = svc.Archive(ctx, post.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostService_PublishedPostCannotBeRescheduled(t *testing.T) {
	h := newHarness(t, ts(t, "2026-03-02T10:10:00Z"), newFakeGateway(), defaultRunnerConfig)
	svc := newTestPostService(h)
	ctx := context.Background()
	h.addChannel(t, "alice", models.ChannelConfig{})
	post := h.addScheduled(t, "alice", "hi", ts(t, "2026-03-02T10:00:00Z"))

	_, err := h.runner.Run(ctx, h.item(post))
	require.NoError(t, err)

	_, err = svc.Schedule(ctx, post.ID, ts(t, "2026-03-03T10:00:00Z"))
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, models.PostStatusPublished, h.reload(t, post.ID).Status)
}

func TestPostService_RequeueFailedPostResetsAttempts(t *testing.T) {
	h := newHarness(t, ts(t, "2026-03-02T10:10:00Z"), failingGateway("down"), RunnerConfig{MaxAttempts: 1})
	svc := newTestPostService(h)
	ctx := context.Background()
	h.addChannel(t, "alice", models.ChannelConfig{})
	post := h.addScheduled(t, "alice", "hi", ts(t, "2026-03-02T10:00:00Z"))

	for i := 0; i < 2; i++ {
		_, err := h.runner.Run(ctx, h.item(post))
		require.NoError(t, err)
	}
	require.Equal(t, models.PostStatusFailed, h.reload(t, post.ID).Status)

	requeued, err := svc.Schedule(ctx, post.ID, h.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusScheduled, requeued.Status)

	stats, err := h.attempts.FailureStats(ctx, post.ID)
	require.NoError(t, err)
	assert.Zero(t, stats.Failures)

	outcome, err := h.runner.Run(ctx, h.item(requeued))
	require.NoError(t, err)
	assert.Equal(t, StateFailed, outcome.State)
	assert.Equal(t, 1, outcome.Attempt)
}
