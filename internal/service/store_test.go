package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifuryst/plume/internal/models"
)

func TestPostStore_FindDuePosts(t *testing.T) {
	h := newHarness(t, ts(t, "2026-03-02T10:00:00Z"), newFakeGateway(), RunnerConfig{})
	ctx := context.Background()
	now := h.clock.Now()

	later := h.addScheduled(t, "alice", "later", now.Add(-time.Minute))
	earlier := h.addScheduled(t, "bob", "earlier", now.Add(-time.Hour))
	h.addScheduled(t, "alice", "future", now.Add(time.Minute))
	require.NoError(t, h.posts.Create(ctx, &models.Post{
		OwnerID: "alice", Content: models.PostContent{Text: "draft"}, Kind: models.PostKindPost,
		Status: models.PostStatusDraft, ChannelKind: models.ChannelKindTwitter,
	}))
	exact := h.addScheduled(t, "carol", "exact", now)

	due, err := h.posts.FindDuePosts(ctx, now, DueCursor{}, 0)
	require.NoError(t, err)

	var ids []string
	for _, p := range due {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{earlier.ID, later.ID, exact.ID}, ids)

	limited, err := h.posts.FindDuePosts(ctx, now, DueCursor{}, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, earlier.ID, limited[0].ID)

	next, err := h.posts.FindDuePosts(ctx, now, DueCursor{ScheduledAt: *limited[0].ScheduledAt, ID: limited[0].ID}, 1)
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, later.ID, next[0].ID)
}

func TestPostStore_FindDuePostsCursorBreaksTiesByID(t *testing.T) {
	h := newHarness(t, ts(t, "2026-03-02T10:00:00Z"), newFakeGateway(), RunnerConfig{})
	ctx := context.Background()
	at := ts(t, "2026-03-02T09:00:00Z")
	for i := 0; i < 3; i++ {
		h.addScheduled(t, "alice", "same instant", at)
	}

	first, err := h.posts.FindDuePosts(ctx, h.clock.Now(), DueCursor{}, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)

	rest, err := h.posts.FindDuePosts(ctx, h.clock.Now(), DueCursor{ScheduledAt: at, ID: first[1].ID}, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.NotEqual(t, first[0].ID, rest[0].ID)
	assert.NotEqual(t, first[1].ID, rest[0].ID)
}

func TestPostStore_UpdateStatusIsConditional(t *testing.T) {
	h := newHarness(t, ts(t, "2026-03-02T10:00:00Z"), newFakeGateway(), RunnerConfig{})
	ctx := context.Background()
	post := h.addScheduled(t, "alice", "hi", h.clock.Now())

	url := "https://twitter.com/i/web/status/1"
	publishedAt := h.clock.Now()
	updated, err := h.posts.UpdateStatus(ctx, post.ID, models.PostStatusScheduled, PostUpdate{
		Status:      models.PostStatusPublished,
		PublishedAt: &publishedAt,
		ExternalURL: &url,
		UpdatedAt:   publishedAt,
	})
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusPublished, updated.Status)
	assert.Equal(t, url, updated.ExternalURL)
	require.NotNil(t, updated.PublishedAt)
	assert.True(t, updated.PublishedAt.Equal(publishedAt))

	_, err = h.posts.UpdateStatus(ctx, post.ID, models.PostStatusScheduled, PostUpdate{Status: models.PostStatusScheduled})
	assert.ErrorIs(t, err, ErrStatusConflict)
	assert.Equal(t, models.PostStatusPublished, h.reload(t, post.ID).Status)

	_, err = h.posts.UpdateStatus(ctx, "missing", models.PostStatusScheduled, PostUpdate{Status: models.PostStatusPublished})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostStore_PublishedBetween(t *testing.T) {
	h := newHarness(t, ts(t, "2026-03-02T10:00:00Z"), newFakeGateway(), RunnerConfig{})
	ctx := context.Background()
	ch := h.addChannel(t, "alice", models.ChannelConfig{})
	other := "other-channel"

	mark := func(channelID string, at time.Time) {
		p := h.addScheduled(t, "alice", "x", at)
		_, err := h.posts.UpdateStatus(ctx, p.ID, models.PostStatusScheduled, PostUpdate{
			Status: models.PostStatusPublished, PublishedAt: &at, ChannelID: &channelID,
		})
		require.NoError(t, err)
	}
	mark(ch.ID, ts(t, "2026-03-01T23:59:59Z"))
	mark(ch.ID, ts(t, "2026-03-02T08:00:00Z"))
	mark(ch.ID, ts(t, "2026-03-02T09:30:00Z"))
	mark(other, ts(t, "2026-03-02T09:00:00Z"))
	mark(ch.ID, ts(t, "2026-03-03T00:00:00Z"))

	got, err := h.posts.PublishedBetween(ctx, ch.ID, ts(t, "2026-03-02T00:00:00Z"), ts(t, "2026-03-03T00:00:00Z"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Equal(ts(t, "2026-03-02T08:00:00Z")))
	assert.True(t, got[1].Equal(ts(t, "2026-03-02T09:30:00Z")))
}

func TestChannelStore_FindActiveChannel(t *testing.T) {
	h := newHarness(t, ts(t, "2026-03-02T10:00:00Z"), newFakeGateway(), RunnerConfig{})
	ctx := context.Background()

	_, err := h.channels.FindActiveChannel(ctx, "alice", models.ChannelKindTwitter)
	assert.ErrorIs(t, err, ErrNotFound)

	ch := h.addChannel(t, "alice", models.ChannelConfig{Timezone: "Europe/Paris"})
	got, err := h.channels.FindActiveChannel(ctx, "alice", models.ChannelKindTwitter)
	require.NoError(t, err)
	assert.Equal(t, ch.ID, got.ID)
	assert.Equal(t, testCreds, got.Credentials)
	assert.Equal(t, "Europe/Paris", got.Config.Timezone)

	require.NoError(t, h.db.Model(&models.Channel{}).Where("id = ?", ch.ID).Update("is_active", false).Error)
	_, err = h.channels.FindActiveChannel(ctx, "alice", models.ChannelKindTwitter)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChannelStore_OneChannelPerOwnerAndKind(t *testing.T) {
	h := newHarness(t, ts(t, "2026-03-02T10:00:00Z"), newFakeGateway(), RunnerConfig{})
	h.addChannel(t, "alice", models.ChannelConfig{})

	err := h.channels.Create(context.Background(), &models.Channel{
		OwnerID: "alice", Kind: models.ChannelKindTwitter, IsActive: true, Credentials: testCreds,
	})
	assert.Error(t, err)
}
