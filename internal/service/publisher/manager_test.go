package publisher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ifuryst/plume/internal/models"
)

type fakePublisher struct {
	name    string
	calls   atomic.Int32
	publish func(ctx context.Context, content PublishContent) (*PublishResult, error)
}

func (f *fakePublisher) GetPlatformName() string { return f.name }

func (f *fakePublisher) ValidateContent(content PublishContent) error {
	if len(content.Text) > 10 {
		return ErrContentTooLong
	}
	return nil
}

func (f *fakePublisher) Publish(ctx context.Context, content PublishContent, _ models.Credentials) (*PublishResult, error) {
	f.calls.Add(1)
	if f.publish != nil {
		return f.publish(ctx, content)
	}
	return &PublishResult{Success: true, PublishID: "1", URL: "https://example.com/1"}, nil
}

func (f *fakePublisher) ValidateCredentials(context.Context, models.Credentials) (*Identity, error) {
	return &Identity{ID: "42", Username: "plume"}, nil
}

var creds = models.Credentials{APIKey: "k", APISecret: "s", AccessToken: "t", AccessTokenSecret: "ts"}

func newManager(t *testing.T, cfg ManagerConfig, pubs ...Publisher) *Manager {
	t.Helper()
	m := NewPublishManager(zaptest.NewLogger(t), cfg)
	for _, p := range pubs {
		require.NoError(t, m.RegisterPublisher(p))
	}
	return m
}

func TestManager_RegisterTwiceFails(t *testing.T) {
	m := newManager(t, ManagerConfig{}, &fakePublisher{name: "twitter"})
	assert.Error(t, m.RegisterPublisher(&fakePublisher{name: "twitter"}))
	assert.Equal(t, []string{"twitter"}, m.GetAvailablePlatforms())
}

func TestManager_PublishSuccess(t *testing.T) {
	fake := &fakePublisher{name: "twitter"}
	m := newManager(t, ManagerConfig{}, fake)

	res := m.Publish(context.Background(), "twitter", PublishContent{ID: "p1", Text: "hi"}, creds)

	require.True(t, res.Success)
	assert.Equal(t, "https://example.com/1", res.URL)
	assert.False(t, res.PublishedAt.IsZero())
	assert.Empty(t, res.ErrorMessage())
	assert.EqualValues(t, 1, fake.calls.Load())
}

func TestManager_LocalFailuresSkipProvider(t *testing.T) {
	fake := &fakePublisher{name: "twitter"}
	m := newManager(t, ManagerConfig{}, fake)
	ctx := context.Background()

	res := m.Publish(ctx, "mastodon", PublishContent{Text: "hi"}, creds)
	assert.ErrorIs(t, res.Error, ErrUnknownPlatform)

	res = m.Publish(ctx, "twitter", PublishContent{Text: "hi"}, models.Credentials{APIKey: "k"})
	assert.ErrorIs(t, res.Error, ErrMissingCredentials)

	res = m.Publish(ctx, "twitter", PublishContent{Text: "this is far too long"}, creds)
	assert.ErrorIs(t, res.Error, ErrContentTooLong)
	assert.False(t, res.Success)

	assert.Zero(t, fake.calls.Load())
}

func TestManager_ProviderErrorBecomesResult(t *testing.T) {
	fake := &fakePublisher{name: "twitter", publish: func(context.Context, PublishContent) (*PublishResult, error) {
		return nil, &ProviderError{StatusCode: 403, Message: "duplicate content"}
	}}
	m := newManager(t, ManagerConfig{}, fake)

	res := m.Publish(context.Background(), "twitter", PublishContent{Text: "hi"}, creds)

	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage(), "duplicate content")
}

func TestManager_RecoversPanics(t *testing.T) {
	fake := &fakePublisher{name: "twitter", publish: func(context.Context, PublishContent) (*PublishResult, error) {
		panic("boom")
	}}
	m := newManager(t, ManagerConfig{}, fake)

	res := m.Publish(context.Background(), "twitter", PublishContent{Text: "hi"}, creds)

	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage(), "boom")
}

func TestManager_TimeoutIsFailure(t *testing.T) {
	fake := &fakePublisher{name: "twitter", publish: func(ctx context.Context, _ PublishContent) (*PublishResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	m := newManager(t, ManagerConfig{Timeout: 20 * time.Millisecond}, fake)

	start := time.Now()
	res := m.Publish(context.Background(), "twitter", PublishContent{Text: "hi"}, creds)

	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Error, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestManager_BreakerOpensOnPlatformFailures(t *testing.T) {
	fake := &fakePublisher{name: "twitter", publish: func(context.Context, PublishContent) (*PublishResult, error) {
		return nil, &ProviderError{StatusCode: 503, Message: "over capacity"}
	}}
	m := newManager(t, ManagerConfig{Breaker: BreakerConfig{FailureThreshold: 2, Window: 2, Delay: time.Minute}}, fake)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res := m.Publish(ctx, "twitter", PublishContent{Text: "hi"}, creds)
		require.False(t, res.Success)
	}

	res := m.Publish(ctx, "twitter", PublishContent{Text: "hi"}, creds)
	assert.ErrorIs(t, res.Error, ErrCircuitOpen)
	assert.EqualValues(t, 2, fake.calls.Load())
}

func TestManager_RequestRejectionsKeepBreakerClosed(t *testing.T) {
	fake := &fakePublisher{name: "twitter", publish: func(context.Context, PublishContent) (*PublishResult, error) {
		return nil, &ProviderError{StatusCode: 401, Message: "unauthorized"}
	}}
	m := newManager(t, ManagerConfig{Breaker: BreakerConfig{FailureThreshold: 2, Window: 2, Delay: time.Minute}}, fake)

	for i := 0; i < 4; i++ {
		res := m.Publish(context.Background(), "twitter", PublishContent{Text: "hi"}, creds)
		assert.NotErrorIs(t, res.Error, ErrCircuitOpen)
	}
	assert.EqualValues(t, 4, fake.calls.Load())
}

func TestManager_ValidateCredentials(t *testing.T) {
	m := newManager(t, ManagerConfig{}, &fakePublisher{name: "twitter"})
	ctx := context.Background()

	res := m.ValidateCredentials(ctx, "twitter", creds)
	require.True(t, res.Valid)
	assert.Equal(t, "plume", res.Identity.Username)

	res = m.ValidateCredentials(ctx, "twitter", models.Credentials{})
	assert.False(t, res.Valid)
	assert.Equal(t, ErrMissingCredentials.Error(), res.Error)

	res = m.ValidateCredentials(ctx, "linkedin", creds)
	assert.False(t, res.Valid)
}

func TestCountsAgainstPlatform(t *testing.T) {
	assert.False(t, countsAgainstPlatform(nil))
	assert.True(t, countsAgainstPlatform(errors.New("connection reset")))
	assert.True(t, countsAgainstPlatform(&ProviderError{StatusCode: 429}))
	assert.True(t, countsAgainstPlatform(&ProviderError{StatusCode: 502}))
	assert.False(t, countsAgainstPlatform(&ProviderError{StatusCode: 400}))
}
