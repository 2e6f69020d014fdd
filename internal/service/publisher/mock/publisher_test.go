package mock

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ifuryst/plume/internal/models"
	"github.com/ifuryst/plume/internal/service/publisher"
)

func TestMockPublisher_AlwaysSucceedsWithoutFailureRate(t *testing.T) {
	p := NewMockPublisher(zaptest.NewLogger(t), Config{Seed: 7})

	for i := 0; i < 20; i++ {
		res, err := p.Publish(context.Background(), publisher.PublishContent{Text: "hi"}, models.Credentials{})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(res.URL, "https://twitter.com/user/status/"))
	}
}

func TestMockPublisher_AlwaysFailsAtFullRate(t *testing.T) {
	p := NewMockPublisher(zaptest.NewLogger(t), Config{FailureRate: 1, Seed: 7})

	_, err := p.Publish(context.Background(), publisher.PublishContent{Text: "hi"}, models.Credentials{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit exceeded")
}

func TestMockPublisher_DelayHonoursContext(t *testing.T) {
	p := NewMockPublisher(zaptest.NewLogger(t), Config{Delay: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.Publish(ctx, publisher.PublishContent{Text: "hi"}, models.Credentials{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMockPublisher_Defaults(t *testing.T) {
	p := NewMockPublisher(zaptest.NewLogger(t), Config{})
	assert.Equal(t, models.ChannelKindTwitter, p.GetPlatformName())
	assert.ErrorIs(t, p.ValidateContent(publisher.PublishContent{Text: strings.Repeat("x", 281)}), publisher.ErrContentTooLong)
}
