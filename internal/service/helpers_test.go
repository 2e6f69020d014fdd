package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ifuryst/plume/internal/models"
	"github.com/ifuryst/plume/internal/service/publisher"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, Migrate(db))
	return db
}

func ts(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return v
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// fakeGateway records calls and answers with respond, or success when nil.
type fakeGateway struct {
	mu      sync.Mutex
	calls   map[string]int
	total   atomic.Int32
	respond func(ctx context.Context, content publisher.PublishContent) *publisher.PublishResult
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{calls: make(map[string]int)}
}

func (g *fakeGateway) Publish(ctx context.Context, _ string, content publisher.PublishContent, _ models.Credentials) *publisher.PublishResult {
	g.mu.Lock()
	g.calls[content.ID]++
	g.mu.Unlock()
	g.total.Add(1)

	if g.respond != nil {
		return g.respond(ctx, content)
	}
	return &publisher.PublishResult{Success: true, PublishID: content.ID, URL: "https://twitter.com/i/web/status/" + content.ID}
}

func (g *fakeGateway) Calls(postID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[postID]
}

func failingGateway(msg string) *fakeGateway {
	g := newFakeGateway()
	g.respond = func(context.Context, publisher.PublishContent) *publisher.PublishResult {
		return &publisher.PublishResult{Error: &publisher.ProviderError{StatusCode: 503, Message: msg}}
	}
	return g
}

var testCreds = models.Credentials{APIKey: "k", APISecret: "s", AccessToken: "t", AccessTokenSecret: "ts"}

type harness struct {
	db       *gorm.DB
	posts    *GormPostStore
	channels *GormChannelStore
	attempts *MonitoringService
	metrics  *Metrics
	gateway  *fakeGateway
	clock    *fakeClock
	runner   *JobRunner
	source   *JobSource
	logger   *zap.Logger
}

func newHarness(t *testing.T, now time.Time, gateway *fakeGateway, cfg RunnerConfig) *harness {
	t.Helper()
	db := newTestDB(t)
	h := &harness{
		db:       db,
		posts:    NewPostStore(db),
		channels: NewChannelStore(db),
		metrics:  NewMetrics(prometheus.NewRegistry()),
		gateway:  gateway,
		clock:    newClock(now),
		logger:   zaptest.NewLogger(t),
	}
	h.attempts = NewMonitoringService(db, h.logger)
	h.runner = NewJobRunner(RunnerDeps{
		Posts:    h.posts,
		Channels: h.channels,
		Attempts: h.attempts,
		Gateway:  gateway,
		Metrics:  h.metrics,
		Logger:   h.logger,
		Now:      h.clock.Now,
	}, cfg)
	h.source = NewJobSource(h.posts, 100)
	return h
}

func (h *harness) addChannel(t *testing.T, ownerID string, cfg models.ChannelConfig) *models.Channel {
	t.Helper()
	ch := &models.Channel{
		OwnerID:     ownerID,
		Kind:        models.ChannelKindTwitter,
		DisplayName: "@" + ownerID,
		IsActive:    true,
		Credentials: testCreds,
		Config:      cfg,
	}
	require.NoError(t, h.channels.Create(context.Background(), ch))
	return ch
}

func (h *harness) addScheduled(t *testing.T, ownerID, text string, at time.Time) *models.Post {
	t.Helper()
	p := &models.Post{
		OwnerID:     ownerID,
		Content:     models.PostContent{Text: text},
		Kind:        models.PostKindPost,
		Status:      models.PostStatusScheduled,
		ChannelKind: models.ChannelKindTwitter,
		ScheduledAt: &at,
	}
	require.NoError(t, h.posts.Create(context.Background(), p))
	return p
}

func (h *harness) reload(t *testing.T, id string) *models.Post {
	t.Helper()
	p, err := h.posts.GetByID(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (h *harness) item(p *models.Post) WorkItem {
	return WorkItem{
		PostID:      p.ID,
		OwnerID:     p.OwnerID,
		Content:     p.Content,
		Kind:        p.Kind,
		ChannelKind: p.ChannelKind,
		ScheduledAt: *p.ScheduledAt,
	}
}
