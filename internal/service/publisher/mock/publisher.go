// Package mock provides a stand-in platform that simulates provider latency
// and a configurable share of failures. It is selected by configuration for
// local runs and demos.
package mock

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/plume/internal/models"
	"github.com/ifuryst/plume/internal/service/publisher"
	"github.com/ifuryst/plume/pkg/util"
)

type Config struct {
	// PlatformName is the platform this mock stands in for.
	PlatformName string
	FailureRate  float64
	Delay        time.Duration
	MaxLength    int
	// Seed makes the failure sequence reproducible; 0 seeds from the clock.
	Seed int64
}

type Publisher struct {
	cfg    Config
	logger *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

func NewMockPublisher(logger *zap.Logger, cfg Config) *Publisher {
	if cfg.PlatformName == "" {
		cfg.PlatformName = models.ChannelKindTwitter
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = 280
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Publisher{
		cfg:    cfg,
		logger: logger.Named("mock-publisher"),
		rng:    rand.New(rand.NewSource(seed)),
	}
}

func (p *Publisher) GetPlatformName() string {
	return p.cfg.PlatformName
}

func (p *Publisher) ValidateContent(content publisher.PublishContent) error {
	if strings.TrimSpace(content.Text) == "" {
		return publisher.ErrEmptyContent
	}
	if n := util.RuneLength(content.Text); n > p.cfg.MaxLength {
		return fmt.Errorf("%w: %d > %d characters", publisher.ErrContentTooLong, n, p.cfg.MaxLength)
	}
	return nil
}

func (p *Publisher) Publish(ctx context.Context, content publisher.PublishContent, _ models.Credentials) (*publisher.PublishResult, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	roll, suffix := p.roll()
	if roll < p.cfg.FailureRate {
		return nil, &publisher.ProviderError{StatusCode: 429, Message: "rate limit exceeded"}
	}

	id := fmt.Sprintf("%d_%s", time.Now().UnixMilli(), suffix)
	p.logger.Info("Simulated publish",
		zap.String("post_id", content.ID),
		zap.String("text", util.Preview(content.Text, 40)))

	return &publisher.PublishResult{
		Success:   true,
		PublishID: id,
		URL:       fmt.Sprintf("https://twitter.com/user/status/%s", id),
	}, nil
}

func (p *Publisher) ValidateCredentials(ctx context.Context, creds models.Credentials) (*publisher.Identity, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	return &publisher.Identity{
		ID:       "mock",
		Username: "mock_" + util.MaskSecret(creds.AccessToken),
		Name:     "Mock Account",
	}, nil
}

func (p *Publisher) wait(ctx context.Context) error {
	if p.cfg.Delay <= 0 {
		return nil
	}
	timer := time.NewTimer(p.cfg.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *Publisher) roll() (float64, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Float64(), fmt.Sprintf("%09x", p.rng.Int63n(1<<36))
}
