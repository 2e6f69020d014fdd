package service

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ifuryst/plume/internal/config"
	"github.com/ifuryst/plume/internal/models"
	"github.com/ifuryst/plume/internal/service/publisher"
	"github.com/ifuryst/plume/internal/service/publisher/mock"
	"github.com/ifuryst/plume/internal/service/publisher/twitter"
)

const (
	PublisherModeLive = "live"
	PublisherModeMock = "mock"
)

// NewGateway builds the publish manager and registers one publisher per
// supported platform. Mode picks the live API clients or the simulated
// ones.
func NewGateway(cfg *config.PublisherConfig, logger *zap.Logger) (*publisher.Manager, error) {
	manager := publisher.NewPublishManager(logger, publisher.ManagerConfig{
		Timeout:    cfg.TimeoutDuration(),
		RatePerSec: cfg.RatePerSec,
		Breaker: publisher.BreakerConfig{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			Window:           cfg.Breaker.Window,
			Delay:            cfg.Breaker.DelayDuration(),
		},
	})

	var p publisher.Publisher
	switch cfg.Mode {
	case PublisherModeLive:
		p = twitter.NewTwitterPublisher(logger, twitter.Config{
			BaseURL:   cfg.Twitter.BaseURL,
			MaxLength: cfg.Twitter.MaxLength,
		})
	case PublisherModeMock:
		p = mock.NewMockPublisher(logger, mock.Config{
			PlatformName: models.ChannelKindTwitter,
			FailureRate:  cfg.Mock.FailureRateValue(),
			Delay:        cfg.Mock.DelayDuration(),
			MaxLength:    cfg.Twitter.MaxLength,
			Seed:         cfg.Mock.Seed,
		})
		logger.Warn("Using simulated publisher, nothing reaches the real platform")
	default:
		return nil, fmt.Errorf("unknown publisher mode %q", cfg.Mode)
	}

	if err := manager.RegisterPublisher(p); err != nil {
		return nil, fmt.Errorf("failed to register %s publisher: %w", p.GetPlatformName(), err)
	}
	return manager, nil
}
