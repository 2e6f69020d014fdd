package publisher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ifuryst/plume/internal/models"
)

type BreakerConfig struct {
	FailureThreshold uint
	Window           uint
	Delay            time.Duration
}

type ManagerConfig struct {
	// Timeout bounds each provider call.
	Timeout time.Duration
	// RatePerSec throttles provider calls across all platforms.
	RatePerSec float64
	Breaker    BreakerConfig
}

// Manager routes publish requests to the registered platform publishers.
// Publish and ValidateCredentials never return errors or panic; failures
// are folded into the result.
type Manager struct {
	mu         sync.RWMutex
	publishers map[string]Publisher
	breakers   map[string]circuitbreaker.CircuitBreaker[*PublishResult]
	limiter    *rate.Limiter
	cfg        ManagerConfig
	logger     *zap.Logger
}

func NewPublishManager(logger *zap.Logger, cfg ManagerConfig) *Manager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = 5
	}
	if cfg.Breaker.Window < cfg.Breaker.FailureThreshold {
		cfg.Breaker.Window = cfg.Breaker.FailureThreshold
	}
	if cfg.Breaker.Delay <= 0 {
		cfg.Breaker.Delay = time.Minute
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSec > 0 {
		burst := int(cfg.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}

	return &Manager{
		publishers: make(map[string]Publisher),
		breakers:   make(map[string]circuitbreaker.CircuitBreaker[*PublishResult]),
		limiter:    limiter,
		cfg:        cfg,
		logger:     logger,
	}
}

func (m *Manager) RegisterPublisher(publisher Publisher) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	platformName := publisher.GetPlatformName()
	if _, exists := m.publishers[platformName]; exists {
		return fmt.Errorf("publisher for platform %s already registered", platformName)
	}

	m.publishers[platformName] = publisher
	m.breakers[platformName] = m.newBreaker(platformName)
	m.logger.Info("Publisher registered", zap.String("platform", platformName))
	return nil
}

func (m *Manager) GetPublisher(platformName string) (Publisher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	publisher, exists := m.publishers[platformName]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlatform, platformName)
	}
	return publisher, nil
}

func (m *Manager) GetAvailablePlatforms() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	platforms := make([]string, 0, len(m.publishers))
	for name := range m.publishers {
		platforms = append(platforms, name)
	}
	sort.Strings(platforms)
	return platforms
}

// Publish delivers content to the platform exactly once. Content that
// violates platform constraints fails locally without a network call.
func (m *Manager) Publish(ctx context.Context, platformName string, content PublishContent, creds models.Credentials) (result *PublishResult) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Publisher panicked",
				zap.String("platform", platformName),
				zap.String("post_id", content.ID),
				zap.Any("panic", r))
			result = failed(fmt.Errorf("publisher panic: %v", r))
		}
	}()

	publisher, err := m.GetPublisher(platformName)
	if err != nil {
		return failed(err)
	}
	if !creds.Complete() {
		return failed(ErrMissingCredentials)
	}
	if err := publisher.ValidateContent(content); err != nil {
		return failed(err)
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return failed(fmt.Errorf("rate limiter: %w", err))
	}

	m.mu.RLock()
	breaker := m.breakers[platformName]
	m.mu.RUnlock()

	res, err := failsafe.With(breaker).WithContext(ctx).Get(func() (*PublishResult, error) {
		callCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
		return publisher.Publish(callCtx, content, creds)
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrOpen) {
			err = fmt.Errorf("%w: %s", ErrCircuitOpen, platformName)
		} else if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("publish timed out after %s: %w", m.cfg.Timeout, err)
		}
		return failed(err)
	}
	if res == nil {
		return failed(errors.New("publisher returned no result"))
	}
	if res.PublishedAt.IsZero() && res.Success {
		res.PublishedAt = time.Now()
	}
	return res
}

// ValidateCredentials asks the platform who the credentials belong to.
// It bypasses the circuit breaker and the rate limiter because it is only
// used interactively from the settings flow.
func (m *Manager) ValidateCredentials(ctx context.Context, platformName string, creds models.Credentials) (result *ValidationResult) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Credential validation panicked",
				zap.String("platform", platformName),
				zap.Any("panic", r))
			result = &ValidationResult{Error: fmt.Sprintf("validation panic: %v", r)}
		}
	}()

	publisher, err := m.GetPublisher(platformName)
	if err != nil {
		return &ValidationResult{Error: err.Error()}
	}
	if !creds.Complete() {
		return &ValidationResult{Error: ErrMissingCredentials.Error()}
	}

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	identity, err := publisher.ValidateCredentials(callCtx, creds)
	if err != nil {
		return &ValidationResult{Error: err.Error()}
	}
	return &ValidationResult{Valid: true, Identity: identity}
}

func (m *Manager) newBreaker(platformName string) circuitbreaker.CircuitBreaker[*PublishResult] {
	return circuitbreaker.NewBuilder[*PublishResult]().
		HandleIf(func(_ *PublishResult, err error) bool {
			return countsAgainstPlatform(err)
		}).
		WithFailureThresholdRatio(m.cfg.Breaker.FailureThreshold, m.cfg.Breaker.Window).
		WithDelay(m.cfg.Breaker.Delay).
		WithSuccessThreshold(1).
		OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			m.logger.Warn("Publisher circuit breaker state change",
				zap.String("platform", platformName),
				zap.String("from_state", stateName(event.OldState)),
				zap.String("to_state", stateName(event.NewState)))
		}).
		Build()
}

// countsAgainstPlatform keeps per-request rejections (bad credentials,
// duplicate content) from opening the breaker for every channel.
func countsAgainstPlatform(err error) bool {
	if err == nil {
		return false
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Retryable()
	}
	return true
}

func stateName(state circuitbreaker.State) string {
	switch state {
	case circuitbreaker.ClosedState:
		return "closed"
	case circuitbreaker.HalfOpenState:
		return "half-open"
	case circuitbreaker.OpenState:
		return "open"
	default:
		return "unknown"
	}
}

func failed(err error) *PublishResult {
	return &PublishResult{Success: false, Error: err}
}
