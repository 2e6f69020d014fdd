package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/plume/internal/models"
	"github.com/ifuryst/plume/internal/service/policy"
	"github.com/ifuryst/plume/internal/service/publisher"
)

// RunState is the state of a single publish attempt. Published, Denied,
// Failed and Skipped are terminal for one invocation.
type RunState string

const (
	StatePending    RunState = "pending"
	StateChecking   RunState = "checking"
	StatePublishing RunState = "publishing"
	StatePublished  RunState = "published"
	StateDenied     RunState = "denied"
	StateFailed     RunState = "failed"
	StateSkipped    RunState = "skipped"
)

const (
	ReasonInProgress         = "already in progress"
	ReasonNotDue             = "post is no longer due"
	ReasonChannelUnavailable = "channel not found/inactive"
	ReasonMissingCredentials = "channel credentials are incomplete"
	ReasonAttemptsExhausted  = "max publish attempts reached"
	ReasonBackoff            = "waiting for retry backoff"
	ReasonStoreError         = "store error"
)

// Gateway is the publish side of publisher.Manager.
type Gateway interface {
	Publish(ctx context.Context, platformName string, content publisher.PublishContent, creds models.Credentials) *publisher.PublishResult
}

// Outcome is the terminal result of one Run.
type Outcome struct {
	PostID      string
	State       RunState
	Reason      string
	ExternalURL string
	// Attempt is the 1-based number of this gateway call, 0 when the
	// gateway was not called.
	Attempt int
}

type RunnerConfig struct {
	// MaxAttempts moves a post to FAILED after that many gateway failures;
	// 0 retries forever.
	MaxAttempts     int
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
}

// JobRunner executes one work item end to end. At most one Run per post id
// is in flight at any time.
type JobRunner struct {
	posts    PostStore
	channels ChannelStore
	attempts AttemptRecorder
	gateway  Gateway
	metrics  *Metrics
	logger   *zap.Logger
	cfg      RunnerConfig
	now      func() time.Time

	mu         sync.Mutex
	inProgress map[string]struct{}
}

type RunnerDeps struct {
	Posts    PostStore
	Channels ChannelStore
	Attempts AttemptRecorder
	Gateway  Gateway
	Metrics  *Metrics
	Logger   *zap.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

func NewJobRunner(deps RunnerDeps, cfg RunnerConfig) *JobRunner {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	if cfg.MaxRetryBackoff > 0 && cfg.RetryBackoff > cfg.MaxRetryBackoff {
		cfg.RetryBackoff = cfg.MaxRetryBackoff
	}
	return &JobRunner{
		posts:      deps.Posts,
		channels:   deps.Channels,
		attempts:   deps.Attempts,
		gateway:    deps.Gateway,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		cfg:        cfg,
		now:        deps.Now,
		inProgress: make(map[string]struct{}),
	}
}

// Run drives item through CHECKING and PUBLISHING. The returned error is
// set only for store failures; every other problem ends in an Outcome.
func (r *JobRunner) Run(ctx context.Context, item WorkItem) (outcome Outcome, err error) {
	outcome = Outcome{PostID: item.PostID, State: StatePending}
	defer func() {
		r.metrics.observeOutcome(outcome.State)
	}()

	if !r.acquire(item.PostID) {
		r.logger.Debug("Post already in progress, skipping", zap.String("post_id", item.PostID))
		return r.finish(outcome, StateSkipped, ReasonInProgress), nil
	}
	defer r.release(item.PostID)

	now := r.now()
	log := r.logger.With(zap.String("post_id", item.PostID), zap.String("owner_id", item.OwnerID))

	outcome.State = StateChecking
	post, err := r.posts.GetByID(ctx, item.PostID)
	if errors.Is(err, ErrNotFound) {
		return r.finish(outcome, StateSkipped, ReasonNotDue), nil
	}
	if err != nil {
		return r.finish(outcome, StateFailed, ReasonStoreError), fmt.Errorf("load post: %w", err)
	}
	if post.Status != models.PostStatusScheduled || post.ScheduledAt == nil || post.ScheduledAt.After(now) {
		log.Debug("Post no longer due", zap.String("status", string(post.Status)))
		return r.finish(outcome, StateSkipped, ReasonNotDue), nil
	}

	channel, err := r.channels.FindActiveChannel(ctx, post.OwnerID, post.ChannelKind)
	if errors.Is(err, ErrNotFound) {
		log.Warn("No active channel for post, will retry next tick",
			zap.String("channel_kind", post.ChannelKind))
		return r.finish(outcome, StateFailed, ReasonChannelUnavailable), nil
	}
	if err != nil {
		return r.finish(outcome, StateFailed, ReasonStoreError), fmt.Errorf("load channel: %w", err)
	}
	if !channel.Credentials.Complete() {
		log.Warn("Channel credentials incomplete, will retry next tick",
			zap.String("channel_id", channel.ID))
		return r.finish(outcome, StateFailed, ReasonMissingCredentials), nil
	}
	log = log.With(zap.String("channel_id", channel.ID))

	stats, err := r.attempts.FailureStats(ctx, post.ID)
	if err != nil {
		return r.finish(outcome, StateFailed, ReasonStoreError), fmt.Errorf("load attempts: %w", err)
	}
	if r.cfg.MaxAttempts > 0 && stats.Failures >= r.cfg.MaxAttempts {
		return r.giveUp(ctx, log, outcome, now, stats)
	}
	if wait := r.backoff(stats.Failures); wait > 0 && now.Before(stats.LastFailureAt.Add(wait)) {
		log.Debug("Post in retry backoff",
			zap.Int("failures", stats.Failures),
			zap.Time("retry_after", stats.LastFailureAt.Add(wait)))
		return r.finish(outcome, StateSkipped, ReasonBackoff), nil
	}

	dayStart, dayEnd := policy.DayBounds(channel.Config, now)
	published, err := r.posts.PublishedBetween(ctx, channel.ID, dayStart, dayEnd)
	if err != nil {
		return r.finish(outcome, StateFailed, ReasonStoreError), fmt.Errorf("load published posts: %w", err)
	}
	if decision := policy.CanPublishNow(channel.Config, now, published); !decision.Allow {
		log.Debug("Channel policy denied publish", zap.String("reason", decision.Reason))
		return r.finish(outcome, StateDenied, decision.Reason), nil
	}

	outcome.State = StatePublishing
	outcome.Attempt = stats.Failures + 1
	started := time.Now()
	result := r.gateway.Publish(ctx, channel.Kind, publisher.FromPost(post), channel.Credentials)
	if result == nil {
		result = &publisher.PublishResult{Error: errors.New("gateway returned no result")}
	}
	if !result.Success && errors.Is(result.Error, publisher.ErrCircuitOpen) {
		// The provider was never called, so the attempt budget is untouched.
		log.Warn("Platform circuit open, post stays scheduled",
			zap.String("platform", channel.Kind))
		outcome.Attempt = 0
		return r.finish(outcome, StateFailed, result.ErrorMessage()), nil
	}
	r.metrics.observeAttempt(channel.Kind, result.Success)

	attempt := &models.PublishAttempt{
		PostID:      post.ID,
		ChannelID:   channel.ID,
		Platform:    channel.Kind,
		Success:     result.Success,
		Error:       result.ErrorMessage(),
		ExternalURL: result.URL,
		DurationMS:  time.Since(started).Milliseconds(),
		CreatedAt:   now,
	}
	if recErr := r.attempts.RecordAttempt(ctx, attempt); recErr != nil {
		log.Error("Failed to record publish attempt", zap.Error(recErr))
	}

	if !result.Success {
		log.Warn("Publish failed, post stays scheduled",
			zap.Int("attempt", outcome.Attempt),
			zap.String("error", result.ErrorMessage()))
		return r.finish(outcome, StateFailed, result.ErrorMessage()), nil
	}

	url := result.URL
	channelID := channel.ID
	publishedAt := now
	_, err = r.posts.UpdateStatus(ctx, post.ID, models.PostStatusScheduled, PostUpdate{
		Status:      models.PostStatusPublished,
		PublishedAt: &publishedAt,
		ExternalURL: &url,
		ChannelID:   &channelID,
		UpdatedAt:   now,
	})
	outcome.ExternalURL = url
	if err != nil {
		// The remote post exists; retrying would publish it twice.
		log.Error("Post published but state update failed",
			zap.String("external_url", url),
			zap.Error(err))
		return r.finish(outcome, StatePublished, ""), fmt.Errorf("mark published: %w", err)
	}

	log.Info("Post published",
		zap.String("external_url", url),
		zap.Int("attempt", outcome.Attempt))
	return r.finish(outcome, StatePublished, ""), nil
}

func (r *JobRunner) giveUp(ctx context.Context, log *zap.Logger, outcome Outcome, now time.Time, stats FailureStats) (Outcome, error) {
	_, err := r.posts.UpdateStatus(ctx, outcome.PostID, models.PostStatusScheduled, PostUpdate{
		Status:    models.PostStatusFailed,
		UpdatedAt: now,
	})
	if err != nil && !errors.Is(err, ErrStatusConflict) {
		return r.finish(outcome, StateFailed, ReasonStoreError), fmt.Errorf("mark failed: %w", err)
	}
	log.Warn("Post exhausted publish attempts",
		zap.Int("failures", stats.Failures),
		zap.Int("max_attempts", r.cfg.MaxAttempts))
	return r.finish(outcome, StateFailed, ReasonAttemptsExhausted), nil
}

// backoff is the wait after the given number of consecutive failures:
// RetryBackoff doubled per failure after the first, capped at
// MaxRetryBackoff.
func (r *JobRunner) backoff(failures int) time.Duration {
	if failures <= 0 || r.cfg.RetryBackoff <= 0 {
		return 0
	}
	wait := r.cfg.RetryBackoff
	for i := 1; i < failures; i++ {
		wait *= 2
		if r.cfg.MaxRetryBackoff > 0 && wait >= r.cfg.MaxRetryBackoff {
			return r.cfg.MaxRetryBackoff
		}
	}
	return wait
}

// InProgress reports whether a Run for postID is in flight.
func (r *JobRunner) InProgress(postID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inProgress[postID]
	return ok
}

func (r *JobRunner) acquire(postID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inProgress[postID]; busy {
		return false
	}
	r.inProgress[postID] = struct{}{}
	return true
}

func (r *JobRunner) release(postID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inProgress, postID)
}

func (r *JobRunner) finish(outcome Outcome, state RunState, reason string) Outcome {
	outcome.State = state
	outcome.Reason = reason
	return outcome
}
