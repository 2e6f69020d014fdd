package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/plume/internal/models"
)

// FailureStats summarizes the failed publish attempts of one post.
type FailureStats struct {
	Failures      int
	LastFailureAt time.Time
}

// AttemptRecorder keeps the attempt counter outside the Post entity.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, attempt *models.PublishAttempt) error
	FailureStats(ctx context.Context, postID string) (FailureStats, error)
	ResetFailures(ctx context.Context, postID string) error
}

type MonitoringService struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewMonitoringService(db *gorm.DB, logger *zap.Logger) *MonitoringService {
	return &MonitoringService{
		db:     db,
		logger: logger,
	}
}

func (m *MonitoringService) RecordAttempt(ctx context.Context, attempt *models.PublishAttempt) error {
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	} else {
		attempt.CreatedAt = attempt.CreatedAt.UTC()
	}
	if err := m.db.WithContext(ctx).Create(attempt).Error; err != nil {
		return fmt.Errorf("failed to record publish attempt: %w", err)
	}
	return nil
}

func (m *MonitoringService) FailureStats(ctx context.Context, postID string) (FailureStats, error) {
	var count int64
	if err := m.db.WithContext(ctx).
		Model(&models.PublishAttempt{}).
		Where("post_id = ? AND success = ?", postID, false).
		Count(&count).Error; err != nil {
		return FailureStats{}, fmt.Errorf("failed to count attempts: %w", err)
	}
	if count == 0 {
		return FailureStats{}, nil
	}

	var last models.PublishAttempt
	if err := m.db.WithContext(ctx).
		Where("post_id = ? AND success = ?", postID, false).
		Order("created_at DESC").
		Order("id DESC").
		First(&last).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return FailureStats{}, fmt.Errorf("failed to load last attempt: %w", err)
	}

	return FailureStats{Failures: int(count), LastFailureAt: last.CreatedAt}, nil
}

// ResetFailures clears the failure history so a requeued post starts with a
// fresh attempt budget.
func (m *MonitoringService) ResetFailures(ctx context.Context, postID string) error {
	result := m.db.WithContext(ctx).
		Where("post_id = ? AND success = ?", postID, false).
		Delete(&models.PublishAttempt{})
	if result.Error != nil {
		return fmt.Errorf("failed to reset attempts: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		m.logger.Info("Publish attempts reset",
			zap.String("post_id", postID),
			zap.Int64("cleared", result.RowsAffected))
	}
	return nil
}

// History lists every attempt for a post, newest first.
func (m *MonitoringService) History(ctx context.Context, postID string) ([]models.PublishAttempt, error) {
	var attempts []models.PublishAttempt
	if err := m.db.WithContext(ctx).
		Where("post_id = ?", postID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&attempts).Error; err != nil {
		return nil, fmt.Errorf("failed to get publish history: %w", err)
	}
	return attempts, nil
}
