package repository

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/fpid/internal/retry"
)

// IdentificationLog is the persisted audit record of one identify request.
type IdentificationLog struct {
	ID            uint      `gorm:"primaryKey"`
	RequestID     string    `gorm:"column:request_id;uniqueIndex;size:64"`
	MatchedName   string    `gorm:"column:matched_name;size:255"`
	Matched       bool      `gorm:"column:matched"`
	Score         int       `gorm:"column:score"`
	Threshold     int       `gorm:"column:threshold"`
	Mode          string    `gorm:"column:mode;size:16"`
	Ratio         float64   `gorm:"column:ratio"`
	QueryFeatures int       `gorm:"column:query_features"`
	Candidates    int       `gorm:"column:candidates"`
	ImageSHA1     string    `gorm:"column:image_sha1;size:40;index"`
	LatencyMs     int64     `gorm:"column:latency_ms"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (IdentificationLog) TableName() string {
	return "identification_logs"
}

// MetricsAggregation is the raw aggregate over all identification logs.
type MetricsAggregation struct {
	TotalCount       int64
	MatchedCount     int64
	AverageScore     float64
	AverageLatencyMs float64
}

// IdentificationRepository provides persistence APIs for identification logs.
type IdentificationRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewIdentificationRepository creates a new repository instance.
func NewIdentificationRepository(db *gorm.DB, logger *zap.Logger) *IdentificationRepository {
	policy := retry.DefaultPolicy()
	return &IdentificationRepository{
		db:             db,
		logger:         logger.Named("identification_repository"),
		retryAttempts:  policy.Attempts,
		initialBackoff: policy.InitialBackoff,
		maxBackoff:     policy.MaxBackoff,
	}
}

// AutoMigrate ensures the schema is available.
func (r *IdentificationRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&IdentificationLog{})
}

// SaveLog persists an identification log entry.
func (r *IdentificationRepository) SaveLog(ctx context.Context, log *IdentificationLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.RequestID, func() error {
		log.ID = 0
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestID retrieves the log of one identify request.
func (r *IdentificationRepository) FindByRequestID(ctx context.Context, requestID string) (*IdentificationLog, error) {
	var log IdentificationLog
	if err := r.db.WithContext(ctx).First(&log, "request_id = ?", requestID).Error; err != nil {
		return nil, err
	}
	return &log, nil
}

// FindByImageHash returns earlier identifications of the same image bytes,
// newest first, excluding excludeRequestID.
func (r *IdentificationRepository) FindByImageHash(ctx context.Context, hash, excludeRequestID string) ([]*IdentificationLog, error) {
	var logs []*IdentificationLog
	err := r.db.WithContext(ctx).
		Where("image_sha1 = ? AND request_id <> ?", hash, excludeRequestID).
		Order("created_at desc, id desc").
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// AggregateMetrics summarises every stored identification.
func (r *IdentificationRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.db.WithContext(ctx).
		Model(&IdentificationLog{}).
		Select(`COUNT(*) AS total_count,
			COALESCE(SUM(CASE WHEN matched THEN 1 ELSE 0 END), 0) AS matched_count,
			COALESCE(AVG(score), 0) AS average_score,
			COALESCE(AVG(latency_ms), 0) AS average_latency_ms`).
		Scan(&agg).Error
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func (r *IdentificationRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	policy := retry.Policy{Attempts: r.retryAttempts, InitialBackoff: r.initialBackoff, MaxBackoff: r.maxBackoff}
	return retry.Do(ctx, r.logger, policy, operation, requestID, fn)
}
