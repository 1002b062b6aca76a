package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/fpid/internal/logging"
)

type transientTestError struct{}

func (transientTestError) Error() string   { return "transient" }
func (transientTestError) Timeout() bool   { return true }
func (transientTestError) Temporary() bool { return true }

func newTestRepository(t *testing.T) *IdentificationRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "logs.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	repo := NewIdentificationRepository(db, zap.NewNop())
	if err := repo.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return repo
}

func TestExecuteWithRetryRetriesTransientErrors(t *testing.T) {
	repo := &IdentificationRepository{
		logger:         zap.NewNop(),
		retryAttempts:  3,
		initialBackoff: time.Millisecond,
		maxBackoff:     2 * time.Millisecond,
	}

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "test.operation", "req-1", func() error {
		attempts++
		if attempts < 2 {
			return transientTestError{}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestExecuteWithRetryReturnsOperationError(t *testing.T) {
	repo := &IdentificationRepository{
		logger:         zap.NewNop(),
		retryAttempts:  2,
		initialBackoff: time.Millisecond,
		maxBackoff:     2 * time.Millisecond,
	}

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "test.operation", "req-2", func() error {
		attempts++
		return errors.New("boom")
	})

	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}

	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "test.operation" {
		t.Fatalf("unexpected operation: %s", opErr.Operation)
	}
	if opErr.RequestID != "req-2" {
		t.Fatalf("unexpected request id: %s", opErr.RequestID)
	}
}

func TestSaveAndFindLog(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	log := &IdentificationLog{
		RequestID:   "req-1",
		MatchedName: "alice",
		Matched:     true,
		Score:       42,
		Threshold:   15,
		Mode:        "ratio",
		Ratio:       0.75,
		ImageSHA1:   "abc",
		CreatedAt:   time.Now().UTC(),
	}
	if err := repo.SaveLog(ctx, log); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	found, err := repo.FindByRequestID(ctx, "req-1")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if found.MatchedName != "alice" || found.Score != 42 || !found.Matched {
		t.Fatalf("unexpected log: %+v", found)
	}

	if _, err := repo.FindByRequestID(ctx, "missing"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestFindByImageHashExcludesRequest(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	base := time.Now().UTC()
	for i, id := range []string{"req-a", "req-b", "req-c"} {
		hash := "same"
		if id == "req-c" {
			hash = "other"
		}
		log := &IdentificationLog{RequestID: id, ImageSHA1: hash, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := repo.SaveLog(ctx, log); err != nil {
			t.Fatalf("save %s failed: %v", id, err)
		}
	}

	logs, err := repo.FindByImageHash(ctx, "same", "req-b")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if len(logs) != 1 || logs[0].RequestID != "req-a" {
		t.Fatalf("unexpected duplicates: %+v", logs)
	}
}

func TestAggregateMetrics(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	agg, err := repo.AggregateMetrics(ctx)
	if err != nil {
		t.Fatalf("aggregate on empty table failed: %v", err)
	}
	if agg.TotalCount != 0 || agg.AverageScore != 0 {
		t.Fatalf("unexpected empty aggregate: %+v", agg)
	}

	entries := []IdentificationLog{
		{RequestID: "1", Matched: true, Score: 30, LatencyMs: 10},
		{RequestID: "2", Matched: false, Score: 10, LatencyMs: 30},
		{RequestID: "3", Matched: true, Score: 20, LatencyMs: 20},
	}
	for i := range entries {
		if err := repo.SaveLog(ctx, &entries[i]); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	agg, err = repo.AggregateMetrics(ctx)
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	if agg.TotalCount != 3 || agg.MatchedCount != 2 {
		t.Fatalf("unexpected counts: %+v", agg)
	}
	if agg.AverageScore != 20 || agg.AverageLatencyMs != 20 {
		t.Fatalf("unexpected averages: %+v", agg)
	}
}
