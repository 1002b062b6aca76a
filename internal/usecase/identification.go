package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/fpid/internal/extractor"
	"github.com/example/fpid/internal/fingerprint"
	"github.com/example/fpid/internal/imagestore"
	"github.com/example/fpid/internal/logging"
	"github.com/example/fpid/internal/matcher"
	"github.com/example/fpid/internal/registry"
	"github.com/example/fpid/internal/repository"
	"github.com/example/fpid/internal/retry"
)

var (
	// ErrExtractionFailed is returned when no descriptors could be extracted.
	ErrExtractionFailed = errors.New("feature extraction failed")
	// ErrTooFewFeatures is returned when an enrollment image yields fewer
	// descriptors than the configured minimum.
	ErrTooFewFeatures = errors.New("too few features")
	// ErrEmptyImage is returned for an upload without content.
	ErrEmptyImage = errors.New("image is empty")
	// ErrNotFound is returned when a requested identity or identification does not exist.
	ErrNotFound = errors.New("not found")
)

const processingMarker = "processing"

// IdentificationRepository defines the persistence operations needed by the use case.
type IdentificationRepository interface {
	SaveLog(ctx context.Context, log *repository.IdentificationLog) error
	FindByRequestID(ctx context.Context, requestID string) (*repository.IdentificationLog, error)
	FindByImageHash(ctx context.Context, hash, excludeRequestID string) ([]*repository.IdentificationLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// Dependencies groups the collaborators of the use case.
type Dependencies struct {
	Registry  registry.Registry
	Images    imagestore.Store
	Extractor extractor.Extractor
	Repo      IdentificationRepository
	Cache     Cache
}

// Settings holds the tunables of the use case.
type Settings struct {
	Match       matcher.Config
	MinFeatures int
	TempDir     string
	CacheTTL    time.Duration
}

// IdentificationUseCase encapsulates enrollment and identification.
type IdentificationUseCase struct {
	registry    registry.Registry
	images      imagestore.Store
	extractor   extractor.Extractor
	repo        IdentificationRepository
	cache       Cache
	logger      *zap.Logger
	match       matcher.Config
	minFeatures int
	tempDir     string
	cacheTTL    time.Duration
	retryPolicy retry.Policy
	now         func() time.Time
}

// Identification is the outcome of one identify request.
type Identification struct {
	RequestID     string
	Result        matcher.Result
	Config        matcher.Config
	QueryFeatures int
	Candidates    int
	CreatedAt     time.Time
}

// IdentitySummary is the listing view of an enrolled identity.
type IdentitySummary struct {
	Name      string `json:"name"`
	ImagePath string `json:"image_path"`
	Features  int    `json:"features"`
}

// DuplicateReport lists earlier identifications of the same image bytes.
type DuplicateReport struct {
	Request    *repository.IdentificationLog
	Duplicates []*repository.IdentificationLog
}

type cachedIdentification struct {
	RequestID     string    `json:"request_id"`
	MatchedName   string    `json:"matched_name"`
	Matched       bool      `json:"matched"`
	Score         int       `json:"score"`
	Threshold     int       `json:"threshold"`
	Mode          string    `json:"mode"`
	Ratio         float64   `json:"ratio"`
	QueryFeatures int       `json:"query_features"`
	Candidates    int       `json:"candidates"`
	Hash          string    `json:"sha1_hash"`
	LatencyMs     int64     `json:"latency_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewIdentificationUseCase constructs a new use case instance. A nil cache
// disables result caching.
func NewIdentificationUseCase(deps Dependencies, settings Settings, logger *zap.Logger) *IdentificationUseCase {
	cache := deps.Cache
	if cache == nil {
		cache = NopCache{}
	}
	ttl := settings.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	minFeatures := settings.MinFeatures
	if minFeatures <= 0 {
		minFeatures = 1
	}
	return &IdentificationUseCase{
		registry:    deps.Registry,
		images:      deps.Images,
		extractor:   deps.Extractor,
		repo:        deps.Repo,
		cache:       cache,
		logger:      logger.Named("identification_usecase"),
		match:       settings.Match,
		minFeatures: minFeatures,
		tempDir:     settings.TempDir,
		cacheTTL:    ttl,
		retryPolicy: retry.DefaultPolicy(),
		now:         time.Now,
	}
}

// MatchConfig returns the configured default match settings.
func (uc *IdentificationUseCase) MatchConfig() matcher.Config {
	return uc.match
}

// Enroll stores the image, extracts its descriptors and appends a new
// identity. The stored image is removed again when enrollment does not
// complete.
func (uc *IdentificationUseCase) Enroll(ctx context.Context, name string, image []byte, ext string) (fingerprint.EnrolledIdentity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return fingerprint.EnrolledIdentity{}, fmt.Errorf("%w: name is required", fingerprint.ErrInvalidIdentity)
	}
	if len(image) == 0 {
		return fingerprint.EnrolledIdentity{}, ErrEmptyImage
	}

	opLogger := uc.logger.With(zap.String("operation", "usecase.enroll"), zap.String("name", name))

	ref, err := uc.images.Save(ctx, name, image, ext)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.save_image", "", err)
		opLogger.Error("failed to store enrollment image", zap.Error(wrapped))
		return fingerprint.EnrolledIdentity{}, wrapped
	}
	opLogger = opLogger.With(zap.String("image_path", ref))

	descriptors, err := uc.extract(ctx, image, ext)
	if descriptors.Empty() {
		uc.discardImage(ctx, ref, opLogger)
		opLogger.Warn("no features extracted", zap.Error(err))
		return fingerprint.EnrolledIdentity{}, ErrExtractionFailed
	}
	if descriptors.Len() < uc.minFeatures {
		uc.discardImage(ctx, ref, opLogger)
		opLogger.Warn("too few features", zap.Int("features", descriptors.Len()), zap.Int("min_features", uc.minFeatures))
		return fingerprint.EnrolledIdentity{}, fmt.Errorf("%w: got %d, need at least %d", ErrTooFewFeatures, descriptors.Len(), uc.minFeatures)
	}

	identity := fingerprint.EnrolledIdentity{Name: name, ImagePath: ref, Descriptors: descriptors}
	if err := uc.registry.Add(ctx, identity); err != nil {
		uc.discardImage(ctx, ref, opLogger)
		opLogger.Error("enrollment failed", zap.Error(err))
		return fingerprint.EnrolledIdentity{}, err
	}

	opLogger.Info("enrolled identity", zap.Int("features", descriptors.Len()))
	return identity, nil
}

// Identify extracts the query descriptors, matches them against a fresh
// registry snapshot and records the outcome.
func (uc *IdentificationUseCase) Identify(ctx context.Context, image []byte, cfg matcher.Config) (*Identification, error) {
	if len(image) == 0 {
		return nil, ErrEmptyImage
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	started := uc.now()
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.identify", requestID)

	cacheKey := resultCacheKey(requestID)
	if err := retry.Do(ctx, uc.logger, uc.retryPolicy, "cache.set.processing", requestID, func() error {
		return uc.cache.Set(ctx, cacheKey, processingMarker, time.Minute)
	}); err != nil {
		opLogger.Warn("failed to set processing flag", zap.Error(err))
	}
	resultCached := false
	defer func() {
		if !resultCached {
			uc.dropProcessing(ctx, cacheKey, requestID, opLogger)
		}
	}()

	query, err := uc.extract(ctx, image, "")
	if query.Empty() {
		opLogger.Warn("no features extracted from query image", zap.Error(err))
		return nil, logging.NewOperationError("usecase.extract", requestID, ErrExtractionFailed)
	}

	candidates := uc.registry.Load(ctx)
	result, err := matcher.Identify(query, candidates, cfg)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.match", requestID, err)
		opLogger.Error("matching failed", zap.Error(wrapped))
		return nil, wrapped
	}

	hash := sha1.Sum(image)
	hashHex := hex.EncodeToString(hash[:])
	createdAt := uc.now().UTC()
	log := &repository.IdentificationLog{
		RequestID:     requestID,
		MatchedName:   result.Name(),
		Matched:       result.Matched(),
		Score:         result.Score,
		Threshold:     cfg.Threshold,
		Mode:          string(cfg.Mode),
		Ratio:         cfg.Ratio,
		QueryFeatures: query.Len(),
		Candidates:    len(candidates),
		ImageSHA1:     hashHex,
		LatencyMs:     createdAt.Sub(started.UTC()).Milliseconds(),
		CreatedAt:     createdAt,
	}
	if err := uc.repo.SaveLog(ctx, log); err != nil {
		wrapped := logging.NewOperationError("usecase.save_log", requestID, err)
		opLogger.Error("failed to persist identification log", zap.Error(wrapped))
		return nil, wrapped
	}

	serialized, err := json.Marshal(toCached(log))
	if err != nil {
		opLogger.Error("failed to serialize identification result", zap.Error(err))
		return nil, err
	}
	if err := retry.Do(ctx, uc.logger, uc.retryPolicy, "cache.set.result", requestID, func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), uc.cacheTTL)
	}); err != nil {
		opLogger.Warn("failed to cache identification result", zap.Error(err))
	} else {
		resultCached = true
	}

	if result.Matched() {
		opLogger.Info("identified", zap.String("name", result.Name()), zap.Int("score", result.Score))
	} else {
		opLogger.Warn("no identity matched", zap.Int("best_score", result.Score), zap.Int("threshold", cfg.Threshold))
	}

	return &Identification{
		RequestID:     requestID,
		Result:        result,
		Config:        cfg,
		QueryFeatures: query.Len(),
		Candidates:    len(candidates),
		CreatedAt:     createdAt,
	}, nil
}

// dropProcessing removes the processing flag of a request that ended without a
// cached result, so lookups fall through to the repository at once.
func (uc *IdentificationUseCase) dropProcessing(ctx context.Context, cacheKey, requestID string, opLogger *zap.Logger) {
	if err := retry.Do(ctx, uc.logger, uc.retryPolicy, "cache.delete.processing", requestID, func() error {
		return uc.cache.Delete(ctx, cacheKey)
	}); err != nil {
		opLogger.Warn("failed to clear processing flag", zap.Error(err))
	}
}

// GetResult retrieves a cached identification outcome or loads it from persistence.
func (uc *IdentificationUseCase) GetResult(ctx context.Context, requestID string) (*repository.IdentificationLog, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.get_result", requestID)

	var (
		cached string
		miss   bool
	)
	err := retry.Do(ctx, uc.logger, uc.retryPolicy, "cache.get.result", requestID, func() error {
		value, err := uc.cache.Get(ctx, resultCacheKey(requestID))
		if errors.Is(err, redis.Nil) {
			miss = true
			return nil
		}
		if err != nil {
			return err
		}
		cached = value
		return nil
	})
	switch {
	case err != nil:
		opLogger.Warn("failed to read cache", zap.Error(err))
	case !miss && cached != processingMarker:
		var payload cachedIdentification
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			opLogger.Warn("failed to decode cached result", zap.Error(err))
		} else {
			return payload.log(requestID), nil
		}
	}

	return uc.findLog(ctx, requestID)
}

// GetDuplicateReport lists earlier identifications of the image used by requestID.
func (uc *IdentificationUseCase) GetDuplicateReport(ctx context.Context, requestID string) (*DuplicateReport, error) {
	log, err := uc.findLog(ctx, requestID)
	if err != nil {
		return nil, err
	}

	duplicates, err := uc.repo.FindByImageHash(ctx, log.ImageSHA1, log.RequestID)
	if err != nil {
		return nil, err
	}

	return &DuplicateReport{
		Request:    log,
		Duplicates: duplicates,
	}, nil
}

// List returns every enrolled identity in registry order.
func (uc *IdentificationUseCase) List(ctx context.Context) []IdentitySummary {
	identities := uc.registry.Load(ctx)
	out := make([]IdentitySummary, len(identities))
	for i, id := range identities {
		out[i] = IdentitySummary{Name: id.Name, ImagePath: id.ImagePath, Features: id.Descriptors.Len()}
	}
	return out
}

// Delete removes every identity named name. It returns ErrNotFound when no
// identity carried that name.
func (uc *IdentificationUseCase) Delete(ctx context.Context, name string) (int, error) {
	removed, err := uc.registry.Delete(ctx, name)
	if err != nil {
		uc.logger.Error("delete failed", zap.String("name", name), zap.Error(err))
		return 0, err
	}
	if len(removed) == 0 {
		return 0, fmt.Errorf("identity %q: %w", name, ErrNotFound)
	}
	uc.logger.Info("deleted identity", zap.String("name", name), zap.Int("entries", len(removed)))
	return len(removed), nil
}

// Reset clears the registry and then every stored image.
func (uc *IdentificationUseCase) Reset(ctx context.Context) error {
	if err := uc.registry.Clear(ctx); err != nil {
		uc.logger.Error("registry clear failed", zap.Error(err))
		return err
	}
	if err := uc.images.Clear(ctx); err != nil {
		wrapped := logging.NewOperationError("usecase.clear_images", "", err)
		uc.logger.Error("image clear failed", zap.Error(wrapped))
		return wrapped
	}
	uc.logger.Info("registry reset")
	return nil
}

func (uc *IdentificationUseCase) findLog(ctx context.Context, requestID string) (*repository.IdentificationLog, error) {
	log, err := uc.repo.FindByRequestID(ctx, requestID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("identification %q: %w", requestID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return log, nil
}

// extract runs the extractor on a temporary copy of image. The copy is
// always removed.
func (uc *IdentificationUseCase) extract(ctx context.Context, image []byte, ext string) (fingerprint.DescriptorSet, error) {
	pattern := "fpid-*"
	if ext = strings.TrimPrefix(ext, "."); ext != "" {
		pattern += "." + ext
	}
	f, err := os.CreateTemp(uc.tempDir, pattern)
	if err != nil {
		return nil, fmt.Errorf("create temp image: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.Write(image); err != nil {
		f.Close()
		return nil, fmt.Errorf("write temp image: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close temp image: %w", err)
	}
	return uc.extractor.Extract(ctx, path)
}

func (uc *IdentificationUseCase) discardImage(ctx context.Context, ref string, logger *zap.Logger) {
	if err := uc.images.Remove(ctx, ref); err != nil {
		logger.Warn("failed to remove stored image", zap.Error(err))
	}
}

func toCached(log *repository.IdentificationLog) cachedIdentification {
	return cachedIdentification{
		RequestID:     log.RequestID,
		MatchedName:   log.MatchedName,
		Matched:       log.Matched,
		Score:         log.Score,
		Threshold:     log.Threshold,
		Mode:          log.Mode,
		Ratio:         log.Ratio,
		QueryFeatures: log.QueryFeatures,
		Candidates:    log.Candidates,
		Hash:          log.ImageSHA1,
		LatencyMs:     log.LatencyMs,
		CreatedAt:     log.CreatedAt,
	}
}

func (p cachedIdentification) log(requestID string) *repository.IdentificationLog {
	log := &repository.IdentificationLog{
		RequestID:     requestID,
		MatchedName:   p.MatchedName,
		Matched:       p.Matched,
		Score:         p.Score,
		Threshold:     p.Threshold,
		Mode:          p.Mode,
		Ratio:         p.Ratio,
		QueryFeatures: p.QueryFeatures,
		Candidates:    p.Candidates,
		ImageSHA1:     p.Hash,
		LatencyMs:     p.LatencyMs,
		CreatedAt:     p.CreatedAt,
	}
	if p.RequestID != "" {
		log.RequestID = p.RequestID
	}
	return log
}
