package handlers

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/fpid/internal/auth"
	"github.com/example/fpid/internal/fingerprint"
	"github.com/example/fpid/internal/logging"
	"github.com/example/fpid/internal/matcher"
	"github.com/example/fpid/internal/registry"
	"github.com/example/fpid/internal/repository"
	"github.com/example/fpid/internal/usecase"
)

// MaxUploadSize caps the size of an uploaded fingerprint image.
const MaxUploadSize = 10 << 20

// multipart framing allowance on top of the image itself
const formOverhead = 1 << 20

var imageTypes = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/gif":  "gif",
	"image/bmp":  "bmp",
	"image/webp": "webp",
}

// Service is the use case surface the HTTP API depends on.
type Service interface {
	Enroll(ctx context.Context, name string, image []byte, ext string) (fingerprint.EnrolledIdentity, error)
	Identify(ctx context.Context, image []byte, cfg matcher.Config) (*usecase.Identification, error)
	MatchConfig() matcher.Config
	GetResult(ctx context.Context, requestID string) (*repository.IdentificationLog, error)
	GetDuplicateReport(ctx context.Context, requestID string) (*usecase.DuplicateReport, error)
	List(ctx context.Context) []usecase.IdentitySummary
	Delete(ctx context.Context, name string) (int, error)
	Reset(ctx context.Context) error
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

type uploadError struct {
	status  int
	message string
}

func (e *uploadError) Error() string { return e.message }

// RegisterRoutes wires the HTTP handlers to the Gin router. Everything except
// /health sits behind authMiddleware.
func RegisterRoutes(router *gin.Engine, svc Service, authMiddleware gin.HandlerFunc, logger *zap.Logger) {
	h := &handler{svc: svc, logger: logger.Named("http")}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/", authMiddleware)
	api.POST("/identities", h.enroll)
	api.GET("/identities", h.list)
	api.DELETE("/identities/:name", h.delete)
	api.DELETE("/identities", h.reset)
	api.POST("/identify", h.identify)
	api.GET("/identifications/:id", h.result)
	api.GET("/identifications/:id/duplicates", h.duplicates)
	api.GET("/metrics/summary", h.metrics)
}

type handler struct {
	svc    Service
	logger *zap.Logger
}

func (h *handler) enroll(c *gin.Context) {
	data, ext, err := readImage(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	name := strings.TrimSpace(c.PostForm("name"))
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	identity, err := h.svc.Enroll(c.Request.Context(), name, data, ext)
	if err != nil {
		h.writeError(c, err)
		return
	}

	subject, _ := auth.GetSubject(c.Request.Context())
	h.logger.Info("identity enrolled", zap.String("name", identity.Name), zap.String("subject", subject))
	c.JSON(http.StatusCreated, gin.H{
		"name":       identity.Name,
		"image_path": identity.ImagePath,
		"features":   identity.Descriptors.Len(),
	})
}

func (h *handler) list(c *gin.Context) {
	identities := h.svc.List(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"identities": identities,
		"count":      len(identities),
	})
}

func (h *handler) delete(c *gin.Context) {
	name := c.Param("name")
	removed, err := h.svc.Delete(c.Request.Context(), name)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "removed": removed})
}

func (h *handler) reset(c *gin.Context) {
	if err := h.svc.Reset(c.Request.Context()); err != nil {
		h.writeError(c, err)
		return
	}
	subject, _ := auth.GetSubject(c.Request.Context())
	h.logger.Warn("registry reset", zap.String("subject", subject))
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

func (h *handler) identify(c *gin.Context) {
	data, _, err := readImage(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	cfg, err := matchOverrides(c, h.svc.MatchConfig())
	if err != nil {
		h.writeError(c, err)
		return
	}

	out, err := h.svc.Identify(c.Request.Context(), data, cfg)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"request_id":     out.RequestID,
		"matched":        out.Result.Matched(),
		"name":           out.Result.MatchedName,
		"score":          out.Result.Score,
		"threshold":      out.Config.Threshold,
		"ratio":          out.Config.Ratio,
		"mode":           out.Config.Mode,
		"query_features": out.QueryFeatures,
		"candidates":     out.Candidates,
	})
}

func (h *handler) result(c *gin.Context) {
	log, err := h.svc.GetResult(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, logResponse(log))
}

func (h *handler) duplicates(c *gin.Context) {
	report, err := h.svc.GetDuplicateReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	duplicates := make([]gin.H, len(report.Duplicates))
	for i, d := range report.Duplicates {
		duplicates[i] = logResponse(d)
	}
	c.JSON(http.StatusOK, gin.H{
		"request":    logResponse(report.Request),
		"duplicates": duplicates,
	})
}

func (h *handler) metrics(c *gin.Context) {
	summary, err := h.svc.GetMetricsSummary(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *handler) writeError(c *gin.Context, err error) {
	var upload *uploadError
	switch {
	case errors.As(err, &upload):
		c.JSON(upload.status, gin.H{"error": upload.message})
	case errors.Is(err, usecase.ErrExtractionFailed):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no features could be extracted from the image"})
	case errors.Is(err, usecase.ErrTooFewFeatures):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, fingerprint.ErrInvalidIdentity), errors.Is(err, matcher.ErrInvalidConfig), errors.Is(err, usecase.ErrEmptyImage):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, usecase.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, registry.ErrStorage):
		h.logger.Error("registry write failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registry storage failure"})
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": logging.Summary(err)})
	}
}

// readImage reads the "image" form file, enforcing MaxUploadSize and the
// accepted image types. It returns the bytes and a file extension.
func readImage(c *gin.Context) ([]byte, string, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+formOverhead)

	file, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			return nil, "", &uploadError{status: http.StatusRequestEntityTooLarge, message: "image exceeds upload limit"}
		}
		return nil, "", &uploadError{status: http.StatusBadRequest, message: "image file is required"}
	}
	if file.Size > MaxUploadSize {
		return nil, "", &uploadError{status: http.StatusRequestEntityTooLarge, message: "image exceeds upload limit"}
	}

	src, err := file.Open()
	if err != nil {
		return nil, "", &uploadError{status: http.StatusBadRequest, message: "unable to open image"}
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, "", &uploadError{status: http.StatusInternalServerError, message: "failed to read image"}
	}

	contentType := file.Header.Get("Content-Type")
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mediaType
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	ext, ok := imageTypes[contentType]
	if !ok {
		return nil, "", &uploadError{status: http.StatusUnsupportedMediaType, message: "unsupported image type " + contentType}
	}
	return data, ext, nil
}

// matchOverrides applies optional threshold, ratio and mode form fields to
// the service defaults.
func matchOverrides(c *gin.Context, cfg matcher.Config) (matcher.Config, error) {
	if value := strings.TrimSpace(c.PostForm("threshold")); value != "" {
		threshold, err := strconv.Atoi(value)
		if err != nil {
			return cfg, &uploadError{status: http.StatusBadRequest, message: "threshold must be an integer"}
		}
		cfg.Threshold = threshold
	}
	if value := strings.TrimSpace(c.PostForm("ratio")); value != "" {
		ratio, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return cfg, &uploadError{status: http.StatusBadRequest, message: "ratio must be a number"}
		}
		cfg.Ratio = ratio
	}
	if value := strings.TrimSpace(c.PostForm("mode")); value != "" {
		mode, err := matcher.ParseMode(value)
		if err != nil {
			return cfg, err
		}
		cfg.Mode = mode
	}
	return cfg, cfg.Validate()
}

func logResponse(log *repository.IdentificationLog) gin.H {
	var name *string
	if log.Matched {
		n := log.MatchedName
		name = &n
	}
	return gin.H{
		"request_id":     log.RequestID,
		"matched":        log.Matched,
		"name":           name,
		"score":          log.Score,
		"threshold":      log.Threshold,
		"mode":           log.Mode,
		"ratio":          log.Ratio,
		"query_features": log.QueryFeatures,
		"candidates":     log.Candidates,
		"sha1_hash":      log.ImageSHA1,
		"latency_ms":     log.LatencyMs,
		"created_at":     log.CreatedAt,
	}
}
