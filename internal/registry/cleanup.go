package registry

import (
	"context"

	"go.uber.org/zap"

	"github.com/example/fpid/internal/fingerprint"
)

// ImageRemover deletes the image resource an identity refers to.
type ImageRemover interface {
	Remove(ctx context.Context, ref string) error
}

// CleaningRegistry wraps a Registry so Delete also removes the image of each
// removed identity. Image removal is best effort: failures are logged and the
// deletion still succeeds.
type CleaningRegistry struct {
	Registry
	images ImageRemover
	logger *zap.Logger
}

// WithImageCleanup decorates reg with best-effort image removal on Delete.
func WithImageCleanup(reg Registry, images ImageRemover, logger *zap.Logger) *CleaningRegistry {
	return &CleaningRegistry{Registry: reg, images: images, logger: logger.Named("registry_cleanup")}
}

func (r *CleaningRegistry) Delete(ctx context.Context, name string) ([]fingerprint.EnrolledIdentity, error) {
	removed, err := r.Registry.Delete(ctx, name)
	if err != nil {
		return nil, err
	}
	for _, id := range removed {
		if id.ImagePath == "" {
			continue
		}
		if err := r.images.Remove(ctx, id.ImagePath); err != nil {
			r.logger.Warn("failed to remove identity image",
				zap.String("name", id.Name), zap.String("image_path", id.ImagePath), zap.Error(err))
			continue
		}
		r.logger.Info("removed identity image", zap.String("name", id.Name), zap.String("image_path", id.ImagePath))
	}
	return removed, nil
}
