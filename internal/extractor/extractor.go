// Package extractor turns fingerprint images into binary descriptor sets.
//
// An empty DescriptorSet is the failure signal callers rely on; the error
// return only carries diagnostics for logging.
package extractor

import (
	"context"

	"github.com/example/fpid/internal/fingerprint"
)

// Extractor computes the descriptors of the image stored at imagePath.
type Extractor interface {
	Extract(ctx context.Context, imagePath string) (fingerprint.DescriptorSet, error)
}

// Func adapts a function to the Extractor interface.
type Func func(ctx context.Context, imagePath string) (fingerprint.DescriptorSet, error)

func (f Func) Extract(ctx context.Context, imagePath string) (fingerprint.DescriptorSet, error) {
	return f(ctx, imagePath)
}
