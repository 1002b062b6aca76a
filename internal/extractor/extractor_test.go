package extractor

import (
	"context"
	"testing"

	"github.com/example/fpid/internal/fingerprint"
)

func TestFuncAdapter(t *testing.T) {
	var ex Extractor = Func(func(ctx context.Context, imagePath string) (fingerprint.DescriptorSet, error) {
		return fingerprint.DescriptorSet{{byte(len(imagePath))}}, nil
	})
	set, err := ex.Extract(context.Background(), "abc")
	if err != nil || set.Len() != 1 || set[0][0] != 3 {
		t.Fatalf("unexpected result: %v, %v", set, err)
	}
}
