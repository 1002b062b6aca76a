package extractor

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math/rand/v2"
	"os"
	"sort"

	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/example/fpid/internal/fingerprint"
)

const (
	// DescriptorBytes is the width of every descriptor Native produces.
	DescriptorBytes = descriptorBits / 8

	defaultSize         = 300
	defaultMaxKeypoints = 500
	descriptorBits      = 256
	patchRadius         = 15
	smoothRadius        = 2
	windowRadius        = 2
	harrisK             = 0.04
	qualityLevel        = 0.01
)

// Native is an in-process extractor: Harris corners on a normalised
// grayscale image, each described by 256 intensity comparisons over a
// smoothed patch.
type Native struct {
	size         int
	maxKeypoints int
	logger       *zap.Logger
}

// NativeOption configures a Native extractor.
type NativeOption func(*Native)

// WithMaxKeypoints caps the number of descriptors per image.
func WithMaxKeypoints(n int) NativeOption {
	return func(e *Native) {
		if n > 0 {
			e.maxKeypoints = n
		}
	}
}

// WithSize sets the square side images are resized to before detection.
func WithSize(px int) NativeOption {
	return func(e *Native) {
		if px > 2*(patchRadius+1) {
			e.size = px
		}
	}
}

// NewNative returns the default extractor.
func NewNative(logger *zap.Logger, opts ...NativeOption) *Native {
	e := &Native{size: defaultSize, maxKeypoints: defaultMaxKeypoints, logger: logger.Named("native_extractor")}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract decodes the image at imagePath and describes it. Unreadable
// images yield an empty set and an error; images without corners yield an
// empty set and no error.
func (e *Native) Extract(ctx context.Context, imagePath string) (fingerprint.DescriptorSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(imagePath)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	set := e.Describe(img)
	e.logger.Debug("extracted descriptors",
		zap.String("image", imagePath), zap.String("format", format), zap.Int("descriptors", set.Len()))
	return set, nil
}

// Describe computes descriptors for an already decoded image.
func (e *Native) Describe(img image.Image) fingerprint.DescriptorSet {
	w, h := e.size, e.size
	gray := image.NewGray(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(gray, gray.Bounds(), img, img.Bounds(), draw.Src, nil)

	plane := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			plane[y*w+x] = float64(gray.Pix[y*gray.Stride+x])
		}
	}

	keypoints := harrisKeypoints(plane, w, h, patchRadius+1, e.maxKeypoints)
	if len(keypoints) == 0 {
		return fingerprint.DescriptorSet{}
	}

	smooth := boxBlur(plane, w, h, smoothRadius)
	set := make(fingerprint.DescriptorSet, 0, len(keypoints))
	for _, kp := range keypoints {
		set = append(set, brief(smooth, w, kp.x, kp.y))
	}
	return set
}

type keypoint struct {
	x, y     int
	response float64
}

// harrisKeypoints returns local maxima of the Harris corner response that
// reach qualityLevel of the strongest response, strongest first.
func harrisKeypoints(plane []float64, w, h, border, limit int) []keypoint {
	ixx := make([]float64, w*h)
	iyy := make([]float64, w*h)
	ixy := make([]float64, w*h)
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			at := func(dx, dy int) float64 { return plane[(y+dy)*w+x+dx] }
			gx := (at(1, -1) + 2*at(1, 0) + at(1, 1)) - (at(-1, -1) + 2*at(-1, 0) + at(-1, 1))
			gy := (at(-1, 1) + 2*at(0, 1) + at(1, 1)) - (at(-1, -1) + 2*at(0, -1) + at(1, -1))
			i := y*w + x
			ixx[i], iyy[i], ixy[i] = gx*gx, gy*gy, gx*gy
		}
	}
	sxx, syy, sxy := integral(ixx, w, h), integral(iyy, w, h), integral(ixy, w, h)

	response := make([]float64, w*h)
	maxResponse := 0.0
	for y := border; y < h-border; y++ {
		for x := border; x < w-border; x++ {
			a := rectSum(sxx, w, h, x-windowRadius, y-windowRadius, x+windowRadius, y+windowRadius)
			b := rectSum(syy, w, h, x-windowRadius, y-windowRadius, x+windowRadius, y+windowRadius)
			c := rectSum(sxy, w, h, x-windowRadius, y-windowRadius, x+windowRadius, y+windowRadius)
			r := a*b - c*c - harrisK*(a+b)*(a+b)
			response[y*w+x] = r
			if r > maxResponse {
				maxResponse = r
			}
		}
	}
	if maxResponse <= 0 {
		return nil
	}

	threshold := qualityLevel * maxResponse
	var keypoints []keypoint
	for y := border; y < h-border; y++ {
		for x := border; x < w-border; x++ {
			i := y*w + x
			r := response[i]
			if r <= threshold || !isLocalMax(response, w, x, y) {
				continue
			}
			keypoints = append(keypoints, keypoint{x: x, y: y, response: r})
		}
	}

	sort.SliceStable(keypoints, func(i, j int) bool { return keypoints[i].response > keypoints[j].response })
	if len(keypoints) > limit {
		keypoints = keypoints[:limit]
	}
	return keypoints
}

// isLocalMax checks the 3x3 neighbourhood; plateaus keep their first pixel
// in raster order.
func isLocalMax(response []float64, w, x, y int) bool {
	i := y*w + x
	r := response[i]
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			j := (y+dy)*w + x + dx
			if response[j] > r || (response[j] == r && j < i) {
				return false
			}
		}
	}
	return true
}

func integral(src []float64, w, h int) []float64 {
	stride := w + 1
	ii := make([]float64, stride*(h+1))
	for y := 0; y < h; y++ {
		row := 0.0
		for x := 0; x < w; x++ {
			row += src[y*w+x]
			ii[(y+1)*stride+x+1] = ii[y*stride+x+1] + row
		}
	}
	return ii
}

// rectSum returns the inclusive sum over [x0,x1]×[y0,y1] clamped to the image.
func rectSum(ii []float64, w, h, x0, y0, x1, y1 int) float64 {
	x0, y0 = max(x0, 0), max(y0, 0)
	x1, y1 = min(x1, w-1), min(y1, h-1)
	stride := w + 1
	return ii[(y1+1)*stride+x1+1] - ii[y0*stride+x1+1] - ii[(y1+1)*stride+x0] + ii[y0*stride+x0]
}

func boxBlur(plane []float64, w, h, radius int) []float64 {
	ii := integral(plane, w, h)
	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			x0, y0 := max(x-radius, 0), max(y-radius, 0)
			x1, y1 := min(x+radius, w-1), min(y+radius, h-1)
			area := float64((x1 - x0 + 1) * (y1 - y0 + 1))
			out[y*w+x] = rectSum(ii, w, h, x0, y0, x1, y1) / area
		}
	}
	return out
}

type pointPair struct {
	x1, y1, x2, y2 int
}

// briefPattern is fixed so descriptors stay comparable across processes.
var briefPattern = newBriefPattern()

func newBriefPattern() [descriptorBits]pointPair {
	r := rand.New(rand.NewPCG(0x5eed, 0xb41ef))
	coord := func() int { return r.IntN(2*patchRadius+1) - patchRadius }

	var pattern [descriptorBits]pointPair
	for i := range pattern {
		p := pointPair{coord(), coord(), coord(), coord()}
		for p.x1 == p.x2 && p.y1 == p.y2 {
			p.x2, p.y2 = coord(), coord()
		}
		pattern[i] = p
	}
	return pattern
}

func brief(smooth []float64, w, x, y int) fingerprint.Descriptor {
	d := make(fingerprint.Descriptor, DescriptorBytes)
	for i, p := range briefPattern {
		a := smooth[(y+p.y1)*w+x+p.x1]
		b := smooth[(y+p.y2)*w+x+p.x2]
		if a < b {
			d[i/8] |= 1 << (i % 8)
		}
	}
	return d
}
