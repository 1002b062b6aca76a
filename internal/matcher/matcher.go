// Package matcher scores a query descriptor set against enrolled identities.
//
// Identify is pure: it performs no I/O, never mutates its inputs and is safe
// to call from concurrent goroutines. Its cost is proportional to
// candidates × descriptors per candidate × query descriptors.
package matcher

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/example/fpid/internal/fingerprint"
)

var (
	// ErrInvalidDescriptor is returned when compared descriptors differ in length.
	ErrInvalidDescriptor = fingerprint.ErrInvalidDescriptor
	// ErrInvalidConfig is returned for out-of-range match settings.
	ErrInvalidConfig = errors.New("invalid match config")
)

// Mode selects the scoring strategy.
type Mode string

const (
	// ModeExact counts mutual nearest neighbours (cross-check).
	ModeExact Mode = "exact"
	// ModeRatio counts nearest neighbours that pass the ratio test.
	ModeRatio Mode = "ratio"
)

// ParseMode converts user input to a Mode.
func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "exact", "cross_check", "crosscheck":
		return ModeExact, nil
	case "ratio", "ratio_filtered", "knn":
		return ModeRatio, nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, value)
	}
}

// Config controls a single identification.
type Config struct {
	Threshold int
	Ratio     float64
	Mode      Mode
}

// DefaultConfig mirrors the interactive defaults: ratio test at 0.75 and a
// threshold of 15 good matches.
func DefaultConfig() Config {
	return Config{Threshold: 15, Ratio: 0.75, Mode: ModeRatio}
}

// Validate checks threshold, ratio and mode.
func (c Config) Validate() error {
	if c.Threshold < 0 {
		return fmt.Errorf("%w: threshold must be non-negative, got %d", ErrInvalidConfig, c.Threshold)
	}
	if math.IsNaN(c.Ratio) || c.Ratio <= 0 || c.Ratio > 1 {
		return fmt.Errorf("%w: ratio must be in (0,1], got %v", ErrInvalidConfig, c.Ratio)
	}
	if c.Mode != ModeExact && c.Mode != ModeRatio {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, c.Mode)
	}
	return nil
}

// Result is the identification decision. MatchedName is nil when the best
// score stayed below the threshold; Score always carries the best score seen.
type Result struct {
	MatchedName *string
	Score       int
}

// Matched reports whether an identity was accepted.
func (r Result) Matched() bool { return r.MatchedName != nil }

// Name returns the matched identity name or "".
func (r Result) Name() string {
	if r.MatchedName == nil {
		return ""
	}
	return *r.MatchedName
}

// Identify compares query against every candidate and returns the best
// scoring identity if its score reaches cfg.Threshold. Ties go to the
// candidate that appears first. A candidate scoring zero never owns the
// best score, so an all-zero comparison is never a match.
func Identify(query fingerprint.DescriptorSet, candidates []fingerprint.EnrolledIdentity, cfg Config) (Result, error) {
	if query.Empty() || len(candidates) == 0 {
		return Result{}, nil
	}
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	width, err := query.Width()
	if err != nil {
		return Result{}, fmt.Errorf("query: %w", err)
	}

	var (
		bestName  *string
		bestScore int
	)
	for i := range candidates {
		candidate := &candidates[i]
		if candidate.Descriptors.Empty() {
			continue
		}
		candidateWidth, err := candidate.Descriptors.Width()
		if err != nil {
			return Result{}, fmt.Errorf("candidate %q: %w", candidate.Name, err)
		}
		if candidateWidth != width {
			return Result{}, fmt.Errorf("candidate %q: %w: %d-byte descriptors against %d-byte query",
				candidate.Name, ErrInvalidDescriptor, candidateWidth, width)
		}

		var score int
		switch cfg.Mode {
		case ModeExact:
			score = crossCheckScore(query, candidate.Descriptors)
		case ModeRatio:
			score = ratioScore(query, candidate.Descriptors, cfg.Ratio)
		}

		if score > bestScore {
			name := candidate.Name
			bestName = &name
			bestScore = score
		}
	}

	if bestName != nil && bestScore >= cfg.Threshold {
		return Result{MatchedName: bestName, Score: bestScore}, nil
	}
	return Result{Score: bestScore}, nil
}

// crossCheckScore counts query descriptors whose nearest candidate descriptor
// points back at them as its own nearest query descriptor.
func crossCheckScore(query, candidate fingerprint.DescriptorSet) int {
	forward := make([]int, len(query))
	for i, d := range query {
		forward[i] = nearest(d, candidate)
	}
	backward := make([]int, len(candidate))
	for j, d := range candidate {
		backward[j] = nearest(d, query)
	}

	score := 0
	for i, j := range forward {
		if backward[j] == i {
			score++
		}
	}
	return score
}

// nearest returns the index of the closest descriptor in set; equal
// distances resolve to the lowest index.
func nearest(d fingerprint.Descriptor, set fingerprint.DescriptorSet) int {
	best, bestDist := 0, math.MaxInt
	for j, other := range set {
		if dist := fingerprint.Hamming(d, other); dist < bestDist {
			best, bestDist = j, dist
		}
	}
	return best
}

// ratioScore counts query descriptors whose nearest candidate distance d1 is
// below ratio times the second-nearest distance d2.
func ratioScore(query, candidate fingerprint.DescriptorSet, ratio float64) int {
	if len(candidate) < 2 {
		return 0
	}
	score := 0
	for _, d := range query {
		d1, d2 := math.MaxInt, math.MaxInt
		for _, other := range candidate {
			dist := fingerprint.Hamming(d, other)
			switch {
			case dist < d1:
				d1, d2 = dist, d1
			case dist < d2:
				d2 = dist
			}
		}
		if float64(d1) < ratio*float64(d2) {
			score++
		}
	}
	return score
}
