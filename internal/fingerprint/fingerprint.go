package fingerprint

import (
	"errors"
	"fmt"
	"math/bits"
	"strings"
)

var (
	// ErrInvalidDescriptor reports descriptors that cannot be compared,
	// such as vectors of different lengths.
	ErrInvalidDescriptor = errors.New("invalid descriptor")
	// ErrInvalidIdentity reports an identity that violates the enrollment invariants.
	ErrInvalidIdentity = errors.New("invalid identity")
)

// Descriptor is a fixed-length binary feature vector for one keypoint.
type Descriptor []byte

// DescriptorSet holds the descriptors extracted from one capture, in
// extraction order. An empty set means extraction failed.
type DescriptorSet []Descriptor

// Len returns the number of descriptors in the set.
func (s DescriptorSet) Len() int { return len(s) }

// Empty reports whether the set carries no descriptors.
func (s DescriptorSet) Empty() bool { return len(s) == 0 }

// Width returns the byte length shared by every descriptor in the set.
// An empty set has width 0.
func (s DescriptorSet) Width() (int, error) {
	if len(s) == 0 {
		return 0, nil
	}
	width := len(s[0])
	if width == 0 {
		return 0, fmt.Errorf("%w: descriptor 0 is empty", ErrInvalidDescriptor)
	}
	for i, d := range s[1:] {
		if len(d) != width {
			return 0, fmt.Errorf("%w: descriptor %d has %d bytes, want %d", ErrInvalidDescriptor, i+1, len(d), width)
		}
	}
	return width, nil
}

// Equal reports whether both sets hold the same descriptors in the same order.
func (s DescriptorSet) Equal(other DescriptorSet) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if string(s[i]) != string(other[i]) {
			return false
		}
	}
	return true
}

// Ints converts the set to the integer-vector form used by the persisted
// registry format.
func (s DescriptorSet) Ints() [][]int {
	out := make([][]int, len(s))
	for i, d := range s {
		row := make([]int, len(d))
		for j, b := range d {
			row[j] = int(b)
		}
		out[i] = row
	}
	return out
}

// FromInts builds a descriptor set from integer vectors. Every component must
// be in 0..255 and every vector must have the same non-zero length.
func FromInts(rows [][]int) (DescriptorSet, error) {
	set := make(DescriptorSet, len(rows))
	for i, row := range rows {
		d := make(Descriptor, len(row))
		for j, v := range row {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("%w: descriptor %d component %d out of range: %d", ErrInvalidDescriptor, i, j, v)
			}
			d[j] = byte(v)
		}
		set[i] = d
	}
	if _, err := set.Width(); err != nil {
		return nil, err
	}
	return set, nil
}

// Hamming returns the number of differing bits between a and b.
// Both descriptors must have the same length.
func Hamming(a, b Descriptor) int {
	dist := 0
	for i := range a {
		dist += bits.OnesCount8(a[i] ^ b[i])
	}
	return dist
}

// EnrolledIdentity is one registry entry.
type EnrolledIdentity struct {
	Name        string
	ImagePath   string
	Descriptors DescriptorSet
}

// Validate checks the invariants every stored identity must hold.
func (id EnrolledIdentity) Validate() error {
	if strings.TrimSpace(id.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidIdentity)
	}
	if id.Descriptors.Empty() {
		return fmt.Errorf("%w: %q has no descriptors", ErrInvalidIdentity, id.Name)
	}
	if _, err := id.Descriptors.Width(); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidIdentity, id.Name, err)
	}
	return nil
}
