package registry

import (
	"errors"
	"fmt"

	"github.com/example/fpid/internal/fingerprint"
)

// record is the canonical on-disk form of one identity:
//
//	{"name": "...", "image_path": "...", "features": [[0..255, ...], ...]}
type record struct {
	Name      *string `json:"name"`
	ImagePath *string `json:"image_path"`
	Features  [][]int `json:"features"`
}

func toRecord(id fingerprint.EnrolledIdentity) record {
	name, path := id.Name, id.ImagePath
	return record{Name: &name, ImagePath: &path, Features: id.Descriptors.Ints()}
}

func (r record) identity() (fingerprint.EnrolledIdentity, error) {
	if r.Name == nil {
		return fingerprint.EnrolledIdentity{}, errors.New("missing key \"name\"")
	}
	if r.ImagePath == nil {
		return fingerprint.EnrolledIdentity{}, errors.New("missing key \"image_path\"")
	}
	if r.Features == nil {
		return fingerprint.EnrolledIdentity{}, errors.New("missing key \"features\"")
	}
	set, err := fingerprint.FromInts(r.Features)
	if err != nil {
		return fingerprint.EnrolledIdentity{}, fmt.Errorf("features: %w", err)
	}
	id := fingerprint.EnrolledIdentity{Name: *r.Name, ImagePath: *r.ImagePath, Descriptors: set}
	if err := id.Validate(); err != nil {
		return fingerprint.EnrolledIdentity{}, err
	}
	return id, nil
}
