// Package extractorrpc exposes feature extraction over gRPC.
//
// The service has a single unary method,
// /fingerprint.v1.FeatureExtractor/Extract, taking the raw image as a
// google.protobuf.BytesValue and answering with a google.protobuf.ListValue
// whose items are lists of integers in 0..255, one per descriptor. This is
// the same shape as the "features" field of the registry file.
package extractorrpc

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/fpid/internal/fingerprint"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "fingerprint.v1.FeatureExtractor"
	// ExtractMethod is the full method path of Extract.
	ExtractMethod = "/" + ServiceName + "/Extract"
)

func encodeSet(set fingerprint.DescriptorSet) *structpb.ListValue {
	rows := make([]*structpb.Value, len(set))
	for i, d := range set {
		items := make([]*structpb.Value, len(d))
		for j, b := range d {
			items[j] = structpb.NewNumberValue(float64(b))
		}
		rows[i] = structpb.NewListValue(&structpb.ListValue{Values: items})
	}
	return &structpb.ListValue{Values: rows}
}

func decodeSet(list *structpb.ListValue) (fingerprint.DescriptorSet, error) {
	rows := make([][]int, len(list.GetValues()))
	for i, row := range list.GetValues() {
		inner := row.GetListValue()
		if inner == nil {
			return nil, fmt.Errorf("%w: descriptor %d is not a list", fingerprint.ErrInvalidDescriptor, i)
		}
		ints := make([]int, len(inner.GetValues()))
		for j, item := range inner.GetValues() {
			n, ok := item.GetKind().(*structpb.Value_NumberValue)
			if !ok || n.NumberValue != math.Trunc(n.NumberValue) {
				return nil, fmt.Errorf("%w: descriptor %d component %d is not an integer", fingerprint.ErrInvalidDescriptor, i, j)
			}
			ints[j] = int(n.NumberValue)
		}
		rows[i] = ints
	}
	return fingerprint.FromInts(rows)
}
