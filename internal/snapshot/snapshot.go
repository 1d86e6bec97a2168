// Package snapshot detaches values from shared state by deep copying them.
package snapshot

import (
	"github.com/pkg/errors"
	"github.com/tiendc/go-deepcopy"
)

// Copy returns a deep copy of *src: maps, slices and pointers are copied recursively,
// so the result shares no memory with src. A nil src returns (nil, nil).
func Copy[T any](src *T) (*T, error) {
	if src == nil {
		return nil, nil
	}

	var dst T
	if err := deepcopy.Copy(&dst, src); err != nil {
		return nil, errors.Wrapf(err, "failed to deep copy type %T", src)
	}
	return &dst, nil
}
