package tilestore

import (
	"errors"
	"fmt"
)

var (
	// ErrShapeMismatch is matched by every *ShapeMismatchError.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrNotFound is returned for unknown keys, coordinates and mask names.
	ErrNotFound = errors.New("not found")
	// ErrIndexOutOfRange is returned for integer positions beyond the
	// current count.
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrInvalidKeyType is returned for keys that are neither a coordinate
	// nor an integer position.
	ErrInvalidKeyType = errors.New("invalid key type")
	// ErrInvalidKey is returned for coordinate strings that do not parse.
	ErrInvalidKey = errors.New("invalid key")
	// ErrUnsupportedField is returned by updates naming an unknown field.
	ErrUnsupportedField = errors.New("unsupported field")
	// ErrNotImplemented is returned for mask updates through the generic
	// update path. Use the mask set directly.
	ErrNotImplemented = errors.New("not implemented")
	// ErrExists is returned when creating something that is already there.
	ErrExists = errors.New("already exists")
	// ErrLossyRetile is returned when a retile would discard annotations
	// and was not explicitly allowed to.
	ErrLossyRetile = errors.New("retile would discard tile labels")
	// ErrOverlap is returned by stores forbidding overlapping tiles.
	ErrOverlap = errors.New("tile overlaps an existing tile")
	// ErrIncompatibleFormat is returned when opening a container written by
	// an incompatible version of this package.
	ErrIncompatibleFormat = errors.New("incompatible container format")
	// ErrDtypeMismatch is returned for arrays whose element type differs
	// from the stored array's.
	ErrDtypeMismatch = errors.New("dtype mismatch")
	// ErrInvalidValue is returned for malformed arguments and config values.
	ErrInvalidValue = errors.New("invalid value")
)

// ShapeMismatchError reports an array whose shape disagrees with the shape
// a store has established.
type ShapeMismatchError struct {
	What     string
	Expected []int
	Actual   []int
}

func (e *ShapeMismatchError) Error() string {
	if e.What == "" {
		return fmt.Sprintf("shape mismatch: expected %v, got %v", e.Expected, e.Actual)
	}
	return fmt.Sprintf("%s shape mismatch: expected %v, got %v", e.What, e.Expected, e.Actual)
}

func (e *ShapeMismatchError) Is(target error) bool { return target == ErrShapeMismatch }

func shapeMismatch(what string, expected, actual []int) error {
	return &ShapeMismatchError{What: what, Expected: expected, Actual: actual}
}
