package bvh

import "github.com/pkg/errors"

// newInvalidBoxError is returned when a caller supplies a box whose min exceeds
// its max on some axis. This denotes a caller-side bug, not a recoverable
// runtime condition.
func newInvalidBoxError(b Box) error {
	return errors.Errorf("invalid box [%g, %g, %g, %g, %g, %g]: min exceeds max", b[0], b[1], b[2], b[3], b[4], b[5])
}

// newMismatchedLengthsError is returned by bulk operations fed parallel slices
// of different lengths.
func newMismatchedLengthsError(objects, boxes int) error {
	return errors.Errorf("mismatched lengths: %d objects but %d boxes", objects, boxes)
}

// newTreeCorruptionError is returned when a structural invariant does not hold,
// e.g. an internal node missing one of its two children. The tree must not be
// used further once this is observed.
func newTreeCorruptionError(detail string) error {
	return errors.Errorf("tree corruption detected: %s", detail)
}
