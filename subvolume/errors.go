package subvolume

import "errors"

// Error taxonomy for the snapshot and subvolume engine. There is no
// transaction-restart sentinel in this set: the host database already
// serializes writers, so every call either succeeds or fails outright in a
// single attempt.
var (
	// ErrNotFound means a required snapshot or subvolume row is absent.
	ErrNotFound = errors.New("subvolume: not found")
	// ErrNoSpace means the snapshot id space or subvolume slot range is exhausted.
	ErrNoSpace = errors.New("subvolume: no space")
	// ErrInvalid means an argument was out of range or violated a structural rule.
	ErrInvalid = errors.New("subvolume: invalid argument")
	// ErrOutOfMemory means the equivalence cache or a deleted-id list could not grow.
	ErrOutOfMemory = errors.New("subvolume: out of memory")
	// ErrInconsistent means on-disk state violated an invariant. Always logged
	// with the offending ids before being returned.
	ErrInconsistent = errors.New("subvolume: inconsistent on-disk state")
)
