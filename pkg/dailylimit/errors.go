package dailylimit

import "errors"

var (
	// ErrNilStore indicates that no store was provided.
	ErrNilStore = errors.New("dailylimit: store is required")

	// ErrInvalidLimit indicates a non-positive daily budget.
	ErrInvalidLimit = errors.New("dailylimit: limit must be positive")
)
