package knowledge

import "errors"

// Error kinds reported by the engine stages.
var (
	// ErrEmbeddingUnavailable indicates the embedding provider exhausted its retries.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrInsufficientData indicates fewer than two domains have embedded units.
	ErrInsufficientData = errors.New("insufficient data for matching")

	// ErrStoreUnavailable indicates the persistence layer could not be reached.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvalidDomain indicates a unit references an unsupported domain.
	ErrInvalidDomain = errors.New("invalid domain")

	// ErrDuplicateTransition indicates another caller already won the transition.
	ErrDuplicateTransition = errors.New("duplicate transition")

	// ErrInvalidTransition indicates the transition is not allowed from the current status.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidScore indicates a score outside [0,1].
	ErrInvalidScore = errors.New("score must be between 0.0 and 1.0")

	// ErrInvalidUnit indicates a knowledge unit failed validation.
	ErrInvalidUnit = errors.New("invalid knowledge unit")

	// ErrCapacityExceeded indicates the configured unit capacity is reached.
	ErrCapacityExceeded = errors.New("knowledge unit capacity exceeded")
)
