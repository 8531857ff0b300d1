package engagement

import "errors"

// Sentinel errors returned by the engagement services and the stores
// backing them. Callers match with errors.Is; the API layer maps them
// to HTTP statuses.
var (
	// ErrNotFound means the referenced post or comment does not exist.
	ErrNotFound = errors.New("target not found")

	// ErrValidation means the input was malformed and no transaction
	// was started.
	ErrValidation = errors.New("invalid input")

	// ErrConflict means a transient transaction race exhausted its
	// retry budget. The caller may retry the whole operation.
	ErrConflict = errors.New("conflicting concurrent update")

	// ErrTransientStore means the underlying store was unreachable or
	// dropped the connection mid-operation.
	ErrTransientStore = errors.New("engagement store unavailable")

	// ErrDuplicateLike is returned by Store.InsertLike when the
	// uniqueness constraint on (user, target) rejects the row. The
	// toggle loop converts it into the unlike branch; it never reaches
	// API callers.
	ErrDuplicateLike = errors.New("like already recorded")

	// ErrSerialization is returned by stores when the database aborts
	// a transaction due to a serialization failure or deadlock. It is
	// retryable.
	ErrSerialization = errors.New("transaction serialization failure")
)

// Retryable reports whether err is worth re-running the transaction for.
func Retryable(err error) bool {
	return errors.Is(err, ErrSerialization) ||
		errors.Is(err, ErrDuplicateLike) ||
		errors.Is(err, ErrTransientStore)
}
