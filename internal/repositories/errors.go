package repositories

import "errors"

// ErrInsufficientQuantity indicates a stock decrement would drive availability below zero.
var ErrInsufficientQuantity = errors.New("repositories: insufficient product quantity")

// IsNotFound reports whether the error categorises as a missing document.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether the error categorises as a conflicting update.
func IsConflict(err error) bool {
	if errors.Is(err, ErrInsufficientQuantity) {
		return true
	}
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

// IsUnavailable reports whether the error categorises as a transient backend outage.
func IsUnavailable(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}
