package internalerr

import "errors"

// Sentinel errors for common cases
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrInvalidConfig    = errors.New("invalid configuration")

	// ErrEncoding marks text that cannot be represented (invalid UTF-8).
	// Recovered per record or per post.
	ErrEncoding = errors.New("unrepresentable text")

	// ErrTransientFeed marks server, request and response failures of the feed.
	ErrTransientFeed = errors.New("transient feed error")

	// ErrCatalogMismatch marks a label that is not part of the flair catalog.
	ErrCatalogMismatch = errors.New("label not in flair catalog")

	// ErrModelBinding marks a model, vocabulary and catalog that were not built together.
	ErrModelBinding = errors.New("model binding mismatch")

	// ErrLowAccuracy marks a trained model that scored below the accepted accuracy.
	ErrLowAccuracy = errors.New("model accuracy below threshold")
)
