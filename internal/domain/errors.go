package domain

import "errors"

// Error taxonomy. Callers wrap these with fmt.Errorf("...: %w", err) and
// check them with errors.Is at the process boundary.
var (
	// ErrDataSource means the raw catalog could not be read or parsed.
	ErrDataSource = errors.New("data source error")

	// ErrTraining means a model could not be fitted on the extracted data.
	ErrTraining = errors.New("training error")

	// ErrModelUnavailable means a persisted artifact could not be loaded.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrRemoteFetch means the remote alerts query failed.
	ErrRemoteFetch = errors.New("remote fetch error")

	// ErrInvalidLocation means user-supplied coordinates are out of range.
	ErrInvalidLocation = errors.New("invalid location")
)
