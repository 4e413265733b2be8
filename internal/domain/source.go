package domain

import "context"

// RawBatchSource yields raw catalog rows in batches of at most n, and io.EOF
// once nothing is left.
type RawBatchSource interface {
	ExtractBatch(ctx context.Context, n int) ([]RawEvent, error)
}
