package port

import "errors"

// ErrStaleState is returned by conditional workflow updates when the row's
// status no longer matches the expected prior status. It is the sole
// serialization mechanism for concurrent transitions on one expense.
var ErrStaleState = errors.New("expense state changed concurrently")
