package ingest

import "errors"

// ErrPersistenceFailure marks a block that could not be committed. The block
// is retried as a whole after a reconnect.
var ErrPersistenceFailure = errors.New("persistence failure")
