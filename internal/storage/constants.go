package db

import "time"

// Advisory lock ids.
const (
	// MigrationLockID serializes goose runs across instances.
	MigrationLockID int64 = 1000
	// RebuildLockID lets one instance rebuild the shared partition at a time.
	RebuildLockID int64 = 1001
)

const (
	connectRetryBase   = 500 * time.Millisecond
	connectRetryMax    = 8 * time.Second
	maxConnectAttempts = 10
)
