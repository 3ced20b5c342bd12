// Package kv provides the string key-value persistence the stores are built on.
package kv

import "context"

// Store is an async-safe string key-value store. Values are whole JSON blobs.
type Store interface {
	// Get returns the value for key; ok is false when the key has never been set
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

// HealthChecker is implemented by stores that can verify their backing storage
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
