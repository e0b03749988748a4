package backend

import (
	"context"

	"despesas/internal/amqp"
	"despesas/internal/ledger"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult is the store plus the optional event bus.
type BackendResult struct {
	Store ledger.Store
	// Events is nil when AMQP is not configured or the broker was unreachable
	// at startup.
	Events  *amqp.Client
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// Event bus, optional for both backends
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
	// Origin tags events published by this process
	Origin string

	// SeedFile is applied to the store after it opens
	SeedFile string
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
