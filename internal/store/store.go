// Package store provides storage backends for vapebot.
//
// It includes an in-memory store for tests and SQLite/PostgreSQL stores for
// durable live setup records, conversation state, inbound de-duplication and
// the archive of completed setups.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/ethangolledge/vapebot/internal/models"
)

// SetupRepo holds live setup records keyed by user id.
type SetupRepo interface {
	// GetSetup returns the record for userID, or nil if none exists.
	GetSetup(ctx context.Context, userID string) (*models.SetupRecord, error)
	// SaveSetup inserts or replaces the record.
	SaveSetup(ctx context.Context, rec models.SetupRecord) error
	// DeleteSetup removes the record for userID. Deleting a missing record is not an error.
	DeleteSetup(ctx context.Context, userID string) error
	// ListSetups returns every record last updated strictly before the given time.
	ListSetups(ctx context.Context, updatedBefore time.Time) ([]models.SetupRecord, error)
}

// FlowStateRepo holds per-user conversation state.
type FlowStateRepo interface {
	// GetFlowState returns the state for userID in flowType, or nil if none exists.
	GetFlowState(ctx context.Context, userID, flowType string) (*models.FlowState, error)
	SaveFlowState(ctx context.Context, state models.FlowState) error
	DeleteFlowState(ctx context.Context, userID, flowType string) error
	// ListFlowStates returns states of flowType last updated strictly before the given time.
	ListFlowStates(ctx context.Context, flowType string, updatedBefore time.Time) ([]models.FlowState, error)
}

// DedupRepo defines the interface for inbound message deduplication.
type DedupRepo interface {
	// RecordInbound inserts a new inbound message record. Returns false if the
	// message was already recorded (duplicate).
	RecordInbound(ctx context.Context, messageID, userID string) (bool, error)
	// PruneInbound forgets messages received strictly before the given time
	// and returns how many were removed.
	PruneInbound(ctx context.Context, receivedBefore time.Time) (int, error)
}

// SetupArchive durably stores completed setups keyed by user id.
type SetupArchive interface {
	ArchiveSetup(ctx context.Context, rec models.SetupRecord) error
}

// Store is the full set of capabilities every backend provides.
type Store interface {
	SetupRepo
	FlowStateRepo
	DedupRepo
	SetupArchive
	Close() error
}

// Opts holds configuration for the SQL stores.
type Opts struct {
	DSN string
}

// Option configures a store.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and
// "sqlite3" for everything else (file paths).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite3"
}
