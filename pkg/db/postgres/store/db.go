package store

import (
	"context"
	"errors"

	"github.com/tpolls/tpolls-api/pkg/db/postgres"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrDuplicateKey is returned when an insert trips a unique constraint.
var ErrDuplicateKey = errors.New("duplicate key")

// DB holds the four record collections: drafts, registration attempts, vote
// attempts, and the poll snapshot cache.
type DB struct {
	*postgres.Client
}

// New creates the store on top of an initialized postgres client and ensures
// the schema exists.
func New(ctx context.Context, client *postgres.Client) (*DB, error) {
	db := &DB{Client: client}
	if err := db.InitializeDB(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

// InitializeDB ensures the required tables exist.
func (db *DB) InitializeDB(ctx context.Context) error {
	db.Logger.Info("initializing tpolls schema")

	db.Logger.Debug("initialize drafts table")
	if err := db.initDrafts(ctx); err != nil {
		return err
	}

	db.Logger.Debug("initialize registration_attempts table")
	if err := db.initRegistrationAttempts(ctx); err != nil {
		return err
	}

	db.Logger.Debug("initialize vote_attempts table")
	if err := db.initVoteAttempts(ctx); err != nil {
		return err
	}

	db.Logger.Debug("initialize poll_snapshots table")
	if err := db.initPollSnapshots(ctx); err != nil {
		return err
	}

	db.Logger.Info("tpolls schema ready", zap.Int("tables", 4))
	return nil
}

func isNoRows(err error) bool { return postgres.IsNoRows(err) }

func isUniqueViolation(err error) bool { return postgres.IsUniqueViolation(err) }
