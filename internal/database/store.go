package database

import (
	"context"
	"fmt"

	"github.com/frostdev-ops/pma-alerting/internal/database/repositories"
	"github.com/frostdev-ops/pma-alerting/internal/database/sqlite"
	"github.com/jmoiron/sqlx"
)

// Repositories holds all repository instances bound to one executor
type Repositories struct {
	Rules        repositories.RuleRepository
	Instances    repositories.InstanceRepository
	Evaluations  repositories.EvaluationRepository
	Channels     repositories.ChannelRepository
	Deliveries   repositories.DeliveryRepository
	Escalations  repositories.EscalationRepository
	Suppressions repositories.SuppressionRepository
}

// NewRepositories creates all repository instances on db, which may be a
// *sqlx.DB or a *sqlx.Tx
func NewRepositories(db sqlx.ExtContext) *Repositories {
	return &Repositories{
		Rules:        sqlite.NewRuleRepository(db),
		Instances:    sqlite.NewInstanceRepository(db),
		Evaluations:  sqlite.NewEvaluationRepository(db),
		Channels:     sqlite.NewChannelRepository(db),
		Deliveries:   sqlite.NewDeliveryRepository(db),
		Escalations:  sqlite.NewEscalationRepository(db),
		Suppressions: sqlite.NewSuppressionRepository(db),
	}
}

// Store exposes repositories on the pooled connection plus transactional scopes
type Store struct {
	*Repositories
	db *sqlx.DB
}

// NewStore creates a Store on db
func NewStore(db *sqlx.DB) *Store {
	return &Store{Repositories: NewRepositories(db), db: db}
}

// DB returns the underlying connection pool
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// WithTx runs fn with repositories bound to a single transaction. The
// transaction commits when fn returns nil and rolls back otherwise. fn must
// only use the repositories it is given.
func (s *Store) WithTx(ctx context.Context, fn func(repos *Repositories) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(NewRepositories(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
