// Package postgresql provides the PostgreSQL persistence implementation
// for workflows, notification jobs and the delivery log.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver

	"github.com/gestium/flowmail/pkg/persistence"
	"github.com/gestium/flowmail/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db           *sql.DB
	logger       *slog.Logger
	workflowRepo *WorkflowRepository
	jobRepo      *JobRepository
	logRepo      *DeliveryLogRepository
}

// NewPersistence connects, runs migrations and wires the repositories.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:           database,
		logger:       logger,
		workflowRepo: NewWorkflowRepository(database, logger),
		jobRepo:      NewJobRepository(database, logger),
		logRepo:      NewDeliveryLogRepository(database, logger),
	}, nil
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return p.workflowRepo
}

func (p *Persistence) JobRepository() persistence.JobRepository {
	return p.jobRepo
}

func (p *Persistence) DeliveryLogRepository() persistence.DeliveryLogRepository {
	return p.logRepo
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
