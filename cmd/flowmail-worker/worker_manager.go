package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/gestium/flowmail/pkg/mailer"
	"github.com/gestium/flowmail/pkg/persistence"
	"github.com/gestium/flowmail/pkg/queue"
)

// WorkerManager runs a pool of delivery workers plus the maintenance
// sweeps, all against the same job store.
type WorkerManager struct {
	baseID      string
	count       int
	config      queue.WorkerConfig
	persistence persistence.Persistence
	transport   mailer.Transport
	logger      *slog.Logger
	tracer      trace.Tracer
}

func NewWorkerManager(
	baseID string,
	count int,
	config queue.WorkerConfig,
	p persistence.Persistence,
	transport mailer.Transport,
	logger *slog.Logger,
) *WorkerManager {
	if count < 1 {
		count = 1
	}

	return &WorkerManager{
		baseID:      baseID,
		count:       count,
		config:      config,
		persistence: p,
		transport:   transport,
		logger:      logger,
	}
}

// WithTracer enables span emission for delivery attempts.
func (m *WorkerManager) WithTracer(tracer trace.Tracer) *WorkerManager {
	m.tracer = tracer

	return m
}

// Start launches the workers and the maintenance schedule, then blocks
// until the context is cancelled and all workers have drained.
func (m *WorkerManager) Start(ctx context.Context) error {
	maintenance := queue.NewMaintenance(
		m.persistence.JobRepository(),
		m.persistence.DeliveryLogRepository(),
		queue.MaintenanceConfig{MaxAttempts: m.config.MaxAttempts},
		m.logger,
	)

	err := maintenance.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start maintenance sweeps: %w", err)
	}
	defer maintenance.Stop(ctx)

	var wg sync.WaitGroup

	for i := range m.count {
		worker := queue.NewWorker(
			fmt.Sprintf("%s-%d", m.baseID, i),
			m.persistence.JobRepository(),
			m.persistence.DeliveryLogRepository(),
			m.transport,
			m.config,
			m.logger,
		)

		if m.tracer != nil {
			worker.WithTracer(m.tracer)
		}

		wg.Add(1)

		go func() {
			defer wg.Done()

			err := worker.Run(ctx)
			if err != nil && ctx.Err() == nil {
				m.logger.ErrorContext(ctx, "Worker exited unexpectedly", "error", err)
			}
		}()
	}

	m.logger.InfoContext(ctx, "Worker pool started", "workers", m.count)

	wg.Wait()

	m.logger.InfoContext(ctx, "Worker pool stopped")

	return nil
}
