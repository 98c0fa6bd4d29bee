// Package queue runs the background side of the notification pipeline:
// workers that claim due jobs and deliver them, and the maintenance
// sweeps that keep the queue and the delivery log healthy.
package queue

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/gestium/flowmail/pkg/log"
	"github.com/gestium/flowmail/pkg/mailer"
	"github.com/gestium/flowmail/pkg/models"
	"github.com/gestium/flowmail/pkg/otelhelper"
	"github.com/gestium/flowmail/pkg/persistence"
)

// WorkerConfig tunes one delivery worker.
type WorkerConfig struct {
	// PollInterval is the idle sleep between claim attempts.
	PollInterval time.Duration
	// MaxAttempts bounds delivery retries per job.
	MaxAttempts int
	// Backoff is the base retry delay, multiplied by the error count.
	Backoff time.Duration
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}

	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}

	if c.Backoff <= 0 {
		c.Backoff = time.Minute
	}

	return c
}

// Worker claims due notification jobs one at a time and delivers them
// over the transport. Several workers may run against the same store;
// the claim is the only coordination point.
type Worker struct {
	id          string
	jobs        persistence.JobRepository
	deliveryLog persistence.DeliveryLogRepository
	transport   mailer.Transport
	config      WorkerConfig
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

func NewWorker(
	id string,
	jobs persistence.JobRepository,
	deliveryLog persistence.DeliveryLogRepository,
	transport mailer.Transport,
	config WorkerConfig,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		id:          id,
		jobs:        jobs,
		deliveryLog: deliveryLog,
		transport:   transport,
		config:      config.withDefaults(),
		logger:      log.WithModule(logger, "queue-worker").With("worker_id", id),
		tracer:      noop.NewTracerProvider().Tracer("flowmail"),
		now:         time.Now,
	}
}

// WithTracer enables span emission for delivery attempts.
func (w *Worker) WithTracer(tracer trace.Tracer) *Worker {
	w.tracer = tracer

	return w
}

// Run polls for due jobs until the context is cancelled. It drains the
// queue before sleeping, so a burst of jobs does not wait one poll
// interval each.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Worker started", "poll_interval", w.config.PollInterval.String())

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		for {
			processed, err := w.ProcessOne(ctx)
			if err != nil {
				w.logger.ErrorContext(ctx, "Failed to process job", "error", err)

				break
			}

			if !processed {
				break
			}
		}

		select {
		case <-ctx.Done():
			w.logger.InfoContext(ctx, "Worker stopped")

			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessOne claims and delivers at most one due job. It reports whether
// a job was claimed, so callers can drain the queue.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	job, err := w.jobs.ClaimDueJob(ctx, w.id, w.now().UTC())
	if err != nil {
		return false, err
	}

	if job == nil {
		return false, nil
	}

	w.deliver(ctx, job)

	return true, nil
}

// deliver sends one claimed job and records the outcome. The job's own
// state transition and the delivery log entry are both written; a log
// append failure never blocks the state update.
func (w *Worker) deliver(ctx context.Context, job *models.NotificationJob) {
	logger := w.logger.With("job_id", job.ID, "workflow_id", job.WorkflowID)

	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "queue.deliver",
		attribute.String(otelhelper.JobIDKey, job.ID),
		attribute.String(otelhelper.WorkerIDKey, w.id),
	)
	defer span.End()

	attempt := job.ErrorCount + 1
	now := w.now().UTC()

	msg := &mailer.Message{
		To:          job.To,
		Cc:          job.Cc,
		Subject:     job.Subject,
		Body:        job.Body,
		Attachments: job.Attachments,
	}

	sendErr := w.transport.Send(ctx, msg)

	if sendErr != nil {
		otelhelper.SetError(span, sendErr)
		logger.WarnContext(ctx, "Delivery attempt failed", "attempt", attempt, "error", sendErr)

		err := job.MarkError(sendErr, w.config.MaxAttempts, w.config.Backoff, now)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to record delivery error", "error", err)

			return
		}

		if job.State == models.JobStateError {
			logger.ErrorContext(ctx, "Job exhausted delivery attempts", "attempts", job.ErrorCount)
		}

		w.finish(ctx, job, attempt, models.OutcomeError, sendErr.Error(), logger)

		return
	}

	err := job.MarkSent(now)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to mark job sent", "error", err)

		return
	}

	logger.InfoContext(ctx, "Delivered notification", "attempt", attempt, "to", len(job.To), "cc", len(job.Cc))
	w.finish(ctx, job, attempt, models.OutcomeSent, "", logger)
}

func (w *Worker) finish(ctx context.Context, job *models.NotificationJob, attempt int, outcome models.DeliveryOutcome, detail string, logger *slog.Logger) {
	err := w.jobs.UpdateJob(ctx, job)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to persist job state", "state", string(job.State), "error", err)
	}

	err = w.deliveryLog.Append(ctx, &models.DeliveryLogEntry{
		JobID:    job.ID,
		Attempt:  attempt,
		Outcome:  outcome,
		Detail:   detail,
		WorkerID: w.id,
	})
	if err != nil {
		logger.ErrorContext(ctx, "Failed to append delivery log entry", "error", err)
	}
}
