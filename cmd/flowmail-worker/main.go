// Package main provides the delivery worker service: it claims due
// notification jobs, sends them over SMTP and runs the queue
// maintenance sweeps.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/gestium/flowmail/pkg/cmd"
	"github.com/gestium/flowmail/pkg/log"
	"github.com/gestium/flowmail/pkg/mailer"
	"github.com/gestium/flowmail/pkg/otelhelper"
	"github.com/gestium/flowmail/pkg/queue"
)

func main() {
	command := &cli.Command{
		Name:                  "flowmail-worker",
		EnableShellCompletion: true,
		Usage:                 "Deliver queued notifications over SMTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.IntFlag{
				Name:    "workers",
				Usage:   "Number of concurrent delivery workers",
				Value:   2,
				Sources: cli.EnvVars("WORKERS"),
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "Idle sleep between queue polls",
				Value:   5 * time.Second,
				Sources: cli.EnvVars("POLL_INTERVAL"),
			},
			&cli.IntFlag{
				Name:    "max-attempts",
				Usage:   "Delivery attempts per job before terminal ERROR",
				Value:   5,
				Sources: cli.EnvVars("MAX_ATTEMPTS"),
			},
			&cli.DurationFlag{
				Name:    "retry-backoff",
				Usage:   "Base retry delay, multiplied by the error count",
				Value:   time.Minute,
				Sources: cli.EnvVars("RETRY_BACKOFF"),
			},
			&cli.StringFlag{
				Name:     "smtp-host",
				Usage:    "SMTP server host",
				Required: true,
				Sources:  cli.EnvVars("SMTP_HOST"),
			},
			&cli.IntFlag{
				Name:    "smtp-port",
				Usage:   "SMTP server port",
				Value:   587,
				Sources: cli.EnvVars("SMTP_PORT"),
			},
			&cli.StringFlag{
				Name:    "smtp-username",
				Usage:   "SMTP username",
				Sources: cli.EnvVars("SMTP_USERNAME"),
			},
			&cli.StringFlag{
				Name:    "smtp-password",
				Usage:   "SMTP password",
				Sources: cli.EnvVars("SMTP_PASSWORD"),
			},
			&cli.StringFlag{
				Name:     "smtp-from",
				Usage:    "Sender address for outbound notifications",
				Required: true,
				Sources:  cli.EnvVars("SMTP_FROM"),
			},
			&cli.BoolFlag{
				Name:    "smtp-tls",
				Usage:   "Use implicit TLS for the SMTP connection",
				Sources: cli.EnvVars("SMTP_TLS"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OpenTelemetry tracing",
				Sources: cli.EnvVars("OTEL_TRACING"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule(slog.Default(), "flowmail-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing Flowmail Worker")

			persistence, err := cmd.NewPersistence(ctx, command.String("database-url"), logger)
			if err != nil {
				return err
			}
			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			transport := cmd.NewMailer(mailer.SMTPConfig{
				Host:     command.String("smtp-host"),
				Port:     int(command.Int("smtp-port")),
				Username: command.String("smtp-username"),
				Password: command.String("smtp-password"),
				From:     command.String("smtp-from"),
				TLS:      command.Bool("smtp-tls"),
			}, logger)

			manager := NewWorkerManager(
				workerID,
				int(command.Int("workers")),
				queue.WorkerConfig{
					PollInterval: command.Duration("poll-interval"),
					MaxAttempts:  int(command.Int("max-attempts")),
					Backoff:      command.Duration("retry-backoff"),
				},
				persistence,
				transport,
				logger,
			)

			if command.Bool("tracing") {
				tracer, err := otelhelper.NewTracer(ctx, "flowmail-worker")
				if err != nil {
					return err
				}

				manager.WithTracer(tracer)
			}

			return manager.Start(ctx)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
