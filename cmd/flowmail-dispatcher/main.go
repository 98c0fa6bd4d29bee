// Package main provides the dispatcher service: it consumes task events
// from the bus and runs one dispatch cycle per event.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/gestium/flowmail/pkg/cmd"
	"github.com/gestium/flowmail/pkg/log"
	"github.com/gestium/flowmail/pkg/otelhelper"
	"github.com/gestium/flowmail/pkg/tickets"
)

func main() {
	command := &cli.Command{
		Name:                  "flowmail-dispatcher",
		EnableShellCompletion: true,
		Usage:                 "Consume task events and dispatch notification workflows",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "kafka",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the workflow set cache (disabled when empty)",
				Value:   "",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.DurationFlag{
				Name:    "cache-ttl",
				Usage:   "TTL of the cached workflow sets",
				Value:   5 * time.Minute,
				Sources: cli.EnvVars("CACHE_TTL"),
			},
			&cli.StringFlag{
				Name:     "ticket-api-url",
				Usage:    "Base URL of the ticket system's internal API",
				Required: true,
				Sources:  cli.EnvVars("TICKET_API_URL"),
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

			logger := log.WithModule(slog.Default(), "flowmail-dispatcher")

			logger.InfoContext(ctx, "Initializing Flowmail Dispatcher")

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), logger)
			if err != nil {
				return err
			}
			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

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

			source, workflowCache, err := cmd.NewWorkflowSource(
				persistence.WorkflowRepository(),
				command.String("redis-url"),
				command.Duration("cache-ttl"),
				logger,
			)
			if err != nil {
				return err
			}

			ticketsClient := tickets.NewClient(command.String("ticket-api-url"), logger)

			manager := NewDispatcherManager(source, workflowCache, persistence, eventBus, ticketsClient, logger)

			if command.Bool("tracing") {
				tracer, err := otelhelper.NewTracer(ctx, "flowmail-dispatcher")
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
