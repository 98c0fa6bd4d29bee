package main

import (
	"context"
	"log/slog"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/gestium/flowmail/pkg/cmd"
	"github.com/gestium/flowmail/pkg/log"
)

func main() {
	command := &cli.Command{
		Name:                  "flowmail-api",
		EnableShellCompletion: true,
		Usage:                 "Serve the workflow configuration and queue inspection API",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Usage:   "Port to listen on",
				Value:   8080,
				Sources: cli.EnvVars("PORT"),
			},
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
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule(slog.Default(), "flowmail-api")

			logger.InfoContext(ctx, "Initializing Flowmail API")

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

			api := NewAPI(logger, persistence, eventBus)

			return api.Start(int(command.Int("port")))
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
