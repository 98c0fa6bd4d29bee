// Package main provides the Flowmail API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/gestium/flowmail/pkg/eventbus"
	"github.com/gestium/flowmail/pkg/persistence"
	"github.com/gestium/flowmail/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	p persistence.Persistence,
	eventBus eventbus.EventBus,
) *API {
	return &API{
		persistence: p,
		logger:      logger,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.persistence, a.eventBus, a.validate, a.logger)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Flowmail API")
	})

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Put("/:id", handlers.UpdateWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)
	w.Post("/:id/duplicate", handlers.DuplicateWorkflow)
	w.Post("/:id/toggle", handlers.ToggleWorkflow)

	j := app.Group("/jobs")
	j.Get("/", handlers.GetJobs)
	j.Get("/:id", handlers.GetJob)
	j.Get("/:id/log", handlers.GetJobLog)
	j.Post("/:id/reschedule", handlers.RescheduleJob)
	j.Delete("/:id", handlers.DeleteJob)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
