package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/gestium/flowmail/pkg/persistence"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType("conflict").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handlePersistenceError maps repository errors onto problem responses.
func handlePersistenceError(c fiber.Ctx, err error) error {
	switch {
	case persistence.IsWorkflowNotFound(err):
		return notFound(c, "workflow not found")
	case persistence.IsJobNotFound(err):
		return notFound(c, "job not found")
	case errors.Is(err, persistence.ErrJobNotReschedulable):
		return conflict(c, "job cannot be rescheduled once sending has started")
	case errors.Is(err, persistence.ErrJobNotDeletable):
		return conflict(c, "job can only be deleted before sending has started")
	default:
		return internalError(c, err)
	}
}
