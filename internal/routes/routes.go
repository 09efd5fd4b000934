package routes

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	membership "github.com/bohemiyan/orgmembership"
)

// ActorHeader carries the authenticated caller id set by the gateway.
const ActorHeader = "X-Actor-ID"

type handler struct {
	engine *membership.Engine
	log    *zap.Logger
}

func Setup(app *fiber.App, engine *membership.Engine, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	h := &handler{engine: engine, log: log}

	// Authentication happens upstream; the actor id is only used for auditing.
	app.Use(func(c *fiber.Ctx) error {
		if actor := c.Get(ActorHeader); actor != "" {
			c.SetUserContext(membership.WithActor(c.UserContext(), actor))
		}
		return c.Next()
	})

	api := app.Group("/api/v1")

	api.Post("/persons", h.createPerson)
	api.Get("/persons/:id", h.getPerson)
	api.Get("/persons/:id/eligibility", h.canAssign)
	api.Get("/persons/:id/roles", h.personRoles)
	api.Delete("/persons/:id/roles/:role", h.removeRole)

	api.Post("/companies", h.createCompany)
	api.Get("/companies", h.listCompanies)
	api.Get("/companies/:id", h.getCompany)
	api.Delete("/companies/:id", h.deleteCompany)
	api.Post("/companies/:id/recount", h.recountDepartments)

	api.Post("/departments", h.createDepartment)
	api.Get("/departments", h.listDepartments)
	api.Get("/departments/:id", h.getDepartment)
	api.Get("/departments/:id/groups", h.listGroups)
	api.Get("/departments/:id/persons", h.listPersons)
	api.Patch("/departments/:id", h.renameDepartment)
	api.Delete("/departments/:id", h.deleteDepartment)

	api.Post("/groups", h.finalizeGroup)
	api.Get("/groups/:id", h.groupRoster)
	api.Patch("/groups/:id", h.renameGroup)
	api.Delete("/groups/:id", h.deleteGroup)
	api.Post("/groups/:id/trainees", h.addTrainees)
	api.Delete("/groups/:id/trainees/:accountId", h.removeTrainee)
	api.Put("/groups/:id/supervisor", h.assignSupervisor)
	api.Delete("/groups/:id/supervisor", h.removeSupervisor)

	api.Get("/audit", h.listAudit)
}

// statusOf maps engine errors onto HTTP statuses.
func statusOf(err error) int {
	switch {
	case errors.Is(err, membership.ErrInvalidInput), errors.Is(err, membership.ErrDuplicateSelection):
		return fiber.StatusBadRequest
	case errors.Is(err, membership.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, membership.ErrRoleConflict),
		errors.Is(err, membership.ErrAlreadyInGroup),
		errors.Is(err, membership.ErrAlreadyExists),
		errors.Is(err, membership.ErrNotInGroup):
		return fiber.StatusConflict
	}
	return fiber.StatusInternalServerError
}

func (h *handler) fail(c *fiber.Ctx, err error) error {
	status := statusOf(err)
	if status == fiber.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
		return c.Status(status).JSON(fiber.Map{"error": "internal server error"})
	}
	return c.Status(status).JSON(fiber.Map{
		"error":  err.Error(),
		"reason": membership.ReasonOf(err),
	})
}

func badBody(err error) error {
	return fmt.Errorf("%w: malformed body: %v", membership.ErrInvalidInput, err)
}
