package routes

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	membership "github.com/bohemiyan/orgmembership"
)

type nameBody struct {
	Name string `json:"name"`
}

type idsBody struct {
	IDs []string `json:"ids"`
}

type idBody struct {
	ID string `json:"id"`
}

func (h *handler) createPerson(c *fiber.Ctx) error {
	var req membership.CreatePersonRequest
	if err := c.BodyParser(&req); err != nil {
		return h.fail(c, badBody(err))
	}
	p, err := h.engine.CreatePerson(c.UserContext(), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(p)
}

func (h *handler) getPerson(c *fiber.Ctx) error {
	p, err := h.engine.GetPerson(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(p)
}

func (h *handler) canAssign(c *fiber.Ctx) error {
	role, err := membership.ParseRole(c.Query("role"))
	if err != nil {
		return h.fail(c, err)
	}
	a, err := h.engine.CanAssign(c.UserContext(), c.Params("id"), role, c.Query("groupId"))
	if err != nil {
		return h.fail(c, err)
	}
	body := fiber.Map{"verdict": a.Verdict.String()}
	if a.OtherGroupID != "" {
		body["otherGroupId"] = a.OtherGroupID
	}
	if err := a.Err(); err != nil {
		body["message"] = err.Error()
	}
	return c.JSON(body)
}

func (h *handler) personRoles(c *fiber.Ctx) error {
	out, err := h.engine.PersonRoles(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(out)
}

func (h *handler) removeRole(c *fiber.Ctx) error {
	role, err := membership.ParseRole(c.Params("role"))
	if err != nil {
		return h.fail(c, err)
	}
	out, err := h.engine.RemoveRole(c.UserContext(), c.Params("id"), role)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(out)
}

func (h *handler) createCompany(c *fiber.Ctx) error {
	var req membership.CreateCompanyRequest
	if err := c.BodyParser(&req); err != nil {
		return h.fail(c, badBody(err))
	}
	out, err := h.engine.CreateCompany(c.UserContext(), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(out)
}

func (h *handler) listCompanies(c *fiber.Ctx) error {
	companies, err := h.engine.ListCompanies(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"companies": companies})
}

func (h *handler) getCompany(c *fiber.Ctx) error {
	company, err := h.engine.GetCompany(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(company)
}

func (h *handler) deleteCompany(c *fiber.Ctx) error {
	t, err := h.engine.DeleteCompany(c.UserContext(), c.Params("id"))
	return h.tally(c, t, err)
}

func (h *handler) recountDepartments(c *fiber.Ctx) error {
	out, err := h.engine.RecountDepartments(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"departments": out})
}

func (h *handler) createDepartment(c *fiber.Ctx) error {
	var req membership.CreateDepartmentRequest
	if err := c.BodyParser(&req); err != nil {
		return h.fail(c, badBody(err))
	}
	out, err := h.engine.CreateDepartment(c.UserContext(), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(out)
}

func (h *handler) listDepartments(c *fiber.Ctx) error {
	depts, err := h.engine.ListDepartments(c.UserContext(), c.Query("companyId"))
	if err != nil {
		return h.fail(c, err)
	}
	if depts == nil {
		depts = []membership.Department{}
	}
	return c.JSON(fiber.Map{"departments": depts})
}

func (h *handler) getDepartment(c *fiber.Ctx) error {
	d, err := h.engine.GetDepartment(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(d)
}

func (h *handler) listGroups(c *fiber.Ctx) error {
	groups, err := h.engine.ListGroups(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"groups": groups})
}

func (h *handler) listPersons(c *fiber.Ctx) error {
	persons, err := h.engine.ListPersons(c.UserContext(), c.Params("id"), c.Query("search"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"persons": persons})
}

func (h *handler) renameDepartment(c *fiber.Ctx) error {
	var body nameBody
	if err := c.BodyParser(&body); err != nil {
		return h.fail(c, badBody(err))
	}
	d, err := h.engine.RenameDepartment(c.UserContext(), c.Params("id"), body.Name)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(d)
}

func (h *handler) deleteDepartment(c *fiber.Ctx) error {
	t, err := h.engine.DeleteDepartment(c.UserContext(), c.Params("id"))
	return h.tally(c, t, err)
}

func (h *handler) finalizeGroup(c *fiber.Ctx) error {
	var req membership.FinalizeGroupRequest
	if err := c.BodyParser(&req); err != nil {
		return h.fail(c, badBody(err))
	}
	out, err := h.engine.FinalizeGroup(c.UserContext(), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(out)
}

func (h *handler) groupRoster(c *fiber.Ctx) error {
	r, err := h.engine.GroupRoster(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(r)
}

func (h *handler) renameGroup(c *fiber.Ctx) error {
	var body nameBody
	if err := c.BodyParser(&body); err != nil {
		return h.fail(c, badBody(err))
	}
	g, err := h.engine.RenameGroup(c.UserContext(), c.Params("id"), body.Name)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(g)
}

func (h *handler) deleteGroup(c *fiber.Ctx) error {
	t, err := h.engine.DeleteGroup(c.UserContext(), c.Params("id"))
	return h.tally(c, t, err)
}

// addTrainees answers 207 when some ids were rejected.
func (h *handler) addTrainees(c *fiber.Ctx) error {
	var body idsBody
	if err := c.BodyParser(&body); err != nil {
		return h.fail(c, badBody(err))
	}
	out, err := h.engine.AddTrainees(c.UserContext(), c.Params("id"), body.IDs)
	if err != nil {
		return h.fail(c, err)
	}
	if out.PartialFailure() {
		c.Status(fiber.StatusMultiStatus)
	}
	return c.JSON(out)
}

func (h *handler) removeTrainee(c *fiber.Ctx) error {
	count, err := h.engine.RemoveTrainee(c.UserContext(), c.Params("id"), c.Params("accountId"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"memberCount": count})
}

func (h *handler) assignSupervisor(c *fiber.Ctx) error {
	var body idBody
	if err := c.BodyParser(&body); err != nil {
		return h.fail(c, badBody(err))
	}
	out, err := h.engine.AssignSupervisor(c.UserContext(), c.Params("id"), body.ID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(out)
}

func (h *handler) removeSupervisor(c *fiber.Ctx) error {
	out, err := h.engine.RemoveSupervisor(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(out)
}

func (h *handler) listAudit(c *fiber.Ctx) error {
	entries, err := h.engine.ListAuditLogs(c.UserContext(), c.Query("targetId"))
	if err != nil {
		return h.fail(c, err)
	}
	if entries == nil {
		entries = []membership.AuditEntry{}
	}
	return c.JSON(fiber.Map{"entries": entries})
}

// tally reports the partial tally alongside the error of a failed cascade.
func (h *handler) tally(c *fiber.Ctx, t membership.Tally, err error) error {
	if err != nil {
		if t.Total() == 0 {
			return h.fail(c, err)
		}
		h.log.Error("cascade stopped", zap.String("path", c.Path()), zap.Error(err))
		return c.Status(statusOf(err)).JSON(fiber.Map{"error": err.Error(), "tally": t})
	}
	return c.JSON(fiber.Map{"tally": t})
}
