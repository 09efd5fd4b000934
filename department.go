package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// CreateDepartmentRequest creates a department inside a company.
type CreateDepartmentRequest struct {
	Name           string `json:"name" validate:"required,max=200"`
	CompanyID      string `json:"companyId" validate:"required"`
	AdminAccountID string `json:"adminId"`
}

// DepartmentCreated reports the new department and how many persons were
// linked to it by their denormalized department name.
type DepartmentCreated struct {
	Department *Department `json:"department"`
	Linked     int64       `json:"linked"`
}

// CreateDepartment creates a new department and links every person of the
// company whose departmentName matches.
func (e *Engine) CreateDepartment(ctx context.Context, req CreateDepartmentRequest) (*DepartmentCreated, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.CompanyID = strings.TrimSpace(req.CompanyID)
	if err := e.validateStruct(&req); err != nil {
		return nil, err
	}
	if _, err := e.store.GetCompany(ctx, req.CompanyID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, newMembershipError(ErrNotFound, req.CompanyID, "", "Company %s not found", req.CompanyID)
		}
		return nil, fmt.Errorf("failed to fetch company: %w", err)
	}

	// Names are unique per company regardless of case.
	existing, err := e.store.FindDepartmentsByName(ctx, req.CompanyID, req.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to check department name: %w", err)
	}
	if len(existing) > 0 {
		return nil, departmentExists(req.Name)
	}

	dept := &Department{Name: req.Name, CompanyID: req.CompanyID, AdminAccountID: ptr(req.AdminAccountID)}
	if err := e.store.CreateDepartment(ctx, dept); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			return nil, departmentExists(req.Name)
		}
		return nil, fmt.Errorf("failed to create department: %w", err)
	}

	linked, err := e.store.LinkPersonsToDepartment(ctx, dept.CompanyID, dept.Name, dept.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to link persons: %w", err)
	}
	e.refreshDepartmentCounts(ctx, dept.ID)
	if fresh, err := e.store.GetDepartment(ctx, dept.ID); err == nil {
		dept = fresh
	}

	e.log.Info("department created",
		zap.String("department_id", dept.ID),
		zap.String("company_id", dept.CompanyID),
		zap.Int64("linked", linked))
	e.logAudit(ctx, "create_department", "department", dept.ID, "Created department: "+dept.Name)
	return &DepartmentCreated{Department: dept, Linked: linked}, nil
}

// RenameDepartment renames a department and rewrites the denormalized
// departmentName of its linked persons.
func (e *Engine) RenameDepartment(ctx context.Context, id, name string) (*Department, error) {
	name = strings.TrimSpace(name)
	if id == "" || name == "" {
		return nil, ErrInvalidInput
	}

	dept, err := e.getDepartment(ctx, id)
	if err != nil {
		return nil, err
	}
	clash, err := e.store.FindDepartmentsByName(ctx, dept.CompanyID, name)
	if err != nil {
		return nil, fmt.Errorf("failed to check department name: %w", err)
	}
	for _, d := range clash {
		if d.ID != dept.ID {
			return nil, departmentExists(name)
		}
	}

	if err := e.store.RenameDepartment(ctx, id, name); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			return nil, departmentExists(name)
		}
		return nil, fmt.Errorf("failed to rename department: %w", err)
	}
	n, err := e.store.RenamePersonsDepartment(ctx, id, name)
	if err != nil {
		return nil, fmt.Errorf("failed to rename persons' department: %w", err)
	}
	dept.Name = name

	// Cached rosters carry the department name.
	groups, err := e.store.ListGroupsByDepartment(ctx, id)
	if err != nil {
		e.log.Warn("failed to list groups for cache invalidation", zap.String("department_id", id), zap.Error(err))
	}
	groupIDs := make([]string, 0, len(groups))
	for _, g := range groups {
		groupIDs = append(groupIDs, g.ID)
	}
	e.invalidate(ctx, groupIDs, []string{id})

	e.log.Info("department renamed", zap.String("department_id", id), zap.Int64("persons", n))
	e.logAudit(ctx, "update_department", "department", id, "Updated department name to: "+name)
	return dept, nil
}

// GetDepartment retrieves a department by ID with its live member count.
func (e *Engine) GetDepartment(ctx context.Context, id string) (*Department, error) {
	if id == "" {
		return nil, ErrInvalidInput
	}
	dept, err := e.getDepartment(ctx, id)
	if err != nil {
		return nil, err
	}
	if n, err := e.liveMemberCount(ctx, dept.ID); err == nil {
		dept.MemberCount = int(n)
	}
	return dept, nil
}

// ListDepartments retrieves the departments of a company with live member counts.
func (e *Engine) ListDepartments(ctx context.Context, companyID string) ([]Department, error) {
	depts, err := e.store.ListDepartments(ctx, companyID)
	if err != nil {
		return nil, err
	}
	for i := range depts {
		if n, err := e.liveMemberCount(ctx, depts[i].ID); err == nil {
			depts[i].MemberCount = int(n)
		}
	}
	return depts, nil
}

// Recount is one department's outcome from RecountDepartments.
type Recount struct {
	DepartmentID string `json:"departmentId"`
	Name         string `json:"name"`
	OldCount     int    `json:"oldCount"`
	NewCount     int    `json:"newCount"`
	Error        string `json:"error,omitempty"`
}

// RecountDepartments rewrites the stored member and group counts of every
// department of a company. A failing department does not stop the others.
func (e *Engine) RecountDepartments(ctx context.Context, companyID string) ([]Recount, error) {
	depts, err := e.store.ListDepartments(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list departments: %w", err)
	}

	out := make([]Recount, 0, len(depts))
	ids := make([]string, 0, len(depts))
	for _, d := range depts {
		r := Recount{DepartmentID: d.ID, Name: d.Name, OldCount: d.MemberCount}
		members, groups, err := e.countDepartment(ctx, d.ID)
		if err == nil {
			err = e.store.SetDepartmentCounts(ctx, d.ID, int(members), int(groups))
		}
		if err != nil {
			r.Error = err.Error()
			e.log.Warn("department recount failed", zap.String("department_id", d.ID), zap.Error(err))
		} else {
			r.NewCount = int(members)
		}
		ids = append(ids, d.ID)
		out = append(out, r)
	}
	e.invalidate(ctx, nil, ids)
	return out, nil
}

func (e *Engine) getDepartment(ctx context.Context, id string) (*Department, error) {
	dept, err := e.store.GetDepartment(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, newMembershipError(ErrNotFound, id, "", "Department %s not found", id)
		}
		return nil, fmt.Errorf("failed to fetch department: %w", err)
	}
	return dept, nil
}

// liveMemberCount counts persons whose departmentId matches, through the cache.
func (e *Engine) liveMemberCount(ctx context.Context, departmentID string) (int64, error) {
	if n, ok := e.cachedMemberCount(ctx, departmentID); ok {
		return n, nil
	}
	n, err := e.store.CountPersonsByDepartment(ctx, departmentID)
	if err != nil {
		return 0, err
	}
	e.storeMemberCount(ctx, departmentID, n)
	return n, nil
}

func (e *Engine) countDepartment(ctx context.Context, departmentID string) (members, groups int64, err error) {
	if members, err = e.store.CountPersonsByDepartment(ctx, departmentID); err != nil {
		return 0, 0, err
	}
	if groups, err = e.store.CountGroupsByDepartment(ctx, departmentID); err != nil {
		return 0, 0, err
	}
	return members, groups, nil
}

// refreshDepartmentCounts stores the live counts of a department. The stored
// values are only a cache, so failures are logged and swallowed.
func (e *Engine) refreshDepartmentCounts(ctx context.Context, departmentID string) {
	members, groups, err := e.countDepartment(ctx, departmentID)
	if err == nil {
		err = e.store.SetDepartmentCounts(ctx, departmentID, int(members), int(groups))
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		e.log.Warn("failed to refresh department counts", zap.String("department_id", departmentID), zap.Error(err))
		return
	}
	e.invalidate(ctx, nil, []string{departmentID})
}

func departmentExists(name string) *MembershipError {
	return newMembershipError(ErrAlreadyExists, "", name, "Department %s already exists in this company", name)
}
