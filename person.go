package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// CreatePersonRequest is the HR intake record of a person.
type CreatePersonRequest struct {
	FirstName      string `json:"firstName" validate:"required"`
	LastName       string `json:"lastName" validate:"required"`
	Email          string `json:"email" validate:"required,email"`
	Phone          string `json:"phone"`
	Position       string `json:"position"`
	EmployeeNumber string `json:"employeeNumber"`
	CompanyID      string `json:"companyId"`
	DepartmentID   string `json:"departmentId"`
	CompanyName    string `json:"companyName"`
	DepartmentName string `json:"departmentName"`
}

// CreatePerson stores a person. The email is lower-cased and must be unique.
// Explicit company/department ids must exist and override the names.
func (e *Engine) CreatePerson(ctx context.Context, req CreatePersonRequest) (*Person, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	if err := e.validateStruct(&req); err != nil {
		return nil, err
	}

	p := &Person{
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Email:          req.Email,
		Phone:          req.Phone,
		Position:       req.Position,
		EmployeeNumber: req.EmployeeNumber,
		CompanyName:    strings.TrimSpace(req.CompanyName),
		DepartmentName: strings.TrimSpace(req.DepartmentName),
	}
	if req.CompanyID != "" {
		c, err := e.GetCompany(ctx, req.CompanyID)
		if err != nil {
			return nil, err
		}
		p.CompanyID = ptr(c.ID)
		p.CompanyName = c.Name
	}
	if req.DepartmentID != "" {
		d, err := e.getDepartment(ctx, req.DepartmentID)
		if err != nil {
			return nil, err
		}
		if p.CompanyID != nil && d.CompanyID != *p.CompanyID {
			return nil, newMembershipError(ErrInvalidInput, d.ID, d.Name, "Department %s belongs to another company", d.Name)
		}
		p.DepartmentID = ptr(d.ID)
		p.DepartmentName = d.Name
	}

	if err := e.store.CreatePerson(ctx, p); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			return nil, newMembershipError(ErrAlreadyExists, "", p.Email, "Person with email %s already exists", p.Email)
		}
		return nil, fmt.Errorf("failed to create person: %w", err)
	}
	if p.DepartmentID != nil {
		e.invalidate(ctx, nil, []string{*p.DepartmentID})
	}

	e.logAudit(ctx, "create_person", "person", p.ID, "Created person: "+p.Email)
	return p, nil
}

// GetPerson retrieves a person by ID.
func (e *Engine) GetPerson(ctx context.Context, id string) (*Person, error) {
	if id == "" {
		return nil, ErrInvalidInput
	}
	p, err := e.store.GetPerson(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, newMembershipError(ErrNotFound, id, "", "Person %s not found", id)
		}
		return nil, fmt.Errorf("failed to fetch person: %w", err)
	}
	return p, nil
}

// ListPersons lists a department's persons, optionally filtered by a
// case-insensitive search over name, email and position.
func (e *Engine) ListPersons(ctx context.Context, departmentID, search string) ([]Person, error) {
	dept, err := e.getDepartment(ctx, departmentID)
	if err != nil {
		return nil, err
	}
	persons, err := e.store.ListPersonsByDepartment(ctx, dept.ID, search)
	if err != nil {
		return nil, fmt.Errorf("failed to list persons: %w", err)
	}
	if persons == nil {
		persons = []Person{}
	}
	return persons, nil
}

// UserTypeEmployee is the user type of a person holding no group role.
const UserTypeEmployee = "employee"

// RoleSummary lists the accounts a person holds. UserType is trainee,
// supervisor or employee, checked in that order, and RecordID is the id of
// the account it names (the person id for employee).
type RoleSummary struct {
	PersonID string        `json:"personId"`
	UserType string        `json:"userType"`
	RecordID string        `json:"recordId"`
	Accounts []RoleAccount `json:"accounts"`
}

// PersonRoles returns the role summary of a person.
func (e *Engine) PersonRoles(ctx context.Context, personID string) (*RoleSummary, error) {
	person, err := e.GetPerson(ctx, personID)
	if err != nil {
		return nil, err
	}
	out := &RoleSummary{PersonID: person.ID, UserType: UserTypeEmployee, RecordID: person.ID, Accounts: []RoleAccount{}}
	held := map[Role]*RoleAccount{}
	for _, role := range Roles {
		a, err := e.findAccount(ctx, role, person.ID)
		if err != nil {
			return nil, err
		}
		if a != nil {
			held[role] = a
			out.Accounts = append(out.Accounts, *a)
		}
	}
	for _, role := range []Role{RoleTrainee, RoleSupervisor} {
		if a, ok := held[role]; ok {
			out.UserType, out.RecordID = string(role), a.ID
			break
		}
	}
	return out, nil
}

// RoleRemoval reports what RemoveRole changed.
type RoleRemoval struct {
	AccountID         string `json:"accountId"`
	UnassignedGroupID string `json:"unassignedGroupId,omitempty"`
	Deleted           int64  `json:"deleted"`
}

// RemoveRole unassigns the person's account of role from its group, if
// any, and deletes the account.
func (e *Engine) RemoveRole(ctx context.Context, personID string, role Role) (*RoleRemoval, error) {
	person, err := e.GetPerson(ctx, personID)
	if err != nil {
		return nil, err
	}
	account, err := e.findAccount(ctx, role, person.ID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, newMembershipError(ErrNotFound, person.ID, person.FullName(),
			"Employee %s holds no %s account", person.FullName(), role)
	}

	if role == RoleAdmin {
		refs, err := e.store.CountAdminReferences(ctx, account.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to count admin references: %w", err)
		}
		if refs > 0 {
			return nil, newMembershipError(ErrRoleConflict, person.ID, person.FullName(),
				"Admin account of %s still administers %d record(s)", person.FullName(), refs)
		}
	}

	out := &RoleRemoval{AccountID: account.ID}
	if groupID := account.AssignedGroup(); groupID != "" && role.Groupable() {
		if _, err := e.store.SetAccountGroup(ctx, role, account.ID, groupID, ""); err != nil {
			return nil, fmt.Errorf("failed to unassign %s: %w", role, err)
		}
		if role == RoleSupervisor {
			g, err := e.store.GetGroup(ctx, groupID)
			if err == nil && deref(g.SupervisorAccountID) == account.ID {
				if err := e.store.SetGroupSupervisor(ctx, groupID, ""); err != nil {
					return nil, fmt.Errorf("failed to clear group supervisor: %w", err)
				}
			}
		}
		if _, err := e.refreshGroupCount(ctx, groupID); err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		e.invalidate(ctx, []string{groupID}, nil)
		out.UnassignedGroupID = groupID
	}

	if out.Deleted, err = e.store.DeleteAccount(ctx, role, account.ID); err != nil {
		return nil, fmt.Errorf("failed to delete %s account: %w", role, err)
	}

	e.log.Info("role removed",
		zap.String("person_id", person.ID),
		zap.String("role", string(role)),
		zap.String("account_id", account.ID))
	e.logAudit(ctx, "remove_role", string(role)+"_account", account.ID, "Removed "+string(role)+" role of "+person.Email)
	return out, nil
}
