package membership

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Tally counts the rows a cascade deleted or unassigned, per collection.
type Tally struct {
	Companies             int64 `json:"companies"`
	Departments           int64 `json:"departments"`
	Groups                int64 `json:"groups"`
	Persons               int64 `json:"persons"`
	AdminAccounts         int64 `json:"adminAccounts"`
	SupervisorAccounts    int64 `json:"supervisorAccounts"`
	TraineeAccounts       int64 `json:"traineeAccounts"`
	UnassignedTrainees    int64 `json:"unassignedTrainees"`
	UnassignedSupervisors int64 `json:"unassignedSupervisors"`
}

// Total is the sum of every counter.
func (t Tally) Total() int64 {
	return t.Companies + t.Departments + t.Groups + t.Persons +
		t.AdminAccounts + t.SupervisorAccounts + t.TraineeAccounts +
		t.UnassignedTrainees + t.UnassignedSupervisors
}

func (t *Tally) addAccounts(role Role, n int64) {
	switch role {
	case RoleAdmin:
		t.AdminAccounts += n
	case RoleSupervisor:
		t.SupervisorAccounts += n
	case RoleTrainee:
		t.TraineeAccounts += n
	}
}

// DeleteGroup unassigns the group's trainees and supervisor and deletes the
// group. Role accounts survive.
func (e *Engine) DeleteGroup(ctx context.Context, groupID string) (Tally, error) {
	var t Tally
	if groupID == "" {
		return t, ErrInvalidInput
	}

	group, err := e.store.GetGroup(ctx, groupID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return t, fmt.Errorf("failed to fetch group: %w", err)
	}
	if err := e.cascadeGroup(ctx, groupID, &t); err != nil {
		return t, err
	}

	var departments []string
	if group != nil {
		departments = append(departments, group.DepartmentID)
		e.refreshDepartmentCounts(ctx, group.DepartmentID)
	}
	e.invalidate(ctx, []string{groupID}, departments)

	e.log.Info("group deleted", zap.String("group_id", groupID), zap.Int64("rows", t.Total()))
	if t.Groups > 0 {
		e.logAudit(ctx, "delete_group", "group", groupID, fmt.Sprintf("Unassigned %d trainee(s)", t.UnassignedTrainees))
	}
	return t, nil
}

// DeleteDepartment deletes every group of the department, then the
// department. Persons keep their departmentId and departmentName.
func (e *Engine) DeleteDepartment(ctx context.Context, departmentID string) (Tally, error) {
	var t Tally
	if departmentID == "" {
		return t, ErrInvalidInput
	}

	groups, err := e.cascadeDepartment(ctx, departmentID, &t)
	e.invalidate(ctx, groups, []string{departmentID})
	if err != nil {
		return t, err
	}

	e.log.Info("department deleted", zap.String("department_id", departmentID), zap.Int64("rows", t.Total()))
	if t.Departments > 0 {
		e.logAudit(ctx, "delete_department", "department", departmentID, fmt.Sprintf("Deleted %d group(s)", t.Groups))
	}
	return t, nil
}

// DeleteCompany removes the full closure of a company: its departments and
// groups, every role account of its persons, its linked admin account, the
// persons and finally the company itself.
func (e *Engine) DeleteCompany(ctx context.Context, companyID string) (Tally, error) {
	var t Tally
	if companyID == "" {
		return t, ErrInvalidInput
	}

	company, err := e.store.GetCompany(ctx, companyID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return t, fmt.Errorf("failed to fetch company: %w", err)
	}

	depts, err := e.store.ListDepartments(ctx, companyID)
	if err != nil {
		return t, fmt.Errorf("failed to list departments: %w", err)
	}
	var groupIDs, deptIDs []string
	for _, d := range depts {
		groups, err := e.cascadeDepartment(ctx, d.ID, &t)
		groupIDs = append(groupIDs, groups...)
		deptIDs = append(deptIDs, d.ID)
		if err != nil {
			e.invalidate(ctx, groupIDs, deptIDs)
			return t, err
		}
	}
	e.invalidate(ctx, groupIDs, deptIDs)

	persons, err := e.store.ListPersonsByCompany(ctx, companyID)
	if err != nil {
		return t, fmt.Errorf("failed to list persons: %w", err)
	}
	personIDs := make([]string, len(persons))
	for i, p := range persons {
		personIDs[i] = p.ID
	}

	if len(personIDs) > 0 {
		for _, role := range Roles {
			n, err := e.store.DeleteAccountsByPersons(ctx, role, personIDs)
			if err != nil {
				return t, fmt.Errorf("failed to delete %s accounts: %w", role, err)
			}
			t.addAccounts(role, n)
			e.step("delete_accounts_"+string(role), companyID, n)
		}
	}

	// The registering admin may not be one of the company's persons.
	if company != nil && deref(company.AdminAccountID) != "" {
		n, err := e.store.DeleteAccount(ctx, RoleAdmin, *company.AdminAccountID)
		if err != nil {
			return t, fmt.Errorf("failed to delete company admin account: %w", err)
		}
		t.AdminAccounts += n
		e.step("delete_company_admin", companyID, n)
	}

	if len(personIDs) > 0 {
		n, err := e.store.DeletePersons(ctx, personIDs)
		if err != nil {
			return t, fmt.Errorf("failed to delete persons: %w", err)
		}
		t.Persons += n
		e.step("delete_persons", companyID, n)
	}

	n, err := e.store.DeleteCompany(ctx, companyID)
	if err != nil {
		return t, fmt.Errorf("failed to delete company: %w", err)
	}
	t.Companies += n
	e.step("delete_company", companyID, n)

	e.log.Info("company deleted", zap.String("company_id", companyID), zap.Int64("rows", t.Total()))
	if t.Companies > 0 {
		e.logAudit(ctx, "delete_company", "company", companyID,
			fmt.Sprintf("Deleted %d department(s), %d person(s)", t.Departments, t.Persons))
	}
	return t, nil
}

// cascadeDepartment returns the ids of the groups it processed, including
// on error, so the caller can drop their cached rosters.
func (e *Engine) cascadeDepartment(ctx context.Context, departmentID string, t *Tally) ([]string, error) {
	groups, err := e.store.ListGroupsByDepartment(ctx, departmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups of department %s: %w", departmentID, err)
	}
	ids := make([]string, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.ID)
		if err := e.cascadeGroup(ctx, g.ID, t); err != nil {
			return ids, err
		}
	}

	n, err := e.store.DeleteDepartment(ctx, departmentID)
	if err != nil {
		return ids, fmt.Errorf("failed to delete department %s: %w", departmentID, err)
	}
	t.Departments += n
	e.step("delete_department", departmentID, n)
	return ids, nil
}

func (e *Engine) cascadeGroup(ctx context.Context, groupID string, t *Tally) error {
	n, err := e.store.UnassignAccountsFromGroup(ctx, RoleTrainee, groupID)
	if err != nil {
		return fmt.Errorf("failed to unassign trainees of group %s: %w", groupID, err)
	}
	t.UnassignedTrainees += n
	e.step("unassign_trainees", groupID, n)

	n, err = e.store.UnassignAccountsFromGroup(ctx, RoleSupervisor, groupID)
	if err != nil {
		return fmt.Errorf("failed to unassign supervisor of group %s: %w", groupID, err)
	}
	t.UnassignedSupervisors += n
	e.step("unassign_supervisor", groupID, n)

	n, err = e.store.DeleteGroup(ctx, groupID)
	if err != nil {
		return fmt.Errorf("failed to delete group %s: %w", groupID, err)
	}
	t.Groups += n
	e.step("delete_group", groupID, n)
	return nil
}

func (e *Engine) step(name, rootID string, n int64) {
	e.log.Debug("cascade step", zap.String("step", name), zap.String("id", rootID), zap.Int64("count", n))
}
