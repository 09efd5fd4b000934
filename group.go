package membership

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// FinalizeGroupRequest creates a group with its supervisor and trainees.
// SupervisorID and TraineeIDs accept person ids or account ids of the
// matching role.
type FinalizeGroupRequest struct {
	Name           string   `json:"groupName" validate:"required,max=200"`
	DepartmentName string   `json:"departmentName" validate:"required"`
	AdminAccountID string   `json:"adminId" validate:"required"`
	SupervisorID   string   `json:"supervisorId" validate:"required"`
	TraineeIDs     []string `json:"traineeIds" validate:"dive,required"`
}

// Normalize trims every identifier and name.
func (r *FinalizeGroupRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.DepartmentName = strings.TrimSpace(r.DepartmentName)
	r.AdminAccountID = strings.TrimSpace(r.AdminAccountID)
	r.SupervisorID = strings.TrimSpace(r.SupervisorID)
	for i := range r.TraineeIDs {
		r.TraineeIDs[i] = strings.TrimSpace(r.TraineeIDs[i])
	}
}

// ParticipantOutcome reports the account used for one requested id.
type ParticipantOutcome struct {
	RequestedID string `json:"requestedId"`
	PersonID    string `json:"personId"`
	AccountID   string `json:"accountId"`
	Name        string `json:"name"`
	LoginEmail  string `json:"loginEmail"`
	Created     bool   `json:"created"`
}

func outcomeOf(p *participant, prov *Provisioned) ParticipantOutcome {
	return ParticipantOutcome{
		RequestedID: p.RequestedID,
		PersonID:    p.Person.ID,
		AccountID:   prov.Account.ID,
		Name:        p.Person.FullName(),
		LoginEmail:  prov.Account.LoginEmail,
		Created:     prov.Created,
	}
}

// FinalizeResult is returned by FinalizeGroup. Rejected only lists
// participants that lost a concurrent assignment race after validation.
type FinalizeResult struct {
	GroupID      string                `json:"groupId"`
	GroupName    string                `json:"groupName"`
	DepartmentID string                `json:"departmentId"`
	Supervisor   *ParticipantOutcome   `json:"supervisor,omitempty"`
	Trainees     []ParticipantOutcome  `json:"trainees"`
	Rejected     []Rejection           `json:"rejected"`
	MemberCount  int                   `json:"memberCount"`
	Notified     []NotificationOutcome `json:"notified"`
}

// FinalizeGroup validates every participant, provisions their accounts,
// creates the group and assigns the memberships. Validation of all
// participants completes before the first write.
func (e *Engine) FinalizeGroup(ctx context.Context, req FinalizeGroupRequest) (*FinalizeResult, error) {
	req.Normalize()
	if err := e.validateStruct(&req); err != nil {
		return nil, err
	}
	if dup, ok := firstDuplicate(req.TraineeIDs); ok {
		return nil, duplicateSelection(dup, "")
	}
	for _, id := range req.TraineeIDs {
		if id == req.SupervisorID {
			return nil, newMembershipError(ErrRoleConflict, id, "",
				"Supervisor cannot be assigned as trainee in the same group")
		}
	}

	admin, err := e.store.GetAccount(ctx, RoleAdmin, req.AdminAccountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, newMembershipError(ErrNotFound, req.AdminAccountID, "", "Admin account %s not found", req.AdminAccountID)
		}
		return nil, fmt.Errorf("failed to fetch admin account: %w", err)
	}
	admin.Role = RoleAdmin

	dept, err := e.resolveDepartment(ctx, e.companyOfAccount(ctx, admin), req.DepartmentName)
	if err != nil {
		return nil, err
	}

	// Resolve everybody first so duplicates expressed through different ids
	// (person id vs account id) are caught too.
	sup, err := e.resolve(ctx, req.SupervisorID, RoleSupervisor)
	if err != nil {
		return nil, err
	}
	seen := map[string]Role{sup.Person.ID: RoleSupervisor}
	trainees := make([]*participant, 0, len(req.TraineeIDs))
	for _, id := range req.TraineeIDs {
		p, err := e.resolve(ctx, id, RoleTrainee)
		if err != nil {
			return nil, err
		}
		switch seen[p.Person.ID] {
		case RoleSupervisor:
			return nil, newMembershipError(ErrRoleConflict, id, p.Person.FullName(),
				"Employee %s cannot be both supervisor and trainee of the same group", p.Person.FullName())
		case RoleTrainee:
			return nil, duplicateSelection(id, p.Person.FullName())
		}
		seen[p.Person.ID] = RoleTrainee
		trainees = append(trainees, p)
	}

	supAssessment, err := e.assess(ctx, sup.Person, RoleSupervisor, "")
	if err != nil {
		return nil, err
	}
	if err := supAssessment.Err(); err != nil {
		return nil, err
	}
	for _, t := range trainees {
		a, err := e.assess(ctx, t.Person, RoleTrainee, "")
		if err != nil {
			return nil, err
		}
		if err := a.Err(); err != nil {
			return nil, err
		}
	}

	// Every account created from here on is announced exactly once, even
	// when a later step fails or the account loses its assignment race.
	var creds []Notification
	provision := func(p *participant, role Role) (*Provisioned, error) {
		prov, err := e.provisionPerson(ctx, p.Person, role)
		if err == nil && prov.Created {
			creds = append(creds, credentialNotification(prov, p.Person, req.Name, dept.Name))
		}
		return prov, err
	}
	fail := func(result *FinalizeResult, err error) (*FinalizeResult, error) {
		notified := e.dispatchAll(ctx, creds)
		if result != nil {
			result.Notified = notified
		}
		return result, err
	}

	supProv, err := provision(sup, RoleSupervisor)
	if err != nil {
		return fail(nil, err)
	}
	traineeProvs := make([]*Provisioned, len(trainees))
	for i, t := range trainees {
		if traineeProvs[i], err = provision(t, RoleTrainee); err != nil {
			return fail(nil, err)
		}
	}

	group := &Group{
		Name:           req.Name,
		DepartmentID:   dept.ID,
		AdminAccountID: admin.ID,
	}
	if err := e.store.CreateGroup(ctx, group); err != nil {
		return fail(nil, fmt.Errorf("failed to create group: %w", err))
	}

	result := &FinalizeResult{
		GroupID:      group.ID,
		GroupName:    group.Name,
		DepartmentID: dept.ID,
		Trainees:     []ParticipantOutcome{},
		Rejected:     []Rejection{},
	}

	ok, err := e.store.SetAccountGroup(ctx, RoleSupervisor, supProv.Account.ID, "", group.ID)
	if err != nil {
		return fail(result, fmt.Errorf("failed to assign supervisor: %w", err))
	}
	if ok {
		if err := e.store.SetGroupSupervisor(ctx, group.ID, supProv.Account.ID); err != nil {
			return fail(result, fmt.Errorf("failed to set group supervisor: %w", err))
		}
		out := outcomeOf(sup, supProv)
		result.Supervisor = &out
	} else {
		result.Rejected = append(result.Rejected, rejectionFor(sup.RequestedID, newMembershipError(ErrAlreadyInGroup,
			sup.Person.ID, sup.Person.FullName(), "Supervisor %s was assigned to another group concurrently", sup.Person.FullName())))
	}

	for i, t := range trainees {
		prov := traineeProvs[i]
		ok, err := e.store.SetAccountGroup(ctx, RoleTrainee, prov.Account.ID, "", group.ID)
		if err != nil {
			return fail(result, fmt.Errorf("failed to assign trainee: %w", err))
		}
		if !ok {
			result.Rejected = append(result.Rejected, rejectionFor(t.RequestedID, newMembershipError(ErrAlreadyInGroup,
				t.Person.ID, t.Person.FullName(), "Trainee %s was assigned to another group concurrently", t.Person.FullName())))
			continue
		}
		result.Trainees = append(result.Trainees, outcomeOf(t, prov))
	}

	if result.MemberCount, err = e.refreshGroupCount(ctx, group.ID); err != nil {
		return fail(result, err)
	}
	e.refreshDepartmentCounts(ctx, dept.ID)
	e.invalidate(ctx, []string{group.ID}, []string{dept.ID})

	traineeEmails := make([]string, 0, len(result.Trainees))
	for _, t := range result.Trainees {
		traineeEmails = append(traineeEmails, t.LoginEmail)
	}
	supervisorEmail := ""
	if result.Supervisor != nil {
		supervisorEmail = result.Supervisor.LoginEmail
	}
	batch := append(creds, Notification{
		Recipient: admin.LoginEmail,
		Kind:      KindGroupCreated,
		Payload: map[string]string{
			"group":      group.Name,
			"department": dept.Name,
			"supervisor": supervisorEmail,
			"trainees":   strings.Join(traineeEmails, ", "),
		},
	})
	result.Notified = e.dispatchAll(ctx, batch)

	e.log.Info("group finalized",
		zap.String("group_id", group.ID),
		zap.String("department_id", dept.ID),
		zap.Int("trainees", len(result.Trainees)),
		zap.Int("rejected", len(result.Rejected)))
	e.logAudit(ctx, "finalize_group", "group", group.ID, "Created group: "+group.Name)
	return result, nil
}

// AddTraineesResult enumerates the outcome of every requested id.
type AddTraineesResult struct {
	GroupID        string                `json:"groupId"`
	Added          []ParticipantOutcome  `json:"added"`
	AlreadyInGroup []ParticipantOutcome  `json:"alreadyInGroup"`
	Rejected       []Rejection           `json:"rejected"`
	Created        []string              `json:"created"`
	MemberCount    int                   `json:"memberCount"`
	Notified       []NotificationOutcome `json:"notified"`
}

// PartialFailure reports whether any requested id was rejected.
func (r *AddTraineesResult) PartialFailure() bool { return len(r.Rejected) > 0 }

// AddTrainees adds each id independently; one bad id never fails the call.
func (e *Engine) AddTrainees(ctx context.Context, groupID string, ids []string) (*AddTraineesResult, error) {
	group, err := e.getGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	result := &AddTraineesResult{
		GroupID:        group.ID,
		Added:          []ParticipantOutcome{},
		AlreadyInGroup: []ParticipantOutcome{},
		Rejected:       []Rejection{},
		Created:        []string{},
	}

	type pending struct {
		p *participant
	}
	var queue []pending
	seenIDs := map[string]struct{}{}
	seenPersons := map[string]struct{}{}

	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		if id == "" {
			result.Rejected = append(result.Rejected, rejectionFor(raw, fmt.Errorf("%w: empty id", ErrInvalidInput)))
			continue
		}
		if _, dup := seenIDs[id]; dup {
			result.Rejected = append(result.Rejected, rejectionFor(id, duplicateSelection(id, "")))
			continue
		}
		seenIDs[id] = struct{}{}

		p, err := e.resolve(ctx, id, RoleTrainee)
		if err != nil {
			if !isRuleError(err) {
				return nil, err
			}
			result.Rejected = append(result.Rejected, rejectionFor(id, err))
			continue
		}
		if _, dup := seenPersons[p.Person.ID]; dup {
			result.Rejected = append(result.Rejected, rejectionFor(id, duplicateSelection(id, p.Person.FullName())))
			continue
		}
		seenPersons[p.Person.ID] = struct{}{}

		a, err := e.assess(ctx, p.Person, RoleTrainee, group.ID)
		if err != nil {
			return nil, err
		}
		switch a.Verdict {
		case VerdictAlreadyAssignedHere:
			result.AlreadyInGroup = append(result.AlreadyInGroup, outcomeOf(p, &Provisioned{Account: a.Account}))
		case VerdictOK:
			queue = append(queue, pending{p: p})
		default:
			result.Rejected = append(result.Rejected, rejectionFor(id, a.Err()))
		}
	}

	var batch []Notification
	deptName := ""
	if len(queue) > 0 {
		deptName = e.departmentName(ctx, group.DepartmentID)
	}
	for _, q := range queue {
		prov, err := e.provisionPerson(ctx, q.p.Person, RoleTrainee)
		if err != nil {
			result.Rejected = append(result.Rejected, rejectionFor(q.p.RequestedID, err))
			continue
		}
		if prov.Created {
			result.Created = append(result.Created, prov.Account.ID)
			batch = append(batch, credentialNotification(prov, q.p.Person, group.Name, deptName))
		}

		ok, err := e.store.SetAccountGroup(ctx, RoleTrainee, prov.Account.ID, "", group.ID)
		if err != nil {
			result.Rejected = append(result.Rejected, rejectionFor(q.p.RequestedID, fmt.Errorf("failed to assign trainee: %w", err)))
			continue
		}
		if !ok {
			// Someone else wrote the field since validation; report the state we find now.
			current, err := e.store.GetAccount(ctx, RoleTrainee, prov.Account.ID)
			if err == nil && current.AssignedGroup() == group.ID {
				result.AlreadyInGroup = append(result.AlreadyInGroup, outcomeOf(q.p, prov))
			} else {
				result.Rejected = append(result.Rejected, rejectionFor(q.p.RequestedID, newMembershipError(ErrAlreadyInGroup,
					q.p.Person.ID, q.p.Person.FullName(), "Trainee %s is already assigned to another group", q.p.Person.FullName())))
			}
			continue
		}

		result.Added = append(result.Added, outcomeOf(q.p, prov))
	}

	result.Notified = e.dispatchAll(ctx, batch)
	if result.MemberCount, err = e.refreshGroupCount(ctx, group.ID); err != nil {
		return result, err
	}
	if len(result.Added) > 0 {
		e.invalidate(ctx, []string{group.ID}, nil)
		e.logAudit(ctx, "add_trainees", "group", group.ID, fmt.Sprintf("Added %d trainee(s)", len(result.Added)))
	}

	e.log.Info("trainees added",
		zap.String("group_id", group.ID),
		zap.Int("added", len(result.Added)),
		zap.Int("already_in_group", len(result.AlreadyInGroup)),
		zap.Int("rejected", len(result.Rejected)))
	return result, nil
}

// SupervisorResult is returned by AssignSupervisor and RemoveSupervisor.
type SupervisorResult struct {
	GroupID           string                `json:"groupId"`
	Supervisor        *ParticipantOutcome   `json:"supervisor,omitempty"`
	PreviousAccountID string                `json:"previousAccountId,omitempty"`
	NoOp              bool                  `json:"noOp"`
	MemberCount       int                   `json:"memberCount"`
	Notified          []NotificationOutcome `json:"notified"`
}

// AssignSupervisor makes the person (or supervisor account) id the group's
// supervisor. The previous supervisor is unassigned only once the new one
// holds the group.
func (e *Engine) AssignSupervisor(ctx context.Context, groupID, id string) (*SupervisorResult, error) {
	group, err := e.getGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	p, err := e.resolve(ctx, strings.TrimSpace(id), RoleSupervisor)
	if err != nil {
		return nil, err
	}
	a, err := e.assess(ctx, p.Person, RoleSupervisor, group.ID)
	if err != nil {
		return nil, err
	}
	if err := a.Err(); err != nil {
		return nil, err
	}

	previous := deref(group.SupervisorAccountID)
	if a.Verdict == VerdictAlreadyAssignedHere && previous == a.Account.ID {
		out := outcomeOf(p, &Provisioned{Account: a.Account})
		return &SupervisorResult{GroupID: group.ID, Supervisor: &out, NoOp: true, MemberCount: group.MemberCount, Notified: []NotificationOutcome{}}, nil
	}

	prov, err := e.provisionPerson(ctx, p.Person, RoleSupervisor)
	if err != nil {
		return nil, err
	}
	result := &SupervisorResult{GroupID: group.ID, Notified: []NotificationOutcome{}}
	var creds []Notification
	if prov.Created {
		creds = append(creds, credentialNotification(prov, p.Person, group.Name, e.departmentName(ctx, group.DepartmentID)))
	}
	fail := func(err error) (*SupervisorResult, error) {
		e.dispatchAll(ctx, creds)
		return nil, err
	}

	swapped := false
	if a.Verdict != VerdictAlreadyAssignedHere {
		ok, err := e.store.SetAccountGroup(ctx, RoleSupervisor, prov.Account.ID, "", group.ID)
		if err != nil {
			return fail(fmt.Errorf("failed to assign supervisor: %w", err))
		}
		if !ok {
			current, err := e.store.GetAccount(ctx, RoleSupervisor, prov.Account.ID)
			if err != nil || current.AssignedGroup() != group.ID {
				return fail(newMembershipError(ErrAlreadyInGroup, p.Person.ID, p.Person.FullName(),
					"Supervisor %s is already assigned to another group", p.Person.FullName()))
			}
		}
		swapped = ok
	}
	if err := e.store.SetGroupSupervisor(ctx, group.ID, prov.Account.ID); err != nil {
		if swapped {
			if _, rerr := e.store.SetAccountGroup(ctx, RoleSupervisor, prov.Account.ID, group.ID, ""); rerr != nil {
				e.log.Warn("failed to release supervisor after error",
					zap.String("group_id", group.ID), zap.String("account_id", prov.Account.ID), zap.Error(rerr))
			}
		}
		return fail(fmt.Errorf("failed to set group supervisor: %w", err))
	}

	if previous != "" && previous != prov.Account.ID {
		if _, err := e.store.SetAccountGroup(ctx, RoleSupervisor, previous, group.ID, ""); err != nil {
			return fail(fmt.Errorf("failed to unassign previous supervisor: %w", err))
		}
		result.PreviousAccountID = previous
	}

	out := outcomeOf(p, prov)
	result.Supervisor = &out
	if result.MemberCount, err = e.refreshGroupCount(ctx, group.ID); err != nil {
		result.Notified = e.dispatchAll(ctx, creds)
		return result, err
	}
	e.invalidate(ctx, []string{group.ID}, nil)
	result.Notified = e.dispatchAll(ctx, creds)

	e.log.Info("supervisor assigned", zap.String("group_id", group.ID), zap.String("account_id", prov.Account.ID))
	e.logAudit(ctx, "assign_supervisor", "group", group.ID, "Assigned supervisor "+prov.Account.LoginEmail)
	return result, nil
}

// RemoveSupervisor unassigns the group's supervisor and recomputes the
// member count from the live trainee count.
func (e *Engine) RemoveSupervisor(ctx context.Context, groupID string) (*SupervisorResult, error) {
	group, err := e.getGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	previous := deref(group.SupervisorAccountID)
	result := &SupervisorResult{GroupID: group.ID, PreviousAccountID: previous, NoOp: previous == "", Notified: []NotificationOutcome{}}
	if previous != "" {
		if err := e.store.SetGroupSupervisor(ctx, group.ID, ""); err != nil {
			return nil, fmt.Errorf("failed to clear group supervisor: %w", err)
		}
		if _, err := e.store.SetAccountGroup(ctx, RoleSupervisor, previous, group.ID, ""); err != nil {
			return nil, fmt.Errorf("failed to unassign supervisor: %w", err)
		}
	}

	if result.MemberCount, err = e.refreshGroupCount(ctx, group.ID); err != nil {
		return result, err
	}
	if previous != "" {
		e.invalidate(ctx, []string{group.ID}, nil)
		e.log.Info("supervisor removed", zap.String("group_id", group.ID), zap.String("account_id", previous))
		e.logAudit(ctx, "remove_supervisor", "group", group.ID, "Removed supervisor "+previous)
	}
	return result, nil
}

// RemoveTrainee unassigns a trainee account, but only while it still points
// at groupID. It returns the group's recomputed member count.
func (e *Engine) RemoveTrainee(ctx context.Context, groupID, traineeAccountID string) (int, error) {
	account, err := e.store.GetAccount(ctx, RoleTrainee, traineeAccountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, newMembershipError(ErrNotFound, traineeAccountID, "", "Trainee %s not found", traineeAccountID)
		}
		return 0, fmt.Errorf("failed to fetch trainee: %w", err)
	}
	notInGroup := newMembershipError(ErrNotInGroup, traineeAccountID, account.LoginEmail,
		"Trainee %s not found in this group", account.LoginEmail)
	if account.AssignedGroup() != groupID {
		return 0, notInGroup
	}

	ok, err := e.store.SetAccountGroup(ctx, RoleTrainee, traineeAccountID, groupID, "")
	if err != nil {
		return 0, fmt.Errorf("failed to unassign trainee: %w", err)
	}
	if !ok {
		return 0, notInGroup
	}

	count, err := e.refreshGroupCount(ctx, groupID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return 0, err
	}
	e.invalidate(ctx, []string{groupID}, nil)
	e.log.Info("trainee removed", zap.String("group_id", groupID), zap.String("account_id", traineeAccountID))
	e.logAudit(ctx, "remove_trainee", "group", groupID, "Removed trainee "+account.LoginEmail)
	return count, nil
}

// RenameGroup renames a group.
func (e *Engine) RenameGroup(ctx context.Context, groupID, name string) (*Group, error) {
	name = strings.TrimSpace(name)
	if groupID == "" || name == "" {
		return nil, ErrInvalidInput
	}
	if err := e.store.RenameGroup(ctx, groupID, name); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, newMembershipError(ErrNotFound, groupID, "", "Group %s not found", groupID)
		}
		return nil, fmt.Errorf("failed to rename group: %w", err)
	}
	e.invalidate(ctx, []string{groupID}, nil)
	e.logAudit(ctx, "rename_group", "group", groupID, "Renamed group to: "+name)
	return e.getGroup(ctx, groupID)
}

// RosterMember is one person on a group roster.
type RosterMember struct {
	AccountID      string `json:"accountId"`
	PersonID       string `json:"personId"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	EmployeeNumber string `json:"employeeNumber,omitempty"`
}

// Roster is the read model of a group with its members.
type Roster struct {
	Group          Group          `json:"group"`
	DepartmentName string         `json:"departmentName"`
	Supervisor     *RosterMember  `json:"supervisor,omitempty"`
	Trainees       []RosterMember `json:"trainees"`
	MemberCount    int            `json:"memberCount"`
}

// GroupRoster returns the group with its supervisor and trainees.
func (e *Engine) GroupRoster(ctx context.Context, groupID string) (*Roster, error) {
	if cached := e.cachedRoster(ctx, groupID); cached != nil {
		return cached, nil
	}

	group, err := e.getGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	r := &Roster{Group: *group, Trainees: []RosterMember{}}
	r.DepartmentName = e.departmentName(ctx, group.DepartmentID)

	trainees, err := e.store.ListAccountsByGroup(ctx, RoleTrainee, group.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list trainees: %w", err)
	}
	var sup *RoleAccount
	if id := deref(group.SupervisorAccountID); id != "" {
		if sup, err = e.store.GetAccount(ctx, RoleSupervisor, id); err != nil && !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("failed to fetch supervisor: %w", err)
		}
	}

	personIDs := make([]string, 0, len(trainees)+1)
	for _, t := range trainees {
		personIDs = append(personIDs, t.PersonID)
	}
	if sup != nil {
		personIDs = append(personIDs, sup.PersonID)
	}
	persons, err := e.store.ListPersonsByIDs(ctx, personIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list persons: %w", err)
	}
	byID := make(map[string]*Person, len(persons))
	for i := range persons {
		byID[persons[i].ID] = &persons[i]
	}

	member := func(a *RoleAccount) RosterMember {
		m := RosterMember{AccountID: a.ID, PersonID: a.PersonID, Email: a.LoginEmail}
		if p, ok := byID[a.PersonID]; ok {
			m.Name = p.FullName()
			m.Email = p.Email
			m.EmployeeNumber = p.EmployeeNumber
		}
		return m
	}
	for i := range trainees {
		r.Trainees = append(r.Trainees, member(&trainees[i]))
	}
	if sup != nil {
		m := member(sup)
		r.Supervisor = &m
	}
	r.MemberCount = len(r.Trainees)
	if r.Supervisor != nil {
		r.MemberCount++
	}

	e.storeRoster(ctx, r)
	return r, nil
}

// GroupSummary is one row of a department's group listing.
type GroupSummary struct {
	ID             string    `json:"id"`
	Name           string    `json:"groupName"`
	MemberCount    int       `json:"numOfMembers"`
	SupervisorName string    `json:"supervisorName"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ListGroups lists a department's groups, newest first, with the
// supervisor's name and the stored member count.
func (e *Engine) ListGroups(ctx context.Context, departmentID string) ([]GroupSummary, error) {
	dept, err := e.getDepartment(ctx, departmentID)
	if err != nil {
		return nil, err
	}
	groups, err := e.store.ListGroupsByDepartment(ctx, dept.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].CreatedAt.After(groups[j].CreatedAt) })

	out := make([]GroupSummary, 0, len(groups))
	for _, g := range groups {
		row := GroupSummary{ID: g.ID, Name: g.Name, MemberCount: g.MemberCount, CreatedAt: g.CreatedAt}
		if id := deref(g.SupervisorAccountID); id != "" {
			sup, err := e.store.GetAccount(ctx, RoleSupervisor, id)
			switch {
			case err == nil:
				if p, err := e.store.GetPerson(ctx, sup.PersonID); err == nil {
					row.SupervisorName = p.FullName()
				}
			case !errors.Is(err, ErrNotFound):
				return nil, fmt.Errorf("failed to fetch supervisor: %w", err)
			}
		}
		out = append(out, row)
	}
	return out, nil
}

func (e *Engine) getGroup(ctx context.Context, groupID string) (*Group, error) {
	if groupID == "" {
		return nil, ErrInvalidInput
	}
	g, err := e.store.GetGroup(ctx, groupID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, newMembershipError(ErrNotFound, groupID, "", "Group %s not found", groupID)
		}
		return nil, fmt.Errorf("failed to fetch group: %w", err)
	}
	return g, nil
}

// refreshGroupCount recomputes memberCount from the live trainee count plus
// the supervisor, and stores it.
func (e *Engine) refreshGroupCount(ctx context.Context, groupID string) (int, error) {
	g, err := e.store.GetGroup(ctx, groupID)
	if err != nil {
		return 0, fmt.Errorf("failed to re-read group: %w", err)
	}
	trainees, err := e.store.CountAccountsByGroup(ctx, RoleTrainee, groupID)
	if err != nil {
		return 0, fmt.Errorf("failed to count trainees: %w", err)
	}
	count := int(trainees)
	if deref(g.SupervisorAccountID) != "" {
		count++
	}
	if count != g.MemberCount {
		if err := e.store.SetGroupMemberCount(ctx, groupID, count); err != nil {
			return 0, fmt.Errorf("failed to store member count: %w", err)
		}
	}
	return count, nil
}

// departmentName returns the department's name, or "" when it cannot be
// read. Read failures other than a missing department are logged.
func (e *Engine) departmentName(ctx context.Context, id string) string {
	dept, err := e.store.GetDepartment(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			e.log.Warn("failed to fetch department", zap.String("department_id", id), zap.Error(err))
		}
		return ""
	}
	return dept.Name
}

// companyOfAccount returns the company of the account's person, or "".
func (e *Engine) companyOfAccount(ctx context.Context, a *RoleAccount) string {
	p, err := e.store.GetPerson(ctx, a.PersonID)
	if err != nil {
		return ""
	}
	return deref(p.CompanyID)
}

// resolveDepartment finds a department by case-insensitive name, scoped to
// companyID when it is known.
func (e *Engine) resolveDepartment(ctx context.Context, companyID, name string) (*Department, error) {
	depts, err := e.store.FindDepartmentsByName(ctx, companyID, name)
	if err != nil {
		return nil, fmt.Errorf("failed to find department: %w", err)
	}
	switch len(depts) {
	case 0:
		return nil, newMembershipError(ErrNotFound, "", name, "Department %s not found", name)
	case 1:
		return &depts[0], nil
	}
	return nil, newMembershipError(ErrInvalidInput, "", name,
		"Department name %s matches %d departments; the admin must belong to a company", name, len(depts))
}

// isRuleError reports whether err is a rejection produced by a membership
// rule rather than a store failure.
func isRuleError(err error) bool {
	var me *MembershipError
	return errors.As(err, &me)
}
