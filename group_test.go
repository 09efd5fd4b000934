package membership

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestFinalizeGroup(t *testing.T) {
	f := newFixture(t)
	sup, y, z := f.person("sam"), f.person("yan"), f.person("zoe")

	res := f.finalize("Alpha", sup, y, z)

	assert.NotEmpty(t, res.GroupID)
	assert.Equal(t, f.dept.ID, res.DepartmentID)
	assert.Equal(t, 3, res.MemberCount)
	assert.Empty(t, res.Rejected)
	require.NotNil(t, res.Supervisor)
	assert.True(t, res.Supervisor.Created)
	require.Len(t, res.Trainees, 2)
	for _, tr := range res.Trainees {
		assert.True(t, tr.Created)
	}

	g := f.group(res.GroupID)
	assert.Equal(t, 3, g.MemberCount)
	assert.Equal(t, res.Supervisor.AccountID, deref(g.SupervisorAccountID))
	assert.Equal(t, f.admin.ID, g.AdminAccountID)
	assert.Equal(t, res.GroupID, f.account(RoleTrainee, y).AssignedGroup())
	assert.Equal(t, res.GroupID, f.account(RoleSupervisor, sup).AssignedGroup())

	// One credential per new account, one group event to the admin.
	assert.Len(t, res.Notified, 4)
	events := f.sent.byKind(KindGroupCreated)
	require.Len(t, events, 1)
	assert.Equal(t, f.admin.LoginEmail, events[0].Recipient)

	dept, err := f.store.GetDepartment(f.ctx, f.dept.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, dept.GroupCount)
}

func TestFinalizeGroup_AcceptsAccountIDsAndReusesAccounts(t *testing.T) {
	f := newFixture(t)
	sup, y := f.person("sam"), f.person("yan")
	prov, err := f.engine.Provision(f.ctx, y.ID, RoleTrainee)
	require.NoError(t, err)

	res, err := f.engine.FinalizeGroup(f.ctx, FinalizeGroupRequest{
		Name: "Alpha", DepartmentName: "ENGINEERING", AdminAccountID: f.admin.ID,
		SupervisorID: sup.ID, TraineeIDs: []string{prov.Account.ID},
	})
	require.NoError(t, err)
	require.Len(t, res.Trainees, 1)
	assert.False(t, res.Trainees[0].Created)
	assert.Equal(t, prov.Account.ID, res.Trainees[0].AccountID)
	assert.Equal(t, 1, f.count(RoleTrainee))
}

func TestFinalizeGroup_DuplicateSelectionCreatesNothing(t *testing.T) {
	f := newFixture(t)
	sup, y := f.person("sam"), f.person("yan")

	_, err := f.engine.FinalizeGroup(f.ctx, FinalizeGroupRequest{
		Name: "Alpha", DepartmentName: "Engineering", AdminAccountID: f.admin.ID,
		SupervisorID: sup.ID, TraineeIDs: []string{y.ID, y.ID},
	})
	require.ErrorIs(t, err, ErrDuplicateSelection)

	groups, _ := f.store.ListGroupsByDepartment(f.ctx, f.dept.ID)
	assert.Empty(t, groups)
	assert.Zero(t, f.count(RoleTrainee))
	assert.Zero(t, f.count(RoleSupervisor))
}

func TestFinalizeGroup_DuplicateThroughAccountAndPersonID(t *testing.T) {
	f := newFixture(t)
	sup, y := f.person("sam"), f.person("yan")
	prov, err := f.engine.Provision(f.ctx, y.ID, RoleTrainee)
	require.NoError(t, err)

	_, err = f.engine.FinalizeGroup(f.ctx, FinalizeGroupRequest{
		Name: "Alpha", DepartmentName: "Engineering", AdminAccountID: f.admin.ID,
		SupervisorID: sup.ID, TraineeIDs: []string{y.ID, prov.Account.ID},
	})
	require.ErrorIs(t, err, ErrDuplicateSelection)
	assert.Contains(t, err.Error(), "yan Doe")
}

func TestFinalizeGroup_SupervisorListedAsTrainee(t *testing.T) {
	f := newFixture(t)
	sup := f.person("sam")

	_, err := f.engine.FinalizeGroup(f.ctx, FinalizeGroupRequest{
		Name: "Alpha", DepartmentName: "Engineering", AdminAccountID: f.admin.ID,
		SupervisorID: sup.ID, TraineeIDs: []string{sup.ID},
	})
	require.ErrorIs(t, err, ErrRoleConflict)
}

func TestFinalizeGroup_RoleConflictNamesThePerson(t *testing.T) {
	f := newFixture(t)
	tia, y := f.person("Tia"), f.person("yan")
	_, err := f.engine.Provision(f.ctx, tia.ID, RoleTrainee)
	require.NoError(t, err)

	_, err = f.engine.FinalizeGroup(f.ctx, FinalizeGroupRequest{
		Name: "Alpha", DepartmentName: "Engineering", AdminAccountID: f.admin.ID,
		SupervisorID: tia.ID, TraineeIDs: []string{y.ID},
	})
	require.ErrorIs(t, err, ErrRoleConflict)
	assert.EqualError(t, err, "Employee Tia Doe is already a trainee and cannot be assigned as supervisor")
	assert.Zero(t, f.count(RoleSupervisor))
}

func TestFinalizeGroup_TraineeInAnotherGroupFailsFast(t *testing.T) {
	f := newFixture(t)
	first := f.finalize("Alpha", f.person("sam"), f.person("yan"))
	yan := f.account(RoleTrainee, &Person{ID: first.Trainees[0].PersonID})

	_, err := f.engine.FinalizeGroup(f.ctx, FinalizeGroupRequest{
		Name: "Beta", DepartmentName: "Engineering", AdminAccountID: f.admin.ID,
		SupervisorID: f.person("sue").ID, TraineeIDs: []string{yan.ID, f.person("zed").ID},
	})
	require.ErrorIs(t, err, ErrAlreadyInGroup)
	assert.Contains(t, err.Error(), "yan Doe")

	groups, _ := f.store.ListGroupsByDepartment(f.ctx, f.dept.ID)
	assert.Len(t, groups, 1)
	assert.Equal(t, 1, f.count(RoleSupervisor), "no account provisioned for the rejected request")
}

func TestFinalizeGroup_ValidationAndLookups(t *testing.T) {
	f := newFixture(t)
	sup := f.person("sam")

	_, err := f.engine.FinalizeGroup(f.ctx, FinalizeGroupRequest{DepartmentName: "Engineering", AdminAccountID: f.admin.ID, SupervisorID: sup.ID})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.engine.FinalizeGroup(f.ctx, FinalizeGroupRequest{Name: "A", DepartmentName: "Sales", AdminAccountID: f.admin.ID, SupervisorID: sup.ID})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "Department Sales not found")

	_, err = f.engine.FinalizeGroup(f.ctx, FinalizeGroupRequest{Name: "A", DepartmentName: "Engineering", AdminAccountID: "nobody", SupervisorID: sup.ID})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.engine.FinalizeGroup(f.ctx, FinalizeGroupRequest{Name: "A", DepartmentName: "Engineering", AdminAccountID: f.admin.ID, SupervisorID: sup.ID, TraineeIDs: []string{"ghost"}})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "Trainee employee not found: ghost")
}

func TestFinalizeGroup_NotificationFailureKeepsMembership(t *testing.T) {
	f := newFixture(t)
	sup, y := f.person("sam"), f.person("yan")
	f.sent.failFor["yan@acme.test"] = true

	res := f.finalize("Alpha", sup, y)

	assert.Equal(t, 2, res.MemberCount)
	var failed []NotificationOutcome
	for _, n := range res.Notified {
		if !n.Success {
			failed = append(failed, n)
		}
	}
	require.Len(t, failed, 1)
	assert.Equal(t, "yan@acme.test", failed[0].Email)
	assert.NotEmpty(t, failed[0].Error)
	assert.Equal(t, res.GroupID, f.account(RoleTrainee, y).AssignedGroup())
	assert.NotEmpty(t, f.logs.FilterMessage("notification failed").All())
}

func TestFinalizeGroup_WithoutDispatcher(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Dispatcher = nil })
	res := f.finalize("Alpha", f.person("sam"))

	require.NotEmpty(t, res.Notified)
	for _, n := range res.Notified {
		assert.False(t, n.Success)
		assert.Equal(t, ErrDispatcherUnavailable.Error(), n.Error)
	}
}

func TestAddTrainees(t *testing.T) {
	f := newFixture(t)
	res := f.finalize("Alpha", f.person("sam"), f.person("yan"))
	other := f.finalize("Beta", f.person("sue"), f.person("ola"))
	ola := other.Trainees[0]
	boss := f.person("kim")
	_, err := f.engine.Provision(f.ctx, boss.ID, RoleSupervisor)
	require.NoError(t, err)
	zed := f.person("zed")

	out, err := f.engine.AddTrainees(f.ctx, res.GroupID, []string{
		zed.ID, res.Trainees[0].AccountID, ola.PersonID, boss.ID, "ghost", zed.ID,
	})
	require.NoError(t, err)

	require.Len(t, out.Added, 1)
	assert.Equal(t, zed.ID, out.Added[0].PersonID)
	require.Len(t, out.AlreadyInGroup, 1)
	assert.Equal(t, res.Trainees[0].AccountID, out.AlreadyInGroup[0].AccountID)
	assert.Len(t, out.Created, 1)

	reasons := map[Reason]int{}
	for _, r := range out.Rejected {
		reasons[r.Reason]++
	}
	assert.Equal(t, map[Reason]int{
		ReasonInAnotherGroup:     1,
		ReasonRoleConflict:       1,
		ReasonNotFound:           1,
		ReasonDuplicateSelection: 1,
	}, reasons)
	assert.True(t, out.PartialFailure())

	assert.Equal(t, 3, out.MemberCount)
	assert.Equal(t, 3, f.group(res.GroupID).MemberCount)
	assert.Equal(t, other.GroupID, f.account(RoleTrainee, &Person{ID: ola.PersonID}).AssignedGroup())
}

func TestAddTrainees_IdempotentReAdd(t *testing.T) {
	f := newFixture(t)
	res := f.finalize("Alpha", f.person("sam"))
	y := f.person("yan")

	for i := 0; i < 2; i++ {
		out, err := f.engine.AddTrainees(f.ctx, res.GroupID, []string{y.ID})
		require.NoError(t, err)
		if i == 0 {
			assert.Len(t, out.Added, 1)
		} else {
			assert.Empty(t, out.Added)
			assert.Len(t, out.AlreadyInGroup, 1)
			assert.Empty(t, out.Created)
		}
		assert.Empty(t, out.Rejected)
		assert.Equal(t, 2, out.MemberCount)
	}
	assert.Equal(t, 1, f.count(RoleTrainee))
}

func TestAddTrainees_UnknownGroup(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.AddTrainees(f.ctx, "missing", []string{f.person("yan").ID})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAssignSupervisor(t *testing.T) {
	f := newFixture(t)
	sam := f.person("sam")
	res := f.finalize("Alpha", sam, f.person("yan"))
	samAccount := res.Supervisor.AccountID

	t.Run("same supervisor is a no-op", func(t *testing.T) {
		out, err := f.engine.AssignSupervisor(f.ctx, res.GroupID, sam.ID)
		require.NoError(t, err)
		assert.True(t, out.NoOp)
	})

	t.Run("replacing unassigns the previous supervisor", func(t *testing.T) {
		sue := f.person("sue")
		out, err := f.engine.AssignSupervisor(f.ctx, res.GroupID, sue.ID)
		require.NoError(t, err)
		assert.Equal(t, samAccount, out.PreviousAccountID)
		require.NotNil(t, out.Supervisor)
		assert.True(t, out.Supervisor.Created)
		assert.Equal(t, 2, out.MemberCount)

		assert.Equal(t, "", f.account(RoleSupervisor, sam).AssignedGroup())
		assert.Equal(t, res.GroupID, f.account(RoleSupervisor, sue).AssignedGroup())
		assert.Equal(t, out.Supervisor.AccountID, deref(f.group(res.GroupID).SupervisorAccountID))
	})

	t.Run("trainee cannot supervise", func(t *testing.T) {
		_, err := f.engine.AssignSupervisor(f.ctx, res.GroupID, res.Trainees[0].PersonID)
		assert.ErrorIs(t, err, ErrRoleConflict)
	})

	t.Run("supervisor of another group is rejected", func(t *testing.T) {
		other := f.finalize("Beta", f.person("ivy"))
		_, err := f.engine.AssignSupervisor(f.ctx, res.GroupID, other.Supervisor.PersonID)
		assert.ErrorIs(t, err, ErrAlreadyInGroup)
	})
}

func TestRemoveSupervisor(t *testing.T) {
	f := newFixture(t)
	sam := f.person("sam")
	res := f.finalize("Alpha", sam, f.person("yan"), f.person("zoe"))

	out, err := f.engine.RemoveSupervisor(f.ctx, res.GroupID)
	require.NoError(t, err)
	assert.Equal(t, res.Supervisor.AccountID, out.PreviousAccountID)
	assert.Equal(t, 2, out.MemberCount)
	assert.Nil(t, f.group(res.GroupID).SupervisorAccountID)
	assert.Equal(t, "", f.account(RoleSupervisor, sam).AssignedGroup())

	again, err := f.engine.RemoveSupervisor(f.ctx, res.GroupID)
	require.NoError(t, err)
	assert.True(t, again.NoOp)
	assert.Equal(t, 2, again.MemberCount)
}

func TestRemoveTrainee(t *testing.T) {
	f := newFixture(t)
	res := f.finalize("Alpha", f.person("sam"), f.person("yan"), f.person("zoe"))
	other := f.finalize("Beta", f.person("sue"))
	yan := res.Trainees[0].AccountID

	_, err := f.engine.RemoveTrainee(f.ctx, other.GroupID, yan)
	assert.ErrorIs(t, err, ErrNotInGroup)
	assert.Equal(t, res.GroupID, f.account(RoleTrainee, &Person{ID: res.Trainees[0].PersonID}).AssignedGroup())

	count, err := f.engine.RemoveTrainee(f.ctx, res.GroupID, yan)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 2, f.group(res.GroupID).MemberCount)

	// Stale second removal.
	_, err = f.engine.RemoveTrainee(f.ctx, res.GroupID, yan)
	assert.ErrorIs(t, err, ErrNotInGroup)

	_, err = f.engine.RemoveTrainee(f.ctx, res.GroupID, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	// Once unassigned, the trainee can join another group.
	out, err := f.engine.AddTrainees(f.ctx, other.GroupID, []string{yan})
	require.NoError(t, err)
	assert.Len(t, out.Added, 1)
}

func TestRenameGroupAndRoster(t *testing.T) {
	f := newFixture(t)
	res := f.finalize("Alpha", f.person("sam"), f.person("zoe"), f.person("yan"))

	g, err := f.engine.RenameGroup(f.ctx, res.GroupID, "  Omega ")
	require.NoError(t, err)
	assert.Equal(t, "Omega", g.Name)

	_, err = f.engine.RenameGroup(f.ctx, "missing", "x")
	assert.ErrorIs(t, err, ErrNotFound)

	r, err := f.engine.GroupRoster(f.ctx, res.GroupID)
	require.NoError(t, err)
	assert.Equal(t, "Omega", r.Group.Name)
	assert.Equal(t, "Engineering", r.DepartmentName)
	require.NotNil(t, r.Supervisor)
	assert.Equal(t, "sam Doe", r.Supervisor.Name)
	require.Len(t, r.Trainees, 2)
	assert.Equal(t, 3, r.MemberCount)
}

func TestRemoveRole(t *testing.T) {
	f := newFixture(t)
	sam := f.person("sam")
	res := f.finalize("Alpha", sam, f.person("yan"))

	out, err := f.engine.RemoveRole(f.ctx, sam.ID, RoleSupervisor)
	require.NoError(t, err)
	assert.Equal(t, res.GroupID, out.UnassignedGroupID)
	assert.Equal(t, int64(1), out.Deleted)

	g := f.group(res.GroupID)
	assert.Nil(t, g.SupervisorAccountID)
	assert.Equal(t, 1, g.MemberCount)
	assert.Zero(t, f.count(RoleSupervisor))

	// The person may now become a trainee.
	_, err = f.engine.Provision(f.ctx, sam.ID, RoleTrainee)
	require.NoError(t, err)

	_, err = f.engine.RemoveRole(f.ctx, sam.ID, RoleSupervisor)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveRole_AdminStillReferenced(t *testing.T) {
	f := newFixture(t)
	res := f.finalize("Alpha", f.person("sam"))
	boss, err := f.engine.GetPerson(f.ctx, f.admin.PersonID)
	require.NoError(t, err)

	_, err = f.engine.RemoveRole(f.ctx, boss.ID, RoleAdmin)
	require.ErrorIs(t, err, ErrRoleConflict)
	assert.Equal(t, ReasonRoleConflict, ReasonOf(err))

	_, err = f.store.GetAccount(f.ctx, RoleAdmin, f.admin.ID)
	assert.NoError(t, err)
	company, err := f.store.GetCompany(f.ctx, f.company.ID)
	require.NoError(t, err)
	assert.Equal(t, f.admin.ID, deref(company.AdminAccountID))
	assert.Equal(t, f.admin.ID, f.group(res.GroupID).AdminAccountID)

	// An admin account nothing points at can go.
	kim := f.person("kim")
	_, err = f.engine.Provision(f.ctx, kim.ID, RoleAdmin)
	require.NoError(t, err)
	out, err := f.engine.RemoveRole(f.ctx, kim.ID, RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.Deleted)
}

func TestListGroups(t *testing.T) {
	f := newFixture(t)
	alpha := f.finalize("Alpha", f.person("sam"), f.person("yan"))
	beta := f.finalize("Beta", f.person("sue"))
	_, err := f.engine.RemoveSupervisor(f.ctx, beta.GroupID)
	require.NoError(t, err)
	// Pin creation order; both groups may share a clock tick.
	f.store.mu.Lock()
	g := f.store.groups[alpha.GroupID]
	g.CreatedAt = g.CreatedAt.Add(-time.Minute)
	f.store.groups[alpha.GroupID] = g
	f.store.mu.Unlock()

	rows, err := f.engine.ListGroups(f.ctx, f.dept.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, beta.GroupID, rows[0].ID, "newest first")
	assert.Empty(t, rows[0].SupervisorName)
	assert.Zero(t, rows[0].MemberCount)
	assert.Equal(t, "Alpha", rows[1].Name)
	assert.Equal(t, "sam Doe", rows[1].SupervisorName)
	assert.Equal(t, 2, rows[1].MemberCount)

	_, err = f.engine.ListGroups(f.ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPersonRoles(t *testing.T) {
	f := newFixture(t)
	sam, yan, kim := f.person("sam"), f.person("yan"), f.person("kim")
	res := f.finalize("Alpha", sam, yan)
	_, err := f.engine.Provision(f.ctx, yan.ID, RoleAdmin)
	require.NoError(t, err)

	tests := []struct {
		name     string
		person   *Person
		userType string
		recordID string
		accounts int
	}{
		{name: "trainee wins over admin", person: yan, userType: "trainee", recordID: res.Trainees[0].AccountID, accounts: 2},
		{name: "supervisor", person: sam, userType: "supervisor", recordID: res.Supervisor.AccountID, accounts: 1},
		{name: "employee", person: kim, userType: UserTypeEmployee, recordID: kim.ID, accounts: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := f.engine.PersonRoles(f.ctx, tt.person.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.userType, out.UserType)
			assert.Equal(t, tt.recordID, out.RecordID)
			assert.Len(t, out.Accounts, tt.accounts)
		})
	}

	_, err = f.engine.PersonRoles(f.ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

// deptFailStore fails GetDepartment while broken is set.
type deptFailStore struct {
	*MemoryStore
	broken bool
}

func (s *deptFailStore) GetDepartment(ctx context.Context, id string) (*Department, error) {
	if s.broken {
		return nil, errors.New("connection reset")
	}
	return s.MemoryStore.GetDepartment(ctx, id)
}

func TestAddTrainees_DepartmentReadFailureIsLogged(t *testing.T) {
	ds := &deptFailStore{}
	f := newFixture(t, func(c *Config) {
		ds.MemoryStore = c.Store.(*MemoryStore)
		c.Store = ds
	})
	res := f.finalize("Alpha", f.person("sam"))
	yan := f.person("yan")
	ds.broken = true

	out, err := f.engine.AddTrainees(f.ctx, res.GroupID, []string{yan.ID})
	require.NoError(t, err)
	require.Len(t, out.Added, 1)

	warns := f.logs.FilterMessage("failed to fetch department").All()
	require.Len(t, warns, 1)
	assert.Equal(t, zapcore.WarnLevel, warns[0].Level)
	creds := f.sent.byKind(KindCredentials)
	last := creds[len(creds)-1]
	assert.Equal(t, "yan@acme.test", last.Recipient)
	assert.Empty(t, last.Payload["department"])
}
