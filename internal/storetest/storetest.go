// Package storetest holds the behavioral contract every membership.Store
// backend must satisfy. Backends call Run from their own tests.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	membership "github.com/bohemiyan/orgmembership"
)

// Run exercises s. Every subtest uses fresh random ids and emails so a
// shared database does not need to be emptied between runs.
func Run(t *testing.T, s membership.Store) {
	t.Run("persons", func(t *testing.T) { persons(t, s) })
	t.Run("companies", func(t *testing.T) { companies(t, s) })
	t.Run("departments", func(t *testing.T) { departments(t, s) })
	t.Run("accounts", func(t *testing.T) { accounts(t, s) })
	t.Run("groups", func(t *testing.T) { groups(t, s) })
	t.Run("audit", func(t *testing.T) { audit(t, s) })
}

func unique(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

func persons(t *testing.T, s membership.Store) {
	ctx := context.Background()
	company := unique("Co")
	p := &membership.Person{FirstName: "Ann", LastName: "A", Email: unique("ann") + "@x.test", CompanyName: company, DepartmentName: "Sales"}
	require.NoError(t, s.CreatePerson(ctx, p))
	require.NotEmpty(t, p.ID)

	dup := &membership.Person{FirstName: "Dup", LastName: "D", Email: p.Email}
	assert.ErrorIs(t, s.CreatePerson(ctx, dup), membership.ErrDuplicateKey)

	_, err := s.GetPerson(ctx, uuid.NewString())
	assert.ErrorIs(t, err, membership.ErrNotFound)

	companyID := uuid.NewString()
	n, err := s.LinkPersonsToCompany(ctx, " "+company+" ", companyID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	departmentID := uuid.NewString()
	n, err = s.LinkPersonsToDepartment(ctx, companyID, "SALES", departmentID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.CountPersonsByDepartment(ctx, departmentID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	found, err := s.ListPersonsByDepartment(ctx, departmentID, "ANN")
	require.NoError(t, err)
	assert.Len(t, found, 1)
	found, err = s.ListPersonsByDepartment(ctx, departmentID, "a%")
	require.NoError(t, err)
	assert.Empty(t, found)

	n, err = s.RenamePersonsDepartment(ctx, departmentID, "Revenue")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	listed, err := s.ListPersonsByCompany(ctx, companyID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "Revenue", listed[0].DepartmentName)
	assert.Equal(t, departmentID, *listed[0].DepartmentID)

	byIDs, err := s.ListPersonsByIDs(ctx, []string{p.ID, uuid.NewString()})
	require.NoError(t, err)
	assert.Len(t, byIDs, 1)

	n, err = s.DeletePersons(ctx, []string{p.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = s.DeletePersons(ctx, []string{p.ID})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func companies(t *testing.T, s membership.Store) {
	ctx := context.Background()
	admin := uuid.NewString()
	at := time.Now().UTC().Truncate(time.Second)
	older := &membership.Company{Name: unique("Old"), RegistrationNumber: "R", AdminAccountID: &admin, CreatedAt: at}
	newer := &membership.Company{Name: unique("New"), RegistrationNumber: "R", CreatedAt: at.Add(time.Second)}
	require.NoError(t, s.CreateCompany(ctx, older))
	require.NoError(t, s.CreateCompany(ctx, newer))

	listed, err := s.ListCompanies(ctx)
	require.NoError(t, err)
	pos := map[string]int{}
	for i, c := range listed {
		pos[c.ID] = i
	}
	require.Contains(t, pos, older.ID)
	require.Contains(t, pos, newer.ID)
	assert.Less(t, pos[newer.ID], pos[older.ID], "newest first")

	require.NoError(t, s.CreateDepartment(ctx, &membership.Department{Name: "Ops", CompanyID: older.ID, AdminAccountID: &admin}))
	require.NoError(t, s.CreateGroup(ctx, &membership.Group{Name: "G", DepartmentID: uuid.NewString(), AdminAccountID: admin}))
	n, err := s.CountAdminReferences(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	n, err = s.CountAdminReferences(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func departments(t *testing.T, s membership.Store) {
	ctx := context.Background()
	c1, c2 := uuid.NewString(), uuid.NewString()

	d := &membership.Department{Name: "Sales", CompanyID: c1}
	require.NoError(t, s.CreateDepartment(ctx, d))
	require.NoError(t, s.CreateDepartment(ctx, &membership.Department{Name: "Sales", CompanyID: c2}))
	assert.ErrorIs(t, s.CreateDepartment(ctx, &membership.Department{Name: "Sales", CompanyID: c1}), membership.ErrDuplicateKey)

	found, err := s.FindDepartmentsByName(ctx, c1, "sales")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, d.ID, found[0].ID)

	require.NoError(t, s.SetDepartmentCounts(ctx, d.ID, 4, 2))
	require.NoError(t, s.RenameDepartment(ctx, d.ID, "Revenue"))
	got, err := s.GetDepartment(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "Revenue", got.Name)
	assert.Equal(t, 4, got.MemberCount)
	assert.Equal(t, 2, got.GroupCount)

	listed, err := s.ListDepartments(ctx, c1)
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	n, err := s.DeleteDepartment(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = s.GetDepartment(ctx, d.ID)
	assert.ErrorIs(t, err, membership.ErrNotFound)
}

func accounts(t *testing.T, s membership.Store) {
	ctx := context.Background()
	personID := uuid.NewString()
	email := unique("yan") + "@x.test"

	a := &membership.RoleAccount{Role: membership.RoleTrainee, LoginEmail: email, PasswordHash: "h", PersonID: personID}
	require.NoError(t, s.CreateAccount(ctx, a))
	require.NotEmpty(t, a.ID)
	assert.ErrorIs(t, s.CreateAccount(ctx, &membership.RoleAccount{
		Role: membership.RoleTrainee, LoginEmail: unique("z") + "@x.test", PasswordHash: "h", PersonID: personID,
	}), membership.ErrDuplicateKey)
	assert.ErrorIs(t, s.CreateAccount(ctx, &membership.RoleAccount{
		Role: membership.RoleTrainee, LoginEmail: email, PasswordHash: "h", PersonID: uuid.NewString(),
	}), membership.ErrDuplicateKey)
	require.NoError(t, s.CreateAccount(ctx, &membership.RoleAccount{
		Role: membership.RoleAdmin, LoginEmail: email, PasswordHash: "h", PersonID: personID,
	}))

	got, err := s.FindAccountByPerson(ctx, membership.RoleTrainee, personID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Empty(t, got.AssignedGroup())

	g1, g2 := uuid.NewString(), uuid.NewString()
	ok, err := s.SetAccountGroup(ctx, membership.RoleTrainee, a.ID, "", g1)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.SetAccountGroup(ctx, membership.RoleTrainee, a.ID, "", g2)
	require.NoError(t, err)
	assert.False(t, ok)

	members, err := s.ListAccountsByGroup(ctx, membership.RoleTrainee, g1)
	require.NoError(t, err)
	require.Len(t, members, 1)
	n, err := s.CountAccountsByGroup(ctx, membership.RoleTrainee, g1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.UnassignAccountsFromGroup(ctx, membership.RoleTrainee, g1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	got, err = s.GetAccount(ctx, membership.RoleTrainee, a.ID)
	require.NoError(t, err)
	assert.Nil(t, got.GroupID)

	n, err = s.DeleteAccountsByPersons(ctx, membership.RoleTrainee, []string{personID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = s.DeleteAccount(ctx, membership.RoleTrainee, a.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func groups(t *testing.T, s membership.Store) {
	ctx := context.Background()
	departmentID := uuid.NewString()
	g := &membership.Group{Name: "Alpha", DepartmentID: departmentID, AdminAccountID: uuid.NewString()}
	require.NoError(t, s.CreateGroup(ctx, g))

	supervisor := uuid.NewString()
	require.NoError(t, s.SetGroupSupervisor(ctx, g.ID, supervisor))
	require.NoError(t, s.SetGroupMemberCount(ctx, g.ID, 3))
	require.NoError(t, s.RenameGroup(ctx, g.ID, "Beta"))

	got, err := s.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "Beta", got.Name)
	assert.Equal(t, 3, got.MemberCount)
	require.NotNil(t, got.SupervisorAccountID)
	assert.Equal(t, supervisor, *got.SupervisorAccountID)

	require.NoError(t, s.SetGroupSupervisor(ctx, g.ID, ""))
	got, err = s.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Nil(t, got.SupervisorAccountID)

	n, err := s.CountGroupsByDepartment(ctx, departmentID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.ErrorIs(t, s.RenameGroup(ctx, uuid.NewString(), "X"), membership.ErrNotFound)

	n, err = s.DeleteGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = s.DeleteGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func audit(t *testing.T, s membership.Store) {
	ctx := context.Background()
	target := uuid.NewString()
	at := time.Now().UTC().Truncate(time.Second)
	for i, action := range []string{"create_group", "add_trainees"} {
		require.NoError(t, s.RecordAudit(ctx, &membership.AuditEntry{
			ActorID: "tester", Action: action, TargetType: "group", TargetID: target,
			CreatedAt: at.Add(time.Duration(i) * time.Second),
		}))
	}

	entries, err := s.ListAudit(ctx, target)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "add_trainees", entries[0].Action)
}
