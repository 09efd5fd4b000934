package membership

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvision(t *testing.T) {
	f := newFixture(t)
	yan := f.person("yan")

	first, err := f.engine.Provision(f.ctx, yan.ID, RoleTrainee)
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.NotEmpty(t, first.Credential)
	assert.Equal(t, "yan@acme.test", first.Account.LoginEmail)
	assert.Equal(t, RoleTrainee, first.Account.Role)
	assert.True(t, VerifyCredential(first.Account.PasswordHash, first.Credential))
	assert.NotEqual(t, first.Credential, first.Account.PasswordHash)

	again, err := f.engine.Provision(f.ctx, yan.ID, RoleTrainee)
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Empty(t, again.Credential)
	assert.Equal(t, first.Account.ID, again.Account.ID)
	assert.Equal(t, 1, f.count(RoleTrainee))
}

func TestProvision_RoleConflict(t *testing.T) {
	f := newFixture(t)
	sam, yan := f.person("sam"), f.person("yan")

	_, err := f.engine.Provision(f.ctx, sam.ID, RoleSupervisor)
	require.NoError(t, err)
	_, err = f.engine.Provision(f.ctx, yan.ID, RoleTrainee)
	require.NoError(t, err)

	_, err = f.engine.Provision(f.ctx, sam.ID, RoleTrainee)
	require.ErrorIs(t, err, ErrRoleConflict)
	assert.Contains(t, err.Error(), "sam Doe")

	_, err = f.engine.Provision(f.ctx, yan.ID, RoleSupervisor)
	require.ErrorIs(t, err, ErrRoleConflict)

	var me *MembershipError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, yan.ID, me.SubjectID)

	// Admin is compatible with either role.
	_, err = f.engine.Provision(f.ctx, yan.ID, RoleAdmin)
	assert.NoError(t, err)
}

func TestProvision_PersonNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Provision(f.ctx, "ghost", RoleTrainee)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.engine.Provision(f.ctx, "", RoleTrainee)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestProvision_ConcurrentCallsCreateOneAccount(t *testing.T) {
	f := newFixture(t)
	yan := f.person("yan")

	const workers = 8
	results := make([]*Provisioned, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.engine.Provision(f.ctx, yan.ID, RoleTrainee)
		}(i)
	}
	wg.Wait()

	created := 0
	for i := range results {
		require.NoError(t, errs[i])
		if results[i].Created {
			created++
		}
		assert.Equal(t, results[0].Account.ID, results[i].Account.ID)
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, f.count(RoleTrainee))
}
