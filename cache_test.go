package membership

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCachedFixture(t *testing.T) (*fixture, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture(t, func(c *Config) {
		c.RedisClient = client
		c.CachePrefix = "test:"
	})
	return f, mr
}

func TestRosterCache(t *testing.T) {
	f, mr := newCachedFixture(t)
	res := f.finalize("Alpha", f.person("sam"), f.person("yan"))
	key := "test:group:" + res.GroupID + ":roster"

	roster, err := f.engine.GroupRoster(f.ctx, res.GroupID)
	require.NoError(t, err)
	require.Len(t, roster.Trainees, 1)
	assert.True(t, mr.Exists(key))

	cached, err := f.engine.GroupRoster(f.ctx, res.GroupID)
	require.NoError(t, err)
	assert.Equal(t, roster.Group.ID, cached.Group.ID)
	assert.Equal(t, roster.MemberCount, cached.MemberCount)

	_, err = f.engine.AddTrainees(f.ctx, res.GroupID, []string{f.person("zoe").ID})
	require.NoError(t, err)
	assert.False(t, mr.Exists(key), "membership change drops the roster")

	roster, err = f.engine.GroupRoster(f.ctx, res.GroupID)
	require.NoError(t, err)
	assert.Len(t, roster.Trainees, 2)
	assert.Equal(t, 3, roster.MemberCount)
}

func TestRenameDepartmentDropsRosters(t *testing.T) {
	f, mr := newCachedFixture(t)
	res := f.finalize("Alpha", f.person("sam"))
	key := "test:group:" + res.GroupID + ":roster"

	roster, err := f.engine.GroupRoster(f.ctx, res.GroupID)
	require.NoError(t, err)
	assert.Equal(t, "Engineering", roster.DepartmentName)
	require.True(t, mr.Exists(key))

	_, err = f.engine.RenameDepartment(f.ctx, f.dept.ID, "Platform")
	require.NoError(t, err)
	assert.False(t, mr.Exists(key))

	roster, err = f.engine.GroupRoster(f.ctx, res.GroupID)
	require.NoError(t, err)
	assert.Equal(t, "Platform", roster.DepartmentName)
}

func TestMemberCountCache(t *testing.T) {
	f, mr := newCachedFixture(t)
	f.person("sam")
	key := "test:dept:" + f.dept.ID + ":members"

	dept, err := f.engine.GetDepartment(f.ctx, f.dept.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, dept.MemberCount)
	v, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	f.person("yan")
	assert.False(t, mr.Exists(key), "a new department member drops the count")

	dept, err = f.engine.GetDepartment(f.ctx, f.dept.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, dept.MemberCount)
}

func TestClearAllCache(t *testing.T) {
	f, mr := newCachedFixture(t)
	res := f.finalize("Alpha", f.person("sam"))
	_, err := f.engine.GroupRoster(f.ctx, res.GroupID)
	require.NoError(t, err)
	_, err = f.engine.GetDepartment(f.ctx, f.dept.ID)
	require.NoError(t, err)
	require.NoError(t, mr.Set("unrelated", "keep"))

	require.NoError(t, f.engine.ClearAllCache(f.ctx))
	assert.Equal(t, []string{"unrelated"}, mr.Keys())
}

func TestCacheDisabled(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.engine.ClearAllCache(f.ctx))
	assert.Nil(t, f.engine.cachedRoster(f.ctx, "g"))
}

func TestCacheUnavailableFallsBackToStore(t *testing.T) {
	f, mr := newCachedFixture(t)
	res := f.finalize("Alpha", f.person("sam"))
	mr.Close()

	roster, err := f.engine.GroupRoster(f.ctx, res.GroupID)
	require.NoError(t, err)
	assert.Equal(t, 1, roster.MemberCount)
}
