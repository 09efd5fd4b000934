package membership

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"
)

// recorder is a Dispatcher that keeps every notification and fails for the
// recipients listed in failFor.
type recorder struct {
	mu      sync.Mutex
	sent    []Notification
	failFor map[string]bool
}

func (r *recorder) Send(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failFor[n.Recipient] {
		return errors.New("smtp: mailbox unavailable")
	}
	r.sent = append(r.sent, n)
	return nil
}

func (r *recorder) byKind(kind NotificationKind) []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notification
	for _, n := range r.sent {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

type fixture struct {
	t       *testing.T
	ctx     context.Context
	store   *MemoryStore
	engine  *Engine
	sent    *recorder
	logs    *observer.ObservedLogs
	company *Company
	dept    *Department
	admin   *RoleAccount
}

func newFixture(t *testing.T, opts ...func(*Config)) *fixture {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	f := &fixture{
		t:     t,
		ctx:   WithActor(context.Background(), "tester"),
		store: NewMemoryStore(),
		sent:  &recorder{failFor: map[string]bool{}},
		logs:  logs,
	}

	cfg := Config{
		Store:              f.store,
		Dispatcher:         f.sent,
		Logger:             zap.New(core),
		Credentials:        CredentialPolicy{BcryptCost: bcrypt.MinCost},
		EnableAuditLogging: true,
	}
	for _, o := range opts {
		o(&cfg)
	}
	engine, err := New(cfg)
	require.NoError(t, err)
	f.engine = engine

	boss, err := engine.CreatePerson(f.ctx, CreatePersonRequest{
		FirstName: "Bea", LastName: "Boss", Email: "bea@acme.test", CompanyName: "Acme",
	})
	require.NoError(t, err)
	created, err := engine.CreateCompany(f.ctx, CreateCompanyRequest{
		Name: "Acme", RegistrationNumber: "R-1", AdminPersonID: boss.ID,
	})
	require.NoError(t, err)
	f.company = created.Company
	f.admin, err = f.store.GetAccount(f.ctx, RoleAdmin, created.Admin.AccountID)
	require.NoError(t, err)

	dept, err := engine.CreateDepartment(f.ctx, CreateDepartmentRequest{Name: "Engineering", CompanyID: f.company.ID})
	require.NoError(t, err)
	f.dept = dept.Department
	return f
}

// person creates an employee of the fixture company and department.
func (f *fixture) person(first string) *Person {
	f.t.Helper()
	p, err := f.engine.CreatePerson(f.ctx, CreatePersonRequest{
		FirstName:    first,
		LastName:     "Doe",
		Email:        first + "@acme.test",
		CompanyID:    f.company.ID,
		DepartmentID: f.dept.ID,
	})
	require.NoError(f.t, err)
	return p
}

func (f *fixture) finalize(name string, supervisor *Person, trainees ...*Person) *FinalizeResult {
	f.t.Helper()
	ids := make([]string, len(trainees))
	for i, p := range trainees {
		ids[i] = p.ID
	}
	res, err := f.engine.FinalizeGroup(f.ctx, FinalizeGroupRequest{
		Name:           name,
		DepartmentName: f.dept.Name,
		AdminAccountID: f.admin.ID,
		SupervisorID:   supervisor.ID,
		TraineeIDs:     ids,
	})
	require.NoError(f.t, err)
	return res
}

func (f *fixture) account(role Role, p *Person) *RoleAccount {
	f.t.Helper()
	a, err := f.store.FindAccountByPerson(f.ctx, role, p.ID)
	require.NoError(f.t, err)
	return a
}

func (f *fixture) group(id string) *Group {
	f.t.Helper()
	g, err := f.store.GetGroup(f.ctx, id)
	require.NoError(f.t, err)
	return g
}

func (f *fixture) count(role Role) int {
	f.t.Helper()
	f.store.mu.RLock()
	defer f.store.mu.RUnlock()
	return len(f.store.accounts[role])
}
