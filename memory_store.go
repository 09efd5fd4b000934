package membership

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a Store kept entirely in process memory. It backs tests and
// the in-memory server mode.
type MemoryStore struct {
	mu          sync.RWMutex
	persons     map[string]Person
	companies   map[string]Company
	departments map[string]Department
	groups      map[string]Group
	accounts    map[Role]map[string]RoleAccount
	audit       []AuditEntry
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		persons:     map[string]Person{},
		companies:   map[string]Company{},
		departments: map[string]Department{},
		groups:      map[string]Group{},
		accounts:    map[Role]map[string]RoleAccount{},
	}
	for _, r := range Roles {
		s.accounts[r] = map[string]RoleAccount{}
	}
	return s
}

func stamp(id *string, created, updated *time.Time) {
	if *id == "" {
		*id = uuid.NewString()
	}
	now := time.Now().UTC()
	if created.IsZero() {
		*created = now
	}
	*updated = now
}

func inSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// --- Persons ---

func (s *MemoryStore) CreatePerson(_ context.Context, p *Person) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.persons {
		if strings.EqualFold(existing.Email, p.Email) {
			return ErrDuplicateKey
		}
	}
	stamp(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	s.persons[p.ID] = *p
	return nil
}

func (s *MemoryStore) GetPerson(_ context.Context, id string) (*Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.persons[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *MemoryStore) ListPersonsByCompany(_ context.Context, companyID string) ([]Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Person
	for _, p := range s.persons {
		if deref(p.CompanyID) == companyID {
			out = append(out, p)
		}
	}
	sortPersons(out)
	return out, nil
}

func (s *MemoryStore) ListPersonsByIDs(_ context.Context, ids []string) ([]Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Person
	for id := range inSet(ids) {
		if p, ok := s.persons[id]; ok {
			out = append(out, p)
		}
	}
	sortPersons(out)
	return out, nil
}

func sortPersons(ps []Person) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].Email < ps[j].Email })
}

func (s *MemoryStore) CountPersonsByDepartment(_ context.Context, departmentID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, p := range s.persons {
		if deref(p.DepartmentID) == departmentID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListPersonsByDepartment(_ context.Context, departmentID, search string) ([]Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search = strings.ToLower(strings.TrimSpace(search))
	var out []Person
	for _, p := range s.persons {
		if deref(p.DepartmentID) != departmentID {
			continue
		}
		if search == "" || containsFold(search, p.FirstName, p.LastName, p.Email, p.Position) {
			out = append(out, p)
		}
	}
	sortPersons(out)
	return out, nil
}

func containsFold(needle string, fields ...string) bool {
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), needle) {
			return true
		}
	}
	return false
}

func (s *MemoryStore) LinkPersonsToCompany(_ context.Context, name, companyID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, p := range s.persons {
		if !strings.EqualFold(strings.TrimSpace(p.CompanyName), strings.TrimSpace(name)) {
			continue
		}
		p.CompanyID = ptr(companyID)
		p.CompanyName = name
		p.UpdatedAt = time.Now().UTC()
		s.persons[id] = p
		n++
	}
	return n, nil
}

func (s *MemoryStore) LinkPersonsToDepartment(_ context.Context, companyID, name, departmentID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, p := range s.persons {
		if deref(p.CompanyID) != companyID {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(p.DepartmentName), strings.TrimSpace(name)) {
			continue
		}
		p.DepartmentID = ptr(departmentID)
		p.DepartmentName = name
		p.UpdatedAt = time.Now().UTC()
		s.persons[id] = p
		n++
	}
	return n, nil
}

func (s *MemoryStore) RenamePersonsDepartment(_ context.Context, departmentID, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, p := range s.persons {
		if deref(p.DepartmentID) != departmentID {
			continue
		}
		p.DepartmentName = name
		s.persons[id] = p
		n++
	}
	return n, nil
}

func (s *MemoryStore) DeletePersons(_ context.Context, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id := range inSet(ids) {
		if _, ok := s.persons[id]; ok {
			delete(s.persons, id)
			n++
		}
	}
	return n, nil
}

// --- Companies ---

func (s *MemoryStore) CreateCompany(_ context.Context, c *Company) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stamp(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	s.companies[c.ID] = *c
	return nil
}

func (s *MemoryStore) GetCompany(_ context.Context, id string) (*Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.companies[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (s *MemoryStore) ListCompanies(_ context.Context) ([]Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Company, 0, len(s.companies))
	for _, c := range s.companies {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) DeleteCompany(_ context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.companies[id]; !ok {
		return 0, nil
	}
	delete(s.companies, id)
	return 1, nil
}

// --- Departments ---

func (s *MemoryStore) CreateDepartment(_ context.Context, d *Department) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.departments {
		if existing.CompanyID == d.CompanyID && existing.Name == d.Name {
			return ErrDuplicateKey
		}
	}
	stamp(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	s.departments[d.ID] = *d
	return nil
}

func (s *MemoryStore) GetDepartment(_ context.Context, id string) (*Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.departments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (s *MemoryStore) FindDepartmentsByName(_ context.Context, companyID, name string) ([]Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Department
	for _, d := range s.departments {
		if companyID != "" && d.CompanyID != companyID {
			continue
		}
		if strings.EqualFold(d.Name, strings.TrimSpace(name)) {
			out = append(out, d)
		}
	}
	sortDepartments(out)
	return out, nil
}

func (s *MemoryStore) ListDepartments(_ context.Context, companyID string) ([]Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Department
	for _, d := range s.departments {
		if companyID == "" || d.CompanyID == companyID {
			out = append(out, d)
		}
	}
	sortDepartments(out)
	return out, nil
}

func sortDepartments(ds []Department) {
	sort.Slice(ds, func(i, j int) bool { return ds[i].Name < ds[j].Name })
}

func (s *MemoryStore) RenameDepartment(_ context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.departments[id]
	if !ok {
		return ErrNotFound
	}
	for otherID, other := range s.departments {
		if otherID != id && other.CompanyID == d.CompanyID && other.Name == name {
			return ErrDuplicateKey
		}
	}
	d.Name = name
	d.UpdatedAt = time.Now().UTC()
	s.departments[id] = d
	return nil
}

func (s *MemoryStore) SetDepartmentCounts(_ context.Context, id string, members, groups int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.departments[id]
	if !ok {
		return ErrNotFound
	}
	d.MemberCount = members
	d.GroupCount = groups
	s.departments[id] = d
	return nil
}

func (s *MemoryStore) DeleteDepartment(_ context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.departments[id]; !ok {
		return 0, nil
	}
	delete(s.departments, id)
	return 1, nil
}

// --- Groups ---

func (s *MemoryStore) CreateGroup(_ context.Context, g *Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stamp(&g.ID, &g.CreatedAt, &g.UpdatedAt)
	s.groups[g.ID] = *g
	return nil
}

func (s *MemoryStore) GetGroup(_ context.Context, id string) (*Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &g, nil
}

func (s *MemoryStore) ListGroupsByDepartment(_ context.Context, departmentID string) ([]Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Group
	for _, g := range s.groups {
		if g.DepartmentID == departmentID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) CountGroupsByDepartment(ctx context.Context, departmentID string) (int64, error) {
	groups, err := s.ListGroupsByDepartment(ctx, departmentID)
	return int64(len(groups)), err
}

func (s *MemoryStore) updateGroup(id string, fn func(*Group)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[id]
	if !ok {
		return ErrNotFound
	}
	fn(&g)
	g.UpdatedAt = time.Now().UTC()
	s.groups[id] = g
	return nil
}

func (s *MemoryStore) RenameGroup(_ context.Context, id, name string) error {
	return s.updateGroup(id, func(g *Group) { g.Name = name })
}

func (s *MemoryStore) SetGroupSupervisor(_ context.Context, id, accountID string) error {
	return s.updateGroup(id, func(g *Group) { g.SupervisorAccountID = ptr(accountID) })
}

func (s *MemoryStore) SetGroupMemberCount(_ context.Context, id string, count int) error {
	return s.updateGroup(id, func(g *Group) { g.MemberCount = count })
}

func (s *MemoryStore) DeleteGroup(_ context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[id]; !ok {
		return 0, nil
	}
	delete(s.groups, id)
	return 1, nil
}

func (s *MemoryStore) CountAdminReferences(_ context.Context, accountID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, c := range s.companies {
		if deref(c.AdminAccountID) == accountID {
			n++
		}
	}
	for _, d := range s.departments {
		if deref(d.AdminAccountID) == accountID {
			n++
		}
	}
	for _, g := range s.groups {
		if g.AdminAccountID == accountID {
			n++
		}
	}
	return n, nil
}

// --- Role accounts ---

func (s *MemoryStore) table(role Role) (map[string]RoleAccount, error) {
	t, ok := s.accounts[role]
	if !ok {
		return nil, ErrInvalidInput
	}
	return t, nil
}

func (s *MemoryStore) CreateAccount(_ context.Context, a *RoleAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(a.Role)
	if err != nil {
		return err
	}
	for _, existing := range t {
		if existing.PersonID == a.PersonID || strings.EqualFold(existing.LoginEmail, a.LoginEmail) {
			return ErrDuplicateKey
		}
	}
	stamp(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	t[a.ID] = *a
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, role Role, id string) (*RoleAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, err := s.table(role)
	if err != nil {
		return nil, err
	}
	a, ok := t[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (s *MemoryStore) FindAccountByPerson(_ context.Context, role Role, personID string) (*RoleAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, err := s.table(role)
	if err != nil {
		return nil, err
	}
	for _, a := range t {
		if a.PersonID == personID {
			return &a, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListAccountsByGroup(_ context.Context, role Role, groupID string) ([]RoleAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, err := s.table(role)
	if err != nil {
		return nil, err
	}
	var out []RoleAccount
	for _, a := range t {
		if a.AssignedGroup() == groupID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LoginEmail < out[j].LoginEmail })
	return out, nil
}

func (s *MemoryStore) CountAccountsByGroup(ctx context.Context, role Role, groupID string) (int64, error) {
	accounts, err := s.ListAccountsByGroup(ctx, role, groupID)
	return int64(len(accounts)), err
}

func (s *MemoryStore) SetAccountGroup(_ context.Context, role Role, id, from, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(role)
	if err != nil {
		return false, err
	}
	a, ok := t[id]
	if !ok || a.AssignedGroup() != from {
		return false, nil
	}
	a.GroupID = ptr(to)
	a.UpdatedAt = time.Now().UTC()
	t[id] = a
	return true, nil
}

func (s *MemoryStore) UnassignAccountsFromGroup(_ context.Context, role Role, groupID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(role)
	if err != nil {
		return 0, err
	}
	var n int64
	for id, a := range t {
		if a.AssignedGroup() == groupID {
			a.GroupID = nil
			t[id] = a
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteAccount(_ context.Context, role Role, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(role)
	if err != nil {
		return 0, err
	}
	if _, ok := t[id]; !ok {
		return 0, nil
	}
	delete(t, id)
	return 1, nil
}

func (s *MemoryStore) DeleteAccountsByPersons(_ context.Context, role Role, personIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(role)
	if err != nil {
		return 0, err
	}
	set := inSet(personIDs)
	var n int64
	for id, a := range t {
		if _, ok := set[a.PersonID]; ok {
			delete(t, id)
			n++
		}
	}
	return n, nil
}

// --- Audit ---

func (s *MemoryStore) RecordAudit(_ context.Context, e *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.audit = append(s.audit, *e)
	return nil
}

func (s *MemoryStore) ListAudit(_ context.Context, targetID string) ([]AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []AuditEntry
	for i := len(s.audit) - 1; i >= 0; i-- {
		if targetID == "" || s.audit[i].TargetID == targetID {
			out = append(out, s.audit[i])
		}
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
