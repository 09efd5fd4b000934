package membership

import "context"

// Store is the persistence contract of the engine. Implementations enforce
// the unique constraints (Person.email, Department name per company,
// RoleAccount loginEmail and personId per role) and report violations as
// ErrDuplicateKey. Lookups of a single missing record return ErrNotFound;
// bulk deletes and updates of missing records return a zero count.
//
// There are no cross-collection transactions: every method is one
// independent, idempotent write or read.
type Store interface {
	// Persons
	CreatePerson(ctx context.Context, p *Person) error
	GetPerson(ctx context.Context, id string) (*Person, error)
	ListPersonsByCompany(ctx context.Context, companyID string) ([]Person, error)
	ListPersonsByIDs(ctx context.Context, ids []string) ([]Person, error)
	CountPersonsByDepartment(ctx context.Context, departmentID string) (int64, error)
	// ListPersonsByDepartment lists the department's persons. A non-empty
	// search keeps those whose first name, last name, email or position
	// contains it case-insensitively.
	ListPersonsByDepartment(ctx context.Context, departmentID, search string) ([]Person, error)
	// LinkPersonsToCompany sets companyId on every person whose companyName
	// matches name case-insensitively.
	LinkPersonsToCompany(ctx context.Context, name, companyID string) (int64, error)
	// LinkPersonsToDepartment sets departmentId on persons of companyID whose
	// departmentName matches name case-insensitively.
	LinkPersonsToDepartment(ctx context.Context, companyID, name, departmentID string) (int64, error)
	RenamePersonsDepartment(ctx context.Context, departmentID, name string) (int64, error)
	DeletePersons(ctx context.Context, ids []string) (int64, error)

	// Companies
	CreateCompany(ctx context.Context, c *Company) error
	GetCompany(ctx context.Context, id string) (*Company, error)
	// ListCompanies returns every company, newest first.
	ListCompanies(ctx context.Context) ([]Company, error)
	DeleteCompany(ctx context.Context, id string) (int64, error)

	// Departments
	CreateDepartment(ctx context.Context, d *Department) error
	GetDepartment(ctx context.Context, id string) (*Department, error)
	// FindDepartmentsByName matches name case-insensitively. An empty
	// companyID searches every company.
	FindDepartmentsByName(ctx context.Context, companyID, name string) ([]Department, error)
	ListDepartments(ctx context.Context, companyID string) ([]Department, error)
	RenameDepartment(ctx context.Context, id, name string) error
	SetDepartmentCounts(ctx context.Context, id string, members, groups int) error
	DeleteDepartment(ctx context.Context, id string) (int64, error)

	// Groups
	CreateGroup(ctx context.Context, g *Group) error
	GetGroup(ctx context.Context, id string) (*Group, error)
	ListGroupsByDepartment(ctx context.Context, departmentID string) ([]Group, error)
	CountGroupsByDepartment(ctx context.Context, departmentID string) (int64, error)
	RenameGroup(ctx context.Context, id, name string) error
	// SetGroupSupervisor stores accountID as the supervisor; "" clears it.
	SetGroupSupervisor(ctx context.Context, id, accountID string) error
	SetGroupMemberCount(ctx context.Context, id string, count int) error
	DeleteGroup(ctx context.Context, id string) (int64, error)

	// CountAdminReferences counts the companies, departments and groups whose
	// adminAccountId is accountID.
	CountAdminReferences(ctx context.Context, accountID string) (int64, error)

	// Role accounts, one collection per role.
	CreateAccount(ctx context.Context, a *RoleAccount) error
	GetAccount(ctx context.Context, role Role, id string) (*RoleAccount, error)
	FindAccountByPerson(ctx context.Context, role Role, personID string) (*RoleAccount, error)
	ListAccountsByGroup(ctx context.Context, role Role, groupID string) ([]RoleAccount, error)
	CountAccountsByGroup(ctx context.Context, role Role, groupID string) (int64, error)
	// SetAccountGroup moves the account's groupId from `from` to `to` only if
	// its current value equals `from` ("" means unassigned). It reports
	// whether the swap happened.
	SetAccountGroup(ctx context.Context, role Role, id, from, to string) (bool, error)
	UnassignAccountsFromGroup(ctx context.Context, role Role, groupID string) (int64, error)
	DeleteAccount(ctx context.Context, role Role, id string) (int64, error)
	DeleteAccountsByPersons(ctx context.Context, role Role, personIDs []string) (int64, error)

	// Audit
	RecordAudit(ctx context.Context, e *AuditEntry) error
	ListAudit(ctx context.Context, targetID string) ([]AuditEntry, error)
}
