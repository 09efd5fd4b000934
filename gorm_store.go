package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// accountTables maps each role onto its own table.
var accountTables = map[Role]string{
	RoleAdmin:      "admins",
	RoleSupervisor: "supervisors",
	RoleTrainee:    "trainees",
}

// GormStore is the postgres-backed Store.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an open gorm connection.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates the tables and the unique indexes the engine relies on.
func (s *GormStore) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(&Person{}, &Company{}, &Department{}, &Group{}, &AuditEntry{}); err != nil {
		return fmt.Errorf("failed to auto-migrate: %w", err)
	}

	// The three account tables share one Go type, so they are created by hand
	// to keep index names distinct per table.
	for _, role := range Roles {
		t := accountTables[role]
		if err := db.Exec(fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id VARCHAR(36) PRIMARY KEY,
				login_email TEXT NOT NULL,
				password_hash TEXT NOT NULL,
				person_id VARCHAR(36) NOT NULL,
				group_id VARCHAR(36),
				created_at TIMESTAMPTZ,
				updated_at TIMESTAMPTZ
			)
		`, t)).Error; err != nil {
			return fmt.Errorf("failed to create %s table: %w", t, err)
		}
		for _, stmt := range []string{
			fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_person_id ON %s (person_id)`, t, t),
			fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_login_email ON %s (login_email)`, t, t),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_group_id ON %s (group_id)`, t, t),
		} {
			if err := db.Exec(stmt).Error; err != nil {
				return fmt.Errorf("failed to index %s: %w", t, err)
			}
		}
	}
	return nil
}

// translate maps driver errors onto the store sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, pgErr.ConstraintName)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, pqErr.Constraint)
	}
	return err
}

func newID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

// nullable turns "" into SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func affected(res *gorm.DB) error {
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Persons ---

func (s *GormStore) CreatePerson(ctx context.Context, p *Person) error {
	newID(&p.ID)
	return translate(s.db.WithContext(ctx).Create(p).Error)
}

func (s *GormStore) GetPerson(ctx context.Context, id string) (*Person, error) {
	var p Person
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (s *GormStore) ListPersonsByCompany(ctx context.Context, companyID string) ([]Person, error) {
	var out []Person
	err := s.db.WithContext(ctx).Where("company_id = ?", companyID).Order("last_name, first_name").Find(&out).Error
	return out, translate(err)
}

func (s *GormStore) ListPersonsByIDs(ctx context.Context, ids []string) ([]Person, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []Person
	err := s.db.WithContext(ctx).Where("id IN ?", ids).Order("last_name, first_name").Find(&out).Error
	return out, translate(err)
}

func (s *GormStore) CountPersonsByDepartment(ctx context.Context, departmentID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Person{}).Where("department_id = ?", departmentID).Count(&n).Error
	return n, translate(err)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *GormStore) ListPersonsByDepartment(ctx context.Context, departmentID, search string) ([]Person, error) {
	q := s.db.WithContext(ctx).Where("department_id = ?", departmentID)
	if search = strings.TrimSpace(search); search != "" {
		like := "%" + strings.ToLower(likeEscaper.Replace(search)) + "%"
		q = q.Where("LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ? OR LOWER(email) LIKE ? OR LOWER(position) LIKE ?",
			like, like, like, like)
	}
	var out []Person
	err := q.Order("last_name, first_name").Find(&out).Error
	return out, translate(err)
}

func (s *GormStore) LinkPersonsToCompany(ctx context.Context, name, companyID string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&Person{}).
		Where("LOWER(TRIM(company_name)) = LOWER(?)", strings.TrimSpace(name)).
		Updates(map[string]any{"company_id": companyID, "company_name": name})
	return res.RowsAffected, translate(res.Error)
}

func (s *GormStore) LinkPersonsToDepartment(ctx context.Context, companyID, name, departmentID string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&Person{}).
		Where("company_id = ? AND LOWER(TRIM(department_name)) = LOWER(?)", companyID, strings.TrimSpace(name)).
		Updates(map[string]any{"department_id": departmentID, "department_name": name})
	return res.RowsAffected, translate(res.Error)
}

func (s *GormStore) RenamePersonsDepartment(ctx context.Context, departmentID, name string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&Person{}).
		Where("department_id = ?", departmentID).
		Update("department_name", name)
	return res.RowsAffected, translate(res.Error)
}

func (s *GormStore) DeletePersons(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&Person{})
	return res.RowsAffected, translate(res.Error)
}

// --- Companies ---

func (s *GormStore) CreateCompany(ctx context.Context, c *Company) error {
	newID(&c.ID)
	return translate(s.db.WithContext(ctx).Create(c).Error)
}

func (s *GormStore) GetCompany(ctx context.Context, id string) (*Company, error) {
	var c Company
	if err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (s *GormStore) ListCompanies(ctx context.Context) ([]Company, error) {
	var out []Company
	err := s.db.WithContext(ctx).Order("created_at DESC, id").Find(&out).Error
	return out, translate(err)
}

func (s *GormStore) DeleteCompany(ctx context.Context, id string) (int64, error) {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&Company{})
	return res.RowsAffected, translate(res.Error)
}

// --- Departments ---

func (s *GormStore) CreateDepartment(ctx context.Context, d *Department) error {
	newID(&d.ID)
	return translate(s.db.WithContext(ctx).Create(d).Error)
}

func (s *GormStore) GetDepartment(ctx context.Context, id string) (*Department, error) {
	var d Department
	if err := s.db.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &d, nil
}

func (s *GormStore) FindDepartmentsByName(ctx context.Context, companyID, name string) ([]Department, error) {
	q := s.db.WithContext(ctx).Where("LOWER(name) = LOWER(?)", strings.TrimSpace(name))
	if companyID != "" {
		q = q.Where("company_id = ?", companyID)
	}
	var out []Department
	err := q.Order("name, id").Find(&out).Error
	return out, translate(err)
}

func (s *GormStore) ListDepartments(ctx context.Context, companyID string) ([]Department, error) {
	q := s.db.WithContext(ctx)
	if companyID != "" {
		q = q.Where("company_id = ?", companyID)
	}
	var out []Department
	err := q.Order("name, id").Find(&out).Error
	return out, translate(err)
}

func (s *GormStore) RenameDepartment(ctx context.Context, id, name string) error {
	return affected(s.db.WithContext(ctx).Model(&Department{}).Where("id = ?", id).Update("name", name))
}

func (s *GormStore) SetDepartmentCounts(ctx context.Context, id string, members, groups int) error {
	return affected(s.db.WithContext(ctx).Model(&Department{}).Where("id = ?", id).
		Updates(map[string]any{"member_count": members, "group_count": groups}))
}

func (s *GormStore) DeleteDepartment(ctx context.Context, id string) (int64, error) {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&Department{})
	return res.RowsAffected, translate(res.Error)
}

// --- Groups ---

func (s *GormStore) CreateGroup(ctx context.Context, g *Group) error {
	newID(&g.ID)
	return translate(s.db.WithContext(ctx).Create(g).Error)
}

func (s *GormStore) GetGroup(ctx context.Context, id string) (*Group, error) {
	var g Group
	if err := s.db.WithContext(ctx).First(&g, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &g, nil
}

func (s *GormStore) ListGroupsByDepartment(ctx context.Context, departmentID string) ([]Group, error) {
	var out []Group
	err := s.db.WithContext(ctx).Where("department_id = ?", departmentID).Order("name, id").Find(&out).Error
	return out, translate(err)
}

func (s *GormStore) CountGroupsByDepartment(ctx context.Context, departmentID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Group{}).Where("department_id = ?", departmentID).Count(&n).Error
	return n, translate(err)
}

func (s *GormStore) RenameGroup(ctx context.Context, id, name string) error {
	return affected(s.db.WithContext(ctx).Model(&Group{}).Where("id = ?", id).Update("name", name))
}

func (s *GormStore) SetGroupSupervisor(ctx context.Context, id, accountID string) error {
	return affected(s.db.WithContext(ctx).Model(&Group{}).Where("id = ?", id).
		Update("supervisor_account_id", nullable(accountID)))
}

func (s *GormStore) SetGroupMemberCount(ctx context.Context, id string, count int) error {
	return affected(s.db.WithContext(ctx).Model(&Group{}).Where("id = ?", id).Update("member_count", count))
}

func (s *GormStore) DeleteGroup(ctx context.Context, id string) (int64, error) {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&Group{})
	return res.RowsAffected, translate(res.Error)
}

func (s *GormStore) CountAdminReferences(ctx context.Context, accountID string) (int64, error) {
	var total int64
	for _, model := range []any{&Company{}, &Department{}, &Group{}} {
		var n int64
		if err := s.db.WithContext(ctx).Model(model).Where("admin_account_id = ?", accountID).Count(&n).Error; err != nil {
			return 0, translate(err)
		}
		total += n
	}
	return total, nil
}

// --- Role accounts ---

func (s *GormStore) accounts(ctx context.Context, role Role) (*gorm.DB, error) {
	t, ok := accountTables[role]
	if !ok {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	return s.db.WithContext(ctx).Table(t), nil
}

func (s *GormStore) CreateAccount(ctx context.Context, a *RoleAccount) error {
	q, err := s.accounts(ctx, a.Role)
	if err != nil {
		return err
	}
	newID(&a.ID)
	return translate(q.Create(a).Error)
}

func (s *GormStore) GetAccount(ctx context.Context, role Role, id string) (*RoleAccount, error) {
	q, err := s.accounts(ctx, role)
	if err != nil {
		return nil, err
	}
	var a RoleAccount
	if err := q.Where("id = ?", id).First(&a).Error; err != nil {
		return nil, translate(err)
	}
	a.Role = role
	return &a, nil
}

func (s *GormStore) FindAccountByPerson(ctx context.Context, role Role, personID string) (*RoleAccount, error) {
	q, err := s.accounts(ctx, role)
	if err != nil {
		return nil, err
	}
	var a RoleAccount
	if err := q.Where("person_id = ?", personID).First(&a).Error; err != nil {
		return nil, translate(err)
	}
	a.Role = role
	return &a, nil
}

func (s *GormStore) ListAccountsByGroup(ctx context.Context, role Role, groupID string) ([]RoleAccount, error) {
	q, err := s.accounts(ctx, role)
	if err != nil {
		return nil, err
	}
	var out []RoleAccount
	if err := q.Where("group_id = ?", groupID).Order("login_email").Find(&out).Error; err != nil {
		return nil, translate(err)
	}
	for i := range out {
		out[i].Role = role
	}
	return out, nil
}

func (s *GormStore) CountAccountsByGroup(ctx context.Context, role Role, groupID string) (int64, error) {
	q, err := s.accounts(ctx, role)
	if err != nil {
		return 0, err
	}
	var n int64
	err = q.Where("group_id = ?", groupID).Count(&n).Error
	return n, translate(err)
}

func (s *GormStore) SetAccountGroup(ctx context.Context, role Role, id, from, to string) (bool, error) {
	q, err := s.accounts(ctx, role)
	if err != nil {
		return false, err
	}
	q = q.Where("id = ?", id)
	if from == "" {
		q = q.Where("group_id IS NULL")
	} else {
		q = q.Where("group_id = ?", from)
	}
	res := q.Updates(map[string]any{"group_id": nullable(to), "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) UnassignAccountsFromGroup(ctx context.Context, role Role, groupID string) (int64, error) {
	q, err := s.accounts(ctx, role)
	if err != nil {
		return 0, err
	}
	res := q.Where("group_id = ?", groupID).Updates(map[string]any{"group_id": nil, "updated_at": time.Now().UTC()})
	return res.RowsAffected, translate(res.Error)
}

func (s *GormStore) DeleteAccount(ctx context.Context, role Role, id string) (int64, error) {
	q, err := s.accounts(ctx, role)
	if err != nil {
		return 0, err
	}
	res := q.Where("id = ?", id).Delete(&RoleAccount{})
	return res.RowsAffected, translate(res.Error)
}

func (s *GormStore) DeleteAccountsByPersons(ctx context.Context, role Role, personIDs []string) (int64, error) {
	if len(personIDs) == 0 {
		return 0, nil
	}
	q, err := s.accounts(ctx, role)
	if err != nil {
		return 0, err
	}
	res := q.Where("person_id IN ?", personIDs).Delete(&RoleAccount{})
	return res.RowsAffected, translate(res.Error)
}

// --- Audit ---

func (s *GormStore) RecordAudit(ctx context.Context, e *AuditEntry) error {
	newID(&e.ID)
	return translate(s.db.WithContext(ctx).Create(e).Error)
}

func (s *GormStore) ListAudit(ctx context.Context, targetID string) ([]AuditEntry, error) {
	q := s.db.WithContext(ctx)
	if targetID != "" {
		q = q.Where("target_id = ?", targetID)
	}
	var out []AuditEntry
	err := q.Order("created_at DESC").Find(&out).Error
	return out, translate(err)
}

var _ Store = (*GormStore)(nil)
