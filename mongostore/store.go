// Package mongostore is the document-store backend of the membership engine.
// Each entity lives in its own collection and each role account kind in a
// collection of its own; uniqueness is carried by the indexes created in
// EnsureIndexes.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	membership "github.com/bohemiyan/orgmembership"
)

const (
	colPersons     = "persons"
	colCompanies   = "companies"
	colDepartments = "departments"
	colGroups      = "groups"
	colAudit       = "audit_logs"
)

var accountCollections = map[membership.Role]string{
	membership.RoleAdmin:      "admins",
	membership.RoleSupervisor: "supervisors",
	membership.RoleTrainee:    "trainees",
}

// caseInsensitive compares department names ignoring case.
var caseInsensitive = &options.Collation{Locale: "en", Strength: 2}

// Store implements membership.Store on top of a mongo database.
type Store struct {
	db *mongo.Database
}

// New returns a Store bound to db.
func New(db *mongo.Database) *Store {
	return &Store{db: db}
}

// EnsureIndexes creates every index the engine's invariants depend on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		colPersons: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetName("uniq_email").SetUnique(true)},
			{Keys: bson.D{{Key: "companyId", Value: 1}}, Options: options.Index().SetName("idx_companyId")},
			{Keys: bson.D{{Key: "departmentId", Value: 1}}, Options: options.Index().SetName("idx_departmentId")},
		},
		colDepartments: {
			{
				Keys: bson.D{{Key: "companyId", Value: 1}, {Key: "name", Value: 1}},
				Options: options.Index().SetName("uniq_companyId_name").
					SetUnique(true).
					SetCollation(caseInsensitive),
			},
		},
		colGroups: {
			{Keys: bson.D{{Key: "departmentId", Value: 1}}, Options: options.Index().SetName("idx_departmentId")},
		},
		colAudit: {
			{Keys: bson.D{{Key: "targetId", Value: 1}, {Key: "createdAt", Value: -1}}, Options: options.Index().SetName("idx_targetId_createdAt")},
		},
	}
	for _, name := range accountCollections {
		indexes[name] = []mongo.IndexModel{
			{Keys: bson.D{{Key: "personId", Value: 1}}, Options: options.Index().SetName("uniq_personId").SetUnique(true)},
			{Keys: bson.D{{Key: "loginEmail", Value: 1}}, Options: options.Index().SetName("uniq_loginEmail").SetUnique(true)},
			{Keys: bson.D{{Key: "groupId", Value: 1}}, Options: options.Index().SetName("idx_groupId")},
		}
	}

	for col, models := range indexes {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", col, err)
		}
	}
	return nil
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return membership.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %v", membership.ErrDuplicateKey, err)
	}
	return err
}

// equalFold matches a field against s ignoring case and surrounding spaces.
func equalFold(s string) primitive.Regex {
	return primitive.Regex{Pattern: `^\s*` + regexp.QuoteMeta(strings.TrimSpace(s)) + `\s*$`, Options: "i"}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func newID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func (s *Store) findOne(ctx context.Context, col string, filter bson.M, out any) error {
	return translate(s.db.Collection(col).FindOne(ctx, filter).Decode(out))
}

func (s *Store) findMany(ctx context.Context, col string, filter bson.M, sort bson.D, out any) error {
	cur, err := s.db.Collection(col).Find(ctx, filter, options.Find().SetSort(sort))
	if err != nil {
		return translate(err)
	}
	return translate(cur.All(ctx, out))
}

func (s *Store) count(ctx context.Context, col string, filter bson.M) (int64, error) {
	n, err := s.db.Collection(col).CountDocuments(ctx, filter)
	return n, translate(err)
}

func (s *Store) updateMany(ctx context.Context, col string, filter bson.M, set bson.M) (int64, error) {
	set["updatedAt"] = now()
	res, err := s.db.Collection(col).UpdateMany(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return 0, translate(err)
	}
	return res.ModifiedCount, nil
}

// updateByID fails with ErrNotFound when no document has the id.
func (s *Store) updateByID(ctx context.Context, col, id string, set bson.M) error {
	set["updatedAt"] = now()
	res, err := s.db.Collection(col).UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return translate(err)
	}
	if res.MatchedCount == 0 {
		return membership.ErrNotFound
	}
	return nil
}

func (s *Store) deleteMany(ctx context.Context, col string, filter bson.M) (int64, error) {
	res, err := s.db.Collection(col).DeleteMany(ctx, filter)
	if err != nil {
		return 0, translate(err)
	}
	return res.DeletedCount, nil
}

// --- Persons ---

func (s *Store) CreatePerson(ctx context.Context, p *membership.Person) error {
	newID(&p.ID)
	p.CreatedAt, p.UpdatedAt = now(), now()
	_, err := s.db.Collection(colPersons).InsertOne(ctx, p)
	return translate(err)
}

func (s *Store) GetPerson(ctx context.Context, id string) (*membership.Person, error) {
	var p membership.Person
	if err := s.findOne(ctx, colPersons, bson.M{"_id": id}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

var personSort = bson.D{{Key: "lastName", Value: 1}, {Key: "firstName", Value: 1}}

func (s *Store) ListPersonsByCompany(ctx context.Context, companyID string) ([]membership.Person, error) {
	var out []membership.Person
	err := s.findMany(ctx, colPersons, bson.M{"companyId": companyID}, personSort, &out)
	return out, err
}

func (s *Store) ListPersonsByIDs(ctx context.Context, ids []string) ([]membership.Person, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []membership.Person
	err := s.findMany(ctx, colPersons, bson.M{"_id": bson.M{"$in": ids}}, personSort, &out)
	return out, err
}

func (s *Store) CountPersonsByDepartment(ctx context.Context, departmentID string) (int64, error) {
	return s.count(ctx, colPersons, bson.M{"departmentId": departmentID})
}

func (s *Store) ListPersonsByDepartment(ctx context.Context, departmentID, search string) ([]membership.Person, error) {
	filter := bson.M{"departmentId": departmentID}
	if search = strings.TrimSpace(search); search != "" {
		re := primitive.Regex{Pattern: regexp.QuoteMeta(search), Options: "i"}
		filter["$or"] = bson.A{
			bson.M{"firstName": re},
			bson.M{"lastName": re},
			bson.M{"email": re},
			bson.M{"position": re},
		}
	}
	var out []membership.Person
	err := s.findMany(ctx, colPersons, filter, personSort, &out)
	return out, err
}

func (s *Store) LinkPersonsToCompany(ctx context.Context, name, companyID string) (int64, error) {
	return s.updateMany(ctx, colPersons,
		bson.M{"companyName": equalFold(name)},
		bson.M{"companyId": companyID, "companyName": name})
}

func (s *Store) LinkPersonsToDepartment(ctx context.Context, companyID, name, departmentID string) (int64, error) {
	return s.updateMany(ctx, colPersons,
		bson.M{"companyId": companyID, "departmentName": equalFold(name)},
		bson.M{"departmentId": departmentID, "departmentName": name})
}

func (s *Store) RenamePersonsDepartment(ctx context.Context, departmentID, name string) (int64, error) {
	return s.updateMany(ctx, colPersons, bson.M{"departmentId": departmentID}, bson.M{"departmentName": name})
}

func (s *Store) DeletePersons(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return s.deleteMany(ctx, colPersons, bson.M{"_id": bson.M{"$in": ids}})
}

// --- Companies ---

func (s *Store) CreateCompany(ctx context.Context, c *membership.Company) error {
	newID(&c.ID)
	c.UpdatedAt = now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = c.UpdatedAt
	}
	_, err := s.db.Collection(colCompanies).InsertOne(ctx, c)
	return translate(err)
}

func (s *Store) GetCompany(ctx context.Context, id string) (*membership.Company, error) {
	var c membership.Company
	if err := s.findOne(ctx, colCompanies, bson.M{"_id": id}, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListCompanies(ctx context.Context) ([]membership.Company, error) {
	var out []membership.Company
	err := s.findMany(ctx, colCompanies, bson.M{}, bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}}, &out)
	return out, err
}

func (s *Store) DeleteCompany(ctx context.Context, id string) (int64, error) {
	return s.deleteMany(ctx, colCompanies, bson.M{"_id": id})
}

// --- Departments ---

var nameSort = bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}}

func (s *Store) CreateDepartment(ctx context.Context, d *membership.Department) error {
	newID(&d.ID)
	d.CreatedAt, d.UpdatedAt = now(), now()
	_, err := s.db.Collection(colDepartments).InsertOne(ctx, d)
	return translate(err)
}

func (s *Store) GetDepartment(ctx context.Context, id string) (*membership.Department, error) {
	var d membership.Department
	if err := s.findOne(ctx, colDepartments, bson.M{"_id": id}, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) FindDepartmentsByName(ctx context.Context, companyID, name string) ([]membership.Department, error) {
	filter := bson.M{"name": equalFold(name)}
	if companyID != "" {
		filter["companyId"] = companyID
	}
	var out []membership.Department
	err := s.findMany(ctx, colDepartments, filter, nameSort, &out)
	return out, err
}

func (s *Store) ListDepartments(ctx context.Context, companyID string) ([]membership.Department, error) {
	filter := bson.M{}
	if companyID != "" {
		filter["companyId"] = companyID
	}
	var out []membership.Department
	err := s.findMany(ctx, colDepartments, filter, nameSort, &out)
	return out, err
}

func (s *Store) RenameDepartment(ctx context.Context, id, name string) error {
	return s.updateByID(ctx, colDepartments, id, bson.M{"name": name})
}

func (s *Store) SetDepartmentCounts(ctx context.Context, id string, members, groups int) error {
	return s.updateByID(ctx, colDepartments, id, bson.M{"memberCount": members, "groupCount": groups})
}

func (s *Store) DeleteDepartment(ctx context.Context, id string) (int64, error) {
	return s.deleteMany(ctx, colDepartments, bson.M{"_id": id})
}

// --- Groups ---

func (s *Store) CreateGroup(ctx context.Context, g *membership.Group) error {
	newID(&g.ID)
	g.UpdatedAt = now()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = g.UpdatedAt
	}
	_, err := s.db.Collection(colGroups).InsertOne(ctx, g)
	return translate(err)
}

func (s *Store) GetGroup(ctx context.Context, id string) (*membership.Group, error) {
	var g membership.Group
	if err := s.findOne(ctx, colGroups, bson.M{"_id": id}, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *Store) ListGroupsByDepartment(ctx context.Context, departmentID string) ([]membership.Group, error) {
	var out []membership.Group
	err := s.findMany(ctx, colGroups, bson.M{"departmentId": departmentID}, nameSort, &out)
	return out, err
}

func (s *Store) CountGroupsByDepartment(ctx context.Context, departmentID string) (int64, error) {
	return s.count(ctx, colGroups, bson.M{"departmentId": departmentID})
}

func (s *Store) RenameGroup(ctx context.Context, id, name string) error {
	return s.updateByID(ctx, colGroups, id, bson.M{"name": name})
}

func (s *Store) SetGroupSupervisor(ctx context.Context, id, accountID string) error {
	return s.updateByID(ctx, colGroups, id, bson.M{"supervisorAccountId": nullable(accountID)})
}

func (s *Store) SetGroupMemberCount(ctx context.Context, id string, count int) error {
	return s.updateByID(ctx, colGroups, id, bson.M{"memberCount": count})
}

func (s *Store) DeleteGroup(ctx context.Context, id string) (int64, error) {
	return s.deleteMany(ctx, colGroups, bson.M{"_id": id})
}

func (s *Store) CountAdminReferences(ctx context.Context, accountID string) (int64, error) {
	var total int64
	for _, col := range []string{colCompanies, colDepartments, colGroups} {
		n, err := s.count(ctx, col, bson.M{"adminAccountId": accountID})
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// --- Role accounts ---

func collectionFor(role membership.Role) (string, error) {
	col, ok := accountCollections[role]
	if !ok {
		return "", fmt.Errorf("%w: unknown role %q", membership.ErrInvalidInput, role)
	}
	return col, nil
}

func (s *Store) CreateAccount(ctx context.Context, a *membership.RoleAccount) error {
	col, err := collectionFor(a.Role)
	if err != nil {
		return err
	}
	newID(&a.ID)
	a.CreatedAt, a.UpdatedAt = now(), now()
	_, err = s.db.Collection(col).InsertOne(ctx, a)
	return translate(err)
}

func (s *Store) findAccount(ctx context.Context, role membership.Role, filter bson.M) (*membership.RoleAccount, error) {
	col, err := collectionFor(role)
	if err != nil {
		return nil, err
	}
	var a membership.RoleAccount
	if err := s.findOne(ctx, col, filter, &a); err != nil {
		return nil, err
	}
	a.Role = role
	return &a, nil
}

func (s *Store) GetAccount(ctx context.Context, role membership.Role, id string) (*membership.RoleAccount, error) {
	return s.findAccount(ctx, role, bson.M{"_id": id})
}

func (s *Store) FindAccountByPerson(ctx context.Context, role membership.Role, personID string) (*membership.RoleAccount, error) {
	return s.findAccount(ctx, role, bson.M{"personId": personID})
}

func (s *Store) ListAccountsByGroup(ctx context.Context, role membership.Role, groupID string) ([]membership.RoleAccount, error) {
	col, err := collectionFor(role)
	if err != nil {
		return nil, err
	}
	var out []membership.RoleAccount
	if err := s.findMany(ctx, col, bson.M{"groupId": groupID}, bson.D{{Key: "loginEmail", Value: 1}}, &out); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Role = role
	}
	return out, nil
}

func (s *Store) CountAccountsByGroup(ctx context.Context, role membership.Role, groupID string) (int64, error) {
	col, err := collectionFor(role)
	if err != nil {
		return 0, err
	}
	return s.count(ctx, col, bson.M{"groupId": groupID})
}

// SetAccountGroup is a conditional update keyed on the current groupId. A nil
// filter value also matches documents without the field.
func (s *Store) SetAccountGroup(ctx context.Context, role membership.Role, id, from, to string) (bool, error) {
	col, err := collectionFor(role)
	if err != nil {
		return false, err
	}
	res, err := s.db.Collection(col).UpdateOne(ctx,
		bson.M{"_id": id, "groupId": nullable(from)},
		bson.M{"$set": bson.M{"groupId": nullable(to), "updatedAt": now()}})
	if err != nil {
		return false, translate(err)
	}
	return res.MatchedCount == 1, nil
}

func (s *Store) UnassignAccountsFromGroup(ctx context.Context, role membership.Role, groupID string) (int64, error) {
	col, err := collectionFor(role)
	if err != nil {
		return 0, err
	}
	return s.updateMany(ctx, col, bson.M{"groupId": groupID}, bson.M{"groupId": nil})
}

func (s *Store) DeleteAccount(ctx context.Context, role membership.Role, id string) (int64, error) {
	col, err := collectionFor(role)
	if err != nil {
		return 0, err
	}
	return s.deleteMany(ctx, col, bson.M{"_id": id})
}

func (s *Store) DeleteAccountsByPersons(ctx context.Context, role membership.Role, personIDs []string) (int64, error) {
	if len(personIDs) == 0 {
		return 0, nil
	}
	col, err := collectionFor(role)
	if err != nil {
		return 0, err
	}
	return s.deleteMany(ctx, col, bson.M{"personId": bson.M{"$in": personIDs}})
}

// --- Audit ---

func (s *Store) RecordAudit(ctx context.Context, e *membership.AuditEntry) error {
	newID(&e.ID)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now()
	}
	_, err := s.db.Collection(colAudit).InsertOne(ctx, e)
	return translate(err)
}

func (s *Store) ListAudit(ctx context.Context, targetID string) ([]membership.AuditEntry, error) {
	filter := bson.M{}
	if targetID != "" {
		filter["targetId"] = targetID
	}
	var out []membership.AuditEntry
	err := s.findMany(ctx, colAudit, filter, bson.D{{Key: "createdAt", Value: -1}}, &out)
	return out, err
}

var _ membership.Store = (*Store)(nil)
