package membership

import (
	"strings"
	"time"
)

// Role names one of the credentialed capabilities a Person can hold.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSupervisor Role = "supervisor"
	RoleTrainee    Role = "trainee"
)

// Roles lists every role kind in cascade deletion order.
var Roles = []Role{RoleAdmin, RoleSupervisor, RoleTrainee}

// ParseRole maps a case-insensitive role name onto a Role.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleSupervisor:
		return RoleSupervisor, nil
	case RoleTrainee:
		return RoleTrainee, nil
	}
	return "", ErrInvalidInput
}

// Exclusive returns the role that cannot be held together with r, if any.
func (r Role) Exclusive() (Role, bool) {
	switch r {
	case RoleSupervisor:
		return RoleTrainee, true
	case RoleTrainee:
		return RoleSupervisor, true
	}
	return "", false
}

// Groupable reports whether accounts of this role carry a group assignment.
func (r Role) Groupable() bool {
	return r == RoleSupervisor || r == RoleTrainee
}

// Person is the canonical identity record, independent of any role.
type Person struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)" bson:"_id" json:"id"`
	FirstName      string    `gorm:"not null" bson:"firstName" json:"firstName"`
	LastName       string    `gorm:"not null" bson:"lastName" json:"lastName"`
	Email          string    `gorm:"uniqueIndex;not null" bson:"email" json:"email"`
	Phone          string    `bson:"phone,omitempty" json:"phone,omitempty"`
	Position       string    `bson:"position,omitempty" json:"position,omitempty"`
	EmployeeNumber string    `bson:"employeeNumber,omitempty" json:"employeeNumber,omitempty"`
	CompanyID      *string   `gorm:"index;type:varchar(36)" bson:"companyId" json:"companyId,omitempty"`
	DepartmentID   *string   `gorm:"index;type:varchar(36)" bson:"departmentId" json:"departmentId,omitempty"`
	CompanyName    string    `bson:"companyName,omitempty" json:"companyName,omitempty"`
	DepartmentName string    `bson:"departmentName,omitempty" json:"departmentName,omitempty"`
	CreatedAt      time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt      time.Time `bson:"updatedAt" json:"updatedAt"`
}

// FullName joins first and last name, falling back to the email.
func (p *Person) FullName() string {
	name := strings.TrimSpace(p.FirstName + " " + p.LastName)
	if name == "" {
		return p.Email
	}
	return name
}

// Company is the root of the hierarchy.
type Company struct {
	ID                 string    `gorm:"primaryKey;type:varchar(36)" bson:"_id" json:"id"`
	Name               string    `gorm:"not null" bson:"name" json:"name"`
	RegistrationNumber string    `gorm:"not null" bson:"registrationNumber" json:"registrationNumber"`
	Industry           string    `bson:"industry" json:"industry"`
	Size               int       `bson:"size" json:"size"`
	AdminAccountID     *string   `gorm:"type:varchar(36)" bson:"adminAccountId" json:"adminAccountId,omitempty"`
	CreatedAt          time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt          time.Time `bson:"updatedAt" json:"updatedAt"`
}

// Department groups persons of one company. (Name, CompanyID) is unique.
type Department struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)" bson:"_id" json:"id"`
	Name           string    `gorm:"not null;uniqueIndex:idx_department_name_company" bson:"name" json:"name"`
	CompanyID      string    `gorm:"not null;type:varchar(36);uniqueIndex:idx_department_name_company" bson:"companyId" json:"companyId"`
	AdminAccountID *string   `gorm:"type:varchar(36)" bson:"adminAccountId" json:"adminAccountId,omitempty"`
	MemberCount    int       `bson:"memberCount" json:"memberCount"`
	GroupCount     int       `bson:"groupCount" json:"groupCount"`
	CreatedAt      time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt      time.Time `bson:"updatedAt" json:"updatedAt"`
}

// Group is a trainee cohort under one department with at most one supervisor.
type Group struct {
	ID                  string    `gorm:"primaryKey;type:varchar(36)" bson:"_id" json:"id"`
	Name                string    `gorm:"not null" bson:"name" json:"name"`
	DepartmentID        string    `gorm:"not null;index;type:varchar(36)" bson:"departmentId" json:"departmentId"`
	AdminAccountID      string    `gorm:"type:varchar(36)" bson:"adminAccountId" json:"adminAccountId"`
	SupervisorAccountID *string   `gorm:"type:varchar(36)" bson:"supervisorAccountId" json:"supervisorAccountId,omitempty"`
	MemberCount         int       `bson:"memberCount" json:"memberCount"`
	CreatedAt           time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt           time.Time `bson:"updatedAt" json:"updatedAt"`
}

// RoleAccount binds a Person to exactly one role. Each role is persisted in
// its own collection; Role is not stored, it is implied by the collection.
type RoleAccount struct {
	ID           string    `gorm:"primaryKey;type:varchar(36)" bson:"_id" json:"id"`
	Role         Role      `gorm:"-" bson:"-" json:"role"`
	LoginEmail   string    `gorm:"not null" bson:"loginEmail" json:"loginEmail"`
	PasswordHash string    `gorm:"not null" bson:"passwordHash" json:"-"`
	PersonID     string    `gorm:"not null;type:varchar(36)" bson:"personId" json:"personId"`
	GroupID      *string   `gorm:"index;type:varchar(36)" bson:"groupId" json:"groupId,omitempty"`
	CreatedAt    time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time `bson:"updatedAt" json:"updatedAt"`
}

// AssignedGroup returns the account's group id or "" when unassigned.
func (a *RoleAccount) AssignedGroup() string {
	return deref(a.GroupID)
}

// AuditEntry tracks membership and hierarchy mutations.
type AuditEntry struct {
	ID         string    `gorm:"primaryKey;type:varchar(36)" bson:"_id" json:"id"`
	ActorID    string    `gorm:"index" bson:"actorId" json:"actorId"`
	Action     string    `gorm:"not null" bson:"action" json:"action"`
	TargetType string    `gorm:"not null" bson:"targetType" json:"targetType"`
	TargetID   string    `gorm:"index;not null" bson:"targetId" json:"targetId"`
	Details    string    `bson:"details" json:"details"`
	CreatedAt  time.Time `bson:"createdAt" json:"createdAt"`
}

// TableName keeps the audit table name stable across backends.
func (AuditEntry) TableName() string { return "audit_logs" }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
