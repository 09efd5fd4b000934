package membership

import (
	"context"
	"errors"
	"fmt"
)

// Verdict is the outcome of a membership invariant check.
type Verdict int

const (
	VerdictOK Verdict = iota
	VerdictAlreadyAssignedHere
	VerdictAlreadyInGroup
	VerdictRoleConflict
)

func (v Verdict) String() string {
	switch v {
	case VerdictOK:
		return "ok"
	case VerdictAlreadyAssignedHere:
		return "alreadyAssignedHere"
	case VerdictAlreadyInGroup:
		return "alreadyInGroup"
	case VerdictRoleConflict:
		return "roleConflict"
	}
	return "unknown"
}

// Assessment is what CanAssign found about one person.
type Assessment struct {
	Verdict Verdict
	Person  *Person
	Role    Role
	// Account is the person's existing account of Role, nil if none yet.
	Account *RoleAccount
	// ConflictingRole is set for VerdictRoleConflict.
	ConflictingRole Role
	// OtherGroupID is set for VerdictAlreadyInGroup.
	OtherGroupID string
}

// Err converts a rejecting verdict into an error naming the person.
// VerdictOK and VerdictAlreadyAssignedHere return nil.
func (a *Assessment) Err() error {
	switch a.Verdict {
	case VerdictRoleConflict:
		return roleConflict(a.Person, a.ConflictingRole, a.Role)
	case VerdictAlreadyInGroup:
		return newMembershipError(ErrAlreadyInGroup, a.Person.ID, a.Person.FullName(),
			"%s %s is already assigned to another group", titleRole(a.Role), a.Person.FullName())
	}
	return nil
}

// CanAssign evaluates, in order: role exclusivity, an existing assignment to
// groupID, an assignment to another group. groupID may be empty for a group
// that does not exist yet.
func (e *Engine) CanAssign(ctx context.Context, personID string, role Role, groupID string) (*Assessment, error) {
	if !role.Groupable() {
		return nil, fmt.Errorf("%w: role %q cannot join a group", ErrInvalidInput, role)
	}
	person, err := e.store.GetPerson(ctx, personID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, newMembershipError(ErrNotFound, personID, "", "Person %s not found", personID)
		}
		return nil, fmt.Errorf("failed to fetch person: %w", err)
	}
	return e.assess(ctx, person, role, groupID)
}

func (e *Engine) assess(ctx context.Context, person *Person, role Role, groupID string) (*Assessment, error) {
	a := &Assessment{Verdict: VerdictOK, Person: person, Role: role}

	other, _ := role.Exclusive()
	held, err := e.findAccount(ctx, other, person.ID)
	if err != nil {
		return nil, err
	}
	if held != nil {
		a.Verdict = VerdictRoleConflict
		a.ConflictingRole = other
		return a, nil
	}

	account, err := e.findAccount(ctx, role, person.ID)
	if err != nil {
		return nil, err
	}
	a.Account = account
	if account == nil {
		return a, nil
	}

	current := account.AssignedGroup()
	switch {
	case current != "" && current == groupID:
		a.Verdict = VerdictAlreadyAssignedHere
	case current != "":
		a.Verdict = VerdictAlreadyInGroup
		a.OtherGroupID = current
	}
	return a, nil
}

// participant is a request id resolved to a person and, when the id named an
// account, that account.
type participant struct {
	RequestedID string
	Person      *Person
	Account     *RoleAccount
}

// resolve accepts either an account id of role or a person id.
func (e *Engine) resolve(ctx context.Context, id string, role Role) (*participant, error) {
	account, err := e.store.GetAccount(ctx, role, id)
	switch {
	case err == nil:
		account.Role = role
		person, perr := e.store.GetPerson(ctx, account.PersonID)
		if perr != nil {
			if errors.Is(perr, ErrNotFound) {
				return nil, newMembershipError(ErrNotFound, id, account.LoginEmail,
					"%s account %s has no person record", titleRole(role), account.LoginEmail)
			}
			return nil, fmt.Errorf("failed to fetch person: %w", perr)
		}
		return &participant{RequestedID: id, Person: person, Account: account}, nil
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("failed to fetch %s account: %w", role, err)
	}

	person, err := e.store.GetPerson(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, newMembershipError(ErrNotFound, id, "", "%s employee not found: %s", titleRole(role), id)
		}
		return nil, fmt.Errorf("failed to fetch person: %w", err)
	}
	return &participant{RequestedID: id, Person: person}, nil
}

// firstDuplicate returns the first id that appears more than once.
func firstDuplicate(ids []string) (string, bool) {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return id, true
		}
		seen[id] = struct{}{}
	}
	return "", false
}

func duplicateSelection(id, name string) *MembershipError {
	subject := name
	if subject == "" {
		subject = id
	}
	return newMembershipError(ErrDuplicateSelection, id, name, "Trainee %s is selected multiple times", subject)
}

func titleRole(r Role) string {
	switch r {
	case RoleAdmin:
		return "Admin"
	case RoleSupervisor:
		return "Supervisor"
	case RoleTrainee:
		return "Trainee"
	}
	return string(r)
}
