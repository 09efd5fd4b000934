package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Provisioned is the result of Provision. Credential carries the plaintext
// password only when Created is true; it is never persisted.
type Provisioned struct {
	Account    *RoleAccount
	Created    bool
	Credential string
}

// Provision finds or creates the role account of personID for role.
func (e *Engine) Provision(ctx context.Context, personID string, role Role) (*Provisioned, error) {
	if personID == "" {
		return nil, ErrInvalidInput
	}
	person, err := e.store.GetPerson(ctx, personID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, newMembershipError(ErrNotFound, personID, "", "Person %s not found", personID)
		}
		return nil, fmt.Errorf("failed to fetch person: %w", err)
	}
	return e.provisionPerson(ctx, person, role)
}

func (e *Engine) provisionPerson(ctx context.Context, person *Person, role Role) (*Provisioned, error) {
	if other, ok := role.Exclusive(); ok {
		held, err := e.findAccount(ctx, other, person.ID)
		if err != nil {
			return nil, err
		}
		if held != nil {
			return nil, roleConflict(person, other, role)
		}
	}

	existing, err := e.findAccount(ctx, role, person.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &Provisioned{Account: existing}, nil
	}

	plain, err := e.creds.Generate()
	if err != nil {
		return nil, err
	}
	hash, err := e.creds.Hash(plain)
	if err != nil {
		return nil, err
	}

	account := &RoleAccount{
		Role:         role,
		LoginEmail:   strings.ToLower(strings.TrimSpace(person.Email)),
		PasswordHash: hash,
		PersonID:     person.ID,
	}
	if err := e.store.CreateAccount(ctx, account); err != nil {
		if !errors.Is(err, ErrDuplicateKey) {
			return nil, fmt.Errorf("failed to create %s account: %w", role, err)
		}
		// Lost a creation race: the winner's record is now visible.
		winner, ferr := e.findAccount(ctx, role, person.ID)
		if ferr != nil {
			return nil, ferr
		}
		if winner == nil {
			return nil, newMembershipError(ErrAlreadyExists, person.ID, person.FullName(),
				"Login email %s is already used by another %s account", account.LoginEmail, role)
		}
		e.log.Debug("duplicate account detected, using existing record",
			zap.String("person_id", person.ID), zap.String("role", string(role)))
		return &Provisioned{Account: winner}, nil
	}

	e.log.Info("role account provisioned",
		zap.String("person_id", person.ID),
		zap.String("role", string(role)),
		zap.String("account_id", account.ID))
	e.logAudit(ctx, "provision_account", string(role)+"_account", account.ID, "Provisioned account for "+account.LoginEmail)
	return &Provisioned{Account: account, Created: true, Credential: plain}, nil
}

// findAccount returns nil, nil when the person holds no account of role.
func (e *Engine) findAccount(ctx context.Context, role Role, personID string) (*RoleAccount, error) {
	a, err := e.store.FindAccountByPerson(ctx, role, personID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s account: %w", role, err)
	}
	a.Role = role
	return a, nil
}

func roleConflict(person *Person, held, wanted Role) *MembershipError {
	return newMembershipError(ErrRoleConflict, person.ID, person.FullName(),
		"Employee %s is already a %s and cannot be assigned as %s", person.FullName(), held, wanted)
}
