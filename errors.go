package membership

import (
	"errors"
	"fmt"
)

// Custom errors
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrNotFound            = errors.New("resource not found")
	ErrAlreadyExists       = errors.New("resource already exists")
	ErrRoleConflict        = errors.New("role conflict")
	ErrAlreadyInGroup      = errors.New("already assigned to another group")
	ErrAlreadyAssignedHere = errors.New("already assigned to this group")
	ErrNotInGroup          = errors.New("not assigned to this group")
	ErrDuplicateSelection  = errors.New("duplicate selection")

	// ErrDuplicateKey is returned by stores when a unique index rejects a write.
	ErrDuplicateKey = errors.New("duplicate key")
)

// MembershipError names the entity a rule rejected and the rule itself.
// It unwraps to one of the sentinel errors above.
type MembershipError struct {
	Kind      error
	SubjectID string
	Subject   string
	Message   string
}

func (e *MembershipError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Subject != "" {
		return fmt.Sprintf("%s: %s", e.Subject, e.Kind)
	}
	return e.Kind.Error()
}

func (e *MembershipError) Unwrap() error { return e.Kind }

func newMembershipError(kind error, subjectID, subject, format string, args ...any) *MembershipError {
	return &MembershipError{
		Kind:      kind,
		SubjectID: subjectID,
		Subject:   subject,
		Message:   fmt.Sprintf(format, args...),
	}
}

// Reason is the machine readable cause attached to a rejected element of a
// bulk operation.
type Reason string

const (
	ReasonNotFound           Reason = "notFound"
	ReasonRoleConflict       Reason = "roleConflict"
	ReasonInAnotherGroup     Reason = "inAnotherGroup"
	ReasonDuplicateSelection Reason = "duplicateSelection"
	ReasonInvalid            Reason = "invalid"
	ReasonProvisioningFailed Reason = "provisioningFailed"
)

// ReasonOf classifies err into a Reason.
func ReasonOf(err error) Reason {
	switch {
	case errors.Is(err, ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, ErrRoleConflict):
		return ReasonRoleConflict
	case errors.Is(err, ErrAlreadyInGroup):
		return ReasonInAnotherGroup
	case errors.Is(err, ErrDuplicateSelection):
		return ReasonDuplicateSelection
	case errors.Is(err, ErrInvalidInput):
		return ReasonInvalid
	}
	return ReasonProvisioningFailed
}

// Rejection describes one element of a bulk request that was not applied.
type Rejection struct {
	ID      string `json:"id"`
	Reason  Reason `json:"reason"`
	Message string `json:"message"`
}

func rejectionFor(id string, err error) Rejection {
	return Rejection{ID: id, Reason: ReasonOf(err), Message: err.Error()}
}
