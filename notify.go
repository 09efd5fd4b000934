package membership

import (
	"context"
	"errors"
)

// NotificationKind names the event a notification carries.
type NotificationKind string

const (
	// KindCredentials delivers a newly generated login credential.
	KindCredentials NotificationKind = "credentials"
	// KindGroupCreated tells the admin a group was finalized.
	KindGroupCreated NotificationKind = "group_created"
)

// Notification is one message to one recipient.
type Notification struct {
	Recipient string            `json:"recipient"`
	Kind      NotificationKind  `json:"kind"`
	Payload   map[string]string `json:"payload"`
}

// Dispatcher delivers notifications. A returned error marks that single
// delivery as failed; it never affects membership state.
type Dispatcher interface {
	Send(ctx context.Context, n Notification) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, n Notification) error

func (f DispatcherFunc) Send(ctx context.Context, n Notification) error { return f(ctx, n) }

// ErrDispatcherUnavailable is reported when no dispatcher was configured.
var ErrDispatcherUnavailable = errors.New("notification dispatcher not configured")

type unavailableDispatcher struct{}

func (unavailableDispatcher) Send(context.Context, Notification) error {
	return ErrDispatcherUnavailable
}

// NotificationOutcome reports one delivery attempt.
type NotificationOutcome struct {
	Email   string           `json:"email"`
	Kind    NotificationKind `json:"kind"`
	Success bool             `json:"success"`
	Error   string           `json:"error,omitempty"`
}

func credentialNotification(p *Provisioned, person *Person, groupName, departmentName string) Notification {
	return Notification{
		Recipient: p.Account.LoginEmail,
		Kind:      KindCredentials,
		Payload: map[string]string{
			"name":       person.FullName(),
			"role":       string(p.Account.Role),
			"loginEmail": p.Account.LoginEmail,
			"password":   p.Credential,
			"group":      groupName,
			"department": departmentName,
		},
	}
}
