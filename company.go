package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// CreateCompanyRequest registers a company. When AdminPersonID is set the
// person gets (or keeps) an admin account that becomes the company admin.
type CreateCompanyRequest struct {
	Name               string `json:"name" validate:"required,max=200"`
	RegistrationNumber string `json:"registrationNumber" validate:"required"`
	Industry           string `json:"industry"`
	Size               int    `json:"size" validate:"gte=0"`
	AdminPersonID      string `json:"adminPersonId"`
}

// CompanyCreated reports the new company, its admin and the persons linked
// to it by their denormalized company name.
type CompanyCreated struct {
	Company  *Company              `json:"company"`
	Admin    *ParticipantOutcome   `json:"admin,omitempty"`
	Linked   int64                 `json:"linked"`
	Notified []NotificationOutcome `json:"notified"`
}

// CreateCompany creates a company and links every person whose companyName
// matches its name case-insensitively.
func (e *Engine) CreateCompany(ctx context.Context, req CreateCompanyRequest) (*CompanyCreated, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.RegistrationNumber = strings.TrimSpace(req.RegistrationNumber)
	req.AdminPersonID = strings.TrimSpace(req.AdminPersonID)
	if err := e.validateStruct(&req); err != nil {
		return nil, err
	}

	var (
		adminProv   *Provisioned
		adminPerson *Person
	)
	if req.AdminPersonID != "" {
		person, err := e.store.GetPerson(ctx, req.AdminPersonID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, newMembershipError(ErrNotFound, req.AdminPersonID, "", "Admin employee not found: %s", req.AdminPersonID)
			}
			return nil, fmt.Errorf("failed to fetch person: %w", err)
		}
		if adminProv, err = e.provisionPerson(ctx, person, RoleAdmin); err != nil {
			return nil, err
		}
		adminPerson = person
	}

	company := &Company{
		Name:               req.Name,
		RegistrationNumber: req.RegistrationNumber,
		Industry:           req.Industry,
		Size:               req.Size,
	}
	if adminProv != nil {
		company.AdminAccountID = ptr(adminProv.Account.ID)
	}
	if err := e.store.CreateCompany(ctx, company); err != nil {
		return nil, fmt.Errorf("failed to create company: %w", err)
	}

	linked, err := e.store.LinkPersonsToCompany(ctx, company.Name, company.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to link persons: %w", err)
	}

	out := &CompanyCreated{Company: company, Linked: linked, Notified: []NotificationOutcome{}}
	if adminProv != nil {
		o := outcomeOf(&participant{RequestedID: req.AdminPersonID, Person: adminPerson}, adminProv)
		out.Admin = &o
		if adminProv.Created {
			out.Notified = e.dispatchAll(ctx, []Notification{credentialNotification(adminProv, adminPerson, "", "")})
		}
	}

	e.log.Info("company created", zap.String("company_id", company.ID), zap.Int64("linked", linked))
	e.logAudit(ctx, "create_company", "company", company.ID, "Created company: "+company.Name)
	return out, nil
}

// GetCompany retrieves a company by ID.
func (e *Engine) GetCompany(ctx context.Context, id string) (*Company, error) {
	if id == "" {
		return nil, ErrInvalidInput
	}
	c, err := e.store.GetCompany(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, newMembershipError(ErrNotFound, id, "", "Company %s not found", id)
		}
		return nil, fmt.Errorf("failed to fetch company: %w", err)
	}
	return c, nil
}

// ListCompanies returns every company, newest first.
func (e *Engine) ListCompanies(ctx context.Context) ([]Company, error) {
	companies, err := e.store.ListCompanies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list companies: %w", err)
	}
	if companies == nil {
		companies = []Company{}
	}
	return companies, nil
}
