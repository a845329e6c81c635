package syncer

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/evgenich/amosheets/internal/amocrm"
	"github.com/evgenich/amosheets/internal/sheets"
)

// unknownStage is the placeholder when a stage cannot be resolved.
const unknownStage = "Неизвестный этап"

// sourceTag marks every synced row with its origin system.
const sourceTag = "AMO CRM"

// EntityResolver is the slice of the CRM client the formatter needs.
type EntityResolver interface {
	GetPipelines(ctx context.Context) ([]amocrm.Pipeline, error)
	GetUser(ctx context.Context, userID int64) *amocrm.User
	GetContact(ctx context.Context, contactID int64) *amocrm.Contact
	GetCompany(ctx context.Context, companyID int64) *amocrm.Company
}

// Formatter projects a raw deal plus its related entities into a flat
// 13-column row.
type Formatter struct {
	crm EntityResolver
}

// NewFormatter creates a formatter resolving related entities through crm.
func NewFormatter(crm EntityResolver) *Formatter {
	return &Formatter{crm: crm}
}

// Format resolves pipelines, the responsible user and all linked contacts
// and companies concurrently, then flattens the deal into a Row. Only the
// pipeline lookup can fail; user, contact and company lookups are best
// effort and degrade to empty cells.
func (f *Formatter) Format(ctx context.Context, deal *amocrm.Deal) (sheets.Row, error) {
	var (
		pipelines []amocrm.Pipeline
		user      *amocrm.User
		contacts  []*amocrm.Contact
		companies []*amocrm.Company
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		pipelines, err = f.crm.GetPipelines(gctx)
		if err != nil {
			return fmt.Errorf("resolve pipelines: %w", err)
		}
		return nil
	})

	if deal.ResponsibleUserID != 0 {
		g.Go(func() error {
			user = f.crm.GetUser(gctx, deal.ResponsibleUserID)
			return nil
		})
	}

	contactIDs := deal.ContactRefs()
	contacts = make([]*amocrm.Contact, len(contactIDs))
	for i, id := range contactIDs {
		g.Go(func() error {
			contacts[i] = f.crm.GetContact(gctx, id)
			return nil
		})
	}

	companyIDs := deal.CompanyRefs()
	companies = make([]*amocrm.Company, len(companyIDs))
	for i, id := range companyIDs {
		g.Go(func() error {
			companies[i] = f.crm.GetCompany(gctx, id)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return sheets.Row{}, err
	}

	row := sheets.Row{
		DealID:    deal.ID,
		Name:      deal.Name,
		Price:     deal.Price,
		CreatedAt: formatTimestamp(deal.CreatedAt),
		UpdatedAt: formatTimestamp(deal.UpdatedAt),
		Stage:     stageName(deal, pipelines),
		Status:    sheets.StatusActive,
		Source:    sourceTag,
	}
	if deal.IsDeleted {
		row.Status = sheets.StatusDeleted
	}
	if user != nil {
		row.Responsible = user.Name
	}
	if contact := firstContact(contacts); contact != nil {
		row.ContactName = contact.Name
		row.ContactPhone = contact.Phone()
		row.ContactEmail = contact.Email()
	}
	if company := firstCompany(companies); company != nil {
		row.Company = company.Name
	}
	return row, nil
}

// stageName resolves the deal's stage name via pipeline-id + status-id.
func stageName(deal *amocrm.Deal, pipelines []amocrm.Pipeline) string {
	for _, p := range pipelines {
		if p.ID != deal.PipelineID {
			continue
		}
		for _, st := range p.Statuses {
			if st.ID == deal.StatusID {
				return st.Name
			}
		}
		return unknownStage
	}
	return unknownStage
}

// formatTimestamp converts epoch seconds to RFC 3339 UTC, "" for zero.
func formatTimestamp(sec int64) string {
	if sec <= 0 {
		return ""
	}
	return time.Unix(sec, 0).UTC().Format(time.RFC3339)
}

// firstContact returns the first resolved contact, the "primary" one.
func firstContact(contacts []*amocrm.Contact) *amocrm.Contact {
	for _, c := range contacts {
		if c != nil {
			return c
		}
	}
	return nil
}

// firstCompany returns the first resolved company.
func firstCompany(companies []*amocrm.Company) *amocrm.Company {
	for _, c := range companies {
		if c != nil {
			return c
		}
	}
	return nil
}
