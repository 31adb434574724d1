package local

import (
	"context"
	"fmt"
	"time"

	"wayleave/internal/backend"
	"wayleave/internal/model"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type DemoUser struct {
	CPR      string
	Name     string
	Password string
	Role     model.Role
}

var DemoUsers = []DemoUser{
	{CPR: "123456789", Name: "Admin User", Password: "admin", Role: model.RoleAdmin},
	{CPR: "987654321", Name: "EDD Planner", Password: "edd", Role: model.RolePlanner},
	{CPR: "112233445", Name: "Consultant", Password: "consult", Role: model.RoleReviewer},
}

// SeedDemo installs the demo users and, when the record table is empty, the
// demo records. Users that already exist are left alone.
func (b *Backend) SeedDemo(ctx context.Context, loginDomain string) error {
	for _, u := range DemoUsers {
		if err := b.seedUser(ctx, loginDomain, u); err != nil {
			return fmt.Errorf("failed to seed user %s: %w", u.CPR, err)
		}
	}

	existing, err := b.Select(ctx, backend.TableRecords, backend.Query{})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	for _, row := range b.demoRecords() {
		if _, err := b.Insert(ctx, backend.TableRecords, row); err != nil {
			return fmt.Errorf("failed to seed record %v: %w", row["wayleave_number"], err)
		}
	}
	b.logger.Info("Seeded demo data", "users", len(DemoUsers), "records", 3)
	return nil
}

func (b *Backend) seedUser(ctx context.Context, loginDomain string, u DemoUser) error {
	login := normalizeLogin(model.LoginFromCPR(u.CPR, loginDomain))

	b.mu.Lock()
	_, exists := b.identities[login]
	b.mu.Unlock()
	if exists {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	ident := identity{
		ID:        uuid.NewString(),
		Login:     login,
		Hash:      hash,
		Confirmed: true,
		CreatedAt: b.now().UTC(),
	}

	b.mu.Lock()
	b.identities[login] = ident
	err = b.saveJSON(ctx, keyIdentities, b.identities)
	b.mu.Unlock()
	if err != nil {
		return err
	}

	_, err = b.Insert(ctx, backend.TableProfiles, backend.Row{
		"id":   ident.ID,
		"cpr":  u.CPR,
		"name": u.Name,
		"role": string(u.Role),
	})
	return err
}

func (b *Backend) demoRecords() []backend.Row {
	now := b.now().UTC()
	daysAgo := func(d int) time.Time { return now.Add(-time.Duration(d) * 24 * time.Hour) }
	uris := func(id string, files ...string) []string {
		out := make([]string, len(files))
		for i, f := range files {
			out[i] = b.PublicURI(backend.AttachmentPath(id, f))
		}
		return out
	}

	return []backend.Row{
		{
			"id": "demo-3", "created_at": daysAgo(30),
			"wayleave_number": "WL-2024-003", "usp_number": "USP-103", "rcc_number": "RCC-203", "msp_number": "MSP-303",
			"status":      string(model.StatusSentToAreaEngineer),
			"to_edd_date": daysAgo(30), "to_mow_date": daysAgo(25), "from_mow_date": daysAgo(15), "to_area_engineer_date": daysAgo(10),
			"attachments":     uris("demo-3", "final-docs.zip"),
			"remarks":         "All approvals received. Sent for execution.",
			"last_updated_by": "Consultation Team - 112233445",
		},
		{
			"id": "demo-2", "created_at": daysAgo(10),
			"wayleave_number": "WL-2024-002", "usp_number": "USP-102", "rcc_number": "RCC-202", "msp_number": "MSP-302",
			"status":      string(model.StatusSentToMOW),
			"to_edd_date": daysAgo(10), "to_mow_date": daysAgo(5), "from_mow_date": nil, "to_area_engineer_date": nil,
			"attachments":     uris("demo-2", "site-plan.pdf", "approval-request.docx"),
			"remarks":         "Forwarded to Ministry of Works for approval.",
			"last_updated_by": "Consultation Team - 112233445",
		},
		{
			"id": "demo-1", "created_at": daysAgo(2),
			"wayleave_number": "WL-2024-001", "usp_number": "USP-101", "rcc_number": "RCC-201", "msp_number": "MSP-301",
			"status":      string(model.StatusPending),
			"to_edd_date": daysAgo(2), "to_mow_date": nil, "from_mow_date": nil, "to_area_engineer_date": nil,
			"attachments":     uris("demo-1", "drawing-v1.pdf"),
			"remarks":         "Initial submission for review.",
			"last_updated_by": "EDD Planning - 987654321",
		},
	}
}
