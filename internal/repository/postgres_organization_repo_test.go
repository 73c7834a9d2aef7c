package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/hitoshi/saaskit/internal/model"
)

var orgRowColumns = []string{"id", "name", "stripe_customer_id", "is_subscribed", "subscription_id", "stripe_price_id", "created_at"}

func TestPostgresOrganizationRepo_FindByID_MapsNullableColumns(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresOrganizationRepo(db)

	mock.ExpectQuery(`SELECT (.+) FROM organizations WHERE id = \$1`).
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows(orgRowColumns).
			AddRow("org-1", "a's Team", nil, false, nil, nil, time.Now()))

	org, err := repo.FindByID(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if org.HasCustomer() {
		t.Error("expected no customer reference")
	}
	if org.SubscriptionID != "" || org.IsSubscribed {
		t.Errorf("unexpected subscription state: %+v", org)
	}
	assertExpectations(t, mock)
}

func TestPostgresOrganizationRepo_FindByCustomerID_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresOrganizationRepo(db)

	mock.ExpectQuery(`SELECT (.+) FROM organizations WHERE stripe_customer_id = \$1`).
		WithArgs("cus_missing").
		WillReturnError(sql.ErrNoRows)

	org, err := repo.FindByCustomerID(context.Background(), "cus_missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if org != nil {
		t.Errorf("expected nil, got %+v", org)
	}
	assertExpectations(t, mock)
}

const testOrgID = "6f1c1f0e-3d4b-4a5e-9c2d-8b7a6e5f4d3c"

func TestPostgresOrganizationRepo_MarkSubscribed(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "existing organization", affected: 1, want: true},
		{name: "unknown organization", affected: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			repo := NewPostgresOrganizationRepo(db)

			mock.ExpectExec(`UPDATE organizations\s+SET stripe_customer_id = \$2, subscription_id = \$3, is_subscribed = true\s+WHERE id = \$1`).
				WithArgs(testOrgID, "cus_1", "sub_1").
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			got, err := repo.MarkSubscribed(context.Background(), testOrgID, "cus_1", "sub_1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("MarkSubscribed = %v, want %v", got, tt.want)
			}
			assertExpectations(t, mock)
		})
	}
}

func TestPostgresOrganizationRepo_MarkSubscribed_NonUUIDOrganization_NoQuery(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresOrganizationRepo(db)

	for _, orgID := range []string{"org-1", "not-a-uuid", "1 OR 1=1"} {
		got, err := repo.MarkSubscribed(context.Background(), orgID, "cus_1", "sub_1")
		if err != nil {
			t.Fatalf("MarkSubscribed(%q): unexpected error: %v", orgID, err)
		}
		if got {
			t.Errorf("MarkSubscribed(%q) = true, want false", orgID)
		}
	}
	// Execが期待されていないので、クエリが発行されていればここで失敗する
	assertExpectations(t, mock)
}

func TestPostgresOrganizationRepo_MarkUnsubscribed_GuardsStaleSubscription(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresOrganizationRepo(db)

	mock.ExpectExec(`UPDATE organizations\s+SET is_subscribed = false, subscription_id = NULL\s+WHERE stripe_customer_id = \$1\s+AND \(subscription_id IS NULL OR \$2::text = '' OR subscription_id = \$2\)`).
		WithArgs("cus_1", "sub_old").
		WillReturnResult(sqlmock.NewResult(0, 0))

	got, err := repo.MarkUnsubscribed(context.Background(), "cus_1", "sub_old")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got {
		t.Error("expected no row to change")
	}
	assertExpectations(t, mock)
}

func TestPostgresOrganizationRepo_Rename_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresOrganizationRepo(db)

	mock.ExpectExec(`UPDATE organizations SET name = \$2 WHERE id = \$1`).
		WithArgs("missing", "New Name").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.Rename(context.Background(), "missing", "New Name"); err == nil {
		t.Fatal("expected error for unknown organization")
	}
	assertExpectations(t, mock)
}

func TestPostgresOrganizationRepo_List(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresOrganizationRepo(db)
	now := time.Now()

	mock.ExpectQuery(`SELECT (.+) FROM organizations ORDER BY created_at`).
		WillReturnRows(sqlmock.NewRows(orgRowColumns).
			AddRow("o1", "One", "cus_1", true, "sub_1", "price_1", now).
			AddRow("o2", "Two", nil, false, nil, nil, now))

	orgs, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(orgs) != 2 {
		t.Fatalf("len(orgs) = %d, want 2", len(orgs))
	}
	if orgs[0].StripeCustomerID != "cus_1" || !orgs[0].IsSubscribed || orgs[0].StripePriceID != "price_1" {
		t.Errorf("unexpected first org: %+v", orgs[0])
	}
	assertExpectations(t, mock)
}

func TestPostgresMembershipRepo_ListByUser_JoinsOrganization(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresMembershipRepo(db)
	now := time.Now()

	mock.ExpectQuery(`SELECT (.+) FROM memberships m\s+JOIN organizations o`).
		WithArgs("u").
		WillReturnRows(sqlmock.NewRows([]string{
			"user_id", "organization_id", "role", "created_at",
			"id", "name", "stripe_customer_id", "is_subscribed", "subscription_id", "stripe_price_id", "created_at",
		}).
			AddRow("u", "o1", "owner", now, "o1", "u's Team", "cus_1", true, "sub_1", nil, now).
			AddRow("u", "o2", "member", now, "o2", "Other", nil, false, nil, nil, now))

	list, err := repo.ListByUser(context.Background(), "u")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].Role != model.RoleOwner || list[0].Organization.Name != "u's Team" || !list[0].Organization.IsSubscribed {
		t.Errorf("unexpected first membership: %+v", list[0])
	}
	if list[1].Role != model.RoleMember || list[1].Organization.HasCustomer() {
		t.Errorf("unexpected second membership: %+v", list[1])
	}
	assertExpectations(t, mock)
}

func TestPostgresMembershipRepo_Find_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresMembershipRepo(db)

	mock.ExpectQuery(`SELECT (.+) FROM memberships`).
		WithArgs("u", "o").
		WillReturnError(sql.ErrNoRows)

	m, err := repo.Find(context.Background(), "u", "o")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m != nil {
		t.Errorf("expected nil, got %+v", m)
	}
	assertExpectations(t, mock)
}
