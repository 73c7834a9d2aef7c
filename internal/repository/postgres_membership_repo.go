package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/saaskit/internal/model"
)

// PostgresMembershipRepo はPostgreSQLを使用したメンバーシップリポジトリ。
type PostgresMembershipRepo struct {
	db *sql.DB
}

// NewPostgresMembershipRepo はPostgresMembershipRepoを生成する。
func NewPostgresMembershipRepo(db *sql.DB) *PostgresMembershipRepo {
	return &PostgresMembershipRepo{db: db}
}

// ListByUser はユーザーのメンバーシップを組織情報付きで返す。
// 先頭の要素がユーザーの既定の組織になる。
func (r *PostgresMembershipRepo) ListByUser(ctx context.Context, userID string) ([]model.MembershipWithOrganization, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT m.user_id, m.organization_id, m.role, m.created_at,
		        o.id, o.name, o.stripe_customer_id, o.is_subscribed, o.subscription_id, o.stripe_price_id, o.created_at
		 FROM memberships m
		 JOIN organizations o ON o.id = m.organization_id
		 WHERE m.user_id = $1
		 ORDER BY o.created_at, o.id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var result []model.MembershipWithOrganization
	for rows.Next() {
		var mo model.MembershipWithOrganization
		var role string
		var customerID, subscriptionID, priceID sql.NullString
		if err := rows.Scan(
			&mo.UserID, &mo.OrganizationID, &role, &mo.Membership.CreatedAt,
			&mo.Organization.ID, &mo.Organization.Name, &customerID, &mo.Organization.IsSubscribed,
			&subscriptionID, &priceID, &mo.Organization.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		mo.Role = model.Role(role)
		mo.Organization.StripeCustomerID = customerID.String
		mo.Organization.SubscriptionID = subscriptionID.String
		mo.Organization.StripePriceID = priceID.String
		result = append(result, mo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memberships: %w", err)
	}
	return result, nil
}

// Find はユーザーと組織のメンバーシップを取得する。見つからない場合はnilを返す。
func (r *PostgresMembershipRepo) Find(ctx context.Context, userID, orgID string) (*model.Membership, error) {
	m := &model.Membership{}
	var role string
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, organization_id, role, created_at
		 FROM memberships
		 WHERE user_id = $1 AND organization_id = $2`,
		userID, orgID,
	).Scan(&m.UserID, &m.OrganizationID, &role, &m.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find membership: %w", err)
	}
	m.Role = model.Role(role)

	return m, nil
}

// compile-time interface check
var _ MembershipRepository = (*PostgresMembershipRepo)(nil)
