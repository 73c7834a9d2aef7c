package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hitoshi/saaskit/internal/model"
)

const organizationColumns = `id, name, stripe_customer_id, is_subscribed, subscription_id, stripe_price_id, created_at`

// PostgresOrganizationRepo はPostgreSQLを使用した組織リポジトリ。
type PostgresOrganizationRepo struct {
	db *sql.DB
}

// NewPostgresOrganizationRepo はPostgresOrganizationRepoを生成する。
func NewPostgresOrganizationRepo(db *sql.DB) *PostgresOrganizationRepo {
	return &PostgresOrganizationRepo{db: db}
}

func scanOrganization(row rowScanner) (*model.Organization, error) {
	org := &model.Organization{}
	var customerID, subscriptionID, priceID sql.NullString
	if err := row.Scan(
		&org.ID, &org.Name, &customerID, &org.IsSubscribed,
		&subscriptionID, &priceID, &org.CreatedAt,
	); err != nil {
		return nil, err
	}
	org.StripeCustomerID = customerID.String
	org.SubscriptionID = subscriptionID.String
	org.StripePriceID = priceID.String
	return org, nil
}

func (r *PostgresOrganizationRepo) findOne(ctx context.Context, where, arg string) (*model.Organization, error) {
	org, err := scanOrganization(r.db.QueryRowContext(ctx,
		`SELECT `+organizationColumns+` FROM organizations WHERE `+where,
		arg,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return org, nil
}

// FindByID は指定IDの組織を取得する。見つからない場合はnilを返す。
func (r *PostgresOrganizationRepo) FindByID(ctx context.Context, id string) (*model.Organization, error) {
	org, err := r.findOne(ctx, `id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find organization by ID: %w", err)
	}
	return org, nil
}

// FindByCustomerID は顧客参照で組織を検索する。見つからない場合はnilを返す。
func (r *PostgresOrganizationRepo) FindByCustomerID(ctx context.Context, customerID string) (*model.Organization, error) {
	org, err := r.findOne(ctx, `stripe_customer_id = $1`, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to find organization by customer ID: %w", err)
	}
	return org, nil
}

// MarkSubscribed は組織を購読中にする。
// 同じイベントを再適用しても結果は変わらない。
// orgIDがUUIDとして解釈できない場合は該当なしとして扱い、クエリを発行しない。
func (r *PostgresOrganizationRepo) MarkSubscribed(ctx context.Context, orgID, customerID, subscriptionID string) (bool, error) {
	if _, err := uuid.Parse(orgID); err != nil {
		return false, nil
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE organizations
		 SET stripe_customer_id = $2, subscription_id = $3, is_subscribed = true
		 WHERE id = $1`,
		orgID, customerID, nullString(subscriptionID),
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark organization subscribed: %w", err)
	}
	return affected(result)
}

// MarkUnsubscribed は顧客参照に一致する組織の購読を解除する。
// subscriptionIDが空の場合、または保存済みの参照が空の場合は参照の一致を問わない。
func (r *PostgresOrganizationRepo) MarkUnsubscribed(ctx context.Context, customerID, subscriptionID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE organizations
		 SET is_subscribed = false, subscription_id = NULL
		 WHERE stripe_customer_id = $1
		   AND (subscription_id IS NULL OR $2::text = '' OR subscription_id = $2)`,
		customerID, subscriptionID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark organization unsubscribed: %w", err)
	}
	return affected(result)
}

// Rename は組織名を変更する。
func (r *PostgresOrganizationRepo) Rename(ctx context.Context, orgID, name string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE organizations SET name = $2 WHERE id = $1`,
		orgID, name,
	)
	if err != nil {
		return fmt.Errorf("failed to rename organization: %w", err)
	}
	ok, err := affected(result)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("organization not found: %s", orgID)
	}
	return nil
}

// List は全組織を作成日時順に返す。
func (r *PostgresOrganizationRepo) List(ctx context.Context) ([]*model.Organization, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+organizationColumns+` FROM organizations ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []*model.Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		orgs = append(orgs, org)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate organizations: %w", err)
	}
	return orgs, nil
}

func affected(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// compile-time interface check
var _ OrganizationRepository = (*PostgresOrganizationRepo)(nil)
