package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/saaskit/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation = "23505"

const userColumns = `id, email, password_hash, is_admin, confirmed, confirmed_on, api_key, created_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

func scanUser(row rowScanner) (*model.User, error) {
	user := &model.User{}
	var passwordHash sql.NullString
	var confirmedOn sql.NullTime
	if err := row.Scan(
		&user.ID, &user.Email, &passwordHash, &user.IsAdmin,
		&user.Confirmed, &confirmedOn, &user.APIKey, &user.CreatedAt,
	); err != nil {
		return nil, err
	}
	user.PasswordHash = passwordHash.String
	if confirmedOn.Valid {
		t := confirmedOn.Time
		user.ConfirmedOn = &t
	}
	return user, nil
}

func (r *PostgresUserRepo) findOne(ctx context.Context, where string, arg string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+where,
		arg,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := r.findOne(ctx, `id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。大文字小文字は区別しない。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := r.findOne(ctx, `lower(email) = lower($1)`, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// FindByAPIKey はAPIキーでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByAPIKey(ctx context.Context, apiKey string) (*model.User, error) {
	user, err := r.findOne(ctx, `api_key = $1`, apiKey)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by API key: %w", err)
	}
	return user, nil
}

// CreateWithOrganization はユーザー、組織、メンバーシップを同一トランザクションで作成する。
func (r *PostgresUserRepo) CreateWithOrganization(ctx context.Context, user *model.User, org *model.Organization, membership *model.Membership) error {
	return r.create(ctx, user, nil, org, membership)
}

// CreateWithIdentity はユーザー、identity、組織、メンバーシップを同一トランザクションで作成する。
func (r *PostgresUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity, org *model.Organization, membership *model.Membership) error {
	return r.create(ctx, user, identity, org, membership)
}

func (r *PostgresUserRepo) create(ctx context.Context, user *model.User, identity *model.Identity, org *model.Organization, membership *model.Membership) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// ユーザーを作成。api_keyはDBのデフォルト値で1度だけ生成される
	err = tx.QueryRowContext(ctx,
		`INSERT INTO users (id, email, password_hash, is_admin, confirmed, confirmed_on)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING api_key, created_at`,
		user.ID, user.Email, nullString(user.PasswordHash), user.IsAdmin, user.Confirmed, user.ConfirmedOn,
	).Scan(&user.APIKey, &user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}

	if identity != nil {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO identities (id, user_id, provider, provider_user_id)
			 VALUES ($1, $2, $3, $4)`,
			identity.ID, identity.UserID, identity.Provider, identity.ProviderUserID,
		)
		if err != nil {
			return fmt.Errorf("failed to insert identity: %w", err)
		}
	}

	// 組織を作成
	err = tx.QueryRowContext(ctx,
		`INSERT INTO organizations (id, name)
		 VALUES ($1, $2)
		 RETURNING created_at`,
		org.ID, org.Name,
	).Scan(&org.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert organization: %w", err)
	}

	// メンバーシップを作成
	_, err = tx.ExecContext(ctx,
		`INSERT INTO memberships (user_id, organization_id, role)
		 VALUES ($1, $2, $3)`,
		membership.UserID, membership.OrganizationID, string(membership.Role),
	)
	if err != nil {
		return fmt.Errorf("failed to insert membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// MarkConfirmed はユーザーをメール確認済みにする。
// 確認済みの場合はconfirmed_onを変更しない。
func (r *PostgresUserRepo) MarkConfirmed(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET confirmed = true, confirmed_on = $2
		 WHERE id = $1 AND confirmed = false`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("failed to mark user confirmed: %w", err)
	}
	return nil
}

// UpdatePassword はパスワードハッシュを更新する。
func (r *PostgresUserRepo) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $2 WHERE id = $1`,
		id, passwordHash,
	)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", id)
	}
	return nil
}

// DeleteByID は指定IDのユーザーを削除する。
// 関連するidentities、memberships、sessionsはCASCADE削除される。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM users WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", id)
	}
	return nil
}

// List は全ユーザーを作成日時順に返す。
func (r *PostgresUserRepo) List(ctx context.Context) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
