// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/saaskit/internal/model"
)

// ErrDuplicateEmail はメールアドレスの一意制約違反を表す。
var ErrDuplicateEmail = errors.New("email already exists")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByAPIKey はAPIキーでユーザーを検索する。見つからない場合はnilを返す。
	FindByAPIKey(ctx context.Context, apiKey string) (*model.User, error)

	// CreateWithOrganization はユーザー、組織、メンバーシップを同一トランザクションで作成する。
	// APIキーと作成日時はDBが採番し、userに書き戻す。
	// メールアドレスが重複している場合はErrDuplicateEmailを返す。
	CreateWithOrganization(ctx context.Context, user *model.User, org *model.Organization, membership *model.Membership) error

	// CreateWithIdentity はCreateWithOrganizationに加えてidentityも同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity, org *model.Organization, membership *model.Membership) error

	// MarkConfirmed はユーザーをメール確認済みにする。確認済みの場合は何もしない。
	MarkConfirmed(ctx context.Context, id string, at time.Time) error

	// UpdatePassword はパスワードハッシュを更新する。
	UpdatePassword(ctx context.Context, id, passwordHash string) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するidentities、memberships、sessionsはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error

	// List は全ユーザーを作成日時順に返す。
	List(ctx context.Context) ([]*model.User, error)
}

// OrganizationRepository は組織データの永続化インターフェース。
// サブスクリプション関連の列はMarkSubscribed/MarkUnsubscribedのみが更新する。
type OrganizationRepository interface {
	// FindByID は指定IDの組織を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Organization, error)

	// FindByCustomerID は決済事業者の顧客参照で組織を検索する。見つからない場合はnilを返す。
	FindByCustomerID(ctx context.Context, customerID string) (*model.Organization, error)

	// MarkSubscribed は組織を購読中にし、顧客参照とサブスクリプション参照を保存する。
	// 単一のUPDATEで冪等に適用する。対象行が存在しない場合はfalseを返す。
	MarkSubscribed(ctx context.Context, orgID, customerID, subscriptionID string) (bool, error)

	// MarkUnsubscribed は顧客参照に一致する組織の購読を解除する。顧客参照は保持する。
	// 保存済みのサブスクリプション参照がsubscriptionIDと異なる場合は古いイベントとみなし更新しない。
	// 更新対象がない場合はfalseを返す。
	MarkUnsubscribed(ctx context.Context, customerID, subscriptionID string) (bool, error)

	// Rename は組織名を変更する。
	Rename(ctx context.Context, orgID, name string) error

	// List は全組織を作成日時順に返す。
	List(ctx context.Context) ([]*model.Organization, error)
}

// MembershipRepository はメンバーシップの永続化インターフェース。
type MembershipRepository interface {
	// ListByUser はユーザーのメンバーシップを組織情報付きで返す。
	// 組織の作成日時の昇順で並ぶ。
	ListByUser(ctx context.Context, userID string) ([]model.MembershipWithOrganization, error)

	// Find はユーザーと組織のメンバーシップを取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, userID, orgID string) (*model.Membership, error)
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)

	// Create は既存ユーザーにidentityを紐付ける。
	Create(ctx context.Context, identity *model.Identity) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// SetOrganization はセッションの選択中組織を更新する。
	SetOrganization(ctx context.Context, id, orgID string) error
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}
