package model

import "time"

// Role はメンバーシップのロールを表す。
// ロール間に上下関係はなく、判定は常に完全一致で行う。
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Valid は定義済みのロールかどうかを返す。
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	default:
		return false
	}
}

// Organization は課金とメンバーシップの単位を表す。
// IsSubscribedがtrueの場合、StripeCustomerIDは必ず設定されている。
type Organization struct {
	ID               string
	Name             string
	StripeCustomerID string
	IsSubscribed     bool
	SubscriptionID   string
	StripePriceID    string
	CreatedAt        time.Time
}

// HasCustomer は決済事業者側の顧客参照を保持しているかどうかを返す。
func (o *Organization) HasCustomer() bool {
	return o.StripeCustomerID != ""
}

// Membership はユーザーと組織の紐付けとロールを表す。
type Membership struct {
	UserID         string
	OrganizationID string
	Role           Role
	CreatedAt      time.Time
}

// MembershipWithOrganization はメンバーシップと組織情報を結合した構造体。
type MembershipWithOrganization struct {
	Membership
	Organization Organization
}

// DefaultOrganizationName は登録時に作成する組織の名前を返す。
func DefaultOrganizationName(email string) string {
	return EmailLocalPart(email) + "'s Team"
}

// AdminOrganizationName は管理者作成時に作成する組織の名前を返す。
func AdminOrganizationName(email string) string {
	return EmailLocalPart(email) + "'s Organization"
}
