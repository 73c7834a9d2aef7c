// Package gate はロールとサブスクリプションに基づくアクセス判定を提供する。
// 判定は純粋関数で、I/Oを伴わない。拒否時のリダイレクトやエラー応答は呼び出し側が行う。
package gate

import "github.com/hitoshi/saaskit/internal/model"

// Kind はCapabilityの種類を表す。
type Kind int

const (
	// KindSubscribed は現在の組織が購読中であることを要求する。
	KindSubscribed Kind = iota
	// KindRole は現在の組織で特定のロールを持つことを要求する。
	KindRole
)

// Capability は保護された操作が要求する権限を表す。
type Capability struct {
	Kind Kind
	Role model.Role
}

// Subscribed は購読中の組織を要求するCapabilityを返す。
func Subscribed() Capability {
	return Capability{Kind: KindSubscribed}
}

// Role は指定ロールを要求するCapabilityを返す。
// ロールに上下関係はなく、完全一致のみを許可する。
func Role(role model.Role) Capability {
	return Capability{Kind: KindRole, Role: role}
}

// CurrentOrganization は判定対象ユーザーの現在の組織の状態。
type CurrentOrganization struct {
	ID           string
	IsSubscribed bool
	Role         model.Role
}

// Subject は判定対象のユーザーと現在の組織を表す。
// Organizationがnilの場合、ユーザーはどの組織にも所属していない。
type Subject struct {
	UserID       string
	Organization *CurrentOrganization
}

// Allow はSubjectがCapabilityを満たすかどうかを返す。
func Allow(subject Subject, capability Capability) bool {
	org := subject.Organization
	if org == nil {
		return false
	}

	switch capability.Kind {
	case KindSubscribed:
		return org.IsSubscribed
	case KindRole:
		return org.Role == capability.Role
	default:
		return false
	}
}

// Check はAllowが拒否した場合に、ユーザーに提示するエラーを返す。
// 許可された場合はnilを返す。
func Check(subject Subject, capability Capability) *model.APIError {
	if Allow(subject, capability) {
		return nil
	}
	if subject.Organization == nil {
		return model.NewNoOrganizationError()
	}
	return DenyError(capability)
}

// DenyError はCapabilityごとの拒否エラーを返す。
func DenyError(capability Capability) *model.APIError {
	if capability.Kind == KindRole {
		return model.NewRoleRequiredError(capability.Role)
	}
	return model.NewSubscriptionRequiredError()
}

// DenyMessage はCapabilityごとの拒否メッセージを返す。
func DenyMessage(capability Capability) string {
	return DenyError(capability).Message
}

// FromMembership はメンバーシップと組織からCurrentOrganizationを組み立てる。
func FromMembership(m *model.MembershipWithOrganization) *CurrentOrganization {
	if m == nil {
		return nil
	}
	return &CurrentOrganization{
		ID:           m.Organization.ID,
		IsSubscribed: m.Organization.IsSubscribed,
		Role:         m.Role,
	}
}

// SelectCurrent はユーザーのメンバーシップ一覧から現在の組織を選ぶ。
// preferredIDに所属していればそれを、そうでなければ先頭の組織を返す。
// 所属がない場合はnilを返す。
func SelectCurrent(memberships []model.MembershipWithOrganization, preferredID string) *model.MembershipWithOrganization {
	if len(memberships) == 0 {
		return nil
	}
	if preferredID != "" {
		for i := range memberships {
			if memberships[i].OrganizationID == preferredID {
				return &memberships[i]
			}
		}
	}
	return &memberships[0]
}
