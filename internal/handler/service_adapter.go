package handler

import (
	"context"

	"github.com/hitoshi/saaskit/internal/auth"
	"github.com/hitoshi/saaskit/internal/billing"
	"github.com/hitoshi/saaskit/internal/model"
	"github.com/hitoshi/saaskit/internal/organization"
	"github.com/hitoshi/saaskit/internal/user"
)

// AdminServiceAdapter は organization.Service と user.Service を AdminServiceInterface に適合させるアダプタ。
type AdminServiceAdapter struct {
	orgs  *organization.Service
	users *user.Service
}

// NewAdminServiceAdapter はAdminServiceAdapterを生成する。
func NewAdminServiceAdapter(orgs *organization.Service, users *user.Service) *AdminServiceAdapter {
	return &AdminServiceAdapter{orgs: orgs, users: users}
}

// ListOrganizations は全組織を返す。
func (a *AdminServiceAdapter) ListOrganizations(ctx context.Context) ([]*model.Organization, error) {
	return a.orgs.ListAll(ctx)
}

// ListUsers は全ユーザーを返す。
func (a *AdminServiceAdapter) ListUsers(ctx context.Context) ([]*model.User, error) {
	return a.users.ListUsers(ctx)
}

// --- compile-time interface checks ---

var _ AuthServiceInterface = (*auth.Service)(nil)
var _ OrganizationSwitcher = (*auth.Service)(nil)
var _ OrganizationServiceInterface = (*organization.Service)(nil)
var _ UserServiceInterface = (*user.Service)(nil)
var _ AdminServiceInterface = (*AdminServiceAdapter)(nil)
var _ CheckoutInitiator = (*billing.Initiator)(nil)
var _ WebhookReconciler = (*billing.Reconciler)(nil)
