// Package organization は組織の一覧と名前変更を提供する。
package organization

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/saaskit/internal/model"
	"github.com/hitoshi/saaskit/internal/repository"
	"github.com/hitoshi/saaskit/internal/security"
)

// Service は組織に関するビジネスロジックを提供する。
type Service struct {
	orgRepo        repository.OrganizationRepository
	membershipRepo repository.MembershipRepository
	sanitizer      security.NameSanitizer
}

// NewService はServiceを生成する。
func NewService(
	orgRepo repository.OrganizationRepository,
	membershipRepo repository.MembershipRepository,
	sanitizer security.NameSanitizer,
) *Service {
	return &Service{
		orgRepo:        orgRepo,
		membershipRepo: membershipRepo,
		sanitizer:      sanitizer,
	}
}

// ListForUser はユーザーが所属する組織をロール付きで返す。
func (s *Service) ListForUser(ctx context.Context, userID string) ([]model.MembershipWithOrganization, error) {
	memberships, err := s.membershipRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	return memberships, nil
}

// Rename は組織名を変更する。名前はHTMLを除去してから保存する。
func (s *Service) Rename(ctx context.Context, orgID, rawName string) (*model.Organization, error) {
	name := s.sanitizer.Sanitize(rawName)
	if name == "" {
		return nil, model.NewInvalidInputError("Organization name is required.")
	}

	org, err := s.orgRepo.FindByID(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to find organization: %w", err)
	}
	if org == nil {
		return nil, model.NewOrganizationNotFoundError(orgID)
	}

	if err := s.orgRepo.Rename(ctx, orgID, name); err != nil {
		return nil, err
	}
	org.Name = name

	slog.Info("organization renamed", slog.String("org_id", orgID))
	return org, nil
}

// ListAll は全組織を返す。管理画面で使用する。
func (s *Service) ListAll(ctx context.Context) ([]*model.Organization, error) {
	orgs, err := s.orgRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	return orgs, nil
}
