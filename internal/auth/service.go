// Package auth はユーザー登録、ログイン、メール確認、パスワードリセット、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/saaskit/internal/gate"
	"github.com/hitoshi/saaskit/internal/model"
	"github.com/hitoshi/saaskit/internal/queue"
	"github.com/hitoshi/saaskit/internal/repository"
	"github.com/hitoshi/saaskit/internal/token"
)

// ErrOAuthDisabled はソーシャルログインが設定されていない場合のエラー。
var ErrOAuthDisabled = errors.New("oauth provider is not configured")

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	Provider       string // "google" 等
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge      int // セッション有効期間（秒）
	BaseURL            string
	ConfirmTokenMaxAge time.Duration
	ResetTokenMaxAge   time.Duration
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth          OAuthProvider
	userRepo       repository.UserRepository
	identRepo      repository.IdentityRepository
	sessionRepo    repository.SessionRepository
	membershipRepo repository.MembershipRepository
	signer         *token.Signer
	jobs           queue.Enqueuer
	config         ServiceConfig
	now            func() time.Time
}

// NewService はServiceを生成する。
// oauthがnilの場合、ソーシャルログインはErrOAuthDisabledを返す。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	membershipRepo repository.MembershipRepository,
	signer *token.Signer,
	jobs queue.Enqueuer,
	config ServiceConfig,
) *Service {
	return &Service{
		oauth:          oauth,
		userRepo:       userRepo,
		identRepo:      identRepo,
		sessionRepo:    sessionRepo,
		membershipRepo: membershipRepo,
		signer:         signer,
		jobs:           jobs,
		config:         config,
		now:            time.Now,
	}
}

// OAuthEnabled はソーシャルログインが利用可能かどうかを返す。
func (s *Service) OAuthEnabled() bool {
	return s.oauth != nil
}

// Register はパスワードでユーザーを登録し、セッションを発行する。
// ユーザー、"<localpart>'s Team"組織、ownerメンバーシップを1トランザクションで作成する。
// 確認メールの投入に失敗しても登録は取り消さない。
func (s *Service) Register(ctx context.Context, email, password, password2 string) (*model.User, *model.Session, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return nil, nil, err
	}
	if err := validatePassword(password, password2); err != nil {
		return nil, nil, err
	}

	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user: %w", err)
	}
	if existing != nil {
		return nil, nil, model.NewEmailExistsError()
	}

	hash, err := hashPassword(password)
	if err != nil {
		return nil, nil, err
	}

	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
	}
	org, membership := newOwnedOrganization(user.ID, model.DefaultOrganizationName(email))

	if err := s.userRepo.CreateWithOrganization(ctx, user, org, membership); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, nil, model.NewEmailExistsError()
		}
		return nil, nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user registered",
		slog.String("user_id", user.ID),
		slog.String("org_id", org.ID),
	)

	s.enqueueConfirmation(ctx, user)

	session, err := s.createSession(ctx, user.ID, org.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}
	return user, session, nil
}

// Login はメールアドレスとパスワードで認証し、セッションを発行する。
// 未登録、ソーシャル専用アカウント、パスワード不一致はすべて同じエラーを返す。
func (s *Service) Login(ctx context.Context, email, password string) (*model.Session, error) {
	user, err := s.userRepo.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || !user.HasPassword() {
		return nil, model.NewInvalidCredentialsError()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, model.NewInvalidCredentialsError()
	}

	session, err := s.createSession(ctx, user.ID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("user logged in", slog.String("user_id", user.ID))
	return session, nil
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) (string, error) {
	if s.oauth == nil {
		return "", ErrOAuthDisabled
	}
	return s.oauth.GetLoginURL(state), nil
}

// LoginWithGoogle はOAuthコールバックを処理し、セッションを発行する。
// identityが未登録の場合はメールアドレスで既存ユーザーを探し、いなければ
// パスワードなしの確認済みユーザーを組織とともに作成してから紐付ける。
func (s *Service) LoginWithGoogle(ctx context.Context, code string) (*model.Session, error) {
	if s.oauth == nil {
		return nil, ErrOAuthDisabled
	}

	userInfo, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, userInfo.Provider, userInfo.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	var userID string
	if identity != nil {
		userID = identity.UserID
		slog.Info("existing user logged in",
			slog.String("user_id", userID),
			slog.String("provider", userInfo.Provider),
		)
	} else {
		userID, err = s.linkIdentity(ctx, userInfo)
		if err != nil {
			return nil, err
		}
	}

	session, err := s.createSession(ctx, userID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// linkIdentity はOAuthユーザー情報に対応するユーザーを特定または作成し、identityを紐付ける。
func (s *Service) linkIdentity(ctx context.Context, userInfo *OAuthUserInfo) (string, error) {
	email := normalizeEmail(userInfo.Email)
	if err := validateEmail(email); err != nil {
		return "", err
	}

	identity := &model.Identity{
		ID:             uuid.New().String(),
		Provider:       userInfo.Provider,
		ProviderUserID: userInfo.ProviderUserID,
	}

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("failed to find user: %w", err)
	}

	if user != nil {
		identity.UserID = user.ID
		if err := s.identRepo.Create(ctx, identity); err != nil {
			return "", fmt.Errorf("failed to link identity: %w", err)
		}
		slog.Info("identity linked to existing user",
			slog.String("user_id", user.ID),
			slog.String("provider", userInfo.Provider),
		)
		return user.ID, nil
	}

	now := s.now()
	user = &model.User{
		ID:          uuid.New().String(),
		Email:       email,
		Confirmed:   true,
		ConfirmedOn: &now,
	}
	identity.UserID = user.ID
	org, membership := newOwnedOrganization(user.ID, model.DefaultOrganizationName(email))

	if err := s.userRepo.CreateWithIdentity(ctx, user, identity, org, membership); err != nil {
		return "", fmt.Errorf("failed to create user and identity: %w", err)
	}

	slog.Info("new user created",
		slog.String("user_id", user.ID),
		slog.String("org_id", org.ID),
		slog.String("provider", userInfo.Provider),
	)
	return user.ID, nil
}

// CreateAdmin は確認済みの管理者ユーザーを作成する。
// "<localpart>'s Organization"組織とownerメンバーシップも同時に作成する。
func (s *Service) CreateAdmin(ctx context.Context, email, password string) (*model.User, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(password, password); err != nil {
		return nil, err
	}

	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		IsAdmin:      true,
		Confirmed:    true,
		ConfirmedOn:  &now,
	}
	org, membership := newOwnedOrganization(user.ID, model.AdminOrganizationName(email))

	if err := s.userRepo.CreateWithOrganization(ctx, user, org, membership); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, model.NewEmailExistsError()
		}
		return nil, fmt.Errorf("failed to create admin user: %w", err)
	}

	slog.Info("admin user created",
		slog.String("user_id", user.ID),
		slog.String("org_id", org.ID),
	)
	return user, nil
}

// ConfirmEmail は確認トークンを検証し、ユーザーを確認済みにする。
// 確認済みのユーザーに対しては何もせず成功を返す。
func (s *Service) ConfirmEmail(ctx context.Context, tok string) (*model.User, error) {
	userID, err := s.signer.Verify(tok, token.PurposeEmailConfirm, s.config.ConfirmTokenMaxAge)
	if err != nil {
		return nil, model.NewInvalidConfirmTokenError()
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewInvalidConfirmTokenError()
	}
	if user.Confirmed {
		return user, nil
	}

	now := s.now()
	if err := s.userRepo.MarkConfirmed(ctx, user.ID, now); err != nil {
		return nil, err
	}
	user.Confirmed = true
	user.ConfirmedOn = &now

	slog.Info("email confirmed", slog.String("user_id", user.ID))
	return user, nil
}

// ResendConfirmation は確認メールを再送する。
func (s *Service) ResendConfirmation(ctx context.Context, userID string) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}
	return s.sendConfirmation(ctx, user)
}

// ForgotPassword はパスワードリセットメールを投入する。
// アカウントの有無を推測されないよう、常に成功として扱う。
func (s *Service) ForgotPassword(ctx context.Context, email string) {
	user, err := s.userRepo.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		slog.Error("failed to find user for password reset", slog.String("error", err.Error()))
		return
	}
	if user == nil || (!user.HasPassword() && !user.Confirmed) {
		return
	}

	tok, err := s.signer.Issue(user.ID, token.PurposePasswordReset)
	if err != nil {
		slog.Error("failed to issue reset token",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	payload := queue.MailPayload{To: user.Email, URL: s.config.BaseURL + "/auth/reset-password/" + tok}
	if err := s.jobs.Enqueue(ctx, queue.KindResetEmail, payload); err != nil {
		slog.Error("failed to enqueue reset email",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}
}

// ResetPassword はリセットトークンを検証し、新しいパスワードを設定する。
func (s *Service) ResetPassword(ctx context.Context, tok, password, password2 string) error {
	userID, err := s.signer.Verify(tok, token.PurposePasswordReset, s.config.ResetTokenMaxAge)
	if err != nil {
		return model.NewInvalidResetTokenError()
	}
	if err := validatePassword(password, password2); err != nil {
		return err
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return model.NewInvalidResetTokenError()
	}

	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	if err := s.userRepo.UpdatePassword(ctx, user.ID, hash); err != nil {
		return err
	}

	slog.Info("password reset", slog.String("user_id", user.ID))
	return nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out")
	return nil
}

// GetCurrentUser はセッションから現在のユーザーを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session ID is required")
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("session not found or expired")
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user not found")
	}

	return user, nil
}

// SwitchOrganization はセッションの選択中組織を切り替える。
// ユーザーが組織のメンバーでない場合はエラーを返す。
func (s *Service) SwitchOrganization(ctx context.Context, sessionID, userID, orgID string) (*gate.CurrentOrganization, error) {
	memberships, err := s.membershipRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}

	var selected *model.MembershipWithOrganization
	for i := range memberships {
		if memberships[i].OrganizationID == orgID {
			selected = &memberships[i]
			break
		}
	}
	if selected == nil {
		return nil, model.NewNotAMemberError(orgID)
	}

	if err := s.sessionRepo.SetOrganization(ctx, sessionID, orgID); err != nil {
		return nil, fmt.Errorf("failed to switch organization: %w", err)
	}

	slog.Info("organization switched",
		slog.String("user_id", userID),
		slog.String("org_id", orgID),
	)
	return gate.FromMembership(selected), nil
}

// sendConfirmation は確認トークンを発行し、確認メールのジョブを投入する。
func (s *Service) sendConfirmation(ctx context.Context, user *model.User) error {
	tok, err := s.signer.Issue(user.ID, token.PurposeEmailConfirm)
	if err != nil {
		return fmt.Errorf("failed to issue confirmation token: %w", err)
	}
	payload := queue.MailPayload{To: user.Email, URL: s.config.BaseURL + "/auth/confirm/" + tok}
	if err := s.jobs.Enqueue(ctx, queue.KindConfirmEmail, payload); err != nil {
		return fmt.Errorf("failed to enqueue confirmation email: %w", err)
	}
	return nil
}

// enqueueConfirmation は登録直後のユーザーに確認メールを投入する。失敗はログに記録するのみ。
// ユーザーは手元にあるため再取得しない。
func (s *Service) enqueueConfirmation(ctx context.Context, user *model.User) {
	if err := s.sendConfirmation(ctx, user); err != nil {
		slog.Error("failed to send confirmation email",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID, orgID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:             sessionID,
		UserID:         userID,
		OrganizationID: orgID,
		ExpiresAt:      now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt:      now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

func newOwnedOrganization(userID, name string) (*model.Organization, *model.Membership) {
	org := &model.Organization{
		ID:   uuid.New().String(),
		Name: name,
	}
	membership := &model.Membership{
		UserID:         userID,
		OrganizationID: org.ID,
		Role:           model.RoleOwner,
	}
	return org, membership
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validateEmail はメールアドレスが表示名を含まない単一のアドレスであることを確認する。
func validateEmail(email string) error {
	if email == "" {
		return model.NewInvalidInputError("Email address is required.")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return model.NewInvalidInputError("Email address is invalid.")
	}
	return nil
}

func validatePassword(password, password2 string) error {
	if password == "" {
		return model.NewInvalidInputError("Password is required.")
	}
	if password != password2 {
		return model.NewPasswordMismatchError()
	}
	// bcryptは72バイトを超える入力を受け付けない
	if len(password) > 72 {
		return model.NewInvalidInputError("Password must be at most 72 bytes.")
	}
	return nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
