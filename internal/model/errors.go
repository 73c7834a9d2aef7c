package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, authorization, validation, upstream, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// エラーカテゴリ
const (
	CategoryAuth          = "auth"
	CategoryAuthorization = "authorization"
	CategoryValidation    = "validation"
	CategoryUpstream      = "upstream"
	CategorySystem        = "system"
)

// 定義済みエラーコード
const (
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeInvalidCredentials   = "INVALID_CREDENTIALS"
	ErrCodeInvalidConfirmToken  = "INVALID_CONFIRMATION_TOKEN"
	ErrCodeInvalidResetToken    = "INVALID_RESET_TOKEN"
	ErrCodeNoOrganization       = "NO_ORGANIZATION"
	ErrCodeRoleRequired         = "ROLE_REQUIRED"
	ErrCodeSubscriptionRequired = "SUBSCRIPTION_REQUIRED"
	ErrCodeAdminRequired        = "ADMIN_REQUIRED"
	ErrCodeNotAMember           = "NOT_A_MEMBER"
	ErrCodeNotSubscribed        = "NOT_SUBSCRIBED"
	ErrCodePasswordMismatch     = "PASSWORD_MISMATCH"
	ErrCodeEmailExists          = "EMAIL_EXISTS"
	ErrCodeInvalidInput         = "INVALID_INPUT"
	ErrCodePaymentProcessor     = "PAYMENT_PROCESSOR_ERROR"
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
	ErrCodeOrganizationNotFound = "ORGANIZATION_NOT_FOUND"
	ErrCodeCSRFTokenInvalid     = "CSRF_TOKEN_INVALID"
	ErrCodeInternal             = "INTERNAL_ERROR"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Please log in to access this page.",
		Category: CategoryAuth,
		Action:   "ログインしてください。",
	}
}

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
// どの項目が誤っているかは区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "Invalid email or password.",
		Category: CategoryAuth,
		Action:   "メールアドレスとパスワードを確認してください。",
	}
}

// NewInvalidConfirmTokenError は確認リンクが無効な場合のエラーを生成する。
func NewInvalidConfirmTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidConfirmToken,
		Message:  "The confirmation link is invalid or has expired.",
		Category: CategoryAuth,
		Action:   "確認メールを再送してください。",
	}
}

// NewInvalidResetTokenError はパスワードリセットリンクが無効な場合のエラーを生成する。
func NewInvalidResetTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidResetToken,
		Message:  "The password reset link is invalid or has expired.",
		Category: CategoryAuth,
		Action:   "パスワードリセットを再度申請してください。",
	}
}

// NewNoOrganizationError は組織に所属していない場合のエラーを生成する。
func NewNoOrganizationError() *APIError {
	return &APIError{
		Code:     ErrCodeNoOrganization,
		Message:  "You are not part of any organization.",
		Category: CategoryAuthorization,
		Action:   "組織の招待を受けるか、管理者に連絡してください。",
	}
}

// NewRoleRequiredError は必要なロールを持たない場合のエラーを生成する。
func NewRoleRequiredError(role Role) *APIError {
	return &APIError{
		Code:     ErrCodeRoleRequired,
		Message:  fmt.Sprintf("This action requires the '%s' role.", role),
		Category: CategoryAuthorization,
		Action:   "組織のオーナーに操作を依頼してください。",
	}
}

// NewSubscriptionRequiredError は有効なサブスクリプションがない場合のエラーを生成する。
func NewSubscriptionRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSubscriptionRequired,
		Message:  "This feature requires an active subscription.",
		Category: CategoryAuthorization,
		Action:   "サブスクリプションを開始してください。",
	}
}

// NewAdminRequiredError は管理者権限がない場合のエラーを生成する。
func NewAdminRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeAdminRequired,
		Message:  "You do not have permission to access this page.",
		Category: CategoryAuthorization,
		Action:   "管理者アカウントでログインしてください。",
	}
}

// NewNotAMemberError は指定組織のメンバーでない場合のエラーを生成する。
func NewNotAMemberError(orgID string) *APIError {
	return &APIError{
		Code:     ErrCodeNotAMember,
		Message:  fmt.Sprintf("You are not a member of organization %s.", orgID),
		Category: CategoryAuthorization,
		Action:   "所属している組織を選択してください。",
	}
}

// NewNotSubscribedError は顧客参照を持たない組織がポータルを開こうとした場合のエラーを生成する。
func NewNotSubscribedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotSubscribed,
		Message:  "Your organization doesn't have a subscription to manage.",
		Category: CategoryValidation,
		Action:   "先にサブスクリプションを開始してください。",
	}
}

// NewPasswordMismatchError は確認用パスワードが一致しない場合のエラーを生成する。
func NewPasswordMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodePasswordMismatch,
		Message:  "Passwords do not match.",
		Category: CategoryValidation,
		Action:   "同じパスワードを2回入力してください。",
	}
}

// NewEmailExistsError はメールアドレスが登録済みの場合のエラーを生成する。
func NewEmailExistsError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailExists,
		Message:  "Email address already exists.",
		Category: CategoryValidation,
		Action:   "ログインするか、別のメールアドレスを使用してください。",
	}
}

// NewInvalidInputError は入力値が不正な場合のエラーを生成する。
func NewInvalidInputError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInput,
		Message:  reason,
		Category: CategoryValidation,
		Action:   "入力内容を確認してください。",
	}
}

// NewPaymentProcessorError は決済事業者との通信に失敗した場合のエラーを生成する。
// 詳細はログにのみ記録する。
func NewPaymentProcessorError() *APIError {
	return &APIError{
		Code:     ErrCodePaymentProcessor,
		Message:  "Could not connect to the payment processor. Please try again later.",
		Category: CategoryUpstream,
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found.",
		Category: CategoryAuth,
		Action:   "ログインし直してください。",
	}
}

// NewOrganizationNotFoundError は組織が見つからない場合のエラーを生成する。
func NewOrganizationNotFoundError(orgID string) *APIError {
	return &APIError{
		Code:     ErrCodeOrganizationNotFound,
		Message:  fmt.Sprintf("Organization not found: %s", orgID),
		Category: CategoryValidation,
		Action:   "組織IDを確認してください。",
	}
}

// NewCSRFTokenInvalidError はCSRFトークンの検証に失敗した場合のエラーを生成する。
func NewCSRFTokenInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFTokenInvalid,
		Message:  "The form has expired. Please reload the page and try again.",
		Category: CategoryAuthorization,
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewInternalError は予期しない内部エラーを生成する。原因はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "Something went wrong. Please try again later.",
		Category: CategorySystem,
		Action:   "しばらく待ってから再度お試しください。",
	}
}
