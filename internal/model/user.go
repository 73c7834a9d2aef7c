// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// User はサービス利用ユーザーを表す。
// PasswordHashが空の場合はソーシャルログイン専用アカウント。
type User struct {
	ID           string
	Email        string
	PasswordHash string
	IsAdmin      bool
	Confirmed    bool
	ConfirmedOn  *time.Time
	APIKey       string
	CreatedAt    time.Time
}

// HasPassword はパスワードログインが可能なアカウントかどうかを返す。
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// EmailLocalPart はメールアドレスの@より前の部分を返す。
// @を含まない場合は全体を返す。
func EmailLocalPart(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}

// Identity は外部IdPとの紐付け情報を表す。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
// OrganizationIDは現在選択中の組織。未選択の場合は空文字。
type Session struct {
	ID             string
	UserID         string
	OrganizationID string
	ExpiresAt      time.Time
	CreatedAt      time.Time
}
