// Package token はメール確認とパスワードリセットに使う署名付きトークンを提供する。
// トークンは暗号化せず署名のみ行う。鍵はサーバー全体の秘密鍵と用途ごとのソルトから導出する。
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Purpose はトークンの用途を表す。用途が異なるトークンは互いに検証を通らない。
type Purpose string

const (
	PurposeEmailConfirm  Purpose = "email-confirm"
	PurposePasswordReset Purpose = "password-reset"
)

// ErrInvalidToken は検証失敗を表す。
// 署名不一致、改ざん、用途違い、期限切れを区別しない。
var ErrInvalidToken = errors.New("invalid or expired token")

const keySaltPrefix = "saaskit-token:"

// Signer はトークンの発行と検証を行う。
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner は新しいSignerを生成する。
func NewSigner(secret string) *Signer {
	return &Signer{
		secret: []byte(secret),
		now:    time.Now,
	}
}

func (s *Signer) key(purpose Purpose) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(keySaltPrefix + string(purpose)))
	return mac.Sum(nil)
}

// Issue はユーザーIDを埋め込んだトークンを発行する。
func (s *Signer) Issue(userID string, purpose Purpose) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:  userID,
		Audience: jwt.ClaimStrings{string(purpose)},
		IssuedAt: jwt.NewNumericDate(s.now()),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key(purpose))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify はトークンを検証し、埋め込まれたユーザーIDを返す。
// 発行からmaxAgeを超えたトークンは無効とする。失敗時は常にErrInvalidTokenを返す。
func (s *Signer) Verify(tokenString string, purpose Purpose, maxAge time.Duration) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (interface{}, error) {
			return s.key(purpose), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(string(purpose)),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", ErrInvalidToken
	}

	if claims.IssuedAt == nil || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	if s.now().Sub(claims.IssuedAt.Time) > maxAge {
		return "", ErrInvalidToken
	}

	return claims.Subject, nil
}
