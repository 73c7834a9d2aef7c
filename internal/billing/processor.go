// Package billing は決済事業者（Stripe）とのやり取りを扱う。
// checkout/portalセッションの作成と、Webhookイベントによる組織の購読状態の同期を提供する。
package billing

import (
	"context"
	"errors"
)

var (
	// ErrNotSubscribed は顧客参照を持たない組織がポータルを開こうとした場合のエラー。
	ErrNotSubscribed = errors.New("organization has no customer reference")
	// ErrProcessor は決済事業者との通信に失敗した場合のエラー。タイムアウトを含む。
	ErrProcessor = errors.New("payment processor error")
)

// CheckoutRequest はcheckoutセッション作成の入力。
// CustomerIDが空の場合はCustomerEmailを使って決済事業者側で顧客を作成させる。
type CheckoutRequest struct {
	OrganizationID string
	CustomerID     string
	CustomerEmail  string
	PriceID        string
	SuccessURL     string
	CancelURL      string
}

// PortalRequest は請求ポータルセッション作成の入力。
type PortalRequest struct {
	CustomerID string
	ReturnURL  string
}

// Processor は決済事業者のセッション作成APIを抽象化するインターフェース。
// いずれのメソッドもリダイレクト先URLを返す。
type Processor interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error)
	CreatePortalSession(ctx context.Context, req PortalRequest) (string, error)
}
