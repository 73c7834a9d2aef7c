package billing

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v81"
	portalsession "github.com/stripe/stripe-go/v81/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v81/checkout/session"
)

// StripeConfig はStripeクライアントの設定。
type StripeConfig struct {
	SecretKey string
	// Timeout は1回のAPI呼び出しの上限時間。
	Timeout time.Duration
	// APIURL はテストやstripe-mock向けにAPIの接続先を差し替える。空の場合は本番APIを使う。
	APIURL string
}

// StripeProcessor はStripe APIを使ったProcessorの実装。
// 二重課金を避けるため、ネットワークエラー時の自動リトライは行わない。
type StripeProcessor struct {
	checkout checkoutsession.Client
	portal   portalsession.Client
}

// NewStripeProcessor は新しいStripeProcessorを生成する。
func NewStripeProcessor(cfg StripeConfig) *StripeProcessor {
	backendConfig := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: stripe.Int64(0),
	}
	if cfg.APIURL != "" {
		backendConfig.URL = stripe.String(cfg.APIURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig)

	return &StripeProcessor{
		checkout: checkoutsession.Client{B: backend, Key: cfg.SecretKey},
		portal:   portalsession.Client{B: backend, Key: cfg.SecretKey},
	}
}

// CreateCheckoutSession はサブスクリプション用のcheckoutセッションを作成する。
// 組織IDはclient_reference_idとして渡し、Webhookで組織を特定するために使う。
func (p *StripeProcessor) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error) {
	params := &stripe.CheckoutSessionParams{
		ClientReferenceID: stripe.String(req.OrganizationID),
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	} else {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	params.Context = ctx

	session, err := p.checkout.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	return session.URL, nil
}

// CreatePortalSession は請求ポータルセッションを作成する。
func (p *StripeProcessor) CreatePortalSession(ctx context.Context, req PortalRequest) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(req.CustomerID),
		ReturnURL: stripe.String(req.ReturnURL),
	}
	params.Context = ctx

	session, err := p.portal.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create billing portal session: %w", err)
	}
	return session.URL, nil
}

// compile-time interface check
var _ Processor = (*StripeProcessor)(nil)
