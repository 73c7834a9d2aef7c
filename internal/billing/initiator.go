package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/saaskit/internal/metrics"
	"github.com/hitoshi/saaskit/internal/model"
)

const (
	sessionKindCheckout = "checkout"
	sessionKindPortal   = "portal"
)

// Initiator は組織に紐づく決済事業者のセッションを作成する。
type Initiator struct {
	processor Processor
	baseURL   string
	metrics   metrics.MetricsCollector
}

// NewInitiator は新しいInitiatorを生成する。
// baseURLは戻り先URLの組み立てに使う。末尾のスラッシュは含めない。
func NewInitiator(processor Processor, baseURL string, collector metrics.MetricsCollector) *Initiator {
	return &Initiator{
		processor: processor,
		baseURL:   baseURL,
		metrics:   collector,
	}
}

func (i *Initiator) dashboardURL() string {
	return i.baseURL + "/dashboard"
}

// StartCheckout はサブスクリプション購入用のcheckoutセッションを作成し、リダイレクト先URLを返す。
// 決済事業者のエラーはログに記録し、ErrProcessorでラップして返す。
func (i *Initiator) StartCheckout(ctx context.Context, org *model.Organization, userEmail, priceID string) (string, error) {
	req := CheckoutRequest{
		OrganizationID: org.ID,
		PriceID:        priceID,
		SuccessURL:     i.dashboardURL() + "?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:      i.dashboardURL(),
	}
	if org.HasCustomer() {
		req.CustomerID = org.StripeCustomerID
	} else {
		req.CustomerEmail = userEmail
	}

	start := time.Now()
	url, err := i.processor.CreateCheckoutSession(ctx, req)
	i.metrics.RecordProcessorLatency(time.Since(start))
	if err != nil {
		return "", i.fail(sessionKindCheckout, org.ID, err)
	}

	i.metrics.RecordBillingSession(sessionKindCheckout, "success")
	slog.Info("checkout session created", slog.String("org_id", org.ID))
	return url, nil
}

// OpenBillingPortal は請求ポータルセッションを作成し、リダイレクト先URLを返す。
// 組織が顧客参照を持たない場合はErrNotSubscribedを返す。
func (i *Initiator) OpenBillingPortal(ctx context.Context, org *model.Organization) (string, error) {
	if !org.HasCustomer() {
		i.metrics.RecordBillingSession(sessionKindPortal, "not_subscribed")
		return "", ErrNotSubscribed
	}

	start := time.Now()
	url, err := i.processor.CreatePortalSession(ctx, PortalRequest{
		CustomerID: org.StripeCustomerID,
		ReturnURL:  i.dashboardURL(),
	})
	i.metrics.RecordProcessorLatency(time.Since(start))
	if err != nil {
		return "", i.fail(sessionKindPortal, org.ID, err)
	}

	i.metrics.RecordBillingSession(sessionKindPortal, "success")
	slog.Info("billing portal session created", slog.String("org_id", org.ID))
	return url, nil
}

func (i *Initiator) fail(kind, orgID string, err error) error {
	outcome := "error"
	if errors.Is(err, context.DeadlineExceeded) {
		outcome = "timeout"
	}
	i.metrics.RecordBillingSession(kind, outcome)
	slog.Error("payment processor request failed",
		slog.String("kind", kind),
		slog.String("org_id", orgID),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("%w: %v", ErrProcessor, err)
}
