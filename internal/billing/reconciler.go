package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/saaskit/internal/metrics"
)

// Outcome はイベント適用の結果を表す。
type Outcome string

const (
	// OutcomeApplied は組織の行が更新されたことを表す。
	OutcomeApplied Outcome = "applied"
	// OutcomeNoop は対象の組織が見つからず何も変更しなかったことを表す。
	OutcomeNoop Outcome = "noop"
	// OutcomeIgnored は処理対象外のイベントであることを表す。
	OutcomeIgnored Outcome = "ignored"
)

// DefaultTolerance は署名タイムスタンプの許容誤差の既定値。
const DefaultTolerance = 300 * time.Second

// SubscriptionStore は購読状態の遷移を永続化する。
// 各遷移は単一行への目標状態の代入であり、再適用しても結果は変わらない。
type SubscriptionStore interface {
	MarkSubscribed(ctx context.Context, orgID, customerID, subscriptionID string) (bool, error)
	MarkUnsubscribed(ctx context.Context, customerID, subscriptionID string) (bool, error)
}

// Reconciler はWebhookイベントを検証し、組織の購読状態に反映する。
// 自身は永続状態を持たない。
type Reconciler struct {
	store         SubscriptionStore
	webhookSecret string
	tolerance     time.Duration
	metrics       metrics.MetricsCollector
}

// NewReconciler は新しいReconcilerを生成する。
// webhookSecretが空の場合、ParseEventは常にErrSecretNotConfiguredを返す。
func NewReconciler(store SubscriptionStore, webhookSecret string, tolerance time.Duration, collector metrics.MetricsCollector) *Reconciler {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Reconciler{
		store:         store,
		webhookSecret: webhookSecret,
		tolerance:     tolerance,
		metrics:       collector,
	}
}

// Configured は共有秘密鍵が設定済みかどうかを返す。
func (r *Reconciler) Configured() bool {
	return r.webhookSecret != ""
}

// Apply はイベントを組織に適用する。
// 対象の組織が存在しない場合や、相関IDまたは顧客を欠く場合はエラーにせずOutcomeNoopを返す。
func (r *Reconciler) Apply(ctx context.Context, event Event) (Outcome, error) {
	var (
		changed bool
		err     error
		attrs   []any
	)

	switch ev := event.(type) {
	case CheckoutCompleted:
		attrs = []any{
			slog.String("org_id", ev.OrganizationID),
			slog.String("customer_id", ev.CustomerID),
			slog.String("subscription_id", ev.SubscriptionID),
		}
		if ev.OrganizationID == "" || ev.CustomerID == "" {
			return r.skip(event, "missing correlation id or customer", attrs), nil
		}
		changed, err = r.store.MarkSubscribed(ctx, ev.OrganizationID, ev.CustomerID, ev.SubscriptionID)
	case SubscriptionDeleted:
		attrs = []any{
			slog.String("customer_id", ev.CustomerID),
			slog.String("subscription_id", ev.SubscriptionID),
		}
		if ev.CustomerID == "" {
			return r.skip(event, "missing customer", attrs), nil
		}
		changed, err = r.store.MarkUnsubscribed(ctx, ev.CustomerID, ev.SubscriptionID)
	default:
		r.metrics.RecordWebhookEvent(event.Type(), string(OutcomeIgnored))
		slog.Info("unhandled webhook event", slog.String("type", event.Type()))
		return OutcomeIgnored, nil
	}

	if err != nil {
		r.metrics.RecordWebhookEvent(event.Type(), "error")
		return "", fmt.Errorf("failed to apply %s: %w", event.Type(), err)
	}

	outcome := OutcomeNoop
	if changed {
		outcome = OutcomeApplied
	}
	r.metrics.RecordWebhookEvent(event.Type(), string(outcome))
	slog.Info("webhook event processed",
		append(attrs, slog.String("type", event.Type()), slog.String("outcome", string(outcome)))...,
	)
	return outcome, nil
}

// skip はストアに触れずにOutcomeNoopとして記録する。
func (r *Reconciler) skip(event Event, reason string, attrs []any) Outcome {
	r.metrics.RecordWebhookEvent(event.Type(), string(OutcomeNoop))
	slog.Warn("webhook event skipped",
		append(attrs, slog.String("type", event.Type()), slog.String("reason", reason))...,
	)
	return OutcomeNoop
}
