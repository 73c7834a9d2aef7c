package billing

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
)

var (
	// ErrSecretNotConfigured はWebhookの共有秘密鍵が未設定であることを表す。
	ErrSecretNotConfigured = errors.New("webhook secret not configured")
	// ErrInvalidSignature は署名ヘッダーが欠落・不正・期限切れであることを表す。
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMalformedPayload は署名は正しいがイベントとして解釈できないことを表す。
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

// Event は署名検証済みのWebhookイベント。
// CheckoutCompleted、SubscriptionDeleted、Unhandledのいずれか。
type Event interface {
	// Type は決済事業者のイベント種別を返す。
	Type() string
	isEvent()
}

// CheckoutCompleted はcheckoutの完了を表す。OrganizationIDはclient_reference_idに由来する。
// 本アプリ以外から作成されたセッションではOrganizationIDやCustomerIDが空になりうる。
type CheckoutCompleted struct {
	OrganizationID string
	CustomerID     string
	SubscriptionID string
}

// SubscriptionDeleted はサブスクリプションの終了を表す。
type SubscriptionDeleted struct {
	CustomerID     string
	SubscriptionID string
}

// Unhandled は処理対象外のイベント種別を表す。
type Unhandled struct {
	EventType string
}

func (CheckoutCompleted) Type() string   { return string(stripe.EventTypeCheckoutSessionCompleted) }
func (SubscriptionDeleted) Type() string { return string(stripe.EventTypeCustomerSubscriptionDeleted) }
func (u Unhandled) Type() string         { return u.EventType }

func (CheckoutCompleted) isEvent()   {}
func (SubscriptionDeleted) isEvent() {}
func (Unhandled) isEvent()           {}

// ParseEvent は生のリクエストボディを署名検証してからイベントに変換する。
// 署名検証より前にペイロードの内容を参照することはない。
func (r *Reconciler) ParseEvent(payload []byte, sigHeader string) (Event, error) {
	if r.webhookSecret == "" {
		return nil, ErrSecretNotConfigured
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, r.webhookSecret,
		webhook.ConstructEventOptions{
			Tolerance:                r.tolerance,
			IgnoreAPIVersionMismatch: true,
		},
	)
	if err != nil {
		if isSignatureError(err) {
			return nil, ErrInvalidSignature
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if event.Data == nil {
		return nil, fmt.Errorf("%w: missing data object", ErrMalformedPayload)
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		// 相関IDや顧客を欠くセッションも正当なイベントとして受け取り、適用側で無視する
		ev := CheckoutCompleted{OrganizationID: session.ClientReferenceID}
		if session.Customer != nil {
			ev.CustomerID = session.Customer.ID
		}
		if session.Subscription != nil {
			ev.SubscriptionID = session.Subscription.ID
		}
		return ev, nil

	case stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		ev := SubscriptionDeleted{SubscriptionID: sub.ID}
		if sub.Customer != nil {
			ev.CustomerID = sub.Customer.ID
		}
		return ev, nil

	default:
		return Unhandled{EventType: string(event.Type)}, nil
	}
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrTooOld)
}
