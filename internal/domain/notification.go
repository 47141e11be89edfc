package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// NotificationTemplate names a message the core sends.
type NotificationTemplate string

const (
	TemplateAuctionCreated  NotificationTemplate = "auction_created"
	TemplateOutbid          NotificationTemplate = "outbid"
	TemplateAuctionWon      NotificationTemplate = "auction_won"
	TemplatePaymentDue      NotificationTemplate = "payment_due"
	TemplatePaymentVerified NotificationTemplate = "payment_verified"
	TemplatePaymentOverdue  NotificationTemplate = "payment_overdue"
	TemplatePickupIssued    NotificationTemplate = "pickup_issued"
	TemplateFraudAlert      NotificationTemplate = "fraud_alert"
)

// OpsRecipient addresses the operations channel rather than a vendor.
const OpsRecipient = "ops"

// DeliveryResult reports the outcome of one notification.
type DeliveryResult struct {
	Success      bool
	FallbackUsed bool
	Channel      string
}

// NotificationGateway delivers a templated message to a user.
type NotificationGateway interface {
	Notify(ctx context.Context, userID string, template NotificationTemplate, payload map[string]any) (DeliveryResult, error)
}

// Notification is a queued delivery request. Budget, when set, is the maximum
// time between EnqueuedAt and delivery before it counts as degraded.
type Notification struct {
	ID         string               `json:"id"`
	UserID     string               `json:"user_id"`
	Template   NotificationTemplate `json:"template"`
	Payload    map[string]any       `json:"payload"`
	EnqueuedAt time.Time            `json:"enqueued_at"`
	Budget     time.Duration        `json:"budget,omitempty"`
}

// NotificationQueue hands a notification off for asynchronous delivery.
type NotificationQueue interface {
	Enqueue(ctx context.Context, n Notification) error
}

// ChargeStatus is the gateway's view of an inbound payment.
type ChargeStatus string

const (
	ChargeSuccess ChargeStatus = "success"
	ChargePending ChargeStatus = "pending"
	ChargeFailed  ChargeStatus = "failed"
)

// ChargeResult is returned by PaymentGateway.VerifyCharge.
type ChargeResult struct {
	Status ChargeStatus
	Amount decimal.Decimal
}

// TransferResult is returned by PaymentGateway.InitiateTransfer.
type TransferResult struct {
	Status     TransferStatus
	TransferID string
}

// PaymentGateway is the external money-movement capability. Both calls are
// idempotent by reference.
type PaymentGateway interface {
	VerifyCharge(ctx context.Context, reference string) (ChargeResult, error)
	InitiateTransfer(ctx context.Context, recipient string, amount decimal.Decimal, reference string) (TransferResult, error)
}
