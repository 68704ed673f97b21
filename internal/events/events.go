// Package events announces committed ledger changes to downstream consumers.
// Publishing happens after commit and never affects the ledger outcome.
package events

import (
	"context"
	"time"
)

const (
	TypePurchaseRecorded       = "purchase.recorded"
	TypeCommissionDistributed  = "commission.distributed"
	TypeEntitlementExhausted   = "entitlement.exhausted"
	TypePayoutRequestPrefix    = "payout_request."
	TypeReferralEarningPaid    = "referral_earning.paid"
	TypeEntitlementActivated   = "entitlement.activated"
	TypeJoiningFeePaymentSaved = "entitlement.joining_fee_paid"
)

type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Noop drops every event; it is used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
