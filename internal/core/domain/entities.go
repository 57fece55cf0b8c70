// Package domain contains the core business entities for the payment service.
// This is the innermost layer - no dependencies on adapters or transport.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ItemType identifies the kind of catalog entity an order pays for.
type ItemType string

const (
	ItemTypeService          ItemType = "service"
	ItemTypeSubscriptionPlan ItemType = "subscription_plan"
)

// Valid reports whether t is one of the sellable item kinds.
func (t ItemType) Valid() bool {
	return t == ItemTypeService || t == ItemTypeSubscriptionPlan
}

// Status is the internal lifecycle state of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

// Terminal reports whether s is one of the processor-final states.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// Payer is the optional contact info snapshotted on an order.
type Payer struct {
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
	CustomerID string `json:"customer_id,omitempty"`
}

// Order is a locally tracked payment intent for one catalog item.
// Price is the price the current CheckoutLink was generated at.
type Order struct {
	ID                   string          `json:"id"`
	ItemType             ItemType        `json:"item_type"`
	ItemID               string          `json:"item_id"`
	ItemName             string          `json:"item_name"`
	Price                decimal.Decimal `json:"price"`
	Payer                *Payer          `json:"payer,omitempty"`
	ExternalPreferenceID string          `json:"external_preference_id"`
	ExternalReference    string          `json:"external_reference"`
	ExternalPaymentID    string          `json:"external_payment_id,omitempty"`
	CheckoutLink         string          `json:"checkout_link"`
	Status               Status          `json:"status"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// PreferenceRef groups the fields that come back from a created preference.
// They are always written to an order together.
type PreferenceRef struct {
	PreferenceID      string
	CheckoutLink      string
	ExternalReference string
}

// OrderUpdate describes a partial update. Nil fields are left untouched.
type OrderUpdate struct {
	ItemName          *string
	Price             *decimal.Decimal
	Payer             *Payer
	Preference        *PreferenceRef
	ExternalPaymentID *string
	Status            *Status

	// IfPreferenceID, when set, makes the update conditional on the order
	// still carrying that preference. A mismatch reports ErrNotFound.
	IfPreferenceID string
}

// LinkRequest is what a catalog collaborator sends to get a checkout link.
type LinkRequest struct {
	ItemType ItemType        `json:"item_type"`
	ItemID   string          `json:"item_id"`
	ItemName string          `json:"item_name"`
	Price    decimal.Decimal `json:"price"`
	Payer    *Payer          `json:"payer,omitempty"`
}

// Link is the result of link issuance.
type Link struct {
	CheckoutLink string `json:"checkout_link"`
	PreferenceID string `json:"preference_id"`
	OrderID      string `json:"order_id"`
	Reused       bool   `json:"reused"`
}

// BackURLs are the pages the processor redirects the buyer to.
type BackURLs struct {
	Success string
	Failure string
	Pending string
}

// PreferenceRequest is everything the gateway needs to create a checkout preference.
type PreferenceRequest struct {
	ItemName          string
	Price             decimal.Decimal
	BackURLs          BackURLs
	NotificationURL   string
	ExternalReference string
	Payer             *Payer
}

// Preference is a created Mercado Pago checkout preference.
type Preference struct {
	ID           string
	CheckoutLink string
	SandboxLink  string
}

// PaymentInfo is the authoritative payment state fetched from the processor.
type PaymentInfo struct {
	PaymentID         string
	PreferenceID      string
	ExternalReference string
	Status            string
	StatusDetail      string
	Amount            decimal.Decimal
	Currency          string
	PayerEmail        string
	DateApproved      time.Time
}

// Notification is an inbound processor webhook, already parsed from body or query.
type Notification struct {
	ID        string
	Type      string
	Action    string
	DataID    string
	LiveMode  bool
	Signature string
	RequestID string
}

// StatusChange is published whenever an order's status actually changes.
type StatusChange struct {
	OrderID           string          `json:"order_id"`
	ItemType          ItemType        `json:"item_type"`
	ItemID            string          `json:"item_id"`
	PreviousStatus    Status          `json:"previous_status"`
	Status            Status          `json:"status"`
	PaymentID         string          `json:"payment_id"`
	PreferenceID      string          `json:"preference_id"`
	ExternalReference string          `json:"external_reference"`
	Amount            decimal.Decimal `json:"amount"`
	PayerEmail        string          `json:"payer_email,omitempty"`
	OccurredAt        time.Time       `json:"occurred_at"`
}
