package model

import (
	"time"
)

// Status is the lifecycle state of a payment link. A link starts as
// StatusPending and ends in exactly one terminal state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// PaymentLink is a single-use card-on-file request sent to a customer.
type PaymentLink struct {
	LinkID              string     `json:"linkId"`
	CustomerEmail       string     `json:"customerEmail"`
	CustomerName        string     `json:"customerName,omitempty"`
	CustomerID          string     `json:"customerId"`
	InvoiceNumber       string     `json:"invoiceNumber"`
	Amount              *float64   `json:"amount"`
	Description         string     `json:"description"`
	Status              Status     `json:"status"`
	CreatedAt           time.Time  `json:"createdAt"`
	ExpiresAt           time.Time  `json:"expiresAt"`
	CompletedAt         *time.Time `json:"completedAt"`
	EmailSentAt         *time.Time `json:"emailSentAt"`
	MaskedCardNumber    string     `json:"maskedCardNumber"`
	ProcessorCustomerID string     `json:"processorCustomerId"`
}

// Stats holds per-status link counts over the whole store.
type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
	Expired   int `json:"expired"`
	Cancelled int `json:"cancelled"`
}

// LinkEvent is published on every lifecycle transition.
type LinkEvent struct {
	Event      string    `json:"event"`
	LinkID     string    `json:"linkId"`
	Status     Status    `json:"status"`
	OccurredAt time.Time `json:"occurredAt"`
}

const (
	EventCreated   = "link.created"
	EventCompleted = "link.completed"
	EventCancelled = "link.cancelled"
	EventExpired   = "link.expired"
)
