package event

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type discriminates the payload variant carried by an envelope.
type Type string

const (
	TypeInvoiceDueSoon           Type = "INVOICE_DUE_SOON"
	TypeInvoiceOverdue           Type = "INVOICE_OVERDUE"
	TypeProfileDeletionScheduled Type = "PROFILE_DELETION_SCHEDULED"
)

// KnownTypes lists every event type the service recognises, in wire order.
func KnownTypes() []Type {
	return []Type{TypeInvoiceDueSoon, TypeInvoiceOverdue, TypeProfileDeletionScheduled}
}

// Recipient identifies who the notification email goes to.
type Recipient struct {
	UserID string `json:"user_id" validate:"required"`
	Email  string `json:"email" validate:"required,email"`
	Name   string `json:"name" validate:"required"`
}

// Date is a calendar date on the wire ("2006-01-02"), without a time component.
type Date struct {
	time.Time
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return fmt.Errorf("empty date")
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return fmt.Errorf("invalid date %q: %w", s, err)
	}
	d.Time = t
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Time.Format("2006-01-02") + `"`), nil
}

// InvoiceDueSoonPayload accompanies TypeInvoiceDueSoon.
type InvoiceDueSoonPayload struct {
	CreditCard      string  `json:"credit_card" validate:"required"`
	Month           int     `json:"month" validate:"required,min=1,max=12"`
	Year            int     `json:"year" validate:"required,min=2000"`
	DueDate         Date    `json:"due_date"`
	Amount          float64 `json:"amount" validate:"gte=0"`
	InvoiceDeepLink string  `json:"invoice_deep_link" validate:"required"`
}

// InvoiceOverduePayload accompanies TypeInvoiceOverdue.
type InvoiceOverduePayload struct {
	CreditCard      string  `json:"credit_card" validate:"required"`
	Month           int     `json:"month" validate:"required,min=1,max=12"`
	Year            int     `json:"year" validate:"required,min=2000"`
	DueDate         Date    `json:"due_date"`
	Amount          float64 `json:"amount" validate:"gte=0"`
	DaysOverdue     int     `json:"days_overdue" validate:"required,min=1"`
	InvoiceDeepLink string  `json:"invoice_deep_link" validate:"required"`
}

// ProfileDeletionScheduledPayload accompanies TypeProfileDeletionScheduled.
type ProfileDeletionScheduledPayload struct {
	DeletionScheduledAt       time.Time `json:"deletion_scheduled_at"`
	ReactivateAccountDeepLink string    `json:"reactivate_account_deep_link" validate:"required"`
}

// Envelope is the validated form of an inbound notification event.
// Payload holds the variant struct selected by EventType.
type Envelope struct {
	MessageID   uuid.UUID
	Timestamp   time.Time
	TriggerType string
	EventType   Type
	Recipient   Recipient
	Payload     any
}
