package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// wireEnvelope keeps the payload raw until event_type selects a variant.
type wireEnvelope struct {
	MessageID   string          `json:"message_id" validate:"required"`
	Timestamp   string          `json:"timestamp" validate:"required"`
	TriggerType string          `json:"trigger_type"`
	EventType   string          `json:"event_type" validate:"required"`
	Recipient   Recipient       `json:"recipient"`
	Payload     json.RawMessage `json:"payload" validate:"required"`
}

// Parse deserialises and validates a broker message body.
//
// Error classification:
//   - body is not JSON                        -> *MalformedJSONError
//   - missing/mistyped fields, bad payload    -> *SchemaValidationError
//   - event_type outside the recognised set   -> *UnknownEventTypeError
func Parse(body []byte) (*Envelope, error) {
	var wire wireEnvelope
	if err := json.Unmarshal(body, &wire); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, &SchemaValidationError{Field: typeErr.Field, err: err}
		}
		return nil, &MalformedJSONError{err: err}
	}

	if err := validate.Struct(wire); err != nil {
		return nil, &SchemaValidationError{Field: firstFailedField(err), err: err}
	}

	messageID, err := uuid.Parse(wire.MessageID)
	if err != nil {
		return nil, &SchemaValidationError{Field: "message_id", err: err}
	}

	timestamp, err := time.Parse(time.RFC3339, wire.Timestamp)
	if err != nil {
		return nil, &SchemaValidationError{Field: "timestamp", err: err}
	}

	payload, err := parsePayload(Type(wire.EventType), wire.Payload)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		MessageID:   messageID,
		Timestamp:   timestamp.UTC(),
		TriggerType: wire.TriggerType,
		EventType:   Type(wire.EventType),
		Recipient:   wire.Recipient,
		Payload:     payload,
	}, nil
}

func parsePayload(eventType Type, raw json.RawMessage) (any, error) {
	switch eventType {
	case TypeInvoiceDueSoon:
		var p InvoiceDueSoonPayload
		if err := decodePayload(raw, &p); err != nil {
			return nil, err
		}
		if p.DueDate.IsZero() {
			return nil, &SchemaValidationError{Field: "due_date", err: errMissing}
		}
		return p, nil

	case TypeInvoiceOverdue:
		var p InvoiceOverduePayload
		if err := decodePayload(raw, &p); err != nil {
			return nil, err
		}
		if p.DueDate.IsZero() {
			return nil, &SchemaValidationError{Field: "due_date", err: errMissing}
		}
		return p, nil

	case TypeProfileDeletionScheduled:
		var p ProfileDeletionScheduledPayload
		if err := decodePayload(raw, &p); err != nil {
			return nil, err
		}
		if p.DeletionScheduledAt.IsZero() {
			return nil, &SchemaValidationError{Field: "deletion_scheduled_at", err: errMissing}
		}
		return p, nil

	default:
		return nil, &UnknownEventTypeError{EventType: string(eventType)}
	}
}

var errMissing = fmt.Errorf("required field missing")

func decodePayload(raw json.RawMessage, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return &SchemaValidationError{Field: "payload", err: err}
	}
	if err := validate.Struct(dst); err != nil {
		return &SchemaValidationError{Field: firstFailedField(err), err: err}
	}
	return nil
}

func firstFailedField(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return verrs[0].Field()
	}
	return ""
}
