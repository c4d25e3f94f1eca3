package event

import "fmt"

// Parse failures are never worth a redelivery: the bytes will not change.
// All three error types below report Permanent() == true so the consumer
// routes the message straight to the dead-letter exchange.

type MalformedJSONError struct {
	err error
}

func (e *MalformedJSONError) Error() string   { return "malformed json body: " + e.err.Error() }
func (e *MalformedJSONError) Unwrap() error   { return e.err }
func (e *MalformedJSONError) Permanent() bool { return true }
func (e *MalformedJSONError) Kind() string    { return "malformed_json" }

type SchemaValidationError struct {
	Field string
	err   error
}

func (e *SchemaValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("schema validation failed on %q: %v", e.Field, e.err)
	}
	return "schema validation failed: " + e.err.Error()
}
func (e *SchemaValidationError) Unwrap() error   { return e.err }
func (e *SchemaValidationError) Permanent() bool { return true }
func (e *SchemaValidationError) Kind() string    { return "schema_validation" }

type UnknownEventTypeError struct {
	EventType string
}

func (e *UnknownEventTypeError) Error() string {
	return fmt.Sprintf("unknown event type %q", e.EventType)
}
func (e *UnknownEventTypeError) Permanent() bool { return true }
func (e *UnknownEventTypeError) Kind() string    { return "unknown_event_type" }
