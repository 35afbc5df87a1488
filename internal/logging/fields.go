package logging

// Standardized structured log field names. Warnings and errors should carry
// event_type plus error_hint and impact so operators get cause, consequence,
// and next step from a single line.
const (
	FieldComponent = "component"
	FieldEventType = "event_type"
	FieldErrorHint = "error_hint"
	FieldImpact    = "impact"
	FieldAttemptID = "attempt_id"
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldState     = "state"
	FieldReason    = "reason"
)
