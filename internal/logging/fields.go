package logging

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldEventType labels the machine-readable event class of a log record.
	FieldEventType = "event_type"
	// FieldErrorHint carries the operator-facing next step for an error.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldSheetID is the standardized structured logging key for sheet identifiers.
	FieldSheetID = "sheet_id"
	// FieldBatchID is the standardized structured logging key for batch identifiers.
	FieldBatchID = "batch_id"
	// FieldState is the standardized structured logging key for scanner state names.
	FieldState = "state"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
)
