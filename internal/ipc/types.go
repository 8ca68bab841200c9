package ipc

import "tally/internal/api"

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse carries the aggregated daemon status.
type StatusResponse struct {
	Status api.DaemonStatus `json:"status"`
}

// ScanRequest feeds the sheet waiting at the input tray.
type ScanRequest struct{}

// ScanResponse acknowledges the scan command.
type ScanResponse struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message,omitempty"`
}

// AcceptRequest drops the held sheet into the ballot bag.
type AcceptRequest struct{}

// AcceptResponse acknowledges the accept command.
type AcceptResponse struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message,omitempty"`
}

// ReturnRequest ejects the held sheet back to the voter.
type ReturnRequest struct{}

// ReturnResponse acknowledges the return command.
type ReturnResponse struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message,omitempty"`
}

// CalibrateRequest runs sensor calibration; blocks until finished.
type CalibrateRequest struct{}

// CalibrateResponse reports the calibration outcome.
type CalibrateResponse struct {
	Calibrated bool   `json:"calibrated"`
	Message    string `json:"message,omitempty"`
}

// SetPollsRequest applies one polls-state transition.
type SetPollsRequest struct {
	State string `json:"state"`
}

// SetPollsResponse describes the applied transition.
type SetPollsResponse struct {
	From        string            `json:"from"`
	To          string            `json:"to"`
	Reason      string            `json:"reason"`
	ClosedBatch *api.BatchSummary `json:"closedBatch,omitempty"`
	OpenedBatch *api.BatchSummary `json:"openedBatch,omitempty"`
	FinalExport bool              `json:"finalExport"`
	// ExportError is set when the transition applied but the polls-closing
	// export failed. The polls stay closed; the export can be rerun.
	ExportError string `json:"exportError,omitempty"`
}

// BagReplacedRequest records a ballot-bag replacement.
type BagReplacedRequest struct{}

// BagReplacedResponse describes the batch rollover.
type BagReplacedResponse struct {
	ClosedBatch *api.BatchSummary `json:"closedBatch,omitempty"`
	OpenedBatch *api.BatchSummary `json:"openedBatch,omitempty"`
}

// ExportRequest drains pending cast vote records to the drive. Finalize also
// writes the completion marker.
type ExportRequest struct {
	Finalize bool `json:"finalize"`
}

// ExportResponse acknowledges the export.
type ExportResponse struct {
	Exported bool `json:"exported"`
}

// BatchesRequest lists all batches.
type BatchesRequest struct{}

// BatchesResponse contains batch summaries, newest first.
type BatchesResponse struct {
	Batches []api.BatchSummary `json:"batches"`
}

// TransitionsRequest fetches the polls audit trail.
type TransitionsRequest struct{}

// TransitionsResponse contains audit entries, oldest first.
type TransitionsResponse struct {
	Transitions []api.PollsTransition `json:"transitions"`
}

// StopRequest stops the daemon.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// LogTailRequest fetches log lines starting at a byte offset.
type LogTailRequest struct {
	Offset int64 `json:"offset"`
	Limit  int   `json:"limit"`
}

// LogTailResponse returns log lines and the next offset.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// DatabaseHealthRequest fetches detailed database diagnostics.
type DatabaseHealthRequest struct{}

// DatabaseHealthResponse reports ballot database health information.
type DatabaseHealthResponse struct {
	DBPath         string `json:"db_path"`
	DatabaseExists bool   `json:"database_exists"`
	SchemaVersion  int    `json:"schema_version"`
	IntegrityCheck bool   `json:"integrity_check"`
	TotalSheets    int64  `json:"total_sheets"`
	TotalBatches   int64  `json:"total_batches"`
	PendingExports int64  `json:"pending_exports"`
	Error          string `json:"error,omitempty"`
}
