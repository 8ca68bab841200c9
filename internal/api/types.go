package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Interpretation is the transport form of a sheet verdict.
type Interpretation struct {
	Outcome       string   `json:"outcome"`
	Reasons       []string `json:"reasons,omitempty"`
	InvalidReason string   `json:"invalidReason,omitempty"`
}

// ScannerStatus is the transport form of the scanner state projection.
type ScannerStatus struct {
	State          string          `json:"state"`
	Error          string          `json:"error,omitempty"`
	Interpretation *Interpretation `json:"interpretation,omitempty"`
}

// BatchSummary describes one ballot batch in a transport-friendly format.
type BatchSummary struct {
	ID             string `json:"id"`
	Number         int64  `json:"number"`
	OpenReason     string `json:"openReason"`
	CloseReason    string `json:"closeReason,omitempty"`
	StartedAt      string `json:"startedAt,omitempty"`
	EndedAt        string `json:"endedAt,omitempty"`
	Sheets         int64  `json:"sheets"`
	BallotsCounted int64  `json:"ballotsCounted"`
}

// PollsTransition is one audit-trail entry.
type PollsTransition struct {
	From           string `json:"from"`
	To             string `json:"to"`
	Reason         string `json:"reason"`
	BallotsCounted int64  `json:"ballotsCounted"`
	At             string `json:"at,omitempty"`
}

// ExportStatus reports the export drive and queue condition.
type ExportStatus struct {
	DriveAttached  bool   `json:"driveAttached"`
	DriveDir       string `json:"driveDir"`
	PendingSheets  int    `json:"pendingSheets"`
	MarkedComplete bool   `json:"markedComplete"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running        bool          `json:"running"`
	PID            int           `json:"pid"`
	DBPath         string        `json:"dbPath"`
	LockFilePath   string        `json:"lockFilePath"`
	ElectionID     string        `json:"electionId"`
	PrecinctID     string        `json:"precinctId,omitempty"`
	TestMode       bool          `json:"testMode"`
	PollsState     string        `json:"pollsState"`
	Scanner        ScannerStatus `json:"scanner"`
	BallotsCounted int64         `json:"ballotsCounted"`
	CanUnconfigure bool          `json:"canUnconfigure"`
	Export         ExportStatus  `json:"export"`
	OngoingBatch   *BatchSummary `json:"ongoingBatch,omitempty"`
}

// BatchListResponse wraps a collection of batches for API responses.
type BatchListResponse struct {
	Batches []BatchSummary `json:"batches"`
}
