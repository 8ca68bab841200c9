package export

import (
	"encoding/json"
	"fmt"
	"time"

	"tally/internal/interpret"
	"tally/internal/store"
)

// CastVoteRecord is the exported, serialized record for one sheet. Rejected
// sheets are exported too, with counted=false, so the audit trail covers
// every piece of paper the scanner handled.
type CastVoteRecord struct {
	SheetID     string                         `json:"sheet_id"`
	BatchID     string                         `json:"batch_id"`
	ElectionID  string                         `json:"election_id"`
	PrecinctID  string                         `json:"precinct_id,omitempty"`
	TestMode    bool                           `json:"test_mode"`
	Counted     bool                           `json:"counted"`
	Adjudicated bool                           `json:"adjudicated,omitempty"`
	Verdict     string                         `json:"verdict"`
	Reasons     []interpret.AdjudicationReason `json:"reasons,omitempty"`
	Invalid     string                         `json:"invalid_reason,omitempty"`
	Front       interpret.Page                 `json:"front"`
	Back        interpret.Page                 `json:"back"`
	ScannedAt   time.Time                      `json:"scanned_at"`
	ExportedAt  time.Time                      `json:"exported_at"`
}

// ElectionContext stamps every record with the election this scanner serves.
type ElectionContext struct {
	ElectionID string
	PrecinctID string
	TestMode   bool
}

func buildRecord(sheet *store.Sheet, election ElectionContext, exportedAt time.Time) ([]byte, error) {
	record := CastVoteRecord{
		SheetID:     sheet.ID,
		BatchID:     sheet.BatchID,
		ElectionID:  election.ElectionID,
		PrecinctID:  election.PrecinctID,
		TestMode:    election.TestMode,
		Counted:     sheet.Counted,
		Adjudicated: sheet.Adjudicated,
		Verdict:     string(sheet.Verdict.Outcome),
		Reasons:     sheet.Verdict.Reasons,
		Invalid:     string(sheet.Verdict.Invalid),
		Front:       sheet.Front,
		Back:        sheet.Back,
		ScannedAt:   sheet.CreatedAt,
		ExportedAt:  exportedAt.UTC(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal cast vote record: %w", err)
	}
	return data, nil
}

// RecordFileName names the session's line-delimited record file.
func RecordFileName(sessionID string) string {
	return "cvrs-" + sessionID + ".jsonl"
}

// CompleteMarkerName names the polls-closing completion marker.
func CompleteMarkerName(sessionID string) string {
	return "cvrs-" + sessionID + ".complete"
}
