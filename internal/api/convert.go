package api

import (
	"time"

	"tally/internal/classify"
	"tally/internal/machine"
	"tally/internal/store"
)

// FromVerdict converts a classifier verdict to its API representation.
func FromVerdict(verdict *classify.Verdict) *Interpretation {
	if verdict == nil {
		return nil
	}
	out := &Interpretation{
		Outcome:       string(verdict.Outcome),
		InvalidReason: string(verdict.Invalid),
	}
	for _, reason := range verdict.Reasons {
		out.Reasons = append(out.Reasons, string(reason))
	}
	return out
}

// FromMachineStatus converts the machine projection to its API form.
func FromMachineStatus(status machine.Status) ScannerStatus {
	return ScannerStatus{
		State:          string(status.State),
		Error:          string(status.Error),
		Interpretation: FromVerdict(status.Verdict),
	}
}

// FromBatchSummary converts a store batch summary to its API form.
func FromBatchSummary(summary *store.BatchSummary) BatchSummary {
	if summary == nil {
		return BatchSummary{}
	}
	out := BatchSummary{
		ID:             summary.ID,
		Number:         summary.Number,
		OpenReason:     summary.OpenReason,
		CloseReason:    summary.CloseReason,
		Sheets:         summary.SheetCount,
		BallotsCounted: summary.CountedCount,
		StartedAt:      FormatTime(summary.StartedAt),
	}
	if summary.EndedAt != nil {
		out.EndedAt = FormatTime(*summary.EndedAt)
	}
	return out
}

// FromBatch converts a bare batch row (no tallies) to its API form.
func FromBatch(b *store.Batch) *BatchSummary {
	if b == nil {
		return nil
	}
	out := BatchSummary{
		ID:         b.ID,
		Number:     b.Number,
		OpenReason: b.OpenReason,
		StartedAt:  FormatTime(b.StartedAt),
	}
	if b.EndedAt != nil {
		out.CloseReason = b.CloseReason
		out.EndedAt = FormatTime(*b.EndedAt)
	}
	return &out
}

// FromBatchSummaries converts a slice of batch summaries into API DTOs.
func FromBatchSummaries(summaries []*store.BatchSummary) []BatchSummary {
	if len(summaries) == 0 {
		return nil
	}
	out := make([]BatchSummary, 0, len(summaries))
	for _, summary := range summaries {
		out = append(out, FromBatchSummary(summary))
	}
	return out
}

// FromPollsTransition converts an audit-trail row to its API form.
func FromPollsTransition(tr *store.PollsTransition) PollsTransition {
	if tr == nil {
		return PollsTransition{}
	}
	return PollsTransition{
		From:           string(tr.From),
		To:             string(tr.To),
		Reason:         tr.Reason,
		BallotsCounted: tr.BallotsCounted,
		At:             FormatTime(tr.CreatedAt),
	}
}

// FormatTime converts a time to RFC3339 or returns empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
