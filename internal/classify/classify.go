// Package classify maps a pair of page interpretations to a sheet-level
// verdict. It is a pure function with no I/O and is the single source of
// truth for ballot disposition.
package classify

import (
	"strings"

	"tally/internal/interpret"
)

// Outcome is the sheet-level disposition.
type Outcome string

const (
	OutcomeValid       Outcome = "valid"
	OutcomeNeedsReview Outcome = "needs_review"
	OutcomeInvalid     Outcome = "invalid"
)

// InvalidReason is the single reason attached to an Invalid verdict.
type InvalidReason string

const (
	InvalidBallotHash      InvalidReason = "invalid_ballot_hash"
	InvalidTestMode        InvalidReason = "invalid_test_mode"
	InvalidPrecinct        InvalidReason = "invalid_precinct"
	InvalidUnreadable      InvalidReason = "unreadable"
	InvalidVerticalStreaks InvalidReason = "vertical_streaks_detected"
	// InvalidUnknown is the total-function safety net. Reaching it
	// indicates an interpreter contract violation, not a ballot condition.
	InvalidUnknown InvalidReason = "unknown"
)

// Verdict is the classifier output. Exactly one of the reason fields is
// populated, matching the outcome.
type Verdict struct {
	Outcome Outcome
	// Reasons is the ordered, de-duplicated review reason list for
	// OutcomeNeedsReview.
	Reasons []interpret.AdjudicationReason
	// Invalid is the single reason code for OutcomeInvalid.
	Invalid InvalidReason
}

// Valid reports whether the sheet needs no operator involvement.
func (v Verdict) Valid() bool { return v.Outcome == OutcomeValid }

// Describe renders the verdict as a short operator-facing string.
func (v Verdict) Describe() string {
	switch v.Outcome {
	case OutcomeValid:
		return "valid"
	case OutcomeNeedsReview:
		parts := make([]string, 0, len(v.Reasons))
		for _, reason := range v.Reasons {
			parts = append(parts, string(reason))
		}
		return "needs review: " + strings.Join(parts, ", ")
	case OutcomeInvalid:
		return "invalid: " + string(v.Invalid)
	default:
		return string(v.Outcome)
	}
}

// Sheet classifies a front/back page pair. Order-independent in front/back
// except where a rule states otherwise. Total: every input pair yields
// exactly one verdict.
func Sheet(front, back interpret.Page) Verdict {
	// One machine-marked side with a blank reverse is the printed-ballot
	// shape; the machine-marked side alone decides.
	if page, ok := machineMarkedWithBlankReverse(front, back); ok {
		if page.RequiresAdjudication {
			return Verdict{Outcome: OutcomeNeedsReview, Reasons: dedupe(page.AdjudicationReasons)}
		}
		return Verdict{Outcome: OutcomeValid}
	}

	if front.Type == interpret.PageHandMarked && back.Type == interpret.PageHandMarked {
		return classifyHandMarked(front, back)
	}

	if reason, ok := invalidBallotReason(front, back); ok {
		return Verdict{Outcome: OutcomeInvalid, Invalid: reason}
	}

	if reason, ok := unreadableReason(front, back); ok {
		return Verdict{Outcome: OutcomeInvalid, Invalid: reason}
	}

	return Verdict{Outcome: OutcomeInvalid, Invalid: InvalidUnknown}
}

func machineMarkedWithBlankReverse(front, back interpret.Page) (interpret.Page, bool) {
	if front.Type == interpret.PageMachineMarked && back.Type == interpret.PageBlank {
		return front, true
	}
	if back.Type == interpret.PageMachineMarked && front.Type == interpret.PageBlank {
		return back, true
	}
	return interpret.Page{}, false
}

func classifyHandMarked(front, back interpret.Page) Verdict {
	if !front.RequiresAdjudication && !back.RequiresAdjudication {
		return Verdict{Outcome: OutcomeValid}
	}

	// Blank ballot is a both-sides-must-agree condition: a single blank
	// side with content on the other never flags the sheet as blank.
	if front.Blank() && back.Blank() {
		return Verdict{Outcome: OutcomeNeedsReview, Reasons: []interpret.AdjudicationReason{interpret.ReasonBlankBallot}}
	}

	reasons := make([]interpret.AdjudicationReason, 0, len(front.AdjudicationReasons)+len(back.AdjudicationReasons))
	for _, page := range []interpret.Page{front, back} {
		if !page.RequiresAdjudication {
			continue
		}
		for _, reason := range page.AdjudicationReasons {
			if reason == interpret.ReasonBlankBallot {
				continue
			}
			reasons = append(reasons, reason)
		}
	}
	reasons = dedupe(reasons)
	if len(reasons) == 0 {
		// Only a one-sided blank flag remained, which drops out.
		return Verdict{Outcome: OutcomeValid}
	}
	return Verdict{Outcome: OutcomeNeedsReview, Reasons: reasons}
}

// invalidBallotReason checks the election-mismatch family in priority order:
// ballot hash first, then test mode, then precinct.
func invalidBallotReason(front, back interpret.Page) (InvalidReason, bool) {
	for _, check := range []struct {
		pageType interpret.PageType
		reason   InvalidReason
	}{
		{interpret.PageInvalidBallotHash, InvalidBallotHash},
		{interpret.PageInvalidTestMode, InvalidTestMode},
		{interpret.PageInvalidPrecinct, InvalidPrecinct},
	} {
		if front.Type == check.pageType || back.Type == check.pageType {
			return check.reason, true
		}
	}
	return "", false
}

func unreadableReason(front, back interpret.Page) (InvalidReason, bool) {
	streaked := false
	unreadable := false
	for _, page := range []interpret.Page{front, back} {
		if page.Type != interpret.PageUnreadable {
			continue
		}
		unreadable = true
		if page.UnreadableCause == interpret.UnreadableCauseVerticalStreaks {
			streaked = true
		}
	}
	if streaked {
		return InvalidVerticalStreaks, true
	}
	if unreadable {
		return InvalidUnreadable, true
	}
	return "", false
}

func dedupe(reasons []interpret.AdjudicationReason) []interpret.AdjudicationReason {
	seen := make(map[interpret.AdjudicationReason]struct{}, len(reasons))
	out := make([]interpret.AdjudicationReason, 0, len(reasons))
	for _, reason := range reasons {
		if _, ok := seen[reason]; ok {
			continue
		}
		seen[reason] = struct{}{}
		out = append(out, reason)
	}
	return out
}
