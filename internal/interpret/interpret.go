// Package interpret defines the page interpretation contract consumed by the
// scanner control loop. The image-to-votes interpreter itself is an external
// collaborator; this package only models its typed output.
package interpret

import (
	"context"
	"strings"
)

// PageType identifies the interpretation family of a single scanned page.
type PageType string

const (
	// PageMachineMarked is a machine-printed (BMD) ballot page.
	PageMachineMarked PageType = "machine_marked"
	// PageHandMarked is a hand-marked paper ballot page.
	PageHandMarked PageType = "hand_marked"
	// PageBlank is a page with no ballot content at all.
	PageBlank PageType = "blank"
	// PageUnreadable is a page the interpreter could not read.
	PageUnreadable PageType = "unreadable"
	// PageInvalidBallotHash is a page from a different election definition.
	PageInvalidBallotHash PageType = "invalid_ballot_hash"
	// PageInvalidTestMode is a live ballot in test mode or vice versa.
	PageInvalidTestMode PageType = "invalid_test_mode"
	// PageInvalidPrecinct is a ballot for a precinct this scanner does not serve.
	PageInvalidPrecinct PageType = "invalid_precinct"
)

var allPageTypes = []PageType{
	PageMachineMarked,
	PageHandMarked,
	PageBlank,
	PageUnreadable,
	PageInvalidBallotHash,
	PageInvalidTestMode,
	PageInvalidPrecinct,
}

// ParsePageType normalizes user or wire input into a known PageType.
func ParsePageType(value string) (PageType, bool) {
	candidate := PageType(strings.ToLower(strings.TrimSpace(value)))
	for _, t := range allPageTypes {
		if t == candidate {
			return t, true
		}
	}
	return "", false
}

// AdjudicationReason is a flagged page condition requiring human review.
type AdjudicationReason string

const (
	ReasonOvervote        AdjudicationReason = "overvote"
	ReasonUndervote       AdjudicationReason = "undervote"
	ReasonBlankBallot     AdjudicationReason = "blank_ballot"
	ReasonMarginalMark    AdjudicationReason = "marginal_mark"
	ReasonUnmarkedWriteIn AdjudicationReason = "unmarked_write_in"
)

// UnreadableCauseVerticalStreaks marks the known physical streaking defect,
// distinguished from generic unreadability so the operator can clean the
// scanner glass.
const UnreadableCauseVerticalStreaks = "vertical_streaks"

// Page is the typed interpretation result for one side of a sheet.
type Page struct {
	Type PageType `json:"type"`
	// RequiresAdjudication is set by the interpreter for hand-marked and
	// machine-marked pages that need operator review.
	RequiresAdjudication bool                 `json:"requires_adjudication,omitempty"`
	AdjudicationReasons  []AdjudicationReason `json:"adjudication_reasons,omitempty"`
	// UnreadableCause carries the physical defect behind an unreadable
	// page when the interpreter can identify one.
	UnreadableCause string `json:"unreadable_cause,omitempty"`
	// ImagePath references the saved page image for audit.
	ImagePath string `json:"image_path,omitempty"`
}

// Blank reports whether a hand-marked page carries no marks at all. The
// interpreter expresses this as a blank-ballot adjudication reason.
func (p Page) Blank() bool {
	if p.Type != PageHandMarked {
		return false
	}
	for _, reason := range p.AdjudicationReasons {
		if reason == ReasonBlankBallot {
			return true
		}
	}
	return false
}

// SheetImages references the two captured page images for one sheet.
type SheetImages struct {
	Front string
	Back  string
}

// Interpreter converts a pair of captured page images into typed page
// interpretations. Implementations own all pixel analysis.
type Interpreter interface {
	InterpretSheet(ctx context.Context, images SheetImages) (front Page, back Page, err error)
}
