package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"tally/internal/api"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

// countPrinter renders ballot counts with locale grouping so poll workers
// can read large tallies at a glance.
var countPrinter = message.NewPrinter(language.English)

func renderDaemonStatus(w io.Writer, status api.DaemonStatus) {
	colorize := shouldColorize(w)

	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(w, line)
	}
	if status.Running {
		fmt.Fprintln(w, renderStatusLine("Tally", statusOK, fmt.Sprintf("Running (pid %d)", status.PID), colorize))
	} else {
		fmt.Fprintln(w, renderStatusLine("Tally", statusWarn, "Not running (run `tally start`)", colorize))
	}
	fmt.Fprintln(w, renderStatusLine("Database", statusInfo, status.DBPath, colorize))
	fmt.Fprintln(w, renderStatusLine("Polls", pollsKind(status.PollsState), status.PollsState, colorize))
	fmt.Fprintln(w, renderStatusLine("Ballots counted", statusInfo, countPrinter.Sprintf("%d", status.BallotsCounted), colorize))
	fmt.Fprintln(w, renderStatusLine("Unconfigurable", statusInfo, yesNo(status.CanUnconfigure), colorize))
	fmt.Fprintln(w)

	for _, line := range renderSectionHeader("Election", colorize) {
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w, renderStatusLine("Election", statusInfo, status.ElectionID, colorize))
	precinct := status.PrecinctID
	if precinct == "" {
		precinct = "all precincts"
	}
	fmt.Fprintln(w, renderStatusLine("Precinct", statusInfo, precinct, colorize))
	if status.TestMode {
		fmt.Fprintln(w, renderStatusLine("Mode", statusWarn, "TEST ballots only", colorize))
	} else {
		fmt.Fprintln(w, renderStatusLine("Mode", statusOK, "Live", colorize))
	}
	fmt.Fprintln(w)

	for _, line := range renderSectionHeader("Scanner", colorize) {
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w, renderStatusLine("State", scannerKind(status.Scanner), status.Scanner.State, colorize))
	if status.Scanner.Error != "" {
		fmt.Fprintln(w, renderStatusLine("Condition", statusWarn, status.Scanner.Error, colorize))
	}
	if interp := status.Scanner.Interpretation; interp != nil {
		detail := interp.Outcome
		if len(interp.Reasons) > 0 {
			detail = fmt.Sprintf("%s (%s)", detail, strings.Join(interp.Reasons, ", "))
		}
		if interp.InvalidReason != "" {
			detail = fmt.Sprintf("%s (%s)", detail, interp.InvalidReason)
		}
		fmt.Fprintln(w, renderStatusLine("Sheet", statusInfo, detail, colorize))
	}
	fmt.Fprintln(w)

	for _, line := range renderSectionHeader("Export", colorize) {
		fmt.Fprintln(w, line)
	}
	if status.Export.DriveAttached {
		fmt.Fprintln(w, renderStatusLine("Drive", statusOK, status.Export.DriveDir, colorize))
	} else {
		fmt.Fprintln(w, renderStatusLine("Drive", statusWarn, fmt.Sprintf("Not attached (%s)", status.Export.DriveDir), colorize))
	}
	pendingKind := statusOK
	if status.Export.PendingSheets > 0 {
		pendingKind = statusWarn
	}
	fmt.Fprintln(w, renderStatusLine("Pending sheets", pendingKind, countPrinter.Sprintf("%d", status.Export.PendingSheets), colorize))
	fmt.Fprintln(w, renderStatusLine("Marked complete", statusInfo, yesNo(status.Export.MarkedComplete), colorize))

	if batch := status.OngoingBatch; batch != nil {
		fmt.Fprintln(w)
		for _, line := range renderSectionHeader("Ongoing Batch", colorize) {
			fmt.Fprintln(w, line)
		}
		fmt.Fprintln(w, renderStatusLine("Number", statusInfo, countPrinter.Sprintf("%d", batch.Number), colorize))
		fmt.Fprintln(w, renderStatusLine("Opened", statusInfo, fmt.Sprintf("%s (%s)", batch.StartedAt, batch.OpenReason), colorize))
	}
}

func pollsKind(state string) statusKind {
	switch state {
	case "polls_open":
		return statusOK
	case "polls_paused":
		return statusWarn
	default:
		return statusInfo
	}
}

func scannerKind(scanner api.ScannerStatus) statusKind {
	switch scanner.State {
	case "unrecoverable_error":
		return statusError
	case "jammed", "both_sides", "recovering", "disconnected":
		return statusWarn
	default:
		return statusOK
	}
}

func renderStatusLine(label string, kind statusKind, detail string, colorize bool) string {
	statusText := statusKindLabel(kind)
	if detail != "" {
		statusText = fmt.Sprintf("[%s] %s", statusText, detail)
	} else {
		statusText = fmt.Sprintf("[%s]", statusText)
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
