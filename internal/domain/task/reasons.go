package task

import (
	"fmt"
	"time"
)

// Human-readable error reasons recorded on a task and mirrored onto its scan.
const (
	ReasonCancelledByUser  = "Scan was cancelled by user."
	ReasonWindowTooShort   = "Scan was abandoned since `end_at` is soon or over."
	ReasonWindowOver       = "Scan was terminated since `end_at` is over."
	ReasonServerDown       = "Scan was terminated due to server down."
	ReasonScannerError     = "Scan was terminated due to scanner error."
	ReasonReportDownload   = "Report download failed due to server down."
	ReasonReportParse      = "Report could not be parsed."
	reasonLaunchExhaustion = "Scan was abandoned since the scanner failed to launch %d times in a row."
	reasonDurationExceeded = "Scan was terminated since it took more than %d hours."
)

// ReasonLaunchFailures builds the reason recorded after n consecutive launch failures.
func ReasonLaunchFailures(n int) string { return fmt.Sprintf(reasonLaunchExhaustion, n) }

// ReasonDurationExceeded builds the reason recorded when a scan outlives max.
func ReasonDurationExceeded(max time.Duration) string {
	return fmt.Sprintf(reasonDurationExceeded, int(max.Hours()))
}
