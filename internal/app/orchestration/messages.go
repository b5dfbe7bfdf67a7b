package orchestration

import (
	"fmt"
	"time"

	"github.com/ahrav/vulnscan-armada/internal/domain/finding"
	"github.com/ahrav/vulnscan-armada/internal/domain/notification"
	"github.com/ahrav/vulnscan-armada/internal/domain/task"
)

// buildMessage renders the notification for a transition out of from. The
// bool is false for transitions that are not announced.
func buildMessage(t *task.Task, from task.Progress, summary finding.Summary, now time.Time) (notification.Message, bool) {
	msg := notification.Message{
		TaskUUID:   t.UUID(),
		AuditID:    t.AuditID(),
		ScanID:     t.ScanID(),
		Target:     t.Target(),
		From:       from.String(),
		To:         t.Progress().String(),
		Reason:     t.ErrorReason(),
		OccurredAt: now,
	}

	switch {
	case t.Progress() == task.ProgressRunning:
		msg.Title = fmt.Sprintf("Now scanning *%s*.", t.Target())
	case t.Progress() == task.ProgressFailed:
		msg.Title = fmt.Sprintf(":rotating_light: *Scan error at %s*.", t.Target())
	case from == task.ProgressStopped && t.Progress() == task.ProgressDeleted && t.ErrorReason() == "":
		minutes := int(t.Elapsed().Minutes())
		msg.Title = fmt.Sprintf("Scan for *%s* completed (%d min).", t.Target(), minutes)
		msg.Attachments = summaryAttachments(summary)
	default:
		return notification.Message{}, false
	}
	return msg, true
}

func summaryAttachments(s finding.Summary) []notification.Attachment {
	var atts []notification.Attachment
	if n := s[finding.FixRequiredRequired]; n > 0 {
		atts = append(atts, notification.Attachment{
			Title: fmt.Sprintf("Urgent Response Required (%d)", n),
			Color: notification.ColorDanger,
		})
	}
	if n := s[finding.FixRequiredRecommended]; n > 0 {
		atts = append(atts, notification.Attachment{
			Title: fmt.Sprintf("Fix Recommended (%d)", n),
			Color: notification.ColorWarning,
		})
	}
	if n := s[finding.FixRequiredUndefined]; n > 0 {
		atts = append(atts, notification.Attachment{
			Title: fmt.Sprintf("Severity Unrated (%d)", n),
			Color: notification.ColorUnrated,
		})
	}
	if len(atts) == 0 {
		atts = append(atts, notification.Attachment{
			Title: "No Response Required :tada:",
			Color: notification.ColorGood,
		})
	}
	return atts
}
