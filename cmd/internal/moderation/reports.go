package moderation

import (
	"context"
	"slices"
	"strings"
	"unicode/utf8"

	"lightlink/cmd/identity"
	"lightlink/cmd/identity/ids"
	"lightlink/cmd/internal/conversation"
	"lightlink/cmd/internal/outbox"
	"lightlink/cmd/internal/store"
	v1 "lightlink/contracts/realtime/v1"
)

const (
	reviewNotice = "A report has been filed against your account for potential violations of our community standards. " +
		"Your interactions are being reviewed. (This may be a false alarm)"
	defaultReportContext = "direct message"
	reportColor          = 0xff0000
)

// ReportMessage files a report against the target. The reported message is
// flagged so retention keeps it, the target is warned and the moderation
// webhook receives a summary.
func (m *Manager) ReportMessage(ctx context.Context, caller outbox.Caller, p v1.ReportMessagePayload) (outbox.Outcome, error) {
	const op = "moderation.ReportMessage"
	target := identity.NormalizeName(p.Target)
	text := strings.TrimSpace(p.Text)
	if target == "" || text == "" {
		return outbox.Outcome{}, identity.Invalid(op, "")
	}
	if utf8.RuneCountInString(text) > maxReportTextRunes {
		return outbox.Outcome{}, identity.Invalid(op, "Message is too long.")
	}
	reportCtx := strings.TrimSpace(p.Context)

	var (
		out    outbox.Outcome
		report store.Report
	)
	err := m.store.WriteAs(ctx, caller.Name, func(st *store.State) error {
		if !st.HasIdentity(target) {
			return identity.NotFound(op, "User not found.")
		}
		now := m.store.Now()
		if reportCtx != "" && p.MessageID != "" {
			conversation.MarkReported(st, caller.Name, reportCtx, p.MessageID)
		}

		label := reportCtx
		if label == "" {
			label = defaultReportContext
		}
		report = store.Report{
			ID:           ids.NewUUID(),
			Reporter:     caller.Name,
			ReportedUser: target,
			Message:      text,
			Context:      label,
			MessageID:    p.MessageID,
			Timestamp:    now,
		}
		st.Reports = append(st.Reports, report)
		st.Warnings[target] = &store.Warning{Message: reviewNotice, At: now}
		return nil
	})
	if err != nil {
		return outbox.Outcome{}, err
	}

	out.Reply(v1.TypeSystem, system("Report filed. Both parties have been notified."))
	out.Send(target, v1.TypeAdminWarning, v1.AdminWarningPayload{Message: reviewNotice})
	out.Relays = append(out.Relays, outbox.Relay{
		Title:     "New User Report",
		Color:     reportColor,
		Timestamp: report.Timestamp,
		Fields: []outbox.EmbedField{
			{Name: "Reporter", Value: caller.Name, Inline: true},
			{Name: "Reported User", Value: target, Inline: true},
			{Name: "Context", Value: report.Context, Inline: true},
			{Name: "Message Content", Value: text},
		},
	})
	m.log.Info("report.file", "id", report.ID, "reporter", caller.Name, "target", target)
	return out, nil
}

// Reports replies with every filed report.
func (m *Manager) Reports(ctx context.Context, _ outbox.Caller, p v1.AdminPayload) (outbox.Outcome, error) {
	if err := m.guard("moderation.Reports", p.Password); err != nil {
		return outbox.Outcome{}, err
	}
	if err := ctx.Err(); err != nil {
		return outbox.Outcome{}, err
	}
	var out outbox.Outcome
	m.store.Read(func(st *store.State) {
		out.Reply(v1.TypeAdminReportsList, v1.AdminReportsListPayload{Reports: wireReports(st.Reports)})
	})
	return out, nil
}

// DeleteReport removes a report and replies with the remaining list.
func (m *Manager) DeleteReport(ctx context.Context, caller outbox.Caller, p v1.AdminDeleteReportPayload) (outbox.Outcome, error) {
	const op = "moderation.DeleteReport"
	if err := m.guard(op, p.Password); err != nil {
		return outbox.Outcome{}, err
	}

	var out outbox.Outcome
	err := m.store.WriteAs(ctx, caller.Name, func(st *store.State) error {
		i := slices.IndexFunc(st.Reports, func(r store.Report) bool { return r.ID == p.ReportID })
		if i < 0 {
			return identity.NotFound(op, "")
		}
		st.Reports = slices.Delete(st.Reports, i, i+1)
		out.Reply(v1.TypeSystem, system("Report deleted"))
		out.Reply(v1.TypeAdminReportsList, v1.AdminReportsListPayload{Reports: wireReports(st.Reports)})
		return nil
	})
	if err != nil {
		return outbox.Outcome{}, err
	}
	m.log.Info("report.delete", "id", p.ReportID, "by", caller.Name)
	return out, nil
}

func wireReports(reports []store.Report) []v1.Report {
	out := make([]v1.Report, 0, len(reports))
	for _, r := range reports {
		out = append(out, r.Wire())
	}
	return out
}

// FeedbackText formats user feedback for the webhook. Long feedback is cut.
func FeedbackText(message, contact string) (string, error) {
	const op = "moderation.FeedbackText"
	message = strings.TrimSpace(message)
	if message == "" {
		return "", identity.Invalid(op, "message required")
	}
	if utf8.RuneCountInString(message) > maxFeedbackRunes {
		message = string([]rune(message)[:maxFeedbackRunes])
	}
	text := "**New Feedback Report:**\n```\n" + message + "\n```"
	if contact = strings.TrimSpace(contact); contact != "" {
		text += "\nContact: " + contact
	}
	return text, nil
}
