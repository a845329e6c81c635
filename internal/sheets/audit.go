package sheets

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// auditRange is the append-only audit area: timestamp, action tag, deal id,
// JSON detail blob, environment tag.
const auditRange = "Audit!A:E"

// AuditLog appends a best-effort record of every sync action and error.
// Failures here are logged and swallowed; they must never mask or replace
// the primary operation's outcome.
type AuditLog struct {
	api ValuesAPI
	env string
	now func() time.Time
}

// NewAuditLog creates an audit log writing to the Audit tab of the sheet.
func NewAuditLog(api ValuesAPI, environment string) *AuditLog {
	return &AuditLog{
		api: api,
		env: environment,
		now: time.Now,
	}
}

// Record appends one audit entry. It never returns an error and never
// aborts the caller.
func (l *AuditLog) Record(ctx context.Context, action string, dealID int64, details any) {
	blob, err := json.Marshal(details)
	if err != nil {
		blob = []byte("{}")
	}

	entry := []any{
		l.now().UTC().Format(time.RFC3339),
		action,
		dealID,
		string(blob),
		l.env,
	}

	if err := l.api.Append(ctx, auditRange, [][]any{entry}); err != nil {
		// The Audit tab may not exist; the entry is dropped.
		slog.Warn("could not append audit entry",
			"component", "sheets",
			"action", action,
			"deal_id", dealID,
			"error", err,
		)
	}
}
