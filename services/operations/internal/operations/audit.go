package operations

import (
	"context"
	"time"

	"github.com/appetiteclub/apt"
)

// AuditEntry records one operator action taken at a station.
type AuditEntry struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Station   string    `json:"station"`
	Action    string    `json:"action"`
	Target    string    `json:"target"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

type AuditLogger struct {
	logger apt.Logger
	now    func() time.Time
}

func NewAuditLogger(logger apt.Logger) *AuditLogger {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &AuditLogger{logger: logger.With("component", "audit"), now: time.Now}
}

func (a *AuditLogger) Log(ctx context.Context, entry AuditEntry) AuditEntry {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = a.now()
	}

	a.logger.Info("audit",
		"session_id", entry.SessionID,
		"user_id", entry.UserID,
		"station", entry.Station,
		"action", entry.Action,
		"target", entry.Target,
		"success", entry.Success,
		"timestamp", entry.Timestamp.Format(time.RFC3339),
		"error", entry.Error,
	)
	return entry
}

// LogAction records the outcome of action on target by the operator behind
// session. A nil session is logged as anonymous.
func (a *AuditLogger) LogAction(ctx context.Context, session *Session, station, action, target string, err error) AuditEntry {
	entry := AuditEntry{
		Station: station,
		Action:  action,
		Target:  target,
		Success: err == nil,
	}
	if session != nil {
		entry.SessionID = session.ID
		entry.UserID = session.UserID
	}
	if err != nil {
		entry.Error = err.Error()
	}
	return a.Log(ctx, entry)
}
