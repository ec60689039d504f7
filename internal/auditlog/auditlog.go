// Package auditlog is the append-only trail of state transitions and
// download-URL issuance. Logging is deliberately best-effort: a failure
// here is recorded and swallowed rather than propagated, since an audit
// write must never abort the primary state transition it is describing.
package auditlog

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/shivaxm/uploadsvc/internal/store"
)

// Manager records audit events against the relational store.
type Manager struct {
	store  store.Store
	logger *logrus.Logger
}

// New builds a Manager.
func New(s store.Store, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{store: s, logger: logger}
}

// Event carries the fields common to every audit record. Action is
// required (Record drops an event without one); the request context
// fields (actor, file, IP, user agent) may be empty, and Details is
// action-specific and may be nil.
type Event struct {
	ActorUserID string
	Action      string
	FileID      string
	IP          string
	UserAgent   string
	Details     map[string]any
}

// Record appends an audit event. Errors are logged, not returned,
// because audit logging must never block or fail the transition it
// describes (the same best-effort posture the teacher's audit manager
// applies to malformed events — log and move on).
func (m *Manager) Record(ctx context.Context, e Event) {
	if e.Action == "" {
		m.logger.Warn("audit event missing action, dropping")
		return
	}

	row := &store.AuditEvent{
		Action:    e.Action,
		IP:        e.IP,
		UserAgent: e.UserAgent,
		Details:   e.Details,
	}
	if e.ActorUserID != "" {
		row.ActorUserID = &e.ActorUserID
	}
	if e.FileID != "" {
		row.FileID = &e.FileID
	}

	if err := m.store.AppendAuditEvent(ctx, row); err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{
			"action":  e.Action,
			"file_id": e.FileID,
		}).Error("failed to append audit event")
	}
}
