package observability

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// AuditEvent is one entry in the security audit trail.
type AuditEvent struct {
	Type      string                 `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	RunID     string                 `json:"run_id,omitempty"`
	Action    string                 `json:"action"`
	Status    string                 `json:"status"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// AuditLogger records governance decisions that operators may need to
// reconstruct later: firewall blocks, escalation flags, circuit trips,
// and budget exhaustion.
type AuditLogger struct {
	logger zerolog.Logger
	mu     sync.Mutex
	file   *os.File
}

var (
	auditOnce sync.Once
	auditInst *AuditLogger
)

// GetAuditLogger returns the global audit logger instance.
func GetAuditLogger() *AuditLogger {
	auditOnce.Do(func() {
		// Default to stderr if not initialized
		auditInst = &AuditLogger{
			logger: zerolog.New(os.Stderr).With().Timestamp().Logger(),
		}
	})
	return auditInst
}

// InitAuditLogger points the global audit logger at a file.
func InitAuditLogger(path string) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	auditInst = &AuditLogger{
		logger: zerolog.New(file).With().Timestamp().Logger(),
		file:   file,
	}
	return nil
}

// Record emits an audit event.
func (a *AuditLogger) Record(event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Str("type", event.Type).
		Str("run_id", event.RunID).
		Str("action", event.Action).
		Str("status", event.Status)

	if event.Metadata != nil {
		entry.Interface("metadata", event.Metadata)
	}

	entry.Msg("")
}

// Close closes the audit logger's file handle.
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		return a.file.Close()
	}
	return nil
}

// RecordFirewallAudit records a firewall decision.
func RecordFirewallAudit(runID, reason, status string) {
	GetAuditLogger().Record(AuditEvent{
		Type:   "firewall",
		RunID:  runID,
		Action: "evaluate",
		Status: status,
		Metadata: map[string]interface{}{
			"reason": reason,
		},
	})
}

// RecordBudgetAudit records a budget decision, such as a tier downgrade
// or cap exhaustion.
func RecordBudgetAudit(runID, action string, remainingUSD float64) {
	GetAuditLogger().Record(AuditEvent{
		Type:   "budget",
		RunID:  runID,
		Action: action,
		Status: "recorded",
		Metadata: map[string]interface{}{
			"remaining_usd": remainingUSD,
		},
	})
}
