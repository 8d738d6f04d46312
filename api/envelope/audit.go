// Package envelope - Envelope logging and audit
package envelope

import (
	"time"

	"go.uber.org/zap"

	"energy-quote/core/determinism"
	qerrors "energy-quote/internal/errors"
	"energy-quote/internal/logging"
)

// AuditEntry is a log entry for one quote attempt
type AuditEntry struct {
	Timestamp     time.Time `json:"timestamp"`
	QuoteID       string    `json:"quote_id,omitempty"`
	ReplayKey     string    `json:"replay_key,omitempty"`
	InputHash     string    `json:"input_hash"`
	Industry      string    `json:"industry"`
	PolicyVersion string    `json:"policy_version,omitempty"`
	PolicyHash    string    `json:"policy_hash,omitempty"`
	DurationMs    int64     `json:"duration_ms,omitempty"`
	Success       bool      `json:"success"`
	ErrorType     string    `json:"error_type,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// replayKeys derives one key per (input, policy) pair, so a replayed request
// can be matched to its earlier quote regardless of quote ID.
var replayKeys = determinism.NewIDGenerator("quote-replay")

// AuditLogger logs envelopes for audit and replay
type AuditLogger interface {
	Log(entry AuditEntry) error
}

// ZapAuditLogger writes audit entries as structured log records
type ZapAuditLogger struct {
	logger *zap.Logger
}

// NewZapAuditLogger creates an audit logger on a named child logger
func NewZapAuditLogger(logger *zap.Logger) *ZapAuditLogger {
	return &ZapAuditLogger{logger: logging.OrNop(logger).Named("audit")}
}

// Log logs an audit entry
func (l *ZapAuditLogger) Log(entry AuditEntry) error {
	fields := []zap.Field{
		zap.Time("timestamp", entry.Timestamp),
		zap.String("input_hash", entry.InputHash),
		zap.String("industry", entry.Industry),
		zap.Int64("duration_ms", entry.DurationMs),
		zap.Bool("success", entry.Success),
	}
	if entry.QuoteID != "" {
		fields = append(fields, zap.String("quote_id", entry.QuoteID), zap.String("replay_key", entry.ReplayKey))
	}
	if entry.PolicyVersion != "" {
		fields = append(fields, zap.String("policy_version", entry.PolicyVersion), zap.String("policy_hash", entry.PolicyHash))
	}
	if !entry.Success {
		fields = append(fields, zap.String("error_type", entry.ErrorType), zap.String("error", entry.Error))
		l.logger.Warn("quote audit", fields...)
		return nil
	}
	l.logger.Info("quote audit", fields...)
	return nil
}

// CreateAuditEntry creates an audit entry from an envelope
func CreateAuditEntry(env *InputEnvelope) AuditEntry {
	return AuditEntry{
		Timestamp: time.Now().UTC(),
		InputHash: env.InputHash,
		Industry:  env.Facility.Industry(),
		Success:   true,
	}
}

// MarkQuoted records the quote that satisfied the request
func (e *AuditEntry) MarkQuoted(quoteID, policyVersion, policyHash string) {
	e.QuoteID = quoteID
	e.PolicyVersion = policyVersion
	e.PolicyHash = policyHash
	e.ReplayKey = string(replayKeys.Generate(e.InputHash, policyHash))
}

// MarkFailed marks the audit entry as failed
func (e *AuditEntry) MarkFailed(err error) {
	e.Success = false
	e.ErrorType = string(qerrors.TypeOf(err))
	e.Error = err.Error()
}

// SetDuration sets the duration
func (e *AuditEntry) SetDuration(d time.Duration) {
	e.DurationMs = d.Milliseconds()
}
