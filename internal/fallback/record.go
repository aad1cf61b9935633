package fallback

import (
	"time"

	"github.com/google/uuid"
)

// Outcome classifies one provider attempt.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeQualityFail Outcome = "quality_fail"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeFailure     Outcome = "failure"
)

// Attempt is one provider invocation inside an execution. Attempts are
// append-only; the tier rank never decreases across an execution's list.
type Attempt struct {
	Tier         int           `json:"tier"`
	ProviderID   string        `json:"provider_id"`
	Ordinal      int           `json:"ordinal"`
	Outcome      Outcome       `json:"outcome"`
	Latency      time.Duration `json:"latency"`
	QualityScore float64       `json:"quality_score"` // -1 when not assessed
	Error        string        `json:"error,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

// ExecutionRecord is the complete trace of one Execute call: every attempt
// plus the final outcome. Records are owned by the orchestrator during the
// run and read-only once archived.
type ExecutionRecord struct {
	ID               string        `json:"id"`
	SessionID        string        `json:"session_id,omitempty"`
	OriginalProvider string        `json:"original_provider,omitempty"`
	FailureReason    string        `json:"failure_reason,omitempty"`
	Attempts         []Attempt     `json:"attempts"`
	Success          bool          `json:"success"`
	Cancelled        bool          `json:"cancelled,omitempty"`
	WinningProvider  string        `json:"winning_provider,omitempty"`
	FallbackLevel    int           `json:"fallback_level"` // tier that served the request; 0 on exhaustion
	QualityScore     float64       `json:"quality_score"`
	CostUSD          float64       `json:"cost_usd"`
	TotalLatency     time.Duration `json:"total_latency"`
	Content          string        `json:"content,omitempty"`
	TokensIn         int           `json:"tokens_in,omitempty"`
	TokensOut        int           `json:"tokens_out,omitempty"`
	StartedAt        time.Time     `json:"started_at"`
	CompletedAt      time.Time     `json:"completed_at"`
}

// newRecord starts an ExecutionRecord with a fresh correlation id.
func newRecord(sessionID, originalProvider, failureReason string) *ExecutionRecord {
	return &ExecutionRecord{
		ID:               uuid.NewString(),
		SessionID:        sessionID,
		OriginalProvider: originalProvider,
		FailureReason:    failureReason,
		StartedAt:        time.Now(),
	}
}

// append adds one attempt with the next ordinal.
func (r *ExecutionRecord) append(a Attempt) {
	a.Ordinal = len(r.Attempts) + 1
	a.Timestamp = time.Now()
	r.Attempts = append(r.Attempts, a)
}

// finalize stamps the completion time and total latency.
func (r *ExecutionRecord) finalize() {
	r.CompletedAt = time.Now()
	r.TotalLatency = r.CompletedAt.Sub(r.StartedAt)
}

// Archiver persists completed execution records. The history package
// provides the SQLite-backed implementation.
type Archiver interface {
	Insert(rec *ExecutionRecord) error
	Get(id string) (*ExecutionRecord, error)
}
