package history

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tidegate/cascade/internal/fallback"
)

// Insert stores a completed execution record and all its attempts in one
// transaction, then opportunistically prunes the retention window. It
// implements fallback.Archiver.
func (s *Store) Insert(rec *fallback.ExecutionRecord) error {
	tx, err := s.writer.Begin()
	if err != nil {
		return fmt.Errorf("history: begin insert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.Exec(`
		INSERT INTO executions (
			id, session_id, original_provider, failure_reason,
			success, cancelled, winning_provider, fallback_level,
			quality_score, cost_usd, total_latency_ms, content,
			tokens_in, tokens_out, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, rec.OriginalProvider, rec.FailureReason,
		boolInt(rec.Success), boolInt(rec.Cancelled), rec.WinningProvider, rec.FallbackLevel,
		rec.QualityScore, rec.CostUSD, rec.TotalLatency.Milliseconds(), rec.Content,
		rec.TokensIn, rec.TokensOut,
		rec.StartedAt.UTC().Format(time.RFC3339),
		rec.CompletedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("history: insert execution: %w", err)
	}

	for _, a := range rec.Attempts {
		_, err = tx.Exec(`
			INSERT INTO attempts (
				execution_id, ordinal, tier, provider, outcome,
				latency_ms, quality_score, error, timestamp
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, a.Ordinal, a.Tier, a.ProviderID, string(a.Outcome),
			a.Latency.Milliseconds(), a.QualityScore, a.Error,
			a.Timestamp.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("history: insert attempt %d: %w", a.Ordinal, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("history: commit insert: %w", err)
	}

	return s.maybePrune()
}

// Get retrieves one execution with its attempts. It implements
// fallback.Archiver; unknown ids map to fallback.ErrRecordNotFound.
func (s *Store) Get(id string) (*fallback.ExecutionRecord, error) {
	rec := &fallback.ExecutionRecord{}
	var success, cancelled int
	var latencyMs int64
	var startedAt, completedAt string

	err := s.reader.QueryRow(`
		SELECT id, session_id, original_provider, failure_reason,
		       success, cancelled, winning_provider, fallback_level,
		       quality_score, cost_usd, total_latency_ms, content,
		       tokens_in, tokens_out, started_at, completed_at
		FROM executions WHERE id = ?`, id,
	).Scan(
		&rec.ID, &rec.SessionID, &rec.OriginalProvider, &rec.FailureReason,
		&success, &cancelled, &rec.WinningProvider, &rec.FallbackLevel,
		&rec.QualityScore, &rec.CostUSD, &latencyMs, &rec.Content,
		&rec.TokensIn, &rec.TokensOut, &startedAt, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fallback.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("history: get execution %s: %w", id, err)
	}

	rec.Success = success != 0
	rec.Cancelled = cancelled != 0
	rec.TotalLatency = time.Duration(latencyMs) * time.Millisecond
	rec.StartedAt = parseTime(startedAt)
	rec.CompletedAt = parseTime(completedAt)

	attempts, err := s.attemptsFor(id)
	if err != nil {
		return nil, err
	}
	rec.Attempts = attempts
	return rec, nil
}

// List returns a page of executions ordered by start time descending,
// without their attempt details.
func (s *Store) List(limit, offset int) ([]*fallback.ExecutionRecord, error) {
	rows, err := s.reader.Query(`
		SELECT id, session_id, original_provider, failure_reason,
		       success, cancelled, winning_provider, fallback_level,
		       quality_score, cost_usd, total_latency_ms,
		       tokens_in, tokens_out, started_at, completed_at
		FROM executions
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("history: list executions: %w", err)
	}
	defer rows.Close()

	var results []*fallback.ExecutionRecord
	for rows.Next() {
		rec := &fallback.ExecutionRecord{}
		var success, cancelled int
		var latencyMs int64
		var startedAt, completedAt string
		if err := rows.Scan(
			&rec.ID, &rec.SessionID, &rec.OriginalProvider, &rec.FailureReason,
			&success, &cancelled, &rec.WinningProvider, &rec.FallbackLevel,
			&rec.QualityScore, &rec.CostUSD, &latencyMs,
			&rec.TokensIn, &rec.TokensOut, &startedAt, &completedAt,
		); err != nil {
			return nil, fmt.Errorf("history: scan execution row: %w", err)
		}
		rec.Success = success != 0
		rec.Cancelled = cancelled != 0
		rec.TotalLatency = time.Duration(latencyMs) * time.Millisecond
		rec.StartedAt = parseTime(startedAt)
		rec.CompletedAt = parseTime(completedAt)
		results = append(results, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: list executions iteration: %w", err)
	}
	return results, nil
}

// attemptsFor loads the ordered attempt list of one execution.
func (s *Store) attemptsFor(executionID string) ([]fallback.Attempt, error) {
	rows, err := s.reader.Query(`
		SELECT ordinal, tier, provider, outcome, latency_ms, quality_score, error, timestamp
		FROM attempts
		WHERE execution_id = ?
		ORDER BY ordinal ASC`, executionID,
	)
	if err != nil {
		return nil, fmt.Errorf("history: load attempts: %w", err)
	}
	defer rows.Close()

	var attempts []fallback.Attempt
	for rows.Next() {
		var a fallback.Attempt
		var outcome, ts string
		var latencyMs int64
		if err := rows.Scan(&a.Ordinal, &a.Tier, &a.ProviderID, &outcome, &latencyMs, &a.QualityScore, &a.Error, &ts); err != nil {
			return nil, fmt.Errorf("history: scan attempt row: %w", err)
		}
		a.Outcome = fallback.Outcome(outcome)
		a.Latency = time.Duration(latencyMs) * time.Millisecond
		a.Timestamp = parseTime(ts)
		attempts = append(attempts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: attempts iteration: %w", err)
	}
	return attempts, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// parseTime tolerates malformed stored timestamps by returning the zero
// time rather than failing the whole row.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
