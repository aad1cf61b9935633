package history

import (
	"fmt"
	"time"
)

// ProviderStat aggregates one provider's attempt outcomes within a tier
// over a time window. The strategy optimizer consumes these to reorder
// providers inside their tiers.
type ProviderStat struct {
	ProviderID   string  `json:"provider_id"`
	Tier         int     `json:"tier"`
	Attempts     int64   `json:"attempts"`
	Successes    int64   `json:"successes"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	AvgQuality   float64 `json:"avg_quality"` // over assessed attempts only
}

// SuccessRate returns the provider's success ratio over the window.
func (p ProviderStat) SuccessRate() float64 {
	if p.Attempts == 0 {
		return 0
	}
	return float64(p.Successes) / float64(p.Attempts)
}

// DailyTrend is one day's execution aggregates for the analytics surface.
type DailyTrend struct {
	Day          string  `json:"day"` // YYYY-MM-DD, UTC
	Executions   int64   `json:"executions"`
	Successes    int64   `json:"successes"`
	CostUSD      float64 `json:"cost_usd"`
	AvgFallbacks float64 `json:"avg_fallback_level"`
}

// ProviderStats aggregates attempt outcomes per provider and tier since
// the given time. Quality averages ignore unassessed attempts (stored as
// negative scores).
func (s *Store) ProviderStats(since time.Time) ([]ProviderStat, error) {
	sinceStr := since.UTC().Format(time.RFC3339)

	rows, err := s.reader.Query(`
		SELECT provider, tier,
		       COUNT(*),
		       SUM(CASE WHEN outcome = 'success' THEN 1 ELSE 0 END),
		       COALESCE(AVG(latency_ms), 0.0),
		       COALESCE(AVG(CASE WHEN quality_score >= 0 THEN quality_score END), 0.0)
		FROM attempts
		WHERE timestamp >= ?
		GROUP BY provider, tier
		ORDER BY tier ASC, provider ASC`, sinceStr,
	)
	if err != nil {
		return nil, fmt.Errorf("history: provider stats: %w", err)
	}
	defer rows.Close()

	var stats []ProviderStat
	for rows.Next() {
		var st ProviderStat
		if err := rows.Scan(&st.ProviderID, &st.Tier, &st.Attempts, &st.Successes, &st.AvgLatencyMs, &st.AvgQuality); err != nil {
			return nil, fmt.Errorf("history: scan provider stat: %w", err)
		}
		stats = append(stats, st)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: provider stats iteration: %w", err)
	}
	return stats, nil
}

// DailyTrends aggregates executions per UTC day over the last `days` days,
// most recent day first.
func (s *Store) DailyTrends(days int) ([]DailyTrend, error) {
	since := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)

	rows, err := s.reader.Query(`
		SELECT substr(started_at, 1, 10),
		       COUNT(*),
		       SUM(success),
		       COALESCE(SUM(cost_usd), 0.0),
		       COALESCE(AVG(CASE WHEN fallback_level > 0 THEN fallback_level END), 0.0)
		FROM executions
		WHERE started_at >= ?
		GROUP BY substr(started_at, 1, 10)
		ORDER BY substr(started_at, 1, 10) DESC`, since,
	)
	if err != nil {
		return nil, fmt.Errorf("history: daily trends: %w", err)
	}
	defer rows.Close()

	var trends []DailyTrend
	for rows.Next() {
		var t DailyTrend
		if err := rows.Scan(&t.Day, &t.Executions, &t.Successes, &t.CostUSD, &t.AvgFallbacks); err != nil {
			return nil, fmt.Errorf("history: scan daily trend: %w", err)
		}
		trends = append(trends, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: daily trends iteration: %w", err)
	}
	return trends, nil
}
