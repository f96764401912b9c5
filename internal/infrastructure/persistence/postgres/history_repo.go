package postgres

import (
	"context"
	"time"

	"github.com/alem-hub/study-buddy/internal/domain/session"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSION HISTORY REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// HistoryRepository implements session.HistoryRepository for PostgreSQL.
type HistoryRepository struct {
	db Querier
}

// NewHistoryRepository creates a new HistoryRepository.
func NewHistoryRepository(db Querier) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Save inserts the record, replacing an earlier write of the same session.
func (r *HistoryRepository) Save(ctx context.Context, rec session.Record) error {
	query := `
		INSERT INTO session_history (id, owner, kind, mode, started_at, ended_at, studied_ms, outcome)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			ended_at = EXCLUDED.ended_at,
			studied_ms = EXCLUDED.studied_ms,
			outcome = EXCLUDED.outcome
	`

	_, err := r.db.Exec(ctx, query,
		rec.ID,
		string(rec.Owner),
		rec.Kind,
		string(rec.Mode),
		rec.StartedAt,
		rec.EndedAt,
		rec.Studied.Milliseconds(),
		string(rec.Outcome),
	)
	if err != nil {
		return classify("SaveSession", "failed to save session "+rec.ID, err)
	}
	return nil
}

// TotalsSince sums the owner's sessions per kind.
func (r *HistoryRepository) TotalsSince(ctx context.Context, owner session.Owner, since time.Time) ([]session.KindTotal, error) {
	query := `
		SELECT kind, COUNT(*), COALESCE(SUM(studied_ms), 0)
		FROM session_history
		WHERE owner = $1 AND ended_at >= $2
		GROUP BY kind
		ORDER BY SUM(studied_ms) DESC, kind
	`

	rows, err := r.db.Query(ctx, query, string(owner), since)
	if err != nil {
		return nil, classify("TotalsSince", "failed to query totals", err)
	}
	defer rows.Close()

	var totals []session.KindTotal
	for rows.Next() {
		var kt session.KindTotal
		var ms int64
		if err := rows.Scan(&kt.Kind, &kt.Sessions, &ms); err != nil {
			return nil, classify("TotalsSince", "failed to scan totals", err)
		}
		kt.Studied = time.Duration(ms) * time.Millisecond
		totals = append(totals, kt)
	}
	return totals, rows.Err()
}

// DeleteBefore removes sessions that ended before the cutoff.
func (r *HistoryRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM session_history WHERE ended_at < $1`, before)
	if err != nil {
		return 0, classify("DeleteBefore", "failed to prune history", err)
	}
	return tag.RowsAffected(), nil
}
