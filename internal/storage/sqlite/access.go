package sqlite

import (
	"context"
	"strings"
	"time"

	archivist "github.com/avenor/archivist/internal"
)

// InsertAccess batch-inserts access records.
func (s *Store) InsertAccess(ctx context.Context, records []archivist.AccessRecord) error {
	if len(records) == 0 {
		return nil
	}

	// cols must match the number of columns in the INSERT below.
	// Single multi-row INSERT avoids N round-trips for large batches.
	const cols = 8
	placeholders := make([]string, len(records))
	args := make([]any, 0, len(records)*cols)

	for i, r := range records {
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?)"
		args = append(args,
			r.ID, r.Pattern, r.CacheKey, boolToInt(r.CacheHit),
			r.StatusCode, r.LatencyMs, r.RequestID,
			r.CreatedAt.UTC().Format(time.RFC3339),
		)
	}

	query := `INSERT INTO access_log
		(id, pattern, cache_key, cache_hit, status_code, latency_ms, request_id, created_at)
		VALUES ` + strings.Join(placeholders, ", ")

	_, err := s.write.ExecContext(ctx, query, args...)
	return err
}

// QueryAccess returns access records matching the filter, newest first.
func (s *Store) QueryAccess(ctx context.Context, f archivist.AccessFilter) ([]archivist.AccessRecord, error) {
	where, args := accessWhere(f)
	query := `SELECT id, pattern, cache_key, cache_hit, status_code, latency_ms, request_id, created_at
		FROM access_log` + where + ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)

	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []archivist.AccessRecord
	for rows.Next() {
		var r archivist.AccessRecord
		var hit int
		var createdAt string
		err := rows.Scan(
			&r.ID, &r.Pattern, &r.CacheKey, &hit,
			&r.StatusCode, &r.LatencyMs, &r.RequestID, &createdAt,
		)
		if err != nil {
			return nil, err
		}
		r.CacheHit = hit != 0
		if t, e := time.Parse(time.RFC3339, createdAt); e == nil {
			r.CreatedAt = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountAccess returns the count of access records matching the filter.
func (s *Store) CountAccess(ctx context.Context, f archivist.AccessFilter) (int, error) {
	where, args := accessWhere(f)
	var n int
	err := s.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM access_log`+where, args...,
	).Scan(&n)
	return n, err
}

func accessWhere(f archivist.AccessFilter) (string, []any) {
	var clauses []string
	var args []any
	if f.Pattern != "" {
		clauses = append(clauses, "pattern = ?")
		args = append(args, f.Pattern)
	}
	if f.Since != "" {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, f.Since)
	}
	if f.Until != "" {
		clauses = append(clauses, "created_at < ?")
		args = append(args, f.Until)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
