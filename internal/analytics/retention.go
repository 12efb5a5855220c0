package analytics

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// criticalEventTypes are exempt from age- and count-based cleanup; they
// capture failures operators need to keep around longer than routine
// tool/agent chatter.
var criticalEventTypes = []string{
	"error",
	"agent.failed",
	"approval.denied",
	"validation",
}

// CleanupStats reports how many rows a cleanup pass removed.
type CleanupStats struct {
	DeletedByAge          int
	DeletedBySessionLimit int
	DeletedByGlobalLimit  int
}

// RunCleanup applies the configured retention policy in sequence: age-based
// deletion first, then per-session limits, then the global limit. Critical
// event types are exempt from all three passes and are deleted only once
// they age past RetentionCriticalDays.
func (s *Store) RunCleanup(ctx context.Context) (CleanupStats, error) {
	var stats CleanupStats
	cfg := s.retention

	if !cfg.CleanupEnabled {
		return stats, nil
	}

	deleted, err := s.cleanupByAge(ctx, cfg.RetentionDays, cfg.RetentionCriticalDays, cfg.CleanupBatchSize)
	if err != nil {
		return stats, fmt.Errorf("analytics: cleanup by age: %w", err)
	}
	stats.DeletedByAge = deleted

	if cfg.PerSessionLimitEvents > 0 {
		deleted, err = s.cleanupBySessionLimit(ctx, cfg.PerSessionLimitEvents, cfg.CleanupBatchSize)
		if err != nil {
			return stats, fmt.Errorf("analytics: cleanup by session limit: %w", err)
		}
		stats.DeletedBySessionLimit = deleted
	}

	deleted, err = s.cleanupByGlobalLimit(ctx, cfg.GlobalLimitEvents, cfg.CleanupBatchSize)
	if err != nil {
		return stats, fmt.Errorf("analytics: cleanup by global limit: %w", err)
	}
	stats.DeletedByGlobalLimit = deleted

	return stats, nil
}

// RunCleanupLoop runs RunCleanup on the configured interval until ctx is
// canceled. Errors are logged, not returned, so a single bad pass never
// kills the loop.
func (s *Store) RunCleanupLoop(ctx context.Context) {
	if !s.retention.CleanupEnabled {
		return
	}
	interval := time.Duration(s.retention.CleanupIntervalHours) * time.Hour
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := s.RunCleanup(ctx)
			if err != nil {
				s.log.Error("analytics: cleanup pass failed", zap.Error(err))
				continue
			}
			s.log.Info("analytics: cleanup pass complete",
				zap.Int("deleted_by_age", stats.DeletedByAge),
				zap.Int("deleted_by_session_limit", stats.DeletedBySessionLimit),
				zap.Int("deleted_by_global_limit", stats.DeletedByGlobalLimit),
			)
		}
	}
}

func (s *Store) cleanupByAge(ctx context.Context, retentionDays, criticalRetentionDays, batchSize int) (int, error) {
	total := 0

	regularCutoff := s.clk.Now().AddDate(0, 0, -retentionDays).Format(time.RFC3339Nano)
	deleted, err := s.deleteEventsBatch(ctx, `timestamp < ? AND event_type NOT IN (`+criticalTypeList()+`)`, []any{regularCutoff}, batchSize)
	if err != nil {
		return total, fmt.Errorf("delete aged non-critical events: %w", err)
	}
	total += deleted

	criticalCutoff := s.clk.Now().AddDate(0, 0, -criticalRetentionDays).Format(time.RFC3339Nano)
	deleted, err = s.deleteEventsBatch(ctx, `timestamp < ? AND event_type IN (`+criticalTypeList()+`)`, []any{criticalCutoff}, batchSize)
	if err != nil {
		return total, fmt.Errorf("delete aged critical events: %w", err)
	}
	total += deleted

	return total, nil
}

func (s *Store) cleanupBySessionLimit(ctx context.Context, perSessionLimit, batchSize int) (int, error) {
	rows, err := s.writeDB.QueryContext(ctx,
		`SELECT session_id, COUNT(*) FROM events GROUP BY session_id HAVING COUNT(*) > ?`,
		perSessionLimit,
	)
	if err != nil {
		return 0, fmt.Errorf("query session event counts: %w", err)
	}
	type sessionCount struct {
		sessionID string
		count     int
	}
	var over []sessionCount
	for rows.Next() {
		var sc sessionCount
		if err := rows.Scan(&sc.sessionID, &sc.count); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan session count: %w", err)
		}
		over = append(over, sc)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	total := 0
	for _, sc := range over {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		excess := sc.count - perSessionLimit
		deleted, err := s.deleteOldestForSession(ctx, sc.sessionID, excess, batchSize)
		if err != nil {
			return total, fmt.Errorf("session %s: %w", sc.sessionID, err)
		}
		total += deleted
	}
	return total, nil
}

func (s *Store) deleteOldestForSession(ctx context.Context, sessionID string, count, batchSize int) (int, error) {
	total := 0
	remaining := count
	for remaining > 0 {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		limit := batchSize
		if remaining < limit {
			limit = remaining
		}
		result, err := s.writeDB.ExecContext(ctx,
			`DELETE FROM events WHERE event_id IN (
			   SELECT event_id FROM events
			   WHERE session_id = ? AND event_type NOT IN (`+criticalTypeList()+`)
			   ORDER BY timestamp ASC LIMIT ?
			 )`,
			sessionID, limit,
		)
		if err != nil {
			return total, err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return total, err
		}
		total += int(affected)
		remaining -= int(affected)
		if affected < int64(limit) {
			break
		}
	}
	return total, nil
}

func (s *Store) cleanupByGlobalLimit(ctx context.Context, globalLimit, batchSize int) (int, error) {
	var currentCount int
	if err := s.writeDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&currentCount); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	if currentCount <= globalLimit {
		return 0, nil
	}

	toDelete := currentCount - globalLimit
	total := 0
	for toDelete > 0 {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		limit := batchSize
		if toDelete < limit {
			limit = toDelete
		}
		result, err := s.writeDB.ExecContext(ctx,
			`DELETE FROM events WHERE event_id IN (
			   SELECT event_id FROM events WHERE event_type NOT IN (`+criticalTypeList()+`)
			   ORDER BY timestamp ASC LIMIT ?
			 )`,
			limit,
		)
		if err != nil {
			return total, err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return total, err
		}
		deleted := int(affected)
		total += deleted
		toDelete -= deleted
		if deleted < limit {
			break // ran out of non-critical rows to delete
		}
	}
	return total, nil
}

func (s *Store) deleteEventsBatch(ctx context.Context, whereClause string, args []any, batchSize int) (int, error) {
	total := 0
	for {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		batchArgs := append(append([]any{}, args...), batchSize)
		result, err := s.writeDB.ExecContext(ctx,
			`DELETE FROM events WHERE event_id IN (
			   SELECT event_id FROM events WHERE `+whereClause+`
			   ORDER BY timestamp ASC LIMIT ?
			 )`,
			batchArgs...,
		)
		if err != nil {
			return total, err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return total, err
		}
		total += int(affected)
		if affected < int64(batchSize) {
			break
		}
	}
	return total, nil
}

func criticalTypeList() string {
	out := ""
	for i, t := range criticalEventTypes {
		if i > 0 {
			out += ", "
		}
		out += "'" + t + "'"
	}
	return out
}
