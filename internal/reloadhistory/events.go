package reloadhistory

import (
	"fmt"
	"time"
)

// ReloadEvent is a single recorded reload cycle.
type ReloadEvent struct {
	ID             int64
	CycleID        string
	Module         string
	Generation     uint64
	StartedAt      string
	DurationMs     int64
	SegmentsLoaded int
	SegmentsFailed int
	Trigger        string
}

// SegmentFailure is a single recorded segment load failure within a cycle.
type SegmentFailure struct {
	ID        int64
	CycleID   string
	Module    string
	SegmentID uint32
	Path      string
	Timestamp string
	Reason    string
}

// RecordReload inserts a new reload_events row.
func (s *Store) RecordReload(e *ReloadEvent) error {
	_, err := s.writer.Exec(`
		INSERT INTO reload_events (
			cycle_id, module, generation, started_at, duration_ms,
			segments_loaded, segments_failed, trigger
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.CycleID, e.Module, e.Generation, e.StartedAt, e.DurationMs,
		e.SegmentsLoaded, e.SegmentsFailed, e.Trigger,
	)
	if err != nil {
		return fmt.Errorf("reloadhistory: record reload: %w", err)
	}
	return nil
}

// RecordSegmentFailure inserts a new segment_failures row.
func (s *Store) RecordSegmentFailure(f *SegmentFailure) error {
	_, err := s.writer.Exec(`
		INSERT INTO segment_failures (cycle_id, module, segment_id, path, timestamp, reason)
		VALUES (?, ?, ?, ?, ?, ?)`,
		f.CycleID, f.Module, f.SegmentID, f.Path, f.Timestamp, f.Reason,
	)
	if err != nil {
		return fmt.Errorf("reloadhistory: record segment failure: %w", err)
	}
	return nil
}

// ListReloadEvents returns a page of reload events for a module, ordered by
// start time descending.
func (s *Store) ListReloadEvents(module string, limit, offset int) ([]*ReloadEvent, error) {
	rows, err := s.reader.Query(`
		SELECT id, cycle_id, module, generation, started_at, duration_ms,
		       segments_loaded, segments_failed, trigger
		FROM reload_events
		WHERE module = ?
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?`, module, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("reloadhistory: list reload events: %w", err)
	}
	defer rows.Close()

	var results []*ReloadEvent
	for rows.Next() {
		e := &ReloadEvent{}
		if err := rows.Scan(
			&e.ID, &e.CycleID, &e.Module, &e.Generation, &e.StartedAt, &e.DurationMs,
			&e.SegmentsLoaded, &e.SegmentsFailed, &e.Trigger,
		); err != nil {
			return nil, fmt.Errorf("reloadhistory: scan reload event: %w", err)
		}
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reloadhistory: list reload events iteration: %w", err)
	}
	return results, nil
}

// ListSegmentFailures returns the segment failures recorded for a module
// since the given time, ordered by timestamp descending.
func (s *Store) ListSegmentFailures(module string, since time.Time) ([]*SegmentFailure, error) {
	sinceStr := since.UTC().Format(time.RFC3339)
	rows, err := s.reader.Query(`
		SELECT id, cycle_id, module, segment_id, path, timestamp, reason
		FROM segment_failures
		WHERE module = ? AND timestamp >= ?
		ORDER BY timestamp DESC`, module, sinceStr,
	)
	if err != nil {
		return nil, fmt.Errorf("reloadhistory: list segment failures: %w", err)
	}
	defer rows.Close()

	var results []*SegmentFailure
	for rows.Next() {
		f := &SegmentFailure{}
		if err := rows.Scan(
			&f.ID, &f.CycleID, &f.Module, &f.SegmentID, &f.Path, &f.Timestamp, &f.Reason,
		); err != nil {
			return nil, fmt.Errorf("reloadhistory: scan segment failure: %w", err)
		}
		results = append(results, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reloadhistory: list segment failures iteration: %w", err)
	}
	return results, nil
}
