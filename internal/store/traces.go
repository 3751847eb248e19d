package store

import (
	"context"
	"fmt"

	"defectintel/internal/llm"
)

var _ llm.TraceStore = (*Store)(nil)

// StoreTrace persists one model interaction.
func (s *Store) StoreTrace(ctx context.Context, t *llm.Trace) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO model_traces (id, stage, prompt, response, has_image, duration_ms, success, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Stage, t.Prompt, t.Response, t.HasImage, t.DurationMs, t.Success, t.Error, t.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to store trace: %w", err)
	}
	return nil
}

// RecentTraces returns the newest traces, optionally filtered by stage.
func (s *Store) RecentTraces(ctx context.Context, stage string, limit int) ([]llm.Trace, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := `SELECT id, stage, prompt, COALESCE(response, ''), has_image, COALESCE(duration_ms, 0), success, COALESCE(error_message, '')
		FROM model_traces`
	args := []interface{}{}
	if stage != "" {
		q += ` WHERE stage = ?`
		args = append(args, stage)
	}
	q += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query traces: %w", err)
	}
	defer rows.Close()

	var traces []llm.Trace
	for rows.Next() {
		var t llm.Trace
		if err := rows.Scan(&t.ID, &t.Stage, &t.Prompt, &t.Response, &t.HasImage, &t.DurationMs, &t.Success, &t.Error); err != nil {
			return nil, err
		}
		traces = append(traces, t)
	}
	return traces, rows.Err()
}
