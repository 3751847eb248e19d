package store

import (
	"context"
	"fmt"

	"defectintel/internal/types"

	"github.com/google/uuid"
)

var _ types.FindingWriter = (*Store)(nil)

// InsertFinding records a finding and returns its generated id.
func (s *Store) InsertFinding(ctx context.Context, f types.NewFinding) (string, error) {
	if f.InspectionID == "" {
		return "", fmt.Errorf("insert finding: inspection id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inspection_findings (finding_id, inspection_id, room_id, defect_type, severity, observation_text, image_ref)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, f.InspectionID, f.RoomID, f.DefectType, string(types.ParseSeverity(string(f.Severity))), f.Description, f.ImageRef)
	if err != nil {
		return "", &types.TransportError{Op: "insert finding", Err: err}
	}
	return id, nil
}

// InsertDefectTag records the model classification of a finding.
func (s *Store) InsertDefectTag(ctx context.Context, t types.DefectTag) (string, error) {
	if t.FindingID == "" {
		return "", fmt.Errorf("insert defect tag: finding id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO defect_ai_tags (tag_id, finding_id, defect_type, severity, confidence)
		VALUES (?, ?, ?, ?, ?)`,
		id, t.FindingID, t.DefectType, string(types.ParseSeverity(string(t.Severity))), t.Confidence)
	if err != nil {
		return "", &types.TransportError{Op: "insert defect tag", Err: err}
	}
	return id, nil
}

// TagsForFinding returns the tags recorded for a finding, oldest first.
func (s *Store) TagsForFinding(ctx context.Context, findingID string) ([]types.DefectTag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT finding_id, defect_type, severity, confidence
		FROM defect_ai_tags WHERE finding_id = ? ORDER BY created_at, rowid`, findingID)
	if err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()

	tags := make([]types.DefectTag, 0)
	for rows.Next() {
		var t types.DefectTag
		var sev string
		if err := rows.Scan(&t.FindingID, &t.DefectType, &sev, &t.Confidence); err != nil {
			return nil, err
		}
		t.Severity = types.ParseSeverity(sev)
		tags = append(tags, t)
	}
	return tags, rows.Err()
}
