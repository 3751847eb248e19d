package store

import (
	"context"
	"database/sql"

	"defectintel/internal/logging"
	"defectintel/internal/types"
)

var _ types.RecordSource = (*Store)(nil)

const findingsQuery = `
	SELECT
		f.finding_id       AS FINDING_ID,
		f.inspection_id    AS INSPECTION_ID,
		f.defect_type      AS DEFECT_TYPE,
		f.severity         AS SEVERITY,
		f.observation_text AS OBSERVATION_TEXT,
		f.room_id          AS ROOM_ID,
		e.inspection_date  AS INSPECTION_DATE,
		e.inspector_name   AS INSPECTOR_NAME,
		p.building_type    AS BUILDING_TYPE,
		p.region           AS REGION
	FROM inspection_findings AS f
	JOIN inspection_event AS e ON f.inspection_id = e.inspection_id
	JOIN property AS p ON e.property_id = p.property_id
	WHERE p.property_id = ?
	ORDER BY e.inspection_date DESC, f.finding_id
	LIMIT ?
`

// Supporting signals count the findings behind a cause; the average
// confidence comes from model tags and stays NULL when none exist.
const rootCauseQuery = `
	SELECT
		rm.room_type              AS ROOM_TYPE,
		rc.root_cause             AS ROOT_CAUSE,
		COUNT(DISTINCT f.finding_id) AS SUPPORTING_SIGNALS,
		AVG(t.confidence)         AS AVG_CONFIDENCE,
		MAX(rc.affected_systems)  AS AFFECTED_SYSTEMS
	FROM inspection_findings AS f
	JOIN room AS rm ON f.room_id = rm.room_id
	JOIN defect_root_causes AS rc ON rc.defect_type = f.defect_type
	LEFT JOIN defect_ai_tags AS t ON t.finding_id = f.finding_id
	WHERE rm.property_id = ?
	GROUP BY rm.room_type, rc.root_cause
	ORDER BY SUPPORTING_SIGNALS DESC, rm.room_type, rc.root_cause
`

const futureRiskQuery = `
	SELECT DISTINCT
		rm.room_type  AS ROOM_TYPE,
		fe.event_name AS EVENT_NAME,
		fe.severity   AS SEVERITY
	FROM inspection_findings AS f
	JOIN room AS rm ON f.room_id = rm.room_id
	JOIN defect_future_events AS fe ON fe.defect_type = f.defect_type
	WHERE rm.property_id = ?
	ORDER BY rm.room_type, fe.event_name
`

// FetchFindings returns up to the configured limit of recent findings.
func (s *Store) FetchFindings(ctx context.Context, propertyID string) ([]types.Row, error) {
	return s.query(ctx, "findings", findingsQuery, propertyID, s.limit)
}

// FetchRootCauseAggregates derives root-cause aggregates from findings.
func (s *Store) FetchRootCauseAggregates(ctx context.Context, propertyID string) ([]types.Row, error) {
	return s.query(ctx, "root causes", rootCauseQuery, propertyID)
}

// FetchFutureRiskAggregates derives future-risk aggregates from findings.
func (s *Store) FetchFutureRiskAggregates(ctx context.Context, propertyID string) ([]types.Row, error) {
	return s.query(ctx, "future risks", futureRiskQuery, propertyID)
}

func (s *Store) query(ctx context.Context, what, q string, args ...interface{}) ([]types.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &types.TransportError{Op: "fetch " + what, Err: err}
	}
	defer rows.Close()

	out, err := scanRows(rows)
	if err != nil {
		return nil, &types.TransportError{Op: "scan " + what, Err: err}
	}
	logging.Get(logging.CategoryStore).Debug("fetched %d %s rows for %v", len(out), what, args[0])
	return out, nil
}

// scanRows converts a result set into column-keyed rows. Never returns nil.
func scanRows(rows *sql.Rows) ([]types.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := make([]types.Row, 0)
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(types.Row, len(cols))
		for i, c := range cols {
			row[c] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
