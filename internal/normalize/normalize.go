// Package normalize maps raw record-source rows onto the canonical domain
// records. Every function is pure and total: absent fields take a typed
// default and nothing ever fails.
package normalize

import (
	"defectintel/internal/types"
)

// Defaults substituted for absent fields.
const (
	UnknownRoom  = "Unknown"
	UnknownEvent = "Unknown"
	UnknownCause = "Unknown"
	UnknownType  = "Unknown"
)

// Findings normalizes historical finding rows.
func Findings(rows []types.Row) []types.Finding {
	out := make([]types.Finding, 0, len(rows))
	for _, r := range rows {
		out = append(out, types.Finding{
			ID:             text(r, "", "FINDING_ID"),
			InspectionID:   text(r, "", "INSPECTION_ID"),
			DefectType:     text(r, UnknownType, "DEFECT_TYPE"),
			Severity:       severity(r, "SEVERITY"),
			RoomID:         text(r, UnknownRoom, "ROOM_ID", "ROOM_TYPE"),
			Observation:    text(r, "", "OBSERVATION_TEXT", "OBSERVATION"),
			InspectionDate: text(r, "", "INSPECTION_DATE"),
			Inspector:      text(r, "", "INSPECTOR_NAME", "INSPECTOR"),
			BuildingType:   text(r, "", "BUILDING_TYPE"),
			Region:         text(r, "", "REGION"),
		})
	}
	return out
}

// RootCauses normalizes per-room root-cause aggregate rows.
func RootCauses(rows []types.Row) []types.RootCauseAggregate {
	out := make([]types.RootCauseAggregate, 0, len(rows))
	for _, r := range rows {
		agg := types.RootCauseAggregate{
			RoomType:        text(r, UnknownRoom, "ROOM_TYPE", "ROOM"),
			Cause:           text(r, UnknownCause, "ROOT_CAUSE", "ISSUE"),
			AffectedSystems: list(r, "AFFECTED_SYSTEMS"),
		}
		if v, ok := r.Lookup("SUPPORTING_SIGNALS"); ok {
			if n, ok := types.ExtractInt64(v); ok {
				agg.SupportingSignals = int(n)
			}
		} else if v, ok := r.Lookup("SIGNALS"); ok {
			if n, ok := types.ExtractInt64(v); ok {
				agg.SupportingSignals = int(n)
			}
		}
		if v, ok := r.Lookup("AVG_CONFIDENCE"); ok {
			if f, ok := types.ExtractFloat64(v); ok {
				agg.AvgConfidence = &f
			}
		} else if v, ok := r.Lookup("CONFIDENCE"); ok {
			if f, ok := types.ExtractFloat64(v); ok {
				agg.AvgConfidence = &f
			}
		}
		out = append(out, agg)
	}
	return out
}

// FutureRisks normalizes per-room future-event rows.
func FutureRisks(rows []types.Row) []types.FutureRiskAggregate {
	out := make([]types.FutureRiskAggregate, 0, len(rows))
	for _, r := range rows {
		out = append(out, types.FutureRiskAggregate{
			RoomType:  text(r, UnknownRoom, "ROOM_TYPE", "ROOM"),
			EventName: text(r, UnknownEvent, "EVENT_NAME", "EVENT"),
			Severity:  severity(r, "SEVERITY"),
		})
	}
	return out
}

// =============================================================================
// CANONICAL ROWS
// =============================================================================
//
// The inverse direction: canonical records rendered back into rows using the
// canonical column names, so normalization can be re-applied idempotently.

// FindingRow renders a finding back into a row.
func FindingRow(f types.Finding) types.Row {
	return types.Row{
		"FINDING_ID":       f.ID,
		"INSPECTION_ID":    f.InspectionID,
		"DEFECT_TYPE":      f.DefectType,
		"SEVERITY":         string(f.Severity),
		"ROOM_ID":          f.RoomID,
		"OBSERVATION_TEXT": f.Observation,
		"INSPECTION_DATE":  f.InspectionDate,
		"INSPECTOR_NAME":   f.Inspector,
		"BUILDING_TYPE":    f.BuildingType,
		"REGION":           f.Region,
	}
}

// RootCauseRow renders a root-cause aggregate back into a row.
func RootCauseRow(a types.RootCauseAggregate) types.Row {
	r := types.Row{
		"ROOM_TYPE":          a.RoomType,
		"ROOT_CAUSE":         a.Cause,
		"SUPPORTING_SIGNALS": int64(a.SupportingSignals),
	}
	if a.AvgConfidence != nil {
		r["AVG_CONFIDENCE"] = *a.AvgConfidence
	}
	if len(a.AffectedSystems) > 0 {
		r["AFFECTED_SYSTEMS"] = append([]string(nil), a.AffectedSystems...)
	}
	return r
}

// FutureRiskRow renders a future-risk aggregate back into a row.
func FutureRiskRow(a types.FutureRiskAggregate) types.Row {
	return types.Row{
		"ROOM_TYPE":  a.RoomType,
		"EVENT_NAME": a.EventName,
		"SEVERITY":   string(a.Severity),
	}
}

func text(r types.Row, def string, names ...string) string {
	for _, n := range names {
		if v, ok := r.Lookup(n); ok {
			if s := types.ExtractString(v); s != "" {
				return s
			}
		}
	}
	return def
}

func severity(r types.Row, name string) types.Severity {
	if v, ok := r.Lookup(name); ok {
		return types.ParseSeverity(types.ExtractString(v))
	}
	return types.SeverityLow
}

func list(r types.Row, name string) []string {
	if v, ok := r.Lookup(name); ok {
		return types.ExtractStrings(v)
	}
	return nil
}
