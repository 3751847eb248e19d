package normalize

import (
	"testing"

	"defectintel/internal/types"

	"github.com/google/go-cmp/cmp"
)

func TestEmptyInputYieldsEmptyOutput(t *testing.T) {
	if got := Findings(nil); got == nil || len(got) != 0 {
		t.Errorf("Findings(nil) = %#v, want empty non-nil slice", got)
	}
	if got := RootCauses([]types.Row{}); got == nil || len(got) != 0 {
		t.Errorf("RootCauses(empty) = %#v", got)
	}
	if got := FutureRisks(nil); got == nil || len(got) != 0 {
		t.Errorf("FutureRisks(nil) = %#v", got)
	}
}

func TestDefaultsForMissingFields(t *testing.T) {
	rc := RootCauses([]types.Row{{}})
	want := types.RootCauseAggregate{RoomType: "Unknown", Cause: "Unknown"}
	if diff := cmp.Diff(want, rc[0]); diff != "" {
		t.Errorf("root cause defaults mismatch (-want +got):\n%s", diff)
	}
	if rc[0].AvgConfidence != nil {
		t.Error("missing confidence must stay nil")
	}

	fr := FutureRisks([]types.Row{{"ROOM_TYPE": nil}})
	if fr[0].RoomType != "Unknown" || fr[0].EventName != "Unknown" || fr[0].Severity != types.SeverityLow {
		t.Errorf("future risk defaults = %+v", fr[0])
	}

	f := Findings([]types.Row{{"defect_type": "wall_crack"}})
	if f[0].DefectType != "wall_crack" || f[0].Severity != types.SeverityLow || f[0].Observation != "" {
		t.Errorf("finding defaults = %+v", f[0])
	}
}

func TestCaseInsensitiveMapping(t *testing.T) {
	rows := []types.Row{{
		"room_type":          "Bathroom",
		"Root_Cause":         "Failed waterproofing",
		"supporting_signals": "4",
		"avg_confidence":     []byte("0.82"),
		"affected_systems":   "Plumbing,Finishes",
	}}
	got := RootCauses(rows)[0]
	if got.RoomType != "Bathroom" || got.Cause != "Failed waterproofing" || got.SupportingSignals != 4 {
		t.Errorf("unexpected aggregate %+v", got)
	}
	if got.AvgConfidence == nil || *got.AvgConfidence != 0.82 {
		t.Errorf("confidence = %v", got.AvgConfidence)
	}
	if diff := cmp.Diff([]string{"Plumbing", "Finishes"}, got.AffectedSystems); diff != "" {
		t.Errorf("affected systems (-want +got):\n%s", diff)
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	conf := 0.6
	findingRows := []types.Row{
		{"FINDING_ID": "F1", "DEFECT_TYPE": "wall_crack", "SEVERITY": "high", "ROOM_ID": "R1"},
		{},
	}
	once := Findings(findingRows)
	var again []types.Row
	for _, f := range once {
		again = append(again, FindingRow(f))
	}
	if diff := cmp.Diff(once, Findings(again)); diff != "" {
		t.Errorf("findings drifted (-once +twice):\n%s", diff)
	}

	aggs := RootCauses([]types.Row{{"ROOM_TYPE": "Kitchen", "AVG_CONFIDENCE": conf}, {}})
	var aggRows []types.Row
	for _, a := range aggs {
		aggRows = append(aggRows, RootCauseRow(a))
	}
	if diff := cmp.Diff(aggs, RootCauses(aggRows)); diff != "" {
		t.Errorf("root causes drifted (-once +twice):\n%s", diff)
	}

	risks := FutureRisks([]types.Row{{"EVENT_NAME": "Slab cracking", "SEVERITY": "critical"}})
	if diff := cmp.Diff(risks, FutureRisks([]types.Row{FutureRiskRow(risks[0])})); diff != "" {
		t.Errorf("future risks drifted (-once +twice):\n%s", diff)
	}
}
