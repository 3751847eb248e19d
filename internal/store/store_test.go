package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"defectintel/internal/llm"
	"defectintel/internal/normalize"
	"defectintel/internal/types"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSeeded(t *testing.T, driver string) *Store {
	t.Helper()
	s, err := Open(Options{Driver: driver, Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	fx, err := LoadFixture(filepath.Join("testdata", "fixture.yaml"))
	require.NoError(t, err)
	stats, err := s.ImportFixture(context.Background(), fx)
	require.NoError(t, err)
	assert.Equal(t, ImportStats{Properties: 2, Inspections: 2, Findings: 3, Mappings: 5}, stats)
	return s
}

func TestFetchFindings(t *testing.T) {
	s := openSeeded(t, "sqlite")
	rows, err := s.FetchFindings(context.Background(), "PROP_001")
	require.NoError(t, err)

	findings := normalize.Findings(rows)
	require.Len(t, findings, 3)

	var ids []string
	for _, f := range findings {
		ids = append(ids, f.ID)
	}
	assert.Equal(t, []string{"F2", "F3", "F1"}, ids, "newest inspection first")

	f1 := findings[2]
	assert.Equal(t, "wall_crack", f1.DefectType)
	assert.Equal(t, types.SeverityHigh, f1.Severity)
	assert.Equal(t, "R1", f1.RoomID)
	assert.Equal(t, "2024-01-15", f1.InspectionDate)
	assert.Equal(t, "A. Rao", f1.Inspector)
	assert.Equal(t, "apartment", f1.BuildingType)
	assert.Equal(t, "coastal", f1.Region)

	assert.Equal(t, types.SeverityMedium, findings[0].Severity)
	assert.Equal(t, types.SeverityLow, findings[1].Severity, "unknown severity collapses to LOW")
	assert.Equal(t, "", findings[1].Observation)
}

func TestFetchFindings_Limit(t *testing.T) {
	s, err := Open(Options{Path: filepath.Join(t.TempDir(), "limit.db"), FindingsLimit: 2})
	require.NoError(t, err)
	defer s.Close()

	fx, err := LoadFixture(filepath.Join("testdata", "fixture.yaml"))
	require.NoError(t, err)
	_, err = s.ImportFixture(context.Background(), fx)
	require.NoError(t, err)

	rows, err := s.FetchFindings(context.Background(), "PROP_001")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestAggregates(t *testing.T) {
	s := openSeeded(t, "sqlite")
	ctx := context.Background()

	rcRows, err := s.FetchRootCauseAggregates(ctx, "PROP_001")
	require.NoError(t, err)
	causes := normalize.RootCauses(rcRows)

	bath, kitchen := 0.6, 0.8
	want := []types.RootCauseAggregate{
		{RoomType: "bathroom", Cause: "Moisture ingress", SupportingSignals: 2, AvgConfidence: &bath, AffectedSystems: []string{"plumbing", "waterproofing"}},
		{RoomType: "kitchen", Cause: "Foundation settlement", SupportingSignals: 1, AvgConfidence: &kitchen, AffectedSystems: []string{"structure", "foundation"}},
	}
	if diff := cmp.Diff(want, causes); diff != "" {
		t.Errorf("root causes mismatch (-want +got):\n%s", diff)
	}

	frRows, err := s.FetchFutureRiskAggregates(ctx, "PROP_001")
	require.NoError(t, err)
	risks := normalize.FutureRisks(frRows)
	wantRisks := []types.FutureRiskAggregate{
		{RoomType: "bathroom", EventName: "Mold outbreak", Severity: types.SeverityHigh},
		{RoomType: "kitchen", EventName: "Structural cracking spreads", Severity: types.SeverityCritical},
	}
	if diff := cmp.Diff(wantRisks, risks); diff != "" {
		t.Errorf("future risks mismatch (-want +got):\n%s", diff)
	}
}

func TestEmptyPropertyReturnsEmptySlices(t *testing.T) {
	s := openSeeded(t, "sqlite")
	ctx := context.Background()

	for _, id := range []string{"PROP_EMPTY", "NO_SUCH_PROPERTY"} {
		f, err := s.FetchFindings(ctx, id)
		require.NoError(t, err)
		assert.NotNil(t, f)
		assert.Empty(t, f)

		rc, err := s.FetchRootCauseAggregates(ctx, id)
		require.NoError(t, err)
		assert.NotNil(t, rc)
		assert.Empty(t, rc)

		fr, err := s.FetchFutureRiskAggregates(ctx, id)
		require.NoError(t, err)
		assert.NotNil(t, fr)
		assert.Empty(t, fr)
	}
}

func TestInsertFindingAndTag(t *testing.T) {
	s := openSeeded(t, "sqlite")
	ctx := context.Background()

	id, err := s.InsertFinding(ctx, types.NewFinding{
		InspectionID: "INS_2024_06",
		RoomID:       "R1",
		DefectType:   "rust",
		Severity:     "critical",
		Description:  "Rusted rebar exposed",
		ImageRef:     "uploads/rust.jpg",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	tagID, err := s.InsertDefectTag(ctx, types.DefectTag{FindingID: id, DefectType: "rust", Severity: types.SeverityCritical, Confidence: 0.9})
	require.NoError(t, err)
	assert.NotEqual(t, id, tagID)

	tags, err := s.TagsForFinding(ctx, id)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, types.SeverityCritical, tags[0].Severity)
	assert.InDelta(t, 0.9, tags[0].Confidence, 1e-9)

	rows, err := s.FetchFindings(ctx, "PROP_001")
	require.NoError(t, err)
	assert.Len(t, rows, 4)
}

func TestInsertRequiresParents(t *testing.T) {
	s := openSeeded(t, "sqlite")
	_, err := s.InsertFinding(context.Background(), types.NewFinding{RoomID: "R1"})
	assert.Error(t, err)
	_, err = s.InsertDefectTag(context.Background(), types.DefectTag{DefectType: "mold"})
	assert.Error(t, err)
}

func TestStoreTrace(t *testing.T) {
	s := openSeeded(t, "sqlite")
	ctx := context.Background()

	for i, stage := range []string{"report", "prediction", "report"} {
		err := s.StoreTrace(ctx, &llm.Trace{
			ID:        stage + string(rune('a'+i)),
			Stage:     stage,
			Prompt:    "p",
			Response:  "r",
			Success:   i != 1,
			Timestamp: time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC),
		})
		require.NoError(t, err)
	}

	all, err := s.RecentTraces(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	reports, err := s.RecentTraces(ctx, "report", 10)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	for _, tr := range reports {
		assert.Equal(t, "report", tr.Stage)
		assert.True(t, tr.Success)
	}
}

func TestCgoDriver(t *testing.T) {
	s, err := Open(Options{Driver: "sqlite3", Path: filepath.Join(t.TempDir(), "cgo.db")})
	if err != nil {
		t.Skipf("sqlite3 driver unavailable: %v", err)
	}
	defer s.Close()

	rows, err := s.FetchFindings(context.Background(), "PROP_001")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestLoadFixture_Missing(t *testing.T) {
	_, err := LoadFixture(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestPing(t *testing.T) {
	s := openSeeded(t, "sqlite")
	require.NoError(t, s.Ping(context.Background()))

	require.NoError(t, s.Close())
	var terr *types.TransportError
	require.ErrorAs(t, s.Ping(context.Background()), &terr)
}
