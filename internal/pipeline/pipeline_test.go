package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"defectintel/internal/analysis"
	"defectintel/internal/llm"
	"defectintel/internal/llm/llmtest"
	"defectintel/internal/normalize"
	"defectintel/internal/render"
	"defectintel/internal/types"
	"defectintel/internal/vision"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

var fixedTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const buyerJSON = `Sure, here it is: {"summary":"One structural issue.","root_causes":[{"heading":"Moisture Ingress","explanation":"Water is entering the wall.","severity":"HIGH"}],"future_predictions":[],"recommendation":"Fix drainage."} Hope this helps.`

const analysisJSON = `{"root_causes":[{"cause":"Foundation settlement","confidence":"high","affected_systems":["structure"],"reasoning":"Cracks recur."}],"recommendations":["Commission a structural survey"]}`

const predictionJSON = `{"predictions":[{"defect_type":"ceiling_crack","likelihood":"medium","timeframe":"6-12 months","preventive_measures":["Monitor cracks"],"related_root_cause":"Foundation settlement"}]}`

// fakeSource serves fixed rows and counts calls.
type fakeSource struct {
	findings []types.Row
	causes   []types.Row
	risks    []types.Row
	err      error
	calls    atomic.Int32
}

func (f *fakeSource) FetchFindings(ctx context.Context, propertyID string) ([]types.Row, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.findings, nil
}

func (f *fakeSource) FetchRootCauseAggregates(ctx context.Context, propertyID string) ([]types.Row, error) {
	f.calls.Add(1)
	return f.causes, nil
}

func (f *fakeSource) FetchFutureRiskAggregates(ctx context.Context, propertyID string) ([]types.Row, error) {
	f.calls.Add(1)
	return f.risks, nil
}

func wallCrackSource() *fakeSource {
	return &fakeSource{
		findings: []types.Row{normalize.FindingRow(types.Finding{
			ID:             "F1",
			DefectType:     "wall_crack",
			Severity:       types.SeverityHigh,
			RoomID:         "R1",
			Observation:    "Diagonal crack above the window",
			InspectionDate: "2024-01-15",
			Inspector:      "A. Rao",
			BuildingType:   "apartment",
			Region:         "Pune",
		})},
		causes: []types.Row{},
		risks:  []types.Row{},
	}
}

type harness struct {
	orch   *Orchestrator
	client *llmtest.ScriptedClient
	source *fakeSource
}

func newHarness(t *testing.T, source *fakeSource, predictions bool, archiveDir string, replies ...string) *harness {
	t.Helper()
	client := llmtest.NewScriptedClient(replies...)
	opts := analysis.Options{MaxAttempts: 1, Now: func() time.Time { return fixedTime }}
	renderer, err := render.NewRenderer(render.Options{Now: func() time.Time { return fixedTime }})
	require.NoError(t, err)

	var archive *render.Archive
	if archiveDir != "" {
		archive = render.NewArchive(archiveDir)
	}
	orch := New(Config{
		Source:      source,
		Analyzer:    analysis.NewAnalysisGenerator(client, opts),
		Predictor:   analysis.NewPredictionGenerator(client, opts),
		Renderer:    renderer,
		Archive:     archive,
		Predictions: predictions,
		Now:         func() time.Time { return fixedTime },
	})
	return &harness{orch: orch, client: client, source: source}
}

func TestGenerateReport_BuyerScenario(t *testing.T) {
	h := newHarness(t, wallCrackSource(), false, "", buyerJSON)

	var buf bytes.Buffer
	res, err := h.orch.GenerateReport(context.Background(), &buf, ReportRequest{
		PropertyID: "PROP_001",
		Role:       types.RoleBuyer,
		Language:   types.DefaultLanguage,
	})
	require.NoError(t, err)

	require.Equal(t, 1, h.client.Calls())
	assert.Contains(t, h.client.Requests()[0].Prompt, "wall_crack")
	assert.Equal(t, int32(3), h.source.calls.Load())

	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
	assert.Equal(t, "Buyer_Report_PROP_001.pdf", res.Filename)
	assert.Equal(t, 1, res.Pages)
	assert.Nil(t, res.Prediction)

	buyer, ok := res.Report.(*types.BuyerReport)
	require.True(t, ok)
	require.Len(t, buyer.RootCauses, 1)
	assert.Equal(t, "Moisture Ingress", buyer.RootCauses[0].Heading)
	assert.Equal(t, types.SeverityHigh, buyer.RootCauses[0].Severity)
}

func TestGenerateReport_NoFindings(t *testing.T) {
	h := newHarness(t, &fakeSource{}, false, "")

	var buf bytes.Buffer
	_, err := h.orch.GenerateReport(context.Background(), &buf, ReportRequest{
		PropertyID: "PROP_EMPTY",
		Role:       types.RoleBuyer,
		Language:   types.DefaultLanguage,
	})
	require.ErrorIs(t, err, types.ErrNoFindings)
	assert.Zero(t, h.client.Calls())
	assert.Zero(t, buf.Len())
}

func TestGenerateReport_NonJSONIsFatal(t *testing.T) {
	h := newHarness(t, wallCrackSource(), false, "", "I cannot help with that.")

	var buf bytes.Buffer
	_, err := h.orch.GenerateReport(context.Background(), &buf, ReportRequest{
		PropertyID: "PROP_001",
		Role:       types.RoleBuyer,
		Language:   types.DefaultLanguage,
	})
	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, analysis.StageReport, verr.Stage)
	assert.Contains(t, verr.Reason, "non-JSON")
	assert.Zero(t, buf.Len(), "no partial document")
}

func TestGenerateReport_SourceFailure(t *testing.T) {
	src := wallCrackSource()
	src.err = &types.TransportError{Op: "record source", Err: errors.New("connection refused")}
	h := newHarness(t, src, false, "")

	_, err := h.orch.GenerateReport(context.Background(), &bytes.Buffer{}, ReportRequest{
		PropertyID: "PROP_001",
		Role:       types.RoleBuyer,
		Language:   types.DefaultLanguage,
	})
	var terr *types.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Zero(t, h.client.Calls())
}

func TestGenerateReport_MissingProperty(t *testing.T) {
	h := newHarness(t, wallCrackSource(), false, "")

	_, err := h.orch.GenerateReport(context.Background(), &bytes.Buffer{}, ReportRequest{Role: types.RoleBuyer})
	require.ErrorIs(t, err, types.ErrInvalidRequest)
	assert.Zero(t, h.source.calls.Load())
}

func TestGenerateReport_PredictionFailureIsAbsorbed(t *testing.T) {
	h := newHarness(t, wallCrackSource(), true, "", buyerJSON, "no predictions today")

	var buf bytes.Buffer
	res, err := h.orch.GenerateReport(context.Background(), &buf, ReportRequest{
		PropertyID: "PROP_001",
		Role:       types.RoleBuyer,
		Language:   types.DefaultLanguage,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, h.client.Calls())
	assert.Nil(t, res.Prediction)
	assert.Equal(t, 1, res.Pages)
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
}

func TestGenerateReport_WithPredictions(t *testing.T) {
	h := newHarness(t, wallCrackSource(), true, "", buyerJSON, predictionJSON)

	res, err := h.orch.GenerateReport(context.Background(), &bytes.Buffer{}, ReportRequest{
		PropertyID: "PROP_001",
		Role:       types.RoleBuyer,
		Language:   types.DefaultLanguage,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Prediction)
	require.Len(t, res.Prediction.Predictions, 1)
	assert.Equal(t, 2, res.Pages, "predictions start on their own page")

	predPrompt := h.client.Requests()[1].Prompt
	assert.Contains(t, predPrompt, "Moisture Ingress")
	assert.Contains(t, predPrompt, "apartment")
}

// A caller-supplied report renders even when the property has no findings.
func TestGenerateReport_PrecomputedWithoutFindings(t *testing.T) {
	h := newHarness(t, &fakeSource{}, false, "")
	report := &types.BuilderReport{Defects: []types.BuilderDefect{
		{Room: "Kitchen", RootCause: "Grout failure", Fix: "Reseal"},
	}}

	var buf bytes.Buffer
	res, err := h.orch.GenerateReport(context.Background(), &buf, ReportRequest{
		PropertyID:  "PROP_EMPTY",
		Role:        types.RoleBuilder,
		Language:    types.DefaultLanguage,
		Precomputed: report,
	})
	require.NoError(t, err)
	assert.Zero(t, h.client.Calls())
	assert.Same(t, report, res.Report)
	assert.Equal(t, "Builder_Report_PROP_EMPTY.pdf", res.Filename)
	assert.NotZero(t, buf.Len())
	assert.EqualValues(t, 3, h.source.calls.Load(), "records are still fetched")

	_, err = h.orch.GenerateReport(context.Background(), &bytes.Buffer{}, ReportRequest{
		PropertyID: "PROP_EMPTY",
		Role:       types.RoleBuilder,
		Language:   types.DefaultLanguage,
	})
	require.ErrorIs(t, err, types.ErrNoFindings, "the same property without a report has nothing to analyze")
}

func TestGenerateReport_PrecomputedRoleMismatch(t *testing.T) {
	h := newHarness(t, wallCrackSource(), false, "")

	_, err := h.orch.GenerateReport(context.Background(), &bytes.Buffer{}, ReportRequest{
		PropertyID:  "PROP_001",
		Role:        types.RoleBuyer,
		Precomputed: &types.BuilderReport{},
	})
	require.ErrorIs(t, err, types.ErrInvalidRequest)
}

func TestAnalyzeProperty(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, wallCrackSource(), false, dir, analysisJSON, predictionJSON)

	resp, err := h.orch.AnalyzeProperty(context.Background(), "PROP_001", types.DefaultLanguage)
	require.NoError(t, err)

	assert.Equal(t, "PROP_001", resp.PropertyID)
	assert.Equal(t, 1, resp.DefectsAnalyzed)
	assert.Equal(t, fixedTime, resp.Timestamp)
	require.Len(t, resp.Analysis.RootCauses, 1)
	assert.Equal(t, types.TierHigh, resp.Analysis.RootCauses[0].Confidence)

	require.NotNil(t, resp.FuturePredictions)
	assert.Len(t, resp.FuturePredictions.Predictions, 1)

	name := ArchiveName("PROP_001", fixedTime)
	require.NotNil(t, resp.PDFReport)
	assert.Equal(t, "/reports/"+name, *resp.PDFReport)
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
}

func TestAnalyzeProperty_SoftFailures(t *testing.T) {
	// A regular file where the reports directory should be.
	blocker := filepath.Join(t.TempDir(), "reports")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	h := newHarness(t, wallCrackSource(), false, blocker, analysisJSON, "not json")

	resp, err := h.orch.AnalyzeProperty(context.Background(), "PROP_001", types.DefaultLanguage)
	require.NoError(t, err)
	assert.Nil(t, resp.FuturePredictions)
	assert.Nil(t, resp.PDFReport)
	assert.NotNil(t, resp.Analysis)
}

func TestAnalyzeProperty_Fatal(t *testing.T) {
	t.Run("no findings", func(t *testing.T) {
		h := newHarness(t, &fakeSource{}, false, t.TempDir())
		_, err := h.orch.AnalyzeProperty(context.Background(), "PROP_EMPTY", types.DefaultLanguage)
		require.ErrorIs(t, err, types.ErrNoFindings)
		assert.Zero(t, h.client.Calls())
	})

	t.Run("invalid analysis", func(t *testing.T) {
		dir := t.TempDir()
		h := newHarness(t, wallCrackSource(), false, dir, `{"root_causes":"nope"}`)
		_, err := h.orch.AnalyzeProperty(context.Background(), "PROP_001", types.DefaultLanguage)
		var verr *types.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, analysis.StageRootCauses, verr.Stage)

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries, "nothing archived")
	})

	t.Run("model transport", func(t *testing.T) {
		h := newHarness(t, wallCrackSource(), false, t.TempDir())
		h.client.Push(llmtest.Reply{Err: &types.TransportError{Op: "gemini", Err: errors.New("quota exceeded")}})
		_, err := h.orch.AnalyzeProperty(context.Background(), "PROP_001", types.DefaultLanguage)
		var terr *types.TransportError
		require.ErrorAs(t, err, &terr)
	})
}

// memoryWriter records inserts in order.
type memoryWriter struct {
	findings []types.NewFinding
	tags     []types.DefectTag
}

func (w *memoryWriter) InsertFinding(ctx context.Context, f types.NewFinding) (string, error) {
	w.findings = append(w.findings, f)
	return fmt.Sprintf("finding-%d", len(w.findings)), nil
}

func (w *memoryWriter) InsertDefectTag(ctx context.Context, tag types.DefectTag) (string, error) {
	w.tags = append(w.tags, tag)
	return fmt.Sprintf("tag-%d", len(w.tags)), nil
}

func visionRequest() vision.Request {
	return vision.Request{
		InspectionID: "INS_2024_06",
		RoomID:       "R2",
		Image:        llm.Image{Data: []byte("\x89PNG\r\n\x1a\n"), MIMEType: "image/png"},
		ImageRef:     "uploads/r2.png",
	}
}

func TestIngestImage(t *testing.T) {
	h := newHarness(t, wallCrackSource(), false, "",
		`{"defects":[{"defect_type":"mold","severity":"MEDIUM","confidence":0.7,"description":"Mold near the vent"},{"defect_type":"damp_patch","severity":"LOW","confidence":0.4,"description":"Damp patch"}]}`)
	writer := &memoryWriter{}
	h.orch.cfg.Ingestor = vision.NewIngestor(h.orch.cfg.Analyzer, writer)

	res, err := h.orch.IngestImage(context.Background(), visionRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, res.DefectsDetected)
	require.Len(t, res.Pairs, 2)
	assert.Equal(t, "finding-1", res.Pairs[0].FindingID)
	assert.Equal(t, "tag-2", res.Pairs[1].TagID)
	assert.Equal(t, "uploads/r2.png", writer.findings[0].ImageRef)
	assert.Equal(t, "finding-2", writer.tags[1].FindingID)
	require.NotNil(t, h.client.Requests()[0].Image)
}

func TestIngestImage_NotConfigured(t *testing.T) {
	h := newHarness(t, wallCrackSource(), false, "")
	_, err := h.orch.IngestImage(context.Background(), visionRequest())
	var cerr *types.ConfigurationError
	require.ErrorAs(t, err, &cerr)
}
