package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"defectintel/internal/analysis"
	"defectintel/internal/llm/llmtest"
	"defectintel/internal/pipeline"
	"defectintel/internal/render"
	"defectintel/internal/store"
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

const buyerJSON = `{"summary":"One structural issue.","root_causes":[{"heading":"Moisture Ingress","explanation":"Water is entering the wall.","severity":"HIGH"}],"future_predictions":[],"recommendation":"Fix drainage."}`

const analysisJSON = `{"root_causes":[{"cause":"Foundation settlement","confidence":"high","affected_systems":["structure"],"reasoning":"Cracks recur."}],"recommendations":["Commission a structural survey"]}`

const predictionJSON = `{"predictions":[{"defect_type":"ceiling_crack","likelihood":"medium","timeframe":"6-12 months","preventive_measures":["Monitor cracks"],"related_root_cause":"Foundation settlement"}]}`

type fixture struct {
	server  *Server
	client  *llmtest.ScriptedClient
	store   *store.Store
	uploads string
}

func newFixture(t *testing.T, replies ...string) *fixture {
	t.Helper()
	st, err := store.Open(store.Options{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "api.db")})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	fx, err := store.LoadFixture(filepath.Join("..", "store", "testdata", "fixture.yaml"))
	require.NoError(t, err)
	_, err = st.ImportFixture(context.Background(), fx)
	require.NoError(t, err)

	client := llmtest.NewScriptedClient(replies...)
	opts := analysis.Options{MaxAttempts: 1, Now: func() time.Time { return fixedTime }}
	analyzer := analysis.NewAnalysisGenerator(client, opts)
	renderer, err := render.NewRenderer(render.Options{Now: func() time.Time { return fixedTime }})
	require.NoError(t, err)

	reportsDir := t.TempDir()
	orch := pipeline.New(pipeline.Config{
		Source:    st,
		Analyzer:  analyzer,
		Predictor: analysis.NewPredictionGenerator(client, opts),
		Renderer:  renderer,
		Archive:   render.NewArchive(reportsDir),
		Ingestor:  vision.NewIngestor(analyzer, st),
		Now:       func() time.Time { return fixedTime },
	})
	uploads := t.TempDir()
	srv := NewServer(orch, Options{ReportsDir: reportsDir, UploadsDir: uploads, RequestTimeout: time.Minute, Health: st.Ping})
	return &fixture{server: srv, client: client, store: st, uploads: uploads}
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Empty(t, rec.Header().Get("Content-Disposition"))
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestGeneratePDF(t *testing.T) {
	f := newFixture(t, buyerJSON)

	rec := f.do(t, http.MethodPost, "/report/generate-pdf", `{"propertyId":"PROP_001","role":"Buyer","lang":"en"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=Buyer_Report_PROP_001.pdf", rec.Header().Get("Content-Disposition"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")))

	require.Equal(t, 1, f.client.Calls())
	assert.Contains(t, f.client.Requests()[0].Prompt, "wall_crack")
}

func TestGeneratePDF_BadRequests(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing role", `{"propertyId":"PROP_001"}`, "propertyId and role are required"},
		{"missing property", `{"role":"Buyer"}`, "propertyId and role are required"},
		{"unknown role", `{"propertyId":"PROP_001","role":"Landlord"}`, "unknown role"},
		{"malformed", `{"propertyId":`, "malformed JSON body"},
		{"analysis shape", `{"propertyId":"PROP_001","role":"Buyer","analysis":{"defects":[]}}`, "does not match"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/report/generate-pdf", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, decodeError(t, rec).Error, tt.want)
		})
	}
	assert.Zero(t, f.client.Calls())
}

func TestGeneratePDF_NoFindings(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/report/generate-pdf", `{"propertyId":"PROP_EMPTY","role":"Buyer"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, types.ErrNoFindings.Error(), decodeError(t, rec).Error)
}

func TestGeneratePDF_InvalidModelOutput(t *testing.T) {
	f := newFixture(t, "Sorry, I can't produce that report.")

	rec := f.do(t, http.MethodPost, "/report/generate-pdf", `{"propertyId":"PROP_001","role":"Buyer"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "AI analysis failed", body.Error)
	assert.Contains(t, body.Details, "non-JSON")
}

func TestGeneratePDF_Precomputed(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/report/generate-pdf",
		`{"propertyId":"PROP_EMPTY","role":"builder","analysis":{"defects":[{"room":"Kitchen","root_cause":"Grout failure","fix":"Reseal"}]}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "attachment; filename=Builder_Report_PROP_EMPTY.pdf", rec.Header().Get("Content-Disposition"))
	assert.Zero(t, f.client.Calls())
}

func TestPropertyReport_DefaultsToBuyer(t *testing.T) {
	f := newFixture(t, buyerJSON)

	rec := f.do(t, http.MethodGet, "/property/PROP_001/report", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "attachment; filename=Buyer_Report_PROP_001.pdf", rec.Header().Get("Content-Disposition"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")))
}

func TestAnalyzeProperty_ServesArchivedDocument(t *testing.T) {
	f := newFixture(t, analysisJSON, predictionJSON)

	rec := f.do(t, http.MethodPost, "/property/analyze", `{"property_id":"PROP_001"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		PropertyID        string  `json:"property_id"`
		DefectsAnalyzed   int     `json:"defects_analyzed"`
		PDFReport         *string `json:"pdf_report"`
		FuturePredictions *struct {
			Predictions []json.RawMessage `json:"predictions"`
		} `json:"future_predictions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "PROP_001", resp.PropertyID)
	assert.Equal(t, 3, resp.DefectsAnalyzed)
	for _, key := range []string{`"root_causes"`, `"affected_systems"`, `"preventive_measures"`, `"related_root_cause"`, `"predicted_at"`} {
		assert.Contains(t, rec.Body.String(), key, "response keys are snake_case")
	}
	require.NotNil(t, resp.FuturePredictions)
	assert.Len(t, resp.FuturePredictions.Predictions, 1)
	require.NotNil(t, resp.PDFReport)
	assert.Equal(t, "/reports/"+pipeline.ArchiveName("PROP_001", fixedTime), *resp.PDFReport)

	doc := f.do(t, http.MethodGet, *resp.PDFReport, "")
	require.Equal(t, http.StatusOK, doc.Code)
	assert.True(t, bytes.HasPrefix(doc.Body.Bytes(), []byte("%PDF-")))
}

func TestAnalyzeProperty_Errors(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/property/analyze", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/property/analyze", `{"property_id":"PROP_EMPTY"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnalyzeImage(t *testing.T) {
	f := newFixture(t, `{"defects":[{"defect_type":"mold","severity":"MEDIUM","confidence":0.7,"description":"Mold near the vent"}]}`)

	img := base64.StdEncoding.EncodeToString([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"))
	rec := f.do(t, http.MethodPost, "/vision/analyze-image",
		`{"inspectionId":"INS_2024_06","roomId":"R2","image":"`+img+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp analyzeImageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.DefectsDetected)
	require.Len(t, resp.Findings, 1)

	tags, err := f.store.TagsForFinding(context.Background(), resp.Findings[0].FindingID)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "mold", tags[0].DefectType)

	require.NotNil(t, f.client.Requests()[0].Image)
	assert.Equal(t, "image/png", f.client.Requests()[0].Image.MIMEType)
}

func TestAnalyzeImage_BadRequest(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/vision/analyze-image", `{"roomId":"R2","image":"aGVsbG8="}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec).Error, "inspectionId")
	assert.Zero(t, f.client.Calls())
}

func TestAnalyzeImage_UploadPath(t *testing.T) {
	f := newFixture(t, `{"defects":[]}`)
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	require.NoError(t, os.WriteFile(filepath.Join(f.uploads, "kitchen.png"), png, 0644))

	rec := f.do(t, http.MethodPost, "/vision/analyze-image",
		`{"inspectionId":"INS_2024_06","roomId":"R2","imagePath":"kitchen.png"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, 1, f.client.Calls())
	assert.Equal(t, png, f.client.Requests()[0].Image.Data)
}

func TestAnalyzeImage_PathsConfinedToUploads(t *testing.T) {
	f := newFixture(t)
	outside := filepath.Join(t.TempDir(), "secret.png")
	require.NoError(t, os.WriteFile(outside, []byte("\x89PNG\r\n\x1a\n"), 0644))

	tests := []struct {
		name string
		body string
		want string
	}{
		{"traversal", `{"inspectionId":"INS_2024_06","imagePath":"../secret.png"}`, "outside the uploads directory"},
		{"absolute", `{"inspectionId":"INS_2024_06","imagePath":"` + outside + `"}`, "outside the uploads directory"},
		{"path as inline image", `{"inspectionId":"INS_2024_06","image":"` + outside + `"}`, "not valid base64"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/vision/analyze-image", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, decodeError(t, rec).Error, tt.want)
		})
	}
	assert.Zero(t, f.client.Calls())
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	require.NoError(t, f.store.Close())
	rec = f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(types.ErrInvalidRequest))
	assert.Equal(t, http.StatusNotFound, statusFor(types.ErrNoFindings))
	assert.Equal(t, http.StatusInternalServerError, statusFor(&types.ConfigurationError{Setting: "llm.api_key", Msg: "missing"}))
	assert.Equal(t, http.StatusInternalServerError, statusFor(&types.RenderError{Err: errors.New("boom")}))
}

// brokenWriter accepts headers but fails every body write.
type brokenWriter struct {
	header http.Header
	code   int
}

func (b *brokenWriter) Header() http.Header       { return b.header }
func (b *brokenWriter) WriteHeader(code int)      { b.code = code }
func (b *brokenWriter) Write([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestStreamFailureAbortsConnection(t *testing.T) {
	f := newFixture(t, buyerJSON)
	w := &brokenWriter{header: http.Header{}}
	req := httptest.NewRequest(http.MethodGet, "/property/PROP_001/report", nil)

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		f.server.Handler().ServeHTTP(w, req)
	})
}

func TestServe_Shutdown(t *testing.T) {
	f := newFixture(t)
	f.server.opts.MaxConnections = 2

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.server.Serve(ctx, ln) }()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}
