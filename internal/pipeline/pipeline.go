// Package pipeline sequences a report request: fetch the property's
// records, normalize them, generate the analysis, optionally predict future
// defects, and render the document.
//
// Analysis and render failures are fatal to the request. Prediction and
// archive failures are logged and absorbed: the document is still produced
// and the missing piece is reported as absent.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"defectintel/internal/analysis"
	"defectintel/internal/logging"
	"defectintel/internal/normalize"
	"defectintel/internal/render"
	"defectintel/internal/types"
	"defectintel/internal/vision"

	"golang.org/x/sync/errgroup"
)

// Config wires an Orchestrator.
type Config struct {
	Source    types.RecordSource
	Analyzer  *analysis.AnalysisGenerator
	Predictor *analysis.PredictionGenerator
	Renderer  *render.Renderer
	Archive   *render.Archive
	Ingestor  *vision.Ingestor

	// Predictions enables the prediction stage for role reports. The
	// property analysis flow always predicts.
	Predictions bool
	Now         func() time.Time
}

// Orchestrator runs report requests. It holds no per-request state and is
// safe for concurrent use.
type Orchestrator struct {
	cfg Config
	log *logging.Logger
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{cfg: cfg, log: logging.Get(logging.CategoryPipeline)}
}

// ReportRequest asks for one role document.
type ReportRequest struct {
	PropertyID string
	Role       types.Role
	Language   types.Language
	// Precomputed skips the analysis stage when set.
	Precomputed types.Report
}

// ReportResult describes a rendered role document.
type ReportResult struct {
	Filename   string
	Pages      int
	Report     types.Report
	Prediction *types.PredictionResult
}

// Filename returns the download name for a request, available before the
// document is rendered.
func (r ReportRequest) Filename() string {
	return types.RenderRequest{Role: r.Role, Metadata: types.Metadata{PropertyID: r.PropertyID}}.Filename()
}

// GenerateReport renders the role document for a property into w. Nothing
// is written to w unless every fatal stage succeeds.
func (o *Orchestrator) GenerateReport(ctx context.Context, w io.Writer, req ReportRequest) (*ReportResult, error) {
	if strings.TrimSpace(req.PropertyID) == "" {
		return nil, fmt.Errorf("%w: property id is required", types.ErrInvalidRequest)
	}
	if req.Precomputed != nil && req.Precomputed.Role() != req.Role {
		return nil, fmt.Errorf("%w: analysis is a %s report but role %s was requested",
			types.ErrInvalidRequest, req.Precomputed.Role(), req.Role)
	}
	log := o.log.With("property_id", req.PropertyID, "role", string(req.Role), "lang", req.Language.Code)

	records, err := o.fetchRecords(ctx, req.PropertyID)
	if err != nil {
		return nil, err
	}
	log.Info("fetched %d findings, %d root-cause aggregates, %d future-risk aggregates",
		len(records.Findings), len(records.RootCauses), len(records.FutureRisks))

	report := req.Precomputed
	if report == nil {
		if len(records.Findings) == 0 {
			return nil, types.ErrNoFindings
		}
		out, err := o.cfg.Analyzer.Report(ctx, req.Role, req.Language, records)
		if err != nil {
			return nil, err
		}
		if err := out.Err(analysis.StageReport); err != nil {
			log.Error("report generation failed after %d attempts: %s", out.Attempts, out.Reason)
			return nil, err
		}
		report = out.Value
	}

	var prediction *types.PredictionResult
	if o.cfg.Predictions {
		building := types.ContextFromFindings(req.PropertyID, records.Findings)
		prediction = o.predict(ctx, types.CausesOf(report), &building, req.Language)
	}

	res, err := o.cfg.Renderer.Render(ctx, w, types.RenderRequest{
		Role:       req.Role,
		Language:   req.Language,
		Report:     report,
		Prediction: prediction,
		Metadata: types.Metadata{
			PropertyID:      req.PropertyID,
			HistoricalCount: len(records.Findings),
			GeneratedAt:     o.cfg.Now(),
		},
	})
	if err != nil {
		return nil, err
	}

	log.Info("report rendered (%d pages)", res.Pages)
	return &ReportResult{
		Filename:   req.Filename(),
		Pages:      res.Pages,
		Report:     report,
		Prediction: prediction,
	}, nil
}

// fetchRecords loads the three record collections concurrently and
// normalizes them.
func (o *Orchestrator) fetchRecords(ctx context.Context, propertyID string) (types.PropertyRecords, error) {
	var findings, causes, risks []types.Row

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		findings, err = o.cfg.Source.FetchFindings(egCtx, propertyID)
		return err
	})
	eg.Go(func() error {
		var err error
		causes, err = o.cfg.Source.FetchRootCauseAggregates(egCtx, propertyID)
		return err
	})
	eg.Go(func() error {
		var err error
		risks, err = o.cfg.Source.FetchFutureRiskAggregates(egCtx, propertyID)
		return err
	})
	if err := eg.Wait(); err != nil {
		return types.PropertyRecords{}, err
	}

	return types.PropertyRecords{
		PropertyID:  propertyID,
		Findings:    normalize.Findings(findings),
		RootCauses:  normalize.RootCauses(causes),
		FutureRisks: normalize.FutureRisks(risks),
	}, nil
}

// predict runs the prediction stage. Every failure is logged and reported
// as no prediction.
func (o *Orchestrator) predict(ctx context.Context, causes []types.RootCause, building *types.BuildingContext, lang types.Language) *types.PredictionResult {
	if o.cfg.Predictor == nil {
		return nil
	}
	out, err := o.cfg.Predictor.Predict(ctx, causes, building, lang)
	if err != nil {
		o.log.Warn("prediction skipped: %v", err)
		return nil
	}
	if err := out.Err(analysis.StagePrediction); err != nil {
		o.log.Warn("prediction skipped: %v", err)
		return nil
	}
	return out.Value
}

// =============================================================================
// PROPERTY ANALYSIS
// =============================================================================

// PredictionEnvelope carries predictions with their generation time.
type PredictionEnvelope struct {
	Predictions []types.Prediction `json:"predictions"`
	PredictedAt time.Time          `json:"predicted_at"`
}

// PropertyAnalysis is the response of AnalyzeProperty.
type PropertyAnalysis struct {
	PropertyID        string                `json:"property_id"`
	DefectsAnalyzed   int                   `json:"defects_analyzed"`
	Analysis          *types.AnalysisResult `json:"analysis"`
	Timestamp         time.Time             `json:"timestamp"`
	PDFReport         *string               `json:"pdf_report"`
	FuturePredictions *PredictionEnvelope   `json:"future_predictions"`
}

// ArchiveName returns the stored document name for a property analysis.
func ArchiveName(propertyID string, at time.Time) string {
	return fmt.Sprintf("property-analysis-%s-%d.pdf", propertyID, at.UnixMilli())
}

// AnalyzeProperty runs root-cause analysis over a property's recent
// findings, predicts follow-on defects, and archives the analysis document.
func (o *Orchestrator) AnalyzeProperty(ctx context.Context, propertyID string, lang types.Language) (*PropertyAnalysis, error) {
	if strings.TrimSpace(propertyID) == "" {
		return nil, fmt.Errorf("%w: property_id is required", types.ErrInvalidRequest)
	}
	log := o.log.With("property_id", propertyID)

	rows, err := o.cfg.Source.FetchFindings(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	findings := normalize.Findings(rows)
	if len(findings) == 0 {
		return nil, types.ErrNoFindings
	}
	log.Info("analyzing %d findings", len(findings))

	out, err := o.cfg.Analyzer.RootCauses(ctx, findings, lang)
	if err != nil {
		return nil, err
	}
	if err := out.Err(analysis.StageRootCauses); err != nil {
		log.Error("root-cause analysis failed after %d attempts: %s", out.Attempts, out.Reason)
		return nil, err
	}

	resp := &PropertyAnalysis{
		PropertyID:      propertyID,
		DefectsAnalyzed: len(findings),
		Analysis:        out.Value,
		Timestamp:       out.GeneratedAt,
	}

	building := types.ContextFromFindings(propertyID, findings)
	if pred := o.predict(ctx, out.Value.RootCauses, &building, lang); pred != nil {
		resp.FuturePredictions = &PredictionEnvelope{Predictions: pred.Predictions, PredictedAt: o.cfg.Now()}
	}

	if ref, err := o.archiveAnalysis(ctx, propertyID, lang, resp); err != nil {
		log.Warn("analysis document not archived: %v", err)
	} else {
		resp.PDFReport = &ref
	}
	return resp, nil
}

func (o *Orchestrator) archiveAnalysis(ctx context.Context, propertyID string, lang types.Language, resp *PropertyAnalysis) (string, error) {
	if o.cfg.Archive == nil {
		return "", fmt.Errorf("no reports directory configured")
	}
	var prediction *types.PredictionResult
	if resp.FuturePredictions != nil {
		prediction = &types.PredictionResult{Predictions: resp.FuturePredictions.Predictions}
	}

	now := o.cfg.Now()
	name := ArchiveName(propertyID, now)
	_, err := o.cfg.Archive.Save(name, func(w io.Writer) error {
		_, err := o.cfg.Renderer.Render(ctx, w, types.RenderRequest{
			Language:   lang,
			Analysis:   resp.Analysis,
			Prediction: prediction,
			Metadata: types.Metadata{
				PropertyID:      propertyID,
				HistoricalCount: resp.DefectsAnalyzed,
				GeneratedAt:     now,
			},
		})
		return err
	})
	if err != nil {
		return "", err
	}
	return "/reports/" + name, nil
}

// IngestImage detects defects in an inspection photo and records them.
func (o *Orchestrator) IngestImage(ctx context.Context, req vision.Request) (*vision.Result, error) {
	if o.cfg.Ingestor == nil {
		return nil, &types.ConfigurationError{Setting: "vision", Msg: "no finding writer configured"}
	}
	return o.cfg.Ingestor.Ingest(ctx, req)
}
