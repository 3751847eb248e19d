package analysis

import (
	"context"
	"fmt"

	"defectintel/internal/llm"
	"defectintel/internal/logging"
	"defectintel/internal/schema"
	"defectintel/internal/types"
)

// Stage names used in traces and validation errors.
const (
	StageReport     = "report"
	StageRootCauses = "root_cause_analysis"
	StagePrediction = "prediction"
	StageVision     = "vision"
)

// AnalysisGenerator turns normalized records into validated analyses.
type AnalysisGenerator struct {
	engine engine
	log    *logging.Logger
}

// NewAnalysisGenerator creates an analysis generator over client.
func NewAnalysisGenerator(client llm.Client, opts Options) *AnalysisGenerator {
	return &AnalysisGenerator{engine: newEngine(client, opts), log: logging.Get(logging.CategoryAnalysis)}
}

// Report generates the role-shaped report for a property.
// Empty records are not an error: the prompt states that nothing was found.
func (g *AnalysisGenerator) Report(ctx context.Context, role types.Role, lang types.Language, records types.PropertyRecords) (Outcome[types.Report], error) {
	prompt, s, err := BuildReportPrompt(role, lang, records)
	if err != nil {
		return Outcome[types.Report]{State: StateBuildingPrompt, Reason: err.Error()}, err
	}
	g.log.Info("generating %s report for %s (%d findings, %d causes, %d risks, lang=%s)",
		role, records.PropertyID, len(records.Findings), len(records.RootCauses), len(records.FutureRisks), lang.Code)

	return run(ctx, g.engine, call{stage: StageReport, prompt: prompt, schema: s}, func() types.Report {
		r, _ := types.NewReport(role)
		return r
	}, g.log)
}

// DecodeReport validates a caller-supplied role report against the role's
// schema. Failures wrap types.ErrInvalidRequest.
func DecodeReport(role types.Role, raw string) (types.Report, error) {
	s, err := schema.ForRole(role)
	if err != nil {
		return nil, err
	}
	r, err := types.NewReport(role)
	if err != nil {
		return nil, err
	}
	if err := schema.Decode(s, raw, r); err != nil {
		return nil, fmt.Errorf("%w: analysis does not match the %s report shape: %v", types.ErrInvalidRequest, role, err)
	}
	return r, nil
}

// RootCauses runs root-cause analysis over historical findings.
func (g *AnalysisGenerator) RootCauses(ctx context.Context, findings []types.Finding, lang types.Language) (Outcome[*types.AnalysisResult], error) {
	g.log.Info("analyzing %d findings", len(findings))
	c := call{stage: StageRootCauses, prompt: BuildRootCausePrompt(findings, lang), schema: schema.RootCauseAnalysis}
	return run(ctx, g.engine, c, func() *types.AnalysisResult { return &types.AnalysisResult{} }, g.log)
}

// PredictionGenerator forecasts future defects from validated root causes.
type PredictionGenerator struct {
	engine engine
	log    *logging.Logger
}

// NewPredictionGenerator creates a prediction generator over client.
func NewPredictionGenerator(client llm.Client, opts Options) *PredictionGenerator {
	return &PredictionGenerator{engine: newEngine(client, opts), log: logging.Get(logging.CategoryPrediction)}
}

// Predict forecasts future defects. building may be nil.
func (g *PredictionGenerator) Predict(ctx context.Context, causes []types.RootCause, building *types.BuildingContext, lang types.Language) (Outcome[*types.PredictionResult], error) {
	g.log.Info("predicting from %d root causes", len(causes))
	c := call{stage: StagePrediction, prompt: BuildPredictionPrompt(causes, building, lang), schema: schema.Predictions}
	return run(ctx, g.engine, c, func() *types.PredictionResult { return &types.PredictionResult{} }, g.log)
}

// DetectDefects asks the model for visible defects in one image.
func (g *AnalysisGenerator) DetectDefects(ctx context.Context, image llm.Image) (Outcome[*types.VisionResult], error) {
	c := call{stage: StageVision, prompt: BuildVisionPrompt(), schema: schema.VisionDefects, image: &image}
	return run(ctx, g.engine, c, func() *types.VisionResult { return &types.VisionResult{} }, g.log)
}
