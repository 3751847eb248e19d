package render

import (
	"fmt"
	"strings"
	"time"

	"defectintel/internal/types"
)

// roleProgram lays out one role report. Exactly one Visit method runs per
// document, selected by the report variant.
type roleProgram struct {
	d *Document
}

var _ types.ReportVisitor = roleProgram{}

func (p roleProgram) VisitBuyer(r *types.BuyerReport) error {
	d := p.d
	d.Add(
		Block{Kind: KindHeading, Text: "Executive Summary"},
		Block{Kind: KindBody, Text: r.Summary},
	)

	d.Add(Block{Kind: KindHeading, Text: "Root Causes"})
	if len(r.RootCauses) == 0 {
		d.Add(Block{Kind: KindBody, Text: "No root causes were identified."})
	}
	for i, rc := range r.RootCauses {
		d.Add(
			Block{Kind: KindLabel, Text: fmt.Sprintf("%d. %s", i+1, rc.Heading), Color: SeverityColor(rc.Severity)},
			Block{Kind: KindMeta, Text: "Severity: " + string(rc.Severity), Color: SeverityColor(rc.Severity), Indent: 14},
			Block{Kind: KindBody, Text: rc.Explanation, Indent: 14},
		)
	}

	if len(r.FuturePredictions) > 0 {
		d.NewPage()
		d.Add(Block{Kind: KindHeading, Text: "Future Risks"})
		for _, fr := range r.FuturePredictions {
			d.Add(Block{Kind: KindLabel, Text: fmt.Sprintf("%s (%s)", fr.Event, fr.Severity), Color: SeverityColor(fr.Severity)})
			if fr.Timeframe != "" {
				d.Add(Block{Kind: KindBody, Text: "Expected: " + fr.Timeframe, Indent: 14})
			}
		}
	}

	d.Add(
		Block{Kind: KindHeading, Text: "Recommendation"},
		Block{Kind: KindBody, Text: r.Recommendation},
	)
	return nil
}

func (p roleProgram) VisitBuilder(r *types.BuilderReport) error {
	d := p.d
	if len(r.Defects) == 0 {
		d.Add(Block{Kind: KindBody, Text: "No defects require repair."})
	}
	for _, def := range r.Defects {
		lines := []string{
			"Room: " + def.Room,
			"Root Cause: " + def.RootCause,
			"Fix: " + def.Fix,
		}
		if def.EstimatedCost != "" {
			lines = append(lines, "Estimated Cost: "+def.EstimatedCost)
		}
		d.Add(Block{Kind: KindBody, Text: strings.Join(lines, "\n")})
	}
	return nil
}

func (p roleProgram) VisitInspector(r *types.InspectorReport) error {
	d := p.d
	if len(r.Analysis) == 0 {
		d.Add(Block{Kind: KindBody, Text: "No defects were analyzed."})
	}
	for _, a := range r.Analysis {
		d.Add(Block{Kind: KindBody, Text: strings.Join([]string{
			"Room: " + a.Room,
			"Defect: " + a.Defect,
			"Root Cause: " + a.RootCause,
			"Severity: " + string(a.Severity),
			"Compliance: " + a.Compliance,
		}, "\n")})
	}
	return nil
}

// writePredictions lays out a prediction section on its own page.
func writePredictions(d *Document, p *types.PredictionResult) {
	if p == nil || len(p.Predictions) == 0 {
		return
	}
	d.NewPage()
	d.Add(Block{Kind: KindHeading, Text: "Future Defect Predictions"})
	for i, pr := range p.Predictions {
		d.Add(
			Block{Kind: KindLabel, Text: fmt.Sprintf("%d. %s", i+1, pr.DefectType)},
			Block{Kind: KindMeta, Text: "Likelihood: " + strings.ToUpper(string(pr.Likelihood)), Color: LikelihoodColor(pr.Likelihood), Indent: 14},
			Block{Kind: KindBody, Text: "Timeframe: " + pr.Timeframe, Indent: 14},
		)
		if pr.RelatedRootCause != "" {
			d.Add(Block{Kind: KindBody, Text: "Related Root Cause: " + pr.RelatedRootCause, Indent: 14})
		}
		if len(pr.PreventiveMeasures) > 0 {
			d.Add(Block{Kind: KindMeta, Text: "Preventive Measures:", Indent: 14})
			for _, m := range pr.PreventiveMeasures {
				d.Add(Block{Kind: KindBullet, Text: "- " + m, Indent: 26})
			}
			d.Space(6)
		}
	}
}

// writeAnalysis lays out the root-cause analysis document body.
func writeAnalysis(d *Document, a *types.AnalysisResult, meta types.Metadata) {
	d.Add(Block{Kind: KindTitle, Text: "Root Cause Analysis Report"})

	var cover []string
	cover = append(cover, "Generated: "+meta.GeneratedAt.Format(time.RFC1123))
	if meta.InspectionID != "" {
		cover = append(cover, "Inspection ID: "+meta.InspectionID)
	}
	if meta.PropertyID != "" {
		cover = append(cover, "Property ID: "+meta.PropertyID)
	}
	if meta.HistoricalCount > 0 {
		cover = append(cover, fmt.Sprintf("Historical Records Analyzed: %d", meta.HistoricalCount))
	}
	for _, line := range cover {
		d.Add(Block{Kind: KindMeta, Text: line, Color: Gray})
	}
	d.Space(12)

	d.Add(Block{Kind: KindHeading, Text: "Identified Root Causes"})
	if len(a.RootCauses) == 0 {
		d.Add(Block{Kind: KindBody, Text: "No root causes were identified."})
	}
	for i, rc := range a.RootCauses {
		d.Add(
			Block{Kind: KindLabel, Text: fmt.Sprintf("%d. %s", i+1, rc.Cause)},
			Block{Kind: KindMeta, Text: "Confidence: " + strings.ToUpper(string(rc.Confidence)), Color: ConfidenceColor(rc.Confidence), Indent: 14},
			Block{Kind: KindBody, Text: "Reasoning: " + rc.Reasoning, Indent: 14},
		)
		if len(rc.AffectedSystems) > 0 {
			d.Add(Block{Kind: KindMeta, Text: "Affected Systems:", Indent: 14})
			for _, sys := range rc.AffectedSystems {
				d.Add(Block{Kind: KindBullet, Text: "- " + sys, Indent: 26})
			}
			d.Space(6)
		}
	}

	if len(a.Recommendations) > 0 {
		d.NewPage()
		d.Add(Block{Kind: KindHeading, Text: "Immediate Recommendations"})
		for i, rec := range a.Recommendations {
			d.Add(Block{Kind: KindBody, Text: fmt.Sprintf("%d. %s", i+1, rec)})
		}
	}
}
