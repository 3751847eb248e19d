// Package types provides the shared domain model of the defect intelligence pipeline.
// Types in this package are plain data structures with no dependencies on the
// generator, storage, or rendering layers, so every stage can import them.
package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// SEVERITY AND TIERS
// =============================================================================

// Severity is the ordinal defect severity LOW < MEDIUM < HIGH < CRITICAL.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Severities lists the closed severity set in ascending order.
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// ParseSeverity maps free text onto the severity set.
// Unknown or empty values collapse to LOW.
func ParseSeverity(s string) Severity {
	switch Severity(strings.ToUpper(strings.TrimSpace(s))) {
	case SeverityMedium:
		return SeverityMedium
	case SeverityHigh:
		return SeverityHigh
	case SeverityCritical:
		return SeverityCritical
	default:
		return SeverityLow
	}
}

// Rank returns the ordinal position of the severity (LOW=0).
func (s Severity) Rank() int {
	for i, v := range Severities {
		if v == s {
			return i
		}
	}
	return 0
}

// UnmarshalJSON accepts any casing of a severity label.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("severity must be a string: %w", err)
	}
	*s = ParseSeverity(raw)
	return nil
}

// Tier is the categorical high/medium/low label produced by the model.
// It is used both for root-cause confidence and for prediction likelihood,
// and is never derived from a numeric aggregate confidence.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// Tiers lists the closed tier set.
var Tiers = []Tier{TierHigh, TierMedium, TierLow}

// ParseTier maps free text onto the tier set. Unknown values collapse to low.
func ParseTier(s string) Tier {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierHigh:
		return TierHigh
	case TierMedium:
		return TierMedium
	default:
		return TierLow
	}
}

// UnmarshalJSON accepts any casing of a tier label.
func (t *Tier) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("tier must be a string: %w", err)
	}
	*t = ParseTier(raw)
	return nil
}

// =============================================================================
// RECORDS
// =============================================================================

// Finding is one observed defect. Findings are recorded by the ingestion path
// and consumed read-only by the pipeline.
type Finding struct {
	ID             string   `json:"finding_id"`
	InspectionID   string   `json:"inspection_id,omitempty"`
	DefectType     string   `json:"defect_type"`
	Severity       Severity `json:"severity"`
	RoomID         string   `json:"room_id"`
	Observation    string   `json:"observation_text"`
	InspectionDate string   `json:"inspection_date"`
	Inspector      string   `json:"inspector_name"`
	BuildingType   string   `json:"building_type,omitempty"`
	Region         string   `json:"region,omitempty"`
}

// RootCauseAggregate summarizes one cause per room type. Derived from findings
// on every request; never stored.
type RootCauseAggregate struct {
	RoomType          string   `json:"room"`
	Cause             string   `json:"issue"`
	SupportingSignals int      `json:"signals"`
	AvgConfidence     *float64 `json:"confidence"`
	AffectedSystems   []string `json:"affected_systems,omitempty"`
}

// FutureRiskAggregate is a predicted event per room type.
type FutureRiskAggregate struct {
	RoomType  string   `json:"room"`
	EventName string   `json:"event"`
	Severity  Severity `json:"severity"`
}

// PropertyRecords is everything the record source returns for one property,
// already normalized.
type PropertyRecords struct {
	PropertyID  string                `json:"property_id"`
	Findings    []Finding             `json:"findings"`
	RootCauses  []RootCauseAggregate  `json:"root_causes"`
	FutureRisks []FutureRiskAggregate `json:"future_risks"`
}

// Empty reports whether no signal of any kind is present.
func (p PropertyRecords) Empty() bool {
	return len(p.Findings) == 0 && len(p.RootCauses) == 0 && len(p.FutureRisks) == 0
}

// BuildingContext is the property-level context handed to the prediction stage.
type BuildingContext struct {
	PropertyID         string `json:"property_id"`
	BuildingType       string `json:"building_type,omitempty"`
	Region             string `json:"region,omitempty"`
	RecentDefectsCount int    `json:"recent_defects_count"`
}

// ContextFromFindings derives building context from the most recent finding.
func ContextFromFindings(propertyID string, findings []Finding) BuildingContext {
	ctx := BuildingContext{PropertyID: propertyID, RecentDefectsCount: len(findings)}
	if len(findings) > 0 {
		ctx.BuildingType = findings[0].BuildingType
		ctx.Region = findings[0].Region
	}
	return ctx
}

// =============================================================================
// GENERATED RESULTS
// =============================================================================

// RootCause is one validated root-cause item.
type RootCause struct {
	Cause           string   `json:"cause"`
	Confidence      Tier     `json:"confidence"`
	AffectedSystems []string `json:"affected_systems"`
	Reasoning       string   `json:"reasoning"`
}

// AnalysisResult is the validated root-cause analysis.
type AnalysisResult struct {
	RootCauses      []RootCause `json:"root_causes"`
	Recommendations []string    `json:"recommendations"`
}

// Prediction is one forecast defect. RelatedRootCause is a human-readable
// label, matched by text only.
type Prediction struct {
	DefectType         string   `json:"defect_type"`
	Likelihood         Tier     `json:"likelihood"`
	Timeframe          string   `json:"timeframe"`
	PreventiveMeasures []string `json:"preventive_measures"`
	RelatedRootCause   string   `json:"related_root_cause"`
}

// PredictionResult is the validated prediction set.
type PredictionResult struct {
	Predictions []Prediction `json:"predictions"`
}

// DetectedDefect is one defect reported by image analysis.
type DetectedDefect struct {
	DefectType  string   `json:"defect_type"`
	Severity    Severity `json:"severity"`
	Confidence  float64  `json:"confidence"`
	Description string   `json:"description"`
}

// VisionResult wraps the defects detected in one image.
type VisionResult struct {
	Defects []DetectedDefect `json:"defects"`
}

// =============================================================================
// RENDERING
// =============================================================================

// Metadata identifies the subject of a rendered document.
type Metadata struct {
	PropertyID      string    `json:"property_id,omitempty"`
	InspectionID    string    `json:"inspection_id,omitempty"`
	HistoricalCount int       `json:"historical_count,omitempty"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// RenderRequest is the transient input of one render call.
// Report selects the role document; when Report is nil the analysis
// document is produced from Analysis and the optional Prediction.
type RenderRequest struct {
	Role       Role
	Language   Language
	Report     Report
	Analysis   *AnalysisResult
	Prediction *PredictionResult
	Metadata   Metadata
}

// Filename returns the conventional download name of a role document.
func (r RenderRequest) Filename() string {
	return fmt.Sprintf("%s_Report_%s.pdf", r.Role, r.Metadata.PropertyID)
}
