package schema

import (
	"defectintel/internal/types"

	"google.golang.org/genai"
)

var (
	severityEnum = []string{"LOW", "MEDIUM", "HIGH", "CRITICAL"}
	tierEnum     = []string{"high", "medium", "low"}
	defectEnum   = []string{
		"wall_crack", "ceiling_crack", "water_leak", "damp_patch",
		"mold", "paint_peel", "rust", "structural_damage",
	}
)

func str(desc string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Description: desc}
}

func enum(desc string, values []string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Description: desc, Enum: values}
}

func strList(desc string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeArray, Description: desc, Items: &genai.Schema{Type: genai.TypeString}}
}

func object(props map[string]*genai.Schema, order []string, required ...string) *genai.Schema {
	return &genai.Schema{
		Type:             genai.TypeObject,
		Properties:       props,
		PropertyOrdering: order,
		Required:         required,
	}
}

func listOf(desc string, item *genai.Schema) *genai.Schema {
	return &genai.Schema{Type: genai.TypeArray, Description: desc, Items: item}
}

func float(v float64) *float64 { return &v }

// =============================================================================
// ROLE REPORTS
// =============================================================================

// BuyerReport is the buyer document schema.
var BuyerReport = object(map[string]*genai.Schema{
	"summary": str("Plain-language executive summary of the property's condition"),
	"root_causes": listOf("Underlying causes behind the observed defects", object(map[string]*genai.Schema{
		"heading":     str("Short name of the root cause"),
		"explanation": str("Why it matters to a buyer, in simple terms"),
		"severity":    enum("Severity tier", severityEnum),
	}, []string{"heading", "explanation", "severity"}, "heading", "explanation", "severity")),
	"future_predictions": listOf("Problems likely to appear later; empty when none", object(map[string]*genai.Schema{
		"event":     str("What is likely to happen"),
		"severity":  enum("Severity tier", severityEnum),
		"timeframe": str("When it may happen, e.g. 1-2 years"),
	}, []string{"event", "severity", "timeframe"}, "event", "severity")),
	"recommendation": str("Closing recommendation for the buyer"),
}, []string{"summary", "root_causes", "future_predictions", "recommendation"},
	"summary", "root_causes", "future_predictions", "recommendation")

// BuilderReport is the builder document schema.
var BuilderReport = object(map[string]*genai.Schema{
	"defects": listOf("One entry per defect to repair", object(map[string]*genai.Schema{
		"room":           str("Room where the defect is located"),
		"root_cause":     str("Root cause of the defect"),
		"fix":            str("Concrete repair method"),
		"estimated_cost": str("Approximate repair cost"),
	}, []string{"room", "root_cause", "fix", "estimated_cost"}, "room", "root_cause", "fix")),
}, []string{"defects"}, "defects")

// InspectorReport is the inspector document schema.
var InspectorReport = object(map[string]*genai.Schema{
	"analysis": listOf("One technical entry per defect", object(map[string]*genai.Schema{
		"room":       str("Room where the defect is located"),
		"defect":     str("Defect observed"),
		"root_cause": str("Technical root cause"),
		"severity":   enum("Severity tier", severityEnum),
		"compliance": str("Building-code or compliance note"),
	}, []string{"room", "defect", "root_cause", "severity", "compliance"}, "room", "defect", "root_cause", "severity", "compliance")),
}, []string{"analysis"}, "analysis")

// ForRole returns the report schema of role.
func ForRole(r types.Role) (*genai.Schema, error) {
	return types.MatchRole[*genai.Schema](r, roleSchemas{})
}

type roleSchemas struct{}

func (roleSchemas) Buyer() *genai.Schema     { return BuyerReport }
func (roleSchemas) Builder() *genai.Schema   { return BuilderReport }
func (roleSchemas) Inspector() *genai.Schema { return InspectorReport }

// =============================================================================
// ANALYSIS, PREDICTION, VISION
// =============================================================================

// RootCauseAnalysis is the findings-mode analysis schema.
var RootCauseAnalysis = object(map[string]*genai.Schema{
	"root_causes": listOf("Systemic root causes, not symptoms", object(map[string]*genai.Schema{
		"cause":            str("The identified root cause"),
		"confidence":       enum("Confidence level", tierEnum),
		"affected_systems": strList("Building systems affected"),
		"reasoning":        str("Why this is identified as a root cause"),
	}, []string{"cause", "confidence", "affected_systems", "reasoning"}, "cause", "confidence", "affected_systems", "reasoning")),
	"recommendations": strList("Immediate action recommendations"),
}, []string{"root_causes", "recommendations"}, "root_causes", "recommendations")

// Predictions is the prediction schema.
var Predictions = object(map[string]*genai.Schema{
	"predictions": listOf("Future defects likely if root causes are not addressed", object(map[string]*genai.Schema{
		"defect_type":         str("Type of potential future defect"),
		"likelihood":          enum("Likelihood", tierEnum),
		"timeframe":           str("Expected timeframe for occurrence, e.g. 3-6 months"),
		"preventive_measures": strList("Recommended preventive actions"),
		"related_root_cause":  str("Which root cause this relates to"),
	}, []string{"defect_type", "likelihood", "timeframe", "preventive_measures", "related_root_cause"},
		"defect_type", "likelihood", "timeframe", "preventive_measures", "related_root_cause")),
}, []string{"predictions"}, "predictions")

// VisionDefects is the image analysis schema.
var VisionDefects = object(map[string]*genai.Schema{
	"defects": listOf("Visible defects; empty when none are found", object(map[string]*genai.Schema{
		"defect_type": enum("Defect category", defectEnum),
		"severity":    enum("Severity tier", severityEnum),
		"confidence": {
			Type:        genai.TypeNumber,
			Description: "Detection confidence",
			Minimum:     float(0),
			Maximum:     float(1),
		},
		"description": str("What is visible in the image"),
	}, []string{"defect_type", "severity", "confidence", "description"}, "defect_type", "severity", "confidence", "description")),
}, []string{"defects"}, "defects")
