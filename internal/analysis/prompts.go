package analysis

import (
	"encoding/json"
	"fmt"
	"strings"

	"defectintel/internal/schema"
	"defectintel/internal/types"

	"google.golang.org/genai"
)

// =============================================================================
// SHARED PROMPT PIECES
// =============================================================================

const jsonOnlyRules = `RULES:
- Output ONLY valid JSON
- No markdown
- No explanations before or after the JSON`

// roleInstructions holds the fixed output-shape instruction of each role.
type roleInstructions struct{}

func (roleInstructions) Buyer() string {
	return `Use simple, non-technical language.
Focus on safety, financial risk, and future problems.
Explain each root cause so a first-time home buyer understands it.`
}

func (roleInstructions) Builder() string {
	return `Focus on defects, fixes, and approximate repair costs.
Be practical: one entry per defect with the room, the root cause, and the fix.`
}

func (roleInstructions) Inspector() string {
	return `Use technical language.
Explain root causes, severity, and compliance risks for every defect.`
}

// LanguageDirective returns the fixed language instruction for lang.
func LanguageDirective(lang types.Language) string {
	if lang.Code == "" || lang.Code == types.DefaultLanguage.Code {
		return "Write all text values in English."
	}
	return fmt.Sprintf("Write all human-readable text values in %s (%s). Keep JSON field names and enum values (severity, confidence, likelihood) exactly as specified, in English.",
		lang.Name, lang.Code)
}

func toJSON(v interface{}) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(data)
}

func assemble(sections ...string) string {
	var sb strings.Builder
	for _, s := range sections {
		if s == "" {
			continue
		}
		sb.WriteString(strings.TrimSpace(s))
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func formatInstructions(s *genai.Schema) string {
	return "OUTPUT FORMAT:\n" + schema.ToPromptInstruction(s)
}

// FormatFindings renders findings as a numbered list.
func FormatFindings(findings []types.Finding) string {
	if len(findings) == 0 {
		return "No findings recorded."
	}
	var sb strings.Builder
	for i, f := range findings {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		obs := f.Observation
		if obs == "" {
			obs = "N/A"
		}
		fmt.Fprintf(&sb, "%d. Defect Type: %s\n   Severity: %s\n   Room: %s\n   Observation: %s",
			i+1, f.DefectType, f.Severity, f.RoomID, obs)
		if f.BuildingType != "" {
			fmt.Fprintf(&sb, "\n   Building Type: %s", f.BuildingType)
		}
		if f.Region != "" {
			fmt.Fprintf(&sb, "\n   Region: %s", f.Region)
		}
		if f.InspectionDate != "" {
			fmt.Fprintf(&sb, "\n   Inspection Date: %s", f.InspectionDate)
		}
	}
	return sb.String()
}

// =============================================================================
// PROMPT BUILDERS
// =============================================================================

// BuildReportPrompt assembles the role report prompt.
func BuildReportPrompt(role types.Role, lang types.Language, records types.PropertyRecords) (string, *genai.Schema, error) {
	instr, err := types.MatchRole[string](role, roleInstructions{})
	if err != nil {
		return "", nil, err
	}
	s, err := schema.ForRole(role)
	if err != nil {
		return "", nil, err
	}

	rootCauses := records.RootCauses
	if rootCauses == nil {
		rootCauses = []types.RootCauseAggregate{}
	}
	futureRisks := records.FutureRisks
	if futureRisks == nil {
		futureRisks = []types.FutureRiskAggregate{}
	}

	prompt := assemble(
		"You are a building risk intelligence system.",
		fmt.Sprintf("AUDIENCE: %s\n\nROLE INSTRUCTIONS:\n%s", role, instr),
		"LANGUAGE:\n"+LanguageDirective(lang),
		"INSPECTION FINDINGS:\n"+FormatFindings(records.Findings),
		"ROOT CAUSES (aggregated per room type):\n"+toJSON(rootCauses),
		"FUTURE RISKS (aggregated per room type):\n"+toJSON(futureRisks),
		formatInstructions(s),
		jsonOnlyRules,
	)
	return prompt, s, nil
}

// BuildRootCausePrompt assembles the findings-mode root-cause prompt.
func BuildRootCausePrompt(findings []types.Finding, lang types.Language) string {
	return assemble(
		"You are an expert building diagnostics specialist with deep knowledge of construction defects and their root causes.",
		"Analyze the following building inspection findings and identify the ROOT CAUSES, not just the symptoms:",
		"Inspection Findings:\n"+FormatFindings(findings),
		`For each root cause you identify:
1. Explain WHY this is a root cause (not just a symptom)
2. Rate your confidence level (high, medium, low)
3. Identify which building systems are affected
4. Provide clear reasoning based on the defect patterns`,
		`Focus on systematic issues like:
- Design flaws
- Material selection problems
- Construction methodology issues
- Inadequate maintenance procedures
- Environmental factors (considering the region)
- Workmanship quality
- Building code compliance issues
- Pattern analysis across similar defects`,
		"Also provide immediate action recommendations based on the severity and patterns identified.",
		"LANGUAGE:\n"+LanguageDirective(lang),
		formatInstructions(schema.RootCauseAnalysis),
		jsonOnlyRules,
	)
}

// NoBuildingInfo is stated when the prediction stage has no building context.
const NoBuildingInfo = "No additional building info provided"

// BuildPredictionPrompt assembles the prediction prompt.
func BuildPredictionPrompt(causes []types.RootCause, building *types.BuildingContext, lang types.Language) string {
	var list strings.Builder
	if len(causes) == 0 {
		list.WriteString("No root causes were identified.")
	}
	for i, rc := range causes {
		if i > 0 {
			list.WriteString("\n\n")
		}
		fmt.Fprintf(&list, "%d. %s (Confidence: %s)", i+1, rc.Cause, rc.Confidence)
		if len(rc.AffectedSystems) > 0 {
			fmt.Fprintf(&list, "\n   Affected Systems: %s", strings.Join(rc.AffectedSystems, ", "))
		}
		if rc.Reasoning != "" {
			fmt.Fprintf(&list, "\n   Reasoning: %s", rc.Reasoning)
		}
	}

	buildingContext := NoBuildingInfo
	if building != nil && (building.PropertyID != "" || building.BuildingType != "" || building.Region != "" || building.RecentDefectsCount > 0) {
		buildingContext = toJSON(building)
	}

	return assemble(
		"You are an expert building diagnostics specialist specializing in predictive maintenance and failure analysis.",
		"Based on the identified root causes below, predict FUTURE DEFECTS that are likely to occur if these root causes are not addressed.",
		"Root Causes:\n"+list.String(),
		"Building Context:\n"+buildingContext,
		`For each prediction:
1. Specify the type of defect that may occur
2. Estimate the likelihood (high, medium, low)
3. Provide a realistic timeframe (e.g., "3-6 months", "1-2 years")
4. Recommend specific preventive measures
5. Link it to the relevant root cause by its name`,
		`Consider:
- Progressive deterioration patterns
- Cascading failures (how one issue leads to another)
- Seasonal and environmental impacts
- Material degradation over time
- Structural stress accumulation
- Regional climate factors`,
		"LANGUAGE:\n"+LanguageDirective(lang),
		formatInstructions(schema.Predictions),
		jsonOnlyRules,
	)
}

// BuildVisionPrompt assembles the image defect detection prompt.
func BuildVisionPrompt() string {
	return assemble(
		"You are a professional building inspection AI.",
		"Identify all visible building defects in the image.",
		`Rules:
- Do not hallucinate
- If no defects are found, return {"defects": []}`,
		formatInstructions(schema.VisionDefects),
		jsonOnlyRules,
	)
}
