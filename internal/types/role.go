package types

import (
	"fmt"
	"strings"
)

// =============================================================================
// ROLES
// =============================================================================

// Role is the audience of a document. The set is closed; see RoleSwitch.
type Role string

const (
	RoleBuyer     Role = "Buyer"
	RoleBuilder   Role = "Builder"
	RoleInspector Role = "Inspector"
)

// Roles lists every supported role.
var Roles = []Role{RoleBuyer, RoleBuilder, RoleInspector}

// ParseRole resolves a role name case-insensitively.
func ParseRole(s string) (Role, error) {
	for _, r := range Roles {
		if strings.EqualFold(strings.TrimSpace(s), string(r)) {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: unknown role %q (valid: %v)", ErrInvalidRequest, s, Roles)
}

// RoleSwitch has one method per role. Any consumer that selects behaviour by
// role implements it, so adding a role fails compilation until every
// consumer handles the new case.
type RoleSwitch[T any] interface {
	Buyer() T
	Builder() T
	Inspector() T
}

// MatchRole dispatches r onto the matching RoleSwitch method.
func MatchRole[T any](r Role, s RoleSwitch[T]) (T, error) {
	switch r {
	case RoleBuyer:
		return s.Buyer(), nil
	case RoleBuilder:
		return s.Builder(), nil
	case RoleInspector:
		return s.Inspector(), nil
	}
	var zero T
	return zero, fmt.Errorf("unknown role %q", r)
}

// =============================================================================
// ROLE REPORTS
// =============================================================================

// Report is the validated role-shaped output of the analysis generator.
// The variants are BuyerReport, BuilderReport and InspectorReport.
type Report interface {
	Role() Role
	Accept(v ReportVisitor) error
}

// ReportVisitor consumes each report variant.
type ReportVisitor interface {
	VisitBuyer(r *BuyerReport) error
	VisitBuilder(r *BuilderReport) error
	VisitInspector(r *InspectorReport) error
}

// BuyerRootCause is one plain-language cause in a buyer report.
type BuyerRootCause struct {
	Heading     string   `json:"heading"`
	Explanation string   `json:"explanation"`
	Severity    Severity `json:"severity"`
}

// FutureRisk is one forward-looking risk in a buyer report.
type FutureRisk struct {
	Event     string   `json:"event"`
	Severity  Severity `json:"severity"`
	Timeframe string   `json:"timeframe,omitempty"`
}

// BuyerReport is the buyer-facing summary.
type BuyerReport struct {
	Summary           string           `json:"summary"`
	RootCauses        []BuyerRootCause `json:"root_causes"`
	FuturePredictions []FutureRisk     `json:"future_predictions"`
	Recommendation    string           `json:"recommendation"`
}

func (r *BuyerReport) Role() Role                   { return RoleBuyer }
func (r *BuyerReport) Accept(v ReportVisitor) error { return v.VisitBuyer(r) }

// BuilderDefect is one repair item.
type BuilderDefect struct {
	Room          string `json:"room"`
	RootCause     string `json:"root_cause"`
	Fix           string `json:"fix"`
	EstimatedCost string `json:"estimated_cost,omitempty"`
}

// BuilderReport lists repair items.
type BuilderReport struct {
	Defects []BuilderDefect `json:"defects"`
}

func (r *BuilderReport) Role() Role                   { return RoleBuilder }
func (r *BuilderReport) Accept(v ReportVisitor) error { return v.VisitBuilder(r) }

// InspectorItem is one technical analysis entry.
type InspectorItem struct {
	Room       string   `json:"room"`
	Defect     string   `json:"defect"`
	RootCause  string   `json:"root_cause"`
	Severity   Severity `json:"severity"`
	Compliance string   `json:"compliance"`
}

// InspectorReport lists technical analysis entries.
type InspectorReport struct {
	Analysis []InspectorItem `json:"analysis"`
}

func (r *InspectorReport) Role() Role                   { return RoleInspector }
func (r *InspectorReport) Accept(v ReportVisitor) error { return v.VisitInspector(r) }

// NewReport returns an empty report variant for role, ready to be decoded into.
func NewReport(r Role) (Report, error) {
	return MatchRole[Report](r, reportFactory{})
}

type reportFactory struct{}

func (reportFactory) Buyer() Report     { return &BuyerReport{} }
func (reportFactory) Builder() Report   { return &BuilderReport{} }
func (reportFactory) Inspector() Report { return &InspectorReport{} }

// CausesOf flattens a report into root-cause items for the prediction stage.
// Role reports carry no confidence tier, so every item is reported as medium.
func CausesOf(r Report) []RootCause {
	c := &causeCollector{}
	_ = r.Accept(c)
	return c.out
}

type causeCollector struct{ out []RootCause }

func (c *causeCollector) VisitBuyer(r *BuyerReport) error {
	for _, rc := range r.RootCauses {
		c.out = append(c.out, RootCause{Cause: rc.Heading, Confidence: TierMedium, Reasoning: rc.Explanation})
	}
	return nil
}

func (c *causeCollector) VisitBuilder(r *BuilderReport) error {
	for _, d := range r.Defects {
		c.out = append(c.out, RootCause{Cause: d.RootCause, Confidence: TierMedium, AffectedSystems: []string{d.Room}})
	}
	return nil
}

func (c *causeCollector) VisitInspector(r *InspectorReport) error {
	for _, a := range r.Analysis {
		c.out = append(c.out, RootCause{Cause: a.RootCause, Confidence: TierMedium, AffectedSystems: []string{a.Room}, Reasoning: a.Defect})
	}
	return nil
}
