package render

import (
	"defectintel/internal/types"
)

// BlockKind selects the typographic style of a block.
type BlockKind int

const (
	KindTitle BlockKind = iota
	KindHeading
	KindLabel
	KindBody
	KindBullet
	KindMeta
)

func (k BlockKind) String() string {
	switch k {
	case KindTitle:
		return "title"
	case KindHeading:
		return "heading"
	case KindLabel:
		return "label"
	case KindBody:
		return "body"
	case KindBullet:
		return "bullet"
	case KindMeta:
		return "meta"
	}
	return "unknown"
}

// Block is one unit of content. A block is never split across pages unless
// it is taller than a whole page.
type Block struct {
	Kind   BlockKind
	Text   string
	Color  RGB
	Indent float64
}

type style struct {
	size       float64
	bold       bool
	spaceAfter float64
}

func (s style) lineHeight() float64 { return s.size * 1.35 }

func (s style) fontStyle() string {
	if s.bold {
		return "B"
	}
	return ""
}

func styleFor(k BlockKind, base float64) style {
	switch k {
	case KindTitle:
		return style{size: base * 1.7, bold: true, spaceAfter: 14}
	case KindHeading:
		return style{size: base * 1.35, bold: true, spaceAfter: 8}
	case KindLabel:
		return style{size: base * 1.05, bold: true, spaceAfter: 3}
	case KindBullet:
		return style{size: base, spaceAfter: 2}
	case KindMeta:
		return style{size: base * 0.85, spaceAfter: 2}
	default:
		return style{size: base, spaceAfter: 8}
	}
}

// =============================================================================
// COLORS
// =============================================================================

// RGB is a text color. The zero value is black.
type RGB struct{ R, G, B int }

var (
	Black = RGB{}
	Red   = RGB{220, 38, 38}
	Amber = RGB{217, 119, 6}
	Green = RGB{22, 163, 74}
	Gray  = RGB{110, 110, 110}
)

// SeverityColor maps CRITICAL and HIGH to red, MEDIUM to amber, LOW to green.
func SeverityColor(s types.Severity) RGB {
	switch s {
	case types.SeverityCritical, types.SeverityHigh:
		return Red
	case types.SeverityMedium:
		return Amber
	default:
		return Green
	}
}

// ConfidenceColor maps a root-cause confidence tier: high is green, low is red.
func ConfidenceColor(t types.Tier) RGB {
	switch t {
	case types.TierHigh:
		return Green
	case types.TierMedium:
		return Amber
	default:
		return Red
	}
}

// LikelihoodColor maps a prediction likelihood: high is red, low is green.
func LikelihoodColor(t types.Tier) RGB {
	switch t {
	case types.TierHigh:
		return Red
	case types.TierMedium:
		return Amber
	default:
		return Green
	}
}
