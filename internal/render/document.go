package render

import (
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"
)

// A4 portrait in points.
const (
	pageWidth  = 595.28
	pageHeight = 841.89
	margin     = 50.0

	// No block may extend closer than this to the bottom edge.
	breakThreshold = 100.0
	footerOffset   = 40.0
)

// FooterTitle is stamped after the page counter on every page.
const FooterTitle = "Building Defect Analysis System"

// TraceKind records how a block reached the page.
type TraceKind string

const (
	TraceText  TraceKind = "text"
	TraceImage TraceKind = "image"
)

// TraceEntry records one placed block (or the part of it on one page).
type TraceEntry struct {
	Page   int
	Kind   TraceKind
	Block  BlockKind
	Text   string
	Lines  []string
	Color  RGB
	Y      float64
	Height float64
}

// textEngine draws blocks either as native text or as raster images.
type textEngine interface {
	kind() TraceKind
	wrap(d *Document, b Block, width float64) []string
	lineHeight(d *Document, b Block) float64
	draw(d *Document, b Block, lines []string, x, y, width float64) error
}

// Document is a paginated PDF under construction. It owns the vertical
// cursor; content programs only call Add and NewPage.
type Document struct {
	pdf    *fpdf.Fpdf
	engine textEngine
	base   float64
	y      float64
	trace  []TraceEntry
	err    error
}

func newDocument(engine func(*fpdf.Fpdf) textEngine, baseSize float64, compress bool) *Document {
	pdf := fpdf.New("P", "pt", "A4", "")
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetCompression(compress)
	pdf.SetCreator("defectintel", true)
	pdf.SetTitle(FooterTitle, true)

	d := &Document{pdf: pdf, engine: engine(pdf), base: baseSize}
	d.NewPage()
	return d
}

// NewPage starts a new page and resets the cursor.
func (d *Document) NewPage() {
	d.pdf.AddPage()
	d.y = margin
}

// Add places blocks in order.
func (d *Document) Add(blocks ...Block) {
	for _, b := range blocks {
		if d.err != nil {
			return
		}
		d.placeBlock(d.measureBlock(b))
	}
}

// Space advances the cursor.
func (d *Document) Space(h float64) { d.y += h }

func (d *Document) contentWidth() float64 { return pageWidth - 2*margin }
func (d *Document) limit() float64        { return pageHeight - breakThreshold }

type measured struct {
	block Block
	lines []string
	lineH float64
	width float64
}

func (m measured) height() float64 { return float64(len(m.lines)) * m.lineH }

// measureBlock wraps a block to the content width and reports its height.
func (d *Document) measureBlock(b Block) measured {
	w := d.contentWidth() - b.Indent
	return measured{
		block: b,
		lines: d.engine.wrap(d, b, w),
		lineH: d.engine.lineHeight(d, b),
		width: w,
	}
}

// placeBlock starts a new page when the block would cross the break
// threshold, then draws it. Blocks taller than a page are split by line.
func (d *Document) placeBlock(m measured) {
	b := m.block
	st := styleFor(b.Kind, d.base)
	if len(m.lines) == 0 {
		return
	}
	if d.y+m.height() > d.limit() && d.y > margin {
		d.NewPage()
	}

	lines := m.lines
	for len(lines) > 0 {
		fit := int((d.limit() - d.y) / m.lineH)
		if fit < 1 {
			if d.y > margin {
				d.NewPage()
				continue
			}
			fit = 1
		}
		if fit > len(lines) {
			fit = len(lines)
		}
		chunk := lines[:fit]
		lines = lines[fit:]

		if err := d.engine.draw(d, b, chunk, margin+b.Indent, d.y, m.width); err != nil {
			d.err = err
			return
		}
		d.trace = append(d.trace, TraceEntry{
			Page:   d.pdf.PageNo(),
			Kind:   d.engine.kind(),
			Block:  b.Kind,
			Text:   b.Text,
			Lines:  append([]string(nil), chunk...),
			Color:  b.Color,
			Y:      d.y,
			Height: float64(len(chunk)) * m.lineH,
		})
		d.y += float64(len(chunk)) * m.lineH
		if len(lines) > 0 {
			d.NewPage()
		}
	}
	d.y += st.spaceAfter
}

// stampFooters revisits every page once the final count is known.
func (d *Document) stampFooters() []string {
	n := d.pdf.PageCount()
	footers := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		d.pdf.SetPage(i)
		d.pdf.SetFont("Helvetica", "", 9)
		d.pdf.SetTextColor(Gray.R, Gray.G, Gray.B)
		text := fmt.Sprintf("Page %d of %d | %s", i, n, FooterTitle)
		d.pdf.SetXY(margin, pageHeight-footerOffset)
		d.pdf.CellFormat(d.contentWidth(), 12, text, "", 0, "C", false, 0, "")
		footers = append(footers, text)
	}
	return footers
}

// Err returns the first drawing error.
func (d *Document) Err() error {
	if d.err != nil {
		return d.err
	}
	return d.pdf.Error()
}

// =============================================================================
// NATIVE TEXT
// =============================================================================

// nativeEngine draws with the built-in Helvetica family (cp1252).
type nativeEngine struct {
	tr func(string) string
}

func newNativeEngine(pdf *fpdf.Fpdf) textEngine {
	return nativeEngine{tr: pdf.UnicodeTranslatorFromDescriptor("")}
}

func (e nativeEngine) kind() TraceKind { return TraceText }

func (e nativeEngine) setFont(d *Document, b Block) style {
	st := styleFor(b.Kind, d.base)
	d.pdf.SetFont("Helvetica", st.fontStyle(), st.size)
	return st
}

func (e nativeEngine) wrap(d *Document, b Block, width float64) []string {
	if strings.TrimSpace(b.Text) == "" {
		return nil
	}
	e.setFont(d, b)
	raw := d.pdf.SplitLines([]byte(e.tr(b.Text)), width)
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		lines = append(lines, string(l))
	}
	return lines
}

func (e nativeEngine) lineHeight(d *Document, b Block) float64 {
	return styleFor(b.Kind, d.base).lineHeight()
}

func (e nativeEngine) draw(d *Document, b Block, lines []string, x, y, width float64) error {
	st := e.setFont(d, b)
	d.pdf.SetTextColor(b.Color.R, b.Color.G, b.Color.B)
	for i, line := range lines {
		d.pdf.SetXY(x, y+float64(i)*st.lineHeight())
		d.pdf.CellFormat(width, st.lineHeight(), line, "", 0, "L", false, 0, "")
	}
	d.pdf.SetTextColor(0, 0, 0)
	return d.pdf.Error()
}
