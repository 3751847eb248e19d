// Package render produces paginated PDF documents from validated reports.
//
// Pagination is manual: a Document tracks its vertical cursor and starts a
// new page before any block that would cross the break threshold. Text in
// Latin-script languages is drawn natively; every other language is drawn
// offscreen into PNG images that are embedded in place of the text. Page
// footers are stamped after all content, once the page count is known.
package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"defectintel/internal/logging"
	"defectintel/internal/types"

	"golang.org/x/image/font/opentype"
)

// DefaultBaseSize is the body font size in points.
const DefaultBaseSize = 11

// Options configures a Renderer.
type Options struct {
	// FontPath is a TTF/OTF file used for rasterized scripts. When empty a
	// built-in bitmap face is used, which only covers ASCII, and documents
	// with text outside it fail with a ConfigurationError.
	FontPath string
	BaseSize float64
	Compress bool
	Now      func() time.Time
}

// Renderer renders documents. It is safe for concurrent use; all mutable
// layout state lives in the per-call Document.
type Renderer struct {
	font *opentype.Font
	base float64
	opts Options
	log  *logging.Logger
}

// Result describes a rendered document.
type Result struct {
	Pages   int
	Trace   []TraceEntry
	Footers []string
}

// NewRenderer creates a renderer, parsing the raster font if configured.
func NewRenderer(opts Options) (*Renderer, error) {
	r := &Renderer{opts: opts, base: opts.BaseSize, log: logging.Get(logging.CategoryRender)}
	if r.base <= 0 {
		r.base = DefaultBaseSize
	}
	if r.opts.Now == nil {
		r.opts.Now = time.Now
	}
	if opts.FontPath != "" {
		data, err := os.ReadFile(opts.FontPath)
		if err != nil {
			return nil, &types.ConfigurationError{Setting: "render.unicode_font", Msg: err.Error()}
		}
		f, err := opentype.Parse(data)
		if err != nil {
			return nil, &types.ConfigurationError{Setting: "render.unicode_font", Msg: fmt.Sprintf("parse %s: %v", opts.FontPath, err)}
		}
		r.font = f
	} else {
		r.log.Warn("render.unicode_font is not set; non-Latin documents cannot be rasterized")
	}
	return r, nil
}

// Render writes the document for req to w. Role documents are produced
// when req.Report is set, otherwise the analysis document is produced from
// req.Analysis. Any failure is a RenderError and nothing is written.
func (r *Renderer) Render(ctx context.Context, w io.Writer, req types.RenderRequest) (res *Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &types.RenderError{Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, &types.RenderError{Err: err}
	}
	if req.Metadata.GeneratedAt.IsZero() {
		req.Metadata.GeneratedAt = r.opts.Now()
	}

	d, err := r.layout(req)
	if err != nil {
		return nil, &types.RenderError{Err: err}
	}
	footers := d.stampFooters()
	if err := d.Err(); err != nil {
		return nil, &types.RenderError{Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &types.RenderError{Err: err}
	}
	if err := d.pdf.Output(w); err != nil {
		return nil, &types.RenderError{Err: err}
	}

	res = &Result{Pages: d.pdf.PageCount(), Trace: d.trace, Footers: footers}
	r.log.Info("rendered %d pages (%d blocks, lang=%s, raster=%v)",
		res.Pages, len(res.Trace), req.Language.Code, req.Language.NeedsRaster())
	return res, nil
}

func (r *Renderer) layout(req types.RenderRequest) (*Document, error) {
	engine := newNativeEngine
	if req.Language.NeedsRaster() {
		engine = newRasterEngine(r.font)
	}
	d := newDocument(engine, r.base, r.opts.Compress)

	switch {
	case req.Report != nil:
		d.Add(Block{Kind: KindTitle, Text: fmt.Sprintf("%s House Health Report", req.Report.Role())})
		if req.Metadata.PropertyID != "" {
			d.Add(Block{Kind: KindMeta, Text: "Property ID: " + req.Metadata.PropertyID, Color: Gray})
		}
		d.Add(Block{Kind: KindMeta, Text: "Generated: " + req.Metadata.GeneratedAt.Format(time.RFC1123), Color: Gray})
		d.Space(12)
		if err := req.Report.Accept(roleProgram{d: d}); err != nil {
			return nil, err
		}
		writePredictions(d, req.Prediction)
	case req.Analysis != nil:
		writeAnalysis(d, req.Analysis, req.Metadata)
		writePredictions(d, req.Prediction)
	default:
		return nil, errors.New("nothing to render: request has neither a report nor an analysis")
	}
	return d, d.Err()
}
