package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"
	"unicode"
	"unicode/utf8"

	"defectintel/internal/types"

	"github.com/go-pdf/fpdf"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"
)

// rasterEngine pre-renders each block offscreen and embeds it as a PNG.
// Faces are not safe for concurrent use, so each document gets its own.
type rasterEngine struct {
	font  *opentype.Font // nil selects the bitmap fallback face
	scale float64        // pixels per point
	faces map[float64]font.Face
	buf   sfnt.Buffer
	seq   int
}

func newRasterEngine(f *opentype.Font) func(*fpdf.Fpdf) textEngine {
	return func(*fpdf.Fpdf) textEngine {
		e := &rasterEngine{font: f, scale: 2, faces: make(map[float64]font.Face)}
		if f == nil {
			e.scale = 1
		}
		return e
	}
}

func (e *rasterEngine) kind() TraceKind { return TraceImage }

// face returns the face for a point size, in pixels at the engine scale.
func (e *rasterEngine) face(size float64) font.Face {
	if e.font == nil {
		return basicfont.Face7x13
	}
	if f, ok := e.faces[size]; ok {
		return f
	}
	f, err := opentype.NewFace(e.font, &opentype.FaceOptions{
		Size:    size * e.scale,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return basicfont.Face7x13
	}
	e.faces[size] = f
	return f
}

// covers reports whether the engine can draw a glyph for r.
func (e *rasterEngine) covers(r rune) bool {
	if unicode.IsSpace(r) || unicode.In(r, unicode.Cc, unicode.Cf) {
		return true
	}
	if e.font == nil {
		for _, rg := range basicfont.Face7x13.Ranges {
			if r >= rg.Low && r < rg.High {
				return true
			}
		}
		return false
	}
	idx, err := e.font.GlyphIndex(&e.buf, r)
	return err == nil && idx != 0
}

// checkCoverage fails on the first rune the engine would draw as a
// replacement box.
func (e *rasterEngine) checkCoverage(lines []string) error {
	for _, line := range lines {
		for _, r := range line {
			if e.covers(r) {
				continue
			}
			msg := fmt.Sprintf("font has no glyph for %q (U+%04X)", r, r)
			if e.font == nil {
				msg = fmt.Sprintf("no raster font configured and the built-in face has no glyph for %q (U+%04X)", r, r)
			}
			return &types.ConfigurationError{Setting: "render.unicode_font", Msg: msg}
		}
	}
	return nil
}

func (e *rasterEngine) linePixels(face font.Face) int {
	m := face.Metrics()
	h := m.Height.Ceil()
	if asc := (m.Ascent + m.Descent).Ceil(); asc > h {
		h = asc
	}
	if h <= 0 {
		h = 13
	}
	return h + h/4
}

func (e *rasterEngine) wrap(d *Document, b Block, width float64) []string {
	st := styleFor(b.Kind, d.base)
	return wrapText(e.face(st.size), b.Text, int(width*e.scale))
}

func (e *rasterEngine) lineHeight(d *Document, b Block) float64 {
	st := styleFor(b.Kind, d.base)
	return float64(e.linePixels(e.face(st.size))) / e.scale
}

func (e *rasterEngine) draw(d *Document, b Block, lines []string, x, y, width float64) error {
	if err := e.checkCoverage(lines); err != nil {
		return err
	}
	st := styleFor(b.Kind, d.base)
	face := e.face(st.size)
	linePx := e.linePixels(face)
	img := e.rasterize(face, lines, int(width*e.scale), b.Color, st.bold)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("encode raster block: %w", err)
	}

	e.seq++
	name := fmt.Sprintf("raster-block-%d", e.seq)
	opts := fpdf.ImageOptions{ImageType: "PNG"}
	d.pdf.RegisterImageOptionsReader(name, opts, &buf)
	h := float64(linePx*len(lines)) / e.scale
	d.pdf.ImageOptions(name, x, y, width, h, false, opts, 0, "")
	return d.pdf.Error()
}

// rasterize draws lines onto a white canvas widthPx wide.
func (e *rasterEngine) rasterize(face font.Face, lines []string, widthPx int, c RGB, bold bool) *image.RGBA {
	linePx := e.linePixels(face)
	img := image.NewRGBA(image.Rect(0, 0, widthPx, linePx*len(lines)))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	drawer := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{R: uint8(c.R), G: uint8(c.G), B: uint8(c.B), A: 255}),
		Face: face,
	}
	ascent := face.Metrics().Ascent.Ceil()
	for i, line := range lines {
		drawer.Dot = fixed.P(0, i*linePx+ascent)
		drawer.DrawString(line)
		if bold {
			// Faux bold: overstrike one pixel to the right.
			drawer.Dot = fixed.P(1, i*linePx+ascent)
			drawer.DrawString(line)
		}
	}
	return img
}

// wrapText greedily packs words into lines no wider than maxPx. Paragraph
// breaks are kept, and words wider than a line are split by rune.
func wrapText(face font.Face, text string, maxPx int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if maxPx < 1 {
		maxPx = 1
	}
	width := func(s string) int { return font.MeasureString(face, s).Ceil() }

	var lines []string
	for _, para := range strings.Split(text, "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}
		cur := ""
		for _, w := range words {
			candidate := w
			if cur != "" {
				candidate = cur + " " + w
			}
			if width(candidate) <= maxPx {
				cur = candidate
				continue
			}
			if cur != "" {
				lines = append(lines, cur)
			}
			for width(w) > maxPx {
				n := fitPrefix(w, maxPx, width)
				lines = append(lines, w[:n])
				w = w[n:]
			}
			cur = w
		}
		if cur != "" {
			lines = append(lines, cur)
		}
	}
	return lines
}

// fitPrefix returns the byte length of the longest rune prefix of s that
// fits in maxPx, and at least one rune.
func fitPrefix(s string, maxPx int, width func(string) int) int {
	n := 0
	for n < len(s) {
		_, size := utf8.DecodeRuneInString(s[n:])
		if width(s[:n+size]) > maxPx {
			break
		}
		n += size
	}
	if n == 0 {
		_, size := utf8.DecodeRuneInString(s)
		n = size
	}
	return n
}
