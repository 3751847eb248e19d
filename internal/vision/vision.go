// Package vision turns inspection photos into recorded findings: the model
// classifies visible defects and each one is stored as a finding plus its
// defect tag.
package vision

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"defectintel/internal/analysis"
	"defectintel/internal/llm"
	"defectintel/internal/logging"
	"defectintel/internal/types"
)

// Detector classifies the defects visible in one image.
type Detector interface {
	DetectDefects(ctx context.Context, image llm.Image) (analysis.Outcome[*types.VisionResult], error)
}

// Ingestor runs detection and records the results.
type Ingestor struct {
	detector Detector
	writer   types.FindingWriter
	log      *logging.Logger
}

// NewIngestor creates an ingestor.
func NewIngestor(detector Detector, writer types.FindingWriter) *Ingestor {
	return &Ingestor{detector: detector, writer: writer, log: logging.Get(logging.CategoryVision)}
}

// Request identifies where an image was taken.
type Request struct {
	InspectionID string
	RoomID       string
	Image        llm.Image
	// ImageRef is stored with each finding, typically the upload path.
	ImageRef string
}

// Pair links a recorded finding to its tag.
type Pair struct {
	FindingID string               `json:"finding_id"`
	TagID     string               `json:"tag_id"`
	Defect    types.DetectedDefect `json:"defect"`
}

// Result is the outcome of one ingestion, pairs in detection order.
type Result struct {
	DefectsDetected int    `json:"defects_detected"`
	Pairs           []Pair `json:"pairs"`
}

// AnalyzeImage returns the defects the model sees in image. A response that
// fails validation is returned as a ValidationError.
func (in *Ingestor) AnalyzeImage(ctx context.Context, image llm.Image) ([]types.DetectedDefect, error) {
	out, err := in.detector.DetectDefects(ctx, image)
	if err != nil {
		return nil, err
	}
	if err := out.Err(analysis.StageVision); err != nil {
		return nil, err
	}
	defects := out.Value.Defects
	if defects == nil {
		defects = []types.DetectedDefect{}
	}
	return defects, nil
}

// Ingest detects defects and records each as a finding followed by its tag.
// Inserts run strictly in order so pair i always belongs to defect i. On a
// write failure the pairs recorded so far are returned with the error.
func (in *Ingestor) Ingest(ctx context.Context, req Request) (*Result, error) {
	if req.InspectionID == "" {
		return nil, fmt.Errorf("%w: inspection id is required", types.ErrInvalidRequest)
	}
	defects, err := in.AnalyzeImage(ctx, req.Image)
	if err != nil {
		return nil, err
	}
	in.log.Info("detected %d defects for inspection %s room %s", len(defects), req.InspectionID, req.RoomID)

	res := &Result{DefectsDetected: len(defects), Pairs: make([]Pair, 0, len(defects))}
	for _, d := range defects {
		findingID, err := in.writer.InsertFinding(ctx, types.NewFinding{
			InspectionID: req.InspectionID,
			RoomID:       req.RoomID,
			DefectType:   d.DefectType,
			Severity:     d.Severity,
			Description:  d.Description,
			ImageRef:     req.ImageRef,
		})
		if err != nil {
			return res, fmt.Errorf("record finding %d: %w", len(res.Pairs)+1, err)
		}
		tagID, err := in.writer.InsertDefectTag(ctx, types.DefectTag{
			FindingID:  findingID,
			DefectType: d.DefectType,
			Severity:   d.Severity,
			Confidence: d.Confidence,
		})
		if err != nil {
			return res, fmt.Errorf("record tag for finding %s: %w", findingID, err)
		}
		res.Pairs = append(res.Pairs, Pair{FindingID: findingID, TagID: tagID, Defect: d})
	}
	return res, nil
}

// maxInlineBytes bounds images sent inline to the model.
const maxInlineBytes = 20 << 20

// DecodeImage reads an image given either as base64 (optionally a data URL)
// or as a file path. The MIME type is sniffed from the content.
func DecodeImage(input string) (llm.Image, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return llm.Image{}, fmt.Errorf("image is required")
	}
	if fi, err := os.Stat(input); err == nil && fi.Mode().IsRegular() {
		return readImageFile(input, fi)
	}
	return DecodeInline(input)
}

// DecodeInline decodes a base64 image or data URL. Unlike DecodeImage it
// never touches the filesystem.
func DecodeInline(input string) (llm.Image, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return llm.Image{}, fmt.Errorf("image is required")
	}
	if strings.HasPrefix(input, "data:") {
		comma := strings.IndexByte(input, ',')
		if comma < 0 {
			return llm.Image{}, fmt.Errorf("malformed data URL")
		}
		input = input[comma+1:]
	}
	data, err := base64.StdEncoding.DecodeString(input)
	if err != nil {
		return llm.Image{}, fmt.Errorf("image is not valid base64: %w", err)
	}
	return imageFromBytes(data)
}

// ReadUpload reads the image at name, which must resolve (after symlinks)
// to a regular file inside root. Relative names are taken from root.
func ReadUpload(root, name string) (llm.Image, error) {
	if strings.TrimSpace(root) == "" {
		return llm.Image{}, fmt.Errorf("image paths are disabled: no uploads directory is configured")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return llm.Image{}, fmt.Errorf("image path is required")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return llm.Image{}, fmt.Errorf("resolve uploads directory: %w", err)
	}
	realRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return llm.Image{}, fmt.Errorf("uploads directory unavailable: %w", err)
	}

	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(absRoot, path)
	}
	if !within(absRoot, filepath.Clean(path)) {
		return llm.Image{}, fmt.Errorf("image path %q is outside the uploads directory", name)
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return llm.Image{}, fmt.Errorf("image path %q not found", name)
	}
	if !within(realRoot, resolved) {
		return llm.Image{}, fmt.Errorf("image path %q is outside the uploads directory", name)
	}
	fi, err := os.Stat(resolved)
	if err != nil || !fi.Mode().IsRegular() {
		return llm.Image{}, fmt.Errorf("image path %q is not a regular file", name)
	}
	return readImageFile(resolved, fi)
}

// within reports whether path is root or lies beneath it.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func readImageFile(path string, fi os.FileInfo) (llm.Image, error) {
	if fi.Size() > maxInlineBytes {
		return llm.Image{}, fmt.Errorf("image too large: %d bytes", fi.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return llm.Image{}, fmt.Errorf("read image: %w", err)
	}
	return imageFromBytes(data)
}

func imageFromBytes(data []byte) (llm.Image, error) {
	if len(data) == 0 {
		return llm.Image{}, fmt.Errorf("image is empty")
	}
	if len(data) > maxInlineBytes {
		return llm.Image{}, fmt.Errorf("image too large: %d bytes", len(data))
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		// Unrecognized payloads are sent as JPEG.
		mime = "image/jpeg"
	}
	return llm.Image{Data: data, MIMEType: mime}, nil
}
