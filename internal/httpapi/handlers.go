package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"defectintel/internal/analysis"
	"defectintel/internal/llm"
	"defectintel/internal/pipeline"
	"defectintel/internal/types"
	"defectintel/internal/vision"
)

// maxBodyBytes bounds JSON request bodies, which may carry an inline image.
const maxBodyBytes = 32 << 20

type generatePDFRequest struct {
	PropertyID string          `json:"propertyId"`
	Role       string          `json:"role"`
	Lang       string          `json:"lang"`
	Analysis   json.RawMessage `json:"analysis,omitempty"`
}

func (s *Server) handleGeneratePDF(w http.ResponseWriter, r *http.Request) {
	var body generatePDFRequest
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	if strings.TrimSpace(body.PropertyID) == "" || strings.TrimSpace(body.Role) == "" {
		s.writeError(w, fmt.Errorf("%w: propertyId and role are required", types.ErrInvalidRequest))
		return
	}
	role, err := types.ParseRole(body.Role)
	if err != nil {
		s.writeError(w, err)
		return
	}

	req := pipeline.ReportRequest{
		PropertyID: body.PropertyID,
		Role:       role,
		Language:   types.LookupLanguage(body.Lang),
	}
	if len(body.Analysis) > 0 && string(body.Analysis) != "null" {
		report, err := analysis.DecodeReport(role, string(body.Analysis))
		if err != nil {
			s.writeError(w, err)
			return
		}
		req.Precomputed = report
	}
	s.streamReport(w, r, req)
}

func (s *Server) handlePropertyReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	roleName := q.Get("role")
	if roleName == "" {
		roleName = string(types.RoleBuyer)
	}
	role, err := types.ParseRole(roleName)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.streamReport(w, r, pipeline.ReportRequest{
		PropertyID: r.PathValue("id"),
		Role:       role,
		Language:   types.LookupLanguage(q.Get("lang")),
	})
}

// streamReport runs the pipeline with the document headers staged. The
// headers only go out with the first document byte, so a failure before
// rendering still produces a JSON error. A failure after bytes were sent
// aborts the connection.
func (s *Server) streamReport(w http.ResponseWriter, r *http.Request, req pipeline.ReportRequest) {
	h := w.Header()
	h.Set("Content-Type", "application/pdf")
	h.Set("Content-Disposition", "attachment; filename="+req.Filename())

	dw := &documentWriter{w: w}
	if _, err := s.orch.GenerateReport(r.Context(), dw, req); err != nil {
		if dw.written {
			s.log.Error("report stream for %s aborted: %v", req.PropertyID, err)
			panic(http.ErrAbortHandler)
		}
		s.writeError(w, err)
	}
}

// documentWriter records whether any document bytes reached the client.
type documentWriter struct {
	w       http.ResponseWriter
	written bool
}

func (d *documentWriter) Write(p []byte) (int, error) {
	if len(p) > 0 {
		d.written = true
	}
	return d.w.Write(p)
}

type analyzeRequest struct {
	PropertyID string `json:"property_id"`
	Lang       string `json:"lang"`
}

func (s *Server) handleAnalyzeProperty(w http.ResponseWriter, r *http.Request) {
	var body analyzeRequest
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	resp, err := s.orch.AnalyzeProperty(r.Context(), body.PropertyID, types.LookupLanguage(body.Lang))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type analyzeImageRequest struct {
	InspectionID string `json:"inspectionId"`
	RoomID       string `json:"roomId"`
	Image        string `json:"image"`
	ImagePath    string `json:"imagePath"`
}

type analyzeImageResponse struct {
	Status          string        `json:"status"`
	DefectsDetected int           `json:"defects_detected"`
	Findings        []vision.Pair `json:"findings"`
}

func (s *Server) handleAnalyzeImage(w http.ResponseWriter, r *http.Request) {
	var body analyzeImageRequest
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	if body.InspectionID == "" || (body.Image == "" && body.ImagePath == "") {
		s.writeError(w, fmt.Errorf("%w: inspectionId and one of image or imagePath are required", types.ErrInvalidRequest))
		return
	}

	var (
		img llm.Image
		ref = "inline"
		err error
	)
	if body.Image != "" {
		img, err = vision.DecodeInline(body.Image)
	} else {
		img, err = vision.ReadUpload(s.opts.UploadsDir, body.ImagePath)
		ref = body.ImagePath
	}
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", types.ErrInvalidRequest, err))
		return
	}

	res, err := s.orch.IngestImage(r.Context(), vision.Request{
		InspectionID: body.InspectionID,
		RoomID:       body.RoomID,
		Image:        img,
		ImageRef:     ref,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analyzeImageResponse{
		Status:          "ok",
		DefectsDetected: res.DefectsDetected,
		Findings:        res.Pairs,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.opts.Health(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "unhealthy", Details: err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeBody reads a JSON request body. Malformed bodies wrap
// types.ErrInvalidRequest.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed JSON body: %v", types.ErrInvalidRequest, err)
	}
	return nil
}
