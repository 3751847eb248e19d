package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"defectintel/internal/analysis"
	"defectintel/internal/httpapi"
	"defectintel/internal/pipeline"
	"defectintel/internal/render"
	"defectintel/internal/store"
	"defectintel/internal/termview"
	"defectintel/internal/types"
	"defectintel/internal/vision"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// commandContext returns a context bounded by --timeout and cancelled on
// SIGINT/SIGTERM.
func commandContext(d timeoutMode) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	if d == withoutTimeout || timeout <= 0 {
		return ctx, stop
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	return tctx, func() {
		cancel()
		stop()
	}
}

type timeoutMode int

const (
	withTimeout timeoutMode = iota
	withoutTimeout
)

// =============================================================================
// SERVE
// =============================================================================

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the report HTTP API",
	Long: `Starts the HTTP API:

  POST /report/generate-pdf     {propertyId, role, lang, analysis?} -> PDF
  GET  /property/{id}/report    ?role=&lang= -> PDF
  POST /property/analyze        {property_id} -> analysis JSON
  POST /vision/analyze-image    {inspectionId, roomId, image | imagePath}
  GET  /reports/{file}          archived analysis documents
  GET  /health`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(withoutTimeout)
	defer cancel()

	a, err := buildApp(ctx, cfg, modelRequired)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	srv := httpapi.NewServer(a.orch, httpapi.Options{
		ReportsDir:     a.archive.Dir(),
		RequestTimeout: cfg.GetRequestTimeout(),
		MaxConnections: cfg.Server.MaxConnections,
		UploadsDir:     cfg.Server.UploadsDir,
		Health:         a.store.Ping,
	})
	logger.Info("serving", zap.String("addr", addr), zap.Int("max_connections", cfg.Server.MaxConnections))
	return srv.ListenAndServe(ctx, addr)
}

// =============================================================================
// REPORT
// =============================================================================

var (
	reportProperty string
	reportRole     string
	reportLang     string
	reportOut      string
	reportAnalysis string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a role report PDF for a property",
	Long: `Generates the role-specific House Health Report for a property.

Example:
  defectintel report --property PROP_001 --role Buyer --lang hi
  defectintel report --property PROP_001 --role Builder --analysis builder.json`,
	RunE: runReport,
}

func runReport(cmd *cobra.Command, args []string) error {
	role, err := types.ParseRole(reportRole)
	if err != nil {
		return err
	}
	req := pipeline.ReportRequest{
		PropertyID: reportProperty,
		Role:       role,
		Language:   types.LookupLanguage(reportLang),
	}
	if reportAnalysis != "" {
		data, err := os.ReadFile(reportAnalysis)
		if err != nil {
			return fmt.Errorf("failed to read analysis: %w", err)
		}
		if req.Precomputed, err = analysis.DecodeReport(role, string(data)); err != nil {
			return err
		}
	}

	ctx, cancel := commandContext(withTimeout)
	defer cancel()

	mode := modelRequired
	if req.Precomputed != nil {
		mode = modelOptional
	}
	a, err := buildApp(ctx, cfg, mode)
	if err != nil {
		return err
	}
	defer a.Close()

	out := reportOut
	if out == "" {
		out = req.Filename()
	}

	var res *pipeline.ReportResult
	path, err := render.NewArchive(filepath.Dir(out)).Save(filepath.Base(out), func(w io.Writer) error {
		var err error
		res, err = a.orch.GenerateReport(ctx, w, req)
		return err
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d pages)\n", path, res.Pages)
	if res.Prediction != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Included %d future defect predictions\n", len(res.Prediction.Predictions))
	}
	return nil
}

// =============================================================================
// ANALYZE
// =============================================================================

var (
	analyzeProperty string
	analyzeLang     string
	analyzeJSON     bool
	analyzeStyle    string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run root-cause analysis and predictions for a property",
	Long: `Analyzes the property's recent findings, predicts follow-on defects and
archives the analysis PDF under the reports directory.`,
	RunE: runAnalyze,
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(withTimeout)
	defer cancel()

	a, err := buildApp(ctx, cfg, modelRequired)
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.orch.AnalyzeProperty(ctx, analyzeProperty, types.LookupLanguage(analyzeLang))
	if err != nil {
		return err
	}

	if analyzeJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	view, err := termview.New(termview.Options{Style: analyzeStyle})
	if err != nil {
		return err
	}
	return view.RenderAnalysis(cmd.OutOrStdout(), resp)
}

// =============================================================================
// SEED
// =============================================================================

var seedFixture string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load properties, inspections, findings and mappings from a YAML fixture",
	RunE:  runSeed,
}

func runSeed(cmd *cobra.Command, args []string) error {
	fx, err := store.LoadFixture(seedFixture)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := commandContext(withTimeout)
	defer cancel()

	stats, err := st.ImportFixture(ctx, fx)
	if err != nil {
		return err
	}
	logger.Info("fixture imported", zap.String("fixture", seedFixture), zap.String("db", st.Path()))
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d properties, %d inspections, %d findings, %d mappings into %s\n",
		stats.Properties, stats.Inspections, stats.Findings, stats.Mappings, st.Path())
	return nil
}

// =============================================================================
// VISION
// =============================================================================

var (
	visionInspection string
	visionRoom       string
	visionImage      string
)

var visionCmd = &cobra.Command{
	Use:   "vision",
	Short: "Detect defects in an inspection photo and record them as findings",
	Long: `Sends the image to the model, then records each detected defect as a
finding followed by its defect tag.

--image accepts a file path, a base64 string or a data URL.`,
	RunE: runVision,
}

func runVision(cmd *cobra.Command, args []string) error {
	img, err := vision.DecodeImage(visionImage)
	if err != nil {
		return err
	}
	ref := "inline"
	if _, statErr := os.Stat(visionImage); statErr == nil {
		ref = visionImage
	}

	ctx, cancel := commandContext(withTimeout)
	defer cancel()

	a, err := buildApp(ctx, cfg, modelRequired)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.orch.IngestImage(ctx, vision.Request{
		InspectionID: visionInspection,
		RoomID:       visionRoom,
		Image:        img,
		ImageRef:     ref,
	})
	if res != nil {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(res); encErr != nil && err == nil {
			err = encErr
		}
	}
	return err
}

// =============================================================================
// TRACES
// =============================================================================

var (
	tracesStage string
	tracesLimit int
)

var tracesCmd = &cobra.Command{
	Use:   "traces",
	Short: "List recent model call traces",
	RunE:  runTraces,
}

func runTraces(cmd *cobra.Command, args []string) error {
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := commandContext(withTimeout)
	defer cancel()

	traces, err := st.RecentTraces(ctx, tracesStage, tracesLimit)
	if err != nil {
		return err
	}
	if len(traces) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No traces recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTAGE\tOK\tDURATION\tPROMPT\tERROR")
	for _, t := range traces {
		fmt.Fprintf(tw, "%s\t%s\t%v\t%dms\t%d chars\t%s\n", t.ID, t.Stage, t.Success, t.DurationMs, len(t.Prompt), t.Error)
	}
	return tw.Flush()
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config)")

	reportCmd.Flags().StringVar(&reportProperty, "property", "", "Property ID (required)")
	reportCmd.Flags().StringVar(&reportRole, "role", string(types.RoleBuyer), "Report audience: Buyer, Builder or Inspector")
	reportCmd.Flags().StringVar(&reportLang, "lang", "en", "Report language code")
	reportCmd.Flags().StringVarP(&reportOut, "out", "o", "", "Output path (default {role}_Report_{property}.pdf)")
	reportCmd.Flags().StringVar(&reportAnalysis, "analysis", "", "Precomputed role report JSON; skips the model")
	reportCmd.MarkFlagRequired("property")

	analyzeCmd.Flags().StringVar(&analyzeProperty, "property", "", "Property ID (required)")
	analyzeCmd.Flags().StringVar(&analyzeLang, "lang", "en", "Analysis language code")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print the response as JSON")
	analyzeCmd.Flags().StringVar(&analyzeStyle, "style", "", "Terminal style: dark, light or notty (default auto)")
	analyzeCmd.MarkFlagRequired("property")

	seedCmd.Flags().StringVar(&seedFixture, "fixture", "", "YAML fixture path (required)")
	seedCmd.MarkFlagRequired("fixture")

	visionCmd.Flags().StringVar(&visionInspection, "inspection", "", "Inspection ID (required)")
	visionCmd.Flags().StringVar(&visionRoom, "room", "", "Room ID")
	visionCmd.Flags().StringVar(&visionImage, "image", "", "Image path, base64 or data URL (required)")
	visionCmd.MarkFlagRequired("inspection")
	visionCmd.MarkFlagRequired("image")

	tracesCmd.Flags().StringVar(&tracesStage, "stage", "", "Filter by stage: report, root_cause_analysis, prediction, vision")
	tracesCmd.Flags().IntVar(&tracesLimit, "limit", 20, "Maximum traces to list")
}
