// Command defectintel serves and generates building defect reports.
package main

import (
	"fmt"
	"os"
	"time"

	"defectintel/internal/config"
	"defectintel/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags
	verbose    bool
	configPath string
	apiKey     string
	timeout    time.Duration

	// Loaded in PersistentPreRunE
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "defectintel",
	Short: "Building defect intelligence: role reports, root-cause analysis and predictions",
	Long: `defectintel turns recorded inspection findings into audience-specific
PDF reports. A generative model writes the analysis; every response is
validated against a declared schema before it reaches a document.

Roles: Buyer, Builder, Inspector. Non-Latin report languages are rendered
through the rasterization fallback.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if apiKey != "" {
			cfg.LLM.APIKey = apiKey
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		if err := cfg.ValidateOffline(); err != nil {
			return err
		}

		logger, err = logging.Initialize(cfg.LoggingOptions())
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "defectintel.yaml", "Config file path")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Gemini API key (or set GEMINI_API_KEY env)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Operation timeout")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(visionCmd)
	rootCmd.AddCommand(tracesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
