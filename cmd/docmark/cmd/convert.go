package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/docmark/internal/pipeline"
	"github.com/MeKo-Tech/docmark/internal/recognize"
	"github.com/MeKo-Tech/docmark/internal/render"
)

// convertCmd represents the convert command.
var convertCmd = &cobra.Command{
	Use:   "convert [pdf-file]",
	Short: "Convert one PDF to markdown",
	Long: `Convert a local PDF document to markdown in one shot.

The document is rasterized, recognized by the remote model server and
assembled into markdown artifacts in the output directory: the cleaned
markdown, a raw variant with detection tags, a layout overlay PDF and
the extracted sub-images.

Examples:
  docmark convert document.pdf
  docmark convert document.pdf --output ./out
  docmark convert document.pdf --prompt "Free OCR." --no-annotate`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

func runConvert(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	inputPath := args[0]

	outDir, _ := cmd.Flags().GetString("output")
	if outDir == "" {
		outDir = "."
	}
	prompt, _ := cmd.Flags().GetString("prompt")
	dpi := cfg.Pipeline.DPI
	if cmd.Flags().Changed("dpi") {
		dpi, _ = cmd.Flags().GetInt("dpi")
	}
	endpoint := cfg.Recognizer.Endpoint
	if cmd.Flags().Changed("recognizer-endpoint") {
		endpoint, _ = cmd.Flags().GetString("recognizer-endpoint")
	}
	noAnnotate, _ := cmd.Flags().GetBool("no-annotate")
	keepUnterminated, _ := cmd.Flags().GetBool("keep-unterminated")

	if err := render.ValidateInput(inputPath); err != nil {
		return err
	}
	renderer := render.NewRenderer(render.Config{DPI: dpi})
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	recognizer, err := recognize.NewClient(recognize.ClientConfig{
		Endpoint: endpoint,
		Timeout:  time.Duration(cfg.Recognizer.TimeoutSec) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to create recognition client: %w", err)
	}
	defer func() { _ = recognizer.Close() }()

	coordinator := pipeline.NewCoordinator(pipeline.Config{
		PrepWorkers:      cfg.Pipeline.PrepWorkers,
		SkipUnterminated: cfg.Pipeline.SkipUnterminated,
		Annotate:         cfg.Pipeline.Annotate,
	}, renderer, recognizer)

	opts := pipeline.Options{Instruction: prompt}
	if noAnnotate {
		annotate := false
		opts.Annotate = &annotate
	}
	if keepUnterminated {
		skip := false
		opts.SkipUnterminated = &skip
	}

	res, err := coordinator.Process(cmd.Context(), inputPath, outDir, opts)
	if err != nil {
		return fmt.Errorf("conversion failed: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Converted %d page(s)\n", res.Pages)
	_, _ = fmt.Fprintf(out, "  markdown:   %s\n", res.Artifacts.MarkdownPath)
	_, _ = fmt.Fprintf(out, "  detections: %s\n", res.Artifacts.DetectionsPath)
	if res.Artifacts.LayoutPDFPath != "" {
		_, _ = fmt.Fprintf(out, "  layouts:    %s\n", res.Artifacts.LayoutPDFPath)
	}
	if res.Artifacts.ImagesDir != "" {
		_, _ = fmt.Fprintf(out, "  images:     %s%c\n", res.Artifacts.ImagesDir, filepath.Separator)
	}
	if res.SkippedRefs > 0 {
		_, _ = fmt.Fprintf(out, "  skipped %d malformed reference(s)\n", res.SkippedRefs)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(convertCmd)
	convertCmd.Flags().StringP("output", "o", ".", "output directory for artifacts")
	convertCmd.Flags().String("prompt", "", "override the conversion instruction sent to the model")
	convertCmd.Flags().Int("dpi", 144, "rasterization resolution")
	convertCmd.Flags().String("recognizer-endpoint", "", "base URL of the recognition model server")
	convertCmd.Flags().Bool("no-annotate", false, "skip layout overlays and sub-image extraction")
	convertCmd.Flags().Bool("keep-unterminated", false, "keep pages whose model output was truncated")
}
