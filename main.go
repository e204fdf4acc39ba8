package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/krau/phototag/config"
	"github.com/krau/phototag/metadata"
	"github.com/krau/phototag/onnx"
	"github.com/krau/phototag/service"
)

var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	root := newRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(service.ExitCode(err))
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "phototag",
		Short:         "CLI photo tagger",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newTagCommand())
	root.AddCommand(newInfoCommand())
	return root
}

func newTagCommand() *cobra.Command {
	var (
		cfgPath        string
		threshold      float32
		topN           int
		batchSize      int
		showConfidence bool
		format         string
		output         string
		recursive      bool
		writeMeta      bool
		overridesPath  string
		device         string
		imageSize      int
		quiet          bool
	)

	cmd := &cobra.Command{
		Use:   "tag [flags] INPUT...",
		Short: "Tag one or more images",
		Long:  "Tag one or more images. INPUT can be image files or directories.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch format {
			case "text", "json", "csv":
			default:
				return fmt.Errorf("%w: unknown output format %q, valid options: text, json, csv", config.ErrValidation, format)
			}

			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("threshold") {
				cfg.Threshold = threshold
			}
			if flags.Changed("top-n") {
				cfg.TopN = topN
			}
			if flags.Changed("batch-size") {
				cfg.BatchSize = batchSize
			}
			if flags.Changed("device") {
				cfg.Device = device
			}
			if flags.Changed("image-size") {
				cfg.ImageSize = imageSize
			}
			if flags.Changed("overrides") {
				cfg.OverridesPath = overridesPath
			}

			svc, err := service.New(cfg)
			if err != nil {
				return err
			}

			if !quiet {
				slog.Info("loading model", slog.String("device", deviceLabel(cfg.Device)))
			}
			if err := svc.LoadModel(cmd.Context()); err != nil {
				return err
			}
			if !quiet {
				slog.Info("model loaded", slog.Duration("took", svc.LoadTime()))
			}

			var onProgress service.ProgressFunc
			if !quiet {
				onProgress = func(path string, completed, total int) {
					fmt.Fprintf(os.Stderr, "[%d/%d] %s\n", completed, total, path)
				}
			}

			batch, err := svc.TagPaths(cmd.Context(), args, recursive, onProgress)
			if err != nil {
				return err
			}

			if writeMeta {
				for _, r := range batch.Succeeded() {
					if err := metadata.Write(r.File, r.Tags); err != nil {
						slog.Warn("metadata write failed", slog.String("file", r.File), slog.String("error", err.Error()))
					}
				}
			}

			text, err := renderResults(batch, format, showConfidence)
			if err != nil {
				return err
			}
			if output != "" {
				if err := os.WriteFile(output, []byte(text), 0o644); err != nil {
					return fmt.Errorf("cannot write %s: %w", output, err)
				}
				if !quiet {
					slog.Info("results written", slog.String("path", output))
				}
				return nil
			}
			fmt.Print(text)
			return nil
		},
	}

	cmd.Flags().StringVar(&cfgPath, "config", "", "configuration file (TOML)")
	cmd.Flags().Float32VarP(&threshold, "threshold", "t", config.DefaultThreshold, "detection threshold (0.0-1.0)")
	cmd.Flags().IntVarP(&topN, "top-n", "n", 0, "maximum number of tags to return")
	cmd.Flags().IntVar(&batchSize, "batch-size", config.DefaultBatchSize, "images per inference batch")
	cmd.Flags().BoolVarP(&showConfidence, "confidence", "c", false, "show confidence scores")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, json, csv")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write results to file instead of stdout")
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "recursively scan directories")
	cmd.Flags().BoolVarP(&writeMeta, "write-metadata", "w", false, "write tags to image EXIF/XMP/IPTC metadata")
	cmd.Flags().StringVar(&overridesPath, "overrides", "", "tag override/translation JSON file")
	cmd.Flags().StringVar(&device, "device", "", "force device: cpu, cuda, coreml (default: auto)")
	cmd.Flags().IntVar(&imageSize, "image-size", config.DefaultImageSize, "input image size for the model")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress progress output")
	return cmd
}

func newInfoCommand() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show model and environment info",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			fmt.Printf("phototag %s\n", version)
			fmt.Printf("  ONNX Runtime library: %s\n", orUnset(onnx.LibPath(cfg.Libonnx)))
			fmt.Printf("  Cache directory: %s\n", cfg.CacheDir)
			fmt.Printf("  Model: %s/%s\n", cfg.ModelRepo, cfg.ModelFile)

			for _, name := range []string{cfg.ModelFile, cfg.VocabFile} {
				if path, ok := cachedArtifact(cfg.CacheDir, name); ok {
					fmt.Printf("  Cached: %s\n", path)
				} else {
					fmt.Printf("  Not cached: %s\n", name)
				}
			}
			fmt.Printf("  exiftool available: %v\n", metadata.Available())
			return nil
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "configuration file (TOML)")
	return cmd
}

func cachedArtifact(cacheDir, name string) (string, bool) {
	path := filepath.Join(cacheDir, name)
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

func deviceLabel(device string) string {
	if device == "" {
		return "auto"
	}
	return device
}

func orUnset(s string) string {
	if s == "" {
		return "(not found)"
	}
	return s
}

// renderResults serializes a batch in the chosen output format.
func renderResults(batch *service.Batch, format string, showConfidence bool) (string, error) {
	switch format {
	case "json":
		if !showConfidence {
			stripped := *batch
			stripped.Results = make([]service.TagResult, len(batch.Results))
			copy(stripped.Results, batch.Results)
			for i := range stripped.Results {
				stripped.Results[i].Confidences = nil
			}
			batch = &stripped
		}
		data, err := json.MarshalIndent(batch, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data) + "\n", nil

	case "csv":
		var sb strings.Builder
		w := csv.NewWriter(&sb)
		header := []string{"file", "tags"}
		if showConfidence {
			header = append(header, "confidences")
		}
		w.Write(header)
		for _, r := range batch.Results {
			row := []string{r.File, strings.Join(r.Tags, " | ")}
			if showConfidence {
				confs := make([]string, len(r.Confidences))
				for i, c := range r.Confidences {
					confs[i] = fmt.Sprintf("%.4f", c)
				}
				row = append(row, strings.Join(confs, " | "))
			}
			w.Write(row)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return "", err
		}
		return sb.String(), nil

	case "text":
		var sb strings.Builder
		if len(batch.Results) == 1 {
			r := batch.Results[0]
			if !r.Succeeded() {
				sb.WriteString(r.Error)
			} else {
				sb.WriteString(formatTagsText(r.Tags, r.Confidences, showConfidence))
			}
			sb.WriteString("\n")
			return sb.String(), nil
		}
		for _, r := range batch.Results {
			sb.WriteString(r.File)
			sb.WriteString("\t")
			if !r.Succeeded() {
				sb.WriteString(r.Error)
			} else {
				sb.WriteString(formatTagsText(r.Tags, r.Confidences, showConfidence))
			}
			sb.WriteString("\n")
		}
		return sb.String(), nil

	default:
		return "", fmt.Errorf("%w: unknown output format %q, valid options: text, json, csv", config.ErrValidation, format)
	}
}

// formatTagsText renders a pipe-separated tag string, optionally with
// confidence percentages.
func formatTagsText(tags []string, confidences []float64, showConfidence bool) string {
	if !showConfidence || len(confidences) != len(tags) {
		return strings.Join(tags, " | ")
	}
	parts := make([]string, len(tags))
	for i, tag := range tags {
		parts[i] = fmt.Sprintf("%s (%.2f%%)", tag, confidences[i]*100)
	}
	return strings.Join(parts, " | ")
}
