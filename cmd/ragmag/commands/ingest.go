package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ragmag/ragmag-go/internal/config"
	"github.com/ragmag/ragmag-go/internal/embedder"
	"github.com/ragmag/ragmag-go/internal/ingestion"
	"github.com/ragmag/ragmag-go/internal/logging"
	"github.com/ragmag/ragmag-go/internal/registry"
)

// NewIngestCmd constructs the `ragmag ingest` command, which parses PDF
// manuals and indexes them into the vector store and document registry.
func NewIngestCmd() *cobra.Command {
	var dir string
	var workers int
	var skipExisting bool
	var docID string

	cmd := &cobra.Command{
		Use:   "ingest [file.pdf ...]",
		Short: "Parse and index PDF manuals",
		Long: `Parse PDF manuals into per-page markdown and screenshots, embed the page
text, and index everything for retrieval.

Pass individual PDF files as arguments, or --dir to ingest every *.pdf in a
directory with a bounded worker pool. Directory ingestion skips files whose
names are already indexed unless --skip-existing=false.

Required environment variables:
  LLAMAPARSE_API_KEY   Parsing service API key
  OPENAI_API_KEY       Embedding API key (or EMBEDDING_* overrides)

Examples:
  ragmag ingest manual.pdf
  ragmag ingest --dir ./data --workers 4
  ragmag ingest --doc-id 42f1c9ab manual-v2.pdf`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if len(args) == 0 && dir == "" {
				return fmt.Errorf("ingest: pass PDF files or --dir")
			}
			if docID != "" && (len(args) != 1 || dir != "") {
				return fmt.Errorf("ingest: --doc-id applies to exactly one file")
			}

			if err := embedder.ValidateForIngest(log); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			pipe, closePipe, err := buildPipeline(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer closePipe()

			for _, path := range args {
				var doc registry.Document
				if docID != "" {
					// Replace the existing document; fall back to a fresh
					// ingest when the ID is not yet known.
					doc, err = pipe.manager.Update(ctx, docID, path)
					if errors.Is(err, ingestion.ErrNotFound) {
						doc, err = pipe.manager.Add(ctx, path, docID)
					}
				} else {
					doc, err = pipe.manager.Add(ctx, path, "")
				}
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				fmt.Printf("indexed %s  id=%s  pages=%d\n", doc.Filename, doc.ID, doc.PageCount)
			}

			if dir == "" {
				return nil
			}

			results, err := pipe.manager.BatchIngest(ctx, dir, workers, skipExisting)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			if len(results) == 0 {
				fmt.Printf("no *.pdf files found in %s\n", dir)
				return nil
			}

			var indexed, skipped, failed int
			for _, r := range results {
				switch {
				case r.Err != nil:
					failed++
					fmt.Printf("failed  %s: %v\n", r.Path, r.Err)
				case r.Skipped:
					skipped++
					fmt.Printf("skipped %s (already indexed)\n", r.Path)
				default:
					indexed++
					fmt.Printf("indexed %s  id=%s  pages=%d\n", r.Path, r.DocumentID, r.Pages)
				}
			}
			fmt.Printf("\n%d indexed, %d skipped, %d failed\n", indexed, skipped, failed)

			if failed > 0 {
				return fmt.Errorf("ingest: %d of %d files failed", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", fmt.Sprintf("Directory of PDFs to ingest (e.g. %s)", config.DataDir()))
	cmd.Flags().IntVarP(&workers, "workers", "w", 2, "Concurrent ingests for --dir")
	cmd.Flags().BoolVar(&skipExisting, "skip-existing", true, "Skip files whose names are already indexed (--dir only)")
	cmd.Flags().StringVar(&docID, "doc-id", "", "Re-ingest under an existing document ID (single file only)")

	return cmd
}
