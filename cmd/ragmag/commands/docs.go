package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ragmag/ragmag-go/internal/logging"
)

// NewDocsCmd constructs the `ragmag docs` command group for inspecting and
// managing indexed documents.
func NewDocsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docs",
		Short: "List, inspect, and delete indexed documents",
	}

	cmd.AddCommand(
		newDocsListCmd(),
		newDocsInfoCmd(),
		newDocsDeleteCmd(),
	)

	return cmd
}

// newDocsListCmd constructs `ragmag docs list`.
func newDocsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all indexed documents, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			pipe, closePipe, err := buildPipeline(ctx, log)
			if err != nil {
				return fmt.Errorf("docs list: %w", err)
			}
			defer closePipe()

			docs, err := pipe.manager.List(ctx)
			if err != nil {
				return fmt.Errorf("docs list: %w", err)
			}
			if len(docs) == 0 {
				fmt.Println("no documents indexed")
				return nil
			}

			for _, d := range docs {
				fmt.Printf("%s  %-40s  %3d pages  %s\n",
					d.ID, d.Filename, d.PageCount, d.CreatedAt.Format(time.RFC3339))
			}
			fmt.Printf("\n%d document(s)\n", len(docs))
			return nil
		},
	}
}

// newDocsInfoCmd constructs `ragmag docs info`.
func newDocsInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info [document-id]",
		Short: "Show a document's pages and stored screenshots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			pipe, closePipe, err := buildPipeline(ctx, log)
			if err != nil {
				return fmt.Errorf("docs info: %w", err)
			}
			defer closePipe()

			doc, pages, err := pipe.manager.Info(ctx, args[0])
			if err != nil {
				return fmt.Errorf("docs info: %w", err)
			}

			fmt.Printf("%s  (%s, %d pages, indexed %s)\n\n",
				doc.Filename, doc.ID, doc.PageCount, doc.CreatedAt.Format(time.RFC3339))
			for _, p := range pages {
				screenshot := "-"
				if p.ImagePath != "" {
					screenshot = p.ImagePath
				}
				fmt.Printf("  page %3d  %s\n            %s\n", p.PageNumber, screenshot, p.TextPreview)
			}
			return nil
		},
	}
}

// newDocsDeleteCmd constructs `ragmag docs delete`.
func newDocsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [document-id]",
		Short: "Delete a document's vectors, registry entry, and screenshots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			pipe, closePipe, err := buildPipeline(ctx, log)
			if err != nil {
				return fmt.Errorf("docs delete: %w", err)
			}
			defer closePipe()

			if err := pipe.manager.Delete(ctx, args[0]); err != nil {
				return fmt.Errorf("docs delete: %w", err)
			}
			fmt.Printf("deleted %s\n", args[0])
			return nil
		},
	}
}
