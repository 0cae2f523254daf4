package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ragmag/ragmag-go/internal/config"
	"github.com/ragmag/ragmag-go/internal/engine"
	"github.com/ragmag/ragmag-go/internal/logging"
	"github.com/ragmag/ragmag-go/internal/provider"
	"github.com/ragmag/ragmag-go/internal/rag"
)

// NewAskCmd constructs the `ragmag ask` command, which answers a single
// question against the indexed manuals and prints the answer with sources.
func NewAskCmd() *cobra.Command {
	var topK int
	var noImages bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question against the indexed manuals",
		Long: `Ask a natural language question about the ingested manuals.

The most relevant pages are retrieved from the vector store and passed to the
model together with their page screenshots, so answers can draw on diagrams
and tables as well as text.

Examples:
  ragmag ask "how do I prime the pump before first use?"
  ragmag ask --top-k 5 "what oil grade does the engine take?"
  ragmag ask --no-images "list the torque settings for the head bolts"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("ask: failed to initialise model provider: %w", err)
			}

			pipe, closePipe, err := buildPipeline(ctx, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer closePipe()

			retriever, err := rag.NewRetriever(pipe.embedder, pipe.store, config.TopK())
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			eng, err := engine.New(&engine.Config{
				ChatModel: chatModel,
				Retriever: retriever,
				Images:    pipe.images,
				TopK:      config.TopK(),
			})
			if err != nil {
				return fmt.Errorf("ask: failed to initialise engine: %w", err)
			}

			ans, err := eng.Ask(ctx, engine.Query{
				Text:          args[0],
				TopK:          topK,
				IncludeImages: !noImages,
			})
			if errors.Is(err, engine.ErrNoResults) {
				return fmt.Errorf("ask: no relevant pages found — run 'ragmag ingest' first")
			}
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			fmt.Println(ans.Text)
			fmt.Println("\nSources:")
			for _, src := range ans.Sources {
				fmt.Printf("  %s — page %d (score %.2f)\n", src.Filename, src.PageNumber, src.Score)
			}
			fmt.Printf("\nanswered in %s\n", ans.Elapsed.Round(10*time.Millisecond))

			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of pages to retrieve (default: SIMILARITY_TOP_K)")
	cmd.Flags().BoolVar(&noImages, "no-images", false, "Exclude page screenshots from the prompt (text-only models)")

	return cmd
}
