package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/ragmag/ragmag-go/internal/config"
	"github.com/ragmag/ragmag-go/internal/embedder"
	"github.com/ragmag/ragmag-go/internal/engine"
	"github.com/ragmag/ragmag-go/internal/logging"
	"github.com/ragmag/ragmag-go/internal/provider"
	"github.com/ragmag/ragmag-go/internal/rag"
	"github.com/ragmag/ragmag-go/internal/server"
	"github.com/ragmag/ragmag-go/internal/tracing"
)

// NewServeCmd constructs the `ragmag serve` command, which starts the HTTP
// server and serves the web UI for interactive use.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ragmag HTTP server and web UI",
		Long: `Start the ragmag HTTP server on localhost.

The server exposes a REST API for uploading PDF manuals, managing indexed
documents, and asking questions, and serves the web UI for interactive use.

Examples:
  ragmag serve
  ragmag serve --port 9090
  MODEL_PROVIDER=openai ragmag serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if err := config.Validate(); err != nil {
				return err
			}

			log.Info("serve starting",
				slog.String("provider", config.Provider()),
				slog.String("vector_db", config.VectorDBType()),
			)

			// Setup Langfuse tracing — opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise model provider: %w", err)
			}
			log.Info("provider initialised", slog.String("provider", config.Provider()))

			if err := embedder.ValidateForIngest(log); err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			pipe, closePipe, err := buildPipeline(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer closePipe()

			retriever, err := rag.NewRetriever(pipe.embedder, pipe.store, config.TopK())
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			eng, err := engine.New(&engine.Config{
				ChatModel: chatModel,
				Retriever: retriever,
				Images:    pipe.images,
				TopK:      config.TopK(),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to initialise engine: %w", err)
			}

			pingers := []server.Pinger{server.NewParsePinger(pipe.parser)}
			if pipe.qdrant != nil {
				pingers = append(pingers, server.NewQdrantPinger(pipe.qdrant))
			}

			// Flags win; otherwise RAGMAG_HOST / RAGMAG_PORT (env or YAML).
			if !cmd.Flags().Changed("host") {
				host = getEnvOrDefault("RAGMAG_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				port = getEnvInt("RAGMAG_PORT", port)
			}

			srv, err := server.New(pipe.manager, eng, pipe.images, &server.Config{
				Host:    host,
				Port:    port,
				Logger:  log,
				Pingers: pingers,
				APIKey:  os.Getenv("RAGMAG_API_KEY"),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8000, "TCP port to listen on")

	return cmd
}
