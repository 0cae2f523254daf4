package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ragmag/ragmag-go/internal/config"
	"github.com/ragmag/ragmag-go/internal/embedder"
	"github.com/ragmag/ragmag-go/internal/images"
	"github.com/ragmag/ragmag-go/internal/ingestion"
	"github.com/ragmag/ragmag-go/internal/parse"
	"github.com/ragmag/ragmag-go/internal/rag"
	"github.com/ragmag/ragmag-go/internal/registry"
)

// localStoreFile is the on-disk filename of the JSON-persisted vector store.
const localStoreFile = "vectors.json"

// pipeline bundles the ingestion and retrieval collaborators shared by the
// serve, ingest, ask, and docs commands.
type pipeline struct {
	// parser is the cloud parsing service client.
	parser *parse.Client
	// embedder converts page text into vectors.
	embedder rag.Embedder
	// store persists and searches page vectors.
	store rag.VectorStore
	// qdrant is non-nil when store is Qdrant-backed (used for readiness probes).
	qdrant *rag.QdrantStore
	// registry catalogs ingested documents.
	registry *registry.SQLiteRegistry
	// images stores page screenshots on disk.
	images *images.Manager
	// manager runs the ingestion pipeline.
	manager *ingestion.Manager
}

// buildPipeline wires the full pipeline from the environment. The returned
// close function releases the store and registry; callers must invoke it.
func buildPipeline(ctx context.Context, log *slog.Logger) (*pipeline, func(), error) {
	parser := parse.NewClient(parse.ConfigFromEnv(config.ParserBaseURL()))

	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}

	store, qdrantStore, err := buildStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	dbPath, err := registry.DefaultDBPath(config.PersistDir())
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	reg, err := registry.Open(dbPath)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to open document registry: %w", err)
	}

	imgs, err := images.NewManager(config.ImageDir())
	if err != nil {
		_ = reg.Close()
		store.Close()
		return nil, nil, err
	}

	mgr, err := ingestion.NewManager(&ingestion.Config{
		Parser:          parser,
		Embedder:        emb,
		Store:           store,
		Registry:        reg,
		Images:          imgs,
		Logger:          log,
		UpsertBatchSize: config.UpsertBatchSize(),
	})
	if err != nil {
		_ = reg.Close()
		store.Close()
		return nil, nil, err
	}

	closeAll := func() {
		_ = reg.Close()
		store.Close()
	}

	return &pipeline{
		parser:   parser,
		embedder: emb,
		store:    store,
		qdrant:   qdrantStore,
		registry: reg,
		images:   imgs,
		manager:  mgr,
	}, closeAll, nil
}

// buildStore constructs the vector store selected by VECTOR_DB_TYPE:
// "qdrant" for a Qdrant server, anything else for the local JSON store.
// The second return value is non-nil only for Qdrant.
func buildStore(ctx context.Context) (rag.VectorStore, *rag.QdrantStore, error) {
	if config.VectorDBType() != "qdrant" {
		store, err := rag.NewLocalStore(filepath.Join(config.PersistDir(), localStoreFile))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open local vector store: %w", err)
		}
		return store, nil, nil
	}

	host := getEnvOrDefault("QDRANT_HOST", "localhost")
	port := getEnvInt("QDRANT_PORT", 6334)
	vectorSize := uint64(embedder.DefaultDimensions(embedder.Backend())) //nolint:gosec // dimensions are bounded

	store, err := rag.NewQdrantStore(ctx, &rag.QdrantConfig{
		Host:       host,
		Port:       port,
		Collection: getEnvOrDefault("QDRANT_COLLECTION", "ragmag-pages"),
		VectorSize: vectorSize,
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", host, port, err)
	}
	return store, store, nil
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
