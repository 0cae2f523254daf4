package server

import (
	"context"
	"fmt"

	"github.com/ragmag/ragmag-go/internal/parse"
	"github.com/ragmag/ragmag-go/internal/rag"
)

// QdrantPinger probes the Qdrant vector store using its native HealthCheck
// RPC. It satisfies the Pinger interface and is used by GET /api/ready.
// Only registered when the server runs against a Qdrant-backed store; the
// local JSON store needs no probe.
type QdrantPinger struct {
	// store is the Qdrant-backed vector store to probe.
	store *rag.QdrantStore
}

// NewQdrantPinger constructs a QdrantPinger for the given store.
func NewQdrantPinger(store *rag.QdrantStore) *QdrantPinger {
	return &QdrantPinger{store: store}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
// Returns nil if Qdrant is reachable, or a descriptive error otherwise.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	if err := p.store.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// ParsePinger probes the document parsing service's HTTP endpoint. Uploads
// fail fast when the service is unreachable, so readiness surfaces that
// before a client wastes a multi-hundred-megabyte upload.
type ParsePinger struct {
	// client is the parsing service client to probe.
	client *parse.Client
}

// NewParsePinger constructs a ParsePinger for the given parse client.
func NewParsePinger(client *parse.Client) *ParsePinger {
	return &ParsePinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *ParsePinger) Name() string { return "llamaparse" }

// Ping checks that the parsing service answers HTTP requests.
func (p *ParsePinger) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx); err != nil {
		return fmt.Errorf("service unreachable: %w", err)
	}
	return nil
}
