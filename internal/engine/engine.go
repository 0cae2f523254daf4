// Package engine answers questions against the indexed manuals. It retrieves
// the most relevant pages, builds a multimodal prompt from their markdown and
// page screenshots, and asks the configured chat model for a grounded answer.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/ragmag/ragmag-go/internal/images"
	"github.com/ragmag/ragmag-go/internal/logging"
	"github.com/ragmag/ragmag-go/internal/rag"
)

// previewLen caps the source excerpt returned with each answer.
const previewLen = 200

// ErrNoResults is returned when retrieval finds nothing relevant — the caller
// decides how to surface that (the API maps it to 404).
var ErrNoResults = errors.New("engine: no relevant pages found")

// systemPrompt grounds the model in the retrieved pages only.
const systemPrompt = `You are a technical documentation assistant for product manuals.
Answer questions using ONLY the manual excerpts and page images provided in the
user message. Do not use prior knowledge about the product. If the provided
content does not contain the answer, say so plainly. When steps, part numbers,
or safety warnings appear in the excerpts, reproduce them exactly.`

// Query is one question against the index.
type Query struct {
	// Text is the user's question.
	Text string

	// TopK is how many pages to retrieve (0 = configured default).
	TopK int

	// IncludeImages controls whether page screenshots are inlined into the
	// prompt. Disable for text-only models.
	IncludeImages bool
}

// Source describes one retrieved page that informed the answer.
type Source struct {
	// DocumentID is the source PDF's identifier.
	DocumentID string `json:"document_id"`
	// Filename is the source PDF's original name.
	Filename string `json:"filename"`
	// PageNumber is the 1-based page index.
	PageNumber int `json:"page_number"`
	// ImagePath is the stored page screenshot path, empty if none.
	ImagePath string `json:"image_path,omitempty"`
	// TextPreview is a short excerpt of the page text.
	TextPreview string `json:"text_preview"`
	// Score is the retrieval similarity score.
	Score float32 `json:"score"`
}

// Answer is the engine's response to a Query.
type Answer struct {
	// Text is the model's answer.
	Text string `json:"answer"`
	// Sources lists the retrieved pages, best match first.
	Sources []Source `json:"sources"`
	// Elapsed is the total query latency.
	Elapsed time.Duration `json:"-"`
}

// Config holds the collaborators for an Engine.
type Config struct {
	// ChatModel is the LLM backend constructed by the provider factory.
	ChatModel model.ChatModel //nolint:staticcheck // SA1019: model.ChatModel deprecated upstream; migration tracked separately

	// Retriever fetches relevant pages for a query.
	Retriever rag.Retriever

	// Images resolves and encodes page screenshots. May be nil, in which
	// case prompts are text-only.
	Images *images.Manager

	// TopK is the default retrieval depth when a Query leaves it zero.
	TopK int
}

// Engine answers questions using retrieval-augmented generation.
type Engine struct {
	chatModel model.ChatModel //nolint:staticcheck // SA1019: model.ChatModel deprecated upstream; migration tracked separately
	retriever rag.Retriever
	images    *images.Manager
	topK      int
}

// New constructs an Engine from the provided Config.
func New(cfg *Config) (*Engine, error) {
	if cfg.ChatModel == nil {
		return nil, fmt.Errorf("engine: ChatModel must not be nil")
	}
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("engine: Retriever must not be nil")
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = 3
	}
	return &Engine{
		chatModel: cfg.ChatModel,
		retriever: cfg.Retriever,
		images:    cfg.Images,
		topK:      topK,
	}, nil
}

// Ask retrieves relevant pages and generates a grounded answer.
// Returns ErrNoResults when retrieval yields nothing.
func (e *Engine) Ask(ctx context.Context, q Query) (*Answer, error) {
	start := time.Now()
	log := logging.FromContext(ctx)

	topK := q.TopK
	if topK <= 0 {
		topK = e.topK
	}

	docs, err := e.retriever.Retrieve(ctx, q.Text, topK)
	if err != nil {
		return nil, fmt.Errorf("engine: retrieval failed: %w", err)
	}
	if len(docs) == 0 {
		return nil, ErrNoResults
	}

	msgs := e.buildMessages(ctx, q, docs)

	resp, err := e.chatModel.Generate(ctx, msgs)
	if err != nil {
		return nil, fmt.Errorf("engine: generation failed: %w", err)
	}

	answer := &Answer{
		Text:    resp.Content,
		Sources: buildSources(docs),
		Elapsed: time.Since(start),
	}

	log.Info("engine: query answered",
		slog.Int("pages_retrieved", len(docs)),
		slog.Int("top_k", topK),
		slog.Duration("elapsed", answer.Elapsed),
	)

	return answer, nil
}

// buildMessages assembles the system prompt plus one multimodal user message:
// the page excerpts as text, each page's screenshot as an inline image, and
// the question last.
func (e *Engine) buildMessages(ctx context.Context, q Query, docs []rag.Document) []*schema.Message {
	log := logging.FromContext(ctx)

	var sb strings.Builder
	sb.WriteString("Below is the parsed content from the manual:\n\n")
	for _, doc := range docs {
		fmt.Fprintf(&sb, "### %s — page %d\n%s\n\n", doc.Filename, doc.PageNumber, doc.Content)
	}
	sb.WriteString("Given this content and without prior knowledge, answer the query: ")
	sb.WriteString(q.Text)

	parts := []schema.ChatMessagePart{
		{Type: schema.ChatMessagePartTypeText, Text: sb.String()},
	}

	if q.IncludeImages && e.images != nil {
		for _, doc := range docs {
			path, ok := e.images.Resolve(doc.ImagePath)
			if !ok {
				continue
			}
			uri, err := e.images.EncodeBase64(path)
			if err != nil {
				// A missing or unreadable screenshot degrades the answer but
				// should not fail the query.
				log.Warn("engine: skipping page screenshot",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)
				continue
			}
			parts = append(parts, schema.ChatMessagePart{
				Type: schema.ChatMessagePartTypeImageURL,
				ImageURL: &schema.ChatMessageImageURL{
					URL:    uri,
					Detail: schema.ImageURLDetailAuto,
				},
			})
		}
	}

	return []*schema.Message{
		schema.SystemMessage(systemPrompt),
		{Role: schema.User, MultiContent: parts},
	}
}

// buildSources converts retrieved pages into answer sources.
func buildSources(docs []rag.Document) []Source {
	sources := make([]Source, 0, len(docs))
	for _, doc := range docs {
		sources = append(sources, Source{
			DocumentID:  doc.DocumentID,
			Filename:    doc.Filename,
			PageNumber:  doc.PageNumber,
			ImagePath:   doc.ImagePath,
			TextPreview: preview(doc.Content),
			Score:       doc.Score,
		})
	}
	return sources
}

// preview returns the first previewLen characters of s with whitespace
// collapsed.
func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > previewLen {
		return s[:previewLen]
	}
	return s
}
