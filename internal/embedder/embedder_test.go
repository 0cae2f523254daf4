package embedder

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func clearEmbeddingEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "EMBEDDING_API_KEY",
		"EMBEDDING_ENDPOINT", "EMBEDDING_DIMENSIONS",
		"OPENAI_API_KEY", "AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT",
		"OLLAMA_HOST",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

// ---------------------------------------------------------------------------
// Factory
// ---------------------------------------------------------------------------

func TestNewFromEnv_DefaultsToOpenAI(t *testing.T) {
	clearEmbeddingEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	emb, err := NewFromEnv()
	if err != nil {
		t.Fatalf("NewFromEnv failed: %v", err)
	}
	oe, ok := emb.(*OpenAIEmbedder)
	if !ok {
		t.Fatalf("expected *OpenAIEmbedder, got %T", emb)
	}
	if oe.model != "text-embedding-3-large" {
		t.Errorf("default model: got %q, want text-embedding-3-large", oe.model)
	}
	if oe.dimensions != 3072 {
		t.Errorf("default dimensions: got %d, want 3072", oe.dimensions)
	}
}

func TestNewFromEnv_OpenAIRequiresKey(t *testing.T) {
	clearEmbeddingEnv(t)

	if _, err := NewFromEnv(); err == nil {
		t.Fatal("expected error when no API key is set")
	}
}

func TestNewFromEnv_EmbeddingKeyOverride(t *testing.T) {
	clearEmbeddingEnv(t)
	t.Setenv("OPENAI_API_KEY", "chat-key")
	t.Setenv("EMBEDDING_API_KEY", "embed-key")

	emb, err := NewFromEnv()
	if err != nil {
		t.Fatalf("NewFromEnv failed: %v", err)
	}
	if emb.(*OpenAIEmbedder).apiKey != "embed-key" {
		t.Error("EMBEDDING_API_KEY should take precedence over OPENAI_API_KEY")
	}
}

func TestNewFromEnv_Ollama(t *testing.T) {
	clearEmbeddingEnv(t)
	t.Setenv("EMBEDDING_PROVIDER", "ollama")

	emb, err := NewFromEnv()
	if err != nil {
		t.Fatalf("NewFromEnv failed: %v", err)
	}
	oe, ok := emb.(*OllamaEmbedder)
	if !ok {
		t.Fatalf("expected *OllamaEmbedder, got %T", emb)
	}
	if oe.host != "http://localhost:11434" {
		t.Errorf("default host: got %q", oe.host)
	}
	if oe.model != "nomic-embed-text" {
		t.Errorf("default model: got %q", oe.model)
	}
}

func TestNewFromEnv_UnknownBackend(t *testing.T) {
	clearEmbeddingEnv(t)
	t.Setenv("EMBEDDING_PROVIDER", "bedrock")

	if _, err := NewFromEnv(); err == nil {
		t.Fatal("expected error for unsupported backend")
	}
}

func TestDefaultDimensions(t *testing.T) {
	clearEmbeddingEnv(t)

	if got := DefaultDimensions("openai"); got != 3072 {
		t.Errorf("openai dims: got %d, want 3072", got)
	}
	if got := DefaultDimensions("ollama"); got != 768 {
		t.Errorf("ollama dims: got %d, want 768", got)
	}

	t.Setenv("EMBEDDING_DIMENSIONS", "1024")
	if got := DefaultDimensions("openai"); got != 1024 {
		t.Errorf("env override: got %d, want 1024", got)
	}
}

// ---------------------------------------------------------------------------
// OpenAI embedder
// ---------------------------------------------------------------------------

func TestOpenAIEmbedder_Embed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("auth header: got %q", got)
		}
		var req openaiEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "text-embedding-3-large" {
			t.Errorf("model: got %q", req.Model)
		}
		// Return embeddings out of order to exercise index-based reassembly.
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 1, "embedding": []float32{0.3, 0.4}},
				{"index": 0, "embedding": []float32{0.1, 0.2}},
			},
		})
	}))
	defer srv.Close()

	emb := NewOpenAIEmbedder(&OpenAIConfig{
		BaseURL: srv.URL,
		APIKey:  "sk-test",
		Model:   "text-embedding-3-large",
	})

	got, err := emb.Embed(context.Background(), []string{"page one", "page two"})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 embeddings, got %d", len(got))
	}
	if got[0][0] != 0.1 || got[1][0] != 0.3 {
		t.Errorf("embeddings not reordered by index: %v", got)
	}
}

func TestOpenAIEmbedder_APIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "invalid api key"},
		})
	}))
	defer srv.Close()

	emb := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "bad", Model: "text-embedding-3-large"})

	_, err := emb.Embed(context.Background(), []string{"x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "invalid api key") {
		t.Errorf("error should carry the API message, got: %v", err)
	}
}

func TestOpenAIEmbedder_CountMismatch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"index": 0, "embedding": []float32{0.1}}},
		})
	}))
	defer srv.Close()

	emb := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "k", Model: "m"})

	if _, err := emb.Embed(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected error on count mismatch")
	}
}

// ---------------------------------------------------------------------------
// Ollama embedder
// ---------------------------------------------------------------------------

func TestOllamaEmbedder_Embed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float32{{0.5, 0.6}},
		})
	}))
	defer srv.Close()

	emb := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "nomic-embed-text"})

	got, err := emb.Embed(context.Background(), []string{"hello"})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(got) != 1 || got[0][1] != 0.6 {
		t.Errorf("unexpected embeddings: %v", got)
	}
}

func TestOllamaEmbedder_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "model 'nope' not found"})
	}))
	defer srv.Close()

	emb := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "nope"})

	_, err := emb.Embed(context.Background(), []string{"page text"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error should carry the server message, got: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

func TestLooksLikeChatModel(t *testing.T) {
	t.Parallel()

	chat := []string{"gpt-4o", "gemini-2.5-flash", "llama3.1", "Mistral-7B"}
	for _, m := range chat {
		if !looksLikeChatModel(m) {
			t.Errorf("%q should look like a chat model", m)
		}
	}
	embed := []string{"text-embedding-3-large", "nomic-embed-text", "bge-m3"}
	for _, m := range embed {
		if looksLikeChatModel(m) {
			t.Errorf("%q should NOT look like a chat model", m)
		}
	}
}

func TestValidateForIngest_MissingKey(t *testing.T) {
	clearEmbeddingEnv(t)

	if err := ValidateForIngest(discardLogger()); err == nil {
		t.Fatal("expected error: openai backend with no key")
	}
}

func TestValidateForIngest_OllamaOK(t *testing.T) {
	clearEmbeddingEnv(t)
	t.Setenv("EMBEDDING_PROVIDER", "ollama")

	if err := ValidateForIngest(discardLogger()); err != nil {
		t.Fatalf("ollama should not require credentials: %v", err)
	}
}
