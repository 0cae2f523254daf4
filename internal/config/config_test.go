package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_NoFile(t *testing.T) {
	t.Parallel()

	log := slog.Default()
	path, err := Load("/nonexistent/path/config.yaml", log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
parser:
  region: eu
  model: openai-gpt-4-1-mini
  parse_mode: parse_page_with_agent
  high_res_ocr: true
model:
  provider: gemini
  max_tokens: 8192
  gemini:
    model: gemini-2.5-flash
embedding:
  provider: openai
  model: text-embedding-3-large
vector_db:
  type: qdrant
  host: qdrant.internal
  port: 6334
  collection: manuals
paths:
  image_dir: /srv/ragmag/images
retrieval:
  top_k: 5
logging:
  level: debug
  format: text
`)

	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Clear env vars that the YAML should set.
	envKeys := []string{
		"LLAMAPARSE_REGION", "LLAMAPARSE_MODEL", "LLAMAPARSE_PARSE_MODE", "LLAMAPARSE_HIGH_RES_OCR",
		"MODEL_PROVIDER", "MODEL_MAX_TOKENS", "GEMINI_MODEL",
		"EMBEDDING_PROVIDER", "EMBEDDING_MODEL",
		"VECTOR_DB_TYPE", "QDRANT_HOST", "QDRANT_PORT", "QDRANT_COLLECTION",
		"IMAGE_DIR", "SIMILARITY_TOP_K",
		"LOG_LEVEL", "LOG_FORMAT",
	}
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	log := slog.Default()
	loaded, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path: got %q, want %q", loaded, cfgPath)
	}

	checks := map[string]string{
		"LLAMAPARSE_REGION":       "eu",
		"LLAMAPARSE_MODEL":        "openai-gpt-4-1-mini",
		"LLAMAPARSE_PARSE_MODE":   "parse_page_with_agent",
		"LLAMAPARSE_HIGH_RES_OCR": "true",
		"MODEL_PROVIDER":          "gemini",
		"MODEL_MAX_TOKENS":        "8192",
		"GEMINI_MODEL":            "gemini-2.5-flash",
		"EMBEDDING_PROVIDER":      "openai",
		"EMBEDDING_MODEL":         "text-embedding-3-large",
		"VECTOR_DB_TYPE":          "qdrant",
		"QDRANT_HOST":             "qdrant.internal",
		"QDRANT_PORT":             "6334",
		"QDRANT_COLLECTION":       "manuals",
		"IMAGE_DIR":               "/srv/ragmag/images",
		"SIMILARITY_TOP_K":        "5",
		"LOG_LEVEL":               "debug",
		"LOG_FORMAT":              "text",
	}
	for k, want := range checks {
		got := os.Getenv(k)
		if got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
}

func TestLoad_ExplicitFalseApplies(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
parser:
  high_res_ocr: false
vector_db:
  tls: false
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	for _, k := range []string{"LLAMAPARSE_HIGH_RES_OCR", "QDRANT_TLS", "LLAMAPARSE_TABLE_EXTRACTION"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	if _, err := Load(cfgPath, slog.Default()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// An explicit false must override the parse client's default true.
	if got := os.Getenv("LLAMAPARSE_HIGH_RES_OCR"); got != "false" {
		t.Errorf("LLAMAPARSE_HIGH_RES_OCR: got %q, want false", got)
	}
	if got := os.Getenv("QDRANT_TLS"); got != "false" {
		t.Errorf("QDRANT_TLS: got %q, want false", got)
	}
	// Keys absent from the YAML stay unset.
	if got := os.Getenv("LLAMAPARSE_TABLE_EXTRACTION"); got != "" {
		t.Errorf("LLAMAPARSE_TABLE_EXTRACTION should stay unset, got %q", got)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
vector_db:
  host: from-yaml
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("QDRANT_HOST", "from-env")

	if _, err := Load(cfgPath, slog.Default()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := os.Getenv("QDRANT_HOST"); got != "from-env" {
		t.Errorf("env var should win over YAML: got %q, want %q", got, "from-env")
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(cfgPath, []byte("parser: [not a map"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(cfgPath, slog.Default()); err == nil {
		t.Fatal("expected parse error for malformed YAML")
	}
}

func TestParserBaseURL(t *testing.T) {
	cases := map[string]string{
		"":        "https://api.cloud.llamaindex.ai",
		"na":      "https://api.cloud.llamaindex.ai",
		"EU":      "https://api.cloud.eu.llamaindex.ai",
		"unknown": "https://api.cloud.llamaindex.ai",
	}
	for region, want := range cases {
		t.Setenv("LLAMAPARSE_REGION", region)
		if got := ParserBaseURL(); got != want {
			t.Errorf("region %q: got %q, want %q", region, got, want)
		}
	}
}

func TestValidate_MissingParserKey(t *testing.T) {
	t.Setenv("LLAMAPARSE_API_KEY", "")
	os.Unsetenv("LLAMAPARSE_API_KEY")
	t.Setenv("MODEL_PROVIDER", "gemini")
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("OPENAI_API_KEY", "o-key")

	err := Validate()
	if err == nil {
		t.Fatal("expected error when LLAMAPARSE_API_KEY is missing")
	}
	if !strings.Contains(err.Error(), "LLAMAPARSE_API_KEY") {
		t.Errorf("error should name the missing key, got: %v", err)
	}
}

func TestValidate_GeminiNeedsEmbeddingKey(t *testing.T) {
	t.Setenv("LLAMAPARSE_API_KEY", "lp-key")
	t.Setenv("MODEL_PROVIDER", "gemini")
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("OPENAI_API_KEY", "")
	os.Unsetenv("OPENAI_API_KEY")
	t.Setenv("EMBEDDING_API_KEY", "")
	os.Unsetenv("EMBEDDING_API_KEY")

	err := Validate()
	if err == nil {
		t.Fatal("expected error: gemini provider still needs an embedding key")
	}
	if !strings.Contains(err.Error(), "embeddings") {
		t.Errorf("error should mention embeddings, got: %v", err)
	}
}

func TestValidate_OK(t *testing.T) {
	t.Setenv("LLAMAPARSE_API_KEY", "lp-key")
	t.Setenv("MODEL_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "o-key")

	if err := Validate(); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_UnknownProvider(t *testing.T) {
	t.Setenv("LLAMAPARSE_API_KEY", "lp-key")
	t.Setenv("MODEL_PROVIDER", "watson")

	if err := Validate(); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
