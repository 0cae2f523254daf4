// Package config provides YAML-based configuration for ragmag.
// Configuration is loaded with a layered precedence: defaults → .env file →
// YAML file → env vars. Environment variables always win, so existing
// env-only deployments are unaffected.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. RAGMAG_CONFIG environment variable
//  3. ~/.ragmag/config.yaml
//  4. ./ragmag.yaml
//
// If no file is found the system runs entirely from env vars.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Parser configures the cloud document parsing service.
	Parser ParserConfig `yaml:"parser"`

	// Model configures the LLM chat model provider used for answers.
	Model ModelConfig `yaml:"model"`

	// Embedding configures the embedding provider.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// VectorDB configures the vector store backend.
	VectorDB VectorDBConfig `yaml:"vector_db"`

	// Paths configures the on-disk data directories.
	Paths PathsConfig `yaml:"paths"`

	// Retrieval configures RAG retrieval behaviour.
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Tracing configures Langfuse tracing integration.
	Tracing TracingConfig `yaml:"tracing"`
}

// ParserConfig holds cloud parsing service settings.
type ParserConfig struct {
	// APIKey authenticates against the parsing service. Prefer env var LLAMAPARSE_API_KEY.
	APIKey string `yaml:"api_key"`
	// Region selects the service region: na or eu.
	Region string `yaml:"region"`
	// Model is the parse model used for agentic page parsing.
	Model string `yaml:"model"`
	// ParseMode is the parsing strategy (e.g. parse_page_with_agent).
	ParseMode string `yaml:"parse_mode"`
	// HighResOCR enables high resolution OCR. A pointer distinguishes an
	// explicit "false" from an unset key, since the parser defaults to true.
	HighResOCR *bool `yaml:"high_res_ocr"`
	// TableExtraction enables outlined table extraction.
	TableExtraction *bool `yaml:"table_extraction"`
	// TablesAsHTML renders extracted tables as HTML in the page markdown.
	TablesAsHTML *bool `yaml:"tables_as_html"`
}

// ModelConfig holds LLM chat model settings.
type ModelConfig struct {
	// Provider selects the backend: gemini, openai, ollama, azure, bedrock.
	Provider string `yaml:"provider"`
	// MaxTokens is the maximum number of tokens in the response.
	MaxTokens int `yaml:"max_tokens"`
	// Temperature controls response randomness (0.0–1.0).
	Temperature float32 `yaml:"temperature"`
	// Gemini holds Google Gemini-specific settings.
	Gemini GeminiConfig `yaml:"gemini"`
	// OpenAI holds OpenAI-specific settings.
	OpenAI OpenAIConfig `yaml:"openai"`
	// Ollama holds Ollama-specific settings.
	Ollama OllamaConfig `yaml:"ollama"`
	// Azure holds Azure OpenAI-specific settings.
	Azure AzureConfig `yaml:"azure"`
	// Bedrock holds AWS Bedrock-specific settings.
	Bedrock BedrockConfig `yaml:"bedrock"`
}

// GeminiConfig holds Google Gemini provider settings.
type GeminiConfig struct {
	// APIKey is the Google API key. Prefer env var GEMINI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the Gemini model name.
	Model string `yaml:"model"`
}

// OpenAIConfig holds OpenAI provider settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key. Prefer env var OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the OpenAI model name.
	Model string `yaml:"model"`
}

// OllamaConfig holds Ollama provider settings.
type OllamaConfig struct {
	// Host is the Ollama API endpoint.
	Host string `yaml:"host"`
	// Model is the Ollama model name.
	Model string `yaml:"model"`
}

// AzureConfig holds Azure OpenAI provider settings.
type AzureConfig struct {
	// APIKey is the Azure OpenAI API key. Prefer env var AZURE_OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the Azure OpenAI resource endpoint.
	Endpoint string `yaml:"endpoint"`
	// Deployment is the Azure OpenAI deployment name.
	Deployment string `yaml:"deployment"`
	// APIVersion is the Azure OpenAI API version.
	APIVersion string `yaml:"api_version"`
}

// BedrockConfig holds AWS Bedrock provider settings.
type BedrockConfig struct {
	// Region is the AWS region for Bedrock.
	Region string `yaml:"region"`
	// ModelID is the Bedrock model identifier.
	ModelID string `yaml:"model_id"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend (openai, ollama, azure).
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions overrides the embedding vector size.
	Dimensions int `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint"`
}

// VectorDBConfig holds vector store backend settings.
type VectorDBConfig struct {
	// Type selects the backend: local (JSON-persisted) or qdrant.
	Type string `yaml:"type"`
	// Host is the Qdrant server hostname.
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port"`
	// Collection is the Qdrant collection name.
	Collection string `yaml:"collection"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS *bool `yaml:"tls"`
}

// PathsConfig holds on-disk directory settings.
type PathsConfig struct {
	// DataDir holds the source PDFs for batch ingestion.
	DataDir string `yaml:"data_dir"`
	// ImageDir holds downloaded page screenshots, one subdirectory per document.
	ImageDir string `yaml:"image_dir"`
	// PersistDir holds the local vector store and registry database.
	PersistDir string `yaml:"persist_dir"`
}

// RetrievalConfig holds RAG retrieval tuning.
type RetrievalConfig struct {
	// TopK is the default number of pages retrieved per query.
	TopK int `yaml:"top_k"`
	// UpsertBatchSize is the number of nodes uploaded per vector store call.
	UpsertBatchSize int `yaml:"upsert_batch_size"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var RAGMAG_API_KEY.
	APIKey string `yaml:"api_key"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// TracingConfig holds Langfuse tracing settings.
type TracingConfig struct {
	// PublicKey is the Langfuse public key. Prefer env var LANGFUSE_PUBLIC_KEY.
	PublicKey string `yaml:"public_key"`
	// SecretKey is the Langfuse secret key. Prefer env var LANGFUSE_SECRET_KEY.
	SecretKey string `yaml:"secret_key"`
	// Host is the Langfuse API host.
	Host string `yaml:"host"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Env vars always take precedence. String and numeric zero values are treated
// as unset; booleans use pointers, so an explicit YAML "false" is applied.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"LLAMAPARSE_API_KEY", func(c *Config) string { return c.Parser.APIKey }},
	{"LLAMAPARSE_REGION", func(c *Config) string { return c.Parser.Region }},
	{"LLAMAPARSE_MODEL", func(c *Config) string { return c.Parser.Model }},
	{"LLAMAPARSE_PARSE_MODE", func(c *Config) string { return c.Parser.ParseMode }},
	{"LLAMAPARSE_HIGH_RES_OCR", func(c *Config) string { return boolStr(c.Parser.HighResOCR) }},
	{"LLAMAPARSE_TABLE_EXTRACTION", func(c *Config) string { return boolStr(c.Parser.TableExtraction) }},
	{"LLAMAPARSE_OUTPUT_TABLES_HTML", func(c *Config) string { return boolStr(c.Parser.TablesAsHTML) }},
	{"MODEL_PROVIDER", func(c *Config) string { return c.Model.Provider }},
	{"MODEL_MAX_TOKENS", func(c *Config) string { return intStr(c.Model.MaxTokens) }},
	{"MODEL_TEMPERATURE", func(c *Config) string { return float32Str(c.Model.Temperature) }},
	{"GEMINI_API_KEY", func(c *Config) string { return c.Model.Gemini.APIKey }},
	{"GEMINI_MODEL", func(c *Config) string { return c.Model.Gemini.Model }},
	{"OPENAI_API_KEY", func(c *Config) string { return c.Model.OpenAI.APIKey }},
	{"OPENAI_MODEL", func(c *Config) string { return c.Model.OpenAI.Model }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Model.Ollama.Host }},
	{"OLLAMA_MODEL", func(c *Config) string { return c.Model.Ollama.Model }},
	{"AZURE_OPENAI_API_KEY", func(c *Config) string { return c.Model.Azure.APIKey }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config) string { return c.Model.Azure.Endpoint }},
	{"AZURE_OPENAI_DEPLOYMENT", func(c *Config) string { return c.Model.Azure.Deployment }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config) string { return c.Model.Azure.APIVersion }},
	{"AWS_REGION", func(c *Config) string { return c.Model.Bedrock.Region }},
	{"BEDROCK_MODEL_ID", func(c *Config) string { return c.Model.Bedrock.ModelID }},
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"VECTOR_DB_TYPE", func(c *Config) string { return c.VectorDB.Type }},
	{"QDRANT_HOST", func(c *Config) string { return c.VectorDB.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.VectorDB.Port) }},
	{"QDRANT_COLLECTION", func(c *Config) string { return c.VectorDB.Collection }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.VectorDB.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.VectorDB.TLS) }},
	{"DATA_DIR", func(c *Config) string { return c.Paths.DataDir }},
	{"IMAGE_DIR", func(c *Config) string { return c.Paths.ImageDir }},
	{"PERSIST_DIR", func(c *Config) string { return c.Paths.PersistDir }},
	{"SIMILARITY_TOP_K", func(c *Config) string { return intStr(c.Retrieval.TopK) }},
	{"UPSERT_BATCH_SIZE", func(c *Config) string { return intStr(c.Retrieval.UpsertBatchSize) }},
	{"RAGMAG_HOST", func(c *Config) string { return c.Server.Host }},
	{"RAGMAG_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"RAGMAG_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.Host }},
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env var already set — do not override
		}
		os.Setenv(m.envKey, yamlVal)
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("RAGMAG_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".ragmag", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("ragmag.yaml"); err == nil {
		return "ragmag.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

// float32Str converts a float32 to string, returning "" for zero values.
func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// boolStr converts an optional bool to string, returning "" when unset.
func boolStr(v *bool) string {
	if v == nil {
		return ""
	}
	return strconv.FormatBool(*v)
}
