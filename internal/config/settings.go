package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Parse service base URLs per region. The default region is North America.
const (
	parserBaseURLNA = "https://api.cloud.llamaindex.ai"
	parserBaseURLEU = "https://api.cloud.eu.llamaindex.ai"
)

// Default directory names, resolved relative to the working directory when
// the corresponding env var is unset.
const (
	defaultDataDir    = "data"
	defaultImageDir   = "data_images"
	defaultPersistDir = "storage"
)

// ParserBaseURL returns the parse service base URL for LLAMAPARSE_REGION.
// Unknown regions fall back to the NA endpoint.
func ParserBaseURL() string {
	switch strings.ToLower(os.Getenv("LLAMAPARSE_REGION")) {
	case "eu":
		return parserBaseURLEU
	default:
		return parserBaseURLNA
	}
}

// DataDir returns the absolute path of the source PDF directory.
func DataDir() string { return absDir(os.Getenv("DATA_DIR"), defaultDataDir) }

// ImageDir returns the absolute path of the page screenshot directory.
func ImageDir() string { return absDir(os.Getenv("IMAGE_DIR"), defaultImageDir) }

// PersistDir returns the absolute path of the local persistence directory
// (local vector store file and document registry database).
func PersistDir() string { return absDir(os.Getenv("PERSIST_DIR"), defaultPersistDir) }

// TopK returns the default retrieval depth (SIMILARITY_TOP_K, default 3).
func TopK() int { return envInt("SIMILARITY_TOP_K", 3) }

// UpsertBatchSize returns the vector store upload batch size
// (UPSERT_BATCH_SIZE, default 8). Kept small so large page payloads stay
// under vector store request size limits.
func UpsertBatchSize() int { return envInt("UPSERT_BATCH_SIZE", 8) }

// Provider returns the configured answer model provider (default: gemini).
func Provider() string {
	if v := os.Getenv("MODEL_PROVIDER"); v != "" {
		return strings.ToLower(v)
	}
	return "gemini"
}

// VectorDBType returns the configured vector store backend (default: local).
func VectorDBType() string {
	if v := os.Getenv("VECTOR_DB_TYPE"); v != "" {
		return strings.ToLower(v)
	}
	return "local"
}

// Validate checks that the required credentials for the selected providers
// are present. It returns a single error listing every missing setting so
// operators can fix them all at once.
func Validate() error {
	var errs []string

	if os.Getenv("LLAMAPARSE_API_KEY") == "" {
		errs = append(errs, "LLAMAPARSE_API_KEY is required")
	}

	switch Provider() {
	case "openai":
		if os.Getenv("OPENAI_API_KEY") == "" {
			errs = append(errs, "OPENAI_API_KEY is required when MODEL_PROVIDER=openai")
		}
	case "gemini":
		if os.Getenv("GEMINI_API_KEY") == "" {
			errs = append(errs, "GEMINI_API_KEY is required when MODEL_PROVIDER=gemini")
		}
		// Gemini has no embedding endpoint here — embeddings go through
		// OpenAI, so that key is required too.
		if os.Getenv("OPENAI_API_KEY") == "" && os.Getenv("EMBEDDING_API_KEY") == "" {
			errs = append(errs, "OPENAI_API_KEY is required for embeddings when MODEL_PROVIDER=gemini")
		}
	case "ollama", "azure", "bedrock":
		// Validated by the provider factory at construction time.
	default:
		errs = append(errs, fmt.Sprintf("unknown MODEL_PROVIDER %q — valid values: gemini, openai, ollama, azure, bedrock", Provider()))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// absDir returns dir as an absolute path, falling back to fallback (resolved
// against the working directory) when dir is empty.
func absDir(dir, fallback string) string {
	if dir == "" {
		dir = fallback
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return dir
	}
	return abs
}

// envInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
