package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if had {
			os.Setenv(key, old)
		} else {
			os.Unsetenv(key)
		}
	})
}

func requiredEnv(t *testing.T) {
	t.Helper()
	setEnv(t, "EMBEDDING_DIM", "384")
	setEnv(t, "EMBEDDING_PROVIDER_URL", "http://embed.local")
	setEnv(t, "VECTOR_STORE_URL", "http://vectors.local")
	setEnv(t, "LLM_MODEL", "gpt-test")
	setEnv(t, "LLM_API_KEY", "sk-test")
}

func TestLoad_AppliesDefaultsWhenUnset(t *testing.T) {
	requiredEnv(t)
	clearEnv(t, "HTTP_ADDR", "CACHE_MAX_ENTRIES")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("HTTP.Addr = %q, want default \":8080\"", cfg.HTTP.Addr)
	}
	if cfg.Cache.MaxEntries != 10000 {
		t.Errorf("Cache.MaxEntries = %d, want default 10000", cfg.Cache.MaxEntries)
	}
}

func TestLoad_MissingRequiredFieldErrors(t *testing.T) {
	clearEnv(t, "EMBEDDING_DIM", "EMBEDDING_PROVIDER_URL", "VECTOR_STORE_URL", "LLM_MODEL", "LLM_API_KEY")

	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to error when a required field is missing")
	}
}

func TestLoad_ParsesIntBoolFloatFromEnv(t *testing.T) {
	requiredEnv(t)
	setEnv(t, "EMBEDDING_DIM", "1536")
	setEnv(t, "CACHE_SEMANTIC_ENABLED", "false")
	setEnv(t, "CACHE_SEMANTIC_BASE_THRESHOLD", "0.92")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Embedding.Dim != 1536 {
		t.Errorf("Embedding.Dim = %d, want 1536", cfg.Embedding.Dim)
	}
	if cfg.Cache.SemanticEnabled {
		t.Error("Cache.SemanticEnabled = true, want false")
	}
	if cfg.Cache.SemanticBaseThreshold != 0.92 {
		t.Errorf("Cache.SemanticBaseThreshold = %v, want 0.92", cfg.Cache.SemanticBaseThreshold)
	}
}

func TestLoad_ParsesDurationFieldsAsMilliseconds(t *testing.T) {
	requiredEnv(t)
	setEnv(t, "EMBEDDING_CACHE_TTL_MS", "1500")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Embedding.CacheTTL != 1500*time.Millisecond {
		t.Errorf("Embedding.CacheTTL = %v, want 1.5s", cfg.Embedding.CacheTTL)
	}
}

func TestLoad_ParsesMapFields(t *testing.T) {
	requiredEnv(t)
	setEnv(t, "VECTOR_STORE_COLLECTIONS", "JIRA=jira_docs, ZENDESK=zendesk_docs")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.VectorStore.Collections["JIRA"] != "jira_docs" {
		t.Errorf("Collections[JIRA] = %q, want jira_docs", cfg.VectorStore.Collections["JIRA"])
	}
	if cfg.VectorStore.Collections["ZENDESK"] != "zendesk_docs" {
		t.Errorf("Collections[ZENDESK] = %q, want zendesk_docs", cfg.VectorStore.Collections["ZENDESK"])
	}
}

func TestLoad_InvalidIntValueErrors(t *testing.T) {
	requiredEnv(t)
	setEnv(t, "EMBEDDING_DIM", "not-a-number")

	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to error on an unparseable int value")
	}
}
