// Package config loads archive configuration from YAML with environment
// variable overrides, mirroring the keys in spec §6.6.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the complete archive configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Vault      VaultConfig      `yaml:"vault" json:"vault"`
	Redis      RedisConfig      `yaml:"redis" json:"redis"`
	Vector     VectorConfig     `yaml:"vector" json:"vector"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	LLM        LLMConfig        `yaml:"llm" json:"llm"`
	Chunk      ChunkConfig      `yaml:"chunk" json:"chunk"`
	Watch      WatchConfig      `yaml:"watch" json:"watch"`
	Queue      QueueConfig      `yaml:"queue" json:"queue"`
}

// VaultConfig configures the content-addressed blob store.
type VaultConfig struct {
	Path              string `yaml:"path" json:"path"`
	LifearchivistHome string `yaml:"lifearchivist_home" json:"lifearchivist_home"`
}

// RedisConfig configures the Redis connection shared by tracker/bm25/queue/watch/activity.
type RedisConfig struct {
	URL            string `yaml:"url" json:"url"`
	ConnectTimeout string `yaml:"connect_timeout" json:"connect_timeout"`
}

// VectorConfig configures the vector-store adapter.
type VectorConfig struct {
	URL        string `yaml:"url" json:"url"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
}

// EmbeddingsConfig configures the embedding model.
type EmbeddingsConfig struct {
	Model string `yaml:"model" json:"model"`
}

// LLMConfig configures the LLM runtime (Ollama-compatible).
type LLMConfig struct {
	Model      string `yaml:"model" json:"model"`
	OllamaURL  string `yaml:"ollama_url" json:"ollama_url"`
	TimeoutSec int    `yaml:"timeout_sec" json:"timeout_sec"`
}

// ChunkConfig configures the sentence splitter (§4.5).
type ChunkConfig struct {
	Size    int `yaml:"size" json:"size"`
	Overlap int `yaml:"overlap" json:"overlap"`
}

// WatchConfig configures the multi-folder watcher (§4.10).
type WatchConfig struct {
	IngestionConcurrency int     `yaml:"ingestion_concurrency" json:"ingestion_concurrency"`
	DebounceSeconds      float64 `yaml:"debounce_seconds" json:"debounce_seconds"`
	MaxFolders           int     `yaml:"max_folders" json:"max_folders"`
	MaxFileSizeBytes     int64   `yaml:"max_file_size_bytes" json:"max_file_size_bytes"`
}

// QueueConfig configures the work queue / enrichment worker.
type QueueConfig struct {
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
}

// New returns a Config populated with the spec's defaults.
func New() *Config {
	home := defaultLifearchivistHome()
	return &Config{
		Version: 1,
		Vault: VaultConfig{
			Path:              filepath.Join(home, "vault"),
			LifearchivistHome: home,
		},
		Redis: RedisConfig{
			URL:            "redis://localhost:6379/0",
			ConnectTimeout: "5s",
		},
		Vector: VectorConfig{
			URL:        "",
			Dimensions: 768,
		},
		Embeddings: EmbeddingsConfig{
			Model: "qwen3-embedding:0.6b",
		},
		LLM: LLMConfig{
			Model:      "qwen3:8b",
			OllamaURL:  "http://localhost:11434",
			TimeoutSec: 300,
		},
		Chunk: ChunkConfig{
			Size:    2600,
			Overlap: 200,
		},
		Watch: WatchConfig{
			IngestionConcurrency: 5,
			DebounceSeconds:      2.0,
			MaxFolders:           100,
			MaxFileSizeBytes:     100 * 1024 * 1024,
		},
		Queue: QueueConfig{
			MaxRetries: 3,
		},
	}
}

func defaultLifearchivistHome() string {
	if home := os.Getenv("LIFEARCH_HOME"); home != "" {
		return home
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".lifearchivist")
	}
	return filepath.Join(dir, ".lifearchivist")
}

// Load reads a YAML config file (if it exists) over the defaults, then
// applies environment variable overrides, matching the teacher's
// YAML-then-env precedence.
func Load(path string) (*Config, error) {
	cfg := New()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if yerr := yaml.Unmarshal(data, cfg); yerr != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, yerr)
			}
		case os.IsNotExist(err):
			// no config file is fine, defaults stand
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ARCHIVIST_VAULT_PATH"); v != "" {
		cfg.Vault.Path = v
	}
	if v := os.Getenv("ARCHIVIST_LIFEARCH_HOME"); v != "" {
		cfg.Vault.LifearchivistHome = v
	}
	if v := os.Getenv("ARCHIVIST_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("ARCHIVIST_QDRANT_URL"); v != "" {
		cfg.Vector.URL = v
	}
	if v := os.Getenv("ARCHIVIST_EMBEDDING_MODEL"); v != "" {
		cfg.Embeddings.Model = v
	}
	if v := os.Getenv("ARCHIVIST_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("ARCHIVIST_OLLAMA_URL"); v != "" {
		cfg.LLM.OllamaURL = v
	}
	if v := os.Getenv("ARCHIVIST_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Chunk.Size = n
		}
	}
	if v := os.Getenv("ARCHIVIST_CHUNK_OVERLAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Chunk.Overlap = n
		}
	}
}
