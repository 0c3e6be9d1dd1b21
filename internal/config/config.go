// Package config provides configuration loading and structs for the threat graph.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tejnc/threat-intel-pipeline/internal/graph"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Neo4j     Neo4jConfig     `yaml:"neo4j"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Search    SearchConfig    `yaml:"search"`
	Query     QueryConfig     `yaml:"query"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig selects the graph backend and where local data lives.
type StorageConfig struct {
	// Backend is one of memory, sqlite or neo4j.
	Backend        string `yaml:"backend"`
	DataDir        string `yaml:"data_dir"`
	DatabasePath   string `yaml:"database_path"`
	BleveIndexPath string `yaml:"bleve_index_path"`
}

// Neo4jConfig holds connection settings for the neo4j backend.
type Neo4jConfig struct {
	URI            string `yaml:"uri"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	Database       string `yaml:"database"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxPoolSize    int    `yaml:"max_pool_size"`
}

// EmbeddingConfig holds embedder settings. Dimensions is also the vector index dimension.
type EmbeddingConfig struct {
	Dimensions int `yaml:"dimensions"`
	CacheSize  int `yaml:"cache_size"`
}

// IngestConfig holds chunking and ingestion settings.
type IngestConfig struct {
	ChunkSize    int      `yaml:"chunk_size"`
	ChunkOverlap int      `yaml:"chunk_overlap"`
	Workers      int      `yaml:"workers"`
	Extensions   []string `yaml:"extensions"`
}

// SearchConfig holds hybrid and keyword search settings.
type SearchConfig struct {
	DefaultK     int     `yaml:"default_k"`
	MaxK         int     `yaml:"max_k"`
	PhraseBoost  float64 `yaml:"phrase_boost"`
	FuzzyEnabled bool    `yaml:"fuzzy_enabled"`
}

// QueryConfig bounds graph traversals.
type QueryConfig struct {
	MaxHops          int `yaml:"max_hops"`
	NetworkPathLimit int `yaml:"network_path_limit"`
	ClusterLimit     int `yaml:"cluster_limit"`
}

// Load reads and parses the config file at path, applies environment overrides
// and defaults, and expands paths. An empty path yields the defaults with paths
// relative to the working directory.
func Load(path string) (*Config, error) {
	var cfg Config
	configDir := "."
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		configDir = filepath.Dir(path)
	}
	if wd, err := filepath.Abs(configDir); err == nil {
		configDir = wd
	}

	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)

	cfg.Storage.DataDir = expandPath(cfg.Storage.DataDir, configDir)
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = filepath.Join(cfg.Storage.DataDir, "graph.db")
	} else if cfg.Storage.DatabasePath != ":memory:" {
		cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = filepath.Join(cfg.Storage.DataDir, "bleve")
	} else {
		cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case graph.BackendMemory, graph.BackendSQLite:
	case graph.BackendNeo4j:
		if c.Neo4j.URI == "" {
			return fmt.Errorf("neo4j backend requires neo4j.uri or NEO4J_URI")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("chunk_overlap (%d) must be smaller than chunk_size (%d)", c.Ingest.ChunkOverlap, c.Ingest.ChunkSize)
	}
	return nil
}

// Backend returns the graph backend configuration.
func (c *Config) Backend() graph.BackendConfig {
	return graph.BackendConfig{
		Backend:    c.Storage.Backend,
		Path:       c.Storage.DatabasePath,
		Dimensions: c.Embedding.Dimensions,
		Neo4j: graph.Neo4jConfig{
			URI:      c.Neo4j.URI,
			Username: c.Neo4j.Username,
			Password: c.Neo4j.Password,
			Database: c.Neo4j.Database,
			Timeout:  time.Duration(c.Neo4j.TimeoutSeconds) * time.Second,
			MaxPool:  c.Neo4j.MaxPoolSize,
		},
	}
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
