package config

import (
	"fmt"
	"strconv"
	"strings"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides cfg with the environment variables the pipeline has always
// honoured. Empty values are ignored.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid %s %q: must be a positive integer", key, v)
		}
		*dst = n
		return nil
	}

	str("NEO4J_URI", &cfg.Neo4j.URI)
	str("NEO4J_USERNAME", &cfg.Neo4j.Username)
	str("NEO4J_PASSWORD", &cfg.Neo4j.Password)
	str("NEO4J_DATABASE", &cfg.Neo4j.Database)
	str("DATA_DIR", &cfg.Storage.DataDir)
	str("GRAPH_BACKEND", &cfg.Storage.Backend)
	cfg.Storage.Backend = strings.ToLower(cfg.Storage.Backend)
	if err := num("CHUNK_SIZE", &cfg.Ingest.ChunkSize); err != nil {
		return err
	}
	return num("CHUNK_OVERLAP", &cfg.Ingest.ChunkOverlap)
}
