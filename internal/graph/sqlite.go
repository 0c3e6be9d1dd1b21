package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tejnc/threat-intel-pipeline/internal/models"
	"github.com/tejnc/threat-intel-pipeline/internal/vector"
)

// SQLiteStore persists the graph in SQLite. Merge-on-key writes are UPSERTs inside
// immediate transactions; the chunk vector index is kept in memory and rebuilt from
// stored embeddings when the schema is initialized.
type SQLiteStore struct {
	db      *sql.DB
	opts    Options
	vectors *vector.MemoryIndex

	// chunkMu orders chunk row commits with their vector index updates.
	chunkMu sync.Mutex
}

// NewSQLiteStore opens or creates a SQLite database at dbPath.
// Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string, dimensions int, opts ...Option) (*SQLiteStore, error) {
	o := buildOptions(dimensions, opts)
	idx, err := vector.NewMemoryIndex(o.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	memory := dbPath == ":memory:"
	if !memory {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("%w: create database directory: %v", ErrStoreUnavailable, err)
			}
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_txlock=immediate&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", ErrStoreUnavailable, err)
	}
	if memory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: enable WAL: %v", ErrStoreUnavailable, err)
	}
	return &SQLiteStore{db: db, opts: o, vectors: idx}, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS campaigns (
	name TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	props TEXT NOT NULL DEFAULT '{}',
	campaign TEXT REFERENCES campaigns(name),
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_campaign ON documents(campaign);

CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id),
	text TEXT NOT NULL,
	embedding BLOB,
	metadata TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON chunks(document_id);

CREATE TABLE IF NOT EXISTS indicators (
	value TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	first_seen INTEGER,
	last_seen INTEGER
);

CREATE INDEX IF NOT EXISTS idx_indicators_type ON indicators(type);

CREATE TABLE IF NOT EXISTS mentions (
	indicator TEXT NOT NULL REFERENCES indicators(value),
	document_id TEXT NOT NULL REFERENCES documents(id),
	confidence REAL NOT NULL,
	context_chunk_id TEXT,
	ts INTEGER NOT NULL,
	PRIMARY KEY (indicator, document_id, confidence)
);

CREATE INDEX IF NOT EXISTS idx_mentions_document_id ON mentions(document_id);

CREATE TABLE IF NOT EXISTS relations (
	source TEXT NOT NULL REFERENCES indicators(value),
	target TEXT NOT NULL REFERENCES indicators(value),
	PRIMARY KEY (source, target)
);

CREATE INDEX IF NOT EXISTS idx_relations_target ON relations(target);
`

// InitSchema creates tables and indexes if missing and loads stored embeddings
// of the configured dimension into the vector index.
func (s *SQLiteStore) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return s.wrap("init schema", err)
	}
	s.chunkMu.Lock()
	defer s.chunkMu.Unlock()
	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM chunks WHERE embedding IS NOT NULL`)
	if err != nil {
		return s.wrap("load embeddings", err)
	}
	defer rows.Close()
	var ids []string
	var vecs [][]float32
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return err
		}
		v, err := vector.Decode(blob)
		if err != nil || len(v) != s.opts.Dimensions {
			continue
		}
		ids = append(ids, id)
		vecs = append(vecs, v)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	return s.vectors.Upsert(ctx, ids, vecs)
}

// Dimensions returns the vector index dimension.
func (s *SQLiteStore) Dimensions() int {
	return s.opts.Dimensions
}

func (s *SQLiteStore) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidArgument) {
		return err
	}
	if pingErr := s.db.Ping(); pingErr != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *SQLiteStore) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap(op, err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return s.wrap(op, err)
	}
	return s.wrap(op, tx.Commit())
}

func documentExists(ctx context.Context, tx *sql.Tx, id string) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	return err
}

// UpsertDocument merges by id. Props are applied as a JSON merge patch, so a nil
// value removes the property.
func (s *SQLiteStore) UpsertDocument(ctx context.Context, id string, props map[string]any) error {
	if id == "" {
		return fmt.Errorf("%w: document id is empty", ErrInvalidArgument)
	}
	if props == nil {
		props = map[string]any{}
	}
	propsJSON, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("%w: marshal props: %v", ErrInvalidArgument, err)
	}
	now := s.opts.Clock().UnixNano()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (id, props, created_at, updated_at)
		 VALUES (?, json_patch('{}', ?), ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   props = json_patch(documents.props, ?),
		   updated_at = excluded.updated_at`,
		id, string(propsJSON), now, now, string(propsJSON),
	)
	return s.wrap("upsert document", err)
}

// AddChunk merges a chunk by id under docID.
func (s *SQLiteStore) AddChunk(ctx context.Context, docID string, chunk *models.Chunk) error {
	if chunk == nil || chunk.ID == "" {
		return fmt.Errorf("%w: chunk id is empty", ErrInvalidArgument)
	}
	metaJSON, err := json.Marshal(chunk.Metadata)
	if err != nil {
		return fmt.Errorf("%w: marshal metadata: %v", ErrInvalidArgument, err)
	}
	if chunk.Metadata == nil {
		metaJSON = []byte("{}")
	}
	var blob []byte
	if chunk.Embedding != nil {
		blob = vector.Encode(chunk.Embedding)
	}
	s.chunkMu.Lock()
	defer s.chunkMu.Unlock()
	err = s.withTx(ctx, "add chunk", func(tx *sql.Tx) error {
		if err := documentExists(ctx, tx, docID); err != nil {
			return err
		}
		var parent string
		err := tx.QueryRowContext(ctx, `SELECT document_id FROM chunks WHERE id = ?`, chunk.ID).Scan(&parent)
		switch {
		case err == sql.ErrNoRows:
		case err != nil:
			return err
		case parent != docID:
			return fmt.Errorf("%w: chunk %q already belongs to document %q", ErrInvalidArgument, chunk.ID, parent)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO chunks (id, document_id, text, embedding, metadata)
			 VALUES (?, ?, ?, ?, json_patch('{}', ?))
			 ON CONFLICT(id) DO UPDATE SET
			   text = excluded.text,
			   embedding = COALESCE(excluded.embedding, chunks.embedding),
			   metadata = json_patch(chunks.metadata, ?)`,
			chunk.ID, docID, chunk.Text, blob, string(metaJSON), string(metaJSON),
		)
		return err
	})
	if err != nil {
		return err
	}
	if chunk.Embedding == nil {
		return nil
	}
	if len(chunk.Embedding) != s.opts.Dimensions {
		return s.vectors.Remove(ctx, []string{chunk.ID})
	}
	return s.vectors.Upsert(ctx, []string{chunk.ID}, [][]float32{chunk.Embedding})
}

// AddIndicator merges the indicator and its mention edge in one transaction.
func (s *SQLiteStore) AddIndicator(ctx context.Context, cand models.IndicatorCandidate, docID, contextChunkID string) error {
	if cand.Value == "" {
		return fmt.Errorf("%w: indicator value is empty", ErrInvalidArgument)
	}
	now := s.opts.Clock()
	first, last := candidateTimes(cand, now)
	var chunkRef any
	if contextChunkID != "" {
		chunkRef = contextChunkID
	}
	return s.withTx(ctx, "add indicator", func(tx *sql.Tx) error {
		if err := documentExists(ctx, tx, docID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO indicators (value, type, first_seen, last_seen)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(value) DO UPDATE SET
			   type = excluded.type,
			   first_seen = COALESCE(indicators.first_seen, excluded.first_seen),
			   last_seen = excluded.last_seen`,
			cand.Value, cand.Type, first.UnixNano(), last.UnixNano(),
		); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO mentions (indicator, document_id, confidence, context_chunk_id, ts)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(indicator, document_id, confidence) DO UPDATE SET
			   context_chunk_id = excluded.context_chunk_id,
			   ts = excluded.ts`,
			cand.Value, docID, confidenceOf(cand), chunkRef, now.UnixNano(),
		)
		return err
	})
}

// AssignCampaign merges the campaign and sets it on the document.
func (s *SQLiteStore) AssignCampaign(ctx context.Context, docID, campaign string) error {
	if campaign == "" {
		return fmt.Errorf("%w: campaign name is empty", ErrInvalidArgument)
	}
	return s.withTx(ctx, "assign campaign", func(tx *sql.Tx) error {
		if err := documentExists(ctx, tx, docID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO campaigns (name) VALUES (?)`, campaign); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE documents SET campaign = ? WHERE id = ?`, campaign, docID)
		return err
	})
}

// Relate merges a RELATED_TO edge.
func (s *SQLiteStore) Relate(ctx context.Context, from, to string) error {
	if from == to {
		return fmt.Errorf("%w: cannot relate indicator %q to itself", ErrInvalidArgument, from)
	}
	return s.withTx(ctx, "relate", func(tx *sql.Tx) error {
		for _, v := range []string{from, to} {
			var one int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM indicators WHERE value = ?`, v).Scan(&one)
			if err == sql.ErrNoRows {
				return fmt.Errorf("indicator %q: %w", v, ErrNotFound)
			}
			if err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO relations (source, target) VALUES (?, ?)`, from, to)
		return err
	})
}

// GetDocument returns a document by id.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var propsJSON string
	var campaign sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT props, campaign FROM documents WHERE id = ?`, id,
	).Scan(&propsJSON, &campaign)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, s.wrap("get document", err)
	}
	doc := &models.Document{ID: id, Props: make(map[string]any), Campaign: campaign.String}
	if err := json.Unmarshal([]byte(propsJSON), &doc.Props); err != nil {
		return nil, fmt.Errorf("unmarshal document props: %w", err)
	}
	return doc, nil
}

// GetChunk returns a chunk by id.
func (s *SQLiteStore) GetChunk(ctx context.Context, id string) (*models.Chunk, error) {
	var c models.Chunk
	var blob []byte
	var metaJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, document_id, text, embedding, metadata FROM chunks WHERE id = ?`, id,
	).Scan(&c.ID, &c.DocumentID, &c.Text, &blob, &metaJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("chunk %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, s.wrap("get chunk", err)
	}
	if blob != nil {
		if c.Embedding, err = vector.Decode(blob); err != nil {
			return nil, err
		}
	}
	if err := json.Unmarshal([]byte(metaJSON), &c.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal chunk metadata: %w", err)
	}
	return &c, nil
}

func scanIndicator(sc interface{ Scan(...any) error }) (*models.Indicator, error) {
	var ind models.Indicator
	var first, last sql.NullInt64
	if err := sc.Scan(&ind.Value, &ind.Type, &first, &last); err != nil {
		return nil, err
	}
	if first.Valid {
		ind.FirstSeen = time.Unix(0, first.Int64)
	}
	if last.Valid {
		ind.LastSeen = time.Unix(0, last.Int64)
	}
	return &ind, nil
}

// GetIndicator returns an indicator by value.
func (s *SQLiteStore) GetIndicator(ctx context.Context, value string) (*models.Indicator, error) {
	ind, err := scanIndicator(s.db.QueryRowContext(ctx,
		`SELECT value, type, first_seen, last_seen FROM indicators WHERE value = ?`, value))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("indicator %q: %w", value, ErrNotFound)
	}
	if err != nil {
		return nil, s.wrap("get indicator", err)
	}
	return ind, nil
}

// IndicatorsByType returns all indicators of typ.
func (s *SQLiteStore) IndicatorsByType(ctx context.Context, typ string) ([]*models.Indicator, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT value, type, first_seen, last_seen FROM indicators WHERE type = ? ORDER BY value`, typ)
	if err != nil {
		return nil, s.wrap("indicators by type", err)
	}
	defer rows.Close()
	out := make([]*models.Indicator, 0)
	for rows.Next() {
		ind, err := scanIndicator(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ind)
	}
	return out, rows.Err()
}

// Mentions returns the indicator's mention edges.
func (s *SQLiteStore) Mentions(ctx context.Context, value string) ([]*models.Mention, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT indicator, document_id, confidence, context_chunk_id, ts
		 FROM mentions WHERE indicator = ?`, value)
	if err != nil {
		return nil, s.wrap("mentions", err)
	}
	defer rows.Close()
	out := make([]*models.Mention, 0)
	for rows.Next() {
		var m models.Mention
		var chunkID sql.NullString
		var ts int64
		if err := rows.Scan(&m.IndicatorValue, &m.DocumentID, &m.Confidence, &chunkID, &ts); err != nil {
			return nil, err
		}
		m.ContextChunkID = chunkID.String
		m.TS = time.Unix(0, ts)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// neighborQueries lists, per node kind, the SQL returning incident edges as
// (edge id, type, source kind, source key, target kind, target key).
var neighborQueries = map[models.NodeKind][]string{
	models.KindIndicator: {
		`SELECT 'm:' || indicator || '|' || document_id || '|' || confidence, 'MENTIONED_IN', 'Indicator', indicator, 'Document', document_id
		 FROM mentions WHERE indicator = ?1`,
		`SELECT 'r:' || source || '|' || target, 'RELATED_TO', 'Indicator', source, 'Indicator', target
		 FROM relations WHERE source = ?1 OR target = ?1`,
	},
	models.KindDocument: {
		`SELECT 'm:' || indicator || '|' || document_id || '|' || confidence, 'MENTIONED_IN', 'Indicator', indicator, 'Document', document_id
		 FROM mentions WHERE document_id = ?1`,
		`SELECT 'p:' || id, 'PART_OF', 'Chunk', id, 'Document', document_id
		 FROM chunks WHERE document_id = ?1`,
		`SELECT 'c:' || id, 'PART_OF_CAMPAIGN', 'Document', id, 'Campaign', campaign
		 FROM documents WHERE id = ?1 AND campaign IS NOT NULL`,
	},
	models.KindChunk: {
		`SELECT 'p:' || id, 'PART_OF', 'Chunk', id, 'Document', document_id
		 FROM chunks WHERE id = ?1`,
	},
	models.KindCampaign: {
		`SELECT 'c:' || id, 'PART_OF_CAMPAIGN', 'Document', id, 'Campaign', campaign
		 FROM documents WHERE campaign = ?1`,
	},
}

// Neighbors returns every edge incident to ref.
func (s *SQLiteStore) Neighbors(ctx context.Context, ref models.NodeRef) ([]models.Neighbor, error) {
	out := make([]models.Neighbor, 0)
	for _, q := range neighborQueries[ref.Kind] {
		rows, err := s.db.QueryContext(ctx, q, ref.Key)
		if err != nil {
			return nil, s.wrap("neighbors", err)
		}
		for rows.Next() {
			var e models.Edge
			var srcKind, dstKind string
			if err := rows.Scan(&e.ID, &e.Type, &srcKind, &e.Source.Key, &dstKind, &e.Target.Key); err != nil {
				rows.Close()
				return nil, err
			}
			e.Source.Kind = models.NodeKind(srcKind)
			e.Target.Kind = models.NodeKind(dstKind)
			other := e.Target
			if other == ref {
				other = e.Source
			}
			out = append(out, models.Neighbor{Edge: e, Node: other})
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// TypedMentions returns mention rows for indicators whose type starts with typePrefix.
func (s *SQLiteStore) TypedMentions(ctx context.Context, typePrefix string) ([]models.TypedMention, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT i.value, i.type, m.document_id
		 FROM mentions m JOIN indicators i ON i.value = m.indicator
		 WHERE substr(i.type, 1, length(?1)) = ?1`, typePrefix)
	if err != nil {
		return nil, s.wrap("typed mentions", err)
	}
	defer rows.Close()
	out := make([]models.TypedMention, 0)
	for rows.Next() {
		var tm models.TypedMention
		if err := rows.Scan(&tm.IndicatorValue, &tm.IndicatorType, &tm.DocumentID); err != nil {
			return nil, err
		}
		out = append(out, tm)
	}
	return out, rows.Err()
}

// CampaignMentions joins mentions with document campaigns.
func (s *SQLiteStore) CampaignMentions(ctx context.Context) ([]models.CampaignMention, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT m.indicator, d.campaign
		 FROM mentions m JOIN documents d ON d.id = m.document_id
		 WHERE d.campaign IS NOT NULL`)
	if err != nil {
		return nil, s.wrap("campaign mentions", err)
	}
	defer rows.Close()
	out := make([]models.CampaignMention, 0)
	for rows.Next() {
		var cm models.CampaignMention
		if err := rows.Scan(&cm.IndicatorValue, &cm.Campaign); err != nil {
			return nil, err
		}
		out = append(out, cm)
	}
	return out, rows.Err()
}

// VectorSearch queries the chunk vector index.
func (s *SQLiteStore) VectorSearch(ctx context.Context, query []float32, k int) ([]models.ScoredChunk, error) {
	return searchIndex(ctx, s.vectors, query, k, func(id string) (*models.Chunk, error) {
		return s.GetChunk(ctx, id)
	})
}

// Stats counts entities.
func (s *SQLiteStore) Stats(ctx context.Context) (*models.Stats, error) {
	st := &models.Stats{VectorChunks: int64(s.vectors.Size())}
	counts := []struct {
		table string
		dst   *int64
	}{
		{"documents", &st.Documents},
		{"chunks", &st.Chunks},
		{"indicators", &st.Indicators},
		{"campaigns", &st.Campaigns},
		{"mentions", &st.Mentions},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+c.table).Scan(c.dst); err != nil {
			return nil, s.wrap("stats", err)
		}
	}
	return st, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	_ = s.vectors.Close()
	return s.db.Close()
}

// isSQLiteURI reports whether a backend path looks like a sqlite DSN rather than a directory.
func isSQLiteURI(path string) bool {
	return path == ":memory:" || strings.HasSuffix(path, ".db") || strings.HasSuffix(path, ".sqlite")
}
