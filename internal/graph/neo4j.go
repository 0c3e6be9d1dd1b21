package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/tejnc/threat-intel-pipeline/internal/models"
)

// VectorIndexName is the name of the Neo4j vector index over chunk embeddings.
const VectorIndexName = "chunk_vec"

// Neo4jConfig holds connection settings.
type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
	Timeout  time.Duration
	MaxPool  int
}

// Neo4jStore is the Neo4j backend. Every write runs in a managed write
// transaction so transient failures are retried by the driver.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
	opts     Options
}

// NewNeo4jStore creates a driver and verifies connectivity.
func NewNeo4jStore(ctx context.Context, cfg Neo4jConfig, dimensions int, opts ...Option) (*Neo4jStore, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("%w: neo4j uri is empty", ErrInvalidArgument)
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive, got %d", ErrInvalidArgument, dimensions)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxPool <= 0 {
		cfg.MaxPool = 50
	}
	auth := neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth, func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = cfg.MaxPool
		c.SocketConnectTimeout = cfg.Timeout
	})
	if err != nil {
		return nil, fmt.Errorf("init neo4j driver: %w", err)
	}
	vctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("%w: verify connectivity: %v", ErrStoreUnavailable, err)
	}
	return &Neo4jStore{
		driver:   driver,
		database: cfg.Database,
		opts:     buildOptions(dimensions, opts),
	}, nil
}

// Dimensions returns the vector index dimension.
func (s *Neo4jStore) Dimensions() int {
	return s.opts.Dimensions
}

// Close closes the driver.
func (s *Neo4jStore) Close() error {
	return s.driver.Close(context.Background())
}

func (s *Neo4jStore) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidArgument) {
		return err
	}
	if neo4j.IsConnectivityError(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Neo4jStore) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: s.database,
	})
}

func (s *Neo4jStore) query(ctx context.Context, op, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)
	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, s.wrap(op, err)
	}
	return out.([]*neo4j.Record), nil
}

func (s *Neo4jStore) write(ctx context.Context, op string, fn func(tx neo4j.ManagedTransaction) error) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(tx)
	})
	return s.wrap(op, err)
}

// single runs cypher and returns its only record, or nil when it returned none.
func single(ctx context.Context, tx neo4j.ManagedTransaction, cypher string, params map[string]any) (*neo4j.Record, error) {
	res, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	records, err := res.Collect(ctx)
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return records[0], nil
}

// InitSchema creates uniqueness constraints and the cosine vector index.
func (s *Neo4jStore) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE CONSTRAINT document_id_unique IF NOT EXISTS FOR (d:Document) REQUIRE d.id IS UNIQUE`,
		`CREATE CONSTRAINT chunk_id_unique IF NOT EXISTS FOR (c:Chunk) REQUIRE c.id IS UNIQUE`,
		`CREATE CONSTRAINT indicator_value_unique IF NOT EXISTS FOR (i:Indicator) REQUIRE i.value IS UNIQUE`,
		`CREATE CONSTRAINT campaign_name_unique IF NOT EXISTS FOR (c:Campaign) REQUIRE c.name IS UNIQUE`,
		fmt.Sprintf("CREATE VECTOR INDEX %s IF NOT EXISTS FOR (c:Chunk) ON c.embedding "+
			"OPTIONS {indexConfig: {`vector.dimensions`: %d, `vector.similarity_function`: 'cosine'}}",
			VectorIndexName, s.opts.Dimensions),
	}
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)
	for _, q := range stmts {
		res, err := session.Run(ctx, q, nil)
		if err != nil {
			return s.wrap("init schema", err)
		}
		if _, err := res.Consume(ctx); err != nil {
			return s.wrap("init schema", err)
		}
	}
	return nil
}

// UpsertDocument merges by id. A nil prop value removes the property.
func (s *Neo4jStore) UpsertDocument(ctx context.Context, id string, props map[string]any) error {
	if id == "" {
		return fmt.Errorf("%w: document id is empty", ErrInvalidArgument)
	}
	if props == nil {
		props = map[string]any{}
	}
	return s.write(ctx, "upsert document", func(tx neo4j.ManagedTransaction) error {
		_, err := single(ctx, tx, `
MERGE (d:Document {id: $id})
SET d += $props
`, map[string]any{"id": id, "props": props})
		return err
	})
}

// AddChunk merges a chunk under docID. An embedding of the wrong length is not
// stored, so the vector index never sees it.
func (s *Neo4jStore) AddChunk(ctx context.Context, docID string, chunk *models.Chunk) error {
	if chunk == nil || chunk.ID == "" {
		return fmt.Errorf("%w: chunk id is empty", ErrInvalidArgument)
	}
	meta := make(map[string]any, len(chunk.Metadata))
	for k, v := range chunk.Metadata {
		switch k {
		case "id", "text", "embedding", "docId":
		default:
			meta[k] = v
		}
	}
	embeddingClause := ""
	params := map[string]any{"doc": docID, "id": chunk.ID, "text": chunk.Text, "meta": meta}
	if chunk.Embedding != nil {
		if len(chunk.Embedding) == s.opts.Dimensions {
			embeddingClause = "SET c.embedding = $embedding"
			params["embedding"] = toFloat64s(chunk.Embedding)
		} else {
			embeddingClause = "REMOVE c.embedding"
		}
	}
	return s.write(ctx, "add chunk", func(tx neo4j.ManagedTransaction) error {
		rec, err := single(ctx, tx, `
MATCH (d:Document {id: $doc})
OPTIONAL MATCH (:Chunk {id: $id})-[:PART_OF]->(p:Document)
RETURN p.id AS parent
`, params)
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("document %q: %w", docID, ErrNotFound)
		}
		if parent := getStringFromRecord(rec, "parent"); parent != "" && parent != docID {
			return fmt.Errorf("%w: chunk %q already belongs to document %q", ErrInvalidArgument, chunk.ID, parent)
		}
		_, err = single(ctx, tx, `
MATCH (d:Document {id: $doc})
MERGE (c:Chunk {id: $id})
SET c += $meta, c.text = $text, c.docId = $doc
`+embeddingClause+`
MERGE (c)-[:PART_OF]->(d)
`, params)
		return err
	})
}

// AddIndicator merges the indicator and its mention edge. Nothing is written when
// the document is missing.
func (s *Neo4jStore) AddIndicator(ctx context.Context, cand models.IndicatorCandidate, docID, contextChunkID string) error {
	if cand.Value == "" {
		return fmt.Errorf("%w: indicator value is empty", ErrInvalidArgument)
	}
	now := s.opts.Clock()
	first, last := candidateTimes(cand, now)
	var chunkRef any
	if contextChunkID != "" {
		chunkRef = contextChunkID
	}
	params := map[string]any{
		"doc":        docID,
		"value":      cand.Value,
		"type":       cand.Type,
		"first":      first.UnixMilli(),
		"last":       last.UnixMilli(),
		"confidence": confidenceOf(cand),
		"chunk":      chunkRef,
		"ts":         now.UnixMilli(),
	}
	return s.write(ctx, "add indicator", func(tx neo4j.ManagedTransaction) error {
		rec, err := single(ctx, tx, `
MATCH (d:Document {id: $doc})
MERGE (i:Indicator {value: $value})
SET i.type = $type,
    i.firstSeen = coalesce(i.firstSeen, $first),
    i.lastSeen = $last
MERGE (i)-[m:MENTIONED_IN {confidence: $confidence}]->(d)
SET m.ts = $ts, m.contextChunkId = $chunk
RETURN count(m) AS n
`, params)
		if err != nil {
			return err
		}
		if rec == nil || getIntFromRecord(rec, "n") == 0 {
			return fmt.Errorf("document %q: %w", docID, ErrNotFound)
		}
		return nil
	})
}

// AssignCampaign replaces the document's campaign link.
func (s *Neo4jStore) AssignCampaign(ctx context.Context, docID, campaign string) error {
	if campaign == "" {
		return fmt.Errorf("%w: campaign name is empty", ErrInvalidArgument)
	}
	return s.write(ctx, "assign campaign", func(tx neo4j.ManagedTransaction) error {
		rec, err := single(ctx, tx, `
MATCH (d:Document {id: $doc})
OPTIONAL MATCH (d)-[old:PART_OF_CAMPAIGN]->()
DELETE old
WITH DISTINCT d
MERGE (c:Campaign {name: $name})
MERGE (d)-[:PART_OF_CAMPAIGN]->(c)
RETURN count(d) AS n
`, map[string]any{"doc": docID, "name": campaign})
		if err != nil {
			return err
		}
		if rec == nil || getIntFromRecord(rec, "n") == 0 {
			return fmt.Errorf("document %q: %w", docID, ErrNotFound)
		}
		return nil
	})
}

// Relate merges a RELATED_TO edge between two existing indicators.
func (s *Neo4jStore) Relate(ctx context.Context, from, to string) error {
	if from == to {
		return fmt.Errorf("%w: cannot relate indicator %q to itself", ErrInvalidArgument, from)
	}
	return s.write(ctx, "relate", func(tx neo4j.ManagedTransaction) error {
		rec, err := single(ctx, tx, `
MATCH (a:Indicator {value: $from}), (b:Indicator {value: $to})
MERGE (a)-[:RELATED_TO]->(b)
RETURN count(a) AS n
`, map[string]any{"from": from, "to": to})
		if err != nil {
			return err
		}
		if rec == nil || getIntFromRecord(rec, "n") == 0 {
			return fmt.Errorf("indicator %q or %q: %w", from, to, ErrNotFound)
		}
		return nil
	})
}

// GetDocument returns a document by id.
func (s *Neo4jStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	records, err := s.query(ctx, "get document", `
MATCH (d:Document {id: $id})
OPTIONAL MATCH (d)-[:PART_OF_CAMPAIGN]->(c:Campaign)
RETURN properties(d) AS props, c.name AS campaign
`, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	props := getMapFromRecord(records[0], "props")
	delete(props, "id")
	return &models.Document{ID: id, Props: props, Campaign: getStringFromRecord(records[0], "campaign")}, nil
}

func chunkFromProps(props map[string]any, docID string) *models.Chunk {
	c := &models.Chunk{DocumentID: docID, Metadata: make(map[string]any)}
	for k, v := range props {
		switch k {
		case "id":
			c.ID, _ = v.(string)
		case "text":
			c.Text, _ = v.(string)
		case "embedding":
			c.Embedding = toFloat32s(v)
		case "docId":
		default:
			c.Metadata[k] = v
		}
	}
	return c
}

// GetChunk returns a chunk by id.
func (s *Neo4jStore) GetChunk(ctx context.Context, id string) (*models.Chunk, error) {
	records, err := s.query(ctx, "get chunk", `
MATCH (c:Chunk {id: $id})-[:PART_OF]->(d:Document)
RETURN properties(c) AS props, d.id AS doc
`, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("chunk %q: %w", id, ErrNotFound)
	}
	return chunkFromProps(getMapFromRecord(records[0], "props"), getStringFromRecord(records[0], "doc")), nil
}

func indicatorFromRecord(rec *neo4j.Record) *models.Indicator {
	ind := &models.Indicator{
		Value: getStringFromRecord(rec, "value"),
		Type:  getStringFromRecord(rec, "type"),
	}
	if ms := getIntFromRecord(rec, "firstSeen"); ms != 0 {
		ind.FirstSeen = time.UnixMilli(ms)
	}
	if ms := getIntFromRecord(rec, "lastSeen"); ms != 0 {
		ind.LastSeen = time.UnixMilli(ms)
	}
	return ind
}

// GetIndicator returns an indicator by value.
func (s *Neo4jStore) GetIndicator(ctx context.Context, value string) (*models.Indicator, error) {
	records, err := s.query(ctx, "get indicator", `
MATCH (i:Indicator {value: $value})
RETURN i.value AS value, i.type AS type, i.firstSeen AS firstSeen, i.lastSeen AS lastSeen
`, map[string]any{"value": value})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("indicator %q: %w", value, ErrNotFound)
	}
	return indicatorFromRecord(records[0]), nil
}

// IndicatorsByType returns every indicator of typ.
func (s *Neo4jStore) IndicatorsByType(ctx context.Context, typ string) ([]*models.Indicator, error) {
	records, err := s.query(ctx, "indicators by type", `
MATCH (i:Indicator {type: $type})
RETURN i.value AS value, i.type AS type, i.firstSeen AS firstSeen, i.lastSeen AS lastSeen
ORDER BY value
`, map[string]any{"type": typ})
	if err != nil {
		return nil, err
	}
	out := make([]*models.Indicator, 0, len(records))
	for _, rec := range records {
		out = append(out, indicatorFromRecord(rec))
	}
	return out, nil
}

// Mentions returns the indicator's mention edges.
func (s *Neo4jStore) Mentions(ctx context.Context, value string) ([]*models.Mention, error) {
	records, err := s.query(ctx, "mentions", `
MATCH (:Indicator {value: $value})-[m:MENTIONED_IN]->(d:Document)
RETURN d.id AS doc, m.confidence AS confidence, m.contextChunkId AS chunk, m.ts AS ts
`, map[string]any{"value": value})
	if err != nil {
		return nil, err
	}
	out := make([]*models.Mention, 0, len(records))
	for _, rec := range records {
		out = append(out, &models.Mention{
			IndicatorValue: value,
			DocumentID:     getStringFromRecord(rec, "doc"),
			Confidence:     getFloatFromRecord(rec, "confidence"),
			ContextChunkID: getStringFromRecord(rec, "chunk"),
			TS:             time.UnixMilli(getIntFromRecord(rec, "ts")),
		})
	}
	return out, nil
}

// nodeKeys maps a node label to its key property.
var nodeKeys = map[models.NodeKind]string{
	models.KindDocument:  "id",
	models.KindChunk:     "id",
	models.KindIndicator: "value",
	models.KindCampaign:  "name",
}

// Neighbors returns every relationship incident to ref.
func (s *Neo4jStore) Neighbors(ctx context.Context, ref models.NodeRef) ([]models.Neighbor, error) {
	keyProp, ok := nodeKeys[ref.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown node kind %q", ErrInvalidArgument, ref.Kind)
	}
	records, err := s.query(ctx, "neighbors", fmt.Sprintf(`
MATCH (n:%s {%s: $key})-[r]-(o)
RETURN elementId(r) AS id, type(r) AS type, startNode(r) = n AS outgoing,
       labels(o)[0] AS kind,
       CASE WHEN o:Indicator THEN o.value WHEN o:Campaign THEN o.name ELSE o.id END AS key
`, ref.Kind, keyProp), map[string]any{"key": ref.Key})
	if err != nil {
		return nil, err
	}
	out := make([]models.Neighbor, 0, len(records))
	for _, rec := range records {
		other := models.NodeRef{
			Kind: models.NodeKind(getStringFromRecord(rec, "kind")),
			Key:  getStringFromRecord(rec, "key"),
		}
		e := models.Edge{ID: getStringFromRecord(rec, "id"), Type: getStringFromRecord(rec, "type"), Source: ref, Target: other}
		if !getBoolFromRecord(rec, "outgoing") {
			e.Source, e.Target = other, ref
		}
		out = append(out, models.Neighbor{Edge: e, Node: other})
	}
	return out, nil
}

// TypedMentions returns mention rows whose indicator type starts with typePrefix.
func (s *Neo4jStore) TypedMentions(ctx context.Context, typePrefix string) ([]models.TypedMention, error) {
	records, err := s.query(ctx, "typed mentions", `
MATCH (i:Indicator)-[:MENTIONED_IN]->(d:Document)
WHERE i.type STARTS WITH $prefix
RETURN i.value AS value, i.type AS type, d.id AS doc
`, map[string]any{"prefix": typePrefix})
	if err != nil {
		return nil, err
	}
	out := make([]models.TypedMention, 0, len(records))
	for _, rec := range records {
		out = append(out, models.TypedMention{
			IndicatorValue: getStringFromRecord(rec, "value"),
			IndicatorType:  getStringFromRecord(rec, "type"),
			DocumentID:     getStringFromRecord(rec, "doc"),
		})
	}
	return out, nil
}

// CampaignMentions returns distinct indicator and campaign pairs.
func (s *Neo4jStore) CampaignMentions(ctx context.Context) ([]models.CampaignMention, error) {
	records, err := s.query(ctx, "campaign mentions", `
MATCH (i:Indicator)-[:MENTIONED_IN]->(:Document)-[:PART_OF_CAMPAIGN]->(c:Campaign)
RETURN DISTINCT i.value AS value, c.name AS campaign
`, nil)
	if err != nil {
		return nil, err
	}
	out := make([]models.CampaignMention, 0, len(records))
	for _, rec := range records {
		out = append(out, models.CampaignMention{
			IndicatorValue: getStringFromRecord(rec, "value"),
			Campaign:       getStringFromRecord(rec, "campaign"),
		})
	}
	return out, nil
}

// VectorSearch queries the chunk_vec index. Neo4j reports cosine scores
// already normalized to [0,1].
func (s *Neo4jStore) VectorSearch(ctx context.Context, query []float32, k int) ([]models.ScoredChunk, error) {
	if k < 0 {
		return nil, fmt.Errorf("%w: k must be non-negative, got %d", ErrInvalidArgument, k)
	}
	if len(query) != s.opts.Dimensions {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", ErrInvalidArgument, len(query), s.opts.Dimensions)
	}
	if k == 0 {
		return []models.ScoredChunk{}, nil
	}
	records, err := s.query(ctx, "vector search", `
CALL db.index.vector.queryNodes($index, $k, $vector) YIELD node, score
MATCH (node)-[:PART_OF]->(d:Document)
RETURN properties(node) AS props, d.id AS doc, score
ORDER BY score DESC, props.id ASC
`, map[string]any{"index": VectorIndexName, "k": k, "vector": toFloat64s(query)})
	if err != nil {
		return nil, err
	}
	out := make([]models.ScoredChunk, 0, len(records))
	for _, rec := range records {
		out = append(out, models.ScoredChunk{
			Chunk: chunkFromProps(getMapFromRecord(rec, "props"), getStringFromRecord(rec, "doc")),
			Score: getFloatFromRecord(rec, "score"),
		})
	}
	return out, nil
}

// Stats counts entities.
func (s *Neo4jStore) Stats(ctx context.Context) (*models.Stats, error) {
	records, err := s.query(ctx, "stats", `
CALL { MATCH (d:Document) RETURN count(d) AS documents }
CALL { MATCH (c:Chunk) RETURN count(c) AS chunks }
CALL { MATCH (i:Indicator) RETURN count(i) AS indicators }
CALL { MATCH (c:Campaign) RETURN count(c) AS campaigns }
CALL { MATCH ()-[m:MENTIONED_IN]->() RETURN count(m) AS mentions }
CALL { MATCH (c:Chunk) WHERE c.embedding IS NOT NULL RETURN count(c) AS vectors }
RETURN documents, chunks, indicators, campaigns, mentions, vectors
`, nil)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return &models.Stats{}, nil
	}
	rec := records[0]
	return &models.Stats{
		Documents:    getIntFromRecord(rec, "documents"),
		Chunks:       getIntFromRecord(rec, "chunks"),
		Indicators:   getIntFromRecord(rec, "indicators"),
		Campaigns:    getIntFromRecord(rec, "campaigns"),
		Mentions:     getIntFromRecord(rec, "mentions"),
		VectorChunks: getIntFromRecord(rec, "vectors"),
	}, nil
}

func getStringFromRecord(record *neo4j.Record, key string) string {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return ""
	}
	if str, ok := val.(string); ok {
		return str
	}
	return ""
}

func getIntFromRecord(record *neo4j.Record, key string) int64 {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return 0
	}
	switch v := val.(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

func getFloatFromRecord(record *neo4j.Record, key string) float64 {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return 0
	}
	switch v := val.(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

func getBoolFromRecord(record *neo4j.Record, key string) bool {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return false
	}
	b, _ := val.(bool)
	return b
}

func getMapFromRecord(record *neo4j.Record, key string) map[string]any {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return map[string]any{}
	}
	if m, ok := val.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func toFloat64s(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

func toFloat32s(v any) []float32 {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]float32, 0, len(list))
	for _, x := range list {
		switch f := x.(type) {
		case float64:
			out = append(out, float32(f))
		case int64:
			out = append(out, float32(f))
		}
	}
	return out
}
