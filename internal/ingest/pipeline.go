// Package ingest loads report documents into the graph: it chunks and embeds
// their text, infers campaigns from file names and records every indicator
// found in each chunk.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tejnc/threat-intel-pipeline/internal/embedding"
	"github.com/tejnc/threat-intel-pipeline/internal/extract"
	"github.com/tejnc/threat-intel-pipeline/internal/graph"
	"github.com/tejnc/threat-intel-pipeline/internal/indicator"
	"github.com/tejnc/threat-intel-pipeline/internal/keyword"
	"github.com/tejnc/threat-intel-pipeline/internal/metrics"
	"github.com/tejnc/threat-intel-pipeline/internal/models"
)

// Document props written by the pipeline.
const (
	PropPath      = "path"
	PropIngestRun = "ingestRun"
)

// Source is one document to ingest. When Pages is empty, Text is treated as a
// single page.
type Source struct {
	ID       string
	Text     string
	Pages    []extract.Page
	Props    map[string]any
	Campaign string
}

// Result summarizes one ingested document.
type Result struct {
	DocumentID string `json:"documentId"`
	Campaign   string `json:"campaign,omitempty"`
	Chunks     int    `json:"chunks"`
	Indicators int    `json:"indicators"`
}

// Pipeline writes documents into a graph store.
type Pipeline struct {
	store        graph.Writer
	embedder     embedding.Embedder
	keywordIndex keyword.KeywordIndex
	indicators   *indicator.Extractor
	files        *extract.Extractor
	chunker      *Chunker
	extensions   []string
	workers      int
	runID        string
	logger       *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithKeywordIndex also indexes chunk text for full-text search.
func WithKeywordIndex(idx keyword.KeywordIndex) Option {
	return func(p *Pipeline) { p.keywordIndex = idx }
}

// WithChunking sets chunk size and overlap in runes.
func WithChunking(size, overlap int) Option {
	return func(p *Pipeline) { p.chunker = NewChunker(size, overlap) }
}

// WithWorkers bounds how many documents are ingested concurrently.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithExtensions restricts IngestDir to files with these extensions.
func WithExtensions(exts []string) Option {
	return func(p *Pipeline) { p.extensions = exts }
}

// WithIndicatorExtractor replaces the default indicator registry.
func WithIndicatorExtractor(e *indicator.Extractor) Option {
	return func(p *Pipeline) {
		if e != nil {
			p.indicators = e
		}
	}
}

// NewPipeline creates a pipeline writing to store. Every document it writes is
// stamped with the pipeline's run id.
func NewPipeline(store graph.Writer, embedder embedding.Embedder, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:      store,
		embedder:   embedder,
		indicators: indicator.NewExtractor(),
		files:      extract.NewExtractor(),
		chunker:    NewChunker(500, 50),
		extensions: []string{".pdf"},
		workers:    4,
		runID:      uuid.New().String(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunID identifies this pipeline's writes in document props.
func (p *Pipeline) RunID() string {
	return p.runID
}

// IngestDocument upserts the document, assigns its campaign, then writes each
// chunk with its embedding and the indicators found in it.
func (p *Pipeline) IngestDocument(ctx context.Context, src Source) (res *Result, err error) {
	defer func() { metrics.RecordIngest(err) }()
	if src.ID == "" {
		return nil, fmt.Errorf("%w: document id is empty", graph.ErrInvalidArgument)
	}
	log := p.logger.With(zap.String("doc_id", src.ID), zap.String("run", p.runID))

	props := make(map[string]any, len(src.Props)+1)
	for k, v := range src.Props {
		props[k] = v
	}
	props[PropIngestRun] = p.runID
	err = p.store.UpsertDocument(ctx, src.ID, props)
	metrics.RecordWrite("upsert_document", err)
	if err != nil {
		return nil, fmt.Errorf("upsert document %s: %w", src.ID, err)
	}
	if src.Campaign != "" {
		err = p.store.AssignCampaign(ctx, src.ID, src.Campaign)
		metrics.RecordWrite("assign_campaign", err)
		if err != nil {
			return nil, fmt.Errorf("assign campaign %s: %w", src.Campaign, err)
		}
	}

	pages := src.Pages
	if len(pages) == 0 {
		pages = []extract.Page{{Number: 1, Text: src.Text}}
	}
	chunks := p.chunker.ChunkPages(src.ID, pages)
	res = &Result{DocumentID: src.ID, Campaign: src.Campaign, Chunks: len(chunks)}
	if len(chunks) == 0 {
		log.Info("document has no text")
		return res, nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vecs, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(vecs) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vecs), len(chunks))
	}

	seen := make(map[string]struct{})
	for i, ch := range chunks {
		ch.Embedding = vecs[i]
		err = p.store.AddChunk(ctx, src.ID, ch)
		metrics.RecordWrite("add_chunk", err)
		if err != nil {
			return nil, fmt.Errorf("add chunk %s: %w", ch.ID, err)
		}
		if p.keywordIndex != nil {
			if err = p.keywordIndex.Index(ctx, ch); err != nil {
				return nil, fmt.Errorf("failed to index keywords: %w", err)
			}
		}
		if err = p.addIndicators(ctx, src.ID, ch, seen); err != nil {
			return nil, err
		}
	}
	res.Indicators = len(seen)
	log.Info("document ingested",
		zap.String("campaign", src.Campaign),
		zap.Int("chunks", res.Chunks),
		zap.Int("indicators", res.Indicators))
	return res, nil
}

func (p *Pipeline) addIndicators(ctx context.Context, docID string, ch *models.Chunk, seen map[string]struct{}) error {
	for _, cand := range p.indicators.Extract(ch.Text) {
		metrics.RecordExtracted(cand.Type)
		err := p.store.AddIndicator(ctx, cand, docID, ch.ID)
		metrics.RecordWrite("add_indicator", err)
		if err != nil {
			return fmt.Errorf("add indicator %s %q: %w", cand.Type, cand.Value, err)
		}
		seen[cand.Value] = struct{}{}
	}
	return nil
}

// IngestFile extracts the file and ingests it. The document id is the file name
// without extension and the campaign is inferred from the file name.
func (p *Pipeline) IngestFile(ctx context.Context, path string) (*Result, error) {
	pages, err := p.files.ExtractPages(path)
	if err != nil {
		metrics.RecordIngest(err)
		return nil, fmt.Errorf("extract %s: %w", path, err)
	}
	return p.IngestDocument(ctx, Source{
		ID:       DocumentID(path),
		Pages:    pages,
		Props:    map[string]any{PropPath: path},
		Campaign: CampaignFromFilename(path),
	})
}

// IngestFiles ingests paths concurrently with at most the configured number of
// workers. The first failure cancels the remaining files and is returned.
// Results are in input order.
func (p *Pipeline) IngestFiles(ctx context.Context, paths []string) ([]*Result, error) {
	results := make([]*Result, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := p.IngestFile(gctx, path)
			if err != nil {
				p.logger.Error("ingest failed", zap.String("path", path), zap.Error(err))
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// IngestDir ingests every file under dir whose extension is allowed.
func (p *Pipeline) IngestDir(ctx context.Context, dir string) ([]*Result, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", absDir)
	}
	var paths []string
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if !extensionAllowed(filepath.Ext(path), p.extensions) || !p.files.Supported(filepath.Ext(path)) {
			p.logger.Debug("skipping file", zap.String("path", path))
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.logger.Info("ingesting directory", zap.String("dir", absDir), zap.Int("files", len(paths)))
	return p.IngestFiles(ctx, paths)
}

func extensionAllowed(ext string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
