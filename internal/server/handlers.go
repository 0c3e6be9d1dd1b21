package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tejnc/threat-intel-pipeline/internal/graph"
	"github.com/tejnc/threat-intel-pipeline/internal/intent"
	"github.com/tejnc/threat-intel-pipeline/internal/models"
)

// maxBodyBytes bounds POST bodies.
const maxBodyBytes = 4 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	k, ok := s.intParam(w, r, "k", 0)
	if !ok {
		return
	}
	q := &models.SearchQuery{Query: r.URL.Query().Get("q"), K: k}
	resp, err := s.app.Search.Search(r.Context(), q)
	if err != nil {
		s.respondStoreError(w, "search", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIndicators(w http.ResponseWriter, r *http.Request) {
	rows, err := s.app.Query.IndicatorLookup(r.Context(), s.pathParam(r, "type"))
	if err != nil {
		s.respondStoreError(w, "indicator lookup", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"results": rows})
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	rows, err := s.app.Query.ContextForIndicator(r.Context(), s.pathParam(r, "indicator"))
	if err != nil {
		s.respondStoreError(w, "context", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"context": rows})
}

func (s *Server) handleRelationships(w http.ResponseWriter, r *http.Request) {
	hops, ok := s.intParam(w, r, "hops", intent.DefaultRelationshipHops)
	if !ok {
		return
	}
	related, err := s.app.Query.Relationships(r.Context(), s.pathParam(r, "indicator"), hops)
	if err != nil {
		s.respondStoreError(w, "relationships", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"related": related})
}

func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	hops, ok := s.intParam(w, r, "hops", intent.DefaultNetworkHops)
	if !ok {
		return
	}
	network, err := s.app.Query.Network(r.Context(), s.pathParam(r, "indicator"), hops)
	if err != nil {
		s.respondStoreError(w, "network", err)
		return
	}
	s.respondJSON(w, http.StatusOK, network)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	entries, err := s.app.Query.Timeline(r.Context(), s.pathParam(r, "indicator"))
	if err != nil {
		s.respondStoreError(w, "timeline", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"timeline": entries})
}

func (s *Server) handleClusters(w http.ResponseWriter, r *http.Request) {
	clusters, err := s.app.Query.ClustersByHandle(r.Context())
	if err != nil {
		s.respondStoreError(w, "clusters", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"clusters": clusters})
}

func (s *Server) handleAcrossCampaigns(w http.ResponseWriter, r *http.Request) {
	rows, err := s.app.Query.AcrossCampaigns(r.Context())
	if err != nil {
		s.respondStoreError(w, "across campaigns", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"indicators": rows})
}

type extractRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"indicators": s.app.Indicators.Extract(req.Text)})
}

func (s *Server) handleIntent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	in, err := intent.Decode(body)
	if err != nil {
		s.respondStoreError(w, "intent", err)
		return
	}
	out, err := s.app.Intents.Dispatch(r.Context(), in)
	if err != nil {
		s.respondStoreError(w, "intent", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"kind": in.Kind(), "result": out})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.app.Query.Stats(r.Context())
	if err != nil {
		s.respondStoreError(w, "status", err)
		return
	}
	cfg := s.app.Config
	resp := map[string]any{
		"stats": stats,
		"config": map[string]any{
			"backend":              cfg.Storage.Backend,
			"embedding_dimensions": s.app.Store.Dimensions(),
			"chunk_size":           cfg.Ingest.ChunkSize,
			"chunk_overlap":        cfg.Ingest.ChunkOverlap,
			"max_hops":             s.app.Query.MaxHops(),
		},
	}
	if n, err := s.app.Keyword.DocCount(); err == nil {
		resp["keyword_index_chunks"] = n
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// pathParam returns the decoded URL parameter. chi matches on RawPath when the
// request carries one (an escaped slash), so only then is the value still escaped.
func (s *Server) pathParam(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if r.URL.RawPath == "" {
		return v
	}
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

// intParam parses an optional integer query parameter, responding 400 when it is malformed.
func (s *Server) intParam(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, name+" must be an integer")
		return 0, false
	}
	return n, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, graph.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, graph.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, graph.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondStoreError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", zap.Error(err))
	} else {
		s.logger.Debug(op+" rejected", zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
