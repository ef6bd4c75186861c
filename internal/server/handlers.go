package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hyperjump/budgetrag/internal/config"
	"github.com/hyperjump/budgetrag/internal/models"
	"github.com/hyperjump/budgetrag/internal/modification"
	"github.com/hyperjump/budgetrag/internal/storage"
	"go.uber.org/zap"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Storage.DocumentStats(r.Context())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	resp := map[string]interface{}{
		"documents":       stats.Documents,
		"chunks":          stats.Chunks,
		"fallback_chunks": stats.Fallbacks,
	}
	if s.deps.Tracker != nil {
		resp["ingestion"] = s.deps.Tracker.Counts()
		resp["items"] = s.deps.Tracker.List()
	}
	if s.config != nil {
		resp["config"] = map[string]interface{}{
			"embedding_provider":   s.config.Embedding.Provider,
			"embedding_dimensions": s.config.Embedding.Dimensions,
			"vector_backend":       s.config.Vector.Backend,
			"chunk_size":           s.config.Chunking.ChunkSize,
			"chunk_overlap":        s.config.Chunking.OverlapOrDefault(),
			"database_path":        s.config.Storage.DatabasePath,
			"vector_path":          s.config.Storage.VectorPath,
		}
		if n, err := storage.DiskUsageBytes(s.config.Storage.DatabasePath, s.config.Storage.VectorPath); err == nil {
			resp["disk_usage_bytes"] = n
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 100
	}
	docs, err := s.deps.Storage.ListDocuments(r.Context(), offset, limit)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if docs == nil {
		docs = []*models.SourceDocument{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"documents": docs})
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var query models.RetrievalQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(query.Query) == "" {
		s.respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	if query.Budget < 0 {
		s.respondError(w, http.StatusBadRequest, "budget cannot be negative")
		return
	}
	s.logger.Debug("retrieve request", zap.String("query", query.Query), zap.Int("top_k", query.TopK))
	resp, err := s.deps.Engine.Retrieve(r.Context(), &query)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.deps.Storage.ListCategories(r.Context())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if cats == nil {
		cats = []*models.Category{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"categories": cats})
}

func (s *Server) handleListLineItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.deps.Storage.ListLineItems(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if items == nil {
		items = []*models.BudgetLineItem{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"line_items": items})
}

type parseRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleParseModification(w http.ResponseWriter, r *http.Request) {
	var req parseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	intent, err := s.deps.Modifier.Parse(r.Context(), req.Text)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, intent)
}

func (s *Server) handleSubmitModification(w http.ResponseWriter, r *http.Request) {
	var req modification.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Intent == nil && strings.TrimSpace(req.Text) == "" {
		s.respondError(w, http.StatusBadRequest, "intent or text is required")
		return
	}
	if req.Intent != nil {
		if err := modification.ValidateIntent(req.Intent); err != nil {
			s.respondJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error": models.UserMessage(err),
				"kind":  models.KindOf(err),
			})
			return
		}
	}
	if req.Actor == "" {
		req.Actor = "api"
	}
	res, err := s.deps.Modifier.Submit(r.Context(), req)
	if err != nil && res != nil {
		s.respondJSON(w, statusFor(err), map[string]interface{}{
			"error":  models.UserMessage(err),
			"kind":   models.KindOf(err),
			"result": res,
		})
		return
	}
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, res)
}

func (s *Server) handleListModifications(w http.ResponseWriter, r *http.Request) {
	var filter storage.ModificationFilter
	if v := r.URL.Query().Get("line_item_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "line_item_id must be an integer")
			return
		}
		filter.LineItemID = &id
	}
	filter.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	recs, err := s.deps.Storage.ListModifications(r.Context(), filter)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if recs == nil {
		recs = []*models.ModificationRecord{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"modifications": recs})
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.deps.Watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.deps.Watch.Directories()})
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.deps.Watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondErr(w, err)
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	if err := s.deps.Watch.AddDirectory(abs, syncExisting); err != nil {
		s.respondErr(w, err)
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.deps.Watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if err := s.deps.Watch.RemoveDirectory(abs); err != nil {
		s.respondErr(w, err)
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

func (s *Server) persistWatchDirectories() {
	if s.configPath == "" || s.config == nil {
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.config.Watch.Directories = s.deps.Watch.Directories()
	if err := config.Save(s.configPath, s.config); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch models.KindOf(err) {
	case models.KindIntentParse, models.KindValidationRejected, models.KindParse:
		return http.StatusUnprocessableEntity
	case models.KindConflict:
		return http.StatusConflict
	case models.KindStoreUnavailable, models.KindEmbedding:
		return http.StatusServiceUnavailable
	case models.KindFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case models.KindInvalidQuery:
		return http.StatusBadRequest
	}
	if errors.Is(err, storage.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// respondErr renders err without leaking internal detail.
func (s *Server) respondErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	msg := models.UserMessage(err)
	if status == http.StatusNotFound {
		msg = "not found"
	}
	s.respondJSON(w, status, map[string]interface{}{"error": msg, "kind": models.KindOf(err)})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
