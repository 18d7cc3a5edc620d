package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/auth"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/query"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/searcher/cache"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchapi/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/logger"
)

// Searcher is implemented by *searcher.Service.
type Searcher interface {
	Search(ctx context.Context, q *query.Query) (*searcher.Response, error)
	Cache() *cache.QueryCache
}

type Handler struct {
	searcher Searcher
	logger   *slog.Logger
}

func New(s Searcher) *Handler {
	return &Handler{
		searcher: s,
		logger:   slog.Default().With("component", "search-handler"),
	}
}

// Routes registers the public search route.
func (h *Handler) Routes(r *mux.Router) {
	r.HandleFunc("/api/v1/indexes/{index}/search", h.Search).Methods(http.MethodGet)
}

// AdminRoutes registers the cache endpoints.
func (h *Handler) AdminRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/cache/stats", h.CacheStats).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/cache/invalidate", h.CacheInvalidate).Methods(http.MethodPost)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	params := r.URL.Query()

	q := query.New(mux.Vars(r)["index"], params.Get("q"))
	q.Account = auth.Account(ctx)

	var err error
	if q.Limit, err = intParam(params.Get("limit"), 1); err != nil {
		h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	if q.Offset, err = intParam(params.Get("offset"), 0); err != nil {
		h.writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}
	if f := params.Get("fields"); f != "" {
		for _, name := range strings.Split(f, ",") {
			if name = strings.TrimSpace(name); name != "" {
				q.Fields = append(q.Fields, name)
			}
		}
	}

	resp, err := h.searcher.Search(ctx, q)
	if err != nil {
		status := apperrors.HTTPStatusCode(err)
		if status >= http.StatusInternalServerError {
			log.Error("search failed", "index_id", q.IndexID, "kind", apperrors.KindOf(err), "error", err)
		}
		h.writeError(w, status, errorMessage(err, status))
		return
	}

	log.Info("search completed",
		"index_id", q.IndexID,
		"result_count", resp.ResultCount,
		"returned", len(resp.Results.Results),
		"ignored", len(resp.Ignored),
		"cache_hit", resp.CacheHit,
		"took_ms", resp.TookMs,
	)
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	c := h.searcher.Cache()
	if c == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	hits, misses := c.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

// CacheInvalidate drops cached results of ?index=, or all of them.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	c := h.searcher.Cache()
	if c == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	var err error
	if idx := r.URL.Query().Get("index"); idx != "" {
		err = c.InvalidateIndex(r.Context(), idx)
	} else {
		err = c.Invalidate(r.Context())
	}
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// intParam parses an optional integer parameter; 0 means absent.
func intParam(v string, min int) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < min {
		return 0, fmt.Errorf("%d is below %d", n, min)
	}
	return n, nil
}

func errorMessage(err error, status int) string {
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		return "search failed"
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return err.Error()
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
