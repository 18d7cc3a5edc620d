package tasks

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	apperrors "github.com/Adithya-Monish-Kumar-K/searchapi/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/logger"
)

// EnqueueRequest is the body of POST /api/v1/tasks.
type EnqueueRequest struct {
	ServerID string          `json:"server_id"`
	Type     Type            `json:"type"`
	IndexID  string          `json:"index_id,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

type Handler struct {
	manager *Manager
	logger  *slog.Logger
}

func NewHandler(manager *Manager) *Handler {
	return &Handler{
		manager: manager,
		logger:  slog.Default().With("component", "tasks-handler"),
	}
}

// Routes mounts the admin endpoints on r.
func (h *Handler) Routes(r *mux.Router) {
	r.HandleFunc("/api/v1/tasks", h.List).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/tasks", h.Enqueue).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/tasks", h.Delete).Methods(http.MethodDelete)
	r.HandleFunc("/api/v1/servers/{server}/drain", h.DrainServer).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/drain", h.DrainAll).Methods(http.MethodPost)
}

// filterFromQuery reads ?server=&index=&id= into a Filter. index and id may
// repeat or hold comma separated lists.
func filterFromQuery(r *http.Request) (Filter, error) {
	q := r.URL.Query()
	f := Filter{ServerID: q.Get("server")}
	for _, v := range q["index"] {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				f.IndexIDs = append(f.IndexIDs, id)
			}
		}
	}
	for _, v := range q["id"] {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s == "" {
				continue
			}
			id, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return Filter{}, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "task id %q is not a number", s)
			}
			f.IDs = append(f.IDs, id)
		}
	}
	return f, nil
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	list, err := h.manager.List(r.Context(), f)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if list == nil {
		list = []Task{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"tasks": list, "total": len(list)})
}

func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ServerID == "" || req.Type == "" {
		h.writeError(w, http.StatusBadRequest, "server_id and type are required")
		return
	}
	var data any
	if len(req.Data) > 0 {
		data = req.Data
	}
	t, err := h.manager.Enqueue(r.Context(), req.ServerID, req.Type, req.IndexID, data)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, t)
}

// Delete removes tasks matching the query. An empty filter is refused so a
// bare DELETE cannot wipe the queue.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if f.Empty() && r.URL.Query().Get("all") != "true" {
		h.writeError(w, http.StatusBadRequest, "refusing to delete every task without all=true")
		return
	}
	n, err := h.manager.Delete(r.Context(), f)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (h *Handler) DrainServer(w http.ResponseWriter, r *http.Request) {
	server := mux.Vars(r)["server"]
	if _, err := h.manager.resolver.Server(server); err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.drain(w, r, server)
}

func (h *Handler) DrainAll(w http.ResponseWriter, r *http.Request) {
	h.drain(w, r)
}

func (h *Handler) drain(w http.ResponseWriter, r *http.Request, servers ...string) {
	report, err := h.manager.Drain(r.Context(), servers...)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	status := http.StatusOK
	if report.AnyFailed() {
		status = http.StatusMultiStatus
	}
	h.writeJSON(w, status, report)
}

func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("task request failed", "path", r.URL.Path, "error", err)
	}
	msg := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}
	h.writeError(w, status, msg)
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
