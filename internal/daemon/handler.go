package daemon

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zoobzio/pulse"
	"github.com/zoobzio/pulse/vdb"
)

// maxSignalBody bounds the size of a posted heartbeat.
const maxSignalBody = 64 << 10

// Resolver resolves comma-separated VDB names onto live engines.
type Resolver interface {
	Resolve(match string) ([]vdb.Resolved, error)
}

// Handler exposes a tracker over HTTP.
type Handler struct {
	tracker  *pulse.Tracker
	resolver Resolver
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// NewHandler creates a Handler. resolver and gatherer may be nil, which
// disables /resolve and /metrics respectively.
func NewHandler(tracker *pulse.Tracker, resolver Resolver, gatherer prometheus.Gatherer, logger *slog.Logger) *Handler {
	return &Handler{
		tracker:  tracker,
		resolver: resolver,
		gatherer: gatherer,
		logger:   logger,
	}
}

// Router returns the full route tree.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	h.Register(r)
	return r
}

// Register mounts the endpoints on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/healthz", h.HandleHealth)

	r.Get("/engines", h.HandleSnapshot)
	r.Get("/engines/{id}", h.HandleInspect)
	r.Put("/engines/{id}", h.HandleRegister)
	r.Delete("/engines/{id}", h.HandleDeregister)

	r.Post("/signals", h.HandleSignal)
	r.Get("/rejections", h.HandleRejections)
	r.Get("/transitions", h.HandleTransitions)

	if h.resolver != nil {
		r.Get("/resolve", h.HandleResolve)
	}
	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
}

// HandleHealth handles GET /healthz.
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	cfg := h.tracker.Config()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"engines":   len(h.tracker.Engines()),
		"threshold": cfg.Threshold,
		"window":    cfg.Window.String(),
	})
}

// HandleSnapshot handles GET /engines.
func (h *Handler) HandleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.tracker.Snapshot())
}

type engineResponse struct {
	Engine         pulse.EngineID     `json:"engine"`
	State          pulse.EngineState  `json:"state"`
	Pending        *pulse.EngineState `json:"pending,omitempty"`
	Consecutive    int                `json:"consecutive"`
	LastKind       *pulse.SignalKind  `json:"last_kind,omitempty"`
	LastObservedAt *time.Time         `json:"last_observed_at,omitempty"`
}

// HandleInspect handles GET /engines/{id}.
func (h *Handler) HandleInspect(w http.ResponseWriter, r *http.Request) {
	info, err := h.tracker.Inspect(pulse.EngineID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, err)
		return
	}
	resp := engineResponse{
		Engine:      info.Engine,
		State:       info.State,
		Pending:     info.Pending,
		Consecutive: info.Consecutive,
	}
	if info.LastKind.Valid() {
		kind := info.LastKind
		resp.LastKind = &kind
	}
	if !info.LastObservedAt.IsZero() {
		at := info.LastObservedAt
		resp.LastObservedAt = &at
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleRegister handles PUT /engines/{id}.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	id := pulse.EngineID(chi.URLParam(r, "id"))
	if err := h.tracker.Register(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	h.logger.InfoContext(r.Context(), "engine registered via api",
		"engine", id,
		"request_id", middleware.GetReqID(r.Context()),
	)
	writeJSON(w, http.StatusCreated, map[string]any{"engine": id, "state": pulse.StateUnknown})
}

// HandleDeregister handles DELETE /engines/{id}.
func (h *Handler) HandleDeregister(w http.ResponseWriter, r *http.Request) {
	id := pulse.EngineID(chi.URLParam(r, "id"))
	if err := h.tracker.Deregister(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	h.logger.InfoContext(r.Context(), "engine deregistered via api",
		"engine", id,
		"request_id", middleware.GetReqID(r.Context()),
	)
	w.WriteHeader(http.StatusNoContent)
}

// HandleSignal handles POST /signals. The body is a heartbeat document in
// JSON or YAML, chosen by Content-Type.
func (h *Handler) HandleSignal(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSignalBody))
	if err != nil {
		writeError(w, err)
		return
	}
	codec, ok := pulse.CodecForContentType(r.Header.Get("Content-Type"))
	if !ok {
		writeJSON(w, http.StatusUnsupportedMediaType, map[string]string{"error": "unsupported content type"})
		return
	}
	sig, err := pulse.DecodeSignal(codec, body)
	if err != nil {
		writeError(w, err)
		return
	}
	changed, err := h.tracker.Ingest(r.Context(), sig)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"changed": changed})
}

type rejectionResponse struct {
	Engine pulse.EngineID `json:"engine"`
	Error  string         `json:"error"`
	At     time.Time      `json:"at"`
}

// HandleRejections handles GET /rejections.
func (h *Handler) HandleRejections(w http.ResponseWriter, _ *http.Request) {
	rejections := h.tracker.Rejections()
	out := make([]rejectionResponse, 0, len(rejections))
	for _, rej := range rejections {
		out = append(out, rejectionResponse{Engine: rej.Signal.Engine, Error: rej.Err.Error(), At: rej.At})
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleTransitions handles GET /transitions, streaming every transition
// published after the request as newline-delimited JSON until the client
// goes away.
func (h *Handler) HandleTransitions(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	sub := h.tracker.Subscribe()
	defer sub.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case tr, ok := <-sub.C():
			if !ok {
				return
			}
			if err := enc.Encode(tr); err != nil {
				h.logger.DebugContext(r.Context(), "transition stream ended", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

// HandleResolve handles GET /resolve?databases=a,b.
func (h *Handler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	match := r.URL.Query().Get("databases")
	if match == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "databases is required"})
		return
	}
	resolved, err := h.resolver.Resolve(match)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client may be gone
}

// writeError translates tracker and resolver errors into statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pulse.ErrNotFound), errors.Is(err, vdb.ErrUnknownVDB):
		status = http.StatusNotFound
	case errors.Is(err, pulse.ErrAlreadyRegistered):
		status = http.StatusConflict
	case errors.Is(err, pulse.ErrInvalidSignal), errors.Is(err, pulse.ErrInvalidConfig):
		status = http.StatusBadRequest
	case errors.Is(err, pulse.ErrClosed), errors.Is(err, vdb.ErrNoEngine):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
