package drugs

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/Combine-Capital/drugfacts/pkg/config"
	"github.com/Combine-Capital/drugfacts/pkg/errors"
	"github.com/Combine-Capital/drugfacts/pkg/logging"
	"github.com/Combine-Capital/drugfacts/pkg/search"
	"github.com/Combine-Capital/drugfacts/pkg/warmer"
)

const maxBodyBytes = 1 << 20

// WarmupRunner runs a warmup batch on demand and reports cache health.
type WarmupRunner interface {
	Warmup(ctx context.Context) warmer.Report
	Health(ctx context.Context) warmer.Status
}

// Handler exposes a Service over HTTP.
type Handler struct {
	svc    *Service
	warmer WarmupRunner
	logger *logging.Logger
}

// NewHandler creates a Handler. A nil w gets an unscheduled warmer over svc.
func NewHandler(svc *Service, w WarmupRunner, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	if w == nil {
		w = warmer.New(config.WarmupConfig{}, svc, warmer.WithLogger(logger))
	}
	return &Handler{svc: svc, warmer: w, logger: logger.WithComponent("drugs.http")}
}

// Register mounts the drug routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /drugs", h.search)
	mux.HandleFunc("GET /drugs/index", h.index)
	mux.HandleFunc("GET /drugs/therapeutic-classes", h.facet(FacetTherapeuticClass))
	mux.HandleFunc("GET /drugs/manufacturers", h.facet(FacetManufacturer))
	mux.HandleFunc("GET /drugs/count", h.count)
	mux.HandleFunc("POST /drugs/batch", h.batch)
	mux.HandleFunc("GET /drugs/cache/stats", h.stats)
	mux.HandleFunc("POST /drugs/cache/warmup", h.warmup)
	mux.HandleFunc("POST /drugs/cache/invalidate/{slug}", h.invalidate)
	mux.HandleFunc("GET /drugs/{slug}", h.get)
	mux.HandleFunc("PUT /drugs/{slug}", h.put)
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	q := search.Query{
		Text:     v.Get("q"),
		Category: v.Get("therapeuticClass"),
		Source:   v.Get("manufacturer"),
		Mode:     search.Mode(v.Get("searchType")),
	}

	var err error
	if q.Page, err = intParam(v.Get("page"), "page"); err != nil {
		errors.WriteHTTPError(w, err)
		return
	}
	if q.Limit, err = intParam(v.Get("limit"), "limit"); err != nil {
		errors.WriteHTTPError(w, err)
		return
	}

	page, err := h.svc.FindAll(r.Context(), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func intParam(raw, field string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.NewInvalidInputWithCause(field, "must be an integer", err)
	}
	if n < 1 {
		return 0, errors.NewInvalidInput(field, "must be at least 1")
	}
	return n, nil
}

func (h *Handler) index(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Index(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) facet(f Facet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		values, err := h.svc.FacetValues(r.Context(), f)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": values})
	}
}

func (h *Handler) count(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.Count(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

type batchRequest struct {
	Slugs []string `json:"slugs"`
}

func (h *Handler) batch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeBody(r, &req); err != nil {
		errors.WriteHTTPError(w, err)
		return
	}
	if len(req.Slugs) > search.MaxLimit {
		errors.WriteHTTPError(w, errors.NewInvalidInput("slugs", "at most 100 slugs per request"))
		return
	}

	found, err := h.svc.FindBySlugs(r.Context(), req.Slugs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": found})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"data":   h.svc.CacheStats(),
		"health": h.warmer.Health(r.Context()),
	})
}

func (h *Handler) warmup(w http.ResponseWriter, r *http.Request) {
	report := h.warmer.Warmup(r.Context())
	if report.Skipped {
		writeJSON(w, http.StatusConflict, map[string]any{
			"message": "Cache warmup already running",
			"report":  report,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Cache warmup completed",
		"report":  report,
	})
}

func (h *Handler) invalidate(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	if err := h.svc.Invalidate(r.Context(), slug); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Cache invalidated for drug: " + slug})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.GetBySlug(r.Context(), r.PathValue("slug"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": d})
}

func (h *Handler) put(w http.ResponseWriter, r *http.Request) {
	var d Drug
	if err := decodeBody(r, &d); err != nil {
		errors.WriteHTTPError(w, err)
		return
	}
	slug := r.PathValue("slug")
	if d.Slug != "" && d.Slug != slug {
		errors.WriteHTTPError(w, errors.NewInvalidInput("slug", "does not match the path"))
		return
	}
	d.Slug = slug
	if strings.TrimSpace(d.DrugName) == "" {
		errors.WriteHTTPError(w, errors.NewInvalidInput("drugName", "is required"))
		return
	}

	if err := h.svc.Save(r.Context(), d); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": d})
}

// fail logs server-side failures and writes the error response.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if status := errors.HTTPStatusCode(err); status >= http.StatusInternalServerError {
		logging.FromContext(r.Context(), h.logger).Error().
			Err(err).
			Str(logging.Method, r.Method).
			Str(logging.Path, r.URL.Path).
			Int(logging.StatusCode, status).
			Msg("request failed")
	}
	errors.WriteHTTPError(w, err)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return errors.NewInvalidInputWithCause("body", "malformed JSON", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
