package health

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/Combine-Capital/drugfacts/pkg/errors"
)

// LivenessHandler always answers 200; it checks no dependencies.
func (h *Health) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

// ReadinessHandler answers 503 only when some component is unhealthy.
func (h *Health) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := h.Check(r.Context())
		respond(w, httpStatus(report.Status), report)
	}
}

func (h *Health) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := h.Check(r.Context())
		respond(w, httpStatus(report.Status), map[string]any{
			"liveness":  "alive",
			"readiness": report,
		})
	}
}

// ComponentHandler reports one component, e.g. GET /health/cache. An unregistered
// name answers 404.
func (h *Health) ComponentHandler(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h.CheckComponent(r.Context(), name)
		if errors.IsNotFound(err) {
			errors.WriteHTTPError(w, err)
			return
		}
		result := resultOf(err)
		respond(w, httpStatus(result.Status), result)
	}
}

func httpStatus(status string) int {
	if status == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func respond(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
