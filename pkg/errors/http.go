package errors

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
)

// retryAfterSeconds is advertised on every 503.
const retryAfterSeconds = 30

// HTTPStatusCode maps a category to a status: 404 for NotFound, 400 for
// InvalidInput, 503 for anything retryable or behind an open breaker, 500 otherwise.
func HTTPStatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsNotFound(err):
		return http.StatusNotFound
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsRetryable(err), IsDependencyUnavailable(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

// WriteHTTPError writes err as {"statusCode", "error", "message"}. A nil err
// writes nothing.
func WriteHTTPError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	code := HTTPStatusCode(err)

	h := w.Header()
	h.Set("Content-Type", "application/json")
	if code == http.StatusServiceUnavailable {
		h.Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	w.WriteHeader(code)

	_ = json.NewEncoder(w).Encode(errorBody{
		StatusCode: code,
		Error:      http.StatusText(code),
		Message:    err.Error(),
	})
}

// RecoveryMiddleware answers a panicking handler with a 500 instead of dropping the
// connection. http.ErrAbortHandler is re-raised so net/http can abort quietly.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			p := recover()
			if p == nil {
				return
			}
			if p == http.ErrAbortHandler {
				panic(p)
			}
			WriteHTTPError(w, NewPermanent(fmt.Sprintf("panic recovered: %v", p), nil))
		}()
		next.ServeHTTP(w, r)
	})
}
