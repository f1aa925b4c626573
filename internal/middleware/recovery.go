package middleware

import (
	"net/http"
	"runtime/debug"

	"collection-viewer/internal/logging"
)

// Recovery returns a middleware that converts handler panics into 500
// responses instead of tearing down the server goroutine. The panic value
// and stack are logged; a JSON error body is written only when the handler
// has not already started a response.
func Recovery() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped := newResponseWriter(w)

			defer func() {
				rec := recover()
				if rec == nil {
					return
				}

				// net/http uses this sentinel to abort a connection
				// deliberately; let it keep doing that.
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				logging.Error("Panic handling %s %s: %v\n%s", r.Method, r.URL.Path, rec, debug.Stack())

				if !wrapped.wroteHeader {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					w.Write([]byte(`{"error":"internal server error"}`))
				}
			}()

			next.ServeHTTP(wrapped, r)
		})
	}
}
