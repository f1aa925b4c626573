package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"collection-viewer/internal/collectionindex"
	"collection-viewer/internal/errs"
	"collection-viewer/internal/logging"
)

// maxBodyBytes bounds request bodies; every write endpoint takes a small
// JSON document.
const maxBodyBytes = 1 << 20

// writeJSON encodes v as JSON and writes it to the response writer. Any
// encoding or write errors are logged since we typically cannot recover
// from them in an HTTP handler context.
func writeJSON(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Failed to encode JSON response: %v", err)
	}
}

// writeJSONStatus writes a simple status response as JSON.
func writeJSONStatus(w http.ResponseWriter, status string) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": status})
}

// writeError maps the error onto its transport status. Validation and
// not-found messages go to the client verbatim; server-side failures are
// logged and replaced with a generic message.
func writeError(w http.ResponseWriter, err error) {
	status := errs.HTTPStatus(err)
	message := err.Error()

	switch {
	case status == http.StatusServiceUnavailable:
		logging.Warn("Request hit an unavailable dependency: %v", err)
		message = "service temporarily unavailable"
	case status >= http.StatusInternalServerError:
		logging.Error("Request failed: %v", err)
		message = "internal server error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	writeJSON(w, map[string]string{"error": message})
}

// decodeBody decodes a bounded JSON request body into v. An empty body is
// accepted and leaves v zero-valued; the maintenance endpoints treat every
// field as optional.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()

	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err != nil && err != io.EOF {
		return errs.Validationf("invalid request body: %v", err)
	}
	return nil
}

// pathID extracts the {id} route variable as an object id.
func pathID(r *http.Request) (primitive.ObjectID, error) {
	raw := mux.Vars(r)["id"]
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		return primitive.NilObjectID, errs.Validationf("invalid id %q", raw)
	}
	return id, nil
}

// pageParams reads page and size query parameters. Size zero defers to the
// index engine's default page size.
func pageParams(r *http.Request) (page, size int) {
	page = 1
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("size")); err == nil && v > 0 {
		size = v
	}
	return page, size
}

// sortParams validates the sort and dir query parameters.
func sortParams(r *http.Request) (collectionindex.SortField, collectionindex.SortDirection, error) {
	return collectionindex.ParseSort(r.URL.Query().Get("sort"), r.URL.Query().Get("dir"))
}
