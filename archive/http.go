package archive

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/nasa-jpl/picolab/generichttp"
)

// HTTPWrapper provides HTTP bindings on top of an Archiver
type HTTPWrapper struct {
	*Archiver

	// RouteTable maps method-path pairs to handlers
	RouteTable generichttp.RouteTable
}

// NewHTTPWrapper returns a new HTTP wrapper with the route table
// pre-configured
func NewHTTPWrapper(a *Archiver) *HTTPWrapper {
	w := &HTTPWrapper{Archiver: a}
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/recent"}: w.Recent,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/ping"}:   w.Ping,
	}
	w.RouteTable = rt
	return w
}

// RT satisfies generichttp.HTTPer
func (h *HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}

// Recent serves the latest recordings as a JSON array.  The n query
// parameter caps the count, 10 if unset.
func (h *HTTPWrapper) Recent(w http.ResponseWriter, r *http.Request) {
	n := int64(10)
	if s := r.URL.Query().Get("n"); s != "" {
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		n = i
	}
	recs, err := h.Archiver.Recent(r.Context(), n)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(recs); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Ping responds 200 if the Redis server answers
func (h *HTTPWrapper) Ping(w http.ResponseWriter, r *http.Request) {
	if err := h.Archiver.Ping(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusOK)
}
