package generichttp

import (
	"encoding/json"
	"go/types"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi"
)

// MethodPath is a struct containing an HTTP method and a URL path
type MethodPath struct {
	Method, Path string
}

// RouteTable maps method-path pairs to handlers
type RouteTable map[MethodPath]http.HandlerFunc

// Endpoints returns the "METHOD /path" strings of the table, sorted
func (rt RouteTable) Endpoints() []string {
	routes := make([]string, 0, len(rt))
	for k := range rt {
		routes = append(routes, k.Method+" "+k.Path)
	}
	sort.Strings(routes)
	return routes
}

// Bind binds every route in the table to r
func (rt RouteTable) Bind(r chi.Router) {
	for mp, f := range rt {
		r.MethodFunc(mp.Method, mp.Path, f)
	}
}

// HTTPer is something that has a route table
type HTTPer interface {
	RT() RouteTable
}

// SubMuxSanitize converts a string to /str with no trailing slash,
// so "omc/nkt/" becomes "/omc/nkt"
func SubMuxSanitize(str string) string {
	return "/" + strings.Trim(str, "/")
}

// HumanPayload holds one value of a basic type for JSON encoding;
// T selects which field is sent
type HumanPayload struct {
	T types.BasicKind

	Bool   bool
	Float  float64
	String string
}

// EncodeAndRespond writes {"bool"|"f64"|"str": value} to w
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	var v interface{}
	switch hp.T {
	case types.Bool:
		v = BoolT{hp.Bool}
	case types.Float64:
		v = FloatT{hp.Float}
	case types.String:
		v = StrT{hp.String}
	default:
		http.Error(w, "unsupported payload type", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// BoolT is a struct with a single Bool field
type BoolT struct {
	Bool bool `json:"bool"`
}

// FloatT is a struct with a single F64 field
type FloatT struct {
	F64 float64 `json:"f64"`
}

// StrT is a struct with a single Str field
type StrT struct {
	Str string `json:"str"`
}
