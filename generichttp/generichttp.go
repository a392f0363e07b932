// Package generichttp holds route tables and handler builders that adapt
// getter and setter functions of devices to JSON over HTTP.
package generichttp

import (
	"encoding/json"
	"go/types"
	"net/http"
)

// get calls fcn and responds with its value in a HumanPayload of kind t
func get[T any](fcn func() (T, error), payload func(T) HumanPayload) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		payload(v).EncodeAndRespond(w, r)
	}
}

// set decodes the request body into a W, the single field wrapper of a T,
// and calls fcn with the unwrapped value
func set[W any, T any](fcn func(T) error, unwrap func(W) T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in W
		err := json.NewDecoder(r.Body).Decode(&in)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err = fcn(unwrap(in)); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetFloat calls a float-getting function and returns the response
// as json {'f64': value}
func GetFloat(fcn func() (float64, error)) http.HandlerFunc {
	return get(fcn, func(f float64) HumanPayload { return HumanPayload{T: types.Float64, Float: f} })
}

// SetFloat parses a JSON input of {'f64': value} and
// calls fcn with it
func SetFloat(fcn func(float64) error) http.HandlerFunc {
	return set(fcn, func(f FloatT) float64 { return f.F64 })
}

// GetString calls a string-getting function and returns the response
// as json {'str': value}
func GetString(fcn func() (string, error)) http.HandlerFunc {
	return get(fcn, func(s string) HumanPayload { return HumanPayload{T: types.String, String: s} })
}

// SetString parses a JSON input of {'str': value} and
// calls fcn with it
func SetString(fcn func(string) error) http.HandlerFunc {
	return set(fcn, func(s StrT) string { return s.Str })
}

// GetBool calls a bool-getting function and returns the response
// as json {'bool': value}
func GetBool(fcn func() (bool, error)) http.HandlerFunc {
	return get(fcn, func(b bool) HumanPayload { return HumanPayload{T: types.Bool, Bool: b} })
}

// SetBool parses a JSON input of {'bool': value} and
// calls fcn with it
func SetBool(fcn func(bool) error) http.HandlerFunc {
	return set(fcn, func(b BoolT) bool { return b.Bool })
}
