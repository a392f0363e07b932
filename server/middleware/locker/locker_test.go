package locker

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCheck(t *testing.T) {
	l := New()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
	h := l.Check(next)
	tests := []struct {
		locked bool
		method string
		path   string
		want   int
	}{
		{false, http.MethodPost, "/tuner/codes", http.StatusTeapot},
		{true, http.MethodPost, "/tuner/codes", http.StatusLocked},
		{true, http.MethodGet, "/tuner/status", http.StatusTeapot},
		{true, http.MethodPost, "/tuner/lock", http.StatusTeapot},
	}
	for _, tt := range tests {
		if tt.locked {
			l.Lock()
		} else {
			l.Unlock()
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
		if w.Code != tt.want {
			t.Errorf("locked %t %s %s: expected %d, got %d", tt.locked, tt.method, tt.path, tt.want, w.Code)
		}
	}
}

func TestHTTPSetGet(t *testing.T) {
	l := New()
	w := httptest.NewRecorder()
	l.HTTPSet(w, httptest.NewRequest(http.MethodPost, "/lock", strings.NewReader(`{"bool":true}`)))
	if !l.Locked() {
		t.Fatal("expected locked")
	}
	w = httptest.NewRecorder()
	l.HTTPGet(w, httptest.NewRequest(http.MethodGet, "/lock", nil))
	if strings.TrimSpace(w.Body.String()) != `{"bool":true}` {
		t.Errorf("unexpected body %q", w.Body.String())
	}
	w = httptest.NewRecorder()
	l.HTTPSet(w, httptest.NewRequest(http.MethodPost, "/lock", strings.NewReader(`nope`)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad body, got %d", w.Code)
	}
}
