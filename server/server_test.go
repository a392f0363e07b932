package server

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestReplyWithFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "x0003y0004.dat"), []byte("# Chip 3 4\n"), 0644); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		code int
	}{
		{"x0003y0004.dat", http.StatusOK},
		{"absent.dat", http.StatusNotFound},
		{"../x0003y0004.dat", http.StatusOK},
		{".", http.StatusBadRequest},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		ReplyWithFile(w, httptest.NewRequest(http.MethodGet, "/data/"+tt.name, nil), tt.name, dir, nil)
		if w.Code != tt.code {
			t.Errorf("%s: expected %d, got %d", tt.name, tt.code, w.Code)
		}
	}
}
