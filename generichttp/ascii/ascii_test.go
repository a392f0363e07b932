package ascii_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/topmetal/tmsctl/generichttp"
	"github.com/topmetal/tmsctl/generichttp/ascii"
)

type echo struct{ last string }

func (e *echo) Raw(s string) (string, error) {
	e.last = s
	if s == "BAD" {
		return "", errors.New("bad command")
	}
	if strings.HasSuffix(s, "?") {
		return "RIGOL TECHNOLOGIES,DG1022", nil
	}
	return "", nil
}

func TestInjectRawComm(t *testing.T) {
	e := &echo{}
	rt := generichttp.RouteTable{}
	ascii.InjectRawComm(rt, e)
	h := rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/raw"}]
	if h == nil {
		t.Fatal("expected a POST /raw route")
	}
	tests := []struct {
		body, want string
		code       int
	}{
		{`{"str":"*IDN?"}`, `{"str":"RIGOL TECHNOLOGIES,DG1022"}`, http.StatusOK},
		{`{"str":"OUTP ON"}`, `{"str":""}`, http.StatusOK},
		{`{"str":"BAD"}`, "bad command", http.StatusInternalServerError},
		{`{`, "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		h(w, httptest.NewRequest(http.MethodPost, "/raw", strings.NewReader(tt.body)))
		if w.Code != tt.code {
			t.Errorf("%s: expected %d, got %d", tt.body, tt.code, w.Code)
		}
		if tt.want != "" && strings.TrimSpace(w.Body.String()) != tt.want {
			t.Errorf("%s: expected %q, got %q", tt.body, tt.want, w.Body.String())
		}
	}
}
