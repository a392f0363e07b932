package tmc_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/topmetal/tmsctl/generichttp"
	"github.com/topmetal/tmsctl/generichttp/tmc"
	"github.com/topmetal/tmsctl/rigol"
)

var _ tmc.FunctionGenerator = (*rigol.DG1022)(nil)

type fakeGen struct {
	fcn   string
	freq  float64
	volts float64
	offs  float64
	on    bool
}

func (f *fakeGen) SetFunction(s string) error { f.fcn = s; return nil }
func (f *fakeGen) GetFunction() (string, error) { return f.fcn, nil }
func (f *fakeGen) SetFrequency(hz float64) error { f.freq = hz; return nil }
func (f *fakeGen) GetFrequency() (float64, error) { return f.freq, nil }
func (f *fakeGen) SetVoltage(v float64) error { f.volts = v; return nil }
func (f *fakeGen) GetVoltage() (float64, error) { return f.volts, nil }
func (f *fakeGen) SetOffset(v float64) error { f.offs = v; return nil }
func (f *fakeGen) GetOffset() (float64, error) { return f.offs, nil }
func (f *fakeGen) EnableOutput() error { f.on = true; return nil }
func (f *fakeGen) DisableOutput() error { f.on = false; return nil }
func (f *fakeGen) GetOutput() (bool, error) { return f.on, nil }

func TestHTTPFunctionGenerator(t *testing.T) {
	g := &fakeGen{}
	rt := generichttp.RouteTable{}
	tmc.HTTPFunctionGenerator(g, rt)
	if len(rt) != 10 {
		t.Fatalf("expected 10 routes, got %v", rt.Endpoints())
	}

	mp := generichttp.MethodPath{Method: http.MethodPost, Path: "/frequency"}
	w := httptest.NewRecorder()
	rt[mp](w, httptest.NewRequest(http.MethodPost, "/frequency", strings.NewReader(`{"f64":100}`)))
	if w.Code != http.StatusOK || g.freq != 100 {
		t.Errorf("set frequency: %d %v", w.Code, g.freq)
	}

	mp = generichttp.MethodPath{Method: http.MethodPost, Path: "/output"}
	w = httptest.NewRecorder()
	rt[mp](w, httptest.NewRequest(http.MethodPost, "/output", strings.NewReader(`{"bool":true}`)))
	if !g.on {
		t.Error("expected output enabled")
	}

	mp = generichttp.MethodPath{Method: http.MethodGet, Path: "/frequency"}
	w = httptest.NewRecorder()
	rt[mp](w, httptest.NewRequest(http.MethodGet, "/frequency", nil))
	if strings.TrimSpace(w.Body.String()) != `{"f64":100}` {
		t.Errorf("get frequency: %q", w.Body.String())
	}
}
