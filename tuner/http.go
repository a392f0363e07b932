package tuner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/topmetal/tmsctl/bench"
	"github.com/topmetal/tmsctl/generichttp"
	"github.com/topmetal/tmsctl/generichttp/ascii"
	"github.com/topmetal/tmsctl/generichttp/daq"
	"github.com/topmetal/tmsctl/generichttp/tmc"
	"github.com/topmetal/tmsctl/server/middleware/locker"
)

const (
	// time allowed to write one status to a stream client
	writeWait = 10 * time.Second

	// time allowed between pongs from a stream client
	pongWait = 60 * time.Second

	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HTTPWrapper serves a Tuner
type HTTPWrapper struct {
	T   *Tuner
	Log *zap.Logger

	generichttp.RouteTable
}

// NewHTTPWrapper returns the routes of t:
//
//	GET  /voltages  the current settings
//	POST /voltages  {"volts": [7]float64}, codes follow the calibration
//	POST /codes     {"codes": [7]uint16}, volts follow the calibration
//	GET  /status    the last status
//	GET  /stream    a websocket of statuses
func NewHTTPWrapper(t *Tuner, log *zap.Logger) HTTPWrapper {
	if log == nil {
		log = zap.NewNop()
	}
	w := HTTPWrapper{T: t, Log: log, RouteTable: generichttp.RouteTable{}}
	rt := w.RouteTable
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/voltages"}] = w.GetSettings
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/voltages"}] = w.SetVoltages
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/codes"}] = w.SetCodes
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/status"}] = w.GetStatus
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/stream"}] = w.Stream
	return w
}

// RT satisfies generichttp.HTTPer
func (h HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}

func respondJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// GetSettings replies with the current settings and the bias names
func (h HTTPWrapper) GetSettings(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, struct {
		Names [bench.NBiases]string `json:"names"`
		Settings
	}{bench.BiasNames, h.T.Settings()})
}

// GetStatus replies with the last status
func (h HTTPWrapper) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, h.T.Status())
}

func (h HTTPWrapper) apply(w http.ResponseWriter, r *http.Request, s Settings) {
	if err := h.T.Apply(r.Context(), s); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, h.T.Status())
}

// SetVoltages applies {"volts": [...]}
func (h HTTPWrapper) SetVoltages(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Volts []float64 `json:"volts"`
	}
	err := json.NewDecoder(r.Body).Decode(&in)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(in.Volts) != bench.NBiases {
		http.Error(w, fmt.Sprintf("expected %d voltages, got %d", bench.NBiases, len(in.Volts)), http.StatusBadRequest)
		return
	}
	var v bench.Biases
	copy(v[:], in.Volts)
	h.apply(w, r, FromVolts(v, h.T.Config.Cal))
}

// SetCodes applies {"codes": [...]}
func (h HTTPWrapper) SetCodes(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Codes []uint16 `json:"codes"`
	}
	err := json.NewDecoder(r.Body).Decode(&in)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(in.Codes) != bench.NBiases {
		http.Error(w, fmt.Sprintf("expected %d codes, got %d", bench.NBiases, len(in.Codes)), http.StatusBadRequest)
		return
	}
	var c [bench.NBiases]uint16
	copy(c[:], in.Codes)
	h.apply(w, r, FromCodes(c, h.T.Config.Cal))
}

// Stream upgrades to a websocket and writes every published status as JSON
// until the client goes away or the worker stops
func (h HTTPWrapper) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.Warn("websocket upgrade", zap.Error(err))
		return
	}
	defer conn.Close()
	statuses, cancel := h.T.Subscribe()
	defer cancel()

	// the read side only handles control frames and notices the close
	gone := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.Log.Debug("stream read", zap.Error(err))
				}
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case s, ok := <-statuses:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "tuner stopped"))
				return
			}
			if err := conn.WriteJSON(s); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

// boardDAC runs DAC8568 writes on the worker
type boardDAC struct{ t *Tuner }

func (d boardDAC) do(fn func(*bench.Board) error) error {
	return d.t.Do(context.Background(), fn)
}

func (d boardDAC) Output(ch int, v float64) error {
	return d.do(func(b *bench.Board) error { return b.DAC.Output(ch, v) })
}

func (d boardDAC) OutputDN16(ch int, dn uint16) error {
	return d.do(func(b *bench.Board) error { return b.DAC.OutputDN16(ch, dn) })
}

func (d boardDAC) OutputMulti(chs []int, vs []float64) error {
	return d.do(func(b *bench.Board) error { return b.DAC.OutputMulti(chs, vs) })
}

func (d boardDAC) OutputMultiDN16(chs []int, dns []uint16) error {
	return d.do(func(b *bench.Board) error { return b.DAC.OutputMultiDN16(chs, dns) })
}

// boardADC runs ADS124S0x conversions on the worker
type boardADC struct{ t *Tuner }

func (a boardADC) Measure(ch int) (code uint32, v float64, err error) {
	err = a.t.Do(context.Background(), func(b *bench.Board) error {
		code, v, err = b.ADC.Measure(ch)
		return err
	})
	return
}

func (a boardADC) Temperature() (c float64, err error) {
	err = a.t.Do(context.Background(), func(b *bench.Board) error {
		c, err = b.ADC.Temperature()
		return err
	})
	return
}

type table generichttp.RouteTable

func (t table) RT() generichttp.RouteTable { return generichttp.RouteTable(t) }

// Mux returns the service's router: the tuner at /tuner, the DAC8568 at
// /dac, the ADC at /adc and, when fg is not nil, the function generator at
// /fungen, with /fungen/raw when fg speaks raw commands.  Every node has its
// own /lock.  GET /endpoints lists the routes.
func Mux(t *Tuner, fg tmc.FunctionGenerator, log *zap.Logger) chi.Router {
	if log == nil {
		log = zap.NewNop()
	}
	nodes := map[string]generichttp.HTTPer{"tuner": NewHTTPWrapper(t, log)}

	dac := generichttp.RouteTable{}
	daq.HTTPBasicDAC(boardDAC{t}, dac)
	daq.HTTPMultiChannel(boardDAC{t}, dac)
	nodes["dac"] = table(dac)

	adc := generichttp.RouteTable{}
	daq.HTTPADC(boardADC{t}, adc)
	nodes["adc"] = table(adc)

	if fg != nil {
		fgt := generichttp.RouteTable{}
		tmc.HTTPFunctionGenerator(fg, fgt)
		if raw, ok := fg.(ascii.RawCommunicator); ok {
			ascii.InjectRawComm(fgt, raw)
		}
		nodes["fungen"] = table(fgt)
	}

	root := chi.NewRouter()
	root.Use(middleware.Recoverer)
	root.Use(requestLogger(log))
	supergraph := map[string][]string{}
	for name, httper := range nodes {
		hndlS := generichttp.SubMuxSanitize(name)
		lock := locker.New()
		locker.Inject(httper, lock)
		supergraph[hndlS] = httper.RT().Endpoints()

		r := chi.NewRouter()
		r.Use(lock.Check)
		httper.RT().Bind(r)
		root.Mount(hndlS, r)
	}
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, supergraph)
	})
	return root
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)))
		})
	}
}
