/*Package tuner holds the bias voltages of a running chip and applies them
from a single worker goroutine that owns the board.

Settings come in as voltages, converted to on-chip DAC codes with the
configuration's calibration, or as codes, converted back to voltages.  Each
apply programs the DAC8568 outputs and the chip DACs and transfers the
configuration vector.  The worker publishes its status on every apply and
on every refresh tick.
*/
package tuner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/topmetal/tmsctl/bench"
	"github.com/topmetal/tmsctl/bridge"
	"github.com/topmetal/tmsctl/topmetal"
)

// DefaultRefresh is the status refresh interval
const DefaultRefresh = 500 * time.Millisecond

// ErrStopped is returned by Apply when the worker is not running
var ErrStopped = errors.New("tuner: worker stopped")

// Settings are the seven bias voltages and the six on-chip DAC codes, in
// bench.BiasNames order.  Codes[6] mirrors DAC_BufferX2_VREF, which has no
// on-chip DAC.
type Settings struct {
	Volts bench.Biases          `json:"volts"`
	Codes [bench.NBiases]uint16 `json:"codes"`
}

// FromVolts returns settings with codes computed from volts
func FromVolts(volts bench.Biases, cal topmetal.Calibration) Settings {
	return Settings{Volts: volts, Codes: volts.Codes(cal)}
}

// FromCodes returns settings with volts computed from codes
func FromCodes(codes [bench.NBiases]uint16, cal topmetal.Calibration) Settings {
	s := Settings{Codes: codes}
	for i, c := range codes {
		s.Volts[i] = cal.CodeToVolt(c)
	}
	return s
}

// Status is what the worker last did
type Status struct {
	Settings

	// Applied counts transfers since start
	Applied int `json:"applied"`

	Sent        string `json:"sent,omitempty"`
	ReadBack    string `json:"readBack,omitempty"`
	Valid       bool   `json:"valid"`
	Match       bool   `json:"match"`
	Fingerprint uint16 `json:"fingerprint"`

	Err string `json:"error,omitempty"`

	Time time.Time `json:"time"`
}

func (s *Status) record(res bridge.Result, err error) {
	s.Applied++
	if res.Sent != nil {
		s.Sent = res.Sent.Text(16)
	}
	if res.ReadBack != nil {
		s.ReadBack = res.ReadBack.Text(16)
	}
	s.Valid, s.Match, s.Fingerprint = res.Valid, res.Match, res.Fingerprint
	s.Err = ""
	if err != nil {
		s.Err = err.Error()
	}
}

// request is either settings to apply or, when fn is not nil, a function
// to run with the board
type request struct {
	settings Settings
	fn       func(*bench.Board) error
	done     chan error
}

// Tuner applies settings to one board
type Tuner struct {
	Board  *bench.Board
	Config *topmetal.Config
	ClkDiv uint8

	// Refresh is the interval status is published at with no applies
	Refresh time.Duration

	// Limiter caps the transfer rate, nil for no limit
	Limiter *rate.Limiter

	apply   chan request
	stopped chan struct{}

	mu     sync.RWMutex
	status Status
	subs   map[chan Status]struct{}
	done   bool
}

// New returns a tuner at the bench operating point.  maxRate is the most
// transfers per second, zero for no limit.
func New(board *bench.Board, cfg *topmetal.Config, maxRate float64) *Tuner {
	t := &Tuner{
		Board:   board,
		Config:  cfg,
		ClkDiv:  bench.DefaultClkDiv,
		Refresh: DefaultRefresh,
		apply:   make(chan request),
		stopped: make(chan struct{}),
		subs:    make(map[chan Status]struct{}),
	}
	if maxRate > 0 {
		t.Limiter = rate.NewLimiter(rate.Limit(maxRate), 1)
	}
	t.status.Settings = FromVolts(bench.DefaultBiases, cfg.Cal)
	return t
}

// Status returns the last status
func (t *Tuner) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Settings returns the settings last requested
func (t *Tuner) Settings() Settings {
	return t.Status().Settings
}

// Subscribe returns a channel that receives every published status, and a
// func to cancel the subscription.  A subscriber that falls behind misses
// statuses.  Once the worker has stopped the channel comes back closed.
func (t *Tuner) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 4)
	t.mu.Lock()
	if t.done {
		close(ch)
	} else {
		t.subs[ch] = struct{}{}
	}
	t.mu.Unlock()
	return ch, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if _, ok := t.subs[ch]; ok {
			delete(t.subs, ch)
			close(ch)
		}
	}
}

func (t *Tuner) publish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Time = time.Now()
	for ch := range t.subs {
		select {
		case ch <- t.status:
		default:
		}
	}
}

// Apply hands s to the worker and waits for the transfer.  A read-back
// mismatch is not an error; it shows in Status.
func (t *Tuner) Apply(ctx context.Context, s Settings) error {
	return t.submit(ctx, request{settings: s, done: make(chan error, 1)})
}

// Do runs fn with the board on the worker, between applies
func (t *Tuner) Do(ctx context.Context, fn func(*bench.Board) error) error {
	return t.submit(ctx, request{fn: fn, done: make(chan error, 1)})
}

func (t *Tuner) submit(ctx context.Context, req request) error {
	select {
	case t.apply <- req:
	case <-t.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is the worker.  It powers the board, stops the SDM clock, applies the
// initial settings and then serves Apply until ctx is done.  Run may be
// called once.  A Refresh of zero or less publishes every DefaultRefresh.
func (t *Tuner) Run(ctx context.Context) error {
	defer t.stop()
	log := t.Board.Log
	if err := t.Board.PowerUp(); err != nil {
		return fmt.Errorf("power up: %w", err)
	}
	if err := t.Board.SetSDMClock(bench.SDMClockOff); err != nil {
		return fmt.Errorf("sdm clock: %w", err)
	}
	if err := t.do(ctx, t.Settings()); err != nil {
		log.Warn("initial apply", zap.Error(err))
	}
	t.publish()

	refresh := t.Refresh
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	ticker := time.NewTicker(refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-t.apply:
			if req.fn != nil {
				req.done <- req.fn(t.Board)
				continue
			}
			req.done <- t.do(ctx, req.settings)
			t.publish()
		case <-ticker.C:
			t.publish()
		}
	}
}

// stop closes every subscription and refuses new work
func (t *Tuner) stop() {
	t.mu.Lock()
	t.done = true
	for ch := range t.subs {
		delete(t.subs, ch)
		close(ch)
	}
	t.mu.Unlock()
	close(t.stopped)
}

func (t *Tuner) do(ctx context.Context, s Settings) error {
	if t.Limiter != nil {
		if err := t.Limiter.Wait(ctx); err != nil {
			return err
		}
	}
	res, err := t.Board.ApplyBiases(t.Config, s.Volts, s.Codes, t.ClkDiv)
	t.mu.Lock()
	t.status.Settings = s
	t.status.record(res, err)
	t.mu.Unlock()
	if err != nil {
		return err
	}
	t.Board.Log.Info("applied",
		zap.Float64s("volts", s.Volts[:]),
		zap.Uint16s("codes", s.Codes[:]),
		zap.Stringer("result", res))
	return nil
}
