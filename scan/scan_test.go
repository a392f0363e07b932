package scan_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/topmetal/tmsctl/bench"
	"github.com/topmetal/tmsctl/fpga"
	"github.com/topmetal/tmsctl/fpga/fpgatest"
	"github.com/topmetal/tmsctl/scan"
	"github.com/topmetal/tmsctl/ti"
	"github.com/topmetal/tmsctl/topmetal"
)

// quickBoard answers every RDATA with a mid-scale conversion, 1.25 V
func quickBoard() (*fpgatest.Bridge, *bench.Board) {
	b := fpgatest.New()
	b.OnPulse = func(b *fpgatest.Bridge, mask uint16) {
		if mask == ti.ADS124S0XSelector && b.Regs[0] == 0x1200 {
			b.Status[9] = 0x0000
			b.Status[10] = 0x0040
		}
	}
	board := bench.NewBoard(b, topmetal.TMS1mm.Width, nil)
	board.SR.Settle = 0
	board.ADC.AcqDelay = 0
	board.ADC.ReadDelay = 0
	return b, board
}

func TestProbeCard(t *testing.T) {
	_, board := quickBoard()
	cfg := topmetal.NewTMS1mm()
	p := scan.NewProbeCard(board, cfg, 3, 4)
	p.Upper = 4000
	var codes []int
	p.Progress = func(code int) { codes = append(codes, code) }
	var buf bytes.Buffer
	if err := p.Run(context.Background(), scan.NewProbeCardDat(&buf)); err != nil {
		t.Fatal(err)
	}
	if len(codes) != 3 || codes[2] != 4000 {
		t.Errorf("expected codes 0, 2000, 4000, got %v", codes)
	}
	lines := strings.Split(buf.String(), "\n")
	if lines[0] != "" || lines[1] != "" || lines[2] != "# Chip 3 4" || !strings.HasPrefix(lines[3], "# run ") {
		t.Errorf("unexpected header %q", lines[:4])
	}
	want := "  2000   1.250000000  1.250000000  1.250000000  1.250000000  1.250000000  1.250000000  1.250000000  1.250000000"
	if lines[5] != want {
		t.Errorf("expected row\n%q\ngot\n%q", want, lines[5])
	}
	for i, v := range cfg.Values()["DAC"] {
		if v != 4000 {
			t.Errorf("DAC %d: expected the last code 4000, got %d", i, v)
		}
	}
}

func TestProbeCardCancelled(t *testing.T) {
	b, board := quickBoard()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := scan.NewProbeCard(board, topmetal.NewTMS1mm(), 0, 0)
	if err := p.Run(ctx, scan.NewProbeCardDat(&bytes.Buffer{})); err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if len(b.Ops) != 0 {
		t.Errorf("a cancelled scan must not touch the board, sent %d ops", len(b.Ops))
	}
}

type fakeMeter struct {
	taken, arms int
}

func (m *fakeMeter) SetTriggerThenArm() error { m.taken = 0; m.arms++; return nil }
func (m *fakeMeter) MeasureOnePoint() error { m.taken++; return nil }
func (m *fakeMeter) PointsTaken() (int, error) { return m.taken, nil }
func (m *fakeMeter) Data() ([]float64, error) {
	out := make([]float64, m.taken)
	for i := range out {
		out[i] = float64(i) / 10
	}
	return out, nil
}

func TestDACScan(t *testing.T) {
	b, board := quickBoard()
	cfg := topmetal.NewTMS1mm()
	m := &fakeMeter{}
	d := scan.NewDACScan(board, cfg, m)
	d.Batches = 2
	d.PointsPerBatch = 4
	d.Step = 3
	var buf bytes.Buffer
	if err := d.Run(context.Background(), scan.NewDACScanDat(&buf)); err != nil {
		t.Fatal(err)
	}
	if m.arms != 2 {
		t.Errorf("expected the meter armed once per batch, got %d", m.arms)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if lines[0] != "# step size 3" || len(lines) != 2+8 {
		t.Fatalf("unexpected output\n%s", buf.String())
	}
	if lines[2] != "     0   0.0000000000000000E+00" || lines[9] != "    21   2.9999999999999999E-01" {
		t.Errorf("unexpected rows %q %q", lines[2], lines[9])
	}
	v := cfg.Values()
	if v["DAC"][2] != 21 || v["DAC"][0] != 0 || v["DAC"][1] != 0xffff {
		t.Errorf("unexpected DACs %v", v["DAC"])
	}
	if v["K"][2] != 0 || v["K"][3] != 1 {
		t.Errorf("expected unity gain, got K %v", v["K"])
	}
	var transfers int
	for _, p := range b.Pulses() {
		if p == 0x01 {
			transfers++
		}
	}
	if transfers != 8 {
		t.Errorf("expected one transfer per point, got %d", transfers)
	}
}

func TestFITSWriter(t *testing.T) {
	var buf bytes.Buffer
	w := scan.NewFITSWriter(&buf)
	h := scan.Header{Title: "Chip 1 2", RunID: uuid.New(), Fingerprint: 0x71ac, Columns: []string{"AIN0", "AIN1"}}
	if err := w.WriteHeader(h); err != nil {
		t.Fatal(err)
	}
	for code := 0; code < 3; code++ {
		if err := w.WriteRow(scan.Row{Code: code, Values: []float64{1, 2}}); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.WriteRow(scan.Row{Code: 4, Values: []float64{1}}); err == nil {
		t.Error("expected an error for a short row")
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "SIMPLE  =") || len(out)%2880 != 0 {
		t.Errorf("not a FITS file: %d bytes, starts %.20q", len(out), out)
	}
	for _, s := range []string{"BINTABLE", "RUNID", h.RunID.String(), "AIN1"} {
		if !strings.Contains(out, s) {
			t.Errorf("expected %q in the file", s)
		}
	}
}

// latchTimer records how long after the last burst each status read went out
type latchTimer struct {
	*fpgatest.Bridge

	last  time.Time
	waits []time.Duration
}

func (l *latchTimer) Send(burst []byte) error {
	l.last = time.Now()
	return l.Bridge.Send(burst)
}

func (l *latchTimer) Query(burst []byte, n int) ([]byte, error) {
	l.waits = append(l.waits, time.Since(l.last))
	return l.Bridge.Query(burst, n)
}

var _ fpga.Transport = (*latchTimer)(nil)

func TestDACScanWaitsForSettle(t *testing.T) {
	const settle = 20 * time.Millisecond
	lt := &latchTimer{Bridge: fpgatest.New()}
	board := bench.NewBoard(lt, topmetal.TMS1mm.Width, nil)
	board.SR.Settle = settle
	d := scan.NewDACScan(board, topmetal.NewTMS1mm(), &fakeMeter{})
	d.Batches = 1
	d.PointsPerBatch = 3
	if err := d.Run(context.Background(), scan.NewDACScanDat(&bytes.Buffer{})); err != nil {
		t.Fatal(err)
	}
	if len(lt.waits) != 3 {
		t.Fatalf("expected one read-back per point, got %d", len(lt.waits))
	}
	for i, w := range lt.waits {
		if w < settle {
			t.Errorf("point %d: read back %v after the latch, want at least %v", i, w, settle)
		}
	}
}
