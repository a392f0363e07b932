package bench_test

import (
	"testing"

	"github.com/topmetal/tmsctl/bench"
	"github.com/topmetal/tmsctl/fpga/fpgatest"
	"github.com/topmetal/tmsctl/ti"
	"github.com/topmetal/tmsctl/topmetal"
)

func newBoard(b *fpgatest.Bridge) *bench.Board {
	board := bench.NewBoard(b, topmetal.TMS1mm.Width, nil)
	board.SR.Settle = 0
	return board
}

func TestBiasCodes(t *testing.T) {
	codes := bench.DefaultBiases.Codes(topmetal.DACCalibration)
	if codes[0] != 30860 {
		t.Errorf("VBIASN: expected 30860, got %d", codes[0])
	}
}

func TestSingle(t *testing.T) {
	b := fpgatest.New()
	cfg := topmetal.NewTMS1mm()
	res, err := newBoard(b).Single(cfg, bench.DefaultClkDiv)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Match {
		t.Errorf("an echoing bridge must match: %s", res)
	}
	if w := b.Writes(bench.SDMClockReg); len(w) != 1 || w[0] != bench.SDMClockOn {
		t.Errorf("expected the SDM clock enabled, got %v", w)
	}
	v := cfg.Values()
	if v["DAC"][0] != 30860 {
		t.Errorf("VBIASN code: expected 30860, got %d", v["DAC"][0])
	}
	if v["DAC"][4] != 0x86d4 {
		t.Errorf("VDIS is external, its on-chip code must be untouched, got %#x", v["DAC"][4])
	}
	if v["PD"][0] != 0 || v["PD"][3] != 0 {
		t.Errorf("expected PD0 and PD3 powered up, got %v", v["PD"])
	}
}

func TestApplyBiases(t *testing.T) {
	b := fpgatest.New()
	cfg := topmetal.NewTMS1mm()
	codes := bench.DefaultBiases.Codes(cfg.Cal)
	codes[2] = 0x1234
	if _, err := newBoard(b).ApplyBiases(cfg, bench.DefaultBiases, codes, bench.DefaultClkDiv); err != nil {
		t.Fatal(err)
	}
	if got := cfg.Values()["DAC"][2]; got != 0x1234 {
		t.Errorf("codes are applied as given, expected 0x1234, got %#x", got)
	}
	var dacPulses, srPulses int
	for _, p := range b.Pulses() {
		switch p {
		case ti.DAC8568Selector:
			dacPulses++
		case 0x01:
			srPulses++
		}
	}
	// reference, Ref2 and seven biases, two halves each
	if dacPulses != 2*9 {
		t.Errorf("expected %d DAC8568 half-frames, got %d", 2*9, dacPulses)
	}
	if srPulses != 1 {
		t.Errorf("expected one shift register transfer, got %d", srPulses)
	}
}
