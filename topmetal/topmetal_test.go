package topmetal

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
)

// defaultVector is the TMS1mm default register map, composed by hand:
//
//	vbiasn..vref  0x8 at 126, 122, 118, 114, 110 -> 0x22222 << 110
//	K             K0@109 K2@107 K4@105           -> 0x2a << 104
//	PD            PD0..PD3@99..96                -> 0xf << 96
//	DAC           75c3 8444 7bbb 7375 86d4 e4b2  -> bits 95..0
const defaultVector = "222222a0f75c384447bbb737586d4e4b2"

func bitsAt(vec *big.Int, off, width uint) uint64 {
	t := new(big.Int).Rsh(vec, off)
	t.And(t, new(big.Int).SetUint64(1<<width-1))
	return t.Uint64()
}

func TestDefaultVectorGolden(t *testing.T) {
	want, _ := new(big.Int).SetString(defaultVector, 16)
	got := NewTMS1mm().Vector()
	if got.Cmp(want) != 0 {
		t.Errorf("expected %x, got %x", want, got)
	}
	if got.BitLen() > 130 {
		t.Errorf("vector exceeds 130 bits: %d", got.BitLen())
	}
}

func TestSettersPlaceMaskedValue(t *testing.T) {
	tests := []struct {
		name  string
		set   func(c *Config)
		off   uint
		width uint
		want  uint64
	}{
		{"DAC0 truncated", func(c *Config) { c.SetDAC(0, 0x1ffff) }, 80, 16, 0xffff},
		{"DAC5", func(c *Config) { c.SetDAC(5, 0x1234) }, 0, 16, 0x1234},
		{"K0 open", func(c *Config) { c.SetK(0, 2) }, 109, 1, 0},
		{"K9 closed", func(c *Config) { c.SetK(9, 1) }, 100, 1, 1},
		{"PD0 on", func(c *Config) { c.SetPowerDown(0, 0) }, 99, 1, 0},
		{"PD3 on", func(c *Config) { c.SetPowerDown(3, 0) }, 96, 1, 0},
		{"vref truncated", func(c *Config) { c.SetVref(0x1f) }, 110, 4, 0xf},
		{"vcasp", func(c *Config) { c.SetVcasp(3) }, 114, 4, 3},
		{"vcasn", func(c *Config) { c.SetVcasn(4) }, 118, 4, 4},
		{"vbiasp", func(c *Config) { c.SetVbiasp(5) }, 122, 4, 5},
		{"vbiasn", func(c *Config) { c.SetVbiasn(0x16) }, 126, 4, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewTMS1mm()
			before := c.Vector()
			tt.set(c)
			after := c.Vector()
			if got := bitsAt(after, tt.off, tt.width); got != tt.want {
				t.Errorf("expected %#x at bit %d, got %#x", tt.want, tt.off, got)
			}
			// every other bit is untouched
			field := new(big.Int).Lsh(new(big.Int).SetUint64(1<<tt.width-1), tt.off)
			x := new(big.Int).Xor(before, after)
			if x.AndNot(x, field).Sign() != 0 {
				t.Errorf("bits outside the field changed: %x", x)
			}
		})
	}
}

func TestInstancesDoNotShareDefaults(t *testing.T) {
	a := NewTMS1mm()
	b := NewTMS1mm()
	a.SetDAC(0, 0)
	a.SetK(3, 1)
	if b.Vector().Cmp(NewTMS1mm().Vector()) != 0 {
		t.Error("mutating one Config changed another")
	}
	c := a.Clone()
	c.SetDAC(1, 0)
	if v, _ := a.Get("DAC", 1); v != 0x8444 {
		t.Errorf("clone aliases its source, DAC1 = %#x", v)
	}
}

func TestSetUnknown(t *testing.T) {
	c := NewTMS1mm()
	if err := c.Set("nope", 0, 1); !errors.Is(err, ErrUnknownField) {
		t.Errorf("expected ErrUnknownField for name, got %v", err)
	}
	if err := c.Set("PD", 4, 1); !errors.Is(err, ErrUnknownField) {
		t.Errorf("expected ErrUnknownField for index, got %v", err)
	}
	if err := c.Set("DAC", 2, 0x10000); err != nil {
		t.Errorf("out of range values truncate, got error %v", err)
	}
}

func TestLoadAndDiff(t *testing.T) {
	c := NewTMS1mm()
	c.SetDAC(2, 0xabcd)
	vec := c.Vector()

	d := NewTMS1mm()
	if diffs := d.Diff(vec); len(diffs) != 1 || diffs[0].Name != "DAC" || diffs[0].Index != 2 {
		t.Fatalf("expected one DAC[2] difference, got %v", diffs)
	}
	d.Load(vec)
	if diffs := d.Diff(vec); len(diffs) != 0 {
		t.Errorf("expected no differences after Load, got %v", diffs)
	}
	if d.Vector().Cmp(vec) != 0 {
		t.Errorf("Load then Vector did not round trip")
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		l    Layout
	}{
		{"overlap", Layout{Name: "x", Width: 16, Fields: []Field{
			{Name: "a", Width: 8, Count: 1, Base: 0},
			{Name: "b", Width: 8, Count: 1, Base: 4},
		}}},
		{"past width", Layout{Name: "x", Width: 16, Fields: []Field{
			{Name: "a", Width: 4, Count: 5, Base: 0},
		}}},
		{"zero width field", Layout{Name: "x", Width: 16, Fields: []Field{
			{Name: "a", Width: 0, Count: 1},
		}}},
		{"duplicate", Layout{Name: "x", Width: 16, Fields: []Field{
			{Name: "a", Width: 1, Count: 1, Base: 0},
			{Name: "a", Width: 1, Count: 1, Base: 1},
		}}},
		{"zero width layout", Layout{Name: "x"}},
	}
	for _, tt := range tests {
		if err := tt.l.Validate(); !errors.Is(err, ErrLayout) {
			t.Errorf("%s: expected ErrLayout, got %v", tt.name, err)
		}
	}
	if err := TMS1mm.Validate(); err != nil {
		t.Errorf("TMS1mm layout is invalid: %v", err)
	}
}

func TestLoadLayoutWide(t *testing.T) {
	l, err := LoadLayout("testdata/tmiia.yml")
	if err != nil {
		t.Fatal(err)
	}
	if l.Width != 170 || len(l.Fields) != 1 {
		t.Fatalf("unexpected layout %+v", l)
	}
	c, err := New(l, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Set("word", 9, 0x1ffff); err != nil {
		t.Fatal(err)
	}
	vec := c.Vector()
	if vec.BitLen() != 170 {
		t.Errorf("expected the top word to reach bit 169, bit length %d", vec.BitLen())
	}
}

func TestParseLayoutSchema(t *testing.T) {
	bad := []byte("name: x\nwidth: 8\nfields:\n  - name: a\n    width: 40\n    count: 1\n    base: 0\n")
	if _, err := ParseLayout(bad); !errors.Is(err, ErrLayout) {
		t.Errorf("expected schema failure for a 40 bit field, got %v", err)
	}
	extra := []byte(`{"name": "x", "width": 8, "colour": "red", "fields": [{"name": "a", "width": 1, "count": 1, "base": 0}]}`)
	if _, err := ParseLayout(extra); !errors.Is(err, ErrLayout) {
		t.Errorf("expected schema failure for an unknown key, got %v", err)
	}
}

func TestCalibrationRoundTrip(t *testing.T) {
	cal := DACCalibration
	for c := 0; c <= 65535; c++ {
		if got := cal.VoltToCode(cal.CodeToVolt(uint16(c))); int(got) != c {
			t.Fatalf("code %d round tripped to %d", c, got)
		}
	}
}

func TestCalibrationClamps(t *testing.T) {
	cal := DACCalibration
	if c := cal.VoltToCode(-1); c != 0 {
		t.Errorf("expected 0 below range, got %d", c)
	}
	if c := cal.VoltToCode(10); c != 65535 {
		t.Errorf("expected 65535 above range, got %d", c)
	}
}

func TestFingerprint(t *testing.T) {
	vec, _ := new(big.Int).SetString(defaultVector, 16)
	if fp := Fingerprint(vec, 130); fp != 0x71ac {
		t.Errorf("expected 0x71ac, got %#04x", fp)
	}
	// bits above width do not count
	hi := new(big.Int).Lsh(big.NewInt(7), 130)
	if fp := Fingerprint(hi.Or(hi, vec), 130); fp != 0x71ac {
		t.Errorf("bits above width changed the fingerprint: %#04x", fp)
	}
}

func ExampleConfig_Vector() {
	cfg := NewTMS1mm()
	cfg.SetPowerDown(0, 0)
	cfg.SetPowerDown(3, 0)
	fmt.Printf("%x\n", cfg.Vector())
	// Output: 222222a0675c384447bbb737586d4e4b2
}

func ExampleCalibration_VoltToCode() {
	fmt.Println(DACCalibration.VoltToCode(1.38))
	// Output: 30860
}

func TestSwitches(t *testing.T) {
	tests := []struct {
		name string
		sw   Switches
		k    []uint32
	}{
		{"bench", BenchSwitches, []uint32{0, 1, 1, 0, 0, 1, 1, 1, 0, 0}},
		{"unity gain buffer", Switches{BufferTest: true}, []uint32{0, 1, 0, 1, 0, 0, 1, 1, 0, 0}},
		{"none", Switches{}, []uint32{1, 0, 0, 1, 1, 0, 1, 1, 0, 0}},
	}
	for _, tt := range tests {
		c := NewTMS1mm()
		tt.sw.Apply(c)
		v := c.Values()
		for i, want := range tt.k {
			if v["K"][i] != want {
				t.Errorf("%s: K[%d] expected %d, got %d", tt.name, i, want, v["K"][i])
			}
		}
		if pd := v["PD"]; pd[0] != 0 || pd[1] != 1 || pd[2] != 1 || pd[3] != 0 {
			t.Errorf("%s: expected PD0 and PD3 powered up, got %v", tt.name, pd)
		}
	}
}
