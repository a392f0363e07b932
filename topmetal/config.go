/*Package topmetal holds the configuration register map of Topmetal-S chips
and composes it into the wide vector shifted into the chip.

A Config is parameterized by a Layout, so chip variants differ in data only.
Setters mask their input to the width of the field and never fail;
out-of-range values are truncated.

	cfg := topmetal.NewTMS1mm()
	cfg.SetPowerDown(0, 0)
	cfg.SetDAC(5, cfg.DACVoltToCode(2.68))
	vec := cfg.Vector()
*/
package topmetal

import (
	"fmt"
	"math/big"
)

// Values holds element values by field name.  Scalars have one element.
type Values map[string][]uint32

// Clone returns a deep copy of v
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, vals := range v {
		out[k] = append([]uint32(nil), vals...)
	}
	return out
}

// TMS1mmDefaults returns the power-on register map of the Topmetal-S 1 mm chip.
// Each call returns a fresh copy.
func TMS1mmDefaults() Values {
	return Values{
		"DAC":    {0x75c3, 0x8444, 0x7bbb, 0x7375, 0x86d4, 0xe4b2},
		"PD":     {1, 1, 1, 1},                   // 1 is powered down
		"K":      {1, 0, 1, 0, 1, 0, 0, 0, 0, 0}, // 1 is closed
		"vref":   {0x8},
		"vcasp":  {0x8},
		"vcasn":  {0x8},
		"vbiasp": {0x8},
		"vbiasn": {0x8},
	}
}

// Config is the register map of one chip.  It holds no connection and is
// not safe for concurrent use.
type Config struct {
	Layout Layout

	// Cal converts bias voltages to codes for the on-chip DACs
	Cal Calibration

	vals Values
}

// New creates a Config for layout with the given starting values.
// defaults is copied; fields it omits start at zero, values it holds for
// unknown fields are ignored and values are masked to the field width.
func New(layout Layout, defaults Values) (*Config, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	c := &Config{Layout: layout, Cal: DACCalibration, vals: make(Values, len(layout.Fields))}
	for _, f := range layout.Fields {
		vals := make([]uint32, f.Count)
		for i := range vals {
			if i < len(defaults[f.Name]) {
				vals[i] = defaults[f.Name][i] & f.Mask()
			}
		}
		c.vals[f.Name] = vals
	}
	return c, nil
}

// NewTMS1mm creates a Config with the TMS1mm layout and defaults
func NewTMS1mm() *Config {
	c, err := New(TMS1mm, TMS1mmDefaults())
	if err != nil {
		panic(err)
	}
	return c
}

// Clone returns an independent copy of c
func (c *Config) Clone() *Config {
	out := *c
	out.Layout.Fields = append([]Field(nil), c.Layout.Fields...)
	out.vals = c.vals.Clone()
	return &out
}

// Values returns a copy of the current register values
func (c *Config) Values() Values {
	return c.vals.Clone()
}

// Set stores v, masked to the field width, in element i of field name
func (c *Config) Set(name string, i int, v uint32) error {
	f, ok := c.Layout.Field(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	if i < 0 || i >= f.Count {
		return fmt.Errorf("%w: %s[%d], field has %d elements", ErrUnknownField, name, i, f.Count)
	}
	c.vals[name][i] = v & f.Mask()
	return nil
}

// Get returns element i of field name
func (c *Config) Get(name string, i int) (uint32, error) {
	vals, ok := c.vals[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	if i < 0 || i >= len(vals) {
		return 0, fmt.Errorf("%w: %s[%d], field has %d elements", ErrUnknownField, name, i, len(vals))
	}
	return vals[i], nil
}

// must is for the named setters, whose fields are part of every Topmetal-S
// layout; an out-of-range index there is a programming error
func (c *Config) must(name string, i int, v uint32) {
	if err := c.Set(name, i, v); err != nil {
		panic(err)
	}
}

// SetDAC sets on-chip DAC i (0..5) to the low 16 bits of v
func (c *Config) SetDAC(i int, v uint32) { c.must("DAC", i, v) }

// SetPowerDown sets power-down flag i (0..3); 1 powers the block down
func (c *Config) SetPowerDown(i int, v uint32) { c.must("PD", i, v) }

// SetK sets analog switch i (0..9); 1 closes it
func (c *Config) SetK(i int, v uint32) { c.must("K", i, v) }

// SetVref sets the 4-bit vref bias code
func (c *Config) SetVref(v uint32) { c.must("vref", 0, v) }

// SetVcasp sets the 4-bit vcasp bias code
func (c *Config) SetVcasp(v uint32) { c.must("vcasp", 0, v) }

// SetVcasn sets the 4-bit vcasn bias code
func (c *Config) SetVcasn(v uint32) { c.must("vcasn", 0, v) }

// SetVbiasp sets the 4-bit vbiasp bias code
func (c *Config) SetVbiasp(v uint32) { c.must("vbiasp", 0, v) }

// SetVbiasn sets the 4-bit vbiasn bias code
func (c *Config) SetVbiasn(v uint32) { c.must("vbiasn", 0, v) }

// Vector composes the packed configuration vector.  It is a pure function
// of the current values.
func (c *Config) Vector() *big.Int {
	ret := new(big.Int)
	tmp := new(big.Int)
	for _, f := range c.Layout.Fields {
		for i, v := range c.vals[f.Name] {
			tmp.SetUint64(uint64(v))
			tmp.Lsh(tmp, f.Offset(i))
			ret.Or(ret, tmp)
		}
	}
	return ret
}

// Load replaces the current values with those disassembled from vec
func (c *Config) Load(vec *big.Int) {
	for _, f := range c.Layout.Fields {
		for i := range c.vals[f.Name] {
			c.vals[f.Name][i] = extract(vec, f, i)
		}
	}
}

func extract(vec *big.Int, f Field, i int) uint32 {
	tmp := new(big.Int).Rsh(vec, f.Offset(i))
	tmp.And(tmp, new(big.Int).SetUint64(uint64(f.Mask())))
	return uint32(tmp.Uint64())
}

// FieldDiff is one element whose value in a vector differs from the Config
type FieldDiff struct {
	Name  string
	Index int
	Want  uint32
	Got   uint32
}

func (d FieldDiff) String() string {
	return fmt.Sprintf("%s[%d]: want %#x got %#x", d.Name, d.Index, d.Want, d.Got)
}

// Diff lists the elements whose value in vec differs from the current values,
// in layout order.  Bits of vec not covered by any field are ignored.
func (c *Config) Diff(vec *big.Int) []FieldDiff {
	var out []FieldDiff
	for _, f := range c.Layout.Fields {
		for i, want := range c.vals[f.Name] {
			if got := extract(vec, f, i); got != want {
				out = append(out, FieldDiff{Name: f.Name, Index: i, Want: want, Got: got})
			}
		}
	}
	return out
}

// DACVoltToCode converts a bias voltage to an on-chip DAC code with c.Cal
func (c *Config) DACVoltToCode(v float64) uint32 {
	return uint32(c.Cal.VoltToCode(v))
}

// DACCodeToVolt converts an on-chip DAC code to volts with c.Cal
func (c *Config) DACCodeToVolt(code uint32) float64 {
	return c.Cal.CodeToVolt(uint16(code))
}
