package topmetal

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	yaml "gopkg.in/yaml.v2"
)

var (
	// ErrLayout is returned by Validate for an inconsistent layout
	ErrLayout = errors.New("invalid register layout")

	// ErrUnknownField is returned by Set and Get for a name or index not in the layout
	ErrUnknownField = errors.New("unknown register field")
)

// Field is one named group of equal-width registers in a configuration vector
type Field struct {
	Name string `yaml:"name" json:"name"`

	// Width is the number of bits of each element, at most 32
	Width uint `yaml:"width" json:"width"`

	// Count is the number of elements; 1 for a scalar register
	Count int `yaml:"count" json:"count"`

	// Base is the bit offset of the element stored lowest in the vector
	Base uint `yaml:"base" json:"base"`

	// Descending places element 0 highest, so element i is at
	// Base + (Count-1-i)*Width.  Otherwise element i is at Base + i*Width.
	Descending bool `yaml:"descending" json:"descending"`
}

// Offset returns the bit offset of element i
func (f Field) Offset(i int) uint {
	if f.Descending {
		return f.Base + uint(f.Count-1-i)*f.Width
	}
	return f.Base + uint(i)*f.Width
}

// Mask returns the largest value an element can hold
func (f Field) Mask() uint32 {
	if f.Width >= 32 {
		return 0xffffffff
	}
	return 1<<f.Width - 1
}

// Layout describes the bit layout of a chip's configuration vector
type Layout struct {
	Name string `yaml:"name" json:"name"`

	// Width is the number of data bits in the vector
	Width uint `yaml:"width" json:"width"`

	Fields []Field `yaml:"fields" json:"fields"`
}

// TMS1mm is the 130-bit layout of the Topmetal-S 1 mm electrode chip
var TMS1mm = Layout{
	Name:  "tms1mm",
	Width: 130,
	Fields: []Field{
		{Name: "vbiasn", Width: 4, Count: 1, Base: 126},
		{Name: "vbiasp", Width: 4, Count: 1, Base: 122},
		{Name: "vcasn", Width: 4, Count: 1, Base: 118},
		{Name: "vcasp", Width: 4, Count: 1, Base: 114},
		{Name: "vref", Width: 4, Count: 1, Base: 110},
		{Name: "K", Width: 1, Count: 10, Base: 100, Descending: true},
		{Name: "PD", Width: 1, Count: 4, Base: 96, Descending: true},
		{Name: "DAC", Width: 16, Count: 6, Base: 0, Descending: true},
	},
}

// Mask returns 2^Width - 1
func (l Layout) Mask() *big.Int {
	m := new(big.Int).Lsh(big.NewInt(1), l.Width)
	return m.Sub(m, big.NewInt(1))
}

// Field looks up a field by name
func (l Layout) Field(name string) (Field, bool) {
	for _, f := range l.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Validate checks that every element of every field lies inside the vector
// and that no two elements share a bit
func (l Layout) Validate() error {
	if l.Width == 0 {
		return fmt.Errorf("%w: %q has zero width", ErrLayout, l.Name)
	}
	used := new(big.Int)
	seen := map[string]bool{}
	for _, f := range l.Fields {
		if f.Name == "" {
			return fmt.Errorf("%w: unnamed field", ErrLayout)
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: duplicate field %q", ErrLayout, f.Name)
		}
		seen[f.Name] = true
		if f.Width == 0 || f.Width > 32 {
			return fmt.Errorf("%w: field %q width %d not in 1..32", ErrLayout, f.Name, f.Width)
		}
		if f.Count < 1 {
			return fmt.Errorf("%w: field %q count %d", ErrLayout, f.Name, f.Count)
		}
		for i := 0; i < f.Count; i++ {
			off := f.Offset(i)
			if off+f.Width > l.Width {
				return fmt.Errorf("%w: %s[%d] at bit %d runs past width %d", ErrLayout, f.Name, i, off, l.Width)
			}
			bits := new(big.Int).SetUint64(uint64(f.Mask()))
			bits.Lsh(bits, off)
			if new(big.Int).And(used, bits).Sign() != 0 {
				return fmt.Errorf("%w: %s[%d] at bit %d overlaps another field", ErrLayout, f.Name, i, off)
			}
			used.Or(used, bits)
		}
	}
	return nil
}

//go:embed schema/layout.json
var layoutSchemaJSON string

var layoutSchema = jsonschema.MustCompileString("layout.json", layoutSchemaJSON)

// LoadLayout reads a layout from a YAML or JSON file, checks it against
// the layout schema and validates it
func LoadLayout(path string) (Layout, error) {
	var l Layout
	b, err := os.ReadFile(path)
	if err != nil {
		return l, err
	}
	return ParseLayout(b)
}

// ParseLayout is LoadLayout for a document already in memory
func ParseLayout(b []byte) (Layout, error) {
	var l Layout
	var raw interface{}
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return l, fmt.Errorf("%w: %v", ErrLayout, err)
	}
	// the schema validator wants the value shapes encoding/json produces
	js, err := json.Marshal(jsonable(raw))
	if err != nil {
		return l, fmt.Errorf("%w: %v", ErrLayout, err)
	}
	var doc interface{}
	if err := json.Unmarshal(js, &doc); err != nil {
		return l, fmt.Errorf("%w: %v", ErrLayout, err)
	}
	if err := layoutSchema.Validate(doc); err != nil {
		return l, fmt.Errorf("%w: %v", ErrLayout, err)
	}
	if err := json.Unmarshal(js, &l); err != nil {
		return l, fmt.Errorf("%w: %v", ErrLayout, err)
	}
	return l, l.Validate()
}

// jsonable converts the map[interface{}]interface{} yaml.v2 produces into
// map[string]interface{}
func jsonable(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, vv := range t {
			m[strings.TrimSpace(fmt.Sprint(k))] = jsonable(vv)
		}
		return m
	case []interface{}:
		for i := range t {
			t[i] = jsonable(t[i])
		}
		return t
	default:
		return v
	}
}
