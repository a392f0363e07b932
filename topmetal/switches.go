package topmetal

// Switches is the analog test configuration of a Topmetal-S 1 mm chip on the
// bench: which of the K switches route the buffer, the gain and the
// sigma-delta modulator to the test pads.
type Switches struct {
	// BufferTest opens K1 and K5 and closes K2 and K7, so BufferX2_testIN
	// drives the buffer and its output reaches AOUT_BufferX2
	BufferTest bool `yaml:"bufferTest" koanf:"bufferTest"`

	// X2Gain closes K3 and opens K4 for a buffer gain of two; otherwise
	// the buffer runs at unity gain
	X2Gain bool `yaml:"x2Gain" koanf:"x2Gain"`

	// SDMTest opens K5 and closes K6, connecting the modulator input
	SDMTest bool `yaml:"sdmTest" koanf:"sdmTest"`
}

// BenchSwitches is the configuration used by the single-chip, probe card
// and tuner setups
var BenchSwitches = Switches{BufferTest: true, X2Gain: true, SDMTest: true}

// Apply powers up PD0 and PD3 and sets the K switches of c for s.
// K7 and K8 are always closed, the buffer and CSA outputs go to the pads.
// c must have the PD and K fields of the TMS1mm layout.
func (s Switches) Apply(c *Config) {
	c.SetPowerDown(0, 0)
	c.SetPowerDown(3, 0)
	if s.BufferTest {
		c.SetK(0, 0)
		c.SetK(1, 1)
		c.SetK(4, 0)
		c.SetK(6, 1)
	}
	if s.X2Gain {
		c.SetK(2, 1)
		c.SetK(3, 0)
	} else {
		c.SetK(2, 0)
		c.SetK(3, 1)
	}
	if s.SDMTest {
		c.SetK(4, 0)
		c.SetK(5, 1)
	} else {
		c.SetK(5, 0)
	}
	c.SetK(6, 1)
	c.SetK(7, 1)
}
