package ti

// Mode is the input configuration of an ADC conversion
type Mode string

const (
	// Single is a single-ended measurement; it halves the effective gain
	Single Mode = "single"

	// Differential is a differential measurement
	Differential Mode = "diff"
)

// ADCVolt converts a 24-bit two's complement code to volts,
// code*vref/2^24/gain + vn.  Bits above 23 are ignored.
func ADCVolt(code uint32, vn, gain, vref float64, mode Mode) float64 {
	c := int32(code<<8) >> 8
	if mode == Single {
		gain *= 0.5
	}
	return float64(c)*vref/(1<<24)/gain + vn
}

// ADCTemp converts a code taken on the temperature sensor to Celsius,
// 25 + (v - 129 mV) / 403 uV/C
func ADCTemp(code uint32) float64 {
	v := ADCVolt(code, 0, 1, 2.5, Single)
	return 25 + (v-0.129)/0.000403
}
