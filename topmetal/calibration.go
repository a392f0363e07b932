package topmetal

import (
	"math"
	"math/big"

	"github.com/snksoft/crc"

	"github.com/topmetal/tmsctl/util"
)

// Calibration is an affine map between volts and 16-bit DAC codes,
// volts = code*A + B
type Calibration struct {
	A, B float64
}

// DACCalibration is the fit of the Topmetal-S 1 mm on-chip bias DACs
var DACCalibration = Calibration{A: 4.35861e-5, B: 0.0349427}

// VoltToCode returns the nearest code for v, clamped to [0, 65535]
func (c Calibration) VoltToCode(v float64) uint16 {
	return uint16(util.Clamp(math.Round((v-c.B)/c.A), 0, math.MaxUint16))
}

// CodeToVolt returns the voltage of code.  It does not clamp.
func (c Calibration) CodeToVolt(code uint16) float64 {
	return float64(code)*c.A + c.B
}

var crcTable = crc.NewTable(crc.XMODEM)

// Fingerprint is the CRC-16/XMODEM of the low width bits of vec, taken as a
// big-endian byte string of (width+7)/8 bytes
func Fingerprint(vec *big.Int, width uint) uint16 {
	m := new(big.Int).Lsh(big.NewInt(1), width)
	m.Sub(m, big.NewInt(1))
	m.And(m, vec)
	b := m.FillBytes(make([]byte, (width+7)/8))
	return uint16(crcTable.CalculateCRC(b))
}
