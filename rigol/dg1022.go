// Package rigol provides an interface to the Rigol DG1022 function generator
// used to inject test pulses into the chip
package rigol

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/topmetal/tmsctl/comm"
	"github.com/topmetal/tmsctl/scpi"
	"github.com/topmetal/tmsctl/usbtmc"
	"github.com/topmetal/tmsctl/util"
)

const (
	// VendorID is Rigol's USB vendor ID
	VendorID = 0x1ab1

	// ProductID is the DG1022's USB product ID
	ProductID = 0x0588

	// MaxCode is the full scale of an arbitrary waveform point
	MaxCode = 16383

	idle = 5 * time.Second
)

// ErrNoInterface is returned by Open when neither USB nor LAN reaches a generator
var ErrNoInterface = errors.New("no DG1022 on USB and no LAN address configured")

// Config selects how to reach the generator
type Config struct {
	VID uint16 `yaml:"vid" koanf:"vid"`
	PID uint16 `yaml:"pid" koanf:"pid"`

	// Addr, host:port, is used when no USB device is found
	Addr string `yaml:"addr" koanf:"addr"`
}

// DefaultConfig is the DG1022 on USB with no LAN fallback
var DefaultConfig = Config{VID: VendorID, PID: ProductID}

// DG1022 is a two channel function generator.  The generator drops
// commands that arrive while it is reconfiguring its output, so each
// setting is followed by Wait.
type DG1022 struct {
	*scpi.SCPI

	Wait time.Duration
}

// New wraps an SCPI session
func New(s *scpi.SCPI) *DG1022 {
	return &DG1022{SCPI: s, Wait: 500 * time.Millisecond}
}

// Open reaches the generator over USBTMC when one with cfg's IDs is
// attached, else over TCP at cfg.Addr.
func Open(cfg Config, log *zap.Logger) (*DG1022, error) {
	if log == nil {
		log = zap.NewNop()
	}
	dev, err := usbtmc.Open(cfg.VID, cfg.PID)
	if err == nil {
		log.Info("function generator on USB", zap.String("id", fmt.Sprintf("%04x:%04x", cfg.VID, cfg.PID)))
		return New(&scpi.SCPI{Pool: usbPool(cfg, dev)}), nil
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("%w: %v", ErrNoInterface, err)
	}
	log.Info("function generator on LAN", zap.String("addr", cfg.Addr), zap.NamedError("usb", err))
	return New(scpi.NewTCP(cfg.Addr, idle)), nil
}

// usbPool hands out the device found by Open first, then reopens as needed
func usbPool(cfg Config, first *usbtmc.USBDevice) *comm.Pool {
	term := byte('\n')
	first.Term = &term
	return comm.NewPool(1, idle, func() (io.ReadWriteCloser, error) {
		if first != nil {
			d := first
			first = nil
			return d, nil
		}
		d, err := usbtmc.Open(cfg.VID, cfg.PID)
		if err != nil {
			return nil, err
		}
		d.Term = &term
		return d, nil
	})
}

func (d *DG1022) write(cmd string, wait time.Duration) error {
	if err := d.Write(cmd); err != nil {
		return err
	}
	time.Sleep(wait)
	return nil
}

// TailPulse returns np points of a pulse at full scale for xp points that
// then recovers as 1-exp(-alpha*(i-xp)), truncated to integer codes
func TailPulse(xp, np int, alpha float64) []int {
	vals := make([]int, np)
	for i := range vals {
		if i < xp {
			vals[i] = MaxCode
			continue
		}
		vals[i] = int(MaxCode * (1 - math.Exp(-float64(i-xp)*alpha)))
	}
	return vals
}

// SetupTailPulse loads TailPulse(xp, np, alpha) into volatile memory and
// plays it at freq Hz
func (d *DG1022) SetupTailPulse(freq float64, xp, np int, alpha float64) error {
	if err := d.write("FUNC USER", d.Wait); err != nil {
		return err
	}
	if err := d.SetFrequency(freq); err != nil {
		return err
	}
	data := "DATA:DAC VOLATILE," + util.IntSliceToCSV(TailPulse(xp, np, alpha))
	if err := d.write(data, 2*d.Wait); err != nil {
		return err
	}
	return d.write("FUNC:USER VOLATILE", d.Wait)
}

// SetFunction sets the waveform, e.g. SIN, SQU, USER
func (d *DG1022) SetFunction(fcn string) error {
	return d.write("FUNC "+strings.ToUpper(fcn), d.Wait)
}

// GetFunction returns the waveform
func (d *DG1022) GetFunction() (string, error) {
	return d.ReadString("FUNC?")
}

// SetFrequency sets the output frequency in Hz
func (d *DG1022) SetFrequency(hz float64) error {
	return d.write(fmt.Sprintf("FREQ %g", hz), d.Wait)
}

// GetFrequency returns the output frequency in Hz
func (d *DG1022) GetFrequency() (float64, error) {
	return d.ReadFloat("FREQ?")
}

// SetVoltage sets the amplitude in volts peak to peak
func (d *DG1022) SetVoltage(vpp float64) error {
	return d.write(fmt.Sprintf("VOLT %g", vpp), d.Wait)
}

// GetVoltage returns the amplitude
func (d *DG1022) GetVoltage() (float64, error) {
	return d.ReadFloat("VOLT?")
}

// SetOffset sets the DC offset in volts
func (d *DG1022) SetOffset(v float64) error {
	return d.write(fmt.Sprintf("VOLT:OFFS %g", v), d.Wait)
}

// GetOffset returns the DC offset
func (d *DG1022) GetOffset() (float64, error) {
	return d.ReadFloat("VOLT:OFFS?")
}

// SetLevels sets the low and high levels of the waveform
func (d *DG1022) SetLevels(lo, hi float64) error {
	cmds := []string{
		"VOLT:UNIT VPP",
		fmt.Sprintf("VOLTage:LOW %g", lo),
		fmt.Sprintf("VOLTage:HIGH %g", hi),
	}
	for _, c := range cmds {
		if err := d.write(c, d.Wait); err != nil {
			return err
		}
	}
	return nil
}

// TurnOnOutput sets a 50 Ohm load and enables the output
func (d *DG1022) TurnOnOutput() error {
	if err := d.write("OUTP:LOAD 50", d.Wait); err != nil {
		return err
	}
	return d.EnableOutput()
}

// EnableOutput turns the output on
func (d *DG1022) EnableOutput() error {
	return d.write("OUTP ON", d.Wait)
}

// DisableOutput turns the output off
func (d *DG1022) DisableOutput() error {
	return d.write("OUTP OFF", d.Wait)
}

// GetOutput reports if the output is on
func (d *DG1022) GetOutput() (bool, error) {
	return d.ReadBool("OUTP?")
}
