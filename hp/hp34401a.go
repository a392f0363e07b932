// Package hp provides an interface to the HP (Agilent) 34401A multimeter
// over RS-232
package hp

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tarm/serial"

	"github.com/topmetal/tmsctl/comm"
)

// MaxPoints is the reading memory of the meter
const MaxPoints = 512

// ErrMemoryFull is returned by MeasureOnePoint once MaxPoints triggers
// have been sent since the last arm
var ErrMemoryFull = errors.New("HP34401A reading memory full")

// makeSerConf makes a new serial.Config for 9600 baud 8N2, the meter's
// default RS-232 setting
func makeSerConf(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        9600,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop2,
		ReadTimeout: 10 * time.Second}
}

// HP34401A is a bench multimeter.  RS-232 requires remote mode, see Init.
type HP34401A struct {
	*comm.RemoteDevice

	// Wait is the pause the meter needs after entering remote mode, after
	// a reset, and before reporting its point count
	Wait time.Duration

	taken int
}

// NewHP34401A returns a meter on the serial port at addr, e.g. /dev/ttyUSB0
func NewHP34401A(addr string) *HP34401A {
	term := &comm.Terminators{Tx: '\n', Rx: '\n'}
	rd := comm.NewRemoteDevice(addr, true, term, makeSerConf(addr))
	return &HP34401A{RemoteDevice: &rd, Wait: time.Second}
}

func (m *HP34401A) write(cmds ...string) error {
	for _, c := range cmds {
		if err := m.Send([]byte(c)); err != nil {
			return err
		}
	}
	return nil
}

func (m *HP34401A) query(cmd string) (string, error) {
	resp, err := m.SendRecv([]byte(cmd))
	return string(resp), err
}

// Init opens the port and puts the meter in remote mode
func (m *HP34401A) Init() error {
	if err := m.Open(); err != nil {
		return err
	}
	if err := m.write("SYSTem:REMote"); err != nil {
		return err
	}
	time.Sleep(m.Wait)
	return nil
}

// Identify returns the *IDN? string
func (m *HP34401A) Identify() (string, error) {
	return m.query("*IDN?")
}

// SetupMeasurement resets the meter to DC volts on the 10 V range at
// 10 uV resolution, 10 PLC, >10 GOhm input and auto zero, beeper off
func (m *HP34401A) SetupMeasurement() error {
	if err := m.write("*RST"); err != nil {
		return err
	}
	time.Sleep(m.Wait)
	return m.write(
		"SYST:BEEP:STAT OFF",
		"CONF:VOLT:DC 10, 1E-5",
		"VOLT:DC:NPLC 10",
		"INP:IMP:AUTO ON",
		"SENS:ZERO:AUTO ON")
}

// SetTriggerThenArm clears the reading memory and arms the meter for
// MaxPoints bus triggers of one sample each
func (m *HP34401A) SetTriggerThenArm() error {
	err := m.write(
		"*CLS",
		"TRIG:SOUR BUS",
		"TRIG:DEL:AUTO ON",
		fmt.Sprintf("TRIG:COUN %d", MaxPoints),
		"SAMP:COUN 1",
		"INIT")
	if err != nil {
		return err
	}
	m.taken = 0
	return nil
}

// MeasureOnePoint sends a bus trigger
func (m *HP34401A) MeasureOnePoint() error {
	if m.taken >= MaxPoints {
		return ErrMemoryFull
	}
	if err := m.write("*TRG"); err != nil {
		return err
	}
	m.taken++
	return nil
}

// PointsTaken returns the number of readings in memory
func (m *HP34401A) PointsTaken() (int, error) {
	time.Sleep(m.Wait)
	resp, err := m.query("DATA:POIN?")
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(resp))
}

// Data fetches every reading in memory
func (m *HP34401A) Data() ([]float64, error) {
	resp, err := m.query("FETC?")
	if err != nil {
		return nil, err
	}
	if resp == "" {
		return nil, nil
	}
	pieces := strings.Split(resp, ",")
	out := make([]float64, len(pieces))
	for i, p := range pieces {
		out[i], err = strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return out[:i], err
		}
	}
	return out, nil
}
