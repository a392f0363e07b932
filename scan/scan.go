/*Package scan runs the characterization scans of a Topmetal-S 1 mm chip:
the probe card scan, which sweeps all six bias DACs together and reads the
board ADC, and the DAC scan, which sweeps one DAC and reads a multimeter.

Scans write through a Writer, so the same run can produce the text format
or a FITS table.
*/
package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/topmetal/tmsctl/bench"
	"github.com/topmetal/tmsctl/hp"
	"github.com/topmetal/tmsctl/ti"
	"github.com/topmetal/tmsctl/topmetal"
	"github.com/topmetal/tmsctl/util"
)

// ProbeCardChannels are the ADC channels read at every code, the die
// temperature sensor first
var ProbeCardChannels = []int{ti.TempChannel, 0, 1, 2, 3, 4, 5, 6}

func columns(chs []int) []string {
	out := make([]string, len(chs))
	for i, ch := range chs {
		if ch == ti.TempChannel {
			out[i] = "TEMPSENS"
		} else {
			out[i] = fmt.Sprintf("AIN%d", ch)
		}
	}
	return out
}

// ProbeCard sweeps the six on-chip DACs from Lower to Upper, inclusive,
// confirming every configuration and reading the ADC channels at each code
type ProbeCard struct {
	Board  *bench.Board
	Config *topmetal.Config
	ClkDiv uint8

	Lower, Upper, Step int

	// X, Y locate the chip on the wafer
	X, Y int

	Channels []int

	// Progress, if not nil, is called before each code
	Progress func(code int)
}

// NewProbeCard returns a scan of the probe card's default code range
func NewProbeCard(board *bench.Board, cfg *topmetal.Config, x, y int) *ProbeCard {
	return &ProbeCard{
		Board:    board,
		Config:   cfg,
		ClkDiv:   bench.DefaultClkDiv,
		Lower:    0,
		Upper:    58000,
		Step:     2000,
		X:        x,
		Y:        y,
		Channels: ProbeCardChannels,
	}
}

// Header returns the header of a new run
func (p *ProbeCard) Header() Header {
	return Header{
		Title:       fmt.Sprintf("Chip %d %d", p.X, p.Y),
		RunID:       uuid.New(),
		Fingerprint: topmetal.Fingerprint(p.Config.Vector(), p.Config.Layout.Width),
		Columns:     columns(p.Channels),
	}
}

// Run performs the scan.  It stops between codes when ctx is done.
func (p *ProbeCard) Run(ctx context.Context, w Writer) error {
	log := p.Board.Log
	topmetal.BenchSwitches.Apply(p.Config)
	if err := w.WriteHeader(p.Header()); err != nil {
		return err
	}
	for _, code := range util.ArangeInt(p.Lower, p.Upper, p.Step) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.Progress != nil {
			p.Progress(code)
		}
		row, err := p.point(code)
		if err != nil {
			return fmt.Errorf("code %d: %w", code, err)
		}
		if err = w.WriteRow(row); err != nil {
			return err
		}
		log.Info("probe card point", zap.Int("code", code), zap.Float64s("volts", row.Values))
	}
	return nil
}

func (p *ProbeCard) point(code int) (Row, error) {
	row := Row{Code: code}
	p.Config.SetK(6, 1)
	p.Config.SetK(7, 1)
	for i := 0; i < 6; i++ {
		p.Config.SetDAC(i, uint32(code))
	}
	res, err := p.Board.SR.Confirm(p.Config.Vector(), p.ClkDiv)
	if err != nil {
		return row, err
	}
	if !res.Match {
		p.Board.Log.Warn("read-back failed", zap.Int("code", code), zap.Stringers("diff", p.Config.Diff(res.ReadBack)))
	}
	adc := p.Board.ADC
	if err = adc.Reset(); err != nil {
		return row, err
	}
	if err = adc.Initialize(); err != nil {
		return row, err
	}
	for _, ch := range p.Channels {
		if err = adc.SelectChannel(ch); err != nil {
			return row, err
		}
		time.Sleep(adc.AcqDelay)
		if err = adc.ReadReg(ti.RegInpMux, 2); err != nil {
			return row, err
		}
		din, err := adc.RecvDin()
		if err != nil {
			return row, err
		}
		data, err := adc.RecvData()
		if err != nil {
			return row, err
		}
		v := ti.ADCVolt(data, 0, adc.Gain, adc.Vref, adc.Mode)
		fields := []zap.Field{zap.Int("ch", ch), zap.String("din", fmt.Sprintf("%08x", din)), zap.Float64("volts", v)}
		if ch == ti.TempChannel {
			fields = append(fields, zap.Float64("celsius", ti.ADCTemp(data)))
		}
		p.Board.Log.Debug("adc", fields...)
		row.Values = append(row.Values, v)
	}
	return row, nil
}

// Meter is a multimeter with a triggered reading memory
type Meter interface {
	SetTriggerThenArm() error
	MeasureOnePoint() error
	PointsTaken() (int, error)
	Data() ([]float64, error)
}

var _ Meter = (*hp.HP34401A)(nil)

// DACScan sweeps one on-chip DAC through Batches*PointsPerBatch codes,
// measuring the buffered output with a Meter.  The meter is armed once per
// batch and read back after it.
type DACScan struct {
	Board  *bench.Board
	Config *topmetal.Config
	Meter  Meter
	ClkDiv uint8

	// DAC is the index of the swept on-chip DAC
	DAC int

	Step           int
	Batches        int
	PointsPerBatch int

	// Switches is the test configuration of the scan, unity gain by default
	Switches topmetal.Switches

	Progress func(code int)
}

// NewDACScan returns a scan of every code of DAC 2 (VCASN) with VBIASN at
// zero and VBIASP at full scale
func NewDACScan(board *bench.Board, cfg *topmetal.Config, m Meter) *DACScan {
	return &DACScan{
		Board:          board,
		Config:         cfg,
		Meter:          m,
		ClkDiv:         bench.DefaultClkDiv,
		DAC:            2,
		Step:           1,
		Batches:        128,
		PointsPerBatch: hp.MaxPoints,
		Switches:       topmetal.Switches{BufferTest: true},
	}
}

// Header returns the header of a new run
func (d *DACScan) Header() Header {
	return Header{
		Title:       fmt.Sprintf("step size %d", d.Step),
		RunID:       uuid.New(),
		Fingerprint: topmetal.Fingerprint(d.Config.Vector(), d.Config.Layout.Width),
		Columns:     []string{"VOUT"},
	}
}

// Run performs the scan.  It stops between batches when ctx is done.
func (d *DACScan) Run(ctx context.Context, w Writer) error {
	d.Switches.Apply(d.Config)
	d.Config.SetDAC(0, 0x0000)
	d.Config.SetDAC(1, 0xffff)
	if err := w.WriteHeader(d.Header()); err != nil {
		return err
	}
	for i := 0; i < d.Batches; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.batch(i, w); err != nil {
			return fmt.Errorf("batch %d: %w", i, err)
		}
	}
	return nil
}

func (d *DACScan) code(batch, j int) int {
	return (batch*d.PointsPerBatch + j) * d.Step
}

func (d *DACScan) batch(i int, w Writer) error {
	if err := d.Meter.SetTriggerThenArm(); err != nil {
		return err
	}
	for j := 0; j < d.PointsPerBatch; j++ {
		code := d.code(i, j)
		if d.Progress != nil {
			d.Progress(code)
		}
		d.Config.SetDAC(d.DAC, uint32(code))
		res, err := d.Board.SR.TransferAndValidate(d.Config.Vector(), d.ClkDiv)
		if err != nil {
			return err
		}
		d.Board.Log.Debug("dac scan point", zap.Int("code", code), zap.Bool("match", res.Match))
		if err = d.Meter.MeasureOnePoint(); err != nil {
			return err
		}
	}
	n, err := d.Meter.PointsTaken()
	if err != nil {
		return err
	}
	data, err := d.Meter.Data()
	if err != nil {
		return err
	}
	if n != len(data) {
		d.Board.Log.Warn("meter point count disagrees with its data", zap.Int("points", n), zap.Int("data", len(data)))
	}
	for j, v := range data {
		if err = w.WriteRow(Row{Code: d.code(i, j), Values: []float64{v}}); err != nil {
			return err
		}
	}
	return nil
}
