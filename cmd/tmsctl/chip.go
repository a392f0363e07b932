package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/topmetal/tmsctl/generichttp/tmc"
	"github.com/topmetal/tmsctl/hp"
	"github.com/topmetal/tmsctl/keithley"
	"github.com/topmetal/tmsctl/rigol"
	"github.com/topmetal/tmsctl/scan"
	"github.com/topmetal/tmsctl/server"
	"github.com/topmetal/tmsctl/topmetal"
	"github.com/topmetal/tmsctl/tuner"
)

var singleCmd = &cobra.Command{
	Use:   "single",
	Short: "Bring up one chip standalone at the bench biases",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := config()
		if err != nil {
			return err
		}
		cfg := topmetal.NewTMS1mm()
		link, board, err := connect(c, cfg.Layout.Width)
		if err != nil {
			return err
		}
		defer link.Close()
		res, err := board.Single(cfg, c.ClkDiv)
		if err != nil {
			return err
		}
		fmt.Println(res)
		if !res.Match {
			for _, d := range cfg.Diff(res.ReadBack) {
				fmt.Println("  ", d)
			}
		}
		return nil
	},
}

var probecardCmd = &cobra.Command{
	Use:   "probecard X Y",
	Short: "Power a chip on the probe card and scan its DACs",
	Long: `probecard turns on the SMU, sweeps the six on-chip DACs together from the
configured lower to upper code and reads the ADC channels at each code, then
turns the SMU off.  Rows are appended to <prefix>xXXXXyYYYY.dat, or written to
a .fits file when the scan format is fits.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		x, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("chip x: %w", err)
		}
		y, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("chip y: %w", err)
		}
		c, err := config()
		if err != nil {
			return err
		}
		w, fn, err := scanWriter(c, fmt.Sprintf("x%04dy%04d", x, y), func(f *os.File) scan.Writer { return scan.NewProbeCardDat(f) })
		if err != nil {
			return err
		}
		log.Info("writing data", zap.String("file", fn))

		smu := keithley.NewSMU2450(c.SMU)
		if err = smu.VoltOn(keithley.DefaultVolts, keithley.DefaultILimit); err != nil {
			w.Close()
			return fmt.Errorf("smu: %w", err)
		}
		defer func() {
			if err := smu.VoltOff(); err != nil {
				log.Error("smu off", zap.Error(err))
			}
		}()
		time.Sleep(keithley.PowerUpWait)

		cfg := topmetal.NewTMS1mm()
		link, board, err := connect(c, cfg.Layout.Width)
		if err != nil {
			w.Close()
			return err
		}
		defer link.Close()
		if err = board.PowerUp(); err != nil {
			w.Close()
			return err
		}

		p := scan.NewProbeCard(board, cfg, x, y)
		p.ClkDiv = c.ClkDiv
		p.Lower, p.Upper, p.Step = c.Scan.Lower, c.Scan.Upper, c.Scan.Step
		spin := newSpinner("probe card scan")
		p.Progress = func(code int) { spinMessage(spin, "code %d of %d", code, p.Upper) }

		ctx, cancel := interruptible()
		defer cancel()
		err = p.Run(ctx, w)
		if cerr := w.Close(); err == nil {
			err = cerr
		}
		spinStop(spin, err)
		return err
	},
}

var dacscanCmd = &cobra.Command{
	Use:   "dacscan",
	Short: "Scan every code of VCASN with the HP 34401A",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := config()
		if err != nil {
			return err
		}
		step, _ := cmd.Flags().GetInt("step")
		batches, _ := cmd.Flags().GetInt("batches")

		meter := hp.NewHP34401A(c.DMM)
		if err = meter.Init(); err != nil {
			return fmt.Errorf("meter: %w", err)
		}
		defer meter.Close()
		id, err := meter.Identify()
		if err != nil {
			return fmt.Errorf("meter: %w", err)
		}
		log.Info("meter", zap.String("id", id))
		if err = meter.SetupMeasurement(); err != nil {
			return fmt.Errorf("meter: %w", err)
		}

		w, fn, err := scanWriter(c, fmt.Sprintf("dacscan_step%d", step), func(f *os.File) scan.Writer { return scan.NewDACScanDat(f) })
		if err != nil {
			return err
		}
		log.Info("writing data", zap.String("file", fn))

		cfg := topmetal.NewTMS1mm()
		link, board, err := connect(c, cfg.Layout.Width)
		if err != nil {
			w.Close()
			return err
		}
		defer link.Close()

		d := scan.NewDACScan(board, cfg, meter)
		d.ClkDiv = c.ClkDiv
		d.Step = step
		d.Batches = batches
		spin := newSpinner("dac scan")
		d.Progress = func(code int) { spinMessage(spin, "code %d", code) }

		ctx, cancel := interruptible()
		defer cancel()
		err = d.Run(ctx, w)
		if cerr := w.Close(); err == nil {
			err = cerr
		}
		spinStop(spin, err)
		return err
	},
}

var srCmd = &cobra.Command{
	Use:   "sr [hex vector]",
	Short: "Transfer one vector through the shift register and read it back",
	Long: `sr shifts a vector, given in hex, into the configured layout's shift
register and prints what came back.  With no vector the layout's default
configuration is sent.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := config()
		if err != nil {
			return err
		}
		cfg, err := chipConfig(c)
		if err != nil {
			return err
		}
		vec := cfg.Vector()
		if len(args) == 1 {
			var ok bool
			if vec, ok = new(big.Int).SetString(trimHex(args[0]), 16); !ok {
				return fmt.Errorf("%q is not a hex number", args[0])
			}
		}
		link, board, err := connect(c, cfg.Layout.Width)
		if err != nil {
			return err
		}
		defer link.Close()
		res, err := board.SR.TransferAndValidate(vec, c.ClkDiv)
		if err != nil {
			return err
		}
		fmt.Println(res)
		if !res.Match {
			return errors.New("read-back mismatch")
		}
		return nil
	},
}

func trimHex(s string) string {
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return s[2:]
	}
	return s
}

var tunerCmd = &cobra.Command{
	Use:   "tuner",
	Short: "Serve the live bias tuner over HTTP",
	Long: `tuner holds the seven bias voltages of a chip and applies every change
from a single worker.  Routes:

	/tuner/voltages, /tuner/codes, /tuner/status, /tuner/stream (websocket)
	/dac/output...   the DAC8568
	/adc/input?channel=N, /adc/temperature
	/fungen/...      the DG1022, when --fungen is given
	/endpoints       everything above
	/data/NAME       scan files under the scan prefix

Each node has a /lock.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := config()
		if err != nil {
			return err
		}
		cfg := topmetal.NewTMS1mm()
		link, board, err := connect(c, cfg.Layout.Width)
		if err != nil {
			return err
		}
		defer link.Close()

		var fg tmc.FunctionGenerator
		if withFG, _ := cmd.Flags().GetBool("fungen"); withFG {
			gen, err := rigol.Open(c.FunGen, log)
			if err != nil {
				return err
			}
			defer gen.Close()
			fg = gen
		}

		t := tuner.New(board, cfg, c.Tuner.MaxRate)
		t.ClkDiv = c.ClkDiv
		t.Refresh = c.Tuner.Refresh

		ctx, cancel := interruptible()
		defer cancel()
		mux := tuner.Mux(t, fg, log)
		dataDir := filepath.Dir(c.Scan.Prefix + "x")
		mux.Get("/data/{name}", func(w http.ResponseWriter, r *http.Request) {
			server.ReplyWithFile(w, r, chi.URLParam(r, "name"), dataDir, log)
		})
		srv := &http.Server{Addr: c.Tuner.Addr, Handler: mux}
		errs := make(chan error, 2)
		go func() { errs <- t.Run(ctx) }()
		go func() { errs <- srv.ListenAndServe() }()
		log.Info("tuner listening", zap.String("addr", c.Tuner.Addr))

		select {
		case err = <-errs:
		case <-ctx.Done():
		}
		cancel()
		shutdown, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if serr := srv.Shutdown(shutdown); serr != nil {
			log.Warn("shutdown", zap.Error(serr))
		}
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	dacscanCmd.Flags().Int("step", 1, "code step")
	dacscanCmd.Flags().Int("batches", 128, "batches of 512 meter points")
	tunerCmd.Flags().Bool("fungen", false, "also serve the function generator")
	rootCmd.AddCommand(singleCmd, probecardCmd, dacscanCmd, srCmd, tunerCmd)
}
