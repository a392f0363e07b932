package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/topmetal/tmsctl/fpga"
	"github.com/topmetal/tmsctl/tmarray"
)

func dial(c Config) (*fpga.Link, error) {
	return fpga.Dial(c.Control, c.Timeout)
}

var sramCmd = &cobra.Command{
	Use:   "sram",
	Short: "Load the TMIIa pixel SRAM",
	Long: `sram loads one nibble per pixel into the TMIIa SRAM.  With --file the
nibbles are read from a file of hex words, eight nibbles per word, low nibble
first; otherwise a ramp 0, 1, ... 15, 0, 1, ... covering the array is loaded.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := config()
		if err != nil {
			return err
		}
		start, _ := cmd.Flags().GetUint32("start")
		fn, _ := cmd.Flags().GetString("file")
		nibbles := make([]uint8, tmarray.Pixels)
		if fn != "" {
			words, err := tmarray.LoadWordFile(fn)
			if err != nil {
				return err
			}
			nibbles = nibbles[:0]
			for _, w := range words {
				for j := 0; j < 8; j++ {
					nibbles = append(nibbles, uint8(w>>(4*j))&0xf)
				}
			}
		} else {
			for i := range nibbles {
				nibbles[i] = uint8(i) & 0xf
			}
		}
		link, err := dial(c)
		if err != nil {
			return err
		}
		defer link.Close()
		if err = tmarray.SRAMConfig(link, start, nibbles); err != nil {
			return err
		}
		log.Info("sram loaded", zap.Uint32("start", start), zap.Int("nibbles", len(nibbles)))
		return nil
	},
}

var arrayscanCmd = &cobra.Command{
	Use:   "arrayscan",
	Short: "Configure and start the TMIIa array scan sequencer",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := config()
		if err != nil {
			return err
		}
		a := c.ArrayScan
		link, err := dial(c)
		if err != nil {
			return err
		}
		defer link.Close()
		if err = a.Apply(link); err != nil {
			return err
		}
		fmt.Printf("array scan register %#016x\n", a.Register())
		return nil
	},
}

var memloadCmd = &cobra.Command{
	Use:   "memload FILE",
	Short: "Load a file of hex words into bridge memory and hand it to the JTAG engine",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := config()
		if err != nil {
			return err
		}
		addr, _ := cmd.Flags().GetUint32("addr")
		words, err := tmarray.LoadWordFile(args[0])
		if err != nil {
			return err
		}
		link, err := dial(c)
		if err != nil {
			return err
		}
		defer link.Close()
		if err = tmarray.MemLoad(link, addr, words); err != nil {
			return err
		}
		log.Info("memory loaded", zap.Uint32("addr", addr), zap.Int("words", len(words)))
		return nil
	},
}

func init() {
	sramCmd.Flags().Uint32("start", 0, "first SRAM word address")
	sramCmd.Flags().String("file", "", "hex word file of nibbles")
	memloadCmd.Flags().Uint32("addr", 0, "first memory word address")
	rootCmd.AddCommand(sramCmd, arrayscanCmd, memloadCmd)
}
