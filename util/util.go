// Package util contains misc internal utilities.
package util

import (
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// IntSliceToCSV convets a slice of ints to CSV formatted data.
// e.g., []int{1,2,3,4,5} => "1,2,3,4,5"
func IntSliceToCSV(is []int) string {
	s := make([]string, len(is))
	for i, v := range is {
		s[i] = strconv.Itoa(v)
	}

	return strings.Join(s, ",")
}

// Clamp limits x to [low, high].  NaN clamps to low.
func Clamp(x, low, high float64) float64 {
	if x < low || math.IsNaN(x) {
		return low
	}
	if x > high {
		return high
	}
	return x
}

// ArangeInt returns start, start+step, ... up to and including stop.
// A step <= 0 returns nil.
func ArangeInt(start, stop, step int) []int {
	if step <= 0 || stop < start {
		return nil
	}
	out := make([]int, 0, (stop-start)/step+1)
	for i := start; i <= stop; i += step {
		out = append(out, i)
	}
	return out
}

// NewLogger returns a console logger.  verbose enables debug output with
// caller information; otherwise info and above are logged.
func NewLogger(verbose bool) (*zap.Logger, error) {
	var cfg zap.Config
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.Sampling = nil
	}
	return cfg.Build()
}
