// Package daq provides a generic HTTP interface to ADC and DAC devices
//
// This is not the last word in speed, due to HTTP having reasonable latency in
// most client languages, but it is the last word in ease of use.
package daq

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/topmetal/tmsctl/generichttp"
)

// DAC is a model for simple digital to analog converter
type DAC interface {
	// Output sends a voltage on a given channel
	Output(int, float64) error

	// OutputDN16 sends a data number on a given channel
	OutputDN16(int, uint16) error
}

// HTTPBasicDAC adds routes for basic DAC operation to a table
func HTTPBasicDAC(iface DAC, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/output"}] = Output(iface)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/output-dn-16"}] = OutputDN16(iface)
}

type channelVoltage struct {
	Channel int `json:"channel"`

	Voltage float64 `json:"voltage"`
}

type channelDN struct {
	Channel int `json:"channel"`

	DN uint16 `json:"dn"`
}

// decodeThen decodes the request body into a T and calls fcn with it,
// replying 400 for a bad body and 500 for an error from fcn
func decodeThen[T any](fcn func(T) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input T
		err := json.NewDecoder(r.Body).Decode(&input)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err = fcn(input); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// Output returns an HTTP handlerfunc that will write a voltage to a channel
func Output(d DAC) http.HandlerFunc {
	return decodeThen(func(in channelVoltage) error { return d.Output(in.Channel, in.Voltage) })
}

// OutputDN16 returns an HTTP handlerfunc that will write a data number to a channel
func OutputDN16(d DAC) http.HandlerFunc {
	return decodeThen(func(in channelDN) error { return d.OutputDN16(in.Channel, in.DN) })
}

// MultiChannelDAC allows multiple channels to be written
// at once
type MultiChannelDAC interface {
	DAC

	// OutputMulti writes a sequence of voltages to a sequence of channels
	OutputMulti([]int, []float64) error

	// OutputMultiDN16 outputs a sequence of data numbers to a sequence of channels
	OutputMultiDN16([]int, []uint16) error
}

// HTTPMultiChannel adds routes for multi channel output to the table
func HTTPMultiChannel(iface MultiChannelDAC, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/output-multi"}] = OutputMulti(iface)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/output-multi-dn-16"}] = OutputMultiDN16(iface)
}

type channelsVoltages struct {
	Channels []int `json:"channel"`

	Voltages []float64 `json:"voltage"`
}

type channelsDNs struct {
	Channels []int `json:"channel"`

	DNs []uint16 `json:"dn"`
}

// OutputMulti returns an HTTP handlerfunc that will write voltages to channels
func OutputMulti(d MultiChannelDAC) http.HandlerFunc {
	return decodeThen(func(in channelsVoltages) error { return d.OutputMulti(in.Channels, in.Voltages) })
}

// OutputMultiDN16 returns an HTTP handlerfunc that will write data numbers to channels
func OutputMultiDN16(d MultiChannelDAC) http.HandlerFunc {
	return decodeThen(func(in channelsDNs) error { return d.OutputMultiDN16(in.Channels, in.DNs) })
}

// ADC is a model for a multiplexed analog to digital converter
type ADC interface {
	// Measure converts one channel, returning the raw code and volts
	Measure(int) (uint32, float64, error)

	// Temperature returns the die temperature in Celsius
	Temperature() (float64, error)
}

// HTTPADC adds routes for ADC readout to the table
func HTTPADC(iface ADC, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/input"}] = Input(iface)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/temperature"}] = generichttp.GetFloat(iface.Temperature)
}

type channelReading struct {
	Channel int     `json:"channel"`
	Code    uint32  `json:"code"`
	Voltage float64 `json:"voltage"`
}

// Input returns an HTTP handlerfunc that converts the channel given by the
// query parameter "channel" and replies with the code and voltage
func Input(a ADC) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch, err := strconv.Atoi(r.URL.Query().Get("channel"))
		if err != nil {
			http.Error(w, "channel query parameter must be an integer", http.StatusBadRequest)
			return
		}
		code, v, err := a.Measure(ch)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		in := channelReading{Channel: ch, Code: code, Voltage: v}
		w.Header().Set("Content-Type", "application/json")
		if err = json.NewEncoder(w).Encode(in); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}
