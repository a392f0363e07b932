package scan

import (
	"fmt"
	"io"
	"os"

	"github.com/astrogo/fitsio"
	"github.com/google/uuid"
)

// Header describes one run
type Header struct {
	// Title is the run's comment line, e.g. "Chip 3 4"
	Title string

	RunID uuid.UUID

	// Fingerprint is the CRC-16 of the configuration the run started from
	Fingerprint uint16

	// Columns names the values of a row after the code
	Columns []string
}

// Row is one point of a scan: the DAC code and what was measured at it
type Row struct {
	Code   int
	Values []float64
}

// Writer records a scan
type Writer interface {
	WriteHeader(Header) error
	WriteRow(Row) error
	Close() error
}

// DatWriter writes whitespace separated columns with # comments, the
// format the analysis tools read
type DatWriter struct {
	w io.Writer

	// Lead is written before the header, blank lines separate runs
	// appended to one file
	Lead string

	CodeFmt  string
	ValueFmt string
}

// NewDatWriter writes to w.  If w is an io.Closer, Close closes it.
func NewDatWriter(w io.Writer, lead, codeFmt, valueFmt string) *DatWriter {
	return &DatWriter{w: w, Lead: lead, CodeFmt: codeFmt, ValueFmt: valueFmt}
}

// NewProbeCardDat writes probe card rows, "%6d " then " %12.9f" per channel
func NewProbeCardDat(w io.Writer) *DatWriter {
	return NewDatWriter(w, "\n\n", "%6d ", " %12.9f")
}

// NewDACScanDat writes DAC scan rows, "%6d %24.16E"
func NewDACScanDat(w io.Writer) *DatWriter {
	return NewDatWriter(w, "", "%6d", " %24.16E")
}

// WriteHeader implements Writer
func (d *DatWriter) WriteHeader(h Header) error {
	_, err := fmt.Fprintf(d.w, "%s# %s\n# run %s crc %04x\n", d.Lead, h.Title, h.RunID, h.Fingerprint)
	return err
}

// WriteRow implements Writer
func (d *DatWriter) WriteRow(r Row) error {
	if _, err := fmt.Fprintf(d.w, d.CodeFmt, r.Code); err != nil {
		return err
	}
	for _, v := range r.Values {
		if _, err := fmt.Fprintf(d.w, d.ValueFmt, v); err != nil {
			return err
		}
	}
	_, err := io.WriteString(d.w, "\n")
	if s, ok := d.w.(interface{ Sync() error }); ok && err == nil {
		err = s.Sync()
	}
	return err
}

// Close implements Writer
func (d *DatWriter) Close() error {
	if c, ok := d.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// AppendFile opens path for appending, creating it if needed
func AppendFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

// FITSWriter collects rows into a binary table written on Close: a CODE
// column and one double column per value
type FITSWriter struct {
	w   io.Writer
	hdr Header
	tbl *fitsio.Table
}

// NewFITSWriter writes a FITS file to w.  If w is an io.Closer, Close closes it.
func NewFITSWriter(w io.Writer) *FITSWriter {
	return &FITSWriter{w: w}
}

// WriteHeader implements Writer.  It must come before any row.
func (f *FITSWriter) WriteHeader(h Header) error {
	cols := []fitsio.Column{{Name: "CODE", Format: "J"}}
	for _, c := range h.Columns {
		cols = append(cols, fitsio.Column{Name: c, Format: "D", Unit: "V"})
	}
	tbl, err := fitsio.NewTable("SCAN", cols, fitsio.BINARY_TBL)
	if err != nil {
		return err
	}
	err = tbl.Header().Append(
		fitsio.Card{Name: "TITLE", Value: h.Title},
		fitsio.Card{Name: "RUNID", Value: h.RunID.String(), Comment: "run identifier"},
		fitsio.Card{Name: "CFGCRC", Value: int(h.Fingerprint), Comment: "CRC-16/XMODEM of the configuration"},
	)
	if err != nil {
		return err
	}
	f.hdr = h
	f.tbl = tbl
	return nil
}

// WriteRow implements Writer
func (f *FITSWriter) WriteRow(r Row) error {
	if f.tbl == nil {
		return fmt.Errorf("fits: row before header")
	}
	if len(r.Values) != len(f.hdr.Columns) {
		return fmt.Errorf("fits: row of %d values for %d columns", len(r.Values), len(f.hdr.Columns))
	}
	code := int32(r.Code)
	args := []interface{}{&code}
	for i := range r.Values {
		args = append(args, &r.Values[i])
	}
	return f.tbl.Write(args...)
}

// Close writes the file
func (f *FITSWriter) Close() error {
	if f.tbl == nil {
		return nil
	}
	defer f.tbl.Close()
	fits, err := fitsio.Create(f.w)
	if err != nil {
		return err
	}
	phdu, err := fitsio.NewPrimaryHDU(nil)
	if err != nil {
		return err
	}
	if err = fits.Write(phdu); err != nil {
		return err
	}
	if err = fits.Write(f.tbl); err != nil {
		return err
	}
	if err = fits.Close(); err != nil {
		return err
	}
	if c, ok := f.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
