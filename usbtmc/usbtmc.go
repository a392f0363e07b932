/*Package usbtmc implements datagram encoding and decoding for USB Test and
Measurement Class devices, enough of the bulk transfer mode to drive simple
SCPI instruments such as the Rigol DG1022 function generator.

It does not include multi-packet messaging, and thus assumes your data fits
in the remote's buffer.

To send a message:
 1. Write the 12-byte DEV_DEP_MSG_OUT header
 2. Write your data
 3. Pad the transfer to a multiple of 4 bytes

To receive a message:
 1. Send a REQUEST_DEV_DEP_MSG_IN header on the Out endpoint
 2. Read the header and data from the In endpoint

USBDevice implements these as Write and Read, so it can stand in for any
io.ReadWriteCloser.
*/
package usbtmc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/google/gousb"
)

const (
	reserved = 0x00

	msgOut = 0x01 // DEV_DEP_MSG_OUT
	msgIn  = 0x02 // REQUEST_DEV_DEP_MSG_IN

	headerSize = 12
	alignment  = 4

	// bufSize bounds a single response
	bufSize = 1500
)

// ErrNoDevice is returned by Open when no device with the IDs is attached
var ErrNoDevice = errors.New("usbtmc: device not found")

// BTagger can generate bTags
type BTagger interface {
	nextbTag() byte
}

// bTagGen is a concurrent-safe bTag generator cycling through 1..255
type bTagGen struct {
	sync.Mutex

	value byte
}

func (b *bTagGen) nextbTag() byte {
	b.Lock()
	defer b.Unlock()
	b.value++
	if b.value == 0 {
		b.value = 1
	}
	return b.value
}

// invbTag computes the bitwise inversion of a btag, per USBTMC standard table 1 offset 2
func invbTag(b byte) byte {
	return b ^ 0xff
}

// encBulkOutHeader creates the header defined in USBTMC standard, Table 3.
// Every message is sent with EOM set.
func encBulkOutHeader(btag BTagger, datalen int) [headerSize]byte {
	out := [headerSize]byte{}
	tag := btag.nextbTag()
	out[0] = msgOut
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(datalen))
	out[8] = 0x01 // EOM
	return out
}

// encBulkInHeader creates the header defined in USBTMC standard, Table 4.
// if terminator is nil the device is told to ignore termination characters
func encBulkInHeader(btag BTagger, bufsize int, terminator *byte) [headerSize]byte {
	out := [headerSize]byte{}
	tag := btag.nextbTag()
	out[0] = msgIn
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(bufsize))
	if terminator != nil {
		out[8] = 0x02 // TermCharEnabled
		out[9] = *terminator
	}
	return out
}

// frameOut returns the header, data and alignment padding for b
func frameOut(btag BTagger, b []byte) []byte {
	hdr := encBulkOutHeader(btag, len(b))
	out := make([]byte, 0, headerSize+len(b)+alignment)
	out = append(out, hdr[:]...)
	out = append(out, b...)
	if residual := len(out) % alignment; residual > 0 {
		out = append(out, make([]byte, alignment-residual)...)
	}
	return out
}

// decBulkIn strips the header off a DEV_DEP_MSG_IN transfer and trims the
// alignment padding using the transfer size it carries
func decBulkIn(buf []byte) ([]byte, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("usbtmc: only received %d bytes, need at least %d to form header", len(buf), headerSize)
	}
	if buf[0] != msgIn {
		return nil, fmt.Errorf("usbtmc: unexpected MsgID %#02x", buf[0])
	}
	size := int(binary.LittleEndian.Uint32(buf[4:8]))
	data := buf[headerSize:]
	if size < len(data) {
		data = data[:size]
	}
	return data, nil
}

// USBDevice is an io.ReadWriteCloser over the bulk endpoints of a USBTMC device
type USBDevice struct {
	tagger BTagger
	ctx    *gousb.Context
	in     *gousb.InEndpoint
	out    *gousb.OutEndpoint
	device *gousb.Device
	closer func()

	// Term, when not nil, asks the device to end responses at this byte
	Term *byte
}

// Open opens the device with the vendor and product ID, returning ErrNoDevice
// when none is attached
func Open(vid, pid uint16) (*USBDevice, error) {
	d := &USBDevice{tagger: &bTagGen{}, ctx: gousb.NewContext()}
	var err error
	d.device, err = d.ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err == nil && d.device == nil {
		err = fmt.Errorf("%w: %04x:%04x", ErrNoDevice, vid, pid)
	}
	if err != nil {
		d.ctx.Close()
		return nil, err
	}
	if err = d.device.SetAutoDetach(true); err != nil {
		d.Close()
		return nil, err
	}
	iface, closer, err := d.device.DefaultInterface()
	if err != nil {
		d.Close()
		return nil, err
	}
	d.closer = closer
	for _, ep := range iface.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		if ep.Direction == gousb.EndpointDirectionIn && d.in == nil {
			d.in, err = iface.InEndpoint(ep.Number)
		} else if ep.Direction == gousb.EndpointDirectionOut && d.out == nil {
			d.out, err = iface.OutEndpoint(ep.Number)
		}
		if err != nil {
			d.Close()
			return nil, err
		}
	}
	if d.in == nil || d.out == nil {
		d.Close()
		return nil, fmt.Errorf("usbtmc: %04x:%04x has no bulk endpoint pair", vid, pid)
	}
	return d, nil
}

// Write sends b as one message.  The returned count excludes framing.
func (d *USBDevice) Write(b []byte) (int, error) {
	if _, err := d.out.Write(frameOut(d.tagger, b)); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Read requests one message and copies its data into p
func (d *USBDevice) Read(p []byte) (int, error) {
	size := len(p)
	if size > bufSize {
		size = bufSize
	}
	hdr := encBulkInHeader(d.tagger, size, d.Term)
	if _, err := d.out.Write(hdr[:]); err != nil {
		return 0, err
	}
	buf := make([]byte, headerSize+size+alignment)
	n, err := d.in.Read(buf)
	if err != nil {
		return 0, err
	}
	data, err := decBulkIn(buf[:n])
	if err != nil {
		return 0, err
	}
	return copy(p, data), nil
}

// Close releases the interface, the device and the USB context
func (d *USBDevice) Close() error {
	if d.closer != nil {
		d.closer()
	}
	var err error
	if d.device != nil {
		err = d.device.Close()
	}
	if d.ctx != nil {
		d.ctx.Close()
	}
	return err
}
