/*Package usbtmc implements datagram encoding and decoding for USB Test and
Measurement Class devices.  It covers the bulk transfer mode used by SCPI
instruments that attach over USB instead of GPIB or RS-232.

Multi-packet messaging is not supported; a message must fit the remote's
buffer.  The ASCII traffic the picoammeter and supply drivers produce is
far below that limit.

To send a message the bulk-out header from Table 3 of the standard is
prepended and the transmission padded to 4-byte alignment.  To receive, a
request header from Table 4 is sent on the out endpoint and the response
read from the in endpoint with its 12-byte header popped.  These steps are
Write() and Read() on USBDevice; Wrap adapts the pair to the
io.ReadWriteCloser the connection pool traffics in.
*/
package usbtmc

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/google/gousb"
)

const reserved = 0x00

// BTagger can generate atomic bTags
type BTagger interface {
	nextbTag() byte
}

// bTagGen is a concurrent-safe bTag generator
type bTagGen struct {
	sync.Mutex

	value byte
	min   byte
}

func newBTagGen() *bTagGen {
	return &bTagGen{value: 1, min: 1}
}

func (b *bTagGen) nextbTag() byte {
	b.Lock()
	defer b.Unlock()
	b.value++
	if b.value < b.min {
		b.value = b.min
	}
	return b.value
}

// invbTag computes the bitwise inversion of a bTag, standard table 1
// offset 2
func invbTag(b byte) byte {
	return b ^ 0xff
}

// BulkInResponse is the response from a bulk input read, split into
// header and payload
type BulkInResponse struct {
	// Header is the 12 bytes prepended to the data
	Header []byte

	// Data is the datagram body
	Data []byte
}

// encBulkOutHeader creates the DEV_DEP_MSG_OUT header, standard Table 3.
// Offsets 0-3 are message ID, bTag, inverted bTag, reserved; 4-7 the
// transfer size LSB first; 8 the end-of-message flag.
func encBulkOutHeader(btag BTagger, datalen int) [12]byte {
	out := [12]byte{}
	tag := btag.nextbTag()
	out[0] = 0x01 // DEV_DEP_MSG_OUT
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(datalen))
	out[8] = 0x01 // end of message
	out[9] = reserved
	out[10] = reserved
	out[11] = reserved
	return out
}

// encBulkInHeader creates the REQUEST_DEV_DEP_MSG_IN header, standard
// Table 4.  A nil terminator disables termination on a character; offsets
// 8 and 9 carry the enable bit and the character.
func encBulkInHeader(btag BTagger, bufsize int, terminator *byte) [12]byte {
	out := [12]byte{}
	tag := btag.nextbTag()
	out[0] = 0x02 // REQUEST_DEV_DEP_MSG_IN
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(bufsize))
	if terminator != nil {
		out[8] = 0x02
		out[9] = *terminator
	} else {
		out[8] = 0x00
		out[9] = 0x00
	}
	out[10] = reserved
	out[11] = reserved
	return out
}

// USBDevice hides the details of USB behind a datagram read/write pair
type USBDevice struct {
	tagger BTagger
	ctx    *gousb.Context
	in     *gousb.InEndpoint
	out    *gousb.OutEndpoint
	device *gousb.Device
	iface  *gousb.Interface
	closer func()
}

// NewUSBDevice opens a device by its vendor and product ID
func NewUSBDevice(vid, pid uint16) (*USBDevice, error) {
	out := &USBDevice{tagger: newBTagGen()}
	var err error
	out.ctx = gousb.NewContext()
	out.device, err = out.ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		out.ctx.Close()
		return nil, err
	}
	err = out.device.SetAutoDetach(true)
	if err != nil {
		out.Close()
		return nil, err
	}
	out.iface, out.closer, err = out.device.DefaultInterface()
	if err != nil {
		out.Close()
		return nil, err
	}
	out.in, err = out.iface.InEndpoint(2)
	if err != nil {
		out.Close()
		return nil, err
	}
	out.out, err = out.iface.OutEndpoint(2)
	if err != nil {
		out.Close()
		return nil, err
	}
	return out, nil
}

// Read requests a datagram terminated on newline and returns it with the
// header split off
func (d *USBDevice) Read() (BulkInResponse, error) {
	const bufSize = 1500
	var out BulkInResponse
	term := byte('\n')
	hdr := encBulkInHeader(d.tagger, bufSize, &term)
	n, err := d.out.Write(hdr[:])
	if err != nil {
		return out, err
	}
	if n < 12 {
		nOld := n
		n, err = d.out.Write(hdr[n:])
		if err != nil {
			return out, err
		}
		if n+nOld != 12 {
			return out, fmt.Errorf("wrote %d bytes, not the full 12 of a read request", n+nOld)
		}
	}
	buf := make([]byte, bufSize)
	n, err = d.in.Read(buf)
	if err != nil {
		return out, err
	}
	if n < 12 {
		return out, fmt.Errorf("received %d bytes, need at least 12 to form a header", n)
	}
	buf = buf[:n]
	out.Header = buf[:12]
	out.Data = buf[12:]
	return out, nil
}

// Write sends a datagram, padding the transmission to 4-byte alignment
func (d *USBDevice) Write(b []byte) error {
	const alignment = 4
	hdr := encBulkOutHeader(d.tagger, len(b))
	b = append(hdr[:], b...)
	if residual := len(b) % alignment; residual > 0 {
		b = append(b, make([]byte, alignment-residual)...)
	}
	_, err := d.out.Write(b)
	return err
}

// Close releases the interface, device, and USB context
func (d *USBDevice) Close() error {
	if d.closer != nil {
		d.closer()
	}
	var err error
	if d.device != nil {
		err = d.device.Close()
	}
	if d.ctx != nil {
		err2 := d.ctx.Close()
		if err == nil {
			err = err2
		}
	}
	return err
}
