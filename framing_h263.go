package vidstream

import (
	"encoding/binary"
	"fmt"
)

// H263Mode is the RFC 2190 payload header mode.
type H263Mode int

const (
	H263ModeA H263Mode = iota // 4-byte header, GOB or picture boundary
	H263ModeB                 // 8-byte header, macroblock boundary
	H263ModeC                 // 12-byte header, macroblock boundary with PB-frames
)

// HeaderSize returns the payload header length of the mode.
func (m H263Mode) HeaderSize() int {
	switch m {
	case H263ModeB:
		return 8
	case H263ModeC:
		return 12
	default:
		return 4
	}
}

// H263Header is the RFC 2190 payload header.
type H263Header struct {
	Mode H263Mode
	SBIT uint8 // start bit position, bits to ignore in the first byte
	EBIT uint8 // end bit position, bits to ignore in the last byte
	SRC  uint8 // source format
	I    bool  // false for an intra-coded picture
	U    bool  // unrestricted motion vectors
	S    bool  // syntax-based arithmetic coding
	A    bool  // advanced prediction
	R    uint8
	DBQ  uint8
	TRB  uint8
	TR   uint8

	// Mode B and C
	Quant uint8
	GOBN  uint8
	MBA   uint16
	HMV1  int8
	VMV1  int8
	HMV2  int8
	VMV2  int8
}

// Intra reports whether the header announces an intra-coded picture.
func (h *H263Header) Intra() bool { return !h.I }

// ParseH263Header decodes the payload header at the start of b.
func ParseH263Header(b []byte) (H263Header, error) {
	var h H263Header
	if len(b) < 4 {
		return h, fmt.Errorf("%w: h263: short payload header", ErrProtocol)
	}
	f, p := b[0]&0x80 != 0, b[0]&0x40 != 0
	switch {
	case !f:
		h.Mode = H263ModeA
	case !p:
		h.Mode = H263ModeB
	default:
		h.Mode = H263ModeC
	}
	if len(b) < h.Mode.HeaderSize() {
		return h, fmt.Errorf("%w: h263: short mode %c header", ErrProtocol, 'A'+rune(h.Mode))
	}

	h.SBIT = b[0] >> 3 & 0x07
	h.EBIT = b[0] & 0x07
	h.SRC = b[1] >> 5

	w := binary.BigEndian.Uint32(b)
	if h.Mode == H263ModeA {
		h.I = w>>20&1 != 0
		h.U = w>>19&1 != 0
		h.S = w>>18&1 != 0
		h.A = w>>17&1 != 0
		h.R = uint8(w >> 13 & 0x0F)
		h.DBQ = uint8(w >> 11 & 0x03)
		h.TRB = uint8(w >> 8 & 0x07)
		h.TR = uint8(w)
		return h, nil
	}

	h.Quant = uint8(w >> 16 & 0x1F)
	h.GOBN = uint8(w >> 11 & 0x1F)
	h.MBA = uint16(w >> 2 & 0x1FF)
	h.R = uint8(w & 0x03)

	w2 := binary.BigEndian.Uint32(b[4:])
	h.I = w2>>31&1 != 0
	h.U = w2>>30&1 != 0
	h.S = w2>>29&1 != 0
	h.A = w2>>28&1 != 0
	h.HMV1 = signExtend7(w2 >> 21)
	h.VMV1 = signExtend7(w2 >> 14)
	h.HMV2 = signExtend7(w2 >> 7)
	h.VMV2 = signExtend7(w2)

	if h.Mode == H263ModeC {
		w3 := binary.BigEndian.Uint32(b[8:])
		h.DBQ = uint8(w3 >> 11 & 0x03)
		h.TRB = uint8(w3 >> 8 & 0x07)
		h.TR = uint8(w3)
	}
	return h, nil
}

func signExtend7(v uint32) int8 {
	return int8(uint8(v&0x7F)<<1) >> 1
}

// appendModeA appends the mode A encoding of h to b.
func (h *H263Header) appendModeA(b []byte) []byte {
	var w uint32
	w |= uint32(h.SBIT&0x07) << 27
	w |= uint32(h.EBIT&0x07) << 24
	w |= uint32(h.SRC&0x07) << 21
	w |= boolBit(h.I) << 20
	w |= boolBit(h.U) << 19
	w |= boolBit(h.S) << 18
	w |= boolBit(h.A) << 17
	w |= uint32(h.R&0x0F) << 13
	w |= uint32(h.DBQ&0x03) << 11
	w |= uint32(h.TRB&0x07) << 8
	w |= uint32(h.TR)
	return binary.BigEndian.AppendUint32(b, w)
}

func boolBit(v bool) uint32 {
	if v {
		return 1
	}
	return 0
}

// h263PictureHeader is the part of the H.263 picture layer the packetizer
// copies into the payload header.
type h263PictureHeader struct {
	tr     uint8
	srcFmt uint8
	inter  bool
	umv    bool
	sac    bool
	apm    bool
	pb     bool
}

// parseH263PictureHeader reads PSC, TR and PTYPE from a picture.
func parseH263PictureHeader(b []byte) (h263PictureHeader, error) {
	var ph h263PictureHeader
	if len(b) < 6 {
		return ph, fmt.Errorf("%w: h263: short picture header", ErrProtocol)
	}
	br := bitReader{buf: b}
	if psc := br.read(22); psc != 0x20 {
		return ph, fmt.Errorf("%w: h263: bad picture start code 0x%06x", ErrProtocol, psc)
	}
	ph.tr = uint8(br.read(8))
	if br.read(2) != 0x2 {
		return ph, fmt.Errorf("%w: h263: bad PTYPE marker", ErrProtocol)
	}
	br.read(3) // split screen, document camera, freeze release
	ph.srcFmt = uint8(br.read(3))
	ph.inter = br.read(1) == 1
	ph.umv = br.read(1) == 1
	ph.sac = br.read(1) == 1
	ph.apm = br.read(1) == 1
	ph.pb = br.read(1) == 1
	return ph, nil
}

type bitReader struct {
	buf []byte
	pos int
}

func (r *bitReader) read(n int) uint32 {
	var v uint32
	for i := 0; i < n; i++ {
		v <<= 1
		if idx := r.pos >> 3; idx < len(r.buf) {
			v |= uint32(r.buf[idx]>>(7-uint(r.pos&7))) & 1
		}
		r.pos++
	}
	return v
}

// H263Packetizer implements Packetizer for H.263 (RFC 2190). Every payload
// carries a mode A header built from the picture header; the picture is
// split at byte boundaries.
type H263Packetizer struct{}

// Packetize implements Packetizer.
func (p *H263Packetizer) Packetize(au []byte, maxPacketSize int) ([]Packet, error) {
	if len(au) == 0 {
		return nil, nil
	}
	if maxPacketSize <= H263ModeA.HeaderSize() {
		return nil, fmt.Errorf("%w: packet size %d", ErrConfiguration, maxPacketSize)
	}
	ph, err := parseH263PictureHeader(au)
	if err != nil {
		return nil, err
	}
	hdr := H263Header{
		Mode: H263ModeA,
		SRC:  ph.srcFmt,
		I:    ph.inter,
		U:    ph.umv,
		S:    ph.sac,
		A:    ph.apm,
		TR:   ph.tr,
	}
	header := hdr.appendModeA(nil)

	chunk := maxPacketSize - len(header)
	var packets []Packet
	for off := 0; off < len(au); off += chunk {
		end := min(off+chunk, len(au))
		packets = append(packets, Packet{
			Marker:  end == len(au),
			Header:  header,
			Payload: au[off:end],
		})
	}
	return packets, nil
}

// H263Depacketizer reassembles H.263 pictures, merging the partial bytes
// at SBIT/EBIT boundaries.
type H263Depacketizer struct {
	assembler
}

// Depacketize implements Depacketizer.
func (d *H263Depacketizer) Depacketize(payload []byte, marker bool) ([]byte, bool, error) {
	hdr, err := ParseH263Header(payload)
	if err != nil {
		d.Reset()
		return nil, false, err
	}
	if hdr.Intra() {
		d.keyframeSeen = true
	}

	body := payload[hdr.Mode.HeaderSize():]
	if hdr.SBIT > 0 && len(body) > 0 {
		if len(d.buf) == 0 {
			d.Reset()
			return nil, false, fmt.Errorf("%w: h263: SBIT %d without preceding data", ErrProtocol, hdr.SBIT)
		}
		mask := byte(1<<(8-hdr.SBIT)) - 1
		d.buf[len(d.buf)-1] |= body[0] & mask
		body = body[1:]
	}
	if err := d.write(body); err != nil {
		return nil, false, err
	}
	return d.complete(marker)
}
