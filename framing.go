package vidstream

import "fmt"

// Family is the RTP payload format family of a codec. The set is closed:
// every family has a packetizer and a depacketizer in this package.
type Family int

const (
	FamilyH264 Family = iota + 1
	FamilyH263
	FamilyMPEG4
)

func (f Family) String() string {
	switch f {
	case FamilyH264:
		return "H264"
	case FamilyH263:
		return "H263"
	case FamilyMPEG4:
		return "MPEG4"
	default:
		return "Unknown"
	}
}

// maxAccessUnitSize bounds reassembly buffers.
const maxAccessUnitSize = 512 * 1024

// Packet is one RTP payload produced by a Packetizer. Header holds the
// payload-format header (FU indicator/header, RFC 2190 header) and Payload
// the codec bytes that follow it.
type Packet struct {
	Marker  bool
	Header  []byte
	Payload []byte
}

// Bytes returns the complete RTP payload.
func (p Packet) Bytes() []byte {
	if len(p.Header) == 0 {
		return p.Payload
	}
	b := make([]byte, 0, len(p.Header)+len(p.Payload))
	b = append(b, p.Header...)
	return append(b, p.Payload...)
}

// Packetizer splits access units into RTP payloads no larger than
// maxPacketSize. The marker is set on the last payload of the access unit.
type Packetizer interface {
	Packetize(au []byte, maxPacketSize int) ([]Packet, error)
}

// Depacketizer reassembles access units from RTP payloads.
//
// Depacketize appends one payload. When marker is set the reassembly buffer
// is handed out and reset, whatever the outcome: complete is true and au holds
// the access unit, or err is ErrKeyframeNotSeen when no decodable reference
// has been received yet. Malformed payloads return an error wrapping
// ErrProtocol and discard the partial access unit.
type Depacketizer interface {
	Depacketize(payload []byte, marker bool) (au []byte, complete bool, err error)
	KeyframeSeen() bool
	Reset()
}

// NewPacketizer returns the packetizer of a payload format family.
func NewPacketizer(f Family) (Packetizer, error) {
	switch f {
	case FamilyH264:
		return &H264Packetizer{}, nil
	case FamilyH263:
		return &H263Packetizer{}, nil
	case FamilyMPEG4:
		return &MPEG4Packetizer{}, nil
	default:
		return nil, fmt.Errorf("%w: payload format family %d", ErrNotSupported, int(f))
	}
}

// NewDepacketizer returns a fresh depacketizer of a payload format family.
func NewDepacketizer(f Family) (Depacketizer, error) {
	switch f {
	case FamilyH264:
		return &H264Depacketizer{}, nil
	case FamilyH263:
		return &H263Depacketizer{}, nil
	case FamilyMPEG4:
		return NewMPEG4Depacketizer(), nil
	default:
		return nil, fmt.Errorf("%w: payload format family %d", ErrNotSupported, int(f))
	}
}

// assembler is the reassembly buffer shared by all families.
type assembler struct {
	buf          []byte
	keyframeSeen bool
}

func (a *assembler) KeyframeSeen() bool { return a.keyframeSeen }

func (a *assembler) Reset() { a.buf = a.buf[:0] }

func (a *assembler) write(p ...[]byte) error {
	n := len(a.buf)
	for _, b := range p {
		n += len(b)
	}
	if n > maxAccessUnitSize {
		a.Reset()
		return fmt.Errorf("%w: access unit exceeds %d bytes", ErrProtocol, maxAccessUnitSize)
	}
	for _, b := range p {
		a.buf = append(a.buf, b...)
	}
	return nil
}

// complete hands out the buffered access unit on the marker packet.
func (a *assembler) complete(marker bool) ([]byte, bool, error) {
	if !marker {
		return nil, false, nil
	}
	au := a.buf
	a.buf = make([]byte, 0, cap(au))
	if !a.keyframeSeen {
		return nil, false, ErrKeyframeNotSeen
	}
	if len(au) == 0 {
		return nil, false, nil
	}
	return au, true, nil
}
