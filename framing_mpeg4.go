package vidstream

import "fmt"

// MPEG4Packetizer implements Packetizer for MPEG-4 Visual (RFC 6416):
// the elementary stream is split into fixed-size chunks.
type MPEG4Packetizer struct{}

// Packetize implements Packetizer.
func (p *MPEG4Packetizer) Packetize(au []byte, maxPacketSize int) ([]Packet, error) {
	if len(au) == 0 {
		return nil, nil
	}
	if maxPacketSize <= 0 {
		return nil, fmt.Errorf("%w: packet size %d", ErrConfiguration, maxPacketSize)
	}
	var packets []Packet
	for off := 0; off < len(au); off += maxPacketSize {
		end := min(off+maxPacketSize, len(au))
		packets = append(packets, Packet{Marker: end == len(au), Payload: au[off:end]})
	}
	return packets, nil
}

// MPEG4Depacketizer concatenates payloads until the marker. MPEG-4 decoders
// resynchronize on their own, so the stream counts as decodable from the
// first packet.
type MPEG4Depacketizer struct {
	assembler
}

// NewMPEG4Depacketizer creates a depacketizer with keyframe-seen preset.
func NewMPEG4Depacketizer() *MPEG4Depacketizer {
	return &MPEG4Depacketizer{assembler{keyframeSeen: true}}
}

// Depacketize implements Depacketizer.
func (d *MPEG4Depacketizer) Depacketize(payload []byte, marker bool) ([]byte, bool, error) {
	if err := d.write(payload); err != nil {
		return nil, false, err
	}
	return d.complete(marker)
}
