package vidstream

import (
	"fmt"
)

// H264 NAL unit types
const (
	nalTypeSlice = 1
	nalTypeIDR   = 5
	nalTypeSEI   = 6
	nalTypeSPS   = 7
	nalTypePPS   = 8
	nalTypeSTAPA = 24 // Single-time aggregation packet
	nalTypeFUA   = 28 // Fragmentation Unit A
)

var annexBStartCode = []byte{0, 0, 1}

// H264Packetizer implements Packetizer for H.264 in packetization mode 0
// and FU-A (RFC 6184). Input is Annex B format.
type H264Packetizer struct{}

// Packetize converts an Annex B access unit into RTP payloads.
func (p *H264Packetizer) Packetize(au []byte, maxPacketSize int) ([]Packet, error) {
	if len(au) == 0 {
		return nil, nil
	}
	if maxPacketSize < 3 {
		return nil, fmt.Errorf("%w: packet size %d", ErrConfiguration, maxPacketSize)
	}

	nalUnits := parseAnnexBNALUnits(au)
	if len(nalUnits) == 0 {
		return nil, fmt.Errorf("%w: no NAL units found in access unit", ErrProtocol)
	}

	var packets []Packet
	for i, nalu := range nalUnits {
		isLast := i == len(nalUnits)-1

		if len(nalu) <= maxPacketSize {
			packets = append(packets, Packet{Marker: isLast, Payload: nalu})
			continue
		}
		packets = append(packets, fragmentNALUnit(nalu, maxPacketSize, isLast)...)
	}
	return packets, nil
}

// fragmentNALUnit fragments a large NAL unit into FU-A packets.
func fragmentNALUnit(nalu []byte, maxPacketSize int, isLastNALU bool) []Packet {
	nalHeader := nalu[0]
	nalType := nalHeader & 0x1F
	nri := nalHeader & 0x60

	payload := nalu[1:]
	maxPayload := maxPacketSize - 2 // FU indicator + FU header

	var packets []Packet
	for offset := 0; offset < len(payload); {
		end := min(offset+maxPayload, len(payload))
		isStart := offset == 0
		isEnd := end == len(payload)

		// FU header: S=start, E=end, R=0, Type=original NAL type
		fuHeader := nalType
		if isStart {
			fuHeader |= 0x80
		}
		if isEnd {
			fuHeader |= 0x40
		}

		packets = append(packets, Packet{
			Marker:  isEnd && isLastNALU,
			Header:  []byte{nri | nalTypeFUA, fuHeader},
			Payload: payload[offset:end],
		})
		offset = end
	}
	return packets
}

// parseAnnexBNALUnits parses Annex B format into individual NAL units.
// Annex B uses start codes: 0x00000001 or 0x000001
func parseAnnexBNALUnits(data []byte) [][]byte {
	var nalUnits [][]byte
	start := -1

	for i := 0; i+2 < len(data); i++ {
		if data[i] != 0 || data[i+1] != 0 {
			continue
		}
		var scLen int
		switch {
		case data[i+2] == 1:
			scLen = 3
		case i+3 < len(data) && data[i+2] == 0 && data[i+3] == 1:
			scLen = 4
		default:
			continue
		}
		if start >= 0 && i > start {
			nalUnits = append(nalUnits, data[start:i])
		}
		start = i + scLen
		i += scLen - 1
	}

	if start >= 0 && start < len(data) {
		nalUnits = append(nalUnits, data[start:])
	}
	return nalUnits
}

// H264Depacketizer reassembles Annex B access units from single NAL unit
// and FU-A payloads. Parameter sets mark the stream as decodable.
type H264Depacketizer struct {
	assembler
	fragStart   int  // buffer offset of the NAL unit being reassembled
	fragmenting bool // true between FU-A start and end
}

// Depacketize implements Depacketizer.
func (d *H264Depacketizer) Depacketize(payload []byte, marker bool) ([]byte, bool, error) {
	if len(payload) < 1 {
		return nil, false, d.fail("empty payload")
	}
	hdr := payload[0]
	if hdr&0x80 != 0 {
		return nil, false, d.fail("forbidden bit set")
	}

	nalType := hdr & 0x1F
	switch {
	case nalType >= 1 && nalType <= 23:
		if d.fragmenting {
			// Lost end of the previous fragmented NAL unit
			d.buf = d.buf[:d.fragStart]
			d.fragmenting = false
		}
		if nalType == nalTypeSPS || nalType == nalTypePPS {
			d.keyframeSeen = true
		}
		if err := d.write(annexBStartCode, payload); err != nil {
			return nil, false, err
		}

	case nalType == nalTypeFUA:
		if len(payload) < 2 {
			return nil, false, d.fail("short FU-A")
		}
		fu := payload[1]
		start, end := fu&0x80 != 0, fu&0x40 != 0

		if start {
			if d.fragmenting {
				d.buf = d.buf[:d.fragStart]
			}
			d.fragStart = len(d.buf)
			d.fragmenting = true
			if err := d.write(annexBStartCode, []byte{hdr&0xE0 | fu&0x1F}, payload[2:]); err != nil {
				return nil, false, err
			}
		} else {
			if !d.fragmenting {
				return nil, false, d.fail("FU-A continuation without start")
			}
			if err := d.write(payload[2:]); err != nil {
				return nil, false, err
			}
		}
		if end {
			d.fragmenting = false
		}

	default:
		return nil, false, d.fail(fmt.Sprintf("unsupported NAL unit type %d", nalType))
	}

	if marker {
		d.fragmenting = false
	}
	return d.complete(marker)
}

// Reset implements Depacketizer.
func (d *H264Depacketizer) Reset() {
	d.assembler.Reset()
	d.fragmenting = false
}

func (d *H264Depacketizer) fail(reason string) error {
	d.Reset()
	return fmt.Errorf("%w: h264: %s", ErrProtocol, reason)
}
