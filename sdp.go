package vidstream

import (
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// Media-level SDP attributes.
const (
	attrFramerate = "framerate"
	attrRTCPFB    = "rtcp-fb"
	attrContent   = "content"
	attrRtpmap    = "rtpmap"
	attrFmtp      = "fmtp"
)

// NewMediaDescription builds the local video media description offering
// codecs in order. fps is announced as the frame rate; content, when not
// empty, labels the stream (RFC 4796).
func NewMediaDescription(codecs []*Codec, fps int, content string) *sdp.MediaDescription {
	md := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:  "video",
			Port:   sdp.RangedPort{Value: 9},
			Protos: []string{"RTP", "AVP"},
		},
	}
	for _, c := range codecs {
		md.WithCodec(c.PayloadType, c.Name, c.ClockRate, 0, c.Fmtp)
	}
	md.WithValueAttribute(attrFramerate, strconv.Itoa(fps))
	md.WithValueAttribute(attrRTCPFB, "* nack pli")
	if content != "" {
		md.WithValueAttribute(attrContent, content)
	}
	return md
}

// MediaFormat is one rtpmap/fmtp entry of a media description.
type MediaFormat struct {
	PayloadType uint8
	Name        string
	ClockRate   uint32
	Fmtp        string
}

// MediaFormats lists the formats of md in offer order.
func MediaFormats(md *sdp.MediaDescription) []MediaFormat {
	if md == nil {
		return nil
	}
	byPT := make(map[uint8]*MediaFormat)
	var formats []*MediaFormat
	for _, f := range md.MediaName.Formats {
		pt, err := strconv.ParseUint(f, 10, 8)
		if err != nil {
			continue
		}
		mf := &MediaFormat{PayloadType: uint8(pt), ClockRate: VideoClockRate}
		byPT[mf.PayloadType] = mf
		formats = append(formats, mf)
	}
	for _, a := range md.Attributes {
		ptStr, rest, ok := strings.Cut(a.Value, " ")
		if !ok {
			continue
		}
		pt, err := strconv.ParseUint(ptStr, 10, 8)
		if err != nil {
			continue
		}
		mf := byPT[uint8(pt)]
		if mf == nil {
			continue
		}
		switch a.Key {
		case attrRtpmap:
			name, clock, _ := strings.Cut(rest, "/")
			mf.Name = name
			clock, _, _ = strings.Cut(clock, "/")
			if cr, err := strconv.ParseUint(clock, 10, 32); err == nil {
				mf.ClockRate = uint32(cr)
			}
		case attrFmtp:
			mf.Fmtp = strings.TrimSpace(rest)
		}
	}

	out := make([]MediaFormat, 0, len(formats))
	for _, mf := range formats {
		if mf.Name == "" {
			mf.Name = staticPayloadName(mf.PayloadType)
		}
		out = append(out, *mf)
	}
	return out
}

// LookupFormat finds the format with payload type pt.
func LookupFormat(md *sdp.MediaDescription, pt uint8) (MediaFormat, bool) {
	for _, f := range MediaFormats(md) {
		if f.PayloadType == pt {
			return f, true
		}
	}
	return MediaFormat{}, false
}

// staticPayloadName names the static video payload types (RFC 3551).
func staticPayloadName(pt uint8) string {
	switch pt {
	case 26:
		return "JPEG"
	case 31:
		return "H261"
	case 32:
		return "MPV"
	case 34:
		return "H263"
	default:
		return ""
	}
}

// mediaFramerate returns the frame rate announced in md, truncated.
func mediaFramerate(md *sdp.MediaDescription) (int, bool) {
	if md == nil {
		return 0, false
	}
	v, ok := md.Attribute(attrFramerate)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || f < 1 {
		return 0, false
	}
	return int(f), true
}

// mediaNackPLI reports whether any rtcp-fb attribute of md mentions nack.
func mediaNackPLI(md *sdp.MediaDescription) bool {
	if md == nil {
		return false
	}
	for _, a := range md.Attributes {
		if a.Key == attrRTCPFB && strings.Contains(a.Value, "nack") {
			return true
		}
	}
	return false
}

func mediaContent(md *sdp.MediaDescription) string {
	if md == nil {
		return ""
	}
	v, _ := md.Attribute(attrContent)
	return v
}
