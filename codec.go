package vidstream

import (
	"fmt"
	"io"
	"strings"
)

// VideoClockRate is the RTP clock rate of all video payload formats.
const VideoClockRate = 90000

// EncoderParams are the negotiated encoder settings.
type EncoderParams struct {
	FPS          int // frames per second
	Bitrate      int // bit/s
	PacketSize   int // max RTP payload bytes
	MaxFrameSize int // max picture size in macroblocks, 0 for no limit
}

// VideoEncoder compresses pictures into access units.
//
// Encode returns nil without error when the encoder buffers the picture.
// forceKeyframe asks for an intra picture. Implementations handle picture
// size changes between calls.
type VideoEncoder interface {
	Encode(frame *VideoFrame, forceKeyframe bool) (*EncodedFrame, error)
	io.Closer
}

// VideoDecoder decompresses access units. Decode returns a nil frame
// without error when the access unit produced no picture. The returned
// frame is owned by the decoder and valid until the next call.
type VideoDecoder interface {
	Decode(au *EncodedFrame) (*VideoFrame, error)
	io.Closer
}

// EncoderFactory instantiates an encoder for the negotiated parameters and
// the peer's format parameters.
type EncoderFactory func(params EncoderParams, fmtp string) (VideoEncoder, error)

// DecoderFactory instantiates a decoder for the local format parameters.
type DecoderFactory func(fmtp string) (VideoDecoder, error)

// Codec describes a video payload format and the plugin implementing it.
// Descriptors are immutable once registered and compared by pointer.
type Codec struct {
	Name        string // SDP encoding name
	Family      Family // RTP payload format family
	PayloadType uint8  // default payload type (static or preferred dynamic)
	ClockRate   uint32
	Fmtp        string // local format parameters

	NewEncoder EncoderFactory // nil when the plugin cannot encode
	NewDecoder DecoderFactory // nil when the plugin cannot decode

	// FmtpCompare reports whether remote format parameters are compatible
	// with the local ones. Nil accepts any.
	FmtpCompare func(local, remote string) bool
}

func (c *Codec) String() string {
	if c == nil {
		return "<none>"
	}
	if c.Fmtp == "" {
		return fmt.Sprintf("%s/%d", c.Name, c.ClockRate)
	}
	return fmt.Sprintf("%s/%d (%s)", c.Name, c.ClockRate, c.Fmtp)
}

// Matches reports whether the codec serves an SDP format with the given
// encoding name and format parameters.
func (c *Codec) Matches(name, fmtp string) bool {
	if !strings.EqualFold(c.Name, name) {
		return false
	}
	if c.FmtpCompare == nil {
		return true
	}
	return c.FmtpCompare(c.Fmtp, fmtp)
}

// NewH264Codec describes H.264 in packetization mode 0.
func NewH264Codec(enc EncoderFactory, dec DecoderFactory) *Codec {
	return &Codec{
		Name:        "H264",
		Family:      FamilyH264,
		PayloadType: 96,
		ClockRate:   VideoClockRate,
		Fmtp:        "packetization-mode=0",
		NewEncoder:  enc,
		NewDecoder:  dec,
		FmtpCompare: h264FmtpCompare,
	}
}

// NewH263Codec describes H.263 (RFC 2190, static payload type 34).
func NewH263Codec(enc EncoderFactory, dec DecoderFactory) *Codec {
	return &Codec{
		Name:        "H263",
		Family:      FamilyH263,
		PayloadType: 34,
		ClockRate:   VideoClockRate,
		NewEncoder:  enc,
		NewDecoder:  dec,
		FmtpCompare: h263FmtpCompare,
	}
}

// NewMPEG4Codec describes MPEG-4 Visual (RFC 6416).
func NewMPEG4Codec(enc EncoderFactory, dec DecoderFactory) *Codec {
	return &Codec{
		Name:        "MP4V-ES",
		Family:      FamilyMPEG4,
		PayloadType: 97,
		ClockRate:   VideoClockRate,
		NewEncoder:  enc,
		NewDecoder:  dec,
	}
}
