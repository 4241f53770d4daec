package vidstream

import (
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
)

// FeedbackKind is a keyframe request type (RFC 4585, RFC 5104).
type FeedbackKind int

const (
	FeedbackFIR FeedbackKind = iota // Full Intra Request
	FeedbackPLI                     // Picture Loss Indication
)

func (k FeedbackKind) String() string {
	switch k {
	case FeedbackFIR:
		return "FIR"
	case FeedbackPLI:
		return "PLI"
	default:
		return "unknown"
	}
}

// Transport is the media stream a Session sends on. Implementations also
// expose the negotiated media descriptions the pipelines read.
type Transport interface {
	// Send transmits one RTP payload.
	Send(marker bool, pt uint8, ts uint32, payload []byte) error
	// SendFeedback asks the peer for a keyframe.
	SendFeedback(kind FeedbackKind) error
	// LocalMedia returns the local video media description, or nil.
	LocalMedia() *sdp.MediaDescription
	// RemoteMedia returns the remote video media description, or nil.
	RemoteMedia() *sdp.MediaDescription
}

// Handler consumes what a transport receives. Session implements it.
type Handler interface {
	HandlePacket(hdr *rtp.Header, payload []byte) error
	HandleRTCP(pkts []rtcp.Packet)
}

// feedbackPacket builds the RTCP message for a keyframe request.
func feedbackPacket(kind FeedbackKind, senderSSRC, mediaSSRC uint32, firSeq uint8) rtcp.Packet {
	if kind == FeedbackPLI {
		return &rtcp.PictureLossIndication{SenderSSRC: senderSSRC, MediaSSRC: mediaSSRC}
	}
	return &rtcp.FullIntraRequest{
		SenderSSRC: senderSSRC,
		MediaSSRC:  mediaSSRC,
		FIR:        []rtcp.FIREntry{{SSRC: mediaSSRC, SequenceNumber: firSeq}},
	}
}
