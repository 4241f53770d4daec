package vidstream

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

// TrackTransport binds a Session to a pion/webrtc peer connection: outgoing
// payloads go to a local static RTP track, incoming media and RTCP are read
// from the remote track and the track's sender.
type TrackTransport struct {
	pc    *webrtc.PeerConnection
	track *webrtc.TrackLocalStaticRTP
	ssrc  uint32
	seq   rtp.Sequencer

	remoteSSRC atomic.Uint32
	firSeq     atomic.Uint32
}

// NewTrackTransport creates a transport writing to track. pc may be nil
// for a send-only binding without feedback or media descriptions.
func NewTrackTransport(pc *webrtc.PeerConnection, track *webrtc.TrackLocalStaticRTP) *TrackTransport {
	return &TrackTransport{
		pc:    pc,
		track: track,
		ssrc:  rand.Uint32(),
		seq:   rtp.NewRandomSequencer(),
	}
}

// NewVideoTrack creates a local track for a codec descriptor.
func NewVideoTrack(c *Codec, id, streamID string) (*webrtc.TrackLocalStaticRTP, error) {
	return webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{
		MimeType:    "video/" + c.Name,
		ClockRate:   c.ClockRate,
		SDPFmtpLine: c.Fmtp,
		RTCPFeedback: []webrtc.RTCPFeedback{
			{Type: webrtc.TypeRTCPFBNACK, Parameter: "pli"},
			{Type: webrtc.TypeRTCPFBCCM, Parameter: "fir"},
		},
	}, id, streamID)
}

// Send implements Transport. The track rewrites SSRC and payload type per
// binding.
func (t *TrackTransport) Send(marker bool, pt uint8, ts uint32, payload []byte) error {
	return t.track.WriteRTP(&rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    pt,
			SequenceNumber: t.seq.NextSequenceNumber(),
			Timestamp:      ts,
			SSRC:           t.ssrc,
		},
		Payload: payload,
	})
}

// SendFeedback implements Transport.
func (t *TrackTransport) SendFeedback(kind FeedbackKind) error {
	if t.pc == nil {
		return fmt.Errorf("%w: feedback without peer connection", ErrNotSupported)
	}
	pkt := feedbackPacket(kind, t.ssrc, t.remoteSSRC.Load(), uint8(t.firSeq.Add(1)))
	return t.pc.WriteRTCP([]rtcp.Packet{pkt})
}

// LocalMedia implements Transport.
func (t *TrackTransport) LocalMedia() *sdp.MediaDescription {
	if t.pc == nil {
		return nil
	}
	return videoMedia(t.pc.LocalDescription())
}

// RemoteMedia implements Transport.
func (t *TrackTransport) RemoteMedia() *sdp.MediaDescription {
	if t.pc == nil {
		return nil
	}
	return videoMedia(t.pc.RemoteDescription())
}

func videoMedia(desc *webrtc.SessionDescription) *sdp.MediaDescription {
	if desc == nil {
		return nil
	}
	sd, err := desc.Unmarshal()
	if err != nil {
		return nil
	}
	for _, md := range sd.MediaDescriptions {
		if md.MediaName.Media == "video" {
			return md
		}
	}
	return nil
}

// ServeRemote reads media from a remote track until it ends or ctx is done.
func (t *TrackTransport) ServeRemote(ctx context.Context, remote *webrtc.TrackRemote, h Handler) error {
	t.remoteSSRC.Store(uint32(remote.SSRC()))
	for ctx.Err() == nil {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			return err
		}
		h.HandlePacket(&pkt.Header, pkt.Payload)
	}
	return nil
}

// ServeSender reads RTCP arriving for the local track until the sender is
// stopped or ctx is done.
func (t *TrackTransport) ServeSender(ctx context.Context, sender *webrtc.RTPSender, h Handler) error {
	for ctx.Err() == nil {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			return err
		}
		h.HandleRTCP(pkts)
	}
	return nil
}
