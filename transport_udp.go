package vidstream

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
	"github.com/sirupsen/logrus"
)

// UDPTransportConfig configures a UDPTransport.
type UDPTransportConfig struct {
	Conn   net.PacketConn
	Remote net.Addr
	SSRC   uint32 // 0 picks a random SSRC

	LocalMedia  *sdp.MediaDescription
	RemoteMedia *sdp.MediaDescription
}

// UDPTransport carries RTP and RTCP multiplexed on one socket (RFC 5761).
type UDPTransport struct {
	conn   net.PacketConn
	remote net.Addr
	ssrc   uint32
	seq    rtp.Sequencer

	remoteSSRC atomic.Uint32
	firSeq     atomic.Uint32

	mu          sync.RWMutex
	localMedia  *sdp.MediaDescription
	remoteMedia *sdp.MediaDescription

	log logrus.FieldLogger
}

// NewUDPTransport creates a transport. Call Serve to receive.
func NewUDPTransport(cfg UDPTransportConfig) (*UDPTransport, error) {
	if cfg.Conn == nil || cfg.Remote == nil {
		return nil, fmt.Errorf("%w: udp transport needs a socket and a remote address", ErrConfiguration)
	}
	ssrc := cfg.SSRC
	if ssrc == 0 {
		ssrc = rand.Uint32()
	}
	return &UDPTransport{
		conn:        cfg.Conn,
		remote:      cfg.Remote,
		ssrc:        ssrc,
		seq:         rtp.NewRandomSequencer(),
		localMedia:  cfg.LocalMedia,
		remoteMedia: cfg.RemoteMedia,
		log:         logger().WithField("transport", cfg.Conn.LocalAddr().String()),
	}, nil
}

// SSRC returns the sending SSRC.
func (t *UDPTransport) SSRC() uint32 { return t.ssrc }

// Send implements Transport.
func (t *UDPTransport) Send(marker bool, pt uint8, ts uint32, payload []byte) error {
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    pt,
			SequenceNumber: t.seq.NextSequenceNumber(),
			Timestamp:      ts,
			SSRC:           t.ssrc,
		},
		Payload: payload,
	}
	b, err := pkt.Marshal()
	if err != nil {
		return err
	}
	_, err = t.conn.WriteTo(b, t.remote)
	return err
}

// SendFeedback implements Transport. The media SSRC is the last one
// received from the peer.
func (t *UDPTransport) SendFeedback(kind FeedbackKind) error {
	pkt := feedbackPacket(kind, t.ssrc, t.remoteSSRC.Load(), uint8(t.firSeq.Add(1)))
	b, err := rtcp.Marshal([]rtcp.Packet{pkt})
	if err != nil {
		return err
	}
	_, err = t.conn.WriteTo(b, t.remote)
	return err
}

// LocalMedia implements Transport.
func (t *UDPTransport) LocalMedia() *sdp.MediaDescription {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.localMedia
}

// RemoteMedia implements Transport.
func (t *UDPTransport) RemoteMedia() *sdp.MediaDescription {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.remoteMedia
}

// SetMedia replaces the negotiated media descriptions after an offer/answer
// exchange.
func (t *UDPTransport) SetMedia(local, remote *sdp.MediaDescription) {
	t.mu.Lock()
	t.localMedia, t.remoteMedia = local, remote
	t.mu.Unlock()
}

const maxDatagramSize = 65535

// Serve reads from the socket and dispatches to h until ctx is done or the
// socket fails.
func (t *UDPTransport) Serve(ctx context.Context, h Handler) error {
	stop := context.AfterFunc(ctx, func() {
		t.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, maxDatagramSize)
	for {
		n, _, err := t.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		t.dispatch(buf[:n], h)
	}
}

func (t *UDPTransport) dispatch(b []byte, h Handler) {
	if isRTCP(b) {
		pkts, err := rtcp.Unmarshal(b)
		if err != nil {
			t.log.WithError(err).Debug("dropping malformed RTCP")
			return
		}
		h.HandleRTCP(pkts)
		return
	}

	var pkt rtp.Packet
	if err := pkt.Unmarshal(b); err != nil {
		t.log.WithError(err).Debug("dropping malformed RTP")
		return
	}
	t.remoteSSRC.Store(pkt.SSRC)
	if err := h.HandlePacket(&pkt.Header, pkt.Payload); err != nil {
		t.log.WithError(err).Debug("packet not consumed")
	}
}

// isRTCP demultiplexes by the second octet: RTCP packet types 192-223
// cannot collide with RTP payload types in use.
func isRTCP(b []byte) bool {
	return len(b) >= 2 && b[0]>>6 == 2 && b[1] >= 192 && b[1] <= 223
}
