package vidstream

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu      sync.Mutex
	headers []rtp.Header
	payload [][]byte
	rtcp    []rtcp.Packet
}

func (h *recordingHandler) HandlePacket(hdr *rtp.Header, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.headers = append(h.headers, *hdr)
	h.payload = append(h.payload, append([]byte(nil), payload...))
	return nil
}

func (h *recordingHandler) HandleRTCP(pkts []rtcp.Packet) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rtcp = append(h.rtcp, pkts...)
}

func (h *recordingHandler) counts() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.headers), len(h.rtcp)
}

func newUDPPair(t *testing.T) (*UDPTransport, *UDPTransport) {
	t.Helper()
	ca, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	cb, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() {
		ca.Close()
		cb.Close()
	})

	a, err := NewUDPTransport(UDPTransportConfig{Conn: ca, Remote: cb.LocalAddr(), SSRC: 0x1111})
	require.NoError(t, err)
	b, err := NewUDPTransport(UDPTransportConfig{Conn: cb, Remote: ca.LocalAddr(), SSRC: 0x2222})
	require.NoError(t, err)
	return a, b
}

func serve(t *testing.T, tr *UDPTransport, h Handler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Serve(ctx, h) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Serve did not return after cancel")
		}
	})
}

func TestUDPTransportConfig(t *testing.T) {
	_, err := NewUDPTransport(UDPTransportConfig{})
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("got %v, want ErrConfiguration", err)
	}

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()
	tr, err := NewUDPTransport(UDPTransportConfig{Conn: conn, Remote: conn.LocalAddr()})
	require.NoError(t, err)
	assert.NotZero(t, tr.SSRC())
}

func TestUDPTransportMedia(t *testing.T) {
	a, _ := newUDPPair(t)
	assert.Nil(t, a.LocalMedia())
	assert.Nil(t, a.RemoteMedia())

	local := NewMediaDescription([]*Codec{NewH264Codec(nil, nil)}, 25, "")
	remote := NewMediaDescription([]*Codec{NewMPEG4Codec(nil, nil)}, 15, "")
	a.SetMedia(local, remote)
	assert.Same(t, local, a.LocalMedia())
	assert.Same(t, remote, a.RemoteMedia())
}

func TestUDPTransportRTP(t *testing.T) {
	a, b := newUDPPair(t)
	h := &recordingHandler{}
	serve(t, b, h)

	require.NoError(t, a.Send(false, 97, 160, []byte{1, 2, 3}))
	require.NoError(t, a.Send(true, 97, 160, []byte{4, 5}))

	require.Eventually(t, func() bool {
		n, _ := h.counts()
		return n == 2
	}, 2*time.Second, 5*time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()
	first, second := h.headers[0], h.headers[1]
	assert.Equal(t, uint8(97), first.PayloadType)
	assert.Equal(t, uint32(160), first.Timestamp)
	assert.Equal(t, uint32(0x1111), first.SSRC)
	assert.False(t, first.Marker)
	assert.True(t, second.Marker)
	assert.Equal(t, first.SequenceNumber+1, second.SequenceNumber)
	assert.Equal(t, []byte{1, 2, 3}, h.payload[0])
	assert.Equal(t, []byte{4, 5}, h.payload[1])
}

func TestUDPTransportLargePayload(t *testing.T) {
	a, b := newUDPPair(t)
	h := &recordingHandler{}
	serve(t, b, h)

	payload := make([]byte, 8000)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, a.Send(true, 97, 160, payload))

	require.Eventually(t, func() bool {
		n, _ := h.counts()
		return n == 1
	}, 2*time.Second, 5*time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, payload, h.payload[0])
}

func TestUDPTransportFeedback(t *testing.T) {
	a, b := newUDPPair(t)
	ha, hb := &recordingHandler{}, &recordingHandler{}
	serve(t, a, ha)
	serve(t, b, hb)

	// b learns a's SSRC from media, then asks for keyframes
	require.NoError(t, a.Send(true, 96, 0, []byte{0x65}))
	require.Eventually(t, func() bool {
		n, _ := hb.counts()
		return n == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, b.SendFeedback(FeedbackFIR))
	require.NoError(t, b.SendFeedback(FeedbackPLI))
	require.Eventually(t, func() bool {
		_, n := ha.counts()
		return n == 2
	}, 2*time.Second, 5*time.Millisecond)

	ha.mu.Lock()
	defer ha.mu.Unlock()
	fir, ok := ha.rtcp[0].(*rtcp.FullIntraRequest)
	require.True(t, ok, "got %T, want FIR", ha.rtcp[0])
	assert.Equal(t, uint32(0x2222), fir.SenderSSRC)
	assert.Equal(t, uint32(0x1111), fir.MediaSSRC)

	pli, ok := ha.rtcp[1].(*rtcp.PictureLossIndication)
	require.True(t, ok, "got %T, want PLI", ha.rtcp[1])
	assert.Equal(t, uint32(0x1111), pli.MediaSSRC)
}

func TestUDPTransportDropsGarbage(t *testing.T) {
	a, b := newUDPPair(t)
	h := &recordingHandler{}
	serve(t, b, h)

	// Too short for an RTP header
	_, err := a.conn.WriteTo([]byte{0x80}, a.remote)
	require.NoError(t, err)
	require.NoError(t, a.Send(true, 97, 1, []byte{9}))

	require.Eventually(t, func() bool {
		n, _ := h.counts()
		return n == 1
	}, 2*time.Second, 5*time.Millisecond)
	_, n := h.counts()
	assert.Zero(t, n)
}

func TestIsRTCP(t *testing.T) {
	tests := []struct {
		name string
		b    []byte
		want bool
	}{
		{"empty", nil, false},
		{"short", []byte{0x80}, false},
		{"rtp", []byte{0x80, 96}, false},
		{"rtp marker", []byte{0x80, 0x80 | 96}, false},
		{"sender report", []byte{0x80, 200}, true},
		{"psfb", []byte{0x81, 206}, true},
		{"wrong version", []byte{0x40, 200}, false},
	}
	for _, tt := range tests {
		if got := isRTCP(tt.b); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestFeedbackPacket(t *testing.T) {
	pkt := feedbackPacket(FeedbackPLI, 1, 2, 0)
	pli, ok := pkt.(*rtcp.PictureLossIndication)
	require.True(t, ok)
	assert.Equal(t, uint32(1), pli.SenderSSRC)
	assert.Equal(t, uint32(2), pli.MediaSSRC)

	pkt = feedbackPacket(FeedbackFIR, 1, 2, 7)
	fir, ok := pkt.(*rtcp.FullIntraRequest)
	require.True(t, ok)
	require.Len(t, fir.FIR, 1)
	assert.Equal(t, uint32(2), fir.FIR[0].SSRC)
	assert.Equal(t, uint8(7), fir.FIR[0].SequenceNumber)

	assert.Equal(t, "FIR", FeedbackFIR.String())
	assert.Equal(t, "PLI", FeedbackPLI.String())
	assert.Equal(t, "unknown", FeedbackKind(9).String())
}

func TestTrackTransport(t *testing.T) {
	track, err := NewVideoTrack(NewH264Codec(nil, nil), "video", "vidstream")
	require.NoError(t, err)
	assert.Equal(t, "video/H264", track.Codec().MimeType)
	assert.Equal(t, uint32(90000), track.Codec().ClockRate)

	tr := NewTrackTransport(nil, track)
	// Unbound tracks drop writes
	assert.NoError(t, tr.Send(true, 96, 0, []byte{0x65}))

	err = tr.SendFeedback(FeedbackPLI)
	if !errors.Is(err, ErrNotSupported) {
		t.Errorf("got %v, want ErrNotSupported", err)
	}
	assert.Nil(t, tr.LocalMedia())
	assert.Nil(t, tr.RemoteMedia())
	assert.Nil(t, videoMedia(nil))
}
