package vidstream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
)

// SessionConfig configures a Session.
type SessionConfig struct {
	Config    Config
	Registry  *Registry // nil for DefaultRegistry
	Transport Transport
	View      string // display view identifier
	Content   string // stream content label

	OnInput  func(key rune)  // keyboard input from the display
	OnResize func(size Size) // display window resized

	Logger logrus.FieldLogger // nil for the package logger
}

// SessionStats is a snapshot of a session's counters.
type SessionStats struct {
	ID             string
	TxState        DirectionState
	RxState        DirectionState
	EstimatedFPSTx float64
	EstimatedFPSRx float64
	Tx             EncodeStats
	Rx             DecodeStats
}

// Session is the video stream of one call. It owns the transmit and
// receive directions, negotiates codecs and payload types, reacts to
// keyframe requests from the peer and estimates frame rates.
type Session struct {
	id        uuid.UUID
	cfg       Config
	registry  *Registry
	transport Transport
	filters   *FilterChain
	log       logrus.FieldLogger
	view      string
	content   string

	tx *encodePipeline
	rx *decodePipeline

	feedback chan FeedbackKind
	cancel   context.CancelFunc
	done     chan struct{}

	mu      sync.Mutex
	peer    string
	started bool
	stopped bool
	efpsTx  float64
	efpsRx  float64
}

// NewSession creates a session on a transport. The session reads the
// negotiated media descriptions from the transport; Stop must be called
// to release it.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("%w: session needs a transport", ErrConfiguration)
	}
	vc := cfg.Config
	if err := vc.Validate(); err != nil {
		return nil, err
	}
	reg := cfg.Registry
	if reg == nil {
		reg = DefaultRegistry()
	}
	filters, err := NewFilterChain(reg.Filters())
	if err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = logger()
	}

	id := uuid.New()
	s := &Session{
		id:        id,
		cfg:       vc,
		registry:  reg,
		transport: cfg.Transport,
		filters:   filters,
		log:       log.WithField("session", id.String()),
		view:      cfg.View,
		content:   cfg.Content,
		feedback:  make(chan FeedbackKind, 16),
		done:      make(chan struct{}),
	}
	s.tx = newEncodePipeline(cfg.Transport, filters, s.log, Size{vc.Width, vc.Height})
	s.rx = newDecodePipeline(cfg.Transport, reg, filters, s.log)
	s.rx.onInput = cfg.OnInput
	s.rx.onResize = cfg.OnResize
	s.DecodeSDPAttributes()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(ctx)
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id.String() }

// View returns the display view identifier.
func (s *Session) View() string { return s.view }

// Content returns the content label of the stream.
func (s *Session) Content() string { return s.content }

// RemoteContent returns the content label announced by the peer.
func (s *Session) RemoteContent() string {
	return mediaContent(s.transport.RemoteMedia())
}

// TxState returns the transmit direction state.
func (s *Session) TxState() DirectionState { return s.tx.State() }

// RxState returns the receive direction state.
func (s *Session) RxState() DirectionState { return s.rx.State() }

// fps is the peer's announced frame rate, or the configured one.
func (s *Session) fps() int {
	if fps, ok := mediaFramerate(s.transport.RemoteMedia()); ok {
		return fps
	}
	return s.cfg.FPS
}

// SetEncoder selects the codec, payload type and peer format parameters
// for sending.
func (s *Session) SetEncoder(codec *Codec, pt uint8, fmtp string) error {
	params := EncoderParams{
		FPS:        s.fps(),
		Bitrate:    s.cfg.Bitrate,
		PacketSize: s.cfg.PacketSize,
	}
	if codec != nil && codec.Family == FamilyH264 {
		if f, err := ParseH264Fmtp(fmtp); err == nil {
			params.MaxFrameSize = f.MaxFS
		}
	}
	return s.tx.configure(codec, pt, params, fmtp)
}

// SetDecoder selects the codec for a received payload type.
func (s *Session) SetDecoder(codec *Codec, pt uint8, fmtp string) error {
	return s.rx.configure(codec, pt, fmtp)
}

// Start opens the display and the capture source and starts frame rate
// estimation. Empty names select the configured source and device.
// Device failures are logged; the session runs without the device.
func (s *Session) Start(source, device, peer string) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if peer != "" {
		s.peer = peer
	}
	peer = s.peer
	s.started = true
	s.mu.Unlock()

	s.rx.setPeer(peer)

	if err := s.rx.bindDisplay(s.registry.Display(s.cfg.Display), s.view); err != nil {
		s.log.WithError(err).Warn("could not set video display")
	}

	if source == "" {
		source = s.cfg.Source
	}
	if device == "" {
		device = s.cfg.Device
	}
	size := Size{s.cfg.Width, s.cfg.Height}
	driver := s.registry.Source(source)
	if driver == nil {
		s.log.WithField("source", source).Warn("video source not found")
	} else if err := s.tx.bindSource(driver, device, size, s.fps()); err != nil {
		s.log.WithError(err).WithField("size", size.String()).Warn("could not set encoder format")
	}
	return nil
}

// Stop ends the session: no captured frame or received packet is
// processed after it returns.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	<-s.done
	s.tx.stop()
	s.rx.stop()
	if err := s.filters.Close(); err != nil {
		s.log.WithError(err).Warn("closing video filters")
	}
	s.log.Debug("video session stopped")
}

// Mute replaces the outgoing pictures with a white picture.
func (s *Session) Mute(muted bool) {
	s.tx.mute(muted)
}

// SetOrientation rotates both the source and the display.
func (s *Session) SetOrientation(o Orientation) error {
	s.tx.setOrientation(o)
	if err := s.tx.updateSource(""); err != nil {
		s.log.WithError(err).Debug("video source update")
	}
	return s.rx.setOrientation(o)
}

// SetFullscreen switches the display to fullscreen.
func (s *Session) SetFullscreen(fs bool) error {
	return s.rx.setFullscreen(fs)
}

// UpdatePicture makes the next encoded picture a keyframe.
func (s *Session) UpdatePicture() {
	s.tx.requestKeyframe()
}

// SetSource switches the capture driver and device.
func (s *Session) SetSource(name, device string) error {
	driver := s.registry.Source(name)
	if driver == nil {
		return fmt.Errorf("%w: video source %q not found", ErrConfiguration, name)
	}
	return s.tx.setSource(driver, device)
}

// SetSourceDevice switches the device of the running capture source.
func (s *Session) SetSourceDevice(device string) error {
	return s.tx.updateSource(device)
}

// DecodeSDPAttributes re-reads the peer's media attributes after a
// negotiation.
func (s *Session) DecodeSDPAttributes() {
	s.rx.nackPLI.Store(mediaNackPLI(s.transport.RemoteMedia()))
}

// HandlePacket consumes an RTP packet received on the transport.
func (s *Session) HandlePacket(hdr *rtp.Header, payload []byte) error {
	return s.rx.onPacket(hdr, payload)
}

// HandleFeedback queues a keyframe request from the peer.
func (s *Session) HandleFeedback(kind FeedbackKind) {
	select {
	case s.feedback <- kind:
	default:
		// A request is already pending
	}
}

// HandleRTCP picks keyframe requests out of a compound RTCP packet.
func (s *Session) HandleRTCP(pkts []rtcp.Packet) {
	for _, pkt := range pkts {
		switch pkt.(type) {
		case *rtcp.FullIntraRequest:
			s.HandleFeedback(FeedbackFIR)
		case *rtcp.PictureLossIndication:
			s.HandleFeedback(FeedbackPLI)
		}
	}
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case kind := <-s.feedback:
			s.log.WithField("kind", kind.String()).Debug("keyframe requested by peer")
			s.tx.requestKeyframe()
		case <-ticker.C:
			s.tick(s.cfg.StatsInterval)
		}
	}
}

// tick estimates the frame rates over the last interval.
func (s *Session) tick(interval time.Duration) {
	secs := interval.Seconds()
	tx := float64(s.tx.frames.Swap(0)) / secs
	rx := float64(s.rx.frames.Swap(0)) / secs

	s.mu.Lock()
	s.efpsTx, s.efpsRx = tx, rx
	s.mu.Unlock()
}

// EstimatedFPS returns the frame rates measured over the last interval.
func (s *Session) EstimatedFPS() (tx, rx float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.efpsTx, s.efpsRx
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() SessionStats {
	tx, rx := s.EstimatedFPS()
	return SessionStats{
		ID:             s.ID(),
		TxState:        s.tx.State(),
		RxState:        s.rx.State(),
		EstimatedFPSTx: tx,
		EstimatedFPSRx: rx,
		Tx:             s.tx.Stats(),
		Rx:             s.rx.Stats(),
	}
}

// String prints the session state for debugging.
func (s *Session) String() string {
	var b strings.Builder

	s.tx.mu.Lock()
	size, fps, txCodec := s.tx.size, s.tx.srcParams.FPS, s.tx.codec
	s.tx.mu.Unlock()
	s.rx.mu.Lock()
	pt, rxCodec := s.rx.ptRx, s.rx.codec
	s.rx.mu.Unlock()
	efpsTx, efpsRx := s.EstimatedFPS()

	fmt.Fprintf(&b, "--- Video stream %s ---\n", s.ID())
	fmt.Fprintf(&b, " tx: %s, fps=%d, codec=%s, state=%s\n", size, fps, txCodec, s.tx.State())
	fmt.Fprintf(&b, " rx: pt=%d, codec=%s, state=%s\n", pt, rxCodec, s.rx.State())
	fmt.Fprintf(&b, " efps=%.1f/%.1f\n", efpsTx, efpsRx)
	return b.String()
}
