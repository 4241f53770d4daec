package vidstream

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
)

// DecodeStats are cumulative receive counters.
type DecodeStats struct {
	PacketsReceived  uint64
	BytesReceived    uint64
	PacketsDropped   uint64
	FramesDecoded    uint64
	FramesDisplayed  uint64
	DecodeErrors     uint64
	KeyframeRequests uint64
}

// decodePipeline is the receive direction: transport -> depacketizer ->
// decoder -> filters -> display.
type decodePipeline struct {
	transport Transport
	registry  *Registry
	filters   *FilterChain
	log       logrus.FieldLogger

	nackPLI  atomic.Bool // peer supports PLI
	onResize func(Size)
	onInput  func(rune)

	mu            sync.Mutex
	state         atomic.Int32
	codec         *Codec
	dec           *codecHandle[VideoDecoder]
	depack        Depacketizer
	gen           uint64
	ptRx          int // -1 until the first packet
	display       Display
	displayDriver DisplayDriver
	view          string
	peer          string
	orient        Orientation
	fullscreen    bool

	frames atomic.Uint64 // displayed since the last stats tick

	statsMu sync.Mutex
	stats   DecodeStats
}

func newDecodePipeline(t Transport, reg *Registry, filters *FilterChain, log logrus.FieldLogger) *decodePipeline {
	return &decodePipeline{
		transport: t,
		registry:  reg,
		filters:   filters,
		log:       log.WithField("dir", "rx"),
		ptRx:      -1,
	}
}

func (p *decodePipeline) State() DirectionState { return DirectionState(p.state.Load()) }

func (p *decodePipeline) setState(s DirectionState) { p.state.Store(int32(s)) }

func (p *decodePipeline) payloadType() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ptRx
}

// configure installs a decoder for codec and binds the payload type.
// Configuring the active codec again only rebinds the payload type.
func (p *decodePipeline) configure(codec *Codec, pt uint8, fmtp string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.State() == StateStopped {
		return ErrStopped
	}
	if codec == nil {
		return fmt.Errorf("%w: no decoder codec", ErrConfiguration)
	}
	if codec == p.codec && p.dec != nil {
		p.ptRx = int(pt)
		return nil
	}
	if codec.NewDecoder == nil {
		return fmt.Errorf("%w: codec %s cannot decode", ErrConfiguration, codec.Name)
	}
	dp, err := NewDepacketizer(codec.Family)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	p.ptRx = int(pt)
	p.setState(StateReconfiguring)
	p.retireDecoder()

	dec, err := codec.NewDecoder(fmtp)
	if err != nil {
		p.setState(StateUnconfigured)
		return fmt.Errorf("%w: decoder %s: %v", ErrResource, codec.Name, err)
	}

	p.dec = newCodecHandle(dec)
	p.codec = codec
	p.depack = dp
	p.gen++
	p.setState(StateConfigured)

	p.log.WithFields(logrus.Fields{"codec": codec.Name, "pt": pt}).Info("set video decoder")
	return nil
}

func (p *decodePipeline) retireDecoder() {
	if p.dec != nil {
		p.dec.release()
		p.dec = nil
	}
	p.codec = nil
	p.depack = nil
	p.gen++
}

// switchPayloadType rebinds the decoder for a payload type found in the
// local format table. Unknown payload types leave the state untouched.
func (p *decodePipeline) switchPayloadType(pt uint8) error {
	f, ok := LookupFormat(p.transport.LocalMedia(), pt)
	if !ok {
		return fmt.Errorf("%w: unknown payload type %d", ErrProtocol, pt)
	}
	codec := p.registry.FindCodec(f.Name, f.Fmtp)
	if codec == nil {
		return fmt.Errorf("%w: no codec for payload type %d (%s)", ErrConfiguration, pt, f.Name)
	}
	p.log.WithFields(logrus.Fields{"from": p.payloadType(), "to": pt}).Info("video decoder changed payload")
	return p.configure(codec, pt, f.Fmtp)
}

// onPacket consumes one received RTP packet.
func (p *decodePipeline) onPacket(hdr *rtp.Header, payload []byte) error {
	if hdr == nil || len(payload) == 0 {
		return nil
	}
	p.addStats(func(s *DecodeStats) {
		s.PacketsReceived++
		s.BytesReceived += uint64(len(payload))
	})

	if int(hdr.PayloadType) != p.payloadType() {
		if err := p.switchPayloadType(hdr.PayloadType); err != nil {
			p.addStats(func(s *DecodeStats) { s.PacketsDropped++ })
			return err
		}
	}

	p.mu.Lock()
	if p.State() == StateStopped {
		p.mu.Unlock()
		return ErrStopped
	}
	if p.dec == nil {
		p.mu.Unlock()
		p.log.Warn("no video decoder")
		return nil
	}
	h := p.dec
	h.acquire()
	gen, depack := p.gen, p.depack
	p.mu.Unlock()
	defer h.release()

	// h.mu also keeps the decoder output valid until delivered
	h.mu.Lock()
	defer h.mu.Unlock()

	au, complete, err := depack.Depacketize(payload, hdr.Marker)
	var frame *VideoFrame
	if err == nil && complete {
		frame, err = h.inst.Decode(&EncodedFrame{Data: au, Timestamp: hdr.Timestamp})
	}
	if err != nil {
		return p.decodeError(err, hdr)
	}
	if frame == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen || p.State() == StateStopped {
		return nil
	}
	p.addStats(func(s *DecodeStats) { s.FramesDecoded++ })

	if err := p.filters.Decode(frame); err != nil {
		p.log.WithError(err).Debug("video decode filter")
	}
	if p.display != nil {
		if err := p.display.Display(p.peer, frame); err != nil {
			p.log.WithError(err).Debug("video display")
		} else {
			p.addStats(func(s *DecodeStats) { s.FramesDisplayed++ })
		}
	}
	p.frames.Add(1)
	return nil
}

// decodeError asks the peer for a keyframe unless the stream simply has
// not reached one yet.
func (p *decodePipeline) decodeError(err error, hdr *rtp.Header) error {
	if errors.Is(err, ErrKeyframeNotSeen) {
		return err
	}
	p.addStats(func(s *DecodeStats) { s.DecodeErrors++ })
	p.log.WithError(err).WithField("seq", hdr.SequenceNumber).Warn("video decode error")

	kind := FeedbackFIR
	if p.nackPLI.Load() {
		kind = FeedbackPLI
	}
	if ferr := p.transport.SendFeedback(kind); ferr != nil {
		p.log.WithError(ferr).Debug("sending keyframe request")
	} else {
		p.addStats(func(s *DecodeStats) { s.KeyframeRequests++ })
	}
	return err
}

// bindDisplay replaces the display.
func (p *decodePipeline) bindDisplay(driver DisplayDriver, view string) error {
	if driver == nil {
		return fmt.Errorf("%w: no video display", ErrConfiguration)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.State() == StateStopped {
		return ErrStopped
	}
	p.closeDisplay()

	d, err := driver.Open(DisplayOpenParams{
		View:     view,
		OnResize: p.handleResize,
		OnInput:  p.handleInput,
	})
	if err != nil {
		if errors.Is(err, ErrConfiguration) {
			return err
		}
		return fmt.Errorf("%w: display %s: %v", ErrResource, driver.Name(), err)
	}
	p.display, p.displayDriver, p.view = d, driver, view
	if p.fullscreen || p.orient != OrientPortrait {
		p.updateDisplay()
	}
	return nil
}

func (p *decodePipeline) closeDisplay() {
	if p.display == nil {
		return
	}
	if err := p.display.Close(); err != nil {
		p.log.WithError(err).Warn("closing video display")
	}
	p.display, p.displayDriver = nil, nil
}

func (p *decodePipeline) handleResize(size Size) {
	p.log.WithField("size", size.String()).Info("video display resized")
	if p.onResize != nil {
		p.onResize(size)
	}
}

func (p *decodePipeline) handleInput(key rune) {
	if p.onInput != nil {
		p.onInput(key)
	}
}

// updateDisplay is called with mu held.
func (p *decodePipeline) updateDisplay() error {
	upd, ok := p.display.(DisplayUpdater)
	if !ok {
		return nil
	}
	return upd.Update(p.fullscreen, p.orient)
}

func (p *decodePipeline) setOrientation(o Orientation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orient = o
	return p.updateDisplay()
}

func (p *decodePipeline) setFullscreen(fs bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fullscreen = fs
	return p.updateDisplay()
}

func (p *decodePipeline) setPeer(peer string) {
	p.mu.Lock()
	p.peer = peer
	p.mu.Unlock()
}

func (p *decodePipeline) addStats(fn func(s *DecodeStats)) {
	p.statsMu.Lock()
	fn(&p.stats)
	p.statsMu.Unlock()
}

func (p *decodePipeline) Stats() DecodeStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

// stop closes the decoder and the display; packets received afterwards
// are rejected.
func (p *decodePipeline) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setState(StateStopped)
	p.retireDecoder()
	p.closeDisplay()
}
