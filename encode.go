package vidstream

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// MaxMutedFrames is the number of substitute pictures sent after muting.
const MaxMutedFrames = 3

// initialTimestamp is the first RTP timestamp of the transmit direction.
const initialTimestamp = 160

// EncodeStats are cumulative transmit counters.
type EncodeStats struct {
	FramesCaptured  uint64
	FramesEncoded   uint64
	KeyframesForced uint64
	PacketsSent     uint64
	BytesSent       uint64
	EncodeErrors    uint64
	SendErrors      uint64
}

// encodePipeline is the transmit direction: source -> convert -> filters ->
// encoder -> packetizer -> transport.
type encodePipeline struct {
	transport   Transport
	filters     *FilterChain
	log         logrus.FieldLogger
	defaultSize Size

	// srcMu serializes source binding. It is never held by onFrame, so a
	// source can be closed synchronously while it holds it.
	srcMu     sync.Mutex
	src       Source
	srcDriver SourceDriver
	srcDevice string

	mu          sync.Mutex
	state       atomic.Int32
	codec       *Codec
	enc         *codecHandle[VideoEncoder]
	packetizer  Packetizer
	gen         uint64
	pt          uint8
	params      EncoderParams
	size        Size // bound source size, zero when unbound
	srcParams   SourceParams
	muted       bool
	mutedFrames int
	muteFrame   *VideoFrame
	conv        *VideoFrame
	ts          uint32

	picup  atomic.Bool   // pending keyframe request
	frames atomic.Uint64 // captured since the last stats tick

	statsMu sync.Mutex
	stats   EncodeStats
}

func newEncodePipeline(t Transport, filters *FilterChain, log logrus.FieldLogger, defaultSize Size) *encodePipeline {
	return &encodePipeline{
		transport:   t,
		filters:     filters,
		log:         log.WithField("dir", "tx"),
		defaultSize: defaultSize,
		ts:          initialTimestamp,
	}
}

func (p *encodePipeline) State() DirectionState { return DirectionState(p.state.Load()) }

func (p *encodePipeline) setState(s DirectionState) { p.state.Store(int32(s)) }

// configure installs an encoder for codec. Configuring the active codec
// again only updates the payload type. On failure no encoder is active and
// frames are dropped until the next successful configure.
func (p *encodePipeline) configure(codec *Codec, pt uint8, params EncoderParams, fmtp string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.State() == StateStopped {
		return ErrStopped
	}
	if codec == nil {
		return fmt.Errorf("%w: no encoder codec", ErrConfiguration)
	}
	if codec == p.codec && p.enc != nil {
		p.pt = pt
		return nil
	}
	if codec.NewEncoder == nil {
		return fmt.Errorf("%w: codec %s cannot encode", ErrConfiguration, codec.Name)
	}
	pk, err := NewPacketizer(codec.Family)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	p.setState(StateReconfiguring)
	p.retireEncoder()

	enc, err := codec.NewEncoder(params, fmtp)
	if err != nil {
		p.setState(StateUnconfigured)
		return fmt.Errorf("%w: encoder %s: %v", ErrResource, codec.Name, err)
	}

	p.enc = newCodecHandle(enc)
	p.codec = codec
	p.packetizer = pk
	p.pt = pt
	p.params = params
	p.gen++
	p.setState(StateConfigured)

	p.log.WithFields(logrus.Fields{
		"codec":   codec.Name,
		"pt":      pt,
		"bitrate": params.Bitrate,
		"fps":     params.FPS,
	}).Info("set video encoder")
	return nil
}

// retireEncoder drops the slot's reference to the active encoder. Output
// of calls still in flight is discarded by the generation check.
func (p *encodePipeline) retireEncoder() {
	if p.enc != nil {
		p.enc.release()
		p.enc = nil
	}
	p.codec = nil
	p.packetizer = nil
	p.gen++
}

// bindSource replaces the capture source.
func (p *encodePipeline) bindSource(driver SourceDriver, device string, size Size, fps int) error {
	p.srcMu.Lock()
	defer p.srcMu.Unlock()

	if p.State() == StateStopped {
		return ErrStopped
	}
	if driver == nil {
		return fmt.Errorf("%w: no video source", ErrConfiguration)
	}
	p.closeSource()

	p.mu.Lock()
	p.size = size
	p.srcParams.FPS = fps
	p.muteFrame = NewVideoFrame(PixelFormatI420, size.Width, size.Height)
	p.muteFrame.Fill(0xff, 0xff, 0xff)
	p.conv = nil
	params := p.srcParams
	p.mu.Unlock()

	return p.openSource(driver, device, size, params)
}

// setSource switches to another driver keeping size and parameters.
func (p *encodePipeline) setSource(driver SourceDriver, device string) error {
	p.srcMu.Lock()
	defer p.srcMu.Unlock()

	if p.State() == StateStopped {
		return ErrStopped
	}
	p.closeSource()

	p.mu.Lock()
	size, params := p.size, p.srcParams
	p.mu.Unlock()
	if size == (Size{}) {
		size = p.defaultSize
	}
	return p.openSource(driver, device, size, params)
}

// openSource is called with srcMu held.
func (p *encodePipeline) openSource(driver SourceDriver, device string, size Size, params SourceParams) error {
	cell := &sourceCell{}
	src, err := driver.Open(SourceOpenParams{
		Device:  device,
		Size:    size,
		Params:  params,
		OnFrame: p.onFrame,
		OnError: func(err error) { p.onSourceError(cell, err) },
	})
	if err != nil {
		if errors.Is(err, ErrConfiguration) {
			return err
		}
		return fmt.Errorf("%w: source %s: %v", ErrResource, driver.Name(), err)
	}
	cell.src = src
	p.src, p.srcDriver, p.srcDevice = src, driver, device
	p.log.WithFields(logrus.Fields{
		"source": driver.Name(),
		"device": device,
		"size":   size.String(),
		"fps":    params.FPS,
	}).Info("video source bound")
	return nil
}

type sourceCell struct {
	src Source
}

// closeSource is called with srcMu held.
func (p *encodePipeline) closeSource() {
	if p.src == nil {
		return
	}
	src := p.src
	p.src, p.srcDriver = nil, nil
	if err := src.Close(); err != nil {
		p.log.WithError(err).Warn("closing video source")
	}
}

// onSourceError unbinds a failing source. The call comes from the source's
// own context, which Close waits for, so the source is closed elsewhere.
func (p *encodePipeline) onSourceError(cell *sourceCell, err error) {
	p.log.WithError(fmt.Errorf("%w: %v", ErrDevice, err)).Warn("video source error")
	go func() {
		p.srcMu.Lock()
		defer p.srcMu.Unlock()
		if cell.src != nil && p.src == cell.src {
			p.closeSource()
		}
	}()
}

// updateSource pushes the current parameters, and optionally a new
// device, to the running source.
func (p *encodePipeline) updateSource(device string) error {
	p.srcMu.Lock()
	defer p.srcMu.Unlock()

	upd, ok := p.src.(SourceUpdater)
	if !ok {
		return nil
	}
	p.mu.Lock()
	params := p.srcParams
	p.mu.Unlock()
	if err := upd.Update(params, device); err != nil {
		return err
	}
	if device != "" {
		p.srcDevice = device
	}
	return nil
}

func (p *encodePipeline) setOrientation(o Orientation) {
	p.mu.Lock()
	p.srcParams.Orient = o
	p.mu.Unlock()
}

func (p *encodePipeline) requestKeyframe() {
	p.picup.Store(true)
}

// mute substitutes a white picture for captured ones. Muting and unmuting
// both restart the substitute count and request a keyframe.
func (p *encodePipeline) mute(enable bool) {
	p.mu.Lock()
	p.muted = enable
	p.mutedFrames = 0
	if enable && p.muteFrame == nil {
		size := p.size
		if size == (Size{}) {
			size = p.defaultSize
		}
		p.muteFrame = NewVideoFrame(PixelFormatI420, size.Width, size.Height)
		p.muteFrame.Fill(0xff, 0xff, 0xff)
	}
	p.mu.Unlock()
	p.requestKeyframe()
}

// onFrame encodes and sends one captured picture.
func (p *encodePipeline) onFrame(frame *VideoFrame) {
	p.frames.Add(1)
	p.addStats(func(s *EncodeStats) { s.FramesCaptured++ })

	p.mu.Lock()
	if p.State() != StateConfigured || p.enc == nil {
		p.mu.Unlock()
		return
	}
	if p.muted {
		if p.mutedFrames >= MaxMutedFrames {
			p.mu.Unlock()
			return
		}
		frame = p.muteFrame
	}

	pic, err := p.prepare(frame)
	if err != nil {
		p.mu.Unlock()
		p.log.WithError(err).Warn("video frame conversion")
		return
	}
	if err := p.filters.Encode(pic); err != nil {
		p.log.WithError(err).Debug("video encode filter")
	}

	h := p.enc
	h.acquire()
	gen, pk, pt := p.gen, p.packetizer, p.pt
	pktSize, clockRate := p.params.PacketSize, p.codec.ClockRate
	fps := p.srcParams.FPS
	if fps <= 0 {
		fps = p.params.FPS
	}
	p.mutedFrames++
	p.mu.Unlock()

	force := p.picup.Swap(false)
	h.mu.Lock()
	au, err := h.inst.Encode(pic, force)
	h.mu.Unlock()
	h.release()

	if err != nil {
		if force {
			p.picup.Store(true)
		}
		p.addStats(func(s *EncodeStats) { s.EncodeErrors++ })
		p.log.WithError(err).Warn("video encode")
		return
	}

	var packets []Packet
	if au != nil && len(au.Data) > 0 {
		if packets, err = pk.Packetize(au.Data, pktSize); err != nil {
			p.addStats(func(s *EncodeStats) { s.EncodeErrors++ })
			p.log.WithError(err).Warn("video packetize")
		}
	}

	p.mu.Lock()
	if p.gen != gen || p.State() != StateConfigured {
		// Encoder replaced while encoding
		p.mu.Unlock()
		return
	}
	ts := p.ts
	if fps > 0 {
		p.ts += clockRate / uint32(fps)
	}
	p.mu.Unlock()

	var bytes uint64
	var sendErrs uint64
	for _, pkt := range packets {
		payload := pkt.Bytes()
		if err := p.transport.Send(pkt.Marker, pt, ts, payload); err != nil {
			sendErrs++
			continue
		}
		bytes += uint64(len(payload))
	}
	p.addStats(func(s *EncodeStats) {
		if au != nil {
			s.FramesEncoded++
		}
		if force {
			s.KeyframesForced++
		}
		s.PacketsSent += uint64(len(packets)) - sendErrs
		s.BytesSent += bytes
		s.SendErrors += sendErrs
	})
	if sendErrs > 0 {
		p.log.WithField("failed", sendErrs).Debug("video send")
	}
}

// prepare returns an I420 picture of the bound size, converting into the
// pipeline's buffer when needed. The substitute picture is always copied
// so filters cannot alter it. Called with mu held.
func (p *encodePipeline) prepare(frame *VideoFrame) (*VideoFrame, error) {
	if !frame.Valid() {
		return nil, fmt.Errorf("%w: invalid %v frame %v", ErrProtocol, frame.Format, frame.Size())
	}
	size := p.size
	if size == (Size{}) {
		size = frame.Size()
	}
	if frame.Format == PixelFormatI420 && frame.Size() == size &&
		(frame != p.muteFrame || p.filters.Len() == 0) {
		return frame, nil
	}
	if p.conv == nil || p.conv.Size() != size {
		p.conv = NewVideoFrame(PixelFormatI420, size.Width, size.Height)
	}
	if err := ConvertFrame(p.conv, frame); err != nil {
		return nil, err
	}
	return p.conv, nil
}

func (p *encodePipeline) addStats(fn func(s *EncodeStats)) {
	p.statsMu.Lock()
	fn(&p.stats)
	p.statsMu.Unlock()
}

func (p *encodePipeline) Stats() EncodeStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

// stop closes the source and the encoder. No onFrame call is in progress
// or will follow once it returns.
func (p *encodePipeline) stop() {
	p.mu.Lock()
	p.setState(StateStopped)
	p.mu.Unlock()

	p.srcMu.Lock()
	p.closeSource()
	p.srcMu.Unlock()

	p.mu.Lock()
	p.retireEncoder()
	p.mu.Unlock()
}
