package vidstream

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pion/sdp/v3"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func newTestLogger() (*logrus.Logger, *test.Hook) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	return log, hook
}

func blackFrame(w, h int) *VideoFrame {
	f := NewVideoFrame(PixelFormatI420, w, h)
	f.Fill(0, 0, 0)
	return f
}

// fakeEncoder returns a fixed access unit for every picture.
type fakeEncoder struct {
	au []byte

	mu     sync.Mutex
	forced []bool
	sizes  []Size
	lumas  []byte
	err    error

	// When set, Encode signals entered and waits for release
	entered chan struct{}
	release chan struct{}

	closed atomic.Bool
}

func (e *fakeEncoder) Encode(frame *VideoFrame, forceKeyframe bool) (*EncodedFrame, error) {
	if e.entered != nil {
		e.entered <- struct{}{}
		<-e.release
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.forced = append(e.forced, forceKeyframe)
	e.sizes = append(e.sizes, frame.Size())
	e.lumas = append(e.lumas, frame.Data[0][0])
	if e.err != nil {
		return nil, e.err
	}
	ft := FrameTypeDelta
	if forceKeyframe {
		ft = FrameTypeKey
	}
	return &EncodedFrame{Data: append([]byte(nil), e.au...), FrameType: ft}, nil
}

func (e *fakeEncoder) Close() error {
	e.closed.Store(true)
	return nil
}

func (e *fakeEncoder) setErr(err error) {
	e.mu.Lock()
	e.err = err
	e.mu.Unlock()
}

func (e *fakeEncoder) calls() (forced []bool, sizes []Size, lumas []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]bool(nil), e.forced...), append([]Size(nil), e.sizes...), append([]byte(nil), e.lumas...)
}

// fakeDecoder returns a 16x16 picture for every access unit.
type fakeDecoder struct {
	mu  sync.Mutex
	aus [][]byte
	err error

	entered chan struct{}
	release chan struct{}

	frame  *VideoFrame
	closed atomic.Bool
}

func (d *fakeDecoder) Decode(au *EncodedFrame) (*VideoFrame, error) {
	if d.entered != nil {
		d.entered <- struct{}{}
		<-d.release
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.aus = append(d.aus, append([]byte(nil), au.Data...))
	if d.err != nil {
		return nil, d.err
	}
	if d.frame == nil {
		d.frame = blackFrame(16, 16)
	}
	return d.frame, nil
}

func (d *fakeDecoder) Close() error {
	d.closed.Store(true)
	return nil
}

func (d *fakeDecoder) decoded() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.aus...)
}

// fakePlugin hands out fake encoders and decoders and keeps them for
// inspection.
type fakePlugin struct {
	au      []byte
	encErr  error
	decErr  error
	blocked bool

	mu       sync.Mutex
	encoders []*fakeEncoder
	decoders []*fakeDecoder
	params   []EncoderParams
	fmtps    []string
}

func (fp *fakePlugin) codec(name string, family Family, pt uint8) *Codec {
	return &Codec{
		Name:        name,
		Family:      family,
		PayloadType: pt,
		ClockRate:   VideoClockRate,
		NewEncoder:  fp.newEncoder,
		NewDecoder:  fp.newDecoder,
	}
}

func (fp *fakePlugin) newEncoder(params EncoderParams, fmtp string) (VideoEncoder, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.params = append(fp.params, params)
	fp.fmtps = append(fp.fmtps, fmtp)
	if fp.encErr != nil {
		return nil, fp.encErr
	}
	au := fp.au
	if au == nil {
		au = []byte{0xAA, 0xBB, 0xCC}
	}
	e := &fakeEncoder{au: au}
	if fp.blocked {
		e.entered = make(chan struct{})
		e.release = make(chan struct{})
	}
	fp.encoders = append(fp.encoders, e)
	return e, nil
}

func (fp *fakePlugin) newDecoder(fmtp string) (VideoDecoder, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if fp.decErr != nil {
		return nil, fp.decErr
	}
	d := &fakeDecoder{}
	if fp.blocked {
		d.entered = make(chan struct{})
		d.release = make(chan struct{})
	}
	fp.decoders = append(fp.decoders, d)
	return d, nil
}

func (fp *fakePlugin) encoder(t *testing.T, i int) *fakeEncoder {
	t.Helper()
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if i >= len(fp.encoders) {
		t.Fatalf("encoder %d not created (%d encoders)", i, len(fp.encoders))
	}
	return fp.encoders[i]
}

func (fp *fakePlugin) decoder(t *testing.T, i int) *fakeDecoder {
	t.Helper()
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if i >= len(fp.decoders) {
		t.Fatalf("decoder %d not created (%d decoders)", i, len(fp.decoders))
	}
	return fp.decoders[i]
}

func (fp *fakePlugin) counts() (encoders, decoders int) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return len(fp.encoders), len(fp.decoders)
}

type sentPacket struct {
	marker  bool
	pt      uint8
	ts      uint32
	payload []byte
}

// mockTransport records what the pipelines send.
type mockTransport struct {
	local, remote *sdp.MediaDescription

	mu          sync.Mutex
	sent        []sentPacket
	feedback    []FeedbackKind
	sendErr     error
	feedbackErr error
}

func (m *mockTransport) Send(marker bool, pt uint8, ts uint32, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, sentPacket{marker, pt, ts, append([]byte(nil), payload...)})
	return nil
}

func (m *mockTransport) SendFeedback(kind FeedbackKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.feedbackErr != nil {
		return m.feedbackErr
	}
	m.feedback = append(m.feedback, kind)
	return nil
}

func (m *mockTransport) LocalMedia() *sdp.MediaDescription  { return m.local }
func (m *mockTransport) RemoteMedia() *sdp.MediaDescription { return m.remote }

func (m *mockTransport) packets() []sentPacket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentPacket(nil), m.sent...)
}

func (m *mockTransport) feedbacks() []FeedbackKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]FeedbackKind(nil), m.feedback...)
}

// fakeSourceDriver opens sources that deliver frames pushed by the test.
type fakeSourceDriver struct {
	name    string
	openErr error

	mu     sync.Mutex
	opened []*fakeSource
}

func (d *fakeSourceDriver) Name() string {
	if d.name == "" {
		return "fake"
	}
	return d.name
}

func (d *fakeSourceDriver) Open(p SourceOpenParams) (Source, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}
	s := &fakeSource{params: p}
	d.mu.Lock()
	d.opened = append(d.opened, s)
	d.mu.Unlock()
	return s, nil
}

func (d *fakeSourceDriver) last(t *testing.T) *fakeSource {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.opened) == 0 {
		t.Fatal("no source opened")
	}
	return d.opened[len(d.opened)-1]
}

type fakeSource struct {
	params SourceOpenParams
	closed atomic.Bool

	mu      sync.Mutex
	updates []SourceParams
	devices []string
}

func (s *fakeSource) push(f *VideoFrame) { s.params.OnFrame(f) }

func (s *fakeSource) fail(err error) { s.params.OnError(err) }

func (s *fakeSource) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *fakeSource) Update(params SourceParams, device string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, params)
	s.devices = append(s.devices, device)
	return nil
}

func (s *fakeSource) lastUpdate() (SourceParams, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.updates) == 0 {
		return SourceParams{}, "", false
	}
	return s.updates[len(s.updates)-1], s.devices[len(s.devices)-1], true
}

// updatableDisplay records display updates.
type updatableDisplay struct {
	NullDisplay

	mu         sync.Mutex
	fullscreen bool
	orient     Orientation
	updates    int
	closed     bool
}

func (d *updatableDisplay) Update(fullscreen bool, orient Orientation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fullscreen, d.orient = fullscreen, orient
	d.updates++
	return nil
}

func (d *updatableDisplay) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

type updatableDisplayDriver struct {
	mu     sync.Mutex
	opened []*updatableDisplay
	params []DisplayOpenParams
}

func (d *updatableDisplayDriver) Name() string { return "updatable" }

func (d *updatableDisplayDriver) Open(p DisplayOpenParams) (Display, error) {
	disp := &updatableDisplay{}
	d.mu.Lock()
	d.opened = append(d.opened, disp)
	d.params = append(d.params, p)
	d.mu.Unlock()
	return disp, nil
}

func (d *updatableDisplayDriver) last(t *testing.T) (*updatableDisplay, DisplayOpenParams) {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.opened) == 0 {
		t.Fatal("no display opened")
	}
	return d.opened[len(d.opened)-1], d.params[len(d.params)-1]
}
