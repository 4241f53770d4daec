package vidstream

import (
	"fmt"
	"sync"
)

// SelfviewFilter overlays the outgoing picture, scaled down, in the
// bottom-right corner of incoming pictures.
type SelfviewFilter struct {
	// Scale is the overlay width as a fraction of the incoming picture
	// width (default 1/4).
	Scale float64
}

// Name implements Filter.
func (f *SelfviewFilter) Name() string { return "selfview" }

// NewState implements Filter.
func (f *SelfviewFilter) NewState() (any, error) {
	scale := f.Scale
	if scale == 0 {
		scale = 0.25
	}
	if scale < 0 || scale > 1 {
		return nil, fmt.Errorf("%w: selfview scale %v", ErrConfiguration, scale)
	}
	return &selfview{scale: scale}, nil
}

type selfview struct {
	scale float64

	mu   sync.Mutex
	self *VideoFrame // last outgoing picture, full size
}

const selfviewMargin = 8

// Encode keeps a copy of the outgoing picture.
func (s *selfview) Encode(frame *VideoFrame) error {
	if frame.Format != PixelFormatI420 {
		return fmt.Errorf("%w: selfview needs I420, got %v", ErrNotSupported, frame.Format)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.self == nil || s.self.Width != frame.Width || s.self.Height != frame.Height {
		s.self = NewVideoFrame(PixelFormatI420, frame.Width, frame.Height)
	}
	copyI420(s.self, frame)
	return nil
}

// Decode draws the overlay into the incoming picture.
func (s *selfview) Decode(frame *VideoFrame) error {
	if frame.Format != PixelFormatI420 {
		return fmt.Errorf("%w: selfview needs I420, got %v", ErrNotSupported, frame.Format)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.self == nil {
		return nil
	}

	w := int(float64(frame.Width)*s.scale) &^ 1
	h := (w * s.self.Height / s.self.Width) &^ 1
	x := (frame.Width - w - selfviewMargin) &^ 1
	y := (frame.Height - h - selfviewMargin) &^ 1
	if w < 2 || h < 2 || x < 0 || y < 0 {
		return nil
	}

	scalePlane(s.self.Data[0], s.self.Stride[0], 0, 0, s.self.Width, s.self.Height,
		frame.Data[0], frame.Stride[0], x, y, w, h)
	for p := 1; p < 3; p++ {
		scalePlane(s.self.Data[p], s.self.Stride[p], 0, 0, s.self.Width/2, s.self.Height/2,
			frame.Data[p], frame.Stride[p], x/2, y/2, w/2, h/2)
	}
	return nil
}
