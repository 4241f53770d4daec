package vidstream

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

// PatternType defines the type of test pattern to generate.
type PatternType int

const (
	PatternColorBars    PatternType = iota // SMPTE color bars
	PatternGradient                        // Horizontal gradient
	PatternCheckerboard                    // Checkerboard pattern
	PatternMovingBox                       // Moving box (animated)
)

func (p PatternType) String() string {
	switch p {
	case PatternColorBars:
		return "bars"
	case PatternGradient:
		return "gradient"
	case PatternCheckerboard:
		return "checkerboard"
	case PatternMovingBox:
		return "box"
	default:
		return "unknown"
	}
}

var allPatterns = []PatternType{PatternColorBars, PatternGradient, PatternCheckerboard, PatternMovingBox}

// TestPatternDriver is a capture driver generating synthetic pictures. The
// device name selects the pattern ("bars", "gradient", "checkerboard",
// "box"); the empty device uses Pattern.
type TestPatternDriver struct {
	Pattern PatternType
}

// Name implements SourceDriver.
func (d *TestPatternDriver) Name() string { return "testpattern" }

// Devices implements DeviceLister.
func (d *TestPatternDriver) Devices() ([]DeviceInfo, error) {
	devs := make([]DeviceInfo, 0, len(allPatterns))
	for _, p := range allPatterns {
		devs = append(devs, DeviceInfo{ID: p.String(), Label: "Test pattern " + p.String()})
	}
	return devs, nil
}

func (d *TestPatternDriver) pattern(device string) (PatternType, error) {
	if device == "" {
		return d.Pattern, nil
	}
	for _, p := range allPatterns {
		if strings.EqualFold(p.String(), device) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown test pattern %q", ErrConfiguration, device)
}

// Open implements SourceDriver.
func (d *TestPatternDriver) Open(p SourceOpenParams) (Source, error) {
	if p.OnFrame == nil {
		return nil, fmt.Errorf("%w: no frame handler", ErrConfiguration)
	}
	pattern, err := d.pattern(p.Device)
	if err != nil {
		return nil, err
	}
	size := p.Size
	if size.Width <= 0 || size.Height <= 0 {
		size = Size{352, 288}
	}
	if size.Width%2 != 0 || size.Height%2 != 0 {
		return nil, fmt.Errorf("%w: odd test pattern size %v", ErrConfiguration, size)
	}
	fps := p.Params.FPS
	if fps <= 0 {
		fps = 25
	}

	s := &TestPatternSource{
		driver:  d,
		frame:   NewVideoFrame(PixelFormatI420, size.Width, size.Height),
		pattern: pattern,
		fps:     fps,
		onFrame: p.OnFrame,
		updates: make(chan int, 1),
		doneCh:  make(chan struct{}),
	}
	s.generatePattern(0)

	var ctx context.Context
	ctx, s.cancel = context.WithCancel(context.Background())
	go s.generateLoop(ctx)
	return s, nil
}

// TestPatternSource generates synthetic pictures at a fixed rate.
type TestPatternSource struct {
	driver *TestPatternDriver
	frame  *VideoFrame

	mu      sync.Mutex
	pattern PatternType
	fps     int

	onFrame    FrameHandler
	frameCount uint64
	updates    chan int // new fps

	cancel    context.CancelFunc
	doneCh    chan struct{}
	closeOnce sync.Once
}

// Close stops generating frames and waits for the goroutine to exit.
func (s *TestPatternSource) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.doneCh
	})
	return nil
}

// Update implements SourceUpdater: changes the frame rate and pattern.
func (s *TestPatternSource) Update(params SourceParams, device string) error {
	pattern, err := s.driver.pattern(device)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if device != "" {
		s.pattern = pattern
	}
	s.mu.Unlock()
	if params.FPS > 0 {
		select {
		case <-s.updates:
		default:
		}
		s.updates <- params.FPS
	}
	return nil
}

func (s *TestPatternSource) generateLoop(ctx context.Context) {
	defer close(s.doneCh)

	start := time.Now()
	ticker := time.NewTicker(time.Second / time.Duration(s.fps))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case fps := <-s.updates:
			ticker.Reset(time.Second / time.Duration(fps))
		case <-ticker.C:
			s.frameCount++
			s.mu.Lock()
			s.generatePattern(s.frameCount)
			s.mu.Unlock()
			s.frame.Timestamp = time.Since(start).Nanoseconds()
			s.onFrame(s.frame)
		}
	}
}

func (s *TestPatternSource) generatePattern(frameNum uint64) {
	switch s.pattern {
	case PatternGradient:
		s.generateGradient()
	case PatternCheckerboard:
		s.generateCheckerboard(32)
	case PatternMovingBox:
		s.generateMovingBox(frameNum)
	default:
		s.generateColorBars()
	}
}

// SMPTE color bars (simplified 8-bar pattern)
var colorBarsRGB = [][3]uint8{
	{192, 192, 192}, // White (75%)
	{192, 192, 0},   // Yellow
	{0, 192, 192},   // Cyan
	{0, 192, 0},     // Green
	{192, 0, 192},   // Magenta
	{192, 0, 0},     // Red
	{0, 0, 192},     // Blue
	{16, 16, 16},    // Black
}

func (s *TestPatternSource) setPixel(x, y int, yVal, u, v uint8) {
	f := s.frame
	f.Data[0][y*f.Stride[0]+x] = yVal
	if x%2 == 0 && y%2 == 0 {
		f.Data[1][(y/2)*f.Stride[1]+x/2] = u
		f.Data[2][(y/2)*f.Stride[2]+x/2] = v
	}
}

func (s *TestPatternSource) generateColorBars() {
	w, h := s.frame.Width, s.frame.Height
	barWidth := max(w/8, 1)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			rgb := colorBarsRGB[min(x/barWidth, 7)]
			yVal, u, v := rgbToYUV(rgb[0], rgb[1], rgb[2])
			s.setPixel(x, y, yVal, u, v)
		}
	}
}

func (s *TestPatternSource) generateGradient() {
	w, h := s.frame.Width, s.frame.Height
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			s.setPixel(x, y, uint8((x*255)/w), 128, 128)
		}
	}
}

func (s *TestPatternSource) generateCheckerboard(size int) {
	w, h := s.frame.Width, s.frame.Height
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			yVal := uint8(16)
			if ((x/size)+(y/size))%2 == 0 {
				yVal = 235
			}
			s.setPixel(x, y, yVal, 128, 128)
		}
	}
}

func (s *TestPatternSource) generateMovingBox(frameNum uint64) {
	w, h := s.frame.Width, s.frame.Height
	s.frame.Fill(0, 0, 0)

	boxSize := min(w, h) / 4
	radius := float64(min(w, h)) / 4
	angle := float64(frameNum) * 0.05 // radians per frame
	boxX := w/2 + int(radius*math.Cos(angle)) - boxSize/2
	boxY := h/2 + int(radius*math.Sin(angle)) - boxSize/2

	for y := max(boxY, 0); y < boxY+boxSize && y < h; y++ {
		for x := max(boxX, 0); x < boxX+boxSize && x < w; x++ {
			s.setPixel(x, y, 235, 128, 128)
		}
	}
}
