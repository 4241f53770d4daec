//go:build linux && !nodevices

package vidstream

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/ebitengine/purego"
)

// libstream_v4l2 bindings
var (
	v4l2DeviceCount    func() int32
	v4l2DevicePath     func(index int32) uintptr
	v4l2DeviceName     func(index int32) uintptr
	v4l2FreeString     func(ptr uintptr)
	v4l2CaptureCreate  func(devicePath uintptr, width, height, fps int32, callback, userData uintptr) uint64
	v4l2CaptureStart   func(handle uint64) int32
	v4l2CaptureStop    func(handle uint64) int32
	v4l2CaptureDestroy func(handle uint64)
	v4l2GetError       func() uintptr
)

var (
	v4l2Once     sync.Once
	v4l2LoadErr  error
	v4l2Callback uintptr

	// open captures by callback user data
	v4l2Captures sync.Map // uintptr -> *V4L2Source
	v4l2NextID   atomic.Uintptr
)

func loadV4L2() error {
	v4l2Once.Do(func() {
		lib := libraryFile("libstream_v4l2")
		handle, err := openLibrary(lib, libraryPaths(lib, "", "STREAM_SDK_LIB_PATH"))
		if err != nil {
			v4l2LoadErr = err
			return
		}
		v4l2LoadErr = registerSymbols(handle, map[string]any{
			"stream_v4l2_device_count":    &v4l2DeviceCount,
			"stream_v4l2_device_path":     &v4l2DevicePath,
			"stream_v4l2_device_name":     &v4l2DeviceName,
			"stream_v4l2_free_string":     &v4l2FreeString,
			"stream_v4l2_capture_create":  &v4l2CaptureCreate,
			"stream_v4l2_capture_start":   &v4l2CaptureStart,
			"stream_v4l2_capture_stop":    &v4l2CaptureStop,
			"stream_v4l2_capture_destroy": &v4l2CaptureDestroy,
			"stream_v4l2_get_error":       &v4l2GetError,
		})
		if v4l2LoadErr == nil {
			// purego callbacks are never freed, so one serves all captures
			v4l2Callback = purego.NewCallback(v4l2FrameCallback)
		}
	})
	return v4l2LoadErr
}

func v4l2Error() string {
	if s := goStringFromPtr(v4l2GetError()); s != "" {
		return s
	}
	return "unknown error"
}

func v4l2FrameCallback(yPlane uintptr, yStride int32, uPlane uintptr, uStride int32,
	vPlane uintptr, vStride int32, width, height int32, timestampNs int64, userData uintptr) {
	v, ok := v4l2Captures.Load(userData)
	if !ok {
		return
	}
	v.(*V4L2Source).deliver(yPlane, uPlane, vPlane, int(yStride), int(uStride), int(vStride),
		int(width), int(height), timestampNs)
}

// V4L2Driver captures from Video4Linux devices through libstream_v4l2.
type V4L2Driver struct{}

// Name implements SourceDriver.
func (V4L2Driver) Name() string { return "v4l2" }

// Devices implements DeviceLister.
func (V4L2Driver) Devices() ([]DeviceInfo, error) {
	if err := loadV4L2(); err != nil {
		return nil, err
	}
	count := v4l2DeviceCount()
	devices := make([]DeviceInfo, 0, count)
	for i := int32(0); i < count; i++ {
		pathPtr, namePtr := v4l2DevicePath(i), v4l2DeviceName(i)
		if pathPtr != 0 && namePtr != 0 {
			devices = append(devices, DeviceInfo{
				ID:    goStringFromPtr(pathPtr),
				Label: goStringFromPtr(namePtr),
			})
		}
		if pathPtr != 0 {
			v4l2FreeString(pathPtr)
		}
		if namePtr != 0 {
			v4l2FreeString(namePtr)
		}
	}
	return devices, nil
}

// Open implements SourceDriver. An empty device selects the first one.
func (d V4L2Driver) Open(p SourceOpenParams) (Source, error) {
	if err := loadV4L2(); err != nil {
		return nil, err
	}
	if p.OnFrame == nil {
		return nil, fmt.Errorf("%w: v4l2: no frame handler", ErrConfiguration)
	}
	s := &V4L2Source{
		id:      v4l2NextID.Add(1),
		size:    p.Size,
		params:  p.Params,
		onFrame: p.OnFrame,
		onError: p.OnError,
	}
	device := p.Device
	if device == "" {
		devices, err := d.Devices()
		if err != nil {
			return nil, err
		}
		if len(devices) == 0 {
			return nil, fmt.Errorf("%w: no video4linux device", ErrDevice)
		}
		device = devices[0].ID
	}
	v4l2Captures.Store(s.id, s)
	if err := s.start(device); err != nil {
		v4l2Captures.Delete(s.id)
		return nil, err
	}
	return s, nil
}

// V4L2Source is an open V4L2 capture.
type V4L2Source struct {
	id      uintptr
	size    Size
	onFrame FrameHandler
	onError func(error)

	mu     sync.Mutex
	handle uint64
	device string
	params SourceParams
	closed bool

	frame VideoFrame
}

// start is called with mu held or before the source is shared.
func (s *V4L2Source) start(device string) error {
	path := append([]byte(device), 0)
	fps := s.params.FPS
	if fps <= 0 {
		fps = 30
	}
	handle := v4l2CaptureCreate(uintptr(unsafe.Pointer(&path[0])),
		int32(s.size.Width), int32(s.size.Height), int32(fps), v4l2Callback, s.id)
	if handle == 0 {
		return fmt.Errorf("%w: open %s: %s", ErrDevice, device, v4l2Error())
	}
	if v4l2CaptureStart(handle) != 0 {
		err := fmt.Errorf("%w: start %s: %s", ErrDevice, device, v4l2Error())
		v4l2CaptureDestroy(handle)
		return err
	}
	s.handle, s.device = handle, device
	return nil
}

// stop joins the capture thread; no callback runs once it returns.
func (s *V4L2Source) stop() {
	if s.handle == 0 {
		return
	}
	v4l2CaptureStop(s.handle)
	v4l2CaptureDestroy(s.handle)
	s.handle = 0
}

// deliver runs on the capture thread.
func (s *V4L2Source) deliver(y, u, v uintptr, yStride, uStride, vStride, w, h int, ts int64) {
	if y == 0 || u == 0 || v == 0 || w <= 0 || h <= 0 {
		if s.onError != nil {
			s.onError(fmt.Errorf("%w: invalid capture buffer %dx%d", ErrDevice, w, h))
		}
		return
	}
	ch := (h + 1) / 2
	f := &s.frame
	f.Data = append(f.Data[:0],
		unsafe.Slice((*byte)(unsafe.Pointer(y)), yStride*h),
		unsafe.Slice((*byte)(unsafe.Pointer(u)), uStride*ch),
		unsafe.Slice((*byte)(unsafe.Pointer(v)), vStride*ch),
	)
	f.Stride = append(f.Stride[:0], yStride, uStride, vStride)
	f.Width, f.Height = w, h
	f.Format = PixelFormatI420
	f.Timestamp = ts
	s.onFrame(f)
}

// Update implements SourceUpdater. A new device or frame rate restarts
// the capture.
func (s *V4L2Source) Update(params SourceParams, device string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStopped
	}
	restart := params.FPS != s.params.FPS || (device != "" && device != s.device)
	s.params = params
	if !restart {
		return nil
	}
	if device == "" {
		device = s.device
	}
	s.stop()
	return s.start(device)
}

// Close implements Source.
func (s *V4L2Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.stop()
	v4l2Captures.Delete(s.id)
	return nil
}

func init() {
	platformSourceHooks = append(platformSourceHooks, func() SourceDriver {
		if loadV4L2() != nil {
			return nil
		}
		return V4L2Driver{}
	})
}
