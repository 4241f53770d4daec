//go:build (darwin || linux) && !noh264

package vidstream

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"
)

// libmedia_h264 bindings
var (
	h264EncoderCreate        func(width, height, fps, bitrateKbps, profile, threads int32) uint64
	h264EncoderEncode        func(encoder uint64, yPlane, uPlane, vPlane uintptr, yStride, uvStride, forceKeyframe int32, outData uintptr, outCapacity int32, outFrameType, outPts, outDts uintptr) int32
	h264EncoderMaxOutputSize func(encoder uint64) int32
	h264EncoderDestroy       func(encoder uint64)

	h264DecoderCreate  func(threads int32) uint64
	h264DecoderDecode  func(decoder uint64, data uintptr, dataLen int32, outY, outU, outV, outYStride, outUVStride, outWidth, outHeight uintptr) int32
	h264DecoderDestroy func(decoder uint64)

	h264GetError         func() uintptr
	h264EncoderAvailable func() int32
	h264DecoderAvailable func() int32
)

const (
	h264ProfileBaseline = 66

	h264FrameI   = 0
	h264FrameIDR = 3

	h264Threads = 2
)

var (
	h264Once    sync.Once
	h264LoadErr error
)

func loadH264() error {
	h264Once.Do(func() {
		lib := libraryFile("libmedia_h264")
		handle, err := openLibrary(lib, libraryPaths(lib, "MEDIA_H264_LIB_PATH", "MEDIA_SDK_LIB_PATH"))
		if err != nil {
			h264LoadErr = err
			return
		}
		h264LoadErr = registerSymbols(handle, map[string]any{
			"media_h264_encoder_create":          &h264EncoderCreate,
			"media_h264_encoder_encode":          &h264EncoderEncode,
			"media_h264_encoder_max_output_size": &h264EncoderMaxOutputSize,
			"media_h264_encoder_destroy":         &h264EncoderDestroy,
			"media_h264_decoder_create":          &h264DecoderCreate,
			"media_h264_decoder_decode":          &h264DecoderDecode,
			"media_h264_decoder_destroy":         &h264DecoderDestroy,
			"media_h264_get_error":               &h264GetError,
			"media_h264_encoder_available":       &h264EncoderAvailable,
			"media_h264_decoder_available":       &h264DecoderAvailable,
		})
	})
	return h264LoadErr
}

func h264Error() string {
	if s := goStringFromPtr(h264GetError()); s != "" {
		return s
	}
	return "unknown error"
}

// h264DecodeResult receives the decoder output. It lives on the heap: purego
// output pointers into a goroutine stack are not safe on arm64.
type h264DecodeResult struct {
	YPtr     uintptr
	UPtr     uintptr
	VPtr     uintptr
	YStride  int32
	UVStride int32
	Width    int32
	Height   int32
}

// h264EncodeResult receives the encoder output parameters.
type h264EncodeResult struct {
	FrameType int32
	_         int32
	PTS       int64
	DTS       int64
}

// H264Encoder encodes I420 pictures with libmedia_h264. The native encoder
// is created at the first picture and recreated when the size changes.
type H264Encoder struct {
	params EncoderParams

	handle uint64
	size   Size
	out    []byte
	res    *h264EncodeResult
	closed bool
}

// NewH264Encoder creates an encoder for the negotiated parameters.
func NewH264Encoder(params EncoderParams, fmtp string) (VideoEncoder, error) {
	if err := loadH264(); err != nil {
		return nil, err
	}
	if h264EncoderAvailable() == 0 {
		return nil, fmt.Errorf("%w: H.264 encoder not built", ErrNotSupported)
	}
	if _, err := ParseH264Fmtp(fmtp); err != nil {
		return nil, err
	}
	return &H264Encoder{params: params, res: &h264EncodeResult{}}, nil
}

func (e *H264Encoder) open(size Size) error {
	e.destroy()

	kbps := e.params.Bitrate / 1000
	if kbps <= 0 {
		kbps = 512
	}
	fps := e.params.FPS
	if fps <= 0 {
		fps = 25
	}
	handle := h264EncoderCreate(int32(size.Width), int32(size.Height), int32(fps), int32(kbps), h264ProfileBaseline, h264Threads)
	if handle == 0 {
		return fmt.Errorf("%w: create H.264 encoder %s: %s", ErrResource, size, h264Error())
	}
	n := h264EncoderMaxOutputSize(handle)
	if n <= 0 {
		n = int32(I420Size(size.Width, size.Height))
	}
	e.handle, e.size, e.out = handle, size, make([]byte, n)
	return nil
}

func (e *H264Encoder) destroy() {
	if e.handle != 0 {
		h264EncoderDestroy(e.handle)
		e.handle = 0
	}
}

// Encode implements VideoEncoder.
func (e *H264Encoder) Encode(frame *VideoFrame, forceKeyframe bool) (*EncodedFrame, error) {
	if e.closed {
		return nil, errNativeClosed
	}
	if frame.Format != PixelFormatI420 || !frame.Valid() {
		return nil, fmt.Errorf("%w: H.264 encoder needs I420, got %s", ErrNotSupported, frame.Format)
	}
	if e.handle == 0 || frame.Size() != e.size {
		if err := e.open(frame.Size()); err != nil {
			return nil, err
		}
		forceKeyframe = true
	}

	force := int32(0)
	if forceKeyframe {
		force = 1
	}
	res := e.res
	n := h264EncoderEncode(
		e.handle,
		uintptr(unsafe.Pointer(&frame.Data[0][0])),
		uintptr(unsafe.Pointer(&frame.Data[1][0])),
		uintptr(unsafe.Pointer(&frame.Data[2][0])),
		int32(frame.Stride[0]),
		int32(frame.Stride[1]),
		force,
		uintptr(unsafe.Pointer(&e.out[0])),
		int32(len(e.out)),
		uintptr(unsafe.Pointer(&res.FrameType)),
		uintptr(unsafe.Pointer(&res.PTS)),
		uintptr(unsafe.Pointer(&res.DTS)),
	)
	runtime.KeepAlive(frame)
	runtime.KeepAlive(res)

	if n < 0 {
		return nil, fmt.Errorf("H.264 encode: %s", h264Error())
	}
	if n == 0 {
		return nil, nil
	}

	ft := FrameTypeDelta
	if res.FrameType == h264FrameIDR || res.FrameType == h264FrameI {
		ft = FrameTypeKey
	}
	data := make([]byte, n)
	copy(data, e.out[:n])
	return &EncodedFrame{Data: data, FrameType: ft}, nil
}

// Close implements VideoEncoder.
func (e *H264Encoder) Close() error {
	e.destroy()
	e.closed = true
	return nil
}

// H264Decoder decodes Annex B access units with libmedia_h264.
type H264Decoder struct {
	handle uint64
	res    *h264DecodeResult
	frame  *VideoFrame
}

// NewH264Decoder creates a decoder.
func NewH264Decoder(fmtp string) (VideoDecoder, error) {
	if err := loadH264(); err != nil {
		return nil, err
	}
	if h264DecoderAvailable() == 0 {
		return nil, fmt.Errorf("%w: H.264 decoder not built", ErrNotSupported)
	}
	handle := h264DecoderCreate(h264Threads)
	if handle == 0 {
		return nil, fmt.Errorf("%w: create H.264 decoder: %s", ErrResource, h264Error())
	}
	return &H264Decoder{handle: handle, res: &h264DecodeResult{}}, nil
}

// Decode implements VideoDecoder.
func (d *H264Decoder) Decode(au *EncodedFrame) (*VideoFrame, error) {
	if d.handle == 0 {
		return nil, errNativeClosed
	}
	if len(au.Data) == 0 {
		return nil, nil
	}

	out := d.res
	n := h264DecoderDecode(
		d.handle,
		uintptr(unsafe.Pointer(&au.Data[0])),
		int32(len(au.Data)),
		uintptr(unsafe.Pointer(&out.YPtr)),
		uintptr(unsafe.Pointer(&out.UPtr)),
		uintptr(unsafe.Pointer(&out.VPtr)),
		uintptr(unsafe.Pointer(&out.YStride)),
		uintptr(unsafe.Pointer(&out.UVStride)),
		uintptr(unsafe.Pointer(&out.Width)),
		uintptr(unsafe.Pointer(&out.Height)),
	)
	runtime.KeepAlive(au.Data)
	runtime.KeepAlive(out)

	if n < 0 {
		return nil, fmt.Errorf("%w: H.264 decode: %s", ErrProtocol, h264Error())
	}
	if n == 0 {
		return nil, nil
	}
	if out.YStride <= 0 || out.UVStride <= 0 || out.Width <= 0 || out.Height <= 0 || out.YPtr == 0 {
		return nil, fmt.Errorf("%w: invalid decoder output %dx%d", ErrProtocol, out.Width, out.Height)
	}

	w, h := int(out.Width), int(out.Height)
	if d.frame == nil || d.frame.Width != w || d.frame.Height != h {
		d.frame = NewVideoFrame(PixelFormatI420, w, h)
	}
	copyNativePlane(d.frame.Data[0], d.frame.Stride[0], out.YPtr, int(out.YStride), w, h)
	copyNativePlane(d.frame.Data[1], d.frame.Stride[1], out.UPtr, int(out.UVStride), (w+1)/2, (h+1)/2)
	copyNativePlane(d.frame.Data[2], d.frame.Stride[2], out.VPtr, int(out.UVStride), (w+1)/2, (h+1)/2)
	d.frame.Timestamp = int64(au.Timestamp) * 1e9 / VideoClockRate
	return d.frame, nil
}

func copyNativePlane(dst []byte, dstStride int, src uintptr, srcStride, w, h int) {
	for row := 0; row < h; row++ {
		line := unsafe.Slice((*byte)(unsafe.Pointer(src+uintptr(row*srcStride))), w)
		copy(dst[row*dstStride:row*dstStride+w], line)
	}
}

// Close implements VideoDecoder.
func (d *H264Decoder) Close() error {
	if d.handle != 0 {
		h264DecoderDestroy(d.handle)
		d.handle = 0
	}
	return nil
}

func init() {
	if loadH264() != nil {
		return
	}
	if h264EncoderAvailable() != 0 {
		nativeH264Encoder = NewH264Encoder
	}
	if h264DecoderAvailable() != 0 {
		nativeH264Decoder = NewH264Decoder
	}
}
