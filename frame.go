// Picture and access unit types shared by the transmit and receive paths.
package vidstream

import "fmt"

// PixelFormat represents video pixel formats.
type PixelFormat int

const (
	PixelFormatI420   PixelFormat = iota // YUV 4:2:0 planar, the canonical encoder input
	PixelFormatNV12                      // YUV 4:2:0 semi-planar (Y + interleaved UV)
	PixelFormatRGB24                     // Packed RGB, 3 bytes per pixel
	PixelFormatRGBA32                    // Packed RGBA, 4 bytes per pixel
	PixelFormatBGRA32                    // Packed BGRA, 4 bytes per pixel
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatI420:
		return "I420"
	case PixelFormatNV12:
		return "NV12"
	case PixelFormatRGB24:
		return "RGB24"
	case PixelFormatRGBA32:
		return "RGBA32"
	case PixelFormatBGRA32:
		return "BGRA32"
	default:
		return "Unknown"
	}
}

// PlaneCount returns the number of planes for this pixel format.
func (p PixelFormat) PlaneCount() int {
	switch p {
	case PixelFormatI420:
		return 3
	case PixelFormatNV12:
		return 2
	case PixelFormatRGB24, PixelFormatRGBA32, PixelFormatBGRA32:
		return 1
	default:
		return 0
	}
}

func (p PixelFormat) bytesPerPixel() int {
	switch p {
	case PixelFormatRGB24:
		return 3
	case PixelFormatRGBA32, PixelFormatBGRA32:
		return 4
	default:
		return 1
	}
}

// Size is a picture size in pixels.
type Size struct {
	Width, Height int
}

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Width, s.Height) }

// VideoFrame represents a raw picture.
// The Data slices may point to driver or codec memory that is only valid
// for the duration of the callback delivering the frame.
type VideoFrame struct {
	Data      [][]byte    // Plane data (1-3 planes depending on format)
	Stride    []int       // Stride for each plane in bytes
	Width     int         // Frame width in pixels
	Height    int         // Frame height in pixels
	Format    PixelFormat // Pixel format
	Timestamp int64       // Capture timestamp in nanoseconds
}

// NewVideoFrame allocates a tightly packed frame.
func NewVideoFrame(format PixelFormat, width, height int) *VideoFrame {
	f := &VideoFrame{Width: width, Height: height, Format: format}
	switch format {
	case PixelFormatI420:
		cw, ch := (width+1)/2, (height+1)/2
		buf := make([]byte, width*height+2*cw*ch)
		f.Data = [][]byte{buf[:width*height], buf[width*height : width*height+cw*ch], buf[width*height+cw*ch:]}
		f.Stride = []int{width, cw, cw}
	case PixelFormatNV12:
		cw, ch := (width+1)/2, (height+1)/2
		f.Data = [][]byte{make([]byte, width*height), make([]byte, 2*cw*ch)}
		f.Stride = []int{width, 2 * cw}
	default:
		bpp := format.bytesPerPixel()
		f.Data = [][]byte{make([]byte, width*height*bpp)}
		f.Stride = []int{width * bpp}
	}
	return f
}

// Size returns the frame dimensions.
func (f *VideoFrame) Size() Size { return Size{f.Width, f.Height} }

// Valid reports whether the planes are large enough for the declared
// dimensions and format.
func (f *VideoFrame) Valid() bool {
	if f == nil || f.Width <= 0 || f.Height <= 0 {
		return false
	}
	n := f.Format.PlaneCount()
	if n == 0 || len(f.Data) < n || len(f.Stride) < n {
		return false
	}
	for i := 0; i < n; i++ {
		rows, minStride := f.Height, f.Width*f.Format.bytesPerPixel()
		if i > 0 {
			rows = (f.Height + 1) / 2
			minStride = (f.Width + 1) / 2
			if f.Format == PixelFormatNV12 {
				minStride *= 2
			}
		}
		if f.Stride[i] < minStride || len(f.Data[i]) < f.Stride[i]*(rows-1)+minStride {
			return false
		}
	}
	return true
}

// Fill paints an I420 frame with a single color.
func (f *VideoFrame) Fill(r, g, b uint8) {
	if f.Format != PixelFormatI420 {
		return
	}
	y, u, v := rgbToYUV(r, g, b)
	fillPlane(f.Data[0], f.Stride[0], f.Width, f.Height, y)
	cw, ch := (f.Width+1)/2, (f.Height+1)/2
	fillPlane(f.Data[1], f.Stride[1], cw, ch, u)
	fillPlane(f.Data[2], f.Stride[2], cw, ch, v)
}

func fillPlane(p []byte, stride, w, h int, val byte) {
	for y := 0; y < h; y++ {
		row := p[y*stride : y*stride+w]
		for i := range row {
			row[i] = val
		}
	}
}

// Clone creates a deep copy of the video frame.
// Use this when you need to keep the frame data beyond its original lifetime.
func (f *VideoFrame) Clone() *VideoFrame {
	clone := &VideoFrame{
		Data:      make([][]byte, len(f.Data)),
		Stride:    make([]int, len(f.Stride)),
		Width:     f.Width,
		Height:    f.Height,
		Format:    f.Format,
		Timestamp: f.Timestamp,
	}
	copy(clone.Stride, f.Stride)
	for i, plane := range f.Data {
		if plane != nil {
			clone.Data[i] = make([]byte, len(plane))
			copy(clone.Data[i], plane)
		}
	}
	return clone
}

// I420Size returns the total buffer size needed for an I420 frame.
func I420Size(width, height int) int {
	cw, ch := (width+1)/2, (height+1)/2
	return width*height + 2*cw*ch
}

// FrameType indicates whether a frame is a keyframe or delta frame.
type FrameType int

const (
	FrameTypeUnknown FrameType = iota
	FrameTypeKey               // intra picture, decodable on its own
	FrameTypeDelta             // predicted picture
)

func (f FrameType) String() string {
	switch f {
	case FrameTypeKey:
		return "Key"
	case FrameTypeDelta:
		return "Delta"
	default:
		return "Unknown"
	}
}

// EncodedFrame is a compressed access unit.
type EncodedFrame struct {
	Data      []byte    // Encoded bitstream (Annex-B for H.264)
	FrameType FrameType // Key or delta frame
	Timestamp uint32    // RTP timestamp
}

// IsKeyframe returns true if this is a keyframe.
func (f *EncodedFrame) IsKeyframe() bool {
	return f.FrameType == FrameTypeKey
}
