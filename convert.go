package vidstream

import "fmt"

// ConvertFrame converts src into the I420 frame dst, changing pixel format
// and scaling to dst's size as needed.
func ConvertFrame(dst, src *VideoFrame) error {
	if dst.Format != PixelFormatI420 {
		return fmt.Errorf("%w: conversion target must be I420, got %v", ErrNotSupported, dst.Format)
	}
	if !src.Valid() {
		return fmt.Errorf("%w: invalid %v frame %dx%d", ErrProtocol, src.Format, src.Width, src.Height)
	}

	i420 := src
	if src.Format != PixelFormatI420 {
		if src.Width == dst.Width && src.Height == dst.Height {
			return toI420(dst, src)
		}
		i420 = NewVideoFrame(PixelFormatI420, src.Width, src.Height)
		if err := toI420(i420, src); err != nil {
			return err
		}
	}

	if i420.Width == dst.Width && i420.Height == dst.Height {
		copyI420(dst, i420)
		return nil
	}
	NewVideoScaler(dst.Width, dst.Height, ScaleModeFill).ScaleInto(dst, i420)
	return nil
}

// toI420 converts a same-sized frame to I420.
func toI420(dst, src *VideoFrame) error {
	w, h := src.Width, src.Height
	switch src.Format {
	case PixelFormatI420:
		copyI420(dst, src)
	case PixelFormatNV12:
		copyPlane(dst.Data[0], dst.Stride[0], src.Data[0], src.Stride[0], w, h)
		for y := 0; y < (h+1)/2; y++ {
			uv := src.Data[1][y*src.Stride[1]:]
			u := dst.Data[1][y*dst.Stride[1]:]
			v := dst.Data[2][y*dst.Stride[2]:]
			for x := 0; x < (w+1)/2; x++ {
				u[x] = uv[2*x]
				v[x] = uv[2*x+1]
			}
		}
	case PixelFormatRGB24, PixelFormatRGBA32, PixelFormatBGRA32:
		packedToI420(dst, src)
	default:
		return fmt.Errorf("%w: pixel format %v", ErrNotSupported, src.Format)
	}
	dst.Timestamp = src.Timestamp
	return nil
}

func packedToI420(dst, src *VideoFrame) {
	bpp := src.Format.bytesPerPixel()
	ri, bi := 0, 2
	if src.Format == PixelFormatBGRA32 {
		ri, bi = 2, 0
	}
	for y := 0; y < src.Height; y++ {
		row := src.Data[0][y*src.Stride[0]:]
		for x := 0; x < src.Width; x++ {
			p := row[x*bpp:]
			yy, u, v := rgbToYUV(p[ri], p[1], p[bi])
			dst.Data[0][y*dst.Stride[0]+x] = yy
			if x%2 == 0 && y%2 == 0 {
				dst.Data[1][(y/2)*dst.Stride[1]+x/2] = u
				dst.Data[2][(y/2)*dst.Stride[2]+x/2] = v
			}
		}
	}
}

func copyI420(dst, src *VideoFrame) {
	w, h := src.Width, src.Height
	copyPlane(dst.Data[0], dst.Stride[0], src.Data[0], src.Stride[0], w, h)
	copyPlane(dst.Data[1], dst.Stride[1], src.Data[1], src.Stride[1], (w+1)/2, (h+1)/2)
	copyPlane(dst.Data[2], dst.Stride[2], src.Data[2], src.Stride[2], (w+1)/2, (h+1)/2)
	dst.Timestamp = src.Timestamp
}

func copyPlane(dst []byte, dstStride int, src []byte, srcStride int, w, h int) {
	if dstStride == srcStride && dstStride == w {
		copy(dst[:w*h], src[:w*h])
		return
	}
	for y := 0; y < h; y++ {
		copy(dst[y*dstStride:y*dstStride+w], src[y*srcStride:y*srcStride+w])
	}
}

// rgbToYUV converts RGB to YUV (BT.601, studio swing).
func rgbToYUV(r, g, b uint8) (y, u, v uint8) {
	yf := 16.0 + 65.481*float64(r)/255.0 + 128.553*float64(g)/255.0 + 24.966*float64(b)/255.0
	uf := 128.0 - 37.797*float64(r)/255.0 - 74.203*float64(g)/255.0 + 112.0*float64(b)/255.0
	vf := 128.0 + 112.0*float64(r)/255.0 - 93.786*float64(g)/255.0 - 18.214*float64(b)/255.0

	y = uint8(clamp(yf+0.5, 16, 235))
	u = uint8(clamp(uf+0.5, 16, 240))
	v = uint8(clamp(vf+0.5, 16, 240))
	return
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
