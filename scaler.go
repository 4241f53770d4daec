package vidstream

// ScaleMode defines how scaling should handle aspect ratio mismatches.
type ScaleMode int

const (
	// ScaleModeFit scales to fit within target dimensions, preserving aspect ratio (letterbox).
	ScaleModeFit ScaleMode = iota
	// ScaleModeFill scales to fill target dimensions, preserving aspect ratio (may crop).
	ScaleModeFill
	// ScaleModeStretch scales to exactly match target dimensions (may distort).
	ScaleModeStretch
)

// VideoScaler scales I420 pictures with bilinear interpolation.
type VideoScaler struct {
	dstWidth, dstHeight int
	mode                ScaleMode

	out *VideoFrame
}

// NewVideoScaler creates a scaler producing dstWidth x dstHeight pictures.
func NewVideoScaler(dstWidth, dstHeight int, mode ScaleMode) *VideoScaler {
	return &VideoScaler{
		dstWidth:  dstWidth,
		dstHeight: dstHeight,
		mode:      mode,
	}
}

// Scale scales an I420 frame into the scaler's own buffer. The result is
// valid until the next call. A frame that already has the target size is
// returned unchanged.
func (s *VideoScaler) Scale(frame *VideoFrame) *VideoFrame {
	if frame.Width == s.dstWidth && frame.Height == s.dstHeight {
		return frame
	}
	if s.out == nil {
		s.out = NewVideoFrame(PixelFormatI420, s.dstWidth, s.dstHeight)
	}
	s.ScaleInto(s.out, frame)
	return s.out
}

// ScaleInto scales src into the I420 frame dst, whose size is taken as the target.
func (s *VideoScaler) ScaleInto(dst, src *VideoFrame) {
	dx, dy, dw, dh := 0, 0, dst.Width, dst.Height
	sx, sy, sw, sh := 0, 0, src.Width, src.Height

	switch s.mode {
	case ScaleModeFit:
		dw, dh = CalculateScaledSize(src.Width, src.Height, dst.Width, dst.Height, ScaleModeFit)
		dw, dh = min(dw, dst.Width), min(dh, dst.Height)
		dx, dy = ((dst.Width-dw)/2)&^1, ((dst.Height-dh)/2)&^1
		if dw != dst.Width || dh != dst.Height {
			dst.Fill(0, 0, 0)
		}
	case ScaleModeFill:
		sx, sy, sw, sh = fillRegion(src.Width, src.Height, dst.Width, dst.Height)
	}

	scalePlane(src.Data[0], src.Stride[0], sx, sy, sw, sh,
		dst.Data[0], dst.Stride[0], dx, dy, dw, dh)
	scalePlane(src.Data[1], src.Stride[1], sx/2, sy/2, sw/2, sh/2,
		dst.Data[1], dst.Stride[1], dx/2, dy/2, dw/2, dh/2)
	scalePlane(src.Data[2], src.Stride[2], sx/2, sy/2, sw/2, sh/2,
		dst.Data[2], dst.Stride[2], dx/2, dy/2, dw/2, dh/2)
	dst.Timestamp = src.Timestamp
}

// fillRegion crops the source to the destination aspect ratio.
func fillRegion(srcW, srcH, dstW, dstH int) (x, y, w, h int) {
	srcAspect := float64(srcW) / float64(srcH)
	dstAspect := float64(dstW) / float64(dstH)

	if srcAspect > dstAspect {
		newW := int(float64(srcH) * dstAspect)
		return ((srcW - newW) / 2) &^ 1, 0, newW, srcH
	} else if srcAspect < dstAspect {
		newH := int(float64(srcW) / dstAspect)
		return 0, ((srcH - newH) / 2) &^ 1, srcW, newH
	}
	return 0, 0, srcW, srcH
}

// scalePlane scales a rectangle of one plane using 16.16 fixed-point
// bilinear interpolation.
func scalePlane(src []byte, srcStride, srcX, srcY, srcW, srcH int,
	dst []byte, dstStride, dstX, dstY, dstW, dstH int) {

	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return
	}

	xRatio := (srcW << 16) / dstW
	yRatio := (srcH << 16) / dstH

	for y := 0; y < dstH; y++ {
		srcYFP := y * yRatio
		y0 := srcYFP>>16 + srcY
		y1 := y0 + 1
		if y1 >= srcY+srcH {
			y1 = y0
		}
		yWeight := srcYFP & 0xFFFF

		row := dst[(y+dstY)*dstStride+dstX:]
		for x := 0; x < dstW; x++ {
			srcXFP := x * xRatio
			x0 := srcXFP>>16 + srcX
			x1 := x0 + 1
			if x1 >= srcX+srcW {
				x1 = x0
			}
			xWeight := srcXFP & 0xFFFF

			p00 := int(src[y0*srcStride+x0])
			p10 := int(src[y0*srcStride+x1])
			p01 := int(src[y1*srcStride+x0])
			p11 := int(src[y1*srcStride+x1])

			top := (p00*(0x10000-xWeight) + p10*xWeight) >> 16
			bottom := (p01*(0x10000-xWeight) + p11*xWeight) >> 16
			row[x] = byte((top*(0x10000-yWeight) + bottom*yWeight) >> 16)
		}
	}
}

// CalculateScaledSize returns the output dimensions when scaling with a given mode.
func CalculateScaledSize(srcW, srcH, maxW, maxH int, mode ScaleMode) (w, h int) {
	if mode != ScaleModeFit || srcW <= 0 || srcH <= 0 {
		return maxW, maxH
	}
	srcAspect := float64(srcW) / float64(srcH)
	dstAspect := float64(maxW) / float64(maxH)

	if srcAspect > dstAspect {
		w = maxW
		h = int(float64(maxW) / srcAspect)
	} else {
		h = maxH
		w = int(float64(maxH) * srcAspect)
	}
	// Even dimensions for 4:2:0
	w = (w + 1) &^ 1
	h = (h + 1) &^ 1
	return w, h
}
