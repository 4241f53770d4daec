package vidstream

import (
	"testing"
)

func createGradientFrame(w, h int) *VideoFrame {
	f := NewVideoFrame(PixelFormatI420, w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			f.Data[0][y*f.Stride[0]+x] = byte((x + y) % 256)
		}
	}
	for i := range f.Data[1] {
		f.Data[1][i] = 128
		f.Data[2][i] = 128
	}
	return f
}

func TestVideoScaler_NoScaling(t *testing.T) {
	frame := createGradientFrame(640, 480)

	scaler := NewVideoScaler(640, 480, ScaleModeStretch)
	out := scaler.Scale(frame)

	if out != frame {
		t.Error("Expected same frame when no scaling needed")
	}
}

func TestVideoScaler_Downscale(t *testing.T) {
	frame := createGradientFrame(1280, 720)

	scaler := NewVideoScaler(640, 360, ScaleModeStretch)
	out := scaler.Scale(frame)

	if out.Width != 640 || out.Height != 360 {
		t.Fatalf("Expected 640x360, got %dx%d", out.Width, out.Height)
	}
	if len(out.Data[0]) != 640*360 {
		t.Errorf("Y plane size mismatch: expected %d, got %d", 640*360, len(out.Data[0]))
	}
	if len(out.Data[1]) != 320*180 {
		t.Errorf("U plane size mismatch")
	}
	// Top-left stays at the gradient origin
	if out.Data[0][0] != 0 {
		t.Errorf("Expected 0 at origin, got %d", out.Data[0][0])
	}
}

func TestVideoScaler_UniformStaysUniform(t *testing.T) {
	src := NewVideoFrame(PixelFormatI420, 320, 240)
	src.Fill(0xff, 0xff, 0xff)

	out := NewVideoScaler(176, 144, ScaleModeStretch).Scale(src)
	for i, want := range []byte{235, 128, 128} {
		for j, b := range out.Data[i] {
			if b != want {
				t.Fatalf("plane %d byte %d: got %d, want %d", i, j, b, want)
			}
		}
	}
}

func TestVideoScaler_FitLetterboxes(t *testing.T) {
	// 16:9 white into 4:3: black bars top and bottom
	src := NewVideoFrame(PixelFormatI420, 320, 180)
	src.Fill(0xff, 0xff, 0xff)

	out := NewVideoScaler(160, 120, ScaleModeFit).Scale(src)

	if got := out.Data[0][0]; got != 16 {
		t.Errorf("Expected black bar at top, got luma %d", got)
	}
	mid := 60*out.Stride[0] + 80
	if got := out.Data[0][mid]; got != 235 {
		t.Errorf("Expected picture in the middle, got luma %d", got)
	}
	last := (out.Height-1)*out.Stride[0] + 80
	if got := out.Data[0][last]; got != 16 {
		t.Errorf("Expected black bar at bottom, got luma %d", got)
	}
}

func TestVideoScaler_FillCrops(t *testing.T) {
	src := createGradientFrame(1920, 1080)

	out := NewVideoScaler(640, 480, ScaleModeFill).Scale(src)
	if out.Width != 640 || out.Height != 480 {
		t.Fatalf("Expected 640x480, got %dx%d", out.Width, out.Height)
	}
	// The crop starts 240 pixels in, so the origin is not the source origin
	if out.Data[0][0] == 0 {
		t.Error("Expected cropped origin")
	}
}

func TestFillRegion(t *testing.T) {
	x, y, w, h := fillRegion(1920, 1080, 640, 480)
	if x != 240 || y != 0 || w != 1440 || h != 1080 {
		t.Errorf("fillRegion = %d,%d %dx%d", x, y, w, h)
	}
	x, y, w, h = fillRegion(640, 640, 640, 320)
	if x != 0 || y != 160 || w != 640 || h != 320 {
		t.Errorf("fillRegion = %d,%d %dx%d", x, y, w, h)
	}
}

func TestCalculateScaledSize(t *testing.T) {
	tests := []struct {
		name             string
		srcW, srcH       int
		maxW, maxH       int
		mode             ScaleMode
		expectW, expectH int
	}{
		{"fit wide", 1920, 1080, 640, 480, ScaleModeFit, 640, 360},
		{"fit tall", 480, 640, 640, 480, ScaleModeFit, 360, 480},
		{"fill", 1920, 1080, 640, 480, ScaleModeFill, 640, 480},
		{"stretch", 1920, 1080, 640, 480, ScaleModeStretch, 640, 480},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := CalculateScaledSize(tt.srcW, tt.srcH, tt.maxW, tt.maxH, tt.mode)
			if w != tt.expectW || h != tt.expectH {
				t.Errorf("Expected %dx%d, got %dx%d", tt.expectW, tt.expectH, w, h)
			}
		})
	}
}

func BenchmarkVideoScaler_CIFToQCIF(b *testing.B) {
	frame := createGradientFrame(352, 288)
	scaler := NewVideoScaler(176, 144, ScaleModeStretch)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		scaler.Scale(frame)
	}
}
