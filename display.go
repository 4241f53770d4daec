package vidstream

import (
	"io"
	"sync/atomic"
)

// DisplayOpenParams are passed to DisplayDriver.Open.
type DisplayOpenParams struct {
	View     string          // platform view or window identifier
	OnResize func(size Size) // the user resized the window
	OnInput  func(key rune)  // keyboard input from the window
}

// DisplayDriver is a rendering plugin.
type DisplayDriver interface {
	Name() string
	Open(p DisplayOpenParams) (Display, error)
}

// Display renders decoded pictures. The frame is only valid for the
// duration of the call.
type Display interface {
	Display(title string, frame *VideoFrame) error
	io.Closer
}

// DisplayUpdater is implemented by displays that support fullscreen and
// rotation.
type DisplayUpdater interface {
	Update(fullscreen bool, orient Orientation) error
}

// NullDisplayDriver discards pictures. Each open display counts what it
// was given.
type NullDisplayDriver struct{}

// Name implements DisplayDriver.
func (NullDisplayDriver) Name() string { return "null" }

// Open implements DisplayDriver.
func (NullDisplayDriver) Open(DisplayOpenParams) (Display, error) {
	return &NullDisplay{}, nil
}

// NullDisplay is the display opened by NullDisplayDriver.
type NullDisplay struct {
	frames atomic.Uint64
	last   atomic.Value // Size
}

// Display implements Display.
func (d *NullDisplay) Display(_ string, frame *VideoFrame) error {
	d.frames.Add(1)
	d.last.Store(frame.Size())
	return nil
}

// Frames returns the number of pictures displayed.
func (d *NullDisplay) Frames() uint64 { return d.frames.Load() }

// LastSize returns the size of the last picture displayed.
func (d *NullDisplay) LastSize() Size {
	s, _ := d.last.Load().(Size)
	return s
}

// Close implements Display.
func (d *NullDisplay) Close() error { return nil }

// DisplayFunc adapts a function to a DisplayDriver whose displays call it.
type DisplayFunc struct {
	DriverName string
	Fn         func(title string, frame *VideoFrame) error
}

// Name implements DisplayDriver.
func (f *DisplayFunc) Name() string { return f.DriverName }

// Open implements DisplayDriver.
func (f *DisplayFunc) Open(DisplayOpenParams) (Display, error) {
	return funcDisplay{f.Fn}, nil
}

type funcDisplay struct {
	fn func(title string, frame *VideoFrame) error
}

func (d funcDisplay) Display(title string, frame *VideoFrame) error { return d.fn(title, frame) }

func (d funcDisplay) Close() error { return nil }
