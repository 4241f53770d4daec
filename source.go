package vidstream

import (
	"io"
)

// Orientation of the capture device or the display.
type Orientation int

const (
	OrientPortrait Orientation = iota
	OrientPortraitUpsideDown
	OrientLandscape
	OrientLandscapeUpsideDown
)

func (o Orientation) String() string {
	switch o {
	case OrientPortrait:
		return "portrait"
	case OrientPortraitUpsideDown:
		return "portrait-upside-down"
	case OrientLandscape:
		return "landscape"
	case OrientLandscapeUpsideDown:
		return "landscape-upside-down"
	default:
		return "unknown"
	}
}

// SourceParams are the capture parameters a source can be asked to change.
type SourceParams struct {
	FPS    int
	Orient Orientation
}

// FrameHandler receives captured pictures. The frame is only valid for the
// duration of the call.
type FrameHandler func(frame *VideoFrame)

// SourceOpenParams are passed to SourceDriver.Open.
type SourceOpenParams struct {
	Device  string // driver specific device name, "" for the default device
	Size    Size   // requested picture size
	Params  SourceParams
	OnFrame FrameHandler
	OnError func(err error) // asynchronous capture failure
}

// SourceDriver is a capture plugin.
type SourceDriver interface {
	Name() string
	Open(p SourceOpenParams) (Source, error)
}

// Source is an open capture device. Close is synchronous: OnFrame is not
// called once it returns. It must not be called from within OnFrame.
type Source interface {
	io.Closer
}

// SourceUpdater is implemented by sources that can change parameters or
// device while running.
type SourceUpdater interface {
	Update(params SourceParams, device string) error
}

// DeviceInfo describes a capture device.
type DeviceInfo struct {
	ID    string // value for SourceOpenParams.Device
	Label string // human-readable name
}

// DeviceLister is implemented by drivers that can enumerate devices.
type DeviceLister interface {
	Devices() ([]DeviceInfo, error)
}
