package vidstream

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration reports an unknown codec, source or display name, or
	// invalid parameters. The component stays in its previous state.
	ErrConfiguration = errors.New("configuration error")

	// ErrProtocol reports a malformed RTP payload or a decode failure.
	ErrProtocol = errors.New("protocol error")

	// ErrKeyframeNotSeen is returned while no decodable reference picture
	// has been received. It never triggers peer feedback.
	ErrKeyframeNotSeen = fmt.Errorf("%w: keyframe not seen", ErrProtocol)

	// ErrResource reports an allocation or instantiation failure.
	ErrResource = errors.New("resource error")

	// ErrDevice reports an asynchronous capture or display failure.
	ErrDevice = errors.New("device error")

	ErrNotSupported = errors.New("not supported")
	ErrStopped      = errors.New("stopped")
)
