package vidstream

import (
	"io"
	"sync"
	"sync/atomic"
)

// DirectionState is the lifecycle state of a pipeline direction.
type DirectionState int32

const (
	StateUnconfigured DirectionState = iota // no codec instance
	StateConfigured                         // codec instance active
	StateReconfiguring                      // codec instance being replaced
	StateStopped                            // terminal
)

func (s DirectionState) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConfigured:
		return "configured"
	case StateReconfiguring:
		return "reconfiguring"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// codecHandle is a reference-counted encoder or decoder instance. The
// pipeline slot owns one reference; a codec call in progress holds another,
// taken under the direction lock. The instance is closed when the last
// reference is released, so a replaced codec is never closed under a call.
type codecHandle[T io.Closer] struct {
	inst T
	refs atomic.Int32
	mu   sync.Mutex // serializes calls into inst
}

func newCodecHandle[T io.Closer](inst T) *codecHandle[T] {
	h := &codecHandle[T]{inst: inst}
	h.refs.Store(1)
	return h
}

func (h *codecHandle[T]) acquire() { h.refs.Add(1) }

func (h *codecHandle[T]) release() {
	if h.refs.Add(-1) == 0 {
		if err := h.inst.Close(); err != nil {
			logger().WithError(err).Warn("closing codec instance")
		}
	}
}
