package vidstream

import (
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"
)

// Filter is a video filter plugin. NewState is called once per session;
// the state takes part in a direction when it implements EncodeFilter
// and/or DecodeFilter.
type Filter interface {
	Name() string
	NewState() (any, error)
}

// EncodeFilter processes outgoing pictures in place before encoding.
type EncodeFilter interface {
	Encode(frame *VideoFrame) error
}

// DecodeFilter processes incoming pictures in place after decoding.
type DecodeFilter interface {
	Decode(frame *VideoFrame) error
}

type filterState struct {
	name  string
	state any
}

// FilterChain runs the filter states of one session in registration order.
type FilterChain struct {
	states []filterState
}

// NewFilterChain instantiates a state for every filter.
func NewFilterChain(filters []Filter) (*FilterChain, error) {
	fc := &FilterChain{}
	for _, f := range filters {
		st, err := f.NewState()
		if err != nil {
			fc.Close()
			return nil, fmt.Errorf("%w: filter %s: %v", ErrResource, f.Name(), err)
		}
		if st == nil {
			continue
		}
		fc.states = append(fc.states, filterState{name: f.Name(), state: st})
	}
	return fc, nil
}

// Len returns the number of active filter states.
func (fc *FilterChain) Len() int { return len(fc.states) }

// Encode runs every encode hook. A failing hook does not stop the chain;
// all failures are returned together.
func (fc *FilterChain) Encode(frame *VideoFrame) error {
	var result *multierror.Error
	for _, fs := range fc.states {
		if ef, ok := fs.state.(EncodeFilter); ok {
			if err := ef.Encode(frame); err != nil {
				result = multierror.Append(result, fmt.Errorf("%s: %w", fs.name, err))
			}
		}
	}
	return result.ErrorOrNil()
}

// Decode runs every decode hook, accumulating failures like Encode.
func (fc *FilterChain) Decode(frame *VideoFrame) error {
	var result *multierror.Error
	for _, fs := range fc.states {
		if df, ok := fs.state.(DecodeFilter); ok {
			if err := df.Decode(frame); err != nil {
				result = multierror.Append(result, fmt.Errorf("%s: %w", fs.name, err))
			}
		}
	}
	return result.ErrorOrNil()
}

// Close releases states implementing io.Closer.
func (fc *FilterChain) Close() error {
	var result *multierror.Error
	for _, fs := range fc.states {
		if c, ok := fs.state.(io.Closer); ok {
			if err := c.Close(); err != nil {
				result = multierror.Append(result, fmt.Errorf("%s: %w", fs.name, err))
			}
		}
	}
	fc.states = nil
	return result.ErrorOrNil()
}
